package reporting

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed report.schema.json
var reportSchemaJSON string

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

// ErrInvalidReport is wrapped when a rendered report fails schema validation.
var ErrInvalidReport = errors.New("report does not match schema")

func reportSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(reportSchemaJSON))
	})
	return schema, schemaErr
}

// Validate checks rendered report JSON against the embedded schema.
func Validate(data []byte) error {
	s, err := reportSchema()
	if err != nil {
		return fmt.Errorf("load report schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate report: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidReport, strings.Join(msgs, "; "))
}
