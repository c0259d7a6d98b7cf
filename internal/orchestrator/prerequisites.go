package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// Prerequisite check names
const (
	CheckLoadGenerator = "load_generator"
	CheckTarget        = "target"
	CheckConfig        = "config"
	CheckReportDir     = "report_dir"
)

// SetupError is a fatal problem found before any load is generated.
type SetupError struct {
	Check string
	Err   error
}

// NewSetupError wraps err as a failed check.
func NewSetupError(check string, err error) *SetupError {
	return &SetupError{Check: check, Err: err}
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup check %s failed: %v", e.Check, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// ValidatePrerequisites checks that the load generator is installed and the
// target answers. Every failed check is returned, joined, as a *SetupError.
func (o *Orchestrator) ValidatePrerequisites(ctx context.Context) error {
	var errs []error

	driver := o.runner.Driver()
	path, err := o.runner.Executor().LookPath(driver.Binary())
	if err != nil {
		errs = append(errs, NewSetupError(CheckLoadGenerator,
			fmt.Errorf("%s not found on PATH: %w", driver.Binary(), err)))
	} else {
		o.logger.Info("load generator found", zap.String("driver", driver.Name()), zap.String("path", path))
	}

	if err := o.checkTarget(ctx); err != nil {
		errs = append(errs, NewSetupError(CheckTarget, err))
	}

	return errors.Join(errs...)
}

// checkTarget accepts any response below 500.
func (o *Orchestrator) checkTarget(ctx context.Context) error {
	url := o.config.HealthURL
	if url == "" {
		return errors.New("no target URL configured")
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}
	o.logger.Info("target reachable", zap.String("url", url), zap.Int("status", resp.StatusCode))
	return nil
}
