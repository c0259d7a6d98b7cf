package loadtest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	vegeta "github.com/tsenart/vegeta/v12/lib"
)

// Format identifies the native output of a load generator.
type Format string

const (
	FormatK6     Format = "k6"
	FormatVegeta Format = "vegeta"
)

// k6 metric names carrying samples we understand.
const (
	k6MetricDuration = "http_req_duration"
	k6MetricFailed   = "http_req_failed"
	k6MetricRequests = "http_reqs"
)

// ErrNoSamples is wrapped by ParseError when a non-empty stream holds no
// parseable record.
var ErrNoSamples = errors.New("no parseable records")

// ParseError reports a result source that could not be read as a whole.
type ParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("parse results: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse results %s: %s: %v", e.Path, e.Reason, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseStats counts the lines seen while parsing.
type ParseStats struct {
	Lines   int
	Records int
	Skipped int
}

// k6Point is one line of k6's JSON output.
type k6Point struct {
	Type   string `json:"type"`
	Metric string `json:"metric"`
	Data   struct {
		Value float64           `json:"value"`
		Tags  map[string]string `json:"tags"`
	} `json:"data"`
}

// ParseK6 reads k6 JSON output. Duration points become samples and
// http_req_failed points become outcomes; streams without http_req_failed
// fall back to the status tag of http_reqs points.
func ParseK6(r io.Reader, durationSeconds int) (ScenarioMetrics, ParseStats, error) {
	var (
		samples      sampleSet
		failedPoints []bool
		statusPoints []bool
	)

	stats, err := scanLines(r, func(line []byte) bool {
		var p k6Point
		if err := json.Unmarshal(line, &p); err != nil {
			return false
		}
		if p.Type == "" {
			return false
		}
		if p.Type != "Point" {
			return true
		}

		switch p.Metric {
		case k6MetricDuration:
			samples.addDuration(p.Data.Value)
		case k6MetricFailed:
			failedPoints = append(failedPoints, p.Data.Value == 0)
		case k6MetricRequests:
			if status, ok := p.Data.Tags["status"]; ok {
				code, err := strconv.Atoi(status)
				statusPoints = append(statusPoints, err == nil && code > 0 && code < 400)
			}
		}
		return true
	})
	if err != nil {
		return ScenarioMetrics{}, stats, err
	}

	outcomes := failedPoints
	if len(outcomes) == 0 {
		outcomes = statusPoints
	}
	for _, ok := range outcomes {
		samples.addOutcome(ok)
	}

	return samples.summarize(durationSeconds), stats, nil
}

// ParseVegeta reads vegeta results encoded as line-delimited JSON.
func ParseVegeta(r io.Reader, durationSeconds int) (ScenarioMetrics, ParseStats, error) {
	var samples sampleSet

	stats, err := scanLines(r, func(line []byte) bool {
		var res vegeta.Result
		// The decoder reads up to a newline, which scanLines has trimmed.
		rec := append(line, '\n')
		if err := vegeta.NewJSONDecoder(bytes.NewReader(rec)).Decode(&res); err != nil {
			return false
		}
		if res.Timestamp.IsZero() {
			return false
		}
		samples.addDuration(float64(res.Latency.Microseconds()) / 1000)
		samples.addOutcome(res.Error == "" && res.Code >= 200 && res.Code < 400)
		return true
	})
	if err != nil {
		return ScenarioMetrics{}, stats, err
	}

	return samples.summarize(durationSeconds), stats, nil
}

// Parse dispatches on format.
func Parse(r io.Reader, format Format, durationSeconds int) (ScenarioMetrics, ParseStats, error) {
	switch format {
	case FormatVegeta:
		return ParseVegeta(r, durationSeconds)
	case FormatK6, "":
		return ParseK6(r, durationSeconds)
	default:
		return ScenarioMetrics{}, ParseStats{}, &ParseError{Reason: "unsupported format", Err: fmt.Errorf("%q", format)}
	}
}

// ParseResultFile opens path (zstd archives are decompressed transparently)
// and parses it in the given format.
func ParseResultFile(path string, format Format, durationSeconds int) (ScenarioMetrics, ParseStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ScenarioMetrics{}, ParseStats{}, &ParseError{Path: path, Reason: "open", Err: err}
	}
	defer func() { _ = f.Close() }()

	var src io.Reader = f
	if strings.HasSuffix(path, archiveExt) {
		dec, err := newArchiveReader(f)
		if err != nil {
			return ScenarioMetrics{}, ParseStats{}, &ParseError{Path: path, Reason: "decompress", Err: err}
		}
		defer dec.Close()
		src = dec
	}

	m, stats, err := Parse(src, format, durationSeconds)
	var perr *ParseError
	if errors.As(err, &perr) && perr.Path == "" {
		perr.Path = path
	}
	return m, stats, err
}

// scanLines feeds each non-blank line to handle, which reports whether the
// line was a valid record. Invalid lines are skipped. A read failure, or a
// stream where every line is invalid, is a ParseError.
func scanLines(r io.Reader, handle func(line []byte) bool) (ParseStats, error) {
	var stats ParseStats
	br := bufio.NewReaderSize(r, 64*1024)

	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimSpace(line)
			if len(line) > 0 {
				stats.Lines++
				if handle(line) {
					stats.Records++
				} else {
					stats.Skipped++
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, &ParseError{Reason: "read", Err: err}
		}
	}

	if stats.Lines > 0 && stats.Records == 0 {
		return stats, &ParseError{Reason: fmt.Sprintf("%d lines", stats.Lines), Err: ErrNoSamples}
	}
	return stats, nil
}
