package loadtest

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	vegeta "github.com/tsenart/vegeta/v12/lib"

	"github.com/FairForge/capplanner/internal/scenario"
)

// VegetaDriver runs scenarios as a constant-rate vegeta attack, one request
// per user per second, piped through `vegeta encode` into JSON lines.
type VegetaDriver struct {
	binary string
	shell  string
}

// NewVegetaDriver returns a driver invoking binary, "vegeta" when empty.
func NewVegetaDriver(binary string) *VegetaDriver {
	if binary == "" {
		binary = "vegeta"
	}
	return &VegetaDriver{binary: binary, shell: "sh"}
}

func (d *VegetaDriver) Name() string   { return "vegeta" }
func (d *VegetaDriver) Binary() string { return d.binary }
func (d *VegetaDriver) Format() Format { return FormatVegeta }

// Prepare writes the targets file and returns the attack pipeline.
func (d *VegetaDriver) Prepare(def scenario.Definition, runID, workDir string, target Target) (Command, error) {
	targetsPath := filepath.Join(workDir, runID+".targets")
	resultPath := filepath.Join(workDir, runID+".ndjson")

	if err := writeHTTPTargets(targetsPath, buildTargets(target)); err != nil {
		return Command{}, err
	}

	pipeline := fmt.Sprintf("%s attack -targets=%s -rate=%d/1s -duration=%ds -max-workers=%d | %s encode -to=json -output=%s",
		shellQuote(d.binary), shellQuote(targetsPath), def.TargetUsers, def.DurationSeconds, def.TargetUsers,
		shellQuote(d.binary), shellQuote(resultPath))

	return Command{
		Name:       d.shell,
		Args:       []string{"-c", pipeline},
		Dir:        workDir,
		ResultFile: resultPath,
	}, nil
}

func buildTargets(t Target) []vegeta.Target {
	header := http.Header{}
	if t.APIToken != "" {
		header.Set("Authorization", "Bearer "+t.APIToken)
	}

	targets := make([]vegeta.Target, 0, len(t.APIPaths)+len(t.FrontendPaths))
	for _, p := range t.APIPaths {
		targets = append(targets, vegeta.Target{
			Method: http.MethodGet,
			URL:    strings.TrimRight(t.BaseURL, "/") + p,
			Header: header,
		})
	}
	if t.FrontendURL != "" {
		for _, p := range t.FrontendPaths {
			targets = append(targets, vegeta.Target{
				Method: http.MethodGet,
				URL:    strings.TrimRight(t.FrontendURL, "/") + p,
			})
		}
	}
	return targets
}

// writeHTTPTargets writes targets in vegeta's http format.
func writeHTTPTargets(path string, targets []vegeta.Target) error {
	if len(targets) == 0 {
		return fmt.Errorf("vegeta: no targets to attack")
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create vegeta targets: %w", err)
	}
	w := bufio.NewWriter(f)

	for i, t := range targets {
		if i > 0 {
			_, _ = w.WriteString("\n")
		}
		_, _ = fmt.Fprintf(w, "%s %s\n", t.Method, t.URL)

		keys := make([]string, 0, len(t.Header))
		for k := range t.Header {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			for _, v := range t.Header[k] {
				_, _ = fmt.Fprintf(w, "%s: %s\n", k, v)
			}
		}
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write vegeta targets: %w", err)
	}
	return f.Close()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
