package loadtest

import (
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/FairForge/capplanner/internal/scenario"
)

// Target is the system under test as the generated load scripts see it.
type Target struct {
	BaseURL       string
	FrontendURL   string
	APIToken      string
	APIPaths      []string
	FrontendPaths []string
	ThinkTime     time.Duration
}

// Driver materializes the generator-specific configuration for one scenario
// and describes how to invoke the generator.
type Driver interface {
	Name() string
	Binary() string
	Format() Format
	Prepare(def scenario.Definition, runID, workDir string, target Target) (Command, error)
}

var k6Script = template.Must(template.New("k6").Parse(`import http from 'k6/http';
import { check, sleep } from 'k6';

export const options = {
  stages: [
    { duration: '{{.RampSeconds}}s', target: {{.TargetUsers}} },
    { duration: '{{.DurationSeconds}}s', target: {{.TargetUsers}} },
    { duration: '{{.RampSeconds}}s', target: 0 },
  ],
  tags: { scenario: '{{js .ID}}' },
};

const API_BASE = __ENV.API_BASE;
const FRONTEND_BASE = __ENV.FRONTEND_BASE;
const params = __ENV.API_TOKEN
  ? { headers: { Authorization: 'Bearer ' + __ENV.API_TOKEN } }
  : {};

export default function () {
{{- range .APIPaths}}
  check(http.get(API_BASE + '{{js .}}', params), {
    '{{js .}} ok': (r) => r.status >= 200 && r.status < 400,
  });
{{- end}}
{{- if .FrontendPaths}}
  if (FRONTEND_BASE) {
{{- range .FrontendPaths}}
    check(http.get(FRONTEND_BASE + '{{js .}}'), {
      'frontend {{js .}} ok': (r) => r.status >= 200 && r.status < 400,
    });
{{- end}}
  }
{{- end}}
  sleep({{.ThinkSeconds}});
}
`))

type k6ScriptData struct {
	scenario.Definition
	APIPaths      []string
	FrontendPaths []string
	ThinkSeconds  string
}

// K6Driver runs scenarios with k6 and its JSON output.
type K6Driver struct {
	binary string
}

// NewK6Driver returns a driver invoking binary, "k6" when empty.
func NewK6Driver(binary string) *K6Driver {
	if binary == "" {
		binary = "k6"
	}
	return &K6Driver{binary: binary}
}

func (d *K6Driver) Name() string   { return "k6" }
func (d *K6Driver) Binary() string { return d.binary }
func (d *K6Driver) Format() Format { return FormatK6 }

// Prepare writes the scenario script and returns the k6 invocation.
func (d *K6Driver) Prepare(def scenario.Definition, runID, workDir string, target Target) (Command, error) {
	scriptPath := filepath.Join(workDir, runID+".js")
	resultPath := filepath.Join(workDir, runID+".ndjson")

	f, err := os.Create(scriptPath)
	if err != nil {
		return Command{}, fmt.Errorf("create k6 script: %w", err)
	}

	think := target.ThinkTime
	if think <= 0 {
		think = time.Second
	}
	data := k6ScriptData{
		Definition:    def,
		APIPaths:      target.APIPaths,
		FrontendPaths: target.FrontendPaths,
		ThinkSeconds:  fmt.Sprintf("%g", think.Seconds()),
	}
	if err := k6Script.Execute(f, data); err != nil {
		_ = f.Close()
		return Command{}, fmt.Errorf("render k6 script: %w", err)
	}
	if err := f.Close(); err != nil {
		return Command{}, fmt.Errorf("write k6 script: %w", err)
	}

	return Command{
		Name:       d.binary,
		Args:       []string{"run", "--quiet", "--out", "json=" + resultPath, scriptPath},
		Dir:        workDir,
		ResultFile: resultPath,
	}, nil
}
