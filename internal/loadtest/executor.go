package loadtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"
)

// Command describes one load-generator invocation.
type Command struct {
	Name       string
	Args       []string
	Env        map[string]string
	Dir        string
	ResultFile string // where the generator writes its line-delimited output

	// Line callbacks for streamed output; nil discards.
	Stdout func(line string)
	Stderr func(line string)
}

// ExecResult captures how a process ended.
type ExecResult struct {
	ExitCode int
	Duration time.Duration
}

// Executor runs external processes. A non-zero exit is reported through
// ExecResult.ExitCode; the error is reserved for spawn failures and
// context termination.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (*ExecResult, error)
	LookPath(name string) (string, error)
}

// ErrTimeout is wrapped when a process is killed by its context deadline.
var ErrTimeout = errors.New("load generator timed out")

type processExecutor struct {
	waitDelay time.Duration
}

// NewExecutor returns an Executor backed by os/exec.
func NewExecutor() Executor {
	return &processExecutor{waitDelay: 5 * time.Second}
}

func (p *processExecutor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (p *processExecutor) Execute(ctx context.Context, c Command) (*ExecResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = p.waitDelay
	if c.Env != nil {
		cmd.Env = append(os.Environ(), envList(c.Env)...)
	}

	stdout := newLineWriter(c.Stdout)
	stderr := newLineWriter(c.Stderr)
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Name, err)
	}

	err := cmd.Wait()
	stdout.flush()
	stderr.flush()
	result := &ExecResult{Duration: time.Since(start)}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return result, fmt.Errorf("%s after %v: %w", c.Name, result.Duration.Round(time.Second), ErrTimeout)
		}
		return result, fmt.Errorf("%s: %w", c.Name, ctxErr)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, fmt.Errorf("wait %s: %w", c.Name, err)
	}

	return result, nil
}

// maxLineBytes bounds a buffered partial line.
const maxLineBytes = 1 << 20

// lineWriter splits process output into lines for a callback. The copy
// goroutines feeding it are bounded by WaitDelay.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(string)
}

func newLineWriter(emit func(string)) *lineWriter {
	if emit == nil {
		return nil
	}
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emitLocked(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineBytes {
		w.emitLocked(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emitLocked(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emitLocked(line []byte) {
	w.emit(string(bytes.TrimRight(line, "\r")))
}

// envList renders env as KEY=VALUE pairs in key order.
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
