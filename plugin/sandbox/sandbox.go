// Package sandbox runs model-authored analysis code in an embedded Starlark interpreter.
//
// Code only sees the helper allowlist (fetch, sum, avg, round, percent, to_number, sort_by,
// group_by, date_diff, sleep) plus the json and math modules. It is executed as the body
// of a function, so `return` produces the result and loops are allowed at the top level.
// while loops and recursion are enabled; the execution timeout bounds them.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
)

func init() {
	resolve.AllowRecursion = true
}

// DefaultTimeout is the hard wall-clock limit of one execution.
const DefaultTimeout = 50 * time.Second

const (
	entrypoint = "main"
	resultVar  = "sandbox_result"
	filename   = "analysis.star"
)

// Result is returned for every execution. Failures never surface as Go errors.
type Result struct {
	Success bool     `json:"success"`
	Result  any      `json:"result,omitempty"`
	Logs    []string `json:"logs,omitempty"`
	Error   string   `json:"error,omitempty"`
	Stack   string   `json:"stack,omitempty"`
}

// Interpreter executes code against an optional store fetcher.
type Interpreter struct {
	fetcher Fetcher
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(i *Interpreter) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithLogger sets the logger receiving print() output.
func WithLogger(l *slog.Logger) Option {
	return func(i *Interpreter) {
		if l != nil {
			i.logger = l
		}
	}
}

// New returns an interpreter. fetcher may be nil, in which case fetch() fails.
func New(fetcher Fetcher, opts ...Option) *Interpreter {
	i := &Interpreter{
		fetcher: fetcher,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Timeout is the configured execution limit.
func (i *Interpreter) Timeout() time.Duration {
	return i.timeout
}

type execution struct {
	ctx     context.Context
	fetcher Fetcher
	logger  *slog.Logger

	mu   sync.Mutex
	logs []string
}

func (e *execution) print(_ *starlark.Thread, msg string) {
	e.mu.Lock()
	e.logs = append(e.logs, msg)
	e.mu.Unlock()
	e.logger.Info("[sandbox] " + msg)
}

func (e *execution) snapshotLogs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.logs...)
}

// Run executes code and waits for it to finish, fail, or time out.
func (i *Interpreter) Run(ctx context.Context, code string) *Result {
	if strings.TrimSpace(code) == "" {
		return &Result{Success: false, Error: "no code provided"}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exec := &execution{ctx: ctx, fetcher: i.fetcher, logger: i.logger}
	thread := &starlark.Thread{Name: "sandbox", Print: exec.print}

	predeclared := exec.builtins()
	predeclared["json"] = json.Module
	predeclared["math"] = math.Module

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		globals, err := starlark.ExecFile(thread, filename, wrap(code), predeclared)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		done <- outcome{value: fromStarlark(globals[resultVar])}
	}()

	timer := time.NewTimer(i.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			return failure(out.err, exec.snapshotLogs())
		}
		return &Result{Success: true, Result: out.value, Logs: exec.snapshotLogs()}
	case <-timer.C:
		thread.Cancel("timeout")
		cancel()
		i.logger.Warn("[sandbox] execution timed out", "timeout", i.timeout)
		return &Result{
			Success: false,
			Error:   "Execution timed out after " + formatDuration(i.timeout),
			Logs:    exec.snapshotLogs(),
		}
	case <-ctx.Done():
		thread.Cancel("cancelled")
		return &Result{Success: false, Error: "Execution cancelled: " + ctx.Err().Error(), Logs: exec.snapshotLogs()}
	}
}

func failure(err error, logs []string) *Result {
	res := &Result{Success: false, Error: err.Error(), Logs: logs}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		res.Error = evalErr.Msg
		res.Stack = evalErr.Backtrace()
	}
	return res
}

// wrap turns the code into the body of main() and stores its return value. Lines
// that continue a triple-quoted string are copied verbatim so its contents are kept.
func wrap(code string) string {
	var sb strings.Builder
	sb.WriteString("def " + entrypoint + "():\n")
	open := ""
	for _, line := range strings.Split(strings.ReplaceAll(code, "\r\n", "\n"), "\n") {
		if open != "" {
			sb.WriteString(line + "\n")
		} else {
			trimmed := strings.TrimLeft(line, "\t")
			indent := strings.Repeat("    ", len(line)-len(trimmed))
			sb.WriteString("    " + indent + trimmed + "\n")
		}
		open = openTripleQuote(line, open)
	}
	sb.WriteString("    pass\n")
	sb.WriteString(resultVar + " = " + entrypoint + "()\n")
	return sb.String()
}

// openTripleQuote returns the triple-quote delimiter left open at the end of line,
// given the one open at its start.
func openTripleQuote(line, open string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case open != "":
			if c == '\\' {
				i++
			} else if strings.HasPrefix(line[i:], open) {
				open = ""
				i += 2
			}
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '#':
			return ""
		case c == '"' || c == '\'':
			if delim := strings.Repeat(string(c), 3); strings.HasPrefix(line[i:], delim) {
				open = delim
				i += 2
			} else {
				quote = c
			}
		}
	}
	return open
}

func formatDuration(d time.Duration) string {
	if d%time.Second == 0 {
		secs := int64(d / time.Second)
		if secs == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", secs)
	}
	return d.String()
}
