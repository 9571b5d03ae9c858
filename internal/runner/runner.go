package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"cimatrix/internal/ctxlog"
	"cimatrix/internal/exitcodes"
)

type Status string

const (
	StatusPass  Status = "PASS"
	StatusFail  Status = "FAIL"
	StatusError Status = "ERROR"
)

// Result is the outcome of one framework invocation.
type Result struct {
	Selector string        `json:"selector"`
	Status   Status        `json:"status"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration_ns"`
	Message  string        `json:"message,omitempty"`
}

// Process is the seam between the runner and the operating system. It starts
// argv and reports the process exit code; err is set only when the process
// could not be started or did not exit normally.
type Process func(ctx context.Context, argv []string, dir string, env []string, stdout, stderr io.Writer) (exitCode int, err error)

type Runner struct {
	framework Framework
	dir       string
	env       []string
	stdout    io.Writer
	stderr    io.Writer
	process   Process
}

type Option func(*Runner)

// WithDir runs the framework in dir.
func WithDir(dir string) Option {
	return func(r *Runner) { r.dir = dir }
}

// WithEnv replaces the framework's environment. Nil inherits the process
// environment.
func WithEnv(env []string) Option {
	return func(r *Runner) { r.env = env }
}

// WithOutput sends the framework's stdout and stderr to the given writers.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *Runner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

// WithProcess swaps how the framework process is executed.
func WithProcess(p Process) Option {
	return func(r *Runner) { r.process = p }
}

func New(fw Framework, opts ...Option) (*Runner, error) {
	if fw == nil {
		return nil, errors.New("runner: framework is nil")
	}
	r := &Runner{
		framework: fw,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		process:   execProcess,
	}
	for _, apply := range opts {
		if apply != nil {
			apply(r)
		}
	}
	return r, nil
}

// Run executes the tests selected by selector and nothing else. The framework's
// exit code is returned unchanged in Result.ExitCode. Failures are not retried.
func (r *Runner) Run(ctx context.Context, selector string) Result {
	if selector == "" {
		return emptySelector()
	}
	return r.invoke(ctx, selector, r.framework.RunArgs(selector))
}

// Collect lists the tests selector matches without running them. A selector
// that matches nothing yields a non-PASS result.
func (r *Runner) Collect(ctx context.Context, selector string) Result {
	if selector == "" {
		return emptySelector()
	}
	return r.invoke(ctx, selector, r.framework.CollectArgs(selector))
}

// Exec runs an arbitrary command with the runner's directory, environment and
// output. Result.Selector holds the joined command line.
func (r *Runner) Exec(ctx context.Context, argv []string) Result {
	if len(argv) == 0 {
		return Result{Status: StatusError, ExitCode: exitcodes.Config, Message: "empty command"}
	}
	return r.invoke(ctx, strings.Join(argv, " "), argv)
}

func emptySelector() Result {
	return Result{Status: StatusError, ExitCode: exitcodes.Config, Message: "empty selector"}
}

func (r *Runner) invoke(ctx context.Context, label string, argv []string) Result {
	log := ctxlog.FromContext(ctx)
	res := Result{Selector: label}

	log.Debug("starting process", "framework", r.framework.Name(), "argv", argv, "dir", r.dir)
	start := time.Now()
	code, err := r.process(ctx, argv, r.dir, r.env, r.stdout, r.stderr)
	res.Duration = time.Since(start)

	switch {
	case err != nil:
		res.Status = StatusError
		res.ExitCode = exitcodes.Software
		res.Message = err.Error()
		if ctx.Err() != nil {
			res.Message = fmt.Sprintf("%s: %v", argv[0], ctx.Err())
		}
	case code == 0:
		res.Status = StatusPass
		res.ExitCode = 0
	default:
		res.Status = StatusFail
		res.ExitCode = code
	}
	log.Debug("process finished", "status", res.Status, "exit_code", res.ExitCode, "duration", res.Duration.Truncate(time.Millisecond))
	return res
}

func execProcess(ctx context.Context, argv []string, dir string, env []string, stdout, stderr io.Writer) (int, error) {
	if len(argv) == 0 {
		return 0, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code, nil
		}
		// Killed by a signal, usually the context.
		return 0, fmt.Errorf("%s terminated: %w", argv[0], err)
	}
	return 0, fmt.Errorf("start %s: %w", argv[0], err)
}
