// Package gitx implements the git synchronization engine for the vault.
//
// The package has two layers:
//
//   - Runner: invokes the git binary as a subprocess with a bounded timeout
//     and captures exit status, stdout, and stderr. A nonzero exit is not an
//     error; callers interpret exit codes.
//   - Engine: orchestrates clone, pull, push, and combined sync as sequences
//     of Runner calls with recovery logic, and reports every operation as a
//     structured Outcome.
//
// All expected git failures are converted into Outcome values at the engine
// boundary. The only errors that escape construction are configuration
// problems.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds every single git invocation.
const DefaultTimeout = 120 * time.Second

// ErrTimeout is returned by Runner.Run when a git invocation exceeds its
// timeout. It is distinguishable from a normal nonzero exit, which is not
// an error at all.
var ErrTimeout = errors.New("git command timed out")

// Result captures the observable outcome of one git invocation.
type Result struct {
	// ExitCode is the subprocess exit status. Zero on success.
	ExitCode int

	// Stdout is the captured standard output as text.
	Stdout string

	// Stderr is the captured standard error as text.
	Stderr string

	// TimedOut is true if the invocation was killed by its timeout.
	TimedOut bool
}

// OK reports whether the command exited zero.
func (r Result) OK() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// commandRunner is the engine's view of a Runner. Tests substitute a
// scripted implementation.
type commandRunner interface {
	Run(ctx context.Context, dir string, args ...string) (Result, error)
}

// Runner executes git commands synchronously with a fixed timeout.
//
// Runner never raises for a nonzero exit; the Result carries the exit code
// and captured output for the caller to interpret. Only two conditions are
// reported as errors: the binary could not be started, and the timeout
// elapsed (ErrTimeout).
type Runner struct {
	// Timeout bounds each invocation. Zero means DefaultTimeout.
	Timeout time.Duration

	// Logger receives one line per invocation. Nil disables logging.
	Logger *log.Logger

	// redact holds secrets that must never appear in log output.
	redact []string
}

// NewRunner creates a Runner. Any secrets passed here are masked in every
// logged argument vector; the arguments themselves are passed to git
// unmodified.
func NewRunner(logger *log.Logger, secrets ...string) *Runner {
	redact := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s != "" {
			redact = append(redact, s)
		}
	}
	return &Runner{Timeout: DefaultTimeout, Logger: logger, redact: redact}
}

// Run invokes git with the given arguments in dir.
//
// The returned error is non-nil only when the command could not be run at
// all or timed out. Check Result.ExitCode for command-level failure.
func (r *Runner) Run(ctx context.Context, dir string, args ...string) (Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		r.logf("git %s: timed out after %v", r.describe(args), elapsed.Round(time.Millisecond))
		return res, fmt.Errorf("git %s: %w", args[0], ErrTimeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			r.logf("git %s: exit %d (%v)", r.describe(args), res.ExitCode, elapsed.Round(time.Millisecond))
			return res, nil
		}
		// Binary missing, permission denied, etc.
		r.logf("git %s: %v", r.describe(args), err)
		return res, fmt.Errorf("failed to run git %s: %w", args[0], err)
	}

	r.logf("git %s: ok (%v)", r.describe(args), elapsed.Round(time.Millisecond))
	return res, nil
}

// describe renders an argument vector for logging with secrets masked.
func (r *Runner) describe(args []string) string {
	if len(r.redact) == 0 {
		return strings.Join(args, " ")
	}

	masked := make([]string, len(args))
	for i, arg := range args {
		for _, secret := range r.redact {
			arg = strings.ReplaceAll(arg, secret, "***")
		}
		masked[i] = arg
	}
	return strings.Join(masked, " ")
}

func (r *Runner) logf(format string, v ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, v...)
	}
}
