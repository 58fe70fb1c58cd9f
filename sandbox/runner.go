package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DefaultCommandAllowlist maps an executable basename to the argument prefix
// every invocation must begin with.
var DefaultCommandAllowlist = map[string][]string{
	"bash":   {"-lc"},
	"sh":     {"-lc"},
	"python": {"-V"},
	"pip":    {"--version"},
}

// RunnerConfig is the immutable execution policy for the run tool.
type RunnerConfig struct {
	Enabled        bool
	Allowlist      map[string][]string
	DefaultTimeout time.Duration
	MaxOutputBytes int
}

// RunRequest describes one command execution. WorkingDir must already be
// resolved and policy-checked by the caller.
type RunRequest struct {
	Command    string
	Args       []string
	WorkingDir string
	Timeout    time.Duration // zero means the configured default
}

// RunResult is the outcome of a command execution. A failing child process
// is a normal result, not an error: OK is false and ReturnCode carries the
// exit status. On timeout ReturnCode is nil and Err is "timeout", with
// whatever output was captured before termination.
type RunResult struct {
	OK         bool
	ReturnCode *int
	Stdout     string
	Stderr     string
	ElapsedSec float64
	Err        string
}

// Runner executes allowlisted commands with a wall-clock timeout and an
// output byte cap. Commands are spawned directly with the validated argument
// vector, never through a shell.
type Runner struct {
	logger *zap.Logger
	config RunnerConfig
}

// NewRunner creates a Runner with the given execution policy.
func NewRunner(logger *zap.Logger, config RunnerConfig) *Runner {
	return &Runner{logger: logger, config: config}
}

// Run validates the request against the allowlist and executes it.
//
// Validation order is fixed: feature gate, then allowlist membership, then
// argument prefix; each failure is a distinct error and happens before the
// process is spawned. The prefix check pins only the leading arguments —
// anything after the prefix passes. That is the documented policy, kept
// deliberately coarse.
func (r *Runner) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	if !r.config.Enabled {
		return RunResult{}, ErrRunDisabled
	}

	base := filepath.Base(req.Command)
	prefix, ok := r.config.Allowlist[base]
	if !ok {
		return RunResult{}, fmt.Errorf("%w: %q", ErrCommandNotAllowed, base)
	}
	if len(req.Args) < len(prefix) {
		return RunResult{}, fmt.Errorf("%w: %q requires %v", ErrArgPrefix, base, prefix)
	}
	for i, want := range prefix {
		if req.Args[i] != want {
			return RunResult{}, fmt.Errorf("%w: %q requires %v", ErrArgPrefix, base, prefix)
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.config.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := newLimitBuffer(r.config.MaxOutputBytes)
	stderr := newLimitBuffer(r.config.MaxOutputBytes)

	cmd := exec.CommandContext(runCtx, req.Command, req.Args...) //nolint:gosec // argv validated against the allowlist above
	cmd.Dir = req.WorkingDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Run the command in its own process group and kill the whole group on
	// timeout. Killing only the direct child would leave descendants alive,
	// and a descendant holding the stdout/stderr pipes keeps Wait blocked
	// for as long as it runs. WaitDelay bounds that drain after the kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	r.logger.Info("running command",
		zap.String("command", base),
		zap.Strings("args", req.Args),
		zap.String("cwd", req.WorkingDir),
		zap.Duration("timeout", timeout))

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		r.logger.Warn("command timed out",
			zap.String("command", base),
			zap.Duration("timeout", timeout))
		return RunResult{
			OK:         false,
			Stdout:     stdout.String(),
			Stderr:     stderr.String(),
			ElapsedSec: elapsed.Seconds(),
			Err:        "timeout",
		}, nil
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// The process never started. Reported as an outcome, with a
			// stable reason instead of raw platform error text.
			r.logger.Error("command failed to start",
				zap.String("command", base),
				zap.Error(err))
			reason := "execution error"
			if errors.Is(err, exec.ErrNotFound) {
				reason = "executable not found"
			}
			return RunResult{
				OK:         false,
				ElapsedSec: elapsed.Seconds(),
				Err:        reason,
			}, nil
		}
		exitCode = exitErr.ExitCode()
	}

	return RunResult{
		OK:         exitCode == 0,
		ReturnCode: &exitCode,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ElapsedSec: elapsed.Seconds(),
	}, nil
}

// limitBuffer keeps the first max bytes written and silently drops the rest,
// so a chatty child cannot grow the capture without bound.
type limitBuffer struct {
	buf bytes.Buffer
	max int
}

func newLimitBuffer(max int) *limitBuffer {
	return &limitBuffer{max: max}
}

func (b *limitBuffer) Write(p []byte) (int, error) {
	if remaining := b.max - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitBuffer) String() string {
	return b.buf.String()
}
