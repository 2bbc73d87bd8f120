package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/hashicorp/go-hclog"

	"av1-worker/internal/heartbeat"
)

// waitDelay bounds how long Wait keeps draining output after a kill.
const waitDelay = 5 * time.Second

// ErrTimeout is reported when a command outlives its timeout and is killed.
var ErrTimeout = errors.New("process timed out")

// Command is one argv-based invocation. Args[0] is the binary.
type Command struct {
	Args    []string
	Dir     string
	Timeout time.Duration
}

// Result is the captured outcome of a finished process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Successful reports a zero exit code.
func (r Result) Successful() bool {
	return r.ExitCode == 0
}

// Runner executes commands. A non-nil error means the process could not be
// started or was killed; a non-zero exit is reported through Result alone.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd Command) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct {
	logger    hclog.Logger
	heartbeat time.Duration
}

// NewExecRunner returns a runner. A positive heartbeat interval logs progress
// lines while long commands run.
func NewExecRunner(logger hclog.Logger, heartbeatInterval time.Duration) *ExecRunner {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ExecRunner{logger: logger, heartbeat: heartbeatInterval}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if len(c.Args) == 0 {
		return Result{ExitCode: -1}, errors.New("empty command")
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Start rather than Run so the PID is known while the tool works.
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1, Stderr: err.Error()}, fmt.Errorf("start %s: %w", c.Args[0], err)
	}
	r.logger.Debug("process started", "binary", c.Args[0], "pid", cmd.Process.Pid)

	if r.heartbeat > 0 {
		hb := heartbeat.New(r.heartbeat, r.logger.Named("heartbeat"), c.Args[0])
		stop := hb.Start(ctx)
		defer stop()
	}

	err := cmd.Wait()
	result := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			result.Stderr = appendLine(result.Stderr, fmt.Sprintf("killed after %s timeout", c.Timeout))
			return result, fmt.Errorf("%s: %w", c.Args[0], ErrTimeout)
		}
		result.Stderr = appendLine(result.Stderr, ctxErr.Error())
		return result, fmt.Errorf("%s: %w", c.Args[0], ctxErr)
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		result.ExitCode = -1
		return result, fmt.Errorf("wait %s: %w", c.Args[0], err)
	}
	return result, nil
}

func appendLine(s, line string) string {
	if s == "" || s[len(s)-1] == '\n' {
		return s + line
	}
	return s + "\n" + line
}
