package encoder

import (
	"time"

	"av1-worker/internal/command"
	"av1-worker/internal/process"
)

// Result is the immutable outcome of one Run.
type Result struct {
	operation  command.Operation
	backend    string
	exitCode   int
	stdout     string
	stderr     string
	outputPath string
	crf        int
	autoCRF    bool
	duration   time.Duration
}

func newResult(op command.Operation, backend string, res process.Result, outputPath string, duration time.Duration) *Result {
	return &Result{
		operation:  op,
		backend:    backend,
		exitCode:   res.ExitCode,
		stdout:     res.Stdout,
		stderr:     res.Stderr,
		outputPath: outputPath,
		duration:   duration,
	}
}

func (r *Result) Operation() command.Operation { return r.operation }
func (r *Result) Backend() string              { return r.backend }
func (r *Result) ExitCode() int                { return r.exitCode }
func (r *Result) Output() string               { return r.stdout }
func (r *Result) ErrorOutput() string          { return r.stderr }
func (r *Result) Duration() time.Duration      { return r.duration }

// OutputPath is the temporary artifact location; empty for quality operations.
func (r *Result) OutputPath() string { return r.outputPath }

// Successful reports a zero exit code.
func (r *Result) Successful() bool { return r.exitCode == 0 }

// CRF returns the quality level picked by the automatic search, if one ran.
func (r *Result) CRF() (int, bool) { return r.crf, r.autoCRF }
