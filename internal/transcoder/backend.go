package transcoder

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"av1-worker/internal/command"
	"av1-worker/internal/media"
	"av1-worker/internal/process"
)

// versionTimeout bounds the availability and version probes.
const versionTimeout = 5 * time.Second

// Backend executes a built command with one concrete tool.
type Backend interface {
	Name() string
	// Execute returns an error only for configuration problems. A process
	// that fails to start, exits non-zero or times out is a failed Result.
	Execute(ctx context.Context, b *command.Builder) (process.Result, error)
	IsAvailable(ctx context.Context) bool
	Version(ctx context.Context) (string, error)
	// SupportsQualitySearch reports whether the caller must pick a CRF
	// before Execute when only a VMAF target is set.
	SupportsQualitySearch() bool
}

// CommandLine renders the shell-escaped invocation Execute would run for b.
// Nothing is executed.
func CommandLine(ctx context.Context, backend Backend, b *command.Builder) (string, error) {
	r, ok := backend.(interface {
		Binary() string
		Args(ctx context.Context, b *command.Builder) ([]string, error)
	})
	if !ok {
		args, err := b.Render()
		if err != nil {
			return "", err
		}
		return command.Quote(append([]string{command.Binary}, args...)), nil
	}
	args, err := r.Args(ctx, b)
	if err != nil {
		return "", err
	}
	return command.Quote(append([]string{r.Binary()}, args...)), nil
}

// tool holds what every backend shares: where the binary is, how long it may
// run and where its scratch directories go.
type tool struct {
	binary  string
	timeout time.Duration
	runner  process.Runner
	temps   *media.TempDirs
	logger  hclog.Logger
}

func newTool(binary string, timeout time.Duration, runner process.Runner, temps *media.TempDirs, logger hclog.Logger) tool {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if temps == nil {
		temps = media.NewTempDirs("", logger)
	}
	return tool{binary: binary, timeout: timeout, runner: runner, temps: temps, logger: logger}
}

// Binary is the configured executable path.
func (t tool) Binary() string { return t.binary }

// run executes args (without the binary) in a fresh scratch directory that
// is removed afterwards. Process failures are folded into the Result.
func (t tool) run(ctx context.Context, args []string) (process.Result, error) {
	dir, err := t.temps.Create()
	if err != nil {
		return process.Result{ExitCode: -1}, err
	}
	defer func() {
		if err := t.temps.Remove(dir); err != nil {
			t.logger.Warn("failed to remove working dir", "path", dir, "error", err)
		}
	}()

	argv := append([]string{t.binary}, args...)
	t.logger.Debug("running command", "command", command.Quote(argv), "dir", dir)

	start := time.Now()
	res, err := t.runner.Run(ctx, process.Command{Args: argv, Dir: dir, Timeout: t.timeout})
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		res.ExitCode = -1
		if res.Stderr == "" {
			res.Stderr = err.Error()
		}
		t.logger.Error("command failed", "binary", t.binary, "error", err, "elapsed", elapsed)
		return res, nil
	}

	if res.Successful() {
		t.logger.Info("command finished", "binary", t.binary, "elapsed", elapsed)
	} else {
		t.logger.Error("command exited with error", "binary", t.binary, "exit_code", res.ExitCode, "elapsed", elapsed)
	}
	return res, nil
}

// version runs `binary flag` and matches patterns in order, falling back to
// the first output line.
func (t tool) version(ctx context.Context, flag string, patterns ...*regexp.Regexp) (string, error) {
	res, err := t.runner.Run(ctx, process.Command{
		Args:    []string{t.binary, flag},
		Timeout: versionTimeout,
	})
	if err != nil {
		return "", &VersionParseError{Binary: t.binary, Output: res.Stderr, Err: err}
	}
	if !res.Successful() {
		return "", &VersionParseError{Binary: t.binary, Output: strings.TrimSpace(res.Stderr)}
	}
	return parseVersion(res.Stdout+res.Stderr, patterns...), nil
}

func parseVersion(out string, patterns ...*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(out); m != nil {
			return m[1]
		}
	}
	out = strings.TrimSpace(out)
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	return strings.TrimSpace(out)
}

// stripBinary drops a leading binary-name token so rendered commands may be
// passed with or without it.
func stripBinary(args []string, names ...string) []string {
	if len(args) == 0 {
		return args
	}
	first := filepath.Base(args[0])
	for _, name := range names {
		if name != "" && first == filepath.Base(name) {
			return args[1:]
		}
	}
	return args
}
