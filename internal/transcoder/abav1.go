package transcoder

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"

	"av1-worker/internal/command"
	"av1-worker/internal/media"
	"av1-worker/internal/process"
)

// Defaults for the ab-av1 backend.
const (
	DefaultAbAV1Binary  = "/usr/local/bin/ab-av1"
	DefaultAbAV1Timeout = 4 * time.Hour
	DefaultMinCRF       = 20
	DefaultMaxCRF       = 45
)

var abav1Version = regexp.MustCompile(`ab-av1 ([\d.]+)`)

// AbAV1Options configure the ab-av1 backend.
type AbAV1Options struct {
	Binary  string
	Timeout time.Duration
}

// AbAV1 runs builder output through the ab-av1 CLI unchanged.
type AbAV1 struct {
	tool
}

func NewAbAV1(opts AbAV1Options, runner process.Runner, temps *media.TempDirs, logger hclog.Logger) *AbAV1 {
	if opts.Binary == "" {
		opts.Binary = DefaultAbAV1Binary
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultAbAV1Timeout
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &AbAV1{tool: newTool(opts.Binary, opts.Timeout, runner, temps, logger.Named("ab-av1"))}
}

func (a *AbAV1) Name() string { return "ab-av1" }

// ab-av1 auto-encode searches on its own.
func (a *AbAV1) SupportsQualitySearch() bool { return false }

func (a *AbAV1) Execute(ctx context.Context, b *command.Builder) (process.Result, error) {
	args, err := a.Args(ctx, b)
	if err != nil {
		return process.Result{}, err
	}
	return a.run(ctx, args)
}

// Args renders the ab-av1 arguments (without the binary) for b.
func (a *AbAV1) Args(_ context.Context, b *command.Builder) ([]string, error) {
	args, err := b.Render()
	if err != nil {
		return nil, err
	}
	return stripBinary(args, command.Binary, a.binary), nil
}

func (a *AbAV1) Version(ctx context.Context) (string, error) {
	return a.version(ctx, "--version", abav1Version)
}

func (a *AbAV1) IsAvailable(ctx context.Context) bool {
	_, err := a.Version(ctx)
	return err == nil
}

// CRFSearch describes one crf-search run.
type CRFSearch struct {
	Input   string
	Output  string
	Preset  string
	MinVMAF float64
	MinCRF  int
	MaxCRF  int
}

// SearchCRF runs crf-search and parses the suggested CRF. It returns
// ErrCRFNotFound when the search fails or prints nothing usable.
func (a *AbAV1) SearchCRF(ctx context.Context, req CRFSearch) (int, error) {
	if req.MinCRF <= 0 {
		req.MinCRF = DefaultMinCRF
	}
	if req.MaxCRF <= 0 {
		req.MaxCRF = DefaultMaxCRF
	}

	b := command.New()
	if err := b.SetOperation(command.CRFSearch); err != nil {
		return 0, err
	}
	b.SetInput(req.Input).SetOutput(req.Output).
		Preset(req.Preset).
		MinVMAF(req.MinVMAF).
		MinCRF(req.MinCRF).
		MaxCRF(req.MaxCRF)

	a.logger.Info("searching crf", "input", req.Input, "min_vmaf", req.MinVMAF, "preset", req.Preset,
		"min_crf", req.MinCRF, "max_crf", req.MaxCRF)

	res, err := a.Execute(ctx, b)
	if err != nil {
		return 0, err
	}
	if !res.Successful() {
		return 0, fmt.Errorf("crf-search exited %d: %w", res.ExitCode, ErrCRFNotFound)
	}

	crf, ok := ParseCRF(res.Stdout)
	if !ok {
		crf, ok = ParseCRF(res.Stderr)
	}
	if !ok {
		return 0, ErrCRFNotFound
	}
	a.logger.Info("crf found", "crf", crf)
	return crf, nil
}

// SampleQuality encodes a sample at crf and returns the VMAF score ab-av1
// reports, or nil when none is available. The sample file is always removed.
func (a *AbAV1) SampleQuality(ctx context.Context, input string, crf int, preset string, seconds int) (*float64, error) {
	dir, err := a.temps.Create()
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.temps.Remove(dir) }()

	b := command.New()
	if err := b.SetOperation(command.SampleEncode); err != nil {
		return nil, err
	}
	b.SetInput(input).SetOutput(filepath.Join(dir, "sample.mp4")).
		CRF(crf).
		Preset(preset)
	if seconds > 0 {
		b.Sample(seconds)
	}

	res, err := a.Execute(ctx, b)
	if err != nil {
		return nil, err
	}
	if !res.Successful() {
		return nil, nil
	}
	if score, ok := ParseVMAF(res.Stdout); ok {
		return &score, nil
	}
	if score, ok := ParseVMAF(res.Stderr); ok {
		return &score, nil
	}
	return nil, nil
}

var crfPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Suggested CRF:\s*(\d+)`),
	regexp.MustCompile(`(?i)crf\s+(\d+)`),
	regexp.MustCompile(`(?i)CRF=(\d+)`),
}

var bareNumber = regexp.MustCompile(`\b(\d+)\b`)

// Plausible CRF range for the last-number fallback.
const (
	crfGuessMin = 15
	crfGuessMax = 50
)

// ParseCRF extracts a CRF from crf-search output. Explicit patterns are
// tried in order; failing those, the last number in the plausible range wins.
func ParseCRF(out string) (int, bool) {
	for _, re := range crfPatterns {
		if m := re.FindStringSubmatch(out); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n, true
			}
		}
	}

	numbers := bareNumber.FindAllStringSubmatch(out, -1)
	for i := len(numbers) - 1; i >= 0; i-- {
		n, err := strconv.Atoi(numbers[i][1])
		if err == nil && n >= crfGuessMin && n <= crfGuessMax {
			return n, true
		}
	}
	return 0, false
}

var vmafPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)VMAF\s*[:\-]?\s*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*VMAF`),
}

// ParseVMAF extracts a VMAF score from tool output.
func ParseVMAF(out string) (float64, bool) {
	for _, re := range vmafPatterns {
		if m := re.FindStringSubmatch(out); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}
