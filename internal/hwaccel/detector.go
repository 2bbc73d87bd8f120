package hwaccel

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"av1-worker/internal/process"
	"av1-worker/pkg/models"
)

// DefaultProbeTimeout bounds one ffmpeg listing call.
const DefaultProbeTimeout = 10 * time.Second

// encoderLine matches video rows of `ffmpeg -encoders`, e.g.
// " V....D libsvtav1            SVT-AV1(Scalable Video Technology for AV1) encoder".
var encoderLine = regexp.MustCompile(`(?m)^\s*V[A-Z.]{5}\s+(\S+)`)

// Options configure a Detector.
type Options struct {
	FFmpeg          string
	EncoderPriority []string
	MethodPriority  []string
	ProbeTimeout    time.Duration
}

// Detector discovers which AV1 encoders and acceleration methods the local
// ffmpeg offers. Probe failures are never errors: they yield empty results.
type Detector struct {
	ffmpeg         string
	priority       []string
	methodPriority []string
	probeTimeout   time.Duration

	runner process.Runner
	cache  *Cache
	logger hclog.Logger
}

// NewDetector wires a detector. A nil cache gets a private one with the default TTL.
func NewDetector(opts Options, runner process.Runner, cache *Cache, logger hclog.Logger) *Detector {
	if opts.FFmpeg == "" {
		opts.FFmpeg = "ffmpeg"
	}
	if len(opts.EncoderPriority) == 0 {
		opts.EncoderPriority = DefaultEncoderPriority
	}
	if len(opts.MethodPriority) == 0 {
		opts.MethodPriority = DefaultMethodPriority
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if cache == nil {
		cache = NewCache(DefaultCacheTTL)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Detector{
		ffmpeg:         opts.FFmpeg,
		priority:       append([]string(nil), opts.EncoderPriority...),
		methodPriority: append([]string(nil), opts.MethodPriority...),
		probeTimeout:   opts.ProbeTimeout,
		runner:         runner,
		cache:          cache,
		logger:         logger,
	}
}

// AvailableEncoders lists the known AV1 encoders ffmpeg reports, in the
// order ffmpeg prints them.
func (d *Detector) AvailableEncoders(ctx context.Context) []string {
	if ids, ok := d.cache.Encoders(); ok {
		return ids
	}

	out, ok := d.probe(ctx, "-encoders")
	if !ok {
		return nil
	}
	ids := parseEncoders(out)
	d.cache.StoreEncoders(ids)
	d.logger.Debug("encoders detected", "encoders", strings.Join(ids, ","))
	return ids
}

// Rank orders ids by configured priority. Ids missing from the priority list
// sort after every configured one and keep their relative order.
func (d *Detector) Rank(ids []string) []string {
	return rankBy(ids, d.priority)
}

// Ranked is Rank over AvailableEncoders.
func (d *Detector) Ranked(ctx context.Context) []string {
	return d.Rank(d.AvailableEncoders(ctx))
}

// Best returns the top ranked available encoder.
func (d *Detector) Best(ctx context.Context) (string, bool) {
	ranked := d.Ranked(ctx)
	if len(ranked) == 0 {
		return "", false
	}
	return ranked[0], true
}

// BestHardware returns the top ranked hardware encoder.
func (d *Detector) BestHardware(ctx context.Context) (string, bool) {
	for _, id := range d.Ranked(ctx) {
		if IsHardware(id) {
			return id, true
		}
	}
	return "", false
}

// HasEncoder reports whether id is available.
func (d *Detector) HasEncoder(ctx context.Context, id string) bool {
	for _, candidate := range d.AvailableEncoders(ctx) {
		if candidate == id {
			return true
		}
	}
	return false
}

// HardwareAccelMethods lists the acceleration methods ffmpeg reports, ranked.
func (d *Detector) HardwareAccelMethods(ctx context.Context) []string {
	if methods, ok := d.cache.Methods(); ok {
		return methods
	}

	out, ok := d.probe(ctx, "-hwaccels")
	if !ok {
		return nil
	}
	methods := rankBy(parseMethods(out), d.methodPriority)
	d.cache.StoreMethods(methods)
	return methods
}

// HardwareAccelMethod returns the preferred acceleration method. Advisory only.
func (d *Detector) HardwareAccelMethod(ctx context.Context) (string, bool) {
	methods := d.HardwareAccelMethods(ctx)
	if len(methods) == 0 {
		return "", false
	}
	return methods[0], true
}

// Invalidate drops cached probe results.
func (d *Detector) Invalidate() {
	d.cache.Invalidate()
}

// Info is a snapshot for display.
func (d *Detector) Info(ctx context.Context) models.DetectionInfo {
	info := models.DetectionInfo{}
	for i, id := range d.Ranked(ctx) {
		info.Encoders = append(info.Encoders, models.EncoderStatus{
			ID:       id,
			Label:    Label(id),
			Hardware: IsHardware(id),
			Rank:     i + 1,
		})
	}
	info.Best, _ = d.Best(ctx)
	info.BestHardware, _ = d.BestHardware(ctx)
	info.AccelMethods = d.HardwareAccelMethods(ctx)
	return info
}

func (d *Detector) probe(ctx context.Context, listing string) (string, bool) {
	if d.runner == nil {
		return "", false
	}
	res, err := d.runner.Run(ctx, process.Command{
		Args:    []string{d.ffmpeg, "-hide_banner", listing},
		Timeout: d.probeTimeout,
	})
	if err != nil || !res.Successful() {
		d.logger.Warn("ffmpeg probe failed", "listing", listing, "exit_code", res.ExitCode, "error", err)
		return "", false
	}
	return res.Stdout, true
}

func parseEncoders(out string) []string {
	var ids []string
	seen := map[string]bool{}
	for _, m := range encoderLine.FindAllStringSubmatch(out, -1) {
		id := m[1]
		if !IsKnown(id) || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func parseMethods(out string) []string {
	var methods []string
	seen := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		m := strings.TrimSpace(line)
		if !IsKnownMethod(m) || seen[m] {
			continue
		}
		seen[m] = true
		methods = append(methods, m)
	}
	return methods
}

func rankBy(ids, priority []string) []string {
	index := make(map[string]int, len(priority))
	for i, id := range priority {
		if _, dup := index[id]; !dup {
			index[id] = i
		}
	}
	rank := func(id string) int {
		if i, ok := index[id]; ok {
			return i
		}
		return len(priority)
	}

	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i]) < rank(out[j])
	})
	return out
}
