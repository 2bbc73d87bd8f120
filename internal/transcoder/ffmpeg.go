package transcoder

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"av1-worker/internal/command"
	"av1-worker/internal/hwaccel"
	"av1-worker/internal/media"
	"av1-worker/internal/process"
)

// Defaults for the ffmpeg backend.
const (
	DefaultFFmpegBinary  = "/usr/local/bin/ffmpeg"
	DefaultFFmpegTimeout = 2 * time.Hour
	DefaultCRF           = 30
	DefaultPreset        = "6"
	DefaultAudioCodec    = "libopus"
	FallbackEncoder      = hwaccel.EncoderSVT
)

var ffmpegVersions = []*regexp.Regexp{
	regexp.MustCompile(`ffmpeg version ([\d.]+)`),
	regexp.MustCompile(`ffmpeg version ([^\s]+)`),
}

// EncoderSource answers which encoders the local ffmpeg offers.
// *hwaccel.Detector implements it.
type EncoderSource interface {
	Ranked(ctx context.Context) []string
	BestHardware(ctx context.Context) (string, bool)
	HasEncoder(ctx context.Context, id string) bool
	HardwareAccelMethod(ctx context.Context) (string, bool)
}

// ThreadCounter sizes `-threads` when the configured count is 0.
type ThreadCounter interface {
	Threads(ctx context.Context) int
}

// FFmpegOptions configure the ffmpeg backend.
type FFmpegOptions struct {
	Binary               string
	Timeout              time.Duration
	Threads              int
	Encoder              string
	HardwareAcceleration bool
	HWAccelDevice        string
	DefaultCRF           int
	DefaultPreset        string
	AudioCodec           string
	PixelFormat          string
	ExtraArgs            []string
}

// FFmpeg translates builder state into a direct ffmpeg invocation.
type FFmpeg struct {
	tool
	opts     FFmpegOptions
	encoders EncoderSource
	threads  ThreadCounter
}

func NewFFmpeg(opts FFmpegOptions, runner process.Runner, temps *media.TempDirs, encoders EncoderSource, threads ThreadCounter, logger hclog.Logger) *FFmpeg {
	if opts.Binary == "" {
		opts.Binary = DefaultFFmpegBinary
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFFmpegTimeout
	}
	if opts.DefaultCRF <= 0 {
		opts.DefaultCRF = DefaultCRF
	}
	if opts.DefaultPreset == "" {
		opts.DefaultPreset = DefaultPreset
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &FFmpeg{
		tool:     newTool(opts.Binary, opts.Timeout, runner, temps, logger.Named("ffmpeg")),
		opts:     opts,
		encoders: encoders,
		threads:  threads,
	}
}

func (f *FFmpeg) Name() string { return "ffmpeg" }

// ffmpeg has no search of its own; the caller supplies the CRF.
func (f *FFmpeg) SupportsQualitySearch() bool { return true }

func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	return f.version(ctx, "-version", ffmpegVersions...)
}

func (f *FFmpeg) IsAvailable(ctx context.Context) bool {
	_, err := f.Version(ctx)
	return err == nil
}

// UseEncoder pins the encoder for later runs. It fails when ffmpeg does not
// list id.
func (f *FFmpeg) UseEncoder(ctx context.Context, id string) error {
	if f.encoders != nil && !f.encoders.HasEncoder(ctx, id) {
		return fmt.Errorf("%s: %w", id, ErrEncoderUnavailable)
	}
	f.opts.Encoder = id
	return nil
}

func (f *FFmpeg) Execute(ctx context.Context, b *command.Builder) (process.Result, error) {
	args, err := f.Args(ctx, b)
	if err != nil {
		return process.Result{}, err
	}
	return f.run(ctx, args)
}

// Args renders the ffmpeg arguments (without the binary) for b.
func (f *FFmpeg) Args(ctx context.Context, b *command.Builder) ([]string, error) {
	op := b.Operation()
	if op == command.CRFSearch {
		return nil, &UnsupportedOperationError{Backend: f.Name(), Operation: op}
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if op.IsQuality() {
		return f.qualityArgs(ctx, b), nil
	}
	return f.encodeArgs(ctx, b), nil
}

func (f *FFmpeg) encodeArgs(ctx context.Context, b *command.Builder) []string {
	var args []string

	// 1. Hardware decoding, when enabled and available.
	if f.opts.HardwareAcceleration && f.encoders != nil {
		if method, ok := f.encoders.HardwareAccelMethod(ctx); ok {
			args = append(args, "-hwaccel", method)
			if f.opts.HWAccelDevice != "" {
				args = append(args, "-hwaccel_device", f.opts.HWAccelDevice)
			}
		}
	}

	// 2. Input and codecs.
	encoder := f.SelectEncoder(ctx, b)
	args = append(args, "-i", b.Input(), "-c:v", encoder)
	audio := f.opts.AudioCodec
	if audio == "" {
		audio = DefaultAudioCodec
	}
	args = append(args, "-c:a", audio)

	// 3. Quality and speed, with flag names that depend on the encoder.
	qualityFlag, speedFlag := FlagsFor(encoder)
	crf := strconv.Itoa(f.opts.DefaultCRF)
	if v, ok := b.Option(command.KeyCRF); ok {
		crf = v.String()
	}
	args = append(args, qualityFlag, crf)
	preset := f.opts.DefaultPreset
	if v, ok := b.Option(command.KeyPreset); ok {
		preset = v.String()
	}
	args = append(args, speedFlag, preset)

	// 4. Optional tuning.
	pixFmt := f.opts.PixelFormat
	if v, ok := b.Option(command.KeyPixelFormat); ok {
		pixFmt = v.String()
	}
	if pixFmt != "" {
		args = append(args, "-pix_fmt", pixFmt)
	}
	if n := f.threadCount(ctx); n > 0 {
		args = append(args, "-threads", strconv.Itoa(n))
	}
	if v, ok := b.Option(command.KeyVideoFilter); ok && v.String() != "" {
		args = append(args, "-vf", v.String())
	}
	if b.Operation() == command.SampleEncode {
		if v, ok := b.Option(command.KeySample); ok {
			args = append(args, "-t", v.String())
		}
	}
	args = append(args, f.opts.ExtraArgs...)

	// 5. Overwrite and output.
	return append(args, "-y", b.Output())
}

// qualityArgs compares distorted against reference with the libvmaf or
// xpsnr filter; the first input is the distorted stream.
func (f *FFmpeg) qualityArgs(ctx context.Context, b *command.Builder) []string {
	filter := "xpsnr"
	if b.Operation() == command.VMAF {
		var params []string
		if v, ok := b.Option(command.KeyVMAFModel); ok && v.String() != "" {
			params = append(params, fmt.Sprintf("model='path=%s'", v.String()))
		}
		threads := 0
		if v, ok := b.Option(command.KeyVMAFThreads); ok {
			threads, _ = strconv.Atoi(v.String())
		} else {
			threads = f.threadCount(ctx)
		}
		if threads > 0 {
			params = append(params, "n_threads="+strconv.Itoa(threads))
		}
		filter = "libvmaf"
		if len(params) > 0 {
			filter += "=" + strings.Join(params, ":")
		}
	}
	return []string{
		"-hide_banner",
		"-i", b.Distorted(),
		"-i", b.Reference(),
		"-lavfi", filter,
		"-f", "null", "-",
	}
}

// SelectEncoder picks, in order: the builder's encoder option, the pinned
// encoder, the detector's best choice, then libsvtav1.
func (f *FFmpeg) SelectEncoder(ctx context.Context, b *command.Builder) string {
	if b != nil {
		if v, ok := b.Option(command.KeyEncoder); ok && v.String() != "" {
			return v.String()
		}
	}
	if f.opts.Encoder != "" {
		return f.opts.Encoder
	}
	if f.encoders != nil {
		if f.opts.HardwareAcceleration {
			if id, ok := f.encoders.BestHardware(ctx); ok {
				return id
			}
		}
		for _, id := range f.encoders.Ranked(ctx) {
			if f.opts.HardwareAcceleration || !hwaccel.IsHardware(id) {
				return id
			}
		}
	}
	return FallbackEncoder
}

func (f *FFmpeg) threadCount(ctx context.Context) int {
	if f.opts.Threads > 0 {
		return f.opts.Threads
	}
	if f.opts.Threads == 0 && f.threads != nil {
		return f.threads.Threads(ctx)
	}
	return 0
}

// FlagsFor returns the quality and speed flag names an encoder expects.
func FlagsFor(encoder string) (quality, speed string) {
	switch encoder {
	case hwaccel.EncoderQSV, hwaccel.EncoderNVENC:
		return "-q:v", "-preset"
	case hwaccel.EncoderAMF:
		return "-q:v", "-quality"
	case hwaccel.EncoderSVT:
		return "-crf", "-preset"
	case hwaccel.EncoderAOM:
		return "-crf", "-cpu-used"
	case hwaccel.EncoderRAV1E:
		return "-qp", "-speed"
	default:
		return "-crf", "-preset"
	}
}
