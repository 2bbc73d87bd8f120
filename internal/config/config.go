package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/viper"

	"av1-worker/internal/encoder"
	"av1-worker/internal/hwaccel"
	"av1-worker/internal/media"
	"av1-worker/internal/transcoder"
)

// Backend names accepted by the `backend` key.
const (
	BackendAbAV1  = "ab-av1"
	BackendFFmpeg = "ffmpeg"
)

// Config holds all the settings for the tool.
type Config struct {
	Backend      string          `mapstructure:"backend"`
	LogLevel     string          `mapstructure:"log_level"`
	LogJSON      bool            `mapstructure:"log_json"`
	HeartbeatSec int             `mapstructure:"heartbeat_seconds"`
	TempRoot     string          `mapstructure:"temporary_files_root"`
	OutputName   string          `mapstructure:"default_output_name"`
	Binaries     BinariesConfig  `mapstructure:"binaries"`
	AbAV1        AbAV1Config     `mapstructure:"ab_av1"`
	FFmpeg       FFmpegConfig    `mapstructure:"ffmpeg"`
	Detection    DetectionConfig `mapstructure:"detection"`
	Storage      StorageConfig   `mapstructure:"storage"`
	Notify       NotifyConfig    `mapstructure:"notify"`
}

type BinariesConfig struct {
	AbAV1  string `mapstructure:"ab_av1"`
	FFmpeg string `mapstructure:"ffmpeg"`
}

type AbAV1Config struct {
	TimeoutSec        int     `mapstructure:"timeout"`
	Preset            string  `mapstructure:"preset"`
	MinVMAF           float64 `mapstructure:"min_vmaf"`
	MaxEncodedPercent int     `mapstructure:"max_encoded_percent"`
}

type FFmpegConfig struct {
	TimeoutSec           int      `mapstructure:"timeout"`
	Threads              int      `mapstructure:"threads"`
	Encoder              string   `mapstructure:"encoder"`
	HardwareAcceleration bool     `mapstructure:"hardware_acceleration"`
	HWAccelPriority      []string `mapstructure:"hwaccel_priority"`
	HWAccelDevice        string   `mapstructure:"hwaccel_device"`
	EncoderPriority      []string `mapstructure:"encoder_priority"`
	DefaultCRF           int      `mapstructure:"default_crf"`
	DefaultPreset        string   `mapstructure:"default_preset"`
	MinCRF               int      `mapstructure:"min_crf"`
	MaxCRF               int      `mapstructure:"max_crf"`
	AudioCodec           string   `mapstructure:"audio_codec"`
	PixelFormat          string   `mapstructure:"pixel_format"`
	ExtraArgs            []string `mapstructure:"extra_args"`
	AutoCRF              bool     `mapstructure:"auto_crf"`
}

type DetectionConfig struct {
	CacheTTLSec     int `mapstructure:"cache_ttl"`
	ProbeTimeoutSec int `mapstructure:"probe_timeout"`
}

type StorageConfig struct {
	DefaultDisk string                    `mapstructure:"default_disk"`
	Disks       map[string]media.DiskSpec `mapstructure:"disks"`
}

type NotifyConfig struct {
	URL      string            `mapstructure:"url"`
	RetryMax int               `mapstructure:"retry_max"`
	Headers  map[string]string `mapstructure:"headers"`
}

// LoadConfig initializes Viper and merges all config sources: defaults, the
// YAML file at path (optional) and AV1_* environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Set Defaults
	setDefaults(v)

	// 2. Read from File
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// 3. Environment, e.g. AV1_FFMPEG_THREADS=8
	v.SetEnvPrefix("AV1")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendAbAV1)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("heartbeat_seconds", 30)
	v.SetDefault("temporary_files_root", "")
	v.SetDefault("default_output_name", "output.mp4")

	v.SetDefault("binaries.ab_av1", transcoder.DefaultAbAV1Binary)
	v.SetDefault("binaries.ffmpeg", transcoder.DefaultFFmpegBinary)

	v.SetDefault("ab_av1.timeout", 14400)
	v.SetDefault("ab_av1.preset", "6")
	v.SetDefault("ab_av1.min_vmaf", 80)
	v.SetDefault("ab_av1.max_encoded_percent", 300)

	v.SetDefault("ffmpeg.timeout", 7200)
	v.SetDefault("ffmpeg.threads", 0)
	v.SetDefault("ffmpeg.encoder", "")
	v.SetDefault("ffmpeg.hardware_acceleration", true)
	v.SetDefault("ffmpeg.hwaccel_priority", hwaccel.DefaultMethodPriority)
	v.SetDefault("ffmpeg.hwaccel_device", "")
	v.SetDefault("ffmpeg.encoder_priority", hwaccel.DefaultEncoderPriority)
	v.SetDefault("ffmpeg.default_crf", transcoder.DefaultCRF)
	v.SetDefault("ffmpeg.default_preset", transcoder.DefaultPreset)
	v.SetDefault("ffmpeg.min_crf", transcoder.DefaultMinCRF)
	v.SetDefault("ffmpeg.max_crf", transcoder.DefaultMaxCRF)
	v.SetDefault("ffmpeg.audio_codec", transcoder.DefaultAudioCodec)
	v.SetDefault("ffmpeg.pixel_format", "yuv420p")
	v.SetDefault("ffmpeg.extra_args", []string{})
	v.SetDefault("ffmpeg.auto_crf", false)

	v.SetDefault("detection.cache_ttl", 3600)
	v.SetDefault("detection.probe_timeout", 10)

	v.SetDefault("storage.default_disk", "")

	v.SetDefault("notify.url", "")
	v.SetDefault("notify.retry_max", 3)
}

// Validate checks ranges and identifiers.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendAbAV1, BackendFFmpeg:
	default:
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendAbAV1, BackendFFmpeg, c.Backend))
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	if c.FFmpeg.DefaultCRF < 0 || c.FFmpeg.DefaultCRF > 63 {
		errs = append(errs, fmt.Errorf("ffmpeg.default_crf must be within 0-63, got %d", c.FFmpeg.DefaultCRF))
	}
	if c.FFmpeg.MinCRF > c.FFmpeg.MaxCRF {
		errs = append(errs, fmt.Errorf("ffmpeg.min_crf %d exceeds max_crf %d", c.FFmpeg.MinCRF, c.FFmpeg.MaxCRF))
	}
	if c.AbAV1.MinVMAF < 0 || c.AbAV1.MinVMAF > 100 {
		errs = append(errs, fmt.Errorf("ab_av1.min_vmaf must be within 0-100, got %g", c.AbAV1.MinVMAF))
	}
	if c.AbAV1.TimeoutSec < 0 || c.FFmpeg.TimeoutSec < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	for _, id := range c.FFmpeg.EncoderPriority {
		if !hwaccel.IsKnown(id) {
			errs = append(errs, fmt.Errorf("ffmpeg.encoder_priority: unknown encoder %q", id))
		}
	}
	for _, m := range c.FFmpeg.HWAccelPriority {
		if !hwaccel.IsKnownMethod(m) {
			errs = append(errs, fmt.Errorf("ffmpeg.hwaccel_priority: unknown method %q", m))
		}
	}
	if c.Storage.DefaultDisk != "" {
		if _, ok := c.Storage.Disks[c.Storage.DefaultDisk]; !ok {
			errs = append(errs, fmt.Errorf("storage.default_disk %q is not configured", c.Storage.DefaultDisk))
		}
	}
	return errors.Join(errs...)
}

// EncoderConfig derives the orchestrator defaults.
func (c *Config) EncoderConfig() encoder.Config {
	return encoder.Config{
		DefaultOutputName:   c.OutputName,
		DefaultQualityLevel: c.FFmpeg.DefaultCRF,
		DefaultPreset:       c.FFmpeg.DefaultPreset,
		DefaultMinVMAF:      c.AbAV1.MinVMAF,
		MinCRF:              c.FFmpeg.MinCRF,
		MaxCRF:              c.FFmpeg.MaxCRF,
		AutoCRF:             c.FFmpeg.AutoCRF,
	}
}

func (c *Config) AbAV1Options() transcoder.AbAV1Options {
	return transcoder.AbAV1Options{
		Binary:  c.Binaries.AbAV1,
		Timeout: seconds(c.AbAV1.TimeoutSec),
	}
}

func (c *Config) FFmpegOptions() transcoder.FFmpegOptions {
	return transcoder.FFmpegOptions{
		Binary:               c.Binaries.FFmpeg,
		Timeout:              seconds(c.FFmpeg.TimeoutSec),
		Threads:              c.FFmpeg.Threads,
		Encoder:              c.FFmpeg.Encoder,
		HardwareAcceleration: c.FFmpeg.HardwareAcceleration,
		HWAccelDevice:        c.FFmpeg.HWAccelDevice,
		DefaultCRF:           c.FFmpeg.DefaultCRF,
		DefaultPreset:        c.FFmpeg.DefaultPreset,
		AudioCodec:           c.FFmpeg.AudioCodec,
		PixelFormat:          c.FFmpeg.PixelFormat,
		ExtraArgs:            c.FFmpeg.ExtraArgs,
	}
}

func (c *Config) DetectorOptions() hwaccel.Options {
	return hwaccel.Options{
		FFmpeg:          c.Binaries.FFmpeg,
		EncoderPriority: c.FFmpeg.EncoderPriority,
		MethodPriority:  c.FFmpeg.HWAccelPriority,
		ProbeTimeout:    seconds(c.Detection.ProbeTimeoutSec),
	}
}

func (c *Config) CacheTTL() time.Duration  { return seconds(c.Detection.CacheTTLSec) }
func (c *Config) Heartbeat() time.Duration { return seconds(c.HeartbeatSec) }

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
