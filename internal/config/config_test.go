package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"av1-worker/internal/hwaccel"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendAbAV1, cfg.Backend)
	assert.Equal(t, "/usr/local/bin/ab-av1", cfg.Binaries.AbAV1)
	assert.Equal(t, 4*time.Hour, cfg.AbAV1Options().Timeout)
	assert.Equal(t, 2*time.Hour, cfg.FFmpegOptions().Timeout)
	assert.Equal(t, 30, cfg.FFmpeg.DefaultCRF)
	assert.Equal(t, "libopus", cfg.FFmpeg.AudioCodec)
	assert.Equal(t, hwaccel.DefaultEncoderPriority, cfg.FFmpeg.EncoderPriority)
	assert.Equal(t, time.Hour, cfg.CacheTTL())
	assert.Equal(t, 80.0, cfg.AbAV1.MinVMAF)

	enc := cfg.EncoderConfig()
	assert.Equal(t, "output.mp4", enc.DefaultOutputName)
	assert.Equal(t, 30, enc.DefaultQualityLevel)
	assert.Equal(t, 20, enc.MinCRF)
	assert.Equal(t, 45, enc.MaxCRF)
	assert.False(t, enc.AutoCRF)
}

func TestLoadConfigFile(t *testing.T) {
	p := writeConfig(t, `
backend: ffmpeg
log_level: debug
ffmpeg:
  threads: 12
  default_crf: 28
  auto_crf: true
  encoder_priority: [libsvtav1, av1_nvenc]
storage:
  default_disk: archive
  disks:
    archive:
      driver: local
      root: /srv/archive
    cdn:
      driver: http
      url: https://objects.example.com/bucket
      retry_max: 5
      headers:
        Authorization: Bearer abc
`)
	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendFFmpeg, cfg.Backend)
	assert.Equal(t, 12, cfg.FFmpegOptions().Threads)
	assert.Equal(t, []string{"libsvtav1", "av1_nvenc"}, cfg.DetectorOptions().EncoderPriority)
	assert.True(t, cfg.EncoderConfig().AutoCRF)
	assert.Equal(t, 28, cfg.EncoderConfig().DefaultQualityLevel)

	require.Contains(t, cfg.Storage.Disks, "cdn")
	assert.Equal(t, "http", cfg.Storage.Disks["cdn"].Driver)
	assert.Equal(t, 5, cfg.Storage.Disks["cdn"].RetryMax)
	assert.Equal(t, "/srv/archive", cfg.Storage.Disks["archive"].Root)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("AV1_FFMPEG_THREADS", "3")
	t.Setenv("AV1_BINARIES_FFMPEG", "/opt/ffmpeg")
	t.Setenv("AV1_FFMPEG_ENCODER_PRIORITY", "librav1e,libaom-av1")

	cfg, err := LoadConfig(writeConfig(t, "ffmpeg:\n  threads: 8\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.FFmpeg.Threads)
	assert.Equal(t, "/opt/ffmpeg", cfg.DetectorOptions().FFmpeg)
	assert.Equal(t, []string{"librav1e", "libaom-av1"}, cfg.FFmpeg.EncoderPriority)
}

func TestLoadConfigRejectsBrokenYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "ffmpeg: [unterminated"))
	assert.Error(t, err)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.Backend = "handbrake"
	cfg.LogLevel = "loud"
	cfg.FFmpeg.DefaultCRF = 70
	cfg.AbAV1.MinVMAF = 120
	cfg.FFmpeg.EncoderPriority = []string{"libx264"}
	cfg.FFmpeg.HWAccelPriority = []string{"magic"}
	cfg.Storage.DefaultDisk = "nowhere"

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"handbrake", "loud", "default_crf", "min_vmaf", "libx264", "magic", "nowhere"} {
		assert.Contains(t, err.Error(), want)
	}
}
