package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"av1-worker/internal/config"
	"av1-worker/internal/encoder"
	"av1-worker/internal/hwaccel"
	"av1-worker/internal/logging"
	"av1-worker/internal/media"
	"av1-worker/internal/monitor"
	"av1-worker/internal/notify"
	"av1-worker/internal/process"
	"av1-worker/internal/transcoder"
)

// localDiskName names the implicit disk for plain filesystem paths.
const localDiskName = "local"

type commandContext struct {
	configFlag  *string
	logLevel    *string
	logJSON     *bool
	backendFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	logOnce sync.Once
	logger  hclog.Logger
	logOut  io.Writer

	temps    *media.TempDirs
	runner   process.Runner
	monitor  *monitor.SystemMonitor
	detector *hwaccel.Detector
}

func newCommandContext(configFlag, logLevel *string, logJSON *bool, backendFlag *string) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		logLevel:    logLevel,
		logJSON:     logJSON,
		backendFlag: backendFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevel != nil && *c.logLevel != "" {
			cfg.LogLevel = *c.logLevel
		}
		if c.logJSON != nil && *c.logJSON {
			cfg.LogJSON = true
		}
		if c.backendFlag != nil && *c.backendFlag != "" {
			cfg.Backend = *c.backendFlag
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = fmt.Errorf("invalid configuration: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// cfg returns the loaded config. PersistentPreRunE guarantees it is set.
func (c *commandContext) cfg() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) bindOutput(cmd *cobra.Command) {
	c.logOut = cmd.ErrOrStderr()
}

func (c *commandContext) log() hclog.Logger {
	c.logOnce.Do(func() {
		opts := logging.Options{Output: c.logOut}
		if cfg := c.cfg(); cfg != nil {
			opts.Level = cfg.LogLevel
			opts.JSON = cfg.LogJSON
		}
		c.logger = logging.New(opts)
	})
	return c.logger
}

func (c *commandContext) tempDirs() *media.TempDirs {
	if c.temps == nil {
		c.temps = media.NewTempDirs(c.cfg().TempRoot, c.log())
	}
	return c.temps
}

func (c *commandContext) processRunner() process.Runner {
	if c.runner == nil {
		c.runner = process.NewExecRunner(c.log(), c.cfg().Heartbeat())
	}
	return c.runner
}

func (c *commandContext) systemMonitor() *monitor.SystemMonitor {
	if c.monitor == nil {
		c.monitor = monitor.NewSystemMonitor()
	}
	return c.monitor
}

func (c *commandContext) encoderDetector() *hwaccel.Detector {
	if c.detector == nil {
		cfg := c.cfg()
		c.detector = hwaccel.NewDetector(cfg.DetectorOptions(), c.processRunner(), hwaccel.NewCache(cfg.CacheTTL()), c.log())
	}
	return c.detector
}

// warmUp builds the shared dependencies up front so concurrent sessions
// only read them.
func (c *commandContext) warmUp() {
	c.log()
	c.tempDirs()
	c.processRunner()
	c.systemMonitor()
	c.encoderDetector()
}

func (c *commandContext) abAV1() *transcoder.AbAV1 {
	return transcoder.NewAbAV1(c.cfg().AbAV1Options(), c.processRunner(), c.tempDirs(), c.log())
}

func (c *commandContext) ffmpeg() *transcoder.FFmpeg {
	return transcoder.NewFFmpeg(c.cfg().FFmpegOptions(), c.processRunner(), c.tempDirs(),
		c.encoderDetector(), c.systemMonitor(), c.log())
}

// backend builds the configured backend. Each call returns a fresh instance.
func (c *commandContext) backend() transcoder.Backend {
	if c.cfg().Backend == config.BackendFFmpeg {
		return c.ffmpeg()
	}
	return c.abAV1()
}

// newSession creates a session on the configured backend. ab-av1 always
// serves as the CRF searcher.
func (c *commandContext) newSession() *encoder.Session {
	return encoder.New(c.cfg().EncoderConfig(), c.backend(), c.abAV1(), c.tempDirs(), c.log())
}

// disk resolves a configured disk by name. An empty name, or "local", is the
// local filesystem addressed by absolute path.
func (c *commandContext) disk(name string) (media.Disk, error) {
	if name == "" || name == localDiskName {
		return media.NewLocalDisk(localDiskName, string(filepath.Separator)), nil
	}
	spec, ok := c.cfg().Storage.Disks[name]
	if !ok {
		return nil, fmt.Errorf("disk %q is not configured", name)
	}
	return media.NewDisk(name, spec, c.log())
}

// diskPath maps a user supplied path onto disk. Plain filesystem paths
// become absolute.
func diskPath(disk media.Disk, p string) (string, error) {
	if disk.Name() != localDiskName {
		return p, nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	return filepath.ToSlash(abs), nil
}

func (c *commandContext) notifier() *notify.Notifier {
	n := c.cfg().Notify
	return notify.New(notify.Options{URL: n.URL, RetryMax: n.RetryMax, Headers: n.Headers}, c.log())
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
