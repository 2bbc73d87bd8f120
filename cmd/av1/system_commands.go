package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"av1-worker/internal/config"
	"av1-worker/internal/media"
	"av1-worker/pkg/models"
)

func newDetectCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "List the AV1 encoders and hardware acceleration ffmpeg offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := ctx.encoderDetector().Info(cmd.Context())
			if asJSON {
				return writeJSON(cmd, info)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDetection(info))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func renderDetection(info models.DetectionInfo) string {
	if len(info.Encoders) == 0 {
		return "No AV1 encoders found"
	}
	rows := make([][]string, 0, len(info.Encoders))
	for _, enc := range info.Encoders {
		rows = append(rows, []string{strconv.Itoa(enc.Rank), enc.ID, enc.Label, yesNo(enc.Hardware)})
	}
	var b strings.Builder
	b.WriteString(renderTable([]string{"Rank", "Encoder", "Name", "Hardware"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft}))
	b.WriteString("\nBest: " + info.Best)
	if info.BestHardware != "" {
		b.WriteString("\nBest hardware: " + info.BestHardware)
	}
	if len(info.AccelMethods) > 0 {
		b.WriteString("\nAcceleration: " + strings.Join(info.AccelMethods, ", "))
	}
	return b.String()
}

// hostInfo is what `av1 info` reports.
type hostInfo struct {
	Backend   string               `json:"backend"`
	Binaries  map[string]string    `json:"binaries"`
	Versions  map[string]string    `json:"versions"`
	Host      models.HostSpecs     `json:"host"`
	Health    *models.SystemHealth `json:"health,omitempty"`
	Detection models.DetectionInfo `json:"detection"`
	TempRoot  string               `json:"temp_root"`
}

func newInfoCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show backend, binary versions, encoders and host resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := ctx.gatherInfo(cmd.Context())
			if asJSON {
				return writeJSON(cmd, info)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderInfo(info))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func (c *commandContext) gatherInfo(ctx context.Context) hostInfo {
	cfg := c.cfg()
	info := hostInfo{
		Backend: cfg.Backend,
		Binaries: map[string]string{
			config.BackendAbAV1:  cfg.Binaries.AbAV1,
			config.BackendFFmpeg: cfg.Binaries.FFmpeg,
		},
		Versions: map[string]string{},
		Host:     c.systemMonitor().Specs(ctx),
		TempRoot: c.tempDirs().Root(),
	}
	for name, v := range c.versions(ctx) {
		if v.err != nil {
			info.Versions[name] = "unavailable"
			continue
		}
		info.Versions[name] = v.version
	}
	if health, err := c.systemMonitor().Health(ctx); err == nil {
		info.Health = &health
	} else {
		c.log().Debug("failed to read host health", "error", err)
	}
	info.Detection = c.encoderDetector().Info(ctx)
	return info
}

func renderInfo(info hostInfo) string {
	rows := [][2]string{
		{"Backend", info.Backend},
		{"ab-av1", fmt.Sprintf("%s (%s)", info.Binaries[config.BackendAbAV1], info.Versions[config.BackendAbAV1])},
		{"ffmpeg", fmt.Sprintf("%s (%s)", info.Binaries[config.BackendFFmpeg], info.Versions[config.BackendFFmpeg])},
		{"CPU", info.Host.CPUModel},
		{"Cores / threads", fmt.Sprintf("%d / %d", info.Host.PhysicalCores, info.Host.TotalThreads)},
		{"Memory", humanize.IBytes(info.Host.TotalRAMBytes)},
		{"Temp root", info.TempRoot},
	}
	if info.Health != nil {
		rows = append(rows,
			[2]string{"CPU load", fmt.Sprintf("%.1f%%", info.Health.CPUPercent)},
			[2]string{"Memory free", humanize.IBytes(info.Health.RAMFreeBytes)},
			[2]string{"Busy", yesNo(info.Health.IsBusy)},
		)
	}
	return renderKeyValues(rows) + "\n" + renderDetection(info.Detection)
}

type versionResult struct {
	version string
	err     error
}

func (c *commandContext) versions(ctx context.Context) map[string]versionResult {
	out := map[string]versionResult{}
	v, err := c.abAV1().Version(ctx)
	out[config.BackendAbAV1] = versionResult{v, err}
	v, err = c.ffmpeg().Version(ctx)
	out[config.BackendFFmpeg] = versionResult{v, err}
	return out
}

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check binaries, temp storage and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			failed := 0
			line := func(label string, kind statusKind, message string) {
				if kind == statusError {
					failed++
				}
				fmt.Fprintln(out, renderStatusLine(label, kind, message, colorize))
			}

			cfg := ctx.cfg()
			for _, l := range renderSectionHeader("Binaries", colorize) {
				fmt.Fprintln(out, l)
			}
			versions := ctx.versions(cmd.Context())
			for _, name := range []string{config.BackendAbAV1, config.BackendFFmpeg} {
				binary := cfg.Binaries.AbAV1
				if name == config.BackendFFmpeg {
					binary = cfg.Binaries.FFmpeg
				}
				kind, message := checkBinary(binary, versions[name])
				// ab-av1 is optional with the ffmpeg backend; it only serves CRF searches.
				if kind == statusError && name == config.BackendAbAV1 && cfg.Backend == config.BackendFFmpeg {
					kind = statusWarn
				}
				line(name, kind, message)
			}
			if versions[config.BackendFFmpeg].err == nil {
				ranked := ctx.encoderDetector().Ranked(cmd.Context())
				if len(ranked) == 0 {
					line("AV1 encoders", statusError, "ffmpeg lists none")
				} else {
					line("AV1 encoders", statusOK, strings.Join(ranked, ", "))
				}
			}

			fmt.Fprintln(out)
			for _, l := range renderSectionHeader("Storage", colorize) {
				fmt.Fprintln(out, l)
			}
			if err := checkTempRoot(ctx.tempDirs()); err != nil {
				line("Temp root", statusError, err.Error())
			} else {
				line("Temp root", statusOK, ctx.tempDirs().Root())
			}
			names := make([]string, 0, len(cfg.Storage.Disks))
			for name := range cfg.Storage.Disks {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if _, err := media.NewDisk(name, cfg.Storage.Disks[name], ctx.log()); err != nil {
					line("Disk "+name, statusError, err.Error())
					continue
				}
				line("Disk "+name, statusOK, cfg.Storage.Disks[name].Driver)
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderKeyValues(configRows(cfg)))

			if failed > 0 {
				return fmt.Errorf("verification failed: %d problem(s)", failed)
			}
			return nil
		},
	}
}

func checkBinary(binary string, v versionResult) (statusKind, string) {
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return statusError, fmt.Sprintf("%s not found", binary)
	}
	if v.err != nil {
		return statusError, fmt.Sprintf("%s: %v", resolved, v.err)
	}
	return statusOK, fmt.Sprintf("%s %s", resolved, v.version)
}

// checkTempRoot creates, writes and removes a scratch directory.
func checkTempRoot(temps *media.TempDirs) error {
	dir, err := temps.Create()
	if err != nil {
		return err
	}
	probe := filepath.Join(dir, "probe")
	writeErr := os.WriteFile(probe, []byte("ok"), 0o600)
	if err := temps.Remove(dir); err != nil {
		return err
	}
	return writeErr
}

func configRows(cfg *config.Config) [][2]string {
	notify := cfg.Notify.URL
	if notify == "" {
		notify = "disabled"
	}
	defaultDisk := cfg.Storage.DefaultDisk
	if defaultDisk == "" {
		defaultDisk = "(input disk)"
	}
	return [][2]string{
		{"backend", cfg.Backend},
		{"log_level", cfg.LogLevel},
		{"ab_av1.preset", cfg.AbAV1.Preset},
		{"ab_av1.min_vmaf", strconv.FormatFloat(cfg.AbAV1.MinVMAF, 'f', -1, 64)},
		{"ab_av1.max_encoded_percent", strconv.Itoa(cfg.AbAV1.MaxEncodedPercent)},
		{"ab_av1.timeout", cfg.AbAV1Options().Timeout.String()},
		{"ffmpeg.encoder", orAuto(cfg.FFmpeg.Encoder)},
		{"ffmpeg.threads", threadsLabel(cfg.FFmpeg.Threads)},
		{"ffmpeg.default_crf", strconv.Itoa(cfg.FFmpeg.DefaultCRF)},
		{"ffmpeg.auto_crf", yesNo(cfg.FFmpeg.AutoCRF)},
		{"ffmpeg.hardware_acceleration", yesNo(cfg.FFmpeg.HardwareAcceleration)},
		{"ffmpeg.timeout", cfg.FFmpegOptions().Timeout.String()},
		{"detection.cache_ttl", cfg.CacheTTL().String()},
		{"storage.default_disk", defaultDisk},
		{"notify.url", notify},
	}
}

func orAuto(s string) string {
	if s == "" {
		return "auto"
	}
	return s
}

func threadsLabel(n int) string {
	switch {
	case n == 0:
		return "auto"
	case n < 0:
		return "encoder default"
	default:
		return strconv.Itoa(n)
	}
}

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale temporary directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return errors.New("--older-than must not be negative")
			}
			removed, err := ctx.tempDirs().Cleanup(olderThan)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, dir := range removed {
				fmt.Fprintln(out, dir)
			}
			fmt.Fprintf(out, "Removed %d stale temp dir(s) from %s\n", len(removed), ctx.tempDirs().Root())
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Only remove directories untouched for this long")
	return cmd
}
