package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"av1-worker/internal/command"
	"av1-worker/internal/config"
	"av1-worker/internal/encoder"
	"av1-worker/internal/exporter"
	"av1-worker/internal/media"
	"av1-worker/internal/transcoder"
)

// failureTailLines bounds how much child stderr is echoed on failure.
const failureTailLines = 20

func newOperationCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newOperationCommand(ctx, command.Encode, "encode <input>", "Encode at a fixed CRF"),
		newOperationCommand(ctx, command.AutoEncode, "auto-encode <input>", "Search a CRF meeting --min-vmaf, then encode"),
		newOperationCommand(ctx, command.CRFSearch, "crf-search <input>", "Find the CRF meeting --min-vmaf without a full encode"),
		newOperationCommand(ctx, command.SampleEncode, "sample-encode <input>", "Encode a short sample at a fixed CRF"),
		newOperationCommand(ctx, command.VMAF, "vmaf <reference> <distorted>", "Score a distorted file against its reference with VMAF"),
		newOperationCommand(ctx, command.XPSNR, "xpsnr <reference> <distorted>", "Score a distorted file against its reference with XPSNR"),
	}
}

func newOperationCommand(ctx *commandContext, op command.Operation, use, short string) *cobra.Command {
	flags := &operationFlags{}
	nargs := 1
	if op.IsQuality() {
		nargs = 2
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runOperation(cmd, op, flags, args)
		},
	}
	if op.IsQuality() {
		cmd.Aliases = []string{"quality-" + op.String()}
	}
	flags.register(cmd, op, false)
	return cmd
}

// operationFlags carries every builder-facing flag. Only flags the user set
// reach the builder.
type operationFlags struct {
	output            string
	preset            string
	crf               int
	minVMAF           float64
	minCRF            int
	maxCRF            int
	sample            int
	encoder           string
	pixFmt            string
	fullVMAF          bool
	verbose           bool
	maxEncodedPercent int
	vmafModel         string
	vmafThreads       int
	vfilter           string
	set               []string

	disk       string
	toDisk     string
	visibility string
	dryRun     bool
}

func (f *operationFlags) register(cmd *cobra.Command, op command.Operation, batch bool) {
	fs := cmd.Flags()
	fs.StringVar(&f.disk, "disk", "", "Configured disk the inputs are read from (default: local filesystem)")
	fs.BoolVar(&f.verbose, "verbose", false, "Pass --verbose to the encoder")
	fs.StringArrayVar(&f.set, "set", nil, "Extra option as key=value (repeatable)")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Print the command instead of running it")

	if op.IsQuality() {
		fs.BoolVar(&f.fullVMAF, "full-vmaf", false, "Score every frame")
		if op == command.VMAF {
			fs.StringVar(&f.vmafModel, "vmaf-model", "", "VMAF model path")
			fs.IntVar(&f.vmafThreads, "vmaf-threads", 0, "VMAF worker threads")
		}
		return
	}

	if !batch {
		fs.StringVarP(&f.output, "output", "o", "", "Output path on the destination disk (default: default_output_name)")
	}
	fs.StringVar(&f.preset, "preset", "", "Encoder preset (default from config)")
	fs.StringVar(&f.toDisk, "to-disk", "", "Configured disk to export to (default: storage.default_disk, then the input disk)")
	fs.StringVar(&f.visibility, "visibility", "", "Exported file visibility: public or private")
	fs.StringVar(&f.encoder, "encoder", "", "Encoder id, e.g. libsvtav1")
	fs.StringVar(&f.pixFmt, "pix-fmt", "", "Output pixel format")
	fs.StringVar(&f.vfilter, "vfilter", "", "Video filter chain")
	fs.IntVar(&f.crf, "crf", 0, "Constant rate factor")
	fs.Float64Var(&f.minVMAF, "min-vmaf", 0, "Quality target for automatic CRF selection")
	fs.IntVar(&f.minCRF, "min-crf", 0, "Lowest CRF the search may pick")
	fs.IntVar(&f.maxCRF, "max-crf", 0, "Highest CRF the search may pick")
	fs.IntVar(&f.maxEncodedPercent, "max-encoded-percent", 0, "Abort the search above this size ratio (default from config)")
	fs.BoolVar(&f.fullVMAF, "full-vmaf", false, "Score every frame during the search")
	if op == command.SampleEncode || batch {
		fs.IntVar(&f.sample, "sample", 0, "Sample length in seconds")
	}
}

// apply copies the set flags onto b and fills config defaults.
func (f *operationFlags) apply(cmd *cobra.Command, b *command.Builder, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	op := b.Operation()
	searches := op == command.AutoEncode || op == command.CRFSearch

	switch {
	case changed("preset"):
		b.Preset(f.preset)
	case !op.IsQuality():
		b.Preset(defaultPreset(cfg))
	}
	if changed("crf") {
		b.CRF(f.crf)
	}
	switch {
	case changed("min-vmaf"):
		b.MinVMAF(f.minVMAF)
	case searches:
		b.MinVMAF(cfg.AbAV1.MinVMAF)
	}
	if changed("min-crf") {
		b.MinCRF(f.minCRF)
	}
	if changed("max-crf") {
		b.MaxCRF(f.maxCRF)
	}
	switch {
	case changed("max-encoded-percent"):
		b.MaxEncodedPercent(f.maxEncodedPercent)
	case searches && cfg.AbAV1.MaxEncodedPercent > 0:
		b.MaxEncodedPercent(cfg.AbAV1.MaxEncodedPercent)
	}
	if changed("sample") {
		b.Sample(f.sample)
	}
	if changed("encoder") {
		b.Encoder(f.encoder)
	}
	if changed("pix-fmt") {
		b.PixelFormat(f.pixFmt)
	}
	if changed("vfilter") {
		b.VideoFilter(f.vfilter)
	}
	if changed("full-vmaf") {
		b.FullVMAF(f.fullVMAF)
	}
	if changed("verbose") {
		b.Verbose(f.verbose)
	}
	if changed("vmaf-model") {
		b.VMAFModel(f.vmafModel)
	}
	if changed("vmaf-threads") {
		b.VMAFThreads(f.vmafThreads)
	}

	for _, kv := range f.set {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimLeft(strings.TrimSpace(key), "-")
		if !ok || key == "" {
			return fmt.Errorf("--set expects key=value, got %q", kv)
		}
		b.SetOption(key, optionValue(value))
	}
	return nil
}

func defaultPreset(cfg *config.Config) string {
	if cfg.Backend == config.BackendFFmpeg {
		return cfg.FFmpeg.DefaultPreset
	}
	return cfg.AbAV1.Preset
}

// optionValue turns "true"/"false" into switches; everything else is text.
func optionValue(s string) any {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// prepared is a session ready to run together with its export target.
type prepared struct {
	op       command.Operation
	session  *encoder.Session
	source   string
	dest     media.Disk
	destPath string
}

// prepare opens args as the session media and shapes the builder for op.
func (c *commandContext) prepare(cmd *cobra.Command, op command.Operation, f *operationFlags, args []string, output string) (*prepared, error) {
	cfg := c.cfg()

	// 1. Sources
	src, err := c.disk(f.disk)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(args))
	items := make([]*media.Media, len(args))
	for i, arg := range args {
		p, err := diskPath(src, arg)
		if err != nil {
			return nil, err
		}
		paths[i] = p
		items[i] = media.NewMedia(src, p, c.tempDirs())
	}

	// 2. Session
	session := c.newSession()
	if op == command.CRFSearch {
		session.UseBackend(c.abAV1())
	}
	if err := session.Open(media.NewCollection(items...)); err != nil {
		return nil, err
	}
	if err := session.SetOperation(op); err != nil {
		return nil, err
	}
	p := &prepared{op: op, session: session, source: paths[0]}
	b := session.Builder()

	// 3. Paths
	if op.IsQuality() {
		b.SetReference(paths[0]).SetDistorted(paths[1])
	} else {
		b.SetInput(paths[0])
		dest, err := c.destination(f.toDisk, src)
		if err != nil {
			return nil, err
		}
		if output == "" {
			output = cfg.OutputName
		}
		destPath, err := diskPath(dest, output)
		if err != nil {
			return nil, err
		}
		b.SetOutput(destPath)
		p.dest, p.destPath = dest, destPath
	}

	// 4. Options
	if err := f.apply(cmd, b, cfg); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *commandContext) destination(name string, fallback media.Disk) (media.Disk, error) {
	if name == "" {
		name = c.cfg().Storage.DefaultDisk
	}
	if name == "" {
		return fallback, nil
	}
	return c.disk(name)
}

// commandLine renders what running p would execute.
func (p *prepared) commandLine(ctx context.Context) (string, error) {
	return transcoder.CommandLine(ctx, p.session.Backend(), p.session.Builder())
}

// export runs p and saves its artifact, notifying the webhook either way.
func (c *commandContext) export(ctx context.Context, p *prepared, f *operationFlags) (*exporter.Exported, error) {
	visibility, err := media.ParseVisibility(f.visibility)
	if err != nil {
		return nil, err
	}
	notifier := c.notifier()

	exported, err := exporter.New(p.session, c.log()).
		ToDisk(p.dest).
		ToPath(p.destPath).
		WithVisibility(visibility).
		AfterSaving(notifier.Callback(p.source)).
		Save(ctx, "")
	if err != nil {
		code := -1
		var failed *exporter.EncodingFailedError
		if errors.As(err, &failed) {
			code = failed.ExitCode
		}
		notifier.Failure(ctx, p.op.String(), p.source, code, err)
		return nil, err
	}
	return exported, nil
}

func (c *commandContext) runOperation(cmd *cobra.Command, op command.Operation, f *operationFlags, args []string) error {
	p, err := c.prepare(cmd, op, f, args, f.output)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.session.Cleanup(); err != nil {
			c.log().Warn("failed to clean up session", "error", err)
		}
	}()

	out := cmd.OutOrStdout()
	if f.dryRun {
		line, err := p.commandLine(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(out, line)
		return nil
	}

	if op.ProducesArtifact() {
		exported, err := c.export(cmd.Context(), p, f)
		if err != nil {
			return reportFailure(cmd, err)
		}
		fmt.Fprintf(out, "Saved %s:%s (%s)\n", exported.Disk.Name(), exported.Path, humanize.Bytes(uint64(exported.Size)))
		if crf, ok := exported.Result.CRF(); ok {
			fmt.Fprintf(out, "CRF: %d (selected automatically)\n", crf)
		}
		fmt.Fprintf(out, "Took %s\n", exported.Result.Duration().Round(time.Second))
		return nil
	}

	res, err := p.session.Run(cmd.Context())
	if err != nil {
		return err
	}
	printReport(cmd, op, res)
	return exitWith(res.ExitCode())
}

// printReport echoes a search or metric run and the value parsed from it.
func printReport(cmd *cobra.Command, op command.Operation, res *encoder.Result) {
	out := cmd.OutOrStdout()
	if s := strings.TrimSpace(res.Output()); s != "" {
		fmt.Fprintln(out, s)
	}
	if !res.Successful() {
		if tail := lastLines(res.ErrorOutput(), failureTailLines); tail != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), tail)
		}
		return
	}

	switch op {
	case command.CRFSearch:
		crf, ok := transcoder.ParseCRF(res.Output())
		if !ok {
			crf, ok = transcoder.ParseCRF(res.ErrorOutput())
		}
		if ok {
			fmt.Fprintf(out, "CRF: %d\n", crf)
		}
	case command.VMAF:
		score, ok := transcoder.ParseVMAF(res.Output())
		if !ok {
			score, ok = transcoder.ParseVMAF(res.ErrorOutput())
		}
		if ok {
			fmt.Fprintf(out, "VMAF: %.2f\n", score)
		}
	case command.XPSNR:
		// ffmpeg reports XPSNR on stderr.
		if strings.TrimSpace(res.Output()) == "" {
			if tail := lastLines(res.ErrorOutput(), 3); tail != "" {
				fmt.Fprintln(out, tail)
			}
		}
	}
}

// reportFailure turns a failed encode into its exit code after echoing the
// end of the encoder's stderr.
func reportFailure(cmd *cobra.Command, err error) error {
	var failed *exporter.EncodingFailedError
	if !errors.As(err, &failed) {
		return err
	}
	errOut := cmd.ErrOrStderr()
	fmt.Fprintf(errOut, "encoding failed with exit code %d\n", failed.ExitCode)
	if tail := lastLines(failed.ErrorOutput, failureTailLines); tail != "" {
		fmt.Fprintln(errOut, tail)
	}
	return exitWith(failed.ExitCode)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
