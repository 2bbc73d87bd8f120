package main

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"av1-worker/internal/command"
	"av1-worker/internal/exporter"
	"av1-worker/internal/scheduler"
	"av1-worker/pkg/models"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	flags := &operationFlags{}
	var opName string
	var jobs int
	var outDir string
	var ext string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "batch <input>...",
		Short: "Encode many inputs, one session per input",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := command.ParseOperation(opName)
			if err != nil {
				return err
			}
			if !op.ProducesArtifact() {
				return fmt.Errorf("batch supports encode, auto-encode and sample-encode, not %s", op)
			}

			batch := make([]scheduler.Job, len(args))
			for i, input := range args {
				batch[i] = scheduler.Job{Input: input, Output: batchOutput(input, outDir, ext)}
			}

			if flags.dryRun {
				for _, job := range batch {
					p, err := ctx.prepare(cmd, op, flags, []string{job.Input}, job.Output)
					if err != nil {
						return err
					}
					line, err := p.commandLine(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			}

			ctx.warmUp()
			handler := func(runCtx context.Context, job scheduler.Job) (int, error) {
				return ctx.runBatchJob(runCtx, cmd, op, flags, job)
			}
			outcomes := scheduler.New(jobs, ctx.systemMonitor(), handler, ctx.log()).Run(cmd.Context(), batch)

			if asJSON {
				if err := writeJSON(cmd, outcomes); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), renderOutcomes(outcomes))
			}

			failed := 0
			for _, o := range outcomes {
				if !o.Succeeded() {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d jobs failed", failed, len(outcomes))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opName, "op", command.AutoEncode.String(), "Operation to run for each input")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 1, "Parallel sessions; 0 sizes from the CPU count")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Destination directory (default: next to each input)")
	cmd.Flags().StringVar(&ext, "ext", ".mp4", "Output container extension")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print outcomes as JSON")
	flags.register(cmd, command.AutoEncode, true)
	return cmd
}

func (c *commandContext) runBatchJob(ctx context.Context, cmd *cobra.Command, op command.Operation, f *operationFlags, job scheduler.Job) (int, error) {
	p, err := c.prepare(cmd, op, f, []string{job.Input}, job.Output)
	if err != nil {
		return -1, err
	}
	defer func() {
		if err := p.session.Cleanup(); err != nil {
			c.log().Warn("failed to clean up session", "input", job.Input, "error", err)
		}
	}()

	if _, err := c.export(ctx, p, f); err != nil {
		var failed *exporter.EncodingFailedError
		if errors.As(err, &failed) {
			return failed.ExitCode, err
		}
		return -1, err
	}
	return 0, nil
}

// batchOutput names the artifact for input. Without an output directory the
// file lands next to its input with an ".av1" infix.
func batchOutput(input, outDir, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	slashed := filepath.ToSlash(input)
	base := path.Base(slashed)
	stem := strings.TrimSuffix(base, path.Ext(base))
	if outDir == "" {
		return path.Join(path.Dir(slashed), stem+".av1"+ext)
	}
	return path.Join(filepath.ToSlash(outDir), stem+ext)
}

func renderOutcomes(outcomes []models.BatchOutcome) string {
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		status := "ok"
		if !o.Succeeded() {
			status = "failed"
		}
		rows = append(rows, []string{
			o.Input,
			o.Output,
			status,
			strconv.Itoa(o.ExitCode),
			o.Duration.Round(time.Second).String(),
			o.Error,
		})
	}
	return renderTable(
		[]string{"Input", "Output", "Status", "Exit", "Took", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}
