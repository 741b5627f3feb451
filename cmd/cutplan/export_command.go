package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/cutplan/internal/export"
	"github.com/heimdex/cutplan/internal/timeline"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var flags passFlags
	var format, outputDir, title, mediaPath string
	var frameRate float64

	cmd := &cobra.Command{
		Use:   "export <segments.json>",
		Short: "Write the resolved edit as an EDL or JSON payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := cliLogger(cfg)

			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			dir := filepath.Clean(outputDir)
			if err := export.ValidateOutputDir(dir); err != nil {
				return err
			}

			plan, err := evaluatePass(cfg, args[0], flags, logger)
			if err != nil {
				return err
			}
			if !plan.Exportable() {
				return &timeline.IntegrityError{Detail: strings.Join(plan.Warnings, "; ")}
			}

			if title == "" {
				title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			payload, err := export.BuildPayload(export.PlanInput{
				Title:            title,
				MediaPath:        mediaPath,
				FrameRate:        frameRate,
				OriginalDuration: plan.Summary.OriginalDuration,
				Primary:          plan.Primary,
			}, time.Now())
			if err != nil {
				return err
			}

			path, err := export.WriteFile(payload, f, dir)
			if err != nil {
				return err
			}
			logger.Info("plan exported", "format", string(f), "removals", len(payload.RemovalSpans), "output", path)

			if !isTerminal(cmd.OutOrStdout()) {
				return writeJSON(cmd, export.Response{
					Status:       "ok",
					Format:       f,
					OutputPath:   path,
					RemovalCount: len(payload.RemovalSpans),
					KeepCount:    len(payload.KeepSpans),
					FinalSeconds: payload.Summary.FinalDuration,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d removals, %d keeps)\n",
				path, len(payload.RemovalSpans), len(payload.KeepSpans))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", string(export.FormatEDL), "Export format: edl or json")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", ".", "Existing directory to write into")
	cmd.Flags().StringVar(&title, "title", "", "Export title (defaults to the segments file name)")
	cmd.Flags().StringVar(&mediaPath, "media", "", "Source media path recorded in the export")
	cmd.Flags().Float64Var(&frameRate, "frame-rate", export.DefaultFrameRate, "EDL frame rate")
	return cmd
}
