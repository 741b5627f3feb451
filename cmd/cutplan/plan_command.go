package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/heimdex/cutplan/internal/config"
	"github.com/heimdex/cutplan/internal/logging"
	"github.com/heimdex/cutplan/internal/segment"
	"github.com/heimdex/cutplan/internal/session"
)

// passFlags are shared by the commands that evaluate a segments file.
type passFlags struct {
	duration string
}

func (f *passFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.duration, "duration", "d", "", "Source duration in seconds or HH:MM:SS")
	_ = cmd.MarkFlagRequired("duration")
}

// evaluatePass reads a segments file and runs the engine over it.
func evaluatePass(cfg *config.EnvConfig, path string, flags passFlags, logger *slog.Logger) (*session.Plan, error) {
	duration, err := segment.ParseTimecode(flags.duration)
	if err != nil {
		return nil, fmt.Errorf("invalid --duration: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segments: %w", err)
	}
	defer file.Close()

	segs, err := segment.Decode(file, logger)
	if err != nil {
		return nil, err
	}

	opts := session.Options{
		Cluster: cfg.ClusterOptions(),
		Skip:    cfg.SkipOptions(),
		Filter:  cfg.DefaultFilter(),
	}
	plan, _, _ := session.Evaluate(segs, duration, opts, logger)
	return plan, nil
}

// cliLogger writes to stderr so stdout stays machine-readable.
func cliLogger(cfg *config.EnvConfig) *slog.Logger {
	return logging.WithComponent(logging.NewLoggerTo(os.Stderr, cfg.LogLevel()), "cli")
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var flags passFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "plan <segments.json>",
		Short: "Resolve a segments file into removal spans and a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			plan, err := evaluatePass(cfg, args[0], flags, cliLogger(cfg))
			if err != nil {
				return err
			}

			if asJSON || !isTerminal(cmd.OutOrStdout()) {
				return writeJSON(cmd, plan)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderPlan(plan))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Write JSON even on a terminal")
	return cmd
}

func renderPlan(plan *session.Plan) string {
	rows := make([][]string, 0, len(plan.Primary))
	for i, s := range plan.Primary {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			segment.FormatClock(s.Start),
			segment.FormatClock(s.End),
			fmt.Sprintf("%.2fs", s.Duration()),
			s.ReasonCategory.String(),
			s.Tier.Label(),
			s.OriginSegmentID,
		})
	}

	var b strings.Builder
	b.WriteString(renderTable(
		[]string{"#", "Start", "End", "Length", "Reason", "Source", "Segment"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
	))

	sum := plan.Summary
	fmt.Fprintf(&b, "\nOriginal %s  Removed %s  Final %s  (%.1f%% shorter)",
		segment.FormatClock(sum.OriginalDuration),
		segment.FormatClock(sum.TotalRemoved),
		segment.FormatClock(sum.FinalDuration),
		sum.ReductionPercentage)
	if len(plan.Suppressed) > 0 {
		fmt.Fprintf(&b, "\n%d overlapping suggestion(s) suppressed", len(plan.Suppressed))
	}
	for _, w := range plan.Warnings {
		fmt.Fprintf(&b, "\nwarning: %s", w)
	}
	return b.String()
}
