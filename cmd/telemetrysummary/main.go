// Command telemetrysummary prints, per abr+cc configuration, how much raw
// telemetry a window holds. Useful for checking a settings file or a replay
// dump before plotting.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/DengYong4088/puffer/src/analysis"
	"github.com/DengYong4088/puffer/src/expconfig"
	"github.com/DengYong4088/puffer/src/monitor"
	"github.com/DengYong4088/puffer/src/pipeline"
	"github.com/DengYong4088/puffer/src/settings"
	"github.com/DengYong4088/puffer/src/telemetry"
)

type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// SummaryFlags are the raw command line values.
type SummaryFlags struct {
	Days int
	JSON bool
}

// AddFlags registers flags for a cli
func (flags *SummaryFlags) AddFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&flags.Days, "days", "d", flags.Days, "Summarize the past DAYS days (>= 1).")
	cmd.Flags().BoolVar(&flags.JSON, "json", flags.JSON, "If true, output one JSON object per configuration.")
}

// ToOptions validates the flags.
func (flags *SummaryFlags) ToOptions(args []string) (*SummaryOptions, error) {
	if len(args) != 1 {
		return nil, &usageError{fmt.Errorf("expected exactly one SETTINGS.yml argument, got %d", len(args))}
	}
	if flags.Days < 1 {
		return nil, &usageError{errors.New("days must be a positive integer")}
	}
	return &SummaryOptions{SettingsPath: args[0], Days: flags.Days, JSON: flags.JSON, Now: time.Now}, nil
}

// SummaryOptions are validated inputs for one run.
type SummaryOptions struct {
	SettingsPath string
	Days         int
	JSON         bool
	Now          func() time.Time

	Out    io.Writer
	Stderr io.Writer
}

// NewCmdSummary builds the root command.
func NewCmdSummary() *cobra.Command {
	flags := &SummaryFlags{Days: 1}
	cmd := &cobra.Command{
		Use:           "telemetrysummary SETTINGS.yml [-d DAYS]",
		Short:         "Count telemetry points, events and sessions per abr+cc configuration.",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := flags.ToOptions(args)
			if err != nil {
				return err
			}
			o.Out = cmd.OutOrStdout()
			o.Stderr = cmd.ErrOrStderr()
			return o.Run(cmd.Context())
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return &usageError{err} })
	flags.AddFlags(cmd)
	return cmd
}

// Run queries the window and prints the per-configuration counts.
func (o *SummaryOptions) Run(ctx context.Context) error {
	s, err := settings.Load(o.SettingsPath)
	if err != nil {
		return err
	}
	monitor.Init(monitor.Config{Level: s.Logging.Level, Format: s.Logging.Format, Output: o.Stderr})
	stores, err := pipeline.Open(ctx, s)
	if err != nil {
		return err
	}
	defer stores.Close()

	since := telemetry.WindowStart(o.Now(), o.Days)
	points, err := telemetry.QualityPoints(ctx, stores.Telemetry, since)
	if err != nil {
		return err
	}
	events, err := telemetry.BufferEvents(ctx, stores.Telemetry, since)
	if err != nil {
		return err
	}
	resolver := expconfig.NewResolver(stores.Metadata)
	arms, err := analysis.Summarize(ctx, resolver, points, events)
	if err != nil {
		return err
	}

	if o.JSON {
		enc := json.NewEncoder(o.Out)
		for _, a := range arms {
			if err := enc.Encode(a); err != nil {
				return err
			}
		}
		return nil
	}
	fmt.Fprintf(o.Out, "Window: %s .. %s (%d days)\n", since.Format(time.RFC3339), o.Now().UTC().Format(time.RFC3339), o.Days)
	fmt.Fprintf(o.Out, "Total: %d %s points, %d %s points\n",
		len(points), telemetry.MeasurementVideoAcked, len(events), telemetry.MeasurementClientBuffer)
	tw := tabwriter.NewWriter(o.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ARM\tSSIM\tUSABLE\tEVENTS\tSESSIONS\tCOMPLETE\t>=2s\tPLAY(h)")
	for _, a := range arms {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%.1f\n", a.Arm, a.QualityPoints, a.UsableQuality,
			a.BufferEvents, a.Sessions, a.CompleteSessions, a.LongSessions, a.PlaySeconds/3600)
	}
	return tw.Flush()
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd := NewCmdSummary()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		var ue *usageError
		if errors.As(err, &ue) {
			return 2
		}
		return 1
	}
	return 0
}
