package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/DengYong4088/puffer/src/monitor"
	"github.com/DengYong4088/puffer/src/pipeline"
	"github.com/DengYong4088/puffer/src/plot"
	"github.com/DengYong4088/puffer/src/settings"
)

var (
	plotShort = "Plot average SSIM against 95th percentile rebuffer rate per abr+cc configuration."
	plotLong  = `
		Query the last DAYS days of video_acked and client_buffer telemetry, reduce them
		per (abr, cc) configuration and draw one annotated point per configuration.

		The x axis is the 95th percentile of the per-session rebuffer ratio, in percent,
		drawn descending so that configurations with fewer stalls sit on the right. The
		y axis is the mean SSIM in dB. Each point is labelled with the configuration and
		its total play time in hours.

		SETTINGS.yml selects the stores: live (InfluxDB + PostgreSQL), a DuckDB file or a
		JSONL replay dump.`
	plotExample = `
		# Last 24 hours from the live stores
		plotssimrebuffer settings.yml -o ssim_rebuffer.png

		# One week, vector output, metrics for the node exporter
		plotssimrebuffer settings.yml -d 7 -o week.svg --metrics-file /var/lib/node_exporter/ssim_rebuffer.prom`
)

// usageError marks errors in the command line itself (exit status 2).
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, a ...any) error { return &usageError{fmt.Errorf(format, a...)} }

// PlotFlags are the raw command line values.
type PlotFlags struct {
	Output      string
	Days        int
	LogLevel    string
	MetricsFile string
}

// NewPlotFlags returns the defaults.
func NewPlotFlags() *PlotFlags {
	return &PlotFlags{Days: 1}
}

// AddFlags registers flags for a cli
func (flags *PlotFlags) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flags.Output, "output", "o", flags.Output,
		"Output image path (required). A .svg extension selects SVG, anything else PNG.")
	cmd.Flags().IntVarP(&flags.Days, "days", "d", flags.Days,
		"Query data from the past DAYS days (>= 1).")
	cmd.Flags().StringVar(&flags.LogLevel, "log-level", flags.LogLevel,
		"Log level: debug, info, warn, error. Overrides logging.level from the settings file.")
	cmd.Flags().StringVar(&flags.MetricsFile, "metrics-file", flags.MetricsFile,
		"Write run metrics in Prometheus text format to this file.")
}

// ToOptions validates the flags. Nothing here touches the network or the filesystem.
func (flags *PlotFlags) ToOptions(args []string) (*PlotOptions, error) {
	if len(args) != 1 {
		return nil, usagef("expected exactly one SETTINGS.yml argument, got %d", len(args))
	}
	if flags.Output == "" {
		return nil, usagef("--output is required")
	}
	if flags.Days < 1 {
		return nil, usagef("days must be a positive integer")
	}
	return &PlotOptions{
		SettingsPath: args[0],
		Output:       flags.Output,
		Days:         flags.Days,
		LogLevel:     flags.LogLevel,
		MetricsFile:  flags.MetricsFile,
		Now:          time.Now,
	}, nil
}

// PlotOptions are validated inputs for one run.
type PlotOptions struct {
	SettingsPath string
	Output       string
	Days         int
	LogLevel     string
	MetricsFile  string

	Now    func() time.Time
	Stderr io.Writer
}

// NewCmdPlot builds the root command.
func NewCmdPlot() *cobra.Command {
	flags := NewPlotFlags()
	cmd := &cobra.Command{
		Use:           "plotssimrebuffer SETTINGS.yml -o OUTPUT [-d DAYS]",
		Short:         plotShort,
		Long:          plotLong,
		Example:       plotExample,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := flags.ToOptions(args)
			if err != nil {
				return err
			}
			o.Stderr = cmd.ErrOrStderr()
			return o.Run(cmd.Context())
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err}
	})
	flags.AddFlags(cmd)
	return cmd
}

// Run loads the settings, aggregates the window and writes the plot. Store
// handles are released on every path.
func (o *PlotOptions) Run(ctx context.Context) error {
	start := time.Now()
	s, err := settings.Load(o.SettingsPath)
	if err != nil {
		return err
	}
	level := s.Logging.Level
	if o.LogLevel != "" {
		level = o.LogLevel
	}
	monitor.Init(monitor.Config{Level: level, Format: s.Logging.Format, Output: o.Stderr})
	monitor.SetRunID(uuid.NewString())

	metrics := monitor.NewRunMetrics()
	if o.MetricsFile != "" {
		defer func() {
			metrics.RunSeconds.Set(time.Since(start).Seconds())
			if werr := metrics.WriteTextfile(o.MetricsFile); werr != nil {
				monitor.Warnf("%v", werr)
			}
		}()
	}

	monitor.Debugf("source=%s days=%d output=%s", s.Source, o.Days, o.Output)
	stores, err := pipeline.Open(ctx, s)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stores.Close(); cerr != nil {
			monitor.Warnf("close stores: %v", cerr)
		}
	}()

	res, err := pipeline.Aggregate(ctx, stores, o.Now(), o.Days, metrics)
	if err != nil {
		return err
	}
	in := res.PlotInput()
	if err := plot.WriteFile(o.Output, in); err != nil {
		var je *plot.JoinError
		if errors.As(err, &je) {
			monitor.Errorf("arm %s has quality data but no complete session", je.Key)
		}
		return err
	}
	metrics.ArmsPlotted.Set(float64(len(in.Quality)))
	fmt.Fprintf(o.Stderr, "Saved plot to %s\n", o.Output)
	return nil
}
