package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/ccsched/internal/app"
)

func newRunCmd() *cobra.Command {
	var (
		addr             string
		traceDB          string
		label            string
		interval         time.Duration
		maxFramesPending int
		duration         time.Duration
		drawFailureEvery int
		contextLossEvery time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulated compositor under the frame scheduler",
		Long: `Run drives a simulated compositor from a real vsync source until
interrupted or until --duration elapses. The debug API and Prometheus metrics
are served on --addr and dispatched actions are recorded to --trace-db.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Debug.Addr = addr
			}
			if flags.Changed("trace-db") {
				cfg.Trace.DBPath = traceDB
			}
			if flags.Changed("label") {
				cfg.Trace.Label = label
			}
			if flags.Changed("interval") {
				cfg.FrameRate.Interval = interval
			}
			if flags.Changed("max-frames-pending") {
				cfg.FrameRate.MaxFramesPending = maxFramesPending
			}
			if flags.Changed("draw-failure-every") {
				cfg.Simulation.DrawFailureEvery = drawFailureEvery
			}
			if flags.Changed("context-loss-every") {
				cfg.Simulation.ContextLossEvery = contextLossEvery
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			engine, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			runErr := engine.Run(ctx)

			st := engine.Final()
			out := cmd.OutOrStdout()
			if st.SessionID != "" {
				fmt.Fprintf(out, "Session:  %s\n", st.SessionID)
			}
			fmt.Fprintf(out, "Frame:    %d\n", st.Scheduler.FrameNumber)
			fmt.Fprintf(out, "Ticks:    %d (%d throttled)\n", st.FrameRate.Ticks, st.FrameRate.ThrottledTicks)
			fmt.Fprintf(out, "Commits:  %d\n", st.Compositor.Commits)
			fmt.Fprintf(out, "Draws:    %d (%d failed, %d forced)\n",
				st.Compositor.Draws, st.Compositor.FailedDraws, st.Compositor.ForcedDraws)
			return runErr
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Debug server listen address (empty disables it)")
	cmd.Flags().StringVar(&traceDB, "trace-db", "", "Trace database path (empty disables tracing, :memory: keeps it in memory)")
	cmd.Flags().StringVar(&label, "label", "", "Label for the recorded session")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Vsync interval")
	cmd.Flags().IntVar(&maxFramesPending, "max-frames-pending", 0, "Frames in flight before ticks are throttled (0 = unlimited)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().IntVar(&drawFailureEvery, "draw-failure-every", 0, "Fail every Nth non-forced draw (0 = never)")
	cmd.Flags().DurationVar(&contextLossEvery, "context-loss-every", 0, "Lose the graphics context periodically (0 = never)")

	return cmd
}
