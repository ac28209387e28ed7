package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/ccsched/internal/script"
)

func newScriptCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "script <file.js>...",
		Short: "Replay scheduler scenarios written in JavaScript",
		Long: `Script runs each scenario against a fresh scheduler driven by a manual
clock. Scenarios call scheduler.*, client.* and vsync() and may assert on
actions() and state(). A failed assertion or a contract violation fails the
command.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner := script.New(
				script.WithSettings(cfg.Settings()),
				script.WithLogger(logger),
				script.WithInterval(cfg.FrameRate.Interval),
			)
			out := cmd.OutOrStdout()

			var results []*script.Result
			for _, path := range args {
				res, err := runner.RunFile(cmd.Context(), path)
				if err != nil {
					return err
				}
				if asJSON {
					results = append(results, res)
					continue
				}

				fmt.Fprintf(out, "%s: %d actions over %d ticks\n", res.Name, len(res.Actions), res.Ticks)
				for _, rec := range res.Actions {
					fmt.Fprintf(out, "  %4d  frame %-4d %s\n", rec.Seq, rec.Frame, rec.Action)
				}
				for _, line := range res.Logs {
					fmt.Fprintf(out, "  log: %s\n", line)
				}
				if res.Value != nil {
					fmt.Fprintf(out, "  => %v\n", res.Value)
				}
			}

			if asJSON {
				data, err := json.MarshalIndent(results, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal results: %w", err)
				}
				fmt.Fprintln(out, strings.TrimSpace(string(data)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print full results as JSON")
	return cmd
}
