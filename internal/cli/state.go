package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/me/ccsched/internal/server"
)

func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the scheduler state of a running compositor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(cmd.Context(), "/api/v1/state")
			if err != nil {
				return fmt.Errorf("get state: %w", err)
			}

			var st server.Status
			if err := json.Unmarshal(resp.Data, &st); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			printStatus(cmd.OutOrStdout(), &st)
			return nil
		},
	}
}

func printStatus(w io.Writer, st *server.Status) {
	s := st.Scheduler
	if st.SessionID != "" {
		fmt.Fprintf(w, "Session:  %s\n", st.SessionID)
	}
	fmt.Fprintf(w, "Frame:    %d (last drawn %d)\n", s.FrameNumber, s.LastFrameDrawn)
	fmt.Fprintf(w, "  Commit:   %s\n", s.CommitState)
	fmt.Fprintf(w, "  Textures: %s\n", s.TextureState)
	fmt.Fprintf(w, "  Context:  %s\n", s.ContextState)
	fmt.Fprintf(w, "  Next:     %s\n", s.NextAction)

	var needs []string
	for _, n := range []struct {
		name string
		set  bool
	}{
		{"commit", s.NeedsCommit},
		{"forced-commit", s.NeedsForcedCommit},
		{"redraw", s.NeedsRedraw},
		{"forced-redraw", s.NeedsForcedRedraw},
		{"textures", s.MainThreadNeedsLayerTextures},
	} {
		if n.set {
			needs = append(needs, n.name)
		}
	}
	if len(needs) > 0 {
		fmt.Fprintf(w, "  Needs:    %v\n", needs)
	}
	fmt.Fprintf(w, "  Visible:  %t  can begin frame: %t  can draw: %t\n", s.Visible, s.CanBeginFrame, s.CanDraw)

	fr := st.FrameRate
	fmt.Fprintf(w, "Ticks:    %d (%d throttled), %d/%d frames pending\n",
		fr.Ticks, fr.ThrottledTicks, fr.FramesPending, fr.MaxFramesPending)

	c := st.Compositor
	fmt.Fprintf(w, "Draws:    %d of %d attempts (%d failed, %d forced), %d commits\n",
		c.Draws, c.DrawAttempts, c.FailedDraws, c.ForcedDraws, c.Commits)
	if c.ContextLosses > 0 {
		fmt.Fprintf(w, "Context:  %d lost, %d recreated\n", c.ContextLosses, c.Recreations)
	}
}
