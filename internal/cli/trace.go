package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/ccsched/pkg/model"
)

func newTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded action traces",
	}
	cmd.AddCommand(newTraceSessionsCmd(), newTraceShowCmd(), newTraceActionsCmd())
	return cmd
}

func newTraceSessionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			resp, err := client.Get(cmd.Context(), "/api/v1/trace/sessions/?"+q.Encode())
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			var sessions []model.Session
			if err := json.Unmarshal(resp.Data, &sessions); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}

			fmt.Fprintf(out, "%-40s  %-12s  %-8s  %-20s  %s\n", "ID", "LABEL", "ACTIONS", "STARTED", "ENDED")
			fmt.Fprintf(out, "%-40s  %-12s  %-8s  %-20s  %s\n", "--", "-----", "-------", "-------", "-----")
			for _, s := range sessions {
				ended := "running"
				if s.EndedAt != nil {
					ended = s.EndedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%-40s  %-12s  %-8d  %-20s  %s\n",
					s.ID, s.Label, s.Actions, s.StartedAt.Format(time.RFC3339), ended)
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(sessions), resp.Pagination.Total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum sessions to list")
	return cmd
}

func newTraceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session_id>",
		Short: "Show a recorded run with per-action counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			resp, err := client.Get(cmd.Context(), "/api/v1/trace/sessions/"+url.PathEscape(id))
			if err != nil {
				return fmt.Errorf("get session: %w", err)
			}

			var data struct {
				model.Session
				Summary model.ActionSummary `json:"summary"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session: %s\n", data.ID)
			fmt.Fprintf(out, "  Label:   %s\n", data.Label)
			fmt.Fprintf(out, "  Host:    %s\n", data.Host)
			fmt.Fprintf(out, "  Started: %s\n", data.StartedAt.Format(time.RFC3339))
			if data.EndedAt != nil {
				fmt.Fprintf(out, "  Ended:   %s (%s)\n", data.EndedAt.Format(time.RFC3339), data.Duration().Round(time.Millisecond))
			}

			s := data.Summary
			fmt.Fprintf(out, "  Actions: %d total\n", s.Total)
			for _, row := range []struct {
				action model.Action
				n      int
			}{
				{model.ActionBeginFrame, s.BeginFrame},
				{model.ActionBeginUpdateMoreResources, s.UpdateMoreResources},
				{model.ActionCommit, s.Commit},
				{model.ActionDrawIfPossible, s.DrawIfPossible},
				{model.ActionDrawForced, s.DrawForced},
				{model.ActionBeginContextRecreation, s.ContextRecreation},
				{model.ActionAcquireLayerTexturesForMainThread, s.AcquireLayerTextures},
			} {
				if row.n > 0 {
					fmt.Fprintf(out, "    %-40s %d\n", row.action, row.n)
				}
			}
			return nil
		},
	}
}

func newTraceActionsCmd() *cobra.Command {
	var (
		sessionID string
		action    string
		limit     int
		offset    int
	)

	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List dispatched actions in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if sessionID != "" {
				q.Set("session_id", sessionID)
			}
			if action != "" {
				q.Set("action", action)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}

			resp, err := client.Get(cmd.Context(), "/api/v1/trace/actions?"+q.Encode())
			if err != nil {
				return fmt.Errorf("list actions: %w", err)
			}

			var recs []model.ActionRecord
			if err := json.Unmarshal(resp.Data, &recs); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "No actions found.")
				return nil
			}

			fmt.Fprintf(out, "%-8s  %-6s  %-6s  %-40s  %s\n", "SEQ", "FRAME", "VSYNC", "ACTION", "AT")
			for _, r := range recs {
				vsync := ""
				if r.InsideVSync {
					vsync = "yes"
				}
				fmt.Fprintf(out, "%-8d  %-6d  %-6s  %-40s  %s\n",
					r.Seq, r.Frame, vsync, r.Action, r.At.Format(time.RFC3339Nano))
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown, next page: --offset %d)\n",
					len(recs), resp.Pagination.Total, resp.Pagination.Offset+len(recs))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Only actions of this session")
	cmd.Flags().StringVar(&action, "action", "", "Only this action (e.g. COMMIT)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum actions to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many actions")
	return cmd
}
