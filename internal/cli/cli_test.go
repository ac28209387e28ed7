package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/me/ccsched/internal/server"
	"github.com/me/ccsched/internal/sim"
	"github.com/me/ccsched/internal/store"
	"github.com/me/ccsched/pkg/model"
)

type stubControls struct {
	status server.Status
}

func (s *stubControls) Status(context.Context) (*server.Status, error) {
	st := s.status
	return &st, nil
}

func (s *stubControls) Command(_ context.Context, name string) error {
	if name != "redraw" {
		return fmt.Errorf("%w: %q", sim.ErrUnknownCommand, name)
	}
	s.status.Scheduler.NeedsRedraw = true
	return nil
}

// startTestServer starts a debug server over an in-memory trace store holding
// one session and returns its URL.
func startTestServer(t *testing.T) string {
	t.Helper()
	srvLogger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.NewSQLiteStore(":memory:", srvLogger)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := st.CreateSession(ctx, &model.Session{ID: "run_cli", Label: "cli", Host: "test", StartedAt: at}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	err = st.InsertActions(ctx, []model.ActionRecord{
		{SessionID: "run_cli", Seq: 1, Frame: 1, Action: model.ActionBeginFrame, InsideVSync: true, At: at},
		{SessionID: "run_cli", Seq: 2, Frame: 1, Action: model.ActionCommit, At: at},
		{SessionID: "run_cli", Seq: 3, Frame: 1, Action: model.ActionDrawIfPossible, At: at},
	})
	if err != nil {
		t.Fatalf("insert actions: %v", err)
	}
	if err := st.EndSession(ctx, "run_cli", at.Add(time.Second)); err != nil {
		t.Fatalf("end session: %v", err)
	}

	controls := &stubControls{status: server.Status{
		SessionID: "run_cli",
		Scheduler: model.StateSnapshot{
			CommitState: model.CommitStateIdle,
			FrameNumber: 42,
			Visible:     true,
		},
	}}
	srv := server.New(controls, srvLogger, server.WithStore(st))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

func TestStateCommand(t *testing.T) {
	url := startTestServer(t)

	out, err := runCLI(t, "--server", url, "state")
	if err != nil {
		t.Fatalf("state error: %v\noutput: %s", err, out)
	}
	for _, want := range []string{"run_cli", "Frame:    42", string(model.CommitStateIdle)} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCommandCommand(t *testing.T) {
	url := startTestServer(t)

	out, err := runCLI(t, "--server", url, "command")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	for _, name := range sim.Commands() {
		if !strings.Contains(out, name) {
			t.Errorf("command list missing %q:\n%s", name, out)
		}
	}

	out, err = runCLI(t, "--server", url, "command", "redraw")
	if err != nil {
		t.Fatalf("redraw error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "Applied redraw") || !strings.Contains(out, "redraw]") {
		t.Errorf("unexpected output:\n%s", out)
	}

	_, err = runCLI(t, "--server", url, "command", "explode")
	if err == nil || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("explode err = %v, want NOT_FOUND", err)
	}
}

func TestTraceCommands(t *testing.T) {
	url := startTestServer(t)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"sessions", []string{"trace", "sessions"}, []string{"run_cli", "cli", "2024-03-01T09:00:01Z"}},
		{"show", []string{"trace", "show", "run_cli"}, []string{"3 total", "COMMIT", "(1s)"}},
		{"actions", []string{"trace", "actions", "--session", "run_cli"}, []string{"BEGIN_FRAME", "DRAW_IF_POSSIBLE"}},
		{"filtered", []string{"trace", "actions", "--action", "COMMIT"}, []string{"COMMIT"}},
		{"paged", []string{"trace", "actions", "--limit", "1"}, []string{"(1 of 3 shown, next page: --offset 1)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, append([]string{"--server", url}, tt.args...)...)
			if err != nil {
				t.Fatalf("error: %v\noutput: %s", err, out)
			}
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}

	if _, err := runCLI(t, "--server", url, "trace", "show", "run_missing"); err == nil {
		t.Error("expected error for a missing session")
	}
	if _, err := runCLI(t, "--server", url, "trace", "actions", "--action", "JUMP"); err == nil {
		t.Error("expected error for an unknown action")
	}
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ccsched.yaml")
	if err := os.WriteFile(path, []byte("frame_rate:\n  interval: 20ms\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CCSCHED_DEBUG_ADDR", "127.0.0.1:9999")

	out, err := runCLI(t, "--config", path, "config")
	if err != nil {
		t.Fatalf("config error: %v", err)
	}
	for _, want := range []string{"interval: 20ms", "127.0.0.1:9999"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if _, err := runCLI(t, "--log-format", "xml", "config"); err == nil {
		t.Error("expected validation error for log format xml")
	}
}

func TestScriptCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commit.js")
	src := `
		scheduler.setVisible(true);
		scheduler.setCanBeginFrame(true);
		scheduler.setNeedsCommit();
		vsync();
		scheduler.beginFrameComplete();
		state().commit_state;
	`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "script", path)
	if err != nil {
		t.Fatalf("script error: %v\noutput: %s", err, out)
	}
	for _, want := range []string{"4 actions over 1 ticks", "BEGIN_FRAME", "COMMIT", "=> IDLE"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, "script", "--json", path)
	if err != nil {
		t.Fatalf("script --json error: %v", err)
	}
	if !strings.Contains(out, `"action": "DRAW_IF_POSSIBLE"`) {
		t.Errorf("JSON output missing draw:\n%s", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.js")
	os.WriteFile(bad, []byte(`assert(false, "nope")`), 0o644)
	if _, err := runCLI(t, "script", bad); err == nil || !strings.Contains(err.Error(), "nope") {
		t.Errorf("err = %v, want assertion failure", err)
	}
}

func TestRunCommand(t *testing.T) {
	out, err := runCLI(t, "run",
		"--duration", "200ms",
		"--interval", "5ms",
		"--trace-db", ":memory:",
		"--label", "cli-test",
		"--addr", "",
	)
	if err != nil {
		t.Fatalf("run error: %v\noutput: %s", err, out)
	}
	for _, want := range []string{"Session:  run_", "Commits:", "Draws:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
