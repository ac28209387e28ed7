package script

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/me/ccsched/internal/statemachine"
	"github.com/me/ccsched/pkg/model"
)

func runFile(t *testing.T, name string) *Result {
	t.Helper()
	res, err := New().RunFile(context.Background(), filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("RunFile(%s): %v", name, err)
	}
	return res
}

func TestScenarios(t *testing.T) {
	tests := []struct {
		file      string
		wantNames []string
		wantValue any
	}{
		{
			file:      "commit_and_draw.js",
			wantNames: []string{"BEGIN_FRAME", "BEGIN_UPDATE_MORE_RESOURCES", "COMMIT", "DRAW_IF_POSSIBLE"},
			wantValue: "IDLE",
		},
		{
			file:      "forced_redraw_invisible.js",
			wantNames: []string{"DRAW_FORCED"},
			wantValue: int64(1),
		},
		{
			file: "commit_during_commit.js",
			wantNames: []string{
				"BEGIN_FRAME", "BEGIN_UPDATE_MORE_RESOURCES", "COMMIT", "DRAW_IF_POSSIBLE",
				"BEGIN_FRAME", "BEGIN_UPDATE_MORE_RESOURCES", "COMMIT", "DRAW_IF_POSSIBLE",
			},
		},
		{
			file: "context_loss.js",
			wantNames: []string{
				"BEGIN_FRAME", "BEGIN_CONTEXT_RECREATION",
				"BEGIN_UPDATE_MORE_RESOURCES", "COMMIT", "DRAW_IF_POSSIBLE",
				"BEGIN_FRAME",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			res := runFile(t, tt.file)
			if got := res.ActionNames(); !slices.Equal(got, tt.wantNames) {
				t.Errorf("actions = %v\nwant      %v", got, tt.wantNames)
			}
			if tt.wantValue != nil && res.Value != tt.wantValue {
				t.Errorf("value = %#v, want %#v", res.Value, tt.wantValue)
			}
		})
	}
}

func TestRun_RecordsFramesAndTime(t *testing.T) {
	res, err := New(WithInterval(10*time.Millisecond)).Run(context.Background(), "timing", `
		scheduler.setVisible(true);
		scheduler.setCanBeginFrame(true);
		scheduler.setNeedsCommit();
		vsync();
		scheduler.beginFrameComplete();
		log("frame", state().frame_number);
	`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Ticks != 1 {
		t.Errorf("Ticks = %d, want 1", res.Ticks)
	}
	first := res.Actions[0]
	if first.Seq != 1 || first.Frame != 1 || !first.InsideVSync {
		t.Errorf("first record = %+v", first)
	}
	if want := Epoch.Add(10 * time.Millisecond); !first.At.Equal(want) {
		t.Errorf("At = %v, want %v", first.At, want)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "frame 1" {
		t.Errorf("Logs = %q", res.Logs)
	}
	if res.Final.CommitState != model.CommitStateIdle {
		t.Errorf("Final.CommitState = %s", res.Final.CommitState)
	}
}

func TestRun_ForcedDrawAfterFailures(t *testing.T) {
	res, err := New(WithSettings(statemachine.Settings{MaxFailedDrawsBeforeForced: 1})).Run(context.Background(), "failures", `
		client.failDraws(1);
		scheduler.setVisible(true);
		scheduler.setCanBeginFrame(true);
		scheduler.setNeedsCommit();
		vsync();
		scheduler.beginFrameComplete();
		vsync();
		scheduler.beginFrameComplete();
	`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Contains(res.ActionNames(), "DRAW_FORCED") {
		t.Errorf("expected a forced draw after the failure, got %v", res.ActionNames())
	}
}

func TestRun_Throttling(t *testing.T) {
	res, err := New().Run(context.Background(), "throttle", `
		client.autoSwap(false);
		scheduler.setMaxFramesPending(1);
		scheduler.setVisible(true);
		scheduler.setCanBeginFrame(true);
		scheduler.setNeedsForcedRedraw();
		scheduler.setNeedsRedraw();
		var blocked = vsync(3);
		scheduler.didSwapBuffersComplete();
		var resumed = vsync();
		[blocked, resumed];
	`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, ok := res.Value.([]any)
	if !ok || len(got) != 2 {
		t.Fatalf("value = %#v", res.Value)
	}
	if got[0] != int64(0) || got[1] != int64(1) {
		t.Errorf("ticks blocked/resumed = %v, want [0 1]", got)
	}
}

func TestRun_ContractViolation(t *testing.T) {
	_, err := New().Run(context.Background(), "violation", `scheduler.beginFrameComplete();`)
	var cv *model.ContractViolation
	if !errors.As(err, &cv) {
		t.Fatalf("err = %v, want a contract violation", err)
	}
	if cv.Op != "BeginFrameComplete" {
		t.Errorf("Op = %q", cv.Op)
	}
}

func TestRun_ScriptErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", `vsync(`, "SyntaxError"},
		{"assert", `assert(false, "boom")`, "assertion failed: boom"},
		{"unknown hook", `client.on("JUMP", function () {})`, "unknown action"},
		{"hook throws", `
			client.on("DRAW_FORCED", function () { throw new Error("hook failed"); });
			scheduler.setNeedsForcedRedraw();
		`, "hook failed"},
		{"negative pending", `scheduler.setMaxFramesPending(-1)`, "negative value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Run(context.Background(), tt.name, tt.src)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestRun_Interrupted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New().Run(ctx, "spin", `for (;;) {}`)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestRunFile_Missing(t *testing.T) {
	if _, err := New().RunFile(context.Background(), filepath.Join("testdata", "missing.js")); err == nil {
		t.Fatal("expected error for a missing scenario")
	}
}
