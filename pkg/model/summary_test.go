package model

import (
	"testing"
	"time"
)

func TestComputeActionSummary(t *testing.T) {
	records := []ActionRecord{
		{Action: ActionBeginFrame},
		{Action: ActionBeginUpdateMoreResources},
		{Action: ActionCommit},
		{Action: ActionDrawIfPossible},
		{Action: ActionDrawIfPossible},
		{Action: ActionDrawForced},
		{Action: ActionBeginContextRecreation},
		{Action: ActionAcquireLayerTexturesForMainThread},
		{Action: ActionNone},
		{Action: Action("BOGUS")},
	}

	got := ComputeActionSummary(records)

	want := ActionSummary{
		Total:                8,
		BeginFrame:           1,
		UpdateMoreResources:  1,
		Commit:               1,
		DrawForced:           1,
		DrawIfPossible:       2,
		ContextRecreation:    1,
		AcquireLayerTextures: 1,
	}
	if got != want {
		t.Errorf("ComputeActionSummary() = %+v, want %+v", got, want)
	}
	if got.Draws() != 3 {
		t.Errorf("Draws() = %d, want 3", got.Draws())
	}
}

func TestActionSummary_AddCount(t *testing.T) {
	var s ActionSummary
	s.Add(ActionCommit, 5)
	s.Add(ActionNone, 3)
	if s.Commit != 5 || s.Total != 5 {
		t.Errorf("summary = %+v, want 5 commits", s)
	}
}

func TestSession_Open(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Session{StartedAt: start}
	if !s.IsOpen() {
		t.Error("session without EndedAt should be open")
	}
	end := start.Add(90 * time.Second)
	s.EndedAt = &end
	if s.IsOpen() {
		t.Error("ended session reported open")
	}
	if s.Duration() != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", s.Duration())
	}
}
