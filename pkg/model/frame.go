package model

import "time"

// DrawResult reports what a draw-and-swap client action actually did.
type DrawResult struct {
	DidDraw bool `json:"did_draw"`
	DidSwap bool `json:"did_swap"`
}

// StateSnapshot is a point-in-time copy of the scheduler state machine.
type StateSnapshot struct {
	CommitState  CommitState  `json:"commit_state"`
	TextureState TextureState `json:"texture_state"`
	ContextState ContextState `json:"context_state"`
	NextAction   Action       `json:"next_action"`

	FrameNumber            int64 `json:"frame_number"`
	LastFrameDrawn         int64 `json:"last_frame_drawn"`
	ConsecutiveFailedDraws int   `json:"consecutive_failed_draws"`

	NeedsCommit                      bool `json:"needs_commit"`
	NeedsForcedCommit                bool `json:"needs_forced_commit"`
	NeedsRedraw                      bool `json:"needs_redraw"`
	NeedsForcedRedraw                bool `json:"needs_forced_redraw"`
	NeedsForcedRedrawAfterNextCommit bool `json:"needs_forced_redraw_after_next_commit"`
	MainThreadNeedsLayerTextures     bool `json:"main_thread_needs_layer_textures"`
	UpdateMoreResourcesPending       bool `json:"update_more_resources_pending"`
	InsideVSync                      bool `json:"inside_vsync"`
	Visible                          bool `json:"visible"`
	CanBeginFrame                    bool `json:"can_begin_frame"`
	CanDraw                          bool `json:"can_draw"`
	VSyncCallbackNeeded              bool `json:"vsync_callback_needed"`
}

// ActionRecord is one action dispatched by the scheduler to its client.
type ActionRecord struct {
	SessionID   string    `json:"session_id,omitempty"`
	Seq         uint64    `json:"seq"`
	Frame       int64     `json:"frame"`
	Action      Action    `json:"action"`
	InsideVSync bool      `json:"inside_vsync"`
	At          time.Time `json:"at"`
}
