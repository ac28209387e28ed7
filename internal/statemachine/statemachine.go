// Package statemachine decides which compositing action the frame scheduler
// should perform next. It holds no timers and performs no I/O: callers feed it
// events, ask NextAction, and report the action back through UpdateState.
package statemachine

import (
	"github.com/me/ccsched/pkg/model"
)

// Settings tunes decisions the scheduling contract leaves open.
type Settings struct {
	// MaxFailedDrawsBeforeForced is the number of consecutive failed
	// DRAW_IF_POSSIBLE attempts after which the draw following the next
	// commit is forced. Zero disables the escalation.
	MaxFailedDrawsBeforeForced int

	// RecreateContextBeforeTextures ranks BEGIN_CONTEXT_RECREATION above
	// ACQUIRE_LAYER_TEXTURES_FOR_MAIN_THREAD.
	RecreateContextBeforeTextures bool

	// DrawOnlyInsideVSync restricts DRAW_IF_POSSIBLE to vsync passes.
	DrawOnlyInsideVSync bool
}

// DefaultSettings returns the settings used when none are supplied.
func DefaultSettings() Settings {
	return Settings{MaxFailedDrawsBeforeForced: 3}
}

// StateMachine is the scheduler's decision core. It is not safe for
// concurrent use; the owning scheduler serializes every call.
type StateMachine struct {
	settings Settings

	commitState  model.CommitState
	textureState model.TextureState
	context      *contextLifecycle

	currentFrame           int64
	lastFrameDrawn         int64
	lastFrameBegun         int64
	consecutiveFailedDraws int

	needsRedraw                      bool
	needsForcedRedraw                bool
	needsForcedRedrawAfterNextCommit bool
	needsCommit                      bool
	needsForcedCommit                bool
	forcedCommitInFlight             bool
	mainThreadNeedsLayerTextures     bool
	updateMoreResourcesPending       bool
	drawIfPossibleFailed             bool
	insideVSync                      bool
	visible                          bool
	canBeginFrame                    bool
	canDraw                          bool
}

// New returns a state machine with nothing requested: invisible, unable to
// begin frames, context active and textures unlocked.
func New(settings Settings) *StateMachine {
	return &StateMachine{
		settings:       settings,
		commitState:    model.CommitStateIdle,
		textureState:   model.TextureStateUnlocked,
		context:        newContextLifecycle(),
		lastFrameDrawn: -1,
		lastFrameBegun: -1,
		canDraw:        true,
	}
}

// --- Environment ---

// SetCanBeginFrame records whether the main thread is able to begin frames.
func (s *StateMachine) SetCanBeginFrame(can bool) { s.canBeginFrame = can }

// SetVisible records output visibility.
func (s *StateMachine) SetVisible(visible bool) { s.visible = visible }

// SetCanDraw records whether a draw could currently produce output.
func (s *StateMachine) SetCanDraw(can bool) { s.canDraw = can }

// --- Requests ---

// SetNeedsCommit requests a commit. Repeated calls before the commit begins
// have the effect of one.
func (s *StateMachine) SetNeedsCommit() { s.needsCommit = true }

// SetNeedsForcedCommit requests a commit that proceeds even while invisible.
func (s *StateMachine) SetNeedsForcedCommit() {
	s.needsCommit = true
	s.needsForcedCommit = true
}

// SetNeedsRedraw requests an opportunistic draw.
func (s *StateMachine) SetNeedsRedraw() { s.needsRedraw = true }

// SetNeedsForcedRedraw requests a draw that ignores drawability, visibility
// and frame pacing.
func (s *StateMachine) SetNeedsForcedRedraw() { s.needsForcedRedraw = true }

// SetMainThreadNeedsLayerTextures records that the main thread is blocked
// until it owns the layer textures.
func (s *StateMachine) SetMainThreadNeedsLayerTextures() {
	if s.textureState == model.TextureStateAcquiredByMainThread {
		model.Violation("SetMainThreadNeedsLayerTextures", string(s.textureState), "main thread already holds the layer textures")
	}
	s.mainThreadNeedsLayerTextures = true
}

// --- Completions ---

// BeginFrameComplete reports that the main thread finished the frame begun by
// BEGIN_FRAME. Resource updates start next.
func (s *StateMachine) BeginFrameComplete() {
	s.requireCommitState("BeginFrameComplete", model.CommitStateFrameInProgress)
	s.commitState = model.CommitStateUpdatingResources
}

// BeginFrameAborted reports that the begun frame cannot complete. The machine
// returns to idle with the commit request (and its forced flag) restored.
func (s *StateMachine) BeginFrameAborted() {
	s.requireCommitState("BeginFrameAborted", model.CommitStateFrameInProgress)
	s.commitState = model.CommitStateIdle
	s.needsCommit = true
	if s.forcedCommitInFlight {
		s.needsForcedCommit = true
	}
	s.forcedCommitInFlight = false
}

// BeginUpdateMoreResourcesComplete resolves the outstanding resource-update
// round. With hasMore another round follows; otherwise the commit is ready.
func (s *StateMachine) BeginUpdateMoreResourcesComplete(hasMore bool) {
	s.requireCommitState("BeginUpdateMoreResourcesComplete", model.CommitStateUpdatingResources)
	if !s.updateMoreResourcesPending {
		model.Violation("BeginUpdateMoreResourcesComplete", string(s.commitState), "no resource update round outstanding")
	}
	s.updateMoreResourcesPending = false
	if !hasMore {
		s.commitState = model.CommitStateReadyToCommit
	}
}

// DidDrawIfPossibleCompleted feeds back whether DRAW_IF_POSSIBLE drew. A
// failed draw keeps the redraw request alive and asks for a fresh commit.
func (s *StateMachine) DidDrawIfPossibleCompleted(didDraw bool) {
	s.drawIfPossibleFailed = !didDraw
	if didDraw {
		s.consecutiveFailedDraws = 0
		return
	}
	s.needsRedraw = true
	s.needsCommit = true
	s.consecutiveFailedDraws++
	limit := s.settings.MaxFailedDrawsBeforeForced
	if limit > 0 && s.consecutiveFailedDraws >= limit {
		s.consecutiveFailedDraws = 0
		// Forcing now would redraw the same content; wait for new textures.
		s.needsForcedRedrawAfterNextCommit = true
	}
}

// DidLoseContext moves the machine into context recovery. Losing an already
// lost or recreating context is a no-op.
func (s *StateMachine) DidLoseContext() {
	if !s.context.is(model.ContextStateActive) {
		return
	}
	s.context.fire("DidLoseContext", eventLoseContext)
}

// DidRecreateContext ends context recovery and requests a commit to repopulate
// the new context.
func (s *StateMachine) DidRecreateContext() {
	s.context.fire("DidRecreateContext", eventContextRecreated)
	s.SetNeedsCommit()
}

// --- VSync bracket ---

// DidEnterVSync opens a vsync-driven pass and advances the frame number.
// BEGIN_FRAME is only chosen inside a pass, at most once per pass.
func (s *StateMachine) DidEnterVSync() {
	s.currentFrame++
	s.insideVSync = true
}

// DidLeaveVSync closes the pass.
func (s *StateMachine) DidLeaveVSync() { s.insideVSync = false }

// --- Decisions ---

// VSyncCallbackNeeded returns true while outstanding work can only make
// progress on a future vsync tick.
func (s *StateMachine) VSyncCallbackNeeded() bool {
	// Resource rounds resolve on the next tick; without it the commit stalls.
	if s.updateMoreResourcesPending {
		return true
	}
	if !s.context.is(model.ContextStateActive) {
		return false
	}
	if s.commitState == model.CommitStateUpdatingResources {
		return true
	}
	if s.beginFrameWanted() {
		return true
	}

	// If we can't draw, don't tick until drawability is reported again.
	if !s.canDraw {
		return false
	}
	if s.needsForcedRedraw {
		return true
	}
	return s.scheduledToDraw()
}

// NextAction returns the highest priority action the current state allows,
// or ActionNone. It does not mutate the machine.
func (s *StateMachine) NextAction() model.Action {
	textures := s.shouldAcquireLayerTexturesForMainThread()
	lost := s.context.is(model.ContextStateLost)

	if s.settings.RecreateContextBeforeTextures {
		if lost {
			return model.ActionBeginContextRecreation
		}
		if textures {
			return model.ActionAcquireLayerTexturesForMainThread
		}
	} else {
		if textures {
			return model.ActionAcquireLayerTexturesForMainThread
		}
		if lost {
			return model.ActionBeginContextRecreation
		}
	}
	if !s.context.is(model.ContextStateActive) {
		return model.ActionNone
	}

	if s.insideVSync && s.lastFrameBegun != s.currentFrame && s.beginFrameWanted() {
		return model.ActionBeginFrame
	}
	if s.commitState == model.CommitStateUpdatingResources && !s.updateMoreResourcesPending {
		return model.ActionBeginUpdateMoreResources
	}
	if s.commitState == model.CommitStateReadyToCommit {
		return model.ActionCommit
	}
	if s.needsForcedRedraw {
		return model.ActionDrawForced
	}
	if s.shouldDrawIfPossible() {
		return model.ActionDrawIfPossible
	}
	return model.ActionNone
}

// UpdateState applies the consequences of dispatching action. It must be
// called with the action NextAction just returned, before the next decision.
func (s *StateMachine) UpdateState(action model.Action) {
	switch action {
	case model.ActionNone:
		return

	case model.ActionBeginFrame:
		if !s.visible && !s.needsForcedCommit {
			model.Violation("UpdateState", string(s.commitState), "BEGIN_FRAME while invisible without a forced commit")
		}
		s.transitionCommit("UpdateState", model.CommitStateFrameInProgress)
		s.forcedCommitInFlight = s.needsForcedCommit
		s.lastFrameBegun = s.currentFrame
		s.needsCommit = false
		s.needsForcedCommit = false

	case model.ActionBeginUpdateMoreResources:
		s.requireCommitState("UpdateState", model.CommitStateUpdatingResources)
		s.updateMoreResourcesPending = true

	case model.ActionCommit:
		s.transitionCommit("UpdateState", model.CommitStateWaitingForFirstDraw)
		s.forcedCommitInFlight = false
		s.needsRedraw = true
		if s.drawIfPossibleFailed {
			// New content deserves a draw even if this frame already tried.
			s.lastFrameDrawn = -1
		}
		if s.needsForcedRedrawAfterNextCommit {
			s.needsForcedRedrawAfterNextCommit = false
			s.needsForcedRedraw = true
		}
		s.textureState = model.TextureStateAcquiredByImplThread

	case model.ActionDrawForced, model.ActionDrawIfPossible:
		s.needsRedraw = false
		s.needsForcedRedraw = false
		s.drawIfPossibleFailed = false
		s.lastFrameDrawn = s.currentFrame
		if s.commitState == model.CommitStateWaitingForFirstDraw {
			s.transitionCommit("UpdateState", model.CommitStateIdle)
		}
		if s.textureState == model.TextureStateAcquiredByImplThread {
			s.textureState = model.TextureStateUnlocked
		}

	case model.ActionBeginContextRecreation:
		s.context.fire("UpdateState", eventBeginRecreation)

	case model.ActionAcquireLayerTexturesForMainThread:
		s.textureState = model.TextureStateAcquiredByMainThread
		s.mainThreadNeedsLayerTextures = false
		// The next commit hands the textures back to the impl thread.
		if s.commitState != model.CommitStateFrameInProgress {
			s.needsCommit = true
		}

	default:
		model.Violation("UpdateState", string(s.commitState), "unknown action "+string(action))
	}
}

// --- Introspection ---

// FrameNumber returns the number of vsync passes begun.
func (s *StateMachine) FrameNumber() int64 { return s.currentFrame }

// UpdateMoreResourcesPending reports whether a resource-update round awaits
// resolution on the next tick.
func (s *StateMachine) UpdateMoreResourcesPending() bool { return s.updateMoreResourcesPending }

// InsideVSync reports whether a vsync pass is open.
func (s *StateMachine) InsideVSync() bool { return s.insideVSync }

// CommitState returns the commit pipeline phase.
func (s *StateMachine) CommitState() model.CommitState { return s.commitState }

// ContextState returns the graphics context phase.
func (s *StateMachine) ContextState() model.ContextState { return s.context.state() }

// Snapshot copies the full machine state.
func (s *StateMachine) Snapshot() model.StateSnapshot {
	return model.StateSnapshot{
		CommitState:                      s.commitState,
		TextureState:                     s.textureState,
		ContextState:                     s.context.state(),
		NextAction:                       s.NextAction(),
		FrameNumber:                      s.currentFrame,
		LastFrameDrawn:                   s.lastFrameDrawn,
		ConsecutiveFailedDraws:           s.consecutiveFailedDraws,
		NeedsCommit:                      s.needsCommit,
		NeedsForcedCommit:                s.needsForcedCommit,
		NeedsRedraw:                      s.needsRedraw,
		NeedsForcedRedraw:                s.needsForcedRedraw,
		NeedsForcedRedrawAfterNextCommit: s.needsForcedRedrawAfterNextCommit,
		MainThreadNeedsLayerTextures:     s.mainThreadNeedsLayerTextures,
		UpdateMoreResourcesPending:       s.updateMoreResourcesPending,
		InsideVSync:                      s.insideVSync,
		Visible:                          s.visible,
		CanBeginFrame:                    s.canBeginFrame,
		CanDraw:                          s.canDraw,
		VSyncCallbackNeeded:              s.VSyncCallbackNeeded(),
	}
}

// --- Predicates ---

func (s *StateMachine) hasDrawnThisFrame() bool {
	return s.currentFrame == s.lastFrameDrawn
}

func (s *StateMachine) drawSuspendedUntilCommit() bool {
	if !s.canDraw || !s.visible {
		return true
	}
	return s.textureState == model.TextureStateAcquiredByMainThread
}

func (s *StateMachine) scheduledToDraw() bool {
	return s.needsRedraw && !s.drawSuspendedUntilCommit()
}

func (s *StateMachine) shouldDrawIfPossible() bool {
	if !s.scheduledToDraw() || s.hasDrawnThisFrame() {
		return false
	}
	if s.settings.DrawOnlyInsideVSync && !s.insideVSync {
		return false
	}
	return true
}

// beginFrameWanted ignores the vsync bracket; NextAction adds that gate.
func (s *StateMachine) beginFrameWanted() bool {
	if !s.needsCommit || !s.canBeginFrame {
		return false
	}
	if !s.visible && !s.needsForcedCommit {
		return false
	}
	switch s.commitState {
	case model.CommitStateIdle:
		return true
	case model.CommitStateWaitingForFirstDraw:
		// The pending first draw cannot happen; don't hold the main thread for it.
		return s.drawSuspendedUntilCommit()
	default:
		return false
	}
}

func (s *StateMachine) shouldAcquireLayerTexturesForMainThread() bool {
	if !s.mainThreadNeedsLayerTextures {
		return false
	}
	switch s.textureState {
	case model.TextureStateUnlocked:
		return true
	case model.TextureStateAcquiredByImplThread:
		// Hand the textures over unless the impl thread is scheduled to draw
		// with them; otherwise the two threads deadlock.
		return !s.scheduledToDraw() || !s.context.is(model.ContextStateActive)
	default:
		return false
	}
}

func (s *StateMachine) requireCommitState(op string, want model.CommitState) {
	if s.commitState != want {
		model.Violation(op, string(s.commitState), "requires commit state "+string(want))
	}
}

func (s *StateMachine) transitionCommit(op string, next model.CommitState) {
	if !s.commitState.CanTransitionTo(next) {
		model.Violation(op, string(s.commitState), "invalid commit transition to "+string(next))
	}
	s.commitState = next
}
