package model

// Action is a compositing step chosen by the scheduler state machine.
type Action string

const (
	ActionNone                              Action = "NONE"
	ActionBeginFrame                        Action = "BEGIN_FRAME"
	ActionBeginUpdateMoreResources          Action = "BEGIN_UPDATE_MORE_RESOURCES"
	ActionCommit                            Action = "COMMIT"
	ActionDrawIfPossible                    Action = "DRAW_IF_POSSIBLE"
	ActionDrawForced                        Action = "DRAW_FORCED"
	ActionBeginContextRecreation            Action = "BEGIN_CONTEXT_RECREATION"
	ActionAcquireLayerTexturesForMainThread Action = "ACQUIRE_LAYER_TEXTURES_FOR_MAIN_THREAD"
)

// AllActions returns every action except NONE, highest priority first.
func AllActions() []Action {
	return []Action{
		ActionAcquireLayerTexturesForMainThread,
		ActionBeginContextRecreation,
		ActionBeginFrame,
		ActionBeginUpdateMoreResources,
		ActionCommit,
		ActionDrawForced,
		ActionDrawIfPossible,
	}
}

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// IsDraw returns true for both draw-and-swap variants.
func (a Action) IsDraw() bool {
	return a == ActionDrawIfPossible || a == ActionDrawForced
}

// IsValid returns true if a is one of the declared actions.
func (a Action) IsValid() bool {
	if a == ActionNone {
		return true
	}
	for _, known := range AllActions() {
		if a == known {
			return true
		}
	}
	return false
}

// CommitState tracks how far the current commit has travelled through the pipeline.
type CommitState string

const (
	CommitStateIdle                CommitState = "IDLE"
	CommitStateFrameInProgress     CommitState = "FRAME_IN_PROGRESS"
	CommitStateUpdatingResources   CommitState = "UPDATING_RESOURCES"
	CommitStateReadyToCommit       CommitState = "READY_TO_COMMIT"
	CommitStateWaitingForFirstDraw CommitState = "WAITING_FOR_FIRST_DRAW"
)

// String returns the string representation of the commit state.
func (s CommitState) String() string {
	return string(s)
}

// ValidCommitTransitions defines the allowed commit pipeline transitions.
var ValidCommitTransitions = map[CommitState][]CommitState{
	CommitStateIdle:                {CommitStateFrameInProgress},
	CommitStateFrameInProgress:     {CommitStateUpdatingResources, CommitStateIdle},
	CommitStateUpdatingResources:   {CommitStateReadyToCommit},
	CommitStateReadyToCommit:       {CommitStateWaitingForFirstDraw},
	CommitStateWaitingForFirstDraw: {CommitStateIdle, CommitStateFrameInProgress},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s CommitState) CanTransitionTo(next CommitState) bool {
	for _, allowed := range ValidCommitTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TextureState records which thread currently owns the layer textures.
type TextureState string

const (
	TextureStateUnlocked             TextureState = "UNLOCKED"
	TextureStateAcquiredByMainThread TextureState = "ACQUIRED_BY_MAIN_THREAD"
	TextureStateAcquiredByImplThread TextureState = "ACQUIRED_BY_IMPL_THREAD"
)

// String returns the string representation of the texture state.
func (s TextureState) String() string {
	return string(s)
}

// ContextState is the lifecycle of the graphics context.
type ContextState string

const (
	ContextStateActive     ContextState = "ACTIVE"
	ContextStateLost       ContextState = "LOST"
	ContextStateRecreating ContextState = "RECREATING"
)

// String returns the string representation of the context state.
func (s ContextState) String() string {
	return string(s)
}

// ValidContextTransitions defines the allowed context lifecycle transitions.
var ValidContextTransitions = map[ContextState][]ContextState{
	ContextStateActive:     {ContextStateLost},
	ContextStateLost:       {ContextStateRecreating},
	ContextStateRecreating: {ContextStateActive},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s ContextState) CanTransitionTo(next ContextState) bool {
	for _, allowed := range ValidContextTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
