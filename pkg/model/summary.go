package model

// ActionSummary counts dispatched actions by kind.
type ActionSummary struct {
	Total                int `json:"total"`
	BeginFrame           int `json:"begin_frame"`
	UpdateMoreResources  int `json:"update_more_resources"`
	Commit               int `json:"commit"`
	DrawForced           int `json:"draw_forced"`
	DrawIfPossible       int `json:"draw_if_possible"`
	ContextRecreation    int `json:"context_recreation"`
	AcquireLayerTextures int `json:"acquire_layer_textures"`
}

// Add counts one action. ActionNone and unknown actions are ignored.
func (s *ActionSummary) Add(a Action, n int) {
	switch a {
	case ActionBeginFrame:
		s.BeginFrame += n
	case ActionBeginUpdateMoreResources:
		s.UpdateMoreResources += n
	case ActionCommit:
		s.Commit += n
	case ActionDrawForced:
		s.DrawForced += n
	case ActionDrawIfPossible:
		s.DrawIfPossible += n
	case ActionBeginContextRecreation:
		s.ContextRecreation += n
	case ActionAcquireLayerTexturesForMainThread:
		s.AcquireLayerTextures += n
	default:
		return
	}
	s.Total += n
}

// Draws returns the number of draw actions of either kind.
func (s ActionSummary) Draws() int {
	return s.DrawForced + s.DrawIfPossible
}

// ComputeActionSummary tallies a slice of action records.
func ComputeActionSummary(records []ActionRecord) ActionSummary {
	var s ActionSummary
	for _, r := range records {
		s.Add(r.Action, 1)
	}
	return s
}
