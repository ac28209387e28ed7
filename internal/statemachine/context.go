package statemachine

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/me/ccsched/pkg/model"
)

const (
	eventLoseContext      = "lose_context"
	eventBeginRecreation  = "begin_recreation"
	eventContextRecreated = "context_recreated"
)

// contextEvents names the event that enters each context state.
var contextEvents = map[model.ContextState]string{
	model.ContextStateLost:       eventLoseContext,
	model.ContextStateRecreating: eventBeginRecreation,
	model.ContextStateActive:     eventContextRecreated,
}

// contextLifecycle guards the ACTIVE -> LOST -> RECREATING -> ACTIVE cycle.
// Any event fired from the wrong state is a contract violation.
type contextLifecycle struct {
	fsm *fsm.FSM
}

func newContextLifecycle() *contextLifecycle {
	return &contextLifecycle{
		fsm: fsm.NewFSM(string(model.ContextStateActive), contextFSMEvents(), fsm.Callbacks{}),
	}
}

// contextFSMEvents derives the machine's events from
// model.ValidContextTransitions.
func contextFSMEvents() fsm.Events {
	srcs := make(map[string][]string)
	for from, tos := range model.ValidContextTransitions {
		for _, to := range tos {
			srcs[contextEvents[to]] = append(srcs[contextEvents[to]], string(from))
		}
	}
	var events fsm.Events
	for to, name := range contextEvents {
		if len(srcs[name]) == 0 {
			continue
		}
		events = append(events, fsm.EventDesc{Name: name, Src: srcs[name], Dst: string(to)})
	}
	return events
}

func (c *contextLifecycle) state() model.ContextState {
	return model.ContextState(c.fsm.Current())
}

func (c *contextLifecycle) is(s model.ContextState) bool {
	return c.fsm.Is(string(s))
}

func (c *contextLifecycle) fire(op, event string) {
	from := c.fsm.Current()
	if err := c.fsm.Event(context.Background(), event); err != nil {
		model.Violation(op, from, err.Error())
	}
}
