package script

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/me/ccsched/pkg/model"
)

// client is the scheduler.Client a scenario steers.
type client struct {
	env *env

	canDraw        bool
	failDraws      int
	resourceRounds int
	roundsLeft     int
	autoSwap       bool
	pendingSwaps   int
	hooks          map[model.Action]goja.Callable
}

func newClient(e *env) *client {
	return &client{
		env:      e,
		canDraw:  true,
		autoSwap: true,
		hooks:    make(map[model.Action]goja.Callable),
	}
}

func (c *client) bindings() map[string]any {
	return map[string]any{
		"setCanDraw":        func(can bool) { c.canDraw = can },
		"failDraws":         func(n int) { c.failDraws = n },
		"setResourceRounds": func(n int) { c.resourceRounds = n },
		"autoSwap":          func(on bool) { c.autoSwap = on },
		"on":                c.on,
	}
}

func (c *client) on(name string, fn goja.Value) {
	action := model.Action(name)
	if !action.IsValid() {
		panic(c.env.vm.NewTypeError("client.on: unknown action %q", name))
	}
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		panic(c.env.vm.NewTypeError("client.on: handler for %s is not a function", name))
	}
	c.hooks[action] = callable
}

// completeSwaps finishes the swaps issued since the previous vsync.
func (c *client) completeSwaps() {
	if !c.autoSwap {
		return
	}
	for ; c.pendingSwaps > 0; c.pendingSwaps-- {
		c.env.sched.DidSwapBuffersComplete()
	}
}

// fire runs the scenario's hook for action. A JavaScript exception thrown by
// the hook propagates to the scenario.
func (c *client) fire(action model.Action) {
	fn, ok := c.hooks[action]
	if !ok {
		return
	}
	if _, err := fn(goja.Undefined()); err != nil {
		if ex, ok := err.(*goja.Exception); ok {
			panic(ex.Value())
		}
		panic(c.env.vm.NewGoError(fmt.Errorf("%s hook: %w", action, err)))
	}
}

func (c *client) CanDraw() bool { return c.canDraw }

func (c *client) HasMoreResourceUpdates() bool { return c.roundsLeft > 0 }

func (c *client) ScheduledActionBeginFrame() {
	c.roundsLeft = c.resourceRounds
	c.fire(model.ActionBeginFrame)
}

func (c *client) ScheduledActionUpdateMoreResources(time.Time) {
	if c.roundsLeft > 0 {
		c.roundsLeft--
	}
	c.fire(model.ActionBeginUpdateMoreResources)
}

func (c *client) ScheduledActionCommit() {
	c.roundsLeft = 0
	c.fire(model.ActionCommit)
}

func (c *client) ScheduledActionDrawAndSwapIfPossible() model.DrawResult {
	defer c.fire(model.ActionDrawIfPossible)
	if c.failDraws > 0 {
		c.failDraws--
		return model.DrawResult{}
	}
	c.pendingSwaps++
	return model.DrawResult{DidDraw: true, DidSwap: true}
}

func (c *client) ScheduledActionDrawAndSwapForced() model.DrawResult {
	defer c.fire(model.ActionDrawForced)
	c.pendingSwaps++
	return model.DrawResult{DidDraw: true, DidSwap: true}
}

func (c *client) ScheduledActionBeginContextRecreation() {
	c.fire(model.ActionBeginContextRecreation)
}

func (c *client) ScheduledActionAcquireLayerTexturesForMainThread() {
	c.fire(model.ActionAcquireLayerTexturesForMainThread)
}
