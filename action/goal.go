package action

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// A Goal is one in-flight request on an action server. The goal callback
// publishes feedback through it and must terminate it exactly once.
type Goal struct {
	ID      uuid.UUID
	Request interface{}

	server *Server
	handle *GoalHandle
	cancel context.CancelFunc

	preemptRequested atomic.Bool

	mu         sync.Mutex
	terminated bool
}

// PreemptRequested reports whether someone has asked this goal to stop.
func (g *Goal) PreemptRequested() bool {
	return g.preemptRequested.Load()
}

func (g *Goal) markPreemptRequested() {
	g.preemptRequested.Store(true)
}

// PublishFeedback streams a progress update to the goal's handle. Feedback
// published after termination, or beyond an unread backlog, is dropped.
func (g *Goal) PublishFeedback(fb interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminated {
		return
	}
	select {
	case g.handle.feedback <- fb:
	default:
		g.server.logger.Debugw("dropping unread feedback", "action", g.server.name, "goal_id", g.ID)
	}
}

// Succeed terminates the goal successfully.
func (g *Goal) Succeed(response interface{}, message string) {
	g.terminate(GoalStatusSucceeded, response, message)
}

// Preempt terminates the goal as preempted.
func (g *Goal) Preempt(response interface{}, message string) {
	g.terminate(GoalStatusPreempted, response, message)
}

// Abort terminates the goal as aborted.
func (g *Goal) Abort(response interface{}, message string) {
	g.terminate(GoalStatusAborted, response, message)
}

// terminate records the terminal result once. It reports whether this call
// was the terminating one.
func (g *Goal) terminate(status GoalStatus, response interface{}, message string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminated {
		return false
	}
	g.terminated = true
	g.handle.result = &Result{Status: status, Response: response, Message: message}
	close(g.handle.feedback)
	close(g.handle.done)
	return true
}

// A GoalHandle is the client's view of a goal: a feedback stream and a
// blocking result.
type GoalHandle struct {
	goal     *Goal
	feedback chan interface{}
	done     chan struct{}
	result   *Result
}

// ID returns the goal's ID.
func (h *GoalHandle) ID() uuid.UUID {
	return h.goal.ID
}

// Feedback returns the goal's feedback stream. The channel is closed when
// the goal terminates.
func (h *GoalHandle) Feedback() <-chan interface{} {
	return h.feedback
}

// Result blocks until the goal terminates or the context is done.
func (h *GoalHandle) Result(ctx context.Context) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.result, nil
	}
}
