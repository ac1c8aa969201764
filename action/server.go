// Package action provides an in-process asynchronous goal protocol: clients
// send goals to a named server, stream feedback while the goal runs, and
// receive a terminal result. One goal is active at a time; a newer goal
// preempts the one in flight.
package action

import (
	"context"
	"sync"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// GoalStatus is the terminal disposition of a goal.
type GoalStatus int

// The terminal goal states.
const (
	GoalStatusUnknown = GoalStatus(iota)
	GoalStatusSucceeded
	GoalStatusPreempted
	GoalStatusAborted
)

func (s GoalStatus) String() string {
	switch s {
	case GoalStatusSucceeded:
		return "succeeded"
	case GoalStatusPreempted:
		return "preempted"
	case GoalStatusAborted:
		return "aborted"
	case GoalStatusUnknown:
		fallthrough
	default:
		return "unknown"
	}
}

// A Result is the terminal outcome of a goal.
type Result struct {
	Status   GoalStatus
	Response interface{}
	Message  string
}

// A GoalCallback processes one goal. It must terminate the goal through
// Succeed, Abort, or Preempt before returning; if it does not, the goal is
// aborted.
type GoalCallback func(ctx context.Context, goal *Goal)

// A Server accepts goals for a single named action and runs them through a
// registered goal callback, one at a time.
type Server struct {
	name    string
	logger  golog.Logger
	execute GoalCallback
	preempt func()

	mu                      sync.Mutex
	active                  *Goal
	closed                  bool
	activeBackgroundWorkers sync.WaitGroup
}

// NewServer creates an action server for the named action.
func NewServer(name string, logger golog.Logger) *Server {
	return &Server{name: name, logger: logger}
}

// Name returns the action name the server serves.
func (s *Server) Name() string {
	return s.name
}

// RegisterGoalCallback sets the callback that processes each goal. It must be
// called before the first goal is sent.
func (s *Server) RegisterGoalCallback(cb GoalCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execute = cb
}

// RegisterPreemptCallback sets a callback invoked whenever a goal is
// preempted, before the active goal's context is cancelled.
func (s *Server) RegisterPreemptCallback(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preempt = cb
}

// SendGoal submits a request for asynchronous processing. Any goal already
// in flight is preempted and waited for first.
func (s *Server) SendGoal(ctx context.Context, request interface{}) (*GoalHandle, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, errors.Errorf("action server %q is closed", s.name)
		}
		execute := s.execute
		if execute == nil {
			s.mu.Unlock()
			return nil, errors.Errorf("action server %q has no goal callback", s.name)
		}
		prev := s.active
		if prev == nil {
			// install while still holding the lock that observed no active
			// goal; concurrent senders must re-check, not race us here
			goalCtx, cancel := context.WithCancel(context.Background())
			goal := &Goal{
				ID:      uuid.New(),
				Request: request,
				server:  s,
				cancel:  cancel,
				handle: &GoalHandle{
					feedback: make(chan interface{}, 16),
					done:     make(chan struct{}),
				},
			}
			goal.handle.goal = goal
			s.active = goal
			s.activeBackgroundWorkers.Add(1)
			s.mu.Unlock()

			s.logger.Debugw("goal accepted", "action", s.name, "goal_id", goal.ID)
			goutils.PanicCapturingGo(func() {
				defer s.activeBackgroundWorkers.Done()
				defer s.finishGoal(goal)
				execute(goalCtx, goal)
			})
			return goal.handle, nil
		}
		s.mu.Unlock()

		s.preemptGoal(prev)
		if _, err := prev.handle.Result(ctx); err != nil {
			return nil, errors.Wrap(err, "waiting for preempted goal")
		}
		// another sender may have installed a goal while we waited
	}
}

// Preempt requests cancellation of the active goal, if any.
func (s *Server) Preempt() {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil {
		s.preemptGoal(active)
	}
}

func (s *Server) preemptGoal(g *Goal) {
	s.mu.Lock()
	preempt := s.preempt
	s.mu.Unlock()
	s.logger.Debugw("preempting goal", "action", s.name, "goal_id", g.ID)
	g.markPreemptRequested()
	if preempt != nil {
		preempt()
	}
	g.cancel()
}

func (s *Server) finishGoal(g *Goal) {
	// free the active slot before waking any Result waiters so a waiting
	// sender re-observes an empty server, not this finished goal
	s.mu.Lock()
	if s.active == g {
		s.active = nil
	}
	s.mu.Unlock()
	// a callback that returns without terminating the goal aborts it
	if g.terminate(GoalStatusAborted, nil, "goal callback returned without a terminal state") {
		s.logger.Warnw("goal callback returned without a terminal state",
			"action", s.name, "goal_id", g.ID)
	}
	g.cancel()
}

// Close preempts any active goal and waits for it to finish.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	active := s.active
	s.mu.Unlock()

	if active != nil {
		s.preemptGoal(active)
	}
	s.activeBackgroundWorkers.Wait()
	return nil
}
