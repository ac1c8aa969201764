package action

import (
	"context"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"
)

func TestGoalLifecycle(t *testing.T) {
	logger := golog.NewTestLogger(t)
	ctx := context.Background()

	s := NewServer("count_to", logger)
	test.That(t, s.Name(), test.ShouldEqual, "count_to")

	_, err := s.SendGoal(ctx, 3)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no goal callback")

	s.RegisterGoalCallback(func(ctx context.Context, g *Goal) {
		n := g.Request.(int)
		for i := 0; i < n; i++ {
			g.PublishFeedback(i)
		}
		g.Succeed(n, "counted")
	})

	h, err := s.SendGoal(ctx, 3)
	test.That(t, err, test.ShouldBeNil)

	var fbs []interface{}
	for fb := range h.Feedback() {
		fbs = append(fbs, fb)
	}
	test.That(t, fbs, test.ShouldResemble, []interface{}{0, 1, 2})

	res, err := h.Result(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, GoalStatusSucceeded)
	test.That(t, res.Response, test.ShouldEqual, 3)
	test.That(t, res.Message, test.ShouldEqual, "counted")

	test.That(t, s.Close(ctx), test.ShouldBeNil)
	_, err = s.SendGoal(ctx, 1)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "closed")
}

func TestGoalPreemption(t *testing.T) {
	logger := golog.NewTestLogger(t)
	ctx := context.Background()

	preempts := 0
	started := make(chan struct{})
	s := NewServer("wait", logger)
	s.RegisterGoalCallback(func(ctx context.Context, g *Goal) {
		close(started)
		<-ctx.Done()
		g.Preempt(nil, "stopped")
	})
	s.RegisterPreemptCallback(func() { preempts++ })

	h, err := s.SendGoal(ctx, nil)
	test.That(t, err, test.ShouldBeNil)
	<-started
	s.Preempt()

	res, err := h.Result(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, GoalStatusPreempted)
	test.That(t, preempts, test.ShouldEqual, 1)
	test.That(t, s.Close(ctx), test.ShouldBeNil)
}

func TestNewGoalPreemptsActive(t *testing.T) {
	logger := golog.NewTestLogger(t)
	ctx := context.Background()

	s := NewServer("wait", logger)
	s.RegisterGoalCallback(func(ctx context.Context, g *Goal) {
		if g.Request == nil {
			<-ctx.Done()
			g.Preempt(nil, "stopped")
			return
		}
		g.Succeed(g.Request, "done")
	})

	h1, err := s.SendGoal(ctx, nil)
	test.That(t, err, test.ShouldBeNil)

	h2, err := s.SendGoal(ctx, "fast")
	test.That(t, err, test.ShouldBeNil)

	res1, err := h1.Result(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res1.Status, test.ShouldEqual, GoalStatusPreempted)

	res2, err := h2.Result(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res2.Status, test.ShouldEqual, GoalStatusSucceeded)
	test.That(t, res2.Response, test.ShouldEqual, "fast")
	test.That(t, s.Close(ctx), test.ShouldBeNil)
}

func TestConcurrentSendGoal(t *testing.T) {
	logger := golog.NewTestLogger(t)
	ctx := context.Background()

	s := NewServer("wait", logger)
	s.RegisterGoalCallback(func(ctx context.Context, g *Goal) {
		<-ctx.Done()
		// linger after cancellation so concurrent senders all observe this
		// goal as the one to wait out
		time.Sleep(20 * time.Millisecond)
		g.Preempt(nil, "stopped")
	})

	first, err := s.SendGoal(ctx, nil)
	test.That(t, err, test.ShouldBeNil)

	type sent struct {
		handle *GoalHandle
		err    error
	}
	results := make(chan sent, 4)
	for i := 0; i < 4; i++ {
		go func() {
			h, err := s.SendGoal(ctx, nil)
			results <- sent{h, err}
		}()
	}
	handles := []*GoalHandle{first}
	for i := 0; i < 4; i++ {
		got := <-results
		test.That(t, got.err, test.ShouldBeNil)
		handles = append(handles, got.handle)
	}
	s.Preempt()

	// every goal must reach a terminal state; none may be orphaned
	for _, h := range handles {
		resCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		res, err := h.Result(resCtx)
		cancel()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Status, test.ShouldEqual, GoalStatusPreempted)
	}

	closeErr := make(chan error, 1)
	go func() {
		closeErr <- s.Close(ctx)
	}()
	select {
	case err := <-closeErr:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("server close never returned")
	}
}

func TestCallbackWithoutTerminalState(t *testing.T) {
	logger := golog.NewTestLogger(t)
	ctx := context.Background()

	s := NewServer("noop", logger)
	s.RegisterGoalCallback(func(ctx context.Context, g *Goal) {})

	h, err := s.SendGoal(ctx, nil)
	test.That(t, err, test.ShouldBeNil)
	res, err := h.Result(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, GoalStatusAborted)
	test.That(t, res.Message, test.ShouldContainSubstring, "without a terminal state")
	test.That(t, s.Close(ctx), test.ShouldBeNil)
}

func TestResultRespectsContext(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s := NewServer("wait", logger)
	s.RegisterGoalCallback(func(ctx context.Context, g *Goal) {
		<-ctx.Done()
		g.Preempt(nil, "stopped")
	})

	h, err := s.SendGoal(context.Background(), nil)
	test.That(t, err, test.ShouldBeNil)

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = h.Result(timeoutCtx)
	test.That(t, err, test.ShouldBeError, context.DeadlineExceeded)
	test.That(t, s.Close(context.Background()), test.ShouldBeNil)
}
