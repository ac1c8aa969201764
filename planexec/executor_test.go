package planexec

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/taskexec/model"
	"go.viam.com/taskexec/scene"
)

type fakeController struct {
	name   string
	joints []string
	err    error

	mu       sync.Mutex
	commands []map[string]float64
}

func (fc *fakeController) Name() string     { return fc.name }
func (fc *fakeController) Joints() []string { return fc.joints }

func (fc *fakeController) MoveToJointPositions(ctx context.Context, positions map[string]float64) error {
	if fc.err != nil {
		return fc.err
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.commands = append(fc.commands, positions)
	return nil
}

func (fc *fakeController) commandCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.commands)
}

func (fc *fakeController) lastCommand() map[string]float64 {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.commands) == 0 {
		return nil
	}
	return fc.commands[len(fc.commands)-1]
}

func armModel(t *testing.T) *model.Model {
	t.Helper()
	joints := []model.Joint{
		{Name: "shoulder", Type: model.JointTypeRevolute, Limit: model.Limit{Min: -3, Max: 3}},
		{Name: "elbow", Type: model.JointTypeRevolute, Limit: model.Limit{Min: -3, Max: 3}},
	}
	g, err := model.NewGroup("arm", joints)
	test.That(t, err, test.ShouldBeNil)
	m, err := model.NewModel("bot", joints, g)
	test.That(t, err, test.ShouldBeNil)
	return m
}

func TestTrajectoryValidate(t *testing.T) {
	m := armModel(t)
	traj := &Trajectory{
		Group:      m.Group("arm"),
		JointNames: []string{"shoulder", "elbow"},
		Points: []Point{
			{Positions: []float64{0, 0}},
			{Positions: []float64{1, -1}, TimeFromStart: time.Second},
		},
	}
	test.That(t, traj.Validate(), test.ShouldBeNil)
	test.That(t, (&Trajectory{}).Validate(), test.ShouldBeNil)

	bad := *traj
	bad.Group = nil
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = *traj
	bad.Points = []Point{{Positions: []float64{0, 99}}}
	err := bad.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "outside limits")

	bad = *traj
	bad.JointNames = []string{"shoulder", "tail"}
	err = bad.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not in group")

	bad = *traj
	bad.Points = []Point{
		{Positions: []float64{0, 0}, TimeFromStart: time.Second},
		{Positions: []float64{0, 0}},
	}
	err = bad.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "backwards")

	bad = *traj
	bad.Points = []Point{{Positions: []float64{0, 0}, Velocities: []float64{1}}}
	err = bad.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "velocities")
}

func TestInterpolate(t *testing.T) {
	from := []float64{0, 10}
	to := []float64{1, 20}
	test.That(t, interpolate(from, to, 0), test.ShouldResemble, from)
	test.That(t, interpolate(from, to, 1), test.ShouldResemble, to)
	test.That(t, interpolate(from, to, 0.5), test.ShouldResemble, []float64{0.5, 15})
}

func TestExecuteAndMonitor(t *testing.T) {
	logger := golog.NewTestLogger(t)
	ctx := context.Background()
	m := armModel(t)

	makePlan := func(effects *[]string) *Plan {
		note := func(what string) func(context.Context) error {
			return func(context.Context) error {
				*effects = append(*effects, what)
				return nil
			}
		}
		return &Plan{Components: []ExecutableTrajectory{
			{
				Description: "1/2",
				Trajectory: &Trajectory{
					Group:      m.Group("arm"),
					JointNames: []string{"shoulder", "elbow"},
					Points: []Point{
						{Positions: []float64{0, 0}},
						{Positions: []float64{1, -1}},
					},
				},
				OnSuccess: note("move"),
			},
			{
				// a scene-effect-only component has no trajectory
				Description: "2/2",
				OnSuccess:   note("attach"),
			},
		}}
	}

	t.Run("success applies effects in order", func(t *testing.T) {
		fc := &fakeController{name: "arm_controller", joints: []string{"shoulder", "elbow"}}
		mon := scene.NewMonitor(m, logger)
		exec := NewExecutor([]Controller{fc}, mon, logger)

		var effects []string
		test.That(t, exec.ExecuteAndMonitor(ctx, makePlan(&effects)), test.ShouldEqual, StatusSuccess)
		test.That(t, effects, test.ShouldResemble, []string{"move", "attach"})
		test.That(t, fc.lastCommand(), test.ShouldResemble, map[string]float64{"shoulder": 1, "elbow": -1})
		test.That(t, mon.CurrentState(), test.ShouldResemble, scene.State{"shoulder": 1, "elbow": -1})
	})

	t.Run("unknown controller name fails control", func(t *testing.T) {
		fc := &fakeController{name: "arm_controller", joints: []string{"shoulder", "elbow"}}
		exec := NewExecutor([]Controller{fc}, nil, logger)
		var effects []string
		plan := makePlan(&effects)
		plan.Components[0].ControllerNames = []string{"left_arm_controller"}
		test.That(t, exec.ExecuteAndMonitor(ctx, plan), test.ShouldEqual, StatusControlFailed)
		test.That(t, effects, test.ShouldHaveLength, 0)
	})

	t.Run("uncovered joint fails control", func(t *testing.T) {
		fc := &fakeController{name: "shoulder_only", joints: []string{"shoulder"}}
		exec := NewExecutor([]Controller{fc}, nil, logger)
		var effects []string
		test.That(t, exec.ExecuteAndMonitor(ctx, makePlan(&effects)), test.ShouldEqual, StatusControlFailed)
	})

	t.Run("controller error fails control", func(t *testing.T) {
		fc := &fakeController{
			name:   "arm_controller",
			joints: []string{"shoulder", "elbow"},
			err:    errors.New("undervoltage"),
		}
		exec := NewExecutor([]Controller{fc}, nil, logger)
		var effects []string
		test.That(t, exec.ExecuteAndMonitor(ctx, makePlan(&effects)), test.ShouldEqual, StatusControlFailed)
	})

	t.Run("cancelled context preempts effect-only components", func(t *testing.T) {
		exec := NewExecutor(nil, nil, logger)
		effectRan := false
		plan := &Plan{Components: []ExecutableTrajectory{{
			Description: "1/1",
			OnSuccess: func(context.Context) error {
				effectRan = true
				return nil
			},
		}}}
		cancelledCtx, cancel := context.WithCancel(ctx)
		cancel()
		test.That(t, exec.ExecuteAndMonitor(cancelledCtx, plan), test.ShouldEqual, StatusPreempted)
		test.That(t, effectRan, test.ShouldBeFalse)
	})

	t.Run("effect error fails the plan", func(t *testing.T) {
		fc := &fakeController{name: "arm_controller", joints: []string{"shoulder", "elbow"}}
		exec := NewExecutor([]Controller{fc}, nil, logger)
		var effects []string
		plan := makePlan(&effects)
		plan.Components[1].OnSuccess = func(context.Context) error {
			return errors.New("scene rejected diff")
		}
		test.That(t, exec.ExecuteAndMonitor(ctx, plan), test.ShouldEqual, StatusFailed)
		test.That(t, effects, test.ShouldResemble, []string{"move"})
	})
}

func TestExecutePreemption(t *testing.T) {
	logger := golog.NewTestLogger(t)
	m := armModel(t)
	fc := &fakeController{name: "arm_controller", joints: []string{"shoulder", "elbow"}}
	exec := NewExecutor([]Controller{fc}, nil, logger).(*executor)
	// a mock clock never fires the pacing timer unless advanced, so the
	// executor parks between the two waypoints below
	exec.clock = clock.NewMock()

	plan := &Plan{Components: []ExecutableTrajectory{{
		Description: "1/1",
		Trajectory: &Trajectory{
			Group:      m.Group("arm"),
			JointNames: []string{"shoulder", "elbow"},
			Points: []Point{
				{Positions: []float64{0, 0}},
				{Positions: []float64{1, 1}, TimeFromStart: time.Minute},
			},
		},
	}}}

	result := make(chan Status, 1)
	go func() {
		result <- exec.ExecuteAndMonitor(context.Background(), plan)
	}()

	// the first waypoint is commanded immediately; then it waits
	for fc.commandCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	exec.Stop()
	test.That(t, <-result, test.ShouldEqual, StatusPreempted)
}

func TestStatusString(t *testing.T) {
	test.That(t, StatusSuccess.String(), test.ShouldEqual, "success")
	test.That(t, StatusInvalidPlan.String(), test.ShouldEqual, "invalid motion plan")
	test.That(t, Status(42).String(), test.ShouldEqual, "unspecified")
}
