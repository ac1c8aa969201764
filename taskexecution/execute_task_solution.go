// Package taskexecution implements the execute_task_solution capability: it
// accepts a pre-computed multi-stage task solution from an upstream task
// planner, translates it into an executable motion plan, and drives the
// motion server's plan executor, relaying progress and the final status back
// over the action protocol.
package taskexecution

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/taskexec/action"
	"go.viam.com/taskexec/capability"
	"go.viam.com/taskexec/planexec"
	"go.viam.com/taskexec/scene"
	"go.viam.com/taskexec/solution"
)

// CapabilityName is the name the capability registers under; ActionName is
// the action it serves.
const (
	CapabilityName = "execute_task_solution"
	ActionName     = "execute_task_solution"
)

// startStateTolerance is how far, in joint units, a segment's first waypoint
// may sit from the tracked robot state before we warn about a discontinuity.
const startStateTolerance = 1e-3

func init() {
	capability.Register(CapabilityName, func(cfg capability.Config, logger golog.Logger) (capability.Capability, error) {
		return New(cfg, logger)
	})
}

// AttrConfig is the capability's configuration.
type AttrConfig struct {
	// DefaultControllers execute segments whose execution info names no
	// controllers.
	DefaultControllers []string `json:"default_controllers"`
}

// Feedback reports per-segment progress to action clients.
type Feedback struct {
	// SubID is the index of the segment that just finished executing.
	SubID int `json:"sub_id"`
	// SubNo is the total number of segments in the solution.
	SubNo int `json:"sub_no"`
}

// Result is the terminal response of an execute_task_solution goal.
type Result struct {
	Code planexec.Status `json:"code"`
}

type taskExecution struct {
	cfg    AttrConfig
	logger golog.Logger
	host   capability.Host
	server *action.Server
}

// New constructs the capability from config.
func New(cfg capability.Config, logger golog.Logger) (capability.Capability, error) {
	var attrs AttrConfig
	if cfg.Attributes != nil {
		if err := cfg.Attributes.Decode(&attrs); err != nil {
			return nil, errors.Wrap(err, "decoding attributes")
		}
	}
	return &taskExecution{cfg: attrs, logger: logger}, nil
}

// Name returns the capability's registered name.
func (te *taskExecution) Name() string {
	return CapabilityName
}

// Initialize configures the action server and wires it into the host.
func (te *taskExecution) Initialize(ctx context.Context, host capability.Host) error {
	te.host = host
	te.server = action.NewServer(ActionName, te.logger)
	te.server.RegisterGoalCallback(te.execGoal)
	te.server.RegisterPreemptCallback(func() {
		if executor := te.host.PlanExecutor(); executor != nil {
			executor.Stop()
		}
	})
	return host.RegisterActionServer(te.server)
}

// Close shuts down the action server, preempting any goal in flight.
func (te *taskExecution) Close(ctx context.Context) error {
	if te.server == nil {
		return nil
	}
	return te.server.Close(ctx)
}

func (te *taskExecution) execGoal(ctx context.Context, goal *action.Goal) {
	sol, ok := goal.Request.(*solution.Solution)
	if !ok {
		goal.Abort(&Result{Code: planexec.StatusInvalidPlan},
			fmt.Sprintf("expected a task solution, got %T", goal.Request))
		return
	}

	executor := te.host.PlanExecutor()
	if executor == nil {
		goal.Abort(&Result{Code: planexec.StatusControlFailed},
			"cannot execute solution; trajectory execution is disabled")
		return
	}

	plan, err := te.constructMotionPlan(sol, goal)
	if err != nil {
		te.logger.Errorw("could not construct motion plan", "task", sol.TaskID, "error", err)
		goal.Abort(&Result{Code: planexec.StatusInvalidPlan}, err.Error())
		return
	}

	te.logger.Infow("executing task solution", "task", sol.TaskID, "segments", len(plan.Components))
	status := executor.ExecuteAndMonitor(ctx, plan)

	result := &Result{Code: status}
	switch status {
	case planexec.StatusSuccess:
		goal.Succeed(result, status.String())
	case planexec.StatusPreempted:
		goal.Preempt(result, status.String())
	default:
		goal.Abort(result, status.String())
	}
}

// constructMotionPlan translates a solution message into an executable motion
// plan. It performs no execution and no scene writes; intermediate robot
// states are tracked only to validate each segment against its start state.
func (te *taskExecution) constructMotionPlan(sol *solution.Solution, goal *action.Goal) (*planexec.Plan, error) {
	if err := sol.Validate("solution"); err != nil {
		return nil, err
	}

	m := te.host.Model()
	monitor := te.host.SceneMonitor()
	state := monitor.CurrentState()

	subNo := len(sol.SubTrajectories)
	plan := &planexec.Plan{Components: make([]planexec.ExecutableTrajectory, 0, subNo)}
	for i, sub := range sol.SubTrajectories {
		description := fmt.Sprintf("%d/%d", i+1, subNo)

		traj := &planexec.Trajectory{}
		jointNames := sub.Trajectory.JointNames
		if len(jointNames) != 0 {
			group := m.FindGroup(jointNames)
			if group == nil {
				return nil, errors.Errorf("could not find joint group that actuates {%s}",
					strings.Join(jointNames, ", "))
			}
			te.logger.Debugw("using joint group for execution", "group", group.Name(), "segment", description)
			traj.Group = group
			traj.JointNames = jointNames
			for _, pt := range sub.Trajectory.Points {
				traj.Points = append(traj.Points, planexec.Point{
					Positions:     pt.Positions,
					Velocities:    pt.Velocities,
					TimeFromStart: pt.TimeFromStart,
				})
			}
			if err := traj.Validate(); err != nil {
				return nil, errors.Wrapf(err, "invalid trajectory in segment %s", description)
			}
			for j, name := range jointNames {
				expected, ok := state[name]
				if !ok {
					continue
				}
				if math.Abs(traj.Points[0].Positions[j]-expected) > startStateTolerance {
					te.logger.Warnw("segment does not start at the expected robot state",
						"segment", description, "joint", name,
						"expected", expected, "got", traj.Points[0].Positions[j])
				}
			}
		}

		controllerNames := sub.Info.ControllerNames
		if len(controllerNames) == 0 {
			controllerNames = te.cfg.DefaultControllers
		}

		diff := sub.SceneDiff
		plan.Components = append(plan.Components, planexec.ExecutableTrajectory{
			Description:     description,
			Trajectory:      traj,
			ControllerNames: controllerNames,
			OnSuccess:       te.successEffect(goal, diff, description, i, subNo),
		})

		// track the intermediate robot state so later segments are checked
		// against the state this one leaves behind
		if len(traj.Points) != 0 {
			last := traj.Points[len(traj.Points)-1]
			for j, name := range traj.JointNames {
				state[name] = last.Positions[j]
			}
		}
		if diff != nil && !diff.State.Empty() {
			if err := monitor.ValidateState(diff.State.Joints); err != nil {
				return nil, errors.Wrapf(err, "invalid intermediate robot state in scene diff of segment %s", description)
			}
			for name, pos := range diff.State.Joints {
				state[name] = pos
			}
		}
	}
	return plan, nil
}

// successEffect builds the effect applied after a segment executes: publish
// progress feedback, then apply the segment's scene diff. The diff's robot
// state is scrubbed first; joint state only ever changes via trajectories.
func (te *taskExecution) successEffect(
	goal *action.Goal,
	diff *scene.Diff,
	description string,
	subID, subNo int,
) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		goal.PublishFeedback(&Feedback{SubID: subID, SubNo: subNo})

		if diff == nil {
			return nil
		}
		scrubbed := *diff
		scrubbed.State = nil
		if scrubbed.Empty() {
			return nil
		}
		te.logger.Debugw("applying scene diff", "segment", description)
		return te.host.SceneMonitor().ApplyDiff(&scrubbed)
	}
}
