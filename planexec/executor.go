package planexec

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/taskexec/scene"
)

// A Controller drives a subset of the robot's joints to commanded positions.
type Controller interface {
	Name() string
	// Joints returns the names of the joints the controller claims.
	Joints() []string
	// MoveToJointPositions commands the named joints. Joints outside the
	// controller's claim are not included.
	MoveToJointPositions(ctx context.Context, positions map[string]float64) error
}

// default pacing period for commands between waypoints.
const defaultUpdateRate = 20 * time.Millisecond

type executor struct {
	controllers []Controller
	monitor     *scene.Monitor
	logger      golog.Logger
	clock       clock.Clock
	updateRate  time.Duration

	mu        sync.Mutex
	currentOp *operation
}

type operation struct {
	cancel context.CancelFunc
}

// NewExecutor returns an executor that dispatches plan components to the
// given controllers, paced by each trajectory's timestamps. Executed
// positions are mirrored into the scene monitor.
func NewExecutor(controllers []Controller, monitor *scene.Monitor, logger golog.Logger) Executor {
	return &executor{
		controllers: controllers,
		monitor:     monitor,
		logger:      logger,
		clock:       clock.New(),
		updateRate:  defaultUpdateRate,
	}
}

// Stop preempts the currently executing plan, if any.
func (e *executor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentOp != nil {
		e.currentOp.cancel()
	}
}

// newOp registers a new execution, preempting any execution in flight.
func (e *executor) newOp(ctx context.Context) (context.Context, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentOp != nil {
		e.currentOp.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	op := &operation{cancel: cancel}
	e.currentOp = op
	return ctx, func() {
		cancel()
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.currentOp == op {
			e.currentOp = nil
		}
	}
}

func (e *executor) ExecuteAndMonitor(ctx context.Context, plan *Plan) Status {
	ctx, finish := e.newOp(ctx)
	defer finish()

	for _, comp := range plan.Components {
		// observe preemption between components too; an effect-only
		// component must not apply after a stop
		if ctx.Err() != nil {
			e.logger.Infow("execution preempted", "component", comp.Description)
			return StatusPreempted
		}
		if !comp.Trajectory.Empty() {
			ctrls, err := e.selectControllers(&comp)
			if err != nil {
				e.logger.Errorw("cannot execute plan component", "component", comp.Description, "error", err)
				return StatusControlFailed
			}
			if err := e.executeTrajectory(ctx, comp.Trajectory, ctrls); err != nil {
				if ctx.Err() != nil {
					e.logger.Infow("execution preempted", "component", comp.Description)
					return StatusPreempted
				}
				e.logger.Errorw("execution failed", "component", comp.Description, "error", err)
				return StatusControlFailed
			}
		}
		if comp.OnSuccess != nil {
			if err := comp.OnSuccess(ctx); err != nil {
				e.logger.Errorw("post-execution effect failed", "component", comp.Description, "error", err)
				return StatusFailed
			}
		}
	}
	return StatusSuccess
}

// selectControllers resolves the controllers for a component, by name when
// names are given, otherwise by claimed-joint coverage. Every trajectory
// joint must be claimed by some selected controller.
func (e *executor) selectControllers(comp *ExecutableTrajectory) ([]Controller, error) {
	var selected []Controller
	if len(comp.ControllerNames) != 0 {
		byName := map[string]Controller{}
		for _, c := range e.controllers {
			byName[c.Name()] = c
		}
		for _, name := range comp.ControllerNames {
			c, ok := byName[name]
			if !ok {
				return nil, errors.Errorf("no controller named %q", name)
			}
			selected = append(selected, c)
		}
	} else {
		needed := map[string]bool{}
		for _, name := range comp.Trajectory.JointNames {
			needed[name] = true
		}
		for _, c := range e.controllers {
			for _, j := range c.Joints() {
				if needed[j] {
					selected = append(selected, c)
					break
				}
			}
		}
	}

	claimed := map[string]bool{}
	for _, c := range selected {
		for _, j := range c.Joints() {
			claimed[j] = true
		}
	}
	for _, name := range comp.Trajectory.JointNames {
		if !claimed[name] {
			return nil, errors.Errorf("no selected controller claims joint %q", name)
		}
	}
	return selected, nil
}

func (e *executor) executeTrajectory(ctx context.Context, traj *Trajectory, ctrls []Controller) error {
	var prevTime time.Duration
	prevPos := traj.Points[0].Positions
	for _, pt := range traj.Points {
		delta := pt.TimeFromStart - prevTime
		if delta > 0 {
			// pace toward the waypoint, commanding interpolated positions
			steps := int(delta / e.updateRate)
			for s := 1; s <= steps; s++ {
				if !e.waitFor(ctx, e.updateRate) {
					return ctx.Err()
				}
				elapsed := time.Duration(s) * e.updateRate
				cmd := interpolate(prevPos, pt.Positions, float64(elapsed)/float64(delta))
				if err := e.command(ctx, traj.JointNames, cmd, ctrls); err != nil {
					return err
				}
			}
			if rem := delta - time.Duration(steps)*e.updateRate; rem > 0 {
				if !e.waitFor(ctx, rem) {
					return ctx.Err()
				}
			}
		}
		if err := e.command(ctx, traj.JointNames, pt.Positions, ctrls); err != nil {
			return err
		}
		prevTime = pt.TimeFromStart
		prevPos = pt.Positions
	}
	return nil
}

// command dispatches one set of joint positions to the controllers and
// mirrors it into the scene.
func (e *executor) command(ctx context.Context, jointNames []string, positions []float64, ctrls []Controller) error {
	full := make(map[string]float64, len(jointNames))
	for i, name := range jointNames {
		full[name] = positions[i]
	}
	for _, c := range ctrls {
		sub := map[string]float64{}
		for _, j := range c.Joints() {
			if pos, ok := full[j]; ok {
				sub[j] = pos
			}
		}
		if len(sub) == 0 {
			continue
		}
		if err := c.MoveToJointPositions(ctx, sub); err != nil {
			return errors.Wrapf(err, "controller %q", c.Name())
		}
	}
	if e.monitor != nil {
		if err := e.monitor.SetJointPositions(scene.State(full)); err != nil {
			return errors.Wrap(err, "updating scene state")
		}
	}
	return nil
}

func (e *executor) waitFor(ctx context.Context, d time.Duration) bool {
	timer := e.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
