// Package planexec turns motion plans into robot motion: it represents
// executable plans and drives their trajectories through joint controllers,
// monitoring progress and honoring preemption.
package planexec

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/taskexec/model"
)

// A Point is one timed waypoint of an executable trajectory. Velocities are
// carried for controllers with velocity profiles; the position controllers
// ignore them.
type Point struct {
	Positions     []float64
	Velocities    []float64
	TimeFromStart time.Duration
}

// A Trajectory is a group-bound, timed joint-space path ready for execution.
type Trajectory struct {
	// Group is the kinematic group the trajectory actuates. It may be nil
	// only when the trajectory is empty.
	Group      *model.Group
	JointNames []string
	Points     []Point
}

// Empty returns whether the trajectory commands any motion.
func (t *Trajectory) Empty() bool {
	return t == nil || len(t.Points) == 0
}

// Validate checks the trajectory's arity, timing, and joint limits against
// its group.
func (t *Trajectory) Validate() error {
	if t.Empty() {
		return nil
	}
	if t.Group == nil {
		return errors.New("non-empty trajectory has no group")
	}
	limits := map[string]model.Limit{}
	for _, j := range t.Group.Joints() {
		limits[j.Name] = j.Limit
	}
	var last time.Duration
	for i, pt := range t.Points {
		if len(pt.Positions) != len(t.JointNames) {
			return errors.Errorf("point %d has %d positions for %d joints", i, len(pt.Positions), len(t.JointNames))
		}
		if len(pt.Velocities) != 0 && len(pt.Velocities) != len(t.JointNames) {
			return errors.Errorf("point %d has %d velocities for %d joints", i, len(pt.Velocities), len(t.JointNames))
		}
		if pt.TimeFromStart < last {
			return errors.Errorf("point %d moves backwards in time", i)
		}
		last = pt.TimeFromStart
		for j, name := range t.JointNames {
			limit, ok := limits[name]
			if !ok {
				return errors.Errorf("joint %q is not in group %q", name, t.Group.Name())
			}
			if limit.Min == limit.Max {
				continue
			}
			if pos := pt.Positions[j]; pos < limit.Min || pos > limit.Max {
				return errors.Errorf("point %d puts joint %q at %f, outside limits [%f, %f]",
					i, name, pos, limit.Min, limit.Max)
			}
		}
	}
	return nil
}

// interpolate returns positions a fraction of the way from one waypoint to
// the next. by is clamped to [0, 1].
func interpolate(from, to []float64, by float64) []float64 {
	if by <= 0 {
		out := make([]float64, len(from))
		copy(out, from)
		return out
	}
	if by >= 1 {
		out := make([]float64, len(to))
		copy(out, to)
		return out
	}
	diff := make([]float64, len(from))
	floats.SubTo(diff, to, from)
	out := make([]float64, len(from))
	copy(out, from)
	floats.AddScaled(out, by, diff)
	return out
}

// An ExecutableTrajectory is one component of an executable motion plan: a
// trajectory, the controllers that should run it, and an effect to apply
// once it has executed.
type ExecutableTrajectory struct {
	// Description identifies the component in logs and errors, e.g. "2/5".
	Description string
	Trajectory  *Trajectory
	// ControllerNames selects controllers by name. When empty, controllers
	// are selected by claimed-joint coverage.
	ControllerNames []string
	// OnSuccess runs after the trajectory finishes and before the next
	// component starts. An error here fails the plan.
	OnSuccess func(ctx context.Context) error
}

// A Plan is an ordered sequence of executable trajectories.
type Plan struct {
	Components []ExecutableTrajectory
}

// An Executor executes motion plans. Only one plan runs at a time.
type Executor interface {
	// ExecuteAndMonitor runs the plan to completion, applying each
	// component's effect as it finishes, and reports the outcome.
	ExecuteAndMonitor(ctx context.Context, plan *Plan) Status
	// Stop preempts the currently executing plan, if any.
	Stop()
}
