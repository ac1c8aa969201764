// Package solution defines the message schema an upstream task planner uses
// to describe a multi-stage motion solution: an ordered sequence of
// sub-trajectories, each optionally followed by an incremental scene change.
package solution

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/taskexec/scene"
)

// A TrajectoryPoint is a single timestamped waypoint of a joint trajectory.
type TrajectoryPoint struct {
	Positions     []float64     `json:"positions"`
	Velocities    []float64     `json:"velocities,omitempty"`
	TimeFromStart time.Duration `json:"time_from_start"`
}

// A JointTrajectory is a timed path through joint space for a set of joints.
type JointTrajectory struct {
	JointNames []string          `json:"joint_names"`
	Points     []TrajectoryPoint `json:"points"`
}

// Empty returns whether the trajectory commands any motion.
func (jt *JointTrajectory) Empty() bool {
	return len(jt.JointNames) == 0 || len(jt.Points) == 0
}

// Validate ensures the trajectory is internally consistent.
func (jt *JointTrajectory) Validate(path string) error {
	seen := map[string]bool{}
	for _, name := range jt.JointNames {
		if name == "" {
			return errors.Errorf("%s: empty joint name", path)
		}
		if seen[name] {
			return errors.Errorf("%s: duplicate joint name %q", path, name)
		}
		seen[name] = true
	}
	var last time.Duration
	for i, pt := range jt.Points {
		ppath := fmt.Sprintf("%s.points.%d", path, i)
		if len(pt.Positions) != len(jt.JointNames) {
			return errors.Errorf("%s: have %d positions for %d joints", ppath, len(pt.Positions), len(jt.JointNames))
		}
		if len(pt.Velocities) != 0 && len(pt.Velocities) != len(jt.JointNames) {
			return errors.Errorf("%s: have %d velocities for %d joints", ppath, len(pt.Velocities), len(jt.JointNames))
		}
		if pt.TimeFromStart < last {
			return errors.Errorf("%s: time from start moves backwards", ppath)
		}
		last = pt.TimeFromStart
	}
	return nil
}

// ExecutionInfo carries execution hints for one sub-trajectory.
type ExecutionInfo struct {
	// ControllerNames names the controllers that should execute the segment.
	// When empty, the server chooses.
	ControllerNames []string `json:"controller_names,omitempty"`
}

// A SubTrajectory is one stage of a solution: a trajectory to execute plus an
// optional scene diff to apply once it has executed.
type SubTrajectory struct {
	Info       ExecutionInfo   `json:"info"`
	Trajectory JointTrajectory `json:"trajectory"`
	SceneDiff  *scene.Diff     `json:"scene_diff,omitempty"`
}

// A Solution is an ordered sequence of sub-trajectories produced by an
// upstream task planner.
type Solution struct {
	TaskID          string          `json:"task_id"`
	SubTrajectories []SubTrajectory `json:"sub_trajectories"`
}

// Validate ensures the solution is internally consistent.
func (s *Solution) Validate(path string) error {
	for i, sub := range s.SubTrajectories {
		if err := sub.Trajectory.Validate(fmt.Sprintf("%s.sub_trajectories.%d.trajectory", path, i)); err != nil {
			return err
		}
	}
	return nil
}
