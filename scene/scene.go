// Package scene maintains the motion server's shared model of the robot and
// its environment, with locked read/write access for concurrent users.
package scene

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// A Pose is a position and orientation in the scene's fixed frame.
type Pose struct {
	Point       r3.Vector
	Orientation quat.Number
}

// NewZeroPose returns an identity pose.
func NewZeroPose() Pose {
	return Pose{Orientation: quat.Number{Real: 1}}
}

// NewPoseFromPoint returns a pose at the given point with no rotation.
func NewPoseFromPoint(pt r3.Vector) Pose {
	return Pose{Point: pt, Orientation: quat.Number{Real: 1}}
}

// An Object is a named collision object in the scene.
type Object struct {
	Name string `json:"name"`
	Pose Pose   `json:"pose"`
	// Dims are the dimensions of the object's bounding box, in mm.
	Dims r3.Vector `json:"dims"`
}

// A State maps joint names to positions.
type State map[string]float64

// Clone returns a copy of the state.
func (s State) Clone() State {
	out := make(State, len(s))
	for name, pos := range s {
		out[name] = pos
	}
	return out
}

// A StateDiff is a partial update to the robot's joint state.
type StateDiff struct {
	Joints State `json:"joints"`
}

// Empty returns whether the state diff changes nothing.
func (d *StateDiff) Empty() bool {
	return d == nil || len(d.Joints) == 0
}

// A Diff is an incremental modification to the scene, produced by an upstream
// task planner alongside a trajectory segment.
type Diff struct {
	State         *StateDiff `json:"state,omitempty"`
	AddObjects    []Object   `json:"add_objects,omitempty"`
	RemoveObjects []string   `json:"remove_objects,omitempty"`
}

// Empty returns whether the diff changes nothing.
func (d *Diff) Empty() bool {
	return d == nil || (d.State.Empty() && len(d.AddObjects) == 0 && len(d.RemoveObjects) == 0)
}
