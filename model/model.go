// Package model describes a robot as a set of named joints grouped into
// kinematic groups for planning and execution.
package model

import (
	"github.com/pkg/errors"
)

// JointType distinguishes how a joint moves.
type JointType string

// The supported joint types.
const (
	JointTypeRevolute  = JointType("revolute")
	JointTypePrismatic = JointType("prismatic")
	JointTypeFixed     = JointType("fixed")
)

// A Limit bounds the position of a single joint.
type Limit struct {
	Min, Max float64
}

// A Joint is a single controllable (or structural) degree of freedom of a robot.
type Joint struct {
	Name string
	Type JointType
	// Passive joints are moved by the mechanism, not by a controller.
	Passive bool
	// MimicOf names the joint this joint mirrors, if any.
	MimicOf string
	Limit   Limit
}

// Actuated returns whether a controller can command this joint directly.
func (j Joint) Actuated() bool {
	return j.Type != JointTypeFixed && !j.Passive && j.MimicOf == ""
}

// A Group is a named ordered subset of a model's joints treated as a unit
// for planning and execution.
type Group struct {
	name   string
	joints []Joint
}

// NewGroup constructs a group from an ordered list of joints.
func NewGroup(name string, joints []Joint) (*Group, error) {
	if name == "" {
		return nil, errors.New("group must have a name")
	}
	seen := map[string]bool{}
	for _, j := range joints {
		if seen[j.Name] {
			return nil, errors.Errorf("group %q has duplicate joint %q", name, j.Name)
		}
		seen[j.Name] = true
	}
	return &Group{name: name, joints: joints}, nil
}

// Name returns the name of the group.
func (g *Group) Name() string {
	return g.name
}

// Joints returns all joints in the group, actuated or not.
func (g *Group) Joints() []Joint {
	return g.joints
}

// JointNames returns the names of all joints in the group.
func (g *Group) JointNames() []string {
	names := make([]string, 0, len(g.joints))
	for _, j := range g.joints {
		names = append(names, j.Name)
	}
	return names
}

// ActiveJointNames returns the names of the joints a controller can command.
func (g *Group) ActiveJointNames() []string {
	names := make([]string, 0, len(g.joints))
	for _, j := range g.joints {
		if j.Actuated() {
			names = append(names, j.Name)
		}
	}
	return names
}

// DoF returns the position limits of the group's actuated joints, in order.
func (g *Group) DoF() []Limit {
	limits := make([]Limit, 0, len(g.joints))
	for _, j := range g.joints {
		if j.Actuated() {
			limits = append(limits, j.Limit)
		}
	}
	return limits
}

// A Model is a robot: its joints plus the kinematic groups defined over them.
type Model struct {
	name   string
	joints map[string]Joint
	groups []*Group
}

// NewModel constructs a model. Every joint referenced by a group must be one
// of the model's joints.
func NewModel(name string, joints []Joint, groups ...*Group) (*Model, error) {
	m := &Model{name: name, joints: make(map[string]Joint, len(joints))}
	for _, j := range joints {
		if _, ok := m.joints[j.Name]; ok {
			return nil, errors.Errorf("model %q has duplicate joint %q", name, j.Name)
		}
		m.joints[j.Name] = j
	}
	for _, j := range joints {
		if j.MimicOf == "" {
			continue
		}
		if _, ok := m.joints[j.MimicOf]; !ok {
			return nil, errors.Errorf("joint %q mimics unknown joint %q", j.Name, j.MimicOf)
		}
	}
	for _, g := range groups {
		for _, j := range g.Joints() {
			if _, ok := m.joints[j.Name]; !ok {
				return nil, errors.Errorf("group %q references unknown joint %q", g.Name(), j.Name)
			}
		}
		m.groups = append(m.groups, g)
	}
	return m, nil
}

// Name returns the name of the model.
func (m *Model) Name() string {
	return m.name
}

// Joint looks up a joint by name.
func (m *Model) Joint(name string) (Joint, bool) {
	j, ok := m.joints[name]
	return j, ok
}

// Groups returns the model's kinematic groups in definition order.
func (m *Model) Groups() []*Group {
	return m.groups
}

// Group looks up a group by name. nil is returned if there is no such group.
func (m *Model) Group(name string) *Group {
	for _, g := range m.groups {
		if g.Name() == name {
			return g
		}
	}
	return nil
}

// FindGroup matches a set of joint names to a group by set inclusion: a group
// matches if it contains every named joint and every group joint that is not
// named is fixed, passive, or a mimic. The first matching group is returned;
// nil if none matches.
func (m *Model) FindGroup(jointNames []string) *Group {
	want := make(map[string]bool, len(jointNames))
	for _, name := range jointNames {
		want[name] = true
	}

	for _, g := range m.groups {
		have := make(map[string]bool, len(g.joints))
		for _, j := range g.joints {
			have[j.Name] = true
		}

		contained := true
		for name := range want {
			if !have[name] {
				contained = false
				break
			}
		}
		if !contained {
			continue
		}

		acceptable := true
		for _, j := range g.joints {
			if want[j.Name] {
				continue
			}
			if j.Actuated() {
				acceptable = false
				break
			}
		}
		if acceptable {
			return g
		}
	}
	return nil
}
