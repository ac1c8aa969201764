package scene

import (
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/taskexec/model"
)

// A Monitor guards the scene for concurrent readers and writers. All state
// updates are validated against the robot model before they are applied.
type Monitor struct {
	mu      sync.RWMutex
	model   *model.Model
	state   State
	objects map[string]Object
	logger  golog.Logger
}

// NewMonitor creates a monitor over an empty scene. Joints start at zero.
func NewMonitor(m *model.Model, logger golog.Logger) *Monitor {
	state := State{}
	for _, g := range m.Groups() {
		for _, j := range g.Joints() {
			if j.Actuated() {
				state[j.Name] = 0
			}
		}
	}
	return &Monitor{
		model:   m,
		state:   state,
		objects: map[string]Object{},
		logger:  logger,
	}
}

// Model returns the robot model the scene is built around.
func (m *Monitor) Model() *model.Model {
	return m.model
}

// CurrentState returns a copy of the robot's joint state, read under lock.
func (m *Monitor) CurrentState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Objects returns a snapshot of the scene's collision objects.
func (m *Monitor) Objects() []Object {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Object, 0, len(m.objects))
	for _, obj := range m.objects {
		out = append(out, obj)
	}
	return out
}

// ReadLocked runs f with read access to the scene's state and objects. f must
// not retain references past its return.
func (m *Monitor) ReadLocked(f func(state State, objects map[string]Object)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f(m.state, m.objects)
}

// ValidateState checks a partial joint state against the model.
func (m *Monitor) ValidateState(joints State) error {
	for name, pos := range joints {
		j, ok := m.model.Joint(name)
		if !ok {
			return errors.Errorf("state names unknown joint %q", name)
		}
		if !j.Actuated() {
			return errors.Errorf("state names unactuated joint %q", name)
		}
		if limit := j.Limit; limit.Min != limit.Max && (pos < limit.Min || pos > limit.Max) {
			return errors.Errorf("position %f for joint %q is outside limits [%f, %f]",
				pos, name, limit.Min, limit.Max)
		}
	}
	return nil
}

// SetJointPositions updates the given joints under lock. Positions are
// validated against the model first; either all apply or none do.
func (m *Monitor) SetJointPositions(joints State) error {
	if err := m.ValidateState(joints); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, pos := range joints {
		m.state[name] = pos
	}
	return nil
}

// ApplyDiff applies a scene diff under lock. The diff is validated first;
// either all of it applies or none of it does.
func (m *Monitor) ApplyDiff(diff *Diff) error {
	if diff.Empty() {
		return nil
	}
	if diff.State != nil {
		if err := m.ValidateState(diff.State.Joints); err != nil {
			return errors.Wrap(err, "invalid state in scene diff")
		}
	}
	for _, obj := range diff.AddObjects {
		if obj.Name == "" {
			return errors.New("scene diff adds an unnamed object")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if diff.State != nil {
		for name, pos := range diff.State.Joints {
			m.state[name] = pos
		}
	}
	for _, name := range diff.RemoveObjects {
		if _, ok := m.objects[name]; !ok {
			m.logger.Debugw("scene diff removes unknown object", "object", name)
			continue
		}
		delete(m.objects, name)
	}
	for _, obj := range diff.AddObjects {
		m.objects[obj.Name] = obj
	}
	return nil
}
