// Package capability defines the motion server's plugin contract: a
// capability is a pluggable unit of functionality constructed from config,
// handed a host context at load time, and torn down with the server.
package capability

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/taskexec/action"
	"go.viam.com/taskexec/model"
	"go.viam.com/taskexec/planexec"
	"go.viam.com/taskexec/scene"
)

// A Capability is a pluggable unit of functionality loaded into the motion
// server at runtime.
type Capability interface {
	Name() string
	// Initialize wires the capability into the host. It is called once,
	// after construction.
	Initialize(ctx context.Context, host Host) error
	Close(ctx context.Context) error
}

// A Host is the context handle the server supplies to capabilities at load
// time.
type Host interface {
	Model() *model.Model
	SceneMonitor() *scene.Monitor
	// PlanExecutor returns nil when trajectory execution is disabled.
	PlanExecutor() planexec.Executor
	Logger() golog.Logger

	// RegisterActionServer exposes an action server to the host's clients.
	RegisterActionServer(srv *action.Server) error
	// ActionServer looks up a registered action server by name.
	ActionServer(name string) (*action.Server, bool)
}

type host struct {
	model    *model.Model
	monitor  *scene.Monitor
	executor planexec.Executor
	logger   golog.Logger
	actions  map[string]*action.Server
}

// NewHost assembles a host handle from the server's engines. executor may be
// nil when trajectory execution is disabled.
func NewHost(m *model.Model, monitor *scene.Monitor, executor planexec.Executor, logger golog.Logger) Host {
	return &host{
		model:    m,
		monitor:  monitor,
		executor: executor,
		logger:   logger,
		actions:  map[string]*action.Server{},
	}
}

func (h *host) Model() *model.Model             { return h.model }
func (h *host) SceneMonitor() *scene.Monitor    { return h.monitor }
func (h *host) PlanExecutor() planexec.Executor { return h.executor }
func (h *host) Logger() golog.Logger            { return h.logger }

func (h *host) RegisterActionServer(srv *action.Server) error {
	if _, ok := h.actions[srv.Name()]; ok {
		return errors.Errorf("action server %q already registered", srv.Name())
	}
	h.actions[srv.Name()] = srv
	return nil
}

func (h *host) ActionServer(name string) (*action.Server, bool) {
	srv, ok := h.actions[name]
	return srv, ok
}
