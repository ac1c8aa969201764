package capability

import (
	"context"
	"sort"
	"sync"

	"github.com/edaniels/golog"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// An AttributeMap is a convenience wrapper around untyped capability
// attributes from config.
type AttributeMap map[string]interface{}

// Decode unmarshals the attributes into a tagged struct, matching keys
// against json tags.
func (am AttributeMap) Decode(into interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: into})
	if err != nil {
		return err
	}
	return decoder.Decode(map[string]interface{}(am))
}

// A Config describes one capability to load.
type Config struct {
	Name       string       `json:"name"`
	Attributes AttributeMap `json:"attributes,omitempty"`
}

// A Constructor creates a capability from its config.
type Constructor func(cfg Config, logger golog.Logger) (Capability, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register registers a capability constructor under a name.
func Register(name string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, old := registry[name]; old {
		panic(errors.Errorf("trying to register two capabilities with same name %s", name))
	}
	registry[name] = c
}

// Lookup looks up a capability constructor by name. nil is returned if
// there is none registered.
func Lookup(name string) Constructor {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// RegisteredNames returns the names of all registered capabilities, sorted.
func RegisteredNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load constructs and initializes the configured capabilities against the
// host. On failure, capabilities loaded so far are closed.
func Load(ctx context.Context, h Host, configs []Config) ([]Capability, error) {
	var loaded []Capability
	closeAll := func() error {
		var err error
		for _, c := range loaded {
			err = multierr.Combine(err, c.Close(ctx))
		}
		return err
	}

	for _, cfg := range configs {
		ctor := Lookup(cfg.Name)
		if ctor == nil {
			return nil, multierr.Combine(
				errors.Errorf("no capability registered with name %q", cfg.Name), closeAll())
		}
		c, err := ctor(cfg, h.Logger())
		if err != nil {
			return nil, multierr.Combine(
				errors.Wrapf(err, "constructing capability %q", cfg.Name), closeAll())
		}
		if err := c.Initialize(ctx, h); err != nil {
			return nil, multierr.Combine(
				errors.Wrapf(err, "initializing capability %q", cfg.Name), closeAll())
		}
		h.Logger().Infow("capability loaded", "name", cfg.Name)
		loaded = append(loaded, c)
	}
	return loaded, nil
}
