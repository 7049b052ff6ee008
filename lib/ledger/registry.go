package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fancybear42/secure-loot-pass/internal/registry"
)

var backends registry.Set[Factory]

// Factory builds a ledger backend from its JSON parameters.
type Factory interface {
	Build(ctx context.Context, config json.RawMessage) (Backend, error)
	Valid(config json.RawMessage) error
}

func Register(name string, impl Factory) {
	backends.Register(name, impl)
}

func Get(name string) (Factory, bool) {
	return backends.Get(name)
}

// Methods lists the registered names in sorted order.
func Methods() []string {
	return backends.Names()
}

// Config selects a registered backend and carries its parameters verbatim.
type Config struct {
	Backend    string          `json:"backend"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

func (c Config) Valid() error {
	var errs []error

	if len(c.Backend) == 0 {
		errs = append(errs, ErrNoBackend)
	}

	fac, ok := Get(c.Backend)
	switch ok {
	case true:
		if err := fac.Valid(c.Parameters); err != nil {
			errs = append(errs, err)
		}
	case false:
		errs = append(errs, fmt.Errorf("%w: %q, known backends: %v", ErrUnknownBackend, c.Backend, Methods()))
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Build validates the config and constructs the backend it names.
func (c Config) Build(ctx context.Context) (Backend, error) {
	if err := c.Valid(); err != nil {
		return nil, err
	}

	fac, _ := Get(c.Backend)
	return fac.Build(ctx, c.Parameters)
}
