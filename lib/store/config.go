package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNoBackend      = errors.New("store.Config: no backend defined")
	ErrUnknownBackend = errors.New("store.Config: unknown backend")
)

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
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend))
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Build validates the config and constructs the backend it names.
func (c Config) Build(ctx context.Context) (Interface, error) {
	if err := c.Valid(); err != nil {
		return nil, err
	}

	fac, _ := Get(c.Backend)
	return fac.Build(ctx, c.Parameters)
}
