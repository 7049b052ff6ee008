package store

import (
	"context"
	"encoding/json"

	"github.com/fancybear42/secure-loot-pass/internal/registry"
)

var backends registry.Set[Factory]

// Factory builds a store backend from its JSON parameters.
type Factory interface {
	Build(ctx context.Context, config json.RawMessage) (Interface, error)
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
