// Package protections is the closed catalog of built-in protections.
package protections

import (
	"github.com/leapstack-labs/leapcloak/internal/protections/antiildasm"
	"github.com/leapstack-labs/leapcloak/internal/protections/refproxy"
	"github.com/leapstack-labs/leapcloak/internal/protections/rename"
	"github.com/leapstack-labs/leapcloak/internal/registry"
	"github.com/leapstack-labs/leapcloak/pkg/core"
)

// Builtin returns a fresh instance of every built-in protection.
func Builtin() []core.Protection {
	return []core.Protection{
		refproxy.New(),
		rename.New(),
		antiildasm.New(),
	}
}

// NewDefaultRegistry returns an unfrozen registry holding the built-in
// protections.
func NewDefaultRegistry() (*registry.Registry, error) {
	r := registry.New()
	for _, p := range Builtin() {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}
