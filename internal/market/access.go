package market

import (
	"context"
	"sync/atomic"
)

// AccessGate is the administrative capability injected into the
// marketplace: it answers who the platform owner is and whether the
// marketplace is paused. The marketplace never decides these itself.
type AccessGate interface {
	IsOwner(id Address) bool
	IsPaused() bool
}

// StaticGate is an AccessGate with a fixed owner and a toggleable pause
// flag.
type StaticGate struct {
	owner  Address
	paused atomic.Bool
}

func NewStaticGate(owner Address) (*StaticGate, error) {
	if owner.IsZero() {
		return nil, ErrInvalidConfiguration
	}
	return &StaticGate{owner: owner}, nil
}

func (g *StaticGate) IsOwner(id Address) bool {
	return id == g.owner
}

func (g *StaticGate) IsPaused() bool {
	return g.paused.Load()
}

// SetPaused toggles the pause flag. Only the owner may call this; the
// caller is verified here rather than in the marketplace because pausing
// is a property of the gate, not of any listing.
func (g *StaticGate) SetPaused(caller Address, paused bool) error {
	if !g.IsOwner(caller) {
		return ErrUnauthorized
	}
	g.paused.Store(paused)
	return nil
}

// CallerResolver maps the raw transport-level identity to the effective
// caller, standing in for a meta-transaction relay layer. Implementations
// are invoked exactly once at the start of each public operation.
type CallerResolver interface {
	ResolveCaller(ctx context.Context, raw Address) (Address, error)
}

// DirectResolver trusts the transport identity as-is.
type DirectResolver struct{}

func (DirectResolver) ResolveCaller(_ context.Context, raw Address) (Address, error) {
	if raw.IsZero() {
		return ZeroAddress, ErrUnauthorized
	}
	return raw, nil
}
