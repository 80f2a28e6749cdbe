package executor

import (
	"context"
	"fmt"

	"github.com/narrowin/networka-sub002/internal/inventory"
	"github.com/narrowin/networka-sub002/internal/resolver"
	"github.com/narrowin/networka-sub002/internal/session"
)

// PooledSession returns a live session for a resolved device name,
// connecting and pooling one on first use. Sequential callers (the
// interactive shell) reuse connections across commands this way; fan-out
// workers never touch the pool.
func (r *Runner) PooledSession(ctx context.Context, name, prefer string) (session.Session, error) {
	if s, ok := r.pool.Get(name); ok {
		if s.State() == session.Connected {
			return s, nil
		}
		// Stale entry, replace it below.
		r.pool.Remove(name)
		_ = s.Disconnect()
	}

	res := r.base.WithSelector(inventory.Selector{Prefer: prefer})
	dev, err := res.DeviceConfig(name)
	if err != nil {
		return nil, err
	}

	s := r.factory(name, dev)
	if err := s.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", name, err)
	}
	if prev := r.pool.Set(name, s); prev != nil {
		_ = prev.Disconnect()
	}
	return s, nil
}

// Resolver exposes the runner's target resolver for sequential callers.
func (r *Runner) Resolver(prefer string) *resolver.Resolver {
	return r.base.WithSelector(inventory.Selector{Prefer: prefer})
}

// Close disconnects every pooled session. Safe to call when nothing was
// pooled.
func (r *Runner) Close() {
	r.pool.CloseAll()
}
