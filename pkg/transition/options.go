package transition

import (
	"log/slog"
	"time"
)

// Option configures an Engine during construction.
type Option func(*Engine)

// WithLocker replaces the default in-process KeyedLocker, e.g. with a
// distributed lock when several processes apply transitions.
func WithLocker(l Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

// WithTransactor makes the entity save and the audit append run in one
// transaction. Without it a failed append is compensated by re-saving the
// entity with its previous state.
func WithTransactor(t Transactor) Option {
	return func(e *Engine) {
		if t != nil {
			e.tx = t
			e.transactional = true
		}
	}
}

// WithObserver registers a hook notified about every apply outcome.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source used for audit record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// ApplyOption configures a single Apply call.
type ApplyOption func(*applyConfig)

type applyConfig struct {
	actorID string
}

// WithActor records who triggered the transition. The value is opaque to the engine.
func WithActor(actorID string) ApplyOption {
	return func(c *applyConfig) {
		c.actorID = actorID
	}
}
