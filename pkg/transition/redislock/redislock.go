// Package redislock provides a transition.Locker shared by every process
// connected to the same Redis.
//
// A lock is a key set with NX and a TTL holding a random token. Release
// deletes the key only when it still holds the caller's token, so a holder
// whose lock expired cannot release a successor's lock.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/statekit/pkg/logger"
	"github.com/dmitrymomot/statekit/pkg/transition"
)

type Config struct {
	KeyPrefix     string        `env:"TRANSITION_LOCK_PREFIX" envDefault:"statekit:lock:"` // KeyPrefix is prepended to every lock key.
	TTL           time.Duration `env:"TRANSITION_LOCK_TTL" envDefault:"30s"`               // TTL bounds how long a crashed holder blocks others.
	Wait          time.Duration `env:"TRANSITION_LOCK_WAIT" envDefault:"5s"`               // Wait is the longest Lock blocks; zero relies on the context only.
	RetryInterval time.Duration `env:"TRANSITION_LOCK_RETRY_INTERVAL" envDefault:"50ms"`   // RetryInterval is the delay between acquisition attempts.
}

func DefaultConfig() Config {
	return Config{
		KeyPrefix:     "statekit:lock:",
		TTL:           30 * time.Second,
		Wait:          5 * time.Second,
		RetryInterval: 50 * time.Millisecond,
	}
}

var ErrInvalidConfig = errors.New("invalid redis lock config")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements transition.Locker on Redis.
type Locker struct {
	client redis.UniversalClient
	cfg    Config
	log    *slog.Logger
}

type Option func(*Locker)

func WithLogger(l *slog.Logger) Option {
	return func(lk *Locker) {
		if l != nil {
			lk.log = l
		}
	}
}

// New validates cfg and returns a Locker.
func New(client redis.UniversalClient, cfg Config, opts ...Option) (*Locker, error) {
	if client == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("redis client is required"))
	}
	if cfg.TTL <= 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("ttl must be positive"))
	}
	if cfg.RetryInterval <= 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("retry interval must be positive"))
	}

	l := &Locker{
		client: client,
		cfg:    cfg,
		log:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Lock blocks until key is acquired, ctx is done, or the configured wait
// elapses. Timeouts are reported with transition.ErrLockTimeout.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if l.cfg.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Wait)
		defer cancel()
	}

	key = l.cfg.KeyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.cfg.TTL).Result()
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, errors.Join(transition.ErrLockTimeout, ctx.Err())
		case err != nil:
			return nil, fmt.Errorf("acquire transition lock %s: %w", key, err)
		case ok:
			return l.releaser(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(transition.ErrLockTimeout, ctx.Err())
		case <-time.After(l.cfg.RetryInterval):
		}
	}
}

func (l *Locker) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				l.log.ErrorContext(ctx, "failed to release transition lock",
					slog.String("key", key),
					logger.Error(err),
				)
			}
		})
	}
}
