package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type options struct {
	files  []string
	prefix string
}

// Option configures a Load call.
type Option func(*options)

// WithEnvFiles replaces the default ".env" with the given dotenv files.
// Missing files are skipped. Variables already set in the process win.
func WithEnvFiles(files ...string) Option {
	return func(o *options) {
		o.files = files
	}
}

// WithPrefix parses variables named prefix+tag, e.g. "ORDERS_" + "PG_CONN_URL".
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

type cacheKey struct {
	typ    reflect.Type
	prefix string
}

var (
	mu     sync.Mutex
	cache  = make(map[cacheKey]any)
	loaded = make(map[string]bool)
)

// Load fills v from the environment using `env` and `envDefault` struct tags.
// Each (type, prefix) pair is parsed once; later calls get a copy of the
// cached value.
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T, opts ...Option) error {
	if v == nil {
		return ErrNilPointer
	}

	o := options{files: []string{".env"}}
	for _, opt := range opts {
		opt(&o)
	}

	mu.Lock()
	defer mu.Unlock()

	if err := loadEnvFiles(o.files); err != nil {
		return err
	}

	key := cacheKey{typ: reflect.TypeFor[T](), prefix: o.prefix}
	if cached, ok := cache[key]; ok {
		*v = cached.(T)
		return nil
	}

	if err := env.ParseWithOptions(v, env.Options{Prefix: o.prefix}); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	cache[key] = *v
	return nil
}

// MustLoad is Load for configuration the process cannot start without.
func MustLoad[T any](v *T, opts ...Option) {
	if err := Load(v, opts...); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}

// Reset forgets cached configurations and loaded dotenv files.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	clear(cache)
	clear(loaded)
}

func loadEnvFiles(files []string) error {
	for _, f := range files {
		if loaded[f] {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Join(ErrLoadingEnvFile, fmt.Errorf("%s: %w", f, err))
		}
		loaded[f] = true
	}
	return nil
}
