package main

import (
	"fmt"
	"slices"
)

const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendMongo    = "mongo"

	lockLocal = "local"
	lockRedis = "redis"
)

type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	Name        string `env:"APP_NAME" envDefault:"statekit"`
	Backend     string `env:"TRANSITION_BACKEND" envDefault:"memory"` // memory, postgres or mongo
	LockBackend string `env:"LOCK_BACKEND" envDefault:"local"`        // local or redis
	RulesFile   string `env:"RULES_FILE"`                             // empty uses the built-in document rules
}

func (c appConfig) validate() error {
	if !slices.Contains([]string{backendMemory, backendPostgres, backendMongo}, c.Backend) {
		return fmt.Errorf("unsupported TRANSITION_BACKEND %q", c.Backend)
	}
	if !slices.Contains([]string{lockLocal, lockRedis}, c.LockBackend) {
		return fmt.Errorf("unsupported LOCK_BACKEND %q", c.LockBackend)
	}
	return nil
}
