package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrymomot/statekit/internal/document"
	"github.com/dmitrymomot/statekit/pkg/config"
	"github.com/dmitrymomot/statekit/pkg/httpserver"
	"github.com/dmitrymomot/statekit/pkg/logger"
	"github.com/dmitrymomot/statekit/pkg/mongo"
	"github.com/dmitrymomot/statekit/pkg/pg"
	"github.com/dmitrymomot/statekit/pkg/redis"
	"github.com/dmitrymomot/statekit/pkg/transition"
	"github.com/dmitrymomot/statekit/pkg/transition/mongostore"
	"github.com/dmitrymomot/statekit/pkg/transition/pgstore"
	"github.com/dmitrymomot/statekit/pkg/transition/promobserver"
	"github.com/dmitrymomot/statekit/pkg/transition/redislock"
)

// app holds the wired dependencies of one process.
type app struct {
	cfg      appConfig
	log      *slog.Logger
	registry *transition.Registry
	engine   *transition.Engine
	docs     *document.Service
	metrics  *prometheus.Registry
	checks   map[string]httpserver.Check
	closers  []func()

	// migrate applies the backend schema; nil for the memory backend.
	migrate func(ctx context.Context) error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg appConfig, log *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: prometheus.NewRegistry(),
		checks:  make(map[string]httpserver.Check),
	}
	a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var (
		store transition.RuleStore
		audit transition.AuditLog
		repo  document.Repository
		opts  = []transition.Option{
			transition.WithLogger(log.With(logger.Component("transition"))),
			transition.WithObserver(promobserver.New(a.metrics)),
		}
	)

	switch cfg.Backend {
	case backendPostgres:
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return nil, err
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		a.checks["postgres"] = pg.Healthcheck(pool)
		a.migrate = func(ctx context.Context) error {
			return pg.Migrate(ctx, pool, log, pgstore.Migrations(), document.Migrations())
		}

		store, audit = pgstore.NewRuleStore(pool), pgstore.NewAuditLog(pool)
		repo = document.NewPostgresRepository(pool)
		opts = append(opts, transition.WithTransactor(pg.NewTransactor(pool)))

	case backendMongo:
		var mongoCfg mongo.Config
		if err := config.Load(&mongoCfg); err != nil {
			return nil, err
		}
		db, err := mongo.Database(ctx, mongoCfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Client().Disconnect(context.Background()) })
		a.checks["mongo"] = mongo.Healthcheck(db.Client())
		a.migrate = func(ctx context.Context) error {
			return mongostore.EnsureIndexes(ctx, db)
		}

		store, audit = mongostore.NewRuleStore(db), mongostore.NewAuditLog(db)
		repo = document.NewMongoRepository(db)
		opts = append(opts, transition.WithTransactor(mongostore.NewTransactor(db.Client())))

	default:
		store, audit = transition.NewMemoryRuleStore(), transition.NewMemoryAuditLog()
		repo = document.NewMemoryRepository()
	}

	if cfg.LockBackend == lockRedis {
		locker, err := a.redisLocker(ctx)
		if err != nil {
			a.close()
			return nil, err
		}
		opts = append(opts, transition.WithLocker(locker))
	}

	a.registry = transition.NewRegistry(store)
	a.engine = transition.NewEngine(a.registry, audit, opts...)
	a.docs = document.NewService(repo, a.engine)
	return a, nil
}

func (a *app) redisLocker(ctx context.Context) (*redislock.Locker, error) {
	var redisCfg redis.Config
	if err := config.Load(&redisCfg); err != nil {
		return nil, err
	}
	var lockCfg redislock.Config
	if err := config.Load(&lockCfg); err != nil {
		return nil, err
	}

	client, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.checks["redis"] = redis.Healthcheck(client)

	return redislock.New(client, lockCfg, redislock.WithLogger(a.log))
}

// loadRules reads the manifest named by RULES_FILE or the built-in rules.
func (a *app) loadRules() (transition.Manifest, error) {
	if a.cfg.RulesFile == "" {
		return document.DefaultRules()
	}
	m, err := transition.LoadManifestFile(a.cfg.RulesFile)
	if err != nil {
		return transition.Manifest{}, fmt.Errorf("load %s: %w", a.cfg.RulesFile, err)
	}
	return m, nil
}

// seed registers the manifest. With replace, the rules of every field named
// in the manifest are cleared first.
func (a *app) seed(ctx context.Context, replace bool) error {
	m, err := a.loadRules()
	if err != nil {
		return err
	}

	if replace {
		for _, entry := range m.Rules {
			n, err := a.registry.Clear(ctx, transition.RuleFilter{
				EntityType:  entry.EntityType,
				StatusField: fieldOrDefault(entry.StatusField),
			})
			if err != nil {
				return err
			}
			a.log.InfoContext(ctx, "rules cleared",
				logger.EntityType(entry.EntityType),
				logger.StatusField(fieldOrDefault(entry.StatusField)),
				logger.Count(n),
			)
		}
	}

	err = a.registry.RegisterManifest(ctx, m)
	switch {
	case err == nil:
	case !replace && transition.IsDuplicateRuleError(err) && !errors.Is(err, transition.ErrInvalidDefinition):
		// Re-running seed without -replace keeps existing rules.
		a.log.WarnContext(ctx, "some rules already registered", logger.Error(err))
		return nil
	default:
		return err
	}
	a.log.InfoContext(ctx, "rules registered", slog.Int("entries", len(m.Rules)))
	return nil
}

func fieldOrDefault(field string) string {
	if field == "" {
		return transition.DefaultStatusField
	}
	return field
}
