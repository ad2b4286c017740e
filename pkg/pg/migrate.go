package pg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// logger is the subset of *slog.Logger used to route goose output.
type logger interface {
	InfoContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// Migration is a set of goose SQL migrations stored in Dir inside FS.
// Each set keeps its own version table so independent packages can ship
// their schema without coordinating version numbers.
type Migration struct {
	FS    fs.FS
	Dir   string
	Table string
}

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// Migrate applies every migration set in order.
func Migrate(ctx context.Context, pool *pgxpool.Pool, log logger, sets ...Migration) error {
	if len(sets) == 0 {
		return errors.Join(ErrFailedToApplyMigrations, ErrNoMigrations)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	// goose works on database/sql; share the pool's connections.
	db := stdlib.OpenDBFromPool(pool)
	defer func() {
		if err := db.Close(); err != nil {
			log.ErrorContext(ctx, "failed to close migration connection", "error", err)
		}
	}()

	goose.SetLogger(&slogAdapter{log: log})
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	defer goose.SetBaseFS(nil)

	for _, set := range sets {
		if set.FS == nil {
			return errors.Join(ErrFailedToApplyMigrations, ErrNoMigrations)
		}
		table := set.Table
		if table == "" {
			table = "schema_migrations"
		}
		goose.SetBaseFS(set.FS)
		goose.SetTableName(table)

		if err := goose.UpContext(ctx, db, set.Dir); err != nil {
			return errors.Join(ErrFailedToApplyMigrations, fmt.Errorf("%s: %w", table, err))
		}
		log.InfoContext(ctx, "migrations applied", "table", table)
	}
	return nil
}

// slogAdapter bridges goose's Printf logging to structured logging.
type slogAdapter struct {
	log logger
}

func (a *slogAdapter) Fatalf(format string, v ...any) {
	a.log.ErrorContext(context.Background(), fmt.Sprintf(format, v...))
}

func (a *slogAdapter) Printf(format string, v ...any) {
	a.log.InfoContext(context.Background(), fmt.Sprintf(format, v...))
}
