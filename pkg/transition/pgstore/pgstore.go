// Package pgstore persists transition rules and audit records in PostgreSQL.
//
// Both stores resolve their connection with pg.Conn, so writes made inside a
// pg.Transactor share the caller's transaction. Wire them together with the
// transactor to make the entity save and the audit append atomic:
//
//	engine := transition.NewEngine(
//		transition.NewRegistry(pgstore.NewRuleStore(pool)),
//		pgstore.NewAuditLog(pool),
//		transition.WithTransactor(pg.NewTransactor(pool)),
//	)
package pgstore

import (
	"embed"
	"fmt"
	"strings"

	"github.com/dmitrymomot/statekit/pkg/pg"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MigrationsTable is the goose version table used for this package's schema.
const MigrationsTable = "statekit_transition_migrations"

// Migrations returns the schema for the state_transitions and
// state_transition_logs tables.
func Migrations() pg.Migration {
	return pg.Migration{FS: migrations, Dir: "migrations", Table: MigrationsTable}
}

// where builds a conjunction of equality conditions, skipping empty values.
type where struct {
	conds []string
	args  []any
}

func (w *where) eq(column, value string) {
	if value == "" {
		return
	}
	w.args = append(w.args, value)
	w.conds = append(w.conds, fmt.Sprintf("%s = $%d", column, len(w.args)))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
