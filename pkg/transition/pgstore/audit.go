package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/statekit/pkg/pg"
	"github.com/dmitrymomot/statekit/pkg/transition"
)

const logColumns = "id, model_type, model_id, user_id, state_transition_id, status_field, transition_name, from_state, to_state, created_at"

// AuditLog is a transition.AuditLog backed by the state_transition_logs table.
type AuditLog struct {
	pool *pgxpool.Pool
}

func NewAuditLog(pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{pool: pool}
}

func (l *AuditLog) Append(ctx context.Context, r transition.Record) error {
	_, err := pg.Conn(ctx, l.pool).Exec(ctx,
		`INSERT INTO state_transition_logs (`+logColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.EntityType, r.EntityID, nullable(r.ActorID), nullable(r.RuleID),
		r.StatusField, r.Transition, r.FromState, r.ToState, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append transition log: %w", err)
	}
	return nil
}

// For returns records oldest first. Records with equal timestamps keep
// their insertion order.
func (l *AuditLog) For(ctx context.Context, q transition.HistoryQuery) ([]transition.Record, error) {
	w := &where{}
	w.eq("model_type", q.EntityType)
	w.eq("model_id", q.EntityID)
	w.eq("status_field", q.StatusField)

	rows, err := pg.Conn(ctx, l.pool).Query(ctx,
		`SELECT `+logColumns+` FROM state_transition_logs`+w.String()+` ORDER BY created_at, seq`,
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query transition logs: %w", err)
	}

	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("scan transition logs: %w", err)
	}
	return records, nil
}

func scanRecord(row pgx.CollectableRow) (transition.Record, error) {
	var r transition.Record
	var actor, ruleID *string
	err := row.Scan(
		&r.ID, &r.EntityType, &r.EntityID, &actor, &ruleID,
		&r.StatusField, &r.Transition, &r.FromState, &r.ToState, &r.CreatedAt,
	)
	r.ActorID = deref(actor)
	r.RuleID = deref(ruleID)
	return r, err
}
