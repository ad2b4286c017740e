package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/statekit/pkg/pg"
	"github.com/dmitrymomot/statekit/pkg/transition"
)

const ruleColumns = "id, model_type, status_field, transition_name, from_state, to_state, created_at"

// RuleStore is a transition.RuleStore backed by the state_transitions table.
type RuleStore struct {
	pool *pgxpool.Pool
}

func NewRuleStore(pool *pgxpool.Pool) *RuleStore {
	return &RuleStore{pool: pool}
}

// Insert stores rule. A conflicting key leaves the existing row untouched
// and yields *transition.DuplicateRuleError.
func (s *RuleStore) Insert(ctx context.Context, rule transition.Rule) error {
	tag, err := pg.Conn(ctx, s.pool).Exec(ctx,
		`INSERT INTO state_transitions (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT state_transitions_rule_key DO NOTHING`,
		rule.ID, rule.EntityType, rule.StatusField, rule.Name, rule.FromState, rule.ToState, rule.CreatedAt,
	)
	if pg.IsDuplicateKeyError(err) || (err == nil && tag.RowsAffected() == 0) {
		return &transition.DuplicateRuleError{Key: rule.Key()}
	}
	if err != nil {
		return fmt.Errorf("insert transition rule: %w", err)
	}
	return nil
}

// List returns matching rules in insertion order.
func (s *RuleStore) List(ctx context.Context, filter transition.RuleFilter) ([]transition.Rule, error) {
	w := ruleWhere(filter)
	rows, err := pg.Conn(ctx, s.pool).Query(ctx,
		`SELECT `+ruleColumns+` FROM state_transitions`+w.String()+` ORDER BY seq`,
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list transition rules: %w", err)
	}

	rules, err := pgx.CollectRows(rows, scanRule)
	if err != nil {
		return nil, fmt.Errorf("scan transition rules: %w", err)
	}
	return rules, nil
}

func (s *RuleStore) Delete(ctx context.Context, filter transition.RuleFilter) (int64, error) {
	w := ruleWhere(filter)
	tag, err := pg.Conn(ctx, s.pool).Exec(ctx, `DELETE FROM state_transitions`+w.String(), w.args...)
	if err != nil {
		return 0, fmt.Errorf("delete transition rules: %w", err)
	}
	return tag.RowsAffected(), nil
}

func ruleWhere(f transition.RuleFilter) *where {
	w := &where{}
	w.eq("model_type", f.EntityType)
	w.eq("status_field", f.StatusField)
	w.eq("transition_name", f.Transition)
	w.eq("from_state", f.FromState)
	return w
}

func scanRule(row pgx.CollectableRow) (transition.Rule, error) {
	var r transition.Rule
	err := row.Scan(&r.ID, &r.EntityType, &r.StatusField, &r.Name, &r.FromState, &r.ToState, &r.CreatedAt)
	return r, err
}
