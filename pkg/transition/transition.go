package transition

import (
	"context"
	"fmt"
	"time"
)

// DefaultStatusField is the status field used when none is given.
const DefaultStatusField = "status"

// Entity is the contract a domain object satisfies to have its status fields
// governed by the Engine.
type Entity interface {
	// EntityType returns a stable identifier of the entity kind, e.g. "document".
	EntityType() string
	// EntityID returns the stable identifier of this entity instance.
	EntityID() string
	// Field returns the current value of the named status field.
	Field(name string) (string, error)
	// SetField sets the named status field in memory.
	SetField(name, value string) error
	// Save durably persists the entity.
	Save(ctx context.Context) error
}

// Reloader is implemented by entities that can refresh their status fields
// from durable storage. The Engine reloads such entities inside the scope
// lock and the transaction, before validating the current state.
type Reloader interface {
	Reload(ctx context.Context) error
}

// FieldSaver is implemented by entities that can persist one status field
// without writing the others. The Engine calls SaveField instead of Save
// when the entity provides it.
type FieldSaver interface {
	SaveField(ctx context.Context, name string) error
}

// RuleKey is the unique identity of a Rule.
type RuleKey struct {
	EntityType  string
	StatusField string
	Transition  string
	FromState   string
}

func (k RuleKey) String() string {
	return fmt.Sprintf("%s.%s:%s(%s)", k.EntityType, k.StatusField, k.Transition, k.FromState)
}

// Rule is a single legal edge of a status field's state graph.
type Rule struct {
	ID          string    `json:"id"`
	EntityType  string    `json:"entity_type"`
	StatusField string    `json:"status_field"`
	Name        string    `json:"transition_name"`
	FromState   string    `json:"from_state"`
	ToState     string    `json:"to_state"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r Rule) Key() RuleKey {
	return RuleKey{
		EntityType:  r.EntityType,
		StatusField: r.StatusField,
		Transition:  r.Name,
		FromState:   r.FromState,
	}
}

// RuleFilter narrows rule listing and deletion. Empty fields match anything.
type RuleFilter struct {
	EntityType  string
	StatusField string
	Transition  string
	FromState   string
}

// Match reports whether the rule satisfies every non-empty filter field.
func (f RuleFilter) Match(r Rule) bool {
	if f.EntityType != "" && f.EntityType != r.EntityType {
		return false
	}
	if f.StatusField != "" && f.StatusField != r.StatusField {
		return false
	}
	if f.Transition != "" && f.Transition != r.Name {
		return false
	}
	if f.FromState != "" && f.FromState != r.FromState {
		return false
	}
	return true
}

// Record is an immutable audit entry written once per applied transition.
type Record struct {
	ID          string    `json:"id"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	StatusField string    `json:"status_field"`
	Transition  string    `json:"transition_name"`
	FromState   string    `json:"from_state"`
	ToState     string    `json:"to_state"`
	RuleID      string    `json:"rule_id"`
	ActorID     string    `json:"actor_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks that the record agrees with the rule it references.
func (r Record) Validate(rule Rule) error {
	switch {
	case r.RuleID != rule.ID:
		return fmt.Errorf("record references rule %q, got rule %q", r.RuleID, rule.ID)
	case r.EntityType != rule.EntityType || r.StatusField != rule.StatusField:
		return fmt.Errorf("record scope %s.%s does not match rule scope %s.%s",
			r.EntityType, r.StatusField, rule.EntityType, rule.StatusField)
	case r.Transition != rule.Name || r.FromState != rule.FromState || r.ToState != rule.ToState:
		return fmt.Errorf("record edge %s(%s->%s) does not match rule %s(%s->%s)",
			r.Transition, r.FromState, r.ToState, rule.Name, rule.FromState, rule.ToState)
	}
	return nil
}

// HistoryQuery selects audit records of one entity. StatusField is optional.
type HistoryQuery struct {
	EntityType  string
	EntityID    string
	StatusField string
}

// Match reports whether the record belongs to the queried entity and field.
func (q HistoryQuery) Match(r Record) bool {
	if r.EntityType != q.EntityType || r.EntityID != q.EntityID {
		return false
	}
	return q.StatusField == "" || q.StatusField == r.StatusField
}

// RuleStore is the storage backend of the Registry.
type RuleStore interface {
	// Insert stores the rule. It returns an error wrapping ErrDuplicateRule
	// when a rule with the same key exists; the check and the write are atomic.
	Insert(ctx context.Context, rule Rule) error
	// List returns rules matching the filter ordered by insertion.
	List(ctx context.Context, filter RuleFilter) ([]Rule, error)
	// Delete removes rules matching the filter and returns how many were removed.
	Delete(ctx context.Context, filter RuleFilter) (int64, error)
}

// AuditLog is an append-only store of applied transitions.
type AuditLog interface {
	Append(ctx context.Context, record Record) error
	// For returns matching records oldest first, ties broken by insertion order.
	For(ctx context.Context, query HistoryQuery) ([]Record, error)
}

// Locker serializes work on a scope key. The returned unlock must be called once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Transactor runs fn as one atomic unit. Stores that share the transaction
// pick it up from the context passed to fn.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Observer receives notifications about transition outcomes.
type Observer interface {
	TransitionApplied(ctx context.Context, record Record)
	TransitionFailed(ctx context.Context, entityType, statusField, transition string, err error)
}

// NoopTransactor runs fn directly without a transaction.
type NoopTransactor struct{}

func (NoopTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type noopObserver struct{}

func (noopObserver) TransitionApplied(context.Context, Record)                    {}
func (noopObserver) TransitionFailed(context.Context, string, string, string, error) {}

func fieldOrDefault(field string) string {
	if field == "" {
		return DefaultStatusField
	}
	return field
}

func scopeKey(entityType, entityID, field string) string {
	return entityType + "|" + entityID + "|" + field
}
