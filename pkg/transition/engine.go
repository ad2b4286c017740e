package transition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/statekit/pkg/logger"
)

// Engine validates and applies transitions against the registry and records
// each applied transition in the audit log.
type Engine struct {
	registry      *Registry
	audit         AuditLog
	locker        Locker
	tx            Transactor
	transactional bool
	observer      Observer
	logger        *slog.Logger
	now           func() time.Time
}

// NewEngine creates an engine. Panics if registry or audit log is nil.
func NewEngine(registry *Registry, audit AuditLog, opts ...Option) *Engine {
	if registry == nil {
		panic("transition: registry cannot be nil")
	}
	if audit == nil {
		panic("transition: audit log cannot be nil")
	}

	e := &Engine{
		registry: registry,
		audit:    audit,
		locker:   NewKeyedLocker(),
		tx:       NoopTransactor{},
		observer: noopObserver{},
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the engine reads rules from.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// CanApply reports whether the transition is registered for the entity's
// status field and its from-state equals the field's current value.
func (e *Engine) CanApply(ctx context.Context, entity Entity, transition, statusField string) (bool, error) {
	if entity == nil {
		return false, ErrNilEntity
	}
	field := fieldOrDefault(statusField)

	rules, err := e.registry.FindRule(ctx, entity.EntityType(), transition, field)
	if IsUnknownTransitionError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	current, err := entity.Field(field)
	if err != nil {
		return false, fmt.Errorf("read status field %q: %w", field, err)
	}
	_, ok := matchFrom(rules, current)
	return ok, nil
}

// Apply moves the entity's status field along the named transition, saves
// the entity and appends an audit record. Either all three effects happen or
// none does: on failure the field keeps its previous value.
func (e *Engine) Apply(ctx context.Context, entity Entity, transition, statusField string, opts ...ApplyOption) (Record, error) {
	if entity == nil {
		return Record{}, ErrNilEntity
	}

	var cfg applyConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	field := fieldOrDefault(statusField)
	entityType := entity.EntityType()

	record, err := e.apply(ctx, entity, transition, field, cfg)
	if err != nil {
		e.observer.TransitionFailed(ctx, entityType, field, transition, err)
		return Record{}, err
	}

	e.observer.TransitionApplied(ctx, record)
	e.logger.DebugContext(ctx, "transition applied",
		logger.EntityType(record.EntityType),
		logger.EntityID(record.EntityID),
		logger.StatusField(record.StatusField),
		logger.Transition(record.Transition),
		slog.String("from", record.FromState),
		slog.String("to", record.ToState),
		logger.Actor(record.ActorID),
	)
	return record, nil
}

// attempt tracks the in-memory effects of one apply so they can be undone.
type attempt struct {
	entity   Entity
	field    string
	previous string
	mutated  bool
	saved    bool
	err      error
}

func (e *Engine) apply(ctx context.Context, entity Entity, transition, field string, cfg applyConfig) (Record, error) {
	rules, err := e.registry.FindRule(ctx, entity.EntityType(), transition, field)
	if err != nil {
		return Record{}, err
	}

	unlock, err := e.locker.Lock(ctx, scopeKey(entity.EntityType(), entity.EntityID(), field))
	if err != nil {
		return Record{}, err
	}
	defer unlock()

	a := &attempt{entity: entity, field: field}
	var record Record
	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		record, a.err = e.transit(ctx, a, transition, rules, cfg)
		return a.err
	})
	if err != nil {
		if a.err == nil {
			err = &PersistenceError{Op: "commit", Err: err}
		}
		return Record{}, e.rollback(ctx, a, err)
	}
	return record, nil
}

// transit re-validates the current state and performs the mutate, save and
// append steps. It may run more than once when the Transactor retries.
func (e *Engine) transit(ctx context.Context, a *attempt, transition string, rules []Rule, cfg applyConfig) (Record, error) {
	a.mutated, a.saved = false, false
	entityType, entityID := a.entity.EntityType(), a.entity.EntityID()

	if r, ok := a.entity.(Reloader); ok {
		if err := r.Reload(ctx); err != nil {
			return Record{}, &PersistenceError{Op: "reload", Err: err}
		}
	}

	current, err := a.entity.Field(a.field)
	if err != nil {
		return Record{}, fmt.Errorf("read status field %q: %w", a.field, err)
	}

	rule, ok := matchFrom(rules, current)
	if !ok {
		e.logger.WarnContext(ctx, "transition rejected",
			logger.EntityType(entityType),
			logger.EntityID(entityID),
			logger.StatusField(a.field),
			logger.Transition(transition),
			slog.String("current", current),
		)
		return Record{}, &InvalidStateError{
			EntityType:  entityType,
			EntityID:    entityID,
			StatusField: a.field,
			Transition:  transition,
			Current:     current,
			Expected:    fromStates(rules),
		}
	}

	record := Record{
		ID:          uuid.New().String(),
		EntityType:  entityType,
		EntityID:    entityID,
		StatusField: a.field,
		Transition:  transition,
		FromState:   rule.FromState,
		ToState:     rule.ToState,
		RuleID:      rule.ID,
		ActorID:     cfg.actorID,
		CreatedAt:   e.now().UTC(),
	}
	if err := record.Validate(rule); err != nil {
		return Record{}, fmt.Errorf("build audit record: %w", err)
	}

	if err := a.entity.SetField(a.field, rule.ToState); err != nil {
		return Record{}, fmt.Errorf("set status field %q: %w", a.field, err)
	}
	a.previous, a.mutated = current, true

	if err := saveField(ctx, a.entity, a.field); err != nil {
		return Record{}, &PersistenceError{Op: "save", Err: err}
	}
	a.saved = true

	if err := e.audit.Append(ctx, record); err != nil {
		return Record{}, &PersistenceError{Op: "append audit record", Err: err}
	}
	return record, nil
}

// rollback restores the previous field value. When the save already reached
// storage outside of a transaction, the previous value is saved again.
func (e *Engine) rollback(ctx context.Context, a *attempt, cause error) error {
	if !a.mutated {
		return cause
	}
	if err := a.entity.SetField(a.field, a.previous); err != nil {
		return errors.Join(cause, fmt.Errorf("restore status field %q: %w", a.field, err))
	}
	if !a.saved || e.transactional {
		return cause
	}

	if err := saveField(ctx, a.entity, a.field); err != nil {
		e.logger.ErrorContext(ctx, "failed to compensate transition",
			logger.EntityType(a.entity.EntityType()),
			logger.EntityID(a.entity.EntityID()),
			logger.StatusField(a.field),
			slog.String("state", a.previous),
			logger.Error(err),
		)
		return errors.Join(cause, &PersistenceError{Op: "compensate", Err: err})
	}
	return cause
}

// saveField persists only the named field when the entity supports it.
func saveField(ctx context.Context, entity Entity, field string) error {
	if fs, ok := entity.(FieldSaver); ok {
		return fs.SaveField(ctx, field)
	}
	return entity.Save(ctx)
}

// AvailableTransitions returns the distinct transition names registered for
// the entity type's status field, sorted.
func (e *Engine) AvailableTransitions(ctx context.Context, entityType, statusField string) ([]string, error) {
	rules, err := e.registry.RulesFor(ctx, entityType, statusField)
	if err != nil {
		return nil, err
	}
	return distinct(rules, func(r Rule) string { return r.Name }), nil
}

// ReachableStates returns the distinct to-states registered for the entity
// type's status field, sorted.
func (e *Engine) ReachableStates(ctx context.Context, entityType, statusField string) ([]string, error) {
	rules, err := e.registry.RulesFor(ctx, entityType, statusField)
	if err != nil {
		return nil, err
	}
	return distinct(rules, func(r Rule) string { return r.ToState }), nil
}

// PossibleTransitions returns the names of transitions that can be applied
// from the entity's current state, sorted.
func (e *Engine) PossibleTransitions(ctx context.Context, entity Entity, statusField string) ([]string, error) {
	if entity == nil {
		return nil, ErrNilEntity
	}
	field := fieldOrDefault(statusField)

	current, err := entity.Field(field)
	if err != nil {
		return nil, fmt.Errorf("read status field %q: %w", field, err)
	}
	rules, err := e.registry.RulesFrom(ctx, entity.EntityType(), field, current)
	if err != nil {
		return nil, err
	}
	return distinct(rules, func(r Rule) string { return r.Name }), nil
}

// History returns the entity's audit records oldest first. An empty
// statusField returns records of all fields.
func (e *Engine) History(ctx context.Context, entity Entity, statusField string) ([]Record, error) {
	if entity == nil {
		return nil, ErrNilEntity
	}
	records, err := e.audit.For(ctx, HistoryQuery{
		EntityType:  entity.EntityType(),
		EntityID:    entity.EntityID(),
		StatusField: statusField,
	})
	if err != nil {
		return nil, &PersistenceError{Op: "read history", Err: err}
	}
	return records, nil
}

func distinct(rules []Rule, fn func(Rule) string) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, fn(r))
	}
	slices.Sort(out)
	return slices.Compact(out)
}
