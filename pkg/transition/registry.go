package transition

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Definition describes one named transition: the states it may leave and
// the state it enters.
type Definition struct {
	From []string `json:"from" yaml:"from"`
	To   string   `json:"to" yaml:"to"`
}

// Definitions maps transition names to their definitions.
type Definitions map[string]Definition

// Registry owns the set of registered rules and answers lookups against it.
type Registry struct {
	store RuleStore
	now   func() time.Time
}

// NewRegistry creates a registry backed by the given store.
// Panics if store is nil.
func NewRegistry(store RuleStore) *Registry {
	if store == nil {
		panic("transition: rule store cannot be nil")
	}
	return &Registry{store: store, now: time.Now}
}

// Register expands defs into one rule per (transition, from-state) pair and
// inserts them one by one. A duplicate does not stop the batch: all
// duplicates are reported together in a *RegistrationError. Any other store
// failure aborts the batch with a *PersistenceError.
func (r *Registry) Register(ctx context.Context, entityType, statusField string, defs Definitions) error {
	rules, err := r.expand(entityType, fieldOrDefault(statusField), defs)
	if err != nil {
		return err
	}

	var (
		inserted int
		failed   []RuleKey
		errs     []error
	)
	for _, rule := range rules {
		err := r.store.Insert(ctx, rule)
		switch {
		case err == nil:
			inserted++
		case errors.Is(err, ErrDuplicateRule):
			failed = append(failed, rule.Key())
			errs = append(errs, &DuplicateRuleError{Key: rule.Key()})
		default:
			return &PersistenceError{Op: "register", Err: err}
		}
	}

	if len(failed) > 0 {
		return &RegistrationError{Inserted: inserted, Failed: failed, Err: errors.Join(errs...)}
	}
	return nil
}

func (r *Registry) expand(entityType, statusField string, defs Definitions) ([]Rule, error) {
	if strings.TrimSpace(entityType) == "" {
		return nil, errors.Join(ErrInvalidDefinition, errors.New("entity type is required"))
	}
	if len(defs) == 0 {
		return nil, errors.Join(ErrInvalidDefinition, errors.New("no transitions given"))
	}

	now := r.now().UTC()
	var rules []Rule
	for _, name := range slices.Sorted(maps.Keys(defs)) {
		def := defs[name]
		if strings.TrimSpace(name) == "" {
			return nil, errors.Join(ErrInvalidDefinition, errors.New("transition name is required"))
		}
		if strings.TrimSpace(def.To) == "" {
			return nil, errors.Join(ErrInvalidDefinition, errors.New("transition "+name+": to-state is required"))
		}
		if len(def.From) == 0 {
			return nil, errors.Join(ErrInvalidDefinition, errors.New("transition "+name+": at least one from-state is required"))
		}
		from := slices.Clone(def.From)
		slices.Sort(from)
		for _, state := range slices.Compact(from) {
			if strings.TrimSpace(state) == "" {
				return nil, errors.Join(ErrInvalidDefinition, errors.New("transition "+name+": empty from-state"))
			}
			rules = append(rules, Rule{
				ID:          uuid.New().String(),
				EntityType:  entityType,
				StatusField: statusField,
				Name:        name,
				FromState:   state,
				ToState:     def.To,
				CreatedAt:   now,
			})
		}
	}
	return rules, nil
}

// FindRule returns every edge registered for the named transition.
// It fails with *UnknownTransitionError when there is none.
func (r *Registry) FindRule(ctx context.Context, entityType, transition, statusField string) ([]Rule, error) {
	statusField = fieldOrDefault(statusField)
	rules, err := r.store.List(ctx, RuleFilter{
		EntityType:  entityType,
		StatusField: statusField,
		Transition:  transition,
	})
	if err != nil {
		return nil, &PersistenceError{Op: "find rule", Err: err}
	}
	if len(rules) == 0 {
		return nil, &UnknownTransitionError{EntityType: entityType, StatusField: statusField, Transition: transition}
	}
	return rules, nil
}

// RulesFor returns all rules of the entity type's status field.
func (r *Registry) RulesFor(ctx context.Context, entityType, statusField string) ([]Rule, error) {
	return r.list(ctx, RuleFilter{EntityType: entityType, StatusField: fieldOrDefault(statusField)})
}

// RulesFrom returns the rules leaving the given state.
func (r *Registry) RulesFrom(ctx context.Context, entityType, statusField, state string) ([]Rule, error) {
	if state == "" {
		return []Rule{}, nil
	}
	return r.list(ctx, RuleFilter{EntityType: entityType, StatusField: fieldOrDefault(statusField), FromState: state})
}

// Clear deletes the rules matching filter. An empty filter clears everything.
func (r *Registry) Clear(ctx context.Context, filter RuleFilter) (int64, error) {
	n, err := r.store.Delete(ctx, filter)
	if err != nil {
		return 0, &PersistenceError{Op: "clear rules", Err: err}
	}
	return n, nil
}

func (r *Registry) list(ctx context.Context, filter RuleFilter) ([]Rule, error) {
	rules, err := r.store.List(ctx, filter)
	if err != nil {
		return nil, &PersistenceError{Op: "list rules", Err: err}
	}
	return rules, nil
}

// matchFrom returns the rule whose from-state equals state.
func matchFrom(rules []Rule, state string) (Rule, bool) {
	for _, r := range rules {
		if r.FromState == state {
			return r, true
		}
	}
	return Rule{}, false
}

func fromStates(rules []Rule) []string {
	states := make([]string, 0, len(rules))
	for _, r := range rules {
		states = append(states, r.FromState)
	}
	slices.Sort(states)
	return slices.Compact(states)
}
