package transition

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateRule     = errors.New("transition rule already registered")
	ErrUnknownTransition = errors.New("unknown transition")
	ErrInvalidState      = errors.New("entity is not in a valid state for transition")
	ErrPersistence       = errors.New("transition persistence failed")
	ErrInvalidDefinition = errors.New("invalid transition definition")
	ErrLockTimeout       = errors.New("timed out acquiring transition lock")
	ErrNilEntity         = errors.New("entity cannot be nil")
	ErrUnknownField      = errors.New("unknown status field")
)

// DuplicateRuleError reports a rule whose key is already present in the store.
type DuplicateRuleError struct {
	Key RuleKey
}

func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("duplicate transition rule %s", e.Key)
}

func (e *DuplicateRuleError) Unwrap() error { return ErrDuplicateRule }

// UnknownTransitionError indicates no rule matches the entity type, field and transition name.
type UnknownTransitionError struct {
	EntityType  string
	StatusField string
	Transition  string
}

func (e *UnknownTransitionError) Error() string {
	return fmt.Sprintf("unknown transition '%s' for %s.%s", e.Transition, e.EntityType, e.StatusField)
}

func (e *UnknownTransitionError) Unwrap() error { return ErrUnknownTransition }

// InvalidStateError indicates the entity's current state does not match any
// from-state registered for the transition. A lost race is reported the same way.
type InvalidStateError struct {
	EntityType  string
	EntityID    string
	StatusField string
	Transition  string
	Current     string
	Expected    []string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf(
		"cannot apply transition '%s' to %s(%s).%s: current state '%s', expected one of [%s]",
		e.Transition, e.EntityType, e.EntityID, e.StatusField, e.Current, strings.Join(e.Expected, ", "),
	)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// PersistenceError wraps a failure of the entity save or the audit append.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("transition %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// RegistrationError collects the per-rule failures of a Register batch.
// Rules that did not fail were stored.
type RegistrationError struct {
	Inserted int
	Failed   []RuleKey
	Err      error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registered %d rules, %d failed: %v", e.Inserted, len(e.Failed), e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

func IsDuplicateRuleError(err error) bool {
	return errors.Is(err, ErrDuplicateRule)
}

func IsUnknownTransitionError(err error) bool {
	var e *UnknownTransitionError
	return errors.As(err, &e)
}

func IsInvalidStateError(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}

func IsPersistenceError(err error) bool {
	var e *PersistenceError
	return errors.As(err, &e)
}
