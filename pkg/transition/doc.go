// Package transition provides a table-driven state transition engine for
// status fields of arbitrary domain entities, with an append-only audit log
// of every applied transition.
//
// Rules are registered per entity type and status field as
// (transition name, from-state, to-state) edges. Every legal edge is listed
// explicitly: there are no wildcard from-states, guards or self-loops.
// The key (entity type, status field, transition name, from-state) is unique.
//
// # Architecture
//
// Registry stores rules through a RuleStore backend. Engine resolves a
// transition for an Entity, validates the entity's current state, mutates
// the field, saves the entity and appends a Record to the AuditLog. The
// mutate, save and append steps run under a Locker scoped to (entity type,
// entity id, status field) and inside a Transactor, so a concurrent loser
// observes an *InvalidStateError and a failed apply leaves no trace.
//
// In-memory backends (MemoryRuleStore, MemoryAuditLog, KeyedLocker) live in
// this package. PostgreSQL and MongoDB backends live in the pgstore and
// mongostore subpackages, a Redis-based Locker in redislock.
//
// # Usage
//
//	registry := transition.NewRegistry(transition.NewMemoryRuleStore())
//	_ = registry.Register(ctx, "document", "verification_status", transition.Definitions{
//		"submit": {From: []string{"pending"}, To: "submitted"},
//		"reject": {From: []string{"pending"}, To: "rejected"},
//		"verify": {From: []string{"submitted"}, To: "verified"},
//	})
//
//	engine := transition.NewEngine(registry, transition.NewMemoryAuditLog())
//	record, err := engine.Apply(ctx, doc, "submit", "verification_status",
//		transition.WithActor(userID),
//	)
//
// # Error Handling
//
//	if transition.IsInvalidStateError(err)      { /* stale or double submission */ }
//	if transition.IsUnknownTransitionError(err) { /* no such transition */ }
//	if transition.IsPersistenceError(err)       { /* storage failure, state unchanged */ }
//
// No error is retried by the engine.
package transition
