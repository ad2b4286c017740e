// Package transitiontest holds behaviour tests shared by every RuleStore and
// AuditLog backend. Each backend's own tests call the Run* functions with a
// constructor for a ready-to-use store.
package transitiontest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/statekit/pkg/transition"
)

// uniqueType returns an entity type no other test uses, so backends sharing
// a database across parallel tests do not see each other's rows.
func uniqueType() string {
	return "document_" + uuid.NewString()[:8]
}

func rule(entityType, field, name, from, to string) transition.Rule {
	return transition.Rule{
		ID:          uuid.NewString(),
		EntityType:  entityType,
		StatusField: field,
		Name:        name,
		FromState:   from,
		ToState:     to,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

// RunRuleStoreTests verifies the RuleStore contract.
func RunRuleStoreTests(t *testing.T, newStore func(t *testing.T) transition.RuleStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("insert and list in insertion order", func(t *testing.T) {
		store := newStore(t)
		et := uniqueType()

		first := rule(et, "status", "publish", "draft", "published")
		second := rule(et, "status", "archive", "published", "archived")
		require.NoError(t, store.Insert(ctx, first))
		require.NoError(t, store.Insert(ctx, second))

		rules, err := store.List(ctx, transition.RuleFilter{EntityType: et})
		require.NoError(t, err)
		require.Len(t, rules, 2)
		assert.Equal(t, first.ID, rules[0].ID)
		assert.Equal(t, first.Key(), rules[0].Key())
		assert.Equal(t, "published", rules[0].ToState)
		assert.Equal(t, second.ID, rules[1].ID)
	})

	t.Run("duplicate key is rejected", func(t *testing.T) {
		store := newStore(t)
		et := uniqueType()

		require.NoError(t, store.Insert(ctx, rule(et, "status", "publish", "draft", "published")))
		err := store.Insert(ctx, rule(et, "status", "publish", "draft", "live"))
		assert.ErrorIs(t, err, transition.ErrDuplicateRule)

		rules, err := store.List(ctx, transition.RuleFilter{EntityType: et})
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, "published", rules[0].ToState)
	})

	t.Run("concurrent duplicates store one rule", func(t *testing.T) {
		store := newStore(t)
		et := uniqueType()

		const workers = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			inserted int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.Insert(ctx, rule(et, "status", "publish", "draft", "published"))
				if err == nil {
					mu.Lock()
					inserted++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, transition.ErrDuplicateRule)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, inserted)
	})

	t.Run("filters", func(t *testing.T) {
		store := newStore(t)
		et := uniqueType()

		require.NoError(t, store.Insert(ctx, rule(et, "verification_status", "approve", "pending", "approved")))
		require.NoError(t, store.Insert(ctx, rule(et, "verification_status", "approve", "submitted", "approved")))
		require.NoError(t, store.Insert(ctx, rule(et, "verification_status", "verify", "submitted", "verified")))
		require.NoError(t, store.Insert(ctx, rule(et, "status", "publish", "draft", "published")))

		byField, err := store.List(ctx, transition.RuleFilter{EntityType: et, StatusField: "verification_status"})
		require.NoError(t, err)
		assert.Len(t, byField, 3)

		byName, err := store.List(ctx, transition.RuleFilter{EntityType: et, StatusField: "verification_status", Transition: "approve"})
		require.NoError(t, err)
		assert.Len(t, byName, 2)

		byFrom, err := store.List(ctx, transition.RuleFilter{EntityType: et, StatusField: "verification_status", FromState: "submitted"})
		require.NoError(t, err)
		assert.Len(t, byFrom, 2)

		none, err := store.List(ctx, transition.RuleFilter{EntityType: et, StatusField: "priority"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("delete scoped by filter", func(t *testing.T) {
		store := newStore(t)
		et := uniqueType()

		require.NoError(t, store.Insert(ctx, rule(et, "status", "publish", "draft", "published")))
		require.NoError(t, store.Insert(ctx, rule(et, "status", "archive", "published", "archived")))
		require.NoError(t, store.Insert(ctx, rule(et, "verification_status", "submit", "pending", "submitted")))

		n, err := store.Delete(ctx, transition.RuleFilter{EntityType: et, StatusField: "status"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		rest, err := store.List(ctx, transition.RuleFilter{EntityType: et})
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, "submit", rest[0].Name)

		// The key is free again after deletion.
		require.NoError(t, store.Insert(ctx, rule(et, "status", "publish", "draft", "published")))
	})
}

// RunAuditLogTests verifies the AuditLog contract.
func RunAuditLogTests(t *testing.T, newLog func(t *testing.T) transition.AuditLog) {
	t.Helper()
	ctx := context.Background()

	record := func(entityType, id, field, name, from, to, actor string, at time.Time) transition.Record {
		return transition.Record{
			ID:          uuid.NewString(),
			EntityType:  entityType,
			EntityID:    id,
			StatusField: field,
			Transition:  name,
			FromState:   from,
			ToState:     to,
			ActorID:     actor,
			CreatedAt:   at,
		}
	}

	t.Run("round trip", func(t *testing.T) {
		log := newLog(t)
		et := uniqueType()
		at := time.Now().UTC().Truncate(time.Millisecond)

		in := record(et, "1", "status", "publish", "draft", "published", "user-1", at)
		require.NoError(t, log.Append(ctx, in))

		out, err := log.For(ctx, transition.HistoryQuery{EntityType: et, EntityID: "1"})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, in.ID, out[0].ID)
		assert.Equal(t, in.Transition, out[0].Transition)
		assert.Equal(t, in.FromState, out[0].FromState)
		assert.Equal(t, in.ToState, out[0].ToState)
		assert.Equal(t, "user-1", out[0].ActorID)
		assert.True(t, in.CreatedAt.Equal(out[0].CreatedAt), "created_at %s != %s", in.CreatedAt, out[0].CreatedAt)
	})

	t.Run("missing actor stays empty", func(t *testing.T) {
		log := newLog(t)
		et := uniqueType()

		require.NoError(t, log.Append(ctx, record(et, "1", "status", "publish", "draft", "published", "", time.Now().UTC())))
		out, err := log.For(ctx, transition.HistoryQuery{EntityType: et, EntityID: "1"})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Empty(t, out[0].ActorID)
	})

	t.Run("oldest first with insertion order on ties", func(t *testing.T) {
		log := newLog(t)
		et := uniqueType()
		base := time.Now().UTC().Truncate(time.Millisecond)

		late := record(et, "1", "status", "archive", "published", "archived", "", base.Add(time.Second))
		tieA := record(et, "1", "verification_status", "submit", "pending", "submitted", "", base)
		tieB := record(et, "1", "status", "publish", "draft", "published", "", base)
		for _, r := range []transition.Record{late, tieA, tieB} {
			require.NoError(t, log.Append(ctx, r))
		}

		out, err := log.For(ctx, transition.HistoryQuery{EntityType: et, EntityID: "1"})
		require.NoError(t, err)
		require.Len(t, out, 3)
		assert.Equal(t, tieA.ID, out[0].ID)
		assert.Equal(t, tieB.ID, out[1].ID)
		assert.Equal(t, late.ID, out[2].ID)
	})

	t.Run("scoped to entity and field", func(t *testing.T) {
		log := newLog(t)
		et := uniqueType()
		now := time.Now().UTC()

		require.NoError(t, log.Append(ctx, record(et, "1", "status", "publish", "draft", "published", "", now)))
		require.NoError(t, log.Append(ctx, record(et, "1", "verification_status", "submit", "pending", "submitted", "", now)))
		require.NoError(t, log.Append(ctx, record(et, "2", "status", "publish", "draft", "published", "", now)))

		out, err := log.For(ctx, transition.HistoryQuery{EntityType: et, EntityID: "1", StatusField: "verification_status"})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "submit", out[0].Transition)

		out, err = log.For(ctx, transition.HistoryQuery{EntityType: et, EntityID: "1"})
		require.NoError(t, err)
		assert.Len(t, out, 2)

		out, err = log.For(ctx, transition.HistoryQuery{EntityType: et, EntityID: "3"})
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}
