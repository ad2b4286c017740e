package transition_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/statekit/pkg/transition"
)

func TestEngine_Apply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("applies transition and logs history", func(t *testing.T) {
		t.Parallel()
		engine, audit := newTestEngine(t)
		doc := newDocument("doc-1")

		record, err := engine.Apply(ctx, doc, "submit", "verification_status")
		require.NoError(t, err)

		assert.Equal(t, "submitted", doc.StatusFields["verification_status"])
		assert.Equal(t, 1, doc.saves)
		assert.Equal(t, 1, audit.Len())

		assert.NotEmpty(t, record.ID)
		assert.NotEmpty(t, record.RuleID)
		assert.Equal(t, "document", record.EntityType)
		assert.Equal(t, "doc-1", record.EntityID)
		assert.Equal(t, "verification_status", record.StatusField)
		assert.Equal(t, "submit", record.Transition)
		assert.Equal(t, "pending", record.FromState)
		assert.Equal(t, "submitted", record.ToState)
		assert.Empty(t, record.ActorID)
		assert.False(t, record.CreatedAt.IsZero())
	})

	t.Run("record matches the rule it references", func(t *testing.T) {
		t.Parallel()
		engine, _ := newTestEngine(t)
		doc := newDocument("doc-1")

		record, err := engine.Apply(ctx, doc, "publish", "")
		require.NoError(t, err)

		rules, err := engine.Registry().FindRule(ctx, "document", "publish", "status")
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.NoError(t, record.Validate(rules[0]))
	})

	t.Run("records the actor", func(t *testing.T) {
		t.Parallel()
		engine, _ := newTestEngine(t)
		doc := newDocument("doc-1")

		record, err := engine.Apply(ctx, doc, "publish", "status", transition.WithActor("user-7"))
		require.NoError(t, err)
		assert.Equal(t, "user-7", record.ActorID)
	})

	t.Run("defaults to the status field", func(t *testing.T) {
		t.Parallel()
		engine, _ := newTestEngine(t)
		doc := newDocument("doc-1")

		record, err := engine.Apply(ctx, doc, "publish", "")
		require.NoError(t, err)
		assert.Equal(t, "status", record.StatusField)
		assert.Equal(t, "published", doc.StatusFields["status"])
	})

	t.Run("rejects transition from wrong state", func(t *testing.T) {
		t.Parallel()
		engine, audit := newTestEngine(t)
		doc := newDocument("doc-1")

		_, err := engine.Apply(ctx, doc, "submit", "verification_status")
		require.NoError(t, err)

		_, err = engine.Apply(ctx, doc, "submit", "verification_status")
		require.Error(t, err)
		assert.True(t, transition.IsInvalidStateError(err))
		assert.ErrorIs(t, err, transition.ErrInvalidState)

		var stateErr *transition.InvalidStateError
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, "submitted", stateErr.Current)
		assert.Equal(t, []string{"pending"}, stateErr.Expected)
		assert.Equal(t, "submit", stateErr.Transition)

		assert.Equal(t, "submitted", doc.StatusFields["verification_status"])
		assert.Equal(t, 1, audit.Len())
	})

	t.Run("unknown transition", func(t *testing.T) {
		t.Parallel()
		engine, audit := newTestEngine(t)
		doc := newDocument("doc-1")

		_, err := engine.Apply(ctx, doc, "teleport", "status")
		require.Error(t, err)
		assert.True(t, transition.IsUnknownTransitionError(err))
		assert.ErrorIs(t, err, transition.ErrUnknownTransition)
		assert.Equal(t, "draft", doc.StatusFields["status"])
		assert.Zero(t, audit.Len())
	})

	t.Run("transition of another field is unknown", func(t *testing.T) {
		t.Parallel()
		engine, _ := newTestEngine(t)
		doc := newDocument("doc-1")

		_, err := engine.Apply(ctx, doc, "publish", "verification_status")
		assert.True(t, transition.IsUnknownTransitionError(err))
	})

	t.Run("unknown status field on entity", func(t *testing.T) {
		t.Parallel()
		registry := transition.NewRegistry(transition.NewMemoryRuleStore())
		require.NoError(t, registry.Register(ctx, "document", "priority", transition.Definitions{
			"raise": {From: []string{"low"}, To: "high"},
		}))
		engine := transition.NewEngine(registry, transition.NewMemoryAuditLog())

		_, err := engine.Apply(ctx, newDocument("doc-1"), "raise", "priority")
		assert.ErrorIs(t, err, transition.ErrUnknownField)
	})

	t.Run("nil entity", func(t *testing.T) {
		t.Parallel()
		engine, _ := newTestEngine(t)
		_, err := engine.Apply(ctx, nil, "publish", "status")
		assert.ErrorIs(t, err, transition.ErrNilEntity)
	})

	t.Run("uses the injected clock", func(t *testing.T) {
		t.Parallel()
		fixed := time.Date(2024, 9, 20, 23, 44, 3, 0, time.UTC)
		engine, _ := newTestEngine(t, transition.WithClock(func() time.Time { return fixed }))

		record, err := engine.Apply(ctx, newDocument("doc-1"), "publish", "status")
		require.NoError(t, err)
		assert.Equal(t, fixed, record.CreatedAt)
	})

	t.Run("multiple from-states share a target", func(t *testing.T) {
		t.Parallel()
		registry := transition.NewRegistry(transition.NewMemoryRuleStore())
		require.NoError(t, registry.Register(ctx, "document", "verification_status", transition.Definitions{
			"approve": {From: []string{"pending", "submitted"}, To: "approved"},
		}))
		engine := transition.NewEngine(registry, transition.NewMemoryAuditLog())

		doc := newDocument("doc-1")
		doc.StatusFields["verification_status"] = "submitted"

		record, err := engine.Apply(ctx, doc, "approve", "verification_status")
		require.NoError(t, err)
		assert.Equal(t, "submitted", record.FromState)
		assert.Equal(t, "approved", record.ToState)
	})
}

func TestEngine_ApplyFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("save failure restores field and writes no record", func(t *testing.T) {
		t.Parallel()
		engine, audit := newTestEngine(t)
		doc := newDocument("doc-1")
		saveErr := errors.New("connection reset")
		doc.saveErr = saveErr

		_, err := engine.Apply(ctx, doc, "publish", "status")
		require.Error(t, err)
		assert.True(t, transition.IsPersistenceError(err))
		assert.ErrorIs(t, err, transition.ErrPersistence)
		assert.ErrorIs(t, err, saveErr)

		var pErr *transition.PersistenceError
		require.ErrorAs(t, err, &pErr)
		assert.Equal(t, "save", pErr.Op)

		assert.Equal(t, "draft", doc.StatusFields["status"])
		assert.Zero(t, audit.Len())
	})

	t.Run("append failure compensates the save", func(t *testing.T) {
		t.Parallel()
		registry := transition.NewRegistry(transition.NewMemoryRuleStore())
		seedDocumentRules(t, registry)

		appendErr := errors.New("disk full")
		audit := &MockAuditLog{}
		audit.On("Append", mock.Anything, mock.Anything).Return(appendErr)

		db := &table{rows: map[string]map[string]string{}}
		doc := &storedDocument{id: "doc-1", db: db, StatusFields: transition.StatusFields{"status": "draft"}}
		require.NoError(t, doc.Save(ctx))

		engine := transition.NewEngine(registry, audit)
		_, err := engine.Apply(ctx, doc, "publish", "status")
		require.Error(t, err)
		assert.ErrorIs(t, err, appendErr)

		var pErr *transition.PersistenceError
		require.ErrorAs(t, err, &pErr)
		assert.Equal(t, "append audit record", pErr.Op)

		assert.Equal(t, "draft", doc.StatusFields["status"])
		assert.Equal(t, "draft", db.load("doc-1")["status"])
		audit.AssertExpectations(t)
	})

	t.Run("append failure inside transaction skips compensation", func(t *testing.T) {
		t.Parallel()
		registry := transition.NewRegistry(transition.NewMemoryRuleStore())
		seedDocumentRules(t, registry)

		audit := &MockAuditLog{}
		audit.On("Append", mock.Anything, mock.Anything).Return(errors.New("disk full"))

		tx := &countingTx{}
		engine := transition.NewEngine(registry, audit, transition.WithTransactor(tx))
		doc := newDocument("doc-1")

		_, err := engine.Apply(ctx, doc, "publish", "status")
		require.Error(t, err)
		assert.Equal(t, 1, tx.calls)
		assert.Equal(t, 1, doc.saves)
		assert.Equal(t, "draft", doc.StatusFields["status"])
	})

	t.Run("commit failure is a persistence error", func(t *testing.T) {
		t.Parallel()
		registry := transition.NewRegistry(transition.NewMemoryRuleStore())
		seedDocumentRules(t, registry)
		commitErr := errors.New("commit failed")

		engine := transition.NewEngine(registry, transition.NewMemoryAuditLog(),
			transition.WithTransactor(failingCommitTx{err: commitErr}),
		)
		doc := newDocument("doc-1")

		_, err := engine.Apply(ctx, doc, "publish", "status")
		assert.True(t, transition.IsPersistenceError(err))
		assert.ErrorIs(t, err, commitErr)
		assert.Equal(t, "draft", doc.StatusFields["status"])
	})

	t.Run("observer is notified", func(t *testing.T) {
		t.Parallel()
		observer := &MockObserver{}
		observer.On("TransitionApplied", mock.Anything, mock.MatchedBy(func(r transition.Record) bool {
			return r.Transition == "publish" && r.ToState == "published"
		})).Once()
		observer.On("TransitionFailed", mock.Anything, "document", "status", "publish", mock.MatchedBy(transition.IsInvalidStateError)).Once()

		engine, _ := newTestEngine(t, transition.WithObserver(observer))
		doc := newDocument("doc-1")

		_, err := engine.Apply(ctx, doc, "publish", "status")
		require.NoError(t, err)
		_, err = engine.Apply(ctx, doc, "publish", "status")
		require.Error(t, err)

		observer.AssertExpectations(t)
	})
}

type failingCommitTx struct {
	err error
}

func (f failingCommitTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	return f.err
}

func TestEngine_Concurrency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("only one of concurrent applies wins on a shared entity", func(t *testing.T) {
		t.Parallel()
		engine, audit := newTestEngine(t)
		doc := newDocument("doc-1")

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			invalid   int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := engine.Apply(ctx, doc, "submit", "verification_status")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case transition.IsInvalidStateError(err):
					invalid++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		assert.Equal(t, workers-1, invalid)
		assert.Equal(t, 1, audit.Len())
	})

	t.Run("stale instances lose the race", func(t *testing.T) {
		t.Parallel()
		engine, audit := newTestEngine(t)
		db := &table{rows: map[string]map[string]string{
			"doc-1": {"status": "draft", "verification_status": "pending"},
		}}

		const workers = 8
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := range workers {
			doc := &storedDocument{id: "doc-1", db: db, StatusFields: transition.StatusFields(db.load("doc-1"))}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = engine.Apply(ctx, doc, "submit", "verification_status")
			}()
		}
		wg.Wait()

		var succeeded int
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, transition.IsInvalidStateError(err))
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 1, audit.Len())
		assert.Equal(t, "submitted", db.load("doc-1")["verification_status"])
	})

	t.Run("different entities proceed independently", func(t *testing.T) {
		t.Parallel()
		engine, audit := newTestEngine(t)
		db := &table{rows: map[string]map[string]string{
			"doc-1": {"status": "draft", "verification_status": "pending"},
		}}
		a := &storedDocument{id: "doc-1", db: db}
		b := &storedDocument{id: "doc-2", db: db}
		db.store("doc-2", db.load("doc-1"))

		var wg sync.WaitGroup
		var errA, errB error
		wg.Add(2)
		go func() { defer wg.Done(); _, errA = engine.Apply(ctx, a, "submit", "verification_status") }()
		go func() { defer wg.Done(); _, errB = engine.Apply(ctx, b, "publish", "status") }()
		wg.Wait()

		require.NoError(t, errA)
		require.NoError(t, errB)
		assert.Equal(t, 2, audit.Len())
	})
}

func TestEngine_CanApply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	cases := []struct {
		name       string
		state      string
		transition string
		field      string
		want       bool
	}{
		{name: "matching from-state", state: "pending", transition: "submit", field: "verification_status", want: true},
		{name: "wrong from-state", state: "submitted", transition: "submit", field: "verification_status", want: false},
		{name: "unknown transition", state: "pending", transition: "teleport", field: "verification_status", want: false},
		{name: "transition of another field", state: "pending", transition: "publish", field: "verification_status", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doc := newDocument("doc-1")
			doc.StatusFields["verification_status"] = tc.state

			ok, err := engine.CanApply(ctx, doc, tc.transition, tc.field)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)

			// Apply succeeds exactly when CanApply said so.
			_, err = engine.Apply(ctx, doc, tc.transition, tc.field)
			assert.Equal(t, tc.want, err == nil)
		})
	}
}

func TestEngine_Queries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("available transitions and reachable states", func(t *testing.T) {
		t.Parallel()
		engine, _ := newTestEngine(t)

		names, err := engine.AvailableTransitions(ctx, "document", "status")
		require.NoError(t, err)
		assert.Equal(t, []string{"archive", "publish"}, names)

		names, err = engine.AvailableTransitions(ctx, "document", "verification_status")
		require.NoError(t, err)
		assert.Equal(t, []string{"reject", "submit", "verify"}, names)

		states, err := engine.ReachableStates(ctx, "document", "verification_status")
		require.NoError(t, err)
		assert.Equal(t, []string{"rejected", "submitted", "verified"}, states)

		again, err := engine.ReachableStates(ctx, "document", "verification_status")
		require.NoError(t, err)
		assert.Equal(t, states, again)
	})

	t.Run("names are distinct across from-states", func(t *testing.T) {
		t.Parallel()
		registry := transition.NewRegistry(transition.NewMemoryRuleStore())
		require.NoError(t, registry.Register(ctx, "document", "", transition.Definitions{
			"approve": {From: []string{"pending", "submitted"}, To: "approved"},
			"reject":  {From: []string{"pending", "submitted"}, To: "rejected"},
		}))
		engine := transition.NewEngine(registry, transition.NewMemoryAuditLog())

		names, err := engine.AvailableTransitions(ctx, "document", "")
		require.NoError(t, err)
		assert.Equal(t, []string{"approve", "reject"}, names)
	})

	t.Run("unknown entity type has no transitions", func(t *testing.T) {
		t.Parallel()
		engine, _ := newTestEngine(t)
		names, err := engine.AvailableTransitions(ctx, "invoice", "status")
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("possible transitions follow current state", func(t *testing.T) {
		t.Parallel()
		engine, _ := newTestEngine(t)
		doc := newDocument("doc-1")

		names, err := engine.PossibleTransitions(ctx, doc, "status")
		require.NoError(t, err)
		assert.Equal(t, []string{"publish"}, names)

		_, err = engine.Apply(ctx, doc, "publish", "status")
		require.NoError(t, err)

		names, err = engine.PossibleTransitions(ctx, doc, "status")
		require.NoError(t, err)
		assert.Equal(t, []string{"archive"}, names)

		names, err = engine.PossibleTransitions(ctx, doc, "verification_status")
		require.NoError(t, err)
		assert.Equal(t, []string{"reject", "submit"}, names)
	})

	t.Run("history is ordered and filterable", func(t *testing.T) {
		t.Parallel()
		engine, _ := newTestEngine(t)
		doc := newDocument("doc-1")
		other := newDocument("doc-2")

		_, err := engine.Apply(ctx, doc, "submit", "verification_status")
		require.NoError(t, err)
		_, err = engine.Apply(ctx, other, "publish", "status")
		require.NoError(t, err)
		_, err = engine.Apply(ctx, doc, "verify", "verification_status")
		require.NoError(t, err)
		_, err = engine.Apply(ctx, doc, "publish", "status", transition.WithActor("user-1"))
		require.NoError(t, err)

		history, err := engine.History(ctx, doc, "")
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, "submit", history[0].Transition)
		assert.Equal(t, "verify", history[1].Transition)
		assert.Equal(t, "publish", history[2].Transition)
		for i := 1; i < len(history); i++ {
			assert.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt))
		}
		for _, r := range history {
			assert.Equal(t, "doc-1", r.EntityID)
			assert.Equal(t, "document", r.EntityType)
		}

		statusOnly, err := engine.History(ctx, doc, "status")
		require.NoError(t, err)
		require.Len(t, statusOnly, 1)
		assert.Equal(t, "publish", statusOnly[0].Transition)
		assert.Equal(t, "user-1", statusOnly[0].ActorID)

		verification, err := engine.History(ctx, doc, "verification_status")
		require.NoError(t, err)
		require.Len(t, verification, 2)
		assert.Equal(t, doc.StatusFields["verification_status"], verification[len(verification)-1].ToState)
	})

	t.Run("history read failure", func(t *testing.T) {
		t.Parallel()
		registry := transition.NewRegistry(transition.NewMemoryRuleStore())
		audit := &MockAuditLog{}
		audit.On("For", mock.Anything, transition.HistoryQuery{EntityType: "document", EntityID: "doc-1"}).
			Return(nil, errors.New("timeout"))
		engine := transition.NewEngine(registry, audit)

		_, err := engine.History(ctx, newDocument("doc-1"), "")
		assert.True(t, transition.IsPersistenceError(err))
		audit.AssertExpectations(t)
	})
}

func TestNewEngine_Panics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { transition.NewEngine(nil, transition.NewMemoryAuditLog()) })
	assert.Panics(t, func() {
		transition.NewEngine(transition.NewRegistry(transition.NewMemoryRuleStore()), nil)
	})
}

type txMarker struct{}

// markingTx tags the context so entities can tell they run inside it.
type markingTx struct{}

func (markingTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(context.WithValue(ctx, txMarker{}, true))
}

// fieldDocument persists single fields and remembers where it was reloaded.
type fieldDocument struct {
	transition.StatusFields
	saves        int
	fieldSaves   []string
	reloadedInTx bool
}

func (d *fieldDocument) EntityType() string { return "document" }
func (d *fieldDocument) EntityID() string   { return "doc-1" }

func (d *fieldDocument) Save(context.Context) error {
	d.saves++
	return nil
}

func (d *fieldDocument) SaveField(_ context.Context, name string) error {
	d.fieldSaves = append(d.fieldSaves, name)
	return nil
}

func (d *fieldDocument) Reload(ctx context.Context) error {
	d.reloadedInTx = ctx.Value(txMarker{}) != nil
	return nil
}

func TestEngine_FieldSaver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("saves only the governed field and reloads inside the transaction", func(t *testing.T) {
		t.Parallel()
		engine, _ := newTestEngine(t, transition.WithTransactor(markingTx{}))
		doc := &fieldDocument{StatusFields: transition.StatusFields{"status": "draft", "verification_status": "pending"}}

		rec, err := engine.Apply(ctx, doc, "publish", "status")
		require.NoError(t, err)
		assert.Equal(t, []string{"status"}, doc.fieldSaves)
		assert.Zero(t, doc.saves)
		assert.True(t, doc.reloadedInTx)

		rules, err := engine.Registry().FindRule(ctx, "document", "publish", "status")
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.NoError(t, rec.Validate(rules[0]))
	})

	t.Run("compensation saves only the governed field", func(t *testing.T) {
		t.Parallel()
		registry := transition.NewRegistry(transition.NewMemoryRuleStore())
		seedDocumentRules(t, registry)
		audit := &MockAuditLog{}
		audit.On("Append", mock.Anything, mock.Anything).Return(errors.New("disk full"))

		engine := transition.NewEngine(registry, audit)
		doc := &fieldDocument{StatusFields: transition.StatusFields{"status": "draft", "verification_status": "pending"}}

		_, err := engine.Apply(ctx, doc, "publish", "status")
		require.Error(t, err)
		assert.Equal(t, []string{"status", "status"}, doc.fieldSaves)
		assert.Zero(t, doc.saves)
		assert.Equal(t, "draft", doc.StatusFields["status"])
	})

	t.Run("invalid state inside the transaction is not wrapped", func(t *testing.T) {
		t.Parallel()
		engine, audit := newTestEngine(t, transition.WithTransactor(markingTx{}))
		doc := &fieldDocument{StatusFields: transition.StatusFields{"status": "published"}}

		_, err := engine.Apply(ctx, doc, "publish", "status")
		require.True(t, transition.IsInvalidStateError(err))
		assert.False(t, transition.IsPersistenceError(err))
		assert.Empty(t, doc.fieldSaves)
		assert.Zero(t, audit.Len())
	})
}
