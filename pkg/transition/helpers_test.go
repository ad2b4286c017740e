package transition_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/statekit/pkg/transition"
)

// document is a test entity with two independently governed status fields.
type document struct {
	transition.StatusFields
	id      string
	saves   int
	saveErr error
}

func newDocument(id string) *document {
	return &document{
		id: id,
		StatusFields: transition.StatusFields{
			"status":              "draft",
			"verification_status": "pending",
		},
	}
}

func (d *document) EntityType() string { return "document" }
func (d *document) EntityID() string   { return d.id }

func (d *document) Save(context.Context) error {
	if d.saveErr != nil {
		return d.saveErr
	}
	d.saves++
	return nil
}

// table simulates durable storage shared by several in-memory instances of
// the same entity.
type table struct {
	mu   sync.Mutex
	rows map[string]map[string]string
}

func (t *table) load(id string) map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.rows[id]))
	for k, v := range t.rows[id] {
		out[k] = v
	}
	return out
}

func (t *table) store(id string, fields map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row := make(map[string]string, len(fields))
	for k, v := range fields {
		row[k] = v
	}
	t.rows[id] = row
}

// storedDocument is an entity instance backed by table; it reloads before
// each apply.
type storedDocument struct {
	transition.StatusFields
	id string
	db *table
}

func (d *storedDocument) EntityType() string { return "document" }
func (d *storedDocument) EntityID() string   { return d.id }

func (d *storedDocument) Save(context.Context) error {
	d.db.store(d.id, d.StatusFields)
	return nil
}

func (d *storedDocument) Reload(context.Context) error {
	d.StatusFields = d.db.load(d.id)
	return nil
}

type MockAuditLog struct {
	mock.Mock
}

func (m *MockAuditLog) Append(ctx context.Context, record transition.Record) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockAuditLog) For(ctx context.Context, query transition.HistoryQuery) ([]transition.Record, error) {
	args := m.Called(ctx, query)
	records, _ := args.Get(0).([]transition.Record)
	return records, args.Error(1)
}

type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) TransitionApplied(ctx context.Context, record transition.Record) {
	m.Called(ctx, record)
}

func (m *MockObserver) TransitionFailed(ctx context.Context, entityType, statusField, name string, err error) {
	m.Called(ctx, entityType, statusField, name, err)
}

// countingTx runs fn and counts calls, standing in for a real transaction.
type countingTx struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return fn(ctx)
}

func seedDocumentRules(t *testing.T, registry *transition.Registry) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, "document", "verification_status", transition.Definitions{
		"submit": {From: []string{"pending"}, To: "submitted"},
		"reject": {From: []string{"pending"}, To: "rejected"},
		"verify": {From: []string{"submitted"}, To: "verified"},
	}))
	require.NoError(t, registry.Register(ctx, "document", "status", transition.Definitions{
		"publish": {From: []string{"draft"}, To: "published"},
		"archive": {From: []string{"published"}, To: "archived"},
	}))
}

func newTestEngine(t *testing.T, opts ...transition.Option) (*transition.Engine, *transition.MemoryAuditLog) {
	t.Helper()
	registry := transition.NewRegistry(transition.NewMemoryRuleStore())
	seedDocumentRules(t, registry)
	audit := transition.NewMemoryAuditLog()
	return transition.NewEngine(registry, audit, opts...), audit
}
