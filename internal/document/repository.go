package document

import (
	"context"
	"sync"
	"time"
)

// Repository persists documents. Get returns documents attached to the
// repository so that Save and Reload work on them.
type Repository interface {
	Create(ctx context.Context, d *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	// GetForUpdate is Get that also locks the document until the
	// transaction carried by ctx ends.
	GetForUpdate(ctx context.Context, id string) (*Document, error)
	Update(ctx context.Context, d *Document) error
	// UpdateField writes one status field and updated_at, leaving the
	// other columns as stored.
	UpdateField(ctx context.Context, id, field, value string, updatedAt time.Time) error
}

// MemoryRepository keeps documents in a map.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]Document)}
}

func (r *MemoryRepository) Create(_ context.Context, d *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[d.ID] = d.snapshot()
	d.repo = r
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	d.repo = r
	return &d, nil
}

func (r *MemoryRepository) Update(_ context.Context, d *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[d.ID]; !ok {
		return ErrNotFound
	}
	r.docs[d.ID] = d.snapshot()
	return nil
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, id string) (*Document, error) {
	return r.Get(ctx, id)
}

func (r *MemoryRepository) UpdateField(_ context.Context, id, field, value string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return ErrNotFound
	}
	if err := d.SetField(field, value); err != nil {
		return err
	}
	d.UpdatedAt = updatedAt
	r.docs[id] = d
	return nil
}
