// Package document is the sample domain governed by the transition engine:
// a document with a publication status and an independent verification
// status.
package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/statekit/pkg/transition"
)

// EntityType identifies documents in rules and audit records.
const EntityType = "document"

// Governed status fields and their initial states.
const (
	FieldStatus       = "status"
	FieldVerification = "verification_status"

	InitialStatus       = "draft"
	InitialVerification = "pending"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrTitleRequired = errors.New("document title is required")
	ErrDetached      = errors.New("document is not attached to a repository")
)

type Document struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Status             string    `json:"status"`
	VerificationStatus string    `json:"verification_status"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	repo Repository
}

var (
	_ transition.Entity     = (*Document)(nil)
	_ transition.Reloader   = (*Document)(nil)
	_ transition.FieldSaver = (*Document)(nil)
)

func (d *Document) EntityType() string { return EntityType }
func (d *Document) EntityID() string   { return d.ID }

func (d *Document) Field(name string) (string, error) {
	switch name {
	case FieldStatus:
		return d.Status, nil
	case FieldVerification:
		return d.VerificationStatus, nil
	}
	return "", transition.ErrUnknownField
}

func (d *Document) SetField(name, value string) error {
	switch name {
	case FieldStatus:
		d.Status = value
	case FieldVerification:
		d.VerificationStatus = value
	default:
		return transition.ErrUnknownField
	}
	return nil
}

// Save writes the document through the repository it was loaded from.
func (d *Document) Save(ctx context.Context) error {
	if d.repo == nil {
		return ErrDetached
	}
	prev := d.UpdatedAt
	d.UpdatedAt = time.Now().UTC()
	if err := d.repo.Update(ctx, d); err != nil {
		d.UpdatedAt = prev
		return err
	}
	return nil
}

// SaveField writes only the named status field and the update time.
func (d *Document) SaveField(ctx context.Context, name string) error {
	if d.repo == nil {
		return ErrDetached
	}
	value, err := d.Field(name)
	if err != nil {
		return err
	}
	prev := d.UpdatedAt
	d.UpdatedAt = time.Now().UTC()
	if err := d.repo.UpdateField(ctx, d.ID, name, value, d.UpdatedAt); err != nil {
		d.UpdatedAt = prev
		return err
	}
	return nil
}

// Reload replaces the in-memory fields with the stored ones. Inside a
// transaction the stored document stays locked until it ends.
func (d *Document) Reload(ctx context.Context) error {
	if d.repo == nil {
		return ErrDetached
	}
	fresh, err := d.repo.GetForUpdate(ctx, d.ID)
	if err != nil {
		return err
	}
	d.Title = fresh.Title
	d.Status = fresh.Status
	d.VerificationStatus = fresh.VerificationStatus
	d.CreatedAt = fresh.CreatedAt
	d.UpdatedAt = fresh.UpdatedAt
	return nil
}

// column maps a status field to its storage column.
func column(field string) (string, error) {
	switch field {
	case FieldStatus, FieldVerification:
		return field, nil
	}
	return "", fmt.Errorf("%w: %s", transition.ErrUnknownField, field)
}

// snapshot returns a detached copy.
func (d *Document) snapshot() Document {
	c := *d
	c.repo = nil
	return c
}
