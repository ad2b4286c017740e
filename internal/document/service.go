package document

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/statekit/pkg/transition"
)

//go:embed rules.yaml
var defaultRules []byte

// DefaultRules returns the built-in document transition rules.
func DefaultRules() (transition.Manifest, error) {
	return transition.LoadManifest(bytes.NewReader(defaultRules))
}

// Service ties document storage to the transition engine.
type Service struct {
	repo   Repository
	engine *transition.Engine
}

func NewService(repo Repository, engine *transition.Engine) *Service {
	return &Service{repo: repo, engine: engine}
}

// Create stores a new document in its initial states.
func (s *Service) Create(ctx context.Context, title string) (*Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	now := time.Now().UTC()
	d := &Document{
		ID:                 uuid.NewString(),
		Title:              title,
		Status:             InitialStatus,
		VerificationStatus: InitialVerification,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.repo.Get(ctx, id)
}

// Apply runs the named transition on the document's status field.
func (s *Service) Apply(ctx context.Context, id, name, field, actorID string) (*Document, transition.Record, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, transition.Record{}, err
	}
	rec, err := s.engine.Apply(ctx, d, name, field, transition.WithActor(actorID))
	if err != nil {
		return nil, transition.Record{}, err
	}
	return d, rec, nil
}

// Transitions lists the transitions applicable to the document right now.
func (s *Service) Transitions(ctx context.Context, id, field string) ([]string, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.PossibleTransitions(ctx, d, field)
}

// History returns the document's audit trail; an empty field covers all fields.
func (s *Service) History(ctx context.Context, id, field string) ([]transition.Record, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.History(ctx, d, field)
}

// Rules returns the rules governing field, in registration order.
func (s *Service) Rules(ctx context.Context, field string) ([]transition.Rule, error) {
	return s.engine.Registry().RulesFor(ctx, EntityType, field)
}
