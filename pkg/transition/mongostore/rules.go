package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/statekit/pkg/transition"
)

type ruleDocument struct {
	ID          string        `bson:"_id"`
	Seq         bson.ObjectID `bson:"seq"`
	EntityType  string        `bson:"model_type"`
	StatusField string        `bson:"status_field"`
	Name        string        `bson:"transition_name"`
	FromState   string        `bson:"from_state"`
	ToState     string        `bson:"to_state"`
	CreatedAt   time.Time     `bson:"created_at"`
}

func (d ruleDocument) rule() transition.Rule {
	return transition.Rule{
		ID:          d.ID,
		EntityType:  d.EntityType,
		StatusField: d.StatusField,
		Name:        d.Name,
		FromState:   d.FromState,
		ToState:     d.ToState,
		CreatedAt:   d.CreatedAt,
	}
}

// RuleStore is a transition.RuleStore backed by the state_transitions collection.
type RuleStore struct {
	coll *mongo.Collection
}

func NewRuleStore(db *mongo.Database) *RuleStore {
	return &RuleStore{coll: db.Collection(RulesCollection)}
}

func (s *RuleStore) Insert(ctx context.Context, rule transition.Rule) error {
	_, err := s.coll.InsertOne(ctx, ruleDocument{
		ID:          rule.ID,
		Seq:         bson.NewObjectID(),
		EntityType:  rule.EntityType,
		StatusField: rule.StatusField,
		Name:        rule.Name,
		FromState:   rule.FromState,
		ToState:     rule.ToState,
		CreatedAt:   rule.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return &transition.DuplicateRuleError{Key: rule.Key()}
	}
	if err != nil {
		return fmt.Errorf("insert transition rule: %w", err)
	}
	return nil
}

// List returns matching rules in insertion order.
func (s *RuleStore) List(ctx context.Context, f transition.RuleFilter) ([]transition.Rule, error) {
	cur, err := s.coll.Find(ctx, ruleFilter(f), options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list transition rules: %w", err)
	}

	var docs []ruleDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode transition rules: %w", err)
	}

	rules := make([]transition.Rule, 0, len(docs))
	for _, d := range docs {
		rules = append(rules, d.rule())
	}
	return rules, nil
}

func (s *RuleStore) Delete(ctx context.Context, f transition.RuleFilter) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, ruleFilter(f))
	if err != nil {
		return 0, fmt.Errorf("delete transition rules: %w", err)
	}
	return res.DeletedCount, nil
}

func ruleFilter(f transition.RuleFilter) bson.D {
	return filter(
		"model_type", f.EntityType,
		"status_field", f.StatusField,
		"transition_name", f.Transition,
		"from_state", f.FromState,
	)
}
