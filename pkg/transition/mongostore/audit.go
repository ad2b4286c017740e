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

type logDocument struct {
	ID          string        `bson:"_id"`
	Seq         bson.ObjectID `bson:"seq"`
	EntityType  string        `bson:"model_type"`
	EntityID    string        `bson:"model_id"`
	UserID      string        `bson:"user_id,omitempty"`
	RuleID      string        `bson:"state_transition_id,omitempty"`
	StatusField string        `bson:"status_field"`
	Transition  string        `bson:"transition_name"`
	FromState   string        `bson:"from_state"`
	ToState     string        `bson:"to_state"`
	CreatedAt   time.Time     `bson:"created_at"`
}

// AuditLog is a transition.AuditLog backed by the state_transition_logs collection.
type AuditLog struct {
	coll *mongo.Collection
}

func NewAuditLog(db *mongo.Database) *AuditLog {
	return &AuditLog{coll: db.Collection(LogsCollection)}
}

func (l *AuditLog) Append(ctx context.Context, r transition.Record) error {
	_, err := l.coll.InsertOne(ctx, logDocument{
		ID:          r.ID,
		Seq:         bson.NewObjectID(),
		EntityType:  r.EntityType,
		EntityID:    r.EntityID,
		UserID:      r.ActorID,
		RuleID:      r.RuleID,
		StatusField: r.StatusField,
		Transition:  r.Transition,
		FromState:   r.FromState,
		ToState:     r.ToState,
		CreatedAt:   r.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("append transition log: %w", err)
	}
	return nil
}

// For returns records oldest first. Records with equal timestamps keep
// their insertion order.
func (l *AuditLog) For(ctx context.Context, q transition.HistoryQuery) ([]transition.Record, error) {
	f := filter(
		"model_type", q.EntityType,
		"model_id", q.EntityID,
		"status_field", q.StatusField,
	)
	sort := bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}

	cur, err := l.coll.Find(ctx, f, options.Find().SetSort(sort))
	if err != nil {
		return nil, fmt.Errorf("query transition logs: %w", err)
	}

	var docs []logDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode transition logs: %w", err)
	}

	records := make([]transition.Record, 0, len(docs))
	for _, d := range docs {
		records = append(records, transition.Record{
			ID:          d.ID,
			EntityType:  d.EntityType,
			EntityID:    d.EntityID,
			StatusField: d.StatusField,
			Transition:  d.Transition,
			FromState:   d.FromState,
			ToState:     d.ToState,
			RuleID:      d.RuleID,
			ActorID:     d.UserID,
			CreatedAt:   d.CreatedAt,
		})
	}
	return records, nil
}
