// Package mongostore persists transition rules and audit records in MongoDB.
//
// Call EnsureIndexes once at startup: the unique index on the rule key is
// what rejects duplicate registrations across processes. Transactor makes
// the entity save and the audit append atomic when the deployment is a
// replica set.
package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	RulesCollection = "state_transitions"
	LogsCollection  = "state_transition_logs"
)

// EnsureIndexes creates the indexes both stores rely on. It is idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(RulesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "model_type", Value: 1},
				{Key: "status_field", Value: 1},
				{Key: "transition_name", Value: 1},
				{Key: "from_state", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("rule_key"),
		},
		{
			Keys:    bson.D{{Key: "seq", Value: 1}},
			Options: options.Index().SetName("rule_seq"),
		},
	})
	if err != nil {
		return fmt.Errorf("create %s indexes: %w", RulesCollection, err)
	}

	_, err = db.Collection(LogsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "model_type", Value: 1},
			{Key: "model_id", Value: 1},
			{Key: "status_field", Value: 1},
			{Key: "created_at", Value: 1},
			{Key: "seq", Value: 1},
		},
		Options: options.Index().SetName("log_history"),
	})
	if err != nil {
		return fmt.Errorf("create %s indexes: %w", LogsCollection, err)
	}
	return nil
}

// Transactor runs functions inside a multi-document transaction.
// Calls made with a context that already carries a session reuse it.
type Transactor struct {
	client *mongo.Client
}

func NewTransactor(client *mongo.Client) *Transactor {
	return &Transactor{client: client}
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := t.client.StartSession()
	if err != nil {
		return fmt.Errorf("start mongo session: %w", err)
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// filter builds an equality filter, skipping empty values.
func filter(pairs ...string) bson.D {
	f := bson.D{}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			f = append(f, bson.E{Key: pairs[i], Value: pairs[i+1]})
		}
	}
	return f
}
