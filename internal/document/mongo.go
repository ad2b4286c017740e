package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const collection = "documents"

type mongoDocument struct {
	ID                 string    `bson:"_id"`
	Title              string    `bson:"title"`
	Status             string    `bson:"status"`
	VerificationStatus string    `bson:"verification_status"`
	CreatedAt          time.Time `bson:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at"`
}

// MongoRepository stores documents in the documents collection. Writes made
// with a session context join its transaction.
type MongoRepository struct {
	coll *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(collection)}
}

func (r *MongoRepository) Create(ctx context.Context, d *Document) error {
	if _, err := r.coll.InsertOne(ctx, toMongo(d)); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	d.repo = r
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*Document, error) {
	var m mongoDocument
	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &Document{
		ID:                 m.ID,
		Title:              m.Title,
		Status:             m.Status,
		VerificationStatus: m.VerificationStatus,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
		repo:               r,
	}, nil
}

// GetForUpdate reads the document. Inside a session transaction a concurrent
// write to it aborts one of the transactions with a write conflict.
func (r *MongoRepository) GetForUpdate(ctx context.Context, id string) (*Document, error) {
	return r.Get(ctx, id)
}

func (r *MongoRepository) Update(ctx context.Context, d *Document) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: d.ID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "title", Value: d.Title},
			{Key: "status", Value: d.Status},
			{Key: "verification_status", Value: d.VerificationStatus},
			{Key: "updated_at", Value: d.UpdatedAt},
		}}},
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) UpdateField(ctx context.Context, id, field, value string, updatedAt time.Time) error {
	key, err := column(field)
	if err != nil {
		return err
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: key, Value: value},
			{Key: "updated_at", Value: updatedAt},
		}}},
	)
	if err != nil {
		return fmt.Errorf("update document %s: %w", field, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func toMongo(d *Document) mongoDocument {
	return mongoDocument{
		ID:                 d.ID,
		Title:              d.Title,
		Status:             d.Status,
		VerificationStatus: d.VerificationStatus,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}
