// Package counters provides the MongoDB counter store behind the sequence
// allocator contract. One record per (model, field) target, advanced by an
// atomic find-and-update; cross-process correctness rests on the server
// executing that operation atomically, never on in-process locking.
package counters

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mongoseq/pkg/apperror"
	"mongoseq/pkg/logger"
	"mongoseq/pkg/sequence"
)

var tracer = otel.Tracer("mongoseq/counters")

// DefaultCollection is the counter collection name.
const DefaultCollection = "sequence_counters"

// namespaceExistsCode is the server code returned when creating a
// collection that already exists.
const namespaceExistsCode = 48

// counterCollection is the slice of *mongo.Collection the store consumes.
type counterCollection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) *mongo.SingleResult
	FindOneAndUpdate(ctx context.Context, filter any, update any, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

var _ counterCollection = (*mongo.Collection)(nil)

// counterRecord is the stored shape of one counter.
type counterRecord struct {
	Model string `bson:"model"`
	Field string `bson:"field"`
	Count int64  `bson:"count"`
}

// Store allocates counter values from a MongoDB collection.
type Store struct {
	coll counterCollection
}

// Ensure compile-time interface compliance.
var _ sequence.Allocator = (*Store)(nil)

func newStore(coll counterCollection) *Store {
	return &Store{coll: coll}
}

// Prepare creates the default counter collection and its unique index,
// returning a store ready for allocation.
func Prepare(ctx context.Context, db *mongo.Database) (*Store, error) {
	return PrepareNamed(ctx, db, DefaultCollection)
}

// PrepareNamed is Prepare with an explicit collection name. Preparing is
// idempotent: an existing collection or matching index is not an error.
func PrepareNamed(ctx context.Context, db *mongo.Database, collection string) (*Store, error) {
	if db == nil {
		return nil, apperror.NewNotInitialized("database handle is required to prepare the counter store")
	}
	if collection == "" {
		collection = DefaultCollection
	}
	if err := db.CreateCollection(ctx, collection); err != nil && !isNamespaceExists(err) {
		return nil, apperror.NewStoreUnavailable("prepare", fmt.Errorf("create collection %q: %w", collection, err))
	}
	coll := db.Collection(collection)
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "model", Value: 1}, {Key: "field", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("model_field_unique"),
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		return nil, apperror.NewStoreUnavailable("prepare", fmt.Errorf("create index on %q: %w", collection, err))
	}
	logger.Debug(ctx, "counter store prepared", "collection", collection)
	return newStore(coll), nil
}

func isNamespaceExists(err error) bool {
	var srvErr mongo.ServerError
	return errors.As(err, &srvErr) && srvErr.HasErrorCode(namespaceExistsCode)
}

// Allocate implements sequence.Allocator with a single atomic
// find-and-update. The update is an aggregation pipeline branching strictly
// on record existence: the upsert base document carries only the key
// fields, so a missing count means the record is being created and receives
// startAt; otherwise the stored count advances by incrementBy.
func (s *Store) Allocate(ctx context.Context, model, field string, startAt, incrementBy int64) (int64, error) {
	ctx, span := tracer.Start(ctx, "counters.allocate", trace.WithAttributes(
		attribute.String("sequence.model", model),
		attribute.String("sequence.field", field),
	))
	defer span.End()

	count, err := s.findAndAdvance(ctx, model, field, startAt, incrementBy)
	if mongo.IsDuplicateKeyError(err) {
		// A lost upsert race surfaces as a duplicate key on the unique
		// index. The record exists now, so one re-execution takes the
		// increment branch. Nothing else is retried.
		count, err = s.findAndAdvance(ctx, model, field, startAt, incrementBy)
	}
	if err != nil {
		return 0, apperror.NewStoreUnavailable("allocate", err).
			WithDetail("model", model).WithDetail("field", field)
	}
	return count, nil
}

func (s *Store) findAndAdvance(ctx context.Context, model, field string, startAt, incrementBy int64) (int64, error) {
	filter := bson.D{{Key: "model", Value: model}, {Key: "field", Value: field}}
	update := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.D{{Key: "count", Value: bson.D{{Key: "$cond", Value: bson.D{
			{Key: "if", Value: bson.D{{Key: "$eq", Value: bson.A{bson.D{{Key: "$type", Value: "$count"}}, "missing"}}}},
			{Key: "then", Value: startAt},
			{Key: "else", Value: bson.D{{Key: "$add", Value: bson.A{"$count", incrementBy}}}},
		}}}}}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var record counterRecord
	if err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&record); err != nil {
		return 0, err
	}
	return record.Count, nil
}

// Peek implements sequence.Allocator: the value the next allocation would
// return, without advancing the counter.
func (s *Store) Peek(ctx context.Context, model, field string, startAt, incrementBy int64) (int64, error) {
	filter := bson.D{{Key: "model", Value: model}, {Key: "field", Value: field}}
	var record counterRecord
	err := s.coll.FindOne(ctx, filter).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return startAt, nil
	}
	if err != nil {
		return 0, apperror.NewStoreUnavailable("peek", err).
			WithDetail("model", model).WithDetail("field", field)
	}
	return record.Count + incrementBy, nil
}

// Reset implements sequence.Allocator. It rewinds the counter to one step
// before startAt so the next allocation returns exactly startAt. Counter
// records are never deleted, only rewound.
func (s *Store) Reset(ctx context.Context, model, field string, startAt, incrementBy int64) error {
	filter := bson.D{{Key: "model", Value: model}, {Key: "field", Value: field}}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "count", Value: startAt - incrementBy}}}}
	opts := options.Update().SetUpsert(true)

	_, err := s.coll.UpdateOne(ctx, filter, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		// Same lost-upsert race as Allocate; the record exists now.
		_, err = s.coll.UpdateOne(ctx, filter, update, opts)
	}
	if err != nil {
		return apperror.NewStoreUnavailable("reset", err).
			WithDetail("model", model).WithDetail("field", field)
	}
	logger.Debug(ctx, "counter reset", "model", model, "field", field, "start_at", startAt)
	return nil
}
