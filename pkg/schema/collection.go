package schema

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mongoseq/pkg/apperror"
	"mongoseq/pkg/logger"
)

// MongoCollection is the part of *mongo.Collection the schema layer
// consumes. *mongo.Collection satisfies it.
type MongoCollection interface {
	Name() string
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) *mongo.SingleResult
	CountDocuments(ctx context.Context, filter any, opts ...*options.CountOptions) (int64, error)
	DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	Indexes() mongo.IndexView
}

var _ MongoCollection = (*mongo.Collection)(nil)

// Collection binds a Schema to a MongoDB collection and persists documents
// through the schema's hooks and validation pipeline.
type Collection struct {
	schema *Schema
	coll   MongoCollection
}

// Bind attaches a schema to its MongoDB collection.
func Bind(sch *Schema, coll MongoCollection) *Collection {
	return &Collection{schema: sch, coll: coll}
}

// Schema returns the bound schema.
func (c *Collection) Schema() *Schema {
	return c.schema
}

// Name returns the underlying collection name.
func (c *Collection) Name() string {
	return c.coll.Name()
}

// NewDocument creates an unpersisted document for this collection.
func (c *Collection) NewDocument() *Document {
	return NewDocument()
}

// EnsureIndexes creates a unique index for every unique field of the schema.
// MongoDB treats a matching existing index as a no-op, so re-running is safe.
func (c *Collection) EnsureIndexes(ctx context.Context) error {
	for _, def := range c.schema.Fields() {
		if !def.Unique {
			continue
		}
		model := mongo.IndexModel{
			Keys:    bson.D{{Key: def.Name, Value: 1}},
			Options: options.Index().SetUnique(true).SetName(def.Name + "_unique"),
		}
		if _, err := c.coll.Indexes().CreateOne(ctx, model); err != nil {
			return apperror.NewDatabase(fmt.Errorf("create unique index on %q: %w", def.Name, err))
		}
	}
	logger.Debug(ctx, "indexes ensured", "collection", c.coll.Name())
	return nil
}

// Save persists the document: an insert on first save, a full replace after.
// Before-hooks and validation run first and abort the save on error, leaving
// the stored state untouched.
func (c *Collection) Save(ctx context.Context, doc *Document) error {
	if doc == nil {
		return apperror.NewValidation("document is required")
	}
	if doc.IsNew() {
		return c.create(ctx, doc)
	}
	return c.update(ctx, doc)
}

func (c *Collection) create(ctx context.Context, doc *Document) error {
	if err := c.schema.hooks.Run(ctx, BeforeCreate, doc); err != nil {
		return err
	}
	if err := c.validate(ctx, doc); err != nil {
		return err
	}
	if _, err := c.coll.InsertOne(ctx, doc.record()); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return c.duplicateError(doc, err)
		}
		return apperror.NewDatabase(fmt.Errorf("insert %s: %w", c.schema.name, err))
	}
	doc.markPersisted()
	if err := c.schema.hooks.Run(ctx, AfterCreate, doc); err != nil {
		// Document is already persisted, do not fail the save.
		logger.Warn(ctx, "after-create hook failed",
			"collection", c.coll.Name(), "id", doc.id.Hex(), "error", err)
	}
	logger.Debug(ctx, "document created", "collection", c.coll.Name(), "id", doc.id.Hex())
	return nil
}

func (c *Collection) update(ctx context.Context, doc *Document) error {
	if err := c.schema.hooks.Run(ctx, BeforeUpdate, doc); err != nil {
		return err
	}
	if err := c.validate(ctx, doc); err != nil {
		return err
	}
	res, err := c.coll.ReplaceOne(ctx, bson.M{IdentityField: doc.id}, doc.record())
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return c.duplicateError(doc, err)
		}
		return apperror.NewDatabase(fmt.Errorf("replace %s: %w", c.schema.name, err))
	}
	if res.MatchedCount == 0 {
		return apperror.NewNotFound(c.schema.name, doc.id.Hex())
	}
	doc.markPersisted()
	if err := c.schema.hooks.Run(ctx, AfterUpdate, doc); err != nil {
		logger.Warn(ctx, "after-update hook failed",
			"collection", c.coll.Name(), "id", doc.id.Hex(), "error", err)
	}
	logger.Debug(ctx, "document updated", "collection", c.coll.Name(), "id", doc.id.Hex())
	return nil
}

// FindByID loads a document by identity.
func (c *Collection) FindByID(ctx context.Context, id primitive.ObjectID) (*Document, error) {
	var record bson.M
	if err := c.coll.FindOne(ctx, bson.M{IdentityField: id}).Decode(&record); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NewNotFound(c.schema.name, id.Hex())
		}
		return nil, apperror.NewDatabase(fmt.Errorf("find %s: %w", c.schema.name, err))
	}
	return newPersistedDocument(record), nil
}

// Delete removes a persisted document, running the delete hooks around it.
func (c *Collection) Delete(ctx context.Context, doc *Document) error {
	if doc == nil {
		return apperror.NewValidation("document is required")
	}
	if err := c.schema.hooks.Run(ctx, BeforeDelete, doc); err != nil {
		return err
	}
	res, err := c.coll.DeleteOne(ctx, bson.M{IdentityField: doc.id})
	if err != nil {
		return apperror.NewDatabase(fmt.Errorf("delete %s: %w", c.schema.name, err))
	}
	if res.DeletedCount == 0 {
		return apperror.NewNotFound(c.schema.name, doc.id.Hex())
	}
	if err := c.schema.hooks.Run(ctx, AfterDelete, doc); err != nil {
		logger.Warn(ctx, "after-delete hook failed",
			"collection", c.coll.Name(), "id", doc.id.Hex(), "error", err)
	}
	logger.Debug(ctx, "document deleted", "collection", c.coll.Name(), "id", doc.id.Hex())
	return nil
}

// validate checks declared fields, field uniqueness, and custom validators.
func (c *Collection) validate(ctx context.Context, doc *Document) error {
	for _, def := range c.schema.Fields() {
		value, ok := doc.Get(def.Name)
		if !ok || value == nil {
			if def.Required {
				return apperror.NewValidation(fmt.Sprintf("field %q is required", def.Name))
			}
			continue
		}
		if !def.Type.accepts(value) {
			return apperror.NewValidation(fmt.Sprintf("field %q must be of type %s", def.Name, def.Type))
		}
	}
	for _, def := range c.schema.Fields() {
		if !def.Unique {
			continue
		}
		value, ok := doc.Get(def.Name)
		if !ok || value == nil {
			continue
		}
		filter := bson.M{def.Name: value, IdentityField: bson.M{"$ne": doc.id}}
		n, err := c.coll.CountDocuments(ctx, filter)
		if err != nil {
			return apperror.NewDatabase(fmt.Errorf("uniqueness check for %q: %w", def.Name, err))
		}
		if n > 0 {
			return apperror.NewUniquenessViolation(def.Name, value)
		}
	}
	for _, validator := range c.schema.validators {
		if err := validator(ctx, doc); err != nil {
			if apperror.IsAppError(err) {
				return err
			}
			return apperror.NewValidation(err.Error())
		}
	}
	return nil
}

// duplicateError maps a storage-level duplicate-key error to the unique
// field that holds a value on this document.
func (c *Collection) duplicateError(doc *Document, err error) error {
	for _, def := range c.schema.Fields() {
		if !def.Unique {
			continue
		}
		if value, ok := doc.Get(def.Name); ok {
			return apperror.NewUniquenessViolation(def.Name, value).WithCause(err)
		}
	}
	return apperror.NewDatabase(err)
}
