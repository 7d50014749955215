// Package schema provides a minimal document-schema layer for MongoDB
// collections: typed field declarations, lifecycle hooks, and validated
// persistence of dynamic documents. It supplies the surface a schema
// extension needs to declare fields, observe saves, and enforce uniqueness.
package schema

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"mongoseq/pkg/apperror"
)

// IdentityField is the reserved document identity field managed by MongoDB.
// It cannot be declared on a schema.
const IdentityField = "_id"

// FieldType defines the data type of a field.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeInteger  FieldType = "integer"
	TypeNumber   FieldType = "number" // float or integer
	TypeBoolean  FieldType = "boolean"
	TypeDate     FieldType = "date"
	TypeObjectID FieldType = "objectId"
)

// accepts reports whether a BSON value satisfies the field type.
func (t FieldType) accepts(value any) bool {
	switch t {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeInteger:
		switch value.(type) {
		case int, int32, int64:
			return true
		}
		return false
	case TypeNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeDate:
		switch value.(type) {
		case time.Time, primitive.DateTime:
			return true
		}
		return false
	case TypeObjectID:
		_, ok := value.(primitive.ObjectID)
		return ok
	}
	return true
}

// FieldDef describes a field.
type FieldDef struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Unique   bool      `json:"unique,omitempty"`
}

// Validator checks a document invariant before it is persisted.
// Returns nil if valid, AppError with details otherwise.
type Validator func(ctx context.Context, doc *Document) error

// Schema describes the shape of documents in one collection: its declared
// fields, lifecycle hooks, and custom validators. Build schemas once at
// startup; Schema is not safe for concurrent mutation.
type Schema struct {
	name       string
	fields     map[string]FieldDef
	order      []string
	hooks      *HookRegistry
	validators []Validator
}

// New creates an empty schema named after the model it describes.
func New(name string) *Schema {
	return &Schema{
		name:   name,
		fields: make(map[string]FieldDef),
		hooks:  NewHookRegistry(),
	}
}

// Name returns the model name the schema was created with.
func (s *Schema) Name() string {
	return s.name
}

// AddField declares a field on the schema. The identity field is reserved,
// and a name can be declared only once. An empty type defaults to string.
func (s *Schema) AddField(def FieldDef) error {
	if def.Name == "" {
		return apperror.NewConfiguration("field name is required")
	}
	if def.Name == IdentityField {
		return apperror.NewConfiguration("field \"_id\" is reserved for the document identity")
	}
	if _, exists := s.fields[def.Name]; exists {
		return apperror.NewFieldConflict(def.Name)
	}
	if def.Type == "" {
		def.Type = TypeString
	}
	s.fields[def.Name] = def
	s.order = append(s.order, def.Name)
	return nil
}

// Field returns the definition of a declared field.
func (s *Schema) Field(name string) (FieldDef, bool) {
	def, ok := s.fields[name]
	return def, ok
}

// Fields returns all field definitions in declaration order.
func (s *Schema) Fields() []FieldDef {
	list := make([]FieldDef, 0, len(s.order))
	for _, name := range s.order {
		list = append(list, s.fields[name])
	}
	return list
}

// Hooks returns the hook registry for external registration.
func (s *Schema) Hooks() *HookRegistry {
	return s.hooks
}

// AddValidator registers a custom document validator. Validators run after
// the declared-field checks on every save.
func (s *Schema) AddValidator(v Validator) {
	s.validators = append(s.validators, v)
}
