package schema

import (
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document is a dynamic BSON document with identity and change tracking.
// A document is "new" until its first successful save; after each save the
// current values become the persisted snapshot that Modified compares against.
type Document struct {
	id   primitive.ObjectID
	data bson.M

	// original is the persisted snapshot; nil means never persisted
	original bson.M
}

// NewDocument creates an unpersisted document with a generated identity.
func NewDocument() *Document {
	return &Document{
		id:   primitive.NewObjectID(),
		data: bson.M{},
	}
}

// newPersistedDocument builds a document from a stored record.
func newPersistedDocument(record bson.M) *Document {
	doc := &Document{data: bson.M{}}
	for key, value := range record {
		if key == IdentityField {
			if oid, ok := value.(primitive.ObjectID); ok {
				doc.id = oid
			}
			continue
		}
		doc.data[key] = value
	}
	doc.original = cloneData(doc.data)
	return doc
}

// ID returns the document identity.
func (d *Document) ID() primitive.ObjectID {
	return d.id
}

// IsNew reports whether the document has never been persisted.
func (d *Document) IsNew() bool {
	return d.original == nil
}

// Set assigns a field value. Returns the document for chaining.
func (d *Document) Set(field string, value any) *Document {
	d.data[field] = value
	return d
}

// Get returns a field value and whether it is present.
func (d *Document) Get(field string) (any, bool) {
	value, ok := d.data[field]
	return value, ok
}

// GetString returns a field as string, or "" if absent or not a string.
func (d *Document) GetString(field string) string {
	if s, ok := d.data[field].(string); ok {
		return s
	}
	return ""
}

// GetInt64 returns a numeric field widened to int64, or 0 if absent
// or not numeric.
func (d *Document) GetInt64(field string) int64 {
	switch v := d.data[field].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Modified reports whether a top-level field differs from the persisted
// snapshot. On a never-persisted document every present field is modified.
func (d *Document) Modified(field string) bool {
	current, hasCurrent := d.data[field]
	if d.original == nil {
		return hasCurrent
	}
	previous, hasPrevious := d.original[field]
	if hasCurrent != hasPrevious {
		return true
	}
	if !hasCurrent {
		return false
	}
	return !reflect.DeepEqual(current, previous)
}

// Map returns a copy of the document values including the identity field.
func (d *Document) Map() bson.M {
	out := cloneData(d.data)
	out[IdentityField] = d.id
	return out
}

// record builds the BSON record persisted for this document.
func (d *Document) record() bson.M {
	return d.Map()
}

// markPersisted snapshots the current values after a successful save.
func (d *Document) markPersisted() {
	d.original = cloneData(d.data)
}

// cloneData makes a top-level copy of a BSON map.
func cloneData(m bson.M) bson.M {
	out := make(bson.M, len(m))
	for key, value := range m {
		out[key] = value
	}
	return out
}
