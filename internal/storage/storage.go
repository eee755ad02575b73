// Package storage defines the relational storage handle shared by every
// request: entity descriptors, the Model contract, query options, and the
// Store interface implemented by the memstore and pgstore backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"

	sq "github.com/Masterminds/squirrel"
)

// Entity names a stored record type.
type Entity string

const (
	User    Entity = "User"
	Post    Entity = "Post"
	Comment Entity = "Comment"
)

// PrimaryKey is the attribute name of every entity's identifier.
const PrimaryKey = "id"

var (
	// ErrNotFound is returned by FindByID when no record has the given id.
	ErrNotFound = errors.New("storage: record not found")
	// ErrUniqueViolation is returned when a write collides with a unique attribute.
	ErrUniqueViolation = errors.New("storage: unique constraint violated")
	// ErrUnknownEntity is returned for entities the store was not configured with.
	ErrUnknownEntity = errors.New("storage: unknown entity")
	// ErrUnknownAttribute is returned when a query names an attribute the entity lacks.
	ErrUnknownAttribute = errors.New("storage: unknown attribute")
	// ErrTxDone is returned when a transaction is used after commit or rollback.
	ErrTxDone = errors.New("storage: transaction already finished")
)

// Model is a single stored record.
type Model interface {
	Entity() Entity
	PrimaryKey() int64
	// Field returns a pointer to the attribute's storage, or nil if the
	// entity has no such attribute.
	Field(attr string) any
}

// Reference marks an attribute of another entity that points at this one.
// Destroying the referenced record destroys the referencing ones.
type Reference struct {
	Entity    Entity
	Attribute string
}

// Descriptor describes how an entity is stored.
type Descriptor struct {
	Entity     Entity
	Table      string
	Attributes []string
	// Columns maps attributes to column names where they differ.
	Columns    map[string]string
	Indexes    []string
	Unique     []string
	References []Reference
	New        func() Model
}

// Column returns the column name backing attr.
func (d *Descriptor) Column(attr string) string {
	if c, ok := d.Columns[attr]; ok {
		return c
	}
	return attr
}

// Has reports whether attr is one of the entity's attributes.
func (d *Descriptor) Has(attr string) bool { return slices.Contains(d.Attributes, attr) }

// Project returns the attributes a read should fetch. A nil request means all
// attributes; the primary key is always part of the result.
func (d *Descriptor) Project(attrs []string) ([]string, error) {
	if attrs == nil {
		return d.Attributes, nil
	}
	out := []string{PrimaryKey}
	for _, a := range attrs {
		if !d.Has(a) {
			return nil, fmt.Errorf("%w %q on %s", ErrUnknownAttribute, a, d.Entity)
		}
		if !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Where is an equality predicate; a slice value means membership.
type Where = sq.Eq

// Values holds attribute values for writes.
type Values map[string]any

// Query narrows a read.
type Query struct {
	Where      Where
	Limit      uint64
	Offset     uint64
	Attributes []string
	// Tx, when set, reads through the given transaction.
	Tx Tx
}

// Tx is a unit of work opened by Store.Transaction.
type Tx interface {
	Done() bool
}

// Store is the storage handle. Reads return records ordered by primary key.
type Store interface {
	Find(ctx context.Context, e Entity, q Query) ([]Model, error)
	FindByID(ctx context.Context, e Entity, id int64, q Query) (Model, error)
	Create(ctx context.Context, tx Tx, e Entity, values Values) (Model, error)
	Update(ctx context.Context, tx Tx, e Entity, id int64, values Values) (Model, error)
	Destroy(ctx context.Context, tx Tx, e Entity, id int64) error
	// Transaction runs fn in a transaction and commits if fn returns nil.
	// A returned error or a panic rolls the transaction back.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close()
}
