// Package docstore is the document store the service persists into.  A
// document is any value that encodes to a JSON object; the store keeps
// the id separately and injects it back under the "id" key on reads.
//
// Three backends implement Store: an in-memory map (tests and local
// runs), MySQL with a JSON column and MongoDB.  Backends that can run
// multi-document transactions also implement Transactional.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConditionFailed is returned when a conditional write matched the
	// document but its preconditions did not hold.  Nothing was written.
	ErrConditionFailed = errors.New("condition failed")
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("document already exists")
)

// Op is a comparison operator used in query filters.
type Op string

const (
	Eq  Op = "=="
	Ne  Op = "!="
	Lt  Op = "<"
	Lte Op = "<="
	Gt  Op = ">"
	Gte Op = ">="
)

// Filter compares a top-level document field with a value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where builds a Filter.
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Query selects documents from one collection.  All filters must match.
// A zero Limit means no limit.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Increment describes an atomic change of an integer field.
//
// When Min is set the increment only applies if the resulting value is
// at least *Min; otherwise the write fails with ErrConditionFailed.
// When MaxField is set the result is clamped to the value of that
// field of the same document.
type Increment struct {
	Field    string
	Delta    int64
	Min      *int64
	MaxField string
}

// AtLeast returns a pointer to n, for use as Increment.Min.
func AtLeast(n int64) *int64 { return &n }

// Reader is the read half of a store or transaction.
type Reader interface {
	// Get decodes the document coll/id into out.
	Get(ctx context.Context, coll, id string, out any) error
	// Query decodes the matching documents into out, a pointer to a slice.
	Query(ctx context.Context, coll string, q Query, out any) error
}

// Writer is the write half of a store or transaction.
type Writer interface {
	// Insert stores doc under a new id and returns the id.
	Insert(ctx context.Context, coll string, doc any) (string, error)
	// Create stores doc under the given id, failing with ErrAlreadyExists
	// when the id is taken.
	Create(ctx context.Context, coll, id string, doc any) error
	// Update sets the given top-level fields if every filter in where
	// matches the current document.
	Update(ctx context.Context, coll, id string, set map[string]any, where ...Filter) error
	// Increment atomically applies inc and returns the new field value.
	Increment(ctx context.Context, coll, id string, inc Increment) (int64, error)
}

// Tx is the view of the store inside a transaction.
type Tx interface {
	Reader
	Writer
}

// Store is a document store.  Every single call is atomic on its own.
type Store interface {
	Reader
	Writer
}

// Transactional is implemented by stores that can run several calls as
// one atomic unit.  fn must use the ctx and tx it is handed; it may be
// invoked more than once when the backend retries on conflicts.
type Transactional interface {
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Closer is implemented by backends holding a connection.
type Closer interface {
	Close(ctx context.Context) error
}

// WithoutTransactions hides the Transactional implementation of s, if
// any, so that callers fall back to single-call atomicity.
func WithoutTransactions(s Store) Store { return plainStore{s} }

type plainStore struct{ Store }

// SupportsTransactions reports whether s implements Transactional.
func SupportsTransactions(s Store) bool {
	_, ok := s.(Transactional)
	return ok
}

var fieldName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

func checkField(name string) error {
	if name == "id" || !fieldName.MatchString(name) {
		return fmt.Errorf("docstore: invalid field name %q", name)
	}
	return nil
}

func checkFilters(filters []Filter) error {
	for _, f := range filters {
		if err := checkField(f.Field); err != nil {
			return err
		}
		switch f.Op {
		case Eq, Ne, Lt, Lte, Gt, Gte:
		default:
			return fmt.Errorf("docstore: unsupported operator %q", f.Op)
		}
	}
	return nil
}

func checkIncrement(inc Increment) error {
	if err := checkField(inc.Field); err != nil {
		return err
	}
	if inc.MaxField != "" {
		return checkField(inc.MaxField)
	}
	return nil
}
