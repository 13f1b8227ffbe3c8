// Package docstore is the minimal document-store contract the payment
// engine persists through: point lookup by id, single-field filtering, and
// atomic single-document updates. Any backend offering per-document
// conditional writes can satisfy it; no multi-document transactions are
// assumed.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNotFound is returned by Get and Update for a missing document.
	ErrNotFound = errors.New("docstore: document not found")

	// ErrConditionFailed is returned by UpdateIf when the condition field
	// no longer holds the expected value.
	ErrConditionFailed = errors.New("docstore: condition failed")
)

// Filter ops. In and range ops compare the JSON string form of the field,
// which is correct for the status/network strings and RFC 3339 timestamps
// this module filters on.
const (
	OpEqual   = "=="
	OpLessEq  = "<="
	OpGreater = ">="
	OpIn      = "in"
)

// Filter is a single-field predicate.
type Filter struct {
	Field string
	Op    string
	Value any
}

// Where is shorthand for building a Filter.
func Where(field, op string, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Snapshot is a document read back from the store.
type Snapshot struct {
	ID   string
	Data map[string]any
}

// Store is the document-store contract.
type Store interface {
	// Get returns a document by id, or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Snapshot, error)

	// Add inserts a document under a generated id and returns that id.
	Add(ctx context.Context, collection string, data map[string]any) (string, error)

	// Set writes the full document under the given id, creating it if
	// absent.
	Set(ctx context.Context, collection, id string, data map[string]any) error

	// Update merges the given fields into an existing document atomically.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// UpdateIf merges fields only if the current value of condField equals
	// condValue, atomically with respect to other updates of the same
	// document. Returns ErrConditionFailed when the condition does not
	// hold.
	UpdateIf(ctx context.Context, collection, id, condField string, condValue any, fields map[string]any) error

	// Query returns the documents of a collection matching all filters.
	Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error)
}

// Encode converts a domain struct into the map form stored in a document.
// The round-trip goes through JSON, so decimals and timestamps keep their
// canonical string encodings.
func Encode(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	delete(m, "id")
	return m, nil
}

// Decode reads a snapshot back into a domain struct and fills its ID field
// from the document id (via the "id" JSON key).
func Decode(snap Snapshot, v any) error {
	data := make(map[string]any, len(snap.Data)+1)
	for k, val := range snap.Data {
		data[k] = val
	}
	data["id"] = snap.ID
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
