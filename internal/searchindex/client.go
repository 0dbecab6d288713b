// Package searchindex is the document store the projection layer writes to
// and reads from. The only implementation is backed by Bleve.
package searchindex

import (
	"context"
	"encoding/json"

	"github.com/blevesearch/bleve/v2/search/query"
)

// SourceField is the stored, non-indexed field holding the original JSON
// document, returned verbatim by Search.
const SourceField = "source"

// Client exposes the index primitives the projector and query service need.
// Every call is bounded by the client's timeout; timeouts and an unreachable
// index surface as domain connection errors.
type Client interface {
	// Upsert creates the document or fully replaces an existing one.
	Upsert(ctx context.Context, index, id string, doc any) error
	// Delete removes the document. Deleting a missing id is not an error.
	Delete(ctx context.Context, index, id string) error
	// Exists reports whether a document with id is present.
	Exists(ctx context.Context, index, id string) (bool, error)
	// Search runs a structured query with offset pagination and sort.
	Search(ctx context.Context, index string, req Request) (*Result, error)
}

// Request is a paginated, sorted search.
type Request struct {
	Query query.Query
	From  int
	Size  int
	// Sort uses Bleve sort syntax, e.g. "-created_at" or "_id".
	Sort []string
}

// Hit is one matching document.
type Hit struct {
	ID     string
	Source json.RawMessage
}

// Result holds one page of hits and the total number of matches.
type Result struct {
	Hits  []Hit
	Total uint64
}
