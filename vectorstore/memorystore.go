package vectorstore

import (
	"context"
	"errors"
)

// ErrNotFound is C3's NotFound (§7): Get/Update/Delete against a missing
// id. Delete is idempotent and never returns it; Get and Update do.
var ErrNotFound = errors.New("memscreen: vector store: not found")

// ErrDimension is C3's DimensionError (§7): an inserted/updated vector's
// length disagrees with the store's configured dimension.
var ErrDimension = errors.New("memscreen: vector store: dimension mismatch")

// Point is one stored id/vector/payload triple, the shape every backend
// converts its native representation to and from.
type Point struct {
	ID       string
	Vector   []float32
	Payload  map[string]any
}

// Hit is one search result: an id, a score in [0,1] (higher is better,
// cosine-equivalent), and the payload attached at insert/update time.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// MemoryStore is the C3 contract: a persistent ANN index over fixed-
// dimension embeddings with conjunctive exact-match metadata filters.
// Implementations (vectorstore/qdrant, vectorstore/sqlitevec) back the
// vector side of every Memory; the relational side lives in package
// history.
type MemoryStore interface {
	// Insert adds new points. ids, vectors, and payloads must be the same
	// length.
	Insert(ctx context.Context, ids []string, vectors [][]float32, payloads []map[string]any) error
	// Update modifies an existing point's vector and/or payload. A nil
	// vector leaves the vector unchanged; payload keys are merged into the
	// existing payload, so a nil payload leaves it unchanged.
	Update(ctx context.Context, id string, vector []float32, payload map[string]any) error
	// Delete removes a point. It is idempotent: deleting a missing id is
	// not an error.
	Delete(ctx context.Context, id string) error
	// Get returns a single point by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Point, error)
	// List returns points matching filters (conjunctive exact-match),
	// bounded by limit.
	List(ctx context.Context, filters map[string]string, limit int) ([]*Point, error)
	// Search returns the limit nearest neighbors to vector under filters,
	// ordered by descending score, ties broken by id.
	Search(ctx context.Context, vector []float32, limit int, filters map[string]string) ([]Hit, error)
	// Reset drops every point in the store's collection.
	Reset(ctx context.Context) error
	// Dimension returns the store's configured vector dimension.
	Dimension() int
}

// MultimodalStore couples two logical collections (<name>_text,
// <name>_vision) that share memory ids, per §4.3's multimodal variant.
// Inserts may carry either or both vectors; search accepts either or both
// query vectors and the caller (retrieval.Retriever) fuses the two result
// sets via reciprocal-rank fusion.
type MultimodalStore struct {
	Text   MemoryStore
	Vision MemoryStore
}

// NewMultimodalStore pairs a text and an optional vision store. Vision may
// be nil when the deployment never encodes images.
func NewMultimodalStore(text, vision MemoryStore) *MultimodalStore {
	return &MultimodalStore{Text: text, Vision: vision}
}

// HasVision reports whether a vision-side store is configured.
func (m *MultimodalStore) HasVision() bool {
	return m.Vision != nil
}
