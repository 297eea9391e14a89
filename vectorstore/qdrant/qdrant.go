// Package qdrant implements vectorstore.MemoryStore against a remote
// Qdrant collection, the persistent on-disk ANN backend named in §6.
package qdrant

import (
	"context"
	"errors"
	"fmt"

	qc "github.com/qdrant/go-client/qdrant"

	"github.com/smileformylove/memscreen/vectorstore"
)

// Config describes a single Qdrant collection backing one MemoryStore.
type Config struct {
	Client           *qc.Client
	CollectionName   string
	Dimension        int
	InitializeSchema bool
}

func (c *Config) validate() error {
	if c.Client == nil {
		return errors.New("memscreen: qdrant config: client is required")
	}
	if c.CollectionName == "" {
		return errors.New("memscreen: qdrant config: collection_name is required")
	}
	if c.Dimension <= 0 {
		return errors.New("memscreen: qdrant config: dimension must be > 0")
	}
	return nil
}

// Store implements vectorstore.MemoryStore.
type Store struct {
	client         *qc.Client
	collectionName string
	dimension      int
}

var _ vectorstore.MemoryStore = (*Store)(nil)

// New constructs a Store, creating the collection if InitializeSchema is
// set and it does not already exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Store{client: cfg.Client, collectionName: cfg.CollectionName, dimension: cfg.Dimension}

	if cfg.InitializeSchema {
		exists, err := cfg.Client.CollectionExists(ctx, cfg.CollectionName)
		if err != nil {
			return nil, fmt.Errorf("memscreen: qdrant: check collection existence: %w", err)
		}
		if !exists {
			err = cfg.Client.CreateCollection(ctx, &qc.CreateCollection{
				CollectionName: cfg.CollectionName,
				VectorsConfig: qc.NewVectorsConfig(&qc.VectorParams{
					Size:     uint64(cfg.Dimension),
					Distance: qc.Distance_Cosine,
				}),
			})
			if err != nil {
				return nil, fmt.Errorf("memscreen: qdrant: create collection %s: %w", cfg.CollectionName, err)
			}
		}
	}

	return s, nil
}

// Dimension implements vectorstore.MemoryStore.
func (s *Store) Dimension() int { return s.dimension }

func (s *Store) checkDimension(vector []float32) error {
	if len(vector) != s.dimension {
		return fmt.Errorf("%w: got %d want %d", vectorstore.ErrDimension, len(vector), s.dimension)
	}
	return nil
}

func toPayload(payload map[string]any) (map[string]*qc.Value, error) {
	if payload == nil {
		return nil, nil
	}
	return qc.TryValueMap(payload)
}

func fromPayload(payload map[string]*qc.Value) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *qc.Value) any {
	if v == nil {
		return nil
	}
	switch kind := v.Kind.(type) {
	case *qc.Value_DoubleValue:
		return kind.DoubleValue
	case *qc.Value_IntegerValue:
		return kind.IntegerValue
	case *qc.Value_StringValue:
		return kind.StringValue
	case *qc.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}

// Insert implements vectorstore.MemoryStore.
func (s *Store) Insert(ctx context.Context, ids []string, vectors [][]float32, payloads []map[string]any) error {
	if len(ids) != len(vectors) || len(ids) != len(payloads) {
		return errors.New("memscreen: qdrant: ids/vectors/payloads length mismatch")
	}

	points := make([]*qc.PointStruct, 0, len(ids))
	for i, id := range ids {
		if err := s.checkDimension(vectors[i]); err != nil {
			return err
		}
		payload, err := toPayload(payloads[i])
		if err != nil {
			return fmt.Errorf("memscreen: qdrant: convert payload: %w", err)
		}
		points = append(points, &qc.PointStruct{
			Id:      qc.NewID(id),
			Vectors: qc.NewVectors(vectors[i]...),
			Payload: payload,
		})
	}

	_, err := s.client.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: s.collectionName,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("memscreen: qdrant: upsert: %w", err)
	}
	return nil
}

// Update implements vectorstore.MemoryStore. It reads the current point
// first: a nil vector leaves the existing one in place (Qdrant upsert
// requires a vector), and the given payload keys are merged into the
// existing payload, so a nil payload leaves it unchanged.
func (s *Store) Update(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if vector == nil {
		vector = existing.Vector
	}
	merged := existing.Payload
	if merged == nil {
		merged = make(map[string]any, len(payload))
	}
	for k, v := range payload {
		merged[k] = v
	}
	return s.Insert(ctx, []string{id}, [][]float32{vector}, []map[string]any{merged})
}

// Delete implements vectorstore.MemoryStore; it is idempotent.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: s.collectionName,
		Points:         qc.NewPointsSelector(qc.NewID(id)),
	})
	if err != nil {
		return fmt.Errorf("memscreen: qdrant: delete: %w", err)
	}
	return nil
}

// Get implements vectorstore.MemoryStore.
func (s *Store) Get(ctx context.Context, id string) (*vectorstore.Point, error) {
	points, err := s.client.Get(ctx, &qc.GetPoints{
		CollectionName: s.collectionName,
		Ids:            []*qc.PointId{qc.NewID(id)},
		WithVectors:    qc.NewWithVectors(true),
		WithPayload:    qc.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("memscreen: qdrant: get: %w", err)
	}
	if len(points) == 0 {
		return nil, vectorstore.ErrNotFound
	}

	return toPoint(points[0]), nil
}

func toPoint(p *qc.RetrievedPoint) *vectorstore.Point {
	return &vectorstore.Point{
		ID:      p.GetId().GetUuid(),
		Vector:  p.GetVectors().GetVector().GetData(),
		Payload: fromPayload(p.GetPayload()),
	}
}

func buildFilter(filters map[string]string) *qc.Filter {
	if len(filters) == 0 {
		return nil
	}
	conditions := make([]*qc.Condition, 0, len(filters))
	for k, v := range filters {
		conditions = append(conditions, qc.NewMatch(k, v))
	}
	return &qc.Filter{Must: conditions}
}

// List implements vectorstore.MemoryStore.
func (s *Store) List(ctx context.Context, filters map[string]string, limit int) ([]*vectorstore.Point, error) {
	lim := uint32(limit)
	resp, err := s.client.Scroll(ctx, &qc.ScrollPoints{
		CollectionName: s.collectionName,
		Filter:         buildFilter(filters),
		Limit:          &lim,
		WithVectors:    qc.NewWithVectors(true),
		WithPayload:    qc.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("memscreen: qdrant: scroll: %w", err)
	}

	out := make([]*vectorstore.Point, 0, len(resp))
	for _, p := range resp {
		out = append(out, &vectorstore.Point{
			ID:      p.GetId().GetUuid(),
			Vector:  p.GetVectors().GetVector().GetData(),
			Payload: fromPayload(p.GetPayload()),
		})
	}
	return out, nil
}

// Search implements vectorstore.MemoryStore.
func (s *Store) Search(ctx context.Context, vector []float32, limit int, filters map[string]string) ([]vectorstore.Hit, error) {
	if err := s.checkDimension(vector); err != nil {
		return nil, err
	}

	lim := uint64(limit)
	resp, err := s.client.Query(ctx, &qc.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qc.NewQuery(vector...),
		Filter:         buildFilter(filters),
		Limit:          &lim,
		WithPayload:    qc.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("memscreen: qdrant: query: %w", err)
	}

	out := make([]vectorstore.Hit, 0, len(resp))
	for _, p := range resp {
		out = append(out, vectorstore.Hit{
			ID:      p.GetId().GetUuid(),
			Score:   float64(p.GetScore()),
			Payload: fromPayload(p.GetPayload()),
		})
	}
	return out, nil
}

// Reset implements vectorstore.MemoryStore by deleting every point via an
// empty-filter match-all delete.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: s.collectionName,
		Points:         qc.NewPointsSelectorFilter(&qc.Filter{}),
	})
	if err != nil {
		return fmt.Errorf("memscreen: qdrant: reset: %w", err)
	}
	return nil
}
