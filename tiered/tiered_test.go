package tiered

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smileformylove/memscreen/memory"
	"github.com/smileformylove/memscreen/vectorstore"
)

type fakeStore struct {
	points map[string]*vectorstore.Point
}

func newFakeStore() *fakeStore { return &fakeStore{points: map[string]*vectorstore.Point{}} }

func (f *fakeStore) Insert(ctx context.Context, ids []string, vectors [][]float32, payloads []map[string]any) error {
	for i, id := range ids {
		f.points[id] = &vectorstore.Point{ID: id, Vector: vectors[i], Payload: payloads[i]}
	}
	return nil
}

func (f *fakeStore) Update(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	p, ok := f.points[id]
	if !ok {
		return vectorstore.ErrNotFound
	}
	if vector != nil {
		p.Vector = vector
	}
	for k, v := range payload {
		if p.Payload == nil {
			p.Payload = map[string]any{}
		}
		p.Payload[k] = v
	}
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	delete(f.points, id)
	return nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (*vectorstore.Point, error) {
	p, ok := f.points[id]
	if !ok {
		return nil, vectorstore.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) List(ctx context.Context, filters map[string]string, limit int) ([]*vectorstore.Point, error) {
	var out []*vectorstore.Point
	for _, p := range f.points {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) Search(ctx context.Context, vector []float32, limit int, filters map[string]string) ([]vectorstore.Hit, error) {
	return nil, nil
}

func (f *fakeStore) Reset(ctx context.Context) error { f.points = map[string]*vectorstore.Point{}; return nil }

func (f *fakeStore) Dimension() int { return 3 }

var _ vectorstore.MemoryStore = (*fakeStore)(nil)

func TestPromote_LongTermToShortTerm(t *testing.T) {
	store := newFakeStore()
	store.points["m1"] = &vectorstore.Point{ID: "m1", Payload: map[string]any{"tier": "long_term"}}

	mgr := New(store, nil, nil, nil, Config{})
	mgr.Track("m1", memory.TierLongTerm, time.Now())

	require.NoError(t, mgr.Promote(context.Background(), []string{"m1"}))

	assert.Equal(t, "short_term", store.points["m1"].Payload["tier"])
}

func TestPromote_ShortTermToWorkingAtThreshold(t *testing.T) {
	store := newFakeStore()
	store.points["m1"] = &vectorstore.Point{ID: "m1", Payload: map[string]any{"tier": "short_term"}}

	mgr := New(store, nil, nil, nil, Config{WorkingEnabled: true, PromoteAccessThreshold: 3})
	mgr.Track("m1", memory.TierShortTerm, time.Now())

	ctx := context.Background()
	require.NoError(t, mgr.Promote(ctx, []string{"m1"})) // access_count=1
	require.NoError(t, mgr.Promote(ctx, []string{"m1"})) // access_count=2
	assert.Equal(t, "short_term", store.points["m1"].Payload["tier"])

	require.NoError(t, mgr.Promote(ctx, []string{"m1"})) // access_count=3 -> working
	assert.Equal(t, "working", store.points["m1"].Payload["tier"])
}

func TestSweep_DemotesStaleWorking(t *testing.T) {
	store := newFakeStore()
	store.points["m1"] = &vectorstore.Point{ID: "m1", Payload: map[string]any{"tier": "working"}}

	mgr := New(store, nil, nil, nil, Config{WorkingTTL: time.Hour})
	mgr.Track("m1", memory.TierWorking, time.Now().Add(-2*time.Hour))

	require.NoError(t, mgr.Sweep(context.Background()))
	assert.Equal(t, "short_term", store.points["m1"].Payload["tier"])
}

func TestSweep_DemotesStaleShortTermWithoutCompression(t *testing.T) {
	store := newFakeStore()
	store.points["m1"] = &vectorstore.Point{ID: "m1", Payload: map[string]any{"tier": "short_term"}}

	mgr := New(store, nil, nil, nil, Config{ShortTermTTL: 24 * time.Hour, ShortTermAccessFloor: 2})
	mgr.Track("m1", memory.TierShortTerm, time.Now().Add(-48*time.Hour))

	require.NoError(t, mgr.Sweep(context.Background()))
	assert.Equal(t, "long_term", store.points["m1"].Payload["tier"])
}

func TestInitialTier_DemotesWorkingWhenDisabled(t *testing.T) {
	mgr := New(newFakeStore(), nil, nil, nil, Config{WorkingEnabled: false})
	tier := mgr.InitialTier("a fact worth remembering", map[string]any{"category": "fact"}, time.Now())
	assert.NotEqual(t, memory.TierWorking, tier)
}
