package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smileformylove/memscreen/conflict"
	"github.com/smileformylove/memscreen/embedding"
	"github.com/smileformylove/memscreen/history"
	"github.com/smileformylove/memscreen/llm"
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
	var out []vectorstore.Hit
	for id, p := range f.points {
		out = append(out, vectorstore.Hit{ID: id, Score: 1, Payload: p.Payload})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) Reset(ctx context.Context) error { f.points = map[string]*vectorstore.Point{}; return nil }

func (f *fakeStore) Dimension() int { return 3 }

var _ vectorstore.MemoryStore = (*fakeStore)(nil)

type fakeEmbedBackend struct{}

func (fakeEmbedBackend) Embed(ctx context.Context, text string, action embedding.Action) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeEmbedBackend) Dimension() int { return 3 }

type fakeLLMBackend struct {
	responses []string
	calls     int
}

func (f *fakeLLMBackend) Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	if f.calls >= len(f.responses) {
		return "", nil
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

func newTestPipeline(t *testing.T, responses []string) (*Pipeline, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	embedClient := embedding.New(fakeEmbedBackend{}, nil)
	llmClient := llm.New(&fakeLLMBackend{responses: responses})

	hist, err := history.New(context.Background(), history.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close(context.Background()) })

	p := New(store, embedClient, llmClient, hist, nil, nil, nil, nil, Config{})
	return p, store
}

func TestAdd_NonInferring_CreatesOneRecordPerMessage(t *testing.T) {
	p, store := newTestPipeline(t, nil)

	result, err := p.Add(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "I like coffee"}},
		Scope:    memory.ScopeKey{UserID: "u1"},
		Infer:    false,
	})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, memory.ActionAdd, result.Records[0].Event)
	assert.Len(t, store.points, 1)
}

func TestAdd_ShortCircuitUsesNonInferringPath(t *testing.T) {
	p, store := newTestPipeline(t, nil)

	result, err := p.Add(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Scope:    memory.ScopeKey{UserID: "u1"},
		Infer:    true,
	})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Len(t, store.points, 1)
}

func TestAdd_Procedural_SingleSummaryRecord(t *testing.T) {
	p, store := newTestPipeline(t, []string{"Step 1: open the file. Step 2: save it."})

	result, err := p.Add(context.Background(), Request{
		Messages:   []Message{{Role: RoleUser, Content: "how do I save a file"}, {Role: RoleAssistant, Content: "open it then save it"}},
		Scope:      memory.ScopeKey{UserID: "u1"},
		MemoryType: MemoryTypeProcedural,
	})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Len(t, store.points, 1)
	for _, p := range store.points {
		assert.Equal(t, "procedural", p.Payload["memory_type"])
	}
}

func TestAdd_ValidatesScope(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	_, err := p.Add(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Scope:    memory.ScopeKey{},
	})
	assert.ErrorIs(t, err, memory.ErrNoScope)
}

func TestPreFilterConflicts_SkipsExactDuplicate(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	p.conflicts = conflict.New(nil, conflict.Config{})

	existingHash := memory.Digest("the sky is blue")
	neighbors := []neighbor{{ID: "m1", Text: "the sky is blue", Hash: existingHash}}
	factEmbeddings := map[string][]float32{"the sky is blue": {1, 0, 0}}

	surviving, resolved, err := p.preFilterConflicts(context.Background(), []string{"the sky is blue"}, factEmbeddings, neighbors)
	require.NoError(t, err)
	assert.Empty(t, surviving)
	assert.Empty(t, resolved)
}

func TestPreFilterConflicts_PassesThroughWithoutResolver(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	surviving, resolved, err := p.preFilterConflicts(context.Background(), []string{"a new fact"}, nil, []neighbor{{ID: "m1", Text: "unrelated"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a new fact"}, surviving)
	assert.Empty(t, resolved)
}

func TestIsShortCircuit(t *testing.T) {
	assert.True(t, isShortCircuit("hi", 50))
	assert.True(t, isShortCircuit("!run something", 5))
	assert.False(t, isShortCircuit("this is a much longer line of text\nwith a second line to boot", 10))
}

func TestNewMemoryID_Unique(t *testing.T) {
	a := newMemoryID()
	b := newMemoryID()
	assert.NotEqual(t, a, b)
}
