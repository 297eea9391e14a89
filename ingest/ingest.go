// Package ingest implements C9: scope resolution, the non-inferring
// direct-capture path, and the ten-stage inferring pipeline that turns a
// batch of messages into ADD/UPDATE/DELETE/NONE actions against the
// vector store and history log.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/smileformylove/memscreen/conflict"
	"github.com/smileformylove/memscreen/embedding"
	"github.com/smileformylove/memscreen/history"
	"github.com/smileformylove/memscreen/llm"
	"github.com/smileformylove/memscreen/memory"
	"github.com/smileformylove/memscreen/retrieval"
	"github.com/smileformylove/memscreen/tiered"
	"github.com/smileformylove/memscreen/vectorstore"
)

// Role tags an inbound message the way memory.Role does for a stored one.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged input turn.
type Message struct {
	Role    Role
	Content string
	Name    string // actor id, when the turn came from a named participant
}

// Scope carries the raw scope ids an add call was issued under.
type Scope = memory.ScopeKey

// MemoryType selects a non-default ingestion path. The zero value is the
// general fact-extraction/update path.
type MemoryType string

const (
	MemoryTypeGeneral     MemoryType = ""
	MemoryTypeProcedural  MemoryType = "procedural"
)

// APIVersion selects C9 stage 10's output shape.
type APIVersion string

const (
	APIVersionV10 APIVersion = "v1.0"
	APIVersionV11 APIVersion = "v1.1"
)

// Request is one add() call.
type Request struct {
	Messages   []Message
	Scope      Scope
	Metadata   map[string]any
	Infer      bool
	MemoryType MemoryType
	Version    APIVersion
}

// Result is stage 10's return value.
type Result struct {
	Records         []memory.ActionRecord `json:"results"`
	DeprecationNote string                `json:"deprecation_note,omitempty"` // set only under APIVersionV10
}

// GraphExtractor is C9 stage 9's optional entity/relation fan-out target,
// disabled by default (§4.9, §4.3's graph variant).
type GraphExtractor interface {
	Extract(ctx context.Context, messages []Message, scope Scope) (Relations, error)
}

// Relations is the graph fan-out's output shape (§4.9 stage 9).
type Relations struct {
	Entities  []string        `json:"entities"`
	Relations []EntityRelation `json:"relations"`
}

// EntityRelation is one extracted (subject, predicate, object) triple.
type EntityRelation struct {
	Source    string `json:"source"`
	Relation  string `json:"relation"`
	Target    string `json:"target"`
}

// Config tunes short-circuit thresholds, concurrency, and feature gates.
type Config struct {
	ShortCircuitLength int // default 50
	NeighborLimit      int // default 5
	GraphFanoutEnabled bool
	Timezone           *time.Location
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ShortCircuitLength <= 0 {
		out.ShortCircuitLength = 50
	}
	if out.NeighborLimit <= 0 {
		out.NeighborLimit = 5
	}
	if out.Timezone == nil {
		out.Timezone = time.UTC
	}
	return out
}

// Pipeline is the C9 contract.
type Pipeline struct {
	cfg        Config
	store      vectorstore.MemoryStore
	embed      *embedding.Client
	llmClient  *llm.Client
	history    *history.Log
	conflicts  *conflict.Resolver
	tiered     *tiered.Manager
	retriever  *retrieval.Retriever
	graph      GraphExtractor
	now        func() time.Time
}

// New constructs a Pipeline. graph may be nil (equivalent to
// cfg.GraphFanoutEnabled=false); retriever may be nil if cache
// invalidation on write is not needed (e.g. tests).
func New(store vectorstore.MemoryStore, embed *embedding.Client, llmClient *llm.Client, hist *history.Log, conflicts *conflict.Resolver, tieredMgr *tiered.Manager, retriever *retrieval.Retriever, graph GraphExtractor, cfg Config) *Pipeline {
	return &Pipeline{
		cfg:       cfg.withDefaults(),
		store:     store,
		embed:     embed,
		llmClient: llmClient,
		history:   hist,
		conflicts: conflicts,
		tiered:    tieredMgr,
		retriever: retriever,
		graph:     graph,
		now:       time.Now,
	}
}

// Add is the C9 entry point.
func (p *Pipeline) Add(ctx context.Context, req Request) (Result, error) {
	if err := req.Scope.Validate(); err != nil {
		return Result{}, err
	}

	if req.MemoryType == MemoryTypeProcedural {
		records, err := p.addProcedural(ctx, req)
		return p.wrapResult(records, req.Version), err
	}

	if !req.Infer {
		records, err := p.addNonInferring(ctx, req)
		return p.wrapResult(records, req.Version), err
	}

	return p.addInferring(ctx, req)
}

func (p *Pipeline) wrapResult(records []memory.ActionRecord, version APIVersion) Result {
	res := Result{Records: records}
	if version == APIVersionV10 {
		res.DeprecationNote = "the bare-list add() output is deprecated; set version=v1.1 to receive {results: [...]}"
	}
	return res
}

// addNonInferring implements the low-latency raw-capture path: one
// embedding + one ADD per non-system message, no LLM involved.
func (p *Pipeline) addNonInferring(ctx context.Context, req Request) ([]memory.ActionRecord, error) {
	var records []memory.ActionRecord
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem || msg.Content == "" {
			continue
		}
		record, err := p.createMemory(ctx, msg.Content, req.Scope, req.Metadata, msg.Name, string(msg.Role))
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	p.invalidateRetrievalCache()
	return records, nil
}

// isShortCircuit implements stage 1: under-threshold, single-line, or
// command-like content is treated as non-inferring.
func isShortCircuit(content string, threshold int) bool {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < threshold {
		return true
	}
	if !strings.Contains(trimmed, "\n") {
		return true
	}
	for _, prefix := range []string{"!", "?", "/", "http"} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

const factExtractionSystemPrompt = `You extract durable, standalone facts worth remembering from a conversation turn.
Respond with a JSON object of the shape {"facts": ["fact one", "fact two"]}.
Only include facts that are self-contained statements; omit greetings, acknowledgements, and questions.`

type factExtraction struct {
	Facts []string `json:"facts"`
}

const updatePlannerSystemPreamble = `You are maintaining a personal memory store. Given newly extracted facts and
a numbered list of existing memories that might relate to them, decide for each fact whether to ADD it as a new
memory, UPDATE an existing one (by its number), DELETE an existing one that is now contradicted, or take NONE.
Respond with a JSON object of the shape:
{"memory": [{"id": "<number or new>", "text": "<fact text>", "event": "ADD|UPDATE|DELETE|NONE", "old_memory": "<text being replaced, if UPDATE>"}]}`

type updatePlan struct {
	Memory []plannedAction `json:"memory"`
}

type plannedAction struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Event     string `json:"event"`
	OldMemory string `json:"old_memory"`
}

// addInferring implements the ten-stage pipeline of §4.9.
func (p *Pipeline) addInferring(ctx context.Context, req Request) (Result, error) {
	joined := joinMessages(req.Messages)

	// Stage 1: short-circuit.
	if isShortCircuit(joined, p.cfg.ShortCircuitLength) {
		records, err := p.addNonInferring(ctx, req)
		return p.wrapResult(records, req.Version), err
	}

	// Stage 2: fact extraction.
	facts, err := p.extractFacts(ctx, joined)
	if err != nil {
		return Result{}, err
	}
	if len(facts) == 0 {
		return p.wrapResult(nil, req.Version), nil
	}

	// Stage 3: embed candidate facts.
	embeddings, err := p.embed.EmbedBatch(ctx, facts, embedding.ActionAdd)
	if err != nil {
		return Result{}, fmt.Errorf("memscreen: ingest: embed facts: %w", err)
	}
	factEmbeddings := make(map[string][]float32, len(facts))
	for i, f := range facts {
		factEmbeddings[f] = embeddings[i]
	}

	// Stage 4: neighbor probe, deduplicated by id.
	neighbors, err := p.probeNeighbors(ctx, facts, embeddings, req.Scope)
	if err != nil {
		return Result{}, err
	}

	// Stage 5: drop facts the conflict resolver already classifies as an
	// exact or near-duplicate of a probed neighbor, so the update planner
	// only ever reasons about genuinely new or contested facts.
	surviving, preResolved, err := p.preFilterConflicts(ctx, facts, factEmbeddings, neighbors)
	if err != nil {
		return Result{}, err
	}

	// Stage 5b: numerically-indexed conflict survey for the planner.
	indexed, uuidMap := indexNeighbors(neighbors)

	// Stage 6: update planner, over the surviving facts only.
	plan, err := p.planUpdates(ctx, surviving, indexed)
	if err != nil {
		return Result{}, err
	}

	// Stage 7+8: hallucination repair, then apply actions in order.
	records := append([]memory.ActionRecord{}, preResolved...)
	var fanoutErr error
	group, groupCtx := errgroup.WithContext(ctx)
	if p.cfg.GraphFanoutEnabled && p.graph != nil {
		group.Go(func() error {
			_, err := p.graph.Extract(groupCtx, req.Messages, req.Scope)
			if err != nil {
				fanoutErr = err // logged, never propagated (§4.9 stage 9)
			}
			return nil
		})
	}

	for _, action := range plan.Memory {
		event := strings.ToUpper(action.Event)
		realID, known := uuidMap[action.ID]
		if !known && (event == "UPDATE" || event == "DELETE") {
			event = "ADD" // stage 7: hallucination repair
		}

		var record memory.ActionRecord
		var err error
		switch event {
		case "ADD":
			record, err = p.createMemoryWithEmbeddings(ctx, action.Text, req.Scope, req.Metadata, "", "", factEmbeddings)
		case "UPDATE":
			record, err = p.updateMemory(ctx, realID, action.Text, factEmbeddings)
		case "DELETE":
			record, err = p.deleteMemory(ctx, realID)
		default: // NONE
			continue
		}
		if err != nil {
			return Result{}, err
		}
		records = append(records, record)
	}

	_ = group.Wait()
	_ = fanoutErr // surfaced via logging at the wiring layer, not returned

	p.invalidateRetrievalCache()
	return p.wrapResult(records, req.Version), nil
}

func joinMessages(messages []Message) string {
	var lines []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			continue
		}
		lines = append(lines, m.Content)
	}
	return strings.Join(lines, "\n")
}

func (p *Pipeline) extractFacts(ctx context.Context, parsedMessages string) ([]string, error) {
	var out factExtraction
	err := p.llmClient.GenerateJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: factExtractionSystemPrompt},
		{Role: llm.RoleUser, Content: "Input:\n" + parsedMessages},
	}, llm.Options{UseCase: llm.UseCaseMemory, MaxOutputTokens: 256, Temperature: 0.3, TopP: 0.8}, &out)
	if err != nil {
		return nil, nil // robust handler failure degrades to empty list, never an error
	}

	var valid []string
	for _, f := range out.Facts {
		if strings.TrimSpace(f) != "" {
			valid = append(valid, f)
		}
	}
	return valid, nil
}

type neighbor struct {
	ID        string
	Text      string
	Embedding []float32
	Hash      string
}

func (p *Pipeline) probeNeighbors(ctx context.Context, facts []string, embeddings [][]float32, scope Scope) ([]neighbor, error) {
	filters := scope.Filters()

	var hits []vectorstore.Hit
	for i := range facts {
		h, err := p.store.Search(ctx, embeddings[i], p.cfg.NeighborLimit, filters)
		if err != nil {
			continue // a failed probe degrades to "no neighbors for this fact"
		}
		hits = append(hits, h...)
	}

	// Every fact's probe can resurface the same neighbor; lo.UniqBy keeps
	// only the first occurrence per id, same as the map-based dedup it
	// replaces, without needing an intermediate map of our own.
	unique := lo.UniqBy(hits, func(h vectorstore.Hit) string { return h.ID })

	out := make([]neighbor, 0, len(unique))
	for _, h := range unique {
		data, _ := h.Payload["data"].(string)
		if data == "" {
			continue
		}
		hash, _ := h.Payload["hash"].(string)
		n := neighbor{ID: h.ID, Text: data, Hash: hash}
		if point, err := p.store.Get(ctx, h.ID); err == nil {
			n.Embedding = point.Vector
		}
		out = append(out, n)
	}
	return out, nil
}

// preFilterConflicts runs the conflict resolver (C6) over each new fact
// against every probed neighbor, before the update planner ever sees it.
// Facts the resolver resolves to skip/merge are removed from the
// planner's input and applied directly; everything else is passed
// through untouched, since the planner's own ADD/UPDATE/DELETE/NONE
// judgment already subsumes keep_both and mark_conflict.
func (p *Pipeline) preFilterConflicts(ctx context.Context, facts []string, factEmbeddings map[string][]float32, neighbors []neighbor) (surviving []string, resolved []memory.ActionRecord, err error) {
	if p.conflicts == nil || len(neighbors) == 0 {
		return facts, nil, nil
	}

	candidates := make([]conflict.Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		candidates = append(candidates, conflict.Candidate{ID: n.ID, Data: n.Text, Embedding: n.Embedding, Hash: n.Hash})
	}

	for _, fact := range facts {
		found, detectErr := p.conflicts.Detect(ctx, fact, factEmbeddings[fact], candidates)
		if detectErr != nil || len(found) == 0 {
			surviving = append(surviving, fact)
			continue
		}
		c := strongestConflict(found)

		resolution, resolveErr := p.conflicts.Resolve(ctx, c, fact)
		if resolveErr != nil {
			surviving = append(surviving, fact)
			continue
		}

		switch resolution.Action {
		case conflict.ActionSkip:
			if resolution.IncrementAccess && resolution.MemoryID != "" {
				_ = p.bumpAccessCount(ctx, resolution.MemoryID)
			}
		case conflict.ActionMerge:
			record, mergeErr := p.updateMemory(ctx, resolution.MemoryID, resolution.MergedContent, nil)
			if mergeErr != nil {
				return nil, nil, mergeErr
			}
			resolved = append(resolved, record)
		default:
			// keep_both / mark_conflict: let the update planner decide.
			surviving = append(surviving, fact)
		}
	}

	return surviving, resolved, nil
}

// strongestConflict picks the highest-confidence detected relationship,
// since a fact may overlap several neighbors at once.
func strongestConflict(found []conflict.Conflict) conflict.Conflict {
	best := found[0]
	for _, c := range found[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	return best
}

func (p *Pipeline) bumpAccessCount(ctx context.Context, id string) error {
	point, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}
	count, _ := point.Payload["access_count"].(float64)
	return p.store.Update(ctx, id, nil, map[string]any{
		"access_count":  int(count) + 1,
		"last_accessed": p.now().In(p.cfg.Timezone).Format(time.RFC3339),
	})
}

func indexNeighbors(neighbors []neighbor) (indexed []neighbor, uuidMap map[string]string) {
	uuidMap = make(map[string]string, len(neighbors))
	indexed = make([]neighbor, len(neighbors))
	for i, n := range neighbors {
		idx := fmt.Sprintf("%d", i)
		uuidMap[idx] = n.ID
		indexed[i] = neighbor{ID: idx, Text: n.Text}
	}
	return indexed, uuidMap
}

func (p *Pipeline) planUpdates(ctx context.Context, facts []string, indexed []neighbor) (updatePlan, error) {
	var sb strings.Builder
	sb.WriteString("New facts:\n")
	for _, f := range facts {
		sb.WriteString("- ")
		sb.WriteString(f)
		sb.WriteString("\n")
	}
	sb.WriteString("\nExisting memories:\n")
	for _, n := range indexed {
		fmt.Fprintf(&sb, "%s: %s\n", n.ID, n.Text)
	}

	var plan updatePlan
	err := p.llmClient.GenerateJSON(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: updatePlannerSystemPreamble + "\n\n" + sb.String()},
	}, llm.Options{UseCase: llm.UseCaseMemory, MaxOutputTokens: 512, Temperature: 0.3, TopP: 0.8}, &plan)
	if err != nil {
		return updatePlan{}, nil // robust handler failure yields an empty plan
	}
	return plan, nil
}

func (p *Pipeline) createMemory(ctx context.Context, content string, scope Scope, metadata map[string]any, actorID, role string) (memory.ActionRecord, error) {
	vector, err := p.embed.Embed(ctx, content, embedding.ActionAdd)
	if err != nil {
		return memory.ActionRecord{}, fmt.Errorf("memscreen: ingest: embed: %w", err)
	}
	return p.insertMemory(ctx, content, vector, scope, metadata, actorID, role)
}

func (p *Pipeline) createMemoryWithEmbeddings(ctx context.Context, content string, scope Scope, metadata map[string]any, actorID, role string, embeddings map[string][]float32) (memory.ActionRecord, error) {
	vector, ok := embeddings[content]
	if !ok {
		var err error
		vector, err = p.embed.Embed(ctx, content, embedding.ActionAdd)
		if err != nil {
			return memory.ActionRecord{}, fmt.Errorf("memscreen: ingest: embed: %w", err)
		}
	}
	return p.insertMemory(ctx, content, vector, scope, metadata, actorID, role)
}

func (p *Pipeline) insertMemory(ctx context.Context, content string, vector []float32, scope Scope, metadata map[string]any, actorID, role string) (memory.ActionRecord, error) {
	id := newMemoryID()
	now := p.now().In(p.cfg.Timezone)

	payload := clonePayload(metadata)
	payload["data"] = content
	payload["hash"] = memory.Digest(content)
	payload["created_at"] = now.Format(time.RFC3339)
	for k, v := range scope.Filters() {
		payload[k] = v
	}
	if actorID != "" {
		payload["actor_id"] = actorID
	}
	if role != "" {
		payload["role"] = role
	}

	tier := p.tierFor(content, payload, now)
	payload["tier"] = string(tier)

	if err := p.store.Insert(ctx, []string{id}, [][]float32{vector}, []map[string]any{payload}); err != nil {
		return memory.ActionRecord{}, fmt.Errorf("memscreen: ingest: insert: %w", err)
	}
	if p.tiered != nil {
		p.tiered.Track(id, tier, now)
	}

	if err := p.history.Add(ctx, id, "", content, memory.EventAdd, actorID, role, false); err != nil {
		return memory.ActionRecord{}, fmt.Errorf("memscreen: ingest: history add: %w", err)
	}

	return memory.ActionRecord{ID: id, Memory: content, Event: memory.ActionAdd}, nil
}

func (p *Pipeline) tierFor(content string, payload map[string]any, now time.Time) memory.Tier {
	if p.tiered == nil {
		return memory.TierShortTerm
	}
	return p.tiered.InitialTier(content, payload, now)
}

func (p *Pipeline) updateMemory(ctx context.Context, memoryID, content string, embeddings map[string][]float32) (memory.ActionRecord, error) {
	existing, err := p.store.Get(ctx, memoryID)
	if err != nil {
		return memory.ActionRecord{}, fmt.Errorf("memscreen: ingest: get for update: %w", err)
	}
	prevValue, _ := existing.Payload["data"].(string)

	vector, ok := embeddings[content]
	if !ok {
		vector, err = p.embed.Embed(ctx, content, embedding.ActionUpdate)
		if err != nil {
			return memory.ActionRecord{}, fmt.Errorf("memscreen: ingest: embed update: %w", err)
		}
	}

	payload := clonePayload(existing.Payload)
	payload["data"] = content
	payload["hash"] = memory.Digest(content)
	payload["updated_at"] = p.now().In(p.cfg.Timezone).Format(time.RFC3339)

	if err := p.store.Update(ctx, memoryID, vector, payload); err != nil {
		return memory.ActionRecord{}, fmt.Errorf("memscreen: ingest: update: %w", err)
	}

	actorID, _ := payload["actor_id"].(string)
	role, _ := payload["role"].(string)
	if err := p.history.Add(ctx, memoryID, prevValue, content, memory.EventUpdate, actorID, role, false); err != nil {
		return memory.ActionRecord{}, fmt.Errorf("memscreen: ingest: history update: %w", err)
	}

	return memory.ActionRecord{ID: memoryID, Memory: content, Event: memory.ActionUpdate, PreviousMemory: prevValue}, nil
}

func (p *Pipeline) deleteMemory(ctx context.Context, memoryID string) (memory.ActionRecord, error) {
	existing, err := p.store.Get(ctx, memoryID)
	if err != nil {
		return memory.ActionRecord{}, fmt.Errorf("memscreen: ingest: get for delete: %w", err)
	}
	prevValue, _ := existing.Payload["data"].(string)
	actorID, _ := existing.Payload["actor_id"].(string)
	role, _ := existing.Payload["role"].(string)

	if err := p.store.Delete(ctx, memoryID); err != nil {
		return memory.ActionRecord{}, fmt.Errorf("memscreen: ingest: delete: %w", err)
	}
	if err := p.history.Add(ctx, memoryID, prevValue, "", memory.EventDelete, actorID, role, true); err != nil {
		return memory.ActionRecord{}, fmt.Errorf("memscreen: ingest: history delete: %w", err)
	}

	return memory.ActionRecord{ID: memoryID, Memory: prevValue, Event: memory.ActionDelete, PreviousMemory: prevValue}, nil
}

const proceduralSummaryPrompt = `Summarize the preceding conversation as a reusable procedure: the sequence of
steps taken to accomplish the task, written so it can be followed again without the original context.`

func (p *Pipeline) addProcedural(ctx context.Context, req Request) ([]memory.ActionRecord, error) {
	messages := make([]llm.Message, 0, len(req.Messages)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: proceduralSummaryPrompt})
	for _, m := range req.Messages {
		messages = append(messages, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}

	summary, err := p.llmClient.Generate(ctx, messages, llm.Options{UseCase: llm.UseCaseSummary})
	if err != nil {
		return nil, fmt.Errorf("memscreen: ingest: procedural summary: %w", err)
	}

	metadata := clonePayload(req.Metadata)
	metadata["memory_type"] = "procedural"

	record, err := p.createMemory(ctx, summary, req.Scope, metadata, "", "")
	if err != nil {
		return nil, err
	}
	p.invalidateRetrievalCache()
	return []memory.ActionRecord{record}, nil
}

func (p *Pipeline) invalidateRetrievalCache() {
	if p.retriever != nil {
		p.retriever.InvalidateCache()
	}
}

func clonePayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+4)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func newMemoryID() string {
	return uuid.NewString()
}
