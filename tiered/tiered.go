// Package tiered implements C7: the working/short_term/long_term tier
// state machine, promotion on retrieval, and the periodic decay sweep
// that demotes, compresses, or leaves memories alone.
package tiered

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/smileformylove/memscreen/embedding"
	"github.com/smileformylove/memscreen/llm"
	"github.com/smileformylove/memscreen/memory"
	"github.com/smileformylove/memscreen/scoring"
	"github.com/smileformylove/memscreen/vectorstore"
)

// Config tunes the decay sweep's thresholds and feature gates.
type Config struct {
	// WorkingEnabled gates whether any memory may ever occupy the
	// working tier; when false, working assignments are demoted to
	// short_term immediately.
	WorkingEnabled bool
	// WorkingTTL is the age past which a working-tier memory demotes to
	// short_term. Default 1h.
	WorkingTTL time.Duration
	// ShortTermTTL is the age past which a short_term memory with low
	// access is demoted (or compressed) to long_term. Default 7 days.
	ShortTermTTL time.Duration
	// ShortTermAccessFloor is the access_count below which a stale
	// short_term memory is eligible for demotion/compression. Default 2.
	ShortTermAccessFloor int
	// PromoteAccessThreshold is the access_count at or above which a
	// short_term memory promotes to working. Default 3.
	PromoteAccessThreshold int
	// AutoCompress enables LLM summarization during decay instead of a
	// bare tier demotion.
	AutoCompress bool
	// SweepSpec is the cron expression driving the periodic sweep.
	// Default "@daily".
	SweepSpec string
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.WorkingTTL <= 0 {
		out.WorkingTTL = time.Hour
	}
	if out.ShortTermTTL <= 0 {
		out.ShortTermTTL = 7 * 24 * time.Hour
	}
	if out.ShortTermAccessFloor <= 0 {
		out.ShortTermAccessFloor = 2
	}
	if out.PromoteAccessThreshold <= 0 {
		out.PromoteAccessThreshold = 3
	}
	if out.SweepSpec == "" {
		out.SweepSpec = "@daily"
	}
	return out
}

type state struct {
	tier         memory.Tier
	accessCount  int
	lastAccessed time.Time
	createdAt    time.Time
}

// Manager is the C7 contract: tracks per-memory tier/access_count/
// last_accessed, authoritative state lives in each memory's payload, the
// in-memory maps here are a cache populated by Warm at startup.
type Manager struct {
	cfg     Config
	store   vectorstore.MemoryStore
	embed   *embedding.Client
	llm     *llm.Client
	scorer  *scoring.Scorer

	mu     sync.Mutex
	states map[string]*state

	cron *cron.Cron
	now  func() time.Time
}

// New constructs a Manager. store is the vector collection whose payloads
// carry tier/access_count/last_accessed; embed and llmClient back
// compression (llmClient may be nil when AutoCompress is false).
func New(store vectorstore.MemoryStore, embed *embedding.Client, llmClient *llm.Client, scorer *scoring.Scorer, cfg Config) *Manager {
	if scorer == nil {
		scorer = scoring.NewScorer(nil)
	}
	return &Manager{
		cfg:    cfg.withDefaults(),
		store:  store,
		embed:  embed,
		llm:    llmClient,
		scorer: scorer,
		states: make(map[string]*state),
		now:    time.Now,
	}
}

// Warm populates the in-memory maps by scanning every point currently in
// the store, resolving the cold-start problem (Open Question): restart
// never loses tier state because the payload is authoritative and this
// scan rebuilds the cache from it.
func (m *Manager) Warm(ctx context.Context) error {
	points, err := m.store.List(ctx, nil, 0)
	if err != nil {
		return fmt.Errorf("memscreen: tiered: warm: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		m.states[p.ID] = stateFromPayload(p.Payload)
	}
	return nil
}

func stateFromPayload(payload map[string]any) *state {
	s := &state{tier: memory.TierLongTerm}
	if payload == nil {
		return s
	}
	if v, ok := payload["tier"].(string); ok && v != "" {
		s.tier = memory.Tier(v)
	}
	if v, ok := payload["access_count"].(float64); ok {
		s.accessCount = int(v)
	}
	if v, ok := payload["last_accessed"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			s.lastAccessed = t
		}
	}
	if v, ok := payload["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			s.createdAt = t
		}
	}
	return s
}

// InitialTier computes the tier a brand-new memory should start in, per
// §4.7: score at access_count=0, now=createdAt, demoting any working
// assignment to short_term when the working tier is disabled.
func (m *Manager) InitialTier(content string, metadata map[string]any, createdAt time.Time) memory.Tier {
	score := m.scorer.Score(scoring.Input{Content: content, Metadata: metadata, AccessCount: 0, CreatedAt: createdAt})
	tier := scoring.Tier(score)
	if tier == memory.TierWorking && !m.cfg.WorkingEnabled {
		return memory.TierShortTerm
	}
	return tier
}

// Track registers a freshly-added memory's initial state in the cache so
// subsequent promotions/decay see it without a re-scan.
func (m *Manager) Track(id string, tier memory.Tier, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = &state{tier: tier, createdAt: createdAt, lastAccessed: createdAt}
}

// Promote applies the §4.7 promotion rules to every id in a retrieval hit
// set: bump access_count/last_accessed, and move long_term→short_term or
// (when eligible) short_term→working.
func (m *Manager) Promote(ctx context.Context, ids []string) error {
	now := m.now()
	for _, id := range ids {
		if err := m.promoteOne(ctx, id, now); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) promoteOne(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	s, ok := m.states[id]
	if !ok {
		s = &state{tier: memory.TierLongTerm}
		m.states[id] = s
	}
	s.accessCount++
	s.lastAccessed = now

	newTier := s.tier
	switch {
	case s.tier == memory.TierLongTerm:
		newTier = memory.TierShortTerm
	case s.tier == memory.TierShortTerm && m.cfg.WorkingEnabled && s.accessCount >= m.cfg.PromoteAccessThreshold:
		newTier = memory.TierWorking
	}
	moved := newTier != s.tier
	s.tier = newTier
	m.mu.Unlock()

	if !moved {
		return nil
	}
	return m.store.Update(ctx, id, nil, map[string]any{"tier": string(newTier)})
}

// Sweep runs one decay pass over every tracked memory, per §4.7's decay
// rules. It does not require a store scan: the in-memory map, kept
// current by Warm/Track/Promote, is authoritative for the sweep itself.
func (m *Manager) Sweep(ctx context.Context) error {
	now := m.now()

	m.mu.Lock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.sweepOne(ctx, id, now); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) sweepOne(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	s, ok := m.states[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	tier := s.tier
	createdAt := s.createdAt
	accessCount := s.accessCount
	m.mu.Unlock()

	age := now.Sub(createdAt)

	switch {
	case tier == memory.TierWorking && age > m.cfg.WorkingTTL:
		m.mu.Lock()
		s.tier = memory.TierShortTerm
		m.mu.Unlock()
		return m.store.Update(ctx, id, nil, map[string]any{"tier": string(memory.TierShortTerm)})

	case tier == memory.TierShortTerm && age > m.cfg.ShortTermTTL && accessCount < m.cfg.ShortTermAccessFloor:
		if m.cfg.AutoCompress && m.llm != nil && m.embed != nil {
			return m.compress(ctx, id)
		}
		m.mu.Lock()
		s.tier = memory.TierLongTerm
		m.mu.Unlock()
		return m.store.Update(ctx, id, nil, map[string]any{"tier": string(memory.TierLongTerm)})
	}

	return nil
}

// compress summarizes a memory's content, re-embeds the summary, and
// writes the compressed state back, always implying tier=long_term.
func (m *Manager) compress(ctx context.Context, id string) error {
	point, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	content, _ := point.Payload["data"].(string)
	if content == "" {
		return nil
	}

	summary, err := m.llm.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "Summarize the following memory into a shorter statement that preserves every important fact."},
		{Role: llm.RoleUser, Content: content},
	}, llm.Options{UseCase: llm.UseCaseSummary})
	if err != nil {
		return fmt.Errorf("memscreen: tiered: compress summarize: %w", err)
	}

	vector, err := m.embed.Embed(ctx, summary, embedding.ActionAdd)
	if err != nil {
		return fmt.Errorf("memscreen: tiered: compress embed: %w", err)
	}

	payload := point.Payload
	payload["data"] = summary
	payload["compressed"] = true
	payload["original_length"] = len(content)
	payload["compressed_at"] = m.now().Format(time.RFC3339)
	payload["tier"] = string(memory.TierLongTerm)

	m.mu.Lock()
	if s, ok := m.states[id]; ok {
		s.tier = memory.TierLongTerm
	}
	m.mu.Unlock()

	return m.store.Update(ctx, id, vector, payload)
}

// StartSweeping registers the decay sweep on a cron schedule and starts
// it; the returned stop function halts the scheduler and blocks until any
// in-flight sweep finishes.
func (m *Manager) StartSweeping(ctx context.Context) (stop func(), err error) {
	m.cron = cron.New()
	_, err = m.cron.AddFunc(m.cfg.SweepSpec, func() {
		_ = m.Sweep(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("memscreen: tiered: schedule sweep: %w", err)
	}
	m.cron.Start()
	return func() {
		<-m.cron.Stop().Done()
	}, nil
}
