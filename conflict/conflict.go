// Package conflict implements C6: three-level conflict detection between
// an incoming memory and the neighbors an ingestion probe turned up —
// hash equality, embedding-cosine similarity, and LLM adjudication — plus
// the resolution-action mapping each conflict type resolves to.
package conflict

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/smileformylove/memscreen/cache"
	"github.com/smileformylove/memscreen/llm"
	"github.com/smileformylove/memscreen/memory"
)

// Type is one of the five relationships detect() can find between a new
// memory and an existing one.
type Type string

const (
	TypeDuplicate     Type = "duplicate"
	TypeEquivalent    Type = "equivalent"
	TypeContradictory Type = "contradictory"
	TypeComplementary Type = "complementary"
	TypeUnrelated     Type = "unrelated"
)

// Action is the resolution strategy a Type maps to.
type Action string

const (
	ActionSkip         Action = "skip"
	ActionUpdate       Action = "update"
	ActionMerge        Action = "merge"
	ActionKeepBoth     Action = "keep_both"
	ActionMarkConflict Action = "mark_conflict"
)

// Candidate is one existing memory considered as a possible conflict
// against an incoming one.
type Candidate struct {
	ID        string
	Data      string
	Embedding []float32
	Hash      string
}

// Conflict is one detected relationship, ready for Resolve.
type Conflict struct {
	MemoryID       string
	Type           Type
	Confidence     float64
	Suggestion     Action
	ExistingMemory Candidate
}

// Resolution is the outcome of resolving a Conflict.
type Resolution struct {
	Action          Action
	Reason          string
	MemoryID        string
	IncrementAccess bool
	MergedContent   string
	ConflictMeta    *memory.Conflict
}

// Config configures a Resolver.
type Config struct {
	SimilarityThreshold float64
	EnableLLMCheck      bool
	LLMCacheSize        int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.SimilarityThreshold <= 0 {
		out.SimilarityThreshold = 0.95
	}
	if out.LLMCacheSize <= 0 {
		out.LLMCacheSize = 1000
	}
	return out
}

// Resolver is the C6 contract.
type Resolver struct {
	cfg   Config
	llm   *llm.Client
	cache *cache.Cache[string, llmVerdict]
	now   func() time.Time
}

type llmVerdict struct {
	Type       Type
	Confidence float64
	Reasoning  string
	Suggestion Action
}

// New constructs a Resolver. llmClient may be nil only when
// cfg.EnableLLMCheck is false.
func New(llmClient *llm.Client, cfg Config) *Resolver {
	resolved := cfg.withDefaults()
	return &Resolver{
		cfg:   resolved,
		llm:   llmClient,
		cache: cache.New[string, llmVerdict](resolved.LLMCacheSize, 0),
		now:   time.Now,
	}
}

// Detect compares newMemory (and its already-computed embedding) against
// each candidate and returns every conflict found, per the three-level
// scheme in §4.6.
func (r *Resolver) Detect(ctx context.Context, newMemory string, newEmbedding []float32, candidates []Candidate) ([]Conflict, error) {
	newHash := memory.Digest(newMemory)

	var conflicts []Conflict
	for _, cand := range candidates {
		if cand.Hash != "" && cand.Hash == newHash {
			conflicts = append(conflicts, Conflict{
				MemoryID:       cand.ID,
				Type:           TypeDuplicate,
				Confidence:     1.0,
				Suggestion:     ActionSkip,
				ExistingMemory: cand,
			})
			continue
		}

		if len(cand.Embedding) == 0 {
			continue
		}
		similarity := cosineSimilarity(newEmbedding, cand.Embedding)
		if similarity < r.cfg.SimilarityThreshold {
			continue
		}

		var verdict llmVerdict
		if r.cfg.EnableLLMCheck && r.llm != nil {
			v, err := r.llmConflictCheck(ctx, newMemory, cand.Data)
			if err != nil {
				return nil, err
			}
			verdict = v
		} else {
			verdict = llmVerdict{Type: TypeEquivalent, Confidence: similarity, Suggestion: ActionSkip}
		}

		conflicts = append(conflicts, Conflict{
			MemoryID:       cand.ID,
			Type:           verdict.Type,
			Confidence:     verdict.Confidence,
			Suggestion:     verdict.Suggestion,
			ExistingMemory: cand,
		})
	}

	return conflicts, nil
}

// Resolve maps a detected Conflict to the concrete action the ingestion
// planner should apply, per the exact table in §4.6.
func (r *Resolver) Resolve(ctx context.Context, c Conflict, newMemory string) (Resolution, error) {
	switch c.Type {
	case TypeDuplicate:
		return Resolution{
			Action:   ActionSkip,
			Reason:   "exact duplicate content detected",
			MemoryID: c.MemoryID,
		}, nil

	case TypeEquivalent:
		return Resolution{
			Action:          ActionSkip,
			Reason:          "semantically equivalent memory exists",
			MemoryID:        c.MemoryID,
			IncrementAccess: true,
		}, nil

	case TypeContradictory:
		preview := newMemory
		if len(preview) > 100 {
			preview = preview[:100]
		}
		return Resolution{
			Action:   ActionMarkConflict,
			Reason:   "contradictory information detected",
			MemoryID: c.MemoryID,
			ConflictMeta: &memory.Conflict{
				Type:               "contradiction",
				DetectedAt:         r.now(),
				ConflictingPreview: preview,
			},
		}, nil

	case TypeComplementary:
		merged, err := r.mergeMemories(ctx, newMemory, c.ExistingMemory.Data)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{
			Action:        ActionMerge,
			Reason:        "complementary information, merging",
			MemoryID:      c.MemoryID,
			MergedContent: merged,
		}, nil

	default: // unrelated
		return Resolution{
			Action:   ActionKeepBoth,
			Reason:   "unrelated content",
			MemoryID: c.MemoryID,
		}, nil
	}
}

func (r *Resolver) llmConflictCheck(ctx context.Context, newMemory, existingMemory string) (llmVerdict, error) {
	key := fmt.Sprintf("%s:%s", memory.Digest(newMemory), memory.Digest(existingMemory))
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}

	prompt := fmt.Sprintf(`Analyze the relationship between these two statements:

Statement A: %s
Statement B: %s

Determine if they are:
1. DUPLICATE: Identical or nearly identical
2. EQUIVALENT: Same meaning, different wording
3. CONTRADICTORY: Directly conflict (A says X, B says not-X)
4. COMPLEMENTARY: Can be combined (add more detail)
5. UNRELATED: No relationship

Respond in JSON format:
{
  "type": "DUPLICATE|EQUIVALENT|CONTRADICTORY|COMPLEMENTARY|UNRELATED",
  "confidence": 0.0-1.0,
  "reasoning": "brief explanation",
  "suggestion": "skip|update|merge|keep_both"
}`, newMemory, existingMemory)

	var raw struct {
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
		Suggestion string  `json:"suggestion"`
	}
	err := r.llm.GenerateJSON(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, llm.Options{
		UseCase:         llm.UseCaseMemory,
		MaxOutputTokens: 128,
		Temperature:     0.1,
	}, &raw)
	if err != nil {
		verdict := llmVerdict{Type: TypeUnrelated, Confidence: 0, Suggestion: ActionKeepBoth}
		return verdict, nil
	}

	verdict := llmVerdict{
		Type:       normalizeType(raw.Type),
		Confidence: raw.Confidence,
		Reasoning:  raw.Reasoning,
		Suggestion: Action(strings.ToLower(raw.Suggestion)),
	}
	r.cache.Set(key, verdict)
	return verdict, nil
}

func normalizeType(s string) Type {
	switch Type(strings.ToLower(s)) {
	case TypeDuplicate, TypeEquivalent, TypeContradictory, TypeComplementary:
		return Type(strings.ToLower(s))
	default:
		return TypeUnrelated
	}
}

func (r *Resolver) mergeMemories(ctx context.Context, mem1, mem2 string) (string, error) {
	prompt := fmt.Sprintf(`Merge these two related statements into one comprehensive statement:

Statement 1: %s
Statement 2: %s

Provide a merged statement that combines all key information from both.
Keep it concise but complete.`, mem1, mem2)

	merged, err := r.llm.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, llm.Options{
		UseCase:         llm.UseCaseMemory,
		MaxOutputTokens: 256,
		Temperature:     0.3,
	})
	if err != nil {
		return mem1 + " " + mem2, nil
	}
	return strings.TrimSpace(merged), nil
}

// ClearCache empties the LLM-verdict cache.
func (r *Resolver) ClearCache() {
	r.cache.Purge()
}

// CacheStats reports the LLM-verdict cache's current occupancy.
func (r *Resolver) CacheStats() cache.Stats {
	return r.cache.Stats()
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
