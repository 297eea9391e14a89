// Package router implements C10: the rule-based input classifier, the
// category/intent dispatch table, background best-effort storage via the
// ingestion pipeline, the response cache, and the complexity-driven
// model-tier router for the LLM-generating handlers.
package router

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/smileformylove/memscreen/cache"
	"github.com/smileformylove/memscreen/ingest"
	"github.com/smileformylove/memscreen/llm"
	"github.com/smileformylove/memscreen/retrieval"
)

// Category is the classifier's top-level bucket for an input.
type Category string

const (
	CategoryQuestion  Category = "question"
	CategoryTask      Category = "task"
	CategoryCode      Category = "code"
	CategoryProcedure Category = "procedure"
	CategoryGreeting  Category = "greeting"
	CategoryGeneral   Category = "general"
)

// Intent further qualifies a question-category input.
type Intent string

const (
	IntentRetrieveFact      Intent = "retrieve_fact"
	IntentFindProcedure     Intent = "find_procedure"
	IntentSearchConversation Intent = "search_conversation"
	IntentExecuteTask       Intent = "execute_task"
	IntentNone              Intent = ""
)

// Classification is one classifier verdict.
type Classification struct {
	Category   Category
	Intent     Intent
	Confidence float64
}

// rule is one ordered regex pattern the classifier tests, highest priority
// (lowest index) first.
type rule struct {
	pattern    *regexp.Regexp
	category   Category
	intent     Intent
	confidence float64
}

// classifierRules is the fixed, priority-ordered pattern table. Greetings
// and code fences are checked before the more general question/task
// patterns, matching the original's "most specific rule wins" ordering.
var classifierRules = []rule{
	{regexp.MustCompile(`(?i)^(hi|hello|hey|good morning|good evening)\b`), CategoryGreeting, IntentNone, 0.95},
	{regexp.MustCompile("```"), CategoryCode, IntentNone, 0.9},
	{regexp.MustCompile(`(?i)\b(func|def|class|import|package)\b.*[{(:]`), CategoryCode, IntentNone, 0.75},
	{regexp.MustCompile(`(?i)\b(how (do|did) i|steps? to|procedure for)\b`), CategoryQuestion, IntentFindProcedure, 0.85},
	{regexp.MustCompile(`(?i)\b(what|when|where|who|why|which)\b.*\?`), CategoryQuestion, IntentRetrieveFact, 0.8},
	{regexp.MustCompile(`(?i)\bdid (i|we) (say|mention|talk about|discuss)\b`), CategoryQuestion, IntentSearchConversation, 0.8},
	{regexp.MustCompile(`(?i)\b(remind|remember|add|save|note) (me|this|that)\b`), CategoryTask, IntentExecuteTask, 0.75},
	{regexp.MustCompile(`^\s*\?`), CategoryQuestion, IntentRetrieveFact, 0.5},
}

// Classify applies classifierRules in order and returns the first match, or
// CategoryGeneral when nothing matches.
func Classify(input string) Classification {
	trimmed := strings.TrimSpace(input)
	for _, r := range classifierRules {
		if r.pattern.MatchString(trimmed) {
			return Classification{Category: r.category, Intent: r.intent, Confidence: r.confidence}
		}
	}
	return Classification{Category: CategoryGeneral, Intent: IntentNone, Confidence: 0.3}
}

// Handler produces the final response text for one classified input.
type Handler func(ctx context.Context, input string, c Classification) (string, error)

// Config tunes the classification and response cache sizes. The scope an
// input's background storage and retrieval dispatch run under is passed to
// New separately.
type Config struct {
	ClassificationCacheSize int // default 50
	ResponseCacheSize       int // default 100
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ClassificationCacheSize <= 0 {
		out.ClassificationCacheSize = 50
	}
	if out.ResponseCacheSize <= 0 {
		out.ResponseCacheSize = 100
	}
	return out
}

// Router is the C10 contract.
type Router struct {
	cfg                Config
	retriever          *retrieval.Retriever
	ingest             *ingest.Pipeline
	llmClient          *llm.Client
	modelRouter        *ModelTierRouter
	classificationCache *cache.Cache[string, Classification]
	responseCache      *cache.Cache[string, string]
	codeHandler        Handler
	greetingResponse   string
	scope              ingest.Scope
}

// New constructs a Router. codeHandler may be nil, in which case the code
// category falls back to the generic retrieval dispatch.
func New(retriever *retrieval.Retriever, ingestPipeline *ingest.Pipeline, llmClient *llm.Client, modelRouter *ModelTierRouter, scope ingest.Scope, codeHandler Handler, cfg Config) *Router {
	resolved := cfg.withDefaults()
	return &Router{
		cfg:                 resolved,
		retriever:           retriever,
		ingest:              ingestPipeline,
		llmClient:           llmClient,
		modelRouter:         modelRouter,
		classificationCache: cache.New[string, Classification](resolved.ClassificationCacheSize, 0),
		responseCache:       cache.New[string, string](resolved.ResponseCacheSize, 0),
		codeHandler:         codeHandler,
		greetingResponse:    "Hello! How can I help?",
		scope:               scope,
	}
}

// Route classifies input, dispatches to the matching handler, fires
// best-effort background storage, and caches the formatted response.
func (r *Router) Route(ctx context.Context, input string) (string, error) {
	respKey := digest(input)
	if cached, ok := r.responseCache.Get(respKey); ok {
		return cached, nil
	}

	classification := r.classify(input)

	go r.storeInBackground(input, classification)

	response, err := r.dispatch(ctx, input, classification)
	if err != nil {
		return "", err
	}

	r.responseCache.Set(respKey, response)
	return response, nil
}

func (r *Router) classify(input string) Classification {
	key := digest(input)
	if c, ok := r.classificationCache.Get(key); ok {
		return c
	}
	c := Classify(input)
	r.classificationCache.Set(key, c)
	return c
}

// storeInBackground hands every classified input to the ingestion pipeline
// regardless of dispatch outcome; failures are swallowed, per §4.10
// "failures logged" and never surfaced to the caller whose response must
// not be delayed by storage.
func (r *Router) storeInBackground(input string, c Classification) {
	if r.ingest == nil {
		return
	}
	category := "conversation"
	if c.Category == CategoryTask {
		category = "task"
	}
	_, _ = r.ingest.Add(context.Background(), ingest.Request{
		Messages: []ingest.Message{{Role: ingest.RoleUser, Content: input}},
		Scope:    r.scope,
		Metadata: map[string]any{"category": category},
		Infer:    false,
	})
}

// dispatch applies the highest-priority matching rule out of §4.10's
// dispatch table.
func (r *Router) dispatch(ctx context.Context, input string, c Classification) (string, error) {
	switch {
	case c.Category == CategoryGreeting:
		return r.greetingResponse, nil

	case c.Category == CategoryQuestion && c.Intent == IntentRetrieveFact:
		return r.retrieveAndFormat(ctx, input, nil)

	case c.Category == CategoryQuestion && c.Intent == IntentFindProcedure:
		return r.retrieveAndFormat(ctx, input, map[string]string{"category": "procedure"})

	case c.Category == CategoryTask:
		return r.executeTask(ctx, input)

	case c.Category == CategoryCode && r.codeHandler != nil:
		return r.codeHandler(ctx, input, c)

	default:
		return r.retrieveAndFormat(ctx, input, nil)
	}
}

func (r *Router) retrieveAndFormat(ctx context.Context, input string, filters map[string]string) (string, error) {
	if r.retriever == nil {
		return "", nil
	}
	hits, err := r.retriever.Retrieve(ctx, input, "", filters, 5)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "I don't have anything relevant stored yet.", nil
	}
	var sb strings.Builder
	for i, h := range hits {
		if data, ok := h.Payload["data"].(string); ok {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(data)
		}
	}
	return sb.String(), nil
}

func (r *Router) executeTask(ctx context.Context, input string) (string, error) {
	if r.ingest != nil {
		_, err := r.ingest.Add(ctx, ingest.Request{
			Messages: []ingest.Message{{Role: ingest.RoleUser, Content: input}},
			Scope:    r.scope,
			Metadata: map[string]any{"category": "task"},
			Infer:    true,
		})
		if err != nil {
			return "", err
		}
	}
	return "Noted.", nil
}

func digest(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// --- Model-tier routing -----------------------------------------------

// Tier is the complexity-driven quality class a generating handler picks a
// model from.
type Tier string

const (
	TierTiny   Tier = "tiny"
	TierSmall  Tier = "small"
	TierMedium Tier = "medium"
	TierLarge  Tier = "large"
)

// ModelCandidate is one available model entry under a tier, scored by
// quality so the router picks the best one currently available rather than
// an arbitrary member of the tier (E4 "model-tier quality scoring").
type ModelCandidate struct {
	Name      string
	Quality   float64
	Available bool
}

// ModelTierRouter picks the highest-quality available model within a
// complexity-derived tier.
type ModelTierRouter struct {
	tiers map[Tier][]ModelCandidate
}

// NewModelTierRouter constructs a ModelTierRouter from a tier→candidates
// table (typically populated from deployment configuration).
func NewModelTierRouter(tiers map[Tier][]ModelCandidate) *ModelTierRouter {
	return &ModelTierRouter{tiers: tiers}
}

// PickModel returns the highest-quality available model registered under
// tier, or "" if none are available.
func (m *ModelTierRouter) PickModel(tier Tier) string {
	candidates := append([]ModelCandidate{}, m.tiers[tier]...)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Quality > candidates[j].Quality })
	for _, c := range candidates {
		if c.Available {
			return c.Name
		}
	}
	return ""
}

// complexityPatterns are the original's reasoning/explanation cue
// phrases, bilingual per the original source, that push an input toward a
// higher complexity tier.
var complexityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(因为|why|because)`),
	regexp.MustCompile(`(?i)(比较|compare|versus|vs\.?)`),
	regexp.MustCompile(`(?i)(步骤|step[-\s]?by[-\s]?step|procedure)`),
	regexp.MustCompile(`(?i)(analyze|explain in detail|reasoning)`),
}

// ComplexityScore scores input 0–1 using length, question-mark density,
// and the presence of reasoning/comparison cue patterns (E4's "complexity
// analyzer").
func ComplexityScore(input string) float64 {
	score := 0.0

	length := len(strings.TrimSpace(input))
	switch {
	case length > 400:
		score += 0.4
	case length > 150:
		score += 0.25
	case length > 50:
		score += 0.1
	}

	questionMarks := strings.Count(input, "?")
	if questionMarks > 3 {
		questionMarks = 3
	}
	score += 0.1 * float64(questionMarks)

	for _, p := range complexityPatterns {
		if p.MatchString(input) {
			score += 0.2
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

// TierForScore maps a ComplexityScore into one of the four model tiers.
func TierForScore(score float64) Tier {
	switch {
	case score >= 0.75:
		return TierLarge
	case score >= 0.5:
		return TierMedium
	case score >= 0.25:
		return TierSmall
	default:
		return TierTiny
	}
}
