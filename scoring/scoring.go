// Package scoring computes the deterministic importance score (C5) that
// drives tier assignment across the tiered manager.
package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/smileformylove/memscreen/memory"
)

// Config is the weight table and tuning knobs for Score. The zero value is
// not usable; use NewConfig for the documented defaults.
type Config struct {
	CategoryWeights map[memory.Category]float64
	RecencyHalfLife time.Duration
	AccessLogBase   float64
	EnableUserMarks bool
}

// NewConfig returns the default configuration, matching the weight table
// the scorer was originally tuned against.
func NewConfig() *Config {
	return &Config{
		CategoryWeights: map[memory.Category]float64{
			memory.CategoryFact:         0.9,
			memory.CategoryProcedure:    0.85,
			memory.CategoryCode:         0.8,
			memory.CategoryTask:         0.75,
			memory.CategoryConcept:      0.7,
			memory.CategoryDocument:     0.65,
			memory.CategoryQuestion:     0.6,
			memory.CategoryConversation: 0.4,
			memory.CategoryGreeting:     0.2,
			memory.CategoryGeneral:      0.5,
			memory.CategoryImage:        0.6,
			memory.CategoryVideo:        0.6,
		},
		RecencyHalfLife: 30 * 24 * time.Hour,
		AccessLogBase:   5.0,
		EnableUserMarks: true,
	}
}

// Scorer implements the §4.5 formula. It is deterministic: the same inputs
// always yield the same output, with "now" supplied via the Clock field
// rather than read from the wall clock, so tests can mock it.
type Scorer struct {
	cfg   *Config
	Clock func() time.Time
}

// NewScorer constructs a Scorer. A nil config uses NewConfig's defaults.
func NewScorer(cfg *Config) *Scorer {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &Scorer{cfg: cfg, Clock: time.Now}
}

// Input bundles the four arguments the §4.5 contract takes.
type Input struct {
	Content     string
	Metadata    map[string]any
	AccessCount int
	CreatedAt   time.Time
}

// Score computes the weighted combination described in §4.5 and clamps the
// result to [0, 1] (P7).
func (s *Scorer) Score(in Input) float64 {
	categoryScore := 0.3 * s.categoryWeight(in.Metadata)
	accessScore := 0.3 * s.accessScore(in.AccessCount)
	recencyScore := 0.2 * s.recencyScore(in.CreatedAt)
	userMarkScore := 0.1 * s.userMarkScore(in.Metadata)
	richnessScore := 0.1 * s.richness(in.Content, in.Metadata)

	total := categoryScore + accessScore + recencyScore + userMarkScore + richnessScore
	return clamp01(total)
}

// Tier maps a score to its tier, per §4.5's boundaries.
func Tier(score float64) memory.Tier {
	switch {
	case score >= 0.7:
		return memory.TierWorking
	case score >= 0.4:
		return memory.TierShortTerm
	default:
		return memory.TierLongTerm
	}
}

func (s *Scorer) categoryWeight(metadata map[string]any) float64 {
	cat := memory.CategoryGeneral
	if metadata != nil {
		if v := cast.ToString(metadata["category"]); v != "" {
			cat = memory.Category(strings.ToLower(v))
		}
	}
	if w, ok := s.cfg.CategoryWeights[cat]; ok {
		return w
	}
	if w, ok := s.cfg.CategoryWeights[memory.CategoryGeneral]; ok {
		return w
	}
	return 0.5
}

func (s *Scorer) accessScore(accessCount int) float64 {
	if accessCount <= 0 {
		return 0
	}
	score := math.Log(float64(accessCount)+1) / math.Log(s.cfg.AccessLogBase)
	return math.Min(1, score)
}

func (s *Scorer) recencyScore(createdAt time.Time) float64 {
	if createdAt.IsZero() {
		return 0.5
	}
	now := s.Clock()
	daysAgo := now.Sub(createdAt).Hours() / 24
	if daysAgo < 0 {
		daysAgo = 0
	}
	halfLifeDays := s.cfg.RecencyHalfLife.Hours() / 24
	return math.Exp(-daysAgo / halfLifeDays)
}

func (s *Scorer) userMarkScore(metadata map[string]any) float64 {
	if !s.cfg.EnableUserMarks {
		return 0
	}
	if flag(metadata, "important") || flag(metadata, "starred") || flag(metadata, "pinned") {
		return 1
	}
	return 0
}

var structuredFields = []string{"entities", "frame_details", "ocr_text", "code", "data", "json", "structured"}

func (s *Scorer) richness(content string, metadata map[string]any) float64 {
	var score float64

	length := len(content)
	switch {
	case length >= 100 && length <= 500:
		score += 0.5
	case length > 500:
		score += 0.3
	case length > 50:
		score += 0.2
	}

	if containsStructuredField(metadata) {
		score += 0.3
	}

	if entities, ok := metadata["entities"].([]any); ok {
		switch {
		case len(entities) > 3:
			score += 0.2
		case len(entities) > 0:
			score += 0.1
		}
	}

	return math.Min(1, score)
}

func containsStructuredField(metadata map[string]any) bool {
	if metadata == nil {
		return false
	}
	for _, field := range structuredFields {
		if _, ok := metadata[field]; ok {
			return true
		}
	}
	return false
}

// flag reads a user-mark metadata value as a bool. Callers populate
// metadata from JSON, so "true"/1/"1" need to count alongside an actual
// bool; cast.ToBool covers that without us hand-rolling the coercion table.
func flag(metadata map[string]any, key string) bool {
	if metadata == nil {
		return false
	}
	v, ok := metadata[key]
	if !ok {
		return false
	}
	return cast.ToBool(v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
