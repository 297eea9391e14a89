// Package retrieval implements C8: the hybrid text/vision retriever,
// reciprocal-rank fusion across both modalities, and the LRU result
// cache invalidated by ingestion writes.
package retrieval

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/smileformylove/memscreen/cache"
	"github.com/smileformylove/memscreen/embedding"
	"github.com/smileformylove/memscreen/vectorstore"
)

// ErrNoQuery is returned when neither a text query nor an image path is
// supplied.
var ErrNoQuery = errors.New("memscreen: retrieval: at least one of text_query or image_path is required")

// VisionEncoder turns a query image into a vector comparable against the
// vision collection. This is the "out of scope" vision encoder C8's
// pipeline invokes (§4.8 step 2).
type VisionEncoder interface {
	EncodeImage(ctx context.Context, path string) ([]float32, error)
}

// Hit is one fused retrieval result.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// visualExpansions is the fixed lexicon step 1 of the pipeline rewrites
// bare UI nouns through, grounded on the original retriever's expansion
// table.
var visualExpansions = map[string][]string{
	"button": {"UI element", "clickable", "interface"},
	"text":   {"content", "words", "characters", "document"},
	"image":  {"picture", "visual", "graphic", "screenshot"},
	"window": {"pane", "panel", "interface", "dialog"},
	"file":   {"document", "item", "resource"},
	"screen": {"display", "interface", "view"},
	"error":  {"message", "dialog", "alert", "popup"},
	"menu":   {"list", "options", "dropdown"},
	"code":   {"programming", "script", "function", "class"},
}

// RewriteForVision expands bare UI nouns in query with visual synonyms,
// per §4.8 step 1.
func RewriteForVision(query string) string {
	words := strings.Fields(query)
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, w)
		if expansions, ok := visualExpansions[strings.ToLower(w)]; ok {
			out = append(out, expansions...)
		}
	}
	return strings.Join(out, " ")
}

// Config tunes the retriever's fusion and caching behavior.
type Config struct {
	// FusionWeight (α) weights the text side of reciprocal-rank fusion;
	// the vision side gets (1-α). Default 0.6.
	FusionWeight float64
	// RRFConstant (k) in 1/(k+rank). Default 60.
	RRFConstant          int
	EnableQueryRewriting bool
	CacheSize            int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.FusionWeight <= 0 {
		out.FusionWeight = 0.6
	}
	if out.RRFConstant <= 0 {
		out.RRFConstant = 60
	}
	if out.CacheSize <= 0 {
		out.CacheSize = 100
	}
	return out
}

// Retriever is the C8 contract.
type Retriever struct {
	cfg    Config
	embed  *embedding.Client
	vision VisionEncoder
	store  *vectorstore.MultimodalStore
	cache  *cache.Cache[string, []Hit]
}

// New constructs a Retriever. vision may be nil when the deployment never
// encodes query images; store.Vision may likewise be nil.
func New(embed *embedding.Client, vision VisionEncoder, store *vectorstore.MultimodalStore, cfg Config) *Retriever {
	resolved := cfg.withDefaults()
	return &Retriever{
		cfg:    resolved,
		embed:  embed,
		vision: vision,
		store:  store,
		cache:  cache.New[string, []Hit](resolved.CacheSize, 0),
	}
}

// Retrieve runs the full §4.8 pipeline: optional query rewrite, parallel
// text/vision embed+search, reciprocal-rank fusion, and an LRU cache over
// the whole operation.
func (r *Retriever) Retrieve(ctx context.Context, textQuery, imagePath string, filters map[string]string, limit int) ([]Hit, error) {
	if textQuery == "" && imagePath == "" {
		return nil, ErrNoQuery
	}
	if limit <= 0 {
		limit = 10
	}

	key := cacheKey(textQuery, imagePath, filters, limit)
	if hits, ok := r.cache.Get(key); ok {
		return hits, nil
	}

	query := textQuery
	if r.cfg.EnableQueryRewriting && query != "" {
		query = RewriteForVision(query)
	}

	perSide := 2 * limit
	var textHits, visionHits []vectorstore.Hit

	group, groupCtx := errgroup.WithContext(ctx)
	if query != "" {
		group.Go(func() error {
			vector, err := r.embed.Embed(groupCtx, query, embedding.ActionSearch)
			if err != nil {
				return nil // degrade to vision-only, per §4.8 failure semantics
			}
			hits, err := r.store.Text.Search(groupCtx, vector, perSide, filters)
			if err != nil {
				return nil
			}
			textHits = hits
			return nil
		})
	}
	if imagePath != "" && r.vision != nil && r.store.HasVision() {
		group.Go(func() error {
			vector, err := r.vision.EncodeImage(groupCtx, imagePath)
			if err != nil {
				return nil
			}
			hits, err := r.store.Vision.Search(groupCtx, vector, perSide, filters)
			if err != nil {
				return nil
			}
			visionHits = hits
			return nil
		})
	}
	_ = group.Wait() // both sides degrade to nil on failure, never an error

	if len(textHits) == 0 && len(visionHits) == 0 {
		return []Hit{}, nil
	}

	fused := fuse(textHits, visionHits, r.cfg.RRFConstant, r.cfg.FusionWeight, limit)
	r.cache.Set(key, fused)
	return fused, nil
}

// InvalidateCache clears the whole result cache; called on every ADD/
// UPDATE/DELETE the ingestion pipeline commits successfully (§4.8
// Caching: "the simplest acceptable implementation").
func (r *Retriever) InvalidateCache() {
	r.cache.Purge()
}

func fuse(textHits, visionHits []vectorstore.Hit, k int, alpha float64, limit int) []Hit {
	type acc struct {
		score   float64
		payload map[string]any
	}
	scores := make(map[string]*acc)

	for rank, h := range textHits {
		a, ok := scores[h.ID]
		if !ok {
			a = &acc{payload: h.Payload}
			scores[h.ID] = a
		}
		a.score += alpha * (1 / float64(k+rank+1))
	}
	for rank, h := range visionHits {
		a, ok := scores[h.ID]
		if !ok {
			a = &acc{payload: h.Payload}
			scores[h.ID] = a
		}
		a.score += (1 - alpha) * (1 / float64(k+rank+1))
	}

	out := make([]Hit, 0, len(scores))
	for id, a := range scores {
		out = append(out, Hit{ID: id, Score: a.score, Payload: a.payload})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cacheKey(textQuery, imagePath string, filters map[string]string, limit int) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(textQuery)
	sb.WriteByte('|')
	sb.WriteString(imagePath)
	sb.WriteByte('|')
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(filters[k])
		sb.WriteByte(';')
	}
	sb.WriteByte('|')
	fmt.Fprintf(&sb, "%d", limit)

	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
