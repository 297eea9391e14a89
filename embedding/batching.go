package embedding

import (
	"github.com/pkoukk/tiktoken-go"
)

// defaultEncoding matches what OpenAI's embedding models were trained
// against; it's also a reasonable token-count proxy for other backends since
// we only use it to keep batches under a request-size budget, not to drive
// billing.
const defaultEncoding = "cl100k_base"

// batchingStrategy splits a slice of texts into sub-batches that respect
// both a maximum combined token count and a maximum item count per batch, so
// EmbedBatch never hands a backend more than it was configured to accept in
// one call.
type batchingStrategy struct {
	enc           *tiktoken.Tiktoken
	maxTokens     int
	maxBatchItems int
}

func newBatchingStrategy(maxTokens, maxBatchItems int) *batchingStrategy {
	enc, _ := tiktoken.GetEncoding(defaultEncoding)
	return &batchingStrategy{enc: enc, maxTokens: maxTokens, maxBatchItems: maxBatchItems}
}

// tokenCount estimates the token count of text. If the encoder failed to
// load (e.g. offline with no cached vocab), it falls back to a conservative
// chars/4 estimate rather than refusing to batch at all.
func (b *batchingStrategy) tokenCount(text string) int {
	if b.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(b.enc.Encode(text, nil, nil))
}

// split groups texts into batches of contiguous indices, each under
// maxTokens combined and maxBatchItems long. A single text that alone
// exceeds maxTokens still gets its own one-item batch rather than being
// dropped or erroring here; EmbedBatch's caller can rely on the backend to
// reject it if it's genuinely too long.
func (b *batchingStrategy) split(texts []string) [][]int {
	var batches [][]int
	var current []int
	tokens := 0

	for i, text := range texts {
		t := b.tokenCount(text)
		if len(current) > 0 && (tokens+t > b.maxTokens || len(current) >= b.maxBatchItems) {
			batches = append(batches, current)
			current = nil
			tokens = 0
		}
		current = append(current, i)
		tokens += t
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
