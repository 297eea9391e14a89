package ingest

import "context"

// NoopGraphExtractor is the default GraphExtractor: the graph fan-out is
// disabled unless a deployment wires a real implementation (§4.9 stage 9's
// "disabled by default").
type NoopGraphExtractor struct{}

func (NoopGraphExtractor) Extract(ctx context.Context, messages []Message, scope Scope) (Relations, error) {
	return Relations{}, nil
}
