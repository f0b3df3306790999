package providers

import (
	"context"

	"github.com/nextain/naia-agent/internal/agent"
)

const defaultMaxTokens = 4096

func maxTokens(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}

// emit sends c unless ctx is done. It reports whether the consumer is still
// listening.
func emit(ctx context.Context, out chan<- agent.StreamChunk, c agent.StreamChunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// finishStream writes the trailing usage chunk, when any tokens were
// metered, followed by finish.
func finishStream(ctx context.Context, out chan<- agent.StreamChunk, usage agent.Usage) {
	if usage.InputTokens > 0 || usage.OutputTokens > 0 {
		u := usage
		if !emit(ctx, out, agent.StreamChunk{Type: agent.ChunkUsage, Usage: &u}) {
			return
		}
	}
	emit(ctx, out, agent.StreamChunk{Type: agent.ChunkFinish})
}
