package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nextain/naia-agent/internal/agent"
)

// sseServer replays lines as a text/event-stream response and hands each
// request to inspect before writing.
func sseServer(t *testing.T, lines []string, inspect func(*http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			inspect(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("expected http.Flusher")
			return
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func errorServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func collect(t *testing.T, n agent.StreamNormalizer, req *agent.StreamRequest) []agent.StreamChunk {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := n.Stream(ctx, req)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	var chunks []agent.StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	if ctx.Err() != nil {
		t.Fatal("stream did not close before timeout")
	}
	return chunks
}

func chunkTypes(chunks []agent.StreamChunk) string {
	names := make([]string, len(chunks))
	for i, c := range chunks {
		names[i] = string(c.Type)
	}
	return strings.Join(names, ",")
}

func joinedText(chunks []agent.StreamChunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		if c.Type == agent.ChunkText {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}
