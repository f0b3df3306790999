package skills

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nextain/naia-agent/internal/tools"
)

type rpcCall struct {
	method string
	params map[string]any
}

// fakeRPC is a connected gateway whose responses come from handler.
type fakeRPC struct {
	mu      sync.Mutex
	calls   []rpcCall
	handler func(method string, params map[string]any) (any, error)
}

func (f *fakeRPC) IsConnected() bool { return true }

func (f *fakeRPC) Request(_ context.Context, method string, params any) (json.RawMessage, error) {
	var m map[string]any
	data, _ := json.Marshal(params)
	_ = json.Unmarshal(data, &m)
	f.mu.Lock()
	f.calls = append(f.calls, rpcCall{method: method, params: m})
	f.mu.Unlock()
	if f.handler == nil {
		return json.RawMessage(`{"ok":true}`), nil
	}
	out, err := f.handler(method, m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (f *fakeRPC) recorded() []rpcCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rpcCall(nil), f.calls...)
}

func connectedEnv(rpc *fakeRPC) Env {
	return Env{Bridge: tools.NewBridge(rpc, 0)}
}

func writeManifest(t *testing.T, root, name, body string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// advertisingRPC is a fakeRPC that advertises a fixed method set.
type advertisingRPC struct {
	*fakeRPC
	methods []string
}

func (a *advertisingRPC) AvailableMethods() []string { return a.methods }

func (a *advertisingRPC) HasMethod(method string) bool {
	for _, m := range a.methods {
		if m == method {
			return true
		}
	}
	return false
}
