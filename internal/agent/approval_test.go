package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextain/naia-agent/internal/observability"
	"github.com/nextain/naia-agent/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func awaitAsync(g *ApprovalGate, ctx context.Context, requestID, callID string) <-chan ApprovalOutcome {
	ch := make(chan ApprovalOutcome, 1)
	go func() { ch <- g.Await(ctx, requestID, callID, nil) }()
	return ch
}

func receive(t *testing.T, ch <-chan ApprovalOutcome) ApprovalOutcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("approval never resolved")
		return ApprovalOutcome{}
	}
}

func TestApprovalGate_Decisions(t *testing.T) {
	tests := []struct {
		decision     protocol.ApprovalDecision
		message      string
		wantApproved bool
		wantMessage  string
	}{
		{protocol.DecisionOnce, "", true, ""},
		{protocol.DecisionAlways, "", true, ""},
		{protocol.DecisionReject, "", false, DefaultRejectMessage},
		{protocol.DecisionReject, "not in prod", false, "not in prod"},
	}
	for _, tt := range tests {
		t.Run(string(tt.decision)+tt.message, func(t *testing.T) {
			g := NewApprovalGate(nil)
			ch := awaitAsync(g, context.Background(), "r1", "c1")
			waitUntil(t, func() bool { return g.Pending() == 1 })

			if !g.Resolve("r1", "c1", tt.decision, tt.message) {
				t.Fatal("Resolve() = false for pending entry")
			}
			out := receive(t, ch)
			if out.Approved != tt.wantApproved || out.Message != tt.wantMessage {
				t.Errorf("outcome = %+v", out)
			}
			if g.Pending() != 0 {
				t.Errorf("Pending() = %d after resolve", g.Pending())
			}
		})
	}
}

func TestApprovalGate_ResolveUnknownIsNoop(t *testing.T) {
	g := NewApprovalGate(nil)
	if g.Resolve("r1", "missing", protocol.DecisionOnce, "") {
		t.Error("Resolve() of unknown key reported success")
	}

	ch := awaitAsync(g, context.Background(), "r1", "c1")
	waitUntil(t, func() bool { return g.Pending() == 1 })
	g.Resolve("r1", "c1", protocol.DecisionOnce, "")
	receive(t, ch)

	if g.Resolve("r1", "c1", protocol.DecisionReject, "") {
		t.Error("duplicate Resolve() reported success")
	}
}

func TestApprovalGate_KeysAreScopedByRequest(t *testing.T) {
	g := NewApprovalGate(nil)
	a := awaitAsync(g, context.Background(), "r1", "c1")
	b := awaitAsync(g, context.Background(), "r2", "c1")
	waitUntil(t, func() bool { return g.Pending() == 2 })

	g.Resolve("r2", "c1", protocol.DecisionReject, "")
	if out := receive(t, b); out.Approved {
		t.Error("r2 should be rejected")
	}
	select {
	case <-a:
		t.Fatal("resolving r2 released r1")
	case <-time.After(20 * time.Millisecond):
	}
	g.Resolve("r1", "c1", protocol.DecisionOnce, "")
	if out := receive(t, a); !out.Approved {
		t.Error("r1 should be approved")
	}
}

func TestApprovalGate_CancelRequest(t *testing.T) {
	g := NewApprovalGate(nil)
	a := awaitAsync(g, context.Background(), "r1", "c1")
	b := awaitAsync(g, context.Background(), "r1", "c2")
	other := awaitAsync(g, context.Background(), "r2", "c1")
	waitUntil(t, func() bool { return g.Pending() == 3 })

	if n := g.CancelRequest("r1"); n != 2 {
		t.Errorf("CancelRequest() = %d, want 2", n)
	}
	for _, ch := range []<-chan ApprovalOutcome{a, b} {
		if out := receive(t, ch); out.Approved {
			t.Error("cancelled approval must not be approved")
		}
	}
	if g.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", g.Pending())
	}
	g.Resolve("r2", "c1", protocol.DecisionOnce, "")
	receive(t, other)
}

func TestApprovalGate_ContextCancel(t *testing.T) {
	g := NewApprovalGate(nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch := awaitAsync(g, ctx, "r1", "c1")
	waitUntil(t, func() bool { return g.Pending() == 1 })
	cancel()
	if out := receive(t, ch); out.Approved {
		t.Error("context cancel must reject")
	}
	if g.Pending() != 0 {
		t.Error("entry leaked after context cancel")
	}
}

func TestApprovalGate_AnnounceFailure(t *testing.T) {
	g := NewApprovalGate(nil)
	out := g.Await(context.Background(), "r1", "c1", func() error { return errors.New("stdout closed") })
	if out.Approved || out.Message != "stdout closed" {
		t.Errorf("outcome = %+v", out)
	}
	if g.Pending() != 0 {
		t.Error("entry leaked after announce failure")
	}
}

func TestApprovalGate_ResolveDuringAnnounce(t *testing.T) {
	g := NewApprovalGate(nil)
	out := g.Await(context.Background(), "r1", "c1", func() error {
		g.Resolve("r1", "c1", protocol.DecisionOnce, "")
		return nil
	})
	if !out.Approved {
		t.Error("decision delivered during announce was lost")
	}
}

func TestApprovalGate_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	g := NewApprovalGate(m)

	ch := awaitAsync(g, context.Background(), "r1", "c1")
	waitUntil(t, func() bool { return g.Pending() == 1 })
	g.Resolve("r1", "c1", protocol.DecisionReject, "")
	receive(t, ch)

	if got := testutil.ToFloat64(m.ApprovalDecisions.WithLabelValues("reject")); got != 1 {
		t.Errorf("reject decisions = %v, want 1", got)
	}
}
