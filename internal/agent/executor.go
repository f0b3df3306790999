package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/nextain/naia-agent/internal/observability"
	"github.com/nextain/naia-agent/internal/protocol"
	"github.com/nextain/naia-agent/pkg/models"
)

// ToolRunner performs one tool call. Implementations report every failure
// in the returned result; a nil result is treated as a failure.
type ToolRunner interface {
	Run(ctx context.Context, call models.ToolCall) *models.ToolResult
}

// ToolRunnerFunc adapts a function to ToolRunner.
type ToolRunnerFunc func(ctx context.Context, call models.ToolCall) *models.ToolResult

// Run calls f.
func (f ToolRunnerFunc) Run(ctx context.Context, call models.ToolCall) *models.ToolResult {
	return f(ctx, call)
}

// TierResolver classifies tools by name.
type TierResolver interface {
	Tier(name string) Tier
}

// ExecutorConfig tunes the executor.
type ExecutorConfig struct {
	// MaxConcurrency bounds simultaneously running tools. Approval waits do
	// not hold a slot. Default: 8
	MaxConcurrency int
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{MaxConcurrency: 8}
}

// Executor gates tool calls by tier and runs them concurrently.
type Executor struct {
	runner  ToolRunner
	tiers   TierResolver
	gate    *ApprovalGate
	sem     chan struct{}
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *observability.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithExecutorMetrics sets the metrics sink.
func WithExecutorMetrics(m *observability.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithExecutorTracer sets the tracer.
func WithExecutorTracer(t *observability.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// NewExecutor wires a runner, a tier table and an approval gate.
func NewExecutor(runner ToolRunner, tiers TierResolver, gate *ApprovalGate, config ExecutorConfig, opts ...ExecutorOption) *Executor {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultExecutorConfig().MaxConcurrency
	}
	if tiers == nil {
		tiers = NewTierTable()
	}
	if gate == nil {
		gate = NewApprovalGate(nil)
	}
	e := &Executor{
		runner: runner,
		tiers:  tiers,
		gate:   gate,
		sem:    make(chan struct{}, config.MaxConcurrency),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = observability.NopLogger()
	}
	return e
}

// Gate returns the approval gate used by the executor.
func (e *Executor) Gate() *ApprovalGate {
	return e.gate
}

// ExecuteAll runs calls concurrently and returns one result per call in call
// order. Approval requests for tier>=1 calls are written to out.
func (e *Executor) ExecuteAll(ctx context.Context, requestID string, calls []models.ToolCall, out protocol.Sender) []*models.ToolResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]*models.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, requestID, tc, out)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Execute gates and runs a single call. It never returns nil.
func (e *Executor) Execute(ctx context.Context, requestID string, call models.ToolCall, out protocol.Sender) *models.ToolResult {
	tier := e.tiers.Tier(call.Name)
	ctx = observability.AddToolCallID(ctx, call.ID)

	if tier.RequiresApproval() {
		outcome := e.gate.Await(ctx, requestID, call.ID, func() error {
			if out == nil {
				return fmt.Errorf("no caller to approve %s", call.Name)
			}
			return out.Send(protocol.ApprovalRequest{
				Type:        protocol.TypeApprovalRequest,
				RequestID:   requestID,
				ToolCallID:  call.ID,
				ToolName:    call.Name,
				Tier:        int(tier),
				Description: Describe(call),
				Args:        ParseArgs(string(call.Args)),
			})
		})
		if !outcome.Approved {
			e.logger.Info(ctx, "tool call rejected", "tool", call.Name, "reason", outcome.Message)
			e.metrics.RecordToolExecution(call.Name, tierLabel(tier), "rejected", 0)
			return models.Failed(outcome.Message)
		}
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return models.Failed(fmt.Sprintf("%s: %v", call.Name, ctx.Err()))
	}

	ctx, span := e.tracer.TraceToolExecution(ctx, call.Name, call.ID, int(tier))
	defer span.End()

	start := time.Now()
	result := e.run(ctx, call)
	status := "success"
	if !result.Success {
		status = "error"
		e.tracer.RecordError(span, errors.New(result.Error))
	}
	e.metrics.RecordToolExecution(call.Name, tierLabel(tier), status, time.Since(start).Seconds())
	e.logger.Debug(ctx, "tool call finished", "tool", call.Name, "success", result.Success, "duration", time.Since(start))
	return result
}

func (e *Executor) run(ctx context.Context, call models.ToolCall) (result *models.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, "tool panicked", "tool", call.Name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			result = models.Failed(fmt.Sprintf("%s: %v", ErrToolPanic, r))
		}
	}()

	if e.runner == nil {
		return models.Failed(fmt.Sprintf("Unknown tool: %s", call.Name))
	}
	// Cancelling a request never interrupts a dispatched tool.
	result = e.runner.Run(context.WithoutCancel(ctx), call)
	if result == nil {
		result = models.Failed(fmt.Sprintf("%s returned no result", call.Name))
	}
	return result
}

func tierLabel(t Tier) string {
	return strconv.Itoa(int(t))
}
