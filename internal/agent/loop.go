package agent

import (
	"context"
	"strings"
	"time"

	"github.com/nextain/naia-agent/internal/observability"
	"github.com/nextain/naia-agent/internal/protocol"
	"github.com/nextain/naia-agent/pkg/models"
)

// LoopConfig configures the agentic loop.
type LoopConfig struct {
	// MaxIterations bounds the number of LLM calls per request.
	// Default: 10
	MaxIterations int

	// MaxTokens is the per-call output budget.
	// Default: 4096
	MaxTokens int
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations: 10,
		MaxTokens:     4096,
	}
}

func sanitizeLoopConfig(cfg LoopConfig) LoopConfig {
	defaults := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	return cfg
}

// CostFunc prices one call. ok is false when the model has no known price.
type CostFunc func(model string, inputTokens, outputTokens int) (cost float64, ok bool)

// Run is one chat request handed to the loop.
type Run struct {
	RequestID    string
	Messages     []models.ChatMessage
	SystemPrompt string
	Tools        []models.ToolDefinition
}

// Outcome summarizes a finished run.
type Outcome struct {
	Phase      LoopPhase
	Iterations int
	Text       string
	Transcript []models.ChatMessage

	// Err is ErrMaxIterations when the run stopped at the iteration bound
	// instead of on a reply without tool calls. Finish is still sent.
	Err error
}

// Loop drives LLM calls and tool executions for one request at a time. A Loop
// holds no per-request state and may serve concurrent runs.
//
//	CALLING_LLM -> AWAITING_APPROVAL* -> EXECUTING_TOOLS -> CALLING_LLM ... -> DONE | ABORTED
type Loop struct {
	provider StreamNormalizer
	executor *Executor
	config   LoopConfig
	cost     CostFunc
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// LoopOption customizes a Loop.
type LoopOption func(*Loop)

// WithCost sets the pricing function used for usage events.
func WithCost(fn CostFunc) LoopOption {
	return func(l *Loop) { l.cost = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *observability.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) LoopOption {
	return func(l *Loop) { l.tracer = t }
}

// NewLoop builds a loop. executor may be nil when no tools are offered.
func NewLoop(provider StreamNormalizer, executor *Executor, config LoopConfig, opts ...LoopOption) *Loop {
	l := &Loop{
		provider: provider,
		executor: executor,
		config:   sanitizeLoopConfig(config),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = observability.NopLogger()
	}
	return l
}

// Run executes one request, writing events to out.
//
// A successful run, a run stopped by the iteration bound, and a cancelled run
// all end with a finish event. A provider failure ends with a single error
// event and the returned error.
func (l *Loop) Run(ctx context.Context, run Run, out protocol.Sender) (*Outcome, error) {
	ctx = observability.AddRequestID(ctx, run.RequestID)
	outcome := &Outcome{Phase: PhaseInit}
	if l.provider == nil {
		err := &LoopError{Phase: PhaseInit, Cause: ErrNoProvider}
		l.send(out, protocol.Error{Type: protocol.TypeError, RequestID: run.RequestID, Message: err.Error()})
		return outcome, err
	}
	ctx = observability.AddProvider(ctx, l.provider.Name())

	transcript := make([]models.ChatMessage, 0, len(run.Messages)+4)
	transcript = append(transcript, run.Messages...)

	var fullText strings.Builder
	defer func() {
		outcome.Text = fullText.String()
		outcome.Transcript = transcript
		l.metrics.RecordLoop(outcome.Iterations)
	}()

	for iteration := 1; ; iteration++ {
		if ctx.Err() != nil {
			outcome.Phase = PhaseAborted
			break
		}
		if iteration > l.config.MaxIterations {
			l.logger.Warn(ctx, "iteration limit reached", "max_iterations", l.config.MaxIterations)
			outcome.Phase = PhaseDone
			outcome.Err = ErrMaxIterations
			break
		}
		outcome.Iterations = iteration
		outcome.Phase = PhaseCallingLLM

		text, calls, err := l.callLLM(ctx, run, transcript, iteration, out)
		fullText.WriteString(text)
		if err != nil {
			if ctx.Err() != nil {
				outcome.Phase = PhaseAborted
				break
			}
			loopErr := &LoopError{Phase: PhaseCallingLLM, Iteration: iteration, Cause: err}
			l.logger.Error(ctx, "llm call failed", "error", err, "iteration", iteration)
			l.send(out, protocol.Error{Type: protocol.TypeError, RequestID: run.RequestID, Message: UserMessage(err)})
			outcome.Phase = PhaseAborted
			return outcome, loopErr
		}
		if ctx.Err() != nil {
			outcome.Phase = PhaseAborted
			break
		}

		if len(calls) == 0 || l.executor == nil {
			if text != "" {
				transcript = append(transcript, models.ChatMessage{Role: models.RoleAssistant, Content: text})
			}
			outcome.Phase = PhaseDone
			break
		}

		transcript = append(transcript, models.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
		})

		outcome.Phase = PhaseExecutingTools
		results := l.executor.ExecuteAll(ctx, run.RequestID, calls, out)
		if ctx.Err() != nil {
			l.logger.Info(ctx, "request cancelled, discarding tool results", "tool_calls", len(calls))
			outcome.Phase = PhaseAborted
			break
		}
		for i, call := range calls {
			res := results[i]
			l.send(out, protocol.NewToolResult(run.RequestID, call.ID, call.Name, res))
			transcript = append(transcript, models.ChatMessage{
				Role:       models.RoleTool,
				Content:    res.Content(),
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	l.send(out, protocol.Finish{Type: protocol.TypeFinish, RequestID: run.RequestID})
	return outcome, nil
}

// callLLM performs one streamed completion. It forwards text and usage as
// they arrive, announces tool calls, and returns the buffered calls once the
// stream finishes.
func (l *Loop) callLLM(ctx context.Context, run Run, transcript []models.ChatMessage, iteration int, out protocol.Sender) (string, []models.ToolCall, error) {
	provider, model := l.provider.Name(), l.provider.Model()
	ctx, span := l.tracer.TraceLLMRequest(ctx, provider, model, iteration)
	defer span.End()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	chunks, err := l.provider.Stream(streamCtx, &StreamRequest{
		Messages:     transcript,
		SystemPrompt: run.SystemPrompt,
		Tools:        run.Tools,
		MaxTokens:    l.config.MaxTokens,
	})
	if err != nil {
		l.tracer.RecordError(span, err)
		l.metrics.RecordLLMRequest(provider, model, "error", time.Since(start).Seconds(), 0, 0, 0)
		return "", nil, err
	}

	var (
		text     strings.Builder
		calls    []models.ToolCall
		usage    Usage
		finished bool
	)
	for chunk := range chunks {
		if ctx.Err() != nil {
			// Drain in the background so the producer can exit.
			cancel()
			go drain(chunks)
			return text.String(), nil, ctx.Err()
		}
		switch chunk.Type {
		case ChunkText:
			if chunk.Text == "" {
				continue
			}
			text.WriteString(chunk.Text)
			l.send(out, protocol.Text{Type: protocol.TypeText, RequestID: run.RequestID, Text: chunk.Text})
		case ChunkToolUse:
			if chunk.ToolCall == nil {
				continue
			}
			call := *chunk.ToolCall
			call.Args = ParseArgs(string(call.Args))
			calls = append(calls, call)
			l.send(out, protocol.ToolUse{
				Type:       protocol.TypeToolUse,
				RequestID:  run.RequestID,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Args:       call.Args,
			})
		case ChunkUsage:
			if chunk.Usage == nil {
				continue
			}
			usage = *chunk.Usage
			l.sendUsage(run.RequestID, model, usage, out)
		case ChunkError:
			err := chunk.Err
			if err == nil {
				err = ErrStreamEnded
			}
			l.tracer.RecordError(span, err)
			l.metrics.RecordLLMRequest(provider, model, "error", time.Since(start).Seconds(), usage.InputTokens, usage.OutputTokens, 0)
			return text.String(), nil, err
		case ChunkFinish:
			finished = true
		}
	}
	if !finished {
		l.logger.Debug(ctx, "stream closed without finish chunk")
	}

	cost, _ := l.price(model, usage)
	l.metrics.RecordLLMRequest(provider, model, "success", time.Since(start).Seconds(), usage.InputTokens, usage.OutputTokens, cost)
	return text.String(), calls, nil
}

func (l *Loop) sendUsage(requestID, model string, usage Usage, out protocol.Sender) {
	ev := protocol.Usage{
		Type:         protocol.TypeUsage,
		RequestID:    requestID,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Model:        model,
	}
	if cost, ok := l.price(model, usage); ok {
		ev.Cost = &cost
	}
	l.send(out, ev)
}

func (l *Loop) price(model string, usage Usage) (float64, bool) {
	if l.cost == nil {
		return 0, false
	}
	return l.cost(model, usage.InputTokens, usage.OutputTokens)
}

func (l *Loop) send(out protocol.Sender, v any) {
	if out == nil {
		return
	}
	if err := out.Send(v); err != nil {
		l.logger.Warn(context.Background(), "failed to write event", "error", err)
	}
}

func drain(chunks <-chan StreamChunk) {
	for range chunks {
	}
}
