// Package host serves the caller protocol over a pair of streams.
//
// Each chat_request and tool_request runs in its own goroutine until it
// writes finish or error. cancel_stream and approval_response are handled
// inline on the read loop so they never wait behind a running request.
package host

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/nextain/naia-agent/internal/agent"
	"github.com/nextain/naia-agent/internal/agent/providers"
	"github.com/nextain/naia-agent/internal/backoff"
	"github.com/nextain/naia-agent/internal/config"
	"github.com/nextain/naia-agent/internal/observability"
	"github.com/nextain/naia-agent/internal/protocol"
	"github.com/nextain/naia-agent/internal/skills"
	"github.com/nextain/naia-agent/internal/tools"
	"github.com/nextain/naia-agent/internal/tts"
	"github.com/nextain/naia-agent/pkg/models"
)

const maxLineBytes = 16 << 20

// ErrInputClosed fails approval requests raised after the caller closed its
// side of the protocol, since no answer can arrive.
var ErrInputClosed = errors.New("caller input closed")

// ProviderFunc builds the stream normalizer for one chat request.
type ProviderFunc func(ctx context.Context, cfg protocol.ProviderConfig) (agent.StreamNormalizer, error)

// Options configures a Host.
type Options struct {
	Config *config.Config

	// Skills supplies skill tools. Nil offers gateway tools only.
	Skills *skills.Manager

	// NewProvider defaults to providers.New with the configured endpoints.
	NewProvider ProviderFunc

	// Dial opens gateway connections. Nil disables the gateway.
	Dial DialFunc

	// Speech synthesizes audio for requests with ttsVoice. Nil disables TTS.
	Speech *tts.Synthesizer

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Host dispatches caller requests.
type Host struct {
	cfg         *config.Config
	skills      *skills.Manager
	newProvider ProviderFunc
	speech      *tts.Synthesizer
	pool        *Pool
	gate        *agent.ApprovalGate
	logger      *observability.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer

	mu          sync.Mutex
	active      map[string]context.CancelFunc
	wg          sync.WaitGroup
	inputClosed atomic.Bool
}

// New creates a host.
func New(opts Options) *Host {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	h := &Host{
		cfg:         cfg,
		skills:      opts.Skills,
		newProvider: opts.NewProvider,
		speech:      opts.Speech,
		gate:        agent.NewApprovalGate(opts.Metrics),
		logger:      logger.WithFields("component", "host"),
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		active:      make(map[string]context.CancelFunc),
	}
	if h.newProvider == nil {
		endpoints := providers.Endpoints(cfg.Providers)
		h.newProvider = func(ctx context.Context, pc protocol.ProviderConfig) (agent.StreamNormalizer, error) {
			return providers.New(ctx, pc, endpoints)
		}
	}
	if opts.Dial != nil {
		h.pool = NewPool(opts.Dial, WithDialRetry(backoff.DialPolicy(), h.cfg.Gateway.DialAttempts))
	}
	return h
}

// Serve writes ready, then handles one request per line of in until in is
// exhausted or ctx is cancelled. At end of input running requests are
// allowed to finish, with pending and future approvals rejected. When ctx is
// cancelled they are cancelled instead. Either way Serve returns only after
// every request has ended.
func (h *Host) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	w := protocol.NewWriter(out)
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		h.wg.Wait()
		if h.pool != nil {
			_ = h.pool.Close()
		}
	}()

	if err := w.Send(protocol.Ready{Type: protocol.TypeReady}); err != nil {
		return fmt.Errorf("write ready: %w", err)
	}

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64<<10), maxLineBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				h.closeInput()
				h.wg.Wait()
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			h.Dispatch(ctx, line, w)
		}
	}
}

// Dispatch handles one protocol line. Blank lines are ignored.
func (h *Host) Dispatch(ctx context.Context, line []byte, out protocol.Sender) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	out = approvalGuard{out: out, closed: &h.inputClosed}
	req, err := protocol.ParseRequest(line)
	if err != nil {
		h.logger.Warn(ctx, "invalid request line", "error", err)
		h.send(out, protocol.Error{Type: protocol.TypeError, RequestID: "unknown", Message: "Invalid request"})
		return
	}

	switch r := req.(type) {
	case *protocol.ChatRequest:
		h.start(ctx, r.RequestID, out, func(ctx context.Context) { h.chat(ctx, r, out) })
	case *protocol.ToolRequest:
		h.start(ctx, r.RequestID, out, func(ctx context.Context) { h.runTool(ctx, r, out) })
	case *protocol.CancelStream:
		if !h.Cancel(r.RequestID) {
			h.logger.Debug(ctx, "cancel for unknown request", "request_id", r.RequestID)
		}
	case *protocol.ApprovalResponse:
		if !h.gate.Resolve(r.RequestID, r.ToolCallID, r.Decision, r.Message) {
			h.logger.Debug(ctx, "approval for unknown tool call", "request_id", r.RequestID, "tool_call_id", r.ToolCallID)
		}
	}
}

// Cancel aborts a running request and releases its pending approvals. It
// reports whether the request was running.
func (h *Host) Cancel(requestID string) bool {
	h.mu.Lock()
	cancel, ok := h.active[requestID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	h.gate.CancelRequest(requestID)
	return true
}

func (h *Host) closeInput() {
	h.inputClosed.Store(true)
	h.mu.Lock()
	ids := make([]string, 0, len(h.active))
	for id := range h.active {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.gate.CancelRequest(id)
	}
}

// Active returns the number of running requests.
func (h *Host) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

func (h *Host) start(parent context.Context, requestID string, out protocol.Sender, fn func(context.Context)) {
	h.mu.Lock()
	if _, busy := h.active[requestID]; busy {
		h.mu.Unlock()
		h.send(out, protocol.Error{Type: protocol.TypeError, RequestID: requestID, Message: fmt.Sprintf("Request %s is already running", requestID)})
		return
	}
	ctx, cancel := context.WithCancel(observability.AddRequestID(parent, requestID))
	h.active[requestID] = cancel
	h.mu.Unlock()

	h.wg.Add(1)
	h.metrics.RequestStarted()
	go func() {
		defer h.wg.Done()
		defer h.metrics.RequestEnded()
		defer func() {
			h.mu.Lock()
			delete(h.active, requestID)
			h.mu.Unlock()
			cancel()
			h.gate.CancelRequest(requestID)
		}()
		fn(ctx)
	}()
}

func (h *Host) chat(ctx context.Context, req *protocol.ChatRequest, out protocol.Sender) {
	provider, err := h.newProvider(ctx, req.Provider)
	if err != nil {
		h.logger.Warn(ctx, "provider setup failed", "provider", req.Provider.Provider, "error", err)
		h.send(out, protocol.Error{Type: protocol.TypeError, RequestID: req.RequestID, Message: err.Error()})
		return
	}

	var rpc tools.RPC
	if req.EnableTools || req.TTSVoice != "" {
		rpc = h.gateway(ctx, req.GatewayURL, req.GatewayToken)
	}
	bridge := tools.NewBridge(rpc, 0)

	run := agent.Run{
		RequestID:    req.RequestID,
		Messages:     inboundMessages(req.Messages),
		SystemPrompt: h.systemPrompt(req.SystemPrompt),
	}
	var executor *agent.Executor
	if req.EnableTools {
		reg, tiers, err := h.toolset(ctx, bridge, req.DisabledSkills)
		if err != nil {
			h.logger.Error(ctx, "tool registry setup failed", "error", err)
			h.send(out, protocol.Error{Type: protocol.TypeError, RequestID: req.RequestID, Message: err.Error()})
			return
		}
		run.Tools = reg.Definitions()
		executor = h.executor(reg, tiers)
	}

	sender := protocol.Sender(out)
	var held *finishHold
	if req.TTSVoice != "" && h.speech != nil {
		held = &finishHold{out: out}
		sender = held
	}

	loop := agent.NewLoop(provider, executor, agent.LoopConfig{
		MaxIterations: h.cfg.Agent.MaxIterations,
		MaxTokens:     h.cfg.Agent.MaxTokens,
	},
		agent.WithCost(providers.Cost),
		agent.WithLogger(h.logger),
		agent.WithMetrics(h.metrics),
		agent.WithTracer(h.tracer),
	)
	outcome, err := loop.Run(ctx, run, sender)
	if err != nil {
		return
	}
	if held != nil {
		if outcome.Phase == agent.PhaseDone {
			h.speak(ctx, req, bridge, outcome.Text, out)
		}
		held.release()
	}
}

// speak emits an audio event for text. Failures are logged and otherwise
// ignored.
func (h *Host) speak(ctx context.Context, req *protocol.ChatRequest, bridge *tools.Bridge, text string, out protocol.Sender) {
	key := req.TTSAPIKey
	if key == "" && req.Provider.Provider == "gemini" {
		key = req.Provider.APIKey
	}
	res, err := h.speech.Synthesize(ctx, tts.Request{
		Text:    text,
		Voice:   req.TTSVoice,
		APIKey:  key,
		Gateway: bridge,
	})
	if err != nil {
		h.logger.Warn(ctx, "speech synthesis failed", "error", err)
		return
	}
	h.logger.Debug(ctx, "speech synthesized", "provider", string(res.Provider), "latency_ms", res.LatencyMs)
	h.send(out, protocol.Audio{Type: protocol.TypeAudio, RequestID: req.RequestID, Data: res.Audio, Format: res.Format})
}

// runTool executes a caller-initiated tool call without an LLM. The caller
// asked for it directly, so no approval is requested.
func (h *Host) runTool(ctx context.Context, req *protocol.ToolRequest, out protocol.Sender) {
	bridge := tools.NewBridge(h.gateway(ctx, req.GatewayURL, req.GatewayToken), 0)
	reg, _, err := h.toolset(ctx, bridge, nil)
	if err != nil {
		h.send(out, protocol.Error{Type: protocol.TypeError, RequestID: req.RequestID, Message: err.Error()})
		return
	}
	call := models.ToolCall{ID: req.RequestID, Name: req.ToolName, Args: req.Args}
	res := h.executor(reg, callerInitiated{}).Execute(ctx, req.RequestID, call, out)
	h.send(out, protocol.NewToolResult(req.RequestID, call.ID, call.Name, res))
	h.send(out, protocol.Finish{Type: protocol.TypeFinish, RequestID: req.RequestID})
}

type callerInitiated struct{}

func (callerInitiated) Tier(string) agent.Tier { return agent.TierSafe }

func (h *Host) executor(runner agent.ToolRunner, tiers agent.TierResolver) *agent.Executor {
	return agent.NewExecutor(runner, tiers, h.gate,
		agent.ExecutorConfig{MaxConcurrency: h.cfg.Agent.ToolConcurrency},
		agent.WithExecutorLogger(h.logger),
		agent.WithExecutorMetrics(h.metrics),
		agent.WithExecutorTracer(h.tracer),
	)
}

// toolset builds the per-request tool registry: the gateway tools plus every
// enabled skill.
func (h *Host) toolset(ctx context.Context, bridge *tools.Bridge, disabled []string) (*tools.Registry, *agent.TierTable, error) {
	reg := tools.NewRegistry()
	if err := bridge.Register(reg); err != nil {
		return nil, nil, err
	}
	tiers := agent.NewTierTable()
	if h.skills != nil {
		off := append(append([]string(nil), h.cfg.Skills.Disabled...), disabled...)
		names, err := h.skills.Registry().Attach(reg, tiers, skills.Env{Bridge: bridge}, off)
		if err != nil {
			return nil, nil, err
		}
		h.logger.Debug(ctx, "skills attached", "count", len(names), "gateway_methods", len(bridge.Methods()))
	}
	return reg, tiers, nil
}

// gateway returns a pooled connection, or nil when none is configured or
// the dial fails. Tools then report the gateway as not connected.
func (h *Host) gateway(ctx context.Context, url, token string) tools.RPC {
	if url == "" {
		url = h.cfg.Gateway.URL
	}
	if token == "" {
		token = h.cfg.Gateway.Token
	}
	if url == "" || h.pool == nil {
		return nil
	}
	conn, err := h.pool.Get(ctx, url, token)
	if err != nil {
		h.logger.Warn(ctx, "gateway unavailable", "url", url, "error", err)
		return nil
	}
	return conn
}

func (h *Host) systemPrompt(requested string) string {
	switch {
	case requested != "":
		return requested
	case h.cfg.Agent.SystemPrompt != "":
		return h.cfg.Agent.SystemPrompt
	default:
		return DefaultSystemPrompt
	}
}

func (h *Host) send(out protocol.Sender, v any) {
	if err := out.Send(v); err != nil {
		h.logger.Error(context.Background(), "write event failed", "error", err)
	}
}

func inboundMessages(in []protocol.InboundMessage) []models.ChatMessage {
	msgs := make([]models.ChatMessage, 0, len(in))
	for _, m := range in {
		msgs = append(msgs, models.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return msgs
}

// approvalGuard refuses approval requests once the caller input is closed.
type approvalGuard struct {
	out    protocol.Sender
	closed *atomic.Bool
}

func (g approvalGuard) Send(v any) error {
	if req, ok := v.(protocol.ApprovalRequest); ok && g.closed.Load() {
		return fmt.Errorf("%w: cannot approve %s", ErrInputClosed, req.ToolName)
	}
	return g.out.Send(v)
}

// finishHold forwards every event except finish, which it keeps until
// release so audio can be written first.
type finishHold struct {
	out protocol.Sender

	mu     sync.Mutex
	finish *protocol.Finish
}

func (f *finishHold) Send(v any) error {
	if fin, ok := v.(protocol.Finish); ok {
		f.mu.Lock()
		f.finish = &fin
		f.mu.Unlock()
		return nil
	}
	return f.out.Send(v)
}

func (f *finishHold) release() {
	f.mu.Lock()
	fin := f.finish
	f.finish = nil
	f.mu.Unlock()
	if fin != nil {
		_ = f.out.Send(*fin)
	}
}
