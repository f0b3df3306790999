package agent

import (
	"errors"
	"fmt"
)

// Common sentinel errors for agent operations.
var (
	// ErrMaxIterations indicates the loop reached its iteration bound.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoProvider indicates no stream normalizer was supplied.
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolPanic indicates a tool handler panicked.
	ErrToolPanic = errors.New("tool panicked")

	// ErrStreamEnded indicates a vendor stream closed without a terminal chunk.
	ErrStreamEnded = errors.New("stream ended without finish")
)

// LoopPhase names a state of the agent loop.
type LoopPhase string

const (
	PhaseInit           LoopPhase = "init"
	PhaseCallingLLM     LoopPhase = "calling_llm"
	PhaseExecutingTools LoopPhase = "executing_tools"
	PhaseDone           LoopPhase = "done"
	PhaseAborted        LoopPhase = "aborted"
)

// LoopError is a failure that ended a run, annotated with where it happened.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Cause     error
	Message   string
}

func (e *LoopError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return fmt.Sprintf("loop error at %s (iteration %d): %s", e.Phase, e.Iteration, msg)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}

// ProviderError is a failure reported by an LLM vendor. Streams are never
// retried inside an adapter, so this surfaces to the caller as an error
// event.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	var msg string
	switch {
	case e.StatusCode > 0:
		msg = fmt.Sprintf("%s: HTTP %d", e.Provider, e.StatusCode)
	default:
		msg = e.Provider
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// UserMessage is the text shown to the caller in an error event.
func UserMessage(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Error()
	}
	var le *LoopError
	if errors.As(err, &le) && le.Cause != nil {
		return UserMessage(le.Cause)
	}
	return err.Error()
}
