package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/nextain/naia-agent/internal/agent"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// wrapError converts a vendor SDK error into *agent.ProviderError.
// Context cancellation passes through unchanged.
func wrapError(provider, model string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pe *agent.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	out := &agent.ProviderError{Provider: provider, Model: model, Cause: err}

	var anthropicErr *anthropic.Error
	var openaiAPIErr *openai.APIError
	var openaiReqErr *openai.RequestError
	var genaiErr genai.APIError

	switch {
	case errors.As(err, &anthropicErr):
		out.StatusCode = anthropicErr.StatusCode
		var payload anthropicErrorPayload
		if raw := anthropicErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &payload) == nil {
			out.Message = payload.Error.Message
		}
	case errors.As(err, &openaiAPIErr):
		out.StatusCode = openaiAPIErr.HTTPStatusCode
		out.Message = openaiAPIErr.Message
	case errors.As(err, &openaiReqErr):
		out.StatusCode = openaiReqErr.HTTPStatusCode
		if openaiReqErr.Err != nil {
			out.Message = truncate(openaiReqErr.Err.Error(), 200)
		}
	case errors.As(err, &genaiErr):
		out.StatusCode = genaiErr.Code
		out.Message = genaiErr.Message
	default:
		out.StatusCode = statusFromMessage(err.Error())
	}
	return out
}

func statusFromMessage(msg string) int {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthenticated"):
		return http.StatusUnauthorized
	case strings.Contains(msg, "403") || strings.Contains(msg, "permission denied"):
		return http.StatusForbidden
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted"):
		return http.StatusTooManyRequests
	case strings.Contains(msg, "503"):
		return http.StatusServiceUnavailable
	case strings.Contains(msg, "500"):
		return http.StatusInternalServerError
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
