package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextain/naia-agent/pkg/models"
)

// SubAgentWait is how long agent.wait may block for a spawned session.
const SubAgentWait = 2 * time.Minute

type sessionsSpawnArgs struct {
	Task  string `json:"task" jsonschema_description:"Task for the sub-agent to complete"`
	Label string `json:"label,omitempty" jsonschema_description:"Optional label for the spawned session"`
}

type spawnPayload struct {
	RunID      string `json:"runId"`
	SessionKey string `json:"sessionKey"`
}

type transcriptPayload struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// sessionsSpawnTool delegates a task to a sub-agent session on the gateway:
// sessions.spawn, then agent.wait, then sessions.transcript. The result is
// the last assistant message of the sub-agent.
type sessionsSpawnTool struct{ bridge *Bridge }

func (t *sessionsSpawnTool) Name() string { return "sessions_spawn" }
func (t *sessionsSpawnTool) Description() string {
	return "Spawn a sub-agent session on the gateway to work on a task and return its final answer."
}
func (t *sessionsSpawnTool) Schema() json.RawMessage { return SchemaFor(&sessionsSpawnArgs{}) }

func (t *sessionsSpawnTool) Execute(ctx context.Context, raw json.RawMessage) (*models.ToolResult, error) {
	var args sessionsSpawnArgs
	if err := decodeArgs(raw, &args); err != nil {
		return models.Failed("Invalid parameters: " + err.Error()), nil
	}

	params := map[string]any{"task": args.Task}
	if args.Label != "" {
		params["label"] = args.Label
	}
	payload, err := t.bridge.Call(ctx, "sessions.spawn", params)
	if err != nil {
		return failedFrom(err), nil
	}
	var spawned spawnPayload
	if err := json.Unmarshal(payload, &spawned); err != nil || spawned.RunID == "" {
		return models.Failed("sessions.spawn returned no run id"), nil
	}

	if _, err := t.bridge.callFor(ctx, SubAgentWait+30*time.Second, "agent.wait", map[string]any{
		"runId":     spawned.RunID,
		"timeoutMs": SubAgentWait.Milliseconds(),
	}); err != nil {
		return failedFrom(fmt.Errorf("waiting for sub-agent: %w", err)), nil
	}

	payload, err = t.bridge.Call(ctx, "sessions.transcript", map[string]any{"key": spawned.SessionKey})
	if err != nil {
		return failedFrom(err), nil
	}
	var transcript transcriptPayload
	if err := json.Unmarshal(payload, &transcript); err != nil {
		return models.Failed("sessions.transcript returned malformed payload"), nil
	}

	var last string
	for _, m := range transcript.Messages {
		if m.Role == "assistant" {
			last = m.Content
		}
	}
	return models.OK(last), nil
}
