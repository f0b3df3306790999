package skills

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nextain/naia-agent/internal/agent"
	"github.com/nextain/naia-agent/internal/cron"
	"github.com/nextain/naia-agent/internal/tools"
	"github.com/nextain/naia-agent/pkg/models"
)

type cronArgs struct {
	Action        string  `json:"action" jsonschema:"enum=add,enum=list,enum=remove,enum=update,enum=gateway_list,enum=gateway_status,enum=gateway_add,enum=gateway_run,enum=gateway_runs,enum=gateway_remove" jsonschema_description:"Action to perform"`
	Label         *string `json:"label,omitempty" jsonschema_description:"Human-readable label for the job"`
	Task          *string `json:"task,omitempty" jsonschema_description:"Task description (what to do when the job fires)"`
	ScheduleType  string  `json:"schedule_type,omitempty" jsonschema:"enum=at,enum=every,enum=cron" jsonschema_description:"Schedule type: 'at' (one-shot ISO date), 'every' (interval in ms), 'cron' (cron expression)"`
	ScheduleValue string  `json:"schedule_value,omitempty" jsonschema_description:"Schedule value: ISO date for 'at', milliseconds for 'every', cron expression for 'cron'"`
	JobID         string  `json:"job_id,omitempty" jsonschema_description:"Job ID (for remove/update/gateway_run/gateway_runs/gateway_remove)"`
	Enabled       *bool   `json:"enabled,omitempty" jsonschema_description:"Enable/disable a job (for update action)"`
}

func (a *cronArgs) label(fallback string) string {
	if a.Label != nil && *a.Label != "" {
		return *a.Label
	}
	return fallback
}

// CronSkill manages scheduled tasks. Local actions edit store; gateway_*
// actions proxy to the gateway's cron service.
func CronSkill(store *cron.Store) *Skill {
	c := &cronSkill{store: store}
	return &Skill{
		Name: "skill_cron",
		Description: "Manage scheduled tasks (cron jobs). Local actions: add, list, remove, update. " +
			"Gateway actions: gateway_list, gateway_status, gateway_add, gateway_run, gateway_runs, gateway_remove.",
		Parameters: tools.SchemaFor(&cronArgs{}),
		Tier:       agent.TierModerate,
		Source:     SourceBuiltin,
		Handler:    c.handle,
	}
}

type cronSkill struct {
	store *cron.Store
}

func (c *cronSkill) handle(ctx context.Context, raw json.RawMessage, env Env) (*models.ToolResult, error) {
	var args cronArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	switch args.Action {
	case "add":
		return c.add(&args)
	case "list":
		return jsonResult(c.store.List())
	case "remove":
		return c.remove(&args)
	case "update":
		return c.update(&args)
	case "gateway_list", "gateway_status", "gateway_add", "gateway_run", "gateway_runs", "gateway_remove":
		return c.gateway(ctx, &args, env)
	default:
		return models.Failed("Unknown action: " + args.Action), nil
	}
}

func (c *cronSkill) add(args *cronArgs) (*models.ToolResult, error) {
	scheduleType := args.ScheduleType
	if scheduleType == "" {
		scheduleType = string(cron.ScheduleAt)
	}
	schedule, err := cron.ParseSchedule(scheduleType, args.ScheduleValue)
	if err != nil {
		return models.Failed(err.Error()), nil
	}
	task := ""
	if args.Task != nil {
		task = *args.Task
	}
	job, err := c.store.Add(cron.AddOptions{Label: args.label("Unnamed job"), Task: task, Schedule: schedule})
	if err != nil {
		return models.Failed(err.Error()), nil
	}
	return jsonResult(map[string]any{"message": "Job created: " + job.Label, "job": job})
}

func (c *cronSkill) remove(args *cronArgs) (*models.ToolResult, error) {
	if args.JobID == "" {
		return models.Failed("job_id is required for remove"), nil
	}
	removed, err := c.store.Remove(args.JobID)
	if err != nil {
		return models.Failed(err.Error()), nil
	}
	if !removed {
		return &models.ToolResult{Output: fmt.Sprintf("Job %s not found", args.JobID), Error: "Job not found"}, nil
	}
	return models.OK(fmt.Sprintf("Job %s removed", args.JobID)), nil
}

func (c *cronSkill) update(args *cronArgs) (*models.ToolResult, error) {
	if args.JobID == "" {
		return models.Failed("job_id is required for update"), nil
	}
	patch := cron.Patch{Label: args.Label, Task: args.Task, Enabled: args.Enabled}
	if args.ScheduleValue != "" {
		scheduleType := args.ScheduleType
		if scheduleType == "" {
			scheduleType = string(cron.ScheduleCron)
		}
		schedule, err := cron.ParseSchedule(scheduleType, args.ScheduleValue)
		if err != nil {
			return models.Failed(err.Error()), nil
		}
		patch.Schedule = &schedule
	}
	job, ok, err := c.store.Update(args.JobID, patch)
	if err != nil {
		return models.Failed(err.Error()), nil
	}
	if !ok {
		return models.Failed(fmt.Sprintf("Job %s not found", args.JobID)), nil
	}
	return jsonResult(map[string]any{"message": fmt.Sprintf("Job %s updated", args.JobID), "job": job})
}

// gateway maps a gateway_* action onto the gateway's cron.* methods.
func (c *cronSkill) gateway(ctx context.Context, args *cronArgs, env Env) (*models.ToolResult, error) {
	if !env.Bridge.Connected() {
		return models.Failed(fmt.Sprintf("Gateway not connected. %s requires a running Gateway.", args.Action)), nil
	}

	var method string
	params := map[string]any{}
	switch args.Action {
	case "gateway_list":
		method = "cron.list"
	case "gateway_status":
		method = "cron.status"
	case "gateway_add":
		scheduleType := args.ScheduleType
		if scheduleType == "" {
			scheduleType = string(cron.ScheduleCron)
		}
		schedule, err := cron.ParseSchedule(scheduleType, args.ScheduleValue)
		if err != nil {
			return models.Failed(err.Error()), nil
		}
		method = "cron.add"
		params["name"] = args.label("Unnamed job")
		params["schedule"] = schedule
	default:
		if args.JobID == "" {
			return models.Failed("job_id is required for " + args.Action), nil
		}
		method = map[string]string{
			"gateway_run":    "cron.run",
			"gateway_runs":   "cron.runs",
			"gateway_remove": "cron.remove",
		}[args.Action]
		params["jobId"] = args.JobID
	}

	if !env.Bridge.Supports(method) {
		return models.Failed(fmt.Sprintf("Gateway does not support %s. Use the local %s action instead.", method, localAction(args.Action))), nil
	}

	payload, err := env.Bridge.Call(ctx, method, params)
	if err != nil {
		return models.Failed(err.Error()), nil
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return models.OK(string(payload)), nil
}

// localAction names the store-backed counterpart of a gateway_* action.
func localAction(action string) string {
	switch action {
	case "gateway_add":
		return "add"
	case "gateway_remove":
		return "remove"
	default:
		return "list"
	}
}

func jsonResult(v any) (*models.ToolResult, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return models.OK(string(out)), nil
}
