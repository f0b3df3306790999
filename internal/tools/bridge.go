package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nextain/naia-agent/internal/gateway"
	"github.com/nextain/naia-agent/internal/sandbox"
	"github.com/nextain/naia-agent/pkg/models"
)

// RPC is the gateway surface the tools need. *gateway.Client implements it.
type RPC interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	IsConnected() bool
}

// MethodAdvertiser is implemented by gateways that report their method set
// on connect. *gateway.Client implements it.
type MethodAdvertiser interface {
	HasMethod(method string) bool
	AvailableMethods() []string
}

var _ MethodAdvertiser = (*gateway.Client)(nil)

// ErrGatewayNotConnected is reported by every gateway tool when the chat
// request has no live gateway connection.
var ErrGatewayNotConnected = errors.New("Gateway not connected")

// DefaultCallTimeout bounds a single gateway round trip.
const DefaultCallTimeout = 2 * time.Minute

// Bridge runs tools on the remote execution host through gateway RPCs.
type Bridge struct {
	rpc     RPC
	timeout time.Duration
}

// NewBridge creates a bridge. rpc may be nil when no gateway is configured;
// the tools then fail with ErrGatewayNotConnected.
func NewBridge(rpc RPC, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Bridge{rpc: rpc, timeout: timeout}
}

// Connected reports whether the bridge has a live gateway.
func (b *Bridge) Connected() bool {
	return b != nil && b.rpc != nil && b.rpc.IsConnected()
}

// Supports reports whether the connected gateway serves method. Gateways
// that do not advertise methods are assumed to serve everything.
func (b *Bridge) Supports(method string) bool {
	if !b.Connected() {
		return false
	}
	if adv, ok := b.rpc.(MethodAdvertiser); ok {
		return adv.HasMethod(method)
	}
	return true
}

// Methods returns the advertised method set, or nil when unknown.
func (b *Bridge) Methods() []string {
	if !b.Connected() {
		return nil
	}
	if adv, ok := b.rpc.(MethodAdvertiser); ok {
		return adv.AvailableMethods()
	}
	return nil
}

// Call performs one RPC with the bridge timeout applied.
func (b *Bridge) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return b.callFor(ctx, b.timeout, method, params)
}

func (b *Bridge) callFor(ctx context.Context, timeout time.Duration, method string, params any) (json.RawMessage, error) {
	if !b.Connected() {
		return nil, ErrGatewayNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	payload, err := b.rpc.Request(ctx, method, params)
	if errors.Is(err, gateway.ErrNotConnected) {
		return nil, ErrGatewayNotConnected
	}
	return payload, err
}

// BashResult is the payload of exec.bash.
type BashResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Output   string `json:"output"`
	ExitCode *int   `json:"exitCode"`
}

// Exit returns the exit code; a missing code counts as success.
func (r *BashResult) Exit() int {
	if r.ExitCode == nil {
		return 0
	}
	return *r.ExitCode
}

// Text returns stdout, falling back to the combined output field.
func (r *BashResult) Text() string {
	if r.Stdout != "" {
		return r.Stdout
	}
	return r.Output
}

// Failure renders a non-zero exit as an error string.
func (r *BashResult) Failure() string {
	if msg := strings.TrimSpace(r.Stderr); msg != "" {
		return msg
	}
	return fmt.Sprintf("exit code %d", r.Exit())
}

// Bash runs command through exec.bash.
func (b *Bridge) Bash(ctx context.Context, command, workdir string) (*BashResult, error) {
	params := map[string]any{"command": command}
	if workdir != "" {
		params["workdir"] = workdir
	}
	payload, err := b.Call(ctx, "exec.bash", params)
	if err != nil {
		return nil, err
	}
	var res BashResult
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &res); err != nil {
			return nil, fmt.Errorf("decode exec.bash result: %w", err)
		}
	}
	return &res, nil
}

// InvokeSkillMethod is the gateway method behind InvokeSkill.
const InvokeSkillMethod = "skills.invoke"

// InvokeSkill runs a gateway-hosted skill through skills.invoke and renders
// its payload as text.
func (b *Bridge) InvokeSkill(ctx context.Context, skill string, args any) (string, error) {
	payload, err := b.Call(ctx, InvokeSkillMethod, map[string]any{"skill": skill, "args": args})
	if err != nil {
		return "", err
	}
	return PayloadText(payload), nil
}

// PayloadText returns a JSON string payload unquoted and anything else as
// raw JSON.
func PayloadText(payload json.RawMessage) string {
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s
	}
	return string(payload)
}

// Tools returns the fixed gateway tool set.
func (b *Bridge) Tools() []Tool {
	return []Tool{
		&executeCommandTool{bridge: b},
		&readFileTool{bridge: b},
		&writeFileTool{bridge: b},
		&applyDiffTool{bridge: b},
		&searchFilesTool{bridge: b},
		&webSearchTool{bridge: b},
		&browserTool{bridge: b},
		&sessionsSpawnTool{bridge: b},
	}
}

// Register adds the gateway tool set to reg.
func (b *Bridge) Register(reg *Registry) error {
	for _, t := range b.Tools() {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func failedFrom(err error) *models.ToolResult {
	return models.Failed(err.Error())
}

// execute_command

type executeCommandArgs struct {
	Command string `json:"command" jsonschema_description:"The shell command to execute"`
	Workdir string `json:"workdir,omitempty" jsonschema_description:"Working directory (optional, defaults to home)"`
}

type executeCommandTool struct{ bridge *Bridge }

func (t *executeCommandTool) Name() string { return "execute_command" }
func (t *executeCommandTool) Description() string {
	return "Execute a shell command on the system. Use for installing packages, running scripts, git operations, etc."
}
func (t *executeCommandTool) Schema() json.RawMessage { return SchemaFor(&executeCommandArgs{}) }

func (t *executeCommandTool) Execute(ctx context.Context, raw json.RawMessage) (*models.ToolResult, error) {
	var args executeCommandArgs
	if err := decodeArgs(raw, &args); err != nil {
		return models.Failed("Invalid parameters: " + err.Error()), nil
	}
	if strings.TrimSpace(args.Command) == "" {
		return models.Failed("command is required"), nil
	}
	if err := sandbox.CheckCommand(args.Command); err != nil {
		return failedFrom(err), nil
	}
	res, err := t.bridge.Bash(ctx, args.Command, args.Workdir)
	if err != nil {
		return failedFrom(err), nil
	}
	out := res.Text()
	if out == "" {
		out = res.Stderr
	}
	if res.Exit() != 0 {
		return &models.ToolResult{Success: false, Output: out, Error: res.Failure()}, nil
	}
	return models.OK(out), nil
}

// read_file

type readFileArgs struct {
	Path string `json:"path" jsonschema_description:"Absolute or relative file path"`
}

type readFileTool struct{ bridge *Bridge }

func (t *readFileTool) Name() string            { return "read_file" }
func (t *readFileTool) Description() string     { return "Read the contents of a file at the given path." }
func (t *readFileTool) Schema() json.RawMessage { return SchemaFor(&readFileArgs{}) }

func (t *readFileTool) Execute(ctx context.Context, raw json.RawMessage) (*models.ToolResult, error) {
	var args readFileArgs
	if err := decodeArgs(raw, &args); err != nil {
		return models.Failed("Invalid parameters: " + err.Error()), nil
	}
	if err := sandbox.ValidatePath(args.Path); err != nil {
		return failedFrom(err), nil
	}
	content, err := t.bridge.readFile(ctx, args.Path)
	if err != nil {
		return failedFrom(err), nil
	}
	return models.OK(content), nil
}

func (b *Bridge) readFile(ctx context.Context, path string) (string, error) {
	res, err := b.Bash(ctx, "cat "+sandbox.Quote(path), "")
	if err != nil {
		return "", err
	}
	if res.Exit() != 0 {
		return "", errors.New(res.Failure())
	}
	return res.Text(), nil
}

// write_file

type writeFileArgs struct {
	Path    string `json:"path" jsonschema_description:"File path to write to"`
	Content string `json:"content" jsonschema_description:"Content to write"`
}

type writeFileTool struct{ bridge *Bridge }

func (t *writeFileTool) Name() string { return "write_file" }
func (t *writeFileTool) Description() string {
	return "Write content to a file, creating it if it does not exist."
}
func (t *writeFileTool) Schema() json.RawMessage { return SchemaFor(&writeFileArgs{}) }

func (t *writeFileTool) Execute(ctx context.Context, raw json.RawMessage) (*models.ToolResult, error) {
	var args writeFileArgs
	if err := decodeArgs(raw, &args); err != nil {
		return models.Failed("Invalid parameters: " + err.Error()), nil
	}
	if err := sandbox.ValidatePath(args.Path); err != nil {
		return failedFrom(err), nil
	}
	if err := t.bridge.writeFile(ctx, args.Path, args.Content); err != nil {
		return failedFrom(err), nil
	}
	return models.OK("File written: " + args.Path), nil
}

// WriteCommand builds the shell command that writes content to path.
func WriteCommand(path, content string) string {
	p := sandbox.Quote(path)
	return fmt.Sprintf(`mkdir -p "$(dirname %s)" && printf '%%s' %s > %s`, p, sandbox.Quote(content), p)
}

func (b *Bridge) writeFile(ctx context.Context, path, content string) error {
	res, err := b.Bash(ctx, WriteCommand(path, content), "")
	if err != nil {
		return err
	}
	if res.Exit() != 0 {
		return errors.New(res.Failure())
	}
	return nil
}

// apply_diff

type applyDiffArgs struct {
	Path    string `json:"path" jsonschema_description:"File to edit"`
	Search  string `json:"search" jsonschema_description:"Exact text to find (first occurrence is replaced)"`
	Replace string `json:"replace" jsonschema_description:"Replacement text"`
}

type applyDiffTool struct{ bridge *Bridge }

func (t *applyDiffTool) Name() string { return "apply_diff" }
func (t *applyDiffTool) Description() string {
	return "Edit a file by replacing the first occurrence of a search string with a replacement."
}
func (t *applyDiffTool) Schema() json.RawMessage { return SchemaFor(&applyDiffArgs{}) }

func (t *applyDiffTool) Execute(ctx context.Context, raw json.RawMessage) (*models.ToolResult, error) {
	var args applyDiffArgs
	if err := decodeArgs(raw, &args); err != nil {
		return models.Failed("Invalid parameters: " + err.Error()), nil
	}
	if err := sandbox.ValidatePath(args.Path); err != nil {
		return failedFrom(err), nil
	}
	if args.Search == "" {
		return models.Failed("search is required"), nil
	}
	content, err := t.bridge.readFile(ctx, args.Path)
	if err != nil {
		return failedFrom(err), nil
	}
	if !strings.Contains(content, args.Search) {
		return models.Failed("Search text not found in " + args.Path), nil
	}
	updated := strings.Replace(content, args.Search, args.Replace, 1)
	if err := t.bridge.writeFile(ctx, args.Path, updated); err != nil {
		return failedFrom(err), nil
	}
	return models.OK("Diff applied: " + args.Path), nil
}

// search_files

type searchFilesArgs struct {
	Pattern string `json:"pattern" jsonschema_description:"Glob pattern for filenames or regex for content search"`
	Path    string `json:"path,omitempty" jsonschema_description:"Directory to search in (defaults to home)"`
	Content bool   `json:"content,omitempty" jsonschema_description:"If true search file contents instead of names"`
}

type searchFilesTool struct{ bridge *Bridge }

func (t *searchFilesTool) Name() string { return "search_files" }
func (t *searchFilesTool) Description() string {
	return "Search for files by name pattern or search file contents with a regex pattern."
}
func (t *searchFilesTool) Schema() json.RawMessage { return SchemaFor(&searchFilesArgs{}) }

func (t *searchFilesTool) Execute(ctx context.Context, raw json.RawMessage) (*models.ToolResult, error) {
	var args searchFilesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return models.Failed("Invalid parameters: " + err.Error()), nil
	}
	if err := sandbox.ValidatePattern(args.Pattern); err != nil {
		return failedFrom(err), nil
	}
	if args.Path != "" {
		if err := sandbox.ValidatePath(args.Path); err != nil {
			return failedFrom(err), nil
		}
	}
	res, err := t.bridge.Bash(ctx, SearchCommand(args.Pattern, args.Path, args.Content), "")
	if err != nil {
		return failedFrom(err), nil
	}
	out := res.Text()
	if strings.TrimSpace(out) == "" {
		out = "No matches found"
	}
	return models.OK(out), nil
}

// SearchCommand builds the find or grep invocation for search_files. An
// empty dir searches the home directory. The pattern is passed with -e and
// the root after -- so neither is read as an option.
func SearchCommand(pattern, dir string, content bool) string {
	root := `"$HOME"`
	if dir != "" && dir != "~" {
		root = sandbox.Quote(dir)
	}
	if content {
		return fmt.Sprintf("grep -rl -e %s -- %s 2>/dev/null | head -20", sandbox.Quote(pattern), root)
	}
	return fmt.Sprintf("find %s -name %s 2>/dev/null | head -20", root, sandbox.Quote(pattern))
}

// web_search

type webSearchArgs struct {
	Query string `json:"query" jsonschema_description:"Search query"`
}

type webSearchTool struct{ bridge *Bridge }

func (t *webSearchTool) Name() string            { return "web_search" }
func (t *webSearchTool) Description() string     { return "Search the web for information." }
func (t *webSearchTool) Schema() json.RawMessage { return SchemaFor(&webSearchArgs{}) }

func (t *webSearchTool) Execute(ctx context.Context, raw json.RawMessage) (*models.ToolResult, error) {
	var args webSearchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return models.Failed("Invalid parameters: " + err.Error()), nil
	}
	out, err := t.bridge.InvokeSkill(ctx, "web-search", map[string]any{"query": args.Query})
	if err != nil {
		if errors.Is(err, ErrGatewayNotConnected) {
			return failedFrom(err), nil
		}
		return models.Failed("Web search failed: " + err.Error()), nil
	}
	return models.OK(out), nil
}

// browser

type browserArgs struct {
	URL string `json:"url" jsonschema_description:"Page URL to open"`
}

type browserTool struct{ bridge *Bridge }

func (t *browserTool) Name() string { return "browser" }
func (t *browserTool) Description() string {
	return "Open a web page in the gateway's browser and return its readable content."
}
func (t *browserTool) Schema() json.RawMessage { return SchemaFor(&browserArgs{}) }

func (t *browserTool) Execute(ctx context.Context, raw json.RawMessage) (*models.ToolResult, error) {
	var args browserArgs
	if err := decodeArgs(raw, &args); err != nil {
		return models.Failed("Invalid parameters: " + err.Error()), nil
	}
	out, err := t.bridge.InvokeSkill(ctx, "browser", map[string]any{"url": args.URL})
	if err != nil {
		return failedFrom(err), nil
	}
	return models.OK(out), nil
}
