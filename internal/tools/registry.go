// Package tools provides the tool catalog offered to the model and the
// gateway-backed tools that run on the remote execution host.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nextain/naia-agent/pkg/models"
)

// Tool is one callable offered to the model.
type Tool interface {
	// Name returns the tool name used for function calling.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON Schema of the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool. An error is reported to the model as a failed
	// result; tools that want control over the failure text return
	// models.Failed themselves.
	Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error)
}

// Tool argument limits.
const (
	MaxToolNameLength = 256
	MaxToolArgsSize   = 10 << 20
)

// ErrDuplicateTool is returned when a name is registered twice.
var ErrDuplicateTool = errors.New("tool already registered")

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds the tools of one chat request in registration order and
// validates arguments against each tool's schema before execution.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds tool. A tool whose schema does not compile is rejected.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}
	schema, err := compileSchema(name, tool.Schema())
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = &entry{tool: tool, schema: schema}
	r.order = append(r.order, name)
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Names lists registered tools in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definitions returns the catalog in the form sent to providers.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name].tool
		defs = append(defs, models.ToolDefinition{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}

// Run executes call. It never returns nil: unknown tools, invalid
// arguments and tool errors all become failed results.
func (r *Registry) Run(ctx context.Context, call models.ToolCall) *models.ToolResult {
	if len(call.Args) > MaxToolArgsSize {
		return models.Failed(fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxToolArgsSize))
	}

	r.mu.RLock()
	e, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return models.Failed("Unknown tool: " + call.Name)
	}

	args := call.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := validateArgs(e.schema, args); err != nil {
		return models.Failed(fmt.Sprintf("Invalid arguments for %s: %v", call.Name, err))
	}

	result, err := e.tool.Execute(ctx, args)
	if err != nil {
		return models.Failed(err.Error())
	}
	if result == nil {
		return models.Failed("tool returned no result")
	}
	return result
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return schema, nil
}

func validateArgs(schema *jsonschema.Schema, args json.RawMessage) error {
	if schema == nil {
		return nil
	}
	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return errors.New(leafMessage(ve))
		}
		return err
	}
	return nil
}

// leafMessage picks the most specific cause of a validation failure.
func leafMessage(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return ve.Message
	}
	return ve.InstanceLocation + ": " + ve.Message
}
