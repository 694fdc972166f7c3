package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Canonical tool names. Role configurations reference these.
const (
	ToolReadFile        = "read_file"
	ToolWriteFile       = "write_file"
	ToolEditFileSnippet = "edit_file_snippet"
	ToolDeleteFile      = "delete_file"
	ToolListDirectory   = "list_directory"
	ToolSearchFiles     = "search_files"
	ToolRunCommand      = "run_command"
)

// Handler executes one tool call with schema-validated arguments.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool is one registered tool: its wire schema and its handler.
type Tool struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
	// Timeout bounds one execution, 0 for the caller's deadline only.
	Timeout time.Duration
	Handler Handler

	compiled *jsonschema.Schema
}

// Result is the outcome of one tool execution.
type Result struct {
	Content  string
	IsError  bool
	Duration time.Duration
}

// Registry holds the tool set for one agent run. Tools register before
// Freeze; execution only works on a frozen registry, so the set the model
// sees is exactly the set that can run.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	frozen bool
}

// NewRegistry creates an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool and compiles its argument schema.
// Registering after Freeze or reusing a name fails.
func (r *Registry) Register(t *Tool) error {
	if r.frozen {
		return fmt.Errorf("registry is frozen")
	}
	if t == nil || t.Name == "" || t.Handler == nil {
		return fmt.Errorf("tool needs a name and a handler")
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Name)
	}

	compiled, err := compileSchema(t)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", t.Name, err)
	}
	t.compiled = compiled

	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Freeze seals the registry against further registration.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Frozen reports whether the registry has been sealed.
func (r *Registry) Frozen() bool {
	return r.frozen
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Execute runs one tool call. Failures never surface as Go errors: unknown
// tools, invalid arguments, and handler errors all come back as error
// results so the model can react to them.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) Result {
	start := time.Now()

	if !r.frozen {
		return Result{Content: "tool registry is not frozen", IsError: true, Duration: time.Since(start)}
	}

	tool, ok := r.tools[name]
	if !ok {
		return Result{
			Content:  fmt.Sprintf("unknown tool %q, available: %s", name, strings.Join(r.order, ", ")),
			IsError:  true,
			Duration: time.Since(start),
		}
	}

	if err := tool.validate(args); err != nil {
		return Result{
			Content:  fmt.Sprintf("invalid arguments for %s: %v", name, err),
			IsError:  true,
			Duration: time.Since(start),
		}
	}

	callCtx := ctx
	if tool.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, tool.Timeout)
		defer cancel()
	}

	content, err := tool.Handler(callCtx, args)
	if err != nil {
		return Result{Content: err.Error(), IsError: true, Duration: time.Since(start)}
	}
	return Result{Content: content, Duration: time.Since(start)}
}

// Definitions returns API tool definitions for the named tools, or every
// registered tool when names is empty. Order follows registration.
func (r *Registry) Definitions(names ...string) []anthropic.ToolUnionParam {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}

	var defs []anthropic.ToolUnionParam
	for _, name := range r.order {
		if len(names) > 0 && !allowed[name] {
			continue
		}
		t := r.tools[name]
		defs = append(defs, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.Properties,
					Required:   t.Required,
				},
			},
		})
	}
	return defs
}

func (t *Tool) validate(args json.RawMessage) error {
	if len(args) == 0 {
		args = []byte("{}")
	}
	var instance any
	if err := json.Unmarshal(args, &instance); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return t.compiled.Validate(instance)
}

func compileSchema(t *Tool) (*jsonschema.Schema, error) {
	properties := t.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(t.Required) > 0 {
		required := make([]any, len(t.Required))
		for i, r := range t.Required {
			required[i] = r
		}
		doc["required"] = required
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(t.Name+".json", doc); err != nil {
		return nil, err
	}
	return c.Compile(t.Name + ".json")
}
