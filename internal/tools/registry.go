package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
	"github.com/capitalize-ai/agent-platform/internal/model"
)

// Registry maps tool names to implementations. It is built once at startup
// and is read-only afterwards, so lookups need no locking.
type Registry struct {
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	order   []string
}

// NewRegistry compiles the parameter schema of every tool and rejects
// duplicate names.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]Tool, len(tools)),
		schemas: make(map[string]*jsonschema.Schema, len(tools)),
	}

	for _, t := range tools {
		spec := t.Spec()
		if spec.Name == "" {
			return nil, errors.New("tool with empty name")
		}
		if _, dup := r.tools[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", spec.Name)
		}

		schema, err := compileSchema(spec)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for %s: %w", spec.Name, err)
		}

		r.tools[spec.Name] = t
		r.schemas[spec.Name] = schema
		r.order = append(r.order, spec.Name)
	}

	return r, nil
}

func compileSchema(spec model.ToolSpec) (*jsonschema.Schema, error) {
	if len(spec.Parameters) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(spec.Parameters)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	url := spec.Name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Specs returns every tool spec in registration order.
func (r *Registry) Specs() []model.ToolSpec {
	specs := make([]model.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Validate checks args against the tool's parameter schema. Unknown tools and
// schema violations are reported as *agenterr.ValidationError.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	schema, ok := r.schemas[name]
	if !ok {
		if _, known := r.tools[name]; known {
			return nil
		}
		return &agenterr.ValidationError{Tool: name, Reason: "unknown tool"}
	}
	if schema == nil {
		return nil
	}

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return &agenterr.ValidationError{Tool: name, Reason: "arguments are not valid JSON"}
	}
	if _, isObject := inst.(map[string]any); !isObject {
		return &agenterr.ValidationError{Tool: name, Reason: "arguments must be a JSON object"}
	}

	if err := schema.Validate(inst); err != nil {
		return &agenterr.ValidationError{Tool: name, Reason: validationReason(err)}
	}
	return nil
}

// validationReason flattens a multi-line schema validation error into one line.
func validationReason(err error) string {
	lines := strings.Split(err.Error(), "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line == "" || strings.HasPrefix(line, "jsonschema validation failed") {
			continue
		}
		parts = append(parts, line)
	}
	if len(parts) == 0 {
		return err.Error()
	}
	return strings.Join(parts, "; ")
}
