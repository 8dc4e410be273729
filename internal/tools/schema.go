package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/capitalize-ai/agent-platform/internal/model"
)

var reflector = &jsonschema.Reflector{
	DoNotReference: true,
	ExpandedStruct: true,
}

// newSpec reflects the JSON schema of the args struct T into a ToolSpec.
// Fields without omitempty are required.
func newSpec[T any](name, description string) model.ToolSpec {
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		panic("tools: marshal schema for " + name + ": " + err.Error())
	}
	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		panic("tools: unmarshal schema for " + name + ": " + err.Error())
	}
	delete(params, "$schema")
	delete(params, "$id")

	return model.ToolSpec{
		Name:        name,
		Description: description,
		Parameters:  params,
	}
}
