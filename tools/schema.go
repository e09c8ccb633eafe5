package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateArguments checks arguments against schema, a JSON-Schema object
// as declared on a Tool's ParametersSchema.
func ValidateArguments(schema map[string]any, arguments map[string]any) error {
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal parameters schema: %w", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal parameters schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("parameters.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("parameters.json")
	if err != nil {
		return fmt.Errorf("compile parameters schema: %w", err)
	}

	argsBytes, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	var argsDoc any
	if err := json.Unmarshal(argsBytes, &argsDoc); err != nil {
		return fmt.Errorf("unmarshal arguments: %w", err)
	}

	if err := compiled.Validate(argsDoc); err != nil {
		return err
	}
	return nil
}
