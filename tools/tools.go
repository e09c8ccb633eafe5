// Package tools implements the tool registry and executor: named
// capabilities with JSON-Schema-described parameters, invoked with timing
// and error capture. Schemas are supplied explicitly at registration time
// rather than derived by runtime reflection over a function signature.
package tools

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Func is the signature every registered tool implements. It receives the
// already-validated argument map and returns a JSON-serialisable result or
// an error. A returned error is captured by the executor as a failed
// Result; it never propagates to the executor's caller.
type Func func(ctx context.Context, arguments map[string]any) (any, error)

// Tool is one registry entry.
type Tool struct {
	Name              string
	Description       string
	ParametersSchema  map[string]any // JSON-Schema object
	Function          Func
}

// NotFoundError is returned by Registry.Lookup for a missing tool name; its
// message enumerates the names that are actually registered.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tools: no tool named %q registered (available: %v)", e.Name, e.Available)
}

// RegistrationError is returned by Registry.Register for an invalid or
// duplicate entry.
type RegistrationError struct {
	Name   string
	Reason string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("tools: cannot register %q: %s", e.Name, e.Reason)
}

// Registry maps tool names to their definitions. The zero value is not
// usable; construct with NewRegistry. A Registry is read-mostly: the
// embedder is expected to finish registration before starting any
// processing loops that execute concurrently against it.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds tool to the registry. Fails if the name is empty, the
// description is empty, the function is nil, or the name is already
// registered.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return &RegistrationError{Name: tool.Name, Reason: "name must not be empty"}
	}
	if tool.Description == "" {
		return &RegistrationError{Name: tool.Name, Reason: "description must not be empty"}
	}
	if tool.Function == nil {
		return &RegistrationError{Name: tool.Name, Reason: "function must not be nil"}
	}
	if _, exists := r.tools[tool.Name]; exists {
		return &RegistrationError{Name: tool.Name, Reason: "a tool with this name is already registered"}
	}
	r.tools[tool.Name] = tool
	return nil
}

// Unregister removes a tool by name. A no-op if the name isn't present.
func (r *Registry) Unregister(name string) {
	delete(r.tools, name)
}

// Lookup resolves name to its Tool, or a *NotFoundError listing the
// available names.
func (r *Registry) Lookup(name string) (Tool, error) {
	tool, ok := r.tools[name]
	if !ok {
		return Tool{}, &NotFoundError{Name: name, Available: r.Names()}
	}
	return tool, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names returns every registered tool name, sorted for deterministic
// output (error messages, declarations sent to the model).
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports how many tools are registered.
func (r *Registry) Len() int { return len(r.tools) }

// Declaration is the subset of a Tool the model client exposes to a
// provider as a callable function.
type Declaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Declarations returns every registered tool's Declaration, sorted by
// name.
func (r *Registry) Declarations() []Declaration {
	names := r.Names()
	decls := make([]Declaration, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		decls = append(decls, Declaration{Name: tool.Name, Description: tool.Description, Parameters: tool.ParametersSchema})
	}
	return decls
}

// Result is the outcome of one tool invocation.
type Result struct {
	ToolName        string
	Success         bool
	Result          any
	ErrorMessage    string
	ExecutionTimeMs int64
}

// Call is one requested invocation: a tool name plus its argument map.
type Call struct {
	Name      string
	Arguments map[string]any
}

// Execute resolves name, validates arguments against its declared schema
// if one is configured, invokes its function, and returns a Result.
// Neither a missing tool, a schema violation, nor a panic from the tool
// function propagates to the caller — all are captured as a failed
// Result. Timing spans from just before the call to just after it
// returns (including on failure).
func Execute(ctx context.Context, registry *Registry, call Call) (res Result) {
	res.ToolName = call.Name
	start := time.Now()
	defer func() {
		res.ExecutionTimeMs = time.Since(start).Milliseconds()
		if r := recover(); r != nil {
			res.Success = false
			res.ErrorMessage = fmt.Sprintf("panic: %v", r)
		}
	}()

	tool, err := registry.Lookup(call.Name)
	if err != nil {
		res.ErrorMessage = err.Error()
		return res
	}

	if tool.ParametersSchema != nil {
		if err := ValidateArguments(tool.ParametersSchema, call.Arguments); err != nil {
			res.ErrorMessage = fmt.Sprintf("SchemaValidationError: %s", err.Error())
			return res
		}
	}

	result, err := tool.Function(ctx, call.Arguments)
	if err != nil {
		res.ErrorMessage = fmt.Sprintf("%T: %s", err, err.Error())
		return res
	}

	res.Success = true
	res.Result = result
	return res
}

// ExecuteBatch runs calls in order against registry, continuing past
// individual failures, and returns one Result per call in input order.
func ExecuteBatch(ctx context.Context, registry *Registry, calls []Call) []Result {
	results := make([]Result, len(calls))
	for i, call := range calls {
		results[i] = Execute(ctx, registry, call)
	}
	return results
}
