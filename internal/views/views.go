// Package views compiles index map functions and evaluates them against documents.
package views

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrEthical07/goRegistry/store"
	"github.com/google/cel-go/cel"
)

// ReduceCount is the only built-in reduction: the number of emitted rows.
const ReduceCount = "_count"

// View is a compiled index definition.
type View struct {
	Document string
	store.IndexDefinition

	program cel.Program
}

// Key returns the document-qualified name, "<document>/<index>".
func (v *View) Key() string {
	return v.Document + "/" + v.Name
}

// Compiler compiles map predicates in a shared CEL environment.
type Compiler struct {
	env *cel.Env
}

// NewCompiler creates a compiler exposing `meta` (id, expiration) and `doc`
// (the decoded JSON body, or null for non-JSON values).
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("meta", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("doc", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("CEL environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Compile validates and compiles one definition of the named document.
func (c *Compiler) Compile(document string, def store.IndexDefinition) (*View, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("%w: empty index name in %s", store.ErrIndexRejected, document)
	}
	if def.Reduce != "" && def.Reduce != ReduceCount {
		return nil, fmt.Errorf("%w: unsupported reduce %q on %s/%s", store.ErrIndexRejected, def.Reduce, document, def.Name)
	}

	source := strings.TrimSpace(def.Map)
	if source == "" {
		source = "true"
	}

	ast, issues := c.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: CEL compile error in %s/%s: %v", store.ErrIndexRejected, document, def.Name, issues.Err())
	}
	switch out := ast.OutputType().String(); out {
	case "bool", "dyn":
	default:
		return nil, fmt.Errorf("%w: map of %s/%s must be boolean, got %s", store.ErrIndexRejected, document, def.Name, out)
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: CEL program creation error in %s/%s: %v", store.ErrIndexRejected, document, def.Name, err)
	}

	return &View{
		Document:        document,
		IndexDefinition: def,
		program:         prg,
	}, nil
}

// CompileDocument compiles every definition of doc.
func (c *Compiler) CompileDocument(doc store.IndexDocument) ([]*View, error) {
	out := make([]*View, 0, len(doc.Indexes))
	seen := make(map[string]struct{}, len(doc.Indexes))
	for _, def := range doc.Indexes {
		if _, dup := seen[def.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate index %s/%s", store.ErrIndexRejected, doc.Name, def.Name)
		}
		seen[def.Name] = struct{}{}

		v, err := c.Compile(doc.Name, def)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Emits reports whether the document stored at id belongs to the view.
// expiration is the unix-millisecond expiry, 0 when the key never expires.
func (v *View) Emits(id string, expiration int64, value []byte) (bool, error) {
	if v == nil || v.program == nil {
		return false, nil
	}

	var doc interface{}
	if len(value) > 0 && json.Valid(value) {
		if err := json.Unmarshal(value, &doc); err != nil {
			doc = nil
		}
	}

	out, _, err := v.program.Eval(map[string]interface{}{
		"meta": map[string]interface{}{
			"id":         id,
			"expiration": expiration,
		},
		"doc": doc,
	})
	if err != nil {
		// A predicate that cannot be evaluated for this document (missing
		// field, wrong type) does not emit it.
		return false, nil
	}

	emit, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("map of %s did not return a boolean: %T", v.Key(), out.Value())
	}
	return emit, nil
}

// Counts reports whether the view reduces to a row count.
func (v *View) Counts() bool {
	return v != nil && v.Reduce == ReduceCount
}
