// Package deps implements the dependency extractor (C3): walks a
// classified formula AST and emits the set of dependencies it needs
// resolved before it can be evaluated (spec §4.3).
package deps

import (
	rootconfig "synsensors/config"
	"synsensors/core/ast"
	"synsensors/core/classify"
	"synsensors/core/parse"
)

// Kind is the dependency category.
type Kind int

const (
	KindEntity Kind = iota
	KindVariable
	KindAttribute
	KindState
	KindCrossSensor
	KindCollection
)

func (k Kind) String() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindVariable:
		return "variable"
	case KindAttribute:
		return "attribute"
	case KindState:
		return "state"
	case KindCrossSensor:
		return "cross_sensor"
	case KindCollection:
		return "collection"
	default:
		return "invalid"
	}
}

// Dependency is one extracted dependency.
type Dependency struct {
	Kind       Kind
	Identifier string // entity-id, variable name, "state", sensor unique_id, or selector raw string
}

// key returns a dedup key so the same dependency surfaced via two distinct
// AST paths (e.g. referenced once bare and once inside metadata(...)) only
// appears once in the result.
func (d Dependency) key() string { return d.Kind.String() + "\x00" + d.Identifier }

// Registry supplies the host-provided inputs needed beyond the formula
// text itself (spec §4.3's "pure function of (formula, variable scope,
// sensor registry, domain list)").
type Registry struct {
	Scope     classify.Scope
	Variables map[string]rootconfig.VariableValue
}

// Extract extracts dependencies from formula. It classifies every Name
// node, recurses into computed-variable formulas, and inspects metadata()
// and aggregation calls. Dependencies from recursion are merged in.
func Extract(formula string, reg Registry) ([]Dependency, error) {
	node, err := parse.Parse(formula)
	if err != nil {
		return nil, err
	}
	return ExtractAST(node, reg)
}

// ExtractAST is Extract over an already-parsed AST.
func ExtractAST(node ast.Node, reg Registry) ([]Dependency, error) {
	seen := make(map[string]struct{})
	var out []Dependency
	visited := make(map[string]bool) // computed-variable recursion guard

	var walk func(n ast.Node) error
	walk = func(n ast.Node) error {
		var names []*ast.Name
		var calls []*ast.Call
		ast.Walk(n, func(nm *ast.Name) { names = append(names, nm) }, func(c *ast.Call) { calls = append(calls, c) })

		for _, nm := range names {
			c, err := classify.Classify(nm, reg.Scope)
			if err != nil {
				return err
			}
			switch c.Kind {
			case classify.KindReserved:
				if c.Name.Raw() == "state" {
					add(seen, &out, Dependency{Kind: KindState, Identifier: "state"})
				}
			case classify.KindEntity:
				add(seen, &out, Dependency{Kind: KindEntity, Identifier: c.EntityID})
			case classify.KindVariable:
				if err := addVariableDep(c.VariableName, reg, seen, &out, visited, walk); err != nil {
					return err
				}
			case classify.KindVariableAttribute:
				add(seen, &out, Dependency{Kind: KindAttribute, Identifier: nm.Raw()})
				if err := addVariableDep(c.VariableName, reg, seen, &out, visited, walk); err != nil {
					return err
				}
			case classify.KindCrossSensor:
				add(seen, &out, Dependency{Kind: KindCrossSensor, Identifier: c.SensorID})
			case classify.KindUnresolved:
				// Deferred to resolution time; C3 extracts nothing for it.
			}
		}

		for _, call := range calls {
			if err := handleCall(call, reg, seen, &out); err != nil {
				return err
			}
			// Recurse into nested calls' own sub-expressions (names/calls
			// inside args were already picked up by the outer ast.Walk
			// call above, since Walk descends into Call.Args).
		}
		return nil
	}

	if err := walk(node); err != nil {
		return nil, err
	}
	return out, nil
}

func add(seen map[string]struct{}, out *[]Dependency, d Dependency) {
	if _, ok := seen[d.key()]; ok {
		return
	}
	seen[d.key()] = struct{}{}
	*out = append(*out, d)
}

// addVariableDep adds the VARIABLE dependency and, if the variable is a
// computed variable, recurses into its formula and merges results.
func addVariableDep(name string, reg Registry, seen map[string]struct{}, out *[]Dependency, visited map[string]bool, walk func(ast.Node) error) error {
	add(seen, out, Dependency{Kind: KindVariable, Identifier: name})

	v, ok := reg.Variables[name]
	if !ok || v.Kind != rootconfig.VarComputed || v.Computed == nil {
		return nil
	}
	if visited[name] {
		return nil // cycle guard; core/graph reports cross-formula cycles authoritatively
	}
	visited[name] = true

	node, err := parse.Parse(v.Computed.Formula)
	if err != nil {
		return err
	}
	return walk(node)
}

// handleCall inspects one Call node for metadata()/aggregation semantics.
func handleCall(call *ast.Call, reg Registry, seen map[string]struct{}, out *[]Dependency) error {
	switch call.Func {
	case "metadata":
		return handleMetadataCall(call, reg, seen, out)
	case "sum", "avg", "count", "min", "max", "std", "var":
		return handleAggregationCall(call, seen, out)
	}
	return nil
}

func handleMetadataCall(call *ast.Call, reg Registry, seen map[string]struct{}, out *[]Dependency) error {
	if len(call.Args) == 0 {
		return nil
	}
	switch first := call.Args[0].(type) {
	case *ast.Name:
		c, err := classify.Classify(first, reg.Scope)
		if err != nil {
			return err
		}
		switch c.Kind {
		case classify.KindEntity:
			add(seen, out, Dependency{Kind: KindEntity, Identifier: c.EntityID})
		case classify.KindVariable:
			add(seen, out, Dependency{Kind: KindVariable, Identifier: c.VariableName})
			if v, ok := reg.Variables[c.VariableName]; ok && v.Kind == rootconfig.VarEntityID {
				if _, isSensor := reg.Scope.SensorIDs[v.EntityID]; isSensor {
					add(seen, out, Dependency{Kind: KindCrossSensor, Identifier: v.EntityID})
				}
			}
		}
	}
	return nil
}

func handleAggregationCall(call *ast.Call, seen map[string]struct{}, out *[]Dependency) error {
	if len(call.Args) == 0 {
		return nil
	}
	lit, ok := call.Args[0].(*ast.Str)
	if !ok {
		return nil // a non-literal selector is evaluated dynamically; nothing to extract statically
	}
	sel, err := ParseSelector(lit.Value)
	if err != nil {
		return err
	}
	add(seen, out, Dependency{Kind: KindCollection, Identifier: sel.Raw})
	return nil
}
