// Package classify implements the identifier classifier (C2): for each Name
// node in a parsed formula, decide whether it denotes a reserved word, an
// entity-id, a variable (with optional attribute-access chain), a
// cross-sensor reference, or remains unresolved until resolution time
// (spec §4.2).
package classify

import (
	"synsensors/core/ast"
	internalerrors "synsensors/internal/errors"
)

// Kind is the classification outcome for one Name node.
type Kind int

const (
	KindReserved Kind = iota
	KindEntity
	KindVariable
	KindVariableAttribute
	KindCrossSensor
	KindUnresolved
)

func (k Kind) String() string {
	switch k {
	case KindReserved:
		return "reserved"
	case KindEntity:
		return "entity"
	case KindVariable:
		return "variable"
	case KindVariableAttribute:
		return "variable_attribute"
	case KindCrossSensor:
		return "cross_sensor"
	case KindUnresolved:
		return "unresolved"
	default:
		return "invalid"
	}
}

// Classification is the result of classifying one Name node.
type Classification struct {
	Kind Kind
	Name *ast.Name

	// EntityID is set when Kind == KindEntity: "domain.object".
	EntityID string
	// VariableName is set when Kind == KindVariable or
	// KindVariableAttribute: the variable (first segment).
	VariableName string
	// AttributeChain is set when Kind == KindEntity or
	// KindVariableAttribute: the segments after the entity-id/variable.
	AttributeChain []string
	// SensorID is set when Kind == KindCrossSensor.
	SensorID string
}

// Scope supplies the host-provided inputs the classifier needs: the set of
// recognized entity-id domains, the variables in scope for the current
// formula, and the registry of other sensors' unique_ids.
type Scope struct {
	// Domains is required (spec §4.2: "the classifier MUST NOT proceed if
	// no domain list is available").
	Domains   map[string]struct{}
	Variables map[string]struct{}
	SensorIDs map[string]struct{}

	// SelfSensorID is the unique_id of the sensor whose attribute formula is
	// currently being classified, if any. A bare identifier equal to it is
	// the sensor referencing its own main result and is rewritten to the
	// `state` token rather than classified as a cross-sensor reference
	// (spec §4.5.1). Left empty for a main formula, where no such rewrite
	// applies.
	SelfSensorID string
}

// Classify classifies name within scope. Returns a *errors.Error of type
// TypeValidation if scope.Domains is nil or empty.
func Classify(name *ast.Name, scope Scope) (Classification, error) {
	if len(scope.Domains) == 0 {
		return Classification{}, internalerrors.Validation(
			"identifier classification requires a non-empty entity-domain list")
	}

	first := name.Segments[0]
	dotted := len(name.Segments) > 1

	// Rule 1: reserved.
	if !dotted && IsReserved(first) {
		return Classification{Kind: KindReserved, Name: name}, nil
	}

	// Rule 2: dotted, first segment is a known domain -> entity-id.
	if dotted {
		if _, isDomain := scope.Domains[first]; isDomain {
			return Classification{
				Kind:           KindEntity,
				Name:           name,
				EntityID:       first + "." + name.Segments[1],
				AttributeChain: append([]string(nil), name.Segments[2:]...),
			}, nil
		}
	}

	// Rule 3: dotted, first segment is a variable in scope -> variable +
	// attribute chain.
	if dotted {
		if _, isVar := scope.Variables[first]; isVar {
			return Classification{
				Kind:           KindVariableAttribute,
				Name:           name,
				VariableName:   first,
				AttributeChain: append([]string(nil), name.Segments[1:]...),
			}, nil
		}
	}

	// Rule 4: bare, equal to a variable in scope -> variable.
	if !dotted {
		if _, isVar := scope.Variables[first]; isVar {
			return Classification{Kind: KindVariable, Name: name, VariableName: first}, nil
		}
	}

	// Rule 5: bare, equal to the enclosing attribute formula's own sensor ->
	// same-cycle self-reference, rewritten to the `state` token so it reads
	// the main formula's just-computed value instead of the stale,
	// previous-cycle entry a cross-sensor lookup would find.
	if !dotted && scope.SelfSensorID != "" && first == scope.SelfSensorID {
		return Classification{Kind: KindReserved, Name: &ast.Name{Segments: []string{"state"}, Rng: name.Rng}}, nil
	}

	// Rule 6: bare, equal to another sensor's unique_id -> cross-sensor.
	if !dotted {
		if _, isSensor := scope.SensorIDs[first]; isSensor {
			return Classification{Kind: KindCrossSensor, Name: name, SensorID: first}, nil
		}
	}

	// Rule 7: deferred to resolution.
	return Classification{Kind: KindUnresolved, Name: name}, nil
}

// ClassifyAll classifies every Name node reachable from root.
func ClassifyAll(root ast.Node, scope Scope) ([]Classification, error) {
	var (
		out     []Classification
		firstEr error
	)
	ast.Walk(root, func(n *ast.Name) {
		if firstEr != nil {
			return
		}
		c, err := Classify(n, scope)
		if err != nil {
			firstEr = err
			return
		}
		out = append(out, c)
	}, nil)
	if firstEr != nil {
		return nil, firstEr
	}
	return out, nil
}
