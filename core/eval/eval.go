// Package eval implements the expression evaluator (C7): executes a parsed
// formula's AST against values extracted from the EvaluationContext,
// dispatching calls through the fixed function library (core/eval/funcs).
package eval

import (
	rootconfig "synsensors/config"
	"synsensors/core/ast"
	"synsensors/core/classify"
	"synsensors/core/eval/funcs"
	"synsensors/core/parse"
	"synsensors/core/resolve"
	"synsensors/core/values"
	internalerrors "synsensors/internal/errors"
)

// Evaluator executes formulas. It implements resolve.FormulaEvaluator so
// the resolver's computed-variable stage can recurse back into it.
type Evaluator struct {
	Resolver     *resolve.Resolver
	BooleanNames map[string]bool

	// curScope/curVariables hold the classification scope for the
	// in-progress Evaluate call, so evalCall's metadata() handling can
	// re-classify its first argument without threading scope through
	// every evalNode signature. Safe under the engine's single-threaded,
	// non-reentrant evaluation model (spec §5).
	curScope     classify.Scope
	curVariables map[string]rootconfig.VariableValue
}

// New constructs an Evaluator wired to resolver, with the default boolean
// state-name table plus any host-declared extra pairs.
func New(resolver *resolve.Resolver, extraBooleanStates ...values.BooleanStatePair) *Evaluator {
	return &Evaluator{
		Resolver:     resolver,
		BooleanNames: values.BooleanNameTable(extraBooleanStates...),
	}
}

// EvaluateFormula parses and evaluates formula. Satisfies
// resolve.FormulaEvaluator.
func (e *Evaluator) EvaluateFormula(formula string, ctx *resolve.EvaluationContext, scope classify.Scope, variables map[string]rootconfig.VariableValue) (values.Value, error) {
	node, err := parse.Parse(formula)
	if err != nil {
		return values.Value{}, err
	}
	return e.Evaluate(node, ctx, scope, variables)
}

// SingleName reports whether root is exactly one bare Name node — the
// pre-evaluation shortcut condition from spec §4.6 ("if the resolved
// formula is exactly one token that resolves to a non-OK AlternateState,
// skip C7 entirely").
func SingleName(root ast.Node) (*ast.Name, bool) {
	n, ok := root.(*ast.Name)
	return n, ok
}

// Evaluate executes root's AST. Each Name node is resolved exactly once
// (via the resolver chain, or directly from the boolean state-name table)
// and memoized for the duration of this call so unused variables never
// touch the resolver (spec §4.7) and repeated references are cheap.
func (e *Evaluator) Evaluate(root ast.Node, ctx *resolve.EvaluationContext, scope classify.Scope, variables map[string]rootconfig.VariableValue) (values.Value, error) {
	e.curScope = scope
	e.curVariables = variables

	env := make(map[string]values.Value)
	for _, n := range ast.Names(root) {
		v, err := e.resolveName(n, ctx, scope, variables)
		if err != nil {
			return values.Value{}, err
		}
		env[n.Raw()] = v
	}
	return e.evalNode(root, env)
}

func (e *Evaluator) resolveName(n *ast.Name, ctx *resolve.EvaluationContext, scope classify.Scope, variables map[string]rootconfig.VariableValue) (values.Value, error) {
	c, err := classify.Classify(n, scope)
	if err != nil {
		return values.Value{}, err
	}
	if c.Kind == classify.KindUnresolved && len(n.Segments) == 1 {
		if b, ok := e.BooleanNames[n.Segments[0]]; ok {
			return values.Bool(b), nil
		}
	}
	rv, err := e.Resolver.Resolve(ctx, c, variables, scope)
	if err != nil {
		return values.Value{}, err
	}
	// A boolean-like entity state string ("on", "off", ...) is normalized
	// through the same table, so `binary_sensor.door == on` compares Bools.
	if c.Kind == classify.KindEntity && len(c.AttributeChain) == 0 {
		if s, ok := rv.Value.AsString(); ok {
			if b, ok := e.BooleanNames[s]; ok {
				return values.Bool(b), nil
			}
		}
	}
	return rv.Value, nil
}

func (e *Evaluator) evalNode(n ast.Node, env map[string]values.Value) (values.Value, error) {
	switch node := n.(type) {
	case *ast.Number:
		return values.Number(node.Value), nil
	case *ast.Str:
		return values.String(node.Value), nil
	case *ast.Bool:
		return values.Bool(node.Value), nil
	case *ast.NullLit:
		return values.Null(), nil
	case *ast.Name:
		v, ok := env[node.Raw()]
		if !ok {
			return values.Value{}, internalerrors.Internal("eval: name not pre-resolved: "+node.Raw(), nil)
		}
		return v, nil
	case *ast.UnaryOp:
		return e.evalUnary(node, env)
	case *ast.BinaryOp:
		return e.evalBinary(node, env)
	case *ast.Conditional:
		return e.evalConditional(node, env)
	case *ast.Call:
		return e.evalCall(node, env)
	default:
		return values.Value{}, internalerrors.Internal("eval: unhandled node type", nil)
	}
}

func (e *Evaluator) evalUnary(node *ast.UnaryOp, env map[string]values.Value) (values.Value, error) {
	x, err := e.evalNode(node.X, env)
	if err != nil {
		return values.Value{}, err
	}
	if x.IsAlternate() {
		return x, nil
	}
	switch node.Op {
	case "-":
		n, ok := x.AsNumber()
		if !ok {
			return values.Value{}, internalerrors.Domain("unary '-' requires a numeric operand")
		}
		return values.Number(-n), nil
	case "not":
		return values.Bool(!truthy(x)), nil
	default:
		return values.Value{}, internalerrors.Internal("eval: unknown unary operator "+node.Op, nil)
	}
}

func (e *Evaluator) evalConditional(node *ast.Conditional, env map[string]values.Value) (values.Value, error) {
	cond, err := e.evalNode(node.Cond, env)
	if err != nil {
		return values.Value{}, err
	}
	if cond.IsAlternate() {
		return cond, nil
	}
	if truthy(cond) {
		return e.evalNode(node.Then, env)
	}
	return e.evalNode(node.Else, env)
}

func (e *Evaluator) evalBinary(node *ast.BinaryOp, env map[string]values.Value) (values.Value, error) {
	// Logical operators short-circuit, so the right operand is only
	// evaluated when needed.
	if node.Op == "and" || node.Op == "or" {
		left, err := e.evalNode(node.Left, env)
		if err != nil {
			return values.Value{}, err
		}
		if left.IsAlternate() {
			return left, nil
		}
		lt := truthy(left)
		if node.Op == "and" && !lt {
			return values.Bool(false), nil
		}
		if node.Op == "or" && lt {
			return values.Bool(true), nil
		}
		right, err := e.evalNode(node.Right, env)
		if err != nil {
			return values.Value{}, err
		}
		if right.IsAlternate() {
			return right, nil
		}
		return values.Bool(truthy(right)), nil
	}

	left, err := e.evalNode(node.Left, env)
	if err != nil {
		return values.Value{}, err
	}
	if left.IsAlternate() {
		return left, nil
	}
	right, err := e.evalNode(node.Right, env)
	if err != nil {
		return values.Value{}, err
	}
	if right.IsAlternate() {
		return right, nil
	}

	switch node.Op {
	case "+", "-", "*", "/", "%":
		return arithmetic(node.Op, left, right)
	case "==", "!=":
		return equality(node.Op, left, right)
	case "<", "<=", ">", ">=":
		return ordered(node.Op, left, right)
	default:
		return values.Value{}, internalerrors.Internal("eval: unknown binary operator "+node.Op, nil)
	}
}

func arithmetic(op string, left, right values.Value) (values.Value, error) {
	l, lok := left.AsNumber()
	r, rok := right.AsNumber()
	if !lok || !rok {
		return values.Value{}, internalerrors.Domain("arithmetic operator '" + op + "' requires numeric operands")
	}
	switch op {
	case "+":
		return values.Number(l + r), nil
	case "-":
		return values.Number(l - r), nil
	case "*":
		return values.Number(l * r), nil
	case "/":
		if r == 0 {
			return values.Value{}, internalerrors.Domain("division by zero")
		}
		return values.Number(l / r), nil
	case "%":
		if r == 0 {
			return values.Value{}, internalerrors.Domain("division by zero")
		}
		return values.Number(modFloat(l, r)), nil
	default:
		return values.Value{}, internalerrors.Internal("eval: unknown arithmetic operator "+op, nil)
	}
}

func modFloat(l, r float64) float64 {
	m := l - r*float64(int64(l/r))
	return m
}

func equality(op string, left, right values.Value) (values.Value, error) {
	eq := left.Equals(right)
	// Numbers and strings may compare against each other via == only when
	// literal-equal representations match nothing special is needed here:
	// Value.Equals already requires matching Kind, which is correct for
	// "string comparison with == / != is allowed" (spec §4.7) without
	// coercion.
	if op == "!=" {
		eq = !eq
	}
	return values.Bool(eq), nil
}

func ordered(op string, left, right values.Value) (values.Value, error) {
	l, lok := left.AsNumber()
	r, rok := right.AsNumber()
	if !lok || !rok {
		return values.Value{}, internalerrors.Domain("ordered comparison '" + op + "' on mismatched types")
	}
	switch op {
	case "<":
		return values.Bool(l < r), nil
	case "<=":
		return values.Bool(l <= r), nil
	case ">":
		return values.Bool(l > r), nil
	case ">=":
		return values.Bool(l >= r), nil
	default:
		return values.Value{}, internalerrors.Internal("eval: unknown comparison operator "+op, nil)
	}
}

func truthy(v values.Value) bool {
	switch v.Kind() {
	case values.KindBool:
		b, _ := v.AsBool()
		return b
	case values.KindNumber:
		n, _ := v.AsNumber()
		return n != 0
	case values.KindString:
		s, _ := v.AsString()
		return s != ""
	case values.KindNull:
		return false
	default:
		return false
	}
}

func (e *Evaluator) evalCall(node *ast.Call, env map[string]values.Value) (values.Value, error) {
	if node.Func == "metadata" {
		return e.evalMetadata(node, env)
	}

	fn, ok := funcs.Library[node.Func]
	if !ok {
		return values.Value{}, internalerrors.Domain("unknown function: " + node.Func)
	}

	args := make([]values.Value, len(node.Args))
	for i, a := range node.Args {
		v, err := e.evalNode(a, env)
		if err != nil {
			return values.Value{}, err
		}
		if v.IsAlternate() {
			return v, nil
		}
		args[i] = v
	}

	result, err := fn(args)
	if err != nil {
		return values.Value{}, internalerrors.Domain(node.Func + "(): " + err.Error())
	}
	return result, nil
}

// evalMetadata implements metadata(entity_or_var, "attribute-name"): the
// first argument must be a Name that classifies to an entity, or a
// variable holding an entity-id. Either way, the entity was already
// resolved during env's name pass (it appears as a Name node in the AST),
// so its attributes are already cached on the resolver.
func (e *Evaluator) evalMetadata(node *ast.Call, env map[string]values.Value) (values.Value, error) {
	if len(node.Args) != 2 {
		return values.Value{}, internalerrors.Domain("metadata() requires exactly two arguments")
	}
	nameNode, ok := node.Args[0].(*ast.Name)
	if !ok {
		return values.Value{}, internalerrors.Domain("metadata()'s first argument must be an entity or variable reference")
	}
	keyNode, ok := node.Args[1].(*ast.Str)
	if !ok {
		return values.Value{}, internalerrors.Domain("metadata()'s second argument must be a string literal")
	}

	c, err := classify.Classify(nameNode, e.curScope)
	if err != nil {
		return values.Value{}, err
	}

	var entityID string
	switch c.Kind {
	case classify.KindEntity:
		entityID = c.EntityID
	case classify.KindVariable:
		v, ok := e.curVariables[c.VariableName]
		if !ok || v.Kind != rootconfig.VarEntityID {
			return values.Value{}, internalerrors.Domain("metadata()'s first argument must reference an entity")
		}
		entityID = v.EntityID
	default:
		return values.Value{}, internalerrors.Domain("metadata()'s first argument must reference an entity")
	}

	v, ok := e.Resolver.AttributeOf(entityID, keyNode.Value)
	if !ok {
		return values.Value{}, internalerrors.MissingDependency(entityID + "." + keyNode.Value)
	}
	return v, nil
}
