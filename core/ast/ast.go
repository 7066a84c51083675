// Package ast defines the formula AST produced by core/parse (C1) and
// walked by core/classify, core/deps, and core/eval.
package ast

import "github.com/hashicorp/hcl/v2"

// Node is any AST node. Every node carries its source range for diagnostics.
type Node interface {
	Range() hcl.Range
}

// Name is a bare or dotted identifier: "x", "sensor.kitchen_temp",
// "sensor.kitchen_temp.last_changed". Segments holds the dot-separated
// parts; len(Segments) == 1 for a bare identifier.
type Name struct {
	Segments []string
	Rng      hcl.Range
}

func (n *Name) Range() hcl.Range { return n.Rng }

// Raw rejoins Segments with ".", the form used for classification and
// dependency keys.
func (n *Name) Raw() string {
	out := n.Segments[0]
	for _, s := range n.Segments[1:] {
		out += "." + s
	}
	return out
}

// Number is a literal int or float.
type Number struct {
	Value float64
	Rng   hcl.Range
}

func (n *Number) Range() hcl.Range { return n.Rng }

// Str is a literal single- or double-quoted string.
type Str struct {
	Value string
	Rng   hcl.Range
}

func (s *Str) Range() hcl.Range { return s.Rng }

// Bool is a literal True/False.
type Bool struct {
	Value bool
	Rng   hcl.Range
}

func (b *Bool) Range() hcl.Range { return b.Rng }

// NullLit is a literal None.
type NullLit struct {
	Rng hcl.Range
}

func (n *NullLit) Range() hcl.Range { return n.Rng }

// Call is a function call with positional args: f(a, b, c).
type Call struct {
	Func string
	Args []Node
	Rng  hcl.Range
}

func (c *Call) Range() hcl.Range { return c.Rng }

// UnaryOp is one of "-", "not".
type UnaryOp struct {
	Op   string
	X    Node
	Rng  hcl.Range
}

func (u *UnaryOp) Range() hcl.Range { return u.Rng }

// BinaryOp is one of the arithmetic, comparison, or logical binary
// operators: + - * / % == != < <= > >= and or.
type BinaryOp struct {
	Op    string
	Left  Node
	Right Node
	Rng   hcl.Range
}

func (b *BinaryOp) Range() hcl.Range { return b.Rng }

// Conditional is the Python-style ternary: Then if Cond else Else.
type Conditional struct {
	Cond Node
	Then Node
	Else Node
	Rng  hcl.Range
}

func (c *Conditional) Range() hcl.Range { return c.Rng }

// Walk enumerates every Name and Call node reachable from root, in a
// deterministic pre-order traversal. Required by spec §4.1 ("The parser
// MUST expose an AST walker that enumerates every name node and every call
// node") and consumed directly by core/classify and core/deps.
func Walk(root Node, visitName func(*Name), visitCall func(*Call)) {
	if root == nil {
		return
	}
	switch n := root.(type) {
	case *Name:
		if visitName != nil {
			visitName(n)
		}
	case *Call:
		if visitCall != nil {
			visitCall(n)
		}
		for _, arg := range n.Args {
			Walk(arg, visitName, visitCall)
		}
	case *UnaryOp:
		Walk(n.X, visitName, visitCall)
	case *BinaryOp:
		Walk(n.Left, visitName, visitCall)
		Walk(n.Right, visitName, visitCall)
	case *Conditional:
		Walk(n.Cond, visitName, visitCall)
		Walk(n.Then, visitName, visitCall)
		Walk(n.Else, visitName, visitCall)
	case *Number, *Str, *Bool, *NullLit:
		// leaves with no sub-nodes and nothing to report
	}
}

// Names returns every Name node in root, in traversal order.
func Names(root Node) []*Name {
	var out []*Name
	Walk(root, func(n *Name) { out = append(out, n) }, nil)
	return out
}

// Calls returns every Call node in root, in traversal order.
func Calls(root Node) []*Call {
	var out []*Call
	Walk(root, nil, func(c *Call) { out = append(out, c) })
	return out
}
