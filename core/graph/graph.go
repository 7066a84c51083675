// Package graph implements the dependency graph and scheduler (C4): one
// node per formula (a sensor's main formula plus each of its attribute
// formulas), edges for the cross-sensor and attribute dependencies
// extracted by core/deps (see Build), cycle
// detection, and a topological sort with the tie-breaks spec §4.4
// requires. This is adapted from the teacher's canonical dependency graph
// (a sealed node/edge store with upstream/downstream traversal) but adds
// the topological sort and cycle-path reporting the teacher's graph never
// needed, since its consumer only ever walked the graph, never scheduled
// it.
package graph

import (
	"sort"

	internalerrors "synsensors/internal/errors"
)

// NodeID identifies a node: a sensor's main formula id, an attribute
// formula id ("<unique_id>_<attr_name>"), or a bare sensor unique_id for a
// cross-sensor edge target.
type NodeID string

// NodeType classifies a node.
type NodeType int

const (
	NodeMain NodeType = iota
	NodeAttribute
	NodeCrossSensor
)

// Node is one formula (or, for NodeCrossSensor, one sensor) in the graph.
type Node struct {
	ID          NodeID
	Type        NodeType
	SensorID    string
	SourceOrder int // position among the sensor's attribute formulas; 0 for main
}

// Graph is a sealed, directed dependency graph. Nodes and edges may only
// be added before Seal() (AddNode/AddEdge panic afterwards); read
// operations do not check whether the graph is sealed.
type Graph struct {
	nodes    map[NodeID]*Node
	deps     map[NodeID]map[NodeID]struct{} // node -> set of nodes it depends on
	dependents map[NodeID]map[NodeID]struct{} // node -> set of nodes that depend on it
	order    []NodeID // insertion order, for stable tie-breaking
	sealed   bool
}

// NewGraph returns an empty, unsealed graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:      make(map[NodeID]*Node),
		deps:       make(map[NodeID]map[NodeID]struct{}),
		dependents: make(map[NodeID]map[NodeID]struct{}),
	}
}

// AddNode registers a node. Panics if called after Seal — a programmer
// error, not a runtime condition callers need to recover from.
func (g *Graph) AddNode(id NodeID, typ NodeType, sensorID string, sourceOrder int) {
	if g.sealed {
		panic("graph: AddNode called on a sealed graph")
	}
	if _, exists := g.nodes[id]; exists {
		return
	}
	g.nodes[id] = &Node{ID: id, Type: typ, SensorID: sensorID, SourceOrder: sourceOrder}
	g.deps[id] = make(map[NodeID]struct{})
	g.dependents[id] = make(map[NodeID]struct{})
	g.order = append(g.order, id)
}

// AddEdge records that `from` depends on `to`: `to` must be evaluated
// before `from`. Both endpoints must already exist via AddNode.
func (g *Graph) AddEdge(from, to NodeID) error {
	if g.sealed {
		panic("graph: AddEdge called on a sealed graph")
	}
	if _, ok := g.nodes[from]; !ok {
		return internalerrors.Internal("graph: AddEdge from unknown node "+string(from), nil)
	}
	if _, ok := g.nodes[to]; !ok {
		return internalerrors.Internal("graph: AddEdge to unknown node "+string(to), nil)
	}
	g.deps[from][to] = struct{}{}
	g.dependents[to][from] = struct{}{}
	return nil
}

// Seal freezes the graph against further mutation.
func (g *Graph) Seal() { g.sealed = true }

// IsSealed reports whether Seal has been called.
func (g *Graph) IsSealed() bool { return g.sealed }

// GetNode returns a node by id.
func (g *Graph) GetNode(id NodeID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// DependenciesOf returns the nodes id directly depends on.
func (g *Graph) DependenciesOf(id NodeID) []NodeID {
	return setToSortedSlice(g.deps[id])
}

// DependentsOf returns the nodes that directly depend on id.
func (g *Graph) DependentsOf(id NodeID) []NodeID {
	return setToSortedSlice(g.dependents[id])
}

// Size returns the node count.
func (g *Graph) Size() int { return len(g.nodes) }

// EdgeCount returns the total edge count.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, set := range g.deps {
		n += len(set)
	}
	return n
}

func setToSortedSlice(set map[NodeID]struct{}) []NodeID {
	out := make([]NodeID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// priority returns the tie-break sort key for Kahn's algorithm among
// simultaneously-ready nodes (spec §4.4): main before attributes within
// the same sensor, then stable source order, then insertion order as a
// final deterministic tiebreak.
func (g *Graph) priority(id NodeID) (typeRank int, sourceOrder int, insertionIndex int) {
	n := g.nodes[id]
	switch n.Type {
	case NodeMain:
		typeRank = 0
	case NodeAttribute:
		typeRank = 1
	case NodeCrossSensor:
		typeRank = 2
	}
	return typeRank, n.SourceOrder, g.insertionIndex(id)
}

func (g *Graph) insertionIndex(id NodeID) int {
	for i, oid := range g.order {
		if oid == id {
			return i
		}
	}
	return len(g.order)
}

// TopologicalOrder returns every node in dependency-respecting order:
// dependencies always precede their dependents, and among nodes that
// become ready simultaneously, the tie-break above picks deterministically.
// Returns a *errors.Error of type TypeCircularDependency carrying the
// offending path if the graph has a cycle.
func (g *Graph) TopologicalOrder() ([]NodeID, error) {
	inDegree := make(map[NodeID]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.deps[id])
	}

	var ready []NodeID
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	result := make([]NodeID, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			ti, si, ii := g.priority(ready[i])
			tj, sj, ij := g.priority(ready[j])
			if ti != tj {
				return ti < tj
			}
			if si != sj {
				return si < sj
			}
			return ii < ij
		})
		next := ready[0]
		ready = ready[1:]
		result = append(result, next)

		for _, dependent := range setToSortedSlice(g.dependents[next]) {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(result) != len(g.nodes) {
		path := g.findCycle()
		return nil, internalerrors.CircularDependency(nodeIDsToStrings(path))
	}
	return result, nil
}

// findCycle returns one concrete cyclic path (DFS with recursion-stack
// tracking), used to populate the circular-dependency error.
func (g *Graph) findCycle() []NodeID {
	const (
		white = iota
		gray
		black
	)
	color := make(map[NodeID]int, len(g.nodes))
	var stack []NodeID
	var cycle []NodeID

	var visit func(id NodeID) bool
	visit = func(id NodeID) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range setToSortedSlice(g.deps[id]) {
			switch color[dep] {
			case white:
				if visit(dep) {
					return true
				}
			case gray:
				// Found the back edge; extract the cycle from the stack.
				start := 0
				for i, sid := range stack {
					if sid == dep {
						start = i
						break
					}
				}
				cycle = append([]NodeID(nil), stack[start:]...)
				cycle = append(cycle, dep)
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

func nodeIDsToStrings(ids []NodeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// EvaluationOrder returns the topological order restricted to nodes
// belonging to sensorID (its main formula plus its attribute formulas),
// per spec §4.4's `evaluation_order(sensor) -> [node_id]`.
func (g *Graph) EvaluationOrder(sensorID string) ([]NodeID, error) {
	full, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	var out []NodeID
	for _, id := range full {
		n := g.nodes[id]
		if n.SensorID == sensorID && n.Type != NodeCrossSensor {
			out = append(out, id)
		}
	}
	return out, nil
}

// CrossSensorOrder returns the topological order restricted to NodeMain
// nodes, i.e. the order in which sensors' main
// formulas must be evaluated relative to one another, per spec §4.4's
// `cross_sensor_order(all_sensors) -> [sensor_id]`.
func (g *Graph) CrossSensorOrder() ([]string, error) {
	full, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, id := range full {
		n := g.nodes[id]
		if n.Type != NodeMain {
			continue
		}
		if _, ok := seen[n.SensorID]; ok {
			continue
		}
		seen[n.SensorID] = struct{}{}
		out = append(out, n.SensorID)
	}
	return out, nil
}
