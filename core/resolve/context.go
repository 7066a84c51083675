// Package resolve implements the layered EvaluationContext and the
// resolver chain (C5): the piece of the engine that turns a classified
// identifier into a concrete values.ReferenceValue, trying context,
// computed-variable, cross-sensor, entity-data-provider,
// entity-host-state, attribute-access, and state-token in that order
// (spec §4.5). This is grounded in the teacher's core/expression.Context
// (a parent-linked map with a resolve dispatch by reference kind) but
// replaces its count/each/module iteration model with the engine's
// globals/sensor/formula/attribute layer stack (spec §3).
package resolve

import "synsensors/core/values"

// layer is one level of the stacked context.
type layer struct {
	values map[string]values.ReferenceValue
}

func newLayer() *layer {
	return &layer{values: make(map[string]values.ReferenceValue)}
}

// EvaluationContext is the hierarchical key->ReferenceValue mapping a
// single sensor evaluation is built from. Layers bottom to top: globals,
// sensor-scope variables, formula-scope variables, attribute-scope. Reads
// walk top to bottom; writes always go to the current top layer.
type EvaluationContext struct {
	layers []*layer
}

// NewEvaluationContext returns a context seeded with one globals layer.
func NewEvaluationContext() *EvaluationContext {
	return &EvaluationContext{layers: []*layer{newLayer()}}
}

// Push opens a new top layer (e.g. entering formula scope, then attribute
// scope).
func (c *EvaluationContext) Push() {
	c.layers = append(c.layers, newLayer())
}

// Pop discards the current top layer. Never pops the last (globals) layer.
func (c *EvaluationContext) Pop() {
	if len(c.layers) <= 1 {
		return
	}
	c.layers = c.layers[:len(c.layers)-1]
}

// Depth reports the current number of layers.
func (c *EvaluationContext) Depth() int { return len(c.layers) }

// Set writes into the current top layer.
func (c *EvaluationContext) Set(key string, rv values.ReferenceValue) {
	c.layers[len(c.layers)-1].values[key] = rv
}

// Get reads key, walking from the top layer down to globals.
func (c *EvaluationContext) Get(key string) (values.ReferenceValue, bool) {
	for i := len(c.layers) - 1; i >= 0; i-- {
		if rv, ok := c.layers[i].values[key]; ok {
			return rv, true
		}
	}
	return values.ReferenceValue{}, false
}

// Snapshot returns a shallow copy suitable for a temporary scratch layer
// (used by the alternate-state handler dispatcher, C8, to evaluate a
// handler's {formula, variables} object without mutating the caller's
// context beyond that one evaluation).
func (c *EvaluationContext) Snapshot() *EvaluationContext {
	clone := &EvaluationContext{layers: make([]*layer, len(c.layers))}
	for i, l := range c.layers {
		nl := newLayer()
		for k, v := range l.values {
			nl.values[k] = v
		}
		clone.layers[i] = nl
	}
	return clone
}
