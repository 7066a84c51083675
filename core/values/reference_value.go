package values

import "time"

// ReferenceValue is the canonical in-memory representation of every
// resolved identifier during evaluation (spec §3). Raw scalars are never
// placed directly in an EvaluationContext — every setter site wraps its
// payload in a ReferenceValue, so a stale/partial write is always
// attributable to the reference string that produced it.
type ReferenceValue struct {
	// Reference is an entity-id, variable name, attribute-chain path, or a
	// symbolic origin such as "state" or "<sensor_unique_id>".
	Reference string

	// Value is the resolved scalar, possibly an Alternate marker.
	Value Value

	// LastValidState and LastValidChanged record the most recent OK value
	// and when it was observed, for handlers/functions that need "last
	// known good" semantics (e.g. a fallback formula referencing history).
	// Both are absent (nil / zero) until a state has actually been OK at
	// least once.
	LastValidState   *Value
	LastValidChanged time.Time
}

// NewReferenceValue wraps v under reference, with no last-valid record.
func NewReferenceValue(reference string, v Value) ReferenceValue {
	return ReferenceValue{Reference: reference, Value: v}
}

// WithLastValid returns a copy recording v as the last-known-OK value,
// observed at t. The driver (C10) does not call it, so every
// ReferenceValue the engine builds has a nil LastValidState.
func (r ReferenceValue) WithLastValid(v Value, t time.Time) ReferenceValue {
	r.LastValidState = &v
	r.LastValidChanged = t
	return r
}

// AlternateState classifies the wrapped value.
func (r ReferenceValue) AlternateState() AlternateState {
	return Classify(r.Value)
}
