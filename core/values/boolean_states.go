package values

// BooleanStatePair is a (true-name, false-name) pair, e.g. ("on", "off").
type BooleanStatePair struct {
	TrueState  string
	FalseState string
}

// DefaultBooleanStates is the engine's built-in true/false state-string
// table (spec §4.7: "a configurable set of true/false state strings ...
// so that formulas like binary_sensor.door == on evaluate correctly").
// Host config (root config.GlobalSettings.TruthStates) may append pairs;
// later entries win on conflict.
var DefaultBooleanStates = []BooleanStatePair{
	{TrueState: "on", FalseState: "off"},
	{TrueState: "home", FalseState: "not_home"},
	{TrueState: "locked", FalseState: "unlocked"},
	{TrueState: "open", FalseState: "closed"},
	{TrueState: "detected", FalseState: "clear"},
	{TrueState: "connected", FalseState: "disconnected"},
	{TrueState: "wet", FalseState: "dry"},
	{TrueState: "problem", FalseState: "ok"},
	{TrueState: "true", FalseState: "false"},
	{TrueState: "yes", FalseState: "no"},
}

// BooleanNameTable builds a state-string → bool lookup from base plus any
// host-declared extra pairs, later pairs overriding earlier ones on
// conflicting state names. Used by the evaluator (core/eval) to seed the
// name environment so bare identifiers like `on` resolve to Bool(true).
func BooleanNameTable(extra ...BooleanStatePair) map[string]bool {
	table := make(map[string]bool, len(DefaultBooleanStates)+len(extra))
	for _, pair := range DefaultBooleanStates {
		table[pair.TrueState] = true
		table[pair.FalseState] = false
	}
	for _, pair := range extra {
		table[pair.TrueState] = true
		table[pair.FalseState] = false
	}
	return table
}
