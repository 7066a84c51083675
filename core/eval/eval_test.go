package eval

import (
	"testing"
	"time"

	rootconfig "synsensors/config"
	"synsensors/core/classify"
	"synsensors/core/parse"
	"synsensors/core/resolve"
	"synsensors/core/values"
	internalerrors "synsensors/internal/errors"
	"synsensors/host"
)

func testScope() classify.Scope {
	return classify.Scope{
		Domains: map[string]struct{}{"sensor": {}, "binary_sensor": {}},
	}
}

func newEvaluatorWithHostStates(states map[string]values.Value) *Evaluator {
	r := resolve.NewResolver()
	r.Domains = testScope().Domains
	r.HostState = host.HostStateProviderFunc(func(entityID string) host.HostStateResult {
		v, ok := states[entityID]
		if !ok {
			return host.HostStateResult{Present: false}
		}
		return host.HostStateResult{Present: true, State: v}
	})
	e := New(r)
	e.Resolver.Evaluator = e
	return e
}

func evalFormula(t *testing.T, e *Evaluator, formula string, variables map[string]rootconfig.VariableValue) values.Value {
	t.Helper()
	node, err := parse.Parse(formula)
	if err != nil {
		t.Fatalf("parse(%q): %v", formula, err)
	}
	scope := testScope()
	if len(variables) > 0 {
		scope.Variables = make(map[string]struct{}, len(variables))
		for name := range variables {
			scope.Variables[name] = struct{}{}
		}
	}
	ctx := resolve.NewEvaluationContext()
	v, err := e.Evaluate(node, ctx, scope, variables)
	if err != nil {
		t.Fatalf("Evaluate(%q): %v", formula, err)
	}
	return v
}

func TestEvaluateArithmetic(t *testing.T) {
	e := newEvaluatorWithHostStates(nil)
	tests := []struct {
		formula string
		want    float64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"10 / 2", 5},
		{"10 % 3", 1},
		{"-5 + 2", -3},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			v := evalFormula(t, e, tt.formula, nil)
			n, ok := v.AsNumber()
			if !ok || n != tt.want {
				t.Fatalf("Evaluate(%q) = %v, want %v", tt.formula, v, tt.want)
			}
		})
	}
}

func TestEvaluateDivisionByZero(t *testing.T) {
	e := newEvaluatorWithHostStates(nil)
	node, _ := parse.Parse("1 / 0")
	ctx := resolve.NewEvaluationContext()
	_, err := e.Evaluate(node, ctx, testScope(), nil)
	if err == nil {
		t.Fatal("expected division-by-zero error")
	}
	if !internalerrors.IsType(err, internalerrors.TypeDomain) {
		t.Fatalf("expected TypeDomain, got %v", err)
	}
}

func TestEvaluateComparisonAndLogic(t *testing.T) {
	e := newEvaluatorWithHostStates(nil)
	tests := []struct {
		formula string
		want    bool
	}{
		{"1 < 2", true},
		{"1 == 1", true},
		{"'a' == 'a'", true},
		{"'a' != 'b'", true},
		{"1 < 2 and 3 > 2", true},
		{"1 > 2 or 3 > 2", true},
		{"not (1 > 2)", true},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			v := evalFormula(t, e, tt.formula, nil)
			b, ok := v.AsBool()
			if !ok || b != tt.want {
				t.Fatalf("Evaluate(%q) = %v, want %v", tt.formula, v, tt.want)
			}
		})
	}
}

func TestEvaluateConditional(t *testing.T) {
	e := newEvaluatorWithHostStates(nil)
	v := evalFormula(t, e, "1 if 2 > 1 else 0", nil)
	n, _ := v.AsNumber()
	if n != 1 {
		t.Fatalf("Evaluate() = %v, want 1", v)
	}
}

func TestEvaluateBooleanStateNormalization(t *testing.T) {
	e := newEvaluatorWithHostStates(map[string]values.Value{
		"binary_sensor.door": values.String("on"),
	})
	v := evalFormula(t, e, "binary_sensor.door == on", nil)
	b, ok := v.AsBool()
	if !ok || !b {
		t.Fatalf("Evaluate() = %v, want true", v)
	}
}

func TestEvaluateEntityReference(t *testing.T) {
	e := newEvaluatorWithHostStates(map[string]values.Value{
		"sensor.kitchen_temp": values.Number(72),
	})
	v := evalFormula(t, e, "sensor.kitchen_temp + 1", nil)
	n, ok := v.AsNumber()
	if !ok || n != 73 {
		t.Fatalf("Evaluate() = %v, want 73", v)
	}
}

func TestEvaluateAlternateStatePropagates(t *testing.T) {
	e := newEvaluatorWithHostStates(map[string]values.Value{
		"sensor.kitchen_temp": values.String("unavailable"),
	})
	v := evalFormula(t, e, "sensor.kitchen_temp + 1", nil)
	if !v.IsAlternate() || v.AlternateState() != values.UNAVAILABLE {
		t.Fatalf("Evaluate() = %v, want alternate UNAVAILABLE", v)
	}
}

func TestEvaluateFunctionCall(t *testing.T) {
	e := newEvaluatorWithHostStates(nil)
	v := evalFormula(t, e, "round(abs(-3.456), 2)", nil)
	n, ok := v.AsNumber()
	if !ok || n != 3.46 {
		t.Fatalf("Evaluate() = %v, want 3.46", v)
	}
}

func TestEvaluateComputedVariable(t *testing.T) {
	e := newEvaluatorWithHostStates(map[string]values.Value{
		"sensor.kitchen_temp": values.Number(20),
	})
	vars := map[string]rootconfig.VariableValue{
		"doubled": {
			Kind: rootconfig.VarComputed,
			Computed: &rootconfig.ComputedVariable{
				Formula: "sensor.kitchen_temp * 2",
			},
		},
	}
	v := evalFormula(t, e, "doubled + 1", vars)
	n, ok := v.AsNumber()
	if !ok || n != 41 {
		t.Fatalf("Evaluate() = %v, want 41", v)
	}
}

func TestEvaluateMetadataCall(t *testing.T) {
	r := resolve.NewResolver()
	r.Domains = testScope().Domains
	r.HostState = host.HostStateProviderFunc(func(entityID string) host.HostStateResult {
		return host.HostStateResult{
			Present:     true,
			State:       values.Number(72),
			Attributes:  map[string]values.Value{"unit_of_measurement": values.String("°F")},
			LastChanged: time.Now(),
		}
	})
	e := New(r)
	e.Resolver.Evaluator = e
	v := evalFormula(t, e, `metadata(sensor.kitchen_temp, "unit_of_measurement")`, nil)
	s, ok := v.AsString()
	if !ok || s != "°F" {
		t.Fatalf("Evaluate() = %v, want \"°F\"", v)
	}
}
