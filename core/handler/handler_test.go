package handler

import (
	"testing"

	"synsensors/config"
	"synsensors/core/classify"
	"synsensors/core/resolve"
	"synsensors/core/values"
	internalerrors "synsensors/internal/errors"
)

type fakeEvaluator struct {
	lastFormula   string
	lastVariables map[string]config.VariableValue
	result        values.Value
	err           error
}

func (f *fakeEvaluator) EvaluateFormula(formula string, ctx *resolve.EvaluationContext, scope classify.Scope, variables map[string]config.VariableValue) (values.Value, error) {
	f.lastFormula = formula
	f.lastVariables = variables
	return f.result, f.err
}

func baseScope() classify.Scope {
	return classify.Scope{Domains: map[string]struct{}{"sensor": {}}}
}

func numPtr(n float64) *config.HandlerValue {
	return &config.HandlerValue{Kind: config.HandlerLiteralNumber, Number: n}
}

func TestDispatchSpecificSlotWins(t *testing.T) {
	h := &config.AlternateStateHandler{
		Unavailable: numPtr(-1),
		Fallback:    numPtr(-99),
	}
	ev := &fakeEvaluator{}
	out, err := Dispatch(values.UNAVAILABLE, h, ev, resolve.NewEvaluationContext(), baseScope())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	n, _ := out.Value.AsNumber()
	if n != -1 {
		t.Fatalf("Dispatch() = %v, want -1 (specific slot)", out.Value)
	}
}

func TestDispatchFallsBackToFallback(t *testing.T) {
	h := &config.AlternateStateHandler{Fallback: numPtr(-99)}
	ev := &fakeEvaluator{}
	out, err := Dispatch(values.UNKNOWN, h, ev, resolve.NewEvaluationContext(), baseScope())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	n, _ := out.Value.AsNumber()
	if n != -99 {
		t.Fatalf("Dispatch() = %v, want -99 (fallback)", out.Value)
	}
}

func TestDispatchNoHandlerPropagates(t *testing.T) {
	ev := &fakeEvaluator{}
	out, err := Dispatch(values.UNAVAILABLE, nil, ev, resolve.NewEvaluationContext(), baseScope())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.State != values.UNAVAILABLE || !out.Value.IsAlternate() {
		t.Fatalf("Dispatch() = %+v, want propagated UNAVAILABLE", out)
	}
}

func TestDispatchNoMatchingSlotNoFallbackPropagates(t *testing.T) {
	h := &config.AlternateStateHandler{None: numPtr(0)}
	ev := &fakeEvaluator{}
	out, err := Dispatch(values.UNKNOWN, h, ev, resolve.NewEvaluationContext(), baseScope())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.State != values.UNKNOWN {
		t.Fatalf("Dispatch() state = %v, want UNKNOWN propagated", out.State)
	}
}

func TestDispatchExplicitNullSlotIsValidAnswer(t *testing.T) {
	h := &config.AlternateStateHandler{None: &config.HandlerValue{Kind: config.HandlerLiteralNull}}
	ev := &fakeEvaluator{}
	out, err := Dispatch(values.NONE, h, ev, resolve.NewEvaluationContext(), baseScope())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !out.Value.IsNull() {
		t.Fatalf("Dispatch() = %v, want explicit null", out.Value)
	}
}

func TestDispatchFormulaHandler(t *testing.T) {
	h := &config.AlternateStateHandler{
		Unavailable: &config.HandlerValue{Kind: config.HandlerFormula, Formula: "1 + 1"},
	}
	ev := &fakeEvaluator{result: values.Number(2)}
	out, err := Dispatch(values.UNAVAILABLE, h, ev, resolve.NewEvaluationContext(), baseScope())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if ev.lastFormula != "1 + 1" {
		t.Fatalf("evaluator got formula %q, want \"1 + 1\"", ev.lastFormula)
	}
	n, _ := out.Value.AsNumber()
	if n != 2 {
		t.Fatalf("Dispatch() = %v, want 2", out.Value)
	}
}

func TestDispatchFormulaHandlerWithVariables(t *testing.T) {
	vars := map[string]config.VariableValue{
		"bonus": {Kind: config.VarNumber, Number: 5},
	}
	h := &config.AlternateStateHandler{
		Fallback: &config.HandlerValue{Kind: config.HandlerFormula, Formula: "bonus + 1", Variables: vars},
	}
	ev := &fakeEvaluator{result: values.Number(6)}
	scope := baseScope()
	out, err := Dispatch(values.NONE, h, ev, resolve.NewEvaluationContext(), scope)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if ev.lastVariables["bonus"].Number != 5 {
		t.Fatalf("evaluator did not receive handler variables: %+v", ev.lastVariables)
	}
	n, _ := out.Value.AsNumber()
	if n != 6 {
		t.Fatalf("Dispatch() = %v, want 6", out.Value)
	}
}

func TestDispatchFormulaHandlerAlternatePropagates(t *testing.T) {
	h := &config.AlternateStateHandler{
		Unknown: &config.HandlerValue{Kind: config.HandlerFormula, Formula: "sensor.missing"},
	}
	ev := &fakeEvaluator{result: values.Alternate(values.UNAVAILABLE)}
	out, err := Dispatch(values.UNKNOWN, h, ev, resolve.NewEvaluationContext(), baseScope())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.State != values.UNAVAILABLE {
		t.Fatalf("Dispatch() state = %v, want handler's own UNAVAILABLE to propagate", out.State)
	}
}

func TestDispatchFormulaHandlerError(t *testing.T) {
	h := &config.AlternateStateHandler{
		Fallback: &config.HandlerValue{Kind: config.HandlerFormula, Formula: "bad"},
	}
	ev := &fakeEvaluator{err: internalerrors.Domain("boom")}
	_, err := Dispatch(values.NONE, h, ev, resolve.NewEvaluationContext(), baseScope())
	if err == nil {
		t.Fatal("expected error to propagate from evaluator")
	}
}
