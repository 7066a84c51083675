// Package handler implements the alternate-state handler dispatcher (C8,
// spec §4.8): given a detected AlternateState and a sensor or computed
// variable's declared AlternateStateHandler, picks the matching slot (or
// fallback, or lets the state propagate) and resolves the slot's value.
package handler

import (
	"synsensors/config"
	"synsensors/core/classify"
	"synsensors/core/resolve"
	"synsensors/core/values"
	internalerrors "synsensors/internal/errors"
)

// Outcome is the result of dispatching a handler: either a concrete value
// (the handler ran and produced one) or a propagated alternate state (no
// slot and no fallback matched).
type Outcome struct {
	Value values.Value
	State values.AlternateState
}

// Dispatch selects and resolves the handler slot for detected, per spec
// §4.8's selection order: the slot specifically named for detected, else
// fallback, else the alternate propagates unchanged. h may be nil (no
// handler declared at all).
func Dispatch(
	detected values.AlternateState,
	h *config.AlternateStateHandler,
	evaluator resolve.FormulaEvaluator,
	ctx *resolve.EvaluationContext,
	scope classify.Scope,
) (Outcome, error) {
	if h != nil {
		if slot := h.Slot(slotName(detected)); slot != nil {
			return resolveHandlerValue(slot, evaluator, ctx, scope)
		}
		if h.Fallback != nil {
			return resolveHandlerValue(h.Fallback, evaluator, ctx, scope)
		}
	}
	return Outcome{Value: values.Alternate(detected), State: detected}, nil
}

func slotName(s values.AlternateState) string {
	switch s {
	case values.NONE:
		return "none"
	case values.UNKNOWN:
		return "unknown"
	case values.UNAVAILABLE:
		return "unavailable"
	default:
		return ""
	}
}

// resolveHandlerValue resolves a handler slot by its Kind: literal
// numeric/boolean/null/string values are returned as-is (a
// HandlerLiteralString is never inspected for operators); a HandlerFormula
// (Formula, or Text when Formula is empty) is parsed and evaluated, with
// its Variables, if any, pushed into a temporary top layer.
func resolveHandlerValue(
	hv *config.HandlerValue,
	evaluator resolve.FormulaEvaluator,
	ctx *resolve.EvaluationContext,
	scope classify.Scope,
) (Outcome, error) {
	switch hv.Kind {
	case config.HandlerLiteralNumber:
		return literalOutcome(values.Number(hv.Number)), nil
	case config.HandlerLiteralBool:
		return literalOutcome(values.Bool(hv.Bool)), nil
	case config.HandlerLiteralNull:
		return literalOutcome(values.Null()), nil
	case config.HandlerLiteralString:
		return literalOutcome(values.String(hv.Text)), nil
	case config.HandlerFormula:
		return evalHandlerFormula(hv, evaluator, ctx, scope)
	default:
		return Outcome{}, internalerrors.Internal("handler: unknown handler value kind", nil)
	}
}

func literalOutcome(v values.Value) Outcome {
	return Outcome{Value: v, State: values.Classify(v)}
}

func evalHandlerFormula(
	hv *config.HandlerValue,
	evaluator resolve.FormulaEvaluator,
	ctx *resolve.EvaluationContext,
	scope classify.Scope,
) (Outcome, error) {
	formula := hv.Formula
	if formula == "" {
		formula = hv.Text
	}

	evalCtx := ctx
	variables := map[string]config.VariableValue(nil)
	handlerScope := scope

	if len(hv.Variables) > 0 {
		variables = hv.Variables
		evalCtx = ctx.Snapshot()
		evalCtx.Push()
		handlerScope.Variables = mergeVariableNames(scope.Variables, hv.Variables)
	}

	v, err := evaluator.EvaluateFormula(formula, evalCtx, handlerScope, variables)
	if err != nil {
		return Outcome{}, err
	}
	if v.IsAlternate() {
		return Outcome{Value: v, State: v.AlternateState()}, nil
	}
	return Outcome{Value: v, State: values.Classify(v)}, nil
}

func mergeVariableNames(base map[string]struct{}, extra map[string]config.VariableValue) map[string]struct{} {
	merged := make(map[string]struct{}, len(base)+len(extra))
	for k := range base {
		merged[k] = struct{}{}
	}
	for k := range extra {
		merged[k] = struct{}{}
	}
	return merged
}
