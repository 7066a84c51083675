package resolve

import (
	"testing"
	"time"

	rootconfig "synsensors/config"
	"synsensors/core/ast"
	"synsensors/core/classify"
	"synsensors/core/values"
	internalerrors "synsensors/internal/errors"
	"synsensors/host"
)

func nameOf(segments ...string) *ast.Name {
	return &ast.Name{Segments: segments}
}

func baseScope() classify.Scope {
	return classify.Scope{Domains: map[string]struct{}{"sensor": {}}}
}

func TestEvaluationContextLayering(t *testing.T) {
	ctx := NewEvaluationContext()
	ctx.Set("x", values.NewReferenceValue("x", values.Number(1)))

	ctx.Push()
	ctx.Set("x", values.NewReferenceValue("x", values.Number(2)))
	rv, ok := ctx.Get("x")
	if !ok || rv.Value.String() != values.Number(2).String() {
		t.Fatalf("Get(x) in top layer = %v, want 2", rv)
	}

	ctx.Pop()
	rv, ok = ctx.Get("x")
	if !ok {
		t.Fatal("Get(x) after Pop: not found")
	}
	n, _ := rv.Value.AsNumber()
	if n != 1 {
		t.Fatalf("Get(x) after Pop = %v, want 1", n)
	}

	ctx.Pop() // never drops below 1 layer
	if ctx.Depth() != 1 {
		t.Fatalf("Depth() = %d, want 1 (Pop must not drop globals)", ctx.Depth())
	}
}

func TestEvaluationContextSnapshotIsolated(t *testing.T) {
	ctx := NewEvaluationContext()
	ctx.Set("x", values.NewReferenceValue("x", values.Number(1)))
	snap := ctx.Snapshot()
	snap.Set("x", values.NewReferenceValue("x", values.Number(99)))

	rv, _ := ctx.Get("x")
	n, _ := rv.Value.AsNumber()
	if n != 1 {
		t.Fatalf("original context mutated by snapshot write: got %v", n)
	}
	rv, _ = snap.Get("x")
	n, _ = rv.Value.AsNumber()
	if n != 99 {
		t.Fatalf("snapshot Get(x) = %v, want 99", n)
	}
}

func TestResolveEntityViaHostState(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	r.HostState = host.HostStateProviderFunc(func(entityID string) host.HostStateResult {
		if entityID == "sensor.kitchen_temp" {
			return host.HostStateResult{Present: true, State: values.Number(72)}
		}
		return host.HostStateResult{Present: false}
	})

	c, err := classify.Classify(nameOf("sensor", "kitchen_temp"), baseScope())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	ctx := NewEvaluationContext()
	rv, err := r.Resolve(ctx, c, nil, baseScope())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	n, ok := rv.Value.AsNumber()
	if !ok || n != 72 {
		t.Fatalf("Resolve() = %v, want 72", rv.Value)
	}
}

func TestResolveEntityMissingFromHostState(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	r.HostState = host.HostStateProviderFunc(func(entityID string) host.HostStateResult {
		return host.HostStateResult{Present: false}
	})
	c, _ := classify.Classify(nameOf("sensor", "missing"), baseScope())
	_, err := r.Resolve(NewEvaluationContext(), c, nil, baseScope())
	if !internalerrors.IsType(err, internalerrors.TypeMissingDependency) {
		t.Fatalf("expected TypeMissingDependency, got %v", err)
	}
}

func TestResolveEntityViaDataProviderBackingEntity(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	r.BackingEntities["sensor.attic_temp"] = struct{}{}
	r.DataProvider = host.DataProviderFunc(func(entityID string) (host.DataProviderResult, error) {
		return host.DataProviderResult{Exists: true, Value: values.Number(55)}, nil
	})
	c, _ := classify.Classify(nameOf("sensor", "attic_temp"), baseScope())
	rv, err := r.Resolve(NewEvaluationContext(), c, nil, baseScope())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	n, ok := rv.Value.AsNumber()
	if !ok || n != 55 {
		t.Fatalf("Resolve() = %v, want 55", rv.Value)
	}
}

func TestResolveBackingEntityNotExistsIsFatal(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	r.BackingEntities["sensor.attic_temp"] = struct{}{}
	r.DataProvider = host.DataProviderFunc(func(entityID string) (host.DataProviderResult, error) {
		return host.DataProviderResult{Exists: false}, nil
	})
	c, _ := classify.Classify(nameOf("sensor", "attic_temp"), baseScope())
	_, err := r.Resolve(NewEvaluationContext(), c, nil, baseScope())
	if !internalerrors.IsType(err, internalerrors.TypeBackingEntityResolution) {
		t.Fatalf("expected TypeBackingEntityResolution, got %v", err)
	}
}

func TestResolveBackingEntityNullValueIsAlternate(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	r.BackingEntities["sensor.attic_temp"] = struct{}{}
	r.DataProvider = host.DataProviderFunc(func(entityID string) (host.DataProviderResult, error) {
		return host.DataProviderResult{Exists: true, Value: values.Null()}, nil
	})
	c, _ := classify.Classify(nameOf("sensor", "attic_temp"), baseScope())
	rv, err := r.Resolve(NewEvaluationContext(), c, nil, baseScope())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// exists=true with a null value is a failed read, not a declared null
	// (spec §8 scenario 3) — UNAVAILABLE, not NONE.
	if !rv.Value.IsAlternate() || rv.Value.AlternateState() != values.UNAVAILABLE {
		t.Fatalf("Resolve() = %v, want alternate UNAVAILABLE", rv.Value)
	}
}

func TestResolveCrossSensor(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	r.SensorIDs = map[string]struct{}{"outdoor_temp": {}}
	r.CrossSensorValues["outdoor_temp"] = values.Number(40)

	scope := baseScope()
	scope.SensorIDs = r.SensorIDs
	c, err := classify.Classify(nameOf("outdoor_temp"), scope)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.Kind != classify.KindCrossSensor {
		t.Fatalf("Classify() kind = %v, want cross_sensor", c.Kind)
	}
	rv, err := r.Resolve(NewEvaluationContext(), c, nil, scope)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	n, _ := rv.Value.AsNumber()
	if n != 40 {
		t.Fatalf("Resolve() = %v, want 40", rv.Value)
	}
}

func TestResolveCrossSensorMissing(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	r.SensorIDs = map[string]struct{}{"outdoor_temp": {}}
	scope := baseScope()
	scope.SensorIDs = r.SensorIDs
	c, _ := classify.Classify(nameOf("outdoor_temp"), scope)
	_, err := r.Resolve(NewEvaluationContext(), c, nil, scope)
	if !internalerrors.IsType(err, internalerrors.TypeMissingDependency) {
		t.Fatalf("expected TypeMissingDependency, got %v", err)
	}
}

func TestResolveAttributeAccess(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	r.HostState = host.HostStateProviderFunc(func(entityID string) host.HostStateResult {
		return host.HostStateResult{
			Present:    true,
			State:      values.Number(72),
			Attributes: map[string]values.Value{"unit": values.String("F")},
		}
	})
	c, err := classify.Classify(nameOf("sensor", "kitchen_temp", "unit"), baseScope())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	rv, err := r.Resolve(NewEvaluationContext(), c, nil, baseScope())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	s, ok := rv.Value.AsString()
	if !ok || s != "F" {
		t.Fatalf("Resolve() = %v, want \"F\"", rv.Value)
	}
}

func TestResolveAttributeAccessMissing(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	r.HostState = host.HostStateProviderFunc(func(entityID string) host.HostStateResult {
		return host.HostStateResult{Present: true, State: values.Number(72)}
	})
	c, _ := classify.Classify(nameOf("sensor", "kitchen_temp", "missing_attr"), baseScope())
	_, err := r.Resolve(NewEvaluationContext(), c, nil, baseScope())
	if !internalerrors.IsType(err, internalerrors.TypeMissingDependency) {
		t.Fatalf("expected TypeMissingDependency, got %v", err)
	}
}

func TestResolveStateToken(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	ctx := NewEvaluationContext()
	r.SeedState(ctx, values.Number(99))

	c, err := classify.Classify(nameOf("state"), baseScope())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.Kind != classify.KindReserved {
		t.Fatalf("Classify(state) kind = %v, want reserved", c.Kind)
	}
	rv, err := r.Resolve(ctx, c, nil, baseScope())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	n, _ := rv.Value.AsNumber()
	if n != 99 {
		t.Fatalf("Resolve(state) = %v, want 99", rv.Value)
	}
}

func TestResolveStateTokenMissing(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	c, _ := classify.Classify(nameOf("state"), baseScope())
	_, err := r.Resolve(NewEvaluationContext(), c, nil, baseScope())
	if !internalerrors.IsType(err, internalerrors.TypeMissingDependency) {
		t.Fatalf("expected TypeMissingDependency, got %v", err)
	}
}

// fakeEvaluator is a minimal FormulaEvaluator stand-in so resolver tests
// don't need to import core/eval (which itself imports core/resolve).
type fakeEvaluator struct{}

func (fakeEvaluator) EvaluateFormula(formula string, ctx *EvaluationContext, scope classify.Scope, variables map[string]rootconfig.VariableValue) (values.Value, error) {
	return values.Number(123), nil
}

func TestResolveComputedVariable(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	r.Evaluator = fakeEvaluator{}

	scope := baseScope()
	scope.Variables = map[string]struct{}{"derived": {}}
	variables := map[string]rootconfig.VariableValue{
		"derived": {Kind: rootconfig.VarComputed, Computed: &rootconfig.ComputedVariable{Formula: "1 + 1"}},
	}
	c, err := classify.Classify(nameOf("derived"), scope)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	rv, err := r.Resolve(NewEvaluationContext(), c, variables, scope)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	n, _ := rv.Value.AsNumber()
	if n != 123 {
		t.Fatalf("Resolve(derived) = %v, want 123", rv.Value)
	}
}

// fakeAlternateHandler returns a fixed replacement value whenever a
// computed variable's result classifies as non-OK, without needing
// core/handler (which would cycle back through core/resolve).
type fakeAlternateHandler struct {
	replacement values.Value
	called      bool
	gotDetected values.AlternateState
}

func (f *fakeAlternateHandler) DispatchComputedVariableHandler(detected values.AlternateState, h *rootconfig.AlternateStateHandler, ctx *EvaluationContext, scope classify.Scope) (values.Value, error) {
	f.called = true
	f.gotDetected = detected
	return f.replacement, nil
}

type alternateEvaluator struct{ alt values.AlternateState }

func (a alternateEvaluator) EvaluateFormula(formula string, ctx *EvaluationContext, scope classify.Scope, variables map[string]rootconfig.VariableValue) (values.Value, error) {
	return values.Alternate(a.alt), nil
}

func TestResolveComputedVariableDispatchesHandlerOnAlternate(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	r.Evaluator = alternateEvaluator{alt: values.UNAVAILABLE}
	fake := &fakeAlternateHandler{replacement: values.Number(0)}
	r.HandlerDispatcher = fake

	scope := baseScope()
	scope.Variables = map[string]struct{}{"derived": {}}
	variables := map[string]rootconfig.VariableValue{
		"derived": {Kind: rootconfig.VarComputed, Computed: &rootconfig.ComputedVariable{Formula: "sensor.missing"}},
	}
	c, _ := classify.Classify(nameOf("derived"), scope)
	rv, err := r.Resolve(NewEvaluationContext(), c, variables, scope)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !fake.called || fake.gotDetected != values.UNAVAILABLE {
		t.Fatalf("handler dispatcher not invoked with UNAVAILABLE: called=%v detected=%v", fake.called, fake.gotDetected)
	}
	n, ok := rv.Value.AsNumber()
	if !ok || n != 0 {
		t.Fatalf("Resolve(derived) = %v, want the handler's replacement 0", rv.Value)
	}
}

func TestResolveComputedVariableAllowUnresolvedSkipsHandler(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	r.Evaluator = alternateEvaluator{alt: values.UNKNOWN}
	fake := &fakeAlternateHandler{replacement: values.Number(0)}
	r.HandlerDispatcher = fake

	scope := baseScope()
	scope.Variables = map[string]struct{}{"derived": {}}
	variables := map[string]rootconfig.VariableValue{
		"derived": {Kind: rootconfig.VarComputed, Computed: &rootconfig.ComputedVariable{
			Formula:               "sensor.missing",
			AllowUnresolvedStates: true,
		}},
	}
	c, _ := classify.Classify(nameOf("derived"), scope)
	rv, err := r.Resolve(NewEvaluationContext(), c, variables, scope)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if fake.called {
		t.Fatal("handler dispatcher should not run when AllowUnresolvedStates is true")
	}
	if !rv.Value.IsAlternate() || rv.Value.AlternateState() != values.UNKNOWN {
		t.Fatalf("Resolve(derived) = %v, want alternate UNKNOWN passed through", rv.Value)
	}
}

func TestResolveComputedVariableNoEvaluatorWired(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	scope := baseScope()
	scope.Variables = map[string]struct{}{"derived": {}}
	variables := map[string]rootconfig.VariableValue{
		"derived": {Kind: rootconfig.VarComputed, Computed: &rootconfig.ComputedVariable{Formula: "1 + 1"}},
	}
	c, _ := classify.Classify(nameOf("derived"), scope)
	_, err := r.Resolve(NewEvaluationContext(), c, variables, scope)
	if !internalerrors.IsType(err, internalerrors.TypeInternal) {
		t.Fatalf("expected TypeInternal, got %v", err)
	}
}

func TestResolveContextShortCircuitsChain(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	r.HostState = host.HostStateProviderFunc(func(entityID string) host.HostStateResult {
		t.Fatalf("HostState should not be consulted when the context already has a value")
		return host.HostStateResult{}
	})
	ctx := NewEvaluationContext()
	ctx.Set("sensor.kitchen_temp", values.NewReferenceValue("sensor.kitchen_temp", values.Number(1)))

	c, _ := classify.Classify(nameOf("sensor", "kitchen_temp"), baseScope())
	rv, err := r.Resolve(ctx, c, nil, baseScope())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	n, _ := rv.Value.AsNumber()
	if n != 1 {
		t.Fatalf("Resolve() = %v, want 1 (from context)", rv.Value)
	}
}

func TestAttributeOfAfterEntityResolution(t *testing.T) {
	r := NewResolver()
	r.Domains = baseScope().Domains
	r.HostState = host.HostStateProviderFunc(func(entityID string) host.HostStateResult {
		return host.HostStateResult{
			Present:     true,
			State:       values.Number(72),
			Attributes:  map[string]values.Value{"unit": values.String("F")},
			LastChanged: time.Now(),
		}
	})
	c, _ := classify.Classify(nameOf("sensor", "kitchen_temp"), baseScope())
	if _, err := r.Resolve(NewEvaluationContext(), c, nil, baseScope()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	v, ok := r.AttributeOf("sensor.kitchen_temp", "unit")
	if !ok {
		t.Fatal("AttributeOf(unit): not found")
	}
	s, _ := v.AsString()
	if s != "F" {
		t.Fatalf("AttributeOf(unit) = %v, want \"F\"", v)
	}
	if _, ok := r.AttributeOf("sensor.kitchen_temp", "missing"); ok {
		t.Fatal("AttributeOf(missing): expected not found")
	}
}
