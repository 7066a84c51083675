package resolve

import (
	rootconfig "synsensors/config"
	"synsensors/core/classify"
	"synsensors/core/values"
	internalerrors "synsensors/internal/errors"
	"synsensors/host"
)

// FormulaEvaluator evaluates a computed-variable's formula against ctx and
// returns its value. Implemented by core/eval and injected here rather
// than imported directly, since evaluating a computed variable requires
// running the full resolve-then-evaluate pipeline recursively and core/eval
// itself calls back into this package to extract its inputs — importing
// core/eval from here would cycle.
type FormulaEvaluator interface {
	EvaluateFormula(formula string, ctx *EvaluationContext, scope classify.Scope, variables map[string]rootconfig.VariableValue) (values.Value, error)
}

// AlternateHandlerDispatcher resolves a computed variable's declared
// AlternateStateHandler against a detected AlternateState (Open Question
// decision: computed variables reuse the same C8 dispatcher as main/
// attribute formulas). Defined here, implemented by core/engine via a thin
// adapter over core/handler.Dispatch, for the same reason FormulaEvaluator
// is an interface: core/handler already imports core/resolve (it operates
// on EvaluationContext/Scope), so core/resolve importing core/handler back
// would cycle.
type AlternateHandlerDispatcher interface {
	DispatchComputedVariableHandler(detected values.AlternateState, h *rootconfig.AlternateStateHandler, ctx *EvaluationContext, scope classify.Scope) (values.Value, error)
}

// Resolver implements the seven-stage resolver chain (spec §4.5).
type Resolver struct {
	Domains             map[string]struct{}
	SensorIDs           map[string]struct{}
	BackingEntities     map[string]struct{}   // declared backing entities (data-provider-eligible)
	SensorBackingEntity map[string]string      // sensor unique_id -> backing entity_id, if declared
	DataProvider        host.DataProvider
	HostState           host.HostStateProvider
	CrossSensorValues   map[string]values.Value // last-published value per sensor unique_id, refreshed by the driver each cycle
	Evaluator           FormulaEvaluator
	HandlerDispatcher   AlternateHandlerDispatcher // optional; nil means alternates from computed variables always propagate

	entityAttributes map[string]map[string]values.Value
}

// NewResolver constructs a Resolver. entityAttributes is lazily populated
// as entities are resolved.
func NewResolver() *Resolver {
	return &Resolver{
		BackingEntities:     make(map[string]struct{}),
		SensorBackingEntity: make(map[string]string),
		CrossSensorValues:   make(map[string]values.Value),
		entityAttributes:    make(map[string]map[string]values.Value),
	}
}

// Scope builds the classify.Scope this resolver operates under.
func (r *Resolver) Scope(variables map[string]struct{}) classify.Scope {
	return classify.Scope{Domains: r.Domains, Variables: variables, SensorIDs: r.SensorIDs}
}

// Resolve resolves one classified identifier to a ReferenceValue, running
// the resolver chain: context, computed-variable, cross-sensor,
// entity-data-provider, entity-host-state, attribute-access, state-token.
func (r *Resolver) Resolve(ctx *EvaluationContext, c classify.Classification, variables map[string]rootconfig.VariableValue, scope classify.Scope) (values.ReferenceValue, error) {
	key := resolveKey(c)

	// Stage 1: context.
	if rv, ok := ctx.Get(key); ok {
		return rv, nil
	}

	switch c.Kind {
	case classify.KindReserved:
		if c.Name != nil && c.Name.Raw() == "state" {
			return r.resolveStateToken(ctx)
		}
		return values.ReferenceValue{}, internalerrors.Internal("resolve: reserved identifier is not resolvable as a value: "+key, nil)

	case classify.KindVariable, classify.KindVariableAttribute:
		return r.resolveVariable(ctx, c, variables, scope)

	case classify.KindCrossSensor:
		return r.resolveCrossSensor(ctx, c)

	case classify.KindEntity:
		return r.resolveEntityName(ctx, c)

	default:
		return values.ReferenceValue{}, internalerrors.MissingDependency(key)
	}
}

func resolveKey(c classify.Classification) string {
	switch c.Kind {
	case classify.KindEntity:
		if len(c.AttributeChain) == 0 {
			return c.EntityID
		}
		return c.Name.Raw()
	case classify.KindVariable:
		return c.VariableName
	case classify.KindVariableAttribute:
		return c.Name.Raw()
	case classify.KindCrossSensor:
		return c.SensorID
	default:
		if c.Name != nil {
			return c.Name.Raw()
		}
		return ""
	}
}

// Stage 2: computed-variable (reached via resolveVariable for VarComputed).
func (r *Resolver) resolveVariable(ctx *EvaluationContext, c classify.Classification, variables map[string]rootconfig.VariableValue, scope classify.Scope) (values.ReferenceValue, error) {
	v, ok := variables[c.VariableName]
	if !ok {
		return values.ReferenceValue{}, internalerrors.MissingDependency(c.VariableName)
	}

	switch v.Kind {
	case rootconfig.VarComputed:
		if v.Computed == nil {
			return values.ReferenceValue{}, internalerrors.Internal("resolve: computed variable missing body: "+c.VariableName, nil)
		}
		if r.Evaluator == nil {
			return values.ReferenceValue{}, internalerrors.Internal("resolve: no evaluator wired for computed variable "+c.VariableName, nil)
		}
		val, err := r.Evaluator.EvaluateFormula(v.Computed.Formula, ctx, scope, variables)
		if err != nil {
			return values.ReferenceValue{}, err
		}
		if detected := values.Classify(val); detected.IsAlternate() && !v.Computed.AllowUnresolvedStates {
			if r.HandlerDispatcher != nil {
				handled, err := r.HandlerDispatcher.DispatchComputedVariableHandler(detected, v.Computed.AlternateStateHandler, ctx, scope)
				if err != nil {
					return values.ReferenceValue{}, err
				}
				val = handled
			}
		}
		rv := values.NewReferenceValue(c.VariableName, val)
		ctx.Set(c.VariableName, rv)
		return r.maybeAccessAttribute(rv, c.AttributeChain)

	case rootconfig.VarEntityID:
		entRV, err := r.resolveEntity(v.EntityID)
		if err != nil {
			return values.ReferenceValue{}, err
		}
		ctx.Set(c.VariableName, entRV)
		return r.maybeAccessAttribute(entRV, c.AttributeChain)

	case rootconfig.VarNumber:
		rv := values.NewReferenceValue(c.VariableName, values.Number(v.Number))
		ctx.Set(c.VariableName, rv)
		return rv, nil

	case rootconfig.VarString:
		rv := values.NewReferenceValue(c.VariableName, values.String(v.Text))
		ctx.Set(c.VariableName, rv)
		return rv, nil

	default:
		return values.ReferenceValue{}, internalerrors.Internal("resolve: unknown variable kind for "+c.VariableName, nil)
	}
}

// Stage 3: cross-sensor. A sensor referencing its own unique_id never
// reaches here — classify.Classify rewrites that case to the `state` token
// before resolution, since CrossSensorValues only holds the previous cycle's
// result until the current cycle's main formula finishes.
func (r *Resolver) resolveCrossSensor(ctx *EvaluationContext, c classify.Classification) (values.ReferenceValue, error) {
	val, ok := r.CrossSensorValues[c.SensorID]
	if !ok {
		return values.ReferenceValue{}, internalerrors.MissingDependency(c.SensorID)
	}
	rv := values.NewReferenceValue(c.SensorID, val)
	ctx.Set(c.SensorID, rv)
	return rv, nil
}

func (r *Resolver) resolveEntityName(ctx *EvaluationContext, c classify.Classification) (values.ReferenceValue, error) {
	rv, err := r.resolveEntity(c.EntityID)
	if err != nil {
		return values.ReferenceValue{}, err
	}
	ctx.Set(c.EntityID, rv)
	return r.maybeAccessAttribute(rv, c.AttributeChain)
}

// resolveEntity runs stages 4-5: entity-data-provider, then
// entity-host-state.
func (r *Resolver) resolveEntity(entityID string) (values.ReferenceValue, error) {
	if _, declared := r.BackingEntities[entityID]; declared {
		res, err := r.DataProvider.GetEntityValue(entityID)
		if err != nil {
			return values.ReferenceValue{}, err
		}
		if !res.Exists {
			return values.ReferenceValue{}, internalerrors.BackingEntityResolution(entityID)
		}
		r.entityAttributes[entityID] = res.Attributes
		if res.Value.IsNull() {
			// exists=true with a null value is the backing entity reporting a
			// failed read, not a literal/config-declared null (spec §4.6,
			// §8 scenario 3) — UNAVAILABLE, not NONE.
			return values.NewReferenceValue(entityID, values.Alternate(values.ClassifyNull(values.NullFailedGuard))), nil
		}
		val := res.Value
		if s, ok := val.AsString(); ok && values.ClassifyString(s).IsAlternate() {
			val = values.Alternate(values.ClassifyString(s))
		}
		return values.NewReferenceValue(entityID, val), nil
	}

	if r.HostState == nil {
		return values.ReferenceValue{}, internalerrors.MissingDependency(entityID)
	}
	res := r.HostState.GetHostState(entityID)
	if !res.Present {
		return values.ReferenceValue{}, internalerrors.MissingDependency(entityID)
	}
	attrs := res.Attributes
	if attrs == nil {
		attrs = make(map[string]values.Value)
	}
	if !res.LastChanged.IsZero() {
		attrs["last_changed"] = values.DateTime(res.LastChanged)
	}
	r.entityAttributes[entityID] = attrs
	state := res.State
	if s, ok := state.AsString(); ok && values.ClassifyString(s).IsAlternate() {
		state = values.Alternate(values.ClassifyString(s))
	}
	return values.NewReferenceValue(entityID, state), nil
}

// maybeAccessAttribute runs stage 6 (attribute-access) when the
// classification carried a non-empty chain.
func (r *Resolver) maybeAccessAttribute(base values.ReferenceValue, chain []string) (values.ReferenceValue, error) {
	if len(chain) == 0 {
		return base, nil
	}
	if len(chain) > 1 {
		return values.ReferenceValue{}, internalerrors.Domain("resolve: nested attribute access is not supported: " + base.Reference)
	}
	attrName := chain[0]
	attrs, ok := r.entityAttributes[base.Reference]
	if !ok {
		return values.ReferenceValue{}, internalerrors.MissingDependency(base.Reference + "." + attrName)
	}
	v, ok := attrs[attrName]
	if !ok {
		return values.ReferenceValue{}, internalerrors.MissingDependency(base.Reference + "." + attrName)
	}
	return values.NewReferenceValue(base.Reference+"."+attrName, v), nil
}

// AttributeOf returns a previously-resolved entity's attribute value. The
// entity must already have gone through resolveEntity this cycle (i.e. it
// appeared as a Name node the evaluator's env pass resolved) — used by
// core/eval's metadata() call handling.
func (r *Resolver) AttributeOf(reference, attrName string) (values.Value, bool) {
	attrs, ok := r.entityAttributes[reference]
	if !ok {
		return values.Value{}, false
	}
	v, ok := attrs[attrName]
	return v, ok
}

// Stage 7: state-token.
func (r *Resolver) resolveStateToken(ctx *EvaluationContext) (values.ReferenceValue, error) {
	rv, ok := ctx.Get("state")
	if !ok {
		return values.ReferenceValue{}, internalerrors.MissingDependency("state")
	}
	return rv, nil
}

// SeedState seeds the context's "state" reference, called by the driver
// (C10) before resolving a sensor's main formula, and again after the main
// formula publishes so attribute formulas see the same-cycle state.
func (r *Resolver) SeedState(ctx *EvaluationContext, v values.Value) {
	ctx.Set("state", values.NewReferenceValue("state", v))
}
