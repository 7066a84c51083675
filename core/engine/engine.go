// Package engine provides the API-primary evaluation engine (C10 + the
// top-level API from spec §6). The demo CLI (cmd/synsensors) is a thin
// wrapper around this package.
package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	rootconfig "synsensors/config"
	"synsensors/core/ast"
	"synsensors/core/cache"
	"synsensors/core/classify"
	"synsensors/core/eval"
	"synsensors/core/graph"
	"synsensors/core/handler"
	"synsensors/core/parse"
	"synsensors/core/resolve"
	"synsensors/core/values"
	"synsensors/host"
	internalerrors "synsensors/internal/errors"
	"synsensors/internal/logging"
)

// Engine is the primary API for synthetic-sensor evaluation. It owns the
// compiled config, the dependency graph, the resolver/evaluator pair, and
// the result cache; the host supplies only the collaborator interfaces
// (spec §6) and calls EvaluateSensor/EvaluateAll.
type Engine struct {
	mu sync.Mutex

	dataProvider host.DataProvider
	hostState    host.HostStateProvider
	outputs      host.OutputChannel

	cfg       *rootconfig.Config
	graph     *graph.Graph
	resolver  *resolve.Resolver
	evaluator *eval.Evaluator
	cache     *cache.Cache
	trace     *trace

	sensorByID      map[string]*rootconfig.SensorConfig
	formulaByID     map[string]*rootconfig.FormulaConfig
	attributeNameOf map[string]string // formula id -> bare attribute name

	lastPublished map[string]values.Value // sensor unique_id -> last-published value

	paused bool
}

// New constructs an Engine wired to its host collaborators. LoadConfig
// must be called before any evaluation method.
func New(dataProvider host.DataProvider, hostState host.HostStateProvider, outputs host.OutputChannel) *Engine {
	return &Engine{
		dataProvider:  dataProvider,
		hostState:     hostState,
		outputs:       outputs,
		cache:         cache.New(),
		trace:         newTrace(256),
		lastPublished: make(map[string]values.Value),
	}
}

// LoadConfig compiles cfg into a fresh graph/resolver/evaluator, discarding
// any prior cycle's cache. Equivalent to ReloadConfig on first call.
func (e *Engine) LoadConfig(cfg *rootconfig.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadConfigLocked(cfg)
}

// ReloadConfig rebuilds the engine from a new Config. Per spec §5's
// cancellation contract, the in-flight cycle (if any) is allowed to finish
// holding e.mu before the rebuild proceeds — Go's mutex semantics give
// (b) and (c) for free; (a)/(d) (close, then reopen, the gate) are
// Pause()/ResumeEvaluations() around the call, left to the host.
func (e *Engine) ReloadConfig(cfg *rootconfig.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadConfigLocked(cfg)
}

func (e *Engine) loadConfigLocked(cfg *rootconfig.Config) error {
	if len(cfg.Global.Domains) == 0 {
		return internalerrors.Validation("engine: config.Global.Domains must be non-empty")
	}

	g, err := graph.Build(cfg)
	if err != nil {
		return err
	}

	r := resolve.NewResolver()
	r.Domains = cfg.Global.Domains
	r.SensorIDs = sensorIDSet(cfg.Sensors)
	r.DataProvider = e.dataProvider
	r.HostState = e.hostState
	if e.resolver != nil {
		r.BackingEntities = e.resolver.BackingEntities
		r.SensorBackingEntity = e.resolver.SensorBackingEntity
	}

	ev := eval.New(r, toBooleanStatePairs(cfg.Global.TruthStates)...)
	r.Evaluator = ev
	r.HandlerDispatcher = e

	sensorByID := make(map[string]*rootconfig.SensorConfig, len(cfg.Sensors))
	formulaByID := make(map[string]*rootconfig.FormulaConfig)
	attributeNameOf := make(map[string]string)
	for _, s := range cfg.Sensors {
		sensorByID[s.UniqueID] = s
		for i, f := range s.Formulas {
			formulaByID[f.ID] = f
			if i > 0 {
				attributeNameOf[f.ID] = attributeName(s.UniqueID, f.ID)
			}
		}
	}

	e.cfg = cfg
	e.graph = g
	e.resolver = r
	e.evaluator = ev
	e.sensorByID = sensorByID
	e.formulaByID = formulaByID
	e.attributeNameOf = attributeNameOf
	e.cache.BeginCycle()

	logging.Info("engine: config loaded", zap.Int("sensors", len(cfg.Sensors)))
	return nil
}

// RegisterBackingEntities declares which entities the data provider owns
// (spec §6). sensorBacking optionally maps a sensor's unique_id to the
// backing entity whose pre-evaluation value seeds its `state` token.
func (e *Engine) RegisterBackingEntities(backingEntities []string, sensorBacking map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := make(map[string]struct{}, len(backingEntities))
	for _, id := range backingEntities {
		set[id] = struct{}{}
	}
	e.resolver.BackingEntities = set
	e.resolver.SensorBackingEntity = copyStringMap(sensorBacking)
}

// NotifyBackingChanged invalidates the result cache for every formula that
// depended on any of the given entities (spec §4.9/§5).
func (e *Engine) NotifyBackingChanged(entityIDs []string) {
	e.cache.NotifyBackingChanged(entityIDs)
}

// Pause closes the evaluation gate: EvaluateSensor/EvaluateAll return an
// error until ResumeEvaluations is called.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// ResumeEvaluations reopens the evaluation gate.
func (e *Engine) ResumeEvaluations() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
}

// RecentTrace returns up to n of the most recently evaluated formulas'
// outcomes, most recent first (a supplemented diagnostics surface, not a
// spec §4 component).
func (e *Engine) RecentTrace(n int) []TraceEntry {
	return e.trace.recent(n)
}

// EvaluateSensor evaluates a single sensor on demand (spec §4.10 steps
// 1-5) and publishes its result to the output channel. It does not begin a
// new result-cache cycle — cache entries from a prior EvaluateAll/
// EvaluateSensor survive until the next full cycle or an explicit
// NotifyBackingChanged, so an on-demand re-evaluation of an unrelated
// sensor doesn't discard cached results a poll loop is still relying on.
func (e *Engine) EvaluateSensor(sensorID string) (host.SensorOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return host.SensorOutput{}, internalerrors.Internal("engine: evaluation paused", nil)
	}
	return e.evaluateSensorLocked(uuid.NewString(), sensorID)
}

// EvaluateAll evaluates every sensor in cross-sensor dependency order
// (spec §4.4's cross_sensor_order), so a sensor referenced by another via
// a cross-sensor dependency is always evaluated first.
func (e *Engine) EvaluateAll() ([]host.SensorOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return nil, internalerrors.Internal("engine: evaluation paused", nil)
	}

	order, err := e.graph.CrossSensorOrder()
	if err != nil {
		return nil, err
	}

	e.cache.BeginCycle()
	cycleID := uuid.NewString()
	outs := make([]host.SensorOutput, 0, len(order))
	for _, sensorID := range order {
		out, err := e.evaluateSensorLocked(cycleID, sensorID)
		if err != nil {
			logging.Warn("engine: sensor cycle failed", append(logging.CycleFields(cycleID, sensorID), zap.Error(err))...)
		}
		outs = append(outs, out)
	}
	return outs, nil
}

func (e *Engine) evaluateSensorLocked(cycleID, sensorID string) (host.SensorOutput, error) {
	sensor, ok := e.sensorByID[sensorID]
	if !ok {
		return host.SensorOutput{}, internalerrors.Internal("engine: unknown sensor "+sensorID, nil)
	}
	if !sensor.Enabled {
		return host.SensorOutput{SensorUniqueID: sensorID, State: values.OK}, nil
	}

	order, err := e.graph.EvaluationOrder(sensorID)
	if err != nil {
		out := host.SensorOutput{SensorUniqueID: sensorID, Error: err}
		e.publish(out)
		return out, err
	}

	ctx := resolve.NewEvaluationContext()
	e.seedState(ctx, sensor)

	domainScope := classify.Scope{Domains: e.cfg.Global.Domains, SensorIDs: e.resolver.SensorIDs}

	attrs := make(map[string]values.Value)
	var mainValue values.Value
	mainState := values.OK

	for _, nodeID := range order {
		f := e.formulaByID[string(nodeID)]
		if f == nil {
			continue
		}
		isMain := f.IsMain(sensor.UniqueID)

		scope := domainScope
		scope.Variables = variableNames(f.Variables)
		if !isMain {
			scope.SelfSensorID = sensor.UniqueID
		}

		start := time.Now()
		val, state, err := e.evaluateFormula(f, ctx, scope)
		e.trace.record(TraceEntry{
			CycleID: cycleID, SensorID: sensorID, FormulaID: f.ID,
			State: state, Err: err, Duration: time.Since(start), At: start,
		})
		if err != nil {
			out := host.SensorOutput{SensorUniqueID: sensorID, Error: err, State: values.UNAVAILABLE}
			e.publish(out)
			return out, err
		}
		logging.Debug("engine: formula evaluated", logging.FormulaFields(cycleID, sensorID, f.ID, string(state))...)

		if isMain {
			mainValue = val
			mainState = state
			e.resolver.SeedState(ctx, val)
		} else {
			attrName := e.attributeNameOf[f.ID]
			attrs[attrName] = val
			ctx.Set(attrName, values.NewReferenceValue(attrName, val))
		}
	}

	out := host.SensorOutput{
		SensorUniqueID: sensorID,
		Value:          mainValue,
		Attributes:     attrs,
		State:          mainState,
	}
	e.lastPublished[sensorID] = mainValue
	e.resolver.CrossSensorValues[sensorID] = mainValue
	e.publish(out)
	logging.Debug("engine: sensor cycle complete",
		append(logging.CycleFields(cycleID, sensorID), zap.String("state", string(mainState)))...)
	return out, nil
}

// evaluateFormula runs one formula through the pre-evaluation shortcut
// (C6), C7, and C8 as spec §4.10 step 3/4 describes.
func (e *Engine) evaluateFormula(f *rootconfig.FormulaConfig, ctx *resolve.EvaluationContext, scope classify.Scope) (values.Value, values.AlternateState, error) {
	node, err := parse.Parse(f.Formula)
	if err != nil {
		return values.Value{}, values.OK, err
	}

	if name, ok := eval.SingleName(node); ok {
		c, cerr := classify.Classify(name, scope)
		if cerr != nil {
			return values.Value{}, values.OK, cerr
		}
		rv, rerr := e.resolver.Resolve(ctx, c, f.Variables, scope)
		if rerr != nil {
			if !recoverableViaHandler(rerr) {
				return values.Value{}, values.OK, rerr
			}
			return e.dispatchOrPropagate(values.ClassifyError(rerr), f.AlternateStateHandler, ctx, scope)
		}
		if detected := values.Classify(rv.Value); detected.IsAlternate() {
			return e.dispatchOrPropagate(detected, f.AlternateStateHandler, ctx, scope)
		}
		return rv.Value, values.OK, nil
	}

	fp, useCache := e.fingerprintFor(node, ctx, scope, f.Variables)
	if useCache {
		if cached, ok := e.cache.Check(f.ID, fp.key); ok {
			return cached, values.OK, nil
		}
	}

	val, err := e.evaluator.EvaluateFormula(f.Formula, ctx, scope, f.Variables)
	if err != nil {
		if !recoverableViaHandler(err) {
			return values.Value{}, values.OK, err
		}
		return e.dispatchOrPropagate(values.ClassifyError(err), f.AlternateStateHandler, ctx, scope)
	}
	if detected := values.Classify(val); detected.IsAlternate() {
		return e.dispatchOrPropagate(detected, f.AlternateStateHandler, ctx, scope)
	}
	if useCache {
		e.cache.Store(f.ID, fp.key, val, fp.backingEntities)
	}
	return val, values.OK, nil
}

// formulaFingerprint is the cache key material for one formula evaluation:
// the sha256 digest over its referenced names' current values, plus the
// subset of those names that are backing entities (so a later
// NotifyBackingChanged can find this entry).
type formulaFingerprint struct {
	key             string
	backingEntities []string
}

// fingerprintFor resolves every Name node root references (memoizing each
// into ctx exactly as the full evaluator pass would) and returns the
// resulting cache key. Returns ok=false if any reference fails to resolve —
// caching is simply skipped for that evaluation, since the full evaluator
// call immediately afterward will surface the same failure.
func (e *Engine) fingerprintFor(root ast.Node, ctx *resolve.EvaluationContext, scope classify.Scope, variables map[string]rootconfig.VariableValue) (formulaFingerprint, bool) {
	refs := make(map[string]values.Value)
	var backing []string
	for _, n := range ast.Names(root) {
		c, err := classify.Classify(n, scope)
		if err != nil {
			return formulaFingerprint{}, false
		}
		if c.Kind == classify.KindUnresolved {
			continue
		}
		if c.Kind == classify.KindReserved {
			if rv, ok := ctx.Get(c.Name.Raw()); ok {
				refs[n.Raw()] = rv.Value
			}
			continue
		}
		rv, err := e.resolver.Resolve(ctx, c, variables, scope)
		if err != nil {
			return formulaFingerprint{}, false
		}
		refs[n.Raw()] = rv.Value
		if c.Kind == classify.KindEntity {
			if _, declared := e.resolver.BackingEntities[c.EntityID]; declared {
				backing = append(backing, c.EntityID)
			}
		}
	}
	return formulaFingerprint{key: cache.Fingerprint(refs), backingEntities: backing}, true
}

// recoverableViaHandler reports whether err is the kind of evaluator
// exception spec §4.10 routes to C8 rather than treating as fatal. A
// missing-dependency (or backing-entity-resolution) failure at resolution
// is fatal for the sensor in this cycle per spec §4.10's failure semantics;
// only evaluator domain errors (division by zero, mismatched-type
// comparison, and similar) and an already-classified alternate-state
// sentinel are recoverable.
func recoverableViaHandler(err error) bool {
	return internalerrors.IsType(err, internalerrors.TypeDomain) ||
		internalerrors.IsType(err, internalerrors.TypeAlternateState)
}

func (e *Engine) dispatchOrPropagate(detected values.AlternateState, h *rootconfig.AlternateStateHandler, ctx *resolve.EvaluationContext, scope classify.Scope) (values.Value, values.AlternateState, error) {
	out, err := handler.Dispatch(detected, h, e.evaluator, ctx, scope)
	if err != nil {
		return values.Value{}, values.OK, err
	}
	return out.Value, out.State, nil
}

// DispatchComputedVariableHandler implements resolve.AlternateHandlerDispatcher,
// letting a computed variable's own handler run through the same C8 code
// path as main/attribute formulas (Open Question decision, SPEC_FULL.md §5).
func (e *Engine) DispatchComputedVariableHandler(detected values.AlternateState, h *rootconfig.AlternateStateHandler, ctx *resolve.EvaluationContext, scope classify.Scope) (values.Value, error) {
	out, err := handler.Dispatch(detected, h, e.evaluator, ctx, scope)
	if err != nil {
		return values.Value{}, err
	}
	return out.Value, nil
}

func (e *Engine) seedState(ctx *resolve.EvaluationContext, sensor *rootconfig.SensorConfig) {
	if entityID, ok := e.resolver.SensorBackingEntity[sensor.UniqueID]; ok && e.dataProvider != nil {
		if res, err := e.dataProvider.GetEntityValue(entityID); err == nil && res.Exists {
			e.resolver.SeedState(ctx, res.Value)
			return
		}
	}
	if last, ok := e.lastPublished[sensor.UniqueID]; ok {
		e.resolver.SeedState(ctx, last)
		return
	}
	e.resolver.SeedState(ctx, values.Null())
}

func (e *Engine) publish(out host.SensorOutput) {
	if e.outputs != nil {
		e.outputs.Publish(out)
	}
}

func sensorIDSet(sensors []*rootconfig.SensorConfig) map[string]struct{} {
	set := make(map[string]struct{}, len(sensors))
	for _, s := range sensors {
		set[s.UniqueID] = struct{}{}
	}
	return set
}

func variableNames(vars map[string]rootconfig.VariableValue) map[string]struct{} {
	if len(vars) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(vars))
	for name := range vars {
		out[name] = struct{}{}
	}
	return out
}

func attributeName(sensorUniqueID, formulaID string) string {
	const sep = "_"
	prefix := sensorUniqueID + sep
	if len(formulaID) > len(prefix) && formulaID[:len(prefix)] == prefix {
		return formulaID[len(prefix):]
	}
	return formulaID
}

func toBooleanStatePairs(pairs []rootconfig.TruthStatePair) []values.BooleanStatePair {
	out := make([]values.BooleanStatePair, len(pairs))
	for i, p := range pairs {
		out[i] = values.BooleanStatePair{TrueState: p.TrueState, FalseState: p.FalseState}
	}
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
