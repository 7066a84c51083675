// Package funcs is the engine's fixed function library (C7's "closed set"
// of callable names, spec §4.7). The fixed-arity math functions (abs,
// round, pow, sin, cos, sqrt, log, exp) are built on go-cty's function.Spec
// protocol — the same pattern OpenTofu's internal/lang/funcs uses for its
// builtin function table (function.New with Params/Type/Impl) — since that
// protocol gives each function declarative argument-count and type
// checking for free. The variadic aggregates (min, max, sum, mean, avg,
// std, var, count), len, int, float and the temporal functions operate
// directly on core/values.Value; cty's type system has no duration/datetime
// kind to carry the temporal ones through (core/values adds one
// deliberately; see DESIGN.md). metadata() is handled by core/eval.
package funcs

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"synsensors/core/values"
)

// Func is the uniform entry point the evaluator dispatches through,
// regardless of whether a given name is implemented via cty or directly.
type Func func(args []values.Value) (values.Value, error)

// Library is the full closed set of callable names (spec §4.7).
var Library = map[string]Func{}

func register(name string, f Func) { Library[name] = f }

func init() {
	registerMathFuncs()
	registerTemporalFuncs()
	// metadata() is handled specially by core/eval, which has access to
	// the resolver's per-entity attribute maps; it is never looked up in
	// Library.
}

// ctyFunc adapts a cty function.Function into a Func: converts args to
// cty.Value, calls the cty function, converts the result back.
func ctyFunc(fn function.Function) Func {
	return func(args []values.Value) (values.Value, error) {
		ctyArgs := make([]cty.Value, len(args))
		for i, a := range args {
			cv, err := toCty(a)
			if err != nil {
				return values.Value{}, err
			}
			ctyArgs[i] = cv
		}
		result, err := fn.Call(ctyArgs)
		if err != nil {
			return values.Value{}, err
		}
		return fromCty(result)
	}
}

func toCty(v values.Value) (cty.Value, error) {
	switch v.Kind() {
	case values.KindNumber:
		n, _ := v.AsNumber()
		return cty.NumberFloatVal(n), nil
	case values.KindString:
		s, _ := v.AsString()
		return cty.StringVal(s), nil
	case values.KindBool:
		b, _ := v.AsBool()
		return cty.BoolVal(b), nil
	case values.KindNull:
		return cty.NullVal(cty.DynamicPseudoType), nil
	default:
		return cty.NilVal, fmt.Errorf("funcs: value of kind %s has no cty representation", v.Kind())
	}
}

func fromCty(v cty.Value) (values.Value, error) {
	if v.IsNull() {
		return values.Null(), nil
	}
	switch v.Type() {
	case cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return values.Number(f), nil
	case cty.String:
		return values.String(v.AsString()), nil
	case cty.Bool:
		return values.Bool(v.True()), nil
	default:
		return values.Value{}, fmt.Errorf("funcs: cty type %s has no values.Value representation", v.Type().FriendlyName())
	}
}

func numberParam(name string) function.Parameter {
	return function.Parameter{Name: name, Type: cty.Number}
}

func registerMathFuncs() {
	oneArgNumeric := func(name string, impl func(x float64) float64) {
		spec := &function.Spec{
			Params: []function.Parameter{numberParam("x")},
			Type:   function.StaticReturnType(cty.Number),
			Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
				f, _ := args[0].AsBigFloat().Float64()
				return cty.NumberFloatVal(impl(f)), nil
			},
		}
		register(name, ctyFunc(function.New(spec)))
	}

	register("abs", ctyFunc(function.New(&function.Spec{
		Params: []function.Parameter{numberParam("x")},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			f, _ := args[0].AsBigFloat().Float64()
			if f < 0 {
				f = -f
			}
			return cty.NumberFloatVal(f), nil
		},
	})))

	register("round", ctyFunc(function.New(&function.Spec{
		Params: []function.Parameter{numberParam("x"), numberParam("ndigits")},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			x, _ := args[0].AsBigFloat().Float64()
			nd, _ := args[1].AsBigFloat().Float64()
			return cty.NumberFloatVal(roundTo(x, int(nd))), nil
		},
	})))

	register("pow", ctyFunc(function.New(&function.Spec{
		Params: []function.Parameter{numberParam("base"), numberParam("exp")},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			base, _ := args[0].AsBigFloat().Float64()
			exp, _ := args[1].AsBigFloat().Float64()
			return cty.NumberFloatVal(powFloat(base, exp)), nil
		},
	})))

	oneArgNumeric("sin", sinFloat)
	oneArgNumeric("cos", cosFloat)
	oneArgNumeric("sqrt", sqrtFloat)
	oneArgNumeric("log", logFloat)
	oneArgNumeric("exp", expFloat)

	// Variadic aggregates (min, max, sum, mean/avg, std, var, count) and the
	// one-argument len, int, float, implemented directly over values.Value.
	register("min", variadicNumeric(func(xs []float64) float64 { return reduceMin(xs) }))
	register("max", variadicNumeric(func(xs []float64) float64 { return reduceMax(xs) }))
	register("sum", variadicNumeric(func(xs []float64) float64 { return reduceSum(xs) }))
	register("mean", variadicNumeric(func(xs []float64) float64 { return reduceMean(xs) }))
	register("avg", variadicNumeric(func(xs []float64) float64 { return reduceMean(xs) }))
	register("std", variadicNumeric(func(xs []float64) float64 { return reduceStdDev(xs) }))
	register("var", variadicNumeric(func(xs []float64) float64 { return reduceVariance(xs) }))
	register("count", func(args []values.Value) (values.Value, error) {
		return values.Number(float64(len(args))), nil
	})
	register("len", func(args []values.Value) (values.Value, error) {
		if len(args) != 1 {
			return values.Value{}, fmt.Errorf("len() takes exactly one argument")
		}
		if s, ok := args[0].AsString(); ok {
			return values.Number(float64(len([]rune(s)))), nil
		}
		return values.Value{}, fmt.Errorf("len() requires a string argument")
	})
	register("int", func(args []values.Value) (values.Value, error) {
		if len(args) != 1 {
			return values.Value{}, fmt.Errorf("int() takes exactly one argument")
		}
		n, ok := args[0].AsNumber()
		if !ok {
			return values.Value{}, fmt.Errorf("int() requires a numeric argument")
		}
		return values.Number(float64(int64(n))), nil
	})
	register("float", func(args []values.Value) (values.Value, error) {
		if len(args) != 1 {
			return values.Value{}, fmt.Errorf("float() takes exactly one argument")
		}
		n, ok := args[0].AsNumber()
		if !ok {
			return values.Value{}, fmt.Errorf("float() requires a numeric argument")
		}
		return values.Number(n), nil
	})
}

func variadicNumeric(reduce func([]float64) float64) Func {
	return func(args []values.Value) (values.Value, error) {
		if len(args) == 0 {
			return values.Value{}, fmt.Errorf("expected at least one numeric argument")
		}
		xs := make([]float64, len(args))
		for i, a := range args {
			n, ok := a.AsNumber()
			if !ok {
				return values.Value{}, fmt.Errorf("argument %d is not numeric", i)
			}
			xs[i] = n
		}
		return values.Number(reduce(xs)), nil
	}
}
