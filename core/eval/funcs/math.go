package funcs

import "math"

// Thin wrappers so funcs.go's registration table reads as a flat list of
// names -> behavior without importing "math" at every call site. go-cty
// ships no trigonometric/exponential helpers of its own (its stdlib
// "funcs" packages are Terraform-language-specific, not general math), so
// this is the one place the function library falls back to the standard
// library (see DESIGN.md).

func roundTo(x float64, ndigits int) float64 {
	scale := math.Pow(10, float64(ndigits))
	return math.Round(x*scale) / scale
}

func powFloat(base, exp float64) float64 { return math.Pow(base, exp) }
func sinFloat(x float64) float64         { return math.Sin(x) }
func cosFloat(x float64) float64         { return math.Cos(x) }
func sqrtFloat(x float64) float64        { return math.Sqrt(x) }
func logFloat(x float64) float64         { return math.Log(x) }
func expFloat(x float64) float64         { return math.Exp(x) }

func reduceMin(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func reduceMax(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func reduceSum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func reduceMean(xs []float64) float64 {
	return reduceSum(xs) / float64(len(xs))
}

func reduceVariance(xs []float64) float64 {
	m := reduceMean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return sumSq / float64(len(xs))
}

func reduceStdDev(xs []float64) float64 {
	return math.Sqrt(reduceVariance(xs))
}
