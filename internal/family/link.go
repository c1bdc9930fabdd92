package family

import "math"

// MinPositive is added after softplus so strictly positive parameters never
// underflow to zero.
const MinPositive = 1e-8

// Link maps a raw prediction onto a parameter domain.
type Link func(x float64) float64

func Identity(x float64) float64 { return x }

// Positive is softplus(x) + MinPositive.
func Positive(x float64) float64 {
	if x > 30 {
		return x + MinPositive
	}
	return math.Log1p(math.Exp(x)) + MinPositive
}

// Probability is the logistic sigmoid clamped away from 0 and 1.
func Probability(x float64) float64 {
	p := 1 / (1 + math.Exp(-x))
	const eps = 1e-12
	return math.Min(math.Max(p, eps), 1-eps)
}

func isPositive(v float64) bool    { return v > 0 }
func isProbability(v float64) bool { return v > 0 && v < 1 }
