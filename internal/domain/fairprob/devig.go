// Package fairprob turns bookmaker odds into de-vigged win probabilities.
package fairprob

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// Method selects the de-vig transform.
type Method string

const (
	Logit        Method = "logit"
	Probit       Method = "probit"
	Shin         Method = "shin"
	Proportional Method = "proportional"
)

// ParseMethod accepts a method name in any case. Empty means Logit.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return Logit, nil
	case Logit, Probit, Shin, Proportional:
		return m, nil
	}
	return "", fmt.Errorf("fairprob.ParseMethod: unknown method %q", s)
}

var (
	// ErrDegenerate is returned for odds that cannot be de-vigged: fewer than
	// two outcomes, a missing or out-of-range price, or an implied sum <= 1.
	ErrDegenerate = errors.New("fairprob: degenerate odds")
	// ErrNoBooks is returned when no book survives de-vigging.
	ErrNoBooks = errors.New("fairprob: no usable books")
)

const lambdaBracket = 50.0

// ImpliedProbability converts one quoted price into a raw probability.
// Decimal odds take precedence over American odds when both are set.
func ImpliedProbability(o domain.OutcomeOdds) (float64, error) {
	switch {
	case o.Decimal != 0:
		if o.Decimal <= 1 || math.IsNaN(o.Decimal) || math.IsInf(o.Decimal, 0) {
			return 0, fmt.Errorf("%w: decimal odds %v for %q", ErrDegenerate, o.Decimal, o.Name)
		}
		return 1 / o.Decimal, nil
	case o.American > 0:
		return 100 / (o.American + 100), nil
	case o.American < 0:
		a := -o.American
		return a / (a + 100), nil
	}
	return 0, fmt.Errorf("%w: missing odds for %q", ErrDegenerate, o.Name)
}

// Devig removes the bookmaker margin from raw implied probabilities. The
// result has the same length and order as raw and sums to 1.
func Devig(raw []float64, m Method) ([]float64, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: need at least two outcomes, got %d", ErrDegenerate, len(raw))
	}
	sum := 0.0
	for _, p := range raw {
		if !(p > 0 && p < 1) {
			return nil, fmt.Errorf("%w: implied probability %v out of (0,1)", ErrDegenerate, p)
		}
		sum += p
	}
	if sum <= 1 {
		return nil, fmt.Errorf("%w: implied sum %.6f <= 1", ErrDegenerate, sum)
	}

	switch m {
	case Proportional:
		return proportional(raw, sum), nil
	case Logit, "":
		return shiftDevig(raw, logit, expit)
	case Probit:
		return shiftDevig(raw, normInv, normCDF)
	case Shin:
		return shinDevig(raw, sum)
	}
	return nil, fmt.Errorf("fairprob.Devig: unknown method %q", m)
}

func proportional(raw []float64, sum float64) []float64 {
	out := make([]float64, len(raw))
	for i, p := range raw {
		out[i] = p / sum
	}
	return out
}

// shiftDevig finds λ such that Σ inv(fwd(p_i) − λ) = 1. The sum is strictly
// decreasing in λ, so the root is unique inside the bracket.
func shiftDevig(raw []float64, fwd, inv func(float64) float64) ([]float64, error) {
	z := make([]float64, len(raw))
	for i, p := range raw {
		z[i] = fwd(p)
	}
	f := func(lambda float64) float64 {
		s := 0.0
		for _, v := range z {
			s += inv(v - lambda)
		}
		return s - 1
	}
	lambda, err := brent(f, -lambdaBracket, lambdaBracket, 1e-12, 200)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(raw))
	for i, v := range z {
		out[i] = inv(v - lambda)
	}
	return normalize(out), nil
}

// shinDevig solves Shin's insider-trading model for the insider share z.
func shinDevig(raw []float64, sum float64) ([]float64, error) {
	fair := func(z float64) []float64 {
		out := make([]float64, len(raw))
		for i, p := range raw {
			out[i] = (math.Sqrt(z*z+4*(1-z)*p*p/sum) - z) / (2 * (1 - z))
		}
		return out
	}
	f := func(z float64) float64 {
		s := 0.0
		for _, p := range fair(z) {
			s += p
		}
		return s - 1
	}
	z, err := brent(f, 0, 0.999, 1e-12, 200)
	if err != nil {
		return nil, err
	}
	return normalize(fair(z)), nil
}

func normalize(ps []float64) []float64 {
	s := 0.0
	for _, p := range ps {
		s += p
	}
	if s <= 0 {
		return ps
	}
	for i := range ps {
		ps[i] = clamp01(ps[i] / s)
	}
	return ps
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

func logit(p float64) float64 { return math.Log(p / (1 - p)) }

func expit(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func normCDF(x float64) float64 { return 0.5 * math.Erfc(-x/math.Sqrt2) }

func normInv(p float64) float64 { return math.Sqrt2 * math.Erfinv(2*p-1) }
