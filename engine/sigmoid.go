package engine

import (
	"fmt"
	"math"
	"math/bits"
	"math/cmplx"

	"github.com/tuneinsight/lattigo/v6/utils/bignum"
)

// ApproximationConfig describes the polynomial standing in for the
// sigmoid, which is not expressible with encrypted add/multiply alone.
// It is deployment configuration: either explicit monomial
// Coefficients, or a Degree/Domain pair from which a Chebyshev
// interpolant of the true sigmoid is derived. MaxError documents the
// bounded approximation error over Domain and is reported back to
// callers; inputs outside Domain void that bound.
type ApproximationConfig struct {
	Degree       int        `json:"degree"`
	Domain       [2]float64 `json:"domain"`
	Coefficients []float64  `json:"coefficients,omitempty"`
	MaxError     float64    `json:"max_error"`
}

// DefaultSigmoidApproximation is the shallow deployment default: the
// classic degree-3 least-squares fit 0.5 + 0.197x - 0.004x³, accurate
// to about 0.08 on [-8, 8] and costing only two multiplicative levels.
func DefaultSigmoidApproximation() ApproximationConfig {
	return ApproximationConfig{
		Degree:       3,
		Domain:       [2]float64{-8, 8},
		Coefficients: []float64{0.5, 0.197, 0, -0.004},
		MaxError:     0.08,
	}
}

// Validate rejects configurations the engine cannot evaluate soundly.
func (cfg ApproximationConfig) Validate() error {
	if len(cfg.Coefficients) > 0 {
		if len(cfg.Coefficients) < 2 {
			return &ApproximationConfigError{Reason: "polynomial needs at least degree 1"}
		}
		for i, coef := range cfg.Coefficients {
			if math.IsNaN(coef) || math.IsInf(coef, 0) {
				return &ApproximationConfigError{Reason: fmt.Sprintf("coefficient %d is not finite", i)}
			}
		}
	} else {
		if cfg.Degree < 1 || cfg.Degree > 127 {
			return &ApproximationConfigError{Reason: fmt.Sprintf(
				"interpolation degree must be in [1, 127], got %d", cfg.Degree)}
		}
	}
	if math.IsNaN(cfg.Domain[0]) || math.IsNaN(cfg.Domain[1]) ||
		math.IsInf(cfg.Domain[0], 0) || math.IsInf(cfg.Domain[1], 0) {
		return &ApproximationConfigError{Reason: "domain bounds must be finite"}
	}
	if cfg.Domain[0] >= cfg.Domain[1] {
		return &ApproximationConfigError{Reason: fmt.Sprintf(
			"domain [%v, %v] is not an interval", cfg.Domain[0], cfg.Domain[1])}
	}
	if !(cfg.MaxError > 0) || math.IsInf(cfg.MaxError, 0) {
		return &ApproximationConfigError{Reason: "documented max error must be a positive finite bound"}
	}
	return nil
}

// degree returns the effective polynomial degree.
func (cfg ApproximationConfig) degree() int {
	if len(cfg.Coefficients) > 0 {
		return len(cfg.Coefficients) - 1
	}
	return cfg.Degree
}

// chebyshev reports whether evaluation needs the change of basis onto
// [-1, 1], which costs one extra level.
func (cfg ApproximationConfig) chebyshev() bool {
	return len(cfg.Coefficients) == 0
}

// depth returns the multiplicative levels the polynomial evaluation
// consumes, including the change of basis for interpolants.
func (cfg ApproximationConfig) depth() int {
	d := bits.Len(uint(cfg.degree()))
	if cfg.chebyshev() {
		d++
	}
	return d
}

// build materializes the polynomial in the form the lattigo evaluator
// consumes.
func (cfg ApproximationConfig) build() (bignum.Polynomial, error) {
	if err := cfg.Validate(); err != nil {
		return bignum.Polynomial{}, err
	}

	if !cfg.chebyshev() {
		return bignum.NewPolynomial(bignum.Monomial, cfg.Coefficients, nil), nil
	}

	const prec = 128
	interval := bignum.Interval{
		Nodes: cfg.Degree,
		A:     *bignum.NewFloat(cfg.Domain[0], prec),
		B:     *bignum.NewFloat(cfg.Domain[1], prec),
	}
	sigmoid := func(x complex128) complex128 {
		return 1 / (cmplx.Exp(-x) + 1)
	}
	return bignum.ChebyshevApproximation(sigmoid, interval), nil
}

// Sigmoid is the exact function the polynomial approximates, used by
// tests and by callers reasoning about the documented error bound.
func Sigmoid(x float64) float64 {
	return 1 / (math.Exp(-x) + 1)
}
