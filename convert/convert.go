// Package convert implements the conversion engine: applying a CC
// block's formula to a channel's raw value to produce its engineering value
// or text representation.
//
// Algebraic formulas are compiled and run with github.com/expr-lang/expr,
// the same expression-evaluation library ClusterCockpit's cc-backend uses
// for its job-classification rules (see DESIGN.md); TabularInterp uses
// gonum.org/v1/gonum/interp's piecewise-linear interpolator rather than a
// hand-rolled breakpoint search.
package convert

import (
	"fmt"
	"math"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gonum.org/v1/gonum/interp"

	"github.com/openmdf/mdf/blocks"
	"github.com/openmdf/mdf/errs"
)

// maxChainDepth bounds recursive conversion chaining (ValueRangeToText and
// TextToText entries that point to a nested Conversion), guarding against a
// cyclic CC link graph.
const maxChainDepth = 16

// Result is the outcome of applying a Conversion: either a numeric
// engineering value or a text value, never both. Flagged marks a
// conversion error (divide-by-zero, domain error, chain cycle): these
// are non-fatal, so Apply/ApplyText still return a nil error and instead
// carry NaN (or empty text) with Flagged set.
type Result struct {
	Float   float64
	Text    string
	IsText  bool
	Flagged bool
}

// Engine caches compiled Algebraic expressions and fitted TabularInterp
// interpolators across repeated Apply calls for the same Conversion, since
// both are too expensive to rebuild per sample.
type Engine struct {
	mu      sync.Mutex
	exprs   map[*blocks.Conversion]*vm.Program
	interps map[*blocks.Conversion]*interp.PiecewiseLinear
}

// NewEngine creates an empty conversion cache.
func NewEngine() *Engine {
	return &Engine{
		exprs:   make(map[*blocks.Conversion]*vm.Program),
		interps: make(map[*blocks.Conversion]*interp.PiecewiseLinear),
	}
}

// Apply evaluates c against a numeric raw value.
func (e *Engine) Apply(c *blocks.Conversion, raw float64) (Result, error) {
	return e.apply(c, raw, 0)
}

func (e *Engine) apply(c *blocks.Conversion, raw float64, depth int) (Result, error) {
	if c == nil {
		return Result{Float: raw}, nil
	}
	if depth > maxChainDepth {
		return Result{Float: math.NaN(), Flagged: true}, nil
	}

	switch c.Type {
	case blocks.ConversionIdentity, blocks.ConversionNone:
		return Result{Float: raw}, nil

	case blocks.ConversionLinear:
		if len(c.Params) < 2 {
			return Result{}, errs.ErrInvalidBitLayout
		}

		return Result{Float: c.Params[0] + c.Params[1]*raw}, nil

	case blocks.ConversionRational:
		return e.applyRational(c, raw)

	case blocks.ConversionPolynomial:
		return e.applyPolynomial(c, raw)

	case blocks.ConversionExponential:
		return e.applyExpLog(c, raw, true)

	case blocks.ConversionLogarithmic:
		return e.applyExpLog(c, raw, false)

	case blocks.ConversionAlgebraic:
		return e.applyAlgebraic(c, raw)

	case blocks.ConversionTabularInterp:
		return e.applyTabularInterp(c, raw)

	case blocks.ConversionTabular:
		return e.applyTabular(c, raw)

	case blocks.ConversionValueToText:
		return e.applyValueToText(c, raw, depth)

	case blocks.ConversionValueRangeToText:
		return e.applyValueRangeToText(c, raw, depth)

	default:
		return Result{}, fmt.Errorf("%w: conversion type %d not numeric-valued", errs.ErrDomainError, c.Type)
	}
}

// ApplyText evaluates c against a text raw value (TextToValue, TextToText);
// c.Type must be one of those two.
func (e *Engine) ApplyText(c *blocks.Conversion, raw string) (Result, error) {
	return e.applyText(c, raw, 0)
}

func (e *Engine) applyText(c *blocks.Conversion, raw string, depth int) (Result, error) {
	if c == nil {
		return Result{Text: raw, IsText: true}, nil
	}
	if depth > maxChainDepth {
		return Result{Text: "", IsText: true, Flagged: true}, nil
	}

	switch c.Type {
	case blocks.ConversionTextToValue:
		for i, ref := range c.Refs {
			if ref.Text == raw {
				if i < len(c.IntKeys) {
					return Result{Float: float64(c.IntKeys[i])}, nil
				}

				return Result{Float: 0}, nil
			}
		}
		if c.Default != nil {
			return Result{Float: float64(firstIntKeyOr(c, 0))}, nil
		}

		return Result{Float: math.NaN(), Flagged: true}, nil

	case blocks.ConversionTextToText:
		for _, ref := range c.Refs {
			if ref.Text != raw {
				continue
			}
			if ref.Nested != nil {
				return e.applyText(ref.Nested, raw, depth+1)
			}

			return Result{Text: raw, IsText: true}, nil
		}
		if c.Default != nil {
			if c.Default.Nested != nil {
				return e.applyText(c.Default.Nested, raw, depth+1)
			}

			return Result{Text: c.Default.Text, IsText: true}, nil
		}

		return Result{Text: raw, IsText: true}, nil

	default:
		return Result{}, fmt.Errorf("%w: conversion type %d not text-valued", errs.ErrDomainError, c.Type)
	}
}

func firstIntKeyOr(c *blocks.Conversion, fallback int64) int64 {
	if len(c.IntKeys) > 0 {
		return c.IntKeys[0]
	}

	return fallback
}

func (e *Engine) applyRational(c *blocks.Conversion, raw float64) (Result, error) {
	if len(c.Params) < 6 {
		return Result{}, errs.ErrInvalidBitLayout
	}

	p := c.Params
	x2 := raw * raw
	num := p[0]*x2 + p[1]*raw + p[2]
	den := p[3]*x2 + p[4]*raw + p[5]
	if den == 0 {
		return Result{Float: math.NaN(), Flagged: true}, nil
	}

	return Result{Float: num / den}, nil
}

// applyPolynomial evaluates the legacy v3 six-parameter rational
// polynomial, Y = (P2 - P4*(X - P5 - P6)) / (P3*(X - P5 - P6) - P1) with
// the standard's one-based parameter names; a zero denominator yields a
// flagged NaN like the rational form's.
func (e *Engine) applyPolynomial(c *blocks.Conversion, raw float64) (Result, error) {
	if len(c.Params) < 6 {
		return Result{}, errs.ErrInvalidBitLayout
	}

	p := c.Params
	v := raw - p[4] - p[5]
	den := p[2]*v - p[0]
	if den == 0 {
		return Result{Float: math.NaN(), Flagged: true}, nil
	}

	return Result{Float: (p[1] - p[3]*v) / den}, nil
}

// applyExpLog evaluates the v3 exponential (type 7) and logarithmic
// (type 8) parameter forms. Both share one shape, selected by which of P1
// and P4 is zero (one-based names):
//
//	P4 == 0:  Y = f(((X - P7)*P6 - P3) / P1) / P2
//	P1 == 0:  Y = f((P3 / (X - P7) - P6) / P4) / P5
//
// where f is ln for the exponential conversion and exp for the logarithmic
// one (the stored relation is inverted to recover the physical value). P7
// is optional and defaults to 0. Domain violations (log of a non-positive
// argument, a zero divisor at evaluation time) yield a flagged NaN; a
// parameter set where neither or both of P1/P4 are zero, or whose scale
// divisor is zero, is structurally invalid.
func (e *Engine) applyExpLog(c *blocks.Conversion, raw float64, exponential bool) (Result, error) {
	if len(c.Params) < 6 {
		return Result{}, errs.ErrInvalidBitLayout
	}

	p := c.Params
	var p7 float64
	if len(p) > 6 {
		p7 = p[6]
	}

	var inner, scale float64
	switch {
	case p[3] == 0 && p[0] != 0:
		inner = ((raw-p7)*p[5] - p[2]) / p[0]
		scale = p[1]
	case p[0] == 0 && p[3] != 0:
		if raw-p7 == 0 {
			return Result{Float: math.NaN(), Flagged: true}, nil
		}
		inner = (p[2]/(raw-p7) - p[5]) / p[3]
		scale = p[4]
	default:
		return Result{}, errs.ErrInvalidBitLayout
	}
	if scale == 0 {
		return Result{}, errs.ErrInvalidBitLayout
	}

	if exponential {
		if inner <= 0 {
			return Result{Float: math.NaN(), Flagged: true}, nil
		}

		return Result{Float: math.Log(inner) / scale}, nil
	}

	return Result{Float: math.Exp(inner) / scale}, nil
}

func (e *Engine) applyAlgebraic(c *blocks.Conversion, raw float64) (Result, error) {
	program, err := e.compiledExpr(c)
	if err != nil {
		return Result{}, err
	}

	out, err := expr.Run(program, map[string]any{"X": raw, "x": raw})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", errs.ErrDomainError, err)
	}

	f, ok := toFloat(out)
	if !ok {
		return Result{}, fmt.Errorf("%w: algebraic formula did not return a number", errs.ErrDomainError)
	}

	return Result{Float: f}, nil
}

func (e *Engine) compiledExpr(c *blocks.Conversion) (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.exprs[c]; ok {
		return p, nil
	}

	program, err := expr.Compile(c.Formula, expr.Env(map[string]any{"X": 0.0, "x": 0.0}))
	if err != nil {
		return nil, fmt.Errorf("%w: compiling algebraic formula %q: %w", errs.ErrDomainError, c.Formula, err)
	}

	e.exprs[c] = program

	return program, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func (e *Engine) applyTabularInterp(c *blocks.Conversion, raw float64) (Result, error) {
	if len(c.Keys) == 0 || len(c.Keys) != len(c.Values) {
		return Result{}, errs.ErrInvalidBitLayout
	}
	if len(c.Keys) == 1 {
		return Result{Float: c.Values[0]}, nil
	}

	pl, err := e.fittedInterp(c)
	if err != nil {
		return Result{}, err
	}

	clamped := raw
	if clamped < c.Keys[0] {
		clamped = c.Keys[0]
	}
	if last := c.Keys[len(c.Keys)-1]; clamped > last {
		clamped = last
	}

	return Result{Float: pl.Predict(clamped)}, nil
}

func (e *Engine) fittedInterp(c *blocks.Conversion) (*interp.PiecewiseLinear, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pl, ok := e.interps[c]; ok {
		return pl, nil
	}

	pl := new(interp.PiecewiseLinear)
	if err := pl.Fit(c.Keys, c.Values); err != nil {
		return nil, fmt.Errorf("%w: fitting tabular-interp breakpoints: %w", errs.ErrInvalidBitLayout, err)
	}

	e.interps[c] = pl

	return pl, nil
}

// applyTabular looks up raw in c.Keys without interpolating: an exact match
// (within a tight epsilon, to tolerate float round-trip noise) returns the
// paired value; anything else is a domain error, since a lookup table has
// no defined value between breakpoints.
func (e *Engine) applyTabular(c *blocks.Conversion, raw float64) (Result, error) {
	const epsilon = 1e-9
	for i, k := range c.Keys {
		if math.Abs(k-raw) <= epsilon {
			return Result{Float: c.Values[i]}, nil
		}
	}

	return Result{Float: math.NaN(), Flagged: true}, nil
}

func (e *Engine) applyValueToText(c *blocks.Conversion, raw float64, depth int) (Result, error) {
	key := int64(raw)
	for i, k := range c.IntKeys {
		if k != key || i >= len(c.Refs) {
			continue
		}

		return e.resolveRef(c.Refs[i], raw, depth)
	}
	if c.Default != nil {
		return e.resolveRef(*c.Default, raw, depth)
	}

	return Result{Text: "", IsText: true, Flagged: true}, nil
}

func (e *Engine) applyValueRangeToText(c *blocks.Conversion, raw float64, depth int) (Result, error) {
	for i := range c.RangesLo {
		if raw >= c.RangesLo[i] && raw < c.RangesHi[i] && i < len(c.Refs) {
			return e.resolveRef(c.Refs[i], raw, depth)
		}
	}
	if c.Default != nil {
		return e.resolveRef(*c.Default, raw, depth)
	}

	return Result{Text: "", IsText: true, Flagged: true}, nil
}

func (e *Engine) resolveRef(ref blocks.ConversionRef, raw float64, depth int) (Result, error) {
	if ref.Nested != nil {
		return e.apply(ref.Nested, raw, depth+1)
	}

	return Result{Text: ref.Text, IsText: true}, nil
}
