package blocks

import (
	"math"

	"github.com/openmdf/mdf/endian"
	"github.com/openmdf/mdf/iohelp"
)

// ConversionRef is one entry in a CC block's text/value-range table: either
// a literal text result or a link to a nested conversion block (for chained
// TextToText/ValueRangeToText lookups).
type ConversionRef struct {
	Text   string
	Nested *Conversion // non-nil if this entry chains to another conversion
}

// Conversion is a CC block: the formula applied to a channel's raw value to
// produce its engineering value or text representation.
type Conversion struct {
	Header
	Type     ConversionType
	Name     string
	Unit     string
	Comment  string
	Params   []float64       // a,b for Linear; P1..P6 for Rational/Polynomial; P1..P7 for Exponential/Logarithmic
	Formula  string          // Algebraic infix expression
	Keys     []float64       // x breakpoints for Tabular/TabularInterp
	Values   []float64       // y values for Tabular/TabularInterp
	IntKeys  []int64         // exact-match keys for ValueToText/TextToValue
	RangesLo []float64       // ValueRangeToText: half-open [lo,hi) lower bounds
	RangesHi []float64
	Refs     []ConversionRef // text or nested-conversion results, parallel to Keys/IntKeys/Ranges
	Default  *ConversionRef  // trailing entry with no range/key: the default
}

func (b *Conversion) Kind() string { return b.Header.Tag }
func (b *Conversion) Hdr() *Header { return &b.Header }

// NewLinearConversion builds a CC block for "y = a + b*x".
func NewLinearConversion(a, b float64) *Conversion {
	return &Conversion{Type: ConversionLinear, Params: []float64{a, b}}
}

// NewIdentityConversion builds a CC block that passes the raw value through unchanged.
func NewIdentityConversion() *Conversion {
	return &Conversion{Type: ConversionIdentity}
}

// NewValueRangeToTextConversion builds a ValueRangeToText CC block:
// lo/hi/text triples, scanned in order, first match wins,
// with defaultText used when no range matches.
func NewValueRangeToTextConversion(lo, hi []float64, text []string, defaultText string) *Conversion {
	c := &Conversion{Type: ConversionValueRangeToText}
	c.RangesLo = append([]float64(nil), lo...)
	c.RangesHi = append([]float64(nil), hi...)
	for _, t := range text {
		c.Refs = append(c.Refs, ConversionRef{Text: t})
	}
	c.Default = &ConversionRef{Text: defaultText}

	return c
}

// v4 CCBLOCK payload layout (fixed part, after the link table):
//
//	cc_type u8, cc_precision u8, cc_flags u16, cc_ref_count u16, cc_val_count u16,
//	cc_phy_range_min f64, cc_phy_range_max f64, then cc_val_count * f64 params.
const ccV4FixedSize = 24

// wireParams flattens a conversion's typed tables back to the single
// cc_val f64 array the v4 grammar stores, the inverse of readConversion's
// per-type splitting.
func (c *Conversion) wireParams() []float64 {
	switch c.Type {
	case ConversionValueToText, ConversionTextToValue:
		out := make([]float64, len(c.IntKeys))
		for i, k := range c.IntKeys {
			out[i] = float64(k)
		}

		return out
	case ConversionValueRangeToText:
		out := make([]float64, 0, 2*len(c.RangesLo))
		for i := range c.RangesLo {
			out = append(out, c.RangesLo[i], c.RangesHi[i])
		}

		return out
	case ConversionTabular, ConversionTabularInterp:
		out := make([]float64, 0, 2*len(c.Keys))
		for i := range c.Keys {
			out = append(out, c.Keys[i], c.Values[i])
		}

		return out
	default:
		return c.Params
	}
}

// WriteConversionV4 appends a v4 CC block (with any referenced text or
// nested-conversion blocks written first) and returns its offset.
func WriteConversionV4(w *iohelp.Writer, c *Conversion) (int64, error) {
	var txName, txUnit int64
	var err error
	if c.Name != "" {
		if txName, err = WriteTextV4(w, "TX", c.Name); err != nil {
			return 0, err
		}
	}
	if c.Unit != "" {
		if txUnit, err = WriteTextV4(w, "TX", c.Unit); err != nil {
			return 0, err
		}
	}

	var refs []int64
	writeRef := func(r ConversionRef) error {
		if r.Nested != nil {
			off, err := WriteConversionV4(w, r.Nested)
			if err != nil {
				return err
			}
			refs = append(refs, off)

			return nil
		}
		off, err := WriteTextV4(w, "TX", r.Text)
		if err != nil {
			return err
		}
		refs = append(refs, off)

		return nil
	}

	switch c.Type {
	case ConversionAlgebraic:
		if err := writeRef(ConversionRef{Text: c.Formula}); err != nil {
			return 0, err
		}
	case ConversionValueToText, ConversionValueRangeToText, ConversionTextToValue, ConversionTextToText:
		for _, r := range c.Refs {
			if err := writeRef(r); err != nil {
				return 0, err
			}
		}
		if c.Default != nil {
			if err := writeRef(*c.Default); err != nil {
				return 0, err
			}
		}
	}

	params := c.wireParams()

	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	links := append([]int64{txName, txUnit, 0, 0}, refs...)
	if _, err := WriteHeaderV4(w, "CC", links, ccV4FixedSize+8*len(params)); err != nil {
		return 0, err
	}

	payload := make([]byte, ccV4FixedSize+8*len(params))
	engine := endian.GetLittleEndianEngine()
	payload[0] = byte(c.Type)
	engine.PutUint16(payload[4:6], uint16(len(refs)))
	engine.PutUint16(payload[6:8], uint16(len(params)))
	off := ccV4FixedSize
	for _, p := range params {
		engine.PutUint64(payload[off:off+8], math.Float64bits(p))
		off += 8
	}
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}

	return offset, w.AlignTo8()
}

// parseConversionV4 decodes a CC block's fixed payload. Reference-link
// resolution (name/unit/comment/nested refs) is supplied by the caller,
// since it requires walking the owning file's link table.
func parseConversionV4(h Header, payload []byte, name, unit, comment string) *Conversion {
	c := &Conversion{Header: h, Name: name, Unit: unit, Comment: comment}
	if len(payload) < ccV4FixedSize {
		return c
	}

	engine := endian.GetLittleEndianEngine()
	c.Type = ConversionType(payload[0])
	valCount := int(engine.Uint16(payload[6:8]))

	off := ccV4FixedSize
	for i := 0; i < valCount && off+8 <= len(payload); i++ {
		bits := engine.Uint64(payload[off : off+8])
		c.Params = append(c.Params, math.Float64frombits(bits))
		off += 8
	}

	return c
}
