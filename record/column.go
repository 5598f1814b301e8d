package record

import (
	"github.com/openmdf/mdf/blocks"
	"github.com/openmdf/mdf/errs"
)

// ExtractColumn decodes ch across every record in bodies, dispatching on
// the channel's type once and running the chosen decode in a tight loop.
// Readers fill one column per channel this way instead of re-matching the
// data type per sample.
func ExtractColumn(bodies [][]byte, ch *blocks.Channel) ([]Value, error) {
	out := make([]Value, len(bodies))

	var decode func(rec []byte) (Value, error)
	switch {
	case ch.ChannelType == blocks.ChannelVariableLength:
		decode = func(rec []byte) (Value, error) {
			idx, err := extractBits(rec, ch.ByteOffset, ch.BitOffset, ch.BitCount, ch.DataType.IsBigEndian())
			if err != nil {
				return Value{}, err
			}

			return Value{Uint: idx}, nil
		}
	case ch.ChannelType == blocks.ChannelMaxLength:
		decode = func(rec []byte) (Value, error) { return extractMaxLength(rec, ch) }
	case ch.DataType.IsFloat():
		decode = func(rec []byte) (Value, error) { return extractFloat(rec, ch) }
	case ch.DataType.IsString():
		decode = func(rec []byte) (Value, error) { return extractString(rec, ch) }
	case ch.DataType == blocks.DataByteArray || ch.DataType == blocks.DataMimeSample || ch.DataType == blocks.DataMimeStream:
		decode = func(rec []byte) (Value, error) { return extractBytes(rec, ch) }
	case ch.DataType == blocks.DataCanOpenDate:
		decode = func(rec []byte) (Value, error) { return extractCanOpenDate(rec, ch) }
	case ch.DataType == blocks.DataCanOpenTime:
		decode = func(rec []byte) (Value, error) { return extractCanOpenTime(rec, ch) }
	case ch.DataType.IsSigned():
		decode = func(rec []byte) (Value, error) {
			raw, err := extractBits(rec, ch.ByteOffset, ch.BitOffset, ch.BitCount, ch.DataType.IsBigEndian())
			if err != nil {
				return Value{}, err
			}

			return Value{Int: signExtend(raw, ch.BitCount)}, nil
		}
	case ch.DataType.IsUnsigned():
		decode = func(rec []byte) (Value, error) {
			raw, err := extractBits(rec, ch.ByteOffset, ch.BitOffset, ch.BitCount, ch.DataType.IsBigEndian())
			if err != nil {
				return Value{}, err
			}

			return Value{Uint: raw}, nil
		}
	default:
		return nil, &errs.ValueError{Channel: ch.Name, Err: errs.ErrUnrepresentable}
	}

	for i, rec := range bodies {
		v, err := decode(rec)
		if err != nil {
			return nil, &errs.ValueError{Channel: ch.Name, Err: err}
		}
		out[i] = v
	}

	return out, nil
}
