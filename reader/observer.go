package reader

import (
	"github.com/openmdf/mdf/blocks"
	"github.com/openmdf/mdf/convert"
	"github.com/openmdf/mdf/errs"
	"github.com/openmdf/mdf/record"
)

// ChannelObserver binds a (data group, channel group, channel) triple to a
// fully decoded column of raw values: one record.Value per sample, with
// invalidation bits and VLSD indices already resolved. Engineering values
// are converted on demand.
type ChannelObserver struct {
	Channel *blocks.Channel

	values []record.Value
	eng    *convert.Engine
}

// NofSamples returns the number of decoded samples.
func (o *ChannelObserver) NofSamples() uint64 { return uint64(len(o.values)) }

// ChannelValue returns the raw decoded value for one sample.
func (o *ChannelObserver) ChannelValue(sample int) (record.Value, error) {
	if sample < 0 || sample >= len(o.values) {
		return record.Value{}, errs.ErrShortRecord
	}

	return o.values[sample], nil
}

// EngValue returns the conversion-applied engineering value for one sample.
func (o *ChannelObserver) EngValue(sample int) (convert.Result, error) {
	raw, err := o.ChannelValue(sample)
	if err != nil {
		return convert.Result{}, err
	}

	ch := o.Channel
	switch {
	case ch.DataType.IsString():
		return o.eng.ApplyText(ch.Conversion, raw.Str)
	case ch.DataType.IsFloat():
		return o.eng.Apply(ch.Conversion, raw.Float)
	case ch.DataType.IsSigned():
		return o.eng.Apply(ch.Conversion, float64(raw.Int))
	default:
		return o.eng.Apply(ch.Conversion, float64(raw.Uint))
	}
}

// CreateObservers decodes every channel of cg within g into one observer
// per channel: each column is extracted in a single typed pass, and
// VariableLength channels additionally get their indices resolved against
// the channel's SD payload (or linked VLSD group) read exactly once.
func (r *Reader) CreateObservers(g *Group, cg *blocks.ChannelGroup) ([]*ChannelObserver, error) {
	bodies, invalids, err := g.Records(cg)
	if err != nil {
		return nil, err
	}

	observers := make([]*ChannelObserver, 0, len(cg.Channels))
	for _, ch := range cg.Channels {
		values, err := record.ExtractColumn(bodies, ch)
		if err != nil {
			return nil, err
		}

		for i := range values {
			values[i].Invalid = record.IsInvalid(invalids[i], ch)
		}

		if ch.ChannelType == blocks.ChannelVariableLength {
			if err := r.resolveVLSDColumn(ch, values); err != nil {
				return nil, err
			}
		}

		observers = append(observers, &ChannelObserver{Channel: ch, values: values, eng: r.convEng})
	}

	return observers, nil
}

// resolveVLSDColumn replaces a VLSD column's raw u64 indices with the
// string/byte-array payloads they point to, materializing the channel's
// variable-length data once for the whole column.
func (r *Reader) resolveVLSDColumn(ch *blocks.Channel, values []record.Value) error {
	switch {
	case ch.VLSDData != nil:
		payload, err := r.file.ReadBlockData(ch.VLSDData)
		if err != nil {
			return err
		}
		for i := range values {
			v, err := record.ResolveVLSDAt(payload, values[i].Uint, ch.DataType)
			if err != nil {
				return err
			}
			v.Invalid = values[i].Invalid
			v.Uint = values[i].Uint
			values[i] = v
		}
	case ch.VLSDLinkedGroup != nil:
		dg := r.ownerOf(ch.VLSDLinkedGroup)
		if dg == nil {
			return errs.ErrInvalidLink
		}
		payload, err := r.file.ReadData(dg)
		if err != nil {
			return err
		}
		for i := range values {
			v, err := record.ResolveVLSD(payload, values[i].Uint, ch.DataType)
			if err != nil {
				return err
			}
			v.Invalid = values[i].Invalid
			v.Uint = values[i].Uint
			values[i] = v
		}
	default:
		return errs.ErrInvalidLink
	}

	return nil
}

// MasterObserver returns the observer bound to cg's master channel, or nil
// for a masterless group.
func MasterObserver(observers []*ChannelObserver) *ChannelObserver {
	for _, o := range observers {
		if o.Channel.IsMaster() {
			return o
		}
	}

	return nil
}
