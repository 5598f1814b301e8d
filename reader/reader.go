// Package reader implements the read-side state machine and observer
// contract: Closed -> Open -> HeaderRead -> InfoRead -> FullyRead, and
// per-channel-group record access (nof_samples, get_channel_value,
// get_eng_value, the master-channel observer).
package reader

import (
	"github.com/openmdf/mdf/blocks"
	"github.com/openmdf/mdf/convert"
	"github.com/openmdf/mdf/errs"
	"github.com/openmdf/mdf/mdffile"
	"github.com/openmdf/mdf/mdflog"
	"github.com/openmdf/mdf/record"
)

// State is a Reader's position in the read lifecycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHeaderRead
	StateInfoRead
	StateFullyRead
)

// Reader wraps an opened mdffile.File with the state machine and per-group
// record decoding the rest of this package builds on. mdffile.Open already
// parses the whole tree in one pass, so the ReadHeader/ReadMeasurementInfo/
// ReadEverythingButData transitions are cheap bookkeeping; StateFullyRead
// is reached once every data group has been materialized at least once.
type Reader struct {
	file    mdffile.File
	state   State
	read    map[*blocks.DataGroup]bool
	convEng *convert.Engine
}

// New wraps an already-opened file.
func New(f mdffile.File) *Reader {
	state := StateClosed
	if f != nil {
		state = StateOpen
	}

	return &Reader{file: f, state: state, read: make(map[*blocks.DataGroup]bool), convEng: convert.NewEngine()}
}

// State returns the reader's current lifecycle state.
func (r *Reader) State() State { return r.state }

// ReadHeader ensures the ID and HD blocks are loaded. mdffile.Open parses
// eagerly, so this (like the two loaders below) is an idempotent state
// transition: cheap if the phase was already reached.
func (r *Reader) ReadHeader() error {
	if r.file == nil {
		return errs.ErrWrongPhase
	}
	if r.state < StateHeaderRead {
		r.state = StateHeaderRead
	}

	return nil
}

// ReadMeasurementInfo ensures the DG/CG level of the tree is loaded.
func (r *Reader) ReadMeasurementInfo() error {
	if err := r.ReadHeader(); err != nil {
		return err
	}
	if r.state < StateInfoRead {
		r.state = StateInfoRead
	}

	return nil
}

// ReadEverythingButData ensures the full block tree short of data payloads
// (CN/CC/SI/SR/AT/EV/CH and VLSD cross-links) is loaded.
func (r *Reader) ReadEverythingButData() error {
	return r.ReadMeasurementInfo()
}

// DataGroups returns the file's data groups in on-disk order.
func (r *Reader) DataGroups() []*blocks.DataGroup { return r.file.DataGroups() }

// Group materializes dg's payload into a Group, advancing the reader
// toward StateFullyRead once every data group has been visited.
func (r *Reader) Group(dg *blocks.DataGroup) (*Group, error) {
	payload, err := r.file.ReadData(dg)
	if err != nil {
		mdflog.Logf(mdflog.LevelError, "data group at offset %d: %v", dg.Hdr().Offset, err)

		return nil, err
	}

	r.read[dg] = true
	if len(r.read) == len(r.file.DataGroups()) {
		r.state = StateFullyRead
	}

	return newGroup(dg, payload), nil
}

// Group is one data group's payload sliced into fixed-width records per
// channel group, the unit the observer methods operate on.
type Group struct {
	dg      *blocks.DataGroup
	payload []byte
}

func newGroup(dg *blocks.DataGroup, payload []byte) *Group {
	return &Group{dg: dg, payload: payload}
}

// recordIDWidth returns how many leading bytes of each record are the
// record-id prefix (0 if the group has only one channel group).
func (g *Group) recordIDWidth() int {
	if !g.dg.NeedsRecordID() {
		return 0
	}

	return int(g.dg.RecordIDSize)
}

// readRecordID decodes the little-endian record-id prefix of width bytes at
// the front of rec, the form the writer's record handler emits.
func readRecordID(rec []byte, width int) uint64 {
	var id uint64
	for i := 0; i < width && i < len(rec); i++ {
		id |= uint64(rec[i]) << (8 * i)
	}

	return id
}

// Records iterates every record belonging to cg within the group's
// payload, yielding the record body (record-id and invalidation bytes
// already stripped) and its invalidation-byte region.
//
// Records of sibling channel groups are stepped over by *their* record
// length, looked up from the record-id prefix. An id with no matching
// group means the payload is truncated or misframed: the records decoded
// so far are returned together with a recoverable RecordError, per the
// read_data contract.
func (g *Group) Records(cg *blocks.ChannelGroup) ([][]byte, [][]byte, error) {
	idWidth := g.recordIDWidth()
	if cg.TotalRecordLength() == 0 {
		return nil, nil, errs.ErrShortRecord
	}

	var bodies, invalids [][]byte
	pos := 0
	for pos+idWidth < len(g.payload) {
		owner := cg
		if idWidth > 0 {
			id := readRecordID(g.payload[pos:], idWidth)
			owner = g.dg.FindChannelGroup(id)
			if owner == nil {
				return bodies, invalids, &errs.RecordError{RecordIndex: len(bodies), Err: errs.ErrRecordIDNotFound}
			}
		}

		total := idWidth + int(owner.TotalRecordLength())
		if pos+total > len(g.payload) {
			break
		}

		if owner == cg {
			rec := g.payload[pos : pos+total]
			body := rec[idWidth : idWidth+int(cg.RecordLength)]
			invalid := rec[idWidth+int(cg.RecordLength) : idWidth+int(cg.RecordLength)+int(cg.InvalidBytes)]
			bodies = append(bodies, body)
			invalids = append(invalids, invalid)
		}
		pos += total
	}

	return bodies, invalids, nil
}

// NumSamples returns cg's cycle count as recorded in its own header,
// independent of how many records actually matched during a Records scan
// (the two agree for a well-formed file; a mismatch is a sign the payload
// was truncated or the record-id framing assumption doesn't hold).
func NumSamples(cg *blocks.ChannelGroup) uint64 { return cg.CycleCount }

// ChannelValue returns ch's raw decoded value for sample index within
// bodies/invalids, as produced by Records.
func ChannelValue(bodies, invalids [][]byte, ch *blocks.Channel, index int) (record.Value, error) {
	if index < 0 || index >= len(bodies) {
		return record.Value{}, errs.ErrShortRecord
	}

	v, err := record.Extract(bodies[index], ch)
	if err != nil {
		return record.Value{}, err
	}
	v.Invalid = record.IsInvalid(invalids[index], ch)

	return v, nil
}

// EngValue returns ch's converted engineering value (or text) for sample
// index, applying ch's Conversion chain via eng.
func EngValue(eng *convert.Engine, bodies, invalids [][]byte, ch *blocks.Channel, index int) (convert.Result, error) {
	raw, err := ChannelValue(bodies, invalids, ch, index)
	if err != nil {
		return convert.Result{}, err
	}

	switch {
	case ch.DataType.IsString():
		return eng.ApplyText(ch.Conversion, raw.Str)
	case ch.DataType.IsFloat():
		return eng.Apply(ch.Conversion, raw.Float)
	case ch.DataType.IsSigned():
		return eng.Apply(ch.Conversion, float64(raw.Int))
	default:
		return eng.Apply(ch.Conversion, float64(raw.Uint))
	}
}

// ResolveVLSD follows ch's raw index to the actual string/byte-array value
// it refers to: through the channel's own SD-style payload
// (absolute byte offset) if it has one, otherwise through a sibling channel
// group declared VLSD (record ordinal into that group's own payload).
func (r *Reader) ResolveVLSD(ch *blocks.Channel, rawIndex uint64) (record.Value, error) {
	switch {
	case ch.VLSDData != nil:
		payload, err := r.file.ReadBlockData(ch.VLSDData)
		if err != nil {
			return record.Value{}, err
		}

		return record.ResolveVLSDAt(payload, rawIndex, ch.DataType)
	case ch.VLSDLinkedGroup != nil:
		dg := r.ownerOf(ch.VLSDLinkedGroup)
		if dg == nil {
			return record.Value{}, errs.ErrInvalidLink
		}

		payload, err := r.file.ReadData(dg)
		if err != nil {
			return record.Value{}, err
		}

		return record.ResolveVLSD(payload, rawIndex, ch.DataType)
	default:
		return record.Value{}, errs.ErrInvalidBitLayout
	}
}

// ownerOf finds the data group owning cg, needed to materialize a sibling
// VLSD group's payload (ChannelGroup itself carries no back-link).
func (r *Reader) ownerOf(cg *blocks.ChannelGroup) *blocks.DataGroup {
	for _, dg := range r.file.DataGroups() {
		for _, c := range dg.ChannelGroups {
			if c == cg {
				return dg
			}
		}
	}

	return nil
}

// ChannelValueResolved is ChannelValue followed by VLSD resolution when ch
// is VariableLength: the raw u64 index is replaced by the string/byte-array
// it points to. Fixed-length and MaxLength channels pass through unchanged
// (MaxLength is already fully decoded by record.Extract).
func (r *Reader) ChannelValueResolved(bodies, invalids [][]byte, ch *blocks.Channel, index int) (record.Value, error) {
	v, err := ChannelValue(bodies, invalids, ch, index)
	if err != nil {
		return record.Value{}, err
	}

	if ch.ChannelType != blocks.ChannelVariableLength {
		return v, nil
	}

	resolved, err := r.ResolveVLSD(ch, v.Uint)
	if err != nil {
		return record.Value{}, err
	}
	resolved.Invalid = v.Invalid

	return resolved, nil
}

// MasterValues returns the engineering values of cg's master channel
// across every sample, the x-axis a plotting or resampling caller needs.
func MasterValues(eng *convert.Engine, bodies, invalids [][]byte, cg *blocks.ChannelGroup) ([]float64, error) {
	master := cg.MasterChannel()
	if master == nil {
		return nil, errs.ErrRecordIDNotFound
	}

	out := make([]float64, len(bodies))
	for i := range bodies {
		r, err := EngValue(eng, bodies, invalids, master, i)
		if err != nil {
			return nil, err
		}
		out[i] = r.Float
	}

	return out, nil
}
