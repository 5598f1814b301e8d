package writer

import (
	"fmt"
	"io"

	"github.com/openmdf/mdf/blocks"
	"github.com/openmdf/mdf/errs"
	"github.com/openmdf/mdf/internal/pool"
	"github.com/openmdf/mdf/iohelp"
	"github.com/openmdf/mdf/record"
)

// WriterV3 writes MDF version 3 files. It shares the build-phase API with
// the v4 Writer but appends synchronously on the caller's thread: the v3
// data region is headerless raw records with no compression or list
// chaining, so there is no batching for a worker to do. Records are staged
// in memory per data group and land on disk at FinalizeMeasurement, keeping
// each group's region contiguous.
//
// Record-body numerics are little-endian unless bigEndian was requested at
// construction, in which case the ID block declares big-endian and numeric
// channels should use the *BE data types.
type WriterV3 struct {
	w      *iohelp.Writer
	id     *blocks.ID
	header *blocks.FileHeader

	hdOffset int64
	state    State

	groups     map[*blocks.ChannelGroup]*v3GroupState
	dataGroups []*v3DataGroupState
}

type v3GroupState struct {
	cg       *blocks.ChannelGroup
	dgs      *v3DataGroupState
	cgOffset int64
	cycles   uint64
	staged   []byte
}

type v3DataGroupState struct {
	dg       *blocks.DataGroup
	dgOffset int64
	staging  *pool.ByteBuffer
}

// NewV3 creates a writer for a fresh v3 file, still in StateCreate.
func NewV3(ws io.WriteSeeker, startTimeNs int64, bigEndian bool) (*WriterV3, error) {
	id, err := blocks.NewID(330, bigEndian)
	if err != nil {
		return nil, err
	}

	return &WriterV3{
		w:      iohelp.NewWriter(ws, id.Engine()),
		id:     id,
		header: blocks.NewFileHeader(startTimeNs),
		groups: make(map[*blocks.ChannelGroup]*v3GroupState),
	}, nil
}

// Header exposes the in-memory HD block for build-phase metadata.
func (w *WriterV3) Header() *blocks.FileHeader { return w.header }

// State returns the writer's current lifecycle state.
func (w *WriterV3) State() State { return w.state }

// CreateDataGroup adds an empty data group to the in-memory tree.
func (w *WriterV3) CreateDataGroup() *blocks.DataGroup {
	dg := blocks.NewDataGroup()
	w.header.DataGroups = append(w.header.DataGroups, dg)

	return dg
}

// CreateChannelGroup adds an empty channel group to dg.
func (w *WriterV3) CreateChannelGroup(dg *blocks.DataGroup, name string) *blocks.ChannelGroup {
	cg := blocks.NewChannelGroup(name)
	cg.RecordID = uint64(len(dg.ChannelGroups))
	dg.ChannelGroups = append(dg.ChannelGroups, cg)

	return cg
}

// CreateChannel appends a fixed-length channel to cg, packed immediately
// after the group's current record layout.
func (w *WriterV3) CreateChannel(cg *blocks.ChannelGroup, name string, dataType blocks.DataType, bitCount uint32) *blocks.Channel {
	byteOffset := cg.RecordLength
	ch := blocks.NewChannel(name, dataType, byteOffset, bitCount)
	cg.AddChannel(ch)
	cg.RecordLength += uint32((bitCount + 7) / 8)

	return ch
}

// CreateMasterChannel appends the group's master channel.
func (w *WriterV3) CreateMasterChannel(cg *blocks.ChannelGroup, name string, syncType blocks.SyncType, dataType blocks.DataType, bitCount uint32) *blocks.Channel {
	byteOffset := cg.RecordLength
	ch := blocks.NewMasterChannel(name, syncType, dataType, byteOffset, bitCount)
	cg.AddChannel(ch)
	cg.RecordLength += uint32((bitCount + 7) / 8)

	return ch
}

// validateTree checks the v3 constraints: one-byte record ids at most (the
// v3 DG field is 0 or 1), at most one master per group, layouts in bounds.
// v3 has no invalidation bytes; channels with invalidation bits are rejected.
func (w *WriterV3) validateTree() error {
	for _, dg := range w.header.DataGroups {
		if len(dg.ChannelGroups) > 0x100 {
			return fmt.Errorf("%w: %d channel groups exceed v3's one-byte record id",
				errs.ErrInvalidBitLayout, len(dg.ChannelGroups))
		}
		dg.RecordIDSize = recordIDSizeFor(len(dg.ChannelGroups))

		for _, cg := range dg.ChannelGroups {
			var masters int
			for _, ch := range cg.Channels {
				if ch.IsMaster() {
					masters++
				}
				if ch.HasInvalidBit {
					return fmt.Errorf("%w: channel %q declares an invalidation bit, which v3 cannot store",
						errs.ErrInvalidBitLayout, ch.Name)
				}
				if end := int(ch.ByteOffset) + ch.ByteWidth(); end > int(cg.RecordLength) {
					return fmt.Errorf("%w: channel %q ends at byte %d, record length is %d",
						errs.ErrInvalidBitLayout, ch.Name, end, cg.RecordLength)
				}
			}
			if masters > 1 {
				return fmt.Errorf("%w: channel group %q has %d master channels",
					errs.ErrWrongPhase, cg.Name, masters)
			}
		}
	}

	return nil
}

// InitMeasurement validates the tree and flushes the v3 skeleton: ID, HD,
// then every DG/CG/CN with zero data links, to be patched on finalize.
func (w *WriterV3) InitMeasurement() error {
	if w.state != StateCreate {
		return errs.ErrWrongPhase
	}

	if err := w.validateTree(); err != nil {
		return err
	}

	if err := blocks.WriteID(w.w, w.id); err != nil {
		return err
	}

	hdOffset, err := blocks.WriteFileHeaderV3(w.w, w.header, 0, 0)
	if err != nil {
		return err
	}
	w.hdOffset = hdOffset

	var dgOffsets []int64
	for _, dg := range w.header.DataGroups {
		dgs := &v3DataGroupState{dg: dg, staging: pool.GetBatchBuffer()}

		var cgOffsets []int64
		for _, cg := range dg.ChannelGroups {
			cnFirst, err := w.writeChannelChainV3(cg)
			if err != nil {
				return err
			}

			cgOffset, err := blocks.WriteChannelGroupV3(w.w, cg, 0, cnFirst, 0)
			if err != nil {
				return err
			}

			w.groups[cg] = &v3GroupState{cg: cg, dgs: dgs, cgOffset: cgOffset}
			cgOffsets = append(cgOffsets, cgOffset)
		}

		for i := 0; i < len(cgOffsets)-1; i++ {
			if err := blocks.PatchLinkV3(w.w, cgOffsets[i], nextLinkIndex, cgOffsets[i+1]); err != nil {
				return err
			}
		}

		var cgFirst int64
		if len(cgOffsets) > 0 {
			cgFirst = cgOffsets[0]
		}

		dgOffset, err := blocks.WriteDataGroupV3(w.w, dg, 0, cgFirst, 0)
		if err != nil {
			return err
		}

		dgs.dgOffset = dgOffset
		w.dataGroups = append(w.dataGroups, dgs)
		dgOffsets = append(dgOffsets, dgOffset)
	}

	for i := 0; i < len(dgOffsets)-1; i++ {
		if err := blocks.PatchLinkV3(w.w, dgOffsets[i], nextLinkIndex, dgOffsets[i+1]); err != nil {
			return err
		}
	}

	const hdDGFirstLinkIndex = 0
	if len(dgOffsets) > 0 {
		if err := blocks.PatchLinkV3(w.w, w.hdOffset, hdDGFirstLinkIndex, dgOffsets[0]); err != nil {
			return err
		}
	}

	w.state = StateInit

	return nil
}

func (w *WriterV3) writeChannelChainV3(cg *blocks.ChannelGroup) (int64, error) {
	var offsets []int64
	for _, ch := range cg.Channels {
		offset, err := blocks.WriteChannelV3(w.w, ch, 0, 0, 0)
		if err != nil {
			return 0, err
		}
		offsets = append(offsets, offset)
	}

	for i := 0; i < len(offsets)-1; i++ {
		if err := blocks.PatchLinkV3(w.w, offsets[i], nextLinkIndex, offsets[i+1]); err != nil {
			return 0, err
		}
	}
	if len(offsets) == 0 {
		return 0, nil
	}

	return offsets[0], nil
}

// StartMeasurement transitions Init -> Start. The v3 writer keeps no
// pre-trigger queue; the states exist so the two writers share a lifecycle.
func (w *WriterV3) StartMeasurement(int64) error {
	if w.state != StateInit {
		return errs.ErrWrongPhase
	}
	w.state = StateStart

	return nil
}

// StopMeasurement transitions Start -> Stop.
func (w *WriterV3) StopMeasurement(int64) error {
	if w.state != StateStart {
		return errs.ErrWrongPhase
	}
	w.state = StateStop

	return nil
}

// SetChannelValue writes v into cg's staged sample buffer at ch's slot.
func (w *WriterV3) SetChannelValue(cg *blocks.ChannelGroup, ch *blocks.Channel, v record.Value) error {
	gs, ok := w.groups[cg]
	if !ok {
		return errs.ErrWrongPhase
	}

	if gs.staged == nil {
		gs.staged = make([]byte, cg.RecordLength)
	}

	return record.Insert(gs.staged, ch, v)
}

// SaveSample appends cg's staged record (with its one-byte record id when
// the data group carries several groups) to the group's in-memory region.
func (w *WriterV3) SaveSample(cg *blocks.ChannelGroup, _ int64) error {
	if w.state != StateInit && w.state != StateStart && w.state != StateStop {
		return errs.ErrWrongPhase
	}

	gs, ok := w.groups[cg]
	if !ok {
		return errs.ErrWrongPhase
	}
	if gs.staged == nil {
		gs.staged = make([]byte, cg.RecordLength)
	}

	if gs.dgs.dg.NeedsRecordID() {
		gs.dgs.staging.MustWrite([]byte{byte(cg.RecordID)})
	}
	gs.dgs.staging.MustWrite(gs.staged)
	gs.cycles++

	return nil
}

// FinalizeMeasurement writes each data group's staged record region,
// patches its data link and every cycle counter, and releases the staging
// buffers. Idempotent after the first call.
func (w *WriterV3) FinalizeMeasurement() error {
	if w.state == StateFinalize {
		return nil
	}
	if w.state != StateInit && w.state != StateStart && w.state != StateStop {
		return errs.ErrWrongPhase
	}

	for _, dgs := range w.dataGroups {
		if dgs.staging.Len() > 0 {
			offset, err := w.w.SeekEnd()
			if err != nil {
				return err
			}
			// v3 blocks are 2-byte aligned; the raw record region follows suit.
			if offset%2 != 0 {
				if err := w.w.WriteU8(0); err != nil {
					return err
				}
				offset++
			}

			if err := w.w.WriteBytes(dgs.staging.Bytes()); err != nil {
				return err
			}
			if err := blocks.PatchDataGroupDataV3(w.w, dgs.dgOffset, offset); err != nil {
				return err
			}
		}

		for _, cg := range dgs.dg.ChannelGroups {
			gs := w.groups[cg]
			if gs == nil {
				continue
			}
			if err := blocks.PatchChannelGroupCycleCountV3(w.w, gs.cgOffset, gs.cycles); err != nil {
				return err
			}
		}

		pool.PutBatchBuffer(dgs.staging)
	}

	w.state = StateFinalize

	return nil
}
