// Package writer implements the write-side core and its queue/worker:
// building a block tree in memory, flushing the skeleton, streaming
// samples through a background worker that batches and optionally
// compresses them, and patching sizes/links/cycle-counts on finalize.
//
// The streaming writer targets MDF version 4: compression and the DZ/DL/HL
// chain it exercises are v4-only features. Version 3 files are written by
// the synchronous WriterV3 in this package, which shares the build-phase
// API but appends records directly (v3's headerless data region has no use
// for the batching worker).
package writer

import (
	"crypto/md5"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/openmdf/mdf/blocks"
	"github.com/openmdf/mdf/datastream"
	"github.com/openmdf/mdf/errs"
	"github.com/openmdf/mdf/internal/options"
	"github.com/openmdf/mdf/internal/pool"
	"github.com/openmdf/mdf/iohelp"
	"github.com/openmdf/mdf/mdflog"
	"github.com/openmdf/mdf/record"
)

// State is the writer's position in the write lifecycle.
type State int

const (
	StateCreate State = iota
	StateInit
	StateStart
	StateStop
	StateFinalize
)

// workerWakeInterval is the worker's periodic wake: even with no enqueue
// activity the queue is re-examined (and, in StateInit, pre-trigger-trimmed)
// this often.
const workerWakeInterval = 10 * time.Second

// Record is one caller-encoded sample destined for a channel group: its
// already-packed fixed-length record body (record-codec output, data bytes
// followed by invalidation bytes) and the timestamp the pre-trigger window
// and stop time are applied against.
//
// VLSD holds the variable-length payload for each VariableLength channel in
// this record, if any; the u64 index slot for that channel within Body is
// left at zero by the caller and filled in by the worker once it knows the
// channel's SD payload's current length (the offset the index must carry).
type Record struct {
	CG          *blocks.ChannelGroup
	TimestampNs int64
	Body        []byte
	VLSD        []VLSDEntry
}

// VLSDEntry is one VariableLength channel's variable-length payload for a
// single record, still unframed (no length prefix, no assigned offset).
type VLSDEntry struct {
	Channel *blocks.Channel
	Text    string // used when Channel.DataType.IsString()
	Bytes   []byte // used otherwise (ByteArray/Mime* channels)
}

// Config holds the construction-time choices an Option can set.
type Config struct {
	compress        bool
	algorithm       blocks.CompressionAlgorithm
	columnCount     int
	preTrigNs       int64
	flushBatchBytes int
}

// Option configures a Writer at construction time.
type Option = options.Option[*Config]

// WithCompression enables DZ compression for every group's data blocks.
// Passing cols > 0 selects AlgorithmTransposeDeflate with that column
// width instead of the plain AlgorithmDeflate.
func WithCompression(cols int) Option {
	return options.NoError[*Config](func(c *Config) {
		c.compress = true
		if cols > 0 {
			c.algorithm = blocks.AlgorithmTransposeDeflate
			c.columnCount = cols
		} else {
			c.algorithm = blocks.AlgorithmDeflate
		}
	})
}

// WithPreTrigger sets the pre-trigger retention window, in nanoseconds,
// that Init-phase samples older than start_time-preTrigNs are trimmed to.
func WithPreTrigger(preTrigNs int64) Option {
	return options.NoError[*Config](func(c *Config) { c.preTrigNs = preTrigNs })
}

// WithFlushBatchSize overrides the default 4 MiB compression/append batch size.
func WithFlushBatchSize(bytes int) Option {
	return options.NoError[*Config](func(c *Config) { c.flushBatchBytes = bytes })
}

// groupState is the worker's per-channel-group bookkeeping.
type groupState struct {
	cg       *blocks.ChannelGroup
	dgs      *dataGroupState
	cgOffset int64

	cycles uint64

	// staged is the group's current sample buffer: SetChannelValue writes
	// into it and SaveSample clones it into the queue.
	staged     []byte
	stagedVLSD []VLSDEntry

	// vlsd accumulates each VariableLength channel's whole SD payload
	// across the run; finalize writes one SD block per channel and patches
	// the channel's data link to it.
	vlsd map[*blocks.Channel]*pool.ByteBuffer
}

// dataGroupState tracks one data group's staging buffer and the data blocks
// flushed for it so far. Staging is per data group, not per channel group:
// records of every group sharing the DG interleave in one payload, each
// prefixed with its record id when the DG carries more than one group.
type dataGroupState struct {
	dg       *blocks.DataGroup
	dgOffset int64

	staging      *pool.ByteBuffer
	blockOffsets []int64
	blockLens    []uint64
}

// Writer drives the build/flush/append/patch write lifecycle.
type Writer struct {
	w      *iohelp.Writer
	id     *blocks.ID
	header *blocks.FileHeader

	cfg Config

	dataGroups []*dataGroupState
	groups     map[*blocks.ChannelGroup]*groupState
	chOffsets  map[*blocks.Channel]int64

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Record
	closing  bool
	state    State
	poisoned bool
	err      error

	preTrigStart int64 // start_time_ns recorded at StartMeasurement
	stopTime     int64 // stop_time_ns recorded at StopMeasurement
	stopped      bool
	dataPosition int64

	workerDone chan struct{}
	wakeQuit   chan struct{}
}

// New creates a writer for a fresh v4 file, still in StateCreate: the
// caller populates the block tree (CreateDataGroup/CreateChannelGroup/
// CreateChannel) before calling InitMeasurement.
func New(ws io.WriteSeeker, startTimeNs int64, opts ...Option) (*Writer, error) {
	id, err := blocks.NewID(410, false)
	if err != nil {
		return nil, err
	}
	// Streamed files carry the unfinished magic until FinalizeMeasurement
	// patches it; a crash mid-measurement leaves the marker behind.
	id.FileMagic = "UnFinMF"

	cfg := Config{flushBatchBytes: pool.BatchBufferDefaultSize}
	if err := options.Apply(&cfg, opts...); err != nil {
		return nil, err
	}

	wr := &Writer{
		w:         iohelp.NewWriter(ws, id.Engine()),
		id:        id,
		header:    blocks.NewFileHeader(startTimeNs),
		cfg:       cfg,
		groups:    make(map[*blocks.ChannelGroup]*groupState),
		chOffsets: make(map[*blocks.Channel]int64),
	}
	wr.cond = sync.NewCond(&wr.mu)

	return wr, nil
}

// Header exposes the in-memory HD block for build-phase metadata
// (author/project/comment and attachments) before InitMeasurement.
func (w *Writer) Header() *blocks.FileHeader { return w.header }

// CreateDataGroup adds an empty data group to the in-memory tree. The
// record-id size is derived at InitMeasurement from the number of channel
// groups sharing the DG.
func (w *Writer) CreateDataGroup() *blocks.DataGroup {
	dg := blocks.NewDataGroup()
	w.header.DataGroups = append(w.header.DataGroups, dg)

	return dg
}

// CreateChannelGroup adds an empty channel group to dg.
func (w *Writer) CreateChannelGroup(dg *blocks.DataGroup, name string) *blocks.ChannelGroup {
	cg := blocks.NewChannelGroup(name)
	cg.RecordID = uint64(len(dg.ChannelGroups))
	dg.ChannelGroups = append(dg.ChannelGroups, cg)

	return cg
}

// CreateChannel appends a fixed-length channel to cg, packed immediately
// after the group's current record layout.
func (w *Writer) CreateChannel(cg *blocks.ChannelGroup, name string, dataType blocks.DataType, bitCount uint32) *blocks.Channel {
	byteOffset := cg.RecordLength
	ch := blocks.NewChannel(name, dataType, byteOffset, bitCount)
	cg.AddChannel(ch)
	cg.RecordLength += uint32((bitCount + 7) / 8)

	return ch
}

// CreateMasterChannel appends the group's master (time/angle/distance/index)
// channel, laid out like any fixed-length channel.
func (w *Writer) CreateMasterChannel(cg *blocks.ChannelGroup, name string, syncType blocks.SyncType, dataType blocks.DataType, bitCount uint32) *blocks.Channel {
	byteOffset := cg.RecordLength
	ch := blocks.NewMasterChannel(name, syncType, dataType, byteOffset, bitCount)
	cg.AddChannel(ch)
	cg.RecordLength += uint32((bitCount + 7) / 8)

	return ch
}

// CreateVariableLengthChannel appends a VLSD channel to cg: its fixed
// record slot is a u64 index (filled in by the worker at save-sample time)
// into a dedicated SD block built up as samples arrive and linked in at
// FinalizeMeasurement.
func (w *Writer) CreateVariableLengthChannel(cg *blocks.ChannelGroup, name string, dataType blocks.DataType) *blocks.Channel {
	byteOffset := cg.RecordLength
	ch := blocks.NewVariableLengthChannel(name, dataType, byteOffset)
	cg.AddChannel(ch)
	cg.RecordLength += 8

	return ch
}

// CreateConversion attaches c to ch; the CC block (and any text/nested
// blocks it references) is written alongside the channel at InitMeasurement.
func (w *Writer) CreateConversion(ch *blocks.Channel, c *blocks.Conversion) *blocks.Conversion {
	ch.Conversion = c

	return c
}

// AttachFile embeds a payload as an AT block on the header, written with
// the skeleton at InitMeasurement. The MD5 always covers the original
// payload, before any deflation.
func (w *Writer) AttachFile(fileName, mimeType string, payload []byte, compress bool) (*blocks.Attachment, error) {
	if w.State() != StateCreate {
		return nil, errs.ErrWrongPhase
	}

	at := &blocks.Attachment{
		FileName:     fileName,
		MimeType:     mimeType,
		Embedded:     true,
		Compressed:   compress,
		MD5Valid:     true,
		MD5:          md5.Sum(payload),
		OriginalSize: uint64(len(payload)),
		EmbeddedData: payload,
	}
	if compress {
		deflated, err := datastream.Deflate(payload, blocks.AlgorithmDeflate, 0)
		if err != nil {
			return nil, err
		}
		at.EmbeddedData = deflated
	}

	w.header.Attachments = append(w.header.Attachments, at)

	return at, nil
}

// EnableInvalidationBit assigns ch the next free invalidation bit in cg.
// The group's invalidation byte count is derived from the assigned bits at
// InitMeasurement.
func (w *Writer) EnableInvalidationBit(cg *blocks.ChannelGroup, ch *blocks.Channel) {
	var next uint32
	for _, c := range cg.Channels {
		if c.HasInvalidBit && c.InvalidBitPos >= next {
			next = c.InvalidBitPos + 1
		}
	}
	ch.HasInvalidBit = true
	ch.InvalidBitPos = next
}

// State returns the writer's current lifecycle state.
func (w *Writer) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state
}

// Err returns the first worker error after the writer was poisoned, nil
// while healthy.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.err
}

// recordIDSizeFor derives the record-id prefix width a data group needs:
// zero for a single channel group, otherwise the smallest of {1, 2, 4, 8}
// bytes that can carry every record id (max(1, ceil(log256(cg_count)))).
func recordIDSizeFor(cgCount int) uint8 {
	switch {
	case cgCount <= 1:
		return 0
	case cgCount <= 0x100:
		return 1
	case cgCount <= 0x10000:
		return 2
	case cgCount <= 0x100000000:
		return 4
	default:
		return 8
	}
}

// validateTree is InitMeasurement's build-phase check: at most one master
// channel per group, every channel's layout inside the record bounds, and
// invalidation byte counts consistent with the assigned bits. Record-id
// sizes are derived here too, so the caller never sets them by hand.
func (w *Writer) validateTree() error {
	for _, dg := range w.header.DataGroups {
		dg.RecordIDSize = recordIDSizeFor(len(dg.ChannelGroups))

		for _, cg := range dg.ChannelGroups {
			var masters int
			var maxInvalidBit int64 = -1
			for _, ch := range cg.Channels {
				if ch.IsMaster() {
					masters++
				}
				if end := int(ch.ByteOffset) + ch.ByteWidth(); end > int(cg.RecordLength) {
					return fmt.Errorf("%w: channel %q ends at byte %d, record length is %d",
						errs.ErrInvalidBitLayout, ch.Name, end, cg.RecordLength)
				}
				if ch.HasInvalidBit && int64(ch.InvalidBitPos) > maxInvalidBit {
					maxInvalidBit = int64(ch.InvalidBitPos)
				}
			}
			if masters > 1 {
				return fmt.Errorf("%w: channel group %q has %d master channels",
					errs.ErrWrongPhase, cg.Name, masters)
			}
			if maxInvalidBit >= 0 {
				cg.InvalidBytes = uint32(maxInvalidBit/8) + 1
			}
		}
	}

	return nil
}

// nextLinkIndex is the "next" link position shared by DG/CG/CN's link tables.
const nextLinkIndex = 0

// writeChannelChain writes cg's channels in order and links them, returning
// the first channel's offset (0 if cg has none). Each channel's offset is
// also recorded in w.chOffsets so a later VLSD SD block can patch its data
// link.
func (w *Writer) writeChannelChain(cg *blocks.ChannelGroup) (int64, error) {
	var offsets []int64
	for _, ch := range cg.Channels {
		var txName, mdUnit, ccConversion int64
		var err error
		if ch.Name != "" {
			if txName, err = blocks.WriteTextV4(w.w, "TX", ch.Name); err != nil {
				return 0, err
			}
		}
		if ch.Unit != "" {
			if mdUnit, err = blocks.WriteTextV4(w.w, "TX", ch.Unit); err != nil {
				return 0, err
			}
		}
		if ch.Conversion != nil {
			if ccConversion, err = blocks.WriteConversionV4(w.w, ch.Conversion); err != nil {
				return 0, err
			}
		}

		offset, err := blocks.WriteChannelV4(w.w, ch, 0, 0, txName, 0, ccConversion, 0, mdUnit, 0)
		if err != nil {
			return 0, err
		}
		offsets = append(offsets, offset)
		w.chOffsets[ch] = offset
	}

	for i := 0; i < len(offsets)-1; i++ {
		if err := blocks.PatchLink(w.w, offsets[i], nextLinkIndex, offsets[i+1]); err != nil {
			return 0, err
		}
	}
	if len(offsets) == 0 {
		return 0, nil
	}

	return offsets[0], nil
}

// HD link table order, per WriteFileHeaderV4: dg_first, fh_first, ch_first,
// at_first, ev_first, md_comment.
const (
	hdDGFirstLink   = 0
	hdATFirstLink   = 3
	hdMDCommentLink = 5
)

// flushSkeleton writes ID, HD (at its normative offset 64, links zeroed),
// and every DG/CG/CN in the in-memory tree with empty data links, then
// patches the HD links once the children's offsets are known. This is the
// flush phase of the write lifecycle.
func (w *Writer) flushSkeleton() error {
	if err := blocks.WriteID(w.w, w.id); err != nil {
		return err
	}

	hdOffset, err := blocks.WriteFileHeaderV4(w.w, w.header, 0, 0, 0, 0, 0, 0)
	if err != nil {
		return err
	}

	var dgOffsets []int64
	for _, dg := range w.header.DataGroups {
		dgs := &dataGroupState{dg: dg, staging: pool.GetBatchBuffer()}

		var cgOffsets []int64
		for _, cg := range dg.ChannelGroups {
			cnFirst, err := w.writeChannelChain(cg)
			if err != nil {
				return err
			}

			var txAcqName int64
			if cg.Name != "" {
				if txAcqName, err = blocks.WriteTextV4(w.w, "TX", cg.Name); err != nil {
					return err
				}
			}

			cgOffset, err := blocks.WriteChannelGroupV4(w.w, cg, 0, cnFirst, txAcqName, 0, 0, 0)
			if err != nil {
				return err
			}

			w.groups[cg] = &groupState{cg: cg, dgs: dgs, cgOffset: cgOffset}
			cgOffsets = append(cgOffsets, cgOffset)
		}

		for i := 0; i < len(cgOffsets)-1; i++ {
			if err := blocks.PatchLink(w.w, cgOffsets[i], nextLinkIndex, cgOffsets[i+1]); err != nil {
				return err
			}
		}

		var cgFirst int64
		if len(cgOffsets) > 0 {
			cgFirst = cgOffsets[0]
		}

		dgOffset, err := blocks.WriteDataGroupV4(w.w, dg, 0, cgFirst, 0, 0)
		if err != nil {
			return err
		}

		dgs.dgOffset = dgOffset
		w.dataGroups = append(w.dataGroups, dgs)
		dgOffsets = append(dgOffsets, dgOffset)
	}

	for i := 0; i < len(dgOffsets)-1; i++ {
		if err := blocks.PatchLink(w.w, dgOffsets[i], nextLinkIndex, dgOffsets[i+1]); err != nil {
			return err
		}
	}

	if len(dgOffsets) > 0 {
		if err := blocks.PatchLink(w.w, hdOffset, hdDGFirstLink, dgOffsets[0]); err != nil {
			return err
		}
	}

	if len(w.header.Attachments) > 0 {
		atFirst, err := w.writeAttachmentChain()
		if err != nil {
			return err
		}
		if err := blocks.PatchLink(w.w, hdOffset, hdATFirstLink, atFirst); err != nil {
			return err
		}
	}

	if body := blocks.BuildHDComment(w.header); body != "" {
		mdComment, err := blocks.WriteMDV4(w.w, body)
		if err != nil {
			return err
		}
		if err := blocks.PatchLink(w.w, hdOffset, hdMDCommentLink, mdComment); err != nil {
			return err
		}
	}

	pos, err := w.w.SeekEnd()
	if err != nil {
		return err
	}
	w.dataPosition = pos

	return nil
}

// writeAttachmentChain writes the header's attachments in order, linking
// them, and returns the first one's offset.
func (w *Writer) writeAttachmentChain() (int64, error) {
	var offsets []int64
	for _, at := range w.header.Attachments {
		txFilename, err := blocks.WriteTextV4(w.w, "TX", at.FileName)
		if err != nil {
			return 0, err
		}
		txMimetype, err := blocks.WriteTextV4(w.w, "TX", at.MimeType)
		if err != nil {
			return 0, err
		}

		offset, err := blocks.WriteAttachmentV4(w.w, at, 0, txFilename, txMimetype, 0)
		if err != nil {
			return 0, err
		}
		offsets = append(offsets, offset)
	}

	for i := 0; i < len(offsets)-1; i++ {
		if err := blocks.PatchLink(w.w, offsets[i], nextLinkIndex, offsets[i+1]); err != nil {
			return 0, err
		}
	}

	return offsets[0], nil
}

// InitMeasurement validates the tree, flushes the skeleton, and starts the
// background worker. Samples saved while in StateInit are queued but not
// yet written; the worker begins draining them once StartMeasurement is
// called.
func (w *Writer) InitMeasurement() error {
	w.mu.Lock()
	if w.state != StateCreate {
		w.mu.Unlock()

		return errs.ErrWrongPhase
	}
	w.mu.Unlock()

	if err := w.validateTree(); err != nil {
		return err
	}
	if err := w.flushSkeleton(); err != nil {
		return err
	}

	w.mu.Lock()
	w.state = StateInit
	w.mu.Unlock()

	w.workerDone = make(chan struct{})
	w.wakeQuit = make(chan struct{})
	go w.run()
	go w.wake()

	return nil
}

// StartMeasurement transitions Init -> Start, recording t_ns as the
// measurement's trigger time: the pre-trigger window is everything queued
// with TimestampNs >= t_ns-preTrigNs, and the worker now flushes eagerly
// instead of only trimming.
func (w *Writer) StartMeasurement(tNs int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateInit {
		return errs.ErrWrongPhase
	}

	w.preTrigStart = tNs
	w.trimPreTriggerLocked()
	w.state = StateStart
	w.cond.Broadcast()

	return nil
}

// StopMeasurement transitions Start -> Stop: the worker drains the samples
// already queued with TimestampNs <= t_ns and drops any later ones.
func (w *Writer) StopMeasurement(tNs int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateStart {
		return errs.ErrWrongPhase
	}
	w.state = StateStop
	w.stopTime = tNs
	w.stopped = true
	w.cond.Broadcast()

	return nil
}

// SetChannelValue writes v into cg's staged sample buffer at ch's slot,
// with the invalidation bit tracking valid. For a VariableLength channel
// the value's Str/Bytes payload is staged alongside the buffer; its index
// slot is assigned by the worker.
func (w *Writer) SetChannelValue(cg *blocks.ChannelGroup, ch *blocks.Channel, v record.Value, valid bool) error {
	gs, ok := w.groups[cg]
	if !ok {
		return errs.ErrWrongPhase
	}

	if gs.staged == nil {
		gs.staged = make([]byte, cg.TotalRecordLength())
	}
	body := gs.staged[:cg.RecordLength]
	invalid := gs.staged[cg.RecordLength:]

	if ch.ChannelType == blocks.ChannelVariableLength {
		replaced := false
		for i := range gs.stagedVLSD {
			if gs.stagedVLSD[i].Channel == ch {
				gs.stagedVLSD[i] = VLSDEntry{Channel: ch, Text: v.Str, Bytes: v.Bytes}
				replaced = true
				break
			}
		}
		if !replaced {
			gs.stagedVLSD = append(gs.stagedVLSD, VLSDEntry{Channel: ch, Text: v.Str, Bytes: v.Bytes})
		}
	} else if err := record.Insert(body, ch, v); err != nil {
		return err
	}

	record.SetInvalid(invalid, ch, !valid)

	return nil
}

// SaveSample clones cg's staged sample buffer (plus any staged
// variable-length payloads) into the queue with the given timestamp. This
// is the save_sample operation; the staged buffer remains
// valid and may be partially rewritten before the next call.
func (w *Writer) SaveSample(cg *blocks.ChannelGroup, tNs int64) error {
	gs, ok := w.groups[cg]
	if !ok {
		return errs.ErrWrongPhase
	}

	if gs.staged == nil {
		gs.staged = make([]byte, cg.TotalRecordLength())
	}
	body := append([]byte(nil), gs.staged...)

	var vlsd []VLSDEntry
	if len(gs.stagedVLSD) > 0 {
		vlsd = append(vlsd, gs.stagedVLSD...)
	}

	return w.Enqueue(Record{CG: cg, TimestampNs: tNs, Body: body, VLSD: vlsd})
}

// Enqueue hands a caller-packed record to the worker. It is safe to call
// from StateInit (queued, subject to pre-trigger trimming) through
// StateStop. Calls after the writer has been poisoned by a prior write
// error are dropped: the writer is poisoned and only FinalizeMeasurement
// reports the failure.
func (w *Writer) Enqueue(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateInit && w.state != StateStart && w.state != StateStop {
		return errs.ErrWrongPhase
	}
	if w.poisoned {
		return nil
	}

	w.queue = append(w.queue, rec)
	if w.state == StateInit {
		w.trimPreTriggerLocked()
	}
	w.cond.Broadcast()

	return nil
}

// trimPreTriggerLocked drops queued records older than the pre-trigger
// retention window. Callers must hold w.mu.
func (w *Writer) trimPreTriggerLocked() {
	if w.cfg.preTrigNs <= 0 || w.preTrigStart == 0 {
		return
	}

	cutoff := w.preTrigStart - w.cfg.preTrigNs
	i := 0
	for i < len(w.queue) && w.queue[i].TimestampNs < cutoff {
		i++
	}
	if i > 0 {
		w.queue = w.queue[i:]
	}
}

// wake broadcasts the condvar every workerWakeInterval so the worker
// re-examines the queue (and trims the pre-trigger window during StateInit)
// even when no samples are arriving.
func (w *Writer) wake() {
	ticker := time.NewTicker(workerWakeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.wakeQuit:
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.state == StateInit {
				w.trimPreTriggerLocked()
			}
			w.cond.Broadcast()
			w.mu.Unlock()
		}
	}
}

// run is the dedicated worker goroutine: one per Writer, draining the
// queue under the mutex+condvar, appending records to their data group's
// staging buffer, and flushing a buffer once it reaches the configured
// batch size.
func (w *Writer) run() {
	defer close(w.workerDone)

	for {
		w.mu.Lock()
		for (len(w.queue) == 0 || w.state == StateInit) && !w.closing {
			w.cond.Wait()
		}
		if len(w.queue) == 0 && w.closing {
			w.mu.Unlock()

			return
		}

		rec := w.queue[0]
		w.queue = w.queue[1:]
		skip := w.stopped && rec.TimestampNs > w.stopTime
		w.mu.Unlock()

		if skip {
			continue
		}

		if err := w.handleRecord(rec); err != nil {
			mdflog.Logf(mdflog.LevelError, "writer poisoned: %v", err)
			w.mu.Lock()
			w.poisoned = true
			w.err = err
			w.mu.Unlock()
		}
	}
}

func (w *Writer) handleRecord(rec Record) error {
	gs, ok := w.groups[rec.CG]
	if !ok {
		return fmt.Errorf("%w: save_sample for an unknown channel group", errs.ErrInvalidLink)
	}

	for _, e := range rec.VLSD {
		if err := w.appendVLSD(gs, rec.Body, e); err != nil {
			return err
		}
	}

	dgs := gs.dgs
	if dgs.dg.NeedsRecordID() {
		var prefix [8]byte
		for i := 0; i < int(dgs.dg.RecordIDSize); i++ {
			prefix[i] = byte(rec.CG.RecordID >> (8 * i))
		}
		dgs.staging.MustWrite(prefix[:dgs.dg.RecordIDSize])
	}
	dgs.staging.MustWrite(rec.Body)
	gs.cycles++

	if dgs.staging.Len() >= w.cfg.flushBatchBytes {
		return w.flushDataGroup(dgs)
	}

	return nil
}

// appendVLSD frames e's payload, appends it to gs's per-channel SD staging
// buffer, and writes the resulting absolute byte offset into body's index
// slot for e.Channel (the index equals the record's absolute
// byte offset within the SD payload, monotonically non-decreasing since
// every record only ever appends).
func (w *Writer) appendVLSD(gs *groupState, body []byte, e VLSDEntry) error {
	if gs.vlsd == nil {
		gs.vlsd = make(map[*blocks.Channel]*pool.ByteBuffer)
	}

	buf := gs.vlsd[e.Channel]
	if buf == nil {
		buf = pool.GetRecordBuffer()
		gs.vlsd[e.Channel] = buf
	}

	var framed []byte
	if e.Channel.DataType.IsString() {
		framed = record.EncodeVLSDText(e.Text, e.Channel.DataType)
	} else {
		framed = record.FrameVLSD(e.Bytes)
	}

	offset := uint64(buf.Len())
	buf.MustWrite(framed)

	return record.Insert(body, e.Channel, record.Value{Uint: offset})
}

// flushDataGroup appends dgs's staged bytes as a new DT or DZ block,
// resetting the staging buffer. A no-op if nothing is staged. DZ boundaries
// fall on record boundaries by construction: staging is only ever appended
// whole records at a time and flushed between them.
func (w *Writer) flushDataGroup(dgs *dataGroupState) error {
	if dgs.staging.Len() == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	data := append([]byte(nil), dgs.staging.Bytes()...)
	dgs.staging.Reset()

	if w.cfg.compress {
		compressed, err := datastream.Deflate(data, w.cfg.algorithm, w.cfg.columnCount)
		if err != nil {
			return err
		}

		offset, err := blocks.WriteDZV4(w.w, "DT", w.cfg.algorithm, uint32(w.cfg.columnCount), uint64(len(data)), compressed)
		if err != nil {
			return err
		}

		dgs.blockOffsets = append(dgs.blockOffsets, offset)
		dgs.blockLens = append(dgs.blockLens, uint64(len(data)))

		return nil
	}

	offset, err := blocks.WriteDTV4(w.w, data)
	if err != nil {
		return err
	}

	dgs.blockOffsets = append(dgs.blockOffsets, offset)
	dgs.blockLens = append(dgs.blockLens, uint64(len(data)))

	return nil
}

// FinalizeMeasurement stops the worker, drains the queue, and patches
// every group's cycle counter and data link, finishing by rewriting the
// file magic from "UnFinMF" to "MDF". Idempotent: a second call after
// StateFinalize is a no-op.
func (w *Writer) FinalizeMeasurement() error {
	w.mu.Lock()
	if w.state == StateFinalize {
		w.mu.Unlock()

		return nil
	}
	if w.state != StateStop && w.state != StateStart && w.state != StateInit {
		w.mu.Unlock()

		return errs.ErrWrongPhase
	}

	w.closing = true
	w.cond.Broadcast()
	w.mu.Unlock()

	<-w.workerDone
	close(w.wakeQuit)

	for _, dgs := range w.dataGroups {
		if err := w.flushDataGroup(dgs); err != nil {
			return err
		}
		if err := w.patchDataGroup(dgs); err != nil {
			return err
		}

		for _, cg := range dgs.dg.ChannelGroups {
			gs := w.groups[cg]
			if gs == nil {
				continue
			}

			if err := blocks.PatchChannelGroupCycleCount(w.w, gs.cgOffset, gs.cycles); err != nil {
				return err
			}
			if err := w.finalizeVLSD(gs); err != nil {
				return err
			}
		}

		pool.PutBatchBuffer(dgs.staging)
	}

	if err := blocks.PatchIDFinalized(w.w); err != nil {
		return err
	}

	w.mu.Lock()
	w.state = StateFinalize
	finalErr := w.err
	w.mu.Unlock()

	return finalErr
}

// channelDataLinkIndex is the "data" link slot in a v4 CN block's link
// table (cn_next, composition, tx_name, si_source, cc_conversion, data,
// md_unit, md_comment), matching blocks.WriteChannelV4's link order.
const channelDataLinkIndex = 5

// finalizeVLSD writes one SD block per VariableLength channel in gs that
// accumulated any payload, and patches that channel's data link to it.
func (w *Writer) finalizeVLSD(gs *groupState) error {
	for ch, buf := range gs.vlsd {
		if buf.Len() == 0 {
			continue
		}

		offset, err := blocks.WriteSDV4(w.w, buf.Bytes())
		if err != nil {
			return err
		}

		chOffset, ok := w.chOffsets[ch]
		if !ok {
			return fmt.Errorf("%w: VLSD channel never flushed to disk", errs.ErrInvalidLink)
		}

		if err := blocks.PatchLink(w.w, chOffset, channelDataLinkIndex, offset); err != nil {
			return err
		}

		pool.PutRecordBuffer(buf)
	}

	return nil
}

// patchDataGroup links dgs's data group to its flushed payload: the lone
// DT directly if there is exactly one uncompressed block, or a DL (wrapped
// in an HL when compressed) chaining every block otherwise.
func (w *Writer) patchDataGroup(dgs *dataGroupState) error {
	if len(dgs.blockOffsets) == 0 {
		return nil
	}

	if len(dgs.blockOffsets) == 1 && !w.cfg.compress {
		return blocks.PatchDataGroupData(w.w, dgs.dgOffset, dgs.blockOffsets[0])
	}

	offsets := make([]uint64, len(dgs.blockLens))
	var acc uint64
	for i, l := range dgs.blockLens {
		offsets[i] = acc
		acc += l
	}

	dlOffset, err := blocks.WriteDLV4(w.w, 0, dgs.blockOffsets, 0, offsets)
	if err != nil {
		return err
	}

	target := dlOffset
	if w.cfg.compress {
		target, err = blocks.WriteHLV4(w.w, dlOffset, w.cfg.algorithm, false)
		if err != nil {
			return err
		}
	}

	return blocks.PatchDataGroupData(w.w, dgs.dgOffset, target)
}
