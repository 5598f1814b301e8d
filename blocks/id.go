package blocks

import (
	"fmt"

	"github.com/openmdf/mdf/endian"
	"github.com/openmdf/mdf/errs"
	"github.com/openmdf/mdf/iohelp"
)

// IDSize is the fixed on-disk size of the IdBlock (no header/link table;
// it is the one block that precedes the common block grammar).
const IDSize = 64

// ID is the root block: file magic, version string, program id, and the
// byte-order/float-format/version flags that select how the rest of the
// file is parsed. It is created at file open/create and is immutable
// after the first write.
type ID struct {
	// FileMagic is "MDF     " for a finalized file, "UnFinMF " while open for streaming append.
	FileMagic string
	// VersionString is e.g. "3.30" or "4.10".
	VersionString string
	ProgramID     string
	// DefaultByteOrder is 0 for little-endian, non-zero for big-endian. v4 forces 0.
	DefaultByteOrder uint16
	// FloatFormat is 0 for IEEE 754, 1 for G_FLOAT/D_FLOAT (legacy, unsupported here beyond storage).
	FloatFormat uint16
	// VersionNumber is major*100+minor, e.g. 430 for "4.30".
	VersionNumber uint16
	CodePage      uint16 // v3 only
	// UnfinalizedFlags records which finalization steps are still pending.
	UnfinalizedFlags uint16
	CustomUnfinalizedFlags uint16
}

// IsMDF4 reports whether this file is MDF version 4.
func (id *ID) IsMDF4() bool { return id.VersionNumber >= 400 }

// Engine returns the endian engine the rest of the file must be read/written with.
func (id *ID) Engine() endian.EndianEngine {
	if id.IsMDF4() {
		return endian.GetLittleEndianEngine()
	}

	return endian.EngineFor(id.DefaultByteOrder != 0)
}

// ReadID parses the 64-byte IdBlock at the reader's current position
// (which must be offset 0). The reader's own engine is little-endian
// until this call returns, since the byte-order flag itself is always
// little-endian on disk.
func ReadID(r *iohelp.Reader) (*ID, error) {
	raw, err := r.ReadBytes(IDSize)
	if err != nil {
		return nil, err
	}

	magic, err := iohelp.DecodeFixedString(raw[0:8], iohelp.EncodingASCII)
	if err != nil {
		return nil, err
	}
	if magic != "MDF" && magic != "UnFinMF" {
		return nil, &errs.FormatError{Offset: 0, Tag: "ID", Err: errs.ErrBadMagic}
	}

	le := endian.GetLittleEndianEngine()
	version, err := iohelp.DecodeFixedString(raw[8:16], iohelp.EncodingASCII)
	if err != nil {
		return nil, err
	}
	program, err := iohelp.DecodeFixedString(raw[16:24], iohelp.EncodingASCII)
	if err != nil {
		return nil, err
	}

	id := &ID{
		FileMagic:              magic,
		VersionString:          version,
		ProgramID:              program,
		DefaultByteOrder:       le.Uint16(raw[28:30]),
		FloatFormat:            le.Uint16(raw[30:32]),
		VersionNumber:          le.Uint16(raw[32:34]),
		CodePage:               le.Uint16(raw[34:36]),
		UnfinalizedFlags:       le.Uint16(raw[60:62]),
		CustomUnfinalizedFlags: le.Uint16(raw[62:64]),
	}

	return id, nil
}

// WriteID writes the 64-byte IdBlock at the writer's current position
// (which must be offset 0).
func WriteID(w *iohelp.Writer, id *ID) error {
	buf := make([]byte, IDSize)
	copy(buf[0:8], iohelp.EncodeFixedString(id.FileMagic, 8, ' '))
	copy(buf[8:16], iohelp.EncodeFixedString(id.VersionString, 8, ' '))
	copy(buf[16:24], iohelp.EncodeFixedString(id.ProgramID, 8, ' '))

	le := endian.GetLittleEndianEngine()
	le.PutUint16(buf[28:30], id.DefaultByteOrder)
	le.PutUint16(buf[30:32], id.FloatFormat)
	le.PutUint16(buf[32:34], id.VersionNumber)
	le.PutUint16(buf[34:36], id.CodePage)
	le.PutUint16(buf[60:62], id.UnfinalizedFlags)
	le.PutUint16(buf[62:64], id.CustomUnfinalizedFlags)

	return w.WriteBytes(buf)
}

// NewID builds a fresh IdBlock for a new file of the given major/minor MDF
// version ("3.30" or "4.10"-style numeric version, e.g. 330 or 410).
func NewID(versionNumber uint16, bigEndianV3 bool) (*ID, error) {
	major := versionNumber / 100
	minor := versionNumber % 100
	if major != 3 && major != 4 {
		return nil, fmt.Errorf("%w: unsupported MDF major version %d", errs.ErrBadMagic, major)
	}

	var bo uint16
	if major == 3 && bigEndianV3 {
		bo = 1
	}

	return &ID{
		FileMagic:        "MDF",
		VersionString:    fmt.Sprintf("%d.%02d", major, minor),
		ProgramID:        "openmdf ",
		DefaultByteOrder: bo,
		VersionNumber:    versionNumber,
	}, nil
}
