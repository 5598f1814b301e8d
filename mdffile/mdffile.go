// Package mdffile implements the file model: MdfFile variants for MDF
// versions 3 and 4, each owning the IdBlock and HeaderBlock and exposing
// data-group/channel-group/channel navigation plus lazy data-block loading.
package mdffile

import (
	"io"

	"github.com/openmdf/mdf/blocks"
	"github.com/openmdf/mdf/datastream"
	"github.com/openmdf/mdf/endian"
	"github.com/openmdf/mdf/errs"
	"github.com/openmdf/mdf/iohelp"
)

// File is the common surface MdfV3File and MdfV4File both satisfy: the
// parts of the file model that don't depend on which on-disk grammar
// produced them.
type File interface {
	ID() *blocks.ID
	Header() *blocks.FileHeader
	DataGroups() []*blocks.DataGroup
	ReadData(dg *blocks.DataGroup) ([]byte, error)

	// ReadBlockData materializes any data block directly (SD/DZ/DL/HL), for
	// resolving a VLSD channel's own payload rather than its owning group's.
	ReadBlockData(b blocks.Block) ([]byte, error)
}

// MdfV4File is an opened or newly created MDF version 4 file.
type MdfV4File struct {
	src    io.ReaderAt
	arena  *blocks.Arena
	id     *blocks.ID
	header *blocks.FileHeader
}

// MdfV3File is an opened or newly created MDF version 3 file.
type MdfV3File struct {
	src    io.ReaderAt
	arena  *blocks.Arena
	id     *blocks.ID
	header *blocks.FileHeader
}

// ReadSeekerAt is the minimal capability Open needs: random-access reads
// for the data-block layer, plus Seek for the header codec's own reader.
type ReadSeekerAt interface {
	io.ReaderAt
	io.ReadSeeker
}

// Open parses rs's IdBlock and, by its declared version, the rest of the
// v3 or v4 block graph, returning the right File implementation.
func Open(rs ReadSeekerAt) (File, error) {
	probe := iohelp.NewReader(rs, endian.GetLittleEndianEngine())
	id, err := blocks.ReadID(probe)
	if err != nil {
		return nil, err
	}

	r := iohelp.NewReader(rs, id.Engine())
	if id.IsMDF4() {
		arena, gotID, hd, err := blocks.ParseFileV4(r)
		if err != nil {
			return nil, err
		}

		return &MdfV4File{src: rs, arena: arena, id: gotID, header: hd}, nil
	}

	arena, gotID, hd, err := blocks.ParseFileV3(r)
	if err != nil {
		return nil, err
	}

	return &MdfV3File{src: rs, arena: arena, id: gotID, header: hd}, nil
}

func (f *MdfV4File) ID() *blocks.ID              { return f.id }
func (f *MdfV4File) Header() *blocks.FileHeader  { return f.header }
func (f *MdfV4File) DataGroups() []*blocks.DataGroup {
	if f.header == nil {
		return nil
	}

	return f.header.DataGroups
}

// ReadData materializes dg's full logical data payload, following
// DZ/DL/HL as needed; a data-less group returns (nil, nil).
func (f *MdfV4File) ReadData(dg *blocks.DataGroup) ([]byte, error) {
	if dg == nil {
		return nil, errs.ErrInvalidLink
	}

	return datastream.Materialize(f.src, f.arena, dg.Data)
}

// ReadBlockData materializes b directly, independent of any data group.
func (f *MdfV4File) ReadBlockData(b blocks.Block) ([]byte, error) {
	return datastream.Materialize(f.src, f.arena, b)
}

func (f *MdfV3File) ID() *blocks.ID             { return f.id }
func (f *MdfV3File) Header() *blocks.FileHeader { return f.header }
func (f *MdfV3File) DataGroups() []*blocks.DataGroup {
	if f.header == nil {
		return nil
	}

	return f.header.DataGroups
}

// ReadData materializes dg's payload. v3 files never compress or split
// data blocks, so this is always the zero-copy DT passthrough.
func (f *MdfV3File) ReadData(dg *blocks.DataGroup) ([]byte, error) {
	if dg == nil {
		return nil, errs.ErrInvalidLink
	}

	return datastream.Materialize(f.src, f.arena, dg.Data)
}

// ReadBlockData materializes b directly, independent of any data group.
func (f *MdfV3File) ReadBlockData(b blocks.Block) ([]byte, error) {
	return datastream.Materialize(f.src, f.arena, b)
}
