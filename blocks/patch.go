package blocks

import "github.com/openmdf/mdf/iohelp"

// PatchLink overwrites the linkIndex'th link of the v4 block at blockOffset
// to point at target, then restores the writer's position at end-of-file.
// This is the writer's in-place link patch-up: a DG's
// "data" link starts as 0 and is rewritten once the first data block lands,
// without moving or rewriting anything else in the block.
func PatchLink(w *iohelp.Writer, blockOffset int64, linkIndex int, target int64) error {
	end, err := w.Tell()
	if err != nil {
		return err
	}

	if err := w.Seek(blockOffset + v4HeaderFixedSize + 8*int64(linkIndex)); err != nil {
		return err
	}
	if err := w.WriteU64(uint64(target)); err != nil {
		return err
	}

	return w.Seek(end)
}

// dgDataLinkIndex is the position of DG's "data" link within its 4-link
// table (next, cg_first, data, md_comment); see WriteDataGroupV4.
const dgDataLinkIndex = 2

// PatchDataGroupData rewrites dg's data link once its payload has been
// flushed to disk.
func PatchDataGroupData(w *iohelp.Writer, dgOffset, data int64) error {
	return PatchLink(w, dgOffset, dgDataLinkIndex, data)
}

// cgCycleCountOffset is the byte offset of cg_cycle_count within a CG
// block's fixed payload (see parseChannelGroupV4): 8 bytes past the 6
// links, 8 bytes past record_id.
const cgCycleCountOffset = v4HeaderFixedSize + 8*6 + 8

// PatchChannelGroupCycleCount rewrites the cycle counter of the CG block at
// cgOffset, the patch a writer applies once per group on finalize.
func PatchChannelGroupCycleCount(w *iohelp.Writer, cgOffset int64, cycles uint64) error {
	end, err := w.Tell()
	if err != nil {
		return err
	}

	if err := w.Seek(cgOffset + cgCycleCountOffset); err != nil {
		return err
	}
	if err := w.WriteU64(cycles); err != nil {
		return err
	}

	return w.Seek(end)
}

// PatchIDFinalized rewrites the file magic at offset 0 from "UnFinMF " to
// "MDF     ", the last write a streaming writer performs: everything before
// it already landed, so a crash at any earlier point leaves the unfinished
// marker for the next reader to see.
func PatchIDFinalized(w *iohelp.Writer) error {
	end, err := w.Tell()
	if err != nil {
		return err
	}

	if err := w.Seek(0); err != nil {
		return err
	}
	if err := w.WriteBytes(iohelp.EncodeFixedString("MDF", 8, ' ')); err != nil {
		return err
	}

	return w.Seek(end)
}

// PatchLinkV3 is PatchLink against the v3 header grammar: 4 fixed header
// bytes (type + u16 size), then u32 links.
func PatchLinkV3(w *iohelp.Writer, blockOffset int64, linkIndex int, target int64) error {
	end, err := w.Tell()
	if err != nil {
		return err
	}

	if err := w.Seek(blockOffset + v3HeaderFixedSize + 4*int64(linkIndex)); err != nil {
		return err
	}
	if err := w.WriteU32(uint32(target)); err != nil {
		return err
	}

	return w.Seek(end)
}

// dgV3DataLinkIndex is the position of a v3 DG's data link within its
// 4-link table (next, cg_first, trigger, data); see WriteDataGroupV3.
const dgV3DataLinkIndex = 3

// PatchDataGroupDataV3 rewrites a v3 dg's data link. The target is the raw
// record region's start offset: v3 data carries no block header.
func PatchDataGroupDataV3(w *iohelp.Writer, dgOffset, data int64) error {
	return PatchLinkV3(w, dgOffset, dgV3DataLinkIndex, data)
}

// cgV3CycleCountOffset is the byte offset of the cycle counter within a v3
// CG block: 4 header bytes, 3 u32 links, record_id u16 + channel_count u16
// + record_size u16 (see parseChannelGroupV3's payload layout).
const cgV3CycleCountOffset = v3HeaderFixedSize + 4*3 + 6

// PatchChannelGroupCycleCountV3 rewrites a v3 CG block's u32 cycle counter.
func PatchChannelGroupCycleCountV3(w *iohelp.Writer, cgOffset int64, cycles uint64) error {
	end, err := w.Tell()
	if err != nil {
		return err
	}

	if err := w.Seek(cgOffset + cgV3CycleCountOffset); err != nil {
		return err
	}
	if err := w.WriteU32(uint32(cycles)); err != nil {
		return err
	}

	return w.Seek(end)
}

// dtLengthOffset is the byte offset of a DT/SD block's length field within
// its own v4 header (it has no links, so length sits at the fixed 8-byte
// mark: "##"+type(4)+reserved(4)).
const dtLengthOffset = 8

// PatchBlockLength rewrites the total-length field of the v4 block at
// blockOffset, used when a streamed DT block's final size wasn't known
// until the append phase finished writing it.
func PatchBlockLength(w *iohelp.Writer, blockOffset int64, total int64) error {
	end, err := w.Tell()
	if err != nil {
		return err
	}

	if err := w.Seek(blockOffset + dtLengthOffset); err != nil {
		return err
	}
	if err := w.WriteU64(uint64(total)); err != nil {
		return err
	}

	return w.Seek(end)
}
