package blocks

import "github.com/openmdf/mdf/iohelp"

// SourceType classifies an SI block's acquisition source (si_type).
type SourceType uint8

const (
	SourceOther SourceType = iota
	SourceECU
	SourceBus
	SourceIO
	SourceTool
	SourceUser
)

// BusType classifies the communication bus an SI block describes (si_bus_type).
type BusType uint8

const (
	BusNone BusType = iota
	BusOther
	BusCAN
	BusLIN
	BusMOST
	BusFlexray
	BusKLine
	BusEthernet
	BusUSB
)

// SourceInfo is an SI block: metadata describing where a channel group or
// channel's values originate (ECU, bus, I/O device, tool, user).
type SourceInfo struct {
	Header
	Name       string
	Path       string
	Comment    string
	SourceType SourceType
	BusType    BusType
	Simulated  bool
}

func (b *SourceInfo) Kind() string { return b.Header.Tag }
func (b *SourceInfo) Hdr() *Header { return &b.Header }

// v4 SIBLOCK payload layout (after the 3 links tx_name/tx_path/md_comment):
//   source_type u8, bus_type u8, flags u8, reserved[5]
const siV4PayloadSize = 8

func parseSourceInfoV4(h Header, payload []byte, resolveText func(link int64) string) *SourceInfo {
	si := &SourceInfo{
		Header:  h,
		Name:    resolveText(h.Link(0)),
		Path:    resolveText(h.Link(1)),
		Comment: resolveText(h.Link(2)),
	}
	if len(payload) >= siV4PayloadSize {
		si.SourceType = SourceType(payload[0])
		si.BusType = BusType(payload[1])
		si.Simulated = payload[2]&0x1 != 0
	}

	return si
}

// WriteSourceInfoV4 appends a new v4 SI block at end-of-file and returns its offset.
func WriteSourceInfoV4(w *iohelp.Writer, si *SourceInfo, writeText func(tag, value string) (int64, error)) (int64, error) {
	var nameLink, pathLink, commentLink int64
	var err error
	if si.Name != "" {
		if nameLink, err = writeText("TX", si.Name); err != nil {
			return 0, err
		}
	}
	if si.Path != "" {
		if pathLink, err = writeText("TX", si.Path); err != nil {
			return 0, err
		}
	}
	if si.Comment != "" {
		if commentLink, err = writeText("MD", si.Comment); err != nil {
			return 0, err
		}
	}

	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	links := []int64{nameLink, pathLink, commentLink}
	if _, err := WriteHeaderV4(w, "SI", links, siV4PayloadSize); err != nil {
		return 0, err
	}

	payload := make([]byte, siV4PayloadSize)
	payload[0] = byte(si.SourceType)
	payload[1] = byte(si.BusType)
	if si.Simulated {
		payload[2] = 1
	}
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}
	if err := w.AlignTo8(); err != nil {
		return 0, err
	}

	return offset, nil
}
