package blocks

import (
	"fmt"
	"strconv"
)

// Property is one row of a block's key/value property listing, the
// inspection surface a viewer renders per block.
type Property struct {
	Key   string
	Value string
}

// Properties lists a block's header fields followed by its kind-specific
// fields. Every block kind answers; unknown/opaque blocks report header
// and payload size only.
func Properties(b Block) []Property {
	h := b.Hdr()
	props := []Property{
		{Key: "Type", Value: h.Tag},
		{Key: "Offset", Value: "0x" + strconv.FormatInt(h.Offset, 16)},
		{Key: "Length", Value: strconv.FormatInt(h.TotalLength, 10)},
		{Key: "Links", Value: strconv.Itoa(len(h.Links))},
	}

	switch v := b.(type) {
	case *FileHeader:
		props = append(props,
			Property{Key: "Author", Value: v.Author},
			Property{Key: "Department", Value: v.Department},
			Property{Key: "Project", Value: v.Project},
			Property{Key: "Subject", Value: v.Subject},
			Property{Key: "Start Time [ns]", Value: strconv.FormatInt(v.StartTimeNs, 10)},
			Property{Key: "Data Groups", Value: strconv.Itoa(len(v.DataGroups))},
		)
	case *DataGroup:
		props = append(props,
			Property{Key: "Record ID Size", Value: strconv.Itoa(int(v.RecordIDSize))},
			Property{Key: "Channel Groups", Value: strconv.Itoa(len(v.ChannelGroups))},
		)
	case *ChannelGroup:
		props = append(props,
			Property{Key: "Name", Value: v.Name},
			Property{Key: "Record ID", Value: strconv.FormatUint(v.RecordID, 10)},
			Property{Key: "Record Length", Value: strconv.FormatUint(uint64(v.RecordLength), 10)},
			Property{Key: "Invalidation Bytes", Value: strconv.FormatUint(uint64(v.InvalidBytes), 10)},
			Property{Key: "Cycle Count", Value: strconv.FormatUint(v.CycleCount, 10)},
			Property{Key: "Channels", Value: strconv.Itoa(len(v.Channels))},
		)
	case *Channel:
		props = append(props,
			Property{Key: "Name", Value: v.Name},
			Property{Key: "Unit", Value: v.Unit},
			Property{Key: "Channel Type", Value: strconv.Itoa(int(v.ChannelType))},
			Property{Key: "Data Type", Value: strconv.Itoa(int(v.DataType))},
			Property{Key: "Byte Offset", Value: strconv.FormatUint(uint64(v.ByteOffset), 10)},
			Property{Key: "Bit Offset", Value: strconv.Itoa(int(v.BitOffset))},
			Property{Key: "Bit Count", Value: strconv.FormatUint(uint64(v.BitCount), 10)},
		)
	case *Conversion:
		props = append(props,
			Property{Key: "Conversion Type", Value: strconv.Itoa(int(v.Type))},
			Property{Key: "Unit", Value: v.Unit},
			Property{Key: "Parameters", Value: strconv.Itoa(len(v.Params))},
		)
	case *SourceInfo:
		props = append(props,
			Property{Key: "Name", Value: v.Name},
			Property{Key: "Path", Value: v.Path},
		)
	case *Text:
		props = append(props, Property{Key: "Text", Value: v.Value})
	case *Attachment:
		props = append(props,
			Property{Key: "File Name", Value: v.FileName},
			Property{Key: "MIME Type", Value: v.MimeType},
			Property{Key: "Embedded", Value: strconv.FormatBool(v.Embedded)},
			Property{Key: "Compressed", Value: strconv.FormatBool(v.Compressed)},
			Property{Key: "Original Size", Value: strconv.FormatUint(v.OriginalSize, 10)},
			Property{Key: "MD5", Value: fmt.Sprintf("%x", v.MD5)},
		)
	case *Event:
		props = append(props,
			Property{Key: "Name", Value: v.Name},
			Property{Key: "Event Type", Value: strconv.Itoa(int(v.EventType))},
			Property{Key: "Sync Value", Value: strconv.FormatInt(v.SyncValue, 10)},
		)
	case *SampleReduction:
		props = append(props,
			Property{Key: "Interval [s]", Value: strconv.FormatFloat(v.IntervalS, 'g', -1, 64)},
			Property{Key: "Cycle Count", Value: strconv.FormatUint(v.Count, 10)},
		)
	case *DT:
		props = append(props, Property{Key: "Data Size [byte]", Value: strconv.FormatInt(v.PayloadLen, 10)})
	case *SD:
		props = append(props, Property{Key: "Data Size [byte]", Value: strconv.FormatInt(v.PayloadLen, 10)})
	case *DZ:
		props = append(props,
			Property{Key: "Original Type", Value: v.OriginalType},
			Property{Key: "Original Size", Value: strconv.FormatUint(v.OriginalSize, 10)},
			Property{Key: "Compressed Size", Value: strconv.FormatUint(v.CompressedSize, 10)},
		)
	case *DL:
		props = append(props, Property{Key: "Blocks", Value: strconv.Itoa(len(v.DataLinks))})
	case *Opaque:
		props = append(props, Property{Key: "Payload Size [byte]", Value: strconv.Itoa(len(v.Payload))})
	}

	return props
}
