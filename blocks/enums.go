package blocks

// ChannelType is the CN block's channel type (cn_type in the standard).
type ChannelType uint8

const (
	ChannelFixedLength   ChannelType = 0
	ChannelVariableLength ChannelType = 1
	ChannelMaster        ChannelType = 2
	ChannelVirtualMaster ChannelType = 3
	ChannelSync          ChannelType = 4
	ChannelMaxLength     ChannelType = 5
	ChannelVirtualData   ChannelType = 6
)

// SyncType is the CN/CG master channel's synchronization axis.
type SyncType uint8

const (
	SyncNone     SyncType = 0
	SyncTime     SyncType = 1
	SyncAngle    SyncType = 2
	SyncDistance SyncType = 3
	SyncIndex    SyncType = 4
)

// DataType is the CN block's value data type (cn_data_type).
type DataType uint8

const (
	DataUnsignedIntegerLE DataType = 0
	DataUnsignedIntegerBE DataType = 1
	DataSignedIntegerLE   DataType = 2
	DataSignedIntegerBE   DataType = 3
	DataFloatLE           DataType = 4
	DataFloatBE           DataType = 5
	DataStringASCII       DataType = 6
	DataStringUTF8        DataType = 7
	DataStringUTF16LE     DataType = 8
	DataStringUTF16BE     DataType = 9
	DataByteArray         DataType = 10
	DataMimeSample        DataType = 11
	DataMimeStream        DataType = 12
	DataCanOpenDate       DataType = 13
	DataCanOpenTime       DataType = 14
)

// IsBigEndian reports whether this numeric data type is declared big-endian.
func (d DataType) IsBigEndian() bool {
	switch d {
	case DataUnsignedIntegerBE, DataSignedIntegerBE, DataFloatBE, DataStringUTF16BE:
		return true
	default:
		return false
	}
}

// IsFloat reports whether this is a floating-point data type.
func (d DataType) IsFloat() bool { return d == DataFloatLE || d == DataFloatBE }

// IsSigned reports whether this is a signed integer data type.
func (d DataType) IsSigned() bool { return d == DataSignedIntegerLE || d == DataSignedIntegerBE }

// IsUnsigned reports whether this is an unsigned integer data type.
func (d DataType) IsUnsigned() bool { return d == DataUnsignedIntegerLE || d == DataUnsignedIntegerBE }

// IsString reports whether this is one of the string data types.
func (d DataType) IsString() bool {
	switch d {
	case DataStringASCII, DataStringUTF8, DataStringUTF16LE, DataStringUTF16BE:
		return true
	default:
		return false
	}
}

// ConversionType is the CC block's conversion formula selector (cc_type).
type ConversionType uint8

const (
	ConversionIdentity        ConversionType = 0
	ConversionLinear          ConversionType = 1
	ConversionRational        ConversionType = 2
	ConversionAlgebraic       ConversionType = 3
	ConversionTabularInterp   ConversionType = 4
	ConversionTabular         ConversionType = 5
	ConversionValueToText     ConversionType = 7
	ConversionValueRangeToText ConversionType = 8
	ConversionTextToValue     ConversionType = 9
	ConversionTextToText      ConversionType = 10
	ConversionBitfieldText    ConversionType = 11
	ConversionPolynomial      ConversionType = 6
	ConversionExponential     ConversionType = 12
	ConversionLogarithmic     ConversionType = 13
	ConversionDate            ConversionType = 14
	ConversionTime            ConversionType = 15
	ConversionNone            ConversionType = 255
)

// Channel group flags (cg_flags).
const (
	CGFlagVLSDChannel uint16 = 1 << 0
)

// Channel flags (cn_flags).
const (
	ChannelFlagInvalidValid uint32 = 1 << 1
	ChannelFlagDefaultValue uint32 = 1 << 3
)
