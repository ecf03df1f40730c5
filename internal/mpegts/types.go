// Package mpegts parses just enough of an MPEG transport stream to find its
// program-specific information: the PAT and the PMTs it points at. The SRT
// sink forwards those packets as stream headers to every newly connected
// caller so a receiver joining mid-stream can decode immediately.
package mpegts

// PacketSize is the length of one transport stream packet.
const PacketSize = packetSize

// Packet is a parsed 188-byte MPEG-TS transport stream packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
}

// PacketHeader contains the parsed header fields of a transport stream packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
}

// PATData contains the parsed Program Association Table.
type PATData struct {
	Programs []*PATProgram
}

// PATProgram maps a program number to its PMT PID.
type PATProgram struct {
	ProgramMapID  uint16
	ProgramNumber uint16
}

// PMTData contains the parsed Program Map Table.
type PMTData struct {
	ProgramNumber     uint16
	ElementaryStreams []*PMTElementaryStream
}

// PMTElementaryStream describes a single elementary stream in a PMT.
type PMTElementaryStream struct {
	ElementaryPID uint16
	StreamType    uint8
}
