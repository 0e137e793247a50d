package crux

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size, in bytes, of every CRUX datagram's header.
const HeaderSize = 12

// ProtocolVersion is the only version this implementation speaks. It is
// carried in the secondary field of HANDSHAKE frames and checked on receipt.
const ProtocolVersion = 0

// Kind identifies the purpose of a datagram. It occupies the top 5 bits of
// the wire type field; the low 11 bits are always zero in these constants.
type Kind uint16

const (
	KindData      Kind = 0xC000
	KindHandshake Kind = 0xC800
	KindShutdown  Kind = 0xD000
	KindKeepalive Kind = 0xD800
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindHandshake:
		return "HANDSHAKE"
	case KindShutdown:
		return "SHUTDOWN"
	case KindKeepalive:
		return "KEEPALIVE"
	default:
		return fmt.Sprintf("Kind(0x%04x)", uint16(k))
	}
}

// AckPresence indicates whether a frame's acknowledgement-sequence field is
// meaningful.
type AckPresence uint16

const (
	AckNone       AckPresence = 0
	AckCumulative AckPresence = 1
)

const (
	maskType            = 0xF800
	maskAck             = 0x000C
	maskRetransmission  = 0x0003
	ackPresenceBitShift = 2
	maxRetransmitCount  = 3
)

// Header is the 12-byte CRUX frame header, decoded into its logical fields.
type Header struct {
	Kind            Kind
	Ack             AckPresence
	RetransmitCount uint8 // saturates at 3 on encode
	Secondary       uint16
	Seq             Seq
	AckSeq          Seq
}

// Encode writes h into a fresh 12-byte big-endian frame.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	rtx := h.RetransmitCount
	if rtx > maxRetransmitCount {
		rtx = maxRetransmitCount
	}
	typeField := uint16(h.Kind) | (uint16(h.Ack) << ackPresenceBitShift) | uint16(rtx)
	binary.BigEndian.PutUint16(buf[0:2], typeField)
	binary.BigEndian.PutUint16(buf[2:4], h.Secondary)
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Seq))
	ackSeq := h.AckSeq
	if h.Ack == AckNone {
		ackSeq = 0
	}
	binary.BigEndian.PutUint32(buf[8:12], uint32(ackSeq))
	return buf
}

// patchRetransmitCount overwrites the retransmission-count bits of an
// already-encoded frame in place, letting a queued entry stamp its current
// attempt number into the same frame bytes on every retransmit instead of
// re-encoding the whole header.
func patchRetransmitCount(frame []byte, count uint8) {
	if count > maxRetransmitCount {
		count = maxRetransmitCount
	}
	frame[1] = (frame[1] &^ byte(maskRetransmission)) | byte(count)
}

// DecodeHeader reads a Header from the first HeaderSize bytes of buf. It
// returns an error if buf is too short.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("crux: short header: need %d bytes, got %d", HeaderSize, len(buf))
	}
	typeField := binary.BigEndian.Uint16(buf[0:2])
	h := Header{
		Kind:            Kind(typeField & maskType),
		Ack:             AckPresence((typeField & maskAck) >> ackPresenceBitShift),
		RetransmitCount: uint8(typeField & maskRetransmission),
		Secondary:       binary.BigEndian.Uint16(buf[2:4]),
		Seq:             Seq(binary.BigEndian.Uint32(buf[4:8])),
		AckSeq:          Seq(binary.BigEndian.Uint32(buf[8:12])),
	}
	return h, nil
}
