package fingerprint

import (
	"encoding/binary"
	"io"
	"time"
)

const (
	// StartCode opens every frame on the wire.
	StartCode uint16 = 0xEF01
	// DefaultAddress is the broadcast module address.
	DefaultAddress uint32 = 0xFFFFFFFF

	headerLen   = 9 // start code, address, type, length
	checksumLen = 2
	maxPayload  = 256
)

// PacketType identifies the role of a frame.
type PacketType byte

const (
	CommandPacket PacketType = 0x01
	DataPacket    PacketType = 0x02
	AckPacket     PacketType = 0x07
	EndDataPacket PacketType = 0x08
)

func (t PacketType) valid() bool {
	switch t {
	case CommandPacket, DataPacket, AckPacket, EndDataPacket:
		return true
	}
	return false
}

// Packet is a decoded sensor frame.
type Packet struct {
	Address uint32
	Type    PacketType
	Payload []byte
}

// Confirmation returns the first payload byte of an acknowledgement.
func (p Packet) Confirmation() Confirmation {
	if len(p.Payload) == 0 {
		return ConfirmPacketError
	}
	return Confirmation(p.Payload[0])
}

// Marshal encodes the packet with its length and checksum fields filled in.
func (p Packet) Marshal() []byte {
	length := uint16(len(p.Payload) + checksumLen)
	buf := make([]byte, headerLen+len(p.Payload)+checksumLen)
	binary.BigEndian.PutUint16(buf[0:2], StartCode)
	binary.BigEndian.PutUint32(buf[2:6], p.Address)
	buf[6] = byte(p.Type)
	binary.BigEndian.PutUint16(buf[7:9], length)
	copy(buf[headerLen:], p.Payload)
	binary.BigEndian.PutUint16(buf[headerLen+len(p.Payload):], checksum(p.Type, length, p.Payload))
	return buf
}

// checksum is the 16-bit sum of the type byte, both length bytes and the
// payload.
func checksum(t PacketType, length uint16, payload []byte) uint16 {
	sum := uint32(t) + uint32(length>>8) + uint32(length&0xFF)
	for _, b := range payload {
		sum += uint32(b)
	}
	return uint16(sum & 0xFFFF)
}

// ParsePacket decodes one complete frame addressed to addr. It reports false
// when any header field, the declared length or the checksum fails to
// validate.
func ParsePacket(frame []byte, addr uint32) (Packet, bool) {
	if len(frame) < headerLen+checksumLen {
		return Packet{}, false
	}
	if binary.BigEndian.Uint16(frame[0:2]) != StartCode {
		return Packet{}, false
	}
	if binary.BigEndian.Uint32(frame[2:6]) != addr {
		return Packet{}, false
	}
	typ := PacketType(frame[6])
	if !typ.valid() {
		return Packet{}, false
	}
	length := binary.BigEndian.Uint16(frame[7:9])
	if int(length) < checksumLen || int(length) != len(frame)-headerLen {
		return Packet{}, false
	}

	payload := frame[headerLen : len(frame)-checksumLen]
	if checksum(typ, length, payload) != binary.BigEndian.Uint16(frame[len(frame)-checksumLen:]) {
		return Packet{}, false
	}
	return Packet{
		Address: addr,
		Type:    typ,
		Payload: append([]byte(nil), payload...),
	}, true
}

// readPacket reads one frame from r, giving up at deadline or as soon as the
// port reports a read timeout.
func readPacket(r io.Reader, addr uint32, deadline time.Time) (Packet, bool) {
	header := make([]byte, headerLen)
	if !readFull(r, header, deadline) {
		return Packet{}, false
	}
	if binary.BigEndian.Uint16(header[0:2]) != StartCode {
		return Packet{}, false
	}
	length := int(binary.BigEndian.Uint16(header[7:9]))
	if length < checksumLen || length > maxPayload+checksumLen {
		return Packet{}, false
	}

	frame := make([]byte, headerLen+length)
	copy(frame, header)
	if !readFull(r, frame[headerLen:], deadline) {
		return Packet{}, false
	}
	return ParsePacket(frame, addr)
}

func readFull(r io.Reader, buf []byte, deadline time.Time) bool {
	for got := 0; got < len(buf); {
		if time.Now().After(deadline) {
			return false
		}
		n, err := r.Read(buf[got:])
		if err != nil || n == 0 {
			return false
		}
		got += n
	}
	return true
}
