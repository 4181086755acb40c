// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

// longPacket describes an Initial, 0-RTT, Handshake, or Retry packet
// (RFC 9000 Section 17.2). It is used both to drive the writer
// (packet_writer.go) and as the parsed result of reading one off the
// wire (packet_parser.go).
type longPacket struct {
	ptype     packetType
	version   uint32
	num       packetNumber
	dstConnID []byte
	srcConnID []byte
	token     []byte // Initial only
	payload   []byte // set only when parsed
}

// shortPacket describes a 1-RTT packet (RFC 9000 Section 17.3).
type shortPacket struct {
	num     packetNumber
	phase   KeyPhase
	payload []byte
}

const quicVersion1 = uint32(1)

const (
	headerFormLong  = 0x80
	headerFixedBit  = 0x40
	headerKeyPhase  = 0x04 // short header only
)

var longHeaderTypeBits = map[packetType]byte{
	packetTypeInitial:   0x00,
	packetType0RTT:      0x10,
	packetTypeHandshake: 0x20,
	packetTypeRetry:     0x30,
}

var longHeaderTypeFromBits = map[byte]packetType{
	0x00: packetTypeInitial,
	0x10: packetType0RTT,
	0x20: packetTypeHandshake,
	0x30: packetTypeRetry,
}

// isLongHeader reports whether the first byte of a QUIC packet
// indicates a long header.
func isLongHeader(b0 byte) bool {
	return b0&headerFormLong != 0
}

// getPacketType returns the packet type encoded in a datagram's
// leading bytes. It does not validate the rest of the header.
func getPacketType(buf []byte) packetType {
	if len(buf) == 0 {
		return packetTypeInvalid
	}
	if !isLongHeader(buf[0]) {
		return packetType1RTT
	}
	if len(buf) < 5 {
		return packetTypeInvalid
	}
	// Version Negotiation packets have version 0 and are not handled
	// by this core directly; report them as invalid so callers treat
	// them as an undecryptable/ignorable datagram.
	version := be32(buf[1:5])
	if version == 0 {
		return packetTypeInvalid
	}
	t, ok := longHeaderTypeFromBits[buf[0]&0x30]
	if !ok {
		return packetTypeInvalid
	}
	return t
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// packetNumberLength implements RFC 9000 Section 17.1's rule for
// picking the shortest packet number encoding such that the true
// packet number can be unambiguously reconstructed given the largest
// packet number the peer is known to have acknowledged.
func packetNumberLength(pnum, largestAcked packetNumber) int {
	var numUnacked int64
	if largestAcked < 0 {
		numUnacked = int64(pnum) + 1
	} else {
		numUnacked = int64(pnum - largestAcked)
	}
	switch {
	case numUnacked < 1<<7:
		return 1
	case numUnacked < 1<<15:
		return 2
	case numUnacked < 1<<23:
		return 3
	default:
		return 4
	}
}

func appendPacketNumber(b []byte, pnum packetNumber, length int) []byte {
	v := uint64(pnum)
	for i := length - 1; i >= 0; i-- {
		b = append(b, byte(v>>(8*uint(i))))
	}
	return b
}

// decodePacketNumber reconstructs a full packet number from its
// wire-truncated form, given the largest packet number successfully
// received in this space so far (RFC 9000 Appendix A).
func decodePacketNumber(truncated uint64, length int, largestReceived packetNumber) packetNumber {
	bits := uint(length * 8)
	win := int64(1) << bits
	halfWin := win / 2
	var expected int64
	if largestReceived >= 0 {
		expected = int64(largestReceived) + 1
	}
	candidate := (expected &^ (win - 1)) | int64(truncated)
	switch {
	case candidate <= expected-halfWin && candidate < (1<<62)-win:
		candidate += win
	case candidate > expected+halfWin && candidate >= win:
		candidate -= win
	}
	if candidate < 0 {
		candidate = int64(truncated)
	}
	return packetNumber(candidate)
}

// dstConnIDForDatagram extracts the destination connection id from
// the first packet in a datagram, without fully parsing the packet.
// Used by the ingress pipeline to route a datagram to a connection
// before any keys are available (spec §4.4 step 1).
func dstConnIDForDatagram(buf []byte) (id []byte, ok bool) {
	if len(buf) == 0 {
		return nil, false
	}
	if !isLongHeader(buf[0]) {
		// Short header: caller must know the local connection id
		// length out of band (it is not self-describing on the wire).
		return nil, false
	}
	if len(buf) < 6 {
		return nil, false
	}
	n := int(buf[5])
	if len(buf) < 6+n {
		return nil, false
	}
	return buf[6 : 6+n], true
}
