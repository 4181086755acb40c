// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

// Sentinel values returned alongside a malformed parse: parseMalformed
// covers any structural problem (truncated header, bad varint, short
// buffer); parseAuthFailed means the header parsed fine but AEAD
// authentication of the payload failed, which callers must count
// toward the integrity limit (RFC 9001 Section 6.6) rather than
// silently ignore as they do a structurally bad packet.
const (
	parseMalformed  = -1
	parseAuthFailed = -2
)

// parseLongHeaderPacket parses and decrypts a single long-header
// packet at the start of buf. It returns the parsed packet and the
// number of bytes consumed, or n < 0 if the packet is malformed or
// fails to authenticate (spec §4.4 steps 1-2).
func parseLongHeaderPacket(buf []byte, k keys, pnumMaxAcked packetNumber) (longPacket, int) {
	var p longPacket
	if len(buf) < 6 || !isLongHeader(buf[0]) {
		return p, -1
	}
	p.ptype = getPacketType(buf)
	if p.ptype == packetTypeInvalid {
		return p, -1
	}
	p.version = be32(buf[1:5])

	off := 5
	dcilLen := int(buf[off])
	off++
	if len(buf) < off+dcilLen {
		return p, -1
	}
	p.dstConnID = append([]byte(nil), buf[off:off+dcilLen]...)
	off += dcilLen

	if len(buf) < off+1 {
		return p, -1
	}
	scilLen := int(buf[off])
	off++
	if len(buf) < off+scilLen {
		return p, -1
	}
	p.srcConnID = append([]byte(nil), buf[off:off+scilLen]...)
	off += scilLen

	if p.ptype == packetTypeRetry {
		// A Retry packet carries a token followed by a 16-byte
		// integrity tag and has no packet number or AEAD-protected
		// payload (RFC 9001 Section 5.8).
		if len(buf) < off+16 {
			return p, -1
		}
		p.token = append([]byte(nil), buf[off:len(buf)-16]...)
		return p, len(buf)
	}

	if p.ptype == packetTypeInitial {
		tokenLen, n := consumeVarint(buf[off:])
		if n < 0 || len(buf) < off+n+int(tokenLen) {
			return p, -1
		}
		off += n
		p.token = append([]byte(nil), buf[off:off+int(tokenLen)]...)
		off += int(tokenLen)
	}

	length, n := consumeVarint(buf[off:])
	if n < 0 {
		return p, -1
	}
	off += n
	if len(buf) < off+int(length) {
		return p, -1
	}

	header := append([]byte(nil), buf[:off]...)
	rest := buf[off : off+int(length)]
	if !k.isSet() {
		return p, -1
	}
	payload, pnum, consumed := k.pkt.Unprotect(header, rest, pnumMaxAcked)
	if consumed < 0 {
		return p, parseAuthFailed
	}
	p.num = pnum
	p.payload = payload
	return p, off + consumed
}

// parse1RTTPacket parses and decrypts a single short-header packet.
// dstConnIDLen is the length of connection ids this endpoint assigns,
// needed because the destination connection id is not self-describing
// in a short header.
func parse1RTTPacket(buf []byte, k keys, dstConnIDLen int, pnumMaxAcked packetNumber) (shortPacket, int) {
	var p shortPacket
	if len(buf) < 1+dstConnIDLen || isLongHeader(buf[0]) {
		return p, -1
	}
	header := append([]byte(nil), buf[:1+dstConnIDLen]...)
	rest := buf[1+dstConnIDLen:]
	if !k.isSet() {
		return p, -1
	}
	payload, pnum, consumed := k.pkt.Unprotect(header, rest, pnumMaxAcked)
	if consumed < 0 {
		return p, parseAuthFailed
	}
	if header[0]&headerKeyPhase != 0 {
		p.phase = keyPhaseOne
	}
	p.num = pnum
	p.payload = payload
	return p, 1 + dstConnIDLen + consumed
}
