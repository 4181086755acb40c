// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

// aeadOverhead is the authentication tag size added by the default
// AES-GCM AEAD (RFC 9001 uses a 16-byte tag for every QUIC v1 cipher
// suite).
const aeadOverhead = 16

// packetWriter is the Packet Framer's write side (spec §4.1, §9
// "ScopedPacketFlusher"). It accumulates frames for one packet at a
// time into cur, and appends a finished, encrypted packet to buf only
// once finish*Packet is called -- so abandoning a packet before it is
// finished is simply a matter of discarding cur, never touching buf.
// Multiple finished packets accumulate in buf to form one coalesced
// UDP datagram (spec §2, "Coalesced Packet Buffer"; §4.5 "Coalescing").
type packetWriter struct {
	buf     []byte
	maxSize int

	cur []byte // payload of the packet currently being assembled
	sent *sentPacket

	curLong  *longPacket // set while building a long-header packet
	curShort *shortHdr   // set while building a short-header (1-RTT) packet
}

type shortHdr struct {
	num       packetNumber
	dstConnID []byte
	phase     KeyPhase
}

// reset prepares the writer to build a new datagram of at most
// maxSize bytes.
func (w *packetWriter) reset(maxSize int) {
	w.buf = w.buf[:0]
	w.maxSize = maxSize
	w.cur = nil
	w.sent = nil
	w.curLong = nil
	w.curShort = nil
}

func (w *packetWriter) startProtectedLongHeaderPacket(pnumMaxAcked packetNumber, p longPacket) {
	hdr := p
	w.curLong = &hdr
	w.curShort = nil
	w.cur = w.cur[:0]
	w.sent = newSentPacket()
	w.sent.num = p.num
	w.sent.space = spaceForPacketType(p.ptype)
}

func (w *packetWriter) start1RTTPacket(pnum, pnumMaxAcked packetNumber, dstConnID []byte, phase KeyPhase) {
	w.curShort = &shortHdr{num: pnum, dstConnID: dstConnID, phase: phase}
	w.curLong = nil
	w.cur = w.cur[:0]
	w.sent = newSentPacket()
	w.sent.num = pnum
	w.sent.space = appDataSpace
}

// longHeaderOverhead estimates the number of bytes a long header will
// occupy once finished, for admission-control purposes. It always
// reserves room for a worst-case 4-byte packet number and 4-byte
// Length field, matching the fixed-width Length field this writer
// actually emits (appendVarintFixed4).
func (w *packetWriter) longHeaderOverhead(p *longPacket) int {
	n := 1 + 4 + 1 + len(p.dstConnID) + 1 + len(p.srcConnID) + 4 /* length */ + 4 /* pnum */
	if p.ptype == packetTypeInitial {
		n += sizeVarint(uint64(len(p.token))) + len(p.token)
	}
	return n
}

func (w *packetWriter) shortHeaderOverhead(dstConnID []byte) int {
	return 1 + len(dstConnID) + 4 /* pnum */
}

// remaining reports how many more payload bytes may be appended to
// the packet currently under construction without exceeding maxSize.
func (w *packetWriter) remaining() int {
	overhead := aeadOverhead
	switch {
	case w.curLong != nil:
		overhead += w.longHeaderOverhead(w.curLong)
	case w.curShort != nil:
		overhead += w.shortHeaderOverhead(w.curShort.dstConnID)
	}
	return w.maxSize - len(w.buf) - overhead - len(w.cur)
}

// payload returns the frame bytes accumulated for the packet
// currently under construction.
func (w *packetWriter) payload() []byte {
	return w.cur
}

// abandonPacket discards the packet currently under construction
// without writing anything to the datagram (spec §4.5, an ACK-only
// packet the core decides not to send after all).
func (w *packetWriter) abandonPacket() {
	w.cur = w.cur[:0]
	w.sent = newSentPacket()
	if w.curLong != nil {
		w.sent.num = w.curLong.num
		w.sent.space = spaceForPacketType(w.curLong.ptype)
	} else if w.curShort != nil {
		w.sent.num = w.curShort.num
		w.sent.space = appDataSpace
	}
}

// appendPaddingTo pads the packet currently under construction with
// PADDING frames (zero bytes) so that once finished, the entire
// datagram (buf plus this packet) reaches at least total bytes. It is
// used to satisfy the minimum client Initial datagram size and to pad
// coalesced datagrams carrying an Initial packet (spec §4.1, §4.5).
func (w *packetWriter) appendPaddingTo(total int) {
	overhead := aeadOverhead
	switch {
	case w.curLong != nil:
		overhead += w.longHeaderOverhead(w.curLong)
	case w.curShort != nil:
		overhead += w.shortHeaderOverhead(w.curShort.dstConnID)
	default:
		return
	}
	target := total - len(w.buf) - overhead
	for len(w.cur) < target {
		w.cur = append(w.cur, frameTypePadding)
	}
}

func (w *packetWriter) finishProtectedLongHeaderPacket(pnumMaxAcked packetNumber, k keys, p longPacket) *sentPacket {
	if len(w.cur) == 0 || !k.isSet() {
		return nil
	}
	pnLen := packetNumberLength(p.num, pnumMaxAcked)
	b0 := byte(headerFormLong | headerFixedBit | longHeaderTypeBits[p.ptype] | (pnLen - 1))
	header := []byte{b0}
	header = appendBE32(header, p.version)
	header = append(header, byte(len(p.dstConnID)))
	header = append(header, p.dstConnID...)
	header = append(header, byte(len(p.srcConnID)))
	header = append(header, p.srcConnID...)
	if p.ptype == packetTypeInitial {
		header = appendVarint(header, uint64(len(p.token)))
		header = append(header, p.token...)
	}
	header = appendVarintFixed4(header, uint64(pnLen+len(w.cur)+aeadOverhead))
	header = appendPacketNumber(header, p.num, pnLen)

	sealed := k.pkt.Protect(header, w.cur, p.num)
	w.buf = append(w.buf, header...)
	w.buf = append(w.buf, sealed...)

	sent := w.sent
	sent.size = len(header) + len(sealed)
	sent.inFlight = true
	return sent
}

func (w *packetWriter) finish1RTTPacket(pnum, pnumMaxAcked packetNumber, dstConnID []byte, k keys) *sentPacket {
	if len(w.cur) == 0 || !k.isSet() {
		return nil
	}
	pnLen := packetNumberLength(pnum, pnumMaxAcked)
	b0 := byte(headerFixedBit | (pnLen - 1))
	if w.curShort != nil && w.curShort.phase == keyPhaseOne {
		b0 |= headerKeyPhase
	}
	header := []byte{b0}
	header = append(header, dstConnID...)
	header = appendPacketNumber(header, pnum, pnLen)

	sealed := k.pkt.Protect(header, w.cur, pnum)
	w.buf = append(w.buf, header...)
	w.buf = append(w.buf, sealed...)

	sent := w.sent
	sent.size = len(header) + len(sealed)
	sent.inFlight = true
	return sent
}

// datagram returns the finished datagram, which may contain multiple
// coalesced packets.
func (w *packetWriter) datagram() []byte {
	return w.buf
}

func appendBE32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// appendVarintFixed4 always encodes v using the 4-byte varint form,
// even if a shorter encoding would suffice, so the Length field of a
// long header packet can be written before the final ciphertext
// length is known and never needs to move.
func appendVarintFixed4(b []byte, v uint64) []byte {
	if v > maxVarint4 {
		panic("quic: length too large for fixed 4-byte varint")
	}
	return append(b, byte(v>>24)|0x80, byte(v>>16), byte(v>>8), byte(v))
}

// --- Frame appenders ---
//
// Each appendXFrame method reports whether the frame fit in the
// remaining packet budget; if not, the caller must flush and start a
// new packet. Every appended frame is also logged into w.sent so
// handleAckOrLoss (conn_loss.go) can react to the packet's eventual
// fate.

func (w *packetWriter) appendPingFrame() bool {
	if w.remaining() < 1 {
		return false
	}
	w.cur = append(w.cur, frameTypePing)
	w.sent.logFrameType(frameTypePing)
	return true
}

// appendAckFrame writes an ACK frame covering the ranges in seen
// (ascending, as produced by ackState.acksToSend) with the given
// encoded ack delay.
func (w *packetWriter) appendAckFrame(seen []ackRange, ackDelay uint64) bool {
	if len(seen) == 0 {
		return false
	}
	largestRange := seen[len(seen)-1]
	var body []byte
	body = appendVarint(body, uint64(largestRange.Largest))
	body = appendVarint(body, ackDelay)
	body = appendVarint(body, uint64(len(seen)-1))
	body = appendVarint(body, uint64(largestRange.Largest-largestRange.Smallest))
	prevSmallest := largestRange.Smallest
	for i := len(seen) - 2; i >= 0; i-- {
		r := seen[i]
		gap := prevSmallest - r.Largest - 2
		body = appendVarint(body, uint64(gap))
		body = appendVarint(body, uint64(r.Largest-r.Smallest))
		prevSmallest = r.Smallest
	}
	if 1+len(body) > w.remaining() {
		return false
	}
	w.cur = append(w.cur, frameTypeAck)
	w.cur = append(w.cur, body...)
	w.sent.logFrameType(frameTypeAck)
	w.sent.logInt(uint64(largestRange.Largest))
	return true
}

func (w *packetWriter) appendCryptoFrame(level EncryptionLevel, offset int64, data []byte) (n int, ok bool) {
	hdrLen := 1 + sizeVarint(uint64(offset)) + sizeVarint(uint64(len(data)))
	room := w.remaining() - hdrLen
	if room <= 0 {
		return 0, false
	}
	if len(data) > room {
		data = data[:room]
	}
	w.cur = append(w.cur, frameTypeCrypto)
	w.cur = appendVarint(w.cur, uint64(offset))
	w.cur = appendVarint(w.cur, uint64(len(data)))
	w.cur = append(w.cur, data...)
	w.sent.logFrameType(frameTypeCrypto)
	w.sent.logInt(uint64(level))
	w.sent.logInt(uint64(offset))
	w.sent.logBytes(data)
	return len(data), true
}

func (w *packetWriter) appendStreamFrame(id, offset int64, data []byte, fin bool) (n int, ok bool) {
	frameType := byte(frameTypeStreamBase) | 0x04 /*OFF*/ | 0x02 /*LEN*/
	hdrLen := 1 + sizeVarint(uint64(id)) + sizeVarint(uint64(offset)) + sizeVarint(uint64(len(data)))
	room := w.remaining() - hdrLen
	if room < 0 {
		return 0, false
	}
	truncated := false
	if len(data) > room {
		data = data[:room]
		truncated = true
	}
	if truncated {
		fin = false
	}
	if fin {
		frameType |= 0x01
	}
	w.cur = append(w.cur, frameType)
	w.cur = appendVarint(w.cur, uint64(id))
	w.cur = appendVarint(w.cur, uint64(offset))
	w.cur = appendVarint(w.cur, uint64(len(data)))
	w.cur = append(w.cur, data...)
	w.sent.logFrameType(byte(frameTypeStreamBase))
	w.sent.logInt(uint64(id))
	w.sent.logInt(uint64(offset))
	w.sent.logBytes(data)
	if fin {
		w.sent.logInt(1)
	} else {
		w.sent.logInt(0)
	}
	return len(data), true
}

func (w *packetWriter) appendResetStreamFrame(id, code, finalSize uint64) bool {
	body := appendVarint(appendVarint(appendVarint(nil, id), code), finalSize)
	if 1+len(body) > w.remaining() {
		return false
	}
	w.cur = append(w.cur, frameTypeResetStream)
	w.cur = append(w.cur, body...)
	w.sent.logFrameType(frameTypeResetStream)
	w.sent.logInt(id)
	w.sent.logInt(code)
	w.sent.logInt(finalSize)
	return true
}

func (w *packetWriter) appendMaxDataFrame(max uint64) bool {
	body := appendVarint(nil, max)
	if 1+len(body) > w.remaining() {
		return false
	}
	w.cur = append(w.cur, frameTypeMaxData)
	w.cur = append(w.cur, body...)
	w.sent.logFrameType(frameTypeMaxData)
	w.sent.logInt(max)
	return true
}

func (w *packetWriter) appendDataBlockedFrame(limit uint64) bool {
	body := appendVarint(nil, limit)
	if 1+len(body) > w.remaining() {
		return false
	}
	w.cur = append(w.cur, frameTypeDataBlocked)
	w.cur = append(w.cur, body...)
	w.sent.logFrameType(frameTypeDataBlocked)
	w.sent.logInt(limit)
	return true
}

func (w *packetWriter) appendStreamsBlockedFrame(uni bool, limit uint64) bool {
	frameType := byte(frameTypeStreamsBlockedBidi)
	if uni {
		frameType = frameTypeStreamsBlockedUni
	}
	body := appendVarint(nil, limit)
	if 1+len(body) > w.remaining() {
		return false
	}
	w.cur = append(w.cur, frameType)
	w.cur = append(w.cur, body...)
	w.sent.logFrameType(frameType)
	w.sent.logInt(limit)
	return true
}

func (w *packetWriter) appendNewConnectionIDFrame(seq, retirePriorTo uint64, id []byte, token statelessResetToken) bool {
	n := sizeVarint(seq) + sizeVarint(retirePriorTo) + 1 + len(id) + len(token)
	if 1+n > w.remaining() {
		return false
	}
	w.cur = append(w.cur, frameTypeNewConnectionID)
	w.cur = appendVarint(w.cur, seq)
	w.cur = appendVarint(w.cur, retirePriorTo)
	w.cur = append(w.cur, byte(len(id)))
	w.cur = append(w.cur, id...)
	w.cur = append(w.cur, token[:]...)
	w.sent.logFrameType(frameTypeNewConnectionID)
	w.sent.logInt(seq)
	w.sent.logInt(retirePriorTo)
	w.sent.logBytes(id)
	return true
}

func (w *packetWriter) appendRetireConnectionIDFrame(seq uint64) bool {
	body := appendVarint(nil, seq)
	if 1+len(body) > w.remaining() {
		return false
	}
	w.cur = append(w.cur, frameTypeRetireConnectionID)
	w.cur = append(w.cur, body...)
	w.sent.logFrameType(frameTypeRetireConnectionID)
	w.sent.logInt(seq)
	return true
}

func (w *packetWriter) appendPathChallengeFrame(payload [8]byte) bool {
	if 1+8 > w.remaining() {
		return false
	}
	w.cur = append(w.cur, frameTypePathChallenge)
	w.cur = append(w.cur, payload[:]...)
	w.sent.logFrameType(frameTypePathChallenge)
	return true
}

func (w *packetWriter) appendPathResponseFrame(payload [8]byte) bool {
	if 1+8 > w.remaining() {
		return false
	}
	w.cur = append(w.cur, frameTypePathResponse)
	w.cur = append(w.cur, payload[:]...)
	w.sent.logFrameType(frameTypePathResponse)
	return true
}

func (w *packetWriter) appendHandshakeDoneFrame() bool {
	if 1 > w.remaining() {
		return false
	}
	w.cur = append(w.cur, frameTypeHandshakeDone)
	w.sent.logFrameType(frameTypeHandshakeDone)
	return true
}

func (w *packetWriter) appendNewTokenFrame(token []byte) bool {
	body := appendVarint(nil, uint64(len(token)))
	n := 1 + len(body) + len(token)
	if n > w.remaining() {
		return false
	}
	w.cur = append(w.cur, frameTypeNewToken)
	w.cur = append(w.cur, body...)
	w.cur = append(w.cur, token...)
	w.sent.logFrameType(frameTypeNewToken)
	return true
}

func (w *packetWriter) appendAckFrequencyFrame(seq, packetTolerance, maxAckDelay uint64, ignoreOrder bool) bool {
	ign := uint64(0)
	if ignoreOrder {
		ign = 1
	}
	body := appendVarint(appendVarint(appendVarint(appendVarint(nil, seq), packetTolerance), maxAckDelay), ign)
	if 1+len(body) > w.remaining() {
		return false
	}
	w.cur = append(w.cur, frameTypeAckFrequency)
	w.cur = append(w.cur, body...)
	w.sent.logFrameType(frameTypeAckFrequency)
	return true
}

func (w *packetWriter) appendConnectionCloseFrame(app bool, code uint64, triggerFrameType uint64, reason string) bool {
	frameType := byte(frameTypeConnectionCloseTransport)
	if app {
		frameType = frameTypeConnectionCloseApplication
	}
	var body []byte
	body = appendVarint(body, code)
	if !app {
		body = appendVarint(body, triggerFrameType)
	}
	body = appendVarint(body, uint64(len(reason)))
	body = append(body, reason...)
	if 1+len(body) > w.remaining() {
		// Truncate the reason rather than fail to send a close at all.
		excess := 1 + len(body) - w.remaining()
		if excess >= len(reason) {
			reason = ""
		} else {
			reason = reason[:len(reason)-excess]
		}
		return w.appendConnectionCloseFrame(app, code, triggerFrameType, reason)
	}
	w.cur = append(w.cur, frameType)
	w.cur = append(w.cur, body...)
	// CONNECTION_CLOSE is not logged for retransmission: spec invariant
	// I7 means there is nothing left to retransmit once it is sent.
	return true
}
