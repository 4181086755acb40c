// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "fmt"

// debugFrame is a by-value representation of a single QUIC frame,
// independent of the packetWriter's streaming encode. parseDebugFrame
// is the frame decoder of the receive path (conn_recv.go's
// processDecryptedPayload), and tests use the same type to build and
// compare frames by value, the way the teacher's conn_test.go does
// with wantFrame/wantPacket.
type debugFrame interface {
	fmt.Stringer
	write(w *packetWriter)
}

type debugFramePadding struct{}

func (debugFramePadding) String() string      { return "PADDING" }
func (debugFramePadding) write(w *packetWriter) { w.cur = append(w.cur, frameTypePadding) }

type debugFramePing struct{}

func (debugFramePing) String() string        { return "PING" }
func (debugFramePing) write(w *packetWriter) { w.appendPingFrame() }

type debugFrameAck struct {
	ranges []ackRange
	delay  uint64
}

func (f debugFrameAck) String() string {
	return fmt.Sprintf("ACK ranges=%v delay=%v", f.ranges, f.delay)
}
func (f debugFrameAck) write(w *packetWriter) { w.appendAckFrame(f.ranges, f.delay) }

type debugFrameCrypto struct {
	offset int64
	data   []byte
}

func (f debugFrameCrypto) String() string {
	return fmt.Sprintf("CRYPTO offset=%v len=%v", f.offset, len(f.data))
}
func (f debugFrameCrypto) write(w *packetWriter) {
	w.appendCryptoFrame(initialLevel, f.offset, f.data)
}

type debugFrameStream struct {
	id, offset int64
	data       []byte
	fin        bool
}

func (f debugFrameStream) String() string {
	return fmt.Sprintf("STREAM id=%v offset=%v len=%v fin=%v", f.id, f.offset, len(f.data), f.fin)
}
func (f debugFrameStream) write(w *packetWriter) {
	w.appendStreamFrame(f.id, f.offset, f.data, f.fin)
}

type debugFrameResetStream struct {
	id, code, finalSize uint64
}

func (f debugFrameResetStream) String() string {
	return fmt.Sprintf("RESET_STREAM id=%v code=%v finalSize=%v", f.id, f.code, f.finalSize)
}
func (f debugFrameResetStream) write(w *packetWriter) {
	w.appendResetStreamFrame(f.id, f.code, f.finalSize)
}

type debugFrameMaxData struct{ max uint64 }

func (f debugFrameMaxData) String() string        { return fmt.Sprintf("MAX_DATA max=%v", f.max) }
func (f debugFrameMaxData) write(w *packetWriter) { w.appendMaxDataFrame(f.max) }

type debugFrameDataBlocked struct{ limit uint64 }

func (f debugFrameDataBlocked) String() string { return fmt.Sprintf("DATA_BLOCKED limit=%v", f.limit) }
func (f debugFrameDataBlocked) write(w *packetWriter) { w.appendDataBlockedFrame(f.limit) }

type debugFrameStreamsBlocked struct {
	uni   bool
	limit uint64
}

func (f debugFrameStreamsBlocked) String() string {
	return fmt.Sprintf("STREAMS_BLOCKED uni=%v limit=%v", f.uni, f.limit)
}
func (f debugFrameStreamsBlocked) write(w *packetWriter) { w.appendStreamsBlockedFrame(f.uni, f.limit) }

type debugFrameNewConnectionID struct {
	seq, retirePriorTo uint64
	id                 []byte
	token              statelessResetToken
}

func (f debugFrameNewConnectionID) String() string {
	return fmt.Sprintf("NEW_CONNECTION_ID seq=%v retirePriorTo=%v id=%x", f.seq, f.retirePriorTo, f.id)
}
func (f debugFrameNewConnectionID) write(w *packetWriter) {
	w.appendNewConnectionIDFrame(f.seq, f.retirePriorTo, f.id, f.token)
}

type debugFrameRetireConnectionID struct{ seq uint64 }

func (f debugFrameRetireConnectionID) String() string {
	return fmt.Sprintf("RETIRE_CONNECTION_ID seq=%v", f.seq)
}
func (f debugFrameRetireConnectionID) write(w *packetWriter) { w.appendRetireConnectionIDFrame(f.seq) }

type debugFramePathChallenge struct{ payload [8]byte }

func (f debugFramePathChallenge) String() string {
	return fmt.Sprintf("PATH_CHALLENGE payload=%x", f.payload)
}
func (f debugFramePathChallenge) write(w *packetWriter) { w.appendPathChallengeFrame(f.payload) }

type debugFramePathResponse struct{ payload [8]byte }

func (f debugFramePathResponse) String() string {
	return fmt.Sprintf("PATH_RESPONSE payload=%x", f.payload)
}
func (f debugFramePathResponse) write(w *packetWriter) { w.appendPathResponseFrame(f.payload) }

type debugFrameConnectionClose struct {
	app              bool
	code             uint64
	triggerFrameType uint64
	reason           string
}

func (f debugFrameConnectionClose) String() string {
	return fmt.Sprintf("CONNECTION_CLOSE app=%v code=%v reason=%q", f.app, f.code, f.reason)
}
func (f debugFrameConnectionClose) write(w *packetWriter) {
	w.appendConnectionCloseFrame(f.app, f.code, f.triggerFrameType, f.reason)
}

type debugFrameHandshakeDone struct{}

func (debugFrameHandshakeDone) String() string        { return "HANDSHAKE_DONE" }
func (debugFrameHandshakeDone) write(w *packetWriter) { w.appendHandshakeDoneFrame() }

type debugFrameNewToken struct{ token []byte }

func (f debugFrameNewToken) String() string        { return fmt.Sprintf("NEW_TOKEN token=%x", f.token) }
func (f debugFrameNewToken) write(w *packetWriter) { w.appendNewTokenFrame(f.token) }

type debugFrameAckFrequency struct {
	seq, packetTolerance, maxAckDelay uint64
	ignoreOrder                       bool
}

func (f debugFrameAckFrequency) String() string {
	return fmt.Sprintf("ACK_FREQUENCY seq=%v tolerance=%v delay=%v", f.seq, f.packetTolerance, f.maxAckDelay)
}
func (f debugFrameAckFrequency) write(w *packetWriter) {
	w.appendAckFrequencyFrame(f.seq, f.packetTolerance, f.maxAckDelay, f.ignoreOrder)
}

// parseDebugFrame decodes a single frame from the start of payload,
// returning the frame and the number of bytes consumed, or n < 0 on a
// malformed frame.
func parseDebugFrame(payload []byte) (debugFrame, int) {
	if len(payload) == 0 {
		return nil, -1
	}
	switch t := payload[0]; {
	case t == frameTypePadding:
		return debugFramePadding{}, 1
	case t == frameTypePing:
		return debugFramePing{}, 1
	case t == frameTypeAck || t == frameTypeAckECN:
		return parseDebugAck(payload)
	case t == frameTypeCrypto:
		return parseDebugCrypto(payload)
	case t >= frameTypeStreamBase && t <= 0x0f:
		return parseDebugStream(payload)
	case t == frameTypeResetStream:
		return parseDebugResetStream(payload)
	case t == frameTypeMaxData:
		return parseDebugSingleVarint(payload, func(v uint64) debugFrame { return debugFrameMaxData{v} })
	case t == frameTypeDataBlocked:
		return parseDebugSingleVarint(payload, func(v uint64) debugFrame { return debugFrameDataBlocked{v} })
	case t == frameTypeStreamsBlockedBidi:
		return parseDebugSingleVarint(payload, func(v uint64) debugFrame { return debugFrameStreamsBlocked{false, v} })
	case t == frameTypeStreamsBlockedUni:
		return parseDebugSingleVarint(payload, func(v uint64) debugFrame { return debugFrameStreamsBlocked{true, v} })
	case t == frameTypeNewConnectionID:
		return parseDebugNewConnectionID(payload)
	case t == frameTypeRetireConnectionID:
		return parseDebugSingleVarint(payload, func(v uint64) debugFrame { return debugFrameRetireConnectionID{v} })
	case t == frameTypePathChallenge:
		return parseDebug8ByteFrame(payload, func(p [8]byte) debugFrame { return debugFramePathChallenge{p} })
	case t == frameTypePathResponse:
		return parseDebug8ByteFrame(payload, func(p [8]byte) debugFrame { return debugFramePathResponse{p} })
	case t == frameTypeConnectionCloseTransport || t == frameTypeConnectionCloseApplication:
		return parseDebugConnectionClose(payload)
	case t == frameTypeHandshakeDone:
		return debugFrameHandshakeDone{}, 1
	case t == frameTypeNewToken:
		return parseDebugNewToken(payload)
	case t == frameTypeAckFrequency:
		return parseDebugAckFrequency(payload)
	default:
		return nil, -1
	}
}

func parseDebugSingleVarint(payload []byte, make func(uint64) debugFrame) (debugFrame, int) {
	v, n := consumeVarint(payload[1:])
	if n < 0 {
		return nil, -1
	}
	return make(v), 1 + n
}

func parseDebug8ByteFrame(payload []byte, make func([8]byte) debugFrame) (debugFrame, int) {
	if len(payload) < 9 {
		return nil, -1
	}
	var p [8]byte
	copy(p[:], payload[1:9])
	return make(p), 9
}

func parseDebugAck(payload []byte) (debugFrame, int) {
	off := 1
	largest, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	delay, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	rangeCount, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	firstLen, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n

	ranges := []ackRange{{Smallest: packetNumber(largest) - packetNumber(firstLen), Largest: packetNumber(largest)}}
	smallest := ranges[0].Smallest
	for i := uint64(0); i < rangeCount; i++ {
		gap, n := consumeVarint(payload[off:])
		if n < 0 {
			return nil, -1
		}
		off += n
		rlen, n := consumeVarint(payload[off:])
		if n < 0 {
			return nil, -1
		}
		off += n
		largest := smallest - packetNumber(gap) - 2
		smallest = largest - packetNumber(rlen)
		ranges = append([]ackRange{{Smallest: smallest, Largest: largest}}, ranges...)
	}
	return debugFrameAck{ranges: ranges, delay: delay}, off
}

func parseDebugCrypto(payload []byte) (debugFrame, int) {
	off := 1
	offset, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	length, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	if len(payload) < off+int(length) {
		return nil, -1
	}
	data := append([]byte(nil), payload[off:off+int(length)]...)
	return debugFrameCrypto{offset: int64(offset), data: data}, off + int(length)
}

func parseDebugStream(payload []byte) (debugFrame, int) {
	frameType := payload[0]
	off := 1
	id, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	var offset uint64
	if frameType&0x04 != 0 {
		offset, n = consumeVarint(payload[off:])
		if n < 0 {
			return nil, -1
		}
		off += n
	}
	var length uint64
	if frameType&0x02 != 0 {
		length, n = consumeVarint(payload[off:])
		if n < 0 {
			return nil, -1
		}
		off += n
	} else {
		length = uint64(len(payload) - off)
	}
	if len(payload) < off+int(length) {
		return nil, -1
	}
	data := append([]byte(nil), payload[off:off+int(length)]...)
	fin := frameType&0x01 != 0
	return debugFrameStream{id: int64(id), offset: int64(offset), data: data, fin: fin}, off + int(length)
}

func parseDebugResetStream(payload []byte) (debugFrame, int) {
	off := 1
	id, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	code, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	finalSize, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	return debugFrameResetStream{id: id, code: code, finalSize: finalSize}, off
}

func parseDebugNewConnectionID(payload []byte) (debugFrame, int) {
	off := 1
	seq, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	retire, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	if len(payload) < off+1 {
		return nil, -1
	}
	idLen := int(payload[off])
	off++
	if len(payload) < off+idLen+16 {
		return nil, -1
	}
	id := append([]byte(nil), payload[off:off+idLen]...)
	off += idLen
	var token statelessResetToken
	copy(token[:], payload[off:off+16])
	off += 16
	return debugFrameNewConnectionID{seq: seq, retirePriorTo: retire, id: id, token: token}, off
}

func parseDebugConnectionClose(payload []byte) (debugFrame, int) {
	app := payload[0] == frameTypeConnectionCloseApplication
	off := 1
	code, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	var trigger uint64
	if !app {
		trigger, n = consumeVarint(payload[off:])
		if n < 0 {
			return nil, -1
		}
		off += n
	}
	rlen, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	if len(payload) < off+int(rlen) {
		return nil, -1
	}
	reason := string(payload[off : off+int(rlen)])
	return debugFrameConnectionClose{app: app, code: code, triggerFrameType: trigger, reason: reason}, off + int(rlen)
}

func parseDebugNewToken(payload []byte) (debugFrame, int) {
	off := 1
	tlen, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	if len(payload) < off+int(tlen) {
		return nil, -1
	}
	token := append([]byte(nil), payload[off:off+int(tlen)]...)
	return debugFrameNewToken{token: token}, off + int(tlen)
}

func parseDebugAckFrequency(payload []byte) (debugFrame, int) {
	off := 1
	seq, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	tol, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	delay, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	ign, n := consumeVarint(payload[off:])
	if n < 0 {
		return nil, -1
	}
	off += n
	return debugFrameAckFrequency{seq: seq, packetTolerance: tol, maxAckDelay: delay, ignoreOrder: ign != 0}, off
}
