// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// packetFate is the final outcome of a sent packet: acknowledged or
// declared lost (spec §3, SentPacket lifecycle).
type packetFate int8

const (
	packetAcked packetFate = iota
	packetLost
)

// sentPacket records everything the Sent Packet Manager needs to
// remember about a packet between the time it is sent and the time
// its fate (ack or loss) is known (spec §3, "SentPacket").
//
// The frames log is a compact write-once, read-once encoding of the
// retransmittable frames the packet carried: packetWriter's append*
// methods write to it as they build the packet, and handleAckOrLoss
// (conn_loss.go) reads it back exactly once when the packet's fate is
// decided. This mirrors golang.org/x/net/internal/quic's design,
// which keeps the encode and decode of this log next to each other so
// they can't drift out of sync (see conn_loss.go's comment to that
// effect).
type sentPacket struct {
	num      packetNumber
	space    numberSpace
	timeSent time.Time
	size     int

	inFlight     bool
	ackEliciting bool
	hasCrypto    bool

	frames []byte
	pos    int // read cursor into frames, used by next/nextInt/done
}

func newSentPacket() *sentPacket {
	return &sentPacket{}
}

// done reports whether every frame logged for this packet has been
// consumed by next/nextInt.
func (s *sentPacket) done() bool {
	return s.pos >= len(s.frames)
}

// next consumes and returns the next frame-type tag in the log.
func (s *sentPacket) next() byte {
	b := s.frames[s.pos]
	s.pos++
	return b
}

// nextInt consumes and returns the next varint-encoded integer in the log.
func (s *sentPacket) nextInt() uint64 {
	v, n := consumeVarint(s.frames[s.pos:])
	if n < 0 {
		panic("quic: BUG: corrupt sentPacket frame log")
	}
	s.pos += n
	return v
}

// nextBytes consumes and returns the next length-prefixed byte string
// in the log.
func (s *sentPacket) nextBytes() []byte {
	n := s.nextInt()
	b := s.frames[s.pos : s.pos+int(n)]
	s.pos += int(n)
	return b
}

// logFrameType appends a frame-type tag to the log, marking the
// packet ack-eliciting unless the frame type is exempt (spec
// GLOSSARY, "ACK-eliciting frame").
func (s *sentPacket) logFrameType(frameType byte) {
	s.frames = append(s.frames, frameType)
	if isAckEliciting(frameType) {
		s.ackEliciting = true
	}
	if frameType == frameTypeCrypto {
		s.hasCrypto = true
	}
}

func (s *sentPacket) logInt(v uint64) {
	s.frames = appendVarint(s.frames, v)
}

func (s *sentPacket) logBytes(b []byte) {
	s.frames = appendVarint(s.frames, uint64(len(b)))
	s.frames = append(s.frames, b...)
}

// sentPacketList is an ordered set of in-flight packets for one number
// space, keyed by packet number. It backs the Sent Packet Manager
// (spec §4.2, §5 "Shared resources ... bounded by max_tracked_packets").
type sentPacketList struct {
	byNum map[packetNumber]*sentPacket
	order []packetNumber // ascending, oldest first
}

func newSentPacketList() *sentPacketList {
	return &sentPacketList{byNum: make(map[packetNumber]*sentPacket)}
}

func (l *sentPacketList) add(p *sentPacket) {
	l.byNum[p.num] = p
	l.order = append(l.order, p.num)
}

func (l *sentPacketList) get(num packetNumber) (*sentPacket, bool) {
	p, ok := l.byNum[num]
	return p, ok
}

func (l *sentPacketList) remove(num packetNumber) {
	delete(l.byNum, num)
	for i, n := range l.order {
		if n == num {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

func (l *sentPacketList) len() int { return len(l.order) }

// firstSent returns the smallest outstanding packet number, or -1 if
// the list is empty. Invariant P4 requires this, together with
// largestSent, to bound the strictly-increasing set of sent numbers.
func (l *sentPacketList) firstSent() packetNumber {
	if len(l.order) == 0 {
		return -1
	}
	return l.order[0]
}

// bytesInFlight sums the size of every packet still marked inFlight.
func (l *sentPacketList) bytesInFlight() int64 {
	var n int64
	for _, num := range l.order {
		if p := l.byNum[num]; p.inFlight {
			n += int64(p.size)
		}
	}
	return n
}
