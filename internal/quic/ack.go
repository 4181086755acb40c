// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

const ackDelayExponent = 3

// unscaledAckDelayFromDuration encodes an ack delay for the wire,
// RFC 9000 Section 19.3: the value sent is the delay divided by
// 2^ack_delay_exponent, in microseconds.
func unscaledAckDelayFromDuration(d time.Duration, exponent uint8) uint64 {
	if d < 0 {
		d = 0
	}
	micros := uint64(d / time.Microsecond)
	return micros >> exponent
}

func durationFromUnscaledAckDelay(v uint64, exponent uint8) time.Duration {
	return time.Duration(v<<exponent) * time.Microsecond
}

// ackState is the Received Packet Manager for one number space (spec
// §4.3). It tracks which packet numbers have been received, decides
// when an ACK is owed, and answers what ranges to put in the next ACK
// frame.
type ackState struct {
	space numberSpace

	// seen holds received, not-yet-acknowledged packet numbers as
	// disjoint ascending ranges.
	seen []ackRange

	largestSeenTime time.Time
	maxAckDelay     time.Duration

	// unacked counts ack-eliciting packets received since the last ACK
	// was sent, used for the "every other packet" immediate-ack policy
	// (RFC 9000 Section 13.2.1).
	unacked int

	// wantImmediateAck records that an ACK is owed without waiting for
	// the ack delay: an ack-eliciting packet arrived out of order, or
	// was the second one since the last ACK.
	wantImmediateAck bool

	largestAckedByPeer packetNumber
}

func newAckState(space numberSpace, maxAckDelay time.Duration) *ackState {
	return &ackState{space: space, largestAckedByPeer: -1, maxAckDelay: maxAckDelay}
}

// largestSeen returns the largest packet number ever received in this
// space, or -1 if none has been received yet. It is used as the
// pnumMaxAcked input to packet number encoding and decoding, matching
// RFC 9000 Section 17.1's use of the largest acknowledged -- the
// Connection Core approximates that with the largest actually seen,
// since the two converge once any ACK in this space is sent.
func (a *ackState) largestSeen() packetNumber {
	if len(a.seen) == 0 {
		return -1
	}
	return a.seen[len(a.seen)-1].Largest
}

// receive records that pnum was received, ackEliciting reporting
// whether the packet contained an ack-eliciting frame, and reports
// whether this packet is new (not a duplicate).
func (a *ackState) receive(now time.Time, pnum packetNumber, ackEliciting bool) (isNew bool) {
	if a.contains(pnum) {
		return false
	}
	a.insert(pnum)
	if pnum == a.largestSeen() {
		a.largestSeenTime = now
	}
	if ackEliciting {
		a.unacked++
		// RFC 9000 Section 13.2.1: ack immediately if this packet is
		// out of order, or every second ack-eliciting packet
		// otherwise.
		if pnum != a.largestSeen() || a.unacked >= 2 {
			a.wantImmediateAck = true
		}
	}
	return true
}

func (a *ackState) contains(pnum packetNumber) bool {
	for _, r := range a.seen {
		if pnum >= r.Smallest && pnum <= r.Largest {
			return true
		}
	}
	return false
}

func (a *ackState) insert(pnum packetNumber) {
	for i, r := range a.seen {
		switch {
		case pnum+1 == r.Smallest:
			a.seen[i].Smallest = pnum
			a.mergeAt(i)
			return
		case pnum == r.Largest+1:
			a.seen[i].Largest = pnum
			a.mergeAt(i)
			return
		case pnum < r.Smallest:
			a.seen = append(a.seen, ackRange{})
			copy(a.seen[i+1:], a.seen[i:])
			a.seen[i] = ackRange{Smallest: pnum, Largest: pnum}
			return
		}
	}
	a.seen = append(a.seen, ackRange{Smallest: pnum, Largest: pnum})
}

// mergeAt merges seen[i] with its neighbors if they now overlap or
// abut, after seen[i]'s bounds were just extended by one.
func (a *ackState) mergeAt(i int) {
	if i+1 < len(a.seen) && a.seen[i].Largest+1 >= a.seen[i+1].Smallest {
		a.seen[i].Largest = a.seen[i+1].Largest
		a.seen = append(a.seen[:i+1], a.seen[i+2:]...)
	}
	if i > 0 && a.seen[i-1].Largest+1 >= a.seen[i].Smallest {
		a.seen[i-1].Largest = a.seen[i].Largest
		a.seen = append(a.seen[:i], a.seen[i+1:]...)
	}
}

// shouldSendAck reports whether an ACK frame is owed right now,
// either because an immediate-ack condition was met or because the
// max_ack_delay timer for a previously-deferred ack has expired.
func (a *ackState) shouldSendAck(now time.Time) bool {
	if len(a.seen) == 0 {
		return false
	}
	if a.wantImmediateAck {
		return true
	}
	if a.unacked > 0 && !a.largestSeenTime.IsZero() && now.Sub(a.largestSeenTime) >= a.maxAckDelay {
		return true
	}
	return false
}

// acksToSend returns the ranges to report and the ack delay to encode
// for a new ACK frame in this space, or a nil slice if there is
// nothing to acknowledge.
func (a *ackState) acksToSend(now time.Time) (ranges []ackRange, delay time.Duration) {
	if len(a.seen) == 0 {
		return nil, 0
	}
	if !a.largestSeenTime.IsZero() {
		delay = now.Sub(a.largestSeenTime)
	}
	return a.seen, delay
}

// sentAck records that an ACK frame covering the current seen set was
// just sent, resetting the immediate-ack and unacked-count bookkeeping.
func (a *ackState) sentAck() {
	a.unacked = 0
	a.wantImmediateAck = false
}

// handleAck processes acknowledgement of one of our own previously
// sent ACK frames in this space: largest is the largest packet number
// that ACK frame reported. Packets at or below that threshold, other
// than the most recent range, may now be forgotten (RFC 9000 Section
// 13.2.3's "no more than necessary" retention guidance).
func (a *ackState) handleAck(largest packetNumber) {
	if len(a.seen) <= 1 {
		return
	}
	keepFrom := 0
	for i, r := range a.seen {
		if r.Largest > largest {
			break
		}
		keepFrom = i + 1
	}
	if keepFrom > len(a.seen)-1 {
		keepFrom = len(a.seen) - 1 // always keep the newest range
	}
	if keepFrom > 0 {
		a.seen = a.seen[keepFrom:]
	}
	if largest > a.largestAckedByPeer {
		a.largestAckedByPeer = largest
	}
}
