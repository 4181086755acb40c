// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// lossState is the Sent Packet Manager (spec §4.2): it assigns packet
// numbers, tracks in-flight packets per space, runs RFC 9002 loss
// detection, and drives the PTO timer. conn_send.go and conn_loss.go
// reach into it as c.loss.
type lossState struct {
	cc   SendAlgorithm
	ld   LossDetection
	rtt  rttStats
	conf *Config

	maxSendSizeV int64

	spaces [numberSpaceCount]lossSpace

	ptoExpired bool
	ptoCount   int

	antiAmplificationUsed   int64
	antiAmplificationLimit  int64 // 0 means unlimited (handshake confirmed or client side)
}

type lossSpace struct {
	nextNum   packetNumber
	sent      *sentPacketList
	lossTimer time.Time
}

func newLossState(conf *Config, maxDatagramSize int64) *lossState {
	l := &lossState{
		cc:           newRenoCC(maxDatagramSize),
		conf:         conf,
		maxSendSizeV: maxDatagramSize,
	}
	l.ld = &defaultLossDetection{owner: l}
	l.rtt.init(conf.maxAckDelay())
	for i := range l.spaces {
		l.spaces[i].sent = newSentPacketList()
		l.spaces[i].nextNum = 0
	}
	return l
}

func (l *lossState) maxSendSize() int { return int(l.maxSendSizeV) }

func (l *lossState) nextNumber(space numberSpace) packetNumber {
	n := l.spaces[space].nextNum
	l.spaces[space].nextNum++
	return n
}

// sendLimit reports whether sending is currently permitted, and if
// not, the next time it might be.
func (l *lossState) sendLimit(now time.Time) (ccLimit, time.Time) {
	if l.antiAmplificationLimit > 0 && l.antiAmplificationUsed >= l.antiAmplificationLimit {
		return ccBlocked, time.Time{}
	}
	if !l.cc.canSend(int(l.maxSendSizeV)) {
		return ccBlocked, time.Time{}
	}
	return ccOK, time.Time{}
}

// packetSent records that sent was just transmitted in space.
func (l *lossState) packetSent(now time.Time, space numberSpace, sent *sentPacket) {
	sent.timeSent = now
	l.spaces[space].sent.add(sent)
	l.cc.onPacketSent(now, space, sent)
	if l.antiAmplificationLimit > 0 {
		l.antiAmplificationUsed += int64(sent.size)
	}
}

// recordReceived credits bytes received from the peer toward lifting
// the anti-amplification limit (spec §4.6, 3x rule).
func (l *lossState) recordReceived(n int) {
	if l.antiAmplificationLimit > 0 {
		l.antiAmplificationLimit += int64(n) * int64(l.conf.antiAmplificationFactor())
	}
}

// armAntiAmplificationLimit switches sendLimit into amplification-
// limited mode. A server must not send more than
// antiAmplificationFactor bytes for every byte it has received from
// an unvalidated client address (RFC 9000 Section 8.1); a client has
// no such restriction.
func (l *lossState) armAntiAmplificationLimit() {
	l.antiAmplificationLimit = 1
}

// liftAntiAmplificationLimit disables amplification limiting once a
// server has validated the client's address: it processed a Handshake
// packet from the client, the handshake completed, or a PATH_RESPONSE
// answered its challenge.
func (l *lossState) liftAntiAmplificationLimit() {
	l.antiAmplificationLimit = 0
}

// handleAckFrame processes an ACK frame received for space, updating
// RTT, congestion control, and loss detection, and returns the
// sentPackets that are now newly acknowledged or newly lost so the
// caller (conn_recv.go) can pass each to handleAckOrLoss.
func (l *lossState) handleAckFrame(now time.Time, space numberSpace, ranges []ackRange, ackDelay time.Duration) (acked, lost []*sentPacket) {
	sp := &l.spaces[space]
	if len(ranges) == 0 {
		return nil, nil
	}
	largest := ranges[len(ranges)-1].Largest
	if p, ok := sp.sent.get(largest); ok {
		l.rtt.updateRTT(now.Sub(p.timeSent), ackDelay)
	}
	for _, r := range ranges {
		for n := r.Smallest; n <= r.Largest; n++ {
			if p, ok := sp.sent.get(n); ok {
				acked = append(acked, p)
				sp.sent.remove(n)
				l.cc.onPacketAcked(now, space, p, l.rtt.latest)
			}
		}
	}
	if len(acked) == 0 {
		return nil, nil
	}
	l.ptoCount = 0

	lostNums, lossTime := l.ld.detectLoss(now, space, largest, l.rtt)
	sp.lossTimer = lossTime
	for _, n := range lostNums {
		if p, ok := sp.sent.get(n); ok {
			lost = append(lost, p)
			sp.sent.remove(n)
			l.cc.onPacketLost(now, space, p)
		}
	}
	return acked, lost
}

// ptoTimer returns the earliest time a PTO should fire across all
// spaces with in-flight data, and whether any such space exists.
func (l *lossState) ptoTimer(now time.Time) (deadline time.Time, ok bool) {
	var earliestSent time.Time
	var anyInFlight bool
	for i := range l.spaces {
		if l.spaces[i].sent.len() == 0 {
			continue
		}
		anyInFlight = true
		for _, num := range l.spaces[i].sent.order {
			p := l.spaces[i].sent.byNum[num]
			if p.inFlight && (earliestSent.IsZero() || p.timeSent.Before(earliestSent)) {
				earliestSent = p.timeSent
			}
		}
	}
	if !anyInFlight {
		return time.Time{}, false
	}
	pto := l.rtt.pto(l.conf.maxAckDelay(), l.ptoCount)
	return earliestSent.Add(pto), true
}

// expirePTO is called by the alarm set when the PTO timer fires. It
// marks ptoExpired so the next call to appendFrames sends a probe,
// and applies RFC 9002 Section 6.2.1's exponential backoff.
func (l *lossState) expirePTO(now time.Time) (exceededThreshold bool) {
	l.ptoExpired = true
	l.ptoCount++
	if l.ptoCount >= l.conf.ptoThreshold() {
		return true
	}
	return false
}

func (l *lossState) clearPTOExpired() {
	l.ptoExpired = false
}

// discardSpace forgets every packet still outstanding in space without
// treating it as either acked or lost: used when a Retry invalidates
// every Initial sent so far (RFC 9000 Section 17.2.5, Section 14.1),
// so the packets' bytes come out of flight without the congestion
// window reacting as if they were acknowledged or dropped in transit.
func (l *lossState) discardSpace(space numberSpace) {
	sp := &l.spaces[space]
	for _, num := range sp.sent.order {
		if p, ok := sp.sent.get(num); ok {
			l.cc.onPacketDiscarded(p)
		}
	}
	sp.sent = newSentPacketList()
	sp.lossTimer = time.Time{}
}

// resetForNewPath starts congestion control and RTT estimation over
// from scratch for a newly observed peer address, as soon as the
// migration is detected and before the path is validated (RFC 9000
// Section 9.4):
// congestion state learned on the old path does not apply to the new
// one.
func (l *lossState) resetForNewPath() {
	l.cc = newRenoCC(l.maxSendSizeV)
	l.rtt.init(l.conf.maxAckDelay())
	l.ptoCount = 0
}

func (l *lossState) bytesInFlight() int64 {
	var n int64
	for i := range l.spaces {
		n += l.spaces[i].sent.bytesInFlight()
	}
	return n
}

// defaultLossDetection implements the LossDetection capability per
// RFC 9002 Section 6: a packet is lost once a packet number
// kPacketThreshold higher has been acknowledged, or once
// kTimeThreshold * max(srtt, latest_rtt) has elapsed since it was
// sent and a higher packet number has been acknowledged. It reaches
// back into the owning lossState for the candidate set of in-flight
// packets, since the LossDetection capability interface only carries
// the policy inputs (largestAcked, rtt), not the packets themselves.
type defaultLossDetection struct {
	owner *lossState
}

const (
	kPacketThreshold        = 3
	kTimeThresholdNumerator = 9
	kTimeThresholdDenom     = 8
)

func (d *defaultLossDetection) detectLoss(now time.Time, space numberSpace, largestAcked packetNumber, rtt rttStats) (lost []packetNumber, lossTime time.Time) {
	sp := &d.owner.spaces[space]
	threshold := rtt.smoothed
	if rtt.latest > threshold {
		threshold = rtt.latest
	}
	threshold = threshold * kTimeThresholdNumerator / kTimeThresholdDenom
	if threshold < granularity {
		threshold = granularity
	}
	for _, num := range append([]packetNumber(nil), sp.sent.order...) {
		p, ok := sp.sent.get(num)
		if !ok || num >= largestAcked {
			continue
		}
		if largestAcked-num >= kPacketThreshold {
			lost = append(lost, num)
			continue
		}
		lossDeadline := p.timeSent.Add(threshold)
		if !now.Before(lossDeadline) {
			lost = append(lost, num)
			continue
		}
		if lossTime.IsZero() || lossDeadline.Before(lossTime) {
			lossTime = lossDeadline
		}
	}
	return lost, lossTime
}
