// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// renoCC is the default SendAlgorithm capability: NewReno-style
// congestion control per RFC 9002 Section 7. It is deliberately the
// simplest algorithm that satisfies the SendAlgorithm interface;
// callers needing CUBIC or BBR provide their own implementation (spec
// §1, "congestion control... behind the SendAlgorithm capability").
type renoCC struct {
	maxDatagramSize int64
	cwnd            int64
	ssthresh        int64
	bytesInFlightV  int64
	underutilized   bool

	recoveryStartTime time.Time
}

const (
	minimumWindow   = 2
	initialWindowPackets = 10
)

func newRenoCC(maxDatagramSize int64) *renoCC {
	return &renoCC{
		maxDatagramSize: maxDatagramSize,
		cwnd:            initialWindowPackets * maxDatagramSize,
		ssthresh:        1 << 62,
	}
}

func (c *renoCC) canSend(size int) bool {
	return c.bytesInFlightV+int64(size) <= c.cwnd
}

func (c *renoCC) setUnderutilized(u bool) { c.underutilized = u }

func (c *renoCC) onPacketSent(now time.Time, space numberSpace, sent *sentPacket) {
	if sent.inFlight {
		c.bytesInFlightV += int64(sent.size)
	}
}

func (c *renoCC) onPacketAcked(now time.Time, space numberSpace, sent *sentPacket, rtt time.Duration) {
	if !sent.inFlight {
		return
	}
	c.bytesInFlightV -= int64(sent.size)
	if c.bytesInFlightV < 0 {
		c.bytesInFlightV = 0
	}
	if c.underutilized {
		return
	}
	if !c.recoveryStartTime.IsZero() && sent.timeSent.Before(c.recoveryStartTime) {
		return
	}
	if c.cwnd < c.ssthresh {
		c.cwnd += int64(sent.size) // slow start
	} else {
		c.cwnd += c.maxDatagramSize * int64(sent.size) / c.cwnd // congestion avoidance
	}
}

func (c *renoCC) onPacketLost(now time.Time, space numberSpace, sent *sentPacket) {
	if sent.inFlight {
		c.bytesInFlightV -= int64(sent.size)
		if c.bytesInFlightV < 0 {
			c.bytesInFlightV = 0
		}
	}
	c.onCongestionEvent(now)
}

// onPacketDiscarded removes sent from bytesInFlight accounting without
// treating it as acked or lost: the window itself is left untouched,
// since a discarded packet says nothing about whether the path is
// congested.
func (c *renoCC) onPacketDiscarded(sent *sentPacket) {
	if sent.inFlight {
		c.bytesInFlightV -= int64(sent.size)
		if c.bytesInFlightV < 0 {
			c.bytesInFlightV = 0
		}
	}
}

// onCongestionEvent halves the window, not below the minimum window
// (RFC 9002 Section 7.3.2). It does not track a recovery period: it
// only ignores a second event at exactly the same instant as the
// previous one.
func (c *renoCC) onCongestionEvent(now time.Time) {
	if c.recoveryStartTime.Equal(now) {
		return
	}
	c.ssthresh = c.cwnd / 2
	if c.ssthresh < minimumWindow*c.maxDatagramSize {
		c.ssthresh = minimumWindow * c.maxDatagramSize
	}
	c.cwnd = c.ssthresh
	c.recoveryStartTime = now
}

func (c *renoCC) congestionWindow() int64 { return c.cwnd }
func (c *renoCC) bytesInFlight() int64    { return c.bytesInFlightV }
