// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

// mtuDiscoverer implements DPLPMTUD-lite (spec §4.8): it probes with
// progressively larger 1-RTT-only datagrams (padded PING packets) and
// raises the confirmed path MTU when a probe is acknowledged, backing
// off to the last confirmed size when a probe is lost.
type mtuDiscoverer struct {
	base      int
	target    int
	confirmed int

	probing      bool
	probeSize    int
	probeNum     packetNumber
	attemptsLeft int
}

const (
	mtuBaseSize   = 1200
	mtuHighTarget = 1452
	mtuLowTarget  = 1350
)

func newMTUDiscoverer(high bool) *mtuDiscoverer {
	target := mtuLowTarget
	if high {
		target = mtuHighTarget
	}
	return &mtuDiscoverer{base: mtuBaseSize, target: target, confirmed: mtuBaseSize, attemptsLeft: kMtuDiscoveryAttempts}
}

// current returns the datagram size this endpoint may safely send on
// the path, absent an in-flight probe of a larger size.
func (m *mtuDiscoverer) current() int {
	return m.confirmed
}

// shouldProbe reports whether a new probe should be started, and if
// so, the size to probe at.
func (m *mtuDiscoverer) shouldProbe() (size int, ok bool) {
	if m.probing || m.confirmed >= m.target || m.attemptsLeft <= 0 {
		return 0, false
	}
	mid := (m.confirmed + m.target + 1) / 2
	return mid, true
}

func (m *mtuDiscoverer) startProbe(size int, num packetNumber) {
	m.probing = true
	m.probeSize = size
	m.probeNum = num
}

// onProbeAcked raises the confirmed MTU to the size that was just
// validated.
func (m *mtuDiscoverer) onProbeAcked(num packetNumber) {
	if !m.probing || num != m.probeNum {
		return
	}
	m.confirmed = m.probeSize
	m.probing = false
	m.attemptsLeft = kMtuDiscoveryAttempts
}

// onProbeLost abandons the probe without raising confirmed, and
// spends one of the limited discovery attempts.
func (m *mtuDiscoverer) onProbeLost(num packetNumber) {
	if !m.probing || num != m.probeNum {
		return
	}
	m.probing = false
	m.attemptsLeft--
}
