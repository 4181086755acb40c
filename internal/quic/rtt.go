// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// rttStats tracks smoothed round-trip time and variation per RFC 9002
// Section 5, the inputs loss detection and the PTO timer need.
type rttStats struct {
	firstSample bool
	latest      time.Duration
	min         time.Duration
	smoothed    time.Duration
	variation   time.Duration
	maxAckDelay time.Duration
}

const (
	initialRTT            = 333 * time.Millisecond
	granularity           = time.Millisecond
	kGranularityTimerFloor = granularity
)

func (r *rttStats) init(maxAckDelay time.Duration) {
	r.smoothed = initialRTT
	r.latest = initialRTT
	r.maxAckDelay = maxAckDelay
}

// updateRTT records a new RTT sample, following RFC 9002 Section 5.3.
// ackDelay is the peer-reported ack delay as received; neither
// updateRTT nor its caller clamps it to maxAckDelay.
func (r *rttStats) updateRTT(rtt, ackDelay time.Duration) {
	if rtt < 0 {
		return
	}
	r.latest = rtt
	if !r.firstSample {
		r.firstSample = true
		r.min = rtt
		r.smoothed = rtt
		r.variation = rtt / 2
		return
	}
	if r.min == 0 || rtt < r.min {
		r.min = rtt
	}
	adjusted := rtt
	if adjusted-r.min >= ackDelay {
		adjusted -= ackDelay
	}
	r.variation = (3*r.variation + absDuration(r.smoothed-adjusted)) / 4
	r.smoothed = (7*r.smoothed + adjusted) / 8
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// pto returns the probe timeout duration for numPTOs consecutive
// expirations (RFC 9002 Section 6.2.1), with exponential backoff
// applied by the caller via numPTOs.
func (r *rttStats) pto(maxAckDelay time.Duration, numPTOs int) time.Duration {
	timeout := r.smoothed + max64(4*r.variation, granularity) + maxAckDelay
	if timeout < kGranularityTimerFloor {
		timeout = kGranularityTimerFloor
	}
	for i := 0; i < numPTOs; i++ {
		timeout *= 2
	}
	return timeout
}

func max64(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
