// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"net/netip"
	"time"
)

// pathState tracks anti-amplification and validation status for one
// network path (spec §4.6). Only a server creates one, for a new peer
// address, and it starts unvalidated; a client tracks no pathState.
type pathState struct {
	addr      netip.AddrPort
	validated bool

	bytesSent     int64
	bytesReceived int64

	challenge        [8]byte
	challengeSent    bool
	challengeSentAt  time.Time
	challengeTimeout time.Duration
}

// antiAmplificationOK reports whether size more bytes may be sent to
// this path without exceeding the factor-to-1 limit against bytes
// actually received from it (spec I4).
func (p *pathState) antiAmplificationOK(size int, factor int) bool {
	if p.validated {
		return true
	}
	return p.bytesSent+int64(size) <= p.bytesReceived*int64(factor)
}

// pathValidator drives PATH_CHALLENGE/PATH_RESPONSE exchanges for
// connection migration and proactive path validation (spec §4.7).
type pathValidator struct {
	active map[netip.AddrPort]*pathState
	rand   Random
}

func newPathValidator(rand Random) *pathValidator {
	return &pathValidator{active: make(map[netip.AddrPort]*pathState), rand: rand}
}

// beginValidation starts validating addr, generating a fresh
// PATH_CHALLENGE payload. It is a no-op if a validation for this
// address is already in flight.
func (v *pathValidator) beginValidation(now time.Time, addr netip.AddrPort, timeout time.Duration) *pathState {
	if p, ok := v.active[addr]; ok && p.challengeSent {
		return p
	}
	p := &pathState{addr: addr, challengeTimeout: timeout}
	v.rand.Read(p.challenge[:])
	v.active[addr] = p
	return p
}

// markChallengeSent records that the PATH_CHALLENGE for addr's path
// was just transmitted, so its timeout can be tracked.
func (v *pathValidator) markChallengeSent(now time.Time, addr netip.AddrPort) {
	if p, ok := v.active[addr]; ok {
		p.challengeSent = true
		p.challengeSentAt = now
	}
}

// handleResponse processes a PATH_RESPONSE frame, marking the
// matching path validated if the payload matches the outstanding
// challenge (RFC 9000 Section 8.2.2).
func (v *pathValidator) handleResponse(payload [8]byte) (addr netip.AddrPort, ok bool) {
	for a, p := range v.active {
		if p.challenge == payload {
			p.validated = true
			delete(v.active, a)
			return a, true
		}
	}
	return netip.AddrPort{}, false
}

// expired reports whether the in-flight challenge for addr has gone
// unanswered for the timeout passed to beginValidation (a fixed
// value, see Config.pathValidationTimeout).
func (v *pathValidator) expired(now time.Time, addr netip.AddrPort) bool {
	p, ok := v.active[addr]
	if !ok || !p.challengeSent {
		return false
	}
	return now.Sub(p.challengeSentAt) >= p.challengeTimeout
}

func (v *pathValidator) abandon(addr netip.AddrPort) {
	delete(v.active, addr)
}
