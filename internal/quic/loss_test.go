// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"testing"
	"time"
)

func TestLossAntiAmplificationBlocksUntilCredited(t *testing.T) {
	l := newLossState(&Config{}, minimumClientInitialDatagramSize)
	l.armAntiAmplificationLimit()

	now := time.Now()
	if limit, _ := l.sendLimit(now); limit != ccOK {
		t.Fatalf("sendLimit before any send = %v, want ccOK", limit)
	}

	l.packetSent(now, initialSpace, &sentPacket{size: 1200, inFlight: true})
	if limit, _ := l.sendLimit(now); limit != ccBlocked {
		t.Fatalf("sendLimit after sending past the limit = %v, want ccBlocked", limit)
	}

	// The peer's reply credits 3 bytes sent for every byte of Initial
	// data it received (RFC 9000 Section 8.1, default factor 3).
	l.recordReceived(1200)
	if limit, _ := l.sendLimit(now); limit != ccOK {
		t.Fatalf("sendLimit after crediting received bytes = %v, want ccOK", limit)
	}
}

func TestLossAntiAmplificationFactorConfigurable(t *testing.T) {
	conf := &Config{AntiAmplificationFactor: 10}
	l := newLossState(conf, minimumClientInitialDatagramSize)
	l.armAntiAmplificationLimit()
	l.recordReceived(100)
	if got, want := l.antiAmplificationLimit, int64(1+100*10); got != want {
		t.Errorf("antiAmplificationLimit after recordReceived = %v, want %v", got, want)
	}
}

func TestLossLiftAntiAmplificationLimit(t *testing.T) {
	l := newLossState(&Config{}, minimumClientInitialDatagramSize)
	l.armAntiAmplificationLimit()
	l.packetSent(time.Now(), initialSpace, &sentPacket{size: 10000, inFlight: true})
	if limit, _ := l.sendLimit(time.Now()); limit != ccBlocked {
		t.Fatalf("sendLimit while limited = %v, want ccBlocked", limit)
	}
	l.liftAntiAmplificationLimit()
	if limit, _ := l.sendLimit(time.Now()); limit != ccOK {
		t.Fatalf("sendLimit after lifting the limit = %v, want ccOK", limit)
	}
	// recordReceived is then a no-op: nothing left to credit toward.
	l.recordReceived(1)
	if l.antiAmplificationLimit != 0 {
		t.Errorf("antiAmplificationLimit after recordReceived post-lift = %v, want 0", l.antiAmplificationLimit)
	}
}

func TestLossExpirePTOBacksOffAndExceedsThreshold(t *testing.T) {
	l := newLossState(&Config{K5RTO: true}, minimumClientInitialDatagramSize)
	now := time.Now()
	for i := 0; i < 4; i++ {
		if exceeded := l.expirePTO(now); exceeded {
			t.Fatalf("expirePTO exceeded threshold early, at ptoCount=%v", l.ptoCount)
		}
	}
	if !l.expirePTO(now) {
		t.Errorf("expirePTO did not report exceeded threshold after 5 consecutive PTOs")
	}
	if l.ptoCount != 5 {
		t.Errorf("ptoCount = %v, want 5", l.ptoCount)
	}
}
