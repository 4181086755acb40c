// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// alarmSet holds the deadlines for every timer the Connection Core
// schedules (spec §5, the alarm set). Each field is the next time its
// alarm should fire, or the zero Time if it is not currently armed.
// A single underlying timer is kept set to the earliest non-zero
// deadline; when it fires, the core re-evaluates every alarm in turn
// (cheap, since there are only nine of them) the way
// golang.org/x/net/internal/quic folds its timers into one
// connTimer rather than scheduling nine separate OS timers.
type alarmSet struct {
	idle            time.Time
	handshake       time.Time
	ack             [numberSpaceCount]time.Time
	pto             time.Time
	keyDiscard      time.Time
	pathValidation  time.Time
	blackhole       time.Time
	mtuProbe        time.Time
	closing         time.Time
}

// next returns the earliest armed deadline across every alarm, or the
// zero Time if none are armed.
func (a *alarmSet) next() time.Time {
	earliest := a.idle
	consider := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	consider(a.handshake)
	for _, t := range a.ack {
		consider(t)
	}
	consider(a.pto)
	consider(a.keyDiscard)
	consider(a.pathValidation)
	consider(a.blackhole)
	consider(a.mtuProbe)
	consider(a.closing)
	return earliest
}

// expired returns every alarm whose deadline is at or before now,
// clearing it so it does not refire until rearmed.
type expiredAlarms struct {
	idle           bool
	handshake      bool
	ack            [numberSpaceCount]bool
	pto            bool
	keyDiscard     bool
	pathValidation bool
	blackhole      bool
	mtuProbe       bool
	closing        bool
}

func (a *alarmSet) expired(now time.Time) (e expiredAlarms) {
	fire := func(t *time.Time) bool {
		if t.IsZero() || now.Before(*t) {
			return false
		}
		*t = time.Time{}
		return true
	}
	e.idle = fire(&a.idle)
	e.handshake = fire(&a.handshake)
	for i := range a.ack {
		e.ack[i] = fire(&a.ack[i])
	}
	e.pto = fire(&a.pto)
	e.keyDiscard = fire(&a.keyDiscard)
	e.pathValidation = fire(&a.pathValidation)
	e.blackhole = fire(&a.blackhole)
	e.mtuProbe = fire(&a.mtuProbe)
	e.closing = fire(&a.closing)
	return e
}
