// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// connLog is the per-connection structured logger. Every Conn gets
// its own xid-tagged trace id so log lines from concurrent
// connections can be told apart without threading a context.Context
// through the event loop (spec §3, single-goroutine-per-connection
// design).
type connLog struct {
	entry *logrus.Entry
}

var baseLogger = logrus.StandardLogger()

func newConnLog(side connSide) *connLog {
	id := xid.New()
	return &connLog{
		entry: baseLogger.WithFields(logrus.Fields{
			"trace_id": id.String(),
			"side":     side.String(),
		}),
	}
}

func (l *connLog) debugf(format string, args ...any) {
	l.entry.Debugf(format, args...)
}

func (l *connLog) infof(format string, args ...any) {
	l.entry.Infof(format, args...)
}

func (l *connLog) warnf(format string, args ...any) {
	l.entry.Warnf(format, args...)
}

func (l *connLog) traceID() string {
	return l.entry.Data["trace_id"].(string)
}
