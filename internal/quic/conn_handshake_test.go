// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"net/netip"
	"testing"
	"time"
)

// recordingVisitor wraps nopVisitor, recording the lifecycle callbacks
// tests care about.
type recordingVisitor struct {
	nopVisitor
	handshakeConfirmed bool
	migratedTo         netip.AddrPort
	keyUpdatePhase     KeyPhase
	keyUpdates         int
}

func (r *recordingVisitor) OnHandshakeConfirmed() {
	r.handshakeConfirmed = true
}

func (r *recordingVisitor) OnConnectionMigration(newPeer netip.AddrPort) {
	r.migratedTo = newPeer
}

func (r *recordingVisitor) OnKeyUpdate(phase KeyPhase) {
	r.keyUpdatePhase = phase
	r.keyUpdates++
}

func setTestConnVisitor(tc *testConn, v Visitor) {
	tc.conn.runOnLoop(func(now time.Time, c *Conn) {
		c.visitor = v
	})
	tc.wait()
}

func TestServerHandshakeCompleteSendsHandshakeDone(t *testing.T) {
	tc := newTestConn(t, serverSide)
	rec := &recordingVisitor{}
	setTestConnVisitor(tc, rec)

	// HANDSHAKE_DONE is an Application Data frame; the server needs
	// 1-RTT write keys installed before it can send one.
	tc.conn.HandleAppDataSecret(true, make([]byte, 32))
	tc.conn.HandleAppDataSecret(false, make([]byte, 32))
	tc.wait()
	tc.wkeys[appDataSpace] = tc.conn.tlsState.wkeys[appDataSpace]
	tc.rkeys[appDataSpace] = tc.conn.tlsState.rkeys[appDataSpace]

	tc.conn.HandleHandshakeComplete()
	tc.wait()

	if !rec.handshakeConfirmed {
		t.Error("OnHandshakeConfirmed was not called on the server after HandleHandshakeComplete")
	}
	tc.ignoreFrame(frameTypeAck)
	tc.wantFrame("server sends HANDSHAKE_DONE once the handshake completes",
		packetType1RTT, debugFrameHandshakeDone{})
}

func TestClientHandshakeConfirmedOnHandshakeDoneFrame(t *testing.T) {
	tc := newTestConn(t, clientSide)
	rec := &recordingVisitor{}
	setTestConnVisitor(tc, rec)

	writeSecret := make([]byte, 32)
	readSecret := make([]byte, 32)
	for i := range writeSecret {
		writeSecret[i] = byte(i)
		readSecret[i] = byte(i + 1)
	}
	tc.conn.HandleAppDataSecret(true, writeSecret)
	tc.conn.HandleAppDataSecret(false, readSecret)
	tc.wait()
	tc.wkeys[appDataSpace] = tc.conn.tlsState.wkeys[appDataSpace]
	tc.rkeys[appDataSpace] = tc.conn.tlsState.rkeys[appDataSpace]

	tc.writeFrames(packetType1RTT, debugFrameHandshakeDone{})

	if !rec.handshakeConfirmed {
		t.Error("OnHandshakeConfirmed was not called on the client after receiving HANDSHAKE_DONE")
	}
	if !tc.conn.tlsState.handshakeConfirmed {
		t.Error("tlsState.handshakeConfirmed is still false")
	}
}

func TestConnPingForcesPingFrame(t *testing.T) {
	tc := newTestConn(t, clientSide)

	writeSecret := make([]byte, 32)
	readSecret := make([]byte, 32)
	tc.conn.HandleAppDataSecret(true, writeSecret)
	tc.conn.HandleAppDataSecret(false, readSecret)
	tc.wait()
	tc.wkeys[appDataSpace] = tc.conn.tlsState.wkeys[appDataSpace]
	tc.rkeys[appDataSpace] = tc.conn.tlsState.rkeys[appDataSpace]

	// Drain whatever the handshake bring-up already queued.
	for tc.readDatagram() != nil {
	}

	tc.conn.Ping()
	tc.wait()

	tc.ignoreFrame(frameTypeAck)
	tc.wantFrame("Ping forces a bare PING frame onto the next 1-RTT packet",
		packetType1RTT, debugFramePing{})
}
