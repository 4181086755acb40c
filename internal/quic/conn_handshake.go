// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// HandleHandshakeSecret installs a Handshake-level secret delivered by
// the external TLS stack driving this connection's handshake (see
// tls.go: this core never runs the TLS state machine itself). write
// selects whether secret is this endpoint's sending or receiving
// secret (RFC 9001 Section 5.1).
func (c *Conn) HandleHandshakeSecret(write bool, secret []byte) {
	c.runOnLoop(func(now time.Time, c *Conn) {
		if err := c.tlsState.setHandshakeSecret(write, secret); err != nil {
			c.log.warnf("install handshake secret: %v", err)
			return
		}
		if write && c.side == clientSide {
			// A client that can now send Handshake packets has no more
			// use for Initial ones (RFC 9001 Section 4.9.1).
			c.tlsState.discardKeys(initialSpace)
		}
	})
}

// HandleAppDataSecret installs a 1-RTT secret delivered by the
// external TLS stack once the handshake keys are ready (RFC 9001
// Section 5.1).
func (c *Conn) HandleAppDataSecret(write bool, secret []byte) {
	c.runOnLoop(func(now time.Time, c *Conn) {
		if err := c.tlsState.setAppDataSecret(write, secret); err != nil {
			c.log.warnf("install app data secret: %v", err)
			return
		}
	})
}

// HandleHandshakeComplete notifies the core that the external TLS
// stack has finished the handshake (RFC 9001 Section 4.1.1). The
// server responds by sending HANDSHAKE_DONE and confirming the
// handshake for itself immediately, per RFC 9001 Section 4.1.2; the
// client waits for HANDSHAKE_DONE to arrive (see conn_recv.go).
func (c *Conn) HandleHandshakeComplete() {
	c.runOnLoop(func(now time.Time, c *Conn) {
		if c.side == serverSide {
			c.handshakeDoneToSend = true
			c.tlsState.handshakeConfirmed = true
			c.tlsState.discardKeys(handshakeSpace)
			c.loss.liftAntiAmplificationLimit()
			if c.visitor != nil {
				c.visitor.OnHandshakeConfirmed()
			}
		}
	})
}
