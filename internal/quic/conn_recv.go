// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"net/netip"
	"time"
)

// connIDLen is the length of every connection id this endpoint
// generates, needed to parse a 1-RTT packet's otherwise
// self-describing-length destination connection id.
const connIDLen = 8

// handleDatagram processes every coalesced packet in one received
// UDP datagram (RFC 9000 Section 12.2). Processing stops at the first
// packet this connection cannot parse, decrypt or authenticate: that
// packet and every packet after it in the same datagram are dropped.
func (c *Conn) handleDatagram(now time.Time, d *datagram) {
	if c.state == stateClosing {
		// Draining: RFC 9000 Section 10.2.2 permits discarding
		// everything except enough to notice another CONNECTION_CLOSE.
		return
	}
	c.loss.recordReceived(len(d.b))
	c.stats.recordReceived(len(d.b))
	c.idle.onPacketReceived(now)

	buf := d.b
	for len(buf) > 0 {
		n := c.handlePacket(now, buf, d.addr)
		if n <= 0 {
			break
		}
		buf = buf[n:]
	}
	if c.pendingPath != nil && c.pendingPath.addr == d.addr {
		// Bytes received on an unvalidated path raise its
		// anti-amplification allowance (see pathState).
		c.pendingPath.bytesReceived += int64(len(d.b))
	}
}

// handlePacket decrypts and processes a single packet at the start of
// buf, returning the number of bytes it consumed or -1 if the packet
// could not be parsed (spec §4.4, steps 1-4).
func (c *Conn) handlePacket(now time.Time, buf []byte, addr netip.AddrPort) int {
	if len(buf) == 0 {
		return -1
	}
	if isLongHeader(buf[0]) {
		return c.handleLongHeaderPacket(now, buf)
	}
	return c.handle1RTTPacket(now, buf, addr)
}

func (c *Conn) handleLongHeaderPacket(now time.Time, buf []byte) int {
	ptype := getPacketType(buf)
	if ptype == packetTypeInvalid || ptype == packetType0RTT {
		// 0-RTT handling is out of scope for this core; a peer that
		// sends one is simply ignored for that packet.
		return -1
	}
	if ptype == packetTypeRetry {
		return c.handleRetryPacket(now, buf)
	}
	space := spaceForPacketType(ptype)
	k := c.tlsState.rkeys[space]
	if !k.isSet() {
		c.undecryptable.add(append([]byte(nil), buf...), levelForSpace(space))
		return -1
	}
	p, n := parseLongHeaderPacket(buf, k, c.acks[space].largestSeen())
	if n == parseAuthFailed {
		c.recordAuthFailure(now, space)
		return -1
	}
	if n < 0 {
		return -1
	}
	if len(c.connIDState.remote) == 0 && len(p.srcConnID) > 0 {
		c.connIDState.setInitialRemote(connID(p.srcConnID))
	}
	if space == handshakeSpace && c.side == serverSide {
		// Successfully processing a Handshake packet from the client
		// proves it owns the address it claims (RFC 9000 Section 8.1).
		c.loss.liftAntiAmplificationLimit()
	}
	c.processDecryptedPayload(now, space, p.num, p.payload)
	return n
}

// handleRetryPacket processes a Retry packet (RFC 9000 Section 8.1.2,
// RFC 9001 Section 5.8). Only a client that has not yet accepted a
// Initial response may act on one; everything else (a server
// receiving a Retry, or a second Retry after the first) is ignored as
// required by Section 17.2.5.1.
func (c *Conn) handleRetryPacket(now time.Time, buf []byte) int {
	if c.side != clientSide || c.receivedRetry || c.acks[initialSpace].largestSeen() >= 0 {
		return -1
	}
	p, n := parseLongHeaderPacket(buf, keys{}, -1)
	if n < 0 {
		return -1
	}
	if !verifyRetryIntegrityTag(c.odcid, buf[:n]) {
		return -1
	}
	c.receivedRetry = true
	c.retryToken = append([]byte(nil), p.token...)

	// The Initial packets already sent used the old, server-chosen
	// destination connection id; none of them will ever be
	// acknowledged, so their bytes come out of flight without being
	// treated as lost (spec Scenario S3).
	c.loss.discardSpace(initialSpace)
	c.connIDState.setInitialRemote(connID(p.srcConnID))
	if err := c.tlsState.installInitialKeys(p.srcConnID, clientSide); err != nil {
		c.startClosing(now, errInternalError, false, err.Error())
		return n
	}
	c.tlsState.authFailures[initialSpace] = failedAuthCounter{}

	if c.visitor != nil {
		c.visitor.OnRetry(c.retryToken)
	}
	// The core holds no outgoing CRYPTO buffer of its own (see
	// conn_loss.go's frameTypeCrypto TODO); OnRetry is the Visitor's
	// signal to requeue the handshake bytes it already owns so they go
	// out, re-encrypted under the new Initial keys, on the next
	// maybeSend in this same tick.
	return n
}

func (c *Conn) handle1RTTPacket(now time.Time, buf []byte, addr netip.AddrPort) int {
	k := c.tlsState.rkeys[appDataSpace]
	if !k.isSet() {
		c.undecryptable.add(append([]byte(nil), buf...), oneRTTLevel)
		return -1
	}
	p, n := parse1RTTPacket(buf, k, connIDLen, c.acks[appDataSpace].largestSeen())
	if n == parseAuthFailed {
		c.recordAuthFailure(now, appDataSpace)
		return -1
	}
	if n < 0 {
		return -1
	}
	if p.phase != c.tlsState.peerPhase {
		c.tlsState.peerPhase = p.phase
		if c.tlsState.handshakeConfirmed {
			if err := c.tlsState.updateKeys(); err != nil {
				c.startClosing(now, errKeyUpdateError, false, err.Error())
				return n
			}
			c.stats.KeyUpdates.Add(1)
			if c.visitor != nil {
				c.visitor.OnKeyUpdate(c.tlsState.KeyPhase)
			}
		}
	}
	if addr.IsValid() && addr != c.peerAddr {
		if c.side == serverSide {
			c.handleMigration(now, addr)
		} else {
			// A client never runs the migration state machine: it
			// only switches its sends to the server's new address.
			c.peerAddr = addr
		}
	}
	c.processDecryptedPayload(now, appDataSpace, p.num, p.payload)
	return n
}

// handleMigration reacts to a server observing a successfully
// decrypted 1-RTT packet from a new effective address (RFC 9000
// Sections 8.2, 9.3, 9.4). Decryption under the existing 1-RTT keys
// already authenticates the datagram as coming from the real peer, so
// the send path is switched immediately; the new path is then
// amplification-limited and reverse-validated with a PATH_CHALLENGE
// before it is trusted for an unbounded amount of traffic.
func (c *Conn) handleMigration(now time.Time, addr netip.AddrPort) {
	c.peerAddr = addr
	c.loss.resetForNewPath()
	c.stats.PathMigrations.Add(1)
	if c.visitor != nil {
		c.visitor.OnConnectionMigration(addr)
	}
	if seq, ok := c.connIDState.nextUnusedRemote(); ok {
		c.connIDState.migrateTo(seq)
	}
	c.pendingPath = c.pathVal.beginValidation(now, addr, c.config.pathValidationTimeout())
}

// recordAuthFailure counts an AEAD authentication failure toward the
// integrity limit of the keys installed for space, closing the
// connection with QUIC_AEAD_LIMIT_REACHED once it is reached (RFC
// 9001 Section 6.6, invariant I3).
func (c *Conn) recordAuthFailure(now time.Time, space numberSpace) {
	fc := &c.tlsState.authFailures[space]
	if fc.limit == 0 {
		fc.limit = c.tlsState.rkeys[space].pkt.IntegrityLimit()
		if c.config.AEADIntegrityLimit > 0 && c.config.AEADIntegrityLimit < fc.limit {
			fc.limit = c.config.AEADIntegrityLimit
		}
	}
	if fc.recordFailure() {
		c.startClosing(now, errAEADLimitReached, false, "AEAD integrity limit reached")
	}
}

func levelForSpace(space numberSpace) EncryptionLevel {
	switch space {
	case initialSpace:
		return initialLevel
	case handshakeSpace:
		return handshakeLevel
	default:
		return oneRTTLevel
	}
}

// processDecryptedPayload walks the frames of a successfully
// decrypted packet, applying each one's effect to connection state
// and recording the packet as seen for acknowledgment purposes (spec
// §4.4 step 5, §4.1 "Received Packet Manager").
func (c *Conn) processDecryptedPayload(now time.Time, space numberSpace, pnum packetNumber, payload []byte) {
	if c.acks[space].contains(pnum) {
		// A duplicate of a packet number already seen: its frames were
		// already applied once and must not be applied again (RFC 9000
		// Sections 12.3, 13.2).
		return
	}
	ackEliciting := false
	for len(payload) > 0 {
		f, n := parseDebugFrame(payload)
		if n < 0 {
			break
		}
		payload = payload[n:]
		switch f.(type) {
		case debugFramePadding, debugFrameAck, debugFrameConnectionClose:
		default:
			ackEliciting = true
		}
		c.handleFrame(now, space, f)
	}
	c.acks[space].receive(now, pnum, ackEliciting)
}

// handleFrame applies the effect of a single received frame.
func (c *Conn) handleFrame(now time.Time, space numberSpace, f debugFrame) {
	switch v := f.(type) {
	case debugFrameAck:
		delay := durationFromUnscaledAckDelay(v.delay, ackDelayExponent)
		acked, lost := c.loss.handleAckFrame(now, space, v.ranges, delay)
		for _, p := range acked {
			c.handleAckOrLoss(space, p, packetAcked)
		}
		for _, p := range lost {
			c.handleAckOrLoss(space, p, packetLost)
		}
		if len(lost) > 0 {
			c.stats.recordLost(len(lost))
		}
		if len(acked) > 0 || len(lost) > 0 {
			c.blackhole.onAck() // any forward progress resets blackhole tracking
		}

	case debugFrameNewConnectionID:
		toRetire := c.connIDState.handleNewConnectionID(int64(v.seq), int64(v.retirePriorTo), connID(v.id), v.token)
		c.pendingRetire = append(c.pendingRetire, toRetire...)

	case debugFrameRetireConnectionID:
		c.connIDState.retireLocal(int64(v.seq))

	case debugFramePathChallenge:
		payload := v.payload
		c.pendingPathResponse = &payload

	case debugFramePathResponse:
		if addr, ok := c.pathVal.handleResponse(v.payload); ok {
			if c.pendingPath != nil && c.pendingPath.addr == addr {
				c.pendingPath = nil
				c.loss.liftAntiAmplificationLimit()
			}
		}

	case debugFrameHandshakeDone:
		// RFC 9000 Section 19.20: a server MUST treat receipt of
		// HANDSHAKE_DONE as a connection error, since only a server
		// ever sends one.
		if c.side == serverSide {
			c.startClosing(now, errProtocolViolation, false, "server received HANDSHAKE_DONE")
			return
		}
		c.tlsState.handshakeConfirmed = true
		c.tlsState.discardKeys(handshakeSpace)
		if c.visitor != nil {
			c.visitor.OnHandshakeConfirmed()
		}

	case debugFrameConnectionClose:
		if c.state != stateClosing && c.state != stateDrained {
			c.closeCode = TransportErrorCode(v.code)
			c.closeApp = v.app
			c.closeReason = v.reason
		}
		c.enterDraining(now, closeFromPeer)

	case debugFrameCrypto:
		if c.visitor != nil && !c.visitor.OnCryptoFrame(levelForSpace(space), v.offset, v.data) {
			c.startClosing(now, errFrameEncodingError, false, "malformed CRYPTO frame")
		}

	case debugFrameStream:
		if c.visitor != nil && !c.visitor.OnStreamFrame(v.id, v.offset, v.fin, v.data) {
			c.startClosing(now, errFrameEncodingError, false, "malformed STREAM frame")
		}

	case debugFrameResetStream:
		if c.visitor != nil && !c.visitor.OnResetStreamFrame(int64(v.id), v.code, int64(v.finalSize)) {
			c.startClosing(now, errFrameEncodingError, false, "malformed RESET_STREAM frame")
		}

	case debugFrameMaxData:
		if c.visitor != nil && !c.visitor.OnMaxDataFrame(int64(v.max)) {
			c.startClosing(now, errFrameEncodingError, false, "malformed MAX_DATA frame")
		}

	case debugFrameNewToken:
		// RFC 9000 Section 19.7: a server MUST treat receipt of
		// NEW_TOKEN as a connection error, since only a server ever
		// issues one.
		if c.side == serverSide {
			c.startClosing(now, errProtocolViolation, false, "server received NEW_TOKEN")
			return
		}

	case debugFrameDataBlocked, debugFrameStreamsBlocked, debugFrameAckFrequency:
		// These carry no connection-core state of their own; the
		// stream/flow-control layer behind Visitor decides whether to
		// raise its own send limits in response. Accepted here only so
		// the packet still counts toward ack-eliciting bookkeeping.

	case debugFramePadding, debugFramePing:
		// No state to update.
	}
}
