// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// closeRequest is the message the loop goroutine processes to begin a
// locally initiated close (spec §4.3, "Close Coordinator" operation
// StartClose).
type closeRequest struct {
	code   TransportErrorCode
	app    bool
	reason string
}

// Close starts an immediate, application-initiated close of the
// connection with the no-error transport code (RFC 9000 Section 10.2,
// "immediate close"). The connection enters the closing state and
// sends a CONNECTION_CLOSE; Close only hands the request to the loop
// goroutine and returns without waiting for it to be processed or
// for the peer to acknowledge the close.
func (c *Conn) Close() {
	c.sendMsg(closeRequest{code: errNoError})
}

// CloseWithError starts an immediate close carrying an
// application-defined error code and reason (RFC 9000 Section 10.2).
func (c *Conn) CloseWithError(code uint64, reason string) {
	c.sendMsg(closeRequest{code: TransportErrorCode(code), app: true, reason: reason})
}

// startClosing transitions the connection to the closing state and
// immediately sends a CONNECTION_CLOSE frame, one datagram for every
// space with live write keys (spec §4.3 I7: no further ack-eliciting
// frame is sent once closing begins).
func (c *Conn) startClosing(now time.Time, code TransportErrorCode, app bool, reason string) {
	if c.state == stateClosing || c.state == stateDrained {
		return
	}
	c.state = stateClosing
	c.closeCode = code
	c.closeApp = app
	c.closeReason = reason
	c.closeSrc = closeFromSelf
	c.sendConnectionClose(now)
	c.armClosingAlarm(now)
	if c.visitor != nil {
		c.visitor.OnConnectionClosed(code, reason, closeFromSelf)
	}
}

// enterDraining handles a CONNECTION_CLOSE received from the peer:
// the connection stops sending entirely and waits out a draining
// period before tearing down (RFC 9000 Section 10.2.2).
func (c *Conn) enterDraining(now time.Time, source CloseSource) {
	if c.state == stateDrained {
		return
	}
	wasClosing := c.state == stateClosing
	c.state = stateClosing
	c.closeSrc = source
	if !wasClosing && c.visitor != nil {
		c.visitor.OnConnectionClosed(c.closeCode, c.closeReason, source)
	}
	c.armClosingAlarm(now)
}

// armClosingAlarm schedules the transition out of the closing/draining
// state. Three PTOs is RFC 9000's recommended closing/draining period
// (Section 10.2).
func (c *Conn) armClosingAlarm(now time.Time) {
	pto := c.loss.rtt.pto(c.config.maxAckDelay(), 0)
	c.alarms.closing = now.Add(3 * pto)
}

// sendConnectionClose writes a CONNECTION_CLOSE frame directly,
// bypassing the normal appendFrames data path: once closing begins,
// RFC 9000 Section 10.2.1 forbids sending anything else.
func (c *Conn) sendConnectionClose(now time.Time) {
	for space := initialSpace; space <= appDataSpace; space++ {
		k := c.tlsState.wkeys[space]
		if !k.isSet() {
			continue
		}
		c.w.reset(c.loss.maxSendSize())
		pnumMaxAcked := c.acks[space].largestSeen()
		pnum := c.loss.nextNumber(space)
		if space == appDataSpace {
			dst := c.connIDState.dstConnID()
			c.w.start1RTTPacket(pnum, pnumMaxAcked, dst, c.tlsState.KeyPhase)
			c.w.appendConnectionCloseFrame(c.closeApp, uint64(c.closeCode), 0, c.closeReason)
			if sent := c.w.finish1RTTPacket(pnum, pnumMaxAcked, dst, k); sent != nil {
				c.loss.packetSent(now, space, sent)
			}
		} else {
			p := longPacket{
				ptype:     ptypeForSpace(space),
				version:   quicVersion1,
				num:       pnum,
				dstConnID: c.connIDState.dstConnID(),
				srcConnID: c.connIDState.srcConnID(),
				token:     c.retryToken,
			}
			c.w.startProtectedLongHeaderPacket(pnumMaxAcked, p)
			c.w.appendConnectionCloseFrame(c.closeApp, uint64(c.closeCode), 0, c.closeReason)
			if sent := c.w.finishProtectedLongHeaderPacket(pnumMaxAcked, k, p); sent != nil {
				c.loss.packetSent(now, space, sent)
			}
		}
		if buf := c.w.datagram(); len(buf) > 0 {
			c.listener.sendDatagram(buf, c.peerAddr)
			c.stats.recordSent(len(buf))
		}
	}
}

func ptypeForSpace(space numberSpace) packetType {
	switch space {
	case initialSpace:
		return packetTypeInitial
	case handshakeSpace:
		return packetTypeHandshake
	default:
		return packetTypeInvalid
	}
}
