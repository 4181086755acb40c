// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "fmt"

// handleAckOrLoss deals with the final fate of a packet we sent:
// Either the peer acknowledges it, or we declare it lost.
//
// In order to handle packet loss, we must retain any information sent to the peer
// until the peer has acknowledged it.
//
// When information is acknowledged, we can discard it.
//
// When information is lost, we mark it for retransmission.
// See RFC 9000, Section 13.3 for a complete list of information which is retransmitted on loss.
// https://www.rfc-editor.org/rfc/rfc9000#section-13.3
func (c *Conn) handleAckOrLoss(space numberSpace, sent *sentPacket, fate packetFate) {
	// The list of frames in a sent packet is marshaled into a buffer in the sentPacket
	// by the packetWriter. Unmarshal that buffer here. This code must be kept in sync with
	// packetWriter.append*.
	//
	// A sent packet meets its fate (acked or lost) only once, so it's okay to consume
	// the sentPacket's buffer here.
	for !sent.done() {
		switch f := sent.next(); f {
		default:
			panic(fmt.Sprintf("BUG: unhandled lost frame type %x", f))
		case frameTypeAck:
			// Unlike most information, loss of an ACK frame does not trigger
			// retransmission. ACKs are sent in response to ack-eliciting packets,
			// and always contain the latest information available.
			//
			// Acknowledgement of an ACK frame may allow us to discard information
			// about older packets.
			largest := packetNumber(sent.nextInt())
			if fate == packetAcked {
				c.acks[space].handleAck(largest)
			}

		case frameTypePing:
			// PING carries no state of its own; its only purpose was to make
			// the packet ack-eliciting, which it already did at send time.

		case frameTypeCrypto:
			_ = sent.nextInt() // level
			_ = sent.nextInt() // offset
			_ = sent.nextBytes()
			// TODO: retransmit lost CRYPTO ranges once a crypto stream buffer
			// tracking outstanding handshake data is wired in.

		case byte(frameTypeStreamBase):
			_ = sent.nextInt() // stream id
			_ = sent.nextInt() // offset
			_ = sent.nextBytes()
			_ = sent.nextInt() // fin
			// TODO: retransmit lost STREAM data once the stream layer is wired in.

		case frameTypeResetStream:
			_ = sent.nextInt() // id
			_ = sent.nextInt() // code
			_ = sent.nextInt() // final size

		case frameTypeMaxData:
			_ = sent.nextInt()

		case frameTypeDataBlocked:
			_ = sent.nextInt()

		case frameTypeStreamsBlockedBidi, frameTypeStreamsBlockedUni:
			_ = sent.nextInt()

		case frameTypeNewConnectionID:
			_ = sent.nextInt() // seq
			_ = sent.nextInt() // retire prior to
			_ = sent.nextBytes()
			// Reissuing a dropped NEW_CONNECTION_ID is not required by
			// RFC 9000: the peer can still use the ids it already has.

		case frameTypeRetireConnectionID:
			_ = sent.nextInt() // seq

		case frameTypePathChallenge, frameTypePathResponse:
			// Payload isn't logged: path validation re-probes with a fresh
			// challenge rather than retransmitting a stale one.

		case frameTypeHandshakeDone:
			// If lost, HANDSHAKE_DONE must eventually be retransmitted: the
			// client cannot confirm the handshake without it.
			if fate == packetLost {
				c.handshakeDoneToSend = true
			}

		case frameTypeNewToken:
			// Token isn't logged: losing it just means the peer won't get
			// a token for a future connection attempt.

		case frameTypeAckFrequency:
			// No fields logged beyond the type tag.
		}
	}
}
