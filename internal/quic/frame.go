// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

// Frame type codes, RFC 9000 Section 19, plus the IETF ACK_FREQUENCY
// extension (draft-ietf-quic-ack-frequency). These are plain bytes,
// not a named type, so they can be used directly as map[byte]bool
// keys the way the teacher's conn_test.go ignoreFrames map does.
const (
	frameTypePadding             = 0x00
	frameTypePing                = 0x01
	frameTypeAck                 = 0x02
	frameTypeAckECN              = 0x03
	frameTypeResetStream         = 0x04
	frameTypeStopSending         = 0x05
	frameTypeCrypto              = 0x06
	frameTypeNewToken            = 0x07
	frameTypeStreamBase          = 0x08 // 0x08-0x0f, low 3 bits are OFF/LEN/FIN bits
	frameTypeMaxData             = 0x10
	frameTypeMaxStreamsBidi      = 0x11
	frameTypeMaxStreamsUni       = 0x12
	frameTypeDataBlocked         = 0x14
	frameTypeStreamDataBlocked   = 0x15
	frameTypeStreamsBlockedBidi  = 0x16
	frameTypeStreamsBlockedUni   = 0x17
	frameTypeNewConnectionID     = 0x18
	frameTypeRetireConnectionID  = 0x19
	frameTypePathChallenge       = 0x1a
	frameTypePathResponse        = 0x1b
	frameTypeConnectionCloseTransport   = 0x1c
	frameTypeConnectionCloseApplication = 0x1d
	frameTypeHandshakeDone       = 0x1e
	frameTypeDatagram            = 0x30
	frameTypeDatagramLen         = 0x31
	frameTypeAckFrequency        = 0xaf

	// frameTypeStopWaitingLegacy is the Google QUIC "stop waiting"
	// frame's wire value. It predates IETF QUIC invariants and this
	// IETF-only core never sends or acts on it. Nothing refers to the
	// constant: its value equals frameTypeCrypto, so an incoming byte
	// of this value is parsed as a CRYPTO frame.
	// See SPEC_FULL.md Open Question decisions.
	frameTypeStopWaitingLegacy = 0x06
)

// isAckEliciting reports whether a frame of the given type requires
// the peer to acknowledge the packet containing it (spec GLOSSARY,
// "ACK-eliciting frame": any frame other than ACK, PADDING, and
// CONNECTION_CLOSE).
func isAckEliciting(frameType byte) bool {
	switch frameType {
	case frameTypePadding, frameTypeAck, frameTypeAckECN,
		frameTypeConnectionCloseTransport, frameTypeConnectionCloseApplication:
		return false
	default:
		return true
	}
}

// minRetransmitLevel returns the lowest encryption level at which a
// frame of frameType may be retransmitted if its containing packet is
// lost. This enforces
// invariant I2: no frame retransmittable only at level min is ever
// sent at any level < min.
func minRetransmitLevel(frameType byte) EncryptionLevel {
	if frameType == frameTypeCrypto {
		// CRYPTO frames are level-specific; the caller already knows
		// the level a given CRYPTO frame belongs to and retransmits
		// at that same level. minRetransmitLevel is only meaningful
		// for frames that are valid at multiple levels.
		return initialLevel
	}
	switch frameType {
	case frameTypePadding, frameTypePing, frameTypeAck, frameTypeAckECN,
		frameTypeConnectionCloseTransport:
		return initialLevel
	default:
		// Stream data, flow control, connection-id management, path
		// validation, and HANDSHAKE_DONE are all 1-RTT-only frames.
		return oneRTTLevel
	}
}

// ackRange is a closed interval [Smallest, Largest] of received
// packet numbers reported as acknowledged, matching RFC 9000's ACK
// frame range encoding (recorded here inclusive on both ends to mirror
// the wire format directly).
type ackRange struct {
	Smallest, Largest packetNumber
}
