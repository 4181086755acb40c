// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "fmt"

// transportError is a QUIC transport error code paired with a
// human-readable reason, as sent in a CONNECTION_CLOSE frame
// (spec §7, error taxonomy).
type transportError struct {
	code    TransportErrorCode
	app     bool   // application-level error space (CONNECTION_CLOSE type 0x1d)
	reason  string
	frame   uint64 // frame type that triggered the error, if any
}

func (e *transportError) Error() string {
	if e.reason == "" {
		return fmt.Sprintf("quic: %v", e.code)
	}
	return fmt.Sprintf("quic: %v: %s", e.code, e.reason)
}

// TransportErrorCode is the closed set of wire error codes the core
// itself can raise. Peer-defined application error codes are passed
// through opaquely and are not members of this type.
type TransportErrorCode uint64

const (
	errNoError                  TransportErrorCode = 0x0
	errInternalError            TransportErrorCode = 0x1
	errConnectionRefused        TransportErrorCode = 0x2
	errFlowControlError         TransportErrorCode = 0x3
	errStreamLimitError         TransportErrorCode = 0x4
	errStreamStateError         TransportErrorCode = 0x5
	errFinalSizeError           TransportErrorCode = 0x6
	errFrameEncodingError       TransportErrorCode = 0x7
	errTransportParameterError  TransportErrorCode = 0x8
	errConnectionIDLimitError   TransportErrorCode = 0x9
	errProtocolViolation        TransportErrorCode = 0xa
	errInvalidToken             TransportErrorCode = 0xb
	errApplicationError         TransportErrorCode = 0xc
	errCryptoBufferExceeded     TransportErrorCode = 0xd
	errKeyUpdateError           TransportErrorCode = 0xe
	errAEADLimitReached         TransportErrorCode = 0xf
	errNoViablePath             TransportErrorCode = 0x10
)

// Local/diagnostic error identifiers named in spec §7. These map onto
// the wire TransportErrorCode values above via quicErrorCodeToTransportErrorCode,
// but are distinguished here because several (e.g. QUIC_NETWORK_IDLE_TIMEOUT)
// never appear on the wire at all: they describe why *we* are closing,
// independent of what code is sent.
type quicErrorCode int

const (
	errQUICNoError quicErrorCode = iota
	errQUICInvalidAckData
	errQUICInvalidStopWaitingData
	errQUICInvalidVersion
	errQUICInvalidVersionNegotiationPacket
	errQUICUnencryptedStreamData
	errQUICMaybeCorruptedMemory
	errQUICInvalid0RTTPacketNumberOutOfOrder
	errIETFQUICProtocolViolation
	errQUICTooManyBufferedControlFrames
	errQUICTooManyOutstandingSentPackets
	errQUICTooManyRTOs
	errQUICAEADLimitReached
	errQUICErrorMigratingAddress
	errQUICPeerGoingAway
	errQUICAttemptToSendUnencryptedStreamData
	errQUICHeadersStreamDataDecompressFailure
	errQUICPacketWriteError
	errQUICNetworkIdleTimeout
	errQUICHandshakeTimeout
	errQUICPublicReset
)

var quicErrorCodeNames = [...]string{
	errQUICNoError:                             "QUIC_NO_ERROR",
	errQUICInvalidAckData:                      "QUIC_INVALID_ACK_DATA",
	errQUICInvalidStopWaitingData:               "QUIC_INVALID_STOP_WAITING_DATA",
	errQUICInvalidVersion:                       "QUIC_INVALID_VERSION",
	errQUICInvalidVersionNegotiationPacket:       "QUIC_INVALID_VERSION_NEGOTIATION_PACKET",
	errQUICUnencryptedStreamData:                 "QUIC_UNENCRYPTED_STREAM_DATA",
	errQUICMaybeCorruptedMemory:                  "QUIC_MAYBE_CORRUPTED_MEMORY",
	errQUICInvalid0RTTPacketNumberOutOfOrder:     "QUIC_INVALID_0RTT_PACKET_NUMBER_OUT_OF_ORDER",
	errIETFQUICProtocolViolation:                 "IETF_QUIC_PROTOCOL_VIOLATION",
	errQUICTooManyBufferedControlFrames:          "QUIC_TOO_MANY_BUFFERED_CONTROL_FRAMES",
	errQUICTooManyOutstandingSentPackets:         "QUIC_TOO_MANY_OUTSTANDING_SENT_PACKETS",
	errQUICTooManyRTOs:                           "QUIC_TOO_MANY_RTOS",
	errQUICAEADLimitReached:                      "QUIC_AEAD_LIMIT_REACHED",
	errQUICErrorMigratingAddress:                 "QUIC_ERROR_MIGRATING_ADDRESS",
	errQUICPeerGoingAway:                         "QUIC_PEER_GOING_AWAY",
	errQUICAttemptToSendUnencryptedStreamData:    "QUIC_ATTEMPT_TO_SEND_UNENCRYPTED_STREAM_DATA",
	errQUICHeadersStreamDataDecompressFailure:    "QUIC_HEADERS_STREAM_DATA_DECOMPRESS_FAILURE",
	errQUICPacketWriteError:                      "QUIC_PACKET_WRITE_ERROR",
	errQUICNetworkIdleTimeout:                    "QUIC_NETWORK_IDLE_TIMEOUT",
	errQUICHandshakeTimeout:                      "QUIC_HANDSHAKE_TIMEOUT",
	errQUICPublicReset:                           "QUIC_PUBLIC_RESET",
}

func (e quicErrorCode) String() string {
	if int(e) >= 0 && int(e) < len(quicErrorCodeNames) && quicErrorCodeNames[e] != "" {
		return quicErrorCodeNames[e]
	}
	return fmt.Sprintf("quicErrorCode(%d)", int(e))
}

// quicErrorCodeToTransportErrorCode maps a local error identifier to the
// code placed on the wire in a CONNECTION_CLOSE frame. Errors that are
// purely local reasoning (idle timeout, handshake timeout, AEAD limit,
// too many outstanding packets) still map to a real IETF code so the
// peer receives a meaningful CONNECTION_CLOSE.
func quicErrorCodeToTransportErrorCode(e quicErrorCode) TransportErrorCode {
	switch e {
	case errQUICNoError:
		return errNoError
	case errQUICAEADLimitReached:
		return errAEADLimitReached
	case errQUICTooManyOutstandingSentPackets, errQUICTooManyRTOs:
		return errInternalError
	case errQUICNetworkIdleTimeout, errQUICHandshakeTimeout:
		return errNoError
	case errQUICInvalid0RTTPacketNumberOutOfOrder, errQUICInvalidAckData,
		errQUICInvalidStopWaitingData, errQUICUnencryptedStreamData,
		errIETFQUICProtocolViolation:
		return errProtocolViolation
	case errQUICInvalidVersion, errQUICInvalidVersionNegotiationPacket:
		return errTransportParameterError
	default:
		return errInternalError
	}
}

func newError(e quicErrorCode, reason string) *transportError {
	return &transportError{
		code:   quicErrorCodeToTransportErrorCode(e),
		reason: fmt.Sprintf("%v: %s", e, reason),
	}
}

func newErrorf(e quicErrorCode, format string, args ...any) *transportError {
	return newError(e, fmt.Sprintf(format, args...))
}
