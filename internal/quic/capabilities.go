// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"net/netip"
	"time"
)

// connListener is the capability a Conn uses to write datagrams to the
// network. It corresponds to the PacketWriter capability of spec §2.
// The Conn ignores the error sendDatagram returns; there is no
// separate write-blocked signal.
type connListener interface {
	sendDatagram(p []byte, addr netip.AddrPort) error
}

// connTestHooks lets tests observe and drive a Conn's event loop.
// Production connections use the real clock and channel select;
// see conn.go's loop.
type connTestHooks interface {
	nextMessage(msgc chan any, timer time.Time) (now time.Time, m any)
}

// Visitor is the capability the Connection Core calls back into for
// frame delivery and connection lifecycle events (spec §1, §2). The
// stream layer, HTTP/3, and application framing all live behind this
// interface; the core never constructs stream semantics itself.
type Visitor interface {
	// OnStreamFrame delivers a STREAM frame. Returning false is
	// treated as a malformed-frame protocol violation.
	OnStreamFrame(id int64, offset int64, fin bool, data []byte) bool
	// OnCryptoFrame delivers a CRYPTO frame at the given level.
	OnCryptoFrame(level EncryptionLevel, offset int64, data []byte) bool
	// OnResetStreamFrame delivers a RESET_STREAM frame.
	OnResetStreamFrame(id int64, code uint64, finalSize int64) bool
	// OnMaxDataFrame delivers a MAX_DATA frame.
	OnMaxDataFrame(max int64) bool
	// OnHandshakeConfirmed is called when the handshake is confirmed;
	// at the client this is driven by a HANDSHAKE_DONE frame, at the
	// server by the TLS stack's own confirmation signal.
	OnHandshakeConfirmed()
	// OnConnectionMigration is called when a server detects the peer's
	// effective address has changed and begins reverse path validation.
	OnConnectionMigration(newPeer netip.AddrPort)
	// OnRetry is called on a client that has accepted a Retry packet,
	// after the destination connection id and Initial keys have been
	// updated. The core holds no CRYPTO data of its own, so re-sending
	// the Initial handshake bytes is left to the Visitor.
	OnRetry(token []byte)
	// OnKeyUpdate is called after installing new 1-RTT keys following a
	// key update, before the new KeyPhase takes effect for sends.
	OnKeyUpdate(phase KeyPhase)
	// OnConnectionClosed reports the final CONNECTION_CLOSE, whether it
	// originated locally or from the peer (spec §7).
	OnConnectionClosed(code TransportErrorCode, reason string, source CloseSource)
	// OnWriteBlocked completes the capability set; the Conn never
	// calls it, since it ignores errors from sendDatagram.
	OnWriteBlocked()
	// OnCanWrite is called when the core wants the Visitor to add any
	// application data it has ready via the DataProducer capability.
	OnCanWrite()
}

// CloseSource records who originated a CONNECTION_CLOSE.
type CloseSource int8

const (
	closeFromSelf CloseSource = iota
	closeFromPeer
)

func (s CloseSource) String() string {
	if s == closeFromSelf {
		return "FROM_SELF"
	}
	return "FROM_PEER"
}

// DataProducer supplies sendable application data to the Packet
// Creator (spec §1). The core calls this only while filling a packet
// at the Application Data number space.
type DataProducer interface {
	// NextData returns up to maxLen bytes of stream data to send, the
	// stream id it belongs to, its offset, and whether it completes
	// the stream. ok is false if there is nothing to send right now.
	NextData(maxLen int) (id int64, offset int64, data []byte, fin bool, ok bool)
}

// Clock supplies the current time. The Conn does not take a Clock:
// its loop reads time.Now, and tests supply a fake clock via
// connTestHooks.
type Clock interface {
	Now() time.Time
}

// Random supplies cryptographically secure random bytes, used for
// connection ids, PATH_CHALLENGE payloads, and stateless reset tokens.
type Random interface {
	Read(p []byte) (n int, err error)
}

// AlarmFactory creates timers for the alarm set (spec §5). The Conn
// does not take an AlarmFactory: its loop arms one time.Timer off the
// alarm set, and tests drive alarms through the fake clock in
// connTestHooks.
type AlarmFactory interface {
	NewAlarm(fire func(now time.Time)) Alarm
}

// Alarm is a single schedulable, reschedulable, one-shot timer.
type Alarm interface {
	Set(deadline time.Time)
	Stop()
}

// ccLimit reports whether the SendAlgorithm capability currently
// permits sending.
type ccLimit int8

const (
	ccOK ccLimit = iota
	// ccBlocked means no packet, not even an ACK-only one, may be
	// sent right now (e.g. anti-amplification is exhausted).
	ccBlocked
)

// SendAlgorithm is the congestion-control capability (spec §1, out of
// scope for this core beyond the interface). canSend answers whether
// size bytes may be sent right now; onPacketSent/onPacketAcked/
// onPacketLost update internal congestion state; setUnderutilized
// informs the controller that the window was not fully used on the
// last send attempt, matching golang.org/x/net/internal/quic's own
// cc.setUnderutilized call in conn_send.go.
type SendAlgorithm interface {
	canSend(size int) bool
	setUnderutilized(u bool)
	onPacketSent(now time.Time, space numberSpace, sent *sentPacket)
	onPacketAcked(now time.Time, space numberSpace, sent *sentPacket, rtt time.Duration)
	onPacketLost(now time.Time, space numberSpace, sent *sentPacket)
	// onPacketDiscarded accounts for sent leaving flight for a reason
	// other than ack or loss (e.g. a Retry invalidating every Initial
	// sent so far); it must not perturb the congestion window.
	onPacketDiscarded(sent *sentPacket)
	onCongestionEvent(now time.Time)
	congestionWindow() int64
	bytesInFlight() int64
}

// LossDetection is the loss-detection capability (spec §1). The Sent
// Packet Manager asks it, after processing an ACK, which previously
// in-flight packets should now be declared lost.
type LossDetection interface {
	// detectLoss returns the packet numbers of packets in space that
	// should be declared lost given that largestAcked was just
	// acknowledged, and the earliest time at which a not-yet-lost
	// packet should next be reconsidered (the loss timer).
	detectLoss(now time.Time, space numberSpace, largestAcked packetNumber, rtt rttStats) (lost []packetNumber, lossTime time.Time)
}
