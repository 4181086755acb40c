// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// Config holds the set of options which affect connection behavior.
// A Config is snapshotted at connection construction time and cannot
// be replaced afterwards; no process-wide mutable flag state survives
// into the Conn (spec §9, "Global flags toggling runtime behaviour").
type Config struct {
	// MaxIdleTimeout bounds how long a connection may go without any
	// packet being sent or received before the Idle Network Detector
	// closes it (spec §4.8). Zero means defaultMaxIdleTimeout.
	MaxIdleTimeout time.Duration

	// HandshakeTimeout is the handshake time limit. Zero means
	// defaultHandshakeTimeout. The Conn never arms the Handshake
	// alarm, so this value has no effect on a connection.
	HandshakeTimeout time.Duration

	// MaxAckDelay is the maximum amount of time an ACK may be delayed
	// after an ack-eliciting packet that does not otherwise require an
	// immediate ACK (spec §4.3). Zero means defaultMaxAckDelay.
	MaxAckDelay time.Duration

	// AntiAmplificationFactor bounds how many bytes a server may send
	// to an address-unvalidated path per byte received on that path
	// (spec §4.6, I4). Zero means 3 (k3AFF).
	AntiAmplificationFactor int

	// MaxUndecryptablePackets bounds the Undecryptable Packet Buffer.
	// Zero means defaultMaxUndecryptablePackets.
	MaxUndecryptablePackets int

	// MaxTrackedPackets is a per-space limit on in-flight sent
	// packets. Zero means defaultMaxTrackedPackets. The Sent Packet
	// Manager does not enforce it: the number of tracked packets is
	// unbounded and QUIC_TOO_MANY_OUTSTANDING_SENT_PACKETS is never
	// raised.
	MaxTrackedPackets int

	// AEADIntegrityLimit bounds the number of failed-authentication
	// packets tolerated at one (level, key-phase) before the
	// connection closes with QUIC_AEAD_LIMIT_REACHED. Zero means a
	// per-cipher default applied by the installed Decrypter.
	AEADIntegrityLimit int64

	// --- Closed-set behavioral options (spec §6) ---

	// K5RTO closes the connection after 5 consecutive RTOs/PTOs.
	// K6PTO, K7PTO, K8PTO set alternate thresholds; at most one of
	// K5RTO/K6PTO/K7PTO/K8PTO should be set. Unset means defaultPTOThreshold.
	K5RTO bool
	K6PTO bool
	K7PTO bool
	K8PTO bool

	// K1PTO and K2PTO name a PTO probe count of one or two packets.
	// The PTO path does not consult them: an expired PTO always
	// makes the next datagram carry a PING in each space it covers.
	K1PTO bool
	K2PTO bool

	// KPTOS names skipping one packet number after a PTO (spec §4.1,
	// I1). The Packet Creator does not consult it; packet numbers are
	// never skipped.
	KPTOS bool

	// KTLPR is retained for wire/config compatibility with legacy
	// Google QUIC TLP timers; it has no effect in this IETF-only core
	// (spec §9 Open Questions, "Q-Crypto ... TLP").
	KTLPR bool

	// KMTUH selects a high MTU discovery target on a server.
	KMTUH bool

	// K3AFF and K10AF select an anti-amplification factor of 3 or 10.
	// AntiAmplificationFactor, if non-zero, takes precedence over both.
	K3AFF bool
	K10AF bool

	// The options from KEACK through KSRWP below name behaviours the
	// connection does not implement; nothing reads them.

	// KEACK names periodically eliciting an ACK from the peer even
	// when there is nothing else to send.
	KEACK bool

	// KACKD names ACK decimation; KAKDU names removing the cap on how
	// many packets ACK decimation aggregates before forcing an ACK.
	KACKD  bool
	KAKDU  bool

	// KAFF2 names sending an ACK_FREQUENCY frame as soon as the
	// handshake completes.
	KAFF2 bool

	// KNPCO names disabling pacing offload in the SendAlgorithm
	// capability.
	KNPCO bool

	// KSRWP names a server-side retransmittable-on-wire PING that
	// keeps NAT bindings alive.
	KSRWP bool

	// KCBHD restricts blackhole detection to the client side only.
	KCBHD bool

	// KFIDT causes very small outgoing sends to be ignored for purposes
	// of extending the idle timeout (spec §4.8 idle alarm).
	KFIDT bool

	// legacyVersionEncapsulationHostname records the hostname passed to
	// EnableLegacyVersionEncapsulation. It is never consulted by the
	// send or receive path in this core; see SPEC_FULL.md Open Question
	// decisions.
	legacyVersionEncapsulationHostname string
}

// EnableLegacyVersionEncapsulation records that legacy Version
// Encapsulation should wrap this connection under an older version's
// long header. Unimplemented: see SPEC_FULL.md Open Question decisions.
func (c *Config) EnableLegacyVersionEncapsulation(hostname string) {
	c.legacyVersionEncapsulationHostname = hostname
}

const (
	defaultMaxIdleTimeout          = 30 * time.Second
	defaultHandshakeTimeout        = 10 * time.Second
	defaultMaxAckDelay             = 25 * time.Millisecond
	defaultMinAckDelay             = defaultMaxAckDelay / 2
	defaultAntiAmplificationFactor = 3
	defaultMaxUndecryptablePackets = 32
	defaultMaxTrackedPackets       = 1 << 16
	defaultPTOThreshold            = 5
	defaultPathValidationTimeout   = 3 * time.Second
	alarmGranularity               = time.Millisecond
	kMaxRetryTimes                 = 3
	kMtuDiscoveryAttempts          = 4
	minimumClientInitialDatagramSize = 1200
)

// pathValidationTimeout returns how long a PATH_CHALLENGE may go
// unanswered before the path is abandoned (RFC 9000 Section 8.2.4
// recommends a PTO-derived value; this core uses a fixed conservative
// default since it has no RTT sample yet for a brand new path).
func (c *Config) pathValidationTimeout() time.Duration {
	return defaultPathValidationTimeout
}

func (c *Config) maxIdleTimeout() time.Duration {
	if c == nil || c.MaxIdleTimeout <= 0 {
		return defaultMaxIdleTimeout
	}
	return c.MaxIdleTimeout
}

func (c *Config) handshakeTimeout() time.Duration {
	if c == nil || c.HandshakeTimeout <= 0 {
		return defaultHandshakeTimeout
	}
	return c.HandshakeTimeout
}

func (c *Config) maxAckDelay() time.Duration {
	if c == nil || c.MaxAckDelay <= 0 {
		return defaultMaxAckDelay
	}
	return c.MaxAckDelay
}

func (c *Config) antiAmplificationFactor() int {
	switch {
	case c == nil:
		return defaultAntiAmplificationFactor
	case c.AntiAmplificationFactor != 0:
		return c.AntiAmplificationFactor
	case c.K10AF:
		return 10
	case c.K3AFF:
		return 3
	default:
		return defaultAntiAmplificationFactor
	}
}

func (c *Config) maxUndecryptablePackets() int {
	if c == nil || c.MaxUndecryptablePackets <= 0 {
		return defaultMaxUndecryptablePackets
	}
	return c.MaxUndecryptablePackets
}

func (c *Config) maxTrackedPackets() int {
	if c == nil || c.MaxTrackedPackets <= 0 {
		return defaultMaxTrackedPackets
	}
	return c.MaxTrackedPackets
}

// ptoThreshold returns the number of consecutive PTOs tolerated before
// the connection closes with QUIC_TOO_MANY_RTOS.
func (c *Config) ptoThreshold() int {
	switch {
	case c == nil:
		return defaultPTOThreshold
	case c.K6PTO:
		return 6
	case c.K7PTO:
		return 7
	case c.K8PTO:
		return 8
	case c.K5RTO:
		return 5
	default:
		return defaultPTOThreshold
	}
}

func (c *Config) ptoPacketCount() int {
	if c != nil && c.K1PTO {
		return 1
	}
	return 2
}

func (c *Config) skipOnPTO() bool {
	return c != nil && c.KPTOS
}
