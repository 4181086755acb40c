// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "fmt"

// connSide identifies which endpoint of a connection we are.
type connSide int8

const (
	clientSide connSide = iota
	serverSide
)

func (s connSide) String() string {
	if s == clientSide {
		return "client"
	}
	return "server"
}

// packetNumber is a packet number within a single numberSpace.
// Packet numbers are 62-bit integers that never wrap.
type packetNumber int64

// maxPacketNumber is larger than any valid packet number.
const maxPacketNumber = packetNumber(1<<62 - 1)

// numberSpace identifies one of the three independent packet-number
// spaces a connection maintains: Initial, Handshake, and Application Data.
// 0-RTT and 1-RTT packets both belong to the Application Data space;
// they differ only in EncryptionLevel.
type numberSpace int8

const (
	initialSpace numberSpace = iota
	handshakeSpace
	appDataSpace
	numberSpaceCount
)

func (s numberSpace) String() string {
	switch s {
	case initialSpace:
		return "Initial"
	case handshakeSpace:
		return "Handshake"
	case appDataSpace:
		return "Application"
	default:
		return fmt.Sprintf("numberSpace(%d)", int8(s))
	}
}

// EncryptionLevel identifies a cryptographic epoch.
// Initial, Handshake, and 1-RTT each have their own keys;
// 0-RTT shares the Application Data number space with 1-RTT
// but uses distinct keys.
type EncryptionLevel int8

const (
	initialLevel EncryptionLevel = iota
	zeroRTTLevel
	handshakeLevel
	oneRTTLevel
)

func (l EncryptionLevel) String() string {
	switch l {
	case initialLevel:
		return "Initial"
	case zeroRTTLevel:
		return "0-RTT"
	case handshakeLevel:
		return "Handshake"
	case oneRTTLevel:
		return "1-RTT"
	default:
		return fmt.Sprintf("EncryptionLevel(%d)", int8(l))
	}
}

// numberSpaceForLevel returns the packet-number space an encryption
// level's packets are numbered in.
func numberSpaceForLevel(level EncryptionLevel) numberSpace {
	switch level {
	case initialLevel:
		return initialSpace
	case handshakeLevel:
		return handshakeSpace
	default:
		return appDataSpace
	}
}

// packetType identifies the wire representation of a packet.
type packetType int8

const (
	packetTypeInvalid packetType = iota
	packetTypeInitial
	packetType0RTT
	packetTypeHandshake
	packetTypeRetry
	packetType1RTT
)

func (t packetType) String() string {
	switch t {
	case packetTypeInitial:
		return "Initial"
	case packetType0RTT:
		return "0-RTT"
	case packetTypeHandshake:
		return "Handshake"
	case packetTypeRetry:
		return "Retry"
	case packetType1RTT:
		return "1-RTT"
	default:
		return "invalid"
	}
}

// spaceForPacketType maps a packet type to its packet-number space.
// Retry and Version Negotiation packets carry no packet number and
// have no associated space.
func spaceForPacketType(ptype packetType) numberSpace {
	switch ptype {
	case packetTypeInitial:
		return initialSpace
	case packetType0RTT:
		return appDataSpace
	case packetTypeHandshake:
		return handshakeSpace
	case packetType1RTT:
		return appDataSpace
	}
	panic("quic: spaceForPacketType of packet type with no number space")
}

// KeyPhase is the single-bit 1-RTT key phase indicator (RFC 9001, Section 6).
type KeyPhase int8

const (
	keyPhaseZero KeyPhase = iota
	keyPhaseOne
)

func (p KeyPhase) next() KeyPhase {
	if p == keyPhaseZero {
		return keyPhaseOne
	}
	return keyPhaseZero
}

// connID is an opaque QUIC connection identifier, 0-20 bytes.
type connID []byte

func (c connID) String() string {
	return fmt.Sprintf("%x", []byte(c))
}

// statelessResetToken is the 16-byte secret used to recognize stateless
// resets sent by a peer that has lost connection state.
type statelessResetToken [16]byte

// connState is the lifecycle state of a Connection Core (spec §3).
type connState int8

const (
	stateHandshaking connState = iota
	stateConnected
	stateClosing
	stateDrained
)

func (s connState) String() string {
	switch s {
	case stateHandshaking:
		return "handshaking"
	case stateConnected:
		return "connected"
	case stateClosing:
		return "closing"
	case stateDrained:
		return "drained"
	default:
		return fmt.Sprintf("connState(%d)", int8(s))
	}
}
