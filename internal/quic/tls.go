// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "crypto/sha256"

// tlsState holds the per-connection cryptographic material: the
// installed Encrypter/Decrypter pair for each number space, plus the
// 1-RTT key-update bookkeeping of RFC 9001 Section 6.
//
// Deriving Initial secrets is handled directly by this core (see
// crypto.go); Handshake and 1-RTT secrets are expected to arrive from
// an external TLS stack (e.g. crypto/tls's QUICConn, added in Go
// 1.21) via HandleHandshakeSecret/HandleAppDataSecret (see
// conn_handshake.go). This core never runs
// the handshake state machine itself -- spec §1 scopes the TLS
// handshake out, treating it as an external Encrypter/Decrypter
// source the same way golang.org/x/net/internal/quic's tls.go wraps
// tls.QUICConn rather than reimplementing TLS.
type tlsState struct {
	wkeys [numberSpaceCount]keys
	rkeys [numberSpaceCount]keys

	handshakeConfirmed bool

	// KeyPhase is the current 1-RTT key phase used for sending.
	KeyPhase KeyPhase
	// peerPhase is the key phase bit most recently observed on a
	// received 1-RTT packet; a flip from the current value triggers a
	// key update (RFC 9001 Section 6.1).
	peerPhase KeyPhase
	// appReadSecret/appWriteSecret are the raw current-phase 1-RTT
	// secrets, retained alongside the derived AEAD so updateKeys can
	// re-apply HKDF-Expand-Label to the secret, not to the key.
	appReadSecret  []byte
	appWriteSecret []byte
	// authFailures counts AEAD authentication failures per number
	// space, enforcing invariant I3 / the AEAD integrity limit (RFC
	// 9001 Section 6.6). A key update resets the Application Data
	// entry, since the limit applies per set of keys, not per
	// connection.
	authFailures [numberSpaceCount]failedAuthCounter
}

// installInitialKeys derives and installs the version 1 Initial
// read/write keys from dstConnID, the destination connection id of
// the first Initial packet (RFC 9001 Section 5.2). side determines
// which of the two derived secrets is used for reading vs. writing.
func (t *tlsState) installInitialKeys(dstConnID []byte, side connSide) error {
	clientSecret, serverSecret := deriveInitialSecrets(dstConnID)
	clientAEAD, err := newAEAD(clientSecret, initialLevel)
	if err != nil {
		return err
	}
	serverAEAD, err := newAEAD(serverSecret, initialLevel)
	if err != nil {
		return err
	}
	if side == clientSide {
		t.wkeys[initialSpace] = keys{pkt: clientAEAD}
		t.rkeys[initialSpace] = keys{pkt: serverAEAD}
	} else {
		t.wkeys[initialSpace] = keys{pkt: serverAEAD}
		t.rkeys[initialSpace] = keys{pkt: clientAEAD}
	}
	return nil
}

// setHandshakeSecret installs the write or read Handshake secret as
// delivered by the external TLS stack.
func (t *tlsState) setHandshakeSecret(write bool, secret []byte) error {
	aead, err := newAEAD(secret, handshakeLevel)
	if err != nil {
		return err
	}
	if write {
		t.wkeys[handshakeSpace] = keys{pkt: aead}
	} else {
		t.rkeys[handshakeSpace] = keys{pkt: aead}
	}
	return nil
}

// setAppDataSecret installs the write or read 1-RTT secret as
// delivered by the external TLS stack once the handshake completes.
func (t *tlsState) setAppDataSecret(write bool, secret []byte) error {
	aead, err := newAEAD(secret, oneRTTLevel)
	if err != nil {
		return err
	}
	if write {
		t.wkeys[appDataSpace] = keys{pkt: aead}
		t.appWriteSecret = append([]byte(nil), secret...)
	} else {
		t.rkeys[appDataSpace] = keys{pkt: aead}
		t.appReadSecret = append([]byte(nil), secret...)
	}
	return nil
}

// discardKeys drops key material for a number space once it is no
// longer needed (RFC 9001 Section 4.9): Initial keys are discarded
// once a Handshake packet is sent/received, Handshake keys once the
// handshake is confirmed.
func (t *tlsState) discardKeys(space numberSpace) {
	t.wkeys[space] = keys{}
	t.rkeys[space] = keys{}
}

// keyUpdateLabel is the HKDF-Expand-Label used to derive the next
// generation of 1-RTT secrets from the current ones (RFC 9001 Section
// 6.1).
const keyUpdateLabel = "quic ku"

// updateKeySecret derives the next generation of a 1-RTT secret from
// the current one (RFC 9001 Section 6.1).
func updateKeySecret(secret []byte) []byte {
	return hkdfExpandLabel(secret, keyUpdateLabel, sha256.Size)
}

// updateKeys advances both read and write 1-RTT keys to the next key
// phase. Called either because the peer's key phase bit flipped on a
// received packet, or because this endpoint is initiating its own
// update; either way RFC 9001 Section 6.1 requires both directions be
// updated together.
func (t *tlsState) updateKeys() error {
	nextRead := updateKeySecret(t.appReadSecret)
	nextWrite := updateKeySecret(t.appWriteSecret)
	readAEAD, err := newAEAD(nextRead, oneRTTLevel)
	if err != nil {
		return err
	}
	writeAEAD, err := newAEAD(nextWrite, oneRTTLevel)
	if err != nil {
		return err
	}
	t.rkeys[appDataSpace] = keys{pkt: readAEAD}
	t.wkeys[appDataSpace] = keys{pkt: writeAEAD}
	t.appReadSecret = nextRead
	t.appWriteSecret = nextWrite
	t.KeyPhase = t.KeyPhase.next()
	t.authFailures[appDataSpace] = failedAuthCounter{}
	return nil
}
