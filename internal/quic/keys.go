// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

// Encrypter protects a packet at one (encryption level, key phase).
// It corresponds to the Encrypter capability of spec §1. Real
// implementations wrap a QUIC-derived AEAD (RFC 9001); this core never
// constructs key material itself.
type Encrypter interface {
	// Protect seals payload in place, returning the ciphertext
	// (payload plus authentication tag) and header-protection mask
	// applied to header, keyed by the packet number pnum.
	Protect(header, payload []byte, pnum packetNumber) (ciphertext []byte)
}

// Decrypter removes protection from a packet at one (encryption
// level, key phase), corresponding to the Decrypter capability of
// spec §1.
type Decrypter interface {
	// Unprotect reverses Protect, removing header protection from
	// header in place and opening the AEAD ciphertext in rest. It
	// returns the recovered payload, the reconstructed packet number,
	// and the number of bytes of rest consumed, or n < 0 on
	// authentication failure; the caller is responsible for counting
	// failures toward the integrity limit.
	Unprotect(header, rest []byte, pnumMaxAcked packetNumber) (payload []byte, pnum packetNumber, n int)
	// IntegrityLimit returns the maximum number of authentication
	// failures this AEAD's ciphersuite tolerates before the
	// connection MUST close with QUIC_AEAD_LIMIT_REACHED (RFC 9001
	// Section 6.6).
	IntegrityLimit() int64
}

// keys pairs an Encrypter and Decrypter for one (level, key phase)
// tuple. A zero keys value isSet() == false: no key material has been
// installed for this level yet (spec §3, "Encrypter / Decrypter
// lifetime").
type keys struct {
	hdr Encrypter // header-independent framing; unused directly, kept for symmetry with the teacher's (hdr, pkt) pairing
	pkt interface {
		Encrypter
		Decrypter
	}
}

func (k keys) isSet() bool {
	return k.pkt != nil
}

// failedAuthCounter tracks AEAD authentication failures for one
// (level, key-phase) tuple, enforcing invariant "I3 / AEAD integrity
// limit" (spec §4.4 step 2).
type failedAuthCounter struct {
	count int64
	limit int64
}

// recordFailure increments the failure count and reports whether the
// integrity limit has now been reached.
func (f *failedAuthCounter) recordFailure() (limitReached bool) {
	f.count++
	return f.limit > 0 && f.count >= f.limit
}
