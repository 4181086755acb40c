// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// This file implements the default Encrypter/Decrypter capability
// (spec §1, "Cryptographic primitives ... behind Encrypter / Decrypter
// capabilities"). The core treats these as pluggable; this
// implementation exists so the package is independently usable and
// testable without wiring in a separate TLS stack for every test.
//
// It follows RFC 9001 Sections 5 (packet protection) and 5.4 (header
// protection) for the AES-128-GCM cipher suite, and RFC 8446 Section
// 7.1's HKDF-Expand-Label construction, both reimplemented directly
// against crypto/hmac and crypto/sha256 because the standard library's
// crypto/tls does not export a key schedule usable outside the TLS
// handshake state machine itself -- the same constraint that led
// golang.org/x/net/internal/quic to carry its own key derivation code
// rather than reuse crypto/tls internals.

// initialSalt is the version 1 Initial salt (RFC 9001 Section 5.2).
var initialSalt = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

func hkdfExtract(salt, ikm []byte) []byte {
	mac := hmac.New(sha256.New, salt)
	mac.Write(ikm)
	return mac.Sum(nil)
}

// hkdfExpandLabel implements TLS 1.3's HKDF-Expand-Label (RFC 8446
// Section 7.1), the construction RFC 9001 uses to derive every QUIC
// packet-protection key from a TLS secret.
func hkdfExpandLabel(secret []byte, label string, length int) []byte {
	var info []byte
	info = binary.BigEndian.AppendUint16(info, uint16(length))
	fullLabel := "tls13 " + label
	info = append(info, byte(len(fullLabel)))
	info = append(info, fullLabel...)
	info = append(info, 0) // empty Context

	out := make([]byte, 0, length)
	var prev []byte
	mac := hmac.New(sha256.New, secret)
	for len(out) < length {
		mac.Reset()
		mac.Write(prev)
		mac.Write(info)
		mac.Write([]byte{byte(len(out)/mac.Size() + 1)})
		prev = mac.Sum(nil)
		out = append(out, prev...)
	}
	return out[:length]
}

// deriveInitialSecrets computes the client and server Initial
// secrets for a given Destination Connection ID (RFC 9001 Section
// 5.2).
func deriveInitialSecrets(dstConnID []byte) (clientSecret, serverSecret []byte) {
	initialSecret := hkdfExtract(initialSalt, dstConnID)
	clientSecret = hkdfExpandLabel(initialSecret, "client in", sha256.Size)
	serverSecret = hkdfExpandLabel(initialSecret, "server in", sha256.Size)
	return clientSecret, serverSecret
}

// aeadKeys is the key material derived from one TLS secret: an
// AES-GCM key and IV for packet protection, and an AES-ECB key for
// header protection (RFC 9001 Sections 5.1 and 5.4).
type aeadKeys struct {
	aead    cipher.AEAD
	iv      []byte
	hpBlock cipher.Block
}

func deriveAEADKeys(secret []byte) (*aeadKeys, error) {
	key := hkdfExpandLabel(secret, "quic key", 16)
	iv := hkdfExpandLabel(secret, "quic iv", 12)
	hp := hkdfExpandLabel(secret, "quic hp", 16)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	hpBlock, err := aes.NewCipher(hp)
	if err != nil {
		return nil, err
	}
	return &aeadKeys{aead: aead, iv: iv, hpBlock: hpBlock}, nil
}

// nonce computes the per-packet AEAD nonce by XORing the IV with the
// packet number (RFC 9001 Section 5.3).
func (k *aeadKeys) nonce(pnum packetNumber) []byte {
	n := make([]byte, len(k.iv))
	copy(n, k.iv)
	for i := 0; i < 8; i++ {
		n[len(n)-1-i] ^= byte(pnum >> (8 * uint(i)))
	}
	return n
}

// headerProtectionMask computes the 5-byte header protection mask
// sampled from the ciphertext (RFC 9001 Section 5.4.2).
func (k *aeadKeys) headerProtectionMask(sample []byte) []byte {
	if len(sample) < aes.BlockSize {
		panic("quic: short header protection sample")
	}
	out := make([]byte, aes.BlockSize)
	k.hpBlock.Encrypt(out, sample[:aes.BlockSize])
	return out[:5]
}

// retryIntegrityKey and retryIntegrityNonce are the fixed version 1
// AEAD key and nonce used for the Retry Integrity Tag (RFC 9001
// Section 5.8); unlike every other QUIC key these are constants baked
// into the wire format itself, not derived per-connection.
var (
	retryIntegrityKey = []byte{
		0xbe, 0x0c, 0x69, 0x0b, 0x9f, 0x66, 0x57, 0x5a,
		0x1d, 0x76, 0x6b, 0x54, 0xe3, 0x68, 0xc8, 0x4e,
	}
	retryIntegrityNonce = []byte{
		0x46, 0x15, 0x99, 0xd3, 0x5d, 0x63, 0x2b, 0xf2,
		0x23, 0x98, 0x25, 0xbb,
	}
)

// verifyRetryIntegrityTag checks the 16-byte tag appended to a Retry
// packet against the pseudo-packet built from odcid and the rest of
// the packet (RFC 9001 Section 5.8). retryPacket is the complete wire
// image of the Retry packet, tag included.
func verifyRetryIntegrityTag(odcid []byte, retryPacket []byte) bool {
	if len(retryPacket) < 16 {
		return false
	}
	block, err := aes.NewCipher(retryIntegrityKey)
	if err != nil {
		return false
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return false
	}
	pseudo := make([]byte, 0, 1+len(odcid)+len(retryPacket)-16)
	pseudo = append(pseudo, byte(len(odcid)))
	pseudo = append(pseudo, odcid...)
	pseudo = append(pseudo, retryPacket[:len(retryPacket)-16]...)
	tag := retryPacket[len(retryPacket)-16:]

	computed := aead.Seal(nil, retryIntegrityNonce, nil, pseudo)
	return subtle.ConstantTimeCompare(computed, tag) == 1
}

// aesGCMAEAD implements Encrypter and Decrypter over a set of
// aeadKeys, tracking its own integrity limit (RFC 9001 Section 6.6;
// AES-128-GCM tolerates 2^52 failures, which we round down to a
// smaller operationally-meaningful default so tests can exercise
// QUIC_AEAD_LIMIT_REACHED without needing billions of packets).
type aesGCMAEAD struct {
	keys           *aeadKeys
	level          EncryptionLevel
	integrityLimit int64
}

const defaultIntegrityLimit = 1 << 20

func newAEAD(secret []byte, level EncryptionLevel) (*aesGCMAEAD, error) {
	keys, err := deriveAEADKeys(secret)
	if err != nil {
		return nil, fmt.Errorf("quic: deriving keys for %v: %w", level, err)
	}
	return &aesGCMAEAD{keys: keys, level: level, integrityLimit: defaultIntegrityLimit}, nil
}

func (a *aesGCMAEAD) IntegrityLimit() int64 { return a.integrityLimit }

// Protect applies header protection to header in place and returns
// the sealed payload (ciphertext plus authentication tag). header
// must already contain the to-be-protected first byte and truncated
// packet number; payload is the plaintext frame bytes.
func (a *aesGCMAEAD) Protect(header, payload []byte, pnum packetNumber) []byte {
	sealed := a.keys.aead.Seal(nil, a.keys.nonce(pnum), payload, header)

	long := isLongHeader(header[0])
	pnLen := pnumLenFromFirstByte(header[0], long)
	pnOffset := len(header) - pnLen
	// The header protection sample is drawn from the ciphertext
	// starting 4 bytes after the start of the (up to 4-byte) packet
	// number field, regardless of the true packet number length (RFC
	// 9001 Section 5.4.2).
	mask := a.keys.headerProtectionMask(firstNBytes(sealed[4-pnLen:], 16))

	if long {
		header[0] ^= mask[0] & 0x0f
	} else {
		header[0] ^= mask[0] & 0x1f
	}
	for i := 0; i < pnLen; i++ {
		header[pnOffset+i] ^= mask[1+i]
	}
	return sealed
}

func firstNBytes(b []byte, n int) []byte {
	if len(b) < n {
		padded := make([]byte, n)
		copy(padded, b)
		return padded
	}
	return b[:n]
}

// pnumLenFromFirstByte extracts the (possibly still protected)
// packet-number-length bits from a header's first byte.
func pnumLenFromFirstByte(b0 byte, long bool) int {
	return int(b0&0x03) + 1
}

// Unprotect reverses Protect: it removes header protection from
// header in place using the sample drawn from rest, then opens the
// AEAD ciphertext. It returns the recovered plaintext payload, the
// full packet number, and the total number of bytes consumed from
// rest (the packet number plus ciphertext and tag), or n < 0 on
// authentication failure.
func (a *aesGCMAEAD) Unprotect(header []byte, rest []byte, pnumMaxAcked packetNumber) (payload []byte, pnum packetNumber, n int) {
	if len(rest) < 4 {
		return nil, 0, -1
	}
	sample := firstNBytes(rest[4:], 16)
	mask := a.keys.headerProtectionMask(sample)

	if isLongHeader(header[0]) {
		header[0] ^= mask[0] & 0x0f
	} else {
		header[0] ^= mask[0] & 0x1f
	}
	pnLen := pnumLenFromFirstByte(header[0], isLongHeader(header[0]))
	if len(rest) < pnLen {
		return nil, 0, -1
	}
	pnBytes := make([]byte, pnLen)
	copy(pnBytes, rest[:pnLen])
	for i := 0; i < pnLen; i++ {
		pnBytes[i] ^= mask[1+i]
	}
	var truncated uint64
	for _, b := range pnBytes {
		truncated = truncated<<8 | uint64(b)
	}
	pnum = decodePacketNumber(truncated, pnLen, pnumMaxAcked)

	fullHeader := append(append([]byte(nil), header...), pnBytes...)
	ciphertext := rest[pnLen:]
	opened, err := a.keys.aead.Open(nil, a.keys.nonce(pnum), ciphertext, fullHeader)
	if err != nil {
		return nil, pnum, -1
	}
	return opened, pnum, pnLen + len(ciphertext)
}
