// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

// QUIC variable-length integer encoding, RFC 9000 Section 16.
// The two most significant bits of the first byte encode the length
// (1, 2, 4, or 8 bytes); the remaining bits, plus any additional
// bytes, hold the value in network byte order.

const (
	maxVarint1 = 1<<6 - 1
	maxVarint2 = 1<<14 - 1
	maxVarint4 = 1<<30 - 1
	maxVarint8 = 1<<62 - 1
)

// sizeVarint returns the number of bytes appendVarint will write for v.
func sizeVarint(v uint64) int {
	switch {
	case v <= maxVarint1:
		return 1
	case v <= maxVarint2:
		return 2
	case v <= maxVarint4:
		return 4
	case v <= maxVarint8:
		return 8
	default:
		panic("quic: varint value out of range")
	}
}

// appendVarint appends v to b in QUIC varint form.
func appendVarint(b []byte, v uint64) []byte {
	switch {
	case v <= maxVarint1:
		return append(b, byte(v))
	case v <= maxVarint2:
		return append(b, byte(v>>8)|0x40, byte(v))
	case v <= maxVarint4:
		return append(b,
			byte(v>>24)|0x80, byte(v>>16), byte(v>>8), byte(v))
	case v <= maxVarint8:
		return append(b,
			byte(v>>56)|0xc0, byte(v>>48), byte(v>>40), byte(v>>32),
			byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	default:
		panic("quic: varint value out of range")
	}
}

// consumeVarint parses a varint from the start of b, returning the
// value and the number of bytes consumed, or (0, -1) on error.
func consumeVarint(b []byte) (v uint64, n int) {
	if len(b) == 0 {
		return 0, -1
	}
	n = 1 << (b[0] >> 6)
	if len(b) < n {
		return 0, -1
	}
	v = uint64(b[0] & 0x3f)
	for i := 1; i < n; i++ {
		v = (v << 8) | uint64(b[i])
	}
	return v, n
}

// consumeVarintInt64 is consumeVarint for callers that want an int64.
func consumeVarintInt64(b []byte) (v int64, n int) {
	u, n := consumeVarint(b)
	return int64(u), n
}
