// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

// undecryptableBuffer holds datagrams that arrived before the keys
// needed to decrypt them, most commonly 0-RTT or 1-RTT packets that
// outrun Handshake completion (spec §4.4 step 1, §5 "bounded by
// max_undecryptable_packets"). The buffer is bounded and drops the
// oldest entry rather than growing without limit. Nothing in the
// connection calls drain, so buffered entries are not reprocessed
// when keys are installed; they stay until newer entries push them
// out.
type undecryptableBuffer struct {
	max     int
	entries []undecryptableDatagram
}

type undecryptableDatagram struct {
	data  []byte
	level EncryptionLevel
}

func newUndecryptableBuffer(max int) *undecryptableBuffer {
	return &undecryptableBuffer{max: max}
}

// add buffers a datagram that could not be decrypted because level's
// keys are not yet available, dropping the oldest entry if the buffer
// is full.
func (b *undecryptableBuffer) add(data []byte, level EncryptionLevel) {
	if len(b.entries) >= b.max {
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, undecryptableDatagram{data: append([]byte(nil), data...), level: level})
}

// drain returns and removes every buffered datagram at level, for
// reprocessing now that its keys are available.
func (b *undecryptableBuffer) drain(level EncryptionLevel) [][]byte {
	var out [][]byte
	kept := b.entries[:0]
	for _, e := range b.entries {
		if e.level == level {
			out = append(out, e.data)
		} else {
			kept = append(kept, e)
		}
	}
	b.entries = kept
	return out
}

func (b *undecryptableBuffer) len() int { return len(b.entries) }
