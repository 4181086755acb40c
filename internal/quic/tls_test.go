// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"bytes"
	"testing"
)

func TestUpdateKeySecretDiffersAndIsDeterministic(t *testing.T) {
	secret := bytes.Repeat([]byte{0x42}, 32)
	next := updateKeySecret(secret)
	if bytes.Equal(next, secret) {
		t.Fatal("updateKeySecret returned the input unchanged")
	}
	again := updateKeySecret(secret)
	if !bytes.Equal(next, again) {
		t.Fatal("updateKeySecret is not deterministic for the same input")
	}
}

func TestTLSStateUpdateKeysRotatesBothDirectionsAndPhase(t *testing.T) {
	var st tlsState
	writeSecret := bytes.Repeat([]byte{0x01}, 32)
	readSecret := bytes.Repeat([]byte{0x02}, 32)
	if err := st.setAppDataSecret(true, writeSecret); err != nil {
		t.Fatalf("setAppDataSecret(write): %v", err)
	}
	if err := st.setAppDataSecret(false, readSecret); err != nil {
		t.Fatalf("setAppDataSecret(read): %v", err)
	}
	if st.KeyPhase != keyPhaseZero {
		t.Fatalf("initial KeyPhase = %v, want keyPhaseZero", st.KeyPhase)
	}

	oldWriteAEAD := st.wkeys[appDataSpace].pkt
	oldReadAEAD := st.rkeys[appDataSpace].pkt

	if err := st.updateKeys(); err != nil {
		t.Fatalf("updateKeys: %v", err)
	}
	if st.KeyPhase != keyPhaseOne {
		t.Errorf("KeyPhase after update = %v, want keyPhaseOne", st.KeyPhase)
	}
	if st.wkeys[appDataSpace].pkt == oldWriteAEAD {
		t.Error("write AEAD unchanged after updateKeys")
	}
	if st.rkeys[appDataSpace].pkt == oldReadAEAD {
		t.Error("read AEAD unchanged after updateKeys")
	}
	if bytes.Equal(st.appWriteSecret, writeSecret) {
		t.Error("appWriteSecret unchanged after updateKeys")
	}
	if bytes.Equal(st.appReadSecret, readSecret) {
		t.Error("appReadSecret unchanged after updateKeys")
	}

	// A second update advances the phase back to zero (it alternates).
	if err := st.updateKeys(); err != nil {
		t.Fatalf("second updateKeys: %v", err)
	}
	if st.KeyPhase != keyPhaseZero {
		t.Errorf("KeyPhase after second update = %v, want keyPhaseZero", st.KeyPhase)
	}
}
