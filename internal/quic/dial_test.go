// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"net"
	"net/netip"
	"testing"
	"time"
)

// nopVisitor accepts every frame and ignores every lifecycle callback;
// it exists so tests can drive Dial/Accept without a stream layer.
type nopVisitor struct{}

func (nopVisitor) OnStreamFrame(id int64, offset int64, fin bool, data []byte) bool {
	return true
}
func (nopVisitor) OnCryptoFrame(level EncryptionLevel, offset int64, data []byte) bool {
	return true
}
func (nopVisitor) OnResetStreamFrame(id int64, code uint64, finalSize int64) bool {
	return true
}
func (nopVisitor) OnMaxDataFrame(max int64) bool                { return true }
func (nopVisitor) OnHandshakeConfirmed()                        {}
func (nopVisitor) OnConnectionMigration(newPeer netip.AddrPort) {}
func (nopVisitor) OnRetry(token []byte)                         {}
func (nopVisitor) OnKeyUpdate(phase KeyPhase)                   {}
func (nopVisitor) OnConnectionClosed(code TransportErrorCode, reason string, source CloseSource) {
}
func (nopVisitor) OnWriteBlocked() {}
func (nopVisitor) OnCanWrite()     {}

func mustListenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { pc.Close() })
	return pc
}

func TestDialAndAcceptExposePublicSurface(t *testing.T) {
	clientPC := mustListenUDP(t)
	serverPC := mustListenUDP(t)

	serverAddr := netip.MustParseAddrPort(serverPC.LocalAddr().String())
	clientAddr := netip.MustParseAddrPort(clientPC.LocalAddr().String())

	clientConn, err := Dial(clientPC, serverAddr, nopVisitor{}, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientConn.exit()

	serverConn, err := Accept(serverPC, []byte{1, 2, 3, 4}, clientAddr, nopVisitor{}, &Config{MaxIdleTimeout: time.Second})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer serverConn.exit()

	if got := clientConn.RemoteAddr(); got != serverAddr {
		t.Errorf("client RemoteAddr = %v, want %v", got, serverAddr)
	}
	if got := serverConn.RemoteAddr(); got != clientAddr {
		t.Errorf("server RemoteAddr = %v, want %v", got, clientAddr)
	}
	if clientConn.LocalAddr() == nil {
		t.Error("client LocalAddr = nil")
	}

	clientConn.Ping()

	// Stats is a point-in-time snapshot independent of the live
	// counters: taking it twice must not panic or race even while the
	// loop goroutine is concurrently sending the PING above.
	_ = clientConn.Stats()
	stats := clientConn.Stats()
	if stats.PacketsSent.Load() < 0 {
		t.Errorf("PacketsSent = %v, want >= 0", stats.PacketsSent.Load())
	}

	clientConn.Close()
	serverConn.Close()
}
