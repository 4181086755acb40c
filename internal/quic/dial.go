// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"net"
	"net/netip"
	"time"
)

// packetConnListener adapts a net.PacketConn to the connListener
// capability, so Dial/Accept can hand a Conn a real socket without
// exposing connListener itself outside the package (its method name
// is unexported and so cannot be implemented from another package).
type packetConnListener struct {
	pc net.PacketConn
}

func (l *packetConnListener) sendDatagram(p []byte, addr netip.AddrPort) error {
	_, err := l.pc.WriteTo(p, net.UDPAddrFromAddrPort(addr))
	return err
}

// readLoop feeds every datagram received on pc to c, until a read
// from pc fails (for example because pc is closed). Datagrams read
// after c has exited are discarded.
func readLoop(pc net.PacketConn, c *Conn) {
	buf := make([]byte, 65535)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		udpAddr, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}
		b := append([]byte(nil), buf[:n]...)
		c.sendMsg(&datagram{b: b, addr: udpAddr.AddrPort()})
	}
}

// Dial starts a client connection to peerAddr over pc. The returned
// Conn is usable immediately; its handshake is driven externally by
// feeding TLS secrets in through HandleHandshakeSecret/
// HandleAppDataSecret/HandleHandshakeComplete (see conn_handshake.go)
// once a TLS 1.3 stack such as crypto/tls's QUICConn has produced
// them.
func Dial(pc net.PacketConn, peerAddr netip.AddrPort, visitor Visitor, config *Config) (*Conn, error) {
	c, err := newConnFull(time.Now(), clientSide, nil, peerAddr, &packetConnListener{pc: pc}, nil, config, visitor)
	if err != nil {
		return nil, err
	}
	go readLoop(pc, c)
	return c, nil
}

// Accept starts a server connection for a client whose first Initial
// packet chose initialConnID and arrived from clientAddr.
func Accept(pc net.PacketConn, initialConnID []byte, clientAddr netip.AddrPort, visitor Visitor, config *Config) (*Conn, error) {
	c, err := newConnFull(time.Now(), serverSide, initialConnID, clientAddr, &packetConnListener{pc: pc}, nil, config, visitor)
	if err != nil {
		return nil, err
	}
	go readLoop(pc, c)
	return c, nil
}

// Stats returns a snapshot of the connection's counters (spec §6).
func (c *Conn) Stats() Stats {
	var s Stats
	s.PacketsSent.Store(c.stats.PacketsSent.Load())
	s.PacketsReceived.Store(c.stats.PacketsReceived.Load())
	s.BytesSent.Store(c.stats.BytesSent.Load())
	s.BytesReceived.Store(c.stats.BytesReceived.Load())
	s.PacketsLost.Store(c.stats.PacketsLost.Load())
	s.PTOCount.Store(c.stats.PTOCount.Load())
	s.KeyUpdates.Store(c.stats.KeyUpdates.Load())
	s.PathMigrations.Store(c.stats.PathMigrations.Load())
	return s
}

// Ping requests that a PING frame be sent in the connection's next
// 1-RTT packet, eliciting an ACK from the peer; until 1-RTT write keys
// are installed the request stays pending. It is the
// caller-driven counterpart to the keepalive PING RFC 9002 Section
// 6.2.4 has the core send on its own during a PTO probe.
func (c *Conn) Ping() {
	c.runOnLoop(func(now time.Time, c *Conn) {
		c.pingRequested = true
	})
}

// LocalAddr reports the socket address this connection sends from.
func (c *Conn) LocalAddr() net.Addr {
	if a, ok := c.listener.(*packetConnListener); ok {
		return a.pc.LocalAddr()
	}
	return nil
}

// RemoteAddr reports the peer address this connection sends to.
func (c *Conn) RemoteAddr() netip.AddrPort {
	return c.peerAddr
}
