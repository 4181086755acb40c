// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quicwire/quiccore/internal/quic"
)

var (
	dialTimeout time.Duration
	dialIdle    time.Duration
	dialPing    bool
)

func init() {
	DialCmd.Flags().DurationVar(&dialTimeout, "hold", 10*time.Second, "how long to hold the connection open before closing it")
	DialCmd.Flags().DurationVar(&dialIdle, "idle-timeout", 0, "override the connection's idle timeout (0 uses the default)")
	DialCmd.Flags().BoolVar(&dialPing, "ping", true, "send a PING frame right after dialing")
}

// DialCmd is the cobra command that runs a full manual soak-testing
// session against a peer: dial, optionally send a PING, hold the
// connection open, print its counters, then close. It exercises the
// Connection Core's public surface (Dial/Ping/Close/Stats) without
// driving a real TLS handshake: only Initial keys install on their
// own, and Conn.Ping sends its PING in a 1-RTT packet, so without an
// external TLS stack supplying secrets via Conn.HandleHandshakeSecret/
// HandleAppDataSecret the requested PING is never sent.
var DialCmd = &cobra.Command{
	Use:   "dial <addr>",
	Short: "dial opens a client connection to addr, pings it, and reports its stats",
	Long:  "dial opens a client connection to addr, pings it, and reports its stats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerAddr, err := netip.ParseAddrPort(args[0])
		if err != nil {
			return fmt.Errorf("parsing peer address %q: %w", args[0], err)
		}

		pc, err := net.ListenUDP("udp", &net.UDPAddr{})
		if err != nil {
			return fmt.Errorf("opening socket: %w", err)
		}
		defer pc.Close()

		config := &quic.Config{MaxIdleTimeout: dialIdle}
		conn, err := quic.Dial(pc, peerAddr, &cliVisitor{}, config)
		if err != nil {
			return fmt.Errorf("dialing %v: %w", peerAddr, err)
		}

		logrus.WithField("peer", peerAddr).Info("dialed connection")

		if dialPing {
			conn.Ping()
			logrus.Info("sent PING")
		}

		time.Sleep(dialTimeout)
		logStats(conn)
		conn.Close()
		return nil
	},
}

// logStats logs the counters quicctl cares about for a manual session.
func logStats(conn *quic.Conn) {
	stats := conn.Stats()
	logrus.WithFields(logrus.Fields{
		"packets_sent":     stats.PacketsSent.Load(),
		"packets_received": stats.PacketsReceived.Load(),
		"bytes_sent":       stats.BytesSent.Load(),
		"bytes_received":   stats.BytesReceived.Load(),
		"packets_lost":     stats.PacketsLost.Load(),
		"pto_count":        stats.PTOCount.Load(),
		"key_updates":      stats.KeyUpdates.Load(),
		"path_migrations":  stats.PathMigrations.Load(),
	}).Info("connection stats")
}

// cliVisitor is a minimal quic.Visitor that logs every callback and
// accepts all frames; it exists so quicctl can drive a Conn without a
// real application or stream layer behind it.
type cliVisitor struct{}

func (cliVisitor) OnStreamFrame(id int64, offset int64, fin bool, data []byte) bool {
	logrus.WithFields(logrus.Fields{"id": id, "offset": offset, "fin": fin, "len": len(data)}).Debug("STREAM frame")
	return true
}

func (cliVisitor) OnCryptoFrame(level quic.EncryptionLevel, offset int64, data []byte) bool {
	logrus.WithFields(logrus.Fields{"level": level, "offset": offset, "len": len(data)}).Debug("CRYPTO frame")
	return true
}

func (cliVisitor) OnResetStreamFrame(id int64, code uint64, finalSize int64) bool {
	logrus.WithFields(logrus.Fields{"id": id, "code": code, "finalSize": finalSize}).Debug("RESET_STREAM frame")
	return true
}

func (cliVisitor) OnMaxDataFrame(max int64) bool {
	logrus.WithField("max", max).Debug("MAX_DATA frame")
	return true
}

func (cliVisitor) OnHandshakeConfirmed() {
	logrus.Info("handshake confirmed")
}

func (cliVisitor) OnConnectionMigration(newPeer netip.AddrPort) {
	logrus.WithField("new_peer", newPeer).Info("peer migrated")
}

func (cliVisitor) OnKeyUpdate(phase quic.KeyPhase) {
	logrus.WithField("phase", phase).Info("1-RTT key update")
}

func (cliVisitor) OnRetry(token []byte) {
	logrus.WithField("token", fmt.Sprintf("%x", token)).Info("server sent Retry")
}

func (cliVisitor) OnConnectionClosed(code quic.TransportErrorCode, reason string, source quic.CloseSource) {
	logrus.WithFields(logrus.Fields{"code": code, "reason": reason, "source": source}).Info("connection closed")
}

func (cliVisitor) OnWriteBlocked() {}
func (cliVisitor) OnCanWrite()     {}
