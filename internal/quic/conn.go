// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"crypto/rand"
	"net/netip"
	"time"
)

// Conn is the Connection Core (spec §1, §4.4): the per-connection
// state machine that owns packet encryption/decryption, the three
// packet-number spaces, and the wiring between the Sent/Received
// Packet Managers, congestion control, and path validation. Every
// Conn runs its own goroutine processing one message at a time from
// msgc, so none of its fields need their own locking -- the same
// single-goroutine-per-connection design golang.org/x/net/internal/quic
// uses.
type Conn struct {
	side     connSide
	peerAddr netip.AddrPort
	listener connListener
	hooks    connTestHooks
	config   *Config
	rand     Random
	visitor  Visitor

	state connState

	tlsState      tlsState
	connIDState   *connIDState
	acks          [numberSpaceCount]*ackState
	loss          *lossState
	idle          *idleDetector
	mtu           *mtuDiscoverer
	blackhole     *blackholeDetector
	pathVal       *pathValidator
	undecryptable *undecryptableBuffer

	alarms alarmSet
	w      packetWriter

	// pendingPathResponse holds the payload of a PATH_CHALLENGE not yet
	// answered with a PATH_RESPONSE; pendingRetire holds sequence
	// numbers of peer connection ids not yet announced as retired.
	pendingPathResponse *[8]byte
	pendingRetire       []int64
	handshakeDoneToSend bool

	// odcid is the client's original destination connection id, the
	// value bound into the Initial keys (RFC 9000 Section 7.3); it
	// never changes even after a Retry replaces the connection id
	// actually used on the wire.
	odcid connID
	// receivedRetry and retryToken record a client's acceptance of a
	// Retry packet: receivedRetry guards against accepting a second
	// one, retryToken is echoed on every subsequent Initial packet
	// (RFC 9000 Section 8.1.2).
	receivedRetry bool
	retryToken    []byte
	// pendingPath is the path under reverse validation after a
	// suspected migration was observed (RFC 9000 Section 9.3); nil
	// when the current path is already validated.
	pendingPath *pathState

	// testSendPingSpace/testSendPing let tests force a PING into a
	// specific number space without modeling real application data;
	// production connections never set testSendPingSpace to anything
	// but an always-false state.
	testSendPingSpace numberSpace
	testSendPing      testSendPingState

	// pingRequested is set by Ping and cleared once a PING frame has
	// been appended to an Application Data packet.
	pingRequested bool

	msgc  chan any
	donec chan struct{}
	// exited is read directly by tests after the loop goroutine has
	// returned; it is only ever written from the loop goroutine itself
	// and only ever read once donec has been observed closed.
	exited bool

	log   *connLog
	stats Stats

	closeCode   TransportErrorCode
	closeApp    bool
	closeReason string
	closeSrc    CloseSource
}

// testSendPingState is the test-only hook appendFrames consults to
// decide whether to inject a bare PING frame.
type testSendPingState struct {
	waiting bool
	sentNum packetNumber
}

func (p *testSendPingState) shouldSendPTO(pto bool) bool {
	return p.waiting
}

func (p *testSendPingState) setSent(pnum packetNumber) {
	p.sentNum = pnum
	p.waiting = false
}

// cryptoRandSource is the default Random capability, backed by
// crypto/rand.
type cryptoRandSource struct{}

func (cryptoRandSource) Read(p []byte) (int, error) { return rand.Read(p) }

// newRandomConnID generates a new randomly chosen connection id of
// the length this core always uses (RFC 9000 permits 0-20 bytes; 8
// bytes is ample entropy for routing without wasting datagram space).
func newRandomConnID() ([]byte, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// newConn creates a Conn and starts its event loop goroutine.
// initialConnID is, for a server, the destination connection id the
// client chose for its first Initial packet; for a client it is
// unused (nil).
func newConn(
	now time.Time,
	side connSide,
	initialConnID []byte,
	peerAddr netip.AddrPort,
	listener connListener,
	hooks connTestHooks,
) (*Conn, error) {
	return newConnFull(now, side, initialConnID, peerAddr, listener, hooks, nil, nil)
}

// newConnFull is newConn extended with the Config and Visitor a real
// (non-test) connection needs; Dial and Accept use this directly so
// they can supply both before the event loop goroutine starts.
func newConnFull(
	now time.Time,
	side connSide,
	initialConnID []byte,
	peerAddr netip.AddrPort,
	listener connListener,
	hooks connTestHooks,
	config *Config,
	visitor Visitor,
) (*Conn, error) {
	if config == nil {
		config = &Config{}
	}
	c := &Conn{
		side:     side,
		peerAddr: peerAddr,
		listener: listener,
		hooks:    hooks,
		config:   config,
		visitor:  visitor,
		rand:     cryptoRandSource{},
		msgc:     make(chan any, 16),
		donec:    make(chan struct{}),
		log:      newConnLog(side),
	}
	for i := range c.acks {
		c.acks[i] = newAckState(numberSpace(i), c.config.maxAckDelay())
	}

	ownLocalID, err := newRandomConnID()
	if err != nil {
		return nil, err
	}

	var dstForInitialSecret []byte
	switch side {
	case serverSide:
		c.connIDState = newConnIDState(serverSide, connID(initialConnID), connID(ownLocalID))
		dstForInitialSecret = initialConnID
	case clientSide:
		initialDst, err := newRandomConnID()
		if err != nil {
			return nil, err
		}
		c.connIDState = newConnIDState(clientSide, nil, connID(ownLocalID))
		c.connIDState.setInitialRemote(connID(initialDst))
		dstForInitialSecret = initialDst
		c.odcid = connID(initialDst)
	}
	if err := c.tlsState.installInitialKeys(dstForInitialSecret, side); err != nil {
		return nil, err
	}

	c.loss = newLossState(c.config, minimumClientInitialDatagramSize)
	if side == serverSide {
		// Until the client's address is validated, a server may send
		// no more than antiAmplificationFactor bytes per byte received
		// (RFC 9000 Section 8.1).
		c.loss.armAntiAmplificationLimit()
	}
	c.idle = newIdleDetector(c.config.maxIdleTimeout(), c.config.KFIDT)
	c.idle.onPacketReceived(now)
	c.mtu = newMTUDiscoverer(c.config.KMTUH)
	c.blackhole = newBlackholeDetector(c.config.KCBHD)
	c.pathVal = newPathValidator(c.rand)
	c.undecryptable = newUndecryptableBuffer(c.config.maxUndecryptablePackets())
	c.rearmAlarms(now)

	c.log.debugf("new connection, peer=%v", peerAddr)
	connMetrics.connsActive.Inc()

	go c.loop(now)
	return c, nil
}

// datagram is a received UDP payload, delivered to the loop goroutine
// as a message.
type datagram struct {
	b    []byte
	addr netip.AddrPort
}

// timerEvent signals the loop that it should re-check every alarm
// against the current time.
type timerEvent struct{}

// sendMsg enqueues m for the loop goroutine to process. It never
// blocks past the connection exiting.
func (c *Conn) sendMsg(m any) {
	select {
	case c.msgc <- m:
	case <-c.donec:
	}
}

// runOnLoop runs f on the connection's own goroutine, blocking the
// caller until f has been scheduled (not until it has run).
func (c *Conn) runOnLoop(f func(now time.Time, c *Conn)) {
	c.sendMsg(f)
}

// exit requests the connection terminate immediately and waits for
// its goroutine to finish.
func (c *Conn) exit() {
	c.sendMsg(func(now time.Time, c *Conn) {
		c.state = stateDrained
	})
	<-c.donec
}

// loop is the connection's single event-processing goroutine. Every
// piece of mutable connection state is touched only from here.
func (c *Conn) loop(now time.Time) {
	defer close(c.donec)
	for {
		next := c.alarms.next()
		var m any
		if c.hooks != nil {
			now, m = c.hooks.nextMessage(c.msgc, next)
		} else {
			now, m = c.waitForMessage(next)
		}

		switch v := m.(type) {
		case timerEvent:
			c.handleTimer(now)
		case func(time.Time, *Conn):
			v(now, c)
		case *datagram:
			c.handleDatagram(now, v)
		case closeRequest:
			c.startClosing(now, v.code, v.app, v.reason)
		}

		if c.state == stateDrained {
			c.exited = true
			connMetrics.connsActive.Dec()
			return
		}

		if c.state != stateClosing {
			c.maybeSend(now)
		}
		c.rearmAlarms(now)
	}
}

// waitForMessage is the production (non-test) implementation of
// message delivery: block on msgc with a real timer armed for
// deadline.
func (c *Conn) waitForMessage(deadline time.Time) (time.Time, any) {
	if deadline.IsZero() {
		return time.Now(), <-c.msgc
	}
	d := time.Until(deadline)
	if d <= 0 {
		return time.Now(), timerEvent{}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case m := <-c.msgc:
		return time.Now(), m
	case <-timer.C:
		return time.Now(), timerEvent{}
	}
}

// handleTimer reacts to every alarm whose deadline has passed.
func (c *Conn) handleTimer(now time.Time) {
	e := c.alarms.expired(now)
	if e.idle && c.idle.expired(now) {
		c.state = stateDrained
		return
	}
	if e.pto {
		exceeded := c.loss.expirePTO(now)
		c.blackhole.onPTO()
		c.stats.recordPTO()
		if exceeded {
			c.startClosing(now, errInternalError, false, "too many consecutive PTOs")
			return
		}
	}
	if e.keyDiscard {
		c.tlsState.discardKeys(initialSpace)
	}
	if e.closing {
		c.state = stateDrained
	}
}

// rearmAlarms recomputes every alarm deadline from current state.
// Called after every event the loop processes, so the single
// underlying timer always reflects the latest state.
func (c *Conn) rearmAlarms(now time.Time) {
	c.alarms.idle = c.idle.deadline()
	for i := range c.acks {
		a := c.acks[i]
		if a.unacked > 0 && !a.largestSeenTime.IsZero() {
			c.alarms.ack[i] = a.largestSeenTime.Add(a.maxAckDelay)
		} else {
			c.alarms.ack[i] = time.Time{}
		}
	}
	if dl, ok := c.loss.ptoTimer(now); ok {
		c.alarms.pto = dl
	} else {
		c.alarms.pto = time.Time{}
	}
}
