// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

// localConnID is one connection id this endpoint has issued to its
// peer, via the initial handshake or a NEW_CONNECTION_ID frame. seq
// is -1 for the server's transient connection id: the client-chosen
// destination id from its first Initial packet, valid only for
// routing that one handshake exchange and never announced with a
// NEW_CONNECTION_ID frame (RFC 9000 Section 7.2).
type localConnID struct {
	seq   int64
	cid   connID
	token statelessResetToken
	// retired is set once the peer's RETIRE_CONNECTION_ID for this
	// entry has been received; it is kept around briefly so a late-arriving packet
	// using it can still be routed during the linger period.
	retired bool
}

// remoteConnID is one connection id the peer has given us to address
// packets to it with.
type remoteConnID struct {
	seq           int64
	cid           connID
	token         statelessResetToken
	retirePriorTo int64
}

// connIDState manages the local and remote connection id sets (spec
// §4.7, I6: never emits a packet using a retired remote id). It is
// deliberately simple: the spec's explicit Non-goal excludes NAT
// rebinding heuristics, so this holds at most a small working set.
type connIDState struct {
	local  []localConnID
	remote []remoteConnID

	// curRemote indexes the entry in remote currently used as the
	// destination connection id for outgoing packets.
	curRemote int

	maxLocalSeqIssued int64
}

// newConnIDState sets up the initial connection id sets for a new
// connection. For a server, clientInitialDstConnID is the destination
// id the client chose for its first Initial packet (installed as a
// transient, seq -1, local id); ownLocalID is the id this endpoint
// generates for the peer to use afterward. For a client,
// clientInitialDstConnID is nil and ownLocalID is the client's own
// freshly generated id.
func newConnIDState(side connSide, clientInitialDstConnID, ownLocalID connID) *connIDState {
	s := &connIDState{maxLocalSeqIssued: -1}
	if side == serverSide {
		s.local = []localConnID{
			{seq: -1, cid: clientInitialDstConnID},
			{seq: 0, cid: ownLocalID},
		}
		s.maxLocalSeqIssued = 0
	} else {
		s.local = []localConnID{
			{seq: 0, cid: ownLocalID},
		}
		s.maxLocalSeqIssued = 0
	}
	return s
}

// setInitialRemote installs the connection id this endpoint addresses
// outgoing packets to before any NEW_CONNECTION_ID frame has been
// exchanged: a client's randomly chosen initial destination id at
// construction, the source id of an accepted Retry, or the peer's
// source id from the first long-header packet processed while no
// remote id is known.
func (s *connIDState) setInitialRemote(cid connID) {
	s.remote = []remoteConnID{{seq: 0, cid: cid}}
	s.curRemote = 0
}

// dstConnID returns the connection id to use as the destination of
// the next outgoing non-Initial packet.
func (s *connIDState) dstConnID() []byte {
	if len(s.remote) == 0 {
		return nil
	}
	return s.remote[s.curRemote].cid
}

// srcConnID returns the connection id this endpoint currently
// announces as its own (the most recently issued non-transient id).
func (s *connIDState) srcConnID() []byte {
	for i := len(s.local) - 1; i >= 0; i-- {
		if s.local[i].seq >= 0 {
			return s.local[i].cid
		}
	}
	if len(s.local) > 0 {
		return s.local[0].cid
	}
	return nil
}

// issueLocal adds a new local connection id for the peer to use,
// returning its sequence number.
func (s *connIDState) issueLocal(cid connID, token statelessResetToken) (seq int64) {
	s.maxLocalSeqIssued++
	seq = s.maxLocalSeqIssued
	s.local = append(s.local, localConnID{seq: seq, cid: cid, token: token})
	return seq
}

// findLocal returns the local connection id entry matching cid, used
// to route an inbound datagram to this connection.
func (s *connIDState) findLocal(cid []byte) (localConnID, bool) {
	for _, l := range s.local {
		if connIDEqual(l.cid, cid) {
			return l, true
		}
	}
	return localConnID{}, false
}

func connIDEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// handleNewConnectionID processes a peer-issued NEW_CONNECTION_ID
// frame, adding it to the remote set and retiring anything below
// retirePriorTo (RFC 9000 Section 19.15).
func (s *connIDState) handleNewConnectionID(seq, retirePriorTo int64, cid connID, token statelessResetToken) (toRetire []int64) {
	found := false
	for _, r := range s.remote {
		if r.seq == seq {
			found = true
		}
	}
	if !found {
		s.remote = append(s.remote, remoteConnID{seq: seq, cid: cid, token: token, retirePriorTo: retirePriorTo})
	}
	kept := s.remote[:0]
	for _, r := range s.remote {
		if r.seq < retirePriorTo {
			toRetire = append(toRetire, r.seq)
			continue
		}
		kept = append(kept, r)
	}
	s.remote = kept
	if s.curRemote >= len(s.remote) {
		s.curRemote = 0
	}
	return toRetire
}

// retireLocal marks the local entry with the given sequence number as
// retired, in response to a RETIRE_CONNECTION_ID frame from the peer.
func (s *connIDState) retireLocal(seq int64) {
	for i := range s.local {
		if s.local[i].seq == seq {
			s.local[i].retired = true
		}
	}
}

// nextUnusedRemote returns the sequence number of a remote connection
// id other than the one currently in use, if the peer has issued one.
// RFC 9000 Section 9.5 recommends switching to a fresh connection id
// on migration so the new and old paths can't be linked by a shared
// id on the wire.
func (s *connIDState) nextUnusedRemote() (seq int64, ok bool) {
	if len(s.remote) == 0 {
		return 0, false
	}
	cur := s.remote[s.curRemote].seq
	for _, r := range s.remote {
		if r.seq != cur {
			return r.seq, true
		}
	}
	return 0, false
}

// migrateTo switches the destination connection id used for outgoing
// packets to a not-yet-used remote id, returning false if none is
// available (spec §4.6, path migration needs a fresh connection id
// per RFC 9000 Section 9.5).
func (s *connIDState) migrateTo(seq int64) bool {
	for i, r := range s.remote {
		if r.seq == seq {
			s.curRemote = i
			return true
		}
	}
	return false
}
