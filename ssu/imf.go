/* SPDX-License-Identifier: MIT */

package ssu

import (
	"sync"
	"time"

	"github.com/go-i2p/ssu-transport/fec"
)

type inboundKey struct {
	peer  RouterHash
	msgID uint32
}

// InboundMessageFragments is C4: it reassembles incoming DATA
// fragments into complete I2NP messages and tracks, per peer, which
// fragments are still outstanding so the Acknowledgement Flusher can
// build partial ACKs (spec.md section 4.4; grounded on
// original_source's InboundMessageFragments.cpp / InboundMessageState.h).
//
// Its lock is taken after the Peer Table's by the Packet Handler, and
// before the Peer Table's by the Acknowledgement Flusher (spec.md
// section 2's dependency order); neither holds both at once.
type InboundMessageFragments struct {
	mutex sync.Mutex

	states map[inboundKey]*InboundMessageState
	// byPeer lets the flusher enumerate a peer's outstanding messages
	// without scanning the whole table (original_source's
	// AcknowledgementManager.cpp keeps the equivalent secondary index).
	byPeer map[RouterHash]map[uint32]struct{}

	perPeerBytes map[RouterHash]int
	totalBytes   int

	maxPerPeerBytes int
	maxTotalBytes   int
	fragmentTTL     time.Duration

	log Logger
}

func NewInboundMessageFragments(maxPerPeerBytes, maxTotalBytes int, fragmentTTL time.Duration, log Logger) *InboundMessageFragments {
	return &InboundMessageFragments{
		states:          make(map[inboundKey]*InboundMessageState),
		byPeer:          make(map[RouterHash]map[uint32]struct{}),
		perPeerBytes:    make(map[RouterHash]int),
		maxPerPeerBytes: maxPerPeerBytes,
		maxTotalBytes:   maxTotalBytes,
		fragmentTTL:     fragmentTTL,
		log:             log,
	}
}

// AddFragment stores an incoming fragment and reports the fully
// reassembled message if it was the last one needed. It enforces the
// per-peer and global byte caps by evicting the oldest incomplete
// message for the peer, per SPEC_FULL.md section 13, question 3.
func (f *InboundMessageFragments) AddFragment(peer RouterHash, msgID uint32, fragNum int, isLast bool, data []byte) (complete bool, assembled []byte) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	key := inboundKey{peer: peer, msgID: msgID}
	state, ok := f.states[key]
	if !ok {
		state = newInboundMessageState(peer, msgID, func() { f.expire(peer, msgID) })
		state.expiry.Mod(f.fragmentTTL)
		f.states[key] = state
		if f.byPeer[peer] == nil {
			f.byPeer[peer] = make(map[uint32]struct{})
		}
		f.byPeer[peer][msgID] = struct{}{}
	}

	done, added := state.addFragment(fragNum, isLast, data)
	f.perPeerBytes[peer] += added
	f.totalBytes += added
	f.enforceBoundsLocked(peer)

	if !done {
		done = state.tryReconstruct()
	}
	if !done {
		return false, nil
	}

	assembled = state.assemble()
	f.removeLocked(peer, msgID, state)
	return true, assembled
}

// AddParityShard stores a FEC repair shard for msgID and, if enough
// shards (data or parity) are now present, reconstructs and returns
// the completed message.
func (f *InboundMessageFragments) AddParityShard(peer RouterHash, msgID uint32, algo fec.Algorithm, shardIdx int, data []byte) (complete bool, assembled []byte) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	key := inboundKey{peer: peer, msgID: msgID}
	state, ok := f.states[key]
	if !ok {
		state = newInboundMessageState(peer, msgID, func() { f.expire(peer, msgID) })
		state.expiry.Mod(f.fragmentTTL)
		f.states[key] = state
		if f.byPeer[peer] == nil {
			f.byPeer[peer] = make(map[uint32]struct{})
		}
		f.byPeer[peer][msgID] = struct{}{}
	}

	added := state.addParityShard(algo, shardIdx, data)
	f.perPeerBytes[peer] += added
	f.totalBytes += added
	f.enforceBoundsLocked(peer)

	if !state.tryReconstruct() {
		return false, nil
	}

	assembled = state.assemble()
	f.removeLocked(peer, msgID, state)
	return true, assembled
}

// enforceBoundsLocked evicts the oldest incomplete message for peer
// until its byte usage (and the global total) is back under budget.
// Called with f.mutex held.
func (f *InboundMessageFragments) enforceBoundsLocked(peer RouterHash) {
	for f.perPeerBytes[peer] > f.maxPerPeerBytes || f.totalBytes > f.maxTotalBytes {
		oldestID, oldestState, found := f.oldestLocked(peer)
		if !found {
			return
		}
		f.log.Debugf("imf: evicting oldest incomplete message %d for %s under memory pressure", oldestID, peer)
		f.removeLocked(peer, oldestID, oldestState)
	}
}

func (f *InboundMessageFragments) oldestLocked(peer RouterHash) (uint32, *InboundMessageState, bool) {
	var (
		oldestID    uint32
		oldestState *InboundMessageState
		found       bool
	)
	for id := range f.byPeer[peer] {
		s := f.states[inboundKey{peer: peer, msgID: id}]
		if s == nil {
			continue
		}
		if !found || s.createdAt.Before(oldestState.createdAt) {
			oldestID = id
			oldestState = s
			found = true
		}
	}
	return oldestID, oldestState, found
}

func (f *InboundMessageFragments) removeLocked(peer RouterHash, msgID uint32, state *InboundMessageState) {
	key := inboundKey{peer: peer, msgID: msgID}
	if _, ok := f.states[key]; !ok {
		return
	}
	delete(f.states, key)
	delete(f.byPeer[peer], msgID)
	if len(f.byPeer[peer]) == 0 {
		delete(f.byPeer, peer)
	}
	f.perPeerBytes[peer] -= state.size
	if f.perPeerBytes[peer] <= 0 {
		delete(f.perPeerBytes, peer)
	}
	f.totalBytes -= state.size
	state.destroy()
}

func (f *InboundMessageFragments) expire(peer RouterHash, msgID uint32) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	key := inboundKey{peer: peer, msgID: msgID}
	if state, ok := f.states[key]; ok {
		f.removeLocked(peer, msgID, state)
	}
}

// PendingBitfields returns, for every message still outstanding from
// peer, its message ID and current partial-ACK bitfield. The
// Acknowledgement Flusher calls this under its own snapshot-then-drain
// pass (SPEC_FULL.md section 13, question 4).
func (f *InboundMessageFragments) PendingBitfields(peer RouterHash) map[uint32][]byte {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	ids := f.byPeer[peer]
	if len(ids) == 0 {
		return nil
	}
	out := make(map[uint32][]byte, len(ids))
	for id := range ids {
		state := f.states[inboundKey{peer: peer, msgID: id}]
		if state == nil {
			continue
		}
		out[id] = state.missingBitfield()
	}
	return out
}

func (f *InboundMessageFragments) Close() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	for _, s := range f.states {
		s.destroy()
	}
	f.states = make(map[inboundKey]*InboundMessageState)
	f.byPeer = make(map[RouterHash]map[uint32]struct{})
	f.perPeerBytes = make(map[RouterHash]int)
	f.totalBytes = 0
}
