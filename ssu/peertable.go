/* SPDX-License-Identifier: MIT */

package ssu

import (
	"sync"
	"time"
)

// PeerTable is C2: the set of established PeerStates, indexed both by
// RouterHash and by the Endpoint currently believed to reach them
// (spec.md section 2, component C2). Its lock is taken before the
// Inbound Message Fragments lock by the Packet Handler, and after it
// by the Acknowledgement Flusher (spec.md section 2's dependency
// order; SPEC_FULL.md section 13, question 4, on why that's safe in
// Go via snapshot-then-drain).
type PeerTable struct {
	mutex sync.RWMutex

	byHash     map[RouterHash]*PeerState
	byEndpoint map[Endpoint]*PeerState

	inactivityTimeout time.Duration
	log               Logger
}

func NewPeerTable(inactivityTimeout time.Duration, log Logger) *PeerTable {
	return &PeerTable{
		byHash:            make(map[RouterHash]*PeerState),
		byEndpoint:        make(map[Endpoint]*PeerState),
		inactivityTimeout: inactivityTimeout,
		log:               log,
	}
}

// Insert adds a newly established peer, replacing anything already
// known under the same hash or endpoint.
func (t *PeerTable) Insert(hash RouterHash, endpoint Endpoint, keys KeyPair, onExpire func(RouterHash)) *PeerState {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if existing, ok := t.byHash[hash]; ok {
		t.removeLocked(existing)
	}
	if existing, ok := t.byEndpoint[endpoint]; ok {
		t.removeLocked(existing)
	}

	p := newPeerState(hash, endpoint, keys, func() { onExpire(hash) })
	t.byHash[hash] = p
	t.byEndpoint[endpoint] = p
	p.Touch(t.inactivityTimeout)

	t.log.Debugf("peertable: inserted %s at %s", hash, endpoint)
	return p
}

func (t *PeerTable) LookupByHash(hash RouterHash) (*PeerState, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	p, ok := t.byHash[hash]
	return p, ok
}

func (t *PeerTable) LookupByEndpoint(endpoint Endpoint) (*PeerState, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	p, ok := t.byEndpoint[endpoint]
	return p, ok
}

// Remove tears down a peer's session (spec.md section 4.2, explicit
// SESSION_DESTROY or inactivity expiry).
func (t *PeerTable) Remove(hash RouterHash) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if p, ok := t.byHash[hash]; ok {
		t.removeLocked(p)
	}
}

func (t *PeerTable) removeLocked(p *PeerState) {
	delete(t.byHash, p.hash)
	delete(t.byEndpoint, p.Endpoint())
	p.destroy()
	t.log.Debugf("peertable: removed %s", p.hash)
}

// Rebind updates the endpoint a hash is reachable at, e.g. after a
// peer appears to have changed UDP source port (NAT rebinding).
func (t *PeerTable) Rebind(hash RouterHash, endpoint Endpoint) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	p, ok := t.byHash[hash]
	if !ok {
		return
	}
	delete(t.byEndpoint, p.Endpoint())
	p.SetEndpoint(endpoint)
	t.byEndpoint[endpoint] = p
}

func (t *PeerTable) Len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.byHash)
}

// Close tears down every peer, stopping their inactivity timers.
func (t *PeerTable) Close() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for _, p := range t.byHash {
		p.destroy()
	}
	t.byHash = make(map[RouterHash]*PeerState)
	t.byEndpoint = make(map[Endpoint]*PeerState)
}
