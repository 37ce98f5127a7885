/* SPDX-License-Identifier: MIT */

package ssu

import (
	"sync"
	"time"
)

// PeerState is an established session: keys, the endpoint currently
// believed to reach the peer, and the inactivity timer that destroys
// it (spec.md section 3.2).
type PeerState struct {
	mutex sync.RWMutex

	hash     RouterHash
	endpoint Endpoint
	keys     KeyPair

	lastActivity time.Time
	inactivity   *Timer

	// inboundBytes is a per-peer byte counter changed only through
	// addInboundBytes/subInboundBytes. The Inbound Message Fragments
	// byte caps (SPEC_FULL.md section 13, question 3) are enforced from
	// IMF's own per-peer totals, not from this field.
	inboundBytes int
}

func newPeerState(hash RouterHash, endpoint Endpoint, keys KeyPair, onExpire func()) *PeerState {
	p := &PeerState{
		hash:         hash,
		endpoint:     endpoint,
		keys:         keys,
		lastActivity: time.Now(),
	}
	p.inactivity = NewTimer(onExpire)
	return p
}

func (p *PeerState) Hash() RouterHash {
	return p.hash
}

func (p *PeerState) Endpoint() Endpoint {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.endpoint
}

func (p *PeerState) SetEndpoint(ep Endpoint) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.endpoint = ep
}

func (p *PeerState) Keys() KeyPair {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.keys
}

// Touch records verified-packet activity and re-arms the inactivity
// timer (spec.md section 4.2).
func (p *PeerState) Touch(inactivityTimeout time.Duration) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.lastActivity = time.Now()
	p.inactivity.Mod(inactivityTimeout)
}

func (p *PeerState) LastActivity() time.Time {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.lastActivity
}

func (p *PeerState) addInboundBytes(n int) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.inboundBytes += n
	return p.inboundBytes
}

func (p *PeerState) subInboundBytes(n int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.inboundBytes -= n
	if p.inboundBytes < 0 {
		p.inboundBytes = 0
	}
}

func (p *PeerState) destroy() {
	p.inactivity.Del()
}
