/* SPDX-License-Identifier: MIT */

package ssu

import (
	"sync"
	"time"
)

// AckSendFunc hands a built DATA payload containing only ACK
// information (no fragments of our own) to the wire, for a given
// peer.
type AckSendFunc func(peer RouterHash, payload []byte) error

// AcknowledgementFlusher is C6: on a fixed interval, it sweeps every
// peer with outstanding inbound fragments and sends a DATA packet
// carrying their current partial-ACK bitfields (spec.md section 4.6;
// grounded on original_source's AcknowledgementManager.cpp).
//
// Each sweep snapshots the set of (peer, bitfields) to flush under
// IMF's lock, then sends and acquires the Peer Table's lock per peer
// while draining that snapshot — never holding both locks at once.
// That resolves the iterator-invalidation hazard the C++ original
// worked around with careful iterator bookkeeping (SPEC_FULL.md
// section 13, question 4): a Go slice built once under one lock has
// no iterator for a concurrent mutation to invalidate.
type AcknowledgementFlusher struct {
	imf    *InboundMessageFragments
	peers  *PeerTable
	send   AckSendFunc
	log    Logger
	ticker *time.Ticker

	mutex   sync.Mutex
	tracked map[RouterHash]struct{}

	stop chan struct{}
	done chan struct{}
}

func NewAcknowledgementFlusher(imf *InboundMessageFragments, peers *PeerTable, send AckSendFunc, log Logger) *AcknowledgementFlusher {
	return &AcknowledgementFlusher{
		imf:     imf,
		peers:   peers,
		send:    send,
		log:     log,
		tracked: make(map[RouterHash]struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Track registers a peer as having outstanding inbound fragments, so
// the next sweep considers it. The Packet Handler calls this whenever
// a DATA fragment arrives for a message that isn't yet complete.
func (a *AcknowledgementFlusher) Track(peer RouterHash) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.tracked[peer] = struct{}{}
}

// Untrack drops a peer from consideration, e.g. once its last
// outstanding message completes or is evicted.
func (a *AcknowledgementFlusher) Untrack(peer RouterHash) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	delete(a.tracked, peer)
}

// Run drives the periodic sweep until Stop is called. Intended to run
// in its own goroutine, the way the teacher's device.go runs
// RoutineReceiveIncoming.
func (a *AcknowledgementFlusher) Run(interval time.Duration) {
	a.ticker = time.NewTicker(interval)
	defer close(a.done)
	defer a.ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-a.ticker.C:
			a.sweep()
		}
	}
}

func (a *AcknowledgementFlusher) Stop() {
	close(a.stop)
	<-a.done
}

type ackWork struct {
	peer      RouterHash
	bitfields map[uint32][]byte
}

func (a *AcknowledgementFlusher) sweep() {
	a.mutex.Lock()
	peers := make([]RouterHash, 0, len(a.tracked))
	for p := range a.tracked {
		peers = append(peers, p)
	}
	a.mutex.Unlock()

	work := make([]ackWork, 0, len(peers))
	for _, p := range peers {
		bitfields := a.imf.PendingBitfields(p)
		if len(bitfields) == 0 {
			a.Untrack(p)
			continue
		}
		work = append(work, ackWork{peer: p, bitfields: bitfields})
	}

	for _, w := range work {
		state, ok := a.peers.LookupByHash(w.peer)
		if !ok {
			a.Untrack(w.peer)
			continue
		}
		payload := buildAckPayload(w.bitfields)
		if err := a.send(w.peer, payload); err != nil {
			a.log.Errorf("ackflusher: send to %s failed: %v", w.peer, err)
			continue
		}
		state.Touch(a.peers.inactivityTimeout)
	}
}

// buildAckPayload lays out a DATA message's ACK-bitfield section: a
// flag byte with only DataFlagAckBitfield set, a count byte, then, for
// each message, its 4-byte ID and its
// bitfield, which is self-terminating (each byte's high bit is a
// continuation flag, spec.md section 4.4) rather than length-prefixed.
// A trailing zero byte closes the payload's fragment-entries section,
// since this packet carries acks only, no fragments of our own.
func buildAckPayload(bitfields map[uint32][]byte) []byte {
	out := []byte{DataFlagAckBitfield, byte(len(bitfields))}
	for id, bf := range bitfields {
		var idBuf [4]byte
		idBuf[0] = byte(id >> 24)
		idBuf[1] = byte(id >> 16)
		idBuf[2] = byte(id >> 8)
		idBuf[3] = byte(id)
		out = append(out, idBuf[:]...)
		out = append(out, bf...)
	}
	out = append(out, 0) // numFragments: none
	return out
}
