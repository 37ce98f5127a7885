/* SPDX-License-Identifier: MIT */

package ssu

import "time"

// establishmentPhase tracks which SSU handshake message was last sent
// or expected, both for the inbound (we received SESSION_REQUEST) and
// outbound (we sent SESSION_REQUEST) roles (spec.md section 3).
type establishmentPhase int

const (
	phaseRequestSent establishmentPhase = iota
	phaseRequestReceived
	phaseCreatedSent
	phaseCreatedReceived
	phaseConfirmedSent
	phaseConfirmedReceived
	phaseFailed
)

// EstablishmentState is the per-in-progress-handshake record the
// Establishment Manager keeps until it either completes into a
// PeerState or times out (spec.md section 3.3).
type EstablishmentState struct {
	endpoint Endpoint
	outbound bool // true if we initiated (sent SESSION_REQUEST first)

	phase establishmentPhase

	dh *DHKeyPair

	// peerDHPublic is the far side's public DH value, learned from
	// SESSION_REQUEST (responder) or SESSION_CREATED (requester).
	peerDHPublic []byte
	sharedSecret []byte

	// myEndpoint is this side's own external address, as reported by
	// the peer in SESSION_REQUEST (responder) or SESSION_CREATED
	// (requester) — the handshake's STUN-like address-learning step.
	myEndpoint Endpoint

	relayTag           uint32
	signatureTimestamp uint32
	signature          []byte

	// peerIdentity is known in advance for an outbound handshake (the
	// caller already has it, since reaching this endpoint in the
	// first place requires a RouterInfo lookup the out-of-scope
	// identity database performs) and learned from the wire for an
	// inbound one, once SESSION_CONFIRMED arrives.
	peerIdentity *RouterIdentity
	peerHash     *RouterHash // known once the peer's identity is verified

	timeout *Timer
	started time.Time
}

func newEstablishmentState(endpoint Endpoint, outbound bool, dh *DHKeyPair, onTimeout func()) *EstablishmentState {
	return &EstablishmentState{
		endpoint: endpoint,
		outbound: outbound,
		phase:    phaseRequestSent,
		dh:       dh,
		timeout:  NewTimer(onTimeout),
		started:  time.Now(),
	}
}

// responderDH and requesterDH report which side's DH public value is
// "ours" vs. "theirs" for handshakeTranscript, which is always built
// in responder-then-requester order regardless of which role this
// state plays (spec.md section 4.3, step 3).
func (es *EstablishmentState) responderDH() []byte {
	if es.outbound {
		return es.peerDHPublic
	}
	return es.dh.Public
}

func (es *EstablishmentState) requesterDH() []byte {
	if es.outbound {
		return es.dh.Public
	}
	return es.peerDHPublic
}

func (es *EstablishmentState) responderEndpoint() Endpoint {
	if es.outbound {
		return es.endpoint
	}
	return es.myEndpoint
}

func (es *EstablishmentState) requesterEndpoint() Endpoint {
	if es.outbound {
		return es.myEndpoint
	}
	return es.endpoint
}
