/* SPDX-License-Identifier: MIT */

package ssu

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-i2p/ssu-transport/ratelimiter"
)

// EstablishmentManager is C3: it drives both sides of the SSU
// handshake (SESSION_REQUEST / SESSION_CREATED / SESSION_CONFIRMED,
// spec.md section 4.3) and, on success, installs the resulting
// PeerState into the Peer Table. A Ratelimiter bounds how fast a
// single source IP can start new handshake attempts, the way
// the teacher's device.go gates incoming handshake initiations.
type EstablishmentManager struct {
	mutex sync.Mutex
	byKey map[Endpoint]*EstablishmentState

	peers    *PeerTable
	limiter  *ratelimiter.Ratelimiter
	identity LocalIdentity
	log      Logger

	timeout time.Duration

	onEstablished func(hash RouterHash, endpoint Endpoint, keys KeyPair)
	onFailed      func(hash RouterHash, endpoint Endpoint)
}

func NewEstablishmentManager(peers *PeerTable, timeout time.Duration, identity LocalIdentity, log Logger, onEstablished func(RouterHash, Endpoint, KeyPair), onFailed func(RouterHash, Endpoint)) *EstablishmentManager {
	limiter := new(ratelimiter.Ratelimiter)
	limiter.Init()
	if onFailed == nil {
		onFailed = func(RouterHash, Endpoint) {}
	}
	return &EstablishmentManager{
		byKey:         make(map[Endpoint]*EstablishmentState),
		peers:         peers,
		limiter:       limiter,
		timeout:       timeout,
		identity:      identity,
		log:           log,
		onEstablished: onEstablished,
		onFailed:      onFailed,
	}
}

func (m *EstablishmentManager) Close() {
	m.limiter.Close()
}

// BeginOutbound starts a handshake to endpoint, returning the
// SESSION_REQUEST payload to send (spec.md section 4.3, outbound
// role): our DH public key followed by our belief about the peer's
// address. peerIdentity is the responder's already-known identity —
// the out-of-scope router-info database is what would normally supply
// it before a connection attempt is made — and is what
// HandleSessionCreated verifies SESSION_CREATED's signature against.
func (m *EstablishmentManager) BeginOutbound(endpoint Endpoint, peerIdentity RouterIdentity) ([]byte, error) {
	dh, err := GenerateDHKeyPair()
	if err != nil {
		return nil, fmt.Errorf("ssu: establishment: %w", err)
	}

	m.mutex.Lock()
	es := newEstablishmentState(endpoint, true, dh, func() { m.expire(endpoint) })
	es.peerIdentity = &peerIdentity
	m.byKey[endpoint] = es
	es.timeout.Mod(m.timeout)
	m.mutex.Unlock()

	m.log.Debugf("establishment: sending SESSION_REQUEST to %s", endpoint)

	payload := make([]byte, 0, DHPublicKeySize+19)
	payload = append(payload, dh.Public...)
	payload = append(payload, encodeEndpointField(endpoint)...)
	return payload, nil
}

// HandleSessionRequest processes an inbound SESSION_REQUEST
// (spec.md section 4.3, inbound role), returning the SESSION_CREATED
// payload to send back: our DH public, our belief about the
// requester's address, the relay tag (always 0: relay support is a
// spec Non-goal), a signature timestamp, and our signature over the
// handshake transcript. srcIP gates the attempt against the
// ratelimiter before any EstablishmentState is allocated.
func (m *EstablishmentManager) HandleSessionRequest(endpoint Endpoint, payload []byte, srcIP net.IP) ([]byte, error) {
	if !m.limiter.Allow(srcIP) {
		return nil, fmt.Errorf("ssu: establishment: rate limited %s", srcIP)
	}
	if len(payload) < DHPublicKeySize {
		return nil, newFormattingError("SESSION_REQUEST shorter than DH public key (%d bytes)", len(payload))
	}
	peerPublic := payload[:DHPublicKeySize]
	myEndpoint, _, err := decodeEndpointField(payload[DHPublicKeySize:])
	if err != nil {
		return nil, err
	}

	dh, err := GenerateDHKeyPair()
	if err != nil {
		return nil, fmt.Errorf("ssu: establishment: %w", err)
	}

	m.mutex.Lock()
	es := newEstablishmentState(endpoint, false, dh, func() { m.expire(endpoint) })
	es.phase = phaseRequestReceived
	es.peerDHPublic = peerPublic
	es.sharedSecret = dh.SharedSecret(peerPublic)
	es.myEndpoint = myEndpoint
	es.relayTag = 0

	ts := uint32(time.Now().Unix())
	sig := signHandshake(m.identity.Private, es.responderDH(), es.requesterDH(), es.responderEndpoint(), es.requesterEndpoint(), es.relayTag, ts)
	es.signatureTimestamp = ts
	es.signature = sig
	es.phase = phaseCreatedSent

	m.byKey[endpoint] = es
	es.timeout.Mod(m.timeout)
	m.mutex.Unlock()

	m.log.Debugf("establishment: received SESSION_REQUEST from %s", endpoint)

	out := make([]byte, 0, DHPublicKeySize+19+4+4+HandshakeSignatureSize)
	out = append(out, dh.Public...)
	out = append(out, encodeEndpointField(endpoint)...)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], es.relayTag)
	out = append(out, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], ts)
	out = append(out, tmp[:]...)
	out = append(out, sig...)
	return out, nil
}

// HandleSessionCreated processes the response to an outbound
// SESSION_REQUEST: it verifies the responder's signature against the
// identity the caller supplied to BeginOutbound (spec.md section 4.3,
// step 3) and, if valid, returns the SESSION_CONFIRMED payload to
// send.
func (m *EstablishmentManager) HandleSessionCreated(endpoint Endpoint, payload []byte) ([]byte, error) {
	if len(payload) < DHPublicKeySize {
		return nil, newFormattingError("SESSION_CREATED shorter than DH public key (%d bytes)", len(payload))
	}
	peerPublic := payload[:DHPublicKeySize]
	rest := payload[DHPublicKeySize:]
	myEndpoint, n, err := decodeEndpointField(rest)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]
	if len(rest) < 4+4+HandshakeSignatureSize {
		return nil, newFormattingError("SESSION_CREATED truncated tail (%d bytes)", len(rest))
	}
	relayTag := binary.BigEndian.Uint32(rest[0:4])
	ts := binary.BigEndian.Uint32(rest[4:8])
	sig := rest[8 : 8+HandshakeSignatureSize]

	m.mutex.Lock()
	es, ok := m.byKey[endpoint]
	if !ok || !es.outbound || es.phase != phaseRequestSent {
		m.mutex.Unlock()
		return nil, fmt.Errorf("ssu: establishment: unexpected SESSION_CREATED from %s", endpoint)
	}
	es.peerDHPublic = peerPublic
	es.myEndpoint = myEndpoint
	es.relayTag = relayTag

	if es.peerIdentity == nil || !verifyHandshake(es.peerIdentity.SigningKey, es.responderDH(), es.requesterDH(), es.responderEndpoint(), es.requesterEndpoint(), es.relayTag, ts, sig) {
		es.phase = phaseFailed
		peerIdentity := es.peerIdentity
		delete(m.byKey, endpoint)
		m.mutex.Unlock()
		if peerIdentity != nil {
			m.onFailed(peerIdentity.Hash(), endpoint)
		}
		return nil, fmt.Errorf("ssu: establishment: SESSION_CREATED signature invalid from %s", endpoint)
	}

	es.sharedSecret = es.dh.SharedSecret(peerPublic)
	es.signatureTimestamp = ts
	es.signature = sig
	es.phase = phaseCreatedReceived

	confirmTS := uint32(time.Now().Unix())
	confirmSig := signHandshake(m.identity.Private, es.responderDH(), es.requesterDH(), es.responderEndpoint(), es.requesterEndpoint(), es.relayTag, confirmTS)
	m.mutex.Unlock()

	m.log.Debugf("establishment: received SESSION_CREATED from %s", endpoint)

	out := make([]byte, 0, RouterIdentitySize+4+HandshakeSignatureSize)
	out = append(out, m.identity.Public.Bytes()...)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], confirmTS)
	out = append(out, tmp[:]...)
	out = append(out, confirmSig...)
	return out, nil
}

// HandleSessionConfirmed finalizes a handshake on the inbound side: it
// parses the requester's RouterIdentity out of the payload, verifies
// its signature over the handshake transcript, and installs the
// resulting PeerState (spec.md section 4.3).
func (m *EstablishmentManager) HandleSessionConfirmed(endpoint Endpoint, payload []byte) error {
	if len(payload) < RouterIdentitySize+4+HandshakeSignatureSize {
		return newFormattingError("SESSION_CONFIRMED truncated (%d bytes)", len(payload))
	}
	identity, err := ParseRouterIdentity(payload[:RouterIdentitySize])
	if err != nil {
		return err
	}
	rest := payload[RouterIdentitySize:]
	ts := binary.BigEndian.Uint32(rest[0:4])
	sig := rest[4 : 4+HandshakeSignatureSize]

	m.mutex.Lock()
	es, ok := m.byKey[endpoint]
	if !ok || es.outbound || es.phase != phaseCreatedSent {
		m.mutex.Unlock()
		return fmt.Errorf("ssu: establishment: unexpected SESSION_CONFIRMED from %s", endpoint)
	}

	if !verifyHandshake(identity.SigningKey, es.responderDH(), es.requesterDH(), es.responderEndpoint(), es.requesterEndpoint(), es.relayTag, ts, sig) {
		es.phase = phaseFailed
		delete(m.byKey, endpoint)
		m.mutex.Unlock()
		m.onFailed(identity.Hash(), endpoint)
		return fmt.Errorf("ssu: establishment: SESSION_CONFIRMED signature invalid from %s", endpoint)
	}

	hash := identity.Hash()
	es.peerIdentity = &identity
	es.peerHash = &hash
	es.phase = phaseConfirmedReceived
	delete(m.byKey, endpoint)
	m.mutex.Unlock()

	return m.complete(es)
}

// CompleteOutbound finalizes a handshake on the outbound side, once
// the caller has built and sent SESSION_CONFIRMED.
func (m *EstablishmentManager) CompleteOutbound(endpoint Endpoint) error {
	m.mutex.Lock()
	es, ok := m.byKey[endpoint]
	if !ok || !es.outbound || es.phase != phaseCreatedReceived {
		m.mutex.Unlock()
		return fmt.Errorf("ssu: establishment: no completed handshake for %s", endpoint)
	}
	es.phase = phaseConfirmedSent
	if es.peerIdentity != nil {
		hash := es.peerIdentity.Hash()
		es.peerHash = &hash
	}
	delete(m.byKey, endpoint)
	m.mutex.Unlock()

	return m.complete(es)
}

func (m *EstablishmentManager) complete(es *EstablishmentState) error {
	if es.peerHash == nil {
		return fmt.Errorf("ssu: establishment: completed handshake has no peer identity")
	}
	keys, err := DeriveKeyPair(es.sharedSecret, es.responderDH(), "SSU session keys")
	if err != nil {
		return err
	}
	m.onEstablished(*es.peerHash, es.endpoint, keys)
	return nil
}

func (m *EstablishmentManager) expire(endpoint Endpoint) {
	m.mutex.Lock()
	es, ok := m.byKey[endpoint]
	if ok {
		es.phase = phaseFailed
		delete(m.byKey, endpoint)
	}
	m.mutex.Unlock()
	if !ok {
		return
	}
	m.log.Infof("establishment: handshake with %s timed out", endpoint)
	if es.peerIdentity != nil {
		m.onFailed(es.peerIdentity.Hash(), endpoint)
	}
}

func (m *EstablishmentManager) InProgress(endpoint Endpoint) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.byKey[endpoint]
	return ok
}

func (m *EstablishmentManager) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.byKey)
}
