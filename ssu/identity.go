/* SPDX-License-Identifier: MIT */

package ssu

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// RouterIdentity is the full form of a peer's long-term public
// identity (GLOSSARY); RouterHash is its digest. The out-of-scope
// persistent router-info database (spec.md section 1) is responsible
// for loading and trusting these; this package only verifies that a
// handshake's signature was made by the claimed key.
type RouterIdentity struct {
	SigningKey ed25519.PublicKey
}

// Hash computes the RouterHash a PeerState and EstablishmentState key
// their state by (spec.md section 3.1).
func (id RouterIdentity) Hash() RouterHash {
	return sha256.Sum256(id.SigningKey)
}

func (id RouterIdentity) Bytes() []byte {
	out := make([]byte, RouterIdentitySize)
	copy(out, id.SigningKey)
	return out
}

// ParseRouterIdentity reads a RouterIdentity off the wire, as carried
// by SESSION_CONFIRMED (spec.md section 4.3).
func ParseRouterIdentity(b []byte) (RouterIdentity, error) {
	if len(b) < RouterIdentitySize {
		return RouterIdentity{}, newFormattingError("router identity shorter than %d bytes", RouterIdentitySize)
	}
	key := make(ed25519.PublicKey, RouterIdentitySize)
	copy(key, b[:RouterIdentitySize])
	return RouterIdentity{SigningKey: key}, nil
}

// LocalIdentity pairs a router's public identity with the private key
// needed to sign handshake confirmations. The out-of-scope identity
// loading layer (spec.md section 1) is expected to supply one at
// startup; GenerateLocalIdentity exists for tests and first-run
// bootstrapping.
type LocalIdentity struct {
	Public  RouterIdentity
	Private ed25519.PrivateKey
}

func GenerateLocalIdentity() (LocalIdentity, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return LocalIdentity{}, fmt.Errorf("ssu: identity: %w", err)
	}
	return LocalIdentity{Public: RouterIdentity{SigningKey: pub}, Private: priv}, nil
}

// handshakeTranscript builds the byte string spec.md section 4.3 step
// 3 signs and verifies: the responder's and requester's DH publics,
// their endpoints as learned during the handshake, the relay tag, and
// a signature timestamp. Both SESSION_CREATED's and SESSION_CONFIRMED's
// signatures cover this same transcript shape, differing only in
// which side signs and which timestamp is current.
func handshakeTranscript(responderDH, requesterDH []byte, responderEP, requesterEP Endpoint, relayTag, timestamp uint32) []byte {
	buf := make([]byte, 0, len(responderDH)+len(requesterDH)+18+18+4+4)
	buf = append(buf, responderDH...)
	buf = append(buf, requesterDH...)
	buf = append(buf, responderEP.addressingBytes()...)
	buf = append(buf, requesterEP.addressingBytes()...)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], relayTag)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], timestamp)
	buf = append(buf, tmp[:]...)
	return buf
}

func signHandshake(priv ed25519.PrivateKey, responderDH, requesterDH []byte, responderEP, requesterEP Endpoint, relayTag, timestamp uint32) []byte {
	return ed25519.Sign(priv, handshakeTranscript(responderDH, requesterDH, responderEP, requesterEP, relayTag, timestamp))
}

func verifyHandshake(pub ed25519.PublicKey, responderDH, requesterDH []byte, responderEP, requesterEP Endpoint, relayTag, timestamp uint32, sig []byte) bool {
	return ed25519.Verify(pub, handshakeTranscript(responderDH, requesterDH, responderEP, requesterEP, relayTag, timestamp), sig)
}
