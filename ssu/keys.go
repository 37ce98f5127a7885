/* SPDX-License-Identifier: MIT */

package ssu

import "encoding/hex"

// RouterHash identifies a peer: the SHA-256 of its router identity
// (spec.md section 3.1). It doubles as the Peer Table's primary key.
type RouterHash [RouterHashSize]byte

func (h RouterHash) String() string {
	return hex.EncodeToString(h[:])
}

// SessionKey is the symmetric AES-256 key shared by a PeerState's two
// endpoints, derived from the DH exchange during establishment
// (spec.md section 3.6).
type SessionKey [SessionKeySize]byte

// MacKey is the HMAC-MD5 key used to authenticate packets exchanged
// with a peer (spec.md section 3.6). It is derived alongside
// SessionKey from the same DH shared secret.
type MacKey [MacKeySize]byte

// KeyPair bundles the two keys produced by a single key-derivation
// step; EstablishmentState carries one, PeerState carries the pair
// that survives past the handshake.
type KeyPair struct {
	SessionKey SessionKey
	MacKey     MacKey
}
