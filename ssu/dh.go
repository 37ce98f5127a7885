/* SPDX-License-Identifier: MIT */

package ssu

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// elgp is the 2048-bit MODP group (RFC 3526, Group 14) I2P uses for its
// classical Diffie-Hellman exchange. Wire-format public keys are fixed
// at DHPublicKeySize (256) bytes, which curve25519 cannot produce, so
// this is math/big modular exponentiation rather than the teacher's
// x/crypto/curve25519: no ecosystem DH library emits this wire format
// (see DESIGN.md).
var elgp = mustHex(
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD" +
		"129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519" +
		"B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7" +
		"EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F" +
		"24117C4B1FE649286651ECE45B3DC2007CB8A163BF0598DA48361C5" +
		"5D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB9E" +
		"D529077096966D670C354E4ABC9804F1746C08CA18217C32905E462" +
		"E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
		"DE2BCBF6955817183995497CEA956AE515D2261898FA051015728E5" +
		"A8AACAA68FFFFFFFFFFFFFFFF",
)

var elgg = big.NewInt(2)

func mustHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("ssu: invalid embedded DH group prime")
	}
	return n
}

// DHKeyPair is one side's ephemeral Diffie-Hellman keypair for a
// single establishment attempt (spec.md section 3.5, SESSION_REQUEST /
// SESSION_CREATED).
type DHKeyPair struct {
	Private *big.Int
	Public  []byte // DHPublicKeySize bytes, big-endian, zero-padded
}

// GenerateDHKeyPair draws a private exponent and computes the
// corresponding public value g^x mod p.
func GenerateDHKeyPair() (*DHKeyPair, error) {
	// A private exponent of the same bit length as the group is more
	// than sufficient entropy and keeps modexp cost bounded.
	buf := make([]byte, DHPublicKeySize)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("ssu: dh keygen: %w", err)
	}
	x := new(big.Int).SetBytes(buf)
	x.Mod(x, new(big.Int).Sub(elgp, big.NewInt(1)))
	if x.Sign() == 0 {
		x.SetInt64(1)
	}

	pub := new(big.Int).Exp(elgg, x, elgp)
	return &DHKeyPair{
		Private: x,
		Public:  padTo(pub.Bytes(), DHPublicKeySize),
	}, nil
}

// SharedSecret computes this keypair's side of g^(xy) mod p given the
// peer's public value.
func (kp *DHKeyPair) SharedSecret(peerPublic []byte) []byte {
	y := new(big.Int).SetBytes(peerPublic)
	secret := new(big.Int).Exp(y, kp.Private, elgp)
	return padTo(secret.Bytes(), DHPublicKeySize)
}

func padTo(b []byte, n int) []byte {
	if len(b) >= n {
		return b[len(b)-n:]
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

// DeriveKeyPair turns a raw DH shared secret into the SessionKey/MacKey
// pair a PeerState uses for the life of the session. The teacher's
// Noise construction derives its chain keys with blake2s-based
// KDF1/KDF2, which are specific to Noise_IKpsk2; SSU's AES-CBC/HMAC-MD5
// wire format has no such construction, so this uses a generic
// HKDF-SHA256 expansion instead (see DESIGN.md).
func DeriveKeyPair(sharedSecret []byte, salt []byte, info string) (KeyPair, error) {
	h := hkdf.New(sha256.New, sharedSecret, salt, []byte(info))
	var kp KeyPair
	if _, err := io.ReadFull(h, kp.SessionKey[:]); err != nil {
		return KeyPair{}, fmt.Errorf("ssu: hkdf session key: %w", err)
	}
	if _, err := io.ReadFull(h, kp.MacKey[:]); err != nil {
		return KeyPair{}, fmt.Errorf("ssu: hkdf mac key: %w", err)
	}
	return kp, nil
}
