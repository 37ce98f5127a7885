/* SPDX-License-Identifier: MIT */

package ssu

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// Codec implements spec.md section 6's wire format: a 16-byte HMAC-MD5
// authenticator, a 16-byte AES IV, and an AES-256-CBC encrypted body
// whose first decrypted byte is the flag byte (payload type in the top
// four bits, rekey/extended bits below it).
//
// AES-CBC, HMAC-MD5, and the platform RNG are the primitives spec.md
// section 1 assumes are already available; this package is where that
// assumption is made concrete, directly against the standard library
// (see DESIGN.md).
type Codec struct{}

// Verify checks raw's MAC against macKey without decrypting anything.
// The Packet Handler calls this before touching PeerState so a forged
// packet never reaches key material it shouldn't (spec.md section 7.2).
// endpoint is the network address raw was received from (or, on the
// send path, is addressed to); it binds the MAC to that address the
// same way spec.md section 4.1's "addressing bytes" component does.
func (Codec) Verify(raw []byte, macKey MacKey, endpoint Endpoint) bool {
	if len(raw) < PacketHeaderSize {
		return false
	}
	receivedMAC := raw[:MACSize]
	iv := raw[MACSize : MACSize+IVSize]
	encrypted := raw[PacketHeaderSize:]

	expected := computeMAC(encrypted, iv, macKey, endpoint)
	return hmac.Equal(receivedMAC, expected)
}

// Decrypt decrypts raw into a Packet, using
// sessionKey for the AES-CBC body. Callers must call Verify (or
// otherwise already trust raw) first; Decrypt does not re-check the
// MAC.
func (Codec) Decrypt(raw []byte, sessionKey SessionKey) (*Packet, error) {
	if len(raw) < PacketHeaderSize {
		return nil, newFormattingError("packet shorter than header (%d bytes)", len(raw))
	}
	iv := raw[MACSize : MACSize+IVSize]
	encrypted := raw[PacketHeaderSize:]
	if len(encrypted) == 0 || len(encrypted)%aes.BlockSize != 0 {
		return nil, newFormattingError("encrypted body not a multiple of the block size (%d bytes)", len(encrypted))
	}

	block, err := aes.NewCipher(sessionKey[:])
	if err != nil {
		return nil, fmt.Errorf("ssu: codec: %w", err)
	}
	plain := make([]byte, len(encrypted))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, encrypted)

	padLen := int(plain[len(plain)-1])
	if padLen <= 0 || padLen > aes.BlockSize || padLen > len(plain)-1 {
		return nil, newFormattingError("invalid padding length %d", padLen)
	}
	plain = plain[:len(plain)-padLen]
	if len(plain) == 0 {
		return nil, newFormattingError("packet body empty after removing padding")
	}

	if len(plain) < 1+PacketTimestampSize {
		return nil, newFormattingError("packet body shorter than flag+timestamp (%d bytes)", len(plain))
	}

	flag := plain[0]
	return &Packet{
		PayloadType: flag >> 4,
		Flag:        flag,
		Rekey:       flag&0x08 != 0,
		Extended:    flag&0x04 != 0,
		Timestamp:   binary.BigEndian.Uint32(plain[1 : 1+PacketTimestampSize]),
		Payload:     plain[1+PacketTimestampSize:],
	}, nil
}

// Build encrypts and authenticates a packet for sending: it draws a
// fresh IV, AES-CBC-encrypts the flag byte, current timestamp, and
// payload under sessionKey, and prepends the HMAC-MD5 computed under
// macKey. endpoint is the address the packet is being sent to.
func (Codec) Build(payloadType byte, payload []byte, keys KeyPair, endpoint Endpoint) ([]byte, error) {
	flag := payloadType << 4
	plain := make([]byte, 1+PacketTimestampSize+len(payload))
	plain[0] = flag
	binary.BigEndian.PutUint32(plain[1:1+PacketTimestampSize], uint32(time.Now().Unix()))
	copy(plain[1+PacketTimestampSize:], payload)

	// Pad to a block boundary; the last padding byte records the pad
	// length so Decrypt can trim it, mirroring I2P's SSU padding
	// convention.
	padLen := aes.BlockSize - (len(plain) % aes.BlockSize)
	if padLen == 0 {
		padLen = aes.BlockSize
	}
	padded := make([]byte, len(plain)+padLen)
	copy(padded, plain)
	padded[len(padded)-1] = byte(padLen)

	block, err := aes.NewCipher(keys.SessionKey[:])
	if err != nil {
		return nil, fmt.Errorf("ssu: codec: %w", err)
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("ssu: codec: iv: %w", err)
	}
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(encrypted, padded)

	mac := computeMAC(encrypted, iv, keys.MacKey, endpoint)

	out := make([]byte, 0, MACSize+IVSize+len(encrypted))
	out = append(out, mac...)
	out = append(out, iv...)
	out = append(out, encrypted...)
	return out, nil
}

// computeMAC follows spec.md section 4.1: ciphertext, then IV, then
// the ciphertext's size XORed with a fixed protocol constant, then the
// addressing bytes of the endpoint the packet is bound to.
func computeMAC(encrypted, iv []byte, macKey MacKey, endpoint Endpoint) []byte {
	h := hmac.New(md5.New, macKey[:])
	h.Write(encrypted)
	h.Write(iv)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(encrypted))^macSizeXORConstant)
	h.Write(lenBuf[:])
	h.Write(endpoint.addressingBytes())
	return h.Sum(nil)
}
