/* SPDX-License-Identifier: MIT
 *
 * Adapted from wireguard-go's device/constants.go.
 */

package ssu

import "time"

/* Wire-format constants (spec.md sections 3, 4, 6) */

const (
	RouterHashSize   = 32
	SessionKeySize   = 32
	MacKeySize       = 32
	DHPublicKeySize  = 256
	IVSize           = 16
	MACSize          = 16
	PacketHeaderSize = MACSize + IVSize

	MaxFragmentsPerMessage = 64 // fragment/shard index is a 6-bit (0..63) field
	MaxPacketSize          = 2048
	FragmentMTU            = 1024 // payload bytes of I2NP data per DATA packet, approximately

	PayloadTypeSessionRequest   = 0
	PayloadTypeSessionCreated   = 1
	PayloadTypeSessionConfirmed = 2
	PayloadTypeRelayRequest     = 3
	PayloadTypeData             = 4
	PayloadTypePeerTest         = 5
	PayloadTypeSessionDestroy   = 8

	// DATA payload flag bits, within the first flag byte of the payload.
	DataFlagExplicitAck = 1 << 7
	DataFlagAckBitfield = 1 << 6
	DataFlagWantReply   = 1 << 3
	DataFlagExtended    = 1 << 2

	// PacketTimestampSize is the 4-byte wall-clock timestamp every
	// decrypted packet carries immediately after the flag byte
	// (spec.md section 4.1).
	PacketTimestampSize = 4

	// macSizeXORConstant folds into the MAC's size field (spec.md
	// section 4.1: "size ⊕ protocol-constant"). original_source carries
	// no Packet.cpp defining this value, so it is an implementer
	// choice fixed here as the wire format version (see DESIGN.md).
	macSizeXORConstant uint16 = 1

	// RouterIdentitySize is the signing public key carried by
	// SESSION_CONFIRMED and verified by an outbound peer's caller
	// before a handshake begins (spec.md section 4.3).
	RouterIdentitySize = 32

	// HandshakeSignatureSize is an ed25519 signature over the
	// handshake transcript (spec.md section 4.3, step 3).
	HandshakeSignatureSize = 64
)

/* Timing constants (spec.md sections 4, 5) */

const (
	// InboundFragmentTTL bounds how long a half-assembled InboundMessageState
	// may sit waiting for its remaining fragments (spec.md section 4.4).
	InboundFragmentTTL = 10 * time.Second

	// AckFlushInterval is the Acknowledgement Flusher's sweep period
	// (spec.md section 4.6). The flusher re-arms itself relative to its
	// own last firing time, not "now", so cadence doesn't drift under load.
	AckFlushInterval = 1 * time.Second

	// MaxRetransmitAttempts bounds OMF's retransmission of an outbound
	// message before it is abandoned (spec.md section 4.5).
	MaxRetransmitAttempts = 5

	// InitialRetransmitTimeout is the first retransmit backoff; each
	// subsequent attempt doubles it, capped at MaxRetransmitTimeout.
	InitialRetransmitTimeout = 3 * time.Second
	MaxRetransmitTimeout     = 20 * time.Second

	// EstablishmentTimeout bounds a single handshake attempt (spec.md
	// section 4.3).
	EstablishmentTimeout = 15 * time.Second

	// DefaultInactivityTimeout is how long a PeerState may go without a
	// verified packet before it is destroyed (spec.md section 4.2).
	DefaultInactivityTimeout = 5 * time.Minute

	// DefaultClockSkewWindow bounds the acceptable drift of a packet's
	// embedded timestamp from wall-clock time (spec.md section 4.1's
	// timestamp-validation TODO; resolved in SPEC_FULL.md section 13).
	DefaultClockSkewWindow = 2 * time.Minute
)

/* Resource-bound constants (spec.md section 5; SPEC_FULL.md section 13) */

const (
	// DefaultMaxInboundBytes bounds the bytes a single peer may have
	// buffered across all of its half-assembled InboundMessageStates.
	DefaultMaxInboundBytes = 1 << 20 // 1 MiB

	// DefaultMaxTotalInboundBytes bounds the same total across all peers.
	DefaultMaxTotalInboundBytes = 32 << 20 // 32 MiB

	// MaxPeers is a sanity ceiling for the Peer Table's size;
	// PeerTable.Insert does not check it.
	MaxPeers = 1 << 16
)
