/* SPDX-License-Identifier: MIT */

package ssu

import (
	"net"
	"time"

	"github.com/go-i2p/ssu-transport/conn"
)

// PacketHandler is C7: the single entry point for a raw datagram off
// the wire. It verifies the MAC against the right key (the peer's
// session MacKey if one exists, otherwise the local intro key),
// decrypts, checks the embedded timestamp against clockSkew, and
// dispatches by payload type (spec.md section 7.2).
//
// It takes the Peer Table's lock before the Inbound Message
// Fragments' lock, the opposite order from the Acknowledgement
// Flusher (spec.md section 2's dependency order) — but since neither
// ever holds both locks simultaneously (each operation here only
// holds one at a time, handing data to the next component only after
// releasing the previous lock), the two orders never deadlock each
// other.
type PacketHandler struct {
	codec       Codec
	peers       *PeerTable
	imf         *InboundMessageFragments
	omf         *OutboundMessageFragments
	ackFlusher  *AcknowledgementFlusher
	establisher *EstablishmentManager
	introKey    MacKey
	clockSkew   time.Duration

	sendRaw      func(endpoint Endpoint, raw []byte) error
	deliver      func(peer RouterHash, message []byte)
	onDisconnect func(peer RouterHash)
	log          Logger
}

func NewPacketHandler(
	peers *PeerTable,
	imf *InboundMessageFragments,
	omf *OutboundMessageFragments,
	ackFlusher *AcknowledgementFlusher,
	establisher *EstablishmentManager,
	introKey MacKey,
	clockSkew time.Duration,
	sendRaw func(endpoint Endpoint, raw []byte) error,
	deliver func(peer RouterHash, message []byte),
	onDisconnect func(peer RouterHash),
	log Logger,
) *PacketHandler {
	if clockSkew == 0 {
		clockSkew = DefaultClockSkewWindow
	}
	if onDisconnect == nil {
		onDisconnect = func(RouterHash) {}
	}
	return &PacketHandler{
		peers:        peers,
		imf:          imf,
		omf:          omf,
		ackFlusher:   ackFlusher,
		establisher:  establisher,
		introKey:     introKey,
		clockSkew:    clockSkew,
		sendRaw:      sendRaw,
		deliver:      deliver,
		onDisconnect: onDisconnect,
		log:          log,
	}
}

// HandlePacket processes one raw datagram received from src.
func (h *PacketHandler) HandlePacket(raw []byte, src conn.Endpoint) {
	endpoint := NewEndpoint(src)

	if peer, ok := h.peers.LookupByEndpoint(endpoint); ok {
		keys := peer.Keys()
		if h.codec.Verify(raw, keys.MacKey, endpoint) {
			h.handleVerified(raw, peer, endpoint)
			return
		}
		// Fall through: a peer with a rotated endpoint might still be
		// using the intro key briefly during re-establishment.
	}

	if h.codec.Verify(raw, h.introKey, endpoint) {
		h.handleEstablishment(raw, endpoint, src.DstIP())
		return
	}

	h.log.Debugf("packethandler: dropping unverifiable packet from %s", endpoint)
}

// withinSkew reports whether ts is close enough to wall-clock time to
// accept (spec.md section 4.1's timestamp-validation TODO, resolved in
// SPEC_FULL.md section 13).
func withinSkew(ts uint32, window time.Duration) bool {
	delta := time.Since(time.Unix(int64(ts), 0))
	if delta < 0 {
		delta = -delta
	}
	return delta <= window
}

func (h *PacketHandler) handleVerified(raw []byte, peer *PeerState, endpoint Endpoint) {
	pkt, err := h.codec.Decrypt(raw, peer.Keys().SessionKey)
	if err != nil {
		h.log.Debugf("packethandler: %v", err)
		return
	}
	if !withinSkew(pkt.Timestamp, h.clockSkew) {
		h.log.Debugf("packethandler: dropping packet from %s outside clock skew window", peer.Hash())
		return
	}
	peer.Touch(h.peers.inactivityTimeout)
	if peer.Endpoint() != endpoint {
		h.peers.Rebind(peer.Hash(), endpoint)
	}

	switch pkt.PayloadType {
	case PayloadTypeData:
		h.handleData(peer, pkt.Payload)
	case PayloadTypeSessionDestroy:
		h.log.Infof("packethandler: SESSION_DESTROY from %s", peer.Hash())
		h.peers.Remove(peer.Hash())
		h.onDisconnect(peer.Hash())
	default:
		h.log.Debugf("packethandler: unexpected payload type %d from established peer %s", pkt.PayloadType, peer.Hash())
	}
}

func (h *PacketHandler) handleEstablishment(raw []byte, endpoint Endpoint, srcIP net.IP) {
	pkt, err := h.codec.Decrypt(raw, h.introKeyAsSessionKey())
	if err != nil {
		h.log.Debugf("packethandler: establishment: %v", err)
		return
	}
	if !withinSkew(pkt.Timestamp, h.clockSkew) {
		h.log.Debugf("packethandler: establishment: dropping packet from %s outside clock skew window", endpoint)
		return
	}

	switch pkt.PayloadType {
	case PayloadTypeSessionRequest:
		created, err := h.establisher.HandleSessionRequest(endpoint, pkt.Payload, srcIP)
		if err != nil {
			h.log.Debugf("packethandler: %v", err)
			return
		}
		h.sendEstablishment(endpoint, PayloadTypeSessionCreated, created)
	case PayloadTypeSessionCreated:
		confirmed, err := h.establisher.HandleSessionCreated(endpoint, pkt.Payload)
		if err != nil {
			h.log.Debugf("packethandler: %v", err)
			return
		}
		h.sendEstablishment(endpoint, PayloadTypeSessionConfirmed, confirmed)
		if err := h.establisher.CompleteOutbound(endpoint); err != nil {
			h.log.Debugf("packethandler: %v", err)
		}
	case PayloadTypeSessionConfirmed:
		if err := h.establisher.HandleSessionConfirmed(endpoint, pkt.Payload); err != nil {
			h.log.Debugf("packethandler: %v", err)
		}
	default:
		h.log.Debugf("packethandler: unexpected establishment payload type %d", pkt.PayloadType)
	}
}

// sendEstablishment replies to a handshake message under the intro
// key, the same key every establishment-phase packet is wrapped in
// (spec.md section 6.2).
func (h *PacketHandler) sendEstablishment(endpoint Endpoint, payloadType byte, payload []byte) {
	raw, err := h.codec.Build(payloadType, payload, h.introKeyPair(), endpoint)
	if err != nil {
		h.log.Debugf("packethandler: %v", err)
		return
	}
	if err := h.sendRaw(endpoint, raw); err != nil {
		h.log.Debugf("packethandler: send: %v", err)
	}
}

// introKeyAsSessionKey is a notational convenience: SSU's intro key
// and session keys are both 32-byte AES keys used the same way by the
// codec, so establishment messages (encrypted under the intro key)
// decode with the same Decrypt path as DATA messages.
func (h *PacketHandler) introKeyAsSessionKey() SessionKey {
	var sk SessionKey
	copy(sk[:], h.introKey[:])
	return sk
}

func (h *PacketHandler) introKeyPair() KeyPair {
	var sk SessionKey
	copy(sk[:], h.introKey[:])
	return KeyPair{SessionKey: sk, MacKey: h.introKey}
}

func (h *PacketHandler) handleData(peer *PeerState, payload []byte) {
	if len(payload) == 0 {
		return
	}
	flag := payload[0]
	rest := payload[1:]

	if flag&DataFlagExplicitAck != 0 {
		rest = h.consumeExplicitAcks(peer, rest)
	}
	if flag&DataFlagAckBitfield != 0 {
		rest = h.consumeAckBitfields(peer, rest)
	}

	// A 1-byte fragment count always precedes the fragment entries,
	// even when it's zero (an ack-only packet carries no fragments).
	if len(rest) < 1 {
		return
	}
	numFragments := int(rest[0])
	rest = rest[1:]

	for i := 0; i < numFragments; i++ {
		msgID, algo, idx, isLast, isParity, data, consumed, err := parseFragmentPayload(rest)
		if err != nil {
			h.log.Debugf("packethandler: %v", err)
			return
		}
		rest = rest[consumed:]

		var complete bool
		var assembled []byte
		if isParity {
			complete, assembled = h.imf.AddParityShard(peer.Hash(), msgID, algo, idx, data)
		} else {
			complete, assembled = h.imf.AddFragment(peer.Hash(), msgID, idx, isLast, data)
		}
		if complete {
			if len(h.imf.PendingBitfields(peer.Hash())) == 0 {
				h.ackFlusher.Untrack(peer.Hash())
			}
			h.deliver(peer.Hash(), assembled)
		} else {
			h.ackFlusher.Track(peer.Hash())
		}
	}
}

func (h *PacketHandler) consumeExplicitAcks(peer *PeerState, rest []byte) []byte {
	if len(rest) < 1 {
		return rest
	}
	count := int(rest[0])
	rest = rest[1:]
	for i := 0; i < count && len(rest) >= 4; i++ {
		msgID := uint32(rest[0])<<24 | uint32(rest[1])<<16 | uint32(rest[2])<<8 | uint32(rest[3])
		rest = rest[4:]
		h.omf.DeleteState(peer.Hash(), msgID)
	}
	return rest
}

// consumeAckBitfields parses the ack-bitfield section: per message ID,
// a self-terminating run of bitfield bytes, each carrying a
// continuation flag in its high bit (spec.md section 4.4), rather than
// a separate length prefix.
func (h *PacketHandler) consumeAckBitfields(peer *PeerState, rest []byte) []byte {
	if len(rest) < 1 {
		return rest
	}
	count := int(rest[0])
	rest = rest[1:]
	for i := 0; i < count && len(rest) >= 5; i++ {
		msgID := uint32(rest[0])<<24 | uint32(rest[1])<<16 | uint32(rest[2])<<8 | uint32(rest[3])
		rest = rest[4:]

		end := 0
		for end < len(rest) && rest[end]&0x80 != 0 {
			end++
		}
		if end >= len(rest) {
			return nil
		}
		end++ // include the terminating byte (continuation bit clear)

		h.omf.AckBitfield(peer.Hash(), msgID, rest[:end])
		rest = rest[end:]
	}
	return rest
}
