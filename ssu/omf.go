/* SPDX-License-Identifier: MIT */

package ssu

import (
	"fmt"
	"sync"

	"github.com/go-i2p/ssu-transport/fec"
)

type outboundKey struct {
	peer  RouterHash
	msgID uint32
}

// SendFunc is how OutboundMessageFragments hands a built DATA payload
// to the wire; the Transport facade supplies one bound to a specific
// peer's Codec and PeerState.
type SendFunc func(peer RouterHash, payload []byte) error

// OutboundMessageFragments is C5: it fragments outbound I2NP messages,
// tracks their ACK state, and retransmits unacked fragments with
// exponential backoff up to MaxRetransmitAttempts (spec.md section
// 4.5; grounded on original_source's OutboundMessageDispatcher.cpp and
// OutboundMessageFragments.h). Loss-rate-dependent FEC parity shards
// are sent alongside the data fragments per the teacher's fec package
// thresholds (SPEC_FULL.md section 11); only the data fragments are
// tracked for ACK and retransmission, parity is fire-and-forget.
//
// Its lock is taken independently of the Peer Table's; unlike IMF, no
// path acquires both at once in the same order the flusher uses, so
// no ordering is documented here beyond "never held across a Send".
type OutboundMessageFragments struct {
	mutex sync.Mutex

	states map[outboundKey]*OutboundMessageState
	nextID map[RouterHash]uint32

	send SendFunc
	log  Logger
}

func NewOutboundMessageFragments(send SendFunc, log Logger) *OutboundMessageFragments {
	return &OutboundMessageFragments{
		states: make(map[outboundKey]*OutboundMessageState),
		nextID: make(map[RouterHash]uint32),
		send:   send,
		log:    log,
	}
}

// SendMessage fragments message, optionally protects the fragment
// group with FEC chosen from lossRate, sends the data fragments
// (and, if protected, the parity shards), and registers an
// OutboundMessageState to track ACKs and drive retransmission of the
// data fragments.
func (o *OutboundMessageFragments) SendMessage(peer RouterHash, message []byte, lossRate float64) (msgID uint32, err error) {
	fragments := fragmentMessage(message, FragmentMTU)
	if len(fragments) > MaxFragmentsPerMessage {
		return 0, fmt.Errorf("ssu: omf: message needs %d fragments, max is %d", len(fragments), MaxFragmentsPerMessage)
	}

	algo := fec.None
	var parityShards [][]byte
	if chosen := fec.SelectAlgorithm(lossRate); chosen != fec.None && len(fragments) > 1 {
		if shards, perr := protectFragments(chosen, fragments); perr != nil {
			o.log.Errorf("omf: fec setup failed, sending unprotected: %v", perr)
		} else {
			algo = chosen
			parityShards = shards
		}
	}

	o.mutex.Lock()
	id := o.nextID[peer] + 1
	o.nextID[peer] = id
	key := outboundKey{peer: peer, msgID: id}
	state := newOutboundMessageState(peer, id, fragments, algo, func() { o.retransmit(peer, id) })
	o.states[key] = state
	state.timer.Mod(InitialRetransmitTimeout)
	o.mutex.Unlock()

	for n, frag := range fragments {
		entry := buildFragmentPayload(id, algo, n, n == len(fragments)-1, false, frag)
		if err := o.send(peer, wrapSingleFragment(entry)); err != nil {
			return id, fmt.Errorf("ssu: omf: send fragment %d: %w", n, err)
		}
	}
	for n, shard := range parityShards {
		entry := buildFragmentPayload(id, algo, n, false, true, shard)
		if err := o.send(peer, wrapSingleFragment(entry)); err != nil {
			o.log.Errorf("omf: send parity shard %d to %s failed: %v", n, peer, err)
		}
	}
	return id, nil
}

// wrapSingleFragment prepends the flag byte (no piggy-backed acks)
// and the 1-byte fragment count spec.md section 4.4 requires before a
// DATA payload's fragment entries, for a packet carrying exactly one
// entry.
func wrapSingleFragment(entry []byte) []byte {
	out := make([]byte, 0, 2+len(entry))
	out = append(out, 0, 1)
	return append(out, entry...)
}

// protectFragments builds repair shards for fragments under algo,
// returning just the parity portion (the data portion is unchanged
// and already held by the caller).
func protectFragments(algo fec.Algorithm, fragments [][]byte) ([][]byte, error) {
	protector, err := fec.NewProtector(algo, len(fragments))
	if err != nil {
		return nil, err
	}
	shards := make([]fec.Shard, len(fragments))
	for i, f := range fragments {
		shards[i] = fec.Shard(f)
	}
	encoded, err := protector.Encode(shards)
	if err != nil {
		return nil, err
	}
	if len(encoded) <= len(fragments) {
		return nil, nil
	}
	out := make([][]byte, len(encoded)-len(fragments))
	for i, s := range encoded[len(fragments):] {
		out[i] = []byte(s)
	}
	return out, nil
}

// AckFragment applies an explicit single-fragment ACK, deleting the
// message's state once every fragment has been acknowledged.
func (o *OutboundMessageFragments) AckFragment(peer RouterHash, msgID uint32, fragNum int) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	key := outboundKey{peer: peer, msgID: msgID}
	state, ok := o.states[key]
	if !ok {
		return
	}
	if state.ackFragment(fragNum) {
		o.deleteStateLocked(key, state)
	}
}

// AckBitfield applies a partial-ACK bitfield, deleting the message's
// state once every fragment has been acknowledged.
func (o *OutboundMessageFragments) AckBitfield(peer RouterHash, msgID uint32, bitfield []byte) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	key := outboundKey{peer: peer, msgID: msgID}
	state, ok := o.states[key]
	if !ok {
		return
	}
	if state.ackBitfield(bitfield) {
		o.deleteStateLocked(key, state)
	}
}

// DeleteState forcibly discards a message's retransmission state,
// exposed for the Packet Handler's explicit-ACK handling the way
// original_source's OutboundMessageFragments exposed a friend-only
// erase to AcknowledgementManager (SPEC_FULL.md section 12).
func (o *OutboundMessageFragments) DeleteState(peer RouterHash, msgID uint32) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	key := outboundKey{peer: peer, msgID: msgID}
	if state, ok := o.states[key]; ok {
		o.deleteStateLocked(key, state)
	}
}

func (o *OutboundMessageFragments) deleteStateLocked(key outboundKey, state *OutboundMessageState) {
	delete(o.states, key)
	state.destroy()
}

func (o *OutboundMessageFragments) retransmit(peer RouterHash, msgID uint32) {
	o.mutex.Lock()
	key := outboundKey{peer: peer, msgID: msgID}
	state, ok := o.states[key]
	if !ok {
		o.mutex.Unlock()
		return
	}
	state.attempts++
	if state.attempts > MaxRetransmitAttempts {
		o.log.Infof("omf: abandoning message %d to %s after %d attempts", msgID, peer, state.attempts)
		o.deleteStateLocked(key, state)
		o.mutex.Unlock()
		return
	}
	pending := state.pendingFragments()
	backoff := InitialRetransmitTimeout << uint(state.attempts)
	if backoff > MaxRetransmitTimeout {
		backoff = MaxRetransmitTimeout
	}
	state.timer.Mod(backoff)
	total := len(state.fragments)
	algo := state.algo
	o.mutex.Unlock()

	for _, frag := range pending {
		n := indexOfFragment(state.fragments, frag)
		entry := buildFragmentPayload(msgID, algo, n, n == total-1, false, frag)
		if err := o.send(peer, wrapSingleFragment(entry)); err != nil {
			o.log.Errorf("omf: retransmit to %s failed: %v", peer, err)
			return
		}
	}
}

func (o *OutboundMessageFragments) Len() int {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return len(o.states)
}

func (o *OutboundMessageFragments) Close() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	for _, s := range o.states {
		s.destroy()
	}
	o.states = make(map[outboundKey]*OutboundMessageState)
}

func fragmentMessage(message []byte, mtu int) [][]byte {
	if len(message) == 0 {
		return [][]byte{{}}
	}
	var out [][]byte
	for off := 0; off < len(message); off += mtu {
		end := off + mtu
		if end > len(message) {
			end = len(message)
		}
		out = append(out, message[off:end])
	}
	return out
}

// buildFragmentPayload lays out one DATA message fragment entry:
// message ID, an FEC algorithm byte, a flag byte packing the
// fragment/shard index into the low 6 bits with the "last data
// fragment" marker in bit 7 and the "parity shard" marker in bit 6, a
// 2-byte data length, then the fragment bytes (spec.md section 6.3;
// parity framing and the length prefix, which lets several entries
// share one DATA packet, are SPEC_FULL.md section 11/12 additions).
func buildFragmentPayload(msgID uint32, algo fec.Algorithm, idx int, isLast bool, isParity bool, data []byte) []byte {
	out := make([]byte, 4+1+1+2+len(data))
	out[0] = byte(msgID >> 24)
	out[1] = byte(msgID >> 16)
	out[2] = byte(msgID >> 8)
	out[3] = byte(msgID)
	out[4] = byte(algo)
	flag := byte(idx & 0x3f)
	if isLast {
		flag |= 0x80
	}
	if isParity {
		flag |= 0x40
	}
	out[5] = flag
	out[6] = byte(len(data) >> 8)
	out[7] = byte(len(data))
	copy(out[8:], data)
	return out
}

// parseFragmentPayload is buildFragmentPayload's inverse; the Packet
// Handler calls it on each DATA message fragment entry in turn,
// reporting how many bytes of payload the entry consumed so the
// caller can advance to the next one.
func parseFragmentPayload(payload []byte) (msgID uint32, algo fec.Algorithm, idx int, isLast bool, isParity bool, data []byte, consumed int, err error) {
	if len(payload) < 8 {
		err = newFormattingError("DATA fragment shorter than header (%d bytes)", len(payload))
		return
	}
	msgID = uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
	algo = fec.Algorithm(payload[4])
	flag := payload[5]
	idx = int(flag & 0x3f)
	isLast = flag&0x80 != 0
	isParity = flag&0x40 != 0
	dataLen := int(payload[6])<<8 | int(payload[7])
	if len(payload) < 8+dataLen {
		err = newFormattingError("DATA fragment truncated: want %d bytes, have %d", dataLen, len(payload)-8)
		return
	}
	data = payload[8 : 8+dataLen]
	consumed = 8 + dataLen
	return
}

func indexOfFragment(fragments [][]byte, target []byte) int {
	for i, f := range fragments {
		if len(f) == len(target) && (len(f) == 0 || &f[0] == &target[0]) {
			return i
		}
	}
	return 0
}
