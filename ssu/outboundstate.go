/* SPDX-License-Identifier: MIT */

package ssu

import (
	"time"

	"github.com/go-i2p/ssu-transport/fec"
)

// OutboundMessageState tracks one outbound I2NP message's fragments
// awaiting ACK (spec.md section 3.5). ackedFragments is cleared bit by
// bit as partial ACKs arrive; the message is done once every fragment
// is acked or the retry budget is exhausted.
type OutboundMessageState struct {
	peer  RouterHash
	msgID uint32

	fragments      [][]byte
	ackedFragments []bool
	remaining      int

	// algo records which FEC scheme (if any) protected this group, so
	// retransmitted fragments carry the same header the original send
	// did.
	algo fec.Algorithm

	attempts int
	timer    *Timer

	createdAt time.Time
}

func newOutboundMessageState(peer RouterHash, msgID uint32, fragments [][]byte, algo fec.Algorithm, onRetransmit func()) *OutboundMessageState {
	acked := make([]bool, len(fragments))
	return &OutboundMessageState{
		peer:           peer,
		msgID:          msgID,
		fragments:      fragments,
		ackedFragments: acked,
		remaining:      len(fragments),
		algo:           algo,
		timer:          NewTimer(onRetransmit),
		createdAt:      time.Now(),
	}
}

// ackFragment marks fragment n acked and reports whether every
// fragment is now acked.
func (s *OutboundMessageState) ackFragment(n int) bool {
	if n < 0 || n >= len(s.ackedFragments) {
		return s.remaining == 0
	}
	if !s.ackedFragments[n] {
		s.ackedFragments[n] = true
		s.remaining--
	}
	return s.remaining == 0
}

// ackBitfield applies a partial-ACK bitfield in the wire's packed
// format (7 data bits per byte, fragment i's bit at position
// (6 - i%7) of byte i/7, continuation bit 7 set on all but the final
// byte) and reports whether the message is now fully acked.
func (s *OutboundMessageState) ackBitfield(bitfield []byte) bool {
	for i := range s.ackedFragments {
		byteIdx := i / 7
		if byteIdx >= len(bitfield) {
			break
		}
		j := uint(i % 7)
		if bitfield[byteIdx]&(1<<(6-j)) != 0 {
			s.ackFragment(i)
		}
	}
	return s.remaining == 0
}

// pendingFragments returns the fragments still unacked, for
// retransmission.
func (s *OutboundMessageState) pendingFragments() [][]byte {
	out := make([][]byte, 0, s.remaining)
	for i, acked := range s.ackedFragments {
		if !acked {
			out = append(out, s.fragments[i])
		}
	}
	return out
}

func (s *OutboundMessageState) destroy() {
	s.timer.Del()
}
