/* SPDX-License-Identifier: MIT */

package ssu

import (
	"time"

	"github.com/go-i2p/ssu-transport/fec"
)

// InboundMessageState tracks one partially-reassembled I2NP message
// (spec.md section 3.4). Fragments arrive out of order; fragmentsSeen
// tracks which of the up-to-MaxFragmentsPerMessage slots are filled,
// and totalFragments is only known once the fragment flagged "last"
// arrives. If the sender protected the group with FEC (SPEC_FULL.md
// section 11), parity shards are held separately and used to
// reconstruct any still-missing data fragments once enough shards of
// either kind have arrived.
type InboundMessageState struct {
	peer   RouterHash
	msgID  uint32
	expiry *Timer

	fragments      [MaxFragmentsPerMessage][]byte
	fragmentsSeen  [MaxFragmentsPerMessage]bool
	totalFragments int // 0 until the last fragment has been seen
	received       int

	algo         fec.Algorithm
	parityShards map[int][]byte

	size int // total bytes currently held, for the per-peer byte cap

	createdAt time.Time
}

func newInboundMessageState(peer RouterHash, msgID uint32, onExpire func()) *InboundMessageState {
	return &InboundMessageState{
		peer:         peer,
		msgID:        msgID,
		expiry:       NewTimer(onExpire),
		parityShards: make(map[int][]byte),
		createdAt:    time.Now(),
	}
}

// addFragment stores fragment number n (isLast marks the final
// fragment of the message) and reports whether the message is now
// complete.
func (s *InboundMessageState) addFragment(n int, isLast bool, data []byte) (complete bool, addedBytes int) {
	if s.fragmentsSeen[n] {
		return s.isComplete(), 0
	}
	s.fragments[n] = data
	s.fragmentsSeen[n] = true
	s.received++
	s.size += len(data)
	if isLast {
		s.totalFragments = n + 1
	}
	return s.isComplete(), len(data)
}

// addParityShard stores a FEC repair shard at parity index n (0-based
// among the parity shards, not the data fragments) produced under
// algo.
func (s *InboundMessageState) addParityShard(algo fec.Algorithm, n int, data []byte) int {
	if _, ok := s.parityShards[n]; ok {
		return 0
	}
	s.algo = algo
	s.parityShards[n] = data
	s.size += len(data)
	return len(data)
}

func (s *InboundMessageState) isComplete() bool {
	if s.totalFragments == 0 {
		return false
	}
	return s.received >= s.totalFragments
}

// tryReconstruct attempts to fill in missing data fragments from
// parity shards, once the last fragment has been seen and at least one
// parity shard is held; the FEC decoder decides whether the shards on
// hand suffice. It reports whether the message is complete afterward.
func (s *InboundMessageState) tryReconstruct() bool {
	if s.isComplete() {
		return true
	}
	if s.totalFragments == 0 || s.algo == fec.None {
		return false
	}

	protector, err := fec.NewProtector(s.algo, s.totalFragments)
	if err != nil {
		return false
	}
	if len(s.parityShards) < 1 {
		return false
	}

	total := s.totalFragments + protector.NumParityShards()
	shards := make([]fec.Shard, total)
	for i := 0; i < s.totalFragments; i++ {
		if s.fragmentsSeen[i] {
			shards[i] = fec.Shard(s.fragments[i])
		}
	}
	for idx, data := range s.parityShards {
		pos := s.totalFragments + idx
		if pos < total {
			shards[pos] = fec.Shard(data)
		}
	}

	decoded, err := protector.Decode(shards)
	if err != nil {
		return false
	}
	for i := 0; i < s.totalFragments; i++ {
		if !s.fragmentsSeen[i] {
			s.fragments[i] = []byte(decoded[i])
			s.fragmentsSeen[i] = true
			s.received++
		}
	}
	return s.isComplete()
}

// assemble concatenates fragments 0..totalFragments-1 in order. Only
// valid once isComplete() is true.
func (s *InboundMessageState) assemble() []byte {
	out := make([]byte, 0, s.size)
	for i := 0; i < s.totalFragments; i++ {
		out = append(out, s.fragments[i]...)
	}
	return out
}

// missingBitfield returns spec.md section 4.4's partial-ACK bitfield
// format: 7 data bits per byte, fragment i's bit living at position
// (6 - i%7) of byte i/7 (the high bit of each byte is a continuation
// flag, set on every byte but the last).
func (s *InboundMessageState) missingBitfield() []byte {
	n := s.totalFragments
	for i := len(s.fragmentsSeen) - 1; i >= n; i-- {
		if s.fragmentsSeen[i] {
			n = i + 1
			break
		}
	}
	if n == 0 {
		return nil
	}
	nBytes := (n + 6) / 7
	out := make([]byte, nBytes)
	for i := 0; i < n; i++ {
		if !s.fragmentsSeen[i] {
			continue
		}
		byteIdx := i / 7
		j := uint(i % 7)
		out[byteIdx] |= 1 << (6 - j)
	}
	for i := 0; i < nBytes-1; i++ {
		out[i] |= 0x80
	}
	return out
}

func (s *InboundMessageState) destroy() {
	s.expiry.Del()
}
