package fec

import (
	"errors"
	"fmt"
)

// xorProtector is a single-parity-shard FEC scheme: dataShards fragments
// produce one XOR parity shard, and any single missing fragment can be
// reconstructed from the rest plus the parity shard.
type xorProtector struct {
	dataShards int
}

func newXORProtector(dataShards int) (Protector, error) {
	if dataShards <= 0 {
		return nil, errors.New("fec: dataShards must be positive")
	}
	return &xorProtector{dataShards: dataShards}, nil
}

func (x *xorProtector) Algorithm() Algorithm { return XOR }
func (x *xorProtector) NumDataShards() int   { return x.dataShards }
func (x *xorProtector) NumParityShards() int { return 1 }

func (x *xorProtector) Encode(fragments []Shard) ([]Shard, error) {
	if len(fragments) != x.dataShards {
		return nil, fmt.Errorf("fec: xor encode expected %d fragments, got %d", x.dataShards, len(fragments))
	}

	maxLen := 0
	for _, f := range fragments {
		if f == nil {
			return nil, errors.New("fec: xor encode received a nil fragment")
		}
		if len(f) > maxLen {
			maxLen = len(f)
		}
	}

	parity := make(Shard, maxLen)
	padded := make(Shard, maxLen)
	for _, f := range fragments {
		copy(padded, f)
		for i := len(f); i < maxLen; i++ {
			padded[i] = 0
		}
		for i := 0; i < maxLen; i++ {
			parity[i] ^= padded[i]
		}
	}

	out := make([]Shard, x.dataShards+1)
	copy(out, fragments)
	out[x.dataShards] = parity
	return out, nil
}

func (x *xorProtector) Decode(shards []Shard) ([]Shard, error) {
	if len(shards) != x.dataShards+1 {
		return nil, fmt.Errorf("fec: xor decode expected %d shards, got %d", x.dataShards+1, len(shards))
	}

	missing := -1
	maxLen := 0
	for i, s := range shards {
		if s == nil {
			if missing != -1 {
				return nil, fmt.Errorf("fec: xor decode cannot reconstruct more than one erasure")
			}
			missing = i
			continue
		}
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}

	if missing == -1 {
		return shards[:x.dataShards], nil
	}

	reconstructed := make(Shard, maxLen)
	padded := make(Shard, maxLen)
	for i, s := range shards {
		if i == missing {
			continue
		}
		copy(padded, s)
		for j := len(s); j < maxLen; j++ {
			padded[j] = 0
		}
		for j := 0; j < maxLen; j++ {
			reconstructed[j] ^= padded[j]
		}
	}

	if missing == x.dataShards {
		// the parity shard itself was the erasure; data is already intact
		return shards[:x.dataShards], nil
	}

	out := make([]Shard, x.dataShards)
	copy(out, shards[:x.dataShards])
	out[missing] = reconstructed
	return out, nil
}
