package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// rsProtector wraps klauspost/reedsolomon for groups where XOR's single
// erasure budget isn't enough; dataShards fragments produce parityShards
// repair shards, tolerating up to parityShards missing fragments.
type rsProtector struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

func newReedSolomonProtector(dataShards, parityShards int) (Protector, error) {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("fec: reed-solomon setup: %w", err)
	}
	return &rsProtector{enc: enc, dataShards: dataShards, parityShards: parityShards}, nil
}

func (rs *rsProtector) Algorithm() Algorithm { return ReedSolomon }
func (rs *rsProtector) NumDataShards() int   { return rs.dataShards }
func (rs *rsProtector) NumParityShards() int { return rs.parityShards }

func (rs *rsProtector) Encode(fragments []Shard) ([]Shard, error) {
	if len(fragments) != rs.dataShards {
		return nil, fmt.Errorf("fec: rs encode expected %d fragments, got %d", rs.dataShards, len(fragments))
	}

	maxLen := 0
	for _, f := range fragments {
		if f == nil {
			return nil, fmt.Errorf("fec: rs encode received a nil fragment")
		}
		if len(f) > maxLen {
			maxLen = len(f)
		}
	}

	shards := make([][]byte, rs.dataShards+rs.parityShards)
	for i, f := range fragments {
		if len(f) == maxLen {
			shards[i] = f
			continue
		}
		padded := make([]byte, maxLen)
		copy(padded, f)
		shards[i] = padded
	}
	for i := rs.dataShards; i < rs.dataShards+rs.parityShards; i++ {
		shards[i] = make([]byte, maxLen)
	}

	if err := rs.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("fec: reed-solomon encode: %w", err)
	}

	out := make([]Shard, len(shards))
	for i, s := range shards {
		out[i] = Shard(s)
	}
	return out, nil
}

func (rs *rsProtector) Decode(shards []Shard) ([]Shard, error) {
	total := rs.dataShards + rs.parityShards
	if len(shards) != total {
		return nil, fmt.Errorf("fec: rs decode expected %d shards, got %d", total, len(shards))
	}

	raw := make([][]byte, total)
	maxLen := 0
	for i, s := range shards {
		if s != nil {
			raw[i] = []byte(s)
			if len(s) > maxLen {
				maxLen = len(s)
			}
		}
	}
	for i, s := range raw {
		if s != nil && len(s) < maxLen {
			padded := make([]byte, maxLen)
			copy(padded, s)
			raw[i] = padded
		}
	}

	if err := rs.enc.ReconstructData(raw); err != nil {
		return nil, fmt.Errorf("fec: reed-solomon reconstruct: %w", err)
	}

	out := make([]Shard, rs.dataShards)
	for i := 0; i < rs.dataShards; i++ {
		if raw[i] == nil {
			return nil, fmt.Errorf("fec: rs decode: data shard %d still missing after reconstruct", i)
		}
		out[i] = Shard(raw[i])
	}
	return out, nil
}
