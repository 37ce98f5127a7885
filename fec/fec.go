// Package fec provides optional forward-error-correction over an outbound
// message's fragments, so that a single lost UDP datagram doesn't have to
// wait a full retransmit round-trip (spec.md section 4.5) before OMF can
// hand the message to the peer. It is adapted from wireguard-go's fec
// package, repointed from tunnel-payload protection to SSU fragment
// protection.
package fec

import "fmt"

// Algorithm identifies which FEC scheme produced a set of shards.
type Algorithm int

const (
	None Algorithm = iota
	XOR
	ReedSolomon
	RaptorQ
)

func (a Algorithm) String() string {
	switch a {
	case XOR:
		return "xor"
	case ReedSolomon:
		return "reed-solomon"
	case RaptorQ:
		return "raptorq"
	default:
		return "none"
	}
}

// Shard is a single FEC-coded unit: either an original fragment or a
// repair shard derived from a group of fragments.
type Shard []byte

// Protector turns a group of fragments into data+repair shards and back.
// A nil entry in the slice passed to Decode denotes an erasure (a fragment
// that never arrived).
type Protector interface {
	Algorithm() Algorithm
	NumDataShards() int
	NumParityShards() int

	// Encode takes exactly NumDataShards() fragments and returns them
	// followed by NumParityShards() repair shards.
	Encode(fragments []Shard) ([]Shard, error)

	// Decode takes NumDataShards()+NumParityShards() shards, with erasures
	// represented as nil, and reconstructs the original fragments.
	Decode(shards []Shard) ([]Shard, error)
}

// SelectAlgorithm picks an FEC scheme from an observed fragment loss rate,
// following the thresholds carried over from the teacher's constants.go
// (NoFECMaxLossRate / XORFECMaxLossRate / RSFECMaxLossRate).
func SelectAlgorithm(lossRate float64) Algorithm {
	switch {
	case lossRate <= NoFECMaxLossRate:
		return None
	case lossRate <= XORFECMaxLossRate:
		return XOR
	case lossRate <= RSFECMaxLossRate:
		return ReedSolomon
	default:
		return RaptorQ
	}
}

// NewProtector builds a Protector for dataShards fragments under algo.
func NewProtector(algo Algorithm, dataShards int) (Protector, error) {
	switch algo {
	case XOR:
		return newXORProtector(dataShards)
	case ReedSolomon:
		return newReedSolomonProtector(dataShards, parityShardsFor(dataShards))
	case RaptorQ:
		return newRaptorQProtector(dataShards)
	default:
		return nil, fmt.Errorf("fec: no protector for algorithm %s", algo)
	}
}

func parityShardsFor(dataShards int) int {
	p := dataShards / 4
	if p < 1 {
		p = 1
	}
	return p
}
