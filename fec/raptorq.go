package fec

import (
	"fmt"

	"github.com/xssnick/raptorq"
)

// RaptorQSymbolSize is the fixed per-symbol size RaptorQ encodes fragments
// at. Fragments shorter than this are zero-padded; OMF's FragmentMTU stays
// within it.
const RaptorQSymbolSize = 1024

// rqProtector wraps xssnick/raptorq, a fountain code, for fragment groups
// under loss too heavy for Reed-Solomon's fixed parity budget: a fountain
// code keeps generating useful repair symbols past dataShards, so a
// decoder recovers as soon as any dataShards of the symbols it has seen
// (source or repair, in any combination) arrive.
type rqProtector struct {
	rq         *raptorq.RaptorQ
	dataShards int
}

func newRaptorQProtector(dataShards int) (Protector, error) {
	if dataShards <= 0 {
		return nil, fmt.Errorf("fec: raptorq needs at least one data shard")
	}
	return &rqProtector{rq: raptorq.NewRaptorQ(RaptorQSymbolSize), dataShards: dataShards}, nil
}

func (r *rqProtector) Algorithm() Algorithm { return RaptorQ }
func (r *rqProtector) NumDataShards() int   { return r.dataShards }
func (r *rqProtector) NumParityShards() int { return r.dataShards }

// Encode pads every fragment to RaptorQSymbolSize, concatenates them into
// one payload, and asks the encoder for dataShards source symbols followed
// by dataShards repair symbols. A symbol's position in the returned slice
// is its encoding symbol ID; Decode relies on that positional convention
// to feed symbols back to the decoder under the ID it generated them with.
func (r *rqProtector) Encode(fragments []Shard) ([]Shard, error) {
	if len(fragments) != r.dataShards {
		return nil, fmt.Errorf("fec: raptorq encode expected %d fragments, got %d", r.dataShards, len(fragments))
	}

	payload := make([]byte, 0, len(fragments)*RaptorQSymbolSize)
	for i, f := range fragments {
		if len(f) > RaptorQSymbolSize {
			return nil, fmt.Errorf("fec: raptorq fragment %d exceeds symbol size %d", i, RaptorQSymbolSize)
		}
		padded := make([]byte, RaptorQSymbolSize)
		copy(padded, f)
		payload = append(payload, padded...)
	}

	enc, err := r.rq.CreateEncoder(payload)
	if err != nil {
		return nil, fmt.Errorf("fec: raptorq create encoder: %w", err)
	}

	out := make([]Shard, 0, 2*r.dataShards)
	for i := uint32(0); i < uint32(2*r.dataShards); i++ {
		out = append(out, Shard(enc.GenSymbol(i)))
	}
	return out, nil
}

// Decode feeds every non-erased shard to the decoder under its positional
// symbol ID, attempting reconstruction as soon as the decoder reports it
// holds enough symbols.
func (r *rqProtector) Decode(shards []Shard) ([]Shard, error) {
	dec, err := r.rq.CreateDecoder(uint64(r.dataShards) * uint64(RaptorQSymbolSize))
	if err != nil {
		return nil, fmt.Errorf("fec: raptorq create decoder: %w", err)
	}

	for id, s := range shards {
		if s == nil {
			continue
		}
		ready, err := dec.AddSymbol(uint32(id), []byte(s))
		if err != nil || !ready {
			continue
		}
		ok, data, err := dec.Decode()
		if err != nil {
			return nil, fmt.Errorf("fec: raptorq decode: %w", err)
		}
		if !ok {
			continue
		}
		out := make([]Shard, r.dataShards)
		for i := 0; i < r.dataShards; i++ {
			start := i * RaptorQSymbolSize
			end := start + RaptorQSymbolSize
			if end > len(data) {
				return nil, fmt.Errorf("fec: raptorq decode: reconstructed payload too short")
			}
			out[i] = Shard(data[start:end])
		}
		return out, nil
	}
	return nil, fmt.Errorf("fec: raptorq decode: insufficient symbols to reconstruct")
}
