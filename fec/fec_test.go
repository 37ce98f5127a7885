package fec

import "testing"

func TestXORProtectorReconstructsSingleErasure(t *testing.T) {
	p, err := NewProtector(XOR, 3)
	if err != nil {
		t.Fatal(err)
	}

	frags := []Shard{
		Shard("fragment-zero"),
		Shard("fragment-one."),
		Shard("fragment-two"),
	}

	encoded, err := p.Encode(frags)
	if err != nil {
		t.Fatal(err)
	}
	if len(encoded) != 4 {
		t.Fatalf("expected 4 shards, got %d", len(encoded))
	}

	received := make([]Shard, len(encoded))
	copy(received, encoded)
	received[1] = nil // simulate a lost fragment

	decoded, err := p.Decode(received)
	if err != nil {
		t.Fatal(err)
	}
	for i := range frags {
		got := string(decoded[i])
		want := string(frags[i])
		if len(got) < len(want) || got[:len(want)] != want {
			t.Fatalf("fragment %d: got %q want prefix %q", i, got, want)
		}
	}
}

func TestSelectAlgorithm(t *testing.T) {
	cases := []struct {
		loss float64
		want Algorithm
	}{
		{0.0, None},
		{0.01, None},
		{0.03, XOR},
		{0.10, ReedSolomon},
		{0.5, RaptorQ},
	}
	for _, c := range cases {
		if got := SelectAlgorithm(c.loss); got != c.want {
			t.Errorf("SelectAlgorithm(%v) = %v, want %v", c.loss, got, c.want)
		}
	}
}

func TestReedSolomonProtectorReconstructsMultipleErasures(t *testing.T) {
	p, err := NewProtector(ReedSolomon, 8)
	if err != nil {
		t.Fatal(err)
	}

	frags := make([]Shard, 8)
	for i := range frags {
		frags[i] = Shard{byte(i), byte(i + 1), byte(i + 2)}
	}

	encoded, err := p.Encode(frags)
	if err != nil {
		t.Fatal(err)
	}

	received := make([]Shard, len(encoded))
	copy(received, encoded)
	received[0] = nil
	received[3] = nil

	decoded, err := p.Decode(received)
	if err != nil {
		t.Fatal(err)
	}
	for i := range frags {
		if string(decoded[i]) != string(frags[i]) {
			t.Fatalf("fragment %d mismatch: got %v want %v", i, decoded[i], frags[i])
		}
	}
}

func TestRaptorQProtectorReconstructsFromRepairSymbols(t *testing.T) {
	p, err := NewProtector(RaptorQ, 4)
	if err != nil {
		t.Fatal(err)
	}

	frags := make([]Shard, 4)
	for i := range frags {
		frags[i] = Shard{byte(i), byte(i + 1), byte(i + 2), byte(i + 3)}
	}

	encoded, err := p.Encode(frags)
	if err != nil {
		t.Fatal(err)
	}
	if len(encoded) != 8 {
		t.Fatalf("expected 8 symbols (4 source + 4 repair), got %d", len(encoded))
	}

	// Drop two source symbols; the repair symbols should still let the
	// decoder recover, unlike a fixed-parity scheme sized for fewer erasures.
	received := make([]Shard, len(encoded))
	copy(received, encoded)
	received[0] = nil
	received[2] = nil

	decoded, err := p.Decode(received)
	if err != nil {
		t.Fatal(err)
	}
	for i := range frags {
		got := []byte(decoded[i])[:len(frags[i])]
		if string(got) != string(frags[i]) {
			t.Fatalf("fragment %d mismatch: got %v want %v", i, got, frags[i])
		}
	}
}
