package ssu

import (
	"sync"
	"testing"
)

type sentPayload struct {
	peer    RouterHash
	payload []byte
}

func TestOutboundMessageFragmentsSendsAndAcks(t *testing.T) {
	var mu sync.Mutex
	var sent []sentPayload

	omf := NewOutboundMessageFragments(func(peer RouterHash, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, sentPayload{peer: peer, payload: payload})
		return nil
	}, testLogger())
	defer omf.Close()

	var peer RouterHash
	peer[0] = 9

	message := make([]byte, FragmentMTU*2+10) // needs 3 fragments
	for i := range message {
		message[i] = byte(i)
	}

	id, err := omf.SendMessage(peer, message, 0.0) // lossRate 0 selects no FEC
	assertNil(t, err)

	mu.Lock()
	n := len(sent)
	mu.Unlock()
	if n != 3 {
		t.Fatalf("expected 3 fragments sent, got %d", n)
	}

	omf.AckFragment(peer, id, 0)
	omf.AckFragment(peer, id, 1)
	omf.AckFragment(peer, id, 2)

	if omf.Len() != 0 {
		t.Fatalf("expected state removed after full ack, Len() = %d", omf.Len())
	}
}

func TestOutboundMessageFragmentsAckBitfield(t *testing.T) {
	omf := NewOutboundMessageFragments(func(peer RouterHash, payload []byte) error {
		return nil
	}, testLogger())
	defer omf.Close()

	var peer RouterHash
	id, err := omf.SendMessage(peer, make([]byte, FragmentMTU+1), 0.0) // 2 fragments
	assertNil(t, err)

	// bit 0 and bit 1 set (fragments 0 and 1 acked)
	omf.AckBitfield(peer, id, []byte{0x60})

	if omf.Len() != 0 {
		t.Fatalf("expected state removed after bitfield acked all fragments, Len() = %d", omf.Len())
	}
}

func TestOutboundMessageFragmentsSendsParityUnderHighLoss(t *testing.T) {
	var mu sync.Mutex
	count := 0
	omf := NewOutboundMessageFragments(func(peer RouterHash, payload []byte) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}, testLogger())
	defer omf.Close()

	var peer RouterHash
	message := make([]byte, FragmentMTU*4)
	_, err := omf.SendMessage(peer, message, 0.5) // high loss selects raptorq
	assertNil(t, err)

	mu.Lock()
	defer mu.Unlock()
	if count <= 4 {
		t.Fatalf("expected parity shards sent in addition to 4 data fragments, got %d total sends", count)
	}
}
