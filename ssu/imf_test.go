package ssu

import (
	"testing"
	"time"
)

func testLogger() Logger {
	return NewLogger(LogLevelSilent, "")
}

func TestInboundMessageFragmentsReassemblesOutOfOrder(t *testing.T) {
	f := NewInboundMessageFragments(DefaultMaxInboundBytes, DefaultMaxTotalInboundBytes, time.Minute, testLogger())
	var peer RouterHash
	peer[0] = 1

	complete, assembled := f.AddFragment(peer, 7, 1, false, []byte("world"))
	if complete {
		t.Fatal("message should not be complete yet")
	}
	if assembled != nil {
		t.Fatal("expected nil assembled message")
	}

	complete, assembled = f.AddFragment(peer, 7, 0, false, []byte("hello "))
	if complete {
		t.Fatal("message still should not be complete")
	}

	complete, assembled = f.AddFragment(peer, 7, 2, true, []byte("!"))
	if !complete {
		t.Fatal("message should be complete after last fragment")
	}
	assertEqual(t, assembled, []byte("hello world!"))
}

func TestInboundMessageFragmentsDuplicateFragmentIgnored(t *testing.T) {
	f := NewInboundMessageFragments(DefaultMaxInboundBytes, DefaultMaxTotalInboundBytes, time.Minute, testLogger())
	var peer RouterHash

	f.AddFragment(peer, 1, 0, false, []byte("a"))
	complete, _ := f.AddFragment(peer, 1, 0, false, []byte("b")) // duplicate, should be dropped
	if complete {
		t.Fatal("message should not be complete")
	}

	complete, assembled := f.AddFragment(peer, 1, 1, true, []byte("c"))
	if !complete {
		t.Fatal("expected completion")
	}
	assertEqual(t, assembled, []byte("ac"))
}

func TestInboundMessageFragmentsEvictsOldestUnderPerPeerCap(t *testing.T) {
	f := NewInboundMessageFragments(10, DefaultMaxTotalInboundBytes, time.Minute, testLogger())
	var peer RouterHash

	f.AddFragment(peer, 1, 0, false, make([]byte, 6))
	f.AddFragment(peer, 2, 0, false, make([]byte, 6))

	bitfields := f.PendingBitfields(peer)
	if _, ok := bitfields[1]; ok {
		t.Fatal("expected message 1 to have been evicted under the per-peer byte cap")
	}
	if _, ok := bitfields[2]; !ok {
		t.Fatal("expected message 2 to survive")
	}
}

func TestMissingBitfieldMarksReceivedFragments(t *testing.T) {
	f := NewInboundMessageFragments(DefaultMaxInboundBytes, DefaultMaxTotalInboundBytes, time.Minute, testLogger())
	var peer RouterHash

	f.AddFragment(peer, 5, 0, false, []byte("a"))
	f.AddFragment(peer, 5, 2, true, []byte("c"))

	bitfields := f.PendingBitfields(peer)
	bf, ok := bitfields[5]
	if !ok {
		t.Fatal("expected message 5 to be pending")
	}
	if bf[0]&0x40 == 0 {
		t.Fatal("expected fragment 0 bit set")
	}
	if bf[0]&0x20 != 0 {
		t.Fatal("expected fragment 1 bit clear")
	}
	if bf[0]&0x10 == 0 {
		t.Fatal("expected fragment 2 bit set")
	}
}
