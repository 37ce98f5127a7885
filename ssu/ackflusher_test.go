package ssu

import (
	"sync"
	"testing"
	"time"
)

func TestAcknowledgementFlusherSweepSendsAndUntracks(t *testing.T) {
	imf := NewInboundMessageFragments(DefaultMaxInboundBytes, DefaultMaxTotalInboundBytes, time.Minute, testLogger())
	peers := NewPeerTable(time.Minute, testLogger())
	defer peers.Close()

	var hash RouterHash
	hash[0] = 5
	peers.Insert(hash, Endpoint{port: 1}, testKeyPair(), func(RouterHash) {})

	imf.AddFragment(hash, 1, 0, false, []byte("partial"))

	var mu sync.Mutex
	var sentTo []RouterHash
	flusher := NewAcknowledgementFlusher(imf, peers, func(peer RouterHash, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		sentTo = append(sentTo, peer)
		return nil
	}, testLogger())

	flusher.Track(hash)
	flusher.sweep()

	mu.Lock()
	defer mu.Unlock()
	if len(sentTo) != 1 || sentTo[0] != hash {
		t.Fatalf("expected one ACK sent to %v, got %v", hash, sentTo)
	}
}

func TestAcknowledgementFlusherUntracksWhenNothingPending(t *testing.T) {
	imf := NewInboundMessageFragments(DefaultMaxInboundBytes, DefaultMaxTotalInboundBytes, time.Minute, testLogger())
	peers := NewPeerTable(time.Minute, testLogger())
	defer peers.Close()

	var hash RouterHash
	flusher := NewAcknowledgementFlusher(imf, peers, func(RouterHash, []byte) error { return nil }, testLogger())
	flusher.Track(hash)
	flusher.sweep()

	flusher.mutex.Lock()
	_, tracked := flusher.tracked[hash]
	flusher.mutex.Unlock()
	if tracked {
		t.Fatal("expected peer with nothing pending to be untracked")
	}
}
