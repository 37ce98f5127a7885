package ssu

import (
	"net"
	"testing"
	"time"
)

func TestEstablishmentManagerOutboundHandshake(t *testing.T) {
	alicePeers := NewPeerTable(time.Minute, testLogger())
	defer alicePeers.Close()
	bobPeers := NewPeerTable(time.Minute, testLogger())
	defer bobPeers.Close()

	aliceIdentity, err := GenerateLocalIdentity()
	assertNil(t, err)
	bobIdentity, err := GenerateLocalIdentity()
	assertNil(t, err)

	aliceEstablished := make(chan RouterHash, 1)
	aliceMgr := NewEstablishmentManager(alicePeers, time.Second, aliceIdentity, testLogger(), func(hash RouterHash, ep Endpoint, keys KeyPair) {
		aliceEstablished <- hash
	}, nil)
	defer aliceMgr.Close()

	bobEstablished := make(chan RouterHash, 1)
	bobMgr := NewEstablishmentManager(bobPeers, time.Second, bobIdentity, testLogger(), func(hash RouterHash, ep Endpoint, keys KeyPair) {
		bobEstablished <- hash
	}, nil)
	defer bobMgr.Close()

	aliceEndpoint := Endpoint{port: 100}
	bobEndpoint := Endpoint{port: 200}
	bobEndpoint.ip[10], bobEndpoint.ip[11] = 0xff, 0xff
	bobEndpoint.ip[12] = 127

	req, err := aliceMgr.BeginOutbound(bobEndpoint, bobIdentity.Public)
	assertNil(t, err)
	if !aliceMgr.InProgress(bobEndpoint) {
		t.Fatal("expected handshake to be in progress")
	}

	created, err := bobMgr.HandleSessionRequest(aliceEndpoint, req, net.ParseIP("127.0.0.1"))
	assertNil(t, err)

	confirmed, err := aliceMgr.HandleSessionCreated(bobEndpoint, created)
	assertNil(t, err)

	err = bobMgr.HandleSessionConfirmed(aliceEndpoint, confirmed)
	assertNil(t, err)

	err = aliceMgr.CompleteOutbound(bobEndpoint)
	assertNil(t, err)

	select {
	case hash := <-aliceEstablished:
		want := bobIdentity.Public.Hash()
		if hash != want {
			t.Fatalf("alice established hash = %v, want %v", hash, want)
		}
	case <-time.After(time.Second):
		t.Fatal("expected alice's onEstablished to fire")
	}

	select {
	case hash := <-bobEstablished:
		want := aliceIdentity.Public.Hash()
		if hash != want {
			t.Fatalf("bob established hash = %v, want %v", hash, want)
		}
	case <-time.After(time.Second):
		t.Fatal("expected bob's onEstablished to fire")
	}

	if aliceMgr.InProgress(bobEndpoint) {
		t.Fatal("expected handshake to be removed after completion")
	}
}

func TestEstablishmentManagerRejectsForgedSessionCreated(t *testing.T) {
	alicePeers := NewPeerTable(time.Minute, testLogger())
	defer alicePeers.Close()

	aliceIdentity, err := GenerateLocalIdentity()
	assertNil(t, err)
	bobIdentity, err := GenerateLocalIdentity()
	assertNil(t, err)
	mallory, err := GenerateLocalIdentity()
	assertNil(t, err)

	failed := make(chan RouterHash, 1)
	aliceMgr := NewEstablishmentManager(alicePeers, time.Second, aliceIdentity, testLogger(),
		func(RouterHash, Endpoint, KeyPair) {},
		func(hash RouterHash, ep Endpoint) { failed <- hash })
	defer aliceMgr.Close()

	bobEndpoint := Endpoint{port: 200}
	req, err := aliceMgr.BeginOutbound(bobEndpoint, bobIdentity.Public)
	assertNil(t, err)

	// Mallory answers the SESSION_REQUEST in Bob's place, signing with
	// her own key instead of Bob's.
	malloryPeers := NewPeerTable(time.Minute, testLogger())
	defer malloryPeers.Close()
	malloryMgr := NewEstablishmentManager(malloryPeers, time.Second, mallory, testLogger(), func(RouterHash, Endpoint, KeyPair) {}, nil)
	defer malloryMgr.Close()

	created, err := malloryMgr.HandleSessionRequest(Endpoint{port: 100}, req, net.ParseIP("127.0.0.1"))
	assertNil(t, err)

	_, err = aliceMgr.HandleSessionCreated(bobEndpoint, created)
	if err == nil {
		t.Fatal("expected signature verification to reject a forged SESSION_CREATED")
	}
	if aliceMgr.InProgress(bobEndpoint) {
		t.Fatal("expected failed handshake to be removed")
	}

	select {
	case hash := <-failed:
		want := bobIdentity.Public.Hash()
		if hash != want {
			t.Fatalf("failed hash = %v, want %v", hash, want)
		}
	case <-time.After(time.Second):
		t.Fatal("expected onFailed to fire for a forged SESSION_CREATED")
	}
}

func TestEstablishmentManagerRejectsBadPublicKeySize(t *testing.T) {
	peers := NewPeerTable(time.Minute, testLogger())
	defer peers.Close()
	identity, err := GenerateLocalIdentity()
	assertNil(t, err)
	mgr := NewEstablishmentManager(peers, time.Second, identity, testLogger(), func(RouterHash, Endpoint, KeyPair) {}, nil)
	defer mgr.Close()

	_, err = mgr.HandleSessionRequest(Endpoint{port: 1}, []byte("too short"), net.ParseIP("127.0.0.1"))
	if err == nil {
		t.Fatal("expected error for undersized public key")
	}
}
