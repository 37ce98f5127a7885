package ssu

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/ssu-transport/conn"
	"github.com/go-i2p/ssu-transport/fec"
)

// testNode bundles one side's full dispatch stack, wired the way
// Transport wires a PacketHandler together, so HandlePacket can be
// driven directly without opening a real UDP socket.
type testNode struct {
	identity LocalIdentity
	peers    *PeerTable
	imf      *InboundMessageFragments
	omf      *OutboundMessageFragments
	handler  *PacketHandler

	mu           sync.Mutex
	delivered    []string
	failed       []RouterHash
	disconnected []RouterHash
}

func newTestNode(t *testing.T, introKey MacKey, sendRaw func(Endpoint, []byte) error) *testNode {
	t.Helper()
	identity, err := GenerateLocalIdentity()
	assertNil(t, err)

	n := &testNode{identity: identity}
	n.peers = NewPeerTable(time.Minute, testLogger())
	n.imf = NewInboundMessageFragments(DefaultMaxInboundBytes, DefaultMaxTotalInboundBytes, InboundFragmentTTL, testLogger())
	n.omf = NewOutboundMessageFragments(func(peer RouterHash, payload []byte) error { return nil }, testLogger())
	ackFlusher := NewAcknowledgementFlusher(n.imf, n.peers, func(peer RouterHash, payload []byte) error { return nil }, testLogger())

	onEstablished := func(hash RouterHash, endpoint Endpoint, keys KeyPair) {
		n.peers.Insert(hash, endpoint, keys, func(RouterHash) {})
	}
	onFailed := func(hash RouterHash, endpoint Endpoint) {
		n.mu.Lock()
		n.failed = append(n.failed, hash)
		n.mu.Unlock()
	}
	mgr := NewEstablishmentManager(n.peers, time.Second, identity, testLogger(), onEstablished, onFailed)

	deliver := func(peer RouterHash, message []byte) {
		n.mu.Lock()
		n.delivered = append(n.delivered, string(message))
		n.mu.Unlock()
	}
	onDisconnect := func(hash RouterHash) {
		n.mu.Lock()
		n.disconnected = append(n.disconnected, hash)
		n.mu.Unlock()
	}

	n.handler = NewPacketHandler(n.peers, n.imf, n.omf, ackFlusher, mgr, introKey, time.Minute, sendRaw, deliver, onDisconnect, testLogger())
	return n
}

// testAddr picks a fixed loopback (Endpoint, conn.Endpoint) pair whose
// NewEndpoint conversion round-trips exactly, so the two sides of a
// direct function-call handshake agree on the address bytes the Codec
// binds its MAC to.
func testAddr(t *testing.T, port uint16) (Endpoint, conn.Endpoint) {
	t.Helper()
	var ep Endpoint
	ep.port = port
	ep.ip[10], ep.ip[11] = 0xff, 0xff
	ep.ip[12], ep.ip[15] = 127, 1

	connEP, err := conn.ParseEndpoint("127.0.0.1:" + strconv.Itoa(int(port)))
	assertNil(t, err)
	return ep, connEP
}

func TestPacketHandlerHandshakeEndToEnd(t *testing.T) {
	var introKey MacKey
	introKey[0] = 0x42

	// A single shared (Endpoint, conn.Endpoint) pair stands in for "the
	// other side's address" from both directions, since this test
	// drives both handlers by direct function calls rather than real
	// sockets with genuinely distinct source addresses.
	sharedEndpoint, sharedSrc := testAddr(t, 500)

	var alice, bob *testNode
	alice = newTestNode(t, introKey, func(endpoint Endpoint, raw []byte) error {
		bob.handler.HandlePacket(raw, sharedSrc)
		return nil
	})
	bob = newTestNode(t, introKey, func(endpoint Endpoint, raw []byte) error {
		alice.handler.HandlePacket(raw, sharedSrc)
		return nil
	})

	req, err := alice.handler.establisher.BeginOutbound(sharedEndpoint, bob.identity.Public)
	assertNil(t, err)
	raw, err := Codec{}.Build(PayloadTypeSessionRequest, req, alice.handler.introKeyPair(), sharedEndpoint)
	assertNil(t, err)

	bob.handler.HandlePacket(raw, sharedSrc)

	if alice.peers.Len() != 1 {
		t.Fatalf("alice peer count = %d, want 1", alice.peers.Len())
	}
	if bob.peers.Len() != 1 {
		t.Fatalf("bob peer count = %d, want 1", bob.peers.Len())
	}

	alicePeer, ok := alice.peers.LookupByEndpoint(sharedEndpoint)
	if !ok {
		t.Fatal("expected alice to have a peer keyed by the shared endpoint")
	}
	if alicePeer.Hash() != bob.identity.Public.Hash() {
		t.Fatal("alice's established peer hash does not match bob's identity")
	}

	bobPeer, ok := bob.peers.LookupByEndpoint(sharedEndpoint)
	if !ok {
		t.Fatal("expected bob to have a peer keyed by the shared endpoint")
	}
	if bobPeer.Hash() != alice.identity.Public.Hash() {
		t.Fatal("bob's established peer hash does not match alice's identity")
	}
}

func TestPacketHandlerHandshakeRejectsForgedSignature(t *testing.T) {
	var introKey MacKey
	introKey[0] = 0x42
	sharedEndpoint, sharedSrc := testAddr(t, 501)

	var alice, mallory *testNode
	alice = newTestNode(t, introKey, func(endpoint Endpoint, raw []byte) error {
		mallory.handler.HandlePacket(raw, sharedSrc)
		return nil
	})
	mallory = newTestNode(t, introKey, func(endpoint Endpoint, raw []byte) error {
		alice.handler.HandlePacket(raw, sharedSrc)
		return nil
	})

	// Alice believes she's dialing some other identity; Mallory answers
	// in that identity's place and signs with her own key instead.
	realBob, err := GenerateLocalIdentity()
	assertNil(t, err)

	req, err := alice.handler.establisher.BeginOutbound(sharedEndpoint, realBob.Public)
	assertNil(t, err)
	raw, err := Codec{}.Build(PayloadTypeSessionRequest, req, alice.handler.introKeyPair(), sharedEndpoint)
	assertNil(t, err)

	mallory.handler.HandlePacket(raw, sharedSrc)

	if alice.peers.Len() != 0 {
		t.Fatal("expected alice to reject a SESSION_CREATED signed by the wrong identity")
	}
	alice.mu.Lock()
	failedCount := len(alice.failed)
	alice.mu.Unlock()
	if failedCount == 0 {
		t.Fatal("expected onFailed to fire for a forged SESSION_CREATED")
	}
}

func TestPacketHandlerDataDelivery(t *testing.T) {
	var introKey MacKey
	node := newTestNode(t, introKey, func(Endpoint, []byte) error { return nil })

	endpoint, src := testAddr(t, 600)
	var peerHash RouterHash
	peerHash[0] = 7
	keys := testKeyPair()
	node.peers.Insert(peerHash, endpoint, keys, func(RouterHash) {})

	message := []byte("hello from bob")
	entry := buildFragmentPayload(1, fec.None, 0, true, false, message)
	payload := wrapSingleFragment(entry)

	raw, err := Codec{}.Build(PayloadTypeData, payload, keys, endpoint)
	assertNil(t, err)

	node.handler.HandlePacket(raw, src)

	node.mu.Lock()
	defer node.mu.Unlock()
	if len(node.delivered) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(node.delivered))
	}
	if node.delivered[0] != string(message) {
		t.Fatalf("delivered message = %q, want %q", node.delivered[0], message)
	}
}

func TestPacketHandlerDataDeliveryMultiFragment(t *testing.T) {
	var introKey MacKey
	node := newTestNode(t, introKey, func(Endpoint, []byte) error { return nil })

	endpoint, src := testAddr(t, 601)
	var peerHash RouterHash
	peerHash[0] = 8
	keys := testKeyPair()
	node.peers.Insert(peerHash, endpoint, keys, func(RouterHash) {})

	first := buildFragmentPayload(2, fec.None, 0, false, false, []byte("hello "))
	second := buildFragmentPayload(2, fec.None, 1, true, false, []byte("world"))

	payload := append([]byte{0, 2}, first...)
	payload = append(payload, second...)

	raw, err := Codec{}.Build(PayloadTypeData, payload, keys, endpoint)
	assertNil(t, err)

	node.handler.HandlePacket(raw, src)

	node.mu.Lock()
	defer node.mu.Unlock()
	if len(node.delivered) != 1 || node.delivered[0] != "hello world" {
		t.Fatalf("delivered = %v, want [\"hello world\"]", node.delivered)
	}
}

func TestPacketHandlerSessionDestroy(t *testing.T) {
	var introKey MacKey
	var disconnected []RouterHash
	var mu sync.Mutex

	identity, err := GenerateLocalIdentity()
	assertNil(t, err)
	peers := NewPeerTable(time.Minute, testLogger())
	imf := NewInboundMessageFragments(DefaultMaxInboundBytes, DefaultMaxTotalInboundBytes, InboundFragmentTTL, testLogger())
	omf := NewOutboundMessageFragments(func(peer RouterHash, payload []byte) error { return nil }, testLogger())
	ackFlusher := NewAcknowledgementFlusher(imf, peers, func(peer RouterHash, payload []byte) error { return nil }, testLogger())
	mgr := NewEstablishmentManager(peers, time.Second, identity, testLogger(), func(RouterHash, Endpoint, KeyPair) {}, nil)
	handler := NewPacketHandler(peers, imf, omf, ackFlusher, mgr, introKey, time.Minute,
		func(Endpoint, []byte) error { return nil },
		func(RouterHash, []byte) {},
		func(hash RouterHash) {
			mu.Lock()
			disconnected = append(disconnected, hash)
			mu.Unlock()
		},
		testLogger())

	endpoint, src := testAddr(t, 700)
	var peerHash RouterHash
	peerHash[9] = 1
	keys := testKeyPair()
	peers.Insert(peerHash, endpoint, keys, func(RouterHash) {})

	raw, err := Codec{}.Build(PayloadTypeSessionDestroy, nil, keys, endpoint)
	assertNil(t, err)

	handler.HandlePacket(raw, src)

	if peers.Len() != 0 {
		t.Fatalf("expected peer removed after SESSION_DESTROY, Len() = %d", peers.Len())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(disconnected) != 1 || disconnected[0] != peerHash {
		t.Fatalf("disconnected = %v, want [%v]", disconnected, peerHash)
	}
}

func TestPacketHandlerDropsUnverifiablePacket(t *testing.T) {
	var introKey MacKey
	introKey[0] = 0x99
	node := newTestNode(t, introKey, func(Endpoint, []byte) error { return nil })

	endpoint, src := testAddr(t, 800)
	wrongKeys := testKeyPair() // MacKey differs from introKey, and no peer is registered under it
	raw, err := Codec{}.Build(PayloadTypeData, []byte("x"), wrongKeys, endpoint)
	assertNil(t, err)

	// Should not panic or deliver anything: neither the (nonexistent)
	// peer's MacKey nor the intro key verify this packet.
	node.handler.HandlePacket(raw, src)

	node.mu.Lock()
	defer node.mu.Unlock()
	if len(node.delivered) != 0 {
		t.Fatalf("expected no delivery for an unverifiable packet, got %v", node.delivered)
	}
	if net.IP(endpoint.IP()).IsUnspecified() {
		t.Fatal("sanity: test endpoint should be a concrete address")
	}
}
