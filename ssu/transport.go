/* SPDX-License-Identifier: MIT
 *
 * Receive-loop structure adapted from wireguard-go's device.go
 * RoutineReceiveIncoming.
 */

package ssu

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/go-i2p/ssu-transport/conn"
)

// Transport is C8, the facade spec.md section 2 describes as the
// module's only exported entry point: it owns the UDP Bind, wires
// together the Peer Table, Establishment Manager, Inbound/Outbound
// Message Fragments, Acknowledgement Flusher, and Packet Handler, and
// exposes Send/receive-callback as the whole system's surface.
type Transport struct {
	bind     conn.Bind
	introKey MacKey
	log      Logger
	pool     *bufferPool

	peers       *PeerTable
	imf         *InboundMessageFragments
	omf         *OutboundMessageFragments
	ackFlusher  *AcknowledgementFlusher
	establisher *EstablishmentManager
	handler     *PacketHandler

	onMessage          func(peer RouterHash, message []byte)
	onConnect          func(peer RouterHash)
	onDisconnect       func(peer RouterHash)
	onConnectionFailed func(peer RouterHash)

	wg      sync.WaitGroup
	closed  chan struct{}
	closeMu sync.Mutex
}

// Options configures a Transport; see config.RouterConfig for the
// on-disk form of these values.
type Options struct {
	Port              uint16
	IntroKey          MacKey
	Identity          LocalIdentity
	InactivityTimeout time.Duration
	FragmentTTL       time.Duration
	AckFlushInterval  time.Duration
	MaxPeerBytes      int
	MaxTotalBytes     int
	EstablishTimeout  time.Duration
	ClockSkewWindow   time.Duration
	Logger            Logger

	// OnConnect, OnDisconnect, and OnConnectionFailed are the upward
	// lifecycle signals spec.md section 6 names alongside the
	// per-message receive callback. Any left nil are no-ops.
	OnConnect          func(peer RouterHash)
	OnDisconnect       func(peer RouterHash)
	OnConnectionFailed func(peer RouterHash)
}

func (o *Options) setDefaults() {
	if o.InactivityTimeout == 0 {
		o.InactivityTimeout = DefaultInactivityTimeout
	}
	if o.FragmentTTL == 0 {
		o.FragmentTTL = InboundFragmentTTL
	}
	if o.AckFlushInterval == 0 {
		o.AckFlushInterval = AckFlushInterval
	}
	if o.MaxPeerBytes == 0 {
		o.MaxPeerBytes = DefaultMaxInboundBytes
	}
	if o.MaxTotalBytes == 0 {
		o.MaxTotalBytes = DefaultMaxTotalInboundBytes
	}
	if o.EstablishTimeout == 0 {
		o.EstablishTimeout = EstablishmentTimeout
	}
	if o.ClockSkewWindow == 0 {
		o.ClockSkewWindow = DefaultClockSkewWindow
	}
	if o.Logger == nil {
		o.Logger = NewLogger(LogLevelError, "")
	}
	if o.OnConnect == nil {
		o.OnConnect = func(RouterHash) {}
	}
	if o.OnDisconnect == nil {
		o.OnDisconnect = func(RouterHash) {}
	}
	if o.OnConnectionFailed == nil {
		o.OnConnectionFailed = func(RouterHash) {}
	}
}

// NewTransport opens a UDP bind and wires every component together.
// onMessage is called once per fully reassembled I2NP message; it
// must not block for long, the way the teacher's TUN-write callback
// doesn't.
func NewTransport(opts Options, onMessage func(peer RouterHash, message []byte)) (*Transport, error) {
	opts.setDefaults()

	bind, actualPort, err := conn.CreateBind(opts.Port)
	if err != nil {
		return nil, fmt.Errorf("ssu: transport: open bind: %w", err)
	}
	opts.Logger.Infof("transport: listening on port %d", actualPort)

	t := &Transport{
		bind:               bind,
		introKey:           opts.IntroKey,
		log:                opts.Logger,
		pool:               newBufferPool(),
		onMessage:          onMessage,
		onConnect:          opts.OnConnect,
		onDisconnect:       opts.OnDisconnect,
		onConnectionFailed: opts.OnConnectionFailed,
		closed:             make(chan struct{}),
	}

	t.peers = NewPeerTable(opts.InactivityTimeout, opts.Logger)
	t.imf = NewInboundMessageFragments(opts.MaxPeerBytes, opts.MaxTotalBytes, opts.FragmentTTL, opts.Logger)
	t.omf = NewOutboundMessageFragments(t.sendData, opts.Logger)
	t.ackFlusher = NewAcknowledgementFlusher(t.imf, t.peers, t.sendAck, opts.Logger)
	t.establisher = NewEstablishmentManager(t.peers, opts.EstablishTimeout, opts.Identity, opts.Logger, t.onEstablished, t.onFailed)
	t.handler = NewPacketHandler(t.peers, t.imf, t.omf, t.ackFlusher, t.establisher, t.introKey, opts.ClockSkewWindow, t.send, t.onMessage, t.onDisconnect, opts.Logger)

	t.wg.Add(3)
	go t.receiveLoop(ipv4.Version)
	go t.receiveLoop(ipv6.Version)
	go t.ackFlusherLoop(opts.AckFlushInterval)

	return t, nil
}

func (t *Transport) onEstablished(hash RouterHash, endpoint Endpoint, keys KeyPair) {
	t.peers.Insert(hash, endpoint, keys, func(h RouterHash) {
		t.log.Infof("transport: peer %s expired", h)
		t.peers.Remove(h)
		t.ackFlusher.Untrack(h)
		t.onDisconnect(h)
	})
	t.log.Infof("transport: session established with %s", hash)
	t.onConnect(hash)
}

func (t *Transport) onFailed(hash RouterHash, endpoint Endpoint) {
	t.log.Infof("transport: handshake with %s failed", hash)
	t.onConnectionFailed(hash)
}

func (t *Transport) ackFlusherLoop(interval time.Duration) {
	defer t.wg.Done()
	t.ackFlusher.Run(interval)
}

// receiveLoop mirrors the teacher's RoutineReceiveIncoming: one
// goroutine per IP version, reading off the shared Bind into a pooled
// buffer and handing each datagram to the Packet Handler.
func (t *Transport) receiveLoop(ipVersion int) {
	defer t.wg.Done()

	buffer := t.pool.Get()
	defer t.pool.Put(buffer)

	deathSpiral := 0
	for {
		var (
			n        int
			endpoint conn.Endpoint
			err      error
		)
		switch ipVersion {
		case ipv4.Version:
			n, endpoint, err = t.bind.ReceiveIPv4(buffer[:])
		case ipv6.Version:
			n, endpoint, err = t.bind.ReceiveIPv6(buffer[:])
		default:
			panic("ssu: transport: invalid IP version")
		}

		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Errorf("transport: receive failed: %v", err)
			if deathSpiral < 10 {
				deathSpiral++
				time.Sleep(time.Second / 3)
				continue
			}
			return
		}
		deathSpiral = 0

		raw := make([]byte, n)
		copy(raw, buffer[:n])
		t.handler.HandlePacket(raw, endpoint)
	}
}

func (t *Transport) sendData(peer RouterHash, payload []byte) error {
	state, ok := t.peers.LookupByHash(peer)
	if !ok {
		return fmt.Errorf("ssu: transport: no session with %s", peer)
	}
	endpoint := state.Endpoint()
	raw, err := Codec{}.Build(PayloadTypeData, payload, state.Keys(), endpoint)
	if err != nil {
		return err
	}
	return t.send(endpoint, raw)
}

func (t *Transport) sendAck(peer RouterHash, payload []byte) error {
	return t.sendData(peer, payload)
}

func (t *Transport) send(endpoint Endpoint, raw []byte) error {
	udpEndpoint, err := conn.ParseEndpoint(endpoint.String())
	if err != nil {
		return err
	}
	return t.bind.Send(raw, udpEndpoint)
}

// SendMessage fragments and sends an I2NP message to an established
// peer (spec.md section 4.5). lossRate is the caller's current
// estimate of datagram loss to peer, used to pick an FEC scheme for
// the fragment group (SPEC_FULL.md section 11).
func (t *Transport) SendMessage(peer RouterHash, message []byte, lossRate float64) (uint32, error) {
	if _, ok := t.peers.LookupByHash(peer); !ok {
		return 0, fmt.Errorf("ssu: transport: no session with %s", peer)
	}
	return t.omf.SendMessage(peer, message, lossRate)
}

// Connect starts an outbound handshake to endpoint, expecting peerIdentity
// to be the identity that signs the peer's SESSION_CREATED (spec.md
// section 4.3, outbound role; the out-of-scope router-info database is
// what would normally supply peerIdentity before a dial is attempted).
func (t *Transport) Connect(endpoint Endpoint, peerIdentity RouterIdentity) error {
	payload, err := t.establisher.BeginOutbound(endpoint, peerIdentity)
	if err != nil {
		return err
	}
	raw, err := Codec{}.Build(PayloadTypeSessionRequest, payload, t.introKeyPair(), endpoint)
	if err != nil {
		return err
	}
	return t.send(endpoint, raw)
}

// Disconnect sends SESSION_DESTROY and tears down local state for
// peer (spec.md section 4.2).
func (t *Transport) Disconnect(peer RouterHash) error {
	state, ok := t.peers.LookupByHash(peer)
	if !ok {
		return nil
	}
	endpoint := state.Endpoint()
	raw, err := Codec{}.Build(PayloadTypeSessionDestroy, nil, state.Keys(), endpoint)
	if err == nil {
		_ = t.send(endpoint, raw)
	}
	t.peers.Remove(peer)
	t.onDisconnect(peer)
	return nil
}

// introKeyPair treats the intro key as both halves of a KeyPair: SSU
// uses the same 32-byte intro key as both the AES key and the HMAC
// key for packets exchanged before a session key exists (spec.md
// section 6.2).
func (t *Transport) introKeyPair() KeyPair {
	var sk SessionKey
	copy(sk[:], t.introKey[:])
	return KeyPair{SessionKey: sk, MacKey: t.introKey}
}

func (t *Transport) PeerCount() int {
	return t.peers.Len()
}

// Close shuts the transport down: stops the receive loops and
// flusher, and tears down all peer and in-flight state.
func (t *Transport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}

	err := t.bind.Close()
	t.ackFlusher.Stop()
	t.wg.Wait()

	t.peers.Close()
	t.imf.Close()
	t.omf.Close()
	t.establisher.Close()
	return err
}
