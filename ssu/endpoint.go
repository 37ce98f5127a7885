/* SPDX-License-Identifier: MIT */

package ssu

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/go-i2p/ssu-transport/conn"
)

// Endpoint is the (IP, port) pair the Peer Table, Establishment
// Manager, and Acknowledgement Flusher key their state by (spec.md
// section 3.2). Unlike conn.Endpoint, it is a plain comparable value
// so it can be used directly as a map key.
type Endpoint struct {
	ip   [16]byte // always the 16-byte form, v4-mapped when needed
	port uint16
}

// NewEndpoint builds an Endpoint from a conn.Endpoint received off the
// wire, at the Packet Handler's I/O boundary.
func NewEndpoint(e conn.Endpoint) Endpoint {
	var ep Endpoint
	copy(ep.ip[:], e.DstIP().To16())
	ep.port = e.DstPort()
	return ep
}

func (e Endpoint) IP() net.IP {
	return net.IP(e.ip[:])
}

func (e Endpoint) Port() uint16 {
	return e.port
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP(), e.port)
}

// addressingBytes is the Codec MAC's addressing component (spec.md
// section 4.1): the 16-byte v4-mapped IP form plus the 2-byte port,
// binding a packet's authentication to the network address it was
// sent to or received from.
func (e Endpoint) addressingBytes() []byte {
	out := make([]byte, 18)
	copy(out, e.ip[:])
	binary.BigEndian.PutUint16(out[16:], e.port)
	return out
}

// encodeEndpointField lays out the ip-size/ip/port triplet the
// handshake payloads use to convey an endpoint (spec.md section 4.3:
// SESSION_REQUEST's "their IP/port", SESSION_CREATED's matching
// field), preferring the 4-byte form when the address is v4-mapped.
func encodeEndpointField(e Endpoint) []byte {
	ip := net.IP(e.ip[:])
	if v4 := ip.To4(); v4 != nil {
		out := make([]byte, 1+4+2)
		out[0] = 4
		copy(out[1:5], v4)
		binary.BigEndian.PutUint16(out[5:7], e.port)
		return out
	}
	out := make([]byte, 1+16+2)
	out[0] = 16
	copy(out[1:17], ip)
	binary.BigEndian.PutUint16(out[17:19], e.port)
	return out
}

// decodeEndpointField is encodeEndpointField's inverse, reporting how
// many bytes it consumed.
func decodeEndpointField(b []byte) (Endpoint, int, error) {
	if len(b) < 1 {
		return Endpoint{}, 0, newFormattingError("endpoint field truncated")
	}
	size := int(b[0])
	if size != 4 && size != 16 {
		return Endpoint{}, 0, newFormattingError("endpoint field ip size %d", size)
	}
	need := 1 + size + 2
	if len(b) < need {
		return Endpoint{}, 0, newFormattingError("endpoint field truncated: want %d bytes, have %d", need, len(b))
	}
	var ep Endpoint
	if size == 4 {
		v4mapped := net.IPv4(b[1], b[2], b[3], b[4]).To16()
		copy(ep.ip[:], v4mapped)
	} else {
		copy(ep.ip[:], b[1:17])
	}
	ep.port = binary.BigEndian.Uint16(b[1+size : need])
	return ep, need, nil
}
