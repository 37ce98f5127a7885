/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2019 WireGuard LLC. All Rights Reserved.
 */

// Package conn implements the SSU transport's UDP socket binding, the
// downward interface described in spec.md section 6. It is intentionally
// thin: DNS, process lifecycle, and socket-option tuning beyond what SSU
// itself needs are out of scope (spec.md section 1).
package conn

import (
	"errors"
	"net"
	"strings"
)

// A Bind listens on a single UDP port for both IPv4 and IPv6 traffic.
type Bind interface {
	// SetMark sets the mark applied to each packet sent through this Bind.
	// Passed to the kernel as the socket option SO_MARK; a no-op on
	// platforms where that isn't supported.
	SetMark(mark uint32) error

	// ReceiveIPv4 reads a single IPv4 UDP datagram into buff.
	ReceiveIPv4(buff []byte) (n int, ep Endpoint, err error)

	// ReceiveIPv6 reads a single IPv6 UDP datagram into buff.
	ReceiveIPv6(buff []byte) (n int, ep Endpoint, err error)

	// Send writes buff to ep.
	Send(buff []byte, ep Endpoint) error

	// Close closes both listening sockets.
	Close() error
}

// CreateBind opens a Bind on port, or an ephemeral port if port == 0.
// actualPort reports the port actually bound.
func CreateBind(port uint16) (b Bind, actualPort uint16, err error) {
	return createBind(port)
}

// An Endpoint is the wire-level representation of spec.md's Endpoint
// datatype: an (IP, UDP port) pair identifying the far side of a packet.
type Endpoint interface {
	DstIP() net.IP
	DstPort() uint16
	DstToString() string
	// DstToBytes returns the IP (4 or 16 bytes) followed by the big-endian
	// port, as used in the SESSION_REQUEST/CREATED signature payloads.
	DstToBytes() []byte
}

func parseEndpoint(s string) (*net.UDPAddr, error) {
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		return nil, err
	}
	if i := strings.LastIndexByte(host, '%'); i > 0 && strings.IndexByte(host, ':') >= 0 {
		host = host[:i]
	}
	if ip := net.ParseIP(host); ip == nil {
		return nil, errors.New("failed to parse IP address: " + host)
	}

	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		return nil, err
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		addr.IP = ip4
	}
	return addr, err
}
