/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package conn

import (
	"errors"
	"net"
	"syscall"
)

var (
	ErrBindAlreadyOpen  = errors.New("bind is already open")
	ErrWrongEndpointType = errors.New("endpoint is the wrong type")
)

// StdNetBind implements Bind using the standard library's net package. It
// has no sticky-socket / source-caching behavior; SSU doesn't need it since
// peer endpoints are keyed by (IP, port) alone (spec.md section 3), not by
// the local source address a reply happens to leave from.
type StdNetBind struct {
	ipv4       *net.UDPConn
	ipv6       *net.UDPConn
	mark       uint32
	blackhole4 bool
	blackhole6 bool
}

func NewStdNetBind() Bind { return &StdNetBind{} }

// UDPEndpoint is the concrete Endpoint backing StdNetBind.
type UDPEndpoint net.UDPAddr

var (
	_ Bind     = (*StdNetBind)(nil)
	_ Endpoint = (*UDPEndpoint)(nil)
)

// ParseEndpoint parses a "host:port" string into an Endpoint.
func ParseEndpoint(s string) (Endpoint, error) {
	addr, err := parseEndpoint(s)
	return (*UDPEndpoint)(addr), err
}

func (e *UDPEndpoint) DstIP() net.IP {
	return (*net.UDPAddr)(e).IP
}

func (e *UDPEndpoint) DstPort() uint16 {
	return uint16((*net.UDPAddr)(e).Port)
}

func (e *UDPEndpoint) DstToString() string {
	return (*net.UDPAddr)(e).String()
}

func (e *UDPEndpoint) DstToBytes() []byte {
	addr := (*net.UDPAddr)(e)
	out := addr.IP.To4()
	if out == nil {
		out = append([]byte{}, addr.IP.To16()...)
	} else {
		out = append([]byte{}, out...)
	}
	out = append(out, byte(addr.Port>>8), byte(addr.Port))
	return out
}

func listenNet(network string, port int) (*net.UDPConn, int, error) {
	udpConn, err := net.ListenUDP(network, &net.UDPAddr{Port: port})
	if err != nil {
		return nil, 0, err
	}

	laddr := udpConn.LocalAddr()
	uaddr, err := net.ResolveUDPAddr(laddr.Network(), laddr.String())
	if err != nil {
		return nil, 0, err
	}
	return udpConn, uaddr.Port, nil
}

// Open binds both the IPv4 and IPv6 listeners to uport (or an ephemeral
// port, retrying, if uport == 0).
func (bind *StdNetBind) Open(uport uint16) (uint16, error) {
	var err error
	var tries int

	if bind.ipv4 != nil || bind.ipv6 != nil {
		return 0, ErrBindAlreadyOpen
	}

again:
	port := int(uport)
	var ipv4Conn, ipv6Conn *net.UDPConn

	ipv4Conn, port, err = listenNet("udp4", port)
	if err != nil && !errors.Is(err, syscall.EAFNOSUPPORT) {
		return 0, err
	}

	ipv6Conn, port, err = listenNet("udp6", port)
	if uport == 0 && errors.Is(err, syscall.EADDRINUSE) && tries < 100 {
		if ipv4Conn != nil {
			ipv4Conn.Close()
		}
		tries++
		goto again
	}
	if err != nil && !errors.Is(err, syscall.EAFNOSUPPORT) {
		if ipv4Conn != nil {
			ipv4Conn.Close()
		}
		return 0, err
	}
	if ipv4Conn == nil && ipv6Conn == nil {
		return 0, syscall.EAFNOSUPPORT
	}

	bind.ipv4 = ipv4Conn
	bind.ipv6 = ipv6Conn
	if bind.mark != 0 {
		bind.applyMark(bind.mark)
	}
	return uint16(port), nil
}

func (bind *StdNetBind) Close() error {
	var err1, err2 error
	if bind.ipv4 != nil {
		err1 = bind.ipv4.Close()
		bind.ipv4 = nil
	}
	if bind.ipv6 != nil {
		err2 = bind.ipv6.Close()
		bind.ipv6 = nil
	}
	bind.blackhole4 = false
	bind.blackhole6 = false
	if err1 != nil {
		return err1
	}
	return err2
}

func (bind *StdNetBind) ReceiveIPv4(buff []byte) (int, Endpoint, error) {
	if bind.ipv4 == nil {
		return 0, nil, syscall.EAFNOSUPPORT
	}
	n, addr, err := bind.ipv4.ReadFromUDP(buff)
	if addr != nil {
		addr.IP = addr.IP.To4()
	}
	return n, (*UDPEndpoint)(addr), err
}

func (bind *StdNetBind) ReceiveIPv6(buff []byte) (int, Endpoint, error) {
	if bind.ipv6 == nil {
		return 0, nil, syscall.EAFNOSUPPORT
	}
	n, addr, err := bind.ipv6.ReadFromUDP(buff)
	return n, (*UDPEndpoint)(addr), err
}

func (bind *StdNetBind) Send(buff []byte, endpoint Endpoint) error {
	nend, ok := endpoint.(*UDPEndpoint)
	if !ok {
		return ErrWrongEndpointType
	}
	var udpConn *net.UDPConn
	var blackhole bool
	if nend.IP.To4() != nil {
		blackhole = bind.blackhole4
		udpConn = bind.ipv4
	} else {
		blackhole = bind.blackhole6
		udpConn = bind.ipv6
	}
	if blackhole {
		return nil
	}
	if udpConn == nil {
		return syscall.EAFNOSUPPORT
	}
	_, err := udpConn.WriteToUDP(buff, (*net.UDPAddr)(nend))
	return err
}

func (bind *StdNetBind) SetMark(mark uint32) error {
	bind.mark = mark
	if bind.ipv4 == nil && bind.ipv6 == nil {
		return nil
	}
	return bind.applyMark(mark)
}

func createBind(port uint16) (Bind, uint16, error) {
	bind := NewStdNetBind().(*StdNetBind)
	actual, err := bind.Open(port)
	return bind, actual, err
}
