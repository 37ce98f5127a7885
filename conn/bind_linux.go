/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

//go:build linux

package conn

import (
	"golang.org/x/sys/unix"
)

// applyMark sets SO_MARK on both underlying sockets, mirroring the
// fwmark plumbing in wireguard-go's conn_linux.go. A mark of 0 clears it.
func (bind *StdNetBind) applyMark(mark uint32) error {
	var operr error

	if bind.ipv4 != nil {
		sc, err := bind.ipv4.SyscallConn()
		if err != nil {
			return err
		}
		err = sc.Control(func(fd uintptr) {
			operr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, int(mark))
		})
		if err != nil {
			return err
		}
		if operr != nil {
			return operr
		}
	}

	if bind.ipv6 != nil {
		sc, err := bind.ipv6.SyscallConn()
		if err != nil {
			return err
		}
		err = sc.Control(func(fd uintptr) {
			operr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, int(mark))
		})
		if err != nil {
			return err
		}
		if operr != nil {
			return operr
		}
	}

	return nil
}
