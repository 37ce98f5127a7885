/* SPDX-License-Identifier: MIT
 *
 * Adapted from wireguard-go's timers.go Timer type.
 */

package ssu

import "time"

// Timer wraps time.Timer with an AfterFunc callback and a pending
// flag, mirroring the teacher's per-peer retransmit/keepalive timers.
// OutboundMessageState uses one per in-flight fragment group to drive
// retransmission; PeerState uses one for inactivity expiry.
type Timer struct {
	timer     *time.Timer
	isPending bool
}

// NewTimer creates a stopped Timer whose fire fn is called (once)
// whenever the timer is allowed to expire.
func NewTimer(fn func()) *Timer {
	t := &Timer{}
	t.timer = time.AfterFunc(time.Hour, func() {
		t.isPending = false
		fn()
	})
	t.timer.Stop()
	return t
}

// Mod (re)arms the timer to fire after d, marking it pending.
func (t *Timer) Mod(d time.Duration) {
	t.isPending = true
	t.timer.Reset(d)
}

// Del disarms the timer if armed.
func (t *Timer) Del() {
	t.isPending = false
	t.timer.Stop()
}

func (t *Timer) Pending() bool {
	return t.isPending
}
