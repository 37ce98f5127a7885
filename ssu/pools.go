/* SPDX-License-Identifier: MIT
 *
 * Adapted from wireguard-go's device/pools.go.
 */

package ssu

import "sync"

// bufferPool recycles the fixed-size receive buffers each socket read
// uses, avoiding an allocation per datagram the way the teacher's
// Device.pool.messageBufferPool does for its own receive path.
type bufferPool struct {
	pool *sync.Pool
}

func newBufferPool() *bufferPool {
	return &bufferPool{
		pool: &sync.Pool{
			New: func() interface{} {
				return new([MaxPacketSize]byte)
			},
		},
	}
}

func (p *bufferPool) Get() *[MaxPacketSize]byte {
	return p.pool.Get().(*[MaxPacketSize]byte)
}

func (p *bufferPool) Put(buf *[MaxPacketSize]byte) {
	p.pool.Put(buf)
}
