// Package bufferpool provides a sync.Pool-backed source of fixed-size
// byte buffers for piece and block payloads, avoiding a fresh allocation
// on every block received from the wire.
package bufferpool

import "sync"

// Pool hands out Buffers of a fixed backing capacity.
type Pool struct {
	pool sync.Pool
}

// New returns a Pool whose buffers have capacity buflen.
func New(buflen int) *Pool {
	return &Pool{
		pool: sync.Pool{
			New: func() interface{} {
				b := make([]byte, buflen)
				return &b
			},
		},
	}
}

// Get returns a Buffer sized to datalen, which must not exceed the pool's
// buflen. Call Release when done with it.
func (p *Pool) Get(datalen int) Buffer {
	buf := p.pool.Get().(*[]byte)
	return Buffer{Data: (*buf)[:datalen], buf: buf, pool: p}
}

// Buffer is a pool-backed byte slice.
type Buffer struct {
	Data []byte
	buf  *[]byte
	pool *Pool
}

// Release returns the Buffer to its Pool. The Buffer must not be used
// afterward.
func (b Buffer) Release() {
	b.pool.pool.Put(b.buf)
}
