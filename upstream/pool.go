package upstream

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
)

const (
	DefaultPoolMaxSize = 16
	DefaultIdleTimeout = 60 * time.Second
)

type poolItem struct {
	conn    *dns.Conn
	lastUse time.Time
}

// connPool keeps idle stream connections to the upstream so consecutive
// queries skip the handshake.
type connPool struct {
	mu          sync.Mutex
	closed      bool
	items       []poolItem
	maxSize     int
	idleTimeout time.Duration
	newFunc     func(ctx context.Context) (*dns.Conn, error)
}

func newConnPool(maxSize int, idleTimeout time.Duration, newFunc func(ctx context.Context) (*dns.Conn, error)) *connPool {
	if maxSize <= 0 {
		maxSize = DefaultPoolMaxSize
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &connPool{
		maxSize:     maxSize,
		idleTimeout: idleTimeout,
		newFunc:     newFunc,
	}
}

func (p *connPool) Get(ctx context.Context) (conn *dns.Conn, reused bool, err error) {
	p.mu.Lock()
	now := time.Now()
	for len(p.items) > 0 {
		item := p.items[len(p.items)-1]
		p.items = p.items[:len(p.items)-1]
		if now.Sub(item.lastUse) < p.idleTimeout {
			p.mu.Unlock()
			return item.conn, true, nil
		}
		item.conn.Close()
	}
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, false, net.ErrClosed
	}
	conn, err = p.newFunc(ctx)
	return conn, false, err
}

func (p *connPool) Put(conn *dns.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.items) >= p.maxSize {
		conn.Close()
		return
	}
	p.items = append(p.items, poolItem{conn: conn, lastUse: time.Now()})
}

func (p *connPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

func (p *connPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, item := range p.items {
		item.conn.Close()
	}
	p.items = nil
}
