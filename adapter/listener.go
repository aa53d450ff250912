package adapter

import (
	"context"
	"net"
	"net/netip"

	"github.com/miekg/dns"
)

// Handler turns a parsed request into the response to write back. It never
// returns nil for a request it accepted.
type Handler interface {
	ServeDNS(ctx context.Context, listener string, req *dns.Msg, clientAddr netip.AddrPort) *dns.Msg
}

type Listener interface {
	Starter
	Closer
	Tag() string
	Type() string
	Addr() net.Addr
	// Wait blocks until the serve loop has ended. A listener stopped by
	// Close reports nil.
	Wait() error
}
