package adapter

import (
	"context"

	"github.com/miekg/dns"
)

// Exchanger resolves a forwarded query. Implementations are shared by every
// listener and are called concurrently without any extra synchronization,
// so they must be safe for concurrent use.
type Exchanger interface {
	// IPv6 reports whether AAAA queries should be forwarded at all.
	IPv6() bool
	Exchange(ctx context.Context, req *dns.Msg) (*dns.Msg, error)
}
