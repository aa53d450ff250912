package adapter

import (
	"context"
	"math"
	"math/rand"
	"net/netip"
	"time"

	"github.com/logrusorgru/aurora/v4"
	"github.com/miekg/dns"
)

func randomID() uint32 {
	start := uint32(math.Pow(10, 8))
	end := uint32(math.Pow(10, 9)) - 1
	diff := end - start
	return start + uint32(rand.Int63n(int64(diff)))
}

func idToColor(id uint32) aurora.Color {
	var color aurora.Color
	color = aurora.Color(uint8(id))
	color %= 215
	row := uint(color / 36)
	column := uint(color % 36)
	var r, g, b float32
	r = float32(row * 51)
	g = float32(column / 6 * 51)
	b = float32((column % 6) * 51)
	luma := 0.2126*r + 0.7152*g + 0.0722*b
	if luma < 60 {
		row = 5 - row
		column = 35 - column
		color = aurora.Color(row*36 + column)
	}
	color += 16
	color = color << 16
	color |= 1 << 14
	return color
}

var _ LogContext = (*DNSContext)(nil)

// DNSContext follows one request from the transport through the exchanger.
type DNSContext struct {
	ctx      context.Context
	initTime time.Time
	id       uint32
	color    aurora.Color

	listener string
	clientIP netip.Addr
	req      *dns.Msg
}

func NewDNSContext(ctx context.Context, listener string, clientIP netip.Addr, req *dns.Msg) *DNSContext {
	id := randomID()
	return &DNSContext{
		ctx:      ctx,
		initTime: time.Now(),
		id:       id,
		color:    idToColor(id),
		listener: listener,
		clientIP: clientIP,
		req:      req,
	}
}

func (c *DNSContext) ID() uint32 {
	return c.id
}

func (c *DNSContext) Color() aurora.Color {
	return c.color
}

func (c *DNSContext) Duration() time.Duration {
	return time.Since(c.initTime)
}

func (c *DNSContext) Context() context.Context {
	return c.ctx
}

func (c *DNSContext) Listener() string {
	return c.listener
}

func (c *DNSContext) ClientIP() netip.Addr {
	return c.clientIP
}

func (c *DNSContext) ReqMsg() *dns.Msg {
	return c.req
}
