package listener

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/miekg/dns"
	"github.com/rnetx/dnsbridge/adapter"
	"github.com/rnetx/dnsbridge/log"
	"github.com/rnetx/dnsbridge/utils"
)

var _ adapter.Listener = (*UDPListener)(nil)

type UDPListener struct {
	ctx     context.Context
	cancel  context.CancelFunc
	tag     string
	logger  log.Logger
	listen  string
	handler adapter.Handler
	limiter *utils.Limiter
	udpConn *net.UDPConn
	*lifecycle
}

func NewUDPListener(ctx context.Context, logger log.Logger, tag string, listen string, handler adapter.Handler) (*UDPListener, error) {
	l := &UDPListener{
		tag:       tag,
		logger:    logger,
		handler:   handler,
		limiter:   utils.NewLimiter(DefaultMaxConnection),
		lifecycle: newLifecycle(),
	}
	var err error
	l.listen, err = parseListen(listen, 53)
	if err != nil {
		return nil, fmt.Errorf("create udp listener failed: %s", err)
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	return l, nil
}

func (l *UDPListener) Tag() string {
	return l.tag
}

func (l *UDPListener) Type() string {
	return UDPListenerType
}

func (l *UDPListener) Addr() net.Addr {
	if l.udpConn == nil {
		return nil
	}
	return l.udpConn.LocalAddr()
}

func (l *UDPListener) Start() error {
	addr, err := net.ResolveUDPAddr("udp", l.listen)
	if err != nil {
		return fmt.Errorf("start udp listener failed: %s", err)
	}
	l.udpConn, err = net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("start udp listener failed: %s", err)
	}
	l.logger.Infof("udp listener: listen %s", l.udpConn.LocalAddr())
	go l.loopHandle()
	go func() {
		<-l.ctx.Done()
		l.udpConn.Close()
	}()
	return nil
}

func (l *UDPListener) Close() error {
	l.cancel()
	if l.udpConn == nil {
		l.finish(nil)
		return nil
	}
	err := l.udpConn.Close()
	if err != nil && !connIsClosed(err) {
		return err
	}
	return nil
}

func (l *UDPListener) loopHandle() {
	for {
		if !l.limiter.Get(l.ctx) {
			l.finish(nil)
			return
		}
		buffer := make([]byte, dns.MaxMsgSize)
		n, remoteAddr, err := l.udpConn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			l.limiter.PutBack()
			err = loopError(l.ctx, "read udp", err)
			if err != nil {
				l.logger.Errorf("udp listener: %s", err)
			}
			l.finish(err)
			return
		}
		go func(data []byte, addr netip.AddrPort) {
			defer l.limiter.PutBack()
			l.handle(data, addr)
		}(buffer[:n], remoteAddr)
	}
}

func (l *UDPListener) handle(data []byte, remoteAddr netip.AddrPort) {
	req := &dns.Msg{}
	err := req.Unpack(data)
	var resp *dns.Msg
	if err != nil {
		l.logger.Debugf("unpack dns message failed: client address: %s, error: %s", remoteAddr, err)
		resp = malformedReply(data)
		if resp == nil {
			return
		}
	} else {
		resp = l.handler.ServeDNS(l.ctx, l.tag, req, remoteAddr)
		resp.Truncate(getUDPSize(req))
	}
	raw, err := resp.Pack()
	if err != nil {
		l.logger.Debugf("pack dns message failed: client address: %s, error: %s", remoteAddr, err)
		return
	}
	_, err = l.udpConn.WriteToUDPAddrPort(raw, remoteAddr)
	if err != nil && !connIsClosed(err) {
		l.logger.Debugf("write dns message failed: client address: %s, error: %s", remoteAddr, err)
	}
}

func getUDPSize(msg *dns.Msg) int {
	var udpSize uint16
	if opt := msg.IsEdns0(); opt != nil {
		udpSize = opt.UDPSize()
	}
	if udpSize < dns.MinMsgSize {
		udpSize = dns.MinMsgSize
	}
	return int(udpSize)
}
