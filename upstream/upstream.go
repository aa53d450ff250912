package upstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"github.com/rnetx/dnsbridge/adapter"
	"github.com/rnetx/dnsbridge/log"
	"github.com/rnetx/dnsbridge/utils"
)

const (
	UDPNetwork = "udp"
	TCPNetwork = "tcp"
	TLSNetwork = "tls"
)

const (
	DefaultQueryTimeout  = 5 * time.Second
	DefaultUDPBufferSize = 4096
)

type Options struct {
	Address            string         `yaml:"address"`
	Network            string         `yaml:"network,omitempty"`
	ServerName         string         `yaml:"server-name,omitempty"`
	InsecureSkipVerify bool           `yaml:"insecure-skip-verify,omitempty"`
	Timeout            utils.Duration `yaml:"timeout,omitempty"`
	IdleTimeout        utils.Duration `yaml:"idle-timeout,omitempty"`
	// IPv6 reports whether AAAA questions should be forwarded at all.
	IPv6 bool `yaml:"ipv6,omitempty"`
	// DisableFallbackTCP turns truncated udp answers into errors instead
	// of retrying them over tcp.
	DisableFallbackTCP bool `yaml:"disable-fallback-tcp,omitempty"`
}

var ErrTruncated = errors.New("truncated answer")

var (
	_ adapter.Exchanger = (*Upstream)(nil)
	_ adapter.Closer    = (*Upstream)(nil)
)

// Upstream forwards queries to a single DNS server over udp, tcp or tls.
type Upstream struct {
	logger  log.Logger
	network string
	address string
	timeout time.Duration
	ipv6    bool

	udpClient *dns.Client
	// pool holds stream connections for tcp and tls, and for udp unless
	// tcp fallback is disabled.
	pool *connPool

	reqTotal   atomic.Uint64
	reqSuccess atomic.Uint64
}

func New(logger log.Logger, options Options) (*Upstream, error) {
	u := &Upstream{
		logger:  logger,
		network: options.Network,
		ipv6:    options.IPv6,
	}
	if u.network == "" {
		u.network = UDPNetwork
	}
	var defaultPort uint16
	switch u.network {
	case UDPNetwork, TCPNetwork:
		defaultPort = 53
	case TLSNetwork:
		defaultPort = 853
	default:
		return nil, fmt.Errorf("create upstream failed: unknown network: %s", u.network)
	}
	address, err := parseAddress(options.Address, defaultPort)
	if err != nil {
		return nil, fmt.Errorf("create upstream failed: %s", err)
	}
	u.address = address
	if options.Timeout > 0 {
		u.timeout = time.Duration(options.Timeout)
	} else {
		u.timeout = DefaultQueryTimeout
	}
	streamClient := &dns.Client{
		Net:    "tcp",
		Dialer: &net.Dialer{Timeout: u.timeout},
	}
	if u.network == TLSNetwork {
		serverName := options.ServerName
		if serverName == "" {
			serverName, _, _ = net.SplitHostPort(u.address)
		}
		streamClient.Net = "tcp-tls"
		streamClient.TLSConfig = &tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: options.InsecureSkipVerify,
		}
	}
	if u.network == UDPNetwork {
		u.udpClient = &dns.Client{
			Net:     "udp",
			UDPSize: DefaultUDPBufferSize,
			Dialer:  &net.Dialer{Timeout: u.timeout},
		}
	}
	if u.network != UDPNetwork || !options.DisableFallbackTCP {
		u.pool = newConnPool(0, time.Duration(options.IdleTimeout), func(ctx context.Context) (*dns.Conn, error) {
			conn, err := streamClient.DialContext(ctx, u.address)
			if err != nil {
				return nil, err
			}
			u.logger.Debugf("new %s connection", streamClient.Net)
			return conn, nil
		})
	}
	return u, nil
}

func parseAddress(address string, defaultPort uint16) (string, error) {
	if address == "" {
		return "", fmt.Errorf("missing address")
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return net.JoinHostPort(strings.Trim(address, "[]"), strconv.Itoa(int(defaultPort))), nil
	}
	_, err = strconv.ParseUint(port, 10, 16)
	if err != nil {
		return "", fmt.Errorf("invalid address: %s, error: %s", address, err)
	}
	return net.JoinHostPort(host, port), nil
}

func (u *Upstream) IPv6() bool {
	return u.ipv6
}

func (u *Upstream) Address() string {
	return u.address
}

func (u *Upstream) Network() string {
	return u.network
}

// StatisticalData returns the number of queries sent and answered.
func (u *Upstream) StatisticalData() (total uint64, success uint64) {
	return u.reqTotal.Load(), u.reqSuccess.Load()
}

func (u *Upstream) Close() error {
	if u.pool != nil {
		u.pool.Close()
	}
	return nil
}

func (u *Upstream) Exchange(ctx context.Context, req *dns.Msg) (resp *dns.Msg, err error) {
	messageInfo := reqMessageInfo(req)
	u.logger.DebugContext(ctx, "exchange: ", messageInfo)
	u.reqTotal.Add(1)
	defer func() {
		if err != nil {
			u.logger.ErrorfContext(ctx, "exchange failed: %s, error: %s", messageInfo, err)
		} else {
			u.reqSuccess.Add(1)
			u.logger.DebugContext(ctx, "exchange success: ", messageInfo)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	if u.network == UDPNetwork {
		return u.exchangeUDP(ctx, req)
	}
	return u.exchangeStream(ctx, req)
}

func (u *Upstream) exchangeUDP(ctx context.Context, req *dns.Msg) (*dns.Msg, error) {
	resp, _, err := u.udpClient.ExchangeContext(ctx, req, u.address)
	if err != nil {
		return nil, err
	}
	if !resp.Truncated {
		return resp, nil
	}
	if u.pool == nil {
		return nil, ErrTruncated
	}
	u.logger.DebugContext(ctx, "truncated answer, retry over tcp")
	return u.exchangeStream(ctx, req)
}

func (u *Upstream) exchangeStream(ctx context.Context, req *dns.Msg) (*dns.Msg, error) {
	conn, reused, err := u.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get connection failed: %s", err)
	}
	resp, err := exchangeConn(ctx, conn, req)
	if err != nil && reused {
		// the server may have dropped an idle connection
		conn.Close()
		conn, err = u.pool.newFunc(ctx)
		if err != nil {
			return nil, fmt.Errorf("get connection failed: %s", err)
		}
		resp, err = exchangeConn(ctx, conn, req)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	u.pool.Put(conn)
	return resp, nil
}

func exchangeConn(ctx context.Context, conn *dns.Conn, req *dns.Msg) (*dns.Msg, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultQueryTimeout)
	}
	err := conn.SetDeadline(deadline)
	if err != nil {
		return nil, fmt.Errorf("set connection deadline failed: %s", err)
	}
	err = conn.WriteMsg(req)
	if err != nil {
		return nil, fmt.Errorf("send dns message failed: %s", err)
	}
	resp, err := conn.ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("receive dns message failed: %s", err)
	}
	if resp.Id != req.Id {
		return nil, fmt.Errorf("receive dns message failed: id mismatch: %d != %d", resp.Id, req.Id)
	}
	return resp, nil
}

func reqMessageInfo(req *dns.Msg) string {
	questions := req.Question
	if len(questions) > 0 {
		return fmt.Sprintf("%s %s %s", dns.ClassToString[questions[0].Qclass], dns.TypeToString[questions[0].Qtype], questions[0].Name)
	}
	return "???"
}
