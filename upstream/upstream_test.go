package upstream

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/rnetx/dnsbridge/bridge"
	"github.com/rnetx/dnsbridge/cert"
	"github.com/rnetx/dnsbridge/log"
	"github.com/rnetx/dnsbridge/utils"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	addr  string
	conns atomic.Int32
}

func answer(w dns.ResponseWriter, req *dns.Msg, truncate bool) {
	resp := &dns.Msg{}
	resp.SetReply(req)
	if truncate {
		resp.Truncated = true
	} else {
		resp.Answer = []dns.RR{&dns.A{
			Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   net.ParseIP("93.184.215.14").To4(),
		}}
	}
	w.WriteMsg(resp)
}

func startUDPServer(t *testing.T, truncate bool) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	server := &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			answer(w, req, truncate)
		}),
	}
	go server.ActivateAndServe()
	t.Cleanup(func() {
		server.Shutdown()
	})
	return pc.LocalAddr().String()
}

func startStreamServer(t *testing.T, tlsConfig *tls.Config, addr string) *testServer {
	t.Helper()
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	var (
		ln  net.Listener
		err error
	)
	if tlsConfig != nil {
		ln, err = tls.Listen("tcp", addr, tlsConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	require.NoError(t, err)
	s := &testServer{addr: ln.Addr().String()}
	server := &dns.Server{
		Listener: &countingListener{Listener: ln, conns: &s.conns},
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			answer(w, req, false)
		}),
	}
	go server.ActivateAndServe()
	t.Cleanup(func() {
		server.Shutdown()
	})
	return s
}

type countingListener struct {
	net.Listener
	conns *atomic.Int32
}

func (l *countingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		l.conns.Add(1)
	}
	return conn, err
}

func newQuery(qtype uint16) *dns.Msg {
	req := &dns.Msg{}
	req.SetQuestion("example.com.", qtype)
	return req
}

func requireA(t *testing.T, resp *dns.Msg, req *dns.Msg) {
	t.Helper()
	require.Equal(t, req.Id, resp.Id)
	require.Len(t, resp.Answer, 1)
	a, ok := resp.Answer[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, "93.184.215.14", a.A.String())
}

func TestNewOptions(t *testing.T) {
	u, err := New(log.NewNopLogger(), Options{Address: "127.0.0.1"})
	require.NoError(t, err)
	require.Equal(t, UDPNetwork, u.Network())
	require.Equal(t, "127.0.0.1:53", u.Address())
	require.False(t, u.IPv6())

	u, err = New(log.NewNopLogger(), Options{Address: "::1", Network: TLSNetwork, IPv6: true})
	require.NoError(t, err)
	require.Equal(t, "[::1]:853", u.Address())
	require.True(t, u.IPv6())

	_, err = New(log.NewNopLogger(), Options{Address: "127.0.0.1", Network: "quic"})
	require.Error(t, err)
	_, err = New(log.NewNopLogger(), Options{})
	require.Error(t, err)
	_, err = New(log.NewNopLogger(), Options{Address: "127.0.0.1:70000"})
	require.Error(t, err)
}

func TestUDPUpstream(t *testing.T) {
	addr := startUDPServer(t, false)
	u, err := New(log.NewNopLogger(), Options{Address: addr})
	require.NoError(t, err)
	defer u.Close()

	req := newQuery(dns.TypeA)
	resp, err := u.Exchange(context.Background(), req)
	require.NoError(t, err)
	requireA(t, resp, req)
	total, success := u.StatisticalData()
	require.Equal(t, uint64(1), total)
	require.Equal(t, uint64(1), success)
}

func TestUDPUpstreamFallbackTCP(t *testing.T) {
	udpAddr := startUDPServer(t, true)
	startStreamServer(t, nil, udpAddr)
	u, err := New(log.NewNopLogger(), Options{Address: udpAddr})
	require.NoError(t, err)
	defer u.Close()

	req := newQuery(dns.TypeA)
	resp, err := u.Exchange(context.Background(), req)
	require.NoError(t, err)
	require.False(t, resp.Truncated)
	requireA(t, resp, req)
}

func TestUDPUpstreamTruncatedWithoutFallback(t *testing.T) {
	udpAddr := startUDPServer(t, true)
	u, err := New(log.NewNopLogger(), Options{Address: udpAddr, DisableFallbackTCP: true})
	require.NoError(t, err)
	defer u.Close()

	_, err = u.Exchange(context.Background(), newQuery(dns.TypeA))
	require.ErrorIs(t, err, ErrTruncated)
	total, success := u.StatisticalData()
	require.Equal(t, uint64(1), total)
	require.Equal(t, uint64(0), success)
}

func TestUDPUpstreamTruncatedBridgeAnswer(t *testing.T) {
	udpAddr := startUDPServer(t, true)
	u, err := New(log.NewNopLogger(), Options{Address: udpAddr, DisableFallbackTCP: true})
	require.NoError(t, err)
	defer u.Close()

	b := bridge.New(log.NewNopLogger(), u)
	req := newQuery(dns.TypeA)
	resp := b.ServeDNS(context.Background(), "udp", req, netip.MustParseAddrPort("127.0.0.1:5353"))
	require.Equal(t, dns.RcodeServerFailure, resp.Rcode)
	require.Equal(t, req.Id, resp.Id)
	require.Empty(t, resp.Answer)
}

func TestTCPUpstreamReusesConnection(t *testing.T) {
	s := startStreamServer(t, nil, "")
	u, err := New(log.NewNopLogger(), Options{Address: s.addr, Network: TCPNetwork})
	require.NoError(t, err)
	defer u.Close()

	for i := 0; i < 3; i++ {
		req := newQuery(dns.TypeA)
		resp, err := u.Exchange(context.Background(), req)
		require.NoError(t, err)
		requireA(t, resp, req)
	}
	require.Equal(t, int32(1), s.conns.Load())
	require.Equal(t, 1, u.pool.Len())
}

func TestTLSUpstream(t *testing.T) {
	material, err := cert.Default()
	require.NoError(t, err)
	s := startStreamServer(t, &tls.Config{Certificates: []tls.Certificate{material.TLSCertificate()}}, "")
	u, err := New(log.NewNopLogger(), Options{
		Address:            s.addr,
		Network:            TLSNetwork,
		ServerName:         "dns.example.com",
		InsecureSkipVerify: true,
	})
	require.NoError(t, err)
	defer u.Close()

	req := newQuery(dns.TypeA)
	resp, err := u.Exchange(context.Background(), req)
	require.NoError(t, err)
	requireA(t, resp, req)
}

func TestUpstreamTimeout(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	u, err := New(log.NewNopLogger(), Options{Address: pc.LocalAddr().String(), Timeout: utils.Duration(200 * time.Millisecond)})
	require.NoError(t, err)
	defer u.Close()

	start := time.Now()
	_, err = u.Exchange(context.Background(), newQuery(dns.TypeA))
	require.Error(t, err)
	require.Less(t, time.Since(start), 3*time.Second)
	total, success := u.StatisticalData()
	require.Equal(t, uint64(1), total)
	require.Equal(t, uint64(0), success)
}

func TestConnPoolExpiresIdle(t *testing.T) {
	dials := 0
	p := newConnPool(1, 50*time.Millisecond, func(ctx context.Context) (*dns.Conn, error) {
		dials++
		client, server := net.Pipe()
		t.Cleanup(func() {
			server.Close()
		})
		return &dns.Conn{Conn: client}, nil
	})
	defer p.Close()

	conn, reused, err := p.Get(context.Background())
	require.NoError(t, err)
	require.False(t, reused)
	p.Put(conn)

	conn, reused, err = p.Get(context.Background())
	require.NoError(t, err)
	require.True(t, reused)
	p.Put(conn)

	time.Sleep(100 * time.Millisecond)
	_, reused, err = p.Get(context.Background())
	require.NoError(t, err)
	require.False(t, reused)
	require.Equal(t, 2, dials)

	p.Close()
	_, _, err = p.Get(context.Background())
	require.ErrorIs(t, err, net.ErrClosed)
}
