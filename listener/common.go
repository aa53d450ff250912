package listener

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/rnetx/dnsbridge/adapter"
	"github.com/rnetx/dnsbridge/cert"
	"github.com/rnetx/dnsbridge/listener/control"
	"github.com/rnetx/dnsbridge/log"
)

const (
	// DefaultIdleTimeout applies to every stream oriented transport.
	DefaultIdleTimeout   = 5 * time.Second
	DefaultMaxConnection = 256
)

func parseListen(listen string, defaultPort uint16) (string, error) {
	addr, err := netip.ParseAddrPort(listen)
	if err == nil {
		return addr.String(), nil
	}
	ip, err := netip.ParseAddr(strings.Trim(listen, "[]"))
	if err == nil {
		return netip.AddrPortFrom(ip, defaultPort).String(), nil
	}
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("invalid listen: %s, error: %s", listen, err)
	}
	if host == "" {
		host = "::"
	}
	ip, err = netip.ParseAddr(host)
	if err != nil {
		return "", fmt.Errorf("invalid listen: %s, error: %s", listen, err)
	}
	portUint16, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return "", fmt.Errorf("invalid listen: %s, error: %s", listen, err)
	}
	return netip.AddrPortFrom(ip, uint16(portUint16)).String(), nil
}

func connIsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	return false
}

func listenStream(ctx context.Context, listen string) (net.Listener, error) {
	lc := &net.ListenConfig{
		Control: control.ReuseAddr(),
	}
	return lc.Listen(ctx, "tcp", listen)
}

func newTLSConfig(material *cert.Material, nextProtos []string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{material.TLSCertificate()},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   nextProtos,
	}
}

func resolveMaterial(logger log.Logger, options TLSListenerOptions, baseDir string) (*cert.Material, error) {
	if options.KeyFile != "" || options.CertFile != "" {
		logger.Debugf("using custom key and cert: %q / %q", options.KeyFile, options.CertFile)
	}
	return cert.Resolve(options.KeyFile, options.CertFile, baseDir)
}

// lifecycle records how a serve loop ended.
type lifecycle struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newLifecycle() *lifecycle {
	return &lifecycle{
		done: make(chan struct{}),
	}
}

func (s *lifecycle) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *lifecycle) Wait() error {
	<-s.done
	return s.err
}

// loopError drops the error a loop sees once its listener has been closed.
func loopError(ctx context.Context, op string, err error) error {
	if err == nil || ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

func remoteAddrPort(addr net.Addr) netip.AddrPort {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.AddrPort()
	case *net.UDPAddr:
		return a.AddrPort()
	}
	ap, _ := netip.ParseAddrPort(addr.String())
	return ap
}

// malformedReply answers a message that could not be unpacked, as long as
// enough of the header survived to address the reply.
func malformedReply(raw []byte) *dns.Msg {
	if len(raw) < 12 {
		return nil
	}
	resp := &dns.Msg{}
	resp.Id = binary.BigEndian.Uint16(raw)
	resp.Response = true
	resp.Opcode = int(raw[2]>>3) & 0xF
	resp.Rcode = dns.RcodeServerFailure
	return resp
}

// serveStream reads length prefixed messages from conn until the client
// leaves or stays idle. Requests are answered concurrently; writes are
// serialized so frames never interleave.
func serveStream(ctx context.Context, logger log.Logger, tag string, handler adapter.Handler, conn net.Conn) {
	defer conn.Close()
	addr := remoteAddrPort(conn.RemoteAddr())
	var (
		wg      sync.WaitGroup
		writeMu sync.Mutex
	)
	defer wg.Wait()
	write := func(resp *dns.Msg) {
		raw, err := resp.Pack()
		if err != nil {
			logger.Debugf("pack dns message failed: client address: %s, error: %s", addr, err)
			return
		}
		buffer := make([]byte, 2+len(raw))
		binary.BigEndian.PutUint16(buffer, uint16(len(raw)))
		copy(buffer[2:], raw)
		writeMu.Lock()
		defer writeMu.Unlock()
		err = conn.SetWriteDeadline(time.Now().Add(DefaultIdleTimeout))
		if err != nil {
			logger.Debugf("set write deadline failed: %s", err)
			return
		}
		_, err = conn.Write(buffer)
		if err != nil {
			logger.Debugf("write dns message failed: client address: %s, error: %s", addr, err)
		}
	}
	for {
		err := conn.SetReadDeadline(time.Now().Add(DefaultIdleTimeout))
		if err != nil {
			if !connIsClosed(err) {
				logger.Errorf("set read deadline failed: %s", err)
			}
			return
		}
		var length uint16
		err = binary.Read(conn, binary.BigEndian, &length)
		if err != nil {
			if !connIsClosed(err) {
				logger.Debugf("read data failed: client address: %s, error: %s", addr, err)
			}
			return
		}
		if length == 0 {
			logger.Debugf("invalid length: client address: %s", addr)
			return
		}
		data := make([]byte, length)
		_, err = io.ReadFull(conn, data)
		if err != nil {
			if !connIsClosed(err) {
				logger.Debugf("read data failed: client address: %s, error: %s", addr, err)
			}
			return
		}
		req := &dns.Msg{}
		err = req.Unpack(data)
		if err != nil {
			logger.Debugf("unpack dns message failed: client address: %s, error: %s", addr, err)
			if resp := malformedReply(data); resp != nil {
				write(resp)
			}
			continue
		}
		wg.Add(1)
		go func(req *dns.Msg) {
			defer wg.Done()
			write(handler.ServeDNS(ctx, tag, req, addr))
		}(req)
	}
}
