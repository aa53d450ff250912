package listener

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/miekg/dns"
	"github.com/rnetx/dnsbridge/adapter"
	"github.com/rnetx/dnsbridge/log"
)

const (
	HTTPListenerDefaultPath = "/dns-query"
	dnsMessageContentType   = "application/dns-message"
)

// dohHandler is the RFC 8484 endpoint shared by the HTTP/2 and HTTP/3
// listeners.
type dohHandler struct {
	ctx          context.Context
	tag          string
	logger       log.Logger
	handler      adapter.Handler
	hostname     string
	path         string
	corsOrigins  []string
	realIPHeader string
	trustIP      []netip.Prefix
}

func newDoHHandler(ctx context.Context, logger log.Logger, tag string, options HTTPListenerOptions, handler adapter.Handler) (*dohHandler, error) {
	h := &dohHandler{
		ctx:          ctx,
		tag:          tag,
		logger:       logger,
		handler:      handler,
		hostname:     strings.TrimSuffix(options.Hostname, "."),
		corsOrigins:  options.CORSAllowedOrigins,
		realIPHeader: options.RealIPHeader,
	}
	for _, s := range options.TrustIP {
		prefix, err := parsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("invalid trust-ip: %s", s)
		}
		h.trustIP = append(h.trustIP, prefix)
	}
	h.path = options.Path
	if h.path == "" {
		h.path = HTTPListenerDefaultPath
	}
	if !strings.HasPrefix(h.path, "/") {
		h.path = "/" + h.path
	}
	if h.path != "/" {
		h.path = strings.TrimSuffix(h.path, "/")
	}
	return h, nil
}

func parsePrefix(s string) (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(s)
	if err == nil {
		return prefix.Masked(), nil
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(ip, ip.BitLen()), nil
}

// clientAddr returns the peer address, or the one named by the real ip
// header when the peer is a trusted proxy.
func (h *dohHandler) clientAddr(r *http.Request) (netip.AddrPort, error) {
	addr, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("parse client address failed: %s", err)
	}
	if h.realIPHeader == "" {
		return addr, nil
	}
	if len(h.trustIP) > 0 {
		peer := addr.Addr().Unmap()
		trusted := false
		for _, prefix := range h.trustIP {
			if prefix.Contains(peer) {
				trusted = true
				break
			}
		}
		if !trusted {
			return addr, nil
		}
	}
	value := r.Header.Get(h.realIPHeader)
	if value == "" {
		return addr, nil
	}
	// X-Forwarded-For style lists carry the original client first.
	value, _, _ = strings.Cut(value, ",")
	realIP, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("parse real ip from header failed: %s", err)
	}
	return netip.AddrPortFrom(realIP.Unmap(), 0), nil
}

func (h *dohHandler) router() http.Handler {
	r := chi.NewRouter()
	if len(h.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Get(h.path, h.ServeHTTP)
	r.Post(h.path, h.ServeHTTP)
	return r
}

func (h *dohHandler) hostMatches(r *http.Request) bool {
	if h.hostname == "" {
		return true
	}
	host := r.Host
	if hostname, _, err := net.SplitHostPort(host); err == nil {
		host = hostname
	}
	return strings.EqualFold(strings.TrimSuffix(host, "."), h.hostname)
}

func (h *dohHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientAddr, err := h.clientAddr(r)
	if err != nil {
		h.logger.Debug(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !h.hostMatches(r) {
		h.logger.Debugf("unexpected host: client address: %s, host: %s", clientAddr, r.Host)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var raw []byte
	switch r.Method {
	case http.MethodPost:
		var mediaType string
		mediaType, _, err = mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != dnsMessageContentType {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		raw, err = io.ReadAll(http.MaxBytesReader(w, r.Body, dns.MaxMsgSize))
		r.Body.Close()
		if err != nil {
			h.logger.Debugf("read http body failed: client address: %s, error: %s", clientAddr, err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	case http.MethodGet:
		raw, err = base64.RawURLEncoding.DecodeString(r.URL.Query().Get("dns"))
		if err != nil {
			h.logger.Debugf("decode dns message failed: client address: %s, error: %s", clientAddr, err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req := &dns.Msg{}
	err = req.Unpack(raw)
	if err != nil {
		h.logger.Debugf("unpack dns message failed: client address: %s, error: %s", clientAddr, err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	// Clients usually send id 0; the exchanger sees a fresh id and the
	// reply carries the client's one back.
	oldID := req.Id
	req.Id = dns.Id()
	resp := h.handler.ServeDNS(h.ctx, h.tag, req, clientAddr)
	resp.Id = oldID
	out, err := resp.Pack()
	if err != nil {
		h.logger.Debugf("pack dns message failed: client address: %s, error: %s", clientAddr, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", dnsMessageContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}
