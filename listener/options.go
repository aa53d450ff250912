package listener

import "github.com/rnetx/dnsbridge/utils"

const (
	UDPListenerType   = "udp"
	TCPListenerType   = "tcp"
	TLSListenerType   = "dot"
	HTTPSListenerType = "doh"
	HTTP3ListenerType = "doh3"
)

// Options selects the transports to serve. An empty address or a nil
// section leaves that transport disabled.
type Options struct {
	UDP  string               `yaml:"udp,omitempty"`
	TCP  string               `yaml:"tcp,omitempty"`
	DoT  *TLSListenerOptions  `yaml:"dot,omitempty"`
	DoH  *HTTPListenerOptions `yaml:"doh,omitempty"`
	DoH3 *HTTPListenerOptions `yaml:"doh3,omitempty"`
}

func (o Options) IsEmpty() bool {
	return o.UDP == "" && o.TCP == "" && o.DoT == nil && o.DoH == nil && o.DoH3 == nil
}

// TLSListenerOptions configures a TLS transport. Key and certificate paths
// are relative to the server's base directory; either may be left empty to
// use the built-in default.
type TLSListenerOptions struct {
	Listen   string `yaml:"listen"`
	KeyFile  string `yaml:"key-file,omitempty"`
	CertFile string `yaml:"cert-file,omitempty"`
}

type HTTPListenerOptions struct {
	TLSListenerOptions `yaml:",inline"`
	// Hostname, when set, must match the authority of every request.
	Hostname           string                 `yaml:"hostname,omitempty"`
	Path               string                 `yaml:"path,omitempty"`
	CORSAllowedOrigins utils.Listable[string] `yaml:"cors-allowed-origins,omitempty"`
	// RealIPHeader names a header carrying the client address set by a
	// reverse proxy. It is only read from peers listed in TrustIP, or from
	// any peer when TrustIP is empty.
	RealIPHeader string                 `yaml:"real-ip-header,omitempty"`
	TrustIP      utils.Listable[string] `yaml:"trust-ip,omitempty"`
	// Enable0RTT accepts 0-RTT requests on the http3 listener.
	Enable0RTT bool `yaml:"enable-0rtt,omitempty"`
}
