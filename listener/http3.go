package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/rnetx/dnsbridge/adapter"
	"github.com/rnetx/dnsbridge/log"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

func init() {
	os.Setenv("QUIC_GO_DISABLE_RECEIVE_BUFFER_WARNING", "true")
}

var _ adapter.Listener = (*HTTP3Listener)(nil)

// HTTP3Listener serves DNS over HTTPS on HTTP/3.
type HTTP3Listener struct {
	ctx          context.Context
	cancel       context.CancelFunc
	tag          string
	logger       log.Logger
	listen       string
	handler      *dohHandler
	tlsConfig    *tls.Config
	enable0RTT   bool
	quicListener *quic.EarlyListener
	http3Server  *http3.Server
	*lifecycle
}

func NewHTTP3Listener(ctx context.Context, logger log.Logger, tag string, options HTTPListenerOptions, baseDir string, handler adapter.Handler) (*HTTP3Listener, error) {
	l := &HTTP3Listener{
		tag:        tag,
		logger:     logger,
		lifecycle:  newLifecycle(),
		enable0RTT: options.Enable0RTT,
	}
	var err error
	l.listen, err = parseListen(options.Listen, 443)
	if err != nil {
		return nil, fmt.Errorf("create http3 listener failed: %s", err)
	}
	material, err := resolveMaterial(logger, options.TLSListenerOptions, baseDir)
	if err != nil {
		return nil, fmt.Errorf("create http3 listener failed: %w", err)
	}
	l.tlsConfig = newTLSConfig(material, []string{http3.NextProtoH3})
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.handler, err = newDoHHandler(l.ctx, logger, tag, options, handler)
	if err != nil {
		l.cancel()
		return nil, fmt.Errorf("create http3 listener failed: %s", err)
	}
	return l, nil
}

func (l *HTTP3Listener) Tag() string {
	return l.tag
}

func (l *HTTP3Listener) Type() string {
	return HTTP3ListenerType
}

func (l *HTTP3Listener) Addr() net.Addr {
	if l.quicListener == nil {
		return nil
	}
	return l.quicListener.Addr()
}

func (l *HTTP3Listener) Start() error {
	var err error
	l.quicListener, err = quic.ListenAddrEarly(l.listen, l.tlsConfig, &quic.Config{
		MaxIdleTimeout: DefaultIdleTimeout,
		Allow0RTT:      l.enable0RTT,
	})
	if err != nil {
		return fmt.Errorf("start http3 listener failed: %s", err)
	}
	http3Server := &http3.Server{
		Handler: l.handler.router(),
	}
	l.http3Server = http3Server
	l.logger.Infof("http3 listener: listen %s", l.quicListener.Addr())
	go func() {
		err := http3Server.ServeListener(l.quicListener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		err = loopError(l.ctx, "serve http3", err)
		if err != nil {
			l.logger.Errorf("http3 listener: %s", err)
		}
		l.finish(err)
	}()
	go func() {
		<-l.ctx.Done()
		l.shutdown()
	}()
	return nil
}

func (l *HTTP3Listener) shutdown() {
	l.http3Server.Close()
	l.quicListener.Close()
}

func (l *HTTP3Listener) Close() error {
	l.cancel()
	if l.http3Server == nil {
		l.finish(nil)
		return nil
	}
	l.shutdown()
	return nil
}
