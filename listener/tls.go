package listener

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/rnetx/dnsbridge/adapter"
	"github.com/rnetx/dnsbridge/log"
	"github.com/rnetx/dnsbridge/utils"
)

var _ adapter.Listener = (*TLSListener)(nil)

// TLSListener serves DNS over TLS.
type TLSListener struct {
	ctx         context.Context
	cancel      context.CancelFunc
	tag         string
	logger      log.Logger
	listen      string
	handler     adapter.Handler
	limiter     *utils.Limiter
	tlsConfig   *tls.Config
	tlsListener net.Listener
	*lifecycle
}

func NewTLSListener(ctx context.Context, logger log.Logger, tag string, options TLSListenerOptions, baseDir string, handler adapter.Handler) (*TLSListener, error) {
	l := &TLSListener{
		tag:       tag,
		logger:    logger,
		handler:   handler,
		limiter:   utils.NewLimiter(DefaultMaxConnection),
		lifecycle: newLifecycle(),
	}
	var err error
	l.listen, err = parseListen(options.Listen, 853)
	if err != nil {
		return nil, fmt.Errorf("create tls listener failed: %s", err)
	}
	material, err := resolveMaterial(logger, options, baseDir)
	if err != nil {
		return nil, fmt.Errorf("create tls listener failed: %w", err)
	}
	l.tlsConfig = newTLSConfig(material, []string{"dot"})
	l.ctx, l.cancel = context.WithCancel(ctx)
	return l, nil
}

func (l *TLSListener) Tag() string {
	return l.tag
}

func (l *TLSListener) Type() string {
	return TLSListenerType
}

func (l *TLSListener) Addr() net.Addr {
	if l.tlsListener == nil {
		return nil
	}
	return l.tlsListener.Addr()
}

func (l *TLSListener) Start() error {
	tcpListener, err := listenStream(l.ctx, l.listen)
	if err != nil {
		return fmt.Errorf("start tls listener failed: %s", err)
	}
	l.tlsListener = tls.NewListener(tcpListener, l.tlsConfig)
	l.logger.Infof("tls listener: listen %s", l.tlsListener.Addr())
	go acceptLoop(l.ctx, l.logger, l.tag, l.handler, l.limiter, l.tlsListener, l.lifecycle)
	go func() {
		<-l.ctx.Done()
		l.tlsListener.Close()
	}()
	return nil
}

func (l *TLSListener) Close() error {
	l.cancel()
	if l.tlsListener == nil {
		l.finish(nil)
		return nil
	}
	err := l.tlsListener.Close()
	if err != nil && !connIsClosed(err) {
		return err
	}
	return nil
}
