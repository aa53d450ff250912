package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/rnetx/dnsbridge/adapter"
	"github.com/rnetx/dnsbridge/log"
	"github.com/rnetx/dnsbridge/utils"

	"golang.org/x/net/http2"
)

var _ adapter.Listener = (*HTTPSListener)(nil)

// HTTPSListener serves DNS over HTTPS on HTTP/1.1 and HTTP/2.
type HTTPSListener struct {
	ctx        context.Context
	cancel     context.CancelFunc
	tag        string
	logger     log.Logger
	listen     string
	handler    *dohHandler
	tlsConfig  *tls.Config
	limiter    *utils.Limiter
	listener   net.Listener
	httpServer *http.Server
	*lifecycle
}

func NewHTTPSListener(ctx context.Context, logger log.Logger, tag string, options HTTPListenerOptions, baseDir string, handler adapter.Handler) (*HTTPSListener, error) {
	l := &HTTPSListener{
		tag:       tag,
		logger:    logger,
		limiter:   utils.NewLimiter(DefaultMaxConnection),
		lifecycle: newLifecycle(),
	}
	var err error
	l.listen, err = parseListen(options.Listen, 443)
	if err != nil {
		return nil, fmt.Errorf("create https listener failed: %s", err)
	}
	material, err := resolveMaterial(logger, options.TLSListenerOptions, baseDir)
	if err != nil {
		return nil, fmt.Errorf("create https listener failed: %w", err)
	}
	l.tlsConfig = newTLSConfig(material, []string{http2.NextProtoTLS, "http/1.1"})
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.handler, err = newDoHHandler(l.ctx, logger, tag, options, handler)
	if err != nil {
		l.cancel()
		return nil, fmt.Errorf("create https listener failed: %s", err)
	}
	return l, nil
}

func (l *HTTPSListener) Tag() string {
	return l.tag
}

func (l *HTTPSListener) Type() string {
	return HTTPSListenerType
}

func (l *HTTPSListener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

func (l *HTTPSListener) Start() error {
	httpServer := &http.Server{
		Handler:           l.handler.router(),
		ReadHeaderTimeout: DefaultIdleTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	err := http2.ConfigureServer(httpServer, &http2.Server{
		IdleTimeout: DefaultIdleTimeout,
	})
	if err != nil {
		return fmt.Errorf("start https listener failed: %s", err)
	}
	tcpListener, err := listenStream(l.ctx, l.listen)
	if err != nil {
		return fmt.Errorf("start https listener failed: %s", err)
	}
	l.listener = tls.NewListener(&limitListener{Listener: tcpListener, ctx: l.ctx, limiter: l.limiter}, l.tlsConfig)
	l.httpServer = httpServer
	l.logger.Infof("https listener: listen %s", l.listener.Addr())
	go func() {
		err := httpServer.Serve(l.listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		err = loopError(l.ctx, "serve https", err)
		if err != nil {
			l.logger.Errorf("https listener: %s", err)
		}
		l.finish(err)
	}()
	go func() {
		<-l.ctx.Done()
		httpServer.Close()
	}()
	return nil
}

func (l *HTTPSListener) Close() error {
	l.cancel()
	if l.httpServer == nil {
		l.finish(nil)
		return nil
	}
	err := l.httpServer.Close()
	if err != nil && !connIsClosed(err) {
		return err
	}
	return nil
}

// limitListener holds a limiter slot for every accepted connection until
// the connection is closed.
type limitListener struct {
	net.Listener
	ctx     context.Context
	limiter *utils.Limiter
}

func (l *limitListener) Accept() (net.Conn, error) {
	if !l.limiter.Get(l.ctx) {
		return nil, net.ErrClosed
	}
	conn, err := l.Listener.Accept()
	if err != nil {
		l.limiter.PutBack()
		return nil, err
	}
	return &limitConn{Conn: conn, release: l.limiter.PutBack}, nil
}

type limitConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *limitConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.release)
	return err
}
