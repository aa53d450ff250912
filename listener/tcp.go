package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rnetx/dnsbridge/adapter"
	"github.com/rnetx/dnsbridge/log"
	"github.com/rnetx/dnsbridge/utils"
)

var _ adapter.Listener = (*TCPListener)(nil)

type TCPListener struct {
	ctx         context.Context
	cancel      context.CancelFunc
	tag         string
	logger      log.Logger
	listen      string
	handler     adapter.Handler
	limiter     *utils.Limiter
	tcpListener net.Listener
	*lifecycle
}

func NewTCPListener(ctx context.Context, logger log.Logger, tag string, listen string, handler adapter.Handler) (*TCPListener, error) {
	l := &TCPListener{
		tag:       tag,
		logger:    logger,
		handler:   handler,
		limiter:   utils.NewLimiter(DefaultMaxConnection),
		lifecycle: newLifecycle(),
	}
	var err error
	l.listen, err = parseListen(listen, 53)
	if err != nil {
		return nil, fmt.Errorf("create tcp listener failed: %s", err)
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	return l, nil
}

func (l *TCPListener) Tag() string {
	return l.tag
}

func (l *TCPListener) Type() string {
	return TCPListenerType
}

func (l *TCPListener) Addr() net.Addr {
	if l.tcpListener == nil {
		return nil
	}
	return l.tcpListener.Addr()
}

func (l *TCPListener) Start() error {
	var err error
	l.tcpListener, err = listenStream(l.ctx, l.listen)
	if err != nil {
		return fmt.Errorf("start tcp listener failed: %s", err)
	}
	l.logger.Infof("tcp listener: listen %s", l.tcpListener.Addr())
	go acceptLoop(l.ctx, l.logger, l.tag, l.handler, l.limiter, l.tcpListener, l.lifecycle)
	go func() {
		<-l.ctx.Done()
		l.tcpListener.Close()
	}()
	return nil
}

func (l *TCPListener) Close() error {
	l.cancel()
	if l.tcpListener == nil {
		l.finish(nil)
		return nil
	}
	err := l.tcpListener.Close()
	if err != nil && !connIsClosed(err) {
		return err
	}
	return nil
}

const (
	acceptRetryMin = 5 * time.Millisecond
	acceptRetryMax = time.Second
)

// acceptLoop serves framed DNS over every accepted stream until ln is
// closed. Other accept errors, such as running out of file descriptors,
// are logged and retried after a growing delay.
func acceptLoop(ctx context.Context, logger log.Logger, tag string, handler adapter.Handler, limiter *utils.Limiter, ln net.Listener, state *lifecycle) {
	var retryDelay time.Duration
	for {
		if !limiter.Get(ctx) {
			state.finish(nil)
			return
		}
		conn, err := ln.Accept()
		if err != nil {
			limiter.PutBack()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				err = loopError(ctx, "accept", err)
				if err != nil {
					logger.Errorf("%s listener: %s", tag, err)
				}
				state.finish(err)
				return
			}
			if retryDelay == 0 {
				retryDelay = acceptRetryMin
			} else {
				retryDelay *= 2
			}
			if retryDelay > acceptRetryMax {
				retryDelay = acceptRetryMax
			}
			logger.Errorf("%s listener: accept failed: %s, retry in %s", tag, err, retryDelay)
			select {
			case <-ctx.Done():
				state.finish(nil)
				return
			case <-time.After(retryDelay):
			}
			continue
		}
		retryDelay = 0
		go func() {
			defer limiter.PutBack()
			serveStream(ctx, logger, tag, handler, conn)
		}()
	}
}
