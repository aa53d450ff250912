package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/logrusorgru/aurora/v4"
	"github.com/rnetx/dnsbridge/adapter"
	"github.com/rnetx/dnsbridge/bridge"
	"github.com/rnetx/dnsbridge/listener"
	"github.com/rnetx/dnsbridge/log"
)

// Server is the set of transports that came up. Its lifetime ends as soon
// as any one of them stops.
type Server struct {
	ctx       context.Context
	cancel    context.CancelFunc
	logger    log.Logger
	listeners []adapter.Listener

	done     chan struct{}
	stopOnce sync.Once
	err      error
}

type listenerFactory func(ctx context.Context, logger log.Logger, handler adapter.Handler) (adapter.Listener, error)

// Start brings up every configured transport in a fixed order: udp, tcp,
// dot, doh, doh3. A transport that cannot be created or bound is logged and
// skipped. Start returns nil when no transport is serving.
func Start(ctx context.Context, logger log.Logger, options listener.Options, exchanger adapter.Exchanger, baseDir string) *Server {
	ctx, cancel := context.WithCancel(ctx)
	s := &Server{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		done:   make(chan struct{}),
	}
	if options.IsEmpty() {
		logger.Warn("no listener configured")
	}
	handler := bridge.New(log.NewTagLogger(logger, "bridge", aurora.CyanFg), exchanger)
	for _, item := range listenerFactories(options, baseDir) {
		listenerLogger := log.NewTagLogger(logger, fmt.Sprintf("listener/%s", item.tag), aurora.YellowFg)
		l, err := item.factory(ctx, listenerLogger, handler)
		if err != nil {
			logger.Warnf("skip %s listener: %s", item.tag, err)
			continue
		}
		err = l.Start()
		if err != nil {
			l.Close()
			logger.Warnf("skip %s listener: %s", item.tag, err)
			continue
		}
		s.listeners = append(s.listeners, l)
	}
	if len(s.listeners) == 0 {
		cancel()
		return nil
	}
	for _, l := range s.listeners {
		go func(l adapter.Listener) {
			s.stop(l, l.Wait())
		}(l)
	}
	return s
}

type listenerItem struct {
	tag     string
	factory listenerFactory
}

func listenerFactories(options listener.Options, baseDir string) []listenerItem {
	var items []listenerItem
	if options.UDP != "" {
		items = append(items, listenerItem{listener.UDPListenerType, func(ctx context.Context, logger log.Logger, handler adapter.Handler) (adapter.Listener, error) {
			return listener.NewUDPListener(ctx, logger, listener.UDPListenerType, options.UDP, handler)
		}})
	}
	if options.TCP != "" {
		items = append(items, listenerItem{listener.TCPListenerType, func(ctx context.Context, logger log.Logger, handler adapter.Handler) (adapter.Listener, error) {
			return listener.NewTCPListener(ctx, logger, listener.TCPListenerType, options.TCP, handler)
		}})
	}
	if options.DoT != nil {
		items = append(items, listenerItem{listener.TLSListenerType, func(ctx context.Context, logger log.Logger, handler adapter.Handler) (adapter.Listener, error) {
			return listener.NewTLSListener(ctx, logger, listener.TLSListenerType, *options.DoT, baseDir, handler)
		}})
	}
	if options.DoH != nil {
		items = append(items, listenerItem{listener.HTTPSListenerType, func(ctx context.Context, logger log.Logger, handler adapter.Handler) (adapter.Listener, error) {
			return listener.NewHTTPSListener(ctx, logger, listener.HTTPSListenerType, *options.DoH, baseDir, handler)
		}})
	}
	if options.DoH3 != nil {
		items = append(items, listenerItem{listener.HTTP3ListenerType, func(ctx context.Context, logger log.Logger, handler adapter.Handler) (adapter.Listener, error) {
			return listener.NewHTTP3Listener(ctx, logger, listener.HTTP3ListenerType, *options.DoH3, baseDir, handler)
		}})
	}
	return items
}

func (s *Server) stop(l adapter.Listener, err error) {
	s.stopOnce.Do(func() {
		if err != nil {
			s.logger.Errorf("listener[%s] stopped: %s", l.Tag(), err)
		}
		s.err = err
		s.cancel()
		for _, other := range s.listeners {
			if other == l {
				continue
			}
			closeErr := other.Close()
			if closeErr != nil {
				s.logger.Errorf("close listener[%s] failed: %s", other.Tag(), closeErr)
			}
		}
		close(s.done)
	})
}

// Listeners returns the transports that are serving, in start order.
func (s *Server) Listeners() []adapter.Listener {
	return s.listeners
}

// Wait blocks until the first listener stops and returns its outcome. A
// listener stopped through Close reports nil.
func (s *Server) Wait() error {
	<-s.done
	return s.err
}

func (s *Server) Close() error {
	s.cancel()
	var errs []error
	for _, l := range s.listeners {
		err := l.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("close listener[%s] failed: %w", l.Tag(), err))
		}
	}
	<-s.done
	return errors.Join(errs...)
}
