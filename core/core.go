package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/logrusorgru/aurora/v4"
	"github.com/rnetx/dnsbridge/listener"
	"github.com/rnetx/dnsbridge/log"
	"github.com/rnetx/dnsbridge/upstream"
)

var ErrNoServer = errors.New("no listener is running")

// Core runs one bridge process: a logger, the upstream and the server.
type Core struct {
	ctx         context.Context
	rootLogger  log.Logger
	coreLogger  log.Logger
	closeOutput io.Closer
	baseDir     string

	listenOptions listener.Options
	upstream      *upstream.Upstream
}

func NewCore(ctx context.Context, options Options, baseDir string) (*Core, log.Logger, error) {
	level := log.LevelInfo
	if options.Log.Level != "" {
		var err error
		level, err = log.ParseLevel(options.Log.Level)
		if err != nil {
			return nil, nil, err
		}
	}
	var logOutput io.Writer
	switch options.Log.Output {
	case "stdout", "Stdout", "":
		logOutput = os.Stdout
	case "stderr", "Stderr":
		logOutput = os.Stderr
	default:
		options.Log.DisableColor = true
		f, err := os.OpenFile(options.Log.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file failed: %s", err)
		}
		logOutput = f
	}
	rootLogger := log.NewSimpleLogger(logOutput, level, options.Log.DisableTimestamp, options.Log.DisableColor)
	c := &Core{
		ctx:           ctx,
		rootLogger:    rootLogger,
		coreLogger:    log.NewTagLogger(rootLogger, "core", aurora.RedFg),
		baseDir:       baseDir,
		listenOptions: options.Listen,
	}
	if closer, isCloser := logOutput.(io.Closer); isCloser && logOutput != os.Stdout && logOutput != os.Stderr {
		c.closeOutput = closer
	}
	u, err := upstream.New(log.NewTagLogger(rootLogger, "upstream", aurora.GreenFg), options.Upstream)
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	c.upstream = u
	return c, c.coreLogger, nil
}

func (c *Core) Close() error {
	if c.upstream != nil {
		c.upstream.Close()
	}
	if c.closeOutput != nil {
		return c.closeOutput.Close()
	}
	return nil
}

// Run serves until the context is cancelled or a listener stops.
func (c *Core) Run() error {
	c.coreLogger.Info("core is starting...")
	defer c.coreLogger.Info("core is stopped")
	t := time.Now()
	server := Start(c.ctx, c.rootLogger, c.listenOptions, c.upstream, c.baseDir)
	if server == nil {
		c.coreLogger.Fatal(ErrNoServer)
		return ErrNoServer
	}
	for _, l := range server.Listeners() {
		c.coreLogger.Infof("listener[%s] is serving on %s", l.Tag(), l.Addr())
	}
	c.coreLogger.Infof("core is started, cost: %dms", time.Since(t).Milliseconds())
	err := server.Wait()
	if c.ctx.Err() != nil {
		c.coreLogger.Info("core is stopping...")
	}
	closeErr := server.Close()
	if closeErr != nil {
		c.coreLogger.Error(closeErr)
	}
	return err
}
