package log

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/logrusorgru/aurora/v4"
	"github.com/rnetx/dnsbridge/adapter"
	"github.com/stretchr/testify/require"
)

type fixedLogContext struct{}

func (fixedLogContext) ID() uint32 {
	return 123456789
}

func (fixedLogContext) Color() aurora.Color {
	return aurora.GreenFg
}

func (fixedLogContext) Duration() time.Duration {
	return 7 * time.Millisecond
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"":        LevelInfo,
		"debug":   LevelDebug,
		"Info":    LevelInfo,
		"warning": LevelWarn,
		"WARN":    LevelWarn,
		"error":   LevelError,
		"fatal":   LevelFatal,
	}
	for s, want := range tests {
		got, err := ParseLevel(s)
		require.NoError(t, err, s)
		require.Equal(t, want, got, s)
	}
	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestSimpleLoggerLevel(t *testing.T) {
	var buffer bytes.Buffer
	logger := NewSimpleLogger(&buffer, LevelWarn, true, true)
	logger.Info("hidden")
	logger.Warnf("shown %d", 1)
	logger.Error("also shown")
	lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")
	require.Equal(t, []string{"[Warn] shown 1", "[Error] also shown"}, lines)
}

func TestContextPrefix(t *testing.T) {
	var buffer bytes.Buffer
	logger := NewSimpleLogger(&buffer, LevelDebug, true, true)
	ctx := adapter.SaveLogContext(context.Background(), fixedLogContext{})
	logger.InfoContext(ctx, "request")
	logger.InfoContext(context.Background(), "plain")
	lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")
	require.Equal(t, []string{"[Info] [123456789 7ms] request", "[Info] plain"}, lines)
}

func TestTagLogger(t *testing.T) {
	var buffer bytes.Buffer
	root := NewSimpleLogger(&buffer, LevelInfo, true, true)
	logger := NewTagLogger(root, "listener/udp", aurora.YellowFg)
	logger.Debug("hidden")
	logger.Infof("listen %s", "127.0.0.1:53")
	require.Equal(t, "[Info] [listener/udp] listen 127.0.0.1:53\n", buffer.String())
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Error("nothing")
	logger.ErrorfContext(context.Background(), "nothing %d", 1)
}
