package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/logrusorgru/aurora/v4"
	"github.com/rnetx/dnsbridge/adapter"
)

var DefaultLogger Logger

func init() {
	DefaultLogger = NewSimpleLogger(os.Stdout, LevelInfo, false, false)
}

var (
	_ basicLogger = (*SimpleLogger)(nil)
	_ Logger      = (*SimpleLogger)(nil)
)

type SimpleLogger struct {
	mu               sync.Mutex
	writer           io.Writer
	_level           Level
	disableTimestamp bool
	_disableColor    bool
	Logger
}

func NewSimpleLogger(writer io.Writer, level Level, disableTimestamp bool, disableColor bool) Logger {
	s := &SimpleLogger{
		writer:           writer,
		_level:           level,
		disableTimestamp: disableTimestamp,
		_disableColor:    disableColor,
	}
	s.Logger = newExportLogger(s)
	return s
}

func (l *SimpleLogger) level() Level {
	return l._level
}

func (l *SimpleLogger) disableColor() bool {
	return l._disableColor
}

func (l *SimpleLogger) print(level Level, msg string) {
	if level < l._level {
		return
	}
	l.write(level, msg)
}

func (l *SimpleLogger) printContext(ctx context.Context, level Level, msg string) {
	if level < l._level {
		return
	}
	l.write(level, contextPrefix(ctx, l._disableColor)+msg)
}

func (l *SimpleLogger) write(level Level, msg string) {
	var b strings.Builder
	if !l.disableTimestamp {
		b.WriteString(fmt.Sprintf("[%s] ", time.Now().Format(time.DateTime)))
	}
	if !l._disableColor {
		b.WriteString(fmt.Sprintf("[%s] ", level.ColorString()))
	} else {
		b.WriteString(fmt.Sprintf("[%s] ", level.String()))
	}
	b.WriteString(msg)
	l.mu.Lock()
	fmt.Fprintln(l.writer, b.String())
	l.mu.Unlock()
}

// contextPrefix renders the request id and elapsed time stored by
// adapter.SaveLogContext, or nothing when ctx carries none.
func contextPrefix(ctx context.Context, disableColor bool) string {
	logContext := adapter.LoadLogContext(ctx)
	if logContext == nil {
		return ""
	}
	s := fmt.Sprintf("%d %dms", logContext.ID(), logContext.Duration().Milliseconds())
	if !disableColor {
		return fmt.Sprintf("[%s] ", aurora.Colorize(s, logContext.Color()))
	}
	return fmt.Sprintf("[%s] ", s)
}
