package log

import (
	"context"
	"fmt"

	"github.com/logrusorgru/aurora/v4"
)

var (
	_ basicLogger = (*TagLogger)(nil)
	_ Logger      = (*TagLogger)(nil)
)

// TagLogger prefixes every line with a component tag such as "listener/udp".
type TagLogger struct {
	logger basicLogger
	tag    string
	color  aurora.Color
	Logger
}

func NewTagLogger(logger Logger, tag string, color aurora.Color) *TagLogger {
	t := &TagLogger{
		logger: logger.basicLogger(),
		tag:    tag,
		color:  color,
	}
	t.Logger = newExportLogger(t)
	return t
}

func (t *TagLogger) level() Level {
	return t.logger.level()
}

func (t *TagLogger) disableColor() bool {
	return t.logger.disableColor()
}

func (t *TagLogger) prefix() string {
	if !t.logger.disableColor() && t.color != 0 {
		return fmt.Sprintf("[%s] ", aurora.Colorize(t.tag, t.color))
	}
	return fmt.Sprintf("[%s] ", t.tag)
}

func (t *TagLogger) print(level Level, msg string) {
	if level < t.logger.level() {
		return
	}
	t.logger.print(level, t.prefix()+msg)
}

func (t *TagLogger) printContext(ctx context.Context, level Level, msg string) {
	if level < t.logger.level() {
		return
	}
	t.logger.print(level, t.prefix()+contextPrefix(ctx, t.logger.disableColor())+msg)
}
