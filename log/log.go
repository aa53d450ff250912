package log

import (
	"context"
	"fmt"
)

// Logger is implemented by every logger in this package. The Context
// variants add the request id carried by ctx, if any.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	DebugContext(ctx context.Context, args ...interface{})
	InfoContext(ctx context.Context, args ...interface{})
	DebugfContext(ctx context.Context, format string, args ...interface{})
	InfofContext(ctx context.Context, format string, args ...interface{})
	ErrorfContext(ctx context.Context, format string, args ...interface{})

	basicLogger() basicLogger
}

type basicLogger interface {
	level() Level
	disableColor() bool

	print(level Level, msg string)
	printContext(ctx context.Context, level Level, msg string)
}

var _ Logger = (*ExportLogger)(nil)

// ExportLogger formats messages and hands them to a basicLogger.
type ExportLogger struct {
	logger basicLogger
}

func newExportLogger(logger basicLogger) Logger {
	return &ExportLogger{
		logger: logger,
	}
}

func (l *ExportLogger) basicLogger() basicLogger {
	return l.logger
}

func (l *ExportLogger) Debug(args ...interface{}) {
	l.logger.print(LevelDebug, fmt.Sprint(args...))
}

func (l *ExportLogger) Info(args ...interface{}) {
	l.logger.print(LevelInfo, fmt.Sprint(args...))
}

func (l *ExportLogger) Warn(args ...interface{}) {
	l.logger.print(LevelWarn, fmt.Sprint(args...))
}

func (l *ExportLogger) Error(args ...interface{}) {
	l.logger.print(LevelError, fmt.Sprint(args...))
}

func (l *ExportLogger) Fatal(args ...interface{}) {
	l.logger.print(LevelFatal, fmt.Sprint(args...))
}

func (l *ExportLogger) Debugf(format string, args ...interface{}) {
	l.logger.print(LevelDebug, fmt.Sprintf(format, args...))
}

func (l *ExportLogger) Infof(format string, args ...interface{}) {
	l.logger.print(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *ExportLogger) Warnf(format string, args ...interface{}) {
	l.logger.print(LevelWarn, fmt.Sprintf(format, args...))
}

func (l *ExportLogger) Errorf(format string, args ...interface{}) {
	l.logger.print(LevelError, fmt.Sprintf(format, args...))
}

func (l *ExportLogger) Fatalf(format string, args ...interface{}) {
	l.logger.print(LevelFatal, fmt.Sprintf(format, args...))
}

func (l *ExportLogger) DebugContext(ctx context.Context, args ...interface{}) {
	l.logger.printContext(ctx, LevelDebug, fmt.Sprint(args...))
}

func (l *ExportLogger) InfoContext(ctx context.Context, args ...interface{}) {
	l.logger.printContext(ctx, LevelInfo, fmt.Sprint(args...))
}

func (l *ExportLogger) DebugfContext(ctx context.Context, format string, args ...interface{}) {
	l.logger.printContext(ctx, LevelDebug, fmt.Sprintf(format, args...))
}

func (l *ExportLogger) InfofContext(ctx context.Context, format string, args ...interface{}) {
	l.logger.printContext(ctx, LevelInfo, fmt.Sprintf(format, args...))
}

func (l *ExportLogger) ErrorfContext(ctx context.Context, format string, args ...interface{}) {
	l.logger.printContext(ctx, LevelError, fmt.Sprintf(format, args...))
}
