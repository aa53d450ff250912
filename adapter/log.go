package adapter

import (
	"context"
	"time"

	"github.com/logrusorgru/aurora/v4"
)

type LogContext interface {
	ID() uint32
	Color() aurora.Color
	Duration() time.Duration
}

var logCtxKey = (*struct{})(nil)

func SaveLogContext(ctx context.Context, logContext LogContext) context.Context {
	return context.WithValue(ctx, logCtxKey, logContext)
}

func LoadLogContext(ctx context.Context) LogContext {
	if ctx == nil {
		return nil
	}
	v := ctx.Value(logCtxKey)
	if v == nil {
		return nil
	}
	c, ok := v.(LogContext)
	if ok {
		return c
	}
	return nil
}
