package server

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/remotefs/internal/rfo"
)

// NewLoggingMiddleware returns a middleware which logs every request at the
// debug level.
func NewLoggingMiddleware(l log.Logger) Middleware {
	if l == nil {
		l = log.NewNopLogger()
	}
	return &loggingMiddleware{l: l}
}

type loggingMiddleware struct {
	l log.Logger
}

func (lm *loggingMiddleware) HandleRequest(ctx context.Context, op rfo.Op, req rfo.Request, invoker Invoker) (rfo.Response, error) {
	start := time.Now()
	level.Debug(lm.l).Log("msg", "starting request", "op", op)
	resp, err := invoker(ctx, op, req)
	level.Debug(lm.l).Log("msg", "finished request", "op", op, "duration", time.Since(start), "err", err)
	return resp, err
}
