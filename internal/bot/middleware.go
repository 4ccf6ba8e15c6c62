package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	kit "groupcast/internal/transport"
	logx "groupcast/pkg/logx"
)

// Request is one incoming update after routing.
type Request struct {
	Update kit.Update
	Chat   kit.ChatTarget
	FromID int64
	// Route is the command ("/start") or callback "scope:action".
	Route   string
	Payload string
	Logger  logx.Logger

	// root outlives the handler timeout; background work binds to it.
	root context.Context
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.String("route", req.Route),
				logx.Duration("dur", d),
			}
			if err != nil {
				req.Logger.Warn("request failed", append(fields, logx.Err(err))...)
			} else if d >= 750*time.Millisecond {
				req.Logger.Info("request ok", fields...)
			} else {
				req.Logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}
