package registry

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/message"
	"golang.org/x/time/rate"
)

// Middleware wraps a handler
type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one, the first being the outermost
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// recovery converts a handler panic into a HandlerFailure and a nil result into a
// nil value. It always wraps the handler itself.
func recovery(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, msg *message.Message) (res *message.Result, err error) {
		defer func() {
			if p := recover(); p != nil {
				log.Errorf("procedure %s panicked: %v\n%s", msg.Name(), p, debug.Stack())
				res = nil
				err = common.NewError(common.KindHandlerFailure, "%s panicked: %v", msg.Name(), p)
			}
		}()
		res, err = next(ctx, msg)
		if err == nil && res == nil {
			res = message.Value(nil)
		}
		return res, err
	}
}

// LoggingMiddleware logs every call with its duration and error
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *message.Message) (*message.Result, error) {
			start := time.Now()
			res, err := next(ctx, msg)
			duration := time.Since(start)
			if err != nil {
				log.Warningf("%s failed after %s: %v", msg, duration, err)
			} else {
				log.Debugf("%s returned %s after %s", msg, res.Kind(), duration)
			}
			return res, err
		}
	}
}

// RateLimitMiddleware rejects calls exceeding r calls per second (token bucket with
// the given burst) with Busy
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *message.Message) (*message.Result, error) {
			if !limiter.Allow() {
				return nil, common.NewError(common.KindBusy, "rate limit exceeded")
			}
			return next(ctx, msg)
		}
	}
}

// TimeoutMiddleware fails calls whose handler does not return within timeout with
// Timeout. For pending and stream results the handler context stays alive until
// the promise is settled or the stream is closed.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	type outcome struct {
		res *message.Result
		err error
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *message.Message) (*message.Result, error) {
			hctx, cancel := context.WithCancel(ctx)
			timer := time.NewTimer(timeout)
			defer timer.Stop()

			done := make(chan outcome, 1)
			go func() {
				res, err := next(hctx, msg)
				done <- outcome{res, err}
			}()

			select {
			case o := <-done:
				releaseWith(ctx, o.res, o.err, cancel)
				return o.res, o.err
			case <-timer.C:
				cancel()
				return nil, common.NewError(common.KindTimeout, "%s did not return within %s", msg.Name(), timeout)
			case <-ctx.Done():
				cancel()
				return nil, common.FromContext(ctx.Err())
			}
		}
	}
}

// releaseWith calls cancel once the work behind res is finished or ctx, the
// context of the call, ends
func releaseWith(ctx context.Context, res *message.Result, err error, cancel context.CancelFunc) {
	switch {
	case err != nil || res == nil:
		cancel()
	case res.Kind() == message.ResultStream:
		res.Stream().OnClose(func(error) { cancel() })
	case res.Kind() == message.ResultPending:
		go func() {
			select {
			case <-res.Promise().Done():
			case <-ctx.Done():
			}
			cancel()
		}()
	default:
		cancel()
	}
}

// FromConfig builds the middleware stack described by cfg
func FromConfig(cfg common.ServerConfig) []Middleware {
	middlewares := []Middleware{LoggingMiddleware()}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		middlewares = append(middlewares, RateLimitMiddleware(cfg.RateLimit, burst))
	}
	if cfg.CallTimeoutMillisecond > 0 {
		middlewares = append(middlewares, TimeoutMiddleware(time.Duration(cfg.CallTimeoutMillisecond)*time.Millisecond))
	}
	return middlewares
}
