package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// RequestLogger writes one access log line per request.
func RequestLogger(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req, res := c.Request(), c.Response()
			kv := []interface{}{
				"method", req.Method,
				"path", req.URL.Path,
				"route", c.Path(),
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
			}
			if uid, ok := UserID(c); ok {
				kv = append(kv, "user_id", uid)
			}
			switch {
			case res.Status >= 500:
				log.Errorw("request", append(kv, "error", err)...)
			case res.Status >= 400:
				log.Infow("request", kv...)
			default:
				log.Debugw("request", kv...)
			}
			return nil
		}
	}
}
