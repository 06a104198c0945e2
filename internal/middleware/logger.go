package middleware

import (
	"strconv"
	"time"

	"github.com/ads-marketplace/deposit-tracker/internal/metrics"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// LoggerMiddleware logs every request and records its latency by route.
// Health and metrics scrapes are logged at debug so polling clients stay visible.
func LoggerMiddleware(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		route := c.Route().Path
		metrics.HTTPRequests.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Observe(latency.Seconds())

		level := log.Info
		if route == "/health" || route == "/metrics" {
			level = log.Debug
		}
		reqID, _ := c.Locals(CtxRequestID).(string)
		level("request",
			zap.String("request_id", reqID),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("ip", c.IP()),
		)

		return err
	}
}
