// Package middleware holds the echo middleware of the FieldPin API.
package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/fieldpin/internal/logger"
)

// RequestLog logs one record per request. Routes listed in quiet are not
// logged; server errors are logged at warn, everything else at debug.
func RequestLog(log logger.Logger, quiet ...string) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return slices.Contains(quiet, c.Path())
		},
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("route", c.Path()),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("remote", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			if container := c.Param("container"); container != "" {
				fields = append(fields, logger.String("container", container))
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				log.Warn("request", fields...)
				return nil
			}
			log.Debug("request", fields...)
			return nil
		},
	})
}
