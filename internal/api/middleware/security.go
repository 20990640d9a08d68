package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/fieldpin/internal/conf"
)

const defaultBodyLimit = "32M"

// Protection returns the CORS, body size and response header middleware for
// the web server settings. Media uploads are bounded by BodyLimit.
func Protection(settings *conf.WebServerSettings) []echo.MiddlewareFunc {
	origins := settings.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	limit := settings.BodyLimit
	if limit == "" {
		limit = defaultBodyLimit
	}

	return []echo.MiddlewareFunc{
		echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}),
		echomw.BodyLimit(limit),
		// the API serves JSON and blobs only; nothing may be framed
		echomw.SecureWithConfig(echomw.SecureConfig{
			ContentTypeNosniff:    "nosniff",
			XFrameOptions:         "DENY",
			ContentSecurityPolicy: "default-src 'none'",
		}),
	}
}
