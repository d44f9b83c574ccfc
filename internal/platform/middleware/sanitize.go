package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const maxHeaderValueSize = 8192

var scriptPattern = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)

// Sanitize rejects requests carrying header injection, oversized headers, or
// null bytes and script fragments in query parameters. Rejections are 400
// errors handed to the echo error handler. Paths are not inspected; their
// segments are opaque patient ids.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			reject := func(reason string) error {
				logger.Warn().
					Str("path", req.URL.Path).
					Str("remote_ip", c.RealIP()).
					Str("reason", reason).
					Msg("request rejected")
				return echo.NewHTTPError(http.StatusBadRequest, reason)
			}

			for name, values := range req.Header {
				for _, v := range values {
					if len(v) > maxHeaderValueSize {
						return reject("header value too large: " + name)
					}
					if strings.ContainsAny(v, "\r\n") {
						return reject("header injection detected: " + name)
					}
				}
			}

			for key, values := range req.URL.Query() {
				for _, v := range values {
					if containsNullByte(key) || containsNullByte(v) {
						return reject("null byte in query parameter")
					}
					if scriptPattern.MatchString(key) || scriptPattern.MatchString(v) {
						return reject("script injection in query parameter")
					}
				}
			}

			return next(c)
		}
	}
}

func containsNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}
