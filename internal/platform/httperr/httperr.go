// Package httperr renders every error returned by an echo handler as a
// JSON body of the form {"detail": "..."}.
package httperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Body is the error response shape.
type Body struct {
	Detail string `json:"detail"`
}

// Handler returns an echo.HTTPErrorHandler. Errors that are not
// *echo.HTTPError become 500 responses with a generic detail; their text is
// only logged.
func Handler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		detail := http.StatusText(code)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if msg, ok := he.Message.(string); ok && msg != "" {
				detail = msg
			} else {
				detail = http.StatusText(code)
			}
		}

		if code >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().
				Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, Body{Detail: detail})
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("failed to write error response")
		}
	}
}
