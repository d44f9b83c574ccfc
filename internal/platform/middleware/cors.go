package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// CORS allows browser clients from the configured origins to call the API
// with credentials. An empty list or a "*" entry allows any origin, including
// "null" for pages opened from the local filesystem. The request origin is
// echoed back rather than "*", which browsers reject for credentialed
// requests. Requested headers are echoed on preflight.
func CORS(origins []string) echo.MiddlewareFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOriginFunc: func(origin string) (bool, error) {
			return allowAll || allowed[origin], nil
		},
		AllowMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost,
			http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowCredentials: true,
	})
}
