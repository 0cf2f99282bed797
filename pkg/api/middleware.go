package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// adminGuard protects mutating admin routes. An admin token (config or
// ADMIN_TOKEN env) is accepted via X-Admin-Token or a Bearer header;
// Basic auth works when configured. The IP allowlist composes with AND:
// a valid credential from a disallowed address is still rejected. With
// no credential and no allowlist configured the guard is open, and GET
// requests pass unless protect_get is set.
func (s *Server) adminGuard() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			sec := s.cfg.Security
			if c.Request().Method == http.MethodGet && !sec.ProtectGet {
				return next(c)
			}
			if err := s.authorizeAdmin(c.Request()); err != nil {
				return err
			}
			return next(c)
		}
	}
}

func (s *Server) authorizeAdmin(r *http.Request) *echo.HTTPError {
	sec := s.cfg.Security

	if len(sec.IPAllowlist) > 0 && !ipAllowed(clientIP(r), sec.IPAllowlist) {
		return echo.NewHTTPError(http.StatusForbidden, "address not allowed")
	}

	token := sec.AdminToken
	if token == "" {
		token = os.Getenv("ADMIN_TOKEN")
	}
	if token == "" && sec.BasicAuth == nil {
		return nil
	}

	if token != "" {
		if secureEqual(r.Header.Get("X-Admin-Token"), token) {
			return nil
		}
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && secureEqual(bearer, token) {
			return nil
		}
	}
	if ba := sec.BasicAuth; ba != nil {
		if user, pass, ok := r.BasicAuth(); ok && secureEqual(user, ba.User) && secureEqual(pass, ba.Pass) {
			return nil
		}
	}
	return echo.NewHTTPError(http.StatusUnauthorized, "admin credentials required")
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipAllowed(ip string, allowlist []string) bool {
	for _, allowed := range allowlist {
		if ip == allowed {
			return true
		}
	}
	return false
}

// requestMetrics records one observation per completed request.
func (s *Server) requestMetrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			err := next(c)
			status := http.StatusOK
			if res, resErr := echo.UnwrapResponse(c.Response()); resErr == nil {
				status = res.Status
			}
			if err != nil {
				if httpErr, ok := err.(*echo.HTTPError); ok {
					status = httpErr.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			s.metrics.ObserveRequest(c.Request().Method, c.Request().URL.Path, status)
			return err
		}
	}
}
