package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures cross-origin resource sharing.
type CORSConfig struct {
	// AllowOrigins lists the origins allowed to call the API. "*" allows
	// any origin. A pattern may carry a single "*" wildcard, e.g.
	// "https://*.velstore.com".
	AllowOrigins []string
	// AllowMethods lists the methods advertised on preflight. Defaults to
	// the methods this API actually serves: GET, POST, DELETE, OPTIONS.
	AllowMethods []string
	// AllowHeaders lists request headers the browser may send.
	AllowHeaders []string
	// AllowCredentials advertises Access-Control-Allow-Credentials. It is
	// ignored when any origin pattern is "*", since browsers reject that
	// combination.
	AllowCredentials bool
	// MaxAge is the preflight cache lifetime in seconds. Zero omits the
	// Access-Control-Max-Age header.
	MaxAge int
}

// CORS returns a middleware that answers preflight requests and stamps
// cross-origin response headers on actual requests.
func CORS(cfg CORSConfig) Middleware {
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowOrigins = []string{"*"}
	}
	if len(cfg.AllowMethods) == 0 {
		cfg.AllowMethods = []string{
			http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions,
		}
	}

	anyOrigin := false
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			anyOrigin = true
			break
		}
	}

	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			// Responses vary by origin even when the origin is rejected,
			// otherwise shared caches would serve one origin's answer to
			// another.
			h.Add("Vary", "Origin")

			allowed := ""
			switch {
			case anyOrigin:
				allowed = "*"
			default:
				for _, pattern := range cfg.AllowOrigins {
					if originMatches(pattern, origin) {
						allowed = origin
						break
					}
				}
			}

			if allowed == "" {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", allowed)
			if cfg.AllowCredentials && !anyOrigin {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", methods)
				if headers != "" {
					h.Set("Access-Control-Allow-Headers", headers)
				}
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// originMatches reports whether origin satisfies pattern. A pattern may
// contain one "*" which matches any non-empty run of characters.
func originMatches(pattern, origin string) bool {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return pattern == origin
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	return len(origin) > len(prefix)+len(suffix) &&
		strings.HasPrefix(origin, prefix) &&
		strings.HasSuffix(origin, suffix)
}
