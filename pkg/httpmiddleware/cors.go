package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures the CORS middleware behaviour.
type CORSConfig struct {
	// AllowOrigins lists origins allowed to make cross-origin requests. An
	// empty list or the single entry "*" allows every origin.
	AllowOrigins []string

	// AllowMethods lists the HTTP methods clients may use in actual requests.
	// Defaults to "GET, POST, PUT, PATCH, DELETE, OPTIONS" when empty.
	AllowMethods []string

	// AllowHeaders lists the request headers clients may send. When empty the
	// middleware echoes back Access-Control-Request-Headers from the preflight.
	AllowHeaders []string

	// ExposeHeaders lists response headers the browser may read.
	ExposeHeaders []string

	// AllowCredentials lets responses be exposed to credentialed requests.
	// The wildcard origin must not be combined with credentials, so enabling
	// this forces specific-origin echo even when AllowOrigins is "*".
	AllowCredentials bool

	// MaxAge is how long (in seconds) preflight results may be cached.
	// Zero omits the header; a negative value sends "0".
	MaxAge int
}

// corsPolicy is the precomputed form of CORSConfig used per request.
type corsPolicy struct {
	allowAll      bool
	allowed       map[string]string // lowercase origin -> original case
	allowMethods  string
	allowHeaders  string
	exposeHeaders string
	credentials   bool
	maxAge        string
}

// CORS returns a middleware that handles Cross-Origin Resource Sharing:
// case-insensitive origin matching, Vary headers to keep shared caches from
// serving one origin's response to another, and preflight answering via the
// Access-Control-Request-Method marker.
func CORS(cfg CORSConfig) Middleware {
	p := corsPolicy{
		allowAll:      len(cfg.AllowOrigins) == 0,
		allowed:       make(map[string]string, len(cfg.AllowOrigins)),
		allowMethods:  strings.Join(cfg.AllowMethods, ", "),
		allowHeaders:  strings.Join(cfg.AllowHeaders, ", "),
		exposeHeaders: strings.Join(cfg.ExposeHeaders, ", "),
		credentials:   cfg.AllowCredentials,
	}
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			p.allowAll = true
			break
		}
		p.allowed[strings.ToLower(o)] = o
	}
	if p.credentials {
		// Credentials + wildcard is forbidden; echo the specific origin.
		p.allowAll = false
	}
	if p.allowMethods == "" {
		p.allowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	} else if cfg.MaxAge < 0 {
		p.maxAge = "0"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Same-origin request: outside CORS scope, but still vary on
			// Origin so caches keep per-origin responses apart.
			if origin == "" {
				if !p.allowAll {
					w.Header().Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				p.preflight(w, r, origin)
				return
			}

			if !p.allowAll {
				w.Header().Add("Vary", "Origin")
			}
			if allowOrigin := p.matchOrigin(origin); allowOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
				if p.credentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				if p.exposeHeaders != "" {
					w.Header().Set("Access-Control-Expose-Headers", p.exposeHeaders)
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// preflight answers an OPTIONS preflight request with 204.
func (p corsPolicy) preflight(w http.ResponseWriter, r *http.Request, origin string) {
	w.Header().Add("Vary", "Origin")
	w.Header().Add("Vary", "Access-Control-Request-Method")
	w.Header().Add("Vary", "Access-Control-Request-Headers")

	allowOrigin := p.matchOrigin(origin)
	if allowOrigin == "" {
		// Disallowed origin: 204 with no CORS headers; the browser blocks it.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
	w.Header().Set("Access-Control-Allow-Methods", p.allowMethods)

	if p.allowHeaders != "" {
		w.Header().Set("Access-Control-Allow-Headers", p.allowHeaders)
	} else if rh := r.Header.Get("Access-Control-Request-Headers"); rh != "" {
		w.Header().Set("Access-Control-Allow-Headers", rh)
	}
	if p.credentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	if p.maxAge != "" {
		w.Header().Set("Access-Control-Max-Age", p.maxAge)
	}

	w.WriteHeader(http.StatusNoContent)
}

// matchOrigin returns the Access-Control-Allow-Origin value for origin, or ""
// when the origin is not allowed. Matching is case-insensitive; the echoed
// value keeps the case it was configured with.
func (p corsPolicy) matchOrigin(origin string) string {
	if p.allowAll {
		return "*"
	}
	if orig, ok := p.allowed[strings.ToLower(origin)]; ok {
		return orig
	}
	return ""
}
