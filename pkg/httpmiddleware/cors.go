package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// CORSConfig configures cross origin access.
type CORSConfig struct {
	// AllowOrigins lists allowed origins. Empty or "*" allows any origin,
	// unless AllowCredentials is set: then the request origin must be listed.
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	// MaxAge caches preflight results for this many seconds. Zero omits the
	// header.
	MaxAge int
}

// Defaults used for empty CORSConfig lists.
var (
	DefaultCORSMethods = []string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
	}
	DefaultCORSHeaders = []string{"Content-Type", "api_key", "order_token", RequestIDHeader}
	DefaultCORSExpose  = []string{RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"}
)

type corsPolicy struct {
	anyOrigin   bool
	origins     map[string]string // lower case -> configured spelling
	methods     string
	headers     string
	expose      string
	credentials bool
	maxAge      string
}

func newCORSPolicy(cfg CORSConfig) corsPolicy {
	p := corsPolicy{
		anyOrigin: len(cfg.AllowOrigins) == 0 || lo.Contains(cfg.AllowOrigins, "*"),
		origins: lo.SliceToMap(cfg.AllowOrigins, func(o string) (string, string) {
			return strings.ToLower(o), o
		}),
		methods:     strings.Join(lo.Ternary(len(cfg.AllowMethods) > 0, cfg.AllowMethods, DefaultCORSMethods), ", "),
		headers:     strings.Join(lo.Ternary(len(cfg.AllowHeaders) > 0, cfg.AllowHeaders, DefaultCORSHeaders), ", "),
		expose:      strings.Join(lo.Ternary(len(cfg.ExposeHeaders) > 0, cfg.ExposeHeaders, DefaultCORSExpose), ", "),
		credentials: cfg.AllowCredentials,
	}
	if p.credentials {
		p.anyOrigin = false
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or ""
// when it is not allowed.
func (p corsPolicy) allowOrigin(origin string) string {
	if p.anyOrigin {
		return "*"
	}
	return p.origins[strings.ToLower(origin)]
}

// CORS answers preflight requests and decorates actual cross origin
// responses. Requests without an Origin header pass through untouched.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if !p.anyOrigin {
				h.Add("Vary", "Origin")
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			allow := p.allowOrigin(origin)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				if allow != "" {
					h.Set("Access-Control-Allow-Origin", allow)
					h.Set("Access-Control-Allow-Methods", p.methods)
					h.Set("Access-Control-Allow-Headers", p.headers)
					if p.credentials {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
					if p.maxAge != "" {
						h.Set("Access-Control-Max-Age", p.maxAge)
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if allow != "" {
				h.Set("Access-Control-Allow-Origin", allow)
				h.Set("Access-Control-Expose-Headers", p.expose)
				if p.credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
