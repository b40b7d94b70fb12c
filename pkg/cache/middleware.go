package cache

import (
	"bytes"
	"net/http"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/tenancy"
)

// cacheResponseWriter wraps http.ResponseWriter to capture the response body
// and status code so they can be stored in the cache.
type cacheResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *cacheResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *cacheResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// CacheMiddleware returns HTTP middleware that caches GET responses in the
// provided LRUCache. The cache key is the request's program followed by the
// full request URL (path + query), so it must run after the tenancy
// middleware.
//
// Behavior:
//   - On cache hit: the cached body is written with a 200 status and an
//     X-Cache: HIT header.
//   - On cache miss: the handler is called; a 200 response body is stored.
//     An X-Cache: MISS header is added. Non-200 responses are never cached.
//   - A non-GET request that succeeds invalidates the program's entries in
//     this cache; writes routed elsewhere must invalidate through the
//     CacheManager.
func CacheMiddleware(c *LRUCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			program := tenancy.ProgramFromContext(r.Context())
			if program == "" {
				program = "default"
			}

			if r.Method != http.MethodGet {
				crw := &cacheResponseWriter{ResponseWriter: w}
				next.ServeHTTP(crw, r)
				if crw.statusCode >= 200 && crw.statusCode < 300 {
					c.InvalidatePrefix(program + " ")
				}
				return
			}

			key := program + " " + r.URL.RequestURI()

			if cached, ok := c.Get(key); ok {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(cached)
				return
			}

			crw := &cacheResponseWriter{ResponseWriter: w}
			crw.Header().Set("X-Cache", "MISS")
			next.ServeHTTP(crw, r)

			// Only cache 200 responses.
			if crw.statusCode == http.StatusOK {
				c.Set(key, crw.body.Bytes())
			}
		})
	}
}
