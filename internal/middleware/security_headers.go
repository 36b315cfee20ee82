package middleware

import "net/http"

// apiSecurityHeaders は JSON API のすべてのレスポンスに付与するヘッダー。
// トークンを返すレスポンスはキャッシュさせない（Cache-Control と Pragma の両方）。
var apiSecurityHeaders = map[string]string{
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
	"Referrer-Policy":           "no-referrer",
	"Cache-Control":             "no-store",
	"Pragma":                    "no-cache",
	"Strict-Transport-Security": "max-age=63072000; includeSubDomains",
}

// NewSecurityHeadersMiddleware は API レスポンス共通のセキュリティヘッダーを付与するミドルウェアを返す。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for name, value := range apiSecurityHeaders {
				h.Set(name, value)
			}
			next.ServeHTTP(w, r)
		})
	}
}
