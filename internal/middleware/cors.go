package middleware

import (
	"net/http"
	"strings"
)

// NewCORSMiddleware は許可オリジンに対するCORSミドルウェアを返す。
// allowedOriginはカンマ区切りで複数指定できる。複数指定時はリクエストのOriginが
// 一覧に含まれる場合のみそのOriginを返す。
// 認証はAuthorizationヘッダーで行うため、credentialsは許可しない。
// OPTIONSプリフライトリクエストには204で応答する。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	origins := parseOrigins(allowedOrigin)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if origin := matchOrigin(origins, r.Header.Get("Origin")); origin != "" {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			if len(origins) > 1 {
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Set("Access-Control-Max-Age", "86400")

			// OPTIONSプリフライトリクエストには204で応答
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func parseOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// matchOrigin は返すべきAccess-Control-Allow-Originの値を決める。
// 単一指定の場合はリクエストに関係なくその値を返す。
func matchOrigin(origins []string, requestOrigin string) string {
	switch len(origins) {
	case 0:
		return ""
	case 1:
		return origins[0]
	}
	for _, o := range origins {
		if o == "*" || o == requestOrigin {
			return requestOrigin
		}
	}
	return ""
}
