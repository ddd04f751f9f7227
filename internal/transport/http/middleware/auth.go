package httpmw

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const ctxKeyUserID ctxKey = "user_id"

type TokenVerifier interface {
	ParseAndValidate(tokenStr string) (int64, error)
}

// AuthMiddleware: Bearer access-токен того же эмитента, что и у сокетов.
func AuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || len(auth) <= 7 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"missing bearer token"}`))
				return
			}

			uid, err := verifier.ParseAndValidate(strings.TrimSpace(auth[7:]))
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"` + err.Error() + `"}`))
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyUserID, uid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserIDFromCtx(ctx context.Context) int64 {
	if v := ctx.Value(ctxKeyUserID); v != nil {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}
