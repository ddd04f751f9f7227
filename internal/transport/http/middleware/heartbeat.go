package httpmw

import (
	"context"
	"net/http"
)

// HeartbeatMiddleware обновляет last_seen аутентифицированного пользователя.
type HeartbeatToucher interface {
	TouchLastSeen(ctx context.Context, userID int64) error
}

func HeartbeatMiddleware(users HeartbeatToucher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := UserIDFromCtx(r.Context()); userID != 0 {
				// best-effort: ошибки не прерывают запрос
				_ = users.TouchLastSeen(r.Context(), userID)
			}
			next.ServeHTTP(w, r)
		})
	}
}
