package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はハンドラー内のpanicを回復し、500の統一エラーレスポンスを返す。
// 認証済みリクエストの場合はuser_idもログに含める。
// http.ErrAbortHandlerは接続を中断させるため再度panicする。
func NewRecoveryMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				args := []any{
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				}
				if info := requestInfoFromContext(r.Context()); info != nil {
					args = append(args, slog.String("request_id", info.id))
					if info.userID != 0 {
						args = append(args, slog.Int64("user_id", info.userID))
					}
				}
				logger.ErrorContext(r.Context(), "panic recovered", args...)
				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
