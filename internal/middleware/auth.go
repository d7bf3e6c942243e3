// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/studyhub/internal/model"
	"github.com/hitoshi/studyhub/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var principalContextKey = contextKey("principal")

// TokenVerifier はアクセストークンを検証し、現在のユーザーレコードを返す。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*session.Claims, *model.User, error)
}

// RejectionRecorder はトークン拒否をエラーコード別に記録する。
type RejectionRecorder interface {
	RecordTokenRejection(code string)
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 認証済みのPrincipalをリクエストコンテキストに注入するミドルウェアを返す。
// トークンがない、または無効な場合は401を返す。recorderはnilでもよい。
func NewBearerAuthMiddleware(verifier TokenVerifier, recorder RejectionRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				reject(w, recorder, model.NewUnauthorizedError())
				return
			}

			_, user, err := verifier.Verify(r.Context(), token)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					reject(w, recorder, apiErr)
					return
				}
				slog.Error("failed to verify token",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principalOf(user))))
		})
	}
}

// NewOptionalAuthMiddleware はBearerトークンがあれば検証してPrincipalを注入する。
// トークンがない、または無効な場合も匿名のままリクエストを通す。
func NewOptionalAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			_, user, err := verifier.Verify(r.Context(), token)
			if err != nil {
				slog.Debug("optional auth ignored invalid token",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principalOf(user))))
		})
	}
}

// PrincipalFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(model.Principal)
	if !ok || p.ID == 0 {
		return model.Principal{}, false
	}
	return p, true
}

// ContextWithPrincipal はコンテキストに認証済みユーザーを注入する。
// ロギングミドルウェアの内側で呼ばれた場合はリクエストログにもuser_idを残す。
func ContextWithPrincipal(ctx context.Context, p model.Principal) context.Context {
	if info := requestInfoFromContext(ctx); info != nil {
		info.userID = p.ID
	}
	return context.WithValue(ctx, principalContextKey, p)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func principalOf(u *model.User) model.Principal {
	return model.Principal{ID: u.ID, Username: u.Username, Role: u.Role}
}

func reject(w http.ResponseWriter, recorder RejectionRecorder, apiErr *model.APIError) {
	if recorder != nil {
		recorder.RecordTokenRejection(apiErr.Code)
	}
	WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
}
