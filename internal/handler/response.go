// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/studyhub/internal/middleware"
	"github.com/hitoshi/studyhub/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// userSummary はログイン応答などに含める最小限のユーザー情報。
type userSummary struct {
	ID       int64      `json:"id"`
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
}

// userResponse はユーザー情報のAPIレスポンス。
// パスワードハッシュ、試行回数、ロック状態、セッションバージョンは含めない。
type userResponse struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	Role      model.Role `json:"role"`
	Nickname  string     `json:"nickname"`
	Avatar    string     `json:"avatar"`
	Bio       string     `json:"bio"`
	CreatedAt time.Time  `json:"createdAt"`
}

func toUserSummary(u *model.User) userSummary {
	return userSummary{ID: u.ID, Username: u.Username, Role: u.Role}
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Role:      u.Role,
		Nickname:  u.Nickname,
		Avatar:    u.Avatar,
		Bio:       u.Bio,
		CreatedAt: u.CreatedAt,
	}
}

func toUserResponses(users []*model.User) []userResponse {
	out := make([]userResponse, len(users))
	for i, u := range users {
		out[i] = toUserResponse(u)
	}
	return out
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvにデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return false
	}
	return true
}

// requirePrincipal は認証済みユーザーを取得する。未認証の場合は401を書き込みfalseを返す。
func requirePrincipal(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return model.Principal{}, false
	}
	return p, true
}

// idParam はURLパラメータを正の整数IDとして取得する。不正な場合は400を書き込みfalseを返す。
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("IDの形式が正しくありません"))
		return 0, false
	}
	return id, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱い、詳細はログにのみ残す
	slog.Error("internal server error",
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidCredentials,
		model.ErrCodeUnauthorized,
		model.ErrCodeInvalidToken,
		model.ErrCodeSessionSuperseded,
		model.ErrCodeAccountNotFound:
		return http.StatusUnauthorized
	case model.ErrCodeAccountLocked,
		model.ErrCodeNewlyLocked,
		model.ErrCodeForbidden,
		model.ErrCodeCannotDeleteSelf:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound,
		model.ErrCodeKnowledgePointNotFound,
		model.ErrCodeProblemNotFound,
		model.ErrCodeScheduleNotFound:
		return http.StatusNotFound
	case model.ErrCodeValidationFailed,
		model.ErrCodeInvalidRole,
		model.ErrCodeBatchLimitExceeded,
		model.ErrCodeInvalidKnowledgeGroup:
		return http.StatusBadRequest
	case model.ErrCodeUsernameTaken:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
