package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/studyhub/internal/auth"
	"github.com/hitoshi/studyhub/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, username, password string) (*auth.LoginResult, error)
	RegisterStudent(ctx context.Context, actor model.Principal, username, password string) (*model.User, error)
	Profile(ctx context.Context, principal model.Principal) (*auth.Profile, error)
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string      `json:"access_token"`
	User        userSummary `json:"user"`
}

type bindingResponse struct {
	StudentID       int64  `json:"studentId"`
	StudentUsername string `json:"studentUsername"`
}

type profileResponse struct {
	userResponse
	BoundStudents []bindingResponse `json:"boundStudents,omitempty"`
}

// Login はユーザー名とパスワードでログインし、アクセストークンを返す。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: result.Token,
		User:        toUserSummary(result.User),
	})
}

// RegisterStudent は教師または管理者が生徒アカウントを作成する。
// POST /auth/register-student
func (h *AuthHandler) RegisterStudent(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.RegisterStudent(r.Context(), actor, req.Username, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserSummary(user))
}

// Profile は認証済みユーザー自身のプロフィールを返す。
// 保護者の場合は紐付けられた生徒の一覧を含める。
// GET /auth/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	profile, err := h.service.Profile(r.Context(), principal)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := profileResponse{userResponse: toUserResponse(profile.User)}
	for _, b := range profile.BoundStudents {
		resp.BoundStudents = append(resp.BoundStudents, bindingResponse{
			StudentID:       b.StudentID,
			StudentUsername: b.StudentUsername,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
