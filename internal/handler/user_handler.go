package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/studyhub/internal/model"
	"github.com/hitoshi/studyhub/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	List(ctx context.Context, actor model.Principal) ([]*model.User, error)
	BatchCreate(ctx context.Context, actor model.Principal, inputs []user.NewUser) ([]*model.User, error)
	Update(ctx context.Context, actor model.Principal, id int64, in user.UpdateInput) (*model.User, error)
	Delete(ctx context.Context, actor model.Principal, id int64) error
	Unlock(ctx context.Context, actor model.Principal, id int64) error
	UpdateProfile(ctx context.Context, actor model.Principal, in user.ProfileInput) (*model.User, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

type batchCreateRequest struct {
	Users []struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	} `json:"users"`
}

type updateUserRequest struct {
	Role     *string `json:"role"`
	Password *string `json:"password"`
	Nickname *string `json:"nickname"`
	Avatar   *string `json:"avatar"`
	Bio      *string `json:"bio"`
}

type updateProfileRequest struct {
	Nickname *string `json:"nickname"`
	Avatar   *string `json:"avatar"`
	Bio      *string `json:"bio"`
}

// List は全ユーザーの一覧を返す。
// GET /users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	users, err := h.service.List(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponses(users))
}

// BatchCreate は複数ユーザーを一括作成する。
// POST /users/batch
func (h *UserHandler) BatchCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req batchCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	inputs := make([]user.NewUser, len(req.Users))
	for i, u := range req.Users {
		inputs[i] = user.NewUser{Username: u.Username, Password: u.Password, Role: u.Role}
	}

	users, err := h.service.BatchCreate(r.Context(), actor, inputs)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponses(users))
}

// Update は管理者がユーザー情報を更新する。
// PATCH /users/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.service.Update(r.Context(), actor, id, user.UpdateInput{
		Role:     req.Role,
		Password: req.Password,
		Nickname: req.Nickname,
		Avatar:   req.Avatar,
		Bio:      req.Bio,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(updated))
}

// Delete はユーザーを削除する。
// DELETE /users/{id}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unlock はアカウントロックを解除する。
// POST /users/{id}/unlock
func (h *UserHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Unlock(r.Context(), actor, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateProfile は本人のプロフィールを更新する。
// PATCH /users/me/profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.service.UpdateProfile(r.Context(), actor, user.ProfileInput{
		Nickname: req.Nickname,
		Avatar:   req.Avatar,
		Bio:      req.Bio,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(updated))
}
