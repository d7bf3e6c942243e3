package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/studyhub/internal/model"
)

// ScheduleServiceInterface は予定ハンドラーが必要とするサービスインターフェース。
type ScheduleServiceInterface interface {
	List(ctx context.Context) ([]*model.Schedule, error)
	Create(ctx context.Context, actor model.Principal, s *model.Schedule) (*model.Schedule, error)
	Update(ctx context.Context, actor model.Principal, id int64, update model.ScheduleUpdate) (*model.Schedule, error)
	Delete(ctx context.Context, actor model.Principal, id int64) error
}

// ScheduleHandler はコンテスト予定のHTTPハンドラー。
type ScheduleHandler struct {
	service ScheduleServiceInterface
}

// NewScheduleHandler はScheduleHandlerを生成する。
func NewScheduleHandler(service ScheduleServiceInterface) *ScheduleHandler {
	return &ScheduleHandler{service: service}
}

type scheduleResponse struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Location    string    `json:"location,omitempty"`
	Link        string    `json:"link,omitempty"`
	Color       string    `json:"color"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// scheduleRequest の日時はRFC 3339形式で受け付ける。
type scheduleRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	StartTime   *time.Time `json:"startTime"`
	EndTime     *time.Time `json:"endTime"`
	Location    *string    `json:"location"`
	Link        *string    `json:"link"`
	Color       *string    `json:"color"`
}

func toScheduleResponse(s *model.Schedule) scheduleResponse {
	return scheduleResponse{
		ID:          s.ID,
		Title:       s.Title,
		Description: s.Description,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		Location:    s.Location,
		Link:        s.Link,
		Color:       s.Color,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// List は予定の一覧を開始日時順で返す。
// GET /schedules
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	out := make([]scheduleResponse, len(schedules))
	for i, s := range schedules {
		out[i] = toScheduleResponse(s)
	}
	writeJSON(w, http.StatusOK, out)
}

// Create は予定を作成する。
// POST /schedules
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s, err := h.service.Create(r.Context(), actor, &model.Schedule{
		Title:       deref(req.Title),
		Description: deref(req.Description),
		StartTime:   derefTime(req.StartTime),
		EndTime:     derefTime(req.EndTime),
		Location:    deref(req.Location),
		Link:        deref(req.Link),
		Color:       deref(req.Color),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleResponse(s))
}

// Update は予定を部分更新する。
// PATCH /schedules/{id}
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s, err := h.service.Update(r.Context(), actor, id, model.ScheduleUpdate{
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Location:    req.Location,
		Link:        req.Link,
		Color:       req.Color,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(s))
}

// Delete は予定を削除する。
// DELETE /schedules/{id}
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
