package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/studyhub/internal/model"
)

// ProgressServiceInterface は学習進捗ハンドラーが必要とするサービスインターフェース。
type ProgressServiceInterface interface {
	MarkCompleted(ctx context.Context, actor model.Principal, kpID int64) (*model.ProgressRecord, error)
	ListOwn(ctx context.Context, actor model.Principal) ([]model.CompletedPoint, error)
	OwnStats(ctx context.Context, actor model.Principal) (*model.ProgressStats, error)
	StatsFor(ctx context.Context, actor model.Principal, userID int64) (*model.ProgressStats, error)
}

// ProgressHandler は学習進捗のHTTPハンドラー。
type ProgressHandler struct {
	service ProgressServiceInterface
}

// NewProgressHandler はProgressHandlerを生成する。
func NewProgressHandler(service ProgressServiceInterface) *ProgressHandler {
	return &ProgressHandler{service: service}
}

type progressRecordResponse struct {
	KnowledgePointID int64     `json:"knowledgePointId"`
	IsCompleted      bool      `json:"isCompleted"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type completedPointResponse struct {
	KnowledgePointID int64     `json:"knowledgePointId"`
	Title            string    `json:"title"`
	Group            string    `json:"group"`
	Category         string    `json:"category"`
	CompletedAt      time.Time `json:"completedAt"`
}

// MarkCompleted は知識ポイントを完了済みにする。
// POST /progress/{kpId}/complete
func (h *ProgressHandler) MarkCompleted(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	kpID, ok := idParam(w, r, "kpId")
	if !ok {
		return
	}

	rec, err := h.service.MarkCompleted(r.Context(), actor, kpID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progressRecordResponse{
		KnowledgePointID: rec.KnowledgePointID,
		IsCompleted:      rec.IsCompleted,
		UpdatedAt:        rec.UpdatedAt,
	})
}

// ListOwn は本人の完了済み知識ポイントを返す。
// GET /progress
func (h *ProgressHandler) ListOwn(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	points, err := h.service.ListOwn(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	resp := make([]completedPointResponse, len(points))
	for i, p := range points {
		resp[i] = completedPointResponse{
			KnowledgePointID: p.KnowledgePointID,
			Title:            p.Title,
			Group:            string(p.Group),
			Category:         p.Category,
			CompletedAt:      p.CompletedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// OwnStats は本人の学習統計を返す。
// GET /progress/stats
func (h *ProgressHandler) OwnStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	stats, err := h.service.OwnStats(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// StatsFor は指定ユーザーの学習統計を返す。
// GET /progress/stats/{userId}
func (h *ProgressHandler) StatsFor(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	userID, ok := idParam(w, r, "userId")
	if !ok {
		return
	}
	stats, err := h.service.StatsFor(r.Context(), actor, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
