package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/studyhub/internal/model"
)

// KnowledgeServiceInterface は知識ポイントハンドラーが必要とするサービスインターフェース。
type KnowledgeServiceInterface interface {
	List(ctx context.Context, group string) ([]*model.KnowledgePoint, error)
	Search(ctx context.Context, query string) ([]*model.KnowledgePoint, error)
	Get(ctx context.Context, id int64) (*model.KnowledgePoint, error)
	Create(ctx context.Context, actor model.Principal, kp *model.KnowledgePoint) (*model.KnowledgePoint, error)
	Update(ctx context.Context, actor model.Principal, id int64, update model.KnowledgePointUpdate) (*model.KnowledgePoint, error)
	Delete(ctx context.Context, actor model.Principal, id int64) error
	AddProblem(ctx context.Context, actor model.Principal, kpID int64, p *model.Problem) (*model.Problem, error)
	UpdateProblem(ctx context.Context, actor model.Principal, id int64, update model.ProblemUpdate) (*model.Problem, error)
	DeleteProblem(ctx context.Context, actor model.Principal, id int64) error
}

// KnowledgeHandler は知識ポイントと問題のHTTPハンドラー。
type KnowledgeHandler struct {
	service KnowledgeServiceInterface
}

// NewKnowledgeHandler はKnowledgeHandlerを生成する。
func NewKnowledgeHandler(service KnowledgeServiceInterface) *KnowledgeHandler {
	return &KnowledgeHandler{service: service}
}

type problemResponse struct {
	ID               int64      `json:"id"`
	KnowledgePointID int64      `json:"knowledgePointId"`
	Title            string     `json:"title"`
	ContentMD        string     `json:"contentMd"`
	TemplateCpp      string     `json:"templateCpp"`
	VideoURL         string     `json:"videoUrl"`
	VideoUpdatedAt   *time.Time `json:"videoUpdatedAt"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

type knowledgeResponse struct {
	ID        int64             `json:"id"`
	Title     string            `json:"title"`
	Group     string            `json:"group"`
	Category  string            `json:"category"`
	ContentMD string            `json:"contentMd,omitempty"`
	Problems  []problemResponse `json:"problems,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

type knowledgeRequest struct {
	Title     *string `json:"title"`
	Group     *string `json:"group"`
	Category  *string `json:"category"`
	ContentMD *string `json:"contentMd"`
}

type problemRequest struct {
	Title       *string `json:"title"`
	ContentMD   *string `json:"contentMd"`
	TemplateCpp *string `json:"templateCpp"`
	VideoURL    *string `json:"videoUrl"`
}

func toProblemResponse(p *model.Problem) problemResponse {
	return problemResponse{
		ID:               p.ID,
		KnowledgePointID: p.KnowledgePointID,
		Title:            p.Title,
		ContentMD:        p.ContentMD,
		TemplateCpp:      p.TemplateCpp,
		VideoURL:         p.VideoURL,
		VideoUpdatedAt:   p.VideoUpdatedAt,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func toKnowledgeResponse(kp *model.KnowledgePoint) knowledgeResponse {
	resp := knowledgeResponse{
		ID:        kp.ID,
		Title:     kp.Title,
		Group:     string(kp.Group),
		Category:  kp.Category,
		ContentMD: kp.ContentMD,
		CreatedAt: kp.CreatedAt,
		UpdatedAt: kp.UpdatedAt,
	}
	for i := range kp.Problems {
		resp.Problems = append(resp.Problems, toProblemResponse(&kp.Problems[i]))
	}
	return resp
}

func toKnowledgeResponses(points []*model.KnowledgePoint) []knowledgeResponse {
	out := make([]knowledgeResponse, len(points))
	for i, kp := range points {
		out[i] = toKnowledgeResponse(kp)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// List は知識ポイントの一覧を返す。
// GET /knowledge, GET /knowledge/group/{group}
func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	points, err := h.service.List(r.Context(), chi.URLParam(r, "group"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toKnowledgeResponses(points))
}

// Search はタイトルまたはカテゴリで知識ポイントを検索する。
// GET /knowledge/search?q=
func (h *KnowledgeHandler) Search(w http.ResponseWriter, r *http.Request) {
	points, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toKnowledgeResponses(points))
}

// Get は問題を含む知識ポイントを返す。
// GET /knowledge/{id}
func (h *KnowledgeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	kp, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toKnowledgeResponse(kp))
}

// Create は知識ポイントを作成する。
// POST /knowledge
func (h *KnowledgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req knowledgeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	kp, err := h.service.Create(r.Context(), actor, &model.KnowledgePoint{
		Title:     deref(req.Title),
		Group:     model.KnowledgeGroup(deref(req.Group)),
		Category:  deref(req.Category),
		ContentMD: deref(req.ContentMD),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toKnowledgeResponse(kp))
}

// Update は知識ポイントを部分更新する。
// PATCH /knowledge/{id}
func (h *KnowledgeHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req knowledgeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	update := model.KnowledgePointUpdate{
		Title:     req.Title,
		Category:  req.Category,
		ContentMD: req.ContentMD,
	}
	if req.Group != nil {
		g := model.KnowledgeGroup(*req.Group)
		update.Group = &g
	}

	kp, err := h.service.Update(r.Context(), actor, id, update)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toKnowledgeResponse(kp))
}

// Delete は知識ポイントを削除する。
// DELETE /knowledge/{id}
func (h *KnowledgeHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

// AddProblem は知識ポイントに問題を追加する。
// POST /knowledge/{id}/problems
func (h *KnowledgeHandler) AddProblem(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	kpID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req problemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.AddProblem(r.Context(), actor, kpID, &model.Problem{
		Title:       deref(req.Title),
		ContentMD:   deref(req.ContentMD),
		TemplateCpp: deref(req.TemplateCpp),
		VideoURL:    deref(req.VideoURL),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProblemResponse(p))
}

// UpdateProblem は問題を部分更新する。
// PATCH /knowledge/problems/{id}
func (h *KnowledgeHandler) UpdateProblem(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req problemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.UpdateProblem(r.Context(), actor, id, model.ProblemUpdate{
		Title:       req.Title,
		ContentMD:   req.ContentMD,
		TemplateCpp: req.TemplateCpp,
		VideoURL:    req.VideoURL,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProblemResponse(p))
}

// DeleteProblem は問題を削除する。
// DELETE /knowledge/problems/{id}
func (h *KnowledgeHandler) DeleteProblem(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteProblem(r.Context(), actor, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
