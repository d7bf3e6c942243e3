// Package knowledge は知識ポイントと問題の参照・編集を提供する。
// 参照は誰でも行えるが、編集は教師と管理者に限られる。
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/studyhub/internal/authz"
	"github.com/hitoshi/studyhub/internal/model"
	"github.com/hitoshi/studyhub/internal/repository"
)

// MaxTitleLength はタイトルの最大文字数。
const MaxTitleLength = 200

// Authorizer は操作の認可判定を行う。
type Authorizer interface {
	Authorize(ctx context.Context, actor model.Principal, action authz.Action, targetID int64) error
}

// Service は知識ポイントのサービス層。
type Service struct {
	kpRepo      repository.KnowledgeRepository
	problemRepo repository.ProblemRepository
	authorizer  Authorizer
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	kpRepo repository.KnowledgeRepository,
	problemRepo repository.ProblemRepository,
	authorizer Authorizer,
) *Service {
	return &Service{
		kpRepo:      kpRepo,
		problemRepo: problemRepo,
		authorizer:  authorizer,
		now:         time.Now,
	}
}

// List は知識ポイントの一覧を返す。groupが空の場合は全グループを返す。
func (s *Service) List(ctx context.Context, group string) ([]*model.KnowledgePoint, error) {
	g := model.KnowledgeGroup(group)
	if group != "" && !g.Valid() {
		return nil, model.NewInvalidKnowledgeGroupError(group)
	}
	points, err := s.kpRepo.List(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge points: %w", err)
	}
	return points, nil
}

// Search はタイトルまたはカテゴリで知識ポイントを検索する。
func (s *Service) Search(ctx context.Context, query string) ([]*model.KnowledgePoint, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, model.NewValidationError("検索キーワードを指定してください")
	}
	points, err := s.kpRepo.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search knowledge points: %w", err)
	}
	return points, nil
}

// Get は問題を含む知識ポイントを返す。
func (s *Service) Get(ctx context.Context, id int64) (*model.KnowledgePoint, error) {
	kp, err := s.kpRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge point: %w", err)
	}
	if kp == nil {
		return nil, model.NewKnowledgePointNotFoundError(id)
	}
	return kp, nil
}

// Create は知識ポイントを作成する。
func (s *Service) Create(ctx context.Context, actor model.Principal, kp *model.KnowledgePoint) (*model.KnowledgePoint, error) {
	if err := s.authorizer.Authorize(ctx, actor, authz.WriteKnowledge, 0); err != nil {
		return nil, err
	}
	kp.Title = strings.TrimSpace(kp.Title)
	kp.Category = strings.TrimSpace(kp.Category)
	if err := validateTitle(kp.Title); err != nil {
		return nil, err
	}
	if !kp.Group.Valid() {
		return nil, model.NewInvalidKnowledgeGroupError(string(kp.Group))
	}

	if err := s.kpRepo.Create(ctx, kp); err != nil {
		return nil, fmt.Errorf("failed to create knowledge point: %w", err)
	}
	kp.Problems = []model.Problem{}

	slog.Info("knowledge point created",
		slog.Int64("actor_id", actor.ID),
		slog.Int64("knowledge_point_id", kp.ID),
	)
	return kp, nil
}

// Update は知識ポイントを部分更新し、更新後の内容を返す。
func (s *Service) Update(ctx context.Context, actor model.Principal, id int64, update model.KnowledgePointUpdate) (*model.KnowledgePoint, error) {
	if err := s.authorizer.Authorize(ctx, actor, authz.WriteKnowledge, 0); err != nil {
		return nil, err
	}
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if err := validateTitle(title); err != nil {
			return nil, err
		}
		update.Title = &title
	}
	if update.Group != nil && !update.Group.Valid() {
		return nil, model.NewInvalidKnowledgeGroupError(string(*update.Group))
	}

	found, err := s.kpRepo.Update(ctx, id, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update knowledge point: %w", err)
	}
	if !found {
		return nil, model.NewKnowledgePointNotFoundError(id)
	}
	return s.Get(ctx, id)
}

// Delete は知識ポイントを削除する。紐づく問題と進捗も削除される。
func (s *Service) Delete(ctx context.Context, actor model.Principal, id int64) error {
	if err := s.authorizer.Authorize(ctx, actor, authz.WriteKnowledge, 0); err != nil {
		return err
	}
	found, err := s.kpRepo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge point: %w", err)
	}
	if !found {
		return model.NewKnowledgePointNotFoundError(id)
	}
	slog.Info("knowledge point deleted",
		slog.Int64("actor_id", actor.ID),
		slog.Int64("knowledge_point_id", id),
	)
	return nil
}

// AddProblem は知識ポイントに問題を追加する。
// 動画URLが設定されている場合はvideo_updated_atに現在時刻を記録する。
func (s *Service) AddProblem(ctx context.Context, actor model.Principal, kpID int64, p *model.Problem) (*model.Problem, error) {
	if err := s.authorizer.Authorize(ctx, actor, authz.WriteKnowledge, 0); err != nil {
		return nil, err
	}
	p.Title = strings.TrimSpace(p.Title)
	if err := validateTitle(p.Title); err != nil {
		return nil, err
	}
	p.KnowledgePointID = kpID
	p.VideoURL = strings.TrimSpace(p.VideoURL)
	p.VideoUpdatedAt = nil
	if p.VideoURL != "" {
		now := s.now()
		p.VideoUpdatedAt = &now
	}

	if err := s.problemRepo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateProblem は問題を部分更新する。
// 動画URLが空でない別の値に変更された場合のみvideo_updated_atを更新する。
func (s *Service) UpdateProblem(ctx context.Context, actor model.Principal, id int64, update model.ProblemUpdate) (*model.Problem, error) {
	if err := s.authorizer.Authorize(ctx, actor, authz.WriteKnowledge, 0); err != nil {
		return nil, err
	}
	existing, err := s.problemRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find problem: %w", err)
	}
	if existing == nil {
		return nil, model.NewProblemNotFoundError(id)
	}

	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if err := validateTitle(title); err != nil {
			return nil, err
		}
		update.Title = &title
	}

	var videoUpdatedAt *time.Time
	if update.VideoURL != nil {
		url := strings.TrimSpace(*update.VideoURL)
		update.VideoURL = &url
		if url != "" && url != existing.VideoURL {
			now := s.now()
			videoUpdatedAt = &now
		}
	}

	found, err := s.problemRepo.Update(ctx, id, update, videoUpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update problem: %w", err)
	}
	if !found {
		return nil, model.NewProblemNotFoundError(id)
	}

	updated, err := s.problemRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload problem: %w", err)
	}
	if updated == nil {
		return nil, model.NewProblemNotFoundError(id)
	}
	return updated, nil
}

// DeleteProblem は問題を削除する。
func (s *Service) DeleteProblem(ctx context.Context, actor model.Principal, id int64) error {
	if err := s.authorizer.Authorize(ctx, actor, authz.WriteKnowledge, 0); err != nil {
		return err
	}
	found, err := s.problemRepo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete problem: %w", err)
	}
	if !found {
		return model.NewProblemNotFoundError(id)
	}
	return nil
}

func validateTitle(title string) error {
	if title == "" {
		return model.NewValidationError("タイトルは必須です")
	}
	if len([]rune(title)) > MaxTitleLength {
		return model.NewValidationError(fmt.Sprintf("タイトルは%d文字以内で入力してください", MaxTitleLength))
	}
	return nil
}
