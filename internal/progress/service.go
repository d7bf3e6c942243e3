// Package progress は学習進捗の記録と統計の集計を提供する。
package progress

import (
	"context"
	"fmt"
	"math"

	"github.com/hitoshi/studyhub/internal/authz"
	"github.com/hitoshi/studyhub/internal/model"
	"github.com/hitoshi/studyhub/internal/repository"
)

// RecentLimit は統計に含める最近完了した知識ポイントの件数。
const RecentLimit = 5

// Authorizer は操作の認可判定を行う。
type Authorizer interface {
	Authorize(ctx context.Context, actor model.Principal, action authz.Action, targetID int64) error
}

// UserFinder はユーザーを参照する。
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// Service は学習進捗のサービス層。
type Service struct {
	progressRepo repository.ProgressRepository
	kpRepo       repository.KnowledgeRepository
	users        UserFinder
	authorizer   Authorizer
}

// NewService はServiceを生成する。
func NewService(
	progressRepo repository.ProgressRepository,
	kpRepo repository.KnowledgeRepository,
	users UserFinder,
	authorizer Authorizer,
) *Service {
	return &Service{
		progressRepo: progressRepo,
		kpRepo:       kpRepo,
		users:        users,
		authorizer:   authorizer,
	}
}

// MarkCompleted は知識ポイントを完了済みにする。何度呼び出しても1件のまま。
func (s *Service) MarkCompleted(ctx context.Context, actor model.Principal, kpID int64) (*model.ProgressRecord, error) {
	if err := s.authorizer.Authorize(ctx, actor, authz.RecordProgress, actor.ID); err != nil {
		return nil, err
	}
	rec, err := s.progressRepo.MarkCompleted(ctx, actor.ID, kpID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListOwn は本人の完了済み知識ポイントを返す。
func (s *Service) ListOwn(ctx context.Context, actor model.Principal) ([]model.CompletedPoint, error) {
	points, err := s.progressRepo.ListCompleted(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	return points, nil
}

// OwnStats は本人の学習統計を返す。
func (s *Service) OwnStats(ctx context.Context, actor model.Principal) (*model.ProgressStats, error) {
	return s.statsFor(ctx, actor.ID)
}

// StatsFor は指定ユーザーの学習統計を返す。
// 教師と管理者、本人、紐付けられた保護者のみ閲覧できる。
func (s *Service) StatsFor(ctx context.Context, actor model.Principal, userID int64) (*model.ProgressStats, error) {
	if err := s.authorizer.Authorize(ctx, actor, authz.ReadProgressStats, userID); err != nil {
		return nil, err
	}
	return s.statsFor(ctx, userID)
}

func (s *Service) statsFor(ctx context.Context, userID int64) (*model.ProgressStats, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	if user.Role == model.RoleParent {
		stats := emptyStats()
		stats.IsParent = true
		return stats, nil
	}

	summaries, err := s.kpRepo.ListSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge summaries: %w", err)
	}
	completed, err := s.progressRepo.ListCompleted(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	return Aggregate(summaries, completed), nil
}

// Aggregate は知識ポイントの一覧と完了済み一覧から統計を集計する。
// completedは完了日時の降順で渡すこと。
//
// groupsはグループとカテゴリの組ごとの集計で、カテゴリ未設定はUncategorizedLabelに入る。
// categoriesはグループを問わないカテゴリごとの集計で、カテゴリ未設定は含めない。
func Aggregate(summaries []model.PointSummary, completed []model.CompletedPoint) *model.ProgressStats {
	stats := emptyStats()

	done := make(map[int64]struct{}, len(completed))
	for _, c := range completed {
		done[c.KnowledgePointID] = struct{}{}
	}

	for _, kp := range summaries {
		group := string(kp.Group)
		category := kp.Category
		if category == "" {
			category = model.UncategorizedLabel
		}
		if stats.Groups[group] == nil {
			stats.Groups[group] = make(map[string]model.StatCell)
		}
		cell := stats.Groups[group][category]
		cell.Total++
		if _, ok := done[kp.ID]; ok {
			cell.Completed++
		}
		stats.Groups[group][category] = cell

		if kp.Category != "" {
			cat := stats.Categories[kp.Category]
			cat.Total++
			stats.Categories[kp.Category] = cat
		}
	}

	for _, c := range completed {
		if c.Category == "" {
			continue
		}
		if cat, ok := stats.Categories[c.Category]; ok {
			cat.Completed++
			stats.Categories[c.Category] = cat
		}
	}

	for g, cats := range stats.Groups {
		for c, cell := range cats {
			cell.Percent = percent(cell.Completed, cell.Total)
			stats.Groups[g][c] = cell
		}
	}
	for c, cell := range stats.Categories {
		cell.Percent = percent(cell.Completed, cell.Total)
		stats.Categories[c] = cell
	}

	stats.TotalKPs = len(summaries)
	stats.TotalCompleted = len(completed)
	stats.OverallPercent = percent(stats.TotalCompleted, stats.TotalKPs)

	for i, c := range completed {
		if i >= RecentLimit {
			break
		}
		stats.RecentKPs = append(stats.RecentKPs, model.RecentPoint{
			ID:          c.KnowledgePointID,
			Title:       c.Title,
			CompletedAt: c.CompletedAt,
		})
	}
	return stats
}

func emptyStats() *model.ProgressStats {
	return &model.ProgressStats{
		Groups:     map[string]map[string]model.StatCell{},
		Categories: map[string]model.StatCell{},
		RecentKPs:  []model.RecentPoint{},
	}
}

// percent は完了率を整数のパーセントに四捨五入する。totalが0の場合は0。
func percent(completed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}
