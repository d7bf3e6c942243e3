// Package schedule はコンテスト予定の参照と編集を提供する。
// 参照は認証なしで行えるが、編集は教師と管理者に限られる。
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hitoshi/studyhub/internal/authz"
	"github.com/hitoshi/studyhub/internal/model"
	"github.com/hitoshi/studyhub/internal/repository"
)

const (
	// MaxTitleLength はタイトルの最大文字数。
	MaxTitleLength = 200
	// MaxLocationLength は場所の最大文字数。
	MaxLocationLength = 200
	// MaxLinkLength はリンクの最大文字数。
	MaxLinkLength = 500
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Authorizer は操作の認可判定を行う。
type Authorizer interface {
	Authorize(ctx context.Context, actor model.Principal, action authz.Action, targetID int64) error
}

// Service はコンテスト予定のサービス層。
type Service struct {
	repo       repository.ScheduleRepository
	authorizer Authorizer
}

// NewService はServiceを生成する。
func NewService(repo repository.ScheduleRepository, authorizer Authorizer) *Service {
	return &Service{repo: repo, authorizer: authorizer}
}

// List は予定を開始日時の昇順で返す。
func (s *Service) List(ctx context.Context) ([]*model.Schedule, error) {
	schedules, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

// Create は予定を作成する。色が未指定の場合は既定色を設定する。
func (s *Service) Create(ctx context.Context, actor model.Principal, sc *model.Schedule) (*model.Schedule, error) {
	if err := s.authorizer.Authorize(ctx, actor, authz.WriteSchedule, 0); err != nil {
		return nil, err
	}
	sc.Title = strings.TrimSpace(sc.Title)
	sc.Location = strings.TrimSpace(sc.Location)
	sc.Link = strings.TrimSpace(sc.Link)
	sc.Color = strings.TrimSpace(sc.Color)
	if sc.Color == "" {
		sc.Color = model.DefaultScheduleColor
	}

	if err := validateTitle(sc.Title); err != nil {
		return nil, err
	}
	if sc.StartTime.IsZero() || sc.EndTime.IsZero() {
		return nil, model.NewValidationError("開始日時と終了日時は必須です")
	}
	if err := validatePeriod(sc.StartTime, sc.EndTime); err != nil {
		return nil, err
	}
	if err := validateOptional(sc.Location, sc.Link, sc.Color); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, sc); err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}
	slog.Info("schedule created",
		slog.Int64("actor_id", actor.ID),
		slog.Int64("schedule_id", sc.ID),
	)
	return sc, nil
}

// Update は予定を部分更新し、更新後の内容を返す。
// 開始日時と終了日時は片方のみの更新でも既存値と合わせて前後関係を検証する。
func (s *Service) Update(ctx context.Context, actor model.Principal, id int64, update model.ScheduleUpdate) (*model.Schedule, error) {
	if err := s.authorizer.Authorize(ctx, actor, authz.WriteSchedule, 0); err != nil {
		return nil, err
	}
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find schedule: %w", err)
	}
	if existing == nil {
		return nil, model.NewScheduleNotFoundError(id)
	}

	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if err := validateTitle(title); err != nil {
			return nil, err
		}
		update.Title = &title
	}

	start, end := existing.StartTime, existing.EndTime
	if update.StartTime != nil {
		start = *update.StartTime
	}
	if update.EndTime != nil {
		end = *update.EndTime
	}
	if err := validatePeriod(start, end); err != nil {
		return nil, err
	}

	location, link, color := existing.Location, existing.Link, existing.Color
	if update.Location != nil {
		location = strings.TrimSpace(*update.Location)
		update.Location = &location
	}
	if update.Link != nil {
		link = strings.TrimSpace(*update.Link)
		update.Link = &link
	}
	if update.Color != nil {
		color = strings.TrimSpace(*update.Color)
		if color == "" {
			color = model.DefaultScheduleColor
		}
		update.Color = &color
	}
	if err := validateOptional(location, link, color); err != nil {
		return nil, err
	}

	found, err := s.repo.Update(ctx, id, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}
	if !found {
		return nil, model.NewScheduleNotFoundError(id)
	}

	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload schedule: %w", err)
	}
	if updated == nil {
		return nil, model.NewScheduleNotFoundError(id)
	}
	return updated, nil
}

// Delete は予定を削除する。
func (s *Service) Delete(ctx context.Context, actor model.Principal, id int64) error {
	if err := s.authorizer.Authorize(ctx, actor, authz.WriteSchedule, 0); err != nil {
		return err
	}
	found, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if !found {
		return model.NewScheduleNotFoundError(id)
	}
	slog.Info("schedule deleted",
		slog.Int64("actor_id", actor.ID),
		slog.Int64("schedule_id", id),
	)
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

func validatePeriod(start, end time.Time) error {
	if end.Before(start) {
		return model.NewValidationError("終了日時は開始日時以降にしてください")
	}
	return nil
}

// validateOptional は場所、リンク、表示色を検証する。空の場所とリンクは許可する。
func validateOptional(location, link, color string) error {
	if len([]rune(location)) > MaxLocationLength {
		return model.NewValidationError(fmt.Sprintf("場所は%d文字以内で入力してください", MaxLocationLength))
	}
	if link != "" {
		if len(link) > MaxLinkLength {
			return model.NewValidationError(fmt.Sprintf("リンクは%d文字以内で入力してください", MaxLinkLength))
		}
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return model.NewValidationError("リンクにはhttpまたはhttpsのURLを指定してください")
		}
	}
	if !colorPattern.MatchString(color) {
		return model.NewValidationError("表示色は#RRGGBB形式で指定してください")
	}
	return nil
}
