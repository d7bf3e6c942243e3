// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/studyhub/internal/auth"
	"github.com/hitoshi/studyhub/internal/authz"
	"github.com/hitoshi/studyhub/internal/model"
	"github.com/hitoshi/studyhub/internal/password"
	"github.com/hitoshi/studyhub/internal/repository"
	"github.com/hitoshi/studyhub/internal/security"
)

// プロフィール項目の最大文字数。
const (
	MaxNicknameLength = 50
	MaxAvatarLength   = 500
	MaxBioLength      = 500
)

// DefaultTeacherBatchLimit は教師が一度に一括作成できるユーザー数のデフォルト値。
const DefaultTeacherBatchLimit = 200

// Authorizer は操作の認可判定を行う。
type Authorizer interface {
	Authorize(ctx context.Context, actor model.Principal, action authz.Action, targetID int64) error
}

// NewUser は一括作成する1ユーザー分の入力。Roleが空の場合はstudentとして作成する。
type NewUser struct {
	Username string
	Password string
	Role     string
}

// UpdateInput は管理者によるユーザー更新の入力。nilのフィールドは変更しない。
type UpdateInput struct {
	Role     *string
	Password *string
	Nickname *string
	Avatar   *string
	Bio      *string
}

// ProfileInput は本人によるプロフィール更新の入力。nilのフィールドは変更しない。
type ProfileInput struct {
	Nickname *string
	Avatar   *string
	Bio      *string
}

// ServiceConfig はユーザー管理サービスの設定。
type ServiceConfig struct {
	TeacherBatchLimit int
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo   repository.UserRepository
	hasher     password.Hasher
	authorizer Authorizer
	sanitizer  security.TextSanitizer
	config     ServiceConfig
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	hasher password.Hasher,
	authorizer Authorizer,
	sanitizer security.TextSanitizer,
	config ServiceConfig,
) *Service {
	if config.TeacherBatchLimit <= 0 {
		config.TeacherBatchLimit = DefaultTeacherBatchLimit
	}
	return &Service{
		userRepo:   userRepo,
		hasher:     hasher,
		authorizer: authorizer,
		sanitizer:  sanitizer,
		config:     config,
	}
}

// List は全ユーザーを返す。管理者と教師のみ。
func (s *Service) List(ctx context.Context, actor model.Principal) ([]*model.User, error) {
	if err := s.authorizer.Authorize(ctx, actor, authz.ListUsers, 0); err != nil {
		return nil, err
	}
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, nil
}

// BatchCreate は複数ユーザーを一括作成する。管理者と教師のみ。
// 教師は一度にTeacherBatchLimit件までに制限され、付与できるロールは生徒と保護者のみ。
// 入力はすべて検証してから同一トランザクションで作成し、1件でも失敗した場合は何も作成しない。
func (s *Service) BatchCreate(ctx context.Context, actor model.Principal, inputs []NewUser) ([]*model.User, error) {
	if err := s.authorizer.Authorize(ctx, actor, authz.BatchCreateUsers, 0); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, model.NewValidationError("作成するユーザーを1件以上指定してください")
	}
	if actor.Role == model.RoleTeacher && len(inputs) > s.config.TeacherBatchLimit {
		return nil, model.NewBatchLimitExceededError(s.config.TeacherBatchLimit)
	}

	seen := make(map[string]struct{}, len(inputs))
	users := make([]*model.User, 0, len(inputs))
	for i, in := range inputs {
		username := strings.TrimSpace(in.Username)
		if err := auth.ValidateCredentials(username, in.Password); err != nil {
			return nil, withRow(i, err)
		}
		if _, dup := seen[username]; dup {
			return nil, model.NewUsernameTakenError(username)
		}
		seen[username] = struct{}{}

		role := model.RoleStudent
		if in.Role != "" {
			parsed, ok := model.ParseRole(in.Role)
			if !ok {
				return nil, withRow(i, model.NewInvalidRoleError(in.Role))
			}
			role = parsed
		}
		if actor.Role == model.RoleTeacher && !teacherAssignable(role) {
			return nil, withRow(i, model.NewForbiddenError("教師が作成できるのは生徒と保護者のアカウントのみです"))
		}
		users = append(users, &model.User{Username: username, Role: role, PasswordHash: in.Password})
	}

	for _, u := range users {
		digest, err := s.hasher.Hash(u.PasswordHash)
		if err != nil {
			return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
		}
		u.PasswordHash = digest
	}

	if err := s.userRepo.CreateMany(ctx, users); err != nil {
		return nil, err
	}

	slog.Info("users batch created",
		slog.Int64("actor_id", actor.ID),
		slog.Int("count", len(users)),
	)
	return users, nil
}

// teacherAssignable は教師が一括作成で付与できるロールかどうかを返す。
func teacherAssignable(role model.Role) bool {
	return role == model.RoleStudent || role == model.RoleParent
}

// withRow は一括作成の何件目の入力が原因かをエラーメッセージに付加する。
func withRow(i int, err error) error {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	copied := *apiErr
	copied.Message = fmt.Sprintf("%d件目: %s", i+1, apiErr.Message)
	return &copied
}

// Update は管理者がユーザーのロール、パスワード、プロフィールを更新する。
// セッションバージョンは変更しない。ロール変更は次のリクエストの検証時から反映される。
func (s *Service) Update(ctx context.Context, actor model.Principal, id int64, in UpdateInput) (*model.User, error) {
	if err := s.authorizer.Authorize(ctx, actor, authz.UpdateUser, id); err != nil {
		return nil, err
	}

	var update model.UserUpdate
	if in.Role != nil {
		role, ok := model.ParseRole(*in.Role)
		if !ok {
			return nil, model.NewInvalidRoleError(*in.Role)
		}
		update.Role = &role
	}
	if in.Password != nil {
		if utf8.RuneCountInString(*in.Password) < auth.MinPasswordLength {
			return nil, model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で入力してください", auth.MinPasswordLength))
		}
		digest, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
		}
		update.PasswordHash = &digest
	}
	if err := s.applyProfileFields(&update, ProfileInput{Nickname: in.Nickname, Avatar: in.Avatar, Bio: in.Bio}); err != nil {
		return nil, err
	}
	if update.IsEmpty() {
		return nil, model.NewValidationError("更新する項目を指定してください")
	}

	user, err := s.userRepo.ApplyPartialUpdate(ctx, id, update)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	attrs := []any{
		slog.Int64("actor_id", actor.ID),
		slog.Int64("user_id", id),
	}
	if update.Role != nil {
		attrs = append(attrs, slog.String("role", string(*update.Role)))
	}
	if update.PasswordHash != nil {
		attrs = append(attrs, slog.Bool("password_reset", true))
	}
	slog.Info("user updated by admin", attrs...)
	return user, nil
}

// Delete はユーザーを削除する。管理者のみ。自分自身は削除できない。
func (s *Service) Delete(ctx context.Context, actor model.Principal, id int64) error {
	if err := s.authorizer.Authorize(ctx, actor, authz.DeleteUser, id); err != nil {
		return err
	}
	if err := s.userRepo.DeleteByID(ctx, id); err != nil {
		return err
	}
	slog.Info("user deleted",
		slog.Int64("actor_id", actor.ID),
		slog.Int64("user_id", id),
	)
	return nil
}

// Unlock はアカウントロックを解除し、試行回数を0に戻す。管理者と教師のみ。
// ロックされていないアカウントに対しても成功する（冪等）。
func (s *Service) Unlock(ctx context.Context, actor model.Principal, id int64) error {
	if err := s.authorizer.Authorize(ctx, actor, authz.UnlockUser, id); err != nil {
		return err
	}
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}
	if err := s.userRepo.ResetLoginState(ctx, id); err != nil {
		return fmt.Errorf("ロック解除に失敗しました: %w", err)
	}
	slog.Info("account unlocked",
		slog.Int64("actor_id", actor.ID),
		slog.Int64("user_id", id),
	)
	return nil
}

// UpdateProfile は本人のニックネーム、アバター、自己紹介を更新する。
func (s *Service) UpdateProfile(ctx context.Context, actor model.Principal, in ProfileInput) (*model.User, error) {
	if err := s.authorizer.Authorize(ctx, actor, authz.UpdateOwnProfile, actor.ID); err != nil {
		return nil, err
	}

	var update model.UserUpdate
	if err := s.applyProfileFields(&update, in); err != nil {
		return nil, err
	}

	user, err := s.userRepo.ApplyPartialUpdate(ctx, actor.ID, update)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewAccountNotFoundError()
	}
	return user, nil
}

// applyProfileFields はプロフィール項目を検証・サニタイズしてupdateに設定する。
func (s *Service) applyProfileFields(update *model.UserUpdate, in ProfileInput) error {
	if in.Nickname != nil {
		nickname := s.sanitizer.Sanitize(*in.Nickname)
		if utf8.RuneCountInString(nickname) > MaxNicknameLength {
			return model.NewValidationError(fmt.Sprintf("ニックネームは%d文字以内で入力してください", MaxNicknameLength))
		}
		update.Nickname = &nickname
	}
	if in.Avatar != nil {
		avatar := strings.TrimSpace(*in.Avatar)
		if utf8.RuneCountInString(avatar) > MaxAvatarLength {
			return model.NewValidationError(fmt.Sprintf("アバターURLは%d文字以内で入力してください", MaxAvatarLength))
		}
		if !security.IsSafeAvatarURL(avatar) {
			return model.NewValidationError("アバターURLの形式が正しくありません")
		}
		update.Avatar = &avatar
	}
	if in.Bio != nil {
		bio := s.sanitizer.Sanitize(*in.Bio)
		if utf8.RuneCountInString(bio) > MaxBioLength {
			return model.NewValidationError(fmt.Sprintf("自己紹介は%d文字以内で入力してください", MaxBioLength))
		}
		update.Bio = &bio
	}
	return nil
}
