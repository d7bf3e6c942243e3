// Package auth はパスワードによるログイン、アカウントロック、生徒登録を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/studyhub/internal/authz"
	"github.com/hitoshi/studyhub/internal/lockout"
	"github.com/hitoshi/studyhub/internal/model"
	"github.com/hitoshi/studyhub/internal/password"
	"github.com/hitoshi/studyhub/internal/repository"
	"github.com/hitoshi/studyhub/internal/session"
)

// dummyPassword は存在しないユーザー名に対する照合で使用するパスワード。
// 既知ユーザーと同じコストのハッシュ照合を行い、応答時間からユーザーの存在を推測されないようにする。
const dummyPassword = "studyhub-timing-equaliser"

// TokenMinter はログイン成功時にトークンを発行する。
type TokenMinter interface {
	Mint(ctx context.Context, user *model.User) (string, *session.Claims, error)
}

// Authorizer は操作の認可判定を行う。
type Authorizer interface {
	Authorize(ctx context.Context, actor model.Principal, action authz.Action, targetID int64) error
}

// LoginRecorder はログイン結果を記録する。
type LoginRecorder interface {
	RecordLoginOutcome(outcome string)
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// Profile は認証済みユーザー自身のプロフィール。
// BoundStudentsは保護者の場合のみ設定される。
type Profile struct {
	User          *model.User
	BoundStudents []model.StudentBinding
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	Policy lockout.Policy
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo     repository.UserRepository
	relationRepo repository.RelationRepository
	hasher       password.Hasher
	minter       TokenMinter
	authorizer   Authorizer
	recorder     LoginRecorder
	config       ServiceConfig
	now          func() time.Time

	dummyOnce   sync.Once
	dummyDigest string
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	relationRepo repository.RelationRepository,
	hasher password.Hasher,
	minter TokenMinter,
	authorizer Authorizer,
	recorder LoginRecorder,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo:     userRepo,
		relationRepo: relationRepo,
		hasher:       hasher,
		minter:       minter,
		authorizer:   authorizer,
		recorder:     recorder,
		config:       config,
		now:          time.Now,
	}
}

// Login はユーザー名とパスワードを検証し、アクセストークンを発行する。
//
// ロック期間中はパスワードを照合せずにACCOUNT_LOCKEDを返す。
// 照合に失敗した場合は試行回数を加算し、上限に達した時点でNEWLY_LOCKEDを返す。
// ユーザー名が存在しない場合とパスワード不一致の場合は同じINVALID_CREDENTIALSを返す。
func (s *Service) Login(ctx context.Context, username, plain string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || plain == "" {
		return nil, model.NewValidationError("ユーザー名とパスワードは必須です")
	}

	// 1. ユーザーを検索
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		s.verifyDummy(plain)
		s.record("unknown_user")
		return nil, model.NewInvalidCredentialsError()
	}

	// 2. ロック状態を確認
	now := s.now()
	if outcome, until := s.config.Policy.Check(user, now); outcome == lockout.OutcomeLocked {
		s.record(outcome.String())
		slog.Info("login rejected: account locked",
			slog.Int64("user_id", user.ID),
			slog.Time("lock_until", until),
		)
		return nil, model.NewAccountLockedError(until)
	}

	// 3. パスワードを照合
	if s.verify(user, plain) {
		return s.succeed(ctx, user)
	}

	// 4. 失敗を記録
	state, err := s.userRepo.RecordLoginFailure(ctx, user.ID, s.config.Policy.Threshold(), s.config.Policy.LockUntil(now))
	if err != nil {
		return nil, fmt.Errorf("failed to record login failure: %w", err)
	}
	if state == nil {
		// 照合中に削除された
		s.record("unknown_user")
		return nil, model.NewInvalidCredentialsError()
	}

	outcome := s.config.Policy.AfterFailure(*state)
	s.record(outcome.String())
	if outcome == lockout.OutcomeLockedJustNow {
		slog.Warn("account locked after repeated login failures",
			slog.Int64("user_id", user.ID),
			slog.Int("login_attempts", state.LoginAttempts),
		)
		return nil, model.NewNewlyLockedError(s.config.Policy.LockDuration)
	}

	slog.Info("login failed",
		slog.Int64("user_id", user.ID),
		slog.Int("login_attempts", state.LoginAttempts),
	)
	return nil, model.NewInvalidCredentialsError()
}

// succeed は試行回数とロックをリセットし、トークンを発行する。
func (s *Service) succeed(ctx context.Context, user *model.User) (*LoginResult, error) {
	if err := s.userRepo.ResetLoginState(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to reset login state: %w", err)
	}
	user.LoginAttempts = 0
	user.LockUntil = nil

	token, claims, err := s.minter.Mint(ctx, user)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUserNotFound {
			// 照合後、発行前に削除された
			s.record("unknown_user")
			return nil, model.NewInvalidCredentialsError()
		}
		return nil, fmt.Errorf("failed to mint token: %w", err)
	}
	user.SessionVersion = claims.SessionVersion

	s.record("success")
	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
		slog.String("role", string(user.Role)),
		slog.Int64("session_version", claims.SessionVersion),
	)

	return &LoginResult{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		User:      user,
	}, nil
}

// verify はパスワードを照合する。ダイジェストが壊れている場合は不一致として扱う。
func (s *Service) verify(user *model.User, plain string) bool {
	ok, err := s.hasher.Verify(user.PasswordHash, plain)
	if err != nil {
		slog.Error("stored password digest is unreadable",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return ok
}

// verifyDummy は存在しないユーザーに対しても同じコストの照合を行う。
func (s *Service) verifyDummy(plain string) {
	s.dummyOnce.Do(func() {
		digest, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			slog.Warn("failed to prepare dummy digest", slog.String("error", err.Error()))
			return
		}
		s.dummyDigest = digest
	})
	if s.dummyDigest != "" {
		_, _ = s.hasher.Verify(s.dummyDigest, plain)
	}
}

func (s *Service) record(outcome string) {
	if s.recorder != nil {
		s.recorder.RecordLoginOutcome(outcome)
	}
}

// Register は指定ロールのユーザーを作成する。
func (s *Service) Register(ctx context.Context, username, plain string, role model.Role) (*model.User, error) {
	username = strings.TrimSpace(username)
	if err := ValidateCredentials(username, plain); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, model.NewInvalidRoleError(string(role))
	}

	digest, err := s.hasher.Hash(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Username:     username,
		PasswordHash: digest,
		Role:         role,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	slog.Info("user registered",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
		slog.String("role", string(role)),
	)
	return user, nil
}

// RegisterStudent は教師または管理者が生徒アカウントを作成する。
func (s *Service) RegisterStudent(ctx context.Context, actor model.Principal, username, plain string) (*model.User, error) {
	if err := s.authorizer.Authorize(ctx, actor, authz.RegisterStudent, 0); err != nil {
		return nil, err
	}
	user, err := s.Register(ctx, username, plain, model.RoleStudent)
	if err != nil {
		return nil, err
	}
	slog.Info("student registered by staff",
		slog.Int64("actor_id", actor.ID),
		slog.Int64("student_id", user.ID),
	)
	return user, nil
}

// Profile は認証済みユーザーのプロフィールを返す。
// 保護者の場合は紐付けられた生徒の一覧を含める。
func (s *Service) Profile(ctx context.Context, principal model.Principal) (*Profile, error) {
	user, err := s.userRepo.FindByID(ctx, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewAccountNotFoundError()
	}

	profile := &Profile{User: user}
	if user.Role == model.RoleParent {
		bindings, err := s.relationRepo.ListBindingsFor(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list bound students: %w", err)
		}
		profile.BoundStudents = bindings
	}
	return profile, nil
}

// MaxUsernameLength はユーザー名の最大文字数。
const MaxUsernameLength = 50

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

// ValidateCredentials は新規作成時のユーザー名とパスワードを検証する。
func ValidateCredentials(username, plain string) error {
	if username == "" {
		return model.NewValidationError("ユーザー名は必須です")
	}
	if len([]rune(username)) > MaxUsernameLength {
		return model.NewValidationError(fmt.Sprintf("ユーザー名は%d文字以内で入力してください", MaxUsernameLength))
	}
	if len([]rune(plain)) < MinPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で入力してください", MinPasswordLength))
	}
	return nil
}
