// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/studyhub/internal/model"
)

// UserRepository はユーザー（認証情報を含む）の永続化インターフェース。
// 試行回数とセッションバージョンの更新はアトミックなSQLで行い、
// 同一アカウントへの並行ログインでも更新が失われないことを保証する。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDとタイムスタンプを設定する。
	// ユーザー名が重複する場合はUSERNAME_TAKENのAPIErrorを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateMany は複数ユーザーを同一トランザクションで作成する。
	// 1件でも失敗した場合は全件ロールバックする。
	CreateMany(ctx context.Context, users []*model.User) error

	// List は全ユーザーをID昇順で返す。
	List(ctx context.Context) ([]*model.User, error)

	// ApplyPartialUpdate はnilでないフィールドのみを更新する。
	// 他のカラムは更新対象に含めないため、並行して変更された値を上書きしない。
	// ユーザーが見つからない場合はnilを返す。
	ApplyPartialUpdate(ctx context.Context, id int64, update model.UserUpdate) (*model.User, error)

	// RecordLoginFailure はログイン試行回数をアトミックにインクリメントする。
	// インクリメント後の値がthreshold以上の場合はlock_untilにlockUntilを設定する。
	// ユーザーが見つからない場合はnilを返す。
	RecordLoginFailure(ctx context.Context, id int64, threshold int, lockUntil time.Time) (*model.LoginState, error)

	// ResetLoginState はログイン試行回数を0に、lock_untilをNULLに戻す。冪等。
	ResetLoginState(ctx context.Context, id int64) error

	// IncrementSessionVersion はセッションバージョンをアトミックに1増やし、新しい値を返す。
	IncrementSessionVersion(ctx context.Context, id int64) (int64, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するparent_student_relations、student_progressはCASCADE削除される。
	DeleteByID(ctx context.Context, id int64) error
}

// RelationRepository は保護者と生徒の紐付けを参照するインターフェース。
// 紐付けの作成は外部のワークフローが行うため、ここでは参照のみを提供する。
type RelationRepository interface {
	// CountBindings は保護者と生徒の紐付け件数を返す。
	CountBindings(ctx context.Context, parentID, studentID int64) (int, error)

	// ListBindingsFor は保護者に紐付けられた生徒の一覧を返す。
	ListBindingsFor(ctx context.Context, parentID int64) ([]model.StudentBinding, error)
}

// KnowledgeRepository は知識ポイントの永続化インターフェース。
type KnowledgeRepository interface {
	// List は知識ポイントをID昇順で返す。groupが空でない場合はそのグループのみを返す。
	// 本文と問題は含まない。
	List(ctx context.Context, group model.KnowledgeGroup) ([]*model.KnowledgePoint, error)

	// Search はタイトルまたはカテゴリに部分一致する知識ポイントを返す。
	Search(ctx context.Context, query string) ([]*model.KnowledgePoint, error)

	// FindByID は問題を含む知識ポイントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.KnowledgePoint, error)

	// ListSummaries は進捗集計用に全知識ポイントのID、グループ、カテゴリを返す。
	ListSummaries(ctx context.Context) ([]model.PointSummary, error)

	// Create は知識ポイントを作成する。
	Create(ctx context.Context, kp *model.KnowledgePoint) error

	// Update はnilでないフィールドのみを更新する。見つからない場合はfalseを返す。
	Update(ctx context.Context, id int64, update model.KnowledgePointUpdate) (bool, error)

	// Delete は知識ポイントを削除する。見つからない場合はfalseを返す。
	Delete(ctx context.Context, id int64) (bool, error)
}

// ProblemRepository は問題の永続化インターフェース。
type ProblemRepository interface {
	// FindByID は指定IDの問題を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Problem, error)

	// Create は問題を作成する。
	Create(ctx context.Context, problem *model.Problem) error

	// Update はnilでないフィールドのみを更新する。
	// videoUpdatedAtがnilでない場合はvideo_updated_atも更新する。見つからない場合はfalseを返す。
	Update(ctx context.Context, id int64, update model.ProblemUpdate, videoUpdatedAt *time.Time) (bool, error)

	// Delete は問題を削除する。見つからない場合はfalseを返す。
	Delete(ctx context.Context, id int64) (bool, error)
}

// ProgressRepository は学習進捗の永続化インターフェース。
type ProgressRepository interface {
	// MarkCompleted は知識ポイントを完了済みとして冪等にUPSERTする。
	MarkCompleted(ctx context.Context, userID, kpID int64) (*model.ProgressRecord, error)

	// ListCompleted はユーザーの完了済み知識ポイントを完了日時の降順で返す。
	ListCompleted(ctx context.Context, userID int64) ([]model.CompletedPoint, error)
}

// ScheduleRepository はコンテスト予定の永続化インターフェース。
type ScheduleRepository interface {
	// List は予定を開始日時の昇順で返す。
	List(ctx context.Context) ([]*model.Schedule, error)

	// FindByID は指定IDの予定を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Schedule, error)

	// Create は予定を作成し、採番されたIDとタイムスタンプを設定する。
	Create(ctx context.Context, schedule *model.Schedule) error

	// Update はnilでないフィールドのみを更新する。見つからない場合はfalseを返す。
	Update(ctx context.Context, id int64, update model.ScheduleUpdate) (bool, error)

	// Delete は予定を削除する。見つからない場合はfalseを返す。
	Delete(ctx context.Context, id int64) (bool, error)
}
