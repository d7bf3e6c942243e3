// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, permission, validation, knowledge, schedule, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeAccountLocked          = "ACCOUNT_LOCKED"
	ErrCodeNewlyLocked            = "NEWLY_LOCKED"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeInvalidToken           = "INVALID_TOKEN"
	ErrCodeSessionSuperseded      = "SESSION_SUPERSEDED"
	ErrCodeAccountNotFound        = "ACCOUNT_NOT_FOUND"
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeCannotDeleteSelf       = "CANNOT_DELETE_SELF"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeUsernameTaken          = "USERNAME_TAKEN"
	ErrCodeInvalidRole            = "INVALID_ROLE"
	ErrCodeValidationFailed       = "VALIDATION_FAILED"
	ErrCodeBatchLimitExceeded     = "BATCH_LIMIT_EXCEEDED"
	ErrCodeKnowledgePointNotFound = "KNOWLEDGE_POINT_NOT_FOUND"
	ErrCodeProblemNotFound        = "PROBLEM_NOT_FOUND"
	ErrCodeInvalidKnowledgeGroup  = "INVALID_KNOWLEDGE_GROUP"
	ErrCodeScheduleNotFound       = "SCHEDULE_NOT_FOUND"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// lockTimeLayout はロック期限をユーザーに表示する際の書式。
const lockTimeLayout = "2006-01-02 15:04:05 MST"

// NewInvalidCredentialsError はユーザー名またはパスワードが誤っている場合のエラーを生成する。
// ユーザーの存在有無を判別できないよう、常に同じ内容を返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewAccountLockedError はロック期間中のログイン試行に対するエラーを生成する。
// メッセージにはロック解除予定時刻を含める。
func NewAccountLockedError(lockUntil time.Time) *APIError {
	return &APIError{
		Code:     ErrCodeAccountLocked,
		Message:  fmt.Sprintf("アカウントはロックされています。%s 以降に再度お試しください。", lockUntil.Format(lockTimeLayout)),
		Category: "auth",
		Action:   "ロック解除時刻まで待つか、管理者に連絡してください。",
	}
}

// NewNewlyLockedError はログイン失敗回数が上限に達しロックされた場合のエラーを生成する。
func NewNewlyLockedError(lockDuration time.Duration) *APIError {
	return &APIError{
		Code:     ErrCodeNewlyLocked,
		Message:  fmt.Sprintf("ログイン失敗回数が上限に達したため、アカウントを%sロックしました。", formatLockDuration(lockDuration)),
		Category: "auth",
		Action:   "時間をおいて再度お試しいただくか、管理者に連絡してください。",
	}
}

// NewUnauthorizedError は認証情報がないリクエストに対するエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidTokenError はトークンが不正または期限切れの場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "認証トークンが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewSessionSupersededError はより新しいログインによりセッションが無効化された場合のエラーを生成する。
func NewSessionSupersededError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionSuperseded,
		Message:  "ログイン状態が無効になりました（別の場所でログインされた可能性があります）。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewAccountNotFoundError はトークンのユーザーが既に存在しない場合のエラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "アカウントが存在しないか、削除されています。",
		Category: "auth",
		Action:   "管理者に連絡してください。",
	}
}

// NewForbiddenError は権限不足のエラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作を行う権限がありません: %s", reason),
		Category: "permission",
		Action:   "権限を持つユーザーに依頼してください。",
	}
}

// NewCannotDeleteSelfError は自分自身のアカウントを削除しようとした場合のエラーを生成する。
func NewCannotDeleteSelfError() *APIError {
	return &APIError{
		Code:     ErrCodeCannotDeleteSelf,
		Message:  "自分自身のアカウントは削除できません（cannot delete own account）。",
		Category: "permission",
		Action:   "別の管理者に依頼してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewUsernameTakenError はユーザー名が既に使用されている場合のエラーを生成する。
func NewUsernameTakenError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUsernameTaken,
		Message:  fmt.Sprintf("ユーザー名は既に使用されています: %s", username),
		Category: "validation",
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewInvalidRoleError は未定義のロールが指定された場合のエラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("無効なロールです: %s", role),
		Category: "validation",
		Action:   "ロールには admin、teacher、student、parent、guest のいずれかを指定してください。",
	}
}

// NewValidationError は入力値の検証に失敗した場合のエラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewBatchLimitExceededError は一括作成の上限を超えた場合のエラーを生成する。
func NewBatchLimitExceededError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeBatchLimitExceeded,
		Message:  fmt.Sprintf("教師が一度に作成できるユーザーは%d件までです。", limit),
		Category: "validation",
		Action:   "ユーザーを分割して登録してください。",
	}
}

// NewKnowledgePointNotFoundError は知識ポイントが見つからない場合のエラーを生成する。
func NewKnowledgePointNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeKnowledgePointNotFound,
		Message:  fmt.Sprintf("指定された知識ポイントが見つかりません: %d", id),
		Category: "knowledge",
		Action:   "知識ポイントIDを確認してください。",
	}
}

// NewProblemNotFoundError は問題が見つからない場合のエラーを生成する。
func NewProblemNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeProblemNotFound,
		Message:  fmt.Sprintf("指定された問題が見つかりません: %d", id),
		Category: "knowledge",
		Action:   "問題IDを確認してください。",
	}
}

// NewInvalidKnowledgeGroupError は未定義のグループが指定された場合のエラーを生成する。
func NewInvalidKnowledgeGroupError(group string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidKnowledgeGroup,
		Message:  fmt.Sprintf("無効なグループです: %s", group),
		Category: "validation",
		Action:   "グループには 入门组 または 提高组 を指定してください。",
	}
}

// NewScheduleNotFoundError は予定が見つからない場合のエラーを生成する。
func NewScheduleNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeScheduleNotFound,
		Message:  fmt.Sprintf("指定された予定が見つかりません: %d", id),
		Category: "schedule",
		Action:   "予定IDを確認してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// formatLockDuration はロック期間を表示用の文字列に変換する。
func formatLockDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d時間", int(d/time.Hour))
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d分", int(d/time.Minute))
	}
	return d.String()
}
