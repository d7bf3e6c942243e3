// Package lockout はログイン失敗回数に基づくアカウントロックの判定ロジックを提供する。
//
// 判定は純粋関数として実装し、永続化は呼び出し側（認証サービス）が
// リポジトリのアトミックな更新を通じて行う。
package lockout

import (
	"time"

	"github.com/hitoshi/studyhub/internal/model"
)

// Outcome はロック判定の結果を表す。
type Outcome int

const (
	// OutcomeProceed はパスワード検証に進んでよいことを示す。
	OutcomeProceed Outcome = iota
	// OutcomeLocked はロック期間中のため、パスワード検証を行わずに拒否することを示す。
	OutcomeLocked
	// OutcomeRejected は認証に失敗したが、まだロックされていないことを示す。
	OutcomeRejected
	// OutcomeLockedJustNow は今回の失敗で上限に達し、ロックされたことを示す。
	OutcomeLockedJustNow
)

// String はOutcomeの文字列表現を返す。メトリクスのラベルにも使用する。
func (o Outcome) String() string {
	switch o {
	case OutcomeProceed:
		return "proceed"
	case OutcomeLocked:
		return "locked"
	case OutcomeRejected:
		return "rejected"
	case OutcomeLockedJustNow:
		return "locked_just_now"
	default:
		return "unknown"
	}
}

const (
	// DefaultMaxAttempts はロックまでの連続失敗回数のデフォルト値。
	DefaultMaxAttempts = 3
	// DefaultLockDuration はロック期間のデフォルト値。
	DefaultLockDuration = time.Hour
)

// Policy はアカウントロックのポリシー。
type Policy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

// DefaultPolicy はデフォルトのポリシー（3回失敗で1時間ロック）を返す。
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  DefaultMaxAttempts,
		LockDuration: DefaultLockDuration,
	}
}

// Check はパスワード検証の前に呼び出し、ロック中かどうかを判定する。
// lockUntilが設定されており、かつnowがそれより前の場合はOutcomeLockedとロック期限を返す。
// それ以外はOutcomeProceedを返す。
func (p Policy) Check(user *model.User, now time.Time) (Outcome, time.Time) {
	if user.LockUntil != nil && now.Before(*user.LockUntil) {
		return OutcomeLocked, *user.LockUntil
	}
	return OutcomeProceed, time.Time{}
}

// LockUntil は今回の失敗でロックする場合のロック期限を返す。
func (p Policy) LockUntil(now time.Time) time.Time {
	return now.Add(p.LockDuration)
}

// Threshold はロックに至る失敗回数を返す。1未満の設定は1として扱う。
func (p Policy) Threshold() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// AfterFailure は失敗回数をインクリメントした後の状態から結果を判定する。
func (p Policy) AfterFailure(state model.LoginState) Outcome {
	if state.LoginAttempts >= p.Threshold() {
		return OutcomeLockedJustNow
	}
	return OutcomeRejected
}
