// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーのロールを表す。
// 値は以下の定数のいずれかに限られる（閉じた列挙）。
type Role string

const (
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
	// RoleTeacher は教師。
	RoleTeacher Role = "teacher"
	// RoleStudent は生徒。
	RoleStudent Role = "student"
	// RoleParent は保護者。
	RoleParent Role = "parent"
	// RoleGuest はゲスト。
	RoleGuest Role = "guest"
)

// Roles は定義済みロールの一覧を返す。
func Roles() []Role {
	return []Role{RoleAdmin, RoleTeacher, RoleStudent, RoleParent, RoleGuest}
}

// ParseRole は文字列をRoleに変換する。未定義の値の場合はfalseを返す。
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

// Valid は定義済みのロールかどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleParent, RoleGuest:
		return true
	default:
		return false
	}
}

// IsStaff は管理者または教師かどうかを返す。
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleTeacher
}

// User はサービス利用ユーザーを表す。
// PasswordHash、LoginAttempts、LockUntilは外部に公開しない。
type User struct {
	ID             int64
	Username       string
	PasswordHash   string
	Role           Role
	SessionVersion int64
	LoginAttempts  int
	LockUntil      *time.Time
	Nickname       string
	Avatar         string
	Bio            string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UserUpdate はユーザーの部分更新内容を表す。
// nilのフィールドは更新しない。
type UserUpdate struct {
	Role         *Role
	Nickname     *string
	Avatar       *string
	Bio          *string
	PasswordHash *string
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (u UserUpdate) IsEmpty() bool {
	return u.Role == nil && u.Nickname == nil && u.Avatar == nil && u.Bio == nil && u.PasswordHash == nil
}

// LoginState はログイン試行回数とロック期限の現在値を表す。
type LoginState struct {
	LoginAttempts int
	LockUntil     *time.Time
}

// Principal はリクエストを実行している認証済みユーザーを表す。
// ロールはトークンではなく検証時点のユーザーレコードから取得する。
type Principal struct {
	ID       int64
	Username string
	Role     Role
}

// StudentBinding は保護者に紐付けられた生徒を表す。
type StudentBinding struct {
	StudentID       int64
	StudentUsername string
}
