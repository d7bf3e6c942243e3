// Package authz はロールと対象リソースに基づく認可判定を提供する。
//
// 判定はロールごとの静的な許可表と、対象ユーザーとの関係に基づく規則
// （本人、保護者と生徒の紐付け、自分自身の削除禁止）の組み合わせで行う。
// 判定結果はキャッシュせず、リクエストごとに評価する。
package authz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/studyhub/internal/model"
)

// Action は認可対象の操作を表す。値は以下の定数に限られる。
type Action int

const (
	// ReadProgressStats は他ユーザーの学習統計の閲覧。
	ReadProgressStats Action = iota + 1
	// WriteKnowledge は知識ポイントと問題の作成・更新・削除。
	WriteKnowledge
	// RegisterStudent は生徒アカウントの登録。
	RegisterStudent
	// BatchCreateUsers はユーザーの一括作成。
	BatchCreateUsers
	// ListUsers はユーザー一覧の取得。
	ListUsers
	// UpdateUser は管理者による他ユーザーの更新（ロール変更を含む）。
	UpdateUser
	// DeleteUser はユーザーの削除。
	DeleteUser
	// UnlockUser はアカウントロックの解除。
	UnlockUser
	// UpdateOwnProfile は自分のプロフィール更新。
	UpdateOwnProfile
	// RecordProgress は自分の学習進捗の記録。
	RecordProgress
	// WriteSchedule はコンテスト予定の作成・更新・削除。
	WriteSchedule
)

var actionNames = map[Action]string{
	ReadProgressStats: "read_progress_stats",
	WriteKnowledge:    "write_knowledge",
	RegisterStudent:   "register_student",
	BatchCreateUsers:  "batch_create_users",
	ListUsers:         "list_users",
	UpdateUser:        "update_user",
	DeleteUser:        "delete_user",
	UnlockUser:        "unlock_user",
	UpdateOwnProfile:  "update_own_profile",
	RecordProgress:    "record_progress",
	WriteSchedule:     "write_schedule",
}

// String はActionの文字列表現を返す。メトリクスとログのラベルに使用する。
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// Actions は定義済みのActionを列挙する。
func Actions() []Action {
	return []Action{
		ReadProgressStats, WriteKnowledge, RegisterStudent, BatchCreateUsers, ListUsers,
		UpdateUser, DeleteUser, UnlockUser, UpdateOwnProfile, RecordProgress, WriteSchedule,
	}
}

type roleSet map[model.Role]struct{}

func roles(rs ...model.Role) roleSet {
	set := make(roleSet, len(rs))
	for _, r := range rs {
		set[r] = struct{}{}
	}
	return set
}

// table はActionごとに無条件で許可されるロールの集合。
// 関係に基づく許可はAuthorizeで追加に評価する。
var table = map[Action]roleSet{
	ReadProgressStats: roles(model.RoleAdmin, model.RoleTeacher),
	WriteKnowledge:    roles(model.RoleAdmin, model.RoleTeacher),
	WriteSchedule:     roles(model.RoleAdmin, model.RoleTeacher),
	RegisterStudent:   roles(model.RoleAdmin, model.RoleTeacher),
	BatchCreateUsers:  roles(model.RoleAdmin, model.RoleTeacher),
	ListUsers:         roles(model.RoleAdmin, model.RoleTeacher),
	UnlockUser:        roles(model.RoleAdmin, model.RoleTeacher),
	UpdateUser:        roles(model.RoleAdmin),
	DeleteUser:        roles(model.RoleAdmin),
	UpdateOwnProfile:  roles(model.RoleAdmin, model.RoleTeacher, model.RoleStudent, model.RoleParent),
	RecordProgress:    roles(model.RoleAdmin, model.RoleTeacher, model.RoleStudent, model.RoleParent),
}

// Allowed はロールがActionを無条件で許可されているかを返す。
func Allowed(role model.Role, action Action) bool {
	set, ok := table[action]
	if !ok {
		return false
	}
	_, ok = set[role]
	return ok
}

// BindingCounter は保護者と生徒の紐付け件数を返す。
type BindingCounter interface {
	CountBindings(ctx context.Context, parentID, studentID int64) (int, error)
}

// DenyRecorder は拒否された判定を記録する。
type DenyRecorder interface {
	RecordAuthzDenied(action string, role string)
}

// Matrix は認可判定を行う。
type Matrix struct {
	bindings BindingCounter
	recorder DenyRecorder
}

// NewMatrix はMatrixを生成する。recorderはnilでもよい。
func NewMatrix(bindings BindingCounter, recorder DenyRecorder) *Matrix {
	return &Matrix{bindings: bindings, recorder: recorder}
}

// Authorize はactorがtargetIDに対してactionを実行できるかを判定する。
// 許可の場合はnil、拒否の場合はFORBIDDENまたはCANNOT_DELETE_SELFのAPIErrorを返す。
// 紐付けの参照に失敗した場合はラップしたエラーを返す。
// targetIDは対象ユーザーを持たないActionでは0を渡す。
func (m *Matrix) Authorize(ctx context.Context, actor model.Principal, action Action, targetID int64) error {
	switch action {
	case DeleteUser:
		if targetID != 0 && actor.ID == targetID {
			return m.deny(actor, action, model.NewCannotDeleteSelfError())
		}
	case ReadProgressStats:
		if actor.ID == targetID {
			return nil
		}
		if actor.Role == model.RoleParent {
			n, err := m.bindings.CountBindings(ctx, actor.ID, targetID)
			if err != nil {
				return fmt.Errorf("failed to check parent binding: %w", err)
			}
			if n > 0 {
				return nil
			}
			return m.deny(actor, action, model.NewForbiddenError("紐付けられていない生徒の情報は閲覧できません"))
		}
	}

	if Allowed(actor.Role, action) {
		return nil
	}
	return m.deny(actor, action, model.NewForbiddenError("現在のロールではこの操作は許可されていません"))
}

// deny は拒否をメトリクスとログに記録する。ロールと操作名はレスポンスには含めない。
func (m *Matrix) deny(actor model.Principal, action Action, err *model.APIError) error {
	slog.Info("authorization denied",
		slog.Int64("user_id", actor.ID),
		slog.String("role", string(actor.Role)),
		slog.String("action", action.String()),
	)
	if m.recorder != nil {
		m.recorder.RecordAuthzDenied(action.String(), string(actor.Role))
	}
	return err
}
