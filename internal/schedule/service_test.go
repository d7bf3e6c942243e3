package schedule

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/studyhub/internal/authz"
	"github.com/hitoshi/studyhub/internal/model"
)

// --- モック定義 ---

type mockScheduleRepo struct {
	listFn     func(ctx context.Context) ([]*model.Schedule, error)
	findByIDFn func(ctx context.Context, id int64) (*model.Schedule, error)
	createFn   func(ctx context.Context, s *model.Schedule) error
	updateFn   func(ctx context.Context, id int64, update model.ScheduleUpdate) (bool, error)
	deleteFn   func(ctx context.Context, id int64) (bool, error)
}

func (m *mockScheduleRepo) List(ctx context.Context) ([]*model.Schedule, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return []*model.Schedule{}, nil
}

func (m *mockScheduleRepo) FindByID(ctx context.Context, id int64) (*model.Schedule, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockScheduleRepo) Create(ctx context.Context, s *model.Schedule) error {
	if m.createFn != nil {
		return m.createFn(ctx, s)
	}
	s.ID = 1
	return nil
}

func (m *mockScheduleRepo) Update(ctx context.Context, id int64, update model.ScheduleUpdate) (bool, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, update)
	}
	return true, nil
}

func (m *mockScheduleRepo) Delete(ctx context.Context, id int64) (bool, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return true, nil
}

type noBindings struct{}

func (noBindings) CountBindings(ctx context.Context, parentID, studentID int64) (int, error) {
	return 0, nil
}

// --- テストヘルパー ---

var (
	contestStart = time.Date(2026, 9, 20, 1, 0, 0, 0, time.UTC)
	contestEnd   = contestStart.Add(3 * time.Hour)

	admin   = model.Principal{ID: 1, Username: "root", Role: model.RoleAdmin}
	teacher = model.Principal{ID: 2, Username: "tom", Role: model.RoleTeacher}
	student = model.Principal{ID: 3, Username: "bob", Role: model.RoleStudent}
	parent  = model.Principal{ID: 4, Username: "pam", Role: model.RoleParent}
)

func newTestService(repo *mockScheduleRepo) *Service {
	if repo == nil {
		repo = &mockScheduleRepo{}
	}
	return NewService(repo, authz.NewMatrix(noBindings{}, nil))
}

// existingRepo はID 7の予定を返すリポジトリを生成する。
func existingRepo() *mockScheduleRepo {
	return &mockScheduleRepo{
		findByIDFn: func(ctx context.Context, id int64) (*model.Schedule, error) {
			return &model.Schedule{
				ID: id, Title: "CSP-J", StartTime: contestStart, EndTime: contestEnd,
				Color: model.DefaultScheduleColor,
			}, nil
		},
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %q, want %q", apiErr.Code, code)
	}
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

// --- 参照 ---

func TestList(t *testing.T) {
	repo := &mockScheduleRepo{
		listFn: func(ctx context.Context) ([]*model.Schedule, error) {
			return []*model.Schedule{{ID: 1, Title: "NOIP"}}, nil
		},
	}
	schedules, err := newTestService(repo).List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(schedules) != 1 {
		t.Errorf("len(schedules) = %d, want 1", len(schedules))
	}
}

func TestList_RepoError(t *testing.T) {
	repo := &mockScheduleRepo{
		listFn: func(ctx context.Context) ([]*model.Schedule, error) {
			return nil, errors.New("db down")
		},
	}
	_, err := newTestService(repo).List(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("repository error should not be mapped to APIError, got %v", apiErr.Code)
	}
}

// --- 作成 ---

func TestCreate_StaffOnly(t *testing.T) {
	for _, actor := range []model.Principal{admin, teacher} {
		sc, err := newTestService(nil).Create(context.Background(), actor, &model.Schedule{
			Title: "  CSP-J 第一轮 ", StartTime: contestStart, EndTime: contestEnd,
		})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", actor.Role, err)
		}
		if sc.Title != "CSP-J 第一轮" {
			t.Errorf("Title = %q, want trimmed", sc.Title)
		}
		if sc.Color != model.DefaultScheduleColor {
			t.Errorf("Color = %q, want default", sc.Color)
		}
	}

	for _, actor := range []model.Principal{student, parent} {
		repo := &mockScheduleRepo{
			createFn: func(ctx context.Context, s *model.Schedule) error {
				t.Error("Create should not be called")
				return nil
			},
		}
		_, err := newTestService(repo).Create(context.Background(), actor, &model.Schedule{
			Title: "x", StartTime: contestStart, EndTime: contestEnd,
		})
		assertCode(t, err, model.ErrCodeForbidden)
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name string
		sc   model.Schedule
	}{
		{"empty title", model.Schedule{Title: " ", StartTime: contestStart, EndTime: contestEnd}},
		{"long title", model.Schedule{Title: strings.Repeat("赛", MaxTitleLength+1), StartTime: contestStart, EndTime: contestEnd}},
		{"missing start", model.Schedule{Title: "x", EndTime: contestEnd}},
		{"end before start", model.Schedule{Title: "x", StartTime: contestEnd, EndTime: contestStart}},
		{"bad color", model.Schedule{Title: "x", StartTime: contestStart, EndTime: contestEnd, Color: "blue"}},
		{"relative link", model.Schedule{Title: "x", StartTime: contestStart, EndTime: contestEnd, Link: "/contest/1"}},
		{"javascript link", model.Schedule{Title: "x", StartTime: contestStart, EndTime: contestEnd, Link: "javascript:alert(1)"}},
		{"long location", model.Schedule{Title: "x", StartTime: contestStart, EndTime: contestEnd, Location: strings.Repeat("a", MaxLocationLength+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockScheduleRepo{
				createFn: func(ctx context.Context, s *model.Schedule) error {
					t.Error("Create should not be called")
					return nil
				},
			}
			sc := tt.sc
			_, err := newTestService(repo).Create(context.Background(), admin, &sc)
			assertCode(t, err, model.ErrCodeValidationFailed)
		})
	}
}

// 開始と終了が同時刻の予定は許可されることを検証
func TestCreate_ZeroLengthPeriod(t *testing.T) {
	_, err := newTestService(nil).Create(context.Background(), teacher, &model.Schedule{
		Title: "报名截止", StartTime: contestStart, EndTime: contestStart,
		Link: "https://www.noi.cn/", Color: "#ef4444",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- 更新 ---

func TestUpdate_ReturnsReloaded(t *testing.T) {
	var got model.ScheduleUpdate
	repo := existingRepo()
	repo.updateFn = func(ctx context.Context, id int64, update model.ScheduleUpdate) (bool, error) {
		got = update
		return true, nil
	}

	sc, err := newTestService(repo).Update(context.Background(), teacher, 7, model.ScheduleUpdate{
		Title:    strPtr(" CSP-S "),
		Location: strPtr("  第一中学 "),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sc.ID != 7 {
		t.Errorf("ID = %d, want 7", sc.ID)
	}
	if *got.Title != "CSP-S" || *got.Location != "第一中学" {
		t.Errorf("update = %+v, want trimmed fields", got)
	}
	if got.StartTime != nil || got.Color != nil {
		t.Errorf("unset fields should stay nil, got %+v", got)
	}
}

// 片方の日時のみの更新でも既存値との前後関係が検証されることを確認
func TestUpdate_PeriodCheckedAgainstExisting(t *testing.T) {
	repo := existingRepo()
	repo.updateFn = func(ctx context.Context, id int64, update model.ScheduleUpdate) (bool, error) {
		t.Error("Update should not be called")
		return true, nil
	}
	svc := newTestService(repo)

	_, err := svc.Update(context.Background(), admin, 7, model.ScheduleUpdate{
		StartTime: timePtr(contestEnd.Add(time.Minute)),
	})
	assertCode(t, err, model.ErrCodeValidationFailed)

	_, err = svc.Update(context.Background(), admin, 7, model.ScheduleUpdate{
		EndTime: timePtr(contestStart.Add(-time.Minute)),
	})
	assertCode(t, err, model.ErrCodeValidationFailed)
}

// 空の色指定は既定色に戻すことを検証
func TestUpdate_BlankColorResetsDefault(t *testing.T) {
	var got model.ScheduleUpdate
	repo := existingRepo()
	repo.updateFn = func(ctx context.Context, id int64, update model.ScheduleUpdate) (bool, error) {
		got = update
		return true, nil
	}
	if _, err := newTestService(repo).Update(context.Background(), admin, 7, model.ScheduleUpdate{Color: strPtr(" ")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Color == nil || *got.Color != model.DefaultScheduleColor {
		t.Errorf("Color = %v, want %s", got.Color, model.DefaultScheduleColor)
	}
}

func TestUpdate_Errors(t *testing.T) {
	vanished := existingRepo()
	vanished.updateFn = func(ctx context.Context, id int64, update model.ScheduleUpdate) (bool, error) {
		return false, nil
	}

	tests := []struct {
		name   string
		repo   *mockScheduleRepo
		actor  model.Principal
		update model.ScheduleUpdate
		code   string
	}{
		{"student", existingRepo(), student, model.ScheduleUpdate{Title: strPtr("x")}, model.ErrCodeForbidden},
		{"missing", &mockScheduleRepo{}, admin, model.ScheduleUpdate{Title: strPtr("x")}, model.ErrCodeScheduleNotFound},
		{"blank title", existingRepo(), admin, model.ScheduleUpdate{Title: strPtr("")}, model.ErrCodeValidationFailed},
		{"bad link", existingRepo(), admin, model.ScheduleUpdate{Link: strPtr("ftp://example.com")}, model.ErrCodeValidationFailed},
		{"deleted concurrently", vanished, admin, model.ScheduleUpdate{Title: strPtr("x")}, model.ErrCodeScheduleNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestService(tt.repo).Update(context.Background(), tt.actor, 7, tt.update)
			assertCode(t, err, tt.code)
		})
	}
}

// --- 削除 ---

func TestDelete(t *testing.T) {
	svc := newTestService(nil)
	if err := svc.Delete(context.Background(), teacher, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertCode(t, svc.Delete(context.Background(), parent, 1), model.ErrCodeForbidden)

	missing := newTestService(&mockScheduleRepo{
		deleteFn: func(ctx context.Context, id int64) (bool, error) { return false, nil },
	})
	assertCode(t, missing.Delete(context.Background(), admin, 1), model.ErrCodeScheduleNotFound)
}
