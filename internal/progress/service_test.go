package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/studyhub/internal/authz"
	"github.com/hitoshi/studyhub/internal/model"
)

// --- モック定義 ---

type mockProgressRepo struct {
	markCompletedFn func(ctx context.Context, userID, kpID int64) (*model.ProgressRecord, error)
	completed       map[int64][]model.CompletedPoint
}

func (m *mockProgressRepo) MarkCompleted(ctx context.Context, userID, kpID int64) (*model.ProgressRecord, error) {
	if m.markCompletedFn != nil {
		return m.markCompletedFn(ctx, userID, kpID)
	}
	return &model.ProgressRecord{ID: 1, UserID: userID, KnowledgePointID: kpID, IsCompleted: true}, nil
}

func (m *mockProgressRepo) ListCompleted(ctx context.Context, userID int64) ([]model.CompletedPoint, error) {
	return m.completed[userID], nil
}

type mockKnowledgeRepo struct {
	summaries []model.PointSummary
}

func (m *mockKnowledgeRepo) List(ctx context.Context, group model.KnowledgeGroup) ([]*model.KnowledgePoint, error) {
	return nil, nil
}

func (m *mockKnowledgeRepo) Search(ctx context.Context, query string) ([]*model.KnowledgePoint, error) {
	return nil, nil
}

func (m *mockKnowledgeRepo) FindByID(ctx context.Context, id int64) (*model.KnowledgePoint, error) {
	return nil, nil
}

func (m *mockKnowledgeRepo) ListSummaries(ctx context.Context) ([]model.PointSummary, error) {
	return m.summaries, nil
}

func (m *mockKnowledgeRepo) Create(ctx context.Context, kp *model.KnowledgePoint) error {
	return nil
}

func (m *mockKnowledgeRepo) Update(ctx context.Context, id int64, update model.KnowledgePointUpdate) (bool, error) {
	return false, nil
}

func (m *mockKnowledgeRepo) Delete(ctx context.Context, id int64) (bool, error) {
	return false, nil
}

type userMap map[int64]*model.User

func (m userMap) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return m[id], nil
}

// bindings は保護者IDから紐付けられた生徒IDへの対応。
type bindings map[int64][]int64

func (b bindings) CountBindings(ctx context.Context, parentID, studentID int64) (int, error) {
	n := 0
	for _, id := range b[parentID] {
		if id == studentID {
			n++
		}
	}
	return n, nil
}

// --- テストヘルパー ---

var (
	day = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	bob   = model.Principal{ID: 1, Username: "bob", Role: model.RoleStudent}
	carol = model.Principal{ID: 2, Username: "carol", Role: model.RoleStudent}
	dave  = model.Principal{ID: 3, Username: "dave", Role: model.RoleParent}
	tom   = model.Principal{ID: 4, Username: "tom", Role: model.RoleTeacher}
)

var summaries = []model.PointSummary{
	{ID: 1, Group: model.KnowledgeGroupPrimary, Category: "排序"},
	{ID: 2, Group: model.KnowledgeGroupPrimary, Category: "排序"},
	{ID: 3, Group: model.KnowledgeGroupPrimary, Category: ""},
	{ID: 4, Group: model.KnowledgeGroupAdvanced, Category: "图论"},
}

func newTestService(completed map[int64][]model.CompletedPoint) *Service {
	users := userMap{
		bob.ID:   {ID: bob.ID, Username: bob.Username, Role: bob.Role},
		carol.ID: {ID: carol.ID, Username: carol.Username, Role: carol.Role},
		dave.ID:  {ID: dave.ID, Username: dave.Username, Role: dave.Role},
		tom.ID:   {ID: tom.ID, Username: tom.Username, Role: tom.Role},
	}
	matrix := authz.NewMatrix(bindings{dave.ID: {bob.ID}}, nil)
	return NewService(
		&mockProgressRepo{completed: completed},
		&mockKnowledgeRepo{summaries: summaries},
		users,
		matrix,
	)
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

// --- Aggregate ---

func TestAggregate(t *testing.T) {
	completed := []model.CompletedPoint{
		{KnowledgePointID: 3, Title: "输入输出", Group: model.KnowledgeGroupPrimary, CompletedAt: day.Add(2 * time.Hour)},
		{KnowledgePointID: 1, Title: "冒泡排序", Group: model.KnowledgeGroupPrimary, Category: "排序", CompletedAt: day.Add(time.Hour)},
	}

	stats := Aggregate(summaries, completed)

	sorting := stats.Groups[string(model.KnowledgeGroupPrimary)]["排序"]
	if sorting != (model.StatCell{Total: 2, Completed: 1, Percent: 50}) {
		t.Errorf("groups[入门组][排序] = %+v, want {2 1 50}", sorting)
	}
	uncategorized := stats.Groups[string(model.KnowledgeGroupPrimary)][model.UncategorizedLabel]
	if uncategorized != (model.StatCell{Total: 1, Completed: 1, Percent: 100}) {
		t.Errorf("groups[入门组][未分类] = %+v, want {1 1 100}", uncategorized)
	}
	graph := stats.Groups[string(model.KnowledgeGroupAdvanced)]["图论"]
	if graph != (model.StatCell{Total: 1, Completed: 0, Percent: 0}) {
		t.Errorf("groups[提高组][图论] = %+v, want {1 0 0}", graph)
	}

	if _, ok := stats.Categories[model.UncategorizedLabel]; ok {
		t.Error("categories should not include uncategorized points")
	}
	if len(stats.Categories) != 2 {
		t.Errorf("len(categories) = %d, want 2", len(stats.Categories))
	}
	if stats.Categories["排序"].Percent != 50 {
		t.Errorf("categories[排序].Percent = %d, want 50", stats.Categories["排序"].Percent)
	}

	if stats.TotalKPs != 4 || stats.TotalCompleted != 2 || stats.OverallPercent != 50 {
		t.Errorf("totals = (%d, %d, %d), want (4, 2, 50)", stats.TotalKPs, stats.TotalCompleted, stats.OverallPercent)
	}
	if len(stats.RecentKPs) != 2 || stats.RecentKPs[0].ID != 3 {
		t.Errorf("recentKPs = %+v, want newest first", stats.RecentKPs)
	}
}

func TestAggregate_RoundsAndLimitsRecent(t *testing.T) {
	var sums []model.PointSummary
	var completed []model.CompletedPoint
	for i := int64(1); i <= 6; i++ {
		sums = append(sums, model.PointSummary{ID: i, Group: model.KnowledgeGroupPrimary})
		completed = append(completed, model.CompletedPoint{KnowledgePointID: i, CompletedAt: day.Add(-time.Duration(i) * time.Hour)})
	}
	sums = append(sums,
		model.PointSummary{ID: 7, Group: model.KnowledgeGroupPrimary},
		model.PointSummary{ID: 8, Group: model.KnowledgeGroupPrimary},
		model.PointSummary{ID: 9, Group: model.KnowledgeGroupPrimary},
	)

	stats := Aggregate(sums, completed)

	// 6/9 = 66.67% は67に丸める
	if stats.OverallPercent != 67 {
		t.Errorf("OverallPercent = %d, want 67", stats.OverallPercent)
	}
	if len(stats.RecentKPs) != RecentLimit {
		t.Errorf("len(RecentKPs) = %d, want %d", len(stats.RecentKPs), RecentLimit)
	}
}

func TestAggregate_Empty(t *testing.T) {
	stats := Aggregate(nil, nil)
	if stats.OverallPercent != 0 || stats.TotalKPs != 0 {
		t.Errorf("stats = %+v, want zero totals", stats)
	}
	if stats.Groups == nil || stats.Categories == nil || stats.RecentKPs == nil {
		t.Error("empty stats should carry non-nil collections")
	}
}

// --- StatsFor ---

func TestStatsFor_Access(t *testing.T) {
	completed := map[int64][]model.CompletedPoint{
		bob.ID: {{KnowledgePointID: 1, Category: "排序", CompletedAt: day}},
	}

	tests := []struct {
		name    string
		actor   model.Principal
		target  int64
		wantErr string
	}{
		{"self", bob, bob.ID, ""},
		{"other student", carol, bob.ID, model.ErrCodeForbidden},
		{"bound parent", dave, bob.ID, ""},
		{"unbound parent", dave, carol.ID, model.ErrCodeForbidden},
		{"teacher", tom, carol.ID, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(completed)
			stats, err := svc.StatsFor(context.Background(), tt.actor, tt.target)
			if tt.wantErr != "" {
				assertCode(t, err, tt.wantErr)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if stats.TotalKPs != len(summaries) {
				t.Errorf("TotalKPs = %d, want %d", stats.TotalKPs, len(summaries))
			}
		})
	}
}

func TestStatsFor_ComputesTargetNotActor(t *testing.T) {
	completed := map[int64][]model.CompletedPoint{
		bob.ID: {{KnowledgePointID: 1, CompletedAt: day}, {KnowledgePointID: 2, CompletedAt: day}},
	}
	svc := newTestService(completed)

	stats, err := svc.StatsFor(context.Background(), dave, bob.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalCompleted != 2 {
		t.Errorf("TotalCompleted = %d, want 2", stats.TotalCompleted)
	}
	if stats.IsParent {
		t.Error("IsParent should be false for a student's stats")
	}
}

func TestStatsFor_UnknownUser(t *testing.T) {
	svc := newTestService(nil)
	_, err := svc.StatsFor(context.Background(), tom, 999)
	assertCode(t, err, model.ErrCodeUserNotFound)
}

func TestOwnStats_Parent(t *testing.T) {
	svc := newTestService(nil)
	stats, err := svc.OwnStats(context.Background(), dave)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stats.IsParent {
		t.Error("IsParent = false, want true")
	}
	if stats.TotalKPs != 0 || len(stats.Groups) != 0 {
		t.Errorf("parent stats should be empty, got %+v", stats)
	}
}

// --- MarkCompleted ---

func TestMarkCompleted(t *testing.T) {
	var gotUser, gotKP int64
	repo := &mockProgressRepo{
		markCompletedFn: func(ctx context.Context, userID, kpID int64) (*model.ProgressRecord, error) {
			gotUser, gotKP = userID, kpID
			return &model.ProgressRecord{UserID: userID, KnowledgePointID: kpID, IsCompleted: true}, nil
		},
	}
	svc := NewService(repo, &mockKnowledgeRepo{}, userMap{}, authz.NewMatrix(bindings{}, nil))

	rec, err := svc.MarkCompleted(context.Background(), bob, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != bob.ID || gotKP != 4 {
		t.Errorf("MarkCompleted(%d, %d), want (%d, 4)", gotUser, gotKP, bob.ID)
	}
	if !rec.IsCompleted {
		t.Error("IsCompleted = false, want true")
	}
}

func TestMarkCompleted_GuestForbidden(t *testing.T) {
	svc := newTestService(nil)
	guest := model.Principal{ID: 9, Username: "gus", Role: model.RoleGuest}
	_, err := svc.MarkCompleted(context.Background(), guest, 1)
	assertCode(t, err, model.ErrCodeForbidden)
}
