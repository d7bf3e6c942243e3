package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/studyhub/internal/auth"
	"github.com/hitoshi/studyhub/internal/authz"
	"github.com/hitoshi/studyhub/internal/lockout"
	"github.com/hitoshi/studyhub/internal/middleware"
	"github.com/hitoshi/studyhub/internal/model"
	"github.com/hitoshi/studyhub/internal/password"
	"github.com/hitoshi/studyhub/internal/session"
)

// memUsers は認証フローを通しで検証するためのインメモリUserRepository。
type memUsers struct {
	mu     sync.Mutex
	users  map[int64]*model.User
	nextID int64
}

func (r *memUsers) FindByID(ctx context.Context, id int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, nil
}

func (r *memUsers) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memUsers) Create(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	user.ID = r.nextID
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

func (r *memUsers) CreateMany(ctx context.Context, users []*model.User) error {
	return errors.New("not implemented")
}

func (r *memUsers) List(ctx context.Context) ([]*model.User, error) {
	return nil, errors.New("not implemented")
}

func (r *memUsers) ApplyPartialUpdate(ctx context.Context, id int64, update model.UserUpdate) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	if update.Role != nil {
		u.Role = *update.Role
	}
	copied := *u
	return &copied, nil
}

func (r *memUsers) RecordLoginFailure(ctx context.Context, id int64, threshold int, lockUntil time.Time) (*model.LoginState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	u.LoginAttempts++
	u.LockUntil = nil
	if u.LoginAttempts >= threshold {
		t := lockUntil
		u.LockUntil = &t
	}
	return &model.LoginState{LoginAttempts: u.LoginAttempts, LockUntil: u.LockUntil}, nil
}

func (r *memUsers) ResetLoginState(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.LoginAttempts = 0
		u.LockUntil = nil
	}
	return nil
}

func (r *memUsers) IncrementSessionVersion(ctx context.Context, id int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return 0, model.NewUserNotFoundError()
	}
	u.SessionVersion++
	return u.SessionVersion, nil
}

func (r *memUsers) DeleteByID(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

type noRelations struct{}

func (noRelations) CountBindings(ctx context.Context, parentID, studentID int64) (int, error) {
	return 0, nil
}

func (noRelations) ListBindingsFor(ctx context.Context, parentID int64) ([]model.StudentBinding, error) {
	return nil, nil
}

type authStack struct {
	router http.Handler
	users  *memUsers
	alice  int64
}

// newAuthStack は実際の認証サービスとトークン発行器でルーターを組み立てる。
// argon2のコストはテスト用に下げている。
func newAuthStack(t *testing.T) *authStack {
	t.Helper()
	users := &memUsers{users: make(map[int64]*model.User)}
	hasher := password.NewArgon2Hasher(password.Params{
		Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	issuer, err := session.NewIssuer(users, "integration-secret", session.WithTTL(time.Hour))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	matrix := authz.NewMatrix(noRelations{}, nil)
	authSvc := auth.NewService(users, noRelations{}, hasher, issuer, matrix, nil,
		auth.ServiceConfig{Policy: lockout.DefaultPolicy()})

	alice, err := authSvc.Register(context.Background(), "alice", "correct-horse", model.RoleStudent)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(limiter.Stop)

	router := NewRouter(&RouterDeps{
		TokenVerifier:    issuer,
		RateLimiter:      limiter,
		AuthService:      authSvc,
		UserService:      &mockUserService{},
		KnowledgeService: &mockKnowledgeService{},
		ProgressService:  &mockProgressService{},
		ScheduleService:  &mockScheduleService{},
	})
	return &authStack{router: router, users: users, alice: alice.ID}
}

func (s *authStack) login(t *testing.T, username, pw string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": pw})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(string(body)))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *authStack) loginToken(t *testing.T) string {
	t.Helper()
	w := s.login(t, "alice", "correct-horse")
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp loginResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	return resp.AccessToken
}

func TestIntegration_SecondLoginSupersedesFirstToken(t *testing.T) {
	s := newAuthStack(t)

	first := s.loginToken(t)
	if w := serve(s.router, http.MethodGet, "/auth/profile", first); w.Code != http.StatusOK {
		t.Fatalf("first token profile status = %d, want %d", w.Code, http.StatusOK)
	}

	second := s.loginToken(t)

	w := serve(s.router, http.MethodGet, "/auth/profile", first)
	assertErrorResponse(t, w, http.StatusUnauthorized, model.ErrCodeSessionSuperseded)

	if w := serve(s.router, http.MethodGet, "/auth/profile", second); w.Code != http.StatusOK {
		t.Errorf("second token profile status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestIntegration_LockoutAfterThreeFailures(t *testing.T) {
	s := newAuthStack(t)

	for i := 1; i <= 2; i++ {
		w := s.login(t, "alice", "wrong")
		assertErrorResponse(t, w, http.StatusUnauthorized, model.ErrCodeInvalidCredentials)
	}
	w := s.login(t, "alice", "wrong")
	assertErrorResponse(t, w, http.StatusForbidden, model.ErrCodeNewlyLocked)

	// ロック中は正しいパスワードでも拒否する
	w = s.login(t, "alice", "correct-horse")
	assertErrorResponse(t, w, http.StatusForbidden, model.ErrCodeAccountLocked)
}

func TestIntegration_UnknownUserLooksLikeWrongPassword(t *testing.T) {
	s := newAuthStack(t)

	unknown := s.login(t, "mallory", "whatever")
	wrong := s.login(t, "alice", "whatever")
	if unknown.Code != wrong.Code {
		t.Errorf("status differs: unknown=%d wrong=%d", unknown.Code, wrong.Code)
	}
	if a, b := parseAPIErrorResponse(t, unknown)["code"], parseAPIErrorResponse(t, wrong)["code"]; a != b {
		t.Errorf("code differs: unknown=%s wrong=%s", a, b)
	}
}

func TestIntegration_RoleChangeAppliesToExistingToken(t *testing.T) {
	s := newAuthStack(t)
	token := s.loginToken(t)

	teacher := model.RoleTeacher
	if _, err := s.users.ApplyPartialUpdate(context.Background(), s.alice, model.UserUpdate{Role: &teacher}); err != nil {
		t.Fatalf("ApplyPartialUpdate: %v", err)
	}

	w := serve(s.router, http.MethodGet, "/auth/profile", token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body userResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.Role != model.RoleTeacher {
		t.Errorf("role = %q, want teacher", body.Role)
	}
}

func TestIntegration_DeletedAccountToken(t *testing.T) {
	s := newAuthStack(t)
	token := s.loginToken(t)

	if err := s.users.DeleteByID(context.Background(), s.alice); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	w := serve(s.router, http.MethodGet, "/auth/profile", token)
	assertErrorResponse(t, w, http.StatusUnauthorized, model.ErrCodeAccountNotFound)
}
