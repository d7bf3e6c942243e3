package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/studyhub/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通を確認する依存先。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	RejectionRecorder middleware.RejectionRecorder
	HTTPRecorder      middleware.HTTPRecorder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// ドメインサービス
	AuthService      AuthServiceInterface
	UserService      UserServiceInterface
	KnowledgeService KnowledgeServiceInterface
	ProgressService  ProgressServiceInterface
	ScheduleService  ScheduleServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Logging → Recovery → SecurityHeaders → Metrics → CORS
//	  認証ルート: BearerAuth → RateLimit(General)
//	  公開ルート: OptionalAuth
//	  ログイン:   RateLimit(Login)
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	} else {
		r.Use(middleware.NewLoggingMiddleware(logger))
	}
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.HTTPRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPRecorder))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	userHandler := NewUserHandler(deps.UserService)
	knowledgeHandler := NewKnowledgeHandler(deps.KnowledgeService)
	progressHandler := NewProgressHandler(deps.ProgressService)
	scheduleHandler := NewScheduleHandler(deps.ScheduleService)

	requireAuth := middleware.NewBearerAuthMiddleware(deps.TokenVerifier, deps.RejectionRecorder)
	optionalAuth := middleware.NewOptionalAuthMiddleware(deps.TokenVerifier)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- ログイン（IP単位のレート制限のみ） ---
	r.With(deps.RateLimiter.LoginMiddleware()).Post("/auth/login", authHandler.Login)

	// --- 知識ポイントの参照（認証任意） ---
	r.Group(func(r chi.Router) {
		r.Use(optionalAuth)
		r.Get("/knowledge", knowledgeHandler.List)
		r.Get("/knowledge/group/{group}", knowledgeHandler.List)
		r.Get("/knowledge/search", knowledgeHandler.Search)
		r.Get("/knowledge/{id}", knowledgeHandler.Get)
	})

	// --- コンテスト予定の参照（認証不要） ---
	r.Get("/schedules", scheduleHandler.List)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: BearerAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/auth/register-student", authHandler.RegisterStudent)
		r.Get("/auth/profile", authHandler.Profile)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", userHandler.List)
			r.Post("/batch", userHandler.BatchCreate)
			r.Patch("/me/profile", userHandler.UpdateProfile)
			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/", userHandler.Update)
				r.Delete("/", userHandler.Delete)
				r.Post("/unlock", userHandler.Unlock)
			})
		})

		// 参照ルートと同じパスに並ぶため、サブルーターにはマウントしない
		r.Post("/knowledge", knowledgeHandler.Create)
		r.Patch("/knowledge/{id}", knowledgeHandler.Update)
		r.Delete("/knowledge/{id}", knowledgeHandler.Delete)
		r.Post("/knowledge/{id}/problems", knowledgeHandler.AddProblem)
		r.Patch("/knowledge/problems/{id}", knowledgeHandler.UpdateProblem)
		r.Delete("/knowledge/problems/{id}", knowledgeHandler.DeleteProblem)

		r.Post("/schedules", scheduleHandler.Create)
		r.Patch("/schedules/{id}", scheduleHandler.Update)
		r.Delete("/schedules/{id}", scheduleHandler.Delete)

		r.Route("/progress", func(r chi.Router) {
			r.Get("/", progressHandler.ListOwn)
			r.Get("/stats", progressHandler.OwnStats)
			r.Get("/stats/{userId}", progressHandler.StatsFor)
			r.Post("/{kpId}/complete", progressHandler.MarkCompleted)
		})
	})

	return r
}

// healthHandler はDB疎通を確認し、200または503を返すハンドラーを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
