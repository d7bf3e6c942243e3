package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/studyhub/internal/auth"
	"github.com/hitoshi/studyhub/internal/authz"
	"github.com/hitoshi/studyhub/internal/config"
	"github.com/hitoshi/studyhub/internal/database"
	"github.com/hitoshi/studyhub/internal/handler"
	"github.com/hitoshi/studyhub/internal/knowledge"
	"github.com/hitoshi/studyhub/internal/lockout"
	"github.com/hitoshi/studyhub/internal/logger"
	"github.com/hitoshi/studyhub/internal/metrics"
	"github.com/hitoshi/studyhub/internal/middleware"
	"github.com/hitoshi/studyhub/internal/model"
	"github.com/hitoshi/studyhub/internal/password"
	"github.com/hitoshi/studyhub/internal/progress"
	"github.com/hitoshi/studyhub/internal/repository"
	"github.com/hitoshi/studyhub/internal/schedule"
	"github.com/hitoshi/studyhub/internal/security"
	"github.com/hitoshi/studyhub/internal/session"
	"github.com/hitoshi/studyhub/internal/user"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, isMigrateDown(args))
	case CommandCreateUser:
		return runCreateUser(cfg)
	default:
		return runServe(cfg)
	}
}

// services はドメインサービスとその依存関係をまとめたもの。
type services struct {
	issuer    *session.Issuer
	auth      *auth.Service
	users     *user.Service
	knowledge *knowledge.Service
	progress  *progress.Service
	schedules *schedule.Service
}

// newServices はリポジトリからドメインサービスまでをワイヤリングする。
// collectorはnilでもよい。
func newServices(cfg *config.Config, db *sql.DB, collector *metrics.Collector) (*services, error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	relationRepo := repository.NewPostgresRelationRepo(db)
	kpRepo := repository.NewPostgresKnowledgeRepo(db)
	problemRepo := repository.NewPostgresProblemRepo(db)
	progressRepo := repository.NewPostgresProgressRepo(db)
	scheduleRepo := repository.NewPostgresScheduleRepo(db)

	// 2. 認証基盤の初期化
	hasher := password.NewArgon2Hasher(password.Params{
		Memory:      cfg.Argon2MemoryKiB,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
		SaltLength:  password.DefaultParams().SaltLength,
		KeyLength:   password.DefaultParams().KeyLength,
	})
	issuer, err := session.NewIssuer(userRepo, cfg.JWTSecret,
		session.WithTTL(cfg.TokenTTL),
		session.WithIssuer(cfg.JWTIssuer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	// recorderはインターフェースで受けるため、nilの*Collectorを渡さない
	var denyRecorder authz.DenyRecorder
	var loginRecorder auth.LoginRecorder
	if collector != nil {
		denyRecorder = collector
		loginRecorder = collector
	}
	matrix := authz.NewMatrix(relationRepo, denyRecorder)

	// 3. ドメインサービスの初期化
	authService := auth.NewService(userRepo, relationRepo, hasher, issuer, matrix, loginRecorder,
		auth.ServiceConfig{Policy: lockout.Policy{
			MaxAttempts:  cfg.LoginMaxAttempts,
			LockDuration: cfg.LoginLockDuration,
		}},
	)
	userService := user.NewService(userRepo, hasher, matrix, security.NewTextSanitizer(),
		user.ServiceConfig{TeacherBatchLimit: cfg.BatchCreateTeacherLimit},
	)

	return &services{
		issuer:    issuer,
		auth:      authService,
		users:     userService,
		knowledge: knowledge.NewService(kpRepo, problemRepo, matrix),
		progress:  progress.NewService(progressRepo, kpRepo, userRepo, matrix),
		schedules: schedule.NewService(scheduleRepo, matrix),
	}, nil
}

// rateLimiterConfig は設定のreq/min値からレート制限設定を組み立てる。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rl.GeneralBurst = cfg.RateLimitGeneral
	rl.LoginRate = rate.Limit(float64(cfg.RateLimitLogin) / 60.0)
	rl.LoginBurst = cfg.RateLimitLogin
	return rl
}

// newHandler はサービスとメトリクスを含むHTTPハンドラーを構築する。
// 戻り値のRateLimiterはシャットダウン時に停止すること。
func newHandler(cfg *config.Config, db *sql.DB) (http.Handler, *middleware.RateLimiter, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	svc, err := newServices(cfg, db, collector)
	if err != nil {
		return nil, nil, err
	}

	limiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))

	router := handler.NewRouter(&handler.RouterDeps{
		TokenVerifier:     svc.issuer,
		RejectionRecorder: collector,
		HTTPRecorder:      collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		Logger:            slog.Default(),

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		AuthService:      svc.auth,
		UserService:      svc.users,
		KnowledgeService: svc.knowledge,
		ProgressService:  svc.progress,
		ScheduleService:  svc.schedules,
	})
	return router, limiter, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	router, limiter, err := newHandler(cfg, db)
	if err != nil {
		return err
	}
	defer limiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// downがtrueの場合は最後のマイグレーションを1つ戻し、それ以外は未適用分をすべて適用する。
func runMigrate(cfg *config.Config, down bool) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Bool("down", down),
	)

	migrateFn := database.RunMigrations
	if down {
		migrateFn = database.RollbackLast
	}
	status, err := migrateFn(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("dirty", status.Dirty),
	)
	return nil
}

// runCreateUser はBOOTSTRAP_*環境変数で指定したアカウントを作成する。
func runCreateUser(cfg *config.Config) error {
	bootstrap, err := config.LoadBootstrap()
	if err != nil {
		return err
	}
	role, ok := model.ParseRole(bootstrap.Role)
	if !ok {
		return fmt.Errorf("invalid BOOTSTRAP_ROLE: %q", bootstrap.Role)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := newServices(cfg, db, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created, err := svc.auth.Register(ctx, bootstrap.Username, bootstrap.Password, role)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("bootstrap user created",
		slog.Int64("user_id", created.ID),
		slog.String("username", created.Username),
		slog.String("role", string(created.Role)),
	)
	return nil
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, poolConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// poolConfig は設定からコネクションプールの設定を組み立てる。
func poolConfig(cfg *config.Config) database.PoolConfig {
	return database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
