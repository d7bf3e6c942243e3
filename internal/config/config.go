package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hitoshi/studyhub/internal/password"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Token
	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration

	// Lockout
	LoginMaxAttempts  int
	LoginLockDuration time.Duration

	// User management
	BatchCreateTeacherLimit int

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitLogin   int

	// Password hashing
	Argon2MemoryKiB   uint32
	Argon2Iterations  uint32
	Argon2Parallelism uint8

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Bootstrap はcreate-userコマンドで作成するアカウントの設定。
type Bootstrap struct {
	Username string
	Password string
	Role     string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", "studyhub")
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 24*time.Hour)
	cfg.LoginMaxAttempts = getEnvInt("LOGIN_MAX_ATTEMPTS", 3)
	cfg.LoginLockDuration = getEnvDuration("LOGIN_LOCK_DURATION", time.Hour)
	cfg.BatchCreateTeacherLimit = getEnvInt("BATCH_CREATE_TEACHER_LIMIT", 200)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.Argon2MemoryKiB = uint32(getEnvInt("ARGON2_MEMORY_KIB", 64*1024))
	cfg.Argon2Iterations = uint32(getEnvInt("ARGON2_ITERATIONS", 3))
	cfg.Argon2Parallelism = uint8(getEnvInt("ARGON2_PARALLELISM", 4))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は数値設定の範囲を検証する。
func (c *Config) validate() error {
	switch {
	case c.DBMaxOpenConns <= 0 || c.DBMaxIdleConns < 0:
		return fmt.Errorf("invalid database pool size: open=%d idle=%d", c.DBMaxOpenConns, c.DBMaxIdleConns)
	case c.TokenTTL <= 0:
		return fmt.Errorf("TOKEN_TTL must be positive: %s", c.TokenTTL)
	case c.LoginMaxAttempts <= 0:
		return fmt.Errorf("LOGIN_MAX_ATTEMPTS must be positive: %d", c.LoginMaxAttempts)
	case c.LoginLockDuration <= 0:
		return fmt.Errorf("LOGIN_LOCK_DURATION must be positive: %s", c.LoginLockDuration)
	case c.BatchCreateTeacherLimit <= 0:
		return fmt.Errorf("BATCH_CREATE_TEACHER_LIMIT must be positive: %d", c.BatchCreateTeacherLimit)
	case c.RateLimitGeneral <= 0 || c.RateLimitLogin <= 0:
		return fmt.Errorf("rate limits must be positive: general=%d login=%d", c.RateLimitGeneral, c.RateLimitLogin)
	case c.Argon2MemoryKiB == 0 || c.Argon2Iterations == 0 || c.Argon2Parallelism == 0:
		return fmt.Errorf("argon2 parameters must be positive")
	case c.Argon2MemoryKiB > password.MaxMemory || c.Argon2Iterations > password.MaxIterations || c.Argon2Parallelism > password.MaxParallelism:
		return fmt.Errorf("argon2 parameters exceed the verifiable maximum: m=%d t=%d p=%d",
			c.Argon2MemoryKiB, c.Argon2Iterations, c.Argon2Parallelism)
	}
	return nil
}

// LoadBootstrap はcreate-userコマンド用のアカウント設定を読み込む。
// BOOTSTRAP_ROLEの既定値はadmin。
func LoadBootstrap() (*Bootstrap, error) {
	b := &Bootstrap{
		Username: os.Getenv("BOOTSTRAP_USERNAME"),
		Password: os.Getenv("BOOTSTRAP_PASSWORD"),
		Role:     getEnvString("BOOTSTRAP_ROLE", "admin"),
	}

	var missing []string
	if b.Username == "" {
		missing = append(missing, "BOOTSTRAP_USERNAME")
	}
	if b.Password == "" {
		missing = append(missing, "BOOTSTRAP_PASSWORD")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}
	return b, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
