// Package session はJWTアクセストークンの発行と検証を提供する。
//
// トークンには発行時点のセッションバージョン（sv）を埋め込む。
// 検証時は毎回ユーザーレコードを読み直し、svが現在値と一致しない場合は
// より新しいログインによって置き換えられたものとして拒否する。
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/studyhub/internal/model"
)

// DefaultTTL はトークン有効期間のデフォルト値。
const DefaultTTL = 24 * time.Hour

// DefaultIssuer はissクレームのデフォルト値。
const DefaultIssuer = "studyhub"

// ErrEmptySecret は署名鍵が空の場合のエラー。
var ErrEmptySecret = errors.New("session: signing secret must not be empty")

// Claims はアクセストークンのクレーム。
type Claims struct {
	UserID         int64      `json:"uid"`
	Username       string     `json:"username"`
	Role           model.Role `json:"role"`
	SessionVersion int64      `json:"sv"`
	jwt.RegisteredClaims
}

// VersionStore はセッションバージョンの更新とユーザー参照を行うストア。
type VersionStore interface {
	IncrementSessionVersion(ctx context.Context, id int64) (int64, error)
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// Issuer はトークンを発行・検証する。
type Issuer struct {
	store  VersionStore
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option はIssuerの設定オプション。
type Option func(*Issuer)

// WithTTL はトークンの有効期間を設定する。
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithIssuer はissクレームの値を設定する。
func WithIssuer(issuer string) Option {
	return func(i *Issuer) {
		if issuer != "" {
			i.issuer = issuer
		}
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer はIssuerを生成する。
func NewIssuer(store VersionStore, secret string, opts ...Option) (*Issuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	i := &Issuer{
		store:  store,
		secret: []byte(secret),
		issuer: DefaultIssuer,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL はトークンの有効期間を返す。
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Mint はセッションバージョンをインクリメントし、新しい値を埋め込んだトークンを発行する。
// 以前に発行された同一ユーザーのトークンはすべて無効になる。
func (i *Issuer) Mint(ctx context.Context, user *model.User) (string, *Claims, error) {
	version, err := i.store.IncrementSessionVersion(ctx, user.ID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to increment session version: %w", err)
	}

	now := i.now().UTC()
	claims := &Claims{
		UserID:         user.ID,
		Username:       user.Username,
		Role:           user.Role,
		SessionVersion: version,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, claims, nil
}

// Verify はトークンの署名、有効期限、発行者を検証し、現在のユーザーレコードを返す。
// 戻り値のユーザーのロールはトークンではなくレコードの値であり、
// ロール変更は次のリクエストから反映される。
func (i *Issuer) Verify(ctx context.Context, tokenString string) (*Claims, *model.User, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return nil, nil, model.NewInvalidTokenError()
	}
	if claims.UserID <= 0 {
		return nil, nil, model.NewInvalidTokenError()
	}

	user, err := i.store.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load token subject: %w", err)
	}
	if user == nil {
		return nil, nil, model.NewAccountNotFoundError()
	}
	if user.SessionVersion != claims.SessionVersion {
		return nil, nil, model.NewSessionSupersededError()
	}
	return claims, user, nil
}
