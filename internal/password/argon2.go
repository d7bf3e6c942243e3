// Package password はパスワードの一方向ハッシュ化と検証を提供する。
//
// ハッシュにはメモリハードなargon2idを使用する。ダイジェストは
// アルゴリズムのパラメータとソルトを含むPHC形式の文字列で、
// 検証時にはダイジェスト自身のパラメータを用いて再計算する。
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedDigest はダイジェストの形式が不正な場合に返される。
var ErrMalformedDigest = errors.New("malformed password digest")

// Hasher はパスワードのハッシュ化と検証のインターフェース。
type Hasher interface {
	// Hash は平文パスワードからソルト付きダイジェストを生成する。
	Hash(plain string) (string, error)
	// Verify はダイジェストと平文パスワードが一致するかを返す。
	// ダイジェストが不正な場合はfalseとErrMalformedDigestを返す。
	Verify(digest, plain string) (bool, error)
}

// ダイジェストから読み込むパラメータの上限。
// 破損したダイジェストで検証が終わらない、または巨大なメモリを確保することを防ぐ。
const (
	MaxMemory      = 1 << 20 // KiB（1GiB）
	MaxIterations  = 16
	MaxParallelism = 64
	MaxSaltLength  = 64
	MaxKeyLength   = 64
)

// Params はargon2idのパラメータ。
type Params struct {
	Memory      uint32 // KiB単位
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams はデフォルトのパラメータを返す。
// node-argon2のデフォルト値（m=65536, t=3, p=4）に合わせている。
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2Hasher はargon2idによるHasherの実装。
type Argon2Hasher struct {
	params Params
}

// NewArgon2Hasher はArgon2Hasherを生成する。
func NewArgon2Hasher(params Params) *Argon2Hasher {
	return &Argon2Hasher{params: params}
}

// Hash は平文パスワードをPHC形式のダイジェストに変換する。
func (h *Argon2Hasher) Hash(plain string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(plain), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify はダイジェストに埋め込まれたパラメータで平文を再計算し、定数時間で比較する。
func (h *Argon2Hasher) Verify(digest, plain string) (bool, error) {
	p, salt, key, err := decodeDigest(digest)
	if err != nil {
		return false, err
	}

	other := argon2.IDKey([]byte(plain), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, other) == 1, nil
}

// decodeDigest はPHC形式のダイジェストを分解する。
// 形式: $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
func decodeDigest(digest string) (Params, []byte, []byte, error) {
	var p Params

	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, ErrMalformedDigest
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, ErrMalformedDigest
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, ErrMalformedDigest
	}
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return p, nil, nil, ErrMalformedDigest
	}
	if p.Memory > MaxMemory || p.Iterations > MaxIterations || p.Parallelism > MaxParallelism {
		return p, nil, nil, ErrMalformedDigest
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 || len(salt) > MaxSaltLength {
		return p, nil, nil, ErrMalformedDigest
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 || len(key) > MaxKeyLength {
		return p, nil, nil, ErrMalformedDigest
	}

	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}

// compile-time interface check
var _ Hasher = (*Argon2Hasher)(nil)
