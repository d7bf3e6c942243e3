// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザーが入力するプロフィール文字列（ニックネーム、自己紹介）から
// HTMLタグを除去し、プレーンテキストとして保存できる形に整える。
// bluemondayのStrictPolicyを使用し、すべてのタグと属性を除去する。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプロフィール文字列のサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize はHTMLタグを除去したプレーンテキストを返す。
	// script、styleなどの要素は内容ごと除去される。
	// 前後の空白は取り除く。同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLタグを除去したプレーンテキストを返す。
// bluemondayはテキスト中の記号を実体参照にエスケープするため、
// 保存前にプレーンテキストへ戻す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}

// IsSafeAvatarURL はアバターとして保存してよいURLかどうかを返す。
// 空文字列（未設定）とhttp/httpsの絶対URL、およびスラッシュで始まる
// サーバー内のパス（アップロード済み画像）のみを許可する。
func IsSafeAvatarURL(raw string) bool {
	if raw == "" {
		return true
	}
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// compile-time interface check
var _ TextSanitizer = (*textSanitizer)(nil)
