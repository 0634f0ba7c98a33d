// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"net/url"
	"strings"
)

// SanitizeReturnPath はログイン後の遷移先としてコール元から渡された
// candidateを検証し、安全な内部パスのみを通す。
// 以下のいずれかに該当する場合はfallbackを返す:
//   - 空文字列
//   - URLとしてパースできない
//   - スキームまたはホスト部を持つ（絶対URL・外部ホスト）
//   - "//" で始まる（ブラウザがプロトコル相対URLとして解釈する）
//   - "/" 以外で始まる相対参照
//
// この関数はエラーを返さない。常に安全な遷移先に解決される。
func SanitizeReturnPath(candidate, fallback string) string {
	if candidate == "" {
		return fallback
	}

	// "//evil.example" や "/\evil.example" はブラウザ側で
	// ネットワークパス参照として解釈されうるため先に弾く
	if strings.HasPrefix(candidate, "//") || strings.HasPrefix(candidate, "/\\") {
		return fallback
	}

	parsed, err := url.Parse(candidate)
	if err != nil {
		return fallback
	}

	if parsed.Scheme != "" || parsed.Host != "" || parsed.User != nil {
		return fallback
	}

	if !strings.HasPrefix(parsed.Path, "/") {
		return fallback
	}

	// 制御文字入りのパスは拒否する
	for _, r := range candidate {
		if r < 0x20 || r == 0x7f {
			return fallback
		}
	}

	return candidate
}
