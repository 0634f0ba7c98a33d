// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// Usernameは小文字に正規化して一意性を判定する。
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
// アイドルタイムアウトと絶対有効期限の両方を持ち、先に到来した方で失効する。
type Session struct {
	ID         string
	UserID     string
	CSRFToken  string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time  // 絶対有効期限。touchしても延長されない。
	RevokedAt  *time.Time // 失効済みの場合のみ非nil。
}
