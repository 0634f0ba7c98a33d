package model

import "time"

// Conversation は2ユーザー間の1:1スレッドを表す。
// 参加者ペアは正規順序（UserLoID < UserHiID）で保持し、
// (UserLoID, UserHiID, ListingRef) の組み合わせごとに一意。
// ListingRefはリスティングを参照しない会話では空文字列。
type Conversation struct {
	ID            string
	UserLoID      string
	UserHiID      string
	ListingRef    string
	LastSeq       int64
	CreatedAt     time.Time
	LastMessageAt time.Time
}

// OtherUserID は指定ユーザーから見た相手のユーザーIDを返す。
func (c *Conversation) OtherUserID(meID string) string {
	if c.UserLoID == meID {
		return c.UserHiID
	}
	return c.UserLoID
}

// HasParticipant は指定ユーザーが会話の参加者かどうかを返す。
func (c *Conversation) HasParticipant(userID string) bool {
	return c.UserLoID == userID || c.UserHiID == userID
}

// Message は会話内の1メッセージを表す。作成後は不変。
// Seqは会話内で単調増加し、欠番を持たない。
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	Seq            int64
	CreatedAt      time.Time

	// 既読フラグ（参加者ごと）。UserLo/UserHiはConversationの正規順序に対応する。
	ReadByUserLo bool
	ReadByUserHi bool
}

// ConversationSummary は受信箱表示用に会話と付随情報を結合した構造体。
type ConversationSummary struct {
	Conversation
	OtherUsername string
	LastBody      string
	LastAt        time.Time
	UnreadCount   int
}

// Listing はリスティングコラボレータから参照する最小限の情報。
// 本コアはリスティングの内容を解釈せず、IDを不透明なキーとして扱う。
type Listing struct {
	ID    string
	Title string
}
