// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/stagehub/internal/model"
)

// ErrDuplicateKey は一意制約違反を示す。
// 各実装はストレージ固有のエラーをこのエラーにラップして返す。
var ErrDuplicateKey = errors.New("duplicate key")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名（小文字正規化で照合）でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成する。ユーザー名が重複している場合は
	// ErrDuplicateKeyをラップしたエラーを返す。
	Create(ctx context.Context, user *model.User) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	// 有効期限の判定は呼び出し側（セッションマネージャ）が行う。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// UpdateLastSeen はセッションの最終アクセス時刻を更新する。
	UpdateLastSeen(ctx context.Context, id string, t time.Time) error

	// UpdateCSRFToken はセッションに紐づくCSRFトークンを差し替える。
	UpdateCSRFToken(ctx context.Context, id, token string) error

	// Revoke はセッションを失効させる。失効済みの行は変更しない。
	Revoke(ctx context.Context, id string, t time.Time) error

	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error

	// DeleteExpired は期限切れおよび失効済みのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ConversationRepository は会話データの永続化インターフェース。
type ConversationRepository interface {
	// FindByID は指定IDの会話を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Conversation, error)

	// CreateIfAbsent は(user_lo, user_hi, listing_ref)キーで会話を冪等に作成する。
	// 既存の場合も同時作成の競合に敗れた場合も、確定した1件を返す。
	// 重複判定はストレージの一意制約で行い、check-then-insertの競合を閉じる。
	CreateIfAbsent(ctx context.Context, convo *model.Conversation) (*model.Conversation, error)

	// ListByUser は指定ユーザーが参加する会話をlast_message_at降順で返す。
	ListByUser(ctx context.Context, userID string) ([]*model.Conversation, error)
}

// MessageRepository はメッセージデータの永続化インターフェース。
type MessageRepository interface {
	// Append はメッセージを会話に追加する。
	// シーケンス番号の採番とメッセージ挿入、会話のlast_message_at更新を
	// 単一トランザクションで行い、msg.Seqに採番結果を格納する。
	// 採番は会話行への行ロックで直列化され、欠番も重複も発生しない。
	Append(ctx context.Context, msg *model.Message, senderIsLo bool) error

	// ListByConversation はseq > afterSeqのメッセージをseq昇順で最大limit件返す。
	ListByConversation(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*model.Message, error)

	// LastByConversation は会話の最新メッセージを返す。無い場合はnilを返す。
	LastByConversation(ctx context.Context, conversationID string) (*model.Message, error)

	// CountUnread は指定参加者側の未読メッセージ数を返す。
	// forLoがtrueの場合はuser_lo側の未読を数える。自分が送信した分は含めない。
	CountUnread(ctx context.Context, conversationID string, forLo bool) (int, error)

	// MarkRead は指定参加者側の既読フラグを会話内の全メッセージに設定する。
	MarkRead(ctx context.Context, conversationID string, forLo bool) error
}

// ListingRepository はリスティングコラボレータへの読み取り専用インターフェース。
// 本コアはリスティングの内容を解釈せず、参照の存在確認にのみ使用する。
type ListingRepository interface {
	// FindByID は指定IDのリスティングを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Listing, error)
}
