package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/stagehub/internal/model"
)

// PostgresConversationRepo はPostgreSQLを使用した会話リポジトリ。
type PostgresConversationRepo struct {
	db *sql.DB
}

// NewPostgresConversationRepo はPostgresConversationRepoを生成する。
func NewPostgresConversationRepo(db *sql.DB) *PostgresConversationRepo {
	return &PostgresConversationRepo{db: db}
}

const conversationColumns = `id, user_lo_id, user_hi_id, listing_ref, last_seq, created_at, last_message_at`

func scanConversation(row interface{ Scan(...any) error }) (*model.Conversation, error) {
	c := &model.Conversation{}
	err := row.Scan(&c.ID, &c.UserLoID, &c.UserHiID, &c.ListingRef,
		&c.LastSeq, &c.CreatedAt, &c.LastMessageAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FindByID は指定IDの会話を取得する。見つからない場合はnilを返す。
// UUID形式でないIDはスキーマ上存在し得ないため、問い合わせずに未検出とする。
func (r *PostgresConversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	if !isValidUUID(id) {
		return nil, nil
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`,
		id,
	)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	return c, nil
}

// CreateIfAbsent は(user_lo, user_hi, listing_ref)キーで会話を冪等に作成する。
// INSERT ... ON CONFLICT DO NOTHINGで同時作成の競合を一意制約側で閉じ、
// 挿入有無にかかわらず確定した1件を読み直して返す。
func (r *PostgresConversationRepo) CreateIfAbsent(ctx context.Context, convo *model.Conversation) (*model.Conversation, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_lo_id, user_hi_id, listing_ref, last_seq, created_at, last_message_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $5)
		 ON CONFLICT (user_lo_id, user_hi_id, listing_ref) DO NOTHING`,
		convo.ID, convo.UserLoID, convo.UserHiID, convo.ListingRef, convo.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations
		 WHERE user_lo_id = $1 AND user_hi_id = $2 AND listing_ref = $3`,
		convo.UserLoID, convo.UserHiID, convo.ListingRef,
	)
	c, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("failed to reread conversation: %w", err)
	}
	return c, nil
}

// ListByUser は指定ユーザーが参加する会話をlast_message_at降順で返す。
func (r *PostgresConversationRepo) ListByUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations
		 WHERE user_lo_id = $1 OR user_hi_id = $1
		 ORDER BY last_message_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convos []*model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convos = append(convos, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	return convos, nil
}

// compile-time interface check
var _ ConversationRepository = (*PostgresConversationRepo)(nil)
