package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/stagehub/internal/model"
)

// PostgresMessageRepo はPostgreSQLを使用したメッセージリポジトリ。
type PostgresMessageRepo struct {
	db *sql.DB
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, body, seq, created_at, read_by_user_lo, read_by_user_hi`

func scanMessage(row interface{ Scan(...any) error }) (*model.Message, error) {
	m := &model.Message{}
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body,
		&m.Seq, &m.CreatedAt, &m.ReadByUserLo, &m.ReadByUserHi)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Append はメッセージを会話に追加する。
// 会話行のUPDATEで行ロックを取ってlast_seqを加算し、採番した値で
// メッセージを挿入する。全体を1トランザクションで行うため、
// 同時投稿でも番号の重複・欠番は発生せず、失敗時は採番ごと巻き戻る。
func (r *PostgresMessageRepo) Append(ctx context.Context, msg *model.Message, senderIsLo bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`UPDATE conversations
		 SET last_seq = last_seq + 1, last_message_at = $2
		 WHERE id = $1
		 RETURNING last_seq`,
		msg.ConversationID, msg.CreatedAt,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return fmt.Errorf("conversation not found: %s", msg.ConversationID)
	}
	if err != nil {
		return fmt.Errorf("failed to assign sequence number: %w", err)
	}

	// 送信者側は既読、相手側は未読で作成する
	readLo, readHi := senderIsLo, !senderIsLo

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, body, seq, created_at, read_by_user_lo, read_by_user_hi)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Body, seq, msg.CreatedAt, readLo, readHi,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	msg.Seq = seq
	msg.ReadByUserLo = readLo
	msg.ReadByUserHi = readHi
	return nil
}

// ListByConversation はseq > afterSeqのメッセージをseq昇順で最大limit件返す。
func (r *PostgresMessageRepo) ListByConversation(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*model.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE conversation_id = $1 AND seq > $2
		 ORDER BY seq ASC
		 LIMIT $3`,
		conversationID, afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return msgs, nil
}

// LastByConversation は会話の最新メッセージを返す。無い場合はnilを返す。
func (r *PostgresMessageRepo) LastByConversation(ctx context.Context, conversationID string) (*model.Message, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY seq DESC
		 LIMIT 1`,
		conversationID,
	)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find last message: %w", err)
	}
	return m, nil
}

// CountUnread は指定参加者側の未読メッセージ数を返す。
// 自分が送信したメッセージは未読数に含めない。
func (r *PostgresMessageRepo) CountUnread(ctx context.Context, conversationID string, forLo bool) (int, error) {
	col := "read_by_user_hi"
	if forLo {
		col = "read_by_user_lo"
	}

	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM messages
		 WHERE conversation_id = $1 AND `+col+` = FALSE`,
		conversationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// MarkRead は指定参加者側の既読フラグを会話内の全メッセージに設定する。
func (r *PostgresMessageRepo) MarkRead(ctx context.Context, conversationID string, forLo bool) error {
	col := "read_by_user_hi"
	if forLo {
		col = "read_by_user_lo"
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE messages SET `+col+` = TRUE
		 WHERE conversation_id = $1 AND `+col+` = FALSE`,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark messages read: %w", err)
	}
	return nil
}

// compile-time interface check
var _ MessageRepository = (*PostgresMessageRepo)(nil)
