// Package conversation は1:1会話とメッセージの作成・取得を提供する。
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/stagehub/internal/metrics"
	"github.com/hitoshi/stagehub/internal/model"
	"github.com/hitoshi/stagehub/internal/repository"
)

var (
	// ErrNotParticipant は会話の参加者以外からの操作を示す。
	ErrNotParticipant = errors.New("not a participant")
	// ErrSelfConversation は自分自身との会話作成を示す。
	ErrSelfConversation = errors.New("cannot start conversation with yourself")
	// ErrUserNotFound は相手ユーザーが存在しないことを示す。
	ErrUserNotFound = errors.New("user not found")
	// ErrListingNotFound は参照先リスティングが存在しないことを示す。
	ErrListingNotFound = errors.New("listing not found")
	// ErrNotFound は会話が存在しないことを示す。
	ErrNotFound = errors.New("conversation not found")
	// ErrEmptyBody は空のメッセージ本文を示す。
	ErrEmptyBody = errors.New("message body is empty")
	// ErrBodyTooLong は本文の長さ上限超過を示す。
	ErrBodyTooLong = errors.New("message body too long")
	// ErrInvalidBody は保存不可能な本文（不正なUTF-8や生の制御文字）を示す。
	ErrInvalidBody = errors.New("message body contains invalid characters")
)

// ServiceConfig は会話サービスの設定。
type ServiceConfig struct {
	MaxBodyLength int // 本文の最大長（文字数）
}

// Service は会話とメッセージに関するビジネスロジックを提供する。
// 本文はプレーンテキストとして保存し、マークアップへの変換や
// エスケープは行わない。出力時のエスケープは描画側の責務。
type Service struct {
	convoRepo   repository.ConversationRepository
	msgRepo     repository.MessageRepository
	userRepo    repository.UserRepository
	listingRepo repository.ListingRepository
	recorder    metrics.Recorder
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	convoRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	listingRepo repository.ListingRepository,
	recorder metrics.Recorder,
	config ServiceConfig,
) *Service {
	if config.MaxBodyLength <= 0 {
		config.MaxBodyLength = 4000
	}
	return &Service{
		convoRepo:   convoRepo,
		msgRepo:     msgRepo,
		userRepo:    userRepo,
		listingRepo: listingRepo,
		recorder:    recorder,
		config:      config,
	}
}

// StartOrGet は2ユーザー（と任意のリスティング参照）の会話を冪等に取得する。
// 同じ(ペア, リスティング)キーに対する同時呼び出しはストレージの一意制約で
// 収束し、作成される会話は常に1件。listingRefが空でない場合は
// リスティングの存在を確認する（内容は解釈しない）。
func (s *Service) StartOrGet(ctx context.Context, userAID, userBID, listingRef string) (*model.Conversation, error) {
	if userAID == userBID {
		return nil, ErrSelfConversation
	}

	peer, err := s.userRepo.FindByID(ctx, userBID)
	if err != nil {
		return nil, fmt.Errorf("failed to find peer user: %w", err)
	}
	if peer == nil {
		return nil, ErrUserNotFound
	}

	if listingRef != "" {
		listing, err := s.listingRepo.FindByID(ctx, listingRef)
		if err != nil {
			return nil, fmt.Errorf("failed to find listing: %w", err)
		}
		if listing == nil {
			return nil, ErrListingNotFound
		}
	}

	// 正規順序はストレージに保存された形式のIDで決める
	lo, hi := userAID, peer.ID
	if lo > hi {
		lo, hi = hi, lo
	}

	now := time.Now()
	candidateID := uuid.New().String()
	convo, err := s.convoRepo.CreateIfAbsent(ctx, &model.Conversation{
		ID:            candidateID,
		UserLoID:      lo,
		UserHiID:      hi,
		ListingRef:    listingRef,
		CreatedAt:     now,
		LastMessageAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	// 返ってきたIDが候補IDと一致する場合のみ新規作成
	if convo.ID == candidateID {
		s.recorder.RecordConversationStarted()
	}

	return convo, nil
}

// Get は会話を取得する。requesterが参加者でない場合はErrNotParticipantを返す。
func (s *Service) Get(ctx context.Context, conversationID, requesterID string) (*model.Conversation, error) {
	convo, err := s.convoRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	if convo == nil {
		return nil, ErrNotFound
	}
	if !convo.HasParticipant(requesterID) {
		return nil, ErrNotParticipant
	}
	return convo, nil
}

// Post はメッセージを投稿する。
// 送信者が参加者であることと本文の妥当性を検証してから、
// シーケンス番号の採番と挿入をストレージ側のアトミック操作に委ねる。
func (s *Service) Post(ctx context.Context, conversationID, senderID, body string) (*model.Message, error) {
	convo, err := s.Get(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}

	body, err = s.validateBody(body)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: convo.ID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      time.Now(),
	}

	if err := s.msgRepo.Append(ctx, msg, convo.UserLoID == senderID); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	s.recorder.RecordMessagePosted()
	slog.Info("message posted",
		slog.String("conversation_id", convo.ID),
		slog.Int64("seq", msg.Seq),
	)

	return msg, nil
}

// ListMessages は会話のメッセージをseq昇順で返す。
// afterSeqをカーソルとして使用し、seq > afterSeqの分を最大limit件返す。
// requesterが参加者でない場合はErrNotParticipantを返す。
func (s *Service) ListMessages(ctx context.Context, conversationID, requesterID string, afterSeq int64, limit int) ([]*model.Message, error) {
	if _, err := s.Get(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	msgs, err := s.msgRepo.ListByConversation(ctx, conversationID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// MarkRead は会話をrequester側で既読にする。
func (s *Service) MarkRead(ctx context.Context, conversationID, requesterID string) error {
	convo, err := s.Get(ctx, conversationID, requesterID)
	if err != nil {
		return err
	}
	if err := s.msgRepo.MarkRead(ctx, convo.ID, convo.UserLoID == requesterID); err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return nil
}

// Inbox は指定ユーザーの会話一覧をlast_message_at降順で返す。
// 各会話に相手のユーザー名、最終メッセージ、未読数を付与する。
func (s *Service) Inbox(ctx context.Context, userID string) ([]*model.ConversationSummary, error) {
	convos, err := s.convoRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	summaries := make([]*model.ConversationSummary, 0, len(convos))
	for _, c := range convos {
		summary := &model.ConversationSummary{
			Conversation: *c,
			LastAt:       c.LastMessageAt,
		}

		other, err := s.userRepo.FindByID(ctx, c.OtherUserID(userID))
		if err != nil {
			return nil, fmt.Errorf("failed to find peer user: %w", err)
		}
		if other != nil {
			summary.OtherUsername = other.Username
		}

		last, err := s.msgRepo.LastByConversation(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to find last message: %w", err)
		}
		if last != nil {
			summary.LastBody = last.Body
			summary.LastAt = last.CreatedAt
		}

		unread, err := s.msgRepo.CountUnread(ctx, c.ID, c.UserLoID == userID)
		if err != nil {
			return nil, fmt.Errorf("failed to count unread messages: %w", err)
		}
		summary.UnreadCount = unread

		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// validateBody は本文を検証し、前後の空白を除去した値を返す。
// 長さは文字数（rune）で判定する。一般的な空白（タブ・改行）以外の
// 制御文字を含む本文は保存不可として拒否する。
func (s *Service) validateBody(body string) (string, error) {
	if !utf8.ValidString(body) {
		return "", ErrInvalidBody
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > s.config.MaxBodyLength {
		return "", ErrBodyTooLong
	}

	for _, r := range body {
		if (r < 0x20 && r != '\t' && r != '\n' && r != '\r') || r == 0x7f {
			return "", ErrInvalidBody
		}
	}

	return body, nil
}
