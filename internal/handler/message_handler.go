package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/stagehub/internal/middleware"
	"github.com/hitoshi/stagehub/internal/model"
)

// ConversationServiceInterface は会話ハンドラーが必要とするサービスインターフェース。
type ConversationServiceInterface interface {
	StartOrGet(ctx context.Context, userAID, userBID, listingRef string) (*model.Conversation, error)
	Get(ctx context.Context, conversationID, requesterID string) (*model.Conversation, error)
	Post(ctx context.Context, conversationID, senderID, body string) (*model.Message, error)
	ListMessages(ctx context.Context, conversationID, requesterID string, afterSeq int64, limit int) ([]*model.Message, error)
	MarkRead(ctx context.Context, conversationID, requesterID string) error
	Inbox(ctx context.Context, userID string) ([]*model.ConversationSummary, error)
}

// MessageHandler は会話・メッセージのHTTPハンドラー。
// 全エンドポイントでセッションミドルウェアの後に配置すること。
type MessageHandler struct {
	service ConversationServiceInterface
}

// NewMessageHandler はMessageHandlerを生成する。
func NewMessageHandler(service ConversationServiceInterface) *MessageHandler {
	return &MessageHandler{service: service}
}

// startConversationRequest は会話開始リクエストのボディ。
type startConversationRequest struct {
	PeerID     string `json:"peer_id"`
	ListingRef string `json:"listing_ref"`
}

// postMessageRequest はメッセージ投稿リクエストのボディ。
type postMessageRequest struct {
	Body string `json:"body"`
}

// conversationResponse は会話のAPIレスポンス。
type conversationResponse struct {
	ID            string `json:"id"`
	OtherUserID   string `json:"other_user_id"`
	ListingRef    string `json:"listing_ref,omitempty"`
	LastSeq       int64  `json:"last_seq"`
	CreatedAt     string `json:"created_at"`
	LastMessageAt string `json:"last_message_at,omitempty"`
}

// messageResponse はメッセージのAPIレスポンス。
type messageResponse struct {
	ID        string `json:"id"`
	SenderID  string `json:"sender_id"`
	Body      string `json:"body"`
	Seq       int64  `json:"seq"`
	CreatedAt string `json:"created_at"`
}

// inboxEntryResponse は受信箱の1エントリのAPIレスポンス。
type inboxEntryResponse struct {
	ConversationID string `json:"conversation_id"`
	OtherUserID    string `json:"other_user_id"`
	OtherUsername  string `json:"other_username"`
	ListingRef     string `json:"listing_ref,omitempty"`
	LastBody       string `json:"last_body"`
	LastAt         string `json:"last_at,omitempty"`
	UnreadCount    int    `json:"unread_count"`
}

// Inbox は自分が参加する会話の一覧を未読数付きで返す。
// GET /api/messages
func (h *MessageHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	summaries, err := h.service.Inbox(r.Context(), user.ID)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	entries := make([]inboxEntryResponse, 0, len(summaries))
	for _, s := range summaries {
		entries = append(entries, toInboxEntryResponse(user.ID, s))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"conversations": entries,
	})
}

// StartConversation は相手ユーザーとの会話を開始、または既存の会話を返す。
// POST /api/messages
// 同じ（相手, 出品）の組に対して何度呼んでも同じ会話を返す。
func (h *MessageHandler) StartConversation(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	convo, err := h.service.StartOrGet(r.Context(), user.ID, req.PeerID, req.ListingRef)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toConversationResponse(user.ID, convo))
}

// GetConversation は会話の詳細とメッセージ一覧を返す。
// GET /api/messages/{id}?after_seq=0&limit=50
// 参加者以外には会話の存在自体を明かさない。
func (h *MessageHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	conversationID := chi.URLParam(r, "id")

	convo, err := h.service.Get(r.Context(), conversationID, user.ID)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	afterSeq, _ := strconv.ParseInt(r.URL.Query().Get("after_seq"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	messages, err := h.service.ListMessages(r.Context(), conversationID, user.ID, afterSeq, limit)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	msgs := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, toMessageResponse(m))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"conversation": toConversationResponse(user.ID, convo),
		"messages":     msgs,
	})
}

// PostMessage は会話にメッセージを投稿する。
// POST /api/messages/{id}
func (h *MessageHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	msg, err := h.service.Post(r.Context(), chi.URLParam(r, "id"), user.ID, req.Body)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toMessageResponse(msg))
}

// MarkRead は会話内の相手からのメッセージを既読にする。
// POST /api/messages/{id}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	if err := h.service.MarkRead(r.Context(), chi.URLParam(r, "id"), user.ID); err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- ヘルパー関数 ---

func toConversationResponse(viewerID string, convo *model.Conversation) conversationResponse {
	resp := conversationResponse{
		ID:          convo.ID,
		OtherUserID: convo.OtherUserID(viewerID),
		ListingRef:  convo.ListingRef,
		LastSeq:     convo.LastSeq,
		CreatedAt:   convo.CreatedAt.Format(time.RFC3339),
	}
	if !convo.LastMessageAt.IsZero() {
		resp.LastMessageAt = convo.LastMessageAt.Format(time.RFC3339)
	}
	return resp
}

func toMessageResponse(msg *model.Message) messageResponse {
	return messageResponse{
		ID:        msg.ID,
		SenderID:  msg.SenderID,
		Body:      msg.Body,
		Seq:       msg.Seq,
		CreatedAt: msg.CreatedAt.Format(time.RFC3339),
	}
}

func toInboxEntryResponse(viewerID string, s *model.ConversationSummary) inboxEntryResponse {
	entry := inboxEntryResponse{
		ConversationID: s.Conversation.ID,
		OtherUserID:    s.Conversation.OtherUserID(viewerID),
		OtherUsername:  s.OtherUsername,
		ListingRef:     s.Conversation.ListingRef,
		LastBody:       s.LastBody,
		UnreadCount:    s.UnreadCount,
	}
	if !s.LastAt.IsZero() {
		entry.LastAt = s.LastAt.Format(time.RFC3339)
	}
	return entry
}

// writeInvalidRequestBody はリクエストボディの解析失敗レスポンスを書き込む。
func writeInvalidRequestBody(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}
