package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/social-core/internal/model"
	"github.com/d60-Lab/social-core/internal/notify"
	"github.com/d60-Lab/social-core/internal/repository"
	"github.com/d60-Lab/social-core/pkg/logger"
)

// ChatService 一对一聊天：消息日志 + 会话摘要（最后一条消息、每人未读数）
type ChatService struct {
	db     *gorm.DB
	convs  repository.ConversationRepository
	msgs   repository.MessageRepository
	bus    notify.Bus
	maxLen int
	now    func() time.Time
}

func NewChatService(db *gorm.DB, bus notify.Bus, maxLen int) *ChatService {
	if maxLen <= 0 {
		maxLen = 4000
	}
	return &ChatService{
		db:     db,
		convs:  repository.NewConversationRepository(db),
		msgs:   repository.NewMessageRepository(db),
		bus:    bus,
		maxLen: maxLen,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *ChatService) validate(senderID, receiverID, text string) error {
	if senderID == "" || receiverID == "" {
		return ErrUserRequired
	}
	if senderID == receiverID {
		return ErrMessageSelf
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > s.maxLen {
		return ErrMessageTooLong
	}
	return nil
}

// SendMessage 首次发送时创建会话；消息写入、摘要更新、未读计数在同一事务内完成，
// 会话行在事务期间加锁，并发发送不会丢失未读自增
func (s *ChatService) SendMessage(ctx context.Context, senderID, receiverID, text string) (msg *model.Message, err error) {
	ctx, span := tracer.Start(ctx, "ChatService.SendMessage", trace.WithAttributes(
		attribute.String("sender_id", senderID),
		attribute.String("receiver_id", receiverID),
	))
	defer func() { endSpan(span, err) }()

	if err := s.validate(senderID, receiverID, text); err != nil {
		return nil, err
	}
	conv := model.NewConversation(senderID, receiverID)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		convs := s.convs.WithTx(tx)
		msgs := s.msgs.WithTx(tx)

		if err := convs.Ensure(ctx, conv); err != nil {
			return err
		}
		locked, err := convs.GetForUpdate(ctx, conv.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return ErrConversationNotFound
		}

		// 会话内时间戳单调不减
		now := s.now()
		if locked.LastMessageAt != nil && now.Before(*locked.LastMessageAt) {
			now = *locked.LastMessageAt
		}

		msg = &model.Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			SenderID:       senderID,
			Text:           text,
			CreatedAt:      now,
		}
		if err := msgs.Create(ctx, msg); err != nil {
			return err
		}
		if err := convs.UpdateLastMessage(ctx, conv.ID, senderID, text, now); err != nil {
			return err
		}
		if err := convs.IncrementUnread(ctx, conv.ID, receiverID, now); err != nil {
			return err
		}
		return convs.ResetUnread(ctx, conv.ID, senderID, now)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notify.Change{ConversationID: conv.ID, Participants: conv.Participants(), MessageSeq: msg.Seq})
	return msg, nil
}

// Append 向会话追加消息；会话尚不存在时由 key 推出对方并在同一事务内创建
func (s *ChatService) Append(ctx context.Context, conversationID, senderID, text string) (*model.Message, error) {
	if senderID == "" {
		return nil, ErrUserRequired
	}
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		peer, ok := peerFromKey(conversationID, senderID)
		if !ok {
			return nil, ErrNotParticipant
		}
		return s.SendMessage(ctx, senderID, peer, text)
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}
	return s.SendMessage(ctx, senderID, conv.Peer(senderID), text)
}

// peerFromKey 从会话 key 中取出 userID 之外的另一方，key 不含 userID 时返回 false
func peerFromKey(conversationID, userID string) (string, bool) {
	var peer string
	switch {
	case strings.HasPrefix(conversationID, userID+"_"):
		peer = strings.TrimPrefix(conversationID, userID+"_")
	case strings.HasSuffix(conversationID, "_"+userID):
		peer = strings.TrimSuffix(conversationID, "_"+userID)
	default:
		return "", false
	}
	if peer == "" || model.ConversationKey(userID, peer) != conversationID {
		return "", false
	}
	return peer, true
}

// MarkRead 把 userID 在会话中的未读数置 0；会话不存在时什么也不做
func (s *ChatService) MarkRead(ctx context.Context, conversationID, userID string) error {
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return nil
	}
	if !conv.HasParticipant(userID) {
		return ErrNotParticipant
	}
	if err := s.convs.ResetUnread(ctx, conversationID, userID, s.now()); err != nil {
		return err
	}
	s.publish(ctx, notify.Change{ConversationID: conv.ID, Participants: conv.Participants()})
	return nil
}

// History 按时间升序返回会话全部消息；会话不存在时返回空
func (s *ChatService) History(ctx context.Context, viewerID, conversationID string) ([]*model.Message, error) {
	return s.MessagesAfter(ctx, viewerID, conversationID, 0)
}

// MessagesAfter 返回插入序大于 afterSeq 的消息
func (s *ChatService) MessagesAfter(ctx context.Context, viewerID, conversationID string, afterSeq int64) ([]*model.Message, error) {
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return []*model.Message{}, nil
	}
	if !conv.HasParticipant(viewerID) {
		return nil, ErrNotParticipant
	}
	if afterSeq <= 0 {
		return s.msgs.ListOrdered(ctx, conversationID)
	}
	return s.msgs.ListAfter(ctx, conversationID, afterSeq)
}

func (s *ChatService) GetConversation(ctx context.Context, viewerID, conversationID string) (*model.ConversationSummary, error) {
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, nil
	}
	if !conv.HasParticipant(viewerID) {
		return nil, ErrNotParticipant
	}
	summary := conv.Summary()
	return &summary, nil
}

// ListConversations 返回用户参与的全部会话，顺序由存储决定，调用方自行排序
func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	convs, err := s.convs.ListByParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := make([]model.ConversationSummary, len(convs))
	for i, c := range convs {
		res[i] = c.Summary()
	}
	return res, nil
}

func (s *ChatService) publish(ctx context.Context, ch notify.Change) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, ch); err != nil {
		logger.Warn("publish conversation change failed", zap.String("conversation", ch.ConversationID), zap.Error(err))
	}
}
