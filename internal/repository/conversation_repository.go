package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/social-core/internal/model"
)

// ConversationRepository 会话摘要与未读计数
type ConversationRepository interface {
	WithTx(tx *gorm.DB) ConversationRepository
	Ensure(ctx context.Context, conv *model.Conversation) error
	GetForUpdate(ctx context.Context, id string) (*model.Conversation, error)
	Get(ctx context.Context, id string) (*model.Conversation, error)
	UpdateLastMessage(ctx context.Context, id, senderID, text string, at time.Time) error
	IncrementUnread(ctx context.Context, id, userID string, at time.Time) error
	ResetUnread(ctx context.Context, id, userID string, at time.Time) error
	ListByParticipant(ctx context.Context, userID string) ([]*model.Conversation, error)
}

type conversationRepository struct{ db *gorm.DB }

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) WithTx(tx *gorm.DB) ConversationRepository {
	return &conversationRepository{db: tx}
}

// Ensure 首次发消息时插入空会话，已存在则不动
func (r *conversationRepository) Ensure(ctx context.Context, conv *model.Conversation) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(conv).Error
}

// GetForUpdate 行锁读取；sqlite 驱动会忽略 FOR UPDATE，由单连接串行化
func (r *conversationRepository) GetForUpdate(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepository) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).Preload("Unread").Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepository) UpdateLastMessage(ctx context.Context, id, senderID, text string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_message_text":      text,
			"last_message_sender_id": senderID,
			"last_message_at":        at,
			"updated_at":             at,
		}).Error
}

// IncrementUnread 原子自增，不经过读-改-写
func (r *conversationRepository) IncrementUnread(ctx context.Context, id, userID string, at time.Time) error {
	row := &model.ConversationUnread{ConversationID: id, UserID: userID, Unread: 1, UpdatedAt: at}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"unread":     gorm.Expr("conversation_unreads.unread + 1"),
			"updated_at": at,
		}),
	}).Create(row).Error
}

func (r *conversationRepository) ResetUnread(ctx context.Context, id, userID string, at time.Time) error {
	row := &model.ConversationUnread{ConversationID: id, UserID: userID, Unread: 0, UpdatedAt: at}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"unread":     0,
			"updated_at": at,
		}),
	}).Create(row).Error
}

// ListByParticipant 返回用户参与的全部会话，不保证顺序
func (r *conversationRepository) ListByParticipant(ctx context.Context, userID string) ([]*model.Conversation, error) {
	var res []*model.Conversation
	err := r.db.WithContext(ctx).
		Preload("Unread").
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Find(&res).Error
	return res, err
}
