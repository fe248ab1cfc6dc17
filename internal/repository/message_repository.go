package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/social-core/internal/model"
)

// MessageRepository 只追加的消息日志
type MessageRepository interface {
	WithTx(tx *gorm.DB) MessageRepository
	Create(ctx context.Context, msg *model.Message) error
	ListOrdered(ctx context.Context, conversationID string) ([]*model.Message, error)
	ListAfter(ctx context.Context, conversationID string, afterSeq int64) ([]*model.Message, error)
	Count(ctx context.Context, conversationID string) (int64, error)
}

type messageRepository struct{ db *gorm.DB }

func NewMessageRepository(db *gorm.DB) MessageRepository { return &messageRepository{db: db} }

func (r *messageRepository) WithTx(tx *gorm.DB) MessageRepository { return &messageRepository{db: tx} }

func (r *messageRepository) Create(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// ListOrdered 按 (created_at, seq) 升序返回完整历史
func (r *messageRepository) ListOrdered(ctx context.Context, conversationID string) ([]*model.Message, error) {
	var res []*model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, seq ASC").
		Find(&res).Error
	return res, err
}

func (r *messageRepository) ListAfter(ctx context.Context, conversationID string, afterSeq int64) ([]*model.Message, error) {
	var res []*model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND seq > ?", conversationID, afterSeq).
		Order("created_at ASC, seq ASC").
		Find(&res).Error
	return res, err
}

func (r *messageRepository) Count(ctx context.Context, conversationID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Message{}).Where("conversation_id = ?", conversationID).Count(&cnt).Error
	return cnt, err
}
