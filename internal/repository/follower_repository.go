package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/social-core/internal/model"
)

// FollowerRepository 粉丝边（关注边通过审批后的冗余）
type FollowerRepository interface {
	WithTx(tx *gorm.DB) FollowerRepository
	Create(ctx context.Context, userID, followerID string, at time.Time) error
	Delete(ctx context.Context, userID, followerID string) (bool, error)
	Exists(ctx context.Context, userID, followerID string) (bool, error)
	ListFollowerIDs(ctx context.Context, userID string) ([]string, error)
	Count(ctx context.Context, userID string) (int64, error)
	ListFollowers(ctx context.Context, userID string, offset, limit int) ([]*model.FollowerEdge, error)
	Scan(ctx context.Context, afterID string, limit int) ([]*model.FollowerEdge, error)
}

type followerRepository struct{ db *gorm.DB }

func NewFollowerRepository(db *gorm.DB) FollowerRepository { return &followerRepository{db: db} }

func (r *followerRepository) WithTx(tx *gorm.DB) FollowerRepository {
	return &followerRepository{db: tx}
}

func (r *followerRepository) Create(ctx context.Context, userID, followerID string, at time.Time) error {
	f := &model.FollowerEdge{ID: uuid.New().String(), UserID: userID, FollowerID: followerID, FollowedAt: at}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(f).Error
}

func (r *followerRepository) Delete(ctx context.Context, userID, followerID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND follower_id = ?", userID, followerID).
		Delete(&model.FollowerEdge{})
	return res.RowsAffected > 0, res.Error
}

func (r *followerRepository) Exists(ctx context.Context, userID, followerID string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.FollowerEdge{}).
		Where("user_id = ? AND follower_id = ?", userID, followerID).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *followerRepository) ListFollowerIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.FollowerEdge{}).
		Where("user_id = ?", userID).
		Pluck("follower_id", &ids).Error
	return ids, err
}

func (r *followerRepository) Count(ctx context.Context, userID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.FollowerEdge{}).Where("user_id = ?", userID).Count(&cnt).Error
	return cnt, err
}

func (r *followerRepository) ListFollowers(ctx context.Context, userID string, offset, limit int) ([]*model.FollowerEdge, error) {
	var res []*model.FollowerEdge
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("followed_at DESC, id").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *followerRepository) Scan(ctx context.Context, afterID string, limit int) ([]*model.FollowerEdge, error) {
	var res []*model.FollowerEdge
	err := r.db.WithContext(ctx).Where("id > ?", afterID).Order("id").Limit(limit).Find(&res).Error
	return res, err
}
