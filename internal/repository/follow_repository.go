package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/social-core/internal/model"
)

// FollowRepository 关注边，按 (follower_id, followee_id) 唯一
type FollowRepository interface {
	WithTx(tx *gorm.DB) FollowRepository
	Get(ctx context.Context, followerID, followeeID string) (*model.FollowEdge, error)
	CreatePending(ctx context.Context, followerID, followeeID string, at time.Time) error
	MarkAccepted(ctx context.Context, followerID, followeeID string, at time.Time) error
	Delete(ctx context.Context, followerID, followeeID string) (bool, error)
	ListFollowingIDs(ctx context.Context, followerID string, status model.FollowStatus) ([]string, error)
	CountByStatus(ctx context.Context, followerID string, status model.FollowStatus) (int64, error)
	ListFollowings(ctx context.Context, followerID string, status model.FollowStatus, offset, limit int) ([]*model.FollowEdge, error)
	Scan(ctx context.Context, afterID string, limit int) ([]*model.FollowEdge, error)
}

type followRepository struct {
	db *gorm.DB
}

func NewFollowRepository(db *gorm.DB) FollowRepository { return &followRepository{db: db} }

func (r *followRepository) WithTx(tx *gorm.DB) FollowRepository { return &followRepository{db: tx} }

func (r *followRepository) Get(ctx context.Context, followerID, followeeID string) (*model.FollowEdge, error) {
	var edge model.FollowEdge
	err := r.db.WithContext(ctx).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		First(&edge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &edge, nil
}

func (r *followRepository) CreatePending(ctx context.Context, followerID, followeeID string, at time.Time) error {
	f := &model.FollowEdge{
		ID:          uuid.New().String(),
		FollowerID:  followerID,
		FolloweeID:  followeeID,
		Status:      model.FollowStatusPending,
		RequestedAt: at,
	}
	// 幂等：重复关注不报错，也不会把 accepted 降级为 pending
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(f).Error
}

// MarkAccepted 合并写：边不存在时补建，存在时只改 status/followed_at
func (r *followRepository) MarkAccepted(ctx context.Context, followerID, followeeID string, at time.Time) error {
	f := &model.FollowEdge{
		ID:          uuid.New().String(),
		FollowerID:  followerID,
		FolloweeID:  followeeID,
		Status:      model.FollowStatusAccepted,
		RequestedAt: at,
		FollowedAt:  &at,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "follower_id"}, {Name: "followee_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":      model.FollowStatusAccepted,
			"followed_at": at,
			"updated_at":  at,
		}),
	}).Create(f).Error
}

func (r *followRepository) Delete(ctx context.Context, followerID, followeeID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Delete(&model.FollowEdge{})
	return res.RowsAffected > 0, res.Error
}

func (r *followRepository) ListFollowingIDs(ctx context.Context, followerID string, status model.FollowStatus) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.FollowEdge{}).
		Where("follower_id = ? AND status = ?", followerID, status).
		Pluck("followee_id", &ids).Error
	return ids, err
}

func (r *followRepository) CountByStatus(ctx context.Context, followerID string, status model.FollowStatus) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).
		Model(&model.FollowEdge{}).
		Where("follower_id = ? AND status = ?", followerID, status).
		Count(&cnt).Error
	return cnt, err
}

func (r *followRepository) ListFollowings(ctx context.Context, followerID string, status model.FollowStatus, offset, limit int) ([]*model.FollowEdge, error) {
	var res []*model.FollowEdge
	err := r.db.WithContext(ctx).
		Where("follower_id = ? AND status = ?", followerID, status).
		Order("followed_at DESC, id").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

// Scan 按主键游标遍历全表，供对账使用
func (r *followRepository) Scan(ctx context.Context, afterID string, limit int) ([]*model.FollowEdge, error) {
	var res []*model.FollowEdge
	err := r.db.WithContext(ctx).Where("id > ?", afterID).Order("id").Limit(limit).Find(&res).Error
	return res, err
}
