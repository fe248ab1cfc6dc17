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

// FollowRequestRepository 待审批关注请求，归属于被关注方
type FollowRequestRepository interface {
	WithTx(tx *gorm.DB) FollowRequestRepository
	Create(ctx context.Context, targetID, requesterID string, at time.Time) error
	Delete(ctx context.Context, targetID, requesterID string) (bool, error)
	Get(ctx context.Context, targetID, requesterID string) (*model.FollowRequest, error)
	ListRequesterIDs(ctx context.Context, targetID string) ([]string, error)
	Count(ctx context.Context, targetID string) (int64, error)
	Scan(ctx context.Context, afterID string, limit int) ([]*model.FollowRequest, error)
}

type followRequestRepository struct{ db *gorm.DB }

func NewFollowRequestRepository(db *gorm.DB) FollowRequestRepository {
	return &followRequestRepository{db: db}
}

func (r *followRequestRepository) WithTx(tx *gorm.DB) FollowRequestRepository {
	return &followRequestRepository{db: tx}
}

func (r *followRequestRepository) Create(ctx context.Context, targetID, requesterID string, at time.Time) error {
	req := &model.FollowRequest{ID: uuid.New().String(), TargetID: targetID, RequesterID: requesterID, RequestedAt: at}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(req).Error
}

func (r *followRequestRepository) Delete(ctx context.Context, targetID, requesterID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("target_id = ? AND requester_id = ?", targetID, requesterID).
		Delete(&model.FollowRequest{})
	return res.RowsAffected > 0, res.Error
}

func (r *followRequestRepository) Get(ctx context.Context, targetID, requesterID string) (*model.FollowRequest, error) {
	var req model.FollowRequest
	err := r.db.WithContext(ctx).
		Where("target_id = ? AND requester_id = ?", targetID, requesterID).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListRequesterIDs 最新请求在前
func (r *followRequestRepository) ListRequesterIDs(ctx context.Context, targetID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.FollowRequest{}).
		Where("target_id = ?", targetID).
		Order("requested_at DESC").
		Pluck("requester_id", &ids).Error
	return ids, err
}

func (r *followRequestRepository) Count(ctx context.Context, targetID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.FollowRequest{}).Where("target_id = ?", targetID).Count(&cnt).Error
	return cnt, err
}

func (r *followRequestRepository) Scan(ctx context.Context, afterID string, limit int) ([]*model.FollowRequest, error) {
	var res []*model.FollowRequest
	err := r.db.WithContext(ctx).Where("id > ?", afterID).Order("id").Limit(limit).Find(&res).Error
	return res, err
}
