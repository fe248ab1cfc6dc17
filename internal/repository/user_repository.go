package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/d60-Lab/social-core/internal/model"
)

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]*model.User, error)
	SearchByHandlePrefix(ctx context.Context, prefix string, limit int) ([]*model.User, error)
	Create(ctx context.Context, u *model.User) error
	Update(ctx context.Context, id string, fields map[string]interface{}) error
	HandleTaken(ctx context.Context, handle, exceptID string) (bool, error)
}

type userRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &userRepository{db: db} }

func (r *userRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) GetByIDs(ctx context.Context, ids []string) ([]*model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var res []*model.User
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&res).Error
	return res, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *userRepository) SearchByHandlePrefix(ctx context.Context, prefix string, limit int) ([]*model.User, error) {
	var res []*model.User
	err := r.db.WithContext(ctx).
		Where(`handle LIKE ? ESCAPE '\'`, likeEscaper.Replace(prefix)+"%").
		Order("handle").
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *userRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(fields).Error
}

func (r *userRepository) HandleTaken(ctx context.Context, handle, exceptID string) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("handle = ? AND id <> ?", handle, exceptID).
		Count(&cnt).Error
	return cnt > 0, err
}
