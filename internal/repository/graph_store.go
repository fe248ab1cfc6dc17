package repository

import (
	"context"

	"gorm.io/gorm"
)

// GraphStore 关系链三张表的组合，Atomically 在一个事务内执行多表写入
type GraphStore struct {
	db        *gorm.DB
	Follows   FollowRepository
	Followers FollowerRepository
	Requests  FollowRequestRepository
}

func NewGraphStore(db *gorm.DB) *GraphStore {
	return &GraphStore{
		db:        db,
		Follows:   NewFollowRepository(db),
		Followers: NewFollowerRepository(db),
		Requests:  NewFollowRequestRepository(db),
	}
}

func (s *GraphStore) Atomically(ctx context.Context, fn func(tx *GraphStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GraphStore{
			db:        tx,
			Follows:   s.Follows.WithTx(tx),
			Followers: s.Followers.WithTx(tx),
			Requests:  s.Requests.WithTx(tx),
		})
	})
}
