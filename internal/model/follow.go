package model

import (
	"time"
)

// FollowStatus 关注边状态
type FollowStatus string

const (
	FollowStatusNone     FollowStatus = "none"
	FollowStatusPending  FollowStatus = "pending"
	FollowStatusAccepted FollowStatus = "accepted"
)

// FollowEdge 关注边（A 关注 B），归属于发起方；审批通过前为 pending
type FollowEdge struct {
	ID         string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	FollowerID string       `json:"follower_id" gorm:"type:varchar(36);index:idx_follow_follower_status,priority:1;index:idx_follow_pair,unique;not null"`
	FolloweeID string       `json:"followee_id" gorm:"type:varchar(36);not null;index:idx_follow_pair,unique"`
	Status     FollowStatus `json:"status" gorm:"type:varchar(16);index:idx_follow_follower_status,priority:2;not null"`
	// 复合唯一键 idx_follow_pair = (follower_id, followee_id)，避免重复关注
	RequestedAt time.Time  `json:"requested_at"`
	FollowedAt  *time.Time `json:"followed_at,omitempty"`
	CreatedAt   time.Time  `json:"-"`
	UpdatedAt   time.Time  `json:"-"`
}

func (FollowEdge) TableName() string { return "follows" }

// FollowerEdge 粉丝边（B 的粉丝是 A），归属于被关注方；仅在 accepted 后存在
type FollowerEdge struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID     string    `json:"user_id" gorm:"type:varchar(36);index:idx_follower_user;index:idx_follower_pair,unique;not null"`
	FollowerID string    `json:"follower_id" gorm:"type:varchar(36);not null;index:idx_follower_pair,unique"`
	FollowedAt time.Time `json:"followed_at"`
	CreatedAt  time.Time `json:"-"`
}

func (FollowerEdge) TableName() string { return "followers" }

// FollowRequest 待审批的关注请求，归属于被关注方；仅在 pending 时存在
type FollowRequest struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TargetID    string    `json:"target_id" gorm:"type:varchar(36);index:idx_request_target;index:idx_request_pair,unique;not null"`
	RequesterID string    `json:"requester_id" gorm:"type:varchar(36);not null;index:idx_request_pair,unique"`
	RequestedAt time.Time `json:"requested_at"`
}

func (FollowRequest) TableName() string { return "follow_requests" }

// FollowPair 有序用户对：RequesterID 关注 TargetID
type FollowPair struct {
	RequesterID string `json:"requester_id"`
	TargetID    string `json:"target_id"`
}

func (p FollowPair) String() string { return p.RequesterID + "->" + p.TargetID }
