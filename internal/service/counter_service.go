package service

import (
	"context"

	"github.com/d60-Lab/social-core/internal/model"
	"github.com/d60-Lab/social-core/internal/repository"
)

// SocialCounts 资料页展示的计数
type SocialCounts struct {
	Followers int64 `json:"followers"`
	Following int64 `json:"following"`
	Pending   int64 `json:"pending"`
}

// CounterService 计数按需查询，不做持久化
type CounterService struct {
	store *repository.GraphStore
}

func NewCounterService(store *repository.GraphStore) *CounterService {
	return &CounterService{store: store}
}

func (s *CounterService) FollowerCount(ctx context.Context, userID string) (int64, error) {
	return s.store.Followers.Count(ctx, userID)
}

func (s *CounterService) FollowingCount(ctx context.Context, userID string) (int64, error) {
	return s.store.Follows.CountByStatus(ctx, userID, model.FollowStatusAccepted)
}

func (s *CounterService) PendingCount(ctx context.Context, userID string) (int64, error) {
	return s.store.Requests.Count(ctx, userID)
}

// MutualFriendsCount 两人 accepted 关注列表的交集大小
func (s *CounterService) MutualFriendsCount(ctx context.Context, a, b string) (int, error) {
	aIDs, err := s.store.Follows.ListFollowingIDs(ctx, a, model.FollowStatusAccepted)
	if err != nil {
		return 0, err
	}
	bIDs, err := s.store.Follows.ListFollowingIDs(ctx, b, model.FollowStatusAccepted)
	if err != nil {
		return 0, err
	}
	set := make(map[string]struct{}, len(aIDs))
	for _, id := range aIDs {
		set[id] = struct{}{}
	}
	n := 0
	for _, id := range bIDs {
		if _, ok := set[id]; ok {
			n++
		}
	}
	return n, nil
}

func (s *CounterService) SocialCounts(ctx context.Context, userID string) (SocialCounts, error) {
	var c SocialCounts
	var err error
	if c.Followers, err = s.FollowerCount(ctx, userID); err != nil {
		return c, err
	}
	if c.Following, err = s.FollowingCount(ctx, userID); err != nil {
		return c, err
	}
	if c.Pending, err = s.PendingCount(ctx, userID); err != nil {
		return c, err
	}
	return c, nil
}

// Suggestion 二度关系推荐项：共同关注数与当前用户对其的关注状态
type Suggestion struct {
	UserID      string             `json:"user_id"`
	MutualCount int                `json:"mutual_count"`
	Status      model.FollowStatus `json:"status"`
}

// Suggestions 我 accepted 关注的人所关注的人，排除自己和已 accepted 关注的人；
// 按首次出现的顺序去重，pending 中的人保留并带上 pending 状态
func (s *CounterService) Suggestions(ctx context.Context, userID string) ([]Suggestion, error) {
	mine, err := s.store.Follows.ListFollowingIDs(ctx, userID, model.FollowStatusAccepted)
	if err != nil {
		return nil, err
	}
	following := make(map[string]struct{}, len(mine))
	for _, id := range mine {
		following[id] = struct{}{}
	}

	seen := make(map[string]struct{})
	var candidates []string
	for _, friend := range mine {
		theirs, err := s.store.Follows.ListFollowingIDs(ctx, friend, model.FollowStatusAccepted)
		if err != nil {
			return nil, err
		}
		for _, id := range theirs {
			if id == userID {
				continue
			}
			if _, ok := following[id]; ok {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			candidates = append(candidates, id)
		}
	}

	res := make([]Suggestion, 0, len(candidates))
	for _, id := range candidates {
		n, err := s.MutualFriendsCount(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		status := model.FollowStatusNone
		edge, err := s.store.Follows.Get(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if edge != nil {
			status = edge.Status
		}
		res = append(res, Suggestion{UserID: id, MutualCount: n, Status: status})
	}
	return res, nil
}
