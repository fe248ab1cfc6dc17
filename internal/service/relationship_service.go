package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/d60-Lab/social-core/internal/model"
	"github.com/d60-Lab/social-core/internal/repository"
)

var tracer = otel.Tracer("github.com/d60-Lab/social-core/internal/service")

// RelationshipService 审批制关注关系：None → Pending → Accepted
type RelationshipService interface {
	Follow(ctx context.Context, requesterID, targetID string) (model.FollowStatus, error)
	AcceptFollowRequest(ctx context.Context, targetID, requesterID string) error
	RejectFollowRequest(ctx context.Context, targetID, requesterID string) error
	Unfollow(ctx context.Context, requesterID, targetID string) error
	CheckStatus(ctx context.Context, requesterID, targetID string) (model.FollowStatus, error)
	ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error)
	ListFollowers(ctx context.Context, userID string, page, pageSize int) ([]string, error)
	ListPendingRequests(ctx context.Context, userID string) ([]string, error)
}

type relationshipService struct {
	store         *repository.GraphStore
	reconciler    *Reconciler
	transactional bool
	now           func() time.Time
}

// NewRelationshipService transactional=false 时每次迁移逐条写入，失败的用户对交给 reconciler 修复
func NewRelationshipService(store *repository.GraphStore, reconciler *Reconciler, transactional bool) RelationshipService {
	return &relationshipService{
		store:         store,
		reconciler:    reconciler,
		transactional: transactional,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func startSpan(ctx context.Context, name string, pair model.FollowPair) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("requester_id", pair.RequesterID),
		attribute.String("target_id", pair.TargetID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *relationshipService) run(ctx context.Context, pair model.FollowPair, fn func(g *repository.GraphStore) error) error {
	if s.transactional {
		return s.store.Atomically(ctx, fn)
	}
	if err := fn(s.store); err != nil {
		if s.reconciler != nil {
			s.reconciler.EnqueuePair(pair)
		}
		return err
	}
	return nil
}

func validPair(requesterID, targetID string) error {
	if requesterID == "" || targetID == "" {
		return ErrUserRequired
	}
	return nil
}

func (s *relationshipService) Follow(ctx context.Context, requesterID, targetID string) (status model.FollowStatus, err error) {
	pair := model.FollowPair{RequesterID: requesterID, TargetID: targetID}
	ctx, span := startSpan(ctx, "RelationshipService.Follow", pair)
	defer func() { endSpan(span, err) }()

	if err := validPair(requesterID, targetID); err != nil {
		return "", err
	}
	if requesterID == targetID {
		return "", ErrFollowSelf
	}

	err = s.run(ctx, pair, func(g *repository.GraphStore) error {
		edge, err := g.Follows.Get(ctx, requesterID, targetID)
		if err != nil {
			return err
		}
		// 已 pending/accepted 时重复关注为空操作
		if edge != nil {
			status = edge.Status
			return nil
		}
		now := s.now()
		if err := g.Requests.Create(ctx, targetID, requesterID, now); err != nil {
			return err
		}
		if err := g.Follows.CreatePending(ctx, requesterID, targetID, now); err != nil {
			return err
		}
		status = model.FollowStatusPending
		return nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

func (s *relationshipService) AcceptFollowRequest(ctx context.Context, targetID, requesterID string) (err error) {
	pair := model.FollowPair{RequesterID: requesterID, TargetID: targetID}
	ctx, span := startSpan(ctx, "RelationshipService.AcceptFollowRequest", pair)
	defer func() { endSpan(span, err) }()

	if err := validPair(requesterID, targetID); err != nil {
		return err
	}
	return s.run(ctx, pair, func(g *repository.GraphStore) error {
		req, err := g.Requests.Get(ctx, targetID, requesterID)
		if err != nil {
			return err
		}
		if req == nil {
			return ErrNoPendingRequest
		}
		now := s.now()
		if _, err := g.Requests.Delete(ctx, targetID, requesterID); err != nil {
			return err
		}
		if err := g.Followers.Create(ctx, targetID, requesterID, now); err != nil {
			return err
		}
		return g.Follows.MarkAccepted(ctx, requesterID, targetID, now)
	})
}

func (s *relationshipService) RejectFollowRequest(ctx context.Context, targetID, requesterID string) (err error) {
	pair := model.FollowPair{RequesterID: requesterID, TargetID: targetID}
	ctx, span := startSpan(ctx, "RelationshipService.RejectFollowRequest", pair)
	defer func() { endSpan(span, err) }()

	if err := validPair(requesterID, targetID); err != nil {
		return err
	}
	return s.run(ctx, pair, func(g *repository.GraphStore) error {
		req, err := g.Requests.Get(ctx, targetID, requesterID)
		if err != nil {
			return err
		}
		if req == nil {
			return ErrNoPendingRequest
		}
		if _, err := g.Requests.Delete(ctx, targetID, requesterID); err != nil {
			return err
		}
		_, err = g.Follows.Delete(ctx, requesterID, targetID)
		return err
	})
}

// Unfollow 同时清理关注边、粉丝边和残留请求；无关系时为空操作
func (s *relationshipService) Unfollow(ctx context.Context, requesterID, targetID string) (err error) {
	pair := model.FollowPair{RequesterID: requesterID, TargetID: targetID}
	ctx, span := startSpan(ctx, "RelationshipService.Unfollow", pair)
	defer func() { endSpan(span, err) }()

	if err := validPair(requesterID, targetID); err != nil {
		return err
	}
	return s.run(ctx, pair, func(g *repository.GraphStore) error {
		if _, err := g.Follows.Delete(ctx, requesterID, targetID); err != nil {
			return err
		}
		if _, err := g.Followers.Delete(ctx, targetID, requesterID); err != nil {
			return err
		}
		_, err := g.Requests.Delete(ctx, targetID, requesterID)
		return err
	})
}

func (s *relationshipService) CheckStatus(ctx context.Context, requesterID, targetID string) (model.FollowStatus, error) {
	if err := validPair(requesterID, targetID); err != nil {
		return "", err
	}
	edge, err := s.store.Follows.Get(ctx, requesterID, targetID)
	if err != nil {
		return "", err
	}
	if edge == nil {
		return model.FollowStatusNone, nil
	}
	return edge.Status, nil
}

func pageOffset(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	return (page - 1) * pageSize, pageSize
}

// ListFollowing 只返回 accepted 的关注
func (s *relationshipService) ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	offset, limit := pageOffset(page, pageSize)
	items, err := s.store.Follows.ListFollowings(ctx, userID, model.FollowStatusAccepted, offset, limit)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FolloweeID
	}
	return res, nil
}

func (s *relationshipService) ListFollowers(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	offset, limit := pageOffset(page, pageSize)
	items, err := s.store.Followers.ListFollowers(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FollowerID
	}
	return res, nil
}

func (s *relationshipService) ListPendingRequests(ctx context.Context, userID string) ([]string, error) {
	return s.store.Requests.ListRequesterIDs(ctx, userID)
}
