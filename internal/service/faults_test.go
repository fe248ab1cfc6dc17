package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/social-core/internal/repository"
)

var errInjected = errors.New("injected write failure")

func testNow() time.Time { return time.Now().UTC() }

// writeFault 所有仓储共享的写入计数，第 failAt 次写入失败（不落库）
type writeFault struct {
	calls  atomic.Int32
	failAt int32
}

func (f *writeFault) hit() error {
	if f.calls.Add(1) == f.failAt {
		return errInjected
	}
	return nil
}

type faultyFollows struct {
	repository.FollowRepository
	f *writeFault
}

func (r *faultyFollows) WithTx(tx *gorm.DB) repository.FollowRepository {
	return &faultyFollows{FollowRepository: r.FollowRepository.WithTx(tx), f: r.f}
}

func (r *faultyFollows) CreatePending(ctx context.Context, a, b string, at time.Time) error {
	if err := r.f.hit(); err != nil {
		return err
	}
	return r.FollowRepository.CreatePending(ctx, a, b, at)
}

func (r *faultyFollows) MarkAccepted(ctx context.Context, a, b string, at time.Time) error {
	if err := r.f.hit(); err != nil {
		return err
	}
	return r.FollowRepository.MarkAccepted(ctx, a, b, at)
}

func (r *faultyFollows) Delete(ctx context.Context, a, b string) (bool, error) {
	if err := r.f.hit(); err != nil {
		return false, err
	}
	return r.FollowRepository.Delete(ctx, a, b)
}

type faultyFollowers struct {
	repository.FollowerRepository
	f *writeFault
}

func (r *faultyFollowers) WithTx(tx *gorm.DB) repository.FollowerRepository {
	return &faultyFollowers{FollowerRepository: r.FollowerRepository.WithTx(tx), f: r.f}
}

func (r *faultyFollowers) Create(ctx context.Context, a, b string, at time.Time) error {
	if err := r.f.hit(); err != nil {
		return err
	}
	return r.FollowerRepository.Create(ctx, a, b, at)
}

func (r *faultyFollowers) Delete(ctx context.Context, a, b string) (bool, error) {
	if err := r.f.hit(); err != nil {
		return false, err
	}
	return r.FollowerRepository.Delete(ctx, a, b)
}

type faultyRequests struct {
	repository.FollowRequestRepository
	f *writeFault
}

func (r *faultyRequests) WithTx(tx *gorm.DB) repository.FollowRequestRepository {
	return &faultyRequests{FollowRequestRepository: r.FollowRequestRepository.WithTx(tx), f: r.f}
}

func (r *faultyRequests) Create(ctx context.Context, a, b string, at time.Time) error {
	if err := r.f.hit(); err != nil {
		return err
	}
	return r.FollowRequestRepository.Create(ctx, a, b, at)
}

func (r *faultyRequests) Delete(ctx context.Context, a, b string) (bool, error) {
	if err := r.f.hit(); err != nil {
		return false, err
	}
	return r.FollowRequestRepository.Delete(ctx, a, b)
}

// faultyStore 包装 store 的三个仓储，第 failAt 次写入失败
func faultyStore(db *gorm.DB, failAt int32) *repository.GraphStore {
	base := repository.NewGraphStore(db)
	f := &writeFault{failAt: failAt}
	base.Follows = &faultyFollows{FollowRepository: base.Follows, f: f}
	base.Followers = &faultyFollowers{FollowerRepository: base.Followers, f: f}
	base.Requests = &faultyRequests{FollowRequestRepository: base.Requests, f: f}
	return base
}
