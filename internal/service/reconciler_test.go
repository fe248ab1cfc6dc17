package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/social-core/internal/model"
	"github.com/d60-Lab/social-core/internal/repository"
	"github.com/d60-Lab/social-core/internal/testutil"
)

func TestClassifyPair(t *testing.T) {
	cases := []struct {
		status      model.FollowStatus
		req, follow bool
		want        []Violation
	}{
		{model.FollowStatusNone, false, false, nil},
		{model.FollowStatusPending, true, false, nil},
		{model.FollowStatusAccepted, false, true, nil},
		{model.FollowStatusNone, true, false, []Violation{ViolationRequestWithoutEdge}},
		{model.FollowStatusNone, true, true, []Violation{ViolationRequestWithoutEdge, ViolationFollowerWithoutEdge}},
		{model.FollowStatusPending, false, false, []Violation{ViolationPendingWithoutRequest}},
		{model.FollowStatusPending, true, true, []Violation{ViolationPendingWithFollower}},
		{model.FollowStatusAccepted, true, false, []Violation{ViolationAcceptedWithoutFollower, ViolationAcceptedWithRequest}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyPair(tc.status, tc.req, tc.follow), "%s req=%v follower=%v", tc.status, tc.req, tc.follow)
	}
}

type partialCase struct {
	name       string
	setup      model.FollowStatus
	transition func(ctx context.Context, rel RelationshipService) error
	failAt     int32
	want       []Violation
	repairedTo model.FollowStatus
}

// 每个迁移在第 k 次写入失败时留下的中间态
func partialCases() []partialCase {
	follow := func(ctx context.Context, rel RelationshipService) error {
		_, err := rel.Follow(ctx, "alice", "bob")
		return err
	}
	accept := func(ctx context.Context, rel RelationshipService) error {
		return rel.AcceptFollowRequest(ctx, "bob", "alice")
	}
	reject := func(ctx context.Context, rel RelationshipService) error {
		return rel.RejectFollowRequest(ctx, "bob", "alice")
	}
	unfollow := func(ctx context.Context, rel RelationshipService) error {
		return rel.Unfollow(ctx, "alice", "bob")
	}
	none, pending, accepted := model.FollowStatusNone, model.FollowStatusPending, model.FollowStatusAccepted

	return []partialCase{
		{"follow/1", none, follow, 1, nil, none},
		{"follow/2", none, follow, 2, []Violation{ViolationRequestWithoutEdge}, none},
		{"accept/1", pending, accept, 1, nil, pending},
		{"accept/2", pending, accept, 2, []Violation{ViolationPendingWithoutRequest}, pending},
		{"accept/3", pending, accept, 3, []Violation{ViolationPendingWithoutRequest, ViolationPendingWithFollower}, accepted},
		{"reject/1", pending, reject, 1, nil, pending},
		{"reject/2", pending, reject, 2, []Violation{ViolationPendingWithoutRequest}, pending},
		{"unfollow-accepted/1", accepted, unfollow, 1, nil, accepted},
		{"unfollow-accepted/2", accepted, unfollow, 2, []Violation{ViolationFollowerWithoutEdge}, none},
		{"unfollow-accepted/3", accepted, unfollow, 3, nil, none},
		{"unfollow-pending/1", pending, unfollow, 1, nil, pending},
		{"unfollow-pending/2", pending, unfollow, 2, []Violation{ViolationRequestWithoutEdge}, none},
		{"unfollow-pending/3", pending, unfollow, 3, []Violation{ViolationRequestWithoutEdge}, none},
	}
}

func setupPair(t *testing.T, ctx context.Context, rel RelationshipService, status model.FollowStatus) {
	t.Helper()
	if status == model.FollowStatusNone {
		return
	}
	_, err := rel.Follow(ctx, "alice", "bob")
	require.NoError(t, err)
	if status == model.FollowStatusAccepted {
		require.NoError(t, rel.AcceptFollowRequest(ctx, "bob", "alice"))
	}
}

func TestReconciler_DetectsAndRepairsEveryPartialFailure(t *testing.T) {
	pair := model.FollowPair{RequesterID: "alice", TargetID: "bob"}

	for _, tc := range partialCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			db := testutil.NewTestDB(t)
			healthy := repository.NewGraphStore(db)
			setupPair(t, ctx, NewRelationshipService(healthy, nil, true), tc.setup)

			rec := NewReconciler(healthy, 16)
			rel := NewRelationshipService(faultyStore(db, tc.failAt), rec, false)
			require.ErrorIs(t, tc.transition(ctx, rel), errInjected)
			assert.Equal(t, 1, rec.QueueLen(), "failed pair is queued for repair")

			rep, err := rec.CheckPair(ctx, pair)
			require.NoError(t, err)
			assert.Equal(t, tc.want, rep.Violations)

			found, err := rec.RepairPair(ctx, pair)
			require.NoError(t, err)
			assert.Equal(t, tc.want, found.Violations)

			after, err := rec.CheckPair(ctx, pair)
			require.NoError(t, err)
			assert.True(t, after.Consistent(), "violations after repair: %v", after.Violations)
			assert.Equal(t, tc.repairedTo, after.Status)
		})
	}
}

func TestTransactionalModeLeavesNoPartialState(t *testing.T) {
	pair := model.FollowPair{RequesterID: "alice", TargetID: "bob"}

	for _, tc := range partialCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			db := testutil.NewTestDB(t)
			healthy := repository.NewGraphStore(db)
			setupPair(t, ctx, NewRelationshipService(healthy, nil, true), tc.setup)

			rel := NewRelationshipService(faultyStore(db, tc.failAt), nil, true)
			require.ErrorIs(t, tc.transition(ctx, rel), errInjected)

			rep, err := NewReconciler(healthy, 1).CheckPair(ctx, pair)
			require.NoError(t, err)
			assert.True(t, rep.Consistent())
			assert.Equal(t, tc.setup, rep.Status, "transaction rolled back")
		})
	}
}

func TestReconciler_WorkersRepairQueuedPairs(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	healthy := repository.NewGraphStore(db)
	setupPair(t, ctx, NewRelationshipService(healthy, nil, true), model.FollowStatusPending)

	rec := NewReconciler(healthy, 16)
	stop := rec.Start(2)

	rel := NewRelationshipService(faultyStore(db, 3), rec, false)
	require.ErrorIs(t, rel.AcceptFollowRequest(ctx, "bob", "alice"), errInjected)

	select {
	case <-rec.Metrics():
	case <-time.After(5 * time.Second):
		t.Fatal("queued pair was not processed")
	}
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, stop(stopCtx))

	rep, err := rec.CheckPair(ctx, model.FollowPair{RequesterID: "alice", TargetID: "bob"})
	require.NoError(t, err)
	assert.True(t, rep.Consistent())
	assert.Equal(t, model.FollowStatusAccepted, rep.Status)
}

func TestReconciler_Sweep(t *testing.T) {
	ctx := context.Background()
	store := repository.NewGraphStore(testutil.NewTestDB(t))
	rel := NewRelationshipService(store, nil, true)
	now := testNow()

	// 合法关系
	for i := 0; i < 3; i++ {
		_, err := rel.Follow(ctx, fmt.Sprintf("fan%d", i), "star")
		require.NoError(t, err)
	}
	require.NoError(t, rel.AcceptFollowRequest(ctx, "star", "fan0"))

	// 三种孤立的中间态
	require.NoError(t, store.Requests.Create(ctx, "x", "orphan-req", now))
	require.NoError(t, store.Followers.Create(ctx, "y", "orphan-follower", now))
	require.NoError(t, store.Follows.MarkAccepted(ctx, "lonely", "z", now))

	rec := NewReconciler(store, 1)
	rec.scanBatch = 2

	res, err := rec.Sweep(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 6, Inconsistent: 3, Repaired: 0}, res)

	res, err = rec.Sweep(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Repaired)

	res, err = rec.Sweep(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, res.Inconsistent)
}
