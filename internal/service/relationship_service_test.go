package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/social-core/internal/model"
	"github.com/d60-Lab/social-core/internal/repository"
	"github.com/d60-Lab/social-core/internal/testutil"
)

func newGraph(t *testing.T) (*repository.GraphStore, RelationshipService, *CounterService) {
	t.Helper()
	store := repository.NewGraphStore(testutil.NewTestDB(t))
	return store, NewRelationshipService(store, nil, true), NewCounterService(store)
}

func TestFollowThenAccept(t *testing.T) {
	ctx := context.Background()
	store, rel, counters := newGraph(t)

	status, err := rel.Follow(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, model.FollowStatusPending, status)

	status, err = rel.CheckStatus(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, model.FollowStatusPending, status)

	pending, err := counters.PendingCount(ctx, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	require.NoError(t, rel.AcceptFollowRequest(ctx, "bob", "alice"))

	status, err = rel.CheckStatus(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, model.FollowStatusAccepted, status)

	followers, err := rel.ListFollowers(ctx, "bob", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, followers)

	following, err := rel.ListFollowing(ctx, "alice", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, following)

	req, err := store.Requests.Get(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Nil(t, req)

	counts, err := counters.SocialCounts(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, SocialCounts{Followers: 1, Following: 0, Pending: 0}, counts)
}

func TestFollowIsIdempotent(t *testing.T) {
	ctx := context.Background()
	_, rel, counters := newGraph(t)

	_, err := rel.Follow(ctx, "alice", "bob")
	require.NoError(t, err)
	status, err := rel.Follow(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, model.FollowStatusPending, status)

	pending, err := counters.PendingCount(ctx, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	require.NoError(t, rel.AcceptFollowRequest(ctx, "bob", "alice"))

	// accepted 之后再次关注不会重新生成请求
	status, err = rel.Follow(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, model.FollowStatusAccepted, status)
	pending, err = counters.PendingCount(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestFollowValidation(t *testing.T) {
	ctx := context.Background()
	_, rel, _ := newGraph(t)

	_, err := rel.Follow(ctx, "alice", "alice")
	assert.ErrorIs(t, err, ErrFollowSelf)

	_, err = rel.Follow(ctx, "", "bob")
	assert.ErrorIs(t, err, ErrUserRequired)
}

func TestRejectFromPending(t *testing.T) {
	ctx := context.Background()
	store, rel, _ := newGraph(t)

	_, err := rel.Follow(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NoError(t, rel.RejectFollowRequest(ctx, "bob", "alice"))

	status, err := rel.CheckStatus(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, model.FollowStatusNone, status)

	req, err := store.Requests.Get(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Nil(t, req)

	err = rel.RejectFollowRequest(ctx, "bob", "alice")
	assert.ErrorIs(t, err, ErrNoPendingRequest)
}

func TestAcceptRequiresPendingRequest(t *testing.T) {
	ctx := context.Background()
	_, rel, _ := newGraph(t)

	err := rel.AcceptFollowRequest(ctx, "bob", "alice")
	assert.ErrorIs(t, err, ErrNoPendingRequest)

	status, err := rel.CheckStatus(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, model.FollowStatusNone, status)
}

func TestUnfollowRemovesEverything(t *testing.T) {
	ctx := context.Background()
	store, rel, counters := newGraph(t)

	_, err := rel.Follow(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NoError(t, rel.AcceptFollowRequest(ctx, "bob", "alice"))
	// 残留请求（例如修复前的中间态）也会被清理
	require.NoError(t, store.Requests.Create(ctx, "bob", "alice", testNow()))

	require.NoError(t, rel.Unfollow(ctx, "alice", "bob"))

	status, err := rel.CheckStatus(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, model.FollowStatusNone, status)

	followers, err := counters.FollowerCount(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, followers)
	pending, err := counters.PendingCount(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, pending)

	// 无关系时取消关注为空操作
	require.NoError(t, rel.Unfollow(ctx, "alice", "bob"))
}

func TestUnfollowFromPending(t *testing.T) {
	ctx := context.Background()
	_, rel, counters := newGraph(t)

	_, err := rel.Follow(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NoError(t, rel.Unfollow(ctx, "alice", "bob"))

	pending, err := counters.PendingCount(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, pending)
	status, err := rel.CheckStatus(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, model.FollowStatusNone, status)
}

func TestListPendingRequestsAndPaging(t *testing.T) {
	ctx := context.Background()
	_, rel, _ := newGraph(t)

	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := rel.Follow(ctx, u, "star")
		require.NoError(t, err)
	}
	ids, err := rel.ListPendingRequests(ctx, "star")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, ids)

	for _, u := range []string{"u1", "u2", "u3"} {
		require.NoError(t, rel.AcceptFollowRequest(ctx, "star", u))
	}
	page1, err := rel.ListFollowers(ctx, "star", 1, 2)
	require.NoError(t, err)
	page2, err := rel.ListFollowers(ctx, "star", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page1, 2)
	assert.Len(t, page2, 1)
	assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, append(page1, page2...))
}

func TestMutualFriendsCountIsSymmetric(t *testing.T) {
	ctx := context.Background()
	_, rel, counters := newGraph(t)

	follow := func(a, b string) {
		_, err := rel.Follow(ctx, a, b)
		require.NoError(t, err)
		require.NoError(t, rel.AcceptFollowRequest(ctx, b, a))
	}
	follow("alice", "carol")
	follow("alice", "dave")
	follow("alice", "erin")
	follow("bob", "carol")
	follow("bob", "erin")
	// pending 不计入
	_, err := rel.Follow(ctx, "bob", "dave")
	require.NoError(t, err)

	ab, err := counters.MutualFriendsCount(ctx, "alice", "bob")
	require.NoError(t, err)
	ba, err := counters.MutualFriendsCount(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, ab)
	assert.Equal(t, ab, ba)

	none, err := counters.MutualFriendsCount(ctx, "alice", "nobody")
	require.NoError(t, err)
	assert.Zero(t, none)

	following, err := counters.FollowingCount(ctx, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 2, following)
}

func TestSuggestions_FriendsOfFriends(t *testing.T) {
	ctx := context.Background()
	_, rel, counters := newGraph(t)

	follow := func(a, b string) {
		_, err := rel.Follow(ctx, a, b)
		require.NoError(t, err)
		require.NoError(t, rel.AcceptFollowRequest(ctx, b, a))
	}
	follow("alice", "bob")
	follow("alice", "carol")
	follow("bob", "alice") // 自己不出现
	follow("bob", "carol") // 已关注的不出现
	follow("bob", "dave")
	follow("carol", "dave")
	follow("carol", "erin")
	follow("dave", "frank") // 三度关系不出现
	follow("dave", "carol")
	// pending 中的人仍推荐，状态为 pending
	_, err := rel.Follow(ctx, "alice", "erin")
	require.NoError(t, err)

	got, err := counters.Suggestions(ctx, "alice")
	require.NoError(t, err)

	byID := make(map[string]Suggestion, len(got))
	for _, s := range got {
		byID[s.UserID] = s
	}
	require.Len(t, byID, len(got), "suggestions must be unique")
	assert.ElementsMatch(t, []string{"dave", "erin"}, func() []string {
		ids := make([]string, 0, len(got))
		for _, s := range got {
			ids = append(ids, s.UserID)
		}
		return ids
	}())

	// 共同关注数是两人 accepted 关注列表的交集：{bob, carol} ∩ {frank, carol}
	assert.Equal(t, model.FollowStatusNone, byID["dave"].Status)
	assert.Equal(t, 1, byID["dave"].MutualCount)
	assert.Equal(t, model.FollowStatusPending, byID["erin"].Status)

	empty, err := counters.Suggestions(ctx, "frank")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
