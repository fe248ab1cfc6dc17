package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/social-core/internal/model"
	"github.com/d60-Lab/social-core/internal/testutil"
)

func TestConversationRepository_UnreadCounters(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository(testutil.NewTestDB(t))
	now := time.Now().UTC()

	conv := model.NewConversation("bob", "alice")
	require.NoError(t, repo.Ensure(ctx, conv))
	require.NoError(t, repo.Ensure(ctx, model.NewConversation("alice", "bob")))

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.IncrementUnread(ctx, conv.ID, "bob", now))
	}
	require.NoError(t, repo.ResetUnread(ctx, conv.ID, "alice", now))
	require.NoError(t, repo.UpdateLastMessage(ctx, conv.ID, "alice", "hi", now))

	got, err := repo.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	s := got.Summary()
	assert.Equal(t, map[string]int{"alice": 0, "bob": 3}, s.UnreadCount)
	require.NotNil(t, s.LastMessage)
	assert.Equal(t, "hi", s.LastMessage.Text)
	assert.Equal(t, "alice", s.LastMessage.SenderID)

	require.NoError(t, repo.ResetUnread(ctx, conv.ID, "bob", now))
	got, err = repo.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Summary().UnreadCount["bob"])

	list, err := repo.ListByParticipant(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	missing, err := repo.Get(ctx, "nobody_x")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMessageRepository_OrderedByCreatedThenSeq(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(testutil.NewTestDB(t))
	conv := model.ConversationKey("a", "b")
	base := time.Now().UTC()

	// 同一时间戳的两条消息按插入顺序排列
	stamps := []time.Time{base, base, base.Add(time.Millisecond)}
	for i, ts := range stamps {
		msg := &model.Message{ID: uuid.New().String(), ConversationID: conv, SenderID: "a", Text: string(rune('x' + i)), CreatedAt: ts}
		require.NoError(t, repo.Create(ctx, msg))
		assert.NotZero(t, msg.Seq)
	}

	all, err := repo.ListOrdered(ctx, conv)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"x", "y", "z"}, []string{all[0].Text, all[1].Text, all[2].Text})

	after, err := repo.ListAfter(ctx, conv, all[0].Seq)
	require.NoError(t, err)
	assert.Len(t, after, 2)

	cnt, err := repo.Count(ctx, conv)
	require.NoError(t, err)
	assert.EqualValues(t, 3, cnt)
}

func TestUserRepository_SearchByHandlePrefix(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(testutil.NewTestDB(t))
	for _, h := range []string{"anna", "annie", "ann_x", "bob", "annabel", "anne", "annika"} {
		require.NoError(t, repo.Create(ctx, &model.User{ID: "id-" + h, Handle: h}))
	}

	res, err := repo.SearchByHandlePrefix(ctx, "ann", 5)
	require.NoError(t, err)
	assert.Len(t, res, 5)

	// 下划线按字面匹配，不是通配符
	res, err = repo.SearchByHandlePrefix(ctx, "ann_", 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "ann_x", res[0].Handle)

	taken, err := repo.HandleTaken(ctx, "bob", "id-anna")
	require.NoError(t, err)
	assert.True(t, taken)
	taken, err = repo.HandleTaken(ctx, "bob", "id-bob")
	require.NoError(t, err)
	assert.False(t, taken)

	u, err := repo.GetByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, u)
}
