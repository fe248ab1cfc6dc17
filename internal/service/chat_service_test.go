package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/social-core/internal/model"
	"github.com/d60-Lab/social-core/internal/notify"
	"github.com/d60-Lab/social-core/internal/testutil"
	apperrors "github.com/d60-Lab/social-core/pkg/errors"
)

func newChat(t *testing.T) (*ChatService, *notify.LocalBus) {
	t.Helper()
	bus := notify.NewLocalBus()
	return NewChatService(testutil.NewTestDB(t), bus, 100), bus
}

func TestSendMessage_UpdatesSummaryAndUnread(t *testing.T) {
	ctx := context.Background()
	chat, bus := newChat(t)

	var changes []notify.Change
	bus.Subscribe(func(c notify.Change) { changes = append(changes, c) })

	msg, err := chat.SendMessage(ctx, "alice", "bob", "hi")
	require.NoError(t, err)
	assert.Equal(t, model.ConversationKey("bob", "alice"), msg.ConversationID)
	assert.NotEmpty(t, msg.ID)

	conv, err := chat.GetConversation(ctx, "bob", msg.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, map[string]int{"alice": 0, "bob": 1}, conv.UnreadCount)
	assert.ElementsMatch(t, []string{"alice", "bob"}, conv.Participants)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "hi", conv.LastMessage.Text)
	assert.Equal(t, "alice", conv.LastMessage.SenderID)

	// 回复后对方未读 +1，自己清零
	_, err = chat.SendMessage(ctx, "bob", "alice", "hey")
	require.NoError(t, err)
	conv, err = chat.GetConversation(ctx, "alice", msg.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alice": 1, "bob": 0}, conv.UnreadCount)

	require.Len(t, changes, 2)
	assert.Equal(t, msg.ConversationID, changes[0].ConversationID)
	assert.Equal(t, msg.Seq, changes[0].MessageSeq)
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	chat, _ := newChat(t)

	msg, err := chat.SendMessage(ctx, "alice", "bob", "one")
	require.NoError(t, err)
	_, err = chat.SendMessage(ctx, "alice", "bob", "two")
	require.NoError(t, err)

	require.NoError(t, chat.MarkRead(ctx, msg.ConversationID, "bob"))
	conv, err := chat.GetConversation(ctx, "bob", msg.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount["bob"])

	// 会话不存在时为空操作
	require.NoError(t, chat.MarkRead(ctx, model.ConversationKey("x", "y"), "x"))
	missing, err := chat.GetConversation(ctx, "x", model.ConversationKey("x", "y"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = chat.MarkRead(ctx, msg.ConversationID, "mallory")
	assert.True(t, apperrors.IsPermissionDenied(err))
}

func TestSendMessage_Validation(t *testing.T) {
	ctx := context.Background()
	chat, _ := newChat(t)

	_, err := chat.SendMessage(ctx, "alice", "bob", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = chat.SendMessage(ctx, "alice", "alice", "hi")
	assert.ErrorIs(t, err, ErrMessageSelf)
	_, err = chat.SendMessage(ctx, "alice", "bob", strings.Repeat("好", 101))
	assert.ErrorIs(t, err, ErrMessageTooLong)
	_, err = chat.SendMessage(ctx, "", "bob", "hi")
	assert.ErrorIs(t, err, ErrUserRequired)

	list, err := chat.ListConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list, "rejected sends create no conversation")
}

func TestHistory_NonDecreasingTimestamps(t *testing.T) {
	ctx := context.Background()
	chat, _ := newChat(t)

	// 时钟回拨时仍保持单调
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Minute), base, base.Add(time.Second), base.Add(-time.Hour)}
	i := 0
	chat.now = func() time.Time {
		ts := clock[i%len(clock)]
		i++
		return ts
	}

	convID := model.ConversationKey("alice", "bob")
	for n := 0; n < len(clock); n++ {
		from, to := "alice", "bob"
		if n%2 == 1 {
			from, to = to, from
		}
		_, err := chat.SendMessage(ctx, from, to, "m")
		require.NoError(t, err)
	}

	history, err := chat.History(ctx, "alice", convID)
	require.NoError(t, err)
	require.Len(t, history, len(clock))
	for k := 1; k < len(history); k++ {
		assert.False(t, history[k].CreatedAt.Before(history[k-1].CreatedAt), "message %d goes back in time", k)
		assert.Greater(t, history[k].Seq, history[k-1].Seq)
	}

	empty, err := chat.History(ctx, "alice", model.ConversationKey("alice", "nobody"))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = chat.History(ctx, "mallory", convID)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestSendMessage_ConcurrentSendersDoNotLoseIncrements(t *testing.T) {
	ctx := context.Background()
	chat, _ := newChat(t)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := chat.SendMessage(ctx, "alice", "bob", "ping")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	conv, err := chat.GetConversation(ctx, "bob", model.ConversationKey("alice", "bob"))
	require.NoError(t, err)
	assert.Equal(t, n, conv.UnreadCount["bob"])

	history, err := chat.History(ctx, "bob", conv.ID)
	require.NoError(t, err)
	assert.Len(t, history, n)
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	chat, _ := newChat(t)

	// 会话不存在时由 key 推出对方并创建会话
	convID := model.ConversationKey("alice", "bob")
	msg, err := chat.Append(ctx, convID, "alice", "hi")
	require.NoError(t, err)
	assert.Equal(t, convID, msg.ConversationID)

	conv, err := chat.GetConversation(ctx, "alice", convID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.ElementsMatch(t, []string{"alice", "bob"}, conv.Participants)
	assert.Equal(t, 1, conv.UnreadCount["bob"])
	assert.Equal(t, 0, conv.UnreadCount["alice"])

	msg, err = chat.Append(ctx, convID, "bob", "second")
	require.NoError(t, err)
	assert.Equal(t, "bob", msg.SenderID)

	_, err = chat.Append(ctx, convID, "mallory", "intrude")
	assert.ErrorIs(t, err, ErrNotParticipant)

	conv, err = chat.GetConversation(ctx, "alice", convID)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount["alice"])
	assert.Equal(t, 0, conv.UnreadCount["bob"])
}

func TestAppend_KeyWithoutSender(t *testing.T) {
	ctx := context.Background()
	chat, _ := newChat(t)

	cases := []struct {
		name   string
		convID string
		sender string
	}{
		{name: "sender absent", convID: model.ConversationKey("alice", "bob"), sender: "carol"},
		{name: "prefix only", convID: "alice_", sender: "alice"},
		{name: "not a key", convID: "bob_alice", sender: "alice"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := chat.Append(ctx, tc.convID, tc.sender, "hi")
			assert.ErrorIs(t, err, ErrNotParticipant)
		})
	}

	list, err := chat.ListConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}
