package service

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/d60-Lab/social-core/internal/model"
	"github.com/d60-Lab/social-core/internal/notify"
	apperrors "github.com/d60-Lab/social-core/pkg/errors"
	"github.com/d60-Lab/social-core/pkg/logger"
)

type EventType string

const (
	EventSnapshot EventType = "snapshot"
	EventAdded    EventType = "added"
)

// ConversationListEvent 会话列表推送：每次变化都推送完整列表
type ConversationListEvent struct {
	Conversations []model.ConversationSummary `json:"conversations"`
	TotalUnread   int                         `json:"total_unread"`
}

// MessageEvent 消息列表推送：首次为完整历史，之后为增量
type MessageEvent struct {
	Type           EventType        `json:"type"`
	ConversationID string           `json:"conversation_id"`
	Messages       []*model.Message `json:"messages"`
}

// SyncHub 会话/消息订阅中心，由变更总线驱动
type SyncHub struct {
	chat *ChatService

	mu     sync.Mutex
	byUser map[string]map[*Subscription]struct{}
	byConv map[string]map[*Subscription]struct{}
	unsub  func()
}

func NewSyncHub(chat *ChatService) *SyncHub {
	return &SyncHub{
		chat:   chat,
		byUser: make(map[string]map[*Subscription]struct{}),
		byConv: make(map[string]map[*Subscription]struct{}),
	}
}

// Start 订阅变更总线
func (h *SyncHub) Start(bus notify.Bus) {
	h.unsub = bus.Subscribe(h.handleChange)
}

// Stop 取消总线订阅并结束全部订阅
func (h *SyncHub) Stop() {
	if h.unsub != nil {
		h.unsub()
	}
	h.mu.Lock()
	var all []*Subscription
	for _, set := range h.byUser {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()
	for _, s := range all {
		s.Cancel()
	}
}

func (h *SyncHub) handleChange(ch notify.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, uid := range ch.Participants {
		for s := range h.byUser[uid] {
			if s.convID == "" {
				s.notify()
			}
		}
	}
	for s := range h.byConv[ch.ConversationID] {
		s.notify()
	}
}

// Revoke 用户会话失效（如登出）：其订阅以 permission-denied 结束
func (h *SyncHub) Revoke(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.byUser[userID] {
		s.revoked.Store(true)
		s.notify()
	}
}

// Active 当前活跃订阅数
func (h *SyncHub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.byUser {
		n += len(set)
	}
	return n
}

func (h *SyncHub) add(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byUser[s.userID] == nil {
		h.byUser[s.userID] = make(map[*Subscription]struct{})
	}
	h.byUser[s.userID][s] = struct{}{}
	if s.convID != "" {
		if h.byConv[s.convID] == nil {
			h.byConv[s.convID] = make(map[*Subscription]struct{})
		}
		h.byConv[s.convID][s] = struct{}{}
	}
}

func (h *SyncHub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.byUser[s.userID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.byUser, s.userID)
		}
	}
	if s.convID != "" {
		if set := h.byConv[s.convID]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(h.byConv, s.convID)
			}
		}
	}
}

// SubscribeConversations 推送 userID 参与的全部会话及未读总数
func (h *SyncHub) SubscribeConversations(userID string, onEvent func(ConversationListEvent), onError func(error)) (*Subscription, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	s := newSubscription(h, userID, "", onError)
	s.step = func(ctx context.Context) error {
		list, err := h.chat.ListConversations(ctx, userID)
		if err != nil {
			return err
		}
		ev := ConversationListEvent{Conversations: list, TotalUnread: model.TotalUnread(list, userID)}
		s.invoke(func() { onEvent(ev) })
		return nil
	}
	h.start(s)
	return s, nil
}

// SubscribeMessages 推送 viewerID 与 peerID 会话的消息：先完整历史，再增量
func (h *SyncHub) SubscribeMessages(viewerID, peerID string, onEvent func(MessageEvent), onError func(error)) (*Subscription, error) {
	if viewerID == "" || peerID == "" {
		return nil, ErrUserRequired
	}
	return h.StreamOrdered(viewerID, model.ConversationKey(viewerID, peerID), onEvent, onError)
}

// StreamOrdered 按会话 key 订阅有序消息流。会话尚不存在时快照为空，创建后按增量推送
func (h *SyncHub) StreamOrdered(viewerID, convID string, onEvent func(MessageEvent), onError func(error)) (*Subscription, error) {
	if viewerID == "" || convID == "" {
		return nil, ErrUserRequired
	}
	s := newSubscription(h, viewerID, convID, onError)

	var lastSeq int64
	first := true
	s.step = func(ctx context.Context) error {
		msgs, err := h.chat.MessagesAfter(ctx, viewerID, convID, lastSeq)
		if err != nil {
			return err
		}
		if !first && len(msgs) == 0 {
			return nil
		}
		typ := EventAdded
		if first {
			typ = EventSnapshot
			first = false
		}
		for _, m := range msgs {
			if m.Seq > lastSeq {
				lastSeq = m.Seq
			}
		}
		ev := MessageEvent{Type: typ, ConversationID: convID, Messages: msgs}
		s.invoke(func() { onEvent(ev) })
		return nil
	}
	h.start(s)
	return s, nil
}

// start 先登记再启动：登记之后发生的变更都会触发下一次拉取，不会漏
func (h *SyncHub) start(s *Subscription) {
	h.add(s)
	go s.run()
}

// Subscription 一个订阅句柄；同一订阅的回调按顺序执行
type Subscription struct {
	hub     *SyncHub
	userID  string
	convID  string
	step    func(ctx context.Context) error
	onError func(error)

	signal  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	revoked atomic.Bool

	// mu 在回调执行期间持有，Cancel 通过它等待正在执行的回调结束
	mu         sync.Mutex
	cancelled  atomic.Bool
	inCallback atomic.Bool
}

func newSubscription(h *SyncHub, userID, convID string, onError func(error)) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		hub:     h,
		userID:  userID,
		convID:  convID,
		onError: onError,
		signal:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// notify 合并信号：未处理的变化只保留一个
func (s *Subscription) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) invoke(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled.Load() {
		return false
	}
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	fn()
	return true
}

func (s *Subscription) run() {
	defer close(s.done)
	defer s.hub.remove(s)
	defer s.cancel()

	for {
		err := s.deliver()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if apperrors.IsPermissionDenied(err) {
				logger.Debug("subscription ended: permission denied",
					zap.String("user", s.userID), zap.String("conversation", s.convID))
				return
			}
			if s.onError != nil {
				s.invoke(func() { s.onError(err) })
			}
			return
		}
		select {
		case <-s.ctx.Done():
			return
		case <-s.signal:
		}
	}
}

func (s *Subscription) deliver() error {
	if s.revoked.Load() {
		return ErrPermissionDenied
	}
	return s.step(s.ctx)
}

// Cancel 结束订阅，可重复调用，也可以在回调内部调用。返回后不会再开始新的回调；
// 回调未在执行时会等到锁释放，在回调执行中调用时不等待（正在执行的回调照常返回）
func (s *Subscription) Cancel() {
	s.cancelled.Store(true)
	s.cancel()
	s.hub.remove(s)
	if s.inCallback.Load() {
		return
	}
	s.mu.Lock()
	s.mu.Unlock() //nolint:staticcheck // 只用于等待 invoke 退出
}

// Done 订阅结束（取消、权限失效或出错）后关闭
func (s *Subscription) Done() <-chan struct{} { return s.done }
