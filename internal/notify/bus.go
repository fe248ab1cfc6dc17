package notify

import (
	"context"
	"sync"
)

// Change 会话发生变化（新消息、已读）后广播的事件
type Change struct {
	ConversationID string   `json:"conversation_id"`
	Participants   []string `json:"participants"`
	// MessageSeq 新消息的插入序；已读等不产生消息的变化为 0
	MessageSeq int64 `json:"message_seq,omitempty"`
}

type Handler func(Change)

// Bus 变更总线：单进程用 LocalBus，多实例用 RedisBus
type Bus interface {
	Publish(ctx context.Context, ch Change) error
	Subscribe(h Handler) (unsubscribe func())
}

// LocalBus 进程内同步分发
type LocalBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]Handler)}
}

func (b *LocalBus) Publish(_ context.Context, ch Change) error {
	b.dispatch(ch)
	return nil
}

func (b *LocalBus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

func (b *LocalBus) dispatch(ch Change) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.RUnlock()
	for _, h := range hs {
		h(ch)
	}
}
