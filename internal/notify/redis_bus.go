package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/social-core/pkg/logger"
)

// RedisBus 通过 redis pub/sub 在多个实例间广播变更；
// 本实例发布的消息也经 redis 回流后再分发给本地订阅者
type RedisBus struct {
	local   *LocalBus
	client  *redis.Client
	channel string
	pubsub  *redis.PubSub
	done    chan struct{}
}

func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	return &RedisBus{local: NewLocalBus(), client: client, channel: channel, done: make(chan struct{})}
}

// Start 订阅频道并启动分发 goroutine，返回前确认订阅已生效
func (b *RedisBus) Start(ctx context.Context) error {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.pubsub = ps

	go func() {
		defer close(b.done)
		for msg := range ps.Channel() {
			var ch Change
			if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
				logger.Warn("notify: drop malformed change", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			b.local.dispatch(ch)
		}
	}()
	return nil
}

func (b *RedisBus) Publish(ctx context.Context, ch Change) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBus) Subscribe(h Handler) func() { return b.local.Subscribe(h) }

// Close 关闭订阅并等待分发 goroutine 退出
func (b *RedisBus) Close() error {
	if b.pubsub == nil {
		return nil
	}
	err := b.pubsub.Close()
	<-b.done
	return err
}
