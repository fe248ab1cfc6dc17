package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/social-core/config"
	"github.com/d60-Lab/social-core/internal/model"
	"github.com/d60-Lab/social-core/internal/notify"
	"github.com/d60-Lab/social-core/internal/service"
	"github.com/d60-Lab/social-core/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))

	// params
	PAIRS := 50   // 会话数
	MSGS := 200   // 每个会话每一方发送的消息数
	WATCHERS := 1 // 每个会话订阅者数（每一方）
	if s := os.Getenv("PAIRS"); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			PAIRS = v
		}
	}
	if s := os.Getenv("MSGS"); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			MSGS = v
		}
	}
	if s := os.Getenv("WATCHERS"); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v >= 0 {
			WATCHERS = v
		}
	}

	bus := notify.NewLocalBus()
	chat := service.NewChatService(db, bus, cfg.Chat.MaxMessageLength)
	hub := service.NewSyncHub(chat)
	hub.Start(bus)
	defer hub.Stop()

	type pair struct{ a, b string }
	pairs := make([]pair, PAIRS)
	for i := range pairs {
		pairs[i] = pair{a: uuid.New().String(), b: uuid.New().String()}
	}

	// 订阅会话列表，统计推送次数
	var pushes sync.Map
	subs := make([]*service.Subscription, 0, PAIRS*2*WATCHERS)
	for _, p := range pairs {
		for _, uid := range []string{p.a, p.b} {
			for w := 0; w < WATCHERS; w++ {
				uid := uid
				sub, err := hub.SubscribeConversations(uid, func(service.ConversationListEvent) {
					v, _ := pushes.LoadOrStore(uid, new(int64))
					atomic.AddInt64(v.(*int64), 1)
				}, func(err error) { fmt.Printf("subscription %s failed: %v\n", uid, err) })
				if err != nil {
					panic(err)
				}
				subs = append(subs, sub)
			}
		}
	}

	// 两个方向并发发送，验证未读计数在并发下不丢失
	ctx := context.Background()
	var mu sync.Mutex
	sendDurations := make([]time.Duration, 0, PAIRS*MSGS*2)
	failures := 0
	var wg sync.WaitGroup
	t0 := time.Now()
	for _, p := range pairs {
		for _, dir := range [][2]string{{p.a, p.b}, {p.b, p.a}} {
			wg.Add(1)
			go func(from, to string) {
				defer wg.Done()
				local := make([]time.Duration, 0, MSGS)
				failed := 0
				for i := 0; i < MSGS; i++ {
					st := time.Now()
					if _, err := chat.SendMessage(ctx, from, to, fmt.Sprintf("hello %d", i)); err != nil {
						failed++
						continue
					}
					local = append(local, time.Since(st))
				}
				mu.Lock()
				sendDurations = append(sendDurations, local...)
				failures += failed
				mu.Unlock()
			}(dir[0], dir[1])
		}
	}
	wg.Wait()
	total := time.Since(t0)

	// 校验：每个会话消息数 = 2*MSGS；最后发送的一方未读为 0，另一方未读为对方连续发送的条数
	mismatched := 0
	for _, p := range pairs {
		convID := model.ConversationKey(p.a, p.b)
		msgs, err := chat.History(ctx, p.a, convID)
		if err != nil || len(msgs) != 2*MSGS {
			mismatched++
			continue
		}
		last := msgs[len(msgs)-1].SenderID
		streak := 0
		for i := len(msgs) - 1; i >= 0 && msgs[i].SenderID == last; i-- {
			streak++
		}
		summary, err := chat.GetConversation(ctx, p.a, convID)
		if err != nil || summary == nil {
			mismatched++
			continue
		}
		receiver := p.a
		if last == p.a {
			receiver = p.b
		}
		if summary.UnreadCount[last] != 0 || summary.UnreadCount[receiver] != streak {
			mismatched++
		}
	}

	for _, s := range subs {
		s.Cancel()
	}
	var pushTotal int64
	pushes.Range(func(_, v any) bool {
		pushTotal += atomic.LoadInt64(v.(*int64))
		return true
	})

	readStart := time.Now()
	list, _ := chat.ListConversations(ctx, pairs[0].a)
	readDur := time.Since(readStart)

	sent := len(sendDurations)
	fmt.Printf("PAIRS=%d MSGS=%d WATCHERS=%d\n", PAIRS, MSGS, WATCHERS)
	if sent > 0 {
		fmt.Printf("Send: total=%v sent=%d failed=%d throughput=%.0f/s p50=%v p95=%v p99=%v\n",
			total, sent, failures, float64(sent)/total.Seconds(), pct(sendDurations, 0.50), pct(sendDurations, 0.95), pct(sendDurations, 0.99))
	}
	fmt.Printf("Unread check: conversations=%d mismatched=%d\n", PAIRS, mismatched)
	fmt.Printf("List pushes delivered: %d (coalesced from %d sends)\n", pushTotal, sent)
	fmt.Printf("ListConversations(user0): %v, rows=%d\n", readDur, len(list))
}
