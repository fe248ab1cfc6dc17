package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/social-core/config"
	"github.com/d60-Lab/social-core/internal/model"
	"github.com/d60-Lab/social-core/internal/profile"
	"github.com/d60-Lab/social-core/internal/repository"
	"github.com/d60-Lab/social-core/pkg/database"
)

type request struct {
	owner string
	page  int
	size  int
}

type scenarioResult struct {
	durations   []time.Duration
	counters    profile.DirectoryCounters
	cacheKeys   int
	memoryBytes int64
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))

	userCount := 20000
	if s := os.Getenv("USERS"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			userCount = v
		}
	}
	const ttl = 10 * time.Minute

	fmt.Println("Setting up test data...")

	// 3 个被关注者，粉丝集合两两重叠 50%
	owners := []model.User{
		{ID: "owner1", Handle: "owner1", DisplayName: "Owner 1"},
		{ID: "owner2", Handle: "owner2", DisplayName: "Owner 2"},
		{ID: "owner3", Handle: "owner3", DisplayName: "Owner 3"},
	}
	for i := range owners {
		_ = db.Where("id = ?", owners[i].ID).FirstOrCreate(&owners[i]).Error
	}

	users := make([]model.User, userCount)
	for i := range users {
		id := uuid.NewString()
		users[i] = model.User{ID: id, Handle: "f" + strings.ReplaceAll(id, "-", "")[:20], DisplayName: fmt.Sprintf("user_%d", i)}
	}
	mustDo(db.CreateInBatches(&users, 1000).Error)

	half := userCount / 2
	offsets := []int{0, userCount / 4, userCount * 3 / 8}
	base := time.Now().UTC()
	for o, owner := range owners {
		rows := make([]model.FollowerEdge, half)
		for i := 0; i < half; i++ {
			rows[i] = model.FollowerEdge{
				ID:         uuid.NewString(),
				UserID:     owner.ID,
				FollowerID: users[(i+offsets[o])%userCount].ID,
				FollowedAt: base.Add(-time.Duration(i) * time.Second),
			}
		}
		mustDo(db.CreateInBatches(&rows, 1000).Error)
	}
	fmt.Println("Test data ready: 3 owners with overlapping followers")

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = cfg.Redis.Addr
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr, Password: cfg.Redis.Password})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis at %s: %v", redisAddr, err))
	}

	followers := repository.NewFollowerRepository(db)
	userRepo := repository.NewUserRepository(db)
	reqs := makeRequests(owners, 9000)

	noCache := runScenario(ctx, profile.NewDirectory(userRepo, nil, ttl), followers, reqs, false, client)
	cached := runScenario(ctx, profile.NewDirectory(userRepo, client, ttl), followers, reqs, true, client)

	fmt.Printf("\nFollower page enrichment (%d req across 3 owners, %d users, redis profile cache)\n", len(reqs), userCount)
	for _, row := range []struct {
		name string
		res  scenarioResult
	}{{"No cache", noCache}, {"Profile cache", cached}} {
		fmt.Printf("%-14s avg=%v p95=%v p99=%v cache_hits=%d db_bulk=%d cache_keys=%d mem=%s\n",
			row.name, avg(row.res.durations), pct(row.res.durations, 0.95), pct(row.res.durations, 0.99),
			row.res.counters.CacheHits, row.res.counters.BulkLoads, row.res.cacheKeys, formatBytes(row.res.memoryBytes))
	}
}

// runScenario 每个请求：分页读粉丝 id，再批量补全资料
func runScenario(ctx context.Context, dir *profile.Directory, followers repository.FollowerRepository, reqs []request, warm bool, client *redis.Client) scenarioResult {
	client.FlushAll(ctx)

	call := func(r request) error {
		rows, err := followers.ListFollowers(ctx, r.owner, (r.page-1)*r.size, r.size)
		if err != nil {
			return err
		}
		ids := make([]string, len(rows))
		for i, row := range rows {
			ids[i] = row.FollowerID
		}
		_, err = dir.LoadProfiles(ctx, ids)
		return err
	}

	if warm {
		fmt.Print("  Warming cache...")
		for _, r := range reqs {
			mustDo(call(r))
		}
		fmt.Println(" done")
	}
	dir.ResetCounters()

	fmt.Print("  Running benchmark...")
	out := make([]time.Duration, 0, len(reqs))
	for _, r := range reqs {
		start := time.Now()
		mustDo(call(r))
		out = append(out, time.Since(start))
	}
	fmt.Println(" done")

	keyCount := len(client.Keys(ctx, "profile:*").Val())
	var memBytes int64
	if info, err := client.Info(ctx, "memory").Result(); err == nil {
		memBytes = parseRedisMemory(info)
	}
	return scenarioResult{durations: out, counters: dir.Counters(), cacheKeys: keyCount, memoryBytes: memBytes}
}

// parseRedisMemory 从 INFO memory 中取 used_memory
func parseRedisMemory(info string) int64 {
	for _, line := range strings.Split(info, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "used_memory:"); ok {
			n, _ := strconv.ParseInt(v, 10, 64)
			return n
		}
	}
	return 0
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func makeRequests(owners []model.User, n int) []request {
	sizes := []int{20, 40, 60}
	out := make([]request, n)
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < n; i++ {
		page := 1
		if rnd.Float64() > 0.72 {
			// 深分页
			page = 2 + rnd.Intn(120)
		}
		out[i] = request{owner: owners[i%len(owners)].ID, page: page, size: sizes[rnd.Intn(len(sizes))]}
	}
	return out
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range vs {
		sum += v
	}
	return sum / time.Duration(len(vs))
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}
