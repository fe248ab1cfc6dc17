package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/social-core/config"
	"github.com/d60-Lab/social-core/internal/model"
	"github.com/d60-Lab/social-core/internal/repository"
	"github.com/d60-Lab/social-core/internal/service"
	"github.com/d60-Lab/social-core/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
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

// runConcurrent 用 conc 个 worker 执行 n 次 op，返回每次耗时与总耗时
func runConcurrent(n, conc int, op func(i int) error) ([]time.Duration, time.Duration, int) {
	if conc > n {
		conc = n
	}
	feed := make(chan int, n)
	for i := 0; i < n; i++ {
		feed <- i
	}
	close(feed)

	type rec struct {
		d   time.Duration
		err error
	}
	out := make(chan rec, n)
	done := make(chan struct{}, conc)
	t0 := time.Now()
	for w := 0; w < conc; w++ {
		go func() {
			for i := range feed {
				st := time.Now()
				err := op(i)
				out <- rec{d: time.Since(st), err: err}
			}
			done <- struct{}{}
		}()
	}
	for w := 0; w < conc; w++ {
		<-done
	}
	total := time.Since(t0)
	close(out)

	recs := make([]time.Duration, 0, n)
	failed := 0
	for r := range out {
		recs = append(recs, r.d)
		if r.err != nil {
			failed++
		}
	}
	return recs, total, failed
}

func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))

	N := envInt("N", 10000)
	CONC := envInt("CONC", 1)
	PAGE := envInt("PAGE", 50)

	store := repository.NewGraphStore(db)
	reconciler := service.NewReconciler(store, cfg.Graph.ReconcileQueue)
	stop := reconciler.Start(cfg.Graph.ReconcileWorkers)
	relSvc := service.NewRelationshipService(store, reconciler, cfg.Graph.Transactional)

	ctx := context.Background()

	// u0 是目标用户，其余 N 个用户向 u0 发起关注请求
	celeb := model.User{ID: "u0", Handle: "u0_celebrity", DisplayName: "u0"}
	_ = db.Where("id = ?", celeb.ID).FirstOrCreate(&celeb).Error
	users := make([]model.User, N)
	for i := 0; i < N; i++ {
		id := uuid.New().String()
		users[i] = model.User{ID: id, Handle: "u" + strings.ReplaceAll(id, "-", "")[:24], DisplayName: "u" + id[:8]}
	}
	_ = db.CreateInBatches(&users, 1000).Error

	repMetrics := reconciler.Metrics()
	repRecs := make([]time.Duration, 0, 1024)
	doneRep := make(chan struct{})
	go func() {
		for {
			select {
			case d := <-repMetrics:
				repRecs = append(repRecs, d)
			case <-doneRep:
				return
			}
		}
	}()

	maxQ := 0
	quitSample := make(chan struct{})
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if q := reconciler.QueueLen(); q > maxQ {
					maxQ = q
				}
			case <-quitSample:
				return
			}
		}
	}()

	followRecs, followDur, followErr := runConcurrent(N, CONC, func(i int) error {
		_, err := relSvc.Follow(ctx, users[i].ID, celeb.ID)
		return err
	})

	q0 := time.Now()
	pending, _ := relSvc.ListPendingRequests(ctx, celeb.ID)
	pendingDur := time.Since(q0)

	acceptRecs, acceptDur, acceptErr := runConcurrent(N, CONC, func(i int) error {
		return relSvc.AcceptFollowRequest(ctx, celeb.ID, users[i].ID)
	})
	close(quitSample)

	q1 := time.Now()
	_, _ = relSvc.ListFollowers(ctx, celeb.ID, 1, PAGE)
	fansDur := time.Since(q1)

	q2 := time.Now()
	_, _ = relSvc.ListFollowing(ctx, users[0].ID, 1, PAGE)
	follDur := time.Since(q2)

	drainStart := time.Now()
	_ = stop(context.Background())
	drainDur := time.Since(drainStart)
	close(doneRep)

	sw0 := time.Now()
	sweep, err := reconciler.Sweep(ctx, false)
	sweepDur := time.Since(sw0)

	fmt.Printf("N=%d, CONC=%d, PAGE=%d, transactional=%v\n", N, CONC, PAGE, cfg.Graph.Transactional)
	fmt.Printf("Follow (none->pending) total: %v, per op: %v, p50: %v, p95: %v, p99: %v, errors: %d\n",
		followDur, followDur/time.Duration(N), pct(followRecs, 0.50), pct(followRecs, 0.95), pct(followRecs, 0.99), followErr)
	fmt.Printf("Accept (pending->accepted) total: %v, per op: %v, p50: %v, p95: %v, p99: %v, errors: %d\n",
		acceptDur, acceptDur/time.Duration(N), pct(acceptRecs, 0.50), pct(acceptRecs, 0.95), pct(acceptRecs, 0.99), acceptErr)
	fmt.Printf("Query pending(%d rows) latency: %v\n", len(pending), pendingDur)
	fmt.Printf("Query followers(%d) latency: %v\n", PAGE, fansDur)
	fmt.Printf("Query following(%d) latency: %v\n", PAGE, follDur)
	if len(repRecs) > 0 {
		fmt.Printf("Repair: samples=%d, p50=%v, p95=%v, p99=%v, maxQueue=%d, drain=%v\n",
			len(repRecs), pct(repRecs, 0.50), pct(repRecs, 0.95), pct(repRecs, 0.99), maxQ, drainDur)
	}
	if err != nil {
		fmt.Printf("Sweep failed: %v\n", err)
		return
	}
	fmt.Printf("Sweep: scanned=%d inconsistent=%d in %v\n", sweep.Scanned, sweep.Inconsistent, sweepDur)
}
