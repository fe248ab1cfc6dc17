package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/social-core/internal/model"
	"github.com/d60-Lab/social-core/internal/repository"
	"github.com/d60-Lab/social-core/pkg/logger"
	"github.com/d60-Lab/social-core/pkg/monitor"
)

// Violation 一个用户对在三张表之间的不一致类型
type Violation string

const (
	ViolationRequestWithoutEdge      Violation = "request_without_edge"
	ViolationFollowerWithoutEdge     Violation = "follower_without_edge"
	ViolationPendingWithoutRequest   Violation = "pending_without_request"
	ViolationPendingWithFollower     Violation = "pending_with_follower"
	ViolationAcceptedWithoutFollower Violation = "accepted_without_follower"
	ViolationAcceptedWithRequest     Violation = "accepted_with_request"
)

// PairReport 一个用户对在三张表中的实际状态
type PairReport struct {
	Pair        model.FollowPair   `json:"pair"`
	Status      model.FollowStatus `json:"status"`
	HasRequest  bool               `json:"has_request"`
	HasFollower bool               `json:"has_follower"`
	Violations  []Violation        `json:"violations,omitempty"`
}

func (r PairReport) Consistent() bool { return len(r.Violations) == 0 }

// classifyPair 合法状态只有三种：无关系；pending+请求；accepted+粉丝边
func classifyPair(status model.FollowStatus, hasRequest, hasFollower bool) []Violation {
	var v []Violation
	switch status {
	case model.FollowStatusPending:
		if !hasRequest {
			v = append(v, ViolationPendingWithoutRequest)
		}
		if hasFollower {
			v = append(v, ViolationPendingWithFollower)
		}
	case model.FollowStatusAccepted:
		if !hasFollower {
			v = append(v, ViolationAcceptedWithoutFollower)
		}
		if hasRequest {
			v = append(v, ViolationAcceptedWithRequest)
		}
	default:
		if hasRequest {
			v = append(v, ViolationRequestWithoutEdge)
		}
		if hasFollower {
			v = append(v, ViolationFollowerWithoutEdge)
		}
	}
	return v
}

// SweepResult 一次全量对账的统计
type SweepResult struct {
	Scanned      int `json:"scanned"`
	Inconsistent int `json:"inconsistent"`
	Repaired     int `json:"repaired"`
}

// Reconciler 检测并修复关系链三张表的中间态；
// 非事务模式下失败的迁移通过 EnqueuePair 异步修复，另有定期全量扫描兜底
type Reconciler struct {
	store     *repository.GraphStore
	ch        chan model.FollowPair
	metricsCh chan time.Duration
	scanBatch int
	now       func() time.Time
}

func NewReconciler(store *repository.GraphStore, queueSize int) *Reconciler {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &Reconciler{
		store:     store,
		ch:        make(chan model.FollowPair, queueSize),
		metricsCh: make(chan time.Duration, 65536),
		scanBatch: 500,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start 启动 worker 消费修复队列；返回的停止函数会在超时前等待队列排空
func (r *Reconciler) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case pair := <-r.ch:
					r.process(pair)
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
	drain:
		for len(r.ch) > 0 {
			select {
			case <-ctx.Done():
				break drain
			case <-ticker.C:
			}
		}
		close(stopCh)
		wg.Wait()
		return ctx.Err()
	}
}

func (r *Reconciler) process(pair model.FollowPair) {
	st := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.RepairPair(ctx, pair); err != nil {
		logger.Error("reconcile pair failed", zap.String("pair", pair.String()), zap.Error(err))
		monitor.CaptureError(ctx, err, map[string]string{"component": "reconciler", "pair": pair.String()})
	}
	select {
	case r.metricsCh <- time.Since(st):
	default:
	}
}

func (r *Reconciler) EnqueuePair(pair model.FollowPair) {
	select {
	case r.ch <- pair:
	default:
		logger.Warn("reconciler queue full, drop pair", zap.String("requester", pair.RequesterID), zap.String("target", pair.TargetID))
	}
}

func inspect(ctx context.Context, g *repository.GraphStore, pair model.FollowPair) (PairReport, error) {
	rep := PairReport{Pair: pair, Status: model.FollowStatusNone}
	edge, err := g.Follows.Get(ctx, pair.RequesterID, pair.TargetID)
	if err != nil {
		return rep, err
	}
	if edge != nil {
		rep.Status = edge.Status
	}
	req, err := g.Requests.Get(ctx, pair.TargetID, pair.RequesterID)
	if err != nil {
		return rep, err
	}
	rep.HasRequest = req != nil
	if rep.HasFollower, err = g.Followers.Exists(ctx, pair.TargetID, pair.RequesterID); err != nil {
		return rep, err
	}
	rep.Violations = classifyPair(rep.Status, rep.HasRequest, rep.HasFollower)
	return rep, nil
}

// CheckPair 只读检查
func (r *Reconciler) CheckPair(ctx context.Context, pair model.FollowPair) (PairReport, error) {
	return inspect(ctx, r.store, pair)
}

// RepairPair 在一个事务内重新读取并修复，返回修复前的状态
func (r *Reconciler) RepairPair(ctx context.Context, pair model.FollowPair) (PairReport, error) {
	var found PairReport
	err := r.store.Atomically(ctx, func(g *repository.GraphStore) error {
		rep, err := inspect(ctx, g, pair)
		if err != nil {
			return err
		}
		found = rep
		if rep.Consistent() {
			return nil
		}
		return r.repair(ctx, g, rep)
	})
	if err != nil {
		return found, err
	}
	if !found.Consistent() {
		r.report(ctx, found, true)
	}
	return found, nil
}

// repair 只把用户对推向三种合法状态之一：
// 无边时清空请求/粉丝边；pending 有粉丝边视为 accept 未完成；pending 缺请求时补请求；accepted 补粉丝边并清请求
func (r *Reconciler) repair(ctx context.Context, g *repository.GraphStore, rep PairReport) error {
	p := rep.Pair
	now := r.now()
	switch rep.Status {
	case model.FollowStatusPending:
		if rep.HasFollower {
			if err := g.Follows.MarkAccepted(ctx, p.RequesterID, p.TargetID, now); err != nil {
				return err
			}
			_, err := g.Requests.Delete(ctx, p.TargetID, p.RequesterID)
			return err
		}
		return g.Requests.Create(ctx, p.TargetID, p.RequesterID, now)
	case model.FollowStatusAccepted:
		if !rep.HasFollower {
			if err := g.Followers.Create(ctx, p.TargetID, p.RequesterID, now); err != nil {
				return err
			}
		}
		_, err := g.Requests.Delete(ctx, p.TargetID, p.RequesterID)
		return err
	default:
		if _, err := g.Requests.Delete(ctx, p.TargetID, p.RequesterID); err != nil {
			return err
		}
		_, err := g.Followers.Delete(ctx, p.TargetID, p.RequesterID)
		return err
	}
}

func (r *Reconciler) report(ctx context.Context, rep PairReport, repaired bool) {
	vs := make([]string, len(rep.Violations))
	for i, v := range rep.Violations {
		vs[i] = string(v)
	}
	logger.Warn("graph pair inconsistent",
		zap.String("requester", rep.Pair.RequesterID),
		zap.String("target", rep.Pair.TargetID),
		zap.String("status", string(rep.Status)),
		zap.Strings("violations", vs),
		zap.Bool("repaired", repaired),
	)
	monitor.CaptureMessage(ctx, "graph pair inconsistent", map[string]string{
		"component": "reconciler",
		"pair":      rep.Pair.String(),
		"violation": vs[0],
	})
}

// Sweep 遍历三张表覆盖的全部用户对；repair=false 时只统计和上报
func (r *Reconciler) Sweep(ctx context.Context, repair bool) (SweepResult, error) {
	var res SweepResult
	seen := make(map[model.FollowPair]struct{})

	visit := func(pair model.FollowPair) error {
		if _, ok := seen[pair]; ok {
			return nil
		}
		seen[pair] = struct{}{}
		res.Scanned++

		if repair {
			rep, err := r.RepairPair(ctx, pair)
			if err != nil {
				return err
			}
			if !rep.Consistent() {
				res.Inconsistent++
				res.Repaired++
			}
			return nil
		}
		rep, err := r.CheckPair(ctx, pair)
		if err != nil {
			return err
		}
		if !rep.Consistent() {
			res.Inconsistent++
			r.report(ctx, rep, false)
		}
		return nil
	}

	for after := ""; ; {
		rows, err := r.store.Follows.Scan(ctx, after, r.scanBatch)
		if err != nil {
			return res, err
		}
		for _, e := range rows {
			if err := visit(model.FollowPair{RequesterID: e.FollowerID, TargetID: e.FolloweeID}); err != nil {
				return res, err
			}
		}
		if len(rows) < r.scanBatch {
			break
		}
		after = rows[len(rows)-1].ID
	}
	for after := ""; ; {
		rows, err := r.store.Requests.Scan(ctx, after, r.scanBatch)
		if err != nil {
			return res, err
		}
		for _, q := range rows {
			if err := visit(model.FollowPair{RequesterID: q.RequesterID, TargetID: q.TargetID}); err != nil {
				return res, err
			}
		}
		if len(rows) < r.scanBatch {
			break
		}
		after = rows[len(rows)-1].ID
	}
	for after := ""; ; {
		rows, err := r.store.Followers.Scan(ctx, after, r.scanBatch)
		if err != nil {
			return res, err
		}
		for _, f := range rows {
			if err := visit(model.FollowPair{RequesterID: f.FollowerID, TargetID: f.UserID}); err != nil {
				return res, err
			}
		}
		if len(rows) < r.scanBatch {
			break
		}
		after = rows[len(rows)-1].ID
	}
	return res, nil
}

// RunPeriodic 按固定间隔执行带修复的全量对账，ctx 取消后退出
func (r *Reconciler) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := r.Sweep(ctx, true)
			if err != nil {
				logger.Error("reconcile sweep failed", zap.Error(err))
				continue
			}
			logger.Info("reconcile sweep done", zap.Int("scanned", res.Scanned), zap.Int("inconsistent", res.Inconsistent), zap.Int("repaired", res.Repaired))
		}
	}
}

// Metrics 返回每次修复耗时的只读通道
func (r *Reconciler) Metrics() <-chan time.Duration { return r.metricsCh }

// QueueLen 返回当前修复队列长度（采样值）
func (r *Reconciler) QueueLen() int { return len(r.ch) }
