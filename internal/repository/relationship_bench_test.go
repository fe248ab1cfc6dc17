package repository

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/d60-Lab/social-core/internal/model"
	"github.com/d60-Lab/social-core/internal/testutil"
)

func BenchmarkFollowAccept_ThreeTables(b *testing.B) {
	db := testutil.NewTestDB(b)
	store := NewGraphStore(db)
	ctx := context.Background()

	users := make([]string, 1000)
	for i := range users {
		users[i] = fmt.Sprintf("u%04d", i)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		from := users[rng.Intn(len(users))]
		to := users[rng.Intn(len(users))]
		if from == to {
			continue
		}
		now := time.Now()
		_ = store.Atomically(ctx, func(tx *GraphStore) error {
			if err := tx.Requests.Create(ctx, to, from, now); err != nil {
				return err
			}
			if err := tx.Follows.CreatePending(ctx, from, to, now); err != nil {
				return err
			}
			if _, err := tx.Requests.Delete(ctx, to, from); err != nil {
				return err
			}
			if err := tx.Followers.Create(ctx, to, from, now); err != nil {
				return err
			}
			return tx.Follows.MarkAccepted(ctx, from, to, now)
		})
	}
}

func BenchmarkQueryFollowersAndFollowing(b *testing.B) {
	db := testutil.NewTestDB(b)
	store := NewGraphStore(db)
	ctx := context.Background()

	// 构造：u0 有 N 个粉丝，同时 u0 也关注 N 个用户
	const N = 5000
	now := time.Now()
	for i := 1; i <= N; i++ {
		uid := fmt.Sprintf("u%v", i)
		_ = store.Follows.MarkAccepted(ctx, uid, "u0", now)
		_ = store.Followers.Create(ctx, "u0", uid, now)
		_ = store.Follows.MarkAccepted(ctx, "u0", uid, now)
		_ = store.Followers.Create(ctx, uid, "u0", now)
	}

	b.ResetTimer()
	b.Run("ListFollowers", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = store.Followers.ListFollowers(ctx, "u0", 0, 50)
		}
	})

	b.Run("ListFollowing", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = store.Follows.ListFollowings(ctx, "u0", model.FollowStatusAccepted, 0, 50)
		}
	})

	b.Run("CountFollowers", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = store.Followers.Count(ctx, "u0")
		}
	})
}
