package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/social-core/internal/model"
	"github.com/d60-Lab/social-core/internal/repository"
	apperrors "github.com/d60-Lab/social-core/pkg/errors"
	"github.com/d60-Lab/social-core/pkg/logger"
)

// SearchLimit handle 前缀搜索最多返回条数
const SearchLimit = 5

// Profile 会话列表、关系列表展示所需的最小用户信息
type Profile struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Store 用户资料读取接口，不存在时返回 nil, nil
type Store interface {
	GetProfile(ctx context.Context, id string) (*Profile, error)
}

// UpdateInput 合并更新，nil 字段保持原值
type UpdateInput struct {
	Handle      *string
	DisplayName *string
	AvatarURL   *string
}

// Directory 用户资料目录：数据库为准，redis 做读穿缓存（cache 可为 nil）
type Directory struct {
	users repository.UserRepository
	cache *redis.Client
	ttl   time.Duration

	cacheHits atomic.Int64
	bulkLoads atomic.Int64
}

func NewDirectory(users repository.UserRepository, cache *redis.Client, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Directory{users: users, cache: cache, ttl: ttl}
}

func cacheKey(id string) string { return fmt.Sprintf("profile:%s", id) }

func fromUser(u *model.User) Profile {
	return Profile{ID: u.ID, Handle: u.Handle, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
}

func (d *Directory) GetProfile(ctx context.Context, id string) (*Profile, error) {
	list, err := d.LoadProfiles(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// LoadProfiles 按 ids 顺序返回资料，不存在的用户直接跳过
func (d *Directory) LoadProfiles(ctx context.Context, ids []string) ([]Profile, error) {
	if len(ids) == 0 {
		return []Profile{}, nil
	}

	found := make(map[string]Profile, len(ids))
	if d.cache != nil {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = cacheKey(id)
		}
		if vals, err := d.cache.MGet(ctx, keys...).Result(); err == nil {
			for i, v := range vals {
				str, ok := v.(string)
				if !ok {
					continue
				}
				var p Profile
				if uErr := json.Unmarshal([]byte(str), &p); uErr == nil {
					found[ids[i]] = p
					d.cacheHits.Add(1)
				}
			}
		} else {
			logger.Warn("profile cache mget failed", zap.Error(err))
		}
	}

	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		d.bulkLoads.Add(1)
		users, err := d.users.GetByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			p := fromUser(u)
			found[u.ID] = p
			d.store(ctx, p)
		}
	}

	result := make([]Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

// Search handle 前缀搜索，输入先做小写/去空白
func (d *Directory) Search(ctx context.Context, query string) ([]Profile, error) {
	q := model.NormalizeHandle(query)
	if q == "" {
		return []Profile{}, nil
	}
	users, err := d.users.SearchByHandlePrefix(ctx, q, SearchLimit)
	if err != nil {
		return nil, err
	}
	res := make([]Profile, len(users))
	for i, u := range users {
		res[i] = fromUser(u)
	}
	return res, nil
}

// Update 合并写入资料；用户不存在时创建（此时 handle 必填）
func (d *Directory) Update(ctx context.Context, id string, in UpdateInput) (*Profile, error) {
	if id == "" {
		return nil, apperrors.InvalidArg("user id is required")
	}
	fields := map[string]interface{}{}
	if in.Handle != nil {
		h := model.NormalizeHandle(*in.Handle)
		if h == "" {
			return nil, apperrors.InvalidArg("handle must not be empty")
		}
		taken, err := d.users.HandleTaken(ctx, h, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, apperrors.AlreadyExists("handle already taken")
		}
		fields["handle"] = h
	}
	if in.DisplayName != nil {
		fields["display_name"] = *in.DisplayName
	}
	if in.AvatarURL != nil {
		fields["avatar_url"] = *in.AvatarURL
	}

	existing, err := d.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		h, ok := fields["handle"].(string)
		if !ok {
			return nil, apperrors.InvalidArg("handle is required for a new profile")
		}
		u := &model.User{ID: id, Handle: h}
		if in.DisplayName != nil {
			u.DisplayName = *in.DisplayName
		}
		if in.AvatarURL != nil {
			u.AvatarURL = *in.AvatarURL
		}
		if err := d.users.Create(ctx, u); err != nil {
			return nil, err
		}
	} else if len(fields) > 0 {
		if err := d.users.Update(ctx, id, fields); err != nil {
			return nil, err
		}
	}

	d.invalidate(ctx, id)
	u, err := d.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperrors.NotFound("profile not found")
	}
	p := fromUser(u)
	return &p, nil
}

// Register 生成新 ID 并创建资料
func (d *Directory) Register(ctx context.Context, handle, displayName string) (*Profile, error) {
	h := model.NormalizeHandle(handle)
	return d.Update(ctx, uuid.New().String(), UpdateInput{Handle: &h, DisplayName: &displayName})
}

func (d *Directory) store(ctx context.Context, p Profile) {
	if d.cache == nil {
		return
	}
	if payload, err := json.Marshal(p); err == nil {
		_ = d.cache.Set(ctx, cacheKey(p.ID), payload, d.ttl).Err()
	}
}

func (d *Directory) invalidate(ctx context.Context, id string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Del(ctx, cacheKey(id)).Err(); err != nil {
		logger.Warn("profile cache invalidate failed", zap.String("user", id), zap.Error(err))
	}
}

// ResetCounters clears recorded cache/db counters.
func (d *Directory) ResetCounters() {
	d.cacheHits.Store(0)
	d.bulkLoads.Store(0)
}

// Counters reports cache hits and how many bulk DB loads were executed.
func (d *Directory) Counters() DirectoryCounters {
	return DirectoryCounters{CacheHits: d.cacheHits.Load(), BulkLoads: d.bulkLoads.Load()}
}

type DirectoryCounters struct {
	CacheHits int64
	BulkLoads int64
}
