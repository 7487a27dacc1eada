package scene

import (
	"context"
	"errors"

	"plum/internal/model/scene"
)

// ErrNotFound 记录不存在
// 两种存储后端统一映射到该哨兵错误，service 层据此区分"未命中"和"存储故障"
var ErrNotFound = errors.New("record not found")

// EntryRepository 缓存条目仓库接口（供 service 层依赖）
type EntryRepository interface {
	// Create 写入新条目（条目创建后不可变，没有 Update）
	Create(ctx context.Context, entry *scene.CacheEntry) error
	// FindByID 按条目ID查询，未找到返回 ErrNotFound
	FindByID(ctx context.Context, entryID string) (*scene.CacheEntry, error)
	// ListByCharacters 按角色集合预筛候选：候选的角色集合必须覆盖给定集合；
	// 给定集合为空时只返回角色为空的条目
	ListByCharacters(ctx context.Context, characters []string) ([]*scene.CacheEntry, error)
	// List 按创建时间倒序分页列出条目（管理接口用）
	List(ctx context.Context, limit, offset int64) ([]*scene.CacheEntry, error)
	// Count 条目总数
	Count(ctx context.Context) (int64, error)
}

// UsageRepository 使用记录仓库接口（供 service 层依赖）
type UsageRepository interface {
	// Record 追加使用记录；(job_id, segment_position) 上幂等，
	// 已存在时不覆盖并返回 recorded=false
	Record(ctx context.Context, rec *scene.UsageRecord) (recorded bool, err error)
	// FindByJob 按任务查询全部使用记录，按片段位置升序
	FindByJob(ctx context.Context, jobID string) ([]*scene.UsageRecord, error)
	// EntriesUsedInWindow 任务在片段区间 [startPos, endPos] 内使用过的条目ID去重集合
	EntriesUsedInWindow(ctx context.Context, jobID string, startPos, endPos int) ([]string, error)
	// FindByEntry 按条目查询使用日志，按使用时间升序
	FindByEntry(ctx context.Context, entryID string) ([]*scene.UsageRecord, error)
	// Count 使用记录总数
	Count(ctx context.Context) (int64, error)
}
