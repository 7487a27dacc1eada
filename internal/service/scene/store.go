package scene

import (
	"context"
	"errors"
	"fmt"
	"time"

	"plum/internal/model/scene"
	"plum/internal/pkg/id"
	"plum/internal/pkg/scenetools"
	repo "plum/internal/repository/scene"
)

// Store 缓存存储门面
// 对协调器屏蔽存储后端差异（MongoDB / SQLite），统一做描述符规范化、
// ID 分配和错误分类。条目一经写入不可变
type Store struct {
	entries repo.EntryRepository
	usage   repo.UsageRepository
	norm    *scenetools.Normalizer
}

// StoreStats 缓存统计
type StoreStats struct {
	EntryCount int64 `json:"entry_count"`
	UsageCount int64 `json:"usage_count"`
}

// NewStore 创建缓存存储门面
func NewStore(entries repo.EntryRepository, usage repo.UsageRepository, norm *scenetools.Normalizer) *Store {
	if norm == nil {
		norm = scenetools.NewNormalizer()
	}
	return &Store{
		entries: entries,
		usage:   usage,
		norm:    norm,
	}
}

// Insert 写入新缓存条目
// 描述符在入口处规范化；image_path 必须非空（条目必须指向已存在的图片资源）
func (s *Store) Insert(ctx context.Context, descriptor scene.Descriptor, imagePath string, source scene.ImageSource) (*scene.CacheEntry, error) {
	if imagePath == "" {
		return nil, fmt.Errorf("image path is required")
	}

	switch source {
	case scene.SourceGenerated, scene.SourceReference, scene.SourceManual:
	default:
		return nil, fmt.Errorf("invalid image source: %q", source)
	}

	entry := &scene.CacheEntry{
		EntryID:    id.New(),
		Descriptor: s.norm.NormalizeDescriptor(descriptor),
		ImagePath:  imagePath,
		Source:     source,
		CreatedAt:  time.Now(),
	}

	if err := s.entries.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("%w: insert entry: %v", ErrStoreUnavailable, err)
	}
	return entry, nil
}

// GetEntry 按条目ID读取
func (s *Store) GetEntry(ctx context.Context, entryID string) (*scene.CacheEntry, error) {
	entry, err := s.entries.FindByID(ctx, entryID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
		}
		return nil, fmt.Errorf("%w: find entry: %v", ErrStoreUnavailable, err)
	}
	return entry, nil
}

// ListCandidates 按角色集合预筛匹配候选
// 传入的角色集合应当已规范化（抽取阶段保证）
func (s *Store) ListCandidates(ctx context.Context, characters []string) ([]*scene.CacheEntry, error) {
	candidates, err := s.entries.ListByCharacters(ctx, scenetools.NormalizeCharacters(characters))
	if err != nil {
		return nil, fmt.Errorf("%w: list candidates: %v", ErrStoreUnavailable, err)
	}
	return candidates, nil
}

// IneligibleEntries 防重复窗口内不可复用的条目ID集合
// 窗口为 [position-N, position-1]，窗口为空时返回空集合
func (s *Store) IneligibleEntries(ctx context.Context, job scene.JobSegmentContext) (map[string]struct{}, error) {
	blocked := make(map[string]struct{})

	start, end := job.WindowStart(), job.WindowEnd()
	if end < start {
		return blocked, nil
	}

	ids, err := s.usage.EntriesUsedInWindow(ctx, job.JobID, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: query usage window: %v", ErrStoreUnavailable, err)
	}

	for _, entryID := range ids {
		blocked[entryID] = struct{}{}
	}
	return blocked, nil
}

// RecordUsage 记录条目在某片段被使用
// (job_id, segment_position) 上幂等：重复调用不产生第二条记录。
// entry_id 必须指向已存在的条目，否则返回 ErrEntryNotFound，
// 避免悬空的使用记录污染防重复窗口和断点续跑
func (s *Store) RecordUsage(ctx context.Context, entryID, jobID string, segmentPosition int) (bool, error) {
	if _, err := s.entries.FindByID(ctx, entryID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
		}
		return false, fmt.Errorf("%w: find entry: %v", ErrStoreUnavailable, err)
	}

	recorded, err := s.usage.Record(ctx, &scene.UsageRecord{
		EntryID:         entryID,
		JobID:           jobID,
		SegmentPosition: segmentPosition,
		UsedAt:          time.Now(),
	})
	if err != nil {
		return false, fmt.Errorf("%w: record usage: %v", ErrStoreUnavailable, err)
	}
	return recorded, nil
}

// UsageByJob 任务的全部使用记录（断点续跑时用于跳过已完成片段）
func (s *Store) UsageByJob(ctx context.Context, jobID string) ([]*scene.UsageRecord, error) {
	records, err := s.usage.FindByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: query job usage: %v", ErrStoreUnavailable, err)
	}
	return records, nil
}

// UsageByEntry 条目的使用日志（管理接口用）
func (s *Store) UsageByEntry(ctx context.Context, entryID string) ([]*scene.UsageRecord, error) {
	records, err := s.usage.FindByEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("%w: query entry usage: %v", ErrStoreUnavailable, err)
	}
	return records, nil
}

// List 分页列出条目（管理接口用）
func (s *Store) List(ctx context.Context, limit, offset int64) ([]*scene.CacheEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := s.entries.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list entries: %v", ErrStoreUnavailable, err)
	}
	return entries, nil
}

// Stats 缓存统计
func (s *Store) Stats(ctx context.Context) (*StoreStats, error) {
	entryCount, err := s.entries.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: count entries: %v", ErrStoreUnavailable, err)
	}
	usageCount, err := s.usage.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: count usage: %v", ErrStoreUnavailable, err)
	}
	return &StoreStats{
		EntryCount: entryCount,
		UsageCount: usageCount,
	}, nil
}
