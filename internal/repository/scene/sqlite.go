package scene

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"plum/internal/model/scene"
)

// SQLiteStore 嵌入式 SQLite 存储
// 单机部署时替代 MongoDB，同时实现 EntryRepository 和 UsageRepository。
// 角色与风格标签以 JSON 文本列存储，角色覆盖筛选在进程内完成
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS scene_cache_entries (
	id         TEXT PRIMARY KEY,
	characters TEXT NOT NULL DEFAULT '[]',
	action     TEXT NOT NULL DEFAULT '',
	location   TEXT NOT NULL DEFAULT '',
	style_tags TEXT NOT NULL DEFAULT '[]',
	image_path TEXT NOT NULL,
	source     TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_created_at ON scene_cache_entries(created_at DESC);

CREATE TABLE IF NOT EXISTS scene_cache_usage (
	job_id           TEXT NOT NULL,
	segment_position INTEGER NOT NULL,
	entry_id         TEXT NOT NULL,
	used_at          DATETIME NOT NULL,
	PRIMARY KEY (job_id, segment_position)
);
CREATE INDEX IF NOT EXISTS idx_usage_entry_id ON scene_cache_usage(entry_id);
`

// OpenSQLite 打开（或创建）SQLite 数据库并初始化表结构
// path 为 ":memory:" 时使用内存库（测试用）
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// 限制单连接，规避 "database is locked"
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create 写入新条目
func (s *SQLiteStore) Create(ctx context.Context, entry *scene.CacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	characters, err := json.Marshal(emptySlice(entry.Descriptor.Characters))
	if err != nil {
		return fmt.Errorf("marshal characters: %w", err)
	}
	styleTags, err := json.Marshal(emptySlice(entry.Descriptor.StyleTags))
	if err != nil {
		return fmt.Errorf("marshal style tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scene_cache_entries (id, characters, action, location, style_tags, image_path, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.EntryID, string(characters), entry.Descriptor.Action, entry.Descriptor.Location,
		string(styleTags), entry.ImagePath, string(entry.Source), entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// FindByID 按条目ID查询
func (s *SQLiteStore) FindByID(ctx context.Context, entryID string) (*scene.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, characters, action, location, style_tags, image_path, source, created_at
		FROM scene_cache_entries WHERE id = ?`, entryID)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}

// ListByCharacters 按角色集合预筛候选
// SQLite 后端全量扫描后在进程内做覆盖判定（单机数据量有限）
func (s *SQLiteStore) ListByCharacters(ctx context.Context, characters []string) ([]*scene.CacheEntry, error) {
	entries, err := s.queryEntries(ctx, `
		SELECT id, characters, action, location, style_tags, image_path, source, created_at
		FROM scene_cache_entries ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}

	out := make([]*scene.CacheEntry, 0, len(entries))
	for _, entry := range entries {
		if coversAll(entry.Descriptor.Characters, characters) {
			out = append(out, entry)
		}
	}
	return out, nil
}

// List 按创建时间倒序分页列出条目
func (s *SQLiteStore) List(ctx context.Context, limit, offset int64) ([]*scene.CacheEntry, error) {
	return s.queryEntries(ctx, `
		SELECT id, characters, action, location, style_tags, image_path, source, created_at
		FROM scene_cache_entries ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
}

// Count 条目总数
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scene_cache_entries`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Record 追加使用记录
// INSERT OR IGNORE + 主键 (job_id, segment_position) 实现幂等
func (s *SQLiteStore) Record(ctx context.Context, rec *scene.UsageRecord) (bool, error) {
	if rec.UsedAt.IsZero() {
		rec.UsedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO scene_cache_usage (job_id, segment_position, entry_id, used_at)
		VALUES (?, ?, ?, ?)`,
		rec.JobID, rec.SegmentPosition, rec.EntryID, rec.UsedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert usage: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// FindByJob 按任务查询全部使用记录，按片段位置升序
func (s *SQLiteStore) FindByJob(ctx context.Context, jobID string) ([]*scene.UsageRecord, error) {
	return s.queryUsage(ctx, `
		SELECT entry_id, job_id, segment_position, used_at
		FROM scene_cache_usage WHERE job_id = ? ORDER BY segment_position ASC`, jobID)
}

// EntriesUsedInWindow 任务在片段区间内使用过的条目ID去重集合
func (s *SQLiteStore) EntriesUsedInWindow(ctx context.Context, jobID string, startPos, endPos int) ([]string, error) {
	if endPos < startPos {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT entry_id FROM scene_cache_usage
		WHERE job_id = ? AND segment_position BETWEEN ? AND ?`,
		jobID, startPos, endPos)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// FindByEntry 按条目查询使用日志，按使用时间升序
func (s *SQLiteStore) FindByEntry(ctx context.Context, entryID string) ([]*scene.UsageRecord, error) {
	return s.queryUsage(ctx, `
		SELECT entry_id, job_id, segment_position, used_at
		FROM scene_cache_usage WHERE entry_id = ? ORDER BY used_at ASC`, entryID)
}

// UsageCount 使用记录总数
func (s *SQLiteStore) UsageCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scene_cache_usage`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// SQLiteEntryRepo 缓存条目仓库视图（实现 EntryRepository）
// 条目和使用记录共用同一个 SQLiteStore，两个视图只是接口适配
type SQLiteEntryRepo struct {
	store *SQLiteStore
}

// NewSQLiteEntryRepo 创建 SQLite 条目仓库视图
func NewSQLiteEntryRepo(store *SQLiteStore) *SQLiteEntryRepo {
	return &SQLiteEntryRepo{store: store}
}

func (r *SQLiteEntryRepo) Create(ctx context.Context, entry *scene.CacheEntry) error {
	return r.store.Create(ctx, entry)
}

func (r *SQLiteEntryRepo) FindByID(ctx context.Context, entryID string) (*scene.CacheEntry, error) {
	return r.store.FindByID(ctx, entryID)
}

func (r *SQLiteEntryRepo) ListByCharacters(ctx context.Context, characters []string) ([]*scene.CacheEntry, error) {
	return r.store.ListByCharacters(ctx, characters)
}

func (r *SQLiteEntryRepo) List(ctx context.Context, limit, offset int64) ([]*scene.CacheEntry, error) {
	return r.store.List(ctx, limit, offset)
}

func (r *SQLiteEntryRepo) Count(ctx context.Context) (int64, error) {
	return r.store.Count(ctx)
}

// SQLiteUsageRepo 使用记录仓库视图（实现 UsageRepository）
type SQLiteUsageRepo struct {
	store *SQLiteStore
}

// NewSQLiteUsageRepo 创建 SQLite 使用记录仓库视图
func NewSQLiteUsageRepo(store *SQLiteStore) *SQLiteUsageRepo {
	return &SQLiteUsageRepo{store: store}
}

func (r *SQLiteUsageRepo) Record(ctx context.Context, rec *scene.UsageRecord) (bool, error) {
	return r.store.Record(ctx, rec)
}

func (r *SQLiteUsageRepo) FindByJob(ctx context.Context, jobID string) ([]*scene.UsageRecord, error) {
	return r.store.FindByJob(ctx, jobID)
}

func (r *SQLiteUsageRepo) EntriesUsedInWindow(ctx context.Context, jobID string, startPos, endPos int) ([]string, error) {
	return r.store.EntriesUsedInWindow(ctx, jobID, startPos, endPos)
}

func (r *SQLiteUsageRepo) FindByEntry(ctx context.Context, entryID string) ([]*scene.UsageRecord, error) {
	return r.store.FindByEntry(ctx, entryID)
}

func (r *SQLiteUsageRepo) Count(ctx context.Context) (int64, error) {
	return r.store.UsageCount(ctx)
}

// scanner 统一 *sql.Row 和 *sql.Rows 的 Scan
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*scene.CacheEntry, error) {
	var (
		entry      scene.CacheEntry
		characters string
		styleTags  string
		source     string
	)
	if err := row.Scan(&entry.EntryID, &characters, &entry.Descriptor.Action, &entry.Descriptor.Location,
		&styleTags, &entry.ImagePath, &source, &entry.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(characters), &entry.Descriptor.Characters); err != nil {
		return nil, fmt.Errorf("unmarshal characters: %w", err)
	}
	if err := json.Unmarshal([]byte(styleTags), &entry.Descriptor.StyleTags); err != nil {
		return nil, fmt.Errorf("unmarshal style tags: %w", err)
	}
	entry.Source = scene.ImageSource(source)
	return &entry, nil
}

func (s *SQLiteStore) queryEntries(ctx context.Context, query string, args ...any) ([]*scene.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*scene.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) queryUsage(ctx context.Context, query string, args ...any) ([]*scene.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*scene.UsageRecord
	for rows.Next() {
		var rec scene.UsageRecord
		if err := rows.Scan(&rec.EntryID, &rec.JobID, &rec.SegmentPosition, &rec.UsedAt); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// coversAll 候选角色集合是否覆盖给定集合；给定集合为空时候选也必须为空
func coversAll(candidate, required []string) bool {
	if len(required) == 0 {
		return len(candidate) == 0
	}
	have := make(map[string]struct{}, len(candidate))
	for _, name := range candidate {
		have[name] = struct{}{}
	}
	for _, name := range required {
		if _, ok := have[name]; !ok {
			return false
		}
	}
	return true
}

// emptySlice nil 切片落库为空 JSON 数组
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
