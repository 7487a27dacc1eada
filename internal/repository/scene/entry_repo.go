package scene

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"plum/internal/model/scene"
)

// EntryRepo 缓存条目仓库（MongoDB 实现）
type EntryRepo struct {
	coll *mongo.Collection
}

// NewEntryRepo 创建缓存条目仓库
func NewEntryRepo(db *mongo.Database) *EntryRepo {
	var e scene.CacheEntry
	return &EntryRepo{coll: db.Collection(e.Collection())}
}

// Create 写入新条目
func (r *EntryRepo) Create(ctx context.Context, entry *scene.CacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := r.coll.InsertOne(ctx, entry)
	return err
}

// FindByID 按条目ID查询
func (r *EntryRepo) FindByID(ctx context.Context, entryID string) (*scene.CacheEntry, error) {
	var entry scene.CacheEntry
	if err := r.coll.FindOne(ctx, bson.M{"id": entryID}).Decode(&entry); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// ListByCharacters 按角色集合预筛候选
// 角色集合为空时只返回角色为空的条目（空查询不允许匹配有角色的候选）
func (r *EntryRepo) ListByCharacters(ctx context.Context, characters []string) ([]*scene.CacheEntry, error) {
	var filter bson.M
	if len(characters) == 0 {
		filter = bson.M{"$or": []bson.M{
			{"descriptor.characters": bson.M{"$size": 0}},
			{"descriptor.characters": bson.M{"$exists": false}},
			{"descriptor.characters": nil},
		}}
	} else {
		filter = bson.M{"descriptor.characters": bson.M{"$all": characters}}
	}

	opts := options.Find().SetSort(bson.M{"created_at": -1})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var entries []*scene.CacheEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// List 按创建时间倒序分页列出条目
func (r *EntryRepo) List(ctx context.Context, limit, offset int64) ([]*scene.CacheEntry, error) {
	opts := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetSkip(offset).
		SetLimit(limit)

	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var entries []*scene.CacheEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Count 条目总数
func (r *EntryRepo) Count(ctx context.Context) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{})
}
