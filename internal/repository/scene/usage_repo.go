package scene

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"plum/internal/model/scene"
)

// UsageRepo 使用记录仓库（MongoDB 实现）
type UsageRepo struct {
	coll *mongo.Collection
}

// NewUsageRepo 创建使用记录仓库
func NewUsageRepo(db *mongo.Database) *UsageRepo {
	var u scene.UsageRecord
	return &UsageRepo{coll: db.Collection(u.Collection())}
}

// Record 追加使用记录
// 依赖 (job_id, segment_position) 唯一索引 + $setOnInsert 实现幂等：
// 重复写入不覆盖首条记录，返回 recorded=false
func (r *UsageRepo) Record(ctx context.Context, rec *scene.UsageRecord) (bool, error) {
	if rec.UsedAt.IsZero() {
		rec.UsedAt = time.Now()
	}

	filter := bson.M{
		"job_id":           rec.JobID,
		"segment_position": rec.SegmentPosition,
	}
	update := bson.M{"$setOnInsert": bson.M{
		"entry_id":         rec.EntryID,
		"job_id":           rec.JobID,
		"segment_position": rec.SegmentPosition,
		"used_at":          rec.UsedAt,
	}}

	result, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, err
	}
	return result.UpsertedCount > 0, nil
}

// FindByJob 按任务查询全部使用记录，按片段位置升序
func (r *UsageRepo) FindByJob(ctx context.Context, jobID string) ([]*scene.UsageRecord, error) {
	opts := options.Find().SetSort(bson.M{"segment_position": 1})
	cur, err := r.coll.Find(ctx, bson.M{"job_id": jobID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var records []*scene.UsageRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// EntriesUsedInWindow 任务在片段区间内使用过的条目ID去重集合
func (r *UsageRepo) EntriesUsedInWindow(ctx context.Context, jobID string, startPos, endPos int) ([]string, error) {
	if endPos < startPos {
		return nil, nil
	}

	filter := bson.M{
		"job_id": jobID,
		"segment_position": bson.M{
			"$gte": startPos,
			"$lte": endPos,
		},
	}

	values, err := r.coll.Distinct(ctx, "entry_id", filter)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// FindByEntry 按条目查询使用日志，按使用时间升序
func (r *UsageRepo) FindByEntry(ctx context.Context, entryID string) ([]*scene.UsageRecord, error) {
	opts := options.Find().SetSort(bson.M{"used_at": 1})
	cur, err := r.coll.Find(ctx, bson.M{"entry_id": entryID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var records []*scene.UsageRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Count 使用记录总数
func (r *UsageRepo) Count(ctx context.Context) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{})
}
