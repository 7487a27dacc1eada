package scene

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UsageRecord 缓存条目使用记录（包含首次使用）
// 说明：以 (job_id, segment_position) 为幂等键，只追加、不改写、不重排
type UsageRecord struct {
	EntryID         string    `bson:"entry_id" json:"entry_id"`                 // 被使用的缓存条目ID
	JobID           string    `bson:"job_id" json:"job_id"`                     // 任务ID
	SegmentPosition int       `bson:"segment_position" json:"segment_position"` // 片段序号（任务内从1开始递增）
	UsedAt          time.Time `bson:"used_at" json:"used_at"`
}

// Collection 返回集合名称
func (u *UsageRecord) Collection() string {
	return "scene_cache_usage"
}

// EnsureIndexes 创建和维护索引
func (u *UsageRecord) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(u.Collection())
	indexes := []mongo.IndexModel{
		{
			// 幂等键：同一任务同一片段只允许一条记录
			Keys:    bson.D{{Key: "job_id", Value: 1}, {Key: "segment_position", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_job_position_unique"),
		},
		{
			Keys:    bson.D{{Key: "entry_id", Value: 1}},
			Options: options.Index().SetName("idx_entry_id"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
