package scene

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ImageSource 图片来源
type ImageSource string

const (
	SourceGenerated ImageSource = "generated" // 由图片生成网关产出
	SourceReference ImageSource = "reference" // 参考图导入
	SourceManual    ImageSource = "manual"    // 人工导入
)

// CacheEntry 场景图片缓存条目
// 说明：ImagePath 创建后不可变；条目只增不删（清理属于外部管理操作）
type CacheEntry struct {
	EntryID    string      `bson:"id" json:"id"`                 // 条目ID（UUID）
	Descriptor Descriptor  `bson:"descriptor" json:"descriptor"` // 场景描述符
	ImagePath  string      `bson:"image_path" json:"image_path"` // 已落盘的图片资源路径
	Source     ImageSource `bson:"source" json:"source"`         // 来源（仅用于统计展示，不参与匹配）
	CreatedAt  time.Time   `bson:"created_at" json:"created_at"`

	// UsageLog 使用历史（读取时由 store 拼装，持久化在独立集合中）
	UsageLog []UsageRecord `bson:"-" json:"usage_log,omitempty"`
}

// Collection 返回集合名称
func (e *CacheEntry) Collection() string {
	return "scene_cache_entries"
}

// EnsureIndexes 创建和维护索引
func (e *CacheEntry) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(e.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_entry_id_unique"),
		},
		{
			Keys:    bson.D{{Key: "descriptor.characters", Value: 1}},
			Options: options.Index().SetName("idx_descriptor_characters"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_created_at"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
