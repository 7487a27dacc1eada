package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"plum/internal/model/scene"
)

// EnsureIndexes 创建所有模型的索引
// 这是一个统一的入口，用于在应用启动时创建所有模型的索引
// 模型通过 Model 接口自行声明索引定义
func EnsureIndexes(db *mongo.Database) error {
	ctx := context.Background()

	models := []Model{
		&scene.CacheEntry{},
		&scene.UsageRecord{},
	}

	return EnsureAllIndexes(ctx, db, models...)
}
