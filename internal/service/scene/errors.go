package scene

import "errors"

// 服务层哨兵错误
// 协调器依赖这些哨兵对失败分类：任何一类都不会中止整个任务，
// 只影响当前片段的处理方式
var (
	// ErrExtraction 描述符抽取失败（LLM 调用失败或响应不可解析）
	// 该片段跳过匹配，直接走生成
	ErrExtraction = errors.New("descriptor extraction failed")

	// ErrGeneration 图片生成失败，该片段标记失败，任务继续
	ErrGeneration = errors.New("image generation failed")

	// ErrEntryNotFound 匹配选中的条目在读取时已不存在（缓存被外部清理）
	// 回退到生成路径并记录告警日志
	ErrEntryNotFound = errors.New("cache entry not found")

	// ErrStoreUnavailable 缓存存储不可用
	// 匹配阶段视为"零候选"安全降级到生成；记录阶段重试一次后标记片段失败
	ErrStoreUnavailable = errors.New("cache store unavailable")
)
