package scene

import (
	"time"

	"plum/internal/model/scene"
	httputil "plum/internal/pkg/http"
	"plum/internal/pkg/storage"
	sceneservice "plum/internal/service/scene"
)

// ErrorResponse 错误响应类型别名（使用共用的 http.ErrorResponse）
type ErrorResponse = httputil.ErrorResponse

// Handler 场景缓存管理接口处理器
// 管理面只读查询 + 参考图录入，不承载流水线主流程
type Handler struct {
	store   *sceneservice.Store
	storage storage.Storage
	// imageDir 录入参考图时的存储目录前缀
	imageDir string
}

// NewHandler 创建场景缓存处理器
func NewHandler(store *sceneservice.Store, fileStorage storage.Storage, imageDir string) *Handler {
	if imageDir == "" {
		imageDir = "scene-images"
	}
	return &Handler{
		store:    store,
		storage:  fileStorage,
		imageDir: imageDir,
	}
}

// EntryInfo 缓存条目 DTO
type EntryInfo struct {
	ID         string      `json:"id"`
	Characters []string    `json:"characters"`
	Action     string      `json:"action"`
	Location   string      `json:"location"`
	StyleTags  []string    `json:"style_tags,omitempty"`
	ImagePath  string      `json:"image_path"`
	Source     string      `json:"source"`
	CreatedAt  string      `json:"created_at"`
	UsageLog   []UsageInfo `json:"usage_log,omitempty"`
}

// UsageInfo 使用记录 DTO
type UsageInfo struct {
	JobID           string `json:"job_id"`
	SegmentPosition int    `json:"segment_position"`
	UsedAt          string `json:"used_at"`
}

// toEntryInfo 将 CacheEntry 实体转换为 EntryInfo DTO
func toEntryInfo(entry *scene.CacheEntry) EntryInfo {
	info := EntryInfo{
		ID:         entry.EntryID,
		Characters: entry.Descriptor.Characters,
		Action:     entry.Descriptor.Action,
		Location:   entry.Descriptor.Location,
		ImagePath:  entry.ImagePath,
		Source:     string(entry.Source),
		CreatedAt:  entry.CreatedAt.Format(time.RFC3339),
	}
	if len(entry.Descriptor.StyleTags) > 0 {
		info.StyleTags = entry.Descriptor.StyleTags
	}
	for _, rec := range entry.UsageLog {
		info.UsageLog = append(info.UsageLog, UsageInfo{
			JobID:           rec.JobID,
			SegmentPosition: rec.SegmentPosition,
			UsedAt:          rec.UsedAt.Format(time.RFC3339),
		})
	}
	return info
}

// toEntryInfoList 将条目列表转换为 DTO 列表
func toEntryInfoList(entries []*scene.CacheEntry) []EntryInfo {
	list := make([]EntryInfo, len(entries))
	for i, entry := range entries {
		list[i] = toEntryInfo(entry)
	}
	return list
}
