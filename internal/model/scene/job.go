package scene

// DefaultNoRepeatWindow 默认防重复窗口大小
const DefaultNoRepeatWindow = 3

// JobSegmentContext 协调器逐片段携带的上下文，片段决策记录完成后即丢弃
type JobSegmentContext struct {
	JobID           string // 任务ID
	SegmentPosition int    // 片段序号（从1开始，任务内严格递增）
	NoRepeatWindow  int    // 防重复窗口 N：本任务内位于 [pos-N, pos-1] 使用过的条目不可复用
}

// WindowStart 窗口起始位置（不小于1）
func (c *JobSegmentContext) WindowStart() int {
	start := c.SegmentPosition - c.NoRepeatWindow
	if start < 1 {
		start = 1
	}
	return start
}

// WindowEnd 窗口结束位置（当前片段的前一个位置）
func (c *JobSegmentContext) WindowEnd() int {
	return c.SegmentPosition - 1
}

// Segment 待配图的文本片段
type Segment struct {
	Position int    `json:"position"` // 任务内序号（从1开始）
	Text     string `json:"text"`     // 片段原文
}

// CharacterRole 已确认角色名册中的一项（由上游角色分析产出）
type CharacterRole struct {
	Name        string `json:"name"`                  // 角色标识（与 Descriptor.Characters 对应）
	Description string `json:"description,omitempty"` // 角色形象描述，用于抽取提示
}
