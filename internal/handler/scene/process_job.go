package scene

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"plum/internal/model/scene"
	"plum/internal/pkg/cache"
	httputil "plum/internal/pkg/http"
	sceneservice "plum/internal/service/scene"
)

// JobHandler 任务处理接口处理器
// 同步驱动协调器处理一个任务的片段序列；取消标记走 Redis 跨进程生效
type JobHandler struct {
	coordinator *sceneservice.Coordinator
	redis       *cache.RedisCache
}

// NewJobHandler 创建任务处理器
// redis 可以为 nil，此时取消接口不可用
func NewJobHandler(coordinator *sceneservice.Coordinator, redis *cache.RedisCache) *JobHandler {
	return &JobHandler{
		coordinator: coordinator,
		redis:       redis,
	}
}

// ProcessJobRequest 任务处理请求
type ProcessJobRequest struct {
	Segments []SegmentPayload `json:"segments" binding:"required,min=1"`
	Roster   []RosterPayload  `json:"roster"`
}

// SegmentPayload 片段载荷
type SegmentPayload struct {
	Position int    `json:"position" binding:"required,min=1"`
	Text     string `json:"text" binding:"required"`
}

// RosterPayload 角色名册载荷
type RosterPayload struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// ProcessJob 同步处理一个任务的全部片段
// POST /api/v1/jobs/:job_id/process
func (h *JobHandler) ProcessJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest,
			httputil.NewErrorResponse(http.StatusBadRequest, "job id is required"))
		return
	}

	var req ProcessJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest,
			httputil.NewErrorResponse(http.StatusBadRequest, "invalid request body", err.Error()))
		return
	}

	segments := make([]scene.Segment, len(req.Segments))
	for i, seg := range req.Segments {
		segments[i] = scene.Segment{Position: seg.Position, Text: seg.Text}
	}
	roster := make([]scene.CharacterRole, len(req.Roster))
	for i, role := range req.Roster {
		roster[i] = scene.CharacterRole{Name: role.Name, Description: role.Description}
	}

	result, err := h.coordinator.ProcessJob(c.Request.Context(), jobID, segments, roster)
	if err != nil {
		c.JSON(http.StatusInternalServerError,
			httputil.NewErrorResponse(http.StatusInternalServerError, "process job failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, httputil.NewSuccessResponse("ok", result))
}

// CancelJob 设置任务取消标记（在下一个片段边界生效）
// POST /api/v1/jobs/:job_id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	if h.redis == nil {
		c.JSON(http.StatusServiceUnavailable,
			httputil.NewErrorResponse(http.StatusServiceUnavailable, "cancel flag requires redis"))
		return
	}

	jobID := c.Param("job_id")
	if err := h.redis.MarkJobCancelled(c.Request.Context(), jobID); err != nil {
		c.JSON(http.StatusInternalServerError,
			httputil.NewErrorResponse(http.StatusInternalServerError, "set cancel flag failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, httputil.NewSuccessResponse("job cancel flag set", gin.H{"job_id": jobID}))
}

// ResumeJob 清除任务取消标记（重新入队前调用）
// DELETE /api/v1/jobs/:job_id/cancel
func (h *JobHandler) ResumeJob(c *gin.Context) {
	if h.redis == nil {
		c.JSON(http.StatusServiceUnavailable,
			httputil.NewErrorResponse(http.StatusServiceUnavailable, "cancel flag requires redis"))
		return
	}

	jobID := c.Param("job_id")
	if err := h.redis.ClearJobCancelled(c.Request.Context(), jobID); err != nil {
		c.JSON(http.StatusInternalServerError,
			httputil.NewErrorResponse(http.StatusInternalServerError, "clear cancel flag failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, httputil.NewSuccessResponse("job cancel flag cleared", gin.H{"job_id": jobID}))
}
