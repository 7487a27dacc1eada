package scene

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	httputil "plum/internal/pkg/http"
	sceneservice "plum/internal/service/scene"
)

// GetEntry 查询单个缓存条目及其使用日志
// GET /api/v1/cache/entries/:id
func (h *Handler) GetEntry(c *gin.Context) {
	entryID := c.Param("id")
	if entryID == "" {
		c.JSON(http.StatusBadRequest,
			httputil.NewErrorResponse(http.StatusBadRequest, "entry id is required"))
		return
	}

	ctx := c.Request.Context()

	entry, err := h.store.GetEntry(ctx, entryID)
	if err != nil {
		if errors.Is(err, sceneservice.ErrEntryNotFound) {
			c.JSON(http.StatusNotFound,
				httputil.NewErrorResponse(http.StatusNotFound, "entry not found"))
			return
		}
		c.JSON(http.StatusInternalServerError,
			httputil.NewErrorResponse(http.StatusInternalServerError, "get entry failed", err.Error()))
		return
	}

	// 使用日志追加展示；查询失败不影响条目本身返回
	if records, err := h.store.UsageByEntry(ctx, entryID); err == nil {
		entry.UsageLog = nil
		for _, rec := range records {
			entry.UsageLog = append(entry.UsageLog, *rec)
		}
	}

	c.JSON(http.StatusOK, httputil.NewSuccessResponse("ok", toEntryInfo(entry)))
}
