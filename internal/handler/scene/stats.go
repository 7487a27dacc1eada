package scene

import (
	"net/http"

	"github.com/gin-gonic/gin"

	httputil "plum/internal/pkg/http"
)

// Stats 缓存统计
// GET /api/v1/cache/stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError,
			httputil.NewErrorResponse(http.StatusInternalServerError, "query stats failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, httputil.NewSuccessResponse("ok", stats))
}
