package scene

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	httputil "plum/internal/pkg/http"
)

// ListEntriesResponse 条目列表响应
type ListEntriesResponse struct {
	Entries []EntryInfo `json:"entries"`
	Limit   int64       `json:"limit"`
	Offset  int64       `json:"offset"`
}

// ListEntries 分页列出缓存条目
// GET /api/v1/cache/entries?limit=50&offset=0&characters=林羽,苏柔
// characters 非空时按角色覆盖关系预筛（候选角色集合必须覆盖给定集合）
func (h *Handler) ListEntries(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)
	if offset < 0 {
		offset = 0
	}

	charactersParam := strings.TrimSpace(c.Query("characters"))

	if charactersParam != "" {
		var characters []string
		for _, name := range strings.Split(charactersParam, ",") {
			if name = strings.TrimSpace(name); name != "" {
				characters = append(characters, name)
			}
		}

		entries, err := h.store.ListCandidates(c.Request.Context(), characters)
		if err != nil {
			c.JSON(http.StatusInternalServerError,
				httputil.NewErrorResponse(http.StatusInternalServerError, "list entries failed", err.Error()))
			return
		}
		c.JSON(http.StatusOK, httputil.NewSuccessResponse("ok", ListEntriesResponse{
			Entries: toEntryInfoList(entries),
			Limit:   limit,
			Offset:  offset,
		}))
		return
	}

	entries, err := h.store.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError,
			httputil.NewErrorResponse(http.StatusInternalServerError, "list entries failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, httputil.NewSuccessResponse("ok", ListEntriesResponse{
		Entries: toEntryInfoList(entries),
		Limit:   limit,
		Offset:  offset,
	}))
}
