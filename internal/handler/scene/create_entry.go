package scene

import (
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"plum/internal/model/scene"
	httputil "plum/internal/pkg/http"
	"plum/internal/pkg/id"
)

// CreateEntry 录入参考图/手工图为缓存条目
// POST /api/v1/cache/entries (multipart/form-data)
//
// 表单字段：
//   - file: 图片文件（必需）
//   - characters: 角色名，逗号分隔（可选）
//   - action: 动作短语（可选，缺省为未知）
//   - location: 地点短语（可选，缺省为未知）
//   - style_tags: 风格标签，逗号分隔（可选）
//   - source: reference 或 manual（可选，默认 reference）
//
// 描述符残缺的条目可以录入，但动作/地点未知的条目永远不会被匹配命中
func (h *Handler) CreateEntry(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest,
			httputil.NewErrorResponse(http.StatusBadRequest, "image file is required", err.Error()))
		return
	}

	source := scene.ImageSource(c.DefaultPostForm("source", string(scene.SourceReference)))
	if source != scene.SourceReference && source != scene.SourceManual {
		c.JSON(http.StatusBadRequest,
			httputil.NewErrorResponse(http.StatusBadRequest, "source must be reference or manual"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest,
			httputil.NewErrorResponse(http.StatusBadRequest, "open uploaded file failed", err.Error()))
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if ext == "" {
		ext = ".png"
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ctx := c.Request.Context()

	key := path.Join(h.imageDir, id.New()+ext)
	if _, err := h.storage.Upload(ctx, key, file, contentType); err != nil {
		c.JSON(http.StatusInternalServerError,
			httputil.NewErrorResponse(http.StatusInternalServerError, "upload image failed", err.Error()))
		return
	}

	descriptor := scene.Descriptor{
		Characters: splitCSV(c.PostForm("characters")),
		Action:     c.PostForm("action"),
		Location:   c.PostForm("location"),
		StyleTags:  splitCSV(c.PostForm("style_tags")),
	}

	entry, err := h.store.Insert(ctx, descriptor, key, source)
	if err != nil {
		c.JSON(http.StatusInternalServerError,
			httputil.NewErrorResponse(http.StatusInternalServerError, "insert entry failed", err.Error()))
		return
	}

	c.JSON(http.StatusCreated, httputil.NewSuccessResponse("entry created", toEntryInfo(entry)))
}

// splitCSV 拆分逗号分隔的表单值并去除空项
func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
