package api

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"LongVideoAssistant/apperr"
	"LongVideoAssistant/models"
	"LongVideoAssistant/service"

	"github.com/gin-gonic/gin"
)

// blobKey 取通配参数，路由开启 UseRawPath 后参数已解码，%2F 还原为 /
func blobKey(c *gin.Context) (string, bool) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少文件 key"})
		return "", false
	}
	if service.Blobs == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "文件存储未初始化"})
		return "", false
	}
	return key, true
}

func blobError(c *gin.Context, key string, err error) {
	if apperr.Is(err, apperr.KindNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "文件不存在"})
		return
	}
	if apperr.Is(err, apperr.KindValidation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": apperr.UserMessage(err)})
		return
	}
	log.Error("文件存储操作失败", "key", key, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// 上传文件：PUT /api/images/*key?project=<projectId>
func PutImage(c *gin.Context) {
	key, ok := blobKey(c)
	if !ok {
		return
	}
	storageKey := key
	if project := c.Query("project"); project != "" {
		storageKey = project + "/" + key
	}
	contentType, body := service.ResolveContentType(storageKey, c.GetHeader("Content-Type"), c.Request.Body)
	size := c.Request.ContentLength

	if err := service.Blobs.Put(c.Request.Context(), storageKey, body, size, contentType); err != nil {
		blobError(c, storageKey, err)
		return
	}
	log.Info("文件已保存", "key", storageKey, "content_type", contentType, "size", size)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"url":     models.BlobPathMarker + url.PathEscape(storageKey),
	})
}

// 读取文件：GET /api/images/*key
func GetImage(c *gin.Context) {
	key, ok := blobKey(c)
	if !ok {
		return
	}
	obj, err := service.Blobs.Get(c.Request.Context(), key)
	if err != nil {
		blobError(c, key, err)
		return
	}
	defer obj.Body.Close()

	h := c.Writer.Header()
	h.Set("Content-Type", obj.ContentType)
	h.Set("Cache-Control", service.CacheControl)
	if obj.ETag != "" {
		h.Set("ETag", `"`+strings.Trim(obj.ETag, `"`)+`"`)
		if match := c.GetHeader("If-None-Match"); match != "" && match == h.Get("ETag") {
			c.Status(http.StatusNotModified)
			return
		}
	}
	if obj.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, obj.Body); err != nil {
		log.Warn("文件输出中断", "key", key, "error", err)
	}
}

// 删除文件：DELETE /api/images/*key，不存在时同样返回成功
func DeleteImage(c *gin.Context) {
	key, ok := blobKey(c)
	if !ok {
		return
	}
	if err := service.Blobs.Delete(c.Request.Context(), key); err != nil {
		blobError(c, key, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
