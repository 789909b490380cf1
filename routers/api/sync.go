package api

import (
	"net/http"
	"time"

	"LongVideoAssistant/logger"
	"LongVideoAssistant/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var log = logger.Nop()

// SetLogger 路由初始化时注入
func SetLogger(l *logger.Logger) {
	if l != nil {
		log = l
	}
}

// tables 每个请求前确认四张表存在
func tables(c *gin.Context) (*gorm.DB, bool) {
	db := models.GormDB
	if db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "数据库未初始化"})
		return nil, false
	}
	if err := models.EnsureTables(db); err != nil {
		log.Error("建表失败", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return db.WithContext(c.Request.Context()), true
}

// 全量拉取：GET /api/sync
func GetSync(c *gin.Context) {
	db, ok := tables(c)
	if !ok {
		return
	}
	data, err := models.Pull(db)
	if err != nil {
		log.Error("全量拉取失败", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, data)
}

// 批量写入：POST /api/sync，缺省的字段不处理
func PostSync(c *gin.Context) {
	db, ok := tables(c)
	if !ok {
		return
	}
	var bundle models.SyncBundle
	if err := c.ShouldBindJSON(&bundle); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体解析失败: " + err.Error()})
		return
	}
	if err := models.ApplyPush(db, bundle); err != nil {
		log.Error("批量写入失败", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Info("批量写入完成",
		"projects", len(bundle.Projects),
		"inspirations", len(bundle.Inspirations),
		"prompts", bundle.Prompts != nil,
		"tools", len(bundle.Tools))
	c.JSON(http.StatusOK, gin.H{"success": true, "timestamp": time.Now().UnixMilli()})
}
