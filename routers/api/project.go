package api

import (
	"net/http"

	"LongVideoAssistant/models"
	"LongVideoAssistant/service"

	"github.com/gin-gonic/gin"
)

var purger *service.Purger

// SetPurger 删除项目后用于清理项目文件，为 nil 时不清理
func SetPurger(p *service.Purger) {
	purger = p
}

// 单项目查询：GET /api/projects/:id
func GetProject(c *gin.Context) {
	db, ok := tables(c)
	if !ok {
		return
	}
	id := c.Param("id")
	p, found, err := models.GetProjectRow(db, id)
	if err != nil {
		log.Error("查询项目失败", "project_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目不存在"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// 删除项目：DELETE /api/projects/:id，并在后台清理 <id>/ 下的文件
func DeleteProject(c *gin.Context) {
	db, ok := tables(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := models.DeleteProjectRow(db, id); err != nil {
		log.Error("删除项目失败", "project_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if purger != nil {
		if err := purger.EnqueuePurge(id); err != nil {
			// 文件残留不影响删除结果
			log.Warn("清理任务投递失败", "project_id", id, "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// 删除灵感：DELETE /api/inspirations/:id
func DeleteInspiration(c *gin.Context) {
	db, ok := tables(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := models.DeleteInspirationRow(db, id); err != nil {
		log.Error("删除灵感失败", "inspiration_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// 工具数据：GET /api/tools/:id，未保存过时返回 null
func GetTool(c *gin.Context) {
	db, ok := tables(c)
	if !ok {
		return
	}
	id := c.Param("id")
	data, err := models.GetToolData(db, id)
	if err != nil {
		log.Error("查询工具失败", "tool_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if data == nil {
		data = []byte("null")
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}
