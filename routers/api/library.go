package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"LongVideoAssistant/apperr"
	"LongVideoAssistant/models"
	"LongVideoAssistant/studio"

	"github.com/gin-gonic/gin"
)

// 灵感列表：GET /v1/api/inspirations
func (s *Studio) ListInspirations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"inspirations": s.ws.Mutator.Inspirations(c.Request.Context())})
}

// 保存灵感：POST /v1/api/inspirations
func (s *Studio) SaveInspiration(c *gin.Context) {
	var insp models.Inspiration
	if err := c.ShouldBindJSON(&insp); err != nil {
		fail(c, apperr.Wrap(apperr.KindValidation, "灵感数据格式错误", err))
		return
	}
	saved, err := s.ws.Mutator.SaveInspiration(c.Request.Context(), insp)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// 删除灵感：DELETE /v1/api/inspirations/:id
func (s *Studio) DeleteInspiration(c *gin.Context) {
	if err := s.ws.Mutator.DeleteInspiration(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// 从文本中提取灵感：POST /v1/api/inspirations/extract
func (s *Studio) ExtractInspiration(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Wrap(apperr.KindValidation, "请求体解析失败", err))
		return
	}
	insp, err := s.ws.Assistant.ExtractInspiration(c.Request.Context(), req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, insp)
}

// 提示词：GET /v1/api/prompts
func (s *Studio) GetPrompts(c *gin.Context) {
	c.JSON(http.StatusOK, s.ws.Mutator.Prompts(c.Request.Context()))
}

// 保存提示词：PUT /v1/api/prompts
func (s *Studio) SavePrompts(c *gin.Context) {
	var b models.PromptBundle
	if err := c.ShouldBindJSON(&b); err != nil {
		fail(c, apperr.Wrap(apperr.KindValidation, "提示词数据格式错误", err))
		return
	}
	saved, err := s.ws.Mutator.SavePrompts(c.Request.Context(), b)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// 恢复默认提示词：POST /v1/api/prompts/reset
func (s *Studio) ResetPrompts(c *gin.Context) {
	b, err := s.ws.Mutator.ResetPrompts(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// 本地工具数据：GET /v1/api/tools/:id，未保存时返回 null
func (s *Studio) GetTool(c *gin.Context) {
	data, err := s.ws.Local.GetTool(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	writeRaw(c, data)
}

func readRaw(c *gin.Context) (json.RawMessage, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || !json.Valid(body) {
		fail(c, apperr.New(apperr.KindValidation, "工具数据必须是 JSON"))
		return nil, false
	}
	return json.RawMessage(body), true
}

func writeRaw(c *gin.Context, data json.RawMessage) {
	if data == nil {
		data = json.RawMessage("null")
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// 保存工具数据：PUT /v1/api/tools/:id
func (s *Studio) SaveTool(c *gin.Context) {
	data, ok := readRaw(c)
	if !ok {
		return
	}
	if err := s.ws.Sync.SaveTool(c.Request.Context(), c.Param("id"), data); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// 立即上传单个工具：POST /v1/api/tools/:id/upload
func (s *Studio) UploadTool(c *gin.Context) {
	data, ok := readRaw(c)
	if !ok {
		return
	}
	if err := s.ws.Sync.UploadTool(c.Request.Context(), c.Param("id"), data); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// 读取远端工具数据：GET /v1/api/tools/:id/remote
func (s *Studio) FetchRemoteTool(c *gin.Context) {
	data, err := s.ws.Sync.FetchRemoteTool(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	writeRaw(c, data)
}

// 标题灵感：POST /v1/api/tools/title-ideas
func (s *Studio) TitleIdeas(c *gin.Context) {
	var req struct {
		Direction string `json:"direction"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Wrap(apperr.KindValidation, "请求体解析失败", err))
		return
	}
	ideas, err := s.ws.Assistant.GenerateTitleIdeas(c.Request.Context(), req.Direction)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ideas)
}

// 同步状态：GET /v1/api/sync/status
func (s *Studio) SyncStatus(c *gin.Context) {
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, gin.H{
		"status":          s.ws.Sync.Status().Get(),
		"unsaved":         s.ws.Sync.HasUnsavedChanges(ctx),
		"lastUploadTime":  s.ws.Sync.LastUploadTime(ctx),
		"lastUploadLabel": s.ws.Sync.LastUploadLabel(ctx),
	})
}

// 按类别上传：POST /v1/api/sync/upload/:class，class 为 projects|inspirations|prompts|tools|all
func (s *Studio) Upload(c *gin.Context) {
	ctx := c.Request.Context()
	sc := s.ws.Sync
	var err error
	switch class := c.Param("class"); class {
	case "projects":
		err = sc.UploadProjects(ctx)
	case "inspirations":
		err = sc.UploadInspirations(ctx)
	case "prompts":
		err = sc.UploadPrompts(ctx)
	case "tools":
		err = sc.UploadTools(ctx)
	case "all":
		for _, up := range []func(context.Context) error{sc.UploadProjects, sc.UploadInspirations, sc.UploadPrompts, sc.UploadTools} {
			if err = up(ctx); err != nil {
				break
			}
		}
	default:
		err = apperr.New(apperr.KindValidation, "未知的同步类别: "+class)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "lastUploadLabel": sc.LastUploadLabel(ctx)})
}

// 全量下载：POST /v1/api/sync/download
func (s *Studio) Download(c *gin.Context) {
	if err := s.ws.Sync.DownloadAllData(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// 用户操作上报：POST /v1/api/activity
func (s *Studio) Touch(c *gin.Context) {
	s.ws.Activity.Touch()
	c.Status(http.StatusNoContent)
}

// 是否有进行中的任务：GET /v1/api/busy
func (s *Studio) Busy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"busy": s.ws.Busy(), "ui": s.ws.UIState()})
}

// 界面忙碌状态上报：PUT /v1/api/busy {"editing":true,"dragging":false}
func (s *Studio) ReportBusy(c *gin.Context) {
	var st studio.UIState
	if err := c.ShouldBindJSON(&st); err != nil {
		fail(c, apperr.Wrap(apperr.KindValidation, "请求体解析失败", err))
		return
	}
	s.ws.SetUIState(st)
	c.JSON(http.StatusOK, gin.H{"busy": s.ws.Busy(), "ui": st})
}

// 本地设置：GET /v1/api/settings
func (s *Studio) GetSettings(c *gin.Context) {
	st, err := s.ws.Settings(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// 自定义密钥：PUT /v1/api/settings/api-key，空值表示清除
func (s *Studio) SetAPIKey(c *gin.Context) {
	var req struct {
		APIKey string `json:"apiKey"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Wrap(apperr.KindValidation, "请求体解析失败", err))
		return
	}
	if err := s.ws.SetCustomAPIKey(c.Request.Context(), req.APIKey); err != nil {
		fail(c, err)
		return
	}
	s.GetSettings(c)
}
