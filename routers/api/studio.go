package api

import (
	"net/http"
	"time"

	"LongVideoAssistant/apperr"
	"LongVideoAssistant/models"
	"LongVideoAssistant/studio"

	"github.com/gin-gonic/gin"
)

// Studio 本地工作台接口
type Studio struct {
	ws *studio.Workspace
}

func NewStudio(ws *studio.Workspace) *Studio {
	return &Studio{ws: ws}
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:            http.StatusBadRequest,
	apperr.KindEmptyPrompt:           http.StatusBadRequest,
	apperr.KindBadRequest:            http.StatusBadRequest,
	apperr.KindMissingCredential:     http.StatusUnauthorized,
	apperr.KindNotFound:              http.StatusNotFound,
	apperr.KindDependencyUnmet:       http.StatusConflict,
	apperr.KindPayloadTooLarge:       http.StatusRequestEntityTooLarge,
	apperr.KindSafetyBlocked:         http.StatusUnprocessableEntity,
	apperr.KindEmptyResponse:         http.StatusUnprocessableEntity,
	apperr.KindUnexpectedStop:        http.StatusUnprocessableEntity,
	apperr.KindMalformedJSON:         http.StatusUnprocessableEntity,
	apperr.KindRateLimited:           http.StatusTooManyRequests,
	apperr.KindRemoteUnavailable:     http.StatusBadGateway,
	apperr.KindBlobUnavailable:       http.StatusBadGateway,
	apperr.KindOverloaded:            http.StatusServiceUnavailable,
	apperr.KindLocalStoreUnavailable: http.StatusInternalServerError,
}

// StatusOf 错误类别对应的 HTTP 状态码
func StatusOf(err error) int {
	if s, ok := kindStatus[apperr.KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error("请求处理失败", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": apperr.UserMessage(err), "kind": apperr.KindOf(err)})
}

func (s *Studio) project(c *gin.Context) (models.Project, bool) {
	id := c.Param("id")
	p, found, err := s.ws.Mutator.Project(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return p, false
	}
	if !found {
		fail(c, apperr.New(apperr.KindNotFound, "项目不存在"))
		return p, false
	}
	return p, true
}

// 项目列表：GET /v1/api/projects
func (s *Studio) ListProjects(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"projects": s.ws.Mutator.Projects(c.Request.Context())})
}

// 新建项目：POST /v1/api/projects
func (s *Studio) CreateProject(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	// 请求体可为空
	_ = c.ShouldBindJSON(&req)
	p, err := s.ws.Mutator.Create(c.Request.Context(), req.Title)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// 项目详情：GET /v1/api/projects/:id
func (s *Studio) GetProject(c *gin.Context) {
	if p, ok := s.project(c); ok {
		c.JSON(http.StatusOK, p)
	}
}

// 保存整个项目：PUT /v1/api/projects/:id
func (s *Studio) SaveProject(c *gin.Context) {
	var p models.Project
	if err := c.ShouldBindJSON(&p); err != nil {
		fail(c, apperr.Wrap(apperr.KindValidation, "项目数据格式错误", err))
		return
	}
	if p.ID == "" {
		p.ID = c.Param("id")
	}
	if p.ID != c.Param("id") {
		fail(c, apperr.New(apperr.KindValidation, "项目 id 与路径不一致"))
		return
	}
	saved, err := s.ws.Mutator.Save(c.Request.Context(), p)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// 删除项目：DELETE /v1/api/projects/:id
func (s *Studio) DeleteProject(c *gin.Context) {
	if err := s.ws.DeleteProject(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// 归档：POST /v1/api/projects/:id/archive
func (s *Studio) ArchiveProject(c *gin.Context) {
	p, err := s.ws.Mutator.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// 取消归档：POST /v1/api/projects/:id/unarchive
func (s *Studio) UnarchiveProject(c *gin.Context) {
	p, err := s.ws.Mutator.Unarchive(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// 单项目同步：POST /v1/api/projects/:id/sync
func (s *Studio) SyncProject(c *gin.Context) {
	id := c.Param("id")
	replaced, err := s.ws.Sync.SyncProject(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	p, _, err := s.ws.Mutator.Project(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"replaced": replaced, "project": p})
}

// 选择音频：POST /v1/api/projects/:id/audio，multipart 字段 file
func (s *Studio) SelectAudio(c *gin.Context) {
	if _, ok := s.project(c); !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, apperr.Wrap(apperr.KindValidation, "缺少音频文件", err))
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, apperr.Wrap(apperr.KindValidation, "音频文件读取失败", err))
		return
	}
	defer f.Close()

	meta, err := s.ws.Ingest(c.Param("id")).Select(fh.Filename, fh.Header.Get("Content-Type"), fh.Size, f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"preview": meta, "previewUrl": "/v1/api/previews/" + meta.Handle})
}

// 上传已选择的音频：POST /v1/api/projects/:id/audio/upload
func (s *Studio) UploadAudio(c *gin.Context) {
	p, err := s.ws.Ingest(c.Param("id")).Upload(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// 音频状态：GET /v1/api/projects/:id/audio
func (s *Studio) AudioState(c *gin.Context) {
	c.JSON(http.StatusOK, s.ws.Ingest(c.Param("id")).State().Get())
}

// 本地预览：GET /v1/api/previews/:handle
func (s *Studio) Preview(c *gin.Context) {
	f, meta, err := s.ws.Previews.Open(c.Param("handle"))
	if err != nil {
		fail(c, err)
		return
	}
	defer f.Close()
	c.Header("Content-Type", meta.ContentType)
	http.ServeContent(c.Writer, c.Request, meta.Name, time.Time{}, f)
}
