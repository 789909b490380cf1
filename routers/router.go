package routers

import (
	"time"

	"LongVideoAssistant/logger"
	"LongVideoAssistant/routers/api"
	"LongVideoAssistant/studio"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Content-Length", "If-None-Match"},
		ExposeHeaders: []string{"ETag", "Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func newEngine(log *logger.Logger) *gin.Engine {
	api.SetLogger(log)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	return r
}

// requestLogger 访问日志
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("请求完成",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}

// InitRouter 远端同步服务
func InitRouter(log *logger.Logger, allowOrigins []string) *gin.Engine {
	r := newEngine(log)
	// blob key 中的 %2F 不能被当作路径分隔符
	r.UseRawPath = true
	r.UnescapePathValues = true
	r.Use(corsMiddleware(allowOrigins))

	g := r.Group("/api")
	{
		g.GET("/sync", api.GetSync)
		g.POST("/sync", api.PostSync)
		g.GET("/projects/:id", api.GetProject)
		g.DELETE("/projects/:id", api.DeleteProject)
		g.DELETE("/inspirations/:id", api.DeleteInspiration)
		g.GET("/tools/:id", api.GetTool)
		g.PUT("/images/*key", api.PutImage)
		g.GET("/images/*key", api.GetImage)
		g.DELETE("/images/*key", api.DeleteImage)
	}
	return r
}

// InitStudioRouter 本地工作台
func InitStudioRouter(ws *studio.Workspace, log *logger.Logger) *gin.Engine {
	r := newEngine(log)
	s := api.NewStudio(ws)

	v1 := r.Group("/v1/api")
	{
		v1.GET("/projects", s.ListProjects)
		v1.POST("/projects", s.CreateProject)
		v1.GET("/projects/:id", s.GetProject)
		v1.PUT("/projects/:id", s.SaveProject)
		v1.DELETE("/projects/:id", s.DeleteProject)
		v1.POST("/projects/:id/archive", s.ArchiveProject)
		v1.POST("/projects/:id/unarchive", s.UnarchiveProject)
		v1.POST("/projects/:id/sync", s.SyncProject)
		v1.GET("/projects/:id/nodes", s.NodeState)
		v1.POST("/projects/:id/nodes/:node", s.RunNode)
		v1.POST("/projects/:id/oneclick", s.OneClick)
		v1.GET("/projects/:id/audio", s.AudioState)
		v1.POST("/projects/:id/audio", s.SelectAudio)
		v1.POST("/projects/:id/audio/upload", s.UploadAudio)
		v1.GET("/previews/:handle", s.Preview)

		v1.GET("/inspirations", s.ListInspirations)
		v1.POST("/inspirations", s.SaveInspiration)
		v1.POST("/inspirations/extract", s.ExtractInspiration)
		v1.DELETE("/inspirations/:id", s.DeleteInspiration)

		v1.GET("/prompts", s.GetPrompts)
		v1.PUT("/prompts", s.SavePrompts)
		v1.POST("/prompts/reset", s.ResetPrompts)

		v1.POST("/tools/title-ideas", s.TitleIdeas)
		v1.GET("/tools/:id", s.GetTool)
		v1.PUT("/tools/:id", s.SaveTool)
		v1.POST("/tools/:id/upload", s.UploadTool)
		v1.GET("/tools/:id/remote", s.FetchRemoteTool)

		v1.GET("/sync/status", s.SyncStatus)
		v1.POST("/sync/upload/:class", s.Upload)
		v1.POST("/sync/download", s.Download)

		v1.POST("/activity", s.Touch)
		v1.GET("/busy", s.Busy)
		v1.PUT("/busy", s.ReportBusy)
		v1.GET("/settings", s.GetSettings)
		v1.PUT("/settings/api-key", s.SetAPIKey)
	}
	r.GET("/v1/ws", s.Events)
	return r
}
