package api

import (
	"net/http"
	"time"

	"LongVideoAssistant/apperr"
	"LongVideoAssistant/audio"
	"LongVideoAssistant/workflow"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 执行单个节点：POST /v1/api/projects/:id/nodes/:node
func (s *Studio) RunNode(c *gin.Context) {
	if _, ok := s.project(c); !ok {
		return
	}
	p, err := s.ws.Coordinator(c.Param("id")).HandleNodeAction(c.Request.Context(), c.Param("node"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// 一键生成：POST /v1/api/projects/:id/oneclick。部分任务失败时仍返回 200，失败项在 failed 中
func (s *Studio) OneClick(c *gin.Context) {
	if _, ok := s.project(c); !ok {
		return
	}
	res, err := s.ws.Coordinator(c.Param("id")).OneClick(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// 节点状态：GET /v1/api/projects/:id/nodes
func (s *Studio) NodeState(c *gin.Context) {
	c.JSON(http.StatusOK, s.ws.Coordinator(c.Param("id")).State().Get())
}

// Event websocket 推送的消息
type Event struct {
	Type string      `json:"type"` // sync | node | audio
	Data interface{} `json:"data"`
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// 状态推送：GET /v1/ws?project=<id>。始终推送同步状态，带 project 时再推送节点与音频状态
func (s *Studio) Events(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("WebSocket升级失败", "error", err)
		return
	}
	defer conn.Close()

	syncCh, cancelSync := s.ws.Sync.Status().Subscribe()
	defer cancelSync()

	var (
		nodeCh  <-chan workflow.NodeState
		audioCh <-chan audio.State
	)
	if id := c.Query("project"); id != "" {
		if _, found, err := s.ws.Mutator.Project(c.Request.Context(), id); err != nil || !found {
			_ = conn.WriteJSON(gin.H{"error": apperr.UserMessage(apperr.New(apperr.KindNotFound, "项目不存在"))})
			return
		}
		var cancelNode, cancelAudio func()
		nodeCh, cancelNode = s.ws.Coordinator(id).State().Subscribe()
		defer cancelNode()
		audioCh, cancelAudio = s.ws.Ingest(id).State().Subscribe()
		defer cancelAudio()
	}

	// 读协程只用于感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	write := func(ev Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(ev) == nil
	}

	for {
		var ok bool
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case st := <-syncCh:
			ok = write(Event{Type: "sync", Data: st})
		case st := <-nodeCh:
			ok = write(Event{Type: "node", Data: st})
		case st := <-audioCh:
			ok = write(Event{Type: "audio", Data: st})
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			ok = conn.WriteMessage(websocket.PingMessage, nil) == nil
		}
		if !ok {
			return
		}
	}
}
