package routers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"LongVideoAssistant/config"
	"LongVideoAssistant/logger"
	"LongVideoAssistant/models"
	"LongVideoAssistant/studio"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const fakeScript = "这是一段视频文案"

// fakeGemini 文本请求返回固定文案，JSON 请求返回同时满足灵感与标题工具的对象
func fakeGemini(calls *int32) http.HandlerFunc {
	jsonOut, _ := json.Marshal(map[string]any{
		"category":     "科技",
		"trafficLogic": "反差",
		"viralTitle":   "爆款标题",
		"titles":       []map[string]any{{"title": "标题一", "score": 90}},
		"coverVisual":  "城市夜景",
		"coverText":    "一分钟看懂",
	})
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		body, _ := io.ReadAll(r.Body)
		text := fakeScript
		if bytes.Contains(body, []byte("responseMimeType")) {
			text = string(jsonOut)
		}
		resp, _ := json.Marshal(map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"parts": []map[string]any{{"text": text}}},
				"finishReason": "STOP",
			}},
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(resp)
	}
}

type studioHarness struct {
	r       *gin.Engine
	ws      *studio.Workspace
	remote  *remoteHarness
	aiCalls *int32
}

func newStudio(t *testing.T) *studioHarness {
	t.Helper()
	rh := newRemote(t)
	remoteSrv := httptest.NewServer(rh.r)
	t.Cleanup(remoteSrv.Close)

	var calls int32
	aiSrv := httptest.NewServer(fakeGemini(&calls))
	t.Cleanup(aiSrv.Close)

	cfg := config.Default()
	cfg.Studio.DataDir = t.TempDir()
	cfg.Studio.RemoteBaseURL = remoteSrv.URL
	cfg.AI.BaseURL = aiSrv.URL
	cfg.AI.APIKey = "test-key"
	cfg.AI.RetryDelay = time.Millisecond

	ws, err := studio.Open(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("studio.Open: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return &studioHarness{r: InitStudioRouter(ws, logger.Nop()), ws: ws, remote: rh, aiCalls: &calls}
}

func (h *studioHarness) call(t *testing.T, method, target string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)
	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, target, w.Body, err)
		}
	}
	return w.Code
}

func (h *studioHarness) createProject(t *testing.T, topic string) models.Project {
	t.Helper()
	var p models.Project
	if code := h.call(t, http.MethodPost, "/v1/api/projects", map[string]string{"title": "长视频"}, &p); code != http.StatusCreated {
		t.Fatalf("create: %d", code)
	}
	if p.Status != models.ProjectStatusDraft {
		t.Fatalf("status = %s", p.Status)
	}
	p.Inputs.Topic = topic
	if code := h.call(t, http.MethodPut, "/v1/api/projects/"+p.ID, p, &p); code != http.StatusOK {
		t.Fatalf("save: %d", code)
	}
	return p
}

func TestStudioNodeActions(t *testing.T) {
	h := newStudio(t)
	p := h.createProject(t, "AI 剪辑")
	base := "/v1/api/projects/" + p.ID

	var errBody map[string]string
	if code := h.call(t, http.MethodPost, base+"/oneclick", nil, &errBody); code != http.StatusConflict {
		t.Fatalf("oneclick without script: %d", code)
	}
	if errBody["kind"] != "DependencyUnmet" || errBody["error"] == "" {
		t.Fatalf("error body = %v", errBody)
	}
	if code := h.call(t, http.MethodPost, base+"/nodes/input", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("input node: %d", code)
	}

	var got models.Project
	if code := h.call(t, http.MethodPost, base+"/nodes/"+models.TaskScript, nil, &got); code != http.StatusOK {
		t.Fatalf("script: %d", code)
	}
	if got.Script != fakeScript || got.Status != models.ProjectStatusInProgress {
		t.Fatalf("project = %+v", got)
	}
	if got.ModuleTimestamps[models.TaskScript] == 0 {
		t.Fatal("script timestamp missing")
	}

	var st struct {
		Generating []string `json:"generating"`
		Failed     []string `json:"failed"`
	}
	h.call(t, http.MethodGet, base+"/nodes", nil, &st)
	if len(st.Generating) != 0 || len(st.Failed) != 0 {
		t.Fatalf("node state = %+v", st)
	}

	if code := h.call(t, http.MethodPost, "/v1/api/projects/missing/nodes/script", nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing project: %d", code)
	}
}

func TestStudioAudioUploadAndSync(t *testing.T) {
	h := newStudio(t)
	p := h.createProject(t, "音频")
	base := "/v1/api/projects/" + p.ID
	ctx := context.Background()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "voice.mp3")
	fw.Write([]byte("ID3-audio"))
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, base+"/audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("select: %d %s", w.Code, w.Body)
	}
	var sel struct {
		PreviewURL string `json:"previewUrl"`
	}
	json.Unmarshal(w.Body.Bytes(), &sel)

	w = httptest.NewRecorder()
	h.r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, sel.PreviewURL, nil))
	if w.Code != http.StatusOK || w.Body.String() != "ID3-audio" {
		t.Fatalf("preview: %d %q", w.Code, w.Body)
	}

	var got models.Project
	if code := h.call(t, http.MethodPost, base+"/audio/upload", nil, &got); code != http.StatusOK {
		t.Fatalf("upload: %d", code)
	}
	if !strings.Contains(got.AudioFile, models.BlobPathMarker) {
		t.Fatalf("audio ref = %q", got.AudioFile)
	}
	obj, err := h.remote.blobs.Get(ctx, p.ID+"/voice.mp3")
	if err != nil {
		t.Fatalf("remote blob: %v", err)
	}
	obj.Body.Close()
	if h.ws.Previews.Len() != 0 {
		t.Fatal("preview not revoked")
	}
	w = httptest.NewRecorder()
	h.r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, sel.PreviewURL, nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("revoked preview: %d", w.Code)
	}

	if code := h.call(t, http.MethodPost, "/v1/api/sync/upload/bogus", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bogus class: %d", code)
	}
	if code := h.call(t, http.MethodPost, "/v1/api/sync/upload/all", nil, nil); code != http.StatusOK {
		t.Fatalf("upload all: %d", code)
	}
	var status struct {
		Unsaved         bool   `json:"unsaved"`
		LastUploadLabel string `json:"lastUploadLabel"`
	}
	h.call(t, http.MethodGet, "/v1/api/sync/status", nil, &status)
	if status.Unsaved || status.LastUploadLabel == "从未上传" {
		t.Fatalf("status = %+v", status)
	}
	remoteP, found, err := h.ws.Remote.GetProject(ctx, p.ID)
	if err != nil || !found || remoteP.AudioFile != got.AudioFile {
		t.Fatalf("remote project = %+v found=%v err=%v", remoteP, found, err)
	}

	if code := h.call(t, http.MethodDelete, base, nil, nil); code != http.StatusOK {
		t.Fatalf("delete: %d", code)
	}
	if code := h.call(t, http.MethodGet, base, nil, nil); code != http.StatusNotFound {
		t.Fatalf("deleted project: %d", code)
	}
}

func TestStudioLibraryAndTools(t *testing.T) {
	h := newStudio(t)

	var insp models.Inspiration
	if code := h.call(t, http.MethodPost, "/v1/api/inspirations/extract", map[string]string{"content": "一段杂乱的笔记"}, &insp); code != http.StatusOK {
		t.Fatalf("extract: %d", code)
	}
	if insp.ID == "" || insp.Category != "科技" || insp.ViralTitle != "爆款标题" {
		t.Fatalf("inspiration = %+v", insp)
	}
	if code := h.call(t, http.MethodPost, "/v1/api/inspirations/extract", map[string]string{"content": " "}, nil); code != http.StatusBadRequest {
		t.Fatalf("empty extract: %d", code)
	}
	var list struct {
		Inspirations []models.Inspiration `json:"inspirations"`
	}
	h.call(t, http.MethodGet, "/v1/api/inspirations", nil, &list)
	if len(list.Inspirations) != 1 {
		t.Fatalf("inspirations = %+v", list.Inspirations)
	}
	if code := h.call(t, http.MethodDelete, "/v1/api/inspirations/"+insp.ID, nil, nil); code != http.StatusOK {
		t.Fatalf("delete inspiration: %d", code)
	}

	var ideas struct {
		Direction string             `json:"direction"`
		Titles    []models.TitleItem `json:"titles"`
	}
	if code := h.call(t, http.MethodPost, "/v1/api/tools/title-ideas", map[string]string{"direction": "效率工具"}, &ideas); code != http.StatusOK {
		t.Fatalf("title ideas: %d", code)
	}
	if ideas.Direction != "效率工具" || len(ideas.Titles) != 1 {
		t.Fatalf("ideas = %+v", ideas)
	}
	var saved map[string]any
	h.call(t, http.MethodGet, "/v1/api/tools/ai_titles_generator", nil, &saved)
	if saved["direction"] != "效率工具" {
		t.Fatalf("saved tool = %v", saved)
	}

	var remoteTool any
	h.call(t, http.MethodGet, "/v1/api/tools/ai_titles_generator/remote", nil, &remoteTool)
	if remoteTool != nil {
		t.Fatalf("remote tool before upload = %v", remoteTool)
	}
	if code := h.call(t, http.MethodPost, "/v1/api/tools/ai_titles_generator/upload", saved, nil); code != http.StatusOK {
		t.Fatalf("upload tool: %d", code)
	}
	h.call(t, http.MethodGet, "/v1/api/tools/ai_titles_generator/remote", nil, &remoteTool)
	if m, ok := remoteTool.(map[string]any); !ok || m["direction"] != "效率工具" {
		t.Fatalf("remote tool = %v", remoteTool)
	}

	var prompts models.PromptBundle
	h.call(t, http.MethodGet, "/v1/api/prompts", nil, &prompts)
	tpl := prompts[models.PromptScript]
	tpl.Template = "自定义 {{topic}}"
	prompts[models.PromptScript] = tpl
	h.call(t, http.MethodPut, "/v1/api/prompts", prompts, &prompts)
	if prompts[models.PromptScript].Template != "自定义 {{topic}}" {
		t.Fatalf("saved prompt = %+v", prompts[models.PromptScript])
	}
	h.call(t, http.MethodPost, "/v1/api/prompts/reset", nil, &prompts)
	if prompts[models.PromptScript].Template == "自定义 {{topic}}" {
		t.Fatal("reset kept custom template")
	}
}

func TestStudioSettingsAndBusy(t *testing.T) {
	h := newStudio(t)

	var st studio.Settings
	h.call(t, http.MethodGet, "/v1/api/settings", nil, &st)
	if st.HasCustomKey {
		t.Fatal("unexpected custom key")
	}
	h.call(t, http.MethodPut, "/v1/api/settings/api-key", map[string]string{"apiKey": "user-key"}, &st)
	if !st.HasCustomKey {
		t.Fatal("custom key not saved")
	}
	h.call(t, http.MethodPut, "/v1/api/settings/api-key", map[string]string{"apiKey": ""}, &st)
	if st.HasCustomKey {
		t.Fatal("custom key not cleared")
	}

	if code := h.call(t, http.MethodPost, "/v1/api/activity", nil, nil); code != http.StatusNoContent {
		t.Fatalf("activity: %d", code)
	}
	if !h.ws.Activity.ActiveWithin(time.Minute) {
		t.Fatal("activity not recorded")
	}
	var busy struct {
		Busy bool `json:"busy"`
	}
	h.call(t, http.MethodGet, "/v1/api/busy", nil, &busy)
	if busy.Busy {
		t.Fatal("idle workspace reported busy")
	}
}

func TestIdlePullWaitsForOpenEditor(t *testing.T) {
	h := newStudio(t)
	ctx := context.Background()
	loop := h.ws.IdleLoop()
	// 只看忙碌状态，不看最近输入
	loop.Window = 0

	var busy struct {
		Busy bool           `json:"busy"`
		UI   studio.UIState `json:"ui"`
	}
	if code := h.call(t, http.MethodPut, "/v1/api/busy", studio.UIState{Editing: true}, &busy); code != http.StatusOK {
		t.Fatalf("report busy: %d", code)
	}
	if !busy.Busy || !busy.UI.Editing {
		t.Fatalf("busy = %+v", busy)
	}
	if pulled, next := loop.Attempt(ctx); pulled || next != loop.Deferral {
		t.Fatalf("editing: pulled=%v next=%v", pulled, next)
	}

	h.call(t, http.MethodPut, "/v1/api/busy", studio.UIState{Dragging: true}, &busy)
	if pulled, _ := loop.Attempt(ctx); pulled {
		t.Fatal("pulled while dragging")
	}

	h.call(t, http.MethodPut, "/v1/api/busy", studio.UIState{}, &busy)
	if busy.Busy {
		t.Fatal("still busy after panel closed")
	}
	if pulled, next := loop.Attempt(ctx); !pulled || next != loop.Interval {
		t.Fatalf("idle: pulled=%v next=%v", pulled, next)
	}
	if st := h.ws.Sync.Status().Get(); st.State != "synced" || st.LastSyncAt == 0 {
		t.Fatalf("sync status after idle pull = %+v", st)
	}
}

func TestStudioEvents(t *testing.T) {
	h := newStudio(t)
	p := h.createProject(t, "推送")
	srv := httptest.NewServer(h.r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?project=" + p.ID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	seen := map[string]bool{}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for len(seen) < 3 {
		var ev struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v (seen %v)", err, seen)
		}
		seen[ev.Type] = true
	}
	for _, typ := range []string{"sync", "node", "audio"} {
		if !seen[typ] {
			t.Fatalf("missing %s event: %v", typ, seen)
		}
	}

	bad, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws?project=missing", nil)
	if err != nil {
		t.Fatalf("dial missing: %v", err)
	}
	defer bad.Close()
	var msg map[string]string
	bad.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := bad.ReadJSON(&msg); err != nil || msg["error"] == "" {
		t.Fatalf("missing project message = %v err=%v", msg, err)
	}
}
