package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"LongVideoAssistant/ai"
	"LongVideoAssistant/apperr"
	"LongVideoAssistant/localstore"
	"LongVideoAssistant/models"
	"LongVideoAssistant/mutator"
)

// fakeGen 按提示词前缀分派，模板在 newHarness 中设置
type fakeGen struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	model string
}

func (f *fakeGen) hit(prompt string) (string, error) {
	task := strings.SplitN(prompt, " ", 2)[0]
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[task]++
	if err := f.fail[task]; err != nil {
		return task, err
	}
	return task, nil
}

func (f *fakeGen) count(task string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[task]
}

func (f *fakeGen) GenerateText(_ context.Context, prompt, _, model string) (string, error) {
	task, err := f.hit(prompt)
	if err != nil {
		return "", err
	}
	if task == "SCRIPT" {
		f.mu.Lock()
		f.model = model
		f.mu.Unlock()
		return "hello", nil
	}
	return "一段简介", nil
}

func (f *fakeGen) GenerateJSON(_ context.Context, prompt string, _ any, _ string, out any) error {
	task, err := f.hit(prompt)
	if err != nil {
		return err
	}
	var raw string
	switch task {
	case "TITLES":
		raw = `[{"title":"标题一","keywords":"k","score":88}]`
	case "COVER":
		raw = `[{"visual":"画面","titleTop":"上","titleBottom":"下","score":90}]`
	default:
		return errors.New("unexpected json task " + task)
	}
	return json.Unmarshal([]byte(raw), out)
}

type harness struct {
	m   *mutator.Mutator
	gen *fakeGen
	c   *Coordinator
	p   models.Project
}

func newHarness(t *testing.T, gen Generator) harness {
	t.Helper()
	local, err := localstore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m := mutator.New(local, nil, nil, nil)
	t.Cleanup(func() {
		m.Close()
		_ = local.Close()
	})
	ctx := context.Background()
	_, err = m.SavePrompts(ctx, models.PromptBundle{
		models.PromptScript:   {Template: "SCRIPT {{topic}} {{tone}}"},
		models.PromptTitles:   {Template: "TITLES {{script}}"},
		models.PromptSummary:  {Template: "SUMMARY {{script}}"},
		models.PromptCoverGen: {Template: "COVER {{title}} {{script}}"},
	})
	if err != nil {
		t.Fatal(err)
	}
	p, err := m.Create(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	fg, _ := gen.(*fakeGen)
	c := New(p.ID, gen, m, nil, WithRetryWait(time.Millisecond), WithScriptModel("script-model"))
	return harness{m: m, gen: fg, c: c, p: p}
}

func TestFreshProjectThroughOneClick(t *testing.T) {
	h := newHarness(t, &fakeGen{})
	ctx := context.Background()

	p, err := h.c.HandleNodeAction(ctx, models.TaskScript)
	if err != nil {
		t.Fatalf("script: %v", err)
	}
	if p.Script != "hello" || p.Status != models.ProjectStatusInProgress || p.ModuleTimestamps[models.TaskScript] == 0 {
		t.Fatalf("after script = %+v", p)
	}
	if h.gen.model != "script-model" {
		t.Fatalf("script model = %q", h.gen.model)
	}

	res, err := h.c.OneClick(ctx)
	if err != nil {
		t.Fatalf("OneClick: %v", err)
	}
	p = res.Project
	if len(p.Titles) == 0 || p.Summary == "" || len(p.CoverOptions) == 0 {
		t.Fatalf("fan-out results missing: %+v", p)
	}
	if p.Status != models.ProjectStatusInProgress {
		t.Fatalf("status = %s", p.Status)
	}
	for _, task := range models.FanOutTasks {
		if p.ModuleTimestamps[task] == 0 {
			t.Fatalf("%s not stamped", task)
		}
	}
	st := h.c.State().Get()
	if len(st.Generating) != 0 || len(st.Failed) != 0 {
		t.Fatalf("state = %+v", st)
	}
}

func TestOneClickPartialFailure(t *testing.T) {
	gen := &fakeGen{fail: map[string]error{"SUMMARY": apperr.New(apperr.KindUnknown, "boom")}}
	h := newHarness(t, gen)
	ctx := context.Background()
	h.m.Update(ctx, h.p.ID, func(p models.Project) models.Project {
		p.Script = "s"
		p.Summary = "旧简介"
		return p
	})

	res, err := h.c.OneClick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Project.Titles) == 0 || len(res.Project.CoverOptions) == 0 {
		t.Fatalf("siblings not persisted: %+v", res.Project)
	}
	if res.Project.Summary != "旧简介" {
		t.Fatalf("summary changed: %q", res.Project.Summary)
	}
	if _, ok := res.Failed[models.TaskSummary]; !ok || len(res.Failed) != 1 {
		t.Fatalf("failed = %v", res.Failed)
	}
	st := h.c.State().Get()
	if len(st.Failed) != 1 || st.Failed[0] != models.TaskSummary || len(st.Generating) != 0 {
		t.Fatalf("state = %+v", st)
	}
	if n := gen.count("SUMMARY"); n != 2 {
		t.Fatalf("summary attempts = %d, want 2", n)
	}
	stored, _, _ := h.m.Project(ctx, h.p.ID)
	if len(stored.Titles) == 0 || stored.Summary != "旧简介" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestOneClickDoesNotRetryMissingCredential(t *testing.T) {
	gen := &fakeGen{fail: map[string]error{"TITLES": apperr.New(apperr.KindMissingCredential, "no key")}}
	h := newHarness(t, gen)
	ctx := context.Background()
	h.m.Update(ctx, h.p.ID, func(p models.Project) models.Project { p.Script = "s"; return p })

	if _, err := h.c.OneClick(ctx); err != nil {
		t.Fatal(err)
	}
	if n := gen.count("TITLES"); n != 1 {
		t.Fatalf("titles attempts = %d", n)
	}
}

func TestDependencyUnmet(t *testing.T) {
	gen := &fakeGen{}
	h := newHarness(t, gen)
	ctx := context.Background()

	for _, task := range []string{models.TaskTitles, models.TaskSummary, models.TaskCover} {
		if _, err := h.c.HandleNodeAction(ctx, task); !apperr.Is(err, apperr.KindDependencyUnmet) {
			t.Fatalf("%s: err = %v", task, err)
		}
	}
	if _, err := h.c.OneClick(ctx); !apperr.Is(err, apperr.KindDependencyUnmet) {
		t.Fatalf("oneclick err = %v", err)
	}
	if _, err := h.c.HandleNodeAction(ctx, models.TaskInput); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("input err = %v", err)
	}
	if _, err := h.c.HandleNodeAction(ctx, models.TaskAudioFile); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("audio err = %v", err)
	}
	if len(gen.calls) != 0 {
		t.Fatalf("generator called: %v", gen.calls)
	}

	h.m.Update(ctx, h.p.ID, func(p models.Project) models.Project { p.Inputs.Topic = ""; return p })
	if _, err := h.c.HandleNodeAction(ctx, models.TaskScript); !apperr.Is(err, apperr.KindDependencyUnmet) {
		t.Fatalf("script err = %v", err)
	}
}

func TestFailedNodeClearedOnSuccess(t *testing.T) {
	gen := &fakeGen{fail: map[string]error{"SCRIPT": apperr.New(apperr.KindRateLimited, "slow")}}
	h := newHarness(t, gen)
	ctx := context.Background()

	if _, err := h.c.HandleNodeAction(ctx, models.TaskScript); !apperr.Is(err, apperr.KindRateLimited) {
		t.Fatalf("err = %v", err)
	}
	if st := h.c.State().Get(); len(st.Failed) != 1 {
		t.Fatalf("state = %+v", st)
	}
	stored, _, _ := h.m.Project(ctx, h.p.ID)
	if stored.Script != "" || stored.UpdatedAt != h.p.UpdatedAt {
		t.Fatal("failed generation touched the project")
	}

	gen.mu.Lock()
	gen.fail = nil
	gen.mu.Unlock()
	if _, err := h.c.HandleNodeAction(ctx, models.TaskScript); err != nil {
		t.Fatal(err)
	}
	if st := h.c.State().Get(); len(st.Failed) != 0 {
		t.Fatalf("state = %+v", st)
	}
}

func TestTitlesRetriedThroughClient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"code":503,"status":"UNAVAILABLE","message":"The model is overloaded."}}`))
			return
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"[{\"title\":\"t\",\"keywords\":\"k\",\"score\":80}]"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()
	client := ai.New(ai.Config{APIKey: "k", BaseURL: srv.URL, RetryDelay: time.Millisecond, MaxRetries: 3}, nil, nil)

	h := newHarness(t, client)
	ctx := context.Background()
	h.m.Update(ctx, h.p.ID, func(p models.Project) models.Project { p.Script = "s"; return p })

	p, err := h.c.HandleNodeAction(ctx, models.TaskTitles)
	if err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("upstream calls = %d", n)
	}
	if len(p.Titles) != 1 {
		t.Fatalf("titles = %+v", p.Titles)
	}
	if st := h.c.State().Get(); len(st.Failed) != 0 {
		t.Fatalf("state = %+v", st)
	}
}

type savedTools struct {
	mu   sync.Mutex
	data map[string]json.RawMessage
}

func (s *savedTools) SaveTool(_ context.Context, id string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = map[string]json.RawMessage{}
	}
	s.data[id] = data
	return nil
}

type toolGen struct{ fakeGen }

func (g *toolGen) GenerateJSON(_ context.Context, prompt string, _ any, _ string, out any) error {
	switch {
	case strings.Contains(prompt, "灵感文本"):
		return json.Unmarshal([]byte(`{"category":"商业思维","trafficLogic":"信息差","viralTitle":"爆款"}`), out)
	case strings.Contains(prompt, "标题方向"):
		if !strings.Contains(prompt, "副业") {
			return errors.New("direction not interpolated")
		}
		return json.Unmarshal([]byte(`{"titles":[{"title":"副业一","score":90}],"coverVisual":"画面","coverText":"大字"}`), out)
	}
	return errors.New("unexpected prompt")
}

func TestAssistantTools(t *testing.T) {
	local, err := localstore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer local.Close()
	m := mutator.New(local, nil, nil, nil)
	defer m.Close()
	tools := &savedTools{}
	a := NewAssistant(&toolGen{}, m, tools, nil)
	ctx := context.Background()

	insp, err := a.ExtractInspiration(ctx, "  一段笔记  ")
	if err != nil {
		t.Fatal(err)
	}
	if insp.ID == "" || insp.Category != "商业思维" || insp.Content != "一段笔记" {
		t.Fatalf("inspiration = %+v", insp)
	}
	if len(m.Inspirations(ctx)) != 1 {
		t.Fatal("inspiration not saved")
	}

	ideas, err := a.GenerateTitleIdeas(ctx, "副业")
	if err != nil {
		t.Fatal(err)
	}
	if len(ideas.Titles) != 1 || ideas.CoverText != "大字" {
		t.Fatalf("ideas = %+v", ideas)
	}
	if _, ok := tools.data[TitleIdeasToolID]; !ok {
		t.Fatal("tool data not saved")
	}
	if _, err := a.GenerateTitleIdeas(ctx, " "); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v", err)
	}
}
