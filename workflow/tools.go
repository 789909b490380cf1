package workflow

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"LongVideoAssistant/apperr"
	"LongVideoAssistant/logger"
	"LongVideoAssistant/models"
)

// TitleIdeasToolID 标题生成工具在 tools 表中的 id
const TitleIdeasToolID = "ai_titles_generator"

// Library 灵感与提示词的读写，mutator.Mutator 实现该接口
type Library interface {
	Prompts(ctx context.Context) models.PromptBundle
	SaveInspiration(ctx context.Context, i models.Inspiration) (models.Inspiration, error)
}

// ToolSaver 工具数据的本地保存，syncer.Controller 实现该接口
type ToolSaver interface {
	SaveTool(ctx context.Context, id string, data json.RawMessage) error
}

var inspirationSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"category":     map[string]any{"type": "STRING"},
		"trafficLogic": map[string]any{"type": "STRING"},
		"viralTitle":   map[string]any{"type": "STRING"},
	},
}

var titleIdeasSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"titles": map[string]any{
			"type": "ARRAY",
			"items": map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"title": map[string]any{"type": "STRING"},
					"score": map[string]any{"type": "NUMBER"},
				},
			},
		},
		"coverVisual": map[string]any{"type": "STRING"},
		"coverText":   map[string]any{"type": "STRING"},
	},
	"required": []string{"titles", "coverVisual", "coverText"},
}

// TitleIdeas 标题生成工具的输出
type TitleIdeas struct {
	Direction   string             `json:"direction"`
	Titles      []models.TitleItem `json:"titles"`
	CoverVisual string             `json:"coverVisual"`
	CoverText   string             `json:"coverText"`
	CreatedAt   int64              `json:"createdAt"`
}

// Assistant 不属于具体项目的 AI 工具
type Assistant struct {
	gen   Generator
	lib   Library
	tools ToolSaver
	log   *logger.Logger
	now   func() int64
}

func NewAssistant(gen Generator, lib Library, tools ToolSaver, log *logger.Logger) *Assistant {
	if log == nil {
		log = logger.Nop()
	}
	return &Assistant{gen: gen, lib: lib, tools: tools, log: log, now: nowMillis}
}

// ExtractInspiration 从一段杂乱文本中提取类目、流量逻辑与爆款标题并保存为灵感
func (a *Assistant) ExtractInspiration(ctx context.Context, content string) (models.Inspiration, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Inspiration{}, apperr.New(apperr.KindValidation, "灵感内容不能为空")
	}
	tpl := a.lib.Prompts(ctx)[models.PromptInspirationExtract].Template
	prompt := models.Interpolate(tpl, map[string]string{"content": content})

	var out struct {
		Category     string `json:"category"`
		TrafficLogic string `json:"trafficLogic"`
		ViralTitle   string `json:"viralTitle"`
	}
	if err := a.gen.GenerateJSON(ctx, prompt, inspirationSchema, "", &out); err != nil {
		a.log.Warn("灵感提取失败", "error", err)
		return models.Inspiration{}, err
	}
	return a.lib.SaveInspiration(ctx, models.Inspiration{
		Content:      content,
		Category:     out.Category,
		TrafficLogic: out.TrafficLogic,
		ViralTitle:   out.ViralTitle,
	})
}

// GenerateTitleIdeas 按标题方向生成标题与封面方案，结果保存为工具数据
func (a *Assistant) GenerateTitleIdeas(ctx context.Context, direction string) (TitleIdeas, error) {
	direction = strings.TrimSpace(direction)
	if direction == "" {
		return TitleIdeas{}, apperr.New(apperr.KindValidation, "请先填写标题方向")
	}
	tpl := a.lib.Prompts(ctx)[models.PromptAITitlesGenerator].Template
	prompt := models.Interpolate(tpl, map[string]string{"TITLE_DIRECTION": direction})

	var ideas TitleIdeas
	if err := a.gen.GenerateJSON(ctx, prompt, titleIdeasSchema, "", &ideas); err != nil {
		a.log.Warn("标题生成失败", "error", err)
		return TitleIdeas{}, err
	}
	ideas.Direction = direction
	ideas.CreatedAt = a.now()

	data, err := json.Marshal(ideas)
	if err != nil {
		return TitleIdeas{}, err
	}
	if err := a.tools.SaveTool(ctx, TitleIdeasToolID, data); err != nil {
		return TitleIdeas{}, err
	}
	a.log.Info("标题方案已生成", "titles", len(ideas.Titles))
	return ideas, nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }
