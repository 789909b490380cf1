package models

// StoryboardFrame 分镜画面，ImageURL 可能是 blob 引用或待上传的内联位图
type StoryboardFrame struct {
	ID             string `json:"id"`
	SceneNumber    int    `json:"sceneNumber"`
	OriginalText   string `json:"originalText,omitempty"`
	Description    string `json:"description"`
	ImagePrompt    string `json:"imagePrompt,omitempty"`
	ImageURL       string `json:"imageUrl,omitempty"`
	ImageModel     string `json:"imageModel,omitempty"`
	TimeRange      string `json:"timeRange,omitempty"`
	SkipGeneration bool   `json:"skipGeneration,omitempty"`
}

type TitleItem struct {
	Title    string  `json:"title"`
	Keywords string  `json:"keywords,omitempty"`
	Score    float64 `json:"score,omitempty"`
	// Type 旧版字段，只做透传
	Type     string  `json:"type,omitempty"`
}

type CoverOption struct {
	Visual      string  `json:"visual"`
	TitleTop    string  `json:"titleTop"`
	TitleBottom string  `json:"titleBottom"`
	Score       float64 `json:"score,omitempty"`
	// Copy 旧版字段，只做透传
	Copy        string  `json:"copy,omitempty"`
}

// TitlesSchema 标题生成的响应结构约束
var TitlesSchema = map[string]any{
	"type": "ARRAY",
	"items": map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"title":    map[string]any{"type": "STRING"},
			"keywords": map[string]any{"type": "STRING"},
			"score":    map[string]any{"type": "NUMBER"},
		},
		"required": []string{"title", "keywords", "score"},
	},
}

// CoverSchema 封面方案的响应结构约束
var CoverSchema = map[string]any{
	"type": "ARRAY",
	"items": map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"visual":      map[string]any{"type": "STRING"},
			"titleTop":    map[string]any{"type": "STRING"},
			"titleBottom": map[string]any{"type": "STRING"},
			"score":       map[string]any{"type": "NUMBER"},
		},
		"required": []string{"visual", "titleTop", "titleBottom", "score"},
	},
}
