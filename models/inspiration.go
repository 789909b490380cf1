package models

import (
	"encoding/json"
	"strings"
)

// DefaultCategory 未填写类目时的归类
const DefaultCategory = "未分类"

type Inspiration struct {
	ID           string `json:"id"`
	Content      string `json:"content"`
	Category     string `json:"category"`
	TrafficLogic string `json:"trafficLogic"`
	ViralTitle   string `json:"viralTitle"`
	Rating       string `json:"rating,omitempty"`
	Marked       bool   `json:"marked,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
}

// Normalize 写入前补齐类目
func (i Inspiration) Normalize() Inspiration {
	if strings.TrimSpace(i.Category) == "" {
		i.Category = DefaultCategory
	}
	return i
}

// ToolRecord 工具数据，内容不做解析
type ToolRecord struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// SyncBundle 批量拉取与推送的载荷，推送时缺省的字段不做处理
type SyncBundle struct {
	Projects     []Project     `json:"projects,omitempty"`
	Inspirations []Inspiration `json:"inspirations,omitempty"`
	Prompts      PromptBundle  `json:"prompts,omitempty"`
	Tools        []ToolRecord  `json:"tools,omitempty"`
}

// PullResponse GET /api/sync 的响应，四个字段总是存在
type PullResponse struct {
	Projects     []Project     `json:"projects"`
	Inspirations []Inspiration `json:"inspirations"`
	Prompts      PromptBundle  `json:"prompts"`
	Tools        []ToolRecord  `json:"tools"`
}
