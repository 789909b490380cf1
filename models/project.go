package models

import (
	"encoding/json"
	"strings"
)

// 项目状态常量，除 ARCHIVED 外均由 DeriveStatus 计算得出
const (
	ProjectStatusDraft      = "DRAFT"       // 刚创建，尚无文案
	ProjectStatusInProgress = "IN_PROGRESS" // 已有文案，产出未齐
	ProjectStatusCompleted  = "COMPLETED"   // 文案/标题/音频/简介/封面齐全
	ProjectStatusArchived   = "ARCHIVED"    // 仅能通过显式归档进入
)

// 新建项目的默认值
const (
	DefaultProjectTitle = "未命名项目"
	DefaultTone         = "信息丰富且引人入胜"
	DefaultLanguage     = "中文"
)

const (
	// InlineImagePrefix 内联位图（尚未上传）的 URL 前缀
	InlineImagePrefix = "data:"
	// BlobPathMarker 指向 blob 存储的 URL 片段
	BlobPathMarker = "/api/images/"
)

type Inputs struct {
	Topic    string `json:"topic"`
	Tone     string `json:"tone"`
	Language string `json:"language"`
}

type CoverImage struct {
	ImageURL string `json:"imageUrl"`
	Title    string `json:"title"`
	Prompt   string `json:"prompt"`
}

type Project struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
	Status    string `json:"status"`
	Marked    bool   `json:"marked,omitempty"`

	ModuleTimestamps map[string]int64 `json:"moduleTimestamps,omitempty"`

	Inputs Inputs `json:"inputs"`

	Script       string            `json:"script,omitempty"`
	Storyboard   []StoryboardFrame `json:"storyboard,omitempty"`
	Titles       []TitleItem       `json:"titles,omitempty"`
	Summary      string            `json:"summary,omitempty"`
	CoverText    string            `json:"coverText,omitempty"` // 旧版字段，只做透传
	CoverOptions []CoverOption     `json:"coverOptions,omitempty"`
	CoverImage   *CoverImage       `json:"coverImage,omitempty"`
	AudioFile    string            `json:"audioFile,omitempty"`
}

// Clone 深拷贝，变换函数拿到的副本可随意修改
func (p Project) Clone() Project {
	out := p
	if p.ModuleTimestamps != nil {
		out.ModuleTimestamps = make(map[string]int64, len(p.ModuleTimestamps))
		for k, v := range p.ModuleTimestamps {
			out.ModuleTimestamps[k] = v
		}
	}
	if p.Storyboard != nil {
		out.Storyboard = append([]StoryboardFrame(nil), p.Storyboard...)
	}
	if p.Titles != nil {
		out.Titles = append([]TitleItem(nil), p.Titles...)
	}
	if p.CoverOptions != nil {
		out.CoverOptions = append([]CoverOption(nil), p.CoverOptions...)
	}
	if p.CoverImage != nil {
		ci := *p.CoverImage
		out.CoverImage = &ci
	}
	return out
}

// Stamp 记录某个生成任务的完成时间
func (p *Project) Stamp(taskID string, at int64) {
	if p.ModuleTimestamps == nil {
		p.ModuleTimestamps = make(map[string]int64)
	}
	p.ModuleTimestamps[taskID] = at
}

// BlobRefs 返回项目持有的全部 blob 引用：分镜图、封面图与音频
func (p Project) BlobRefs() []string {
	var refs []string
	for _, f := range p.Storyboard {
		if IsBlobRef(f.ImageURL) {
			refs = append(refs, f.ImageURL)
		}
	}
	if p.CoverImage != nil && IsBlobRef(p.CoverImage.ImageURL) {
		refs = append(refs, p.CoverImage.ImageURL)
	}
	if IsBlobRef(p.AudioFile) {
		refs = append(refs, p.AudioFile)
	}
	return refs
}

// Sanitized 返回清除了内联位图的深拷贝，用于上传
func (p Project) Sanitized() Project {
	out := p.Clone()
	for i := range out.Storyboard {
		if IsInlineImage(out.Storyboard[i].ImageURL) {
			out.Storyboard[i].ImageURL = ""
		}
	}
	if out.CoverImage != nil && IsInlineImage(out.CoverImage.ImageURL) {
		out.CoverImage.ImageURL = ""
	}
	return out
}

func IsInlineImage(url string) bool {
	return strings.HasPrefix(url, InlineImagePrefix)
}

func IsBlobRef(url string) bool {
	return url != "" && !IsInlineImage(url) && strings.Contains(url, BlobPathMarker)
}

func DecodeProject(data []byte) (Project, error) {
	var p Project
	err := json.Unmarshal(data, &p)
	return p, err
}
