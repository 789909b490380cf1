package models

import "strings"

// IsFullyComplete 文案、标题、音频、简介与封面方案全部就绪
func IsFullyComplete(p Project) bool {
	return strings.TrimSpace(p.Script) != "" &&
		len(p.Titles) > 0 &&
		p.AudioFile != "" &&
		strings.TrimSpace(p.Summary) != "" &&
		len(p.CoverOptions) > 0
}

// DeriveStatus 根据当前字段计算项目状态，归档状态保持不变
func DeriveStatus(p Project) string {
	switch {
	case p.Status == ProjectStatusArchived:
		return ProjectStatusArchived
	case IsFullyComplete(p):
		return ProjectStatusCompleted
	case p.Status == ProjectStatusCompleted:
		return ProjectStatusInProgress
	case p.Status == ProjectStatusDraft && strings.TrimSpace(p.Script) != "":
		return ProjectStatusInProgress
	case p.Status == "":
		if strings.TrimSpace(p.Script) != "" {
			return ProjectStatusInProgress
		}
		return ProjectStatusDraft
	default:
		return p.Status
	}
}
