package mutator

import (
	"context"
	"sort"

	"LongVideoAssistant/apperr"
	"LongVideoAssistant/localstore"
	"LongVideoAssistant/models"

	"github.com/google/uuid"
)

// 灵感与提示词的写入不涉及项目状态，只需标记未保存

func (m *Mutator) Inspirations(ctx context.Context) []models.Inspiration {
	items, err := m.local.AllInspirations(ctx)
	if err != nil {
		m.log.Error("读取灵感列表失败", "error", err)
		return []models.Inspiration{}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt > items[j].CreatedAt })
	return items
}

// SaveInspiration 保存灵感，缺少 id 与创建时间时自动补齐
func (m *Mutator) SaveInspiration(ctx context.Context, i models.Inspiration) (models.Inspiration, error) {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.CreatedAt == 0 {
		i.CreatedAt = m.now().UnixMilli()
	}
	i = i.Normalize()
	if err := m.local.PutInspiration(ctx, i); err != nil {
		return models.Inspiration{}, err
	}
	m.trackOnly(ctx)
	return i, nil
}

// DeleteInspiration 删除本地记录后请求远端删除，远端失败只记日志
func (m *Mutator) DeleteInspiration(ctx context.Context, id string) error {
	if err := m.local.Delete(ctx, localstore.Inspirations, id); err != nil {
		return err
	}
	m.trackOnly(ctx)
	if m.remote != nil {
		if err := m.remote.DeleteInspiration(ctx, id); err != nil && !apperr.Is(err, apperr.KindNotFound) {
			m.log.Warn("删除远端灵感失败", "inspiration_id", id, "error", err)
		}
	}
	return nil
}

func (m *Mutator) Prompts(ctx context.Context) models.PromptBundle {
	b, err := m.local.Prompts(ctx)
	if err != nil {
		m.log.Error("读取提示词失败", "error", err)
	}
	return b
}

// SavePrompts 只接受固定范围内的模板键
func (m *Mutator) SavePrompts(ctx context.Context, b models.PromptBundle) (models.PromptBundle, error) {
	for k := range b {
		if !k.Valid() {
			return nil, apperr.New(apperr.KindValidation, "未知的提示词: "+string(k))
		}
	}
	merged := models.MergePrompts(b)
	if err := m.local.SavePrompts(ctx, merged); err != nil {
		return nil, err
	}
	m.trackOnly(ctx)
	return merged, nil
}

// ResetPrompts 恢复默认模板
func (m *Mutator) ResetPrompts(ctx context.Context) (models.PromptBundle, error) {
	defaults := models.DefaultPrompts()
	if err := m.local.SavePrompts(ctx, defaults); err != nil {
		return nil, err
	}
	m.trackOnly(ctx)
	return defaults, nil
}

func (m *Mutator) trackOnly(ctx context.Context) {
	if m.sync == nil {
		return
	}
	if err := m.sync.TrackChange(ctx); err != nil {
		m.log.Warn("记录修改时间失败", "error", err)
	}
}
