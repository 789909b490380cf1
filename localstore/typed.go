package localstore

import (
	"context"
	"encoding/json"
	"strconv"

	"LongVideoAssistant/apperr"
	"LongVideoAssistant/models"
)

func (s *Store) AllProjects(ctx context.Context) ([]models.Project, error) {
	raw, err := s.GetAll(ctx, Projects)
	out := make([]models.Project, 0, len(raw))
	if err != nil {
		return out, err
	}
	for _, data := range raw {
		p, err := models.DecodeProject(data)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// GetProject 读取单个项目，不存在时 found 为 false
func (s *Store) GetProject(ctx context.Context, id string) (models.Project, bool, error) {
	data, found, err := s.Get(ctx, Projects, id)
	if err != nil || !found {
		return models.Project{}, false, err
	}
	p, err := models.DecodeProject(data)
	if err != nil {
		return models.Project{}, false, apperr.Wrap(apperr.KindLocalStoreUnavailable, "项目数据损坏", err)
	}
	return p, true, nil
}

func (s *Store) PutProject(ctx context.Context, p models.Project) error {
	return s.putJSON(ctx, Projects, p.ID, p)
}

func (s *Store) AllInspirations(ctx context.Context) ([]models.Inspiration, error) {
	raw, err := s.GetAll(ctx, Inspirations)
	out := make([]models.Inspiration, 0, len(raw))
	if err != nil {
		return out, err
	}
	for _, data := range raw {
		var i models.Inspiration
		if err := json.Unmarshal(data, &i); err != nil {
			continue
		}
		out = append(out, i)
	}
	return out, nil
}

// PutInspiration 写入前补齐类目
func (s *Store) PutInspiration(ctx context.Context, i models.Inspiration) error {
	i = i.Normalize()
	return s.putJSON(ctx, Inspirations, i.ID, i)
}

func (s *Store) AllTools(ctx context.Context) ([]models.ToolRecord, error) {
	raw, err := s.GetAll(ctx, Tools)
	out := make([]models.ToolRecord, 0, len(raw))
	if err != nil {
		return out, err
	}
	for _, data := range raw {
		var t models.ToolRecord
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// GetTool 返回工具数据，不存在时返回 nil
func (s *Store) GetTool(ctx context.Context, id string) (json.RawMessage, error) {
	data, found, err := s.Get(ctx, Tools, id)
	if err != nil || !found {
		return nil, err
	}
	var t models.ToolRecord
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, apperr.Wrap(apperr.KindLocalStoreUnavailable, "工具数据损坏", err)
	}
	return t.Data, nil
}

func (s *Store) PutTool(ctx context.Context, t models.ToolRecord) error {
	return s.putJSON(ctx, Tools, t.ID, t)
}

// Prompts 返回默认模板与已保存模板合并后的结果
func (s *Store) Prompts(ctx context.Context) (models.PromptBundle, error) {
	v, found, err := s.GetDoc(ctx, DocPrompts)
	if err != nil {
		return models.DefaultPrompts(), err
	}
	if !found {
		return models.DefaultPrompts(), nil
	}
	saved, err := models.DecodePromptBundle([]byte(v))
	if err != nil {
		return models.DefaultPrompts(), nil
	}
	return models.MergePrompts(saved), nil
}

func (s *Store) SavePrompts(ctx context.Context, b models.PromptBundle) error {
	data, err := json.Marshal(b)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "提示词序列化失败", err)
	}
	return s.SetDoc(ctx, DocPrompts, string(data))
}

// ApplyPull 在一个事务里写入全量拉取的结果并把两个时钟置为 clock，
// 任一条写入失败时本地数据与时钟都保持不变
func (s *Store) ApplyPull(ctx context.Context, data models.PullResponse, clock int64) error {
	return s.Update(ctx, func(b *Batch) error {
		for _, p := range data.Projects {
			if err := putBatchJSON(b, Projects, p.ID, p); err != nil {
				return err
			}
		}
		for _, i := range data.Inspirations {
			i = i.Normalize()
			if err := putBatchJSON(b, Inspirations, i.ID, i); err != nil {
				return err
			}
		}
		for _, t := range data.Tools {
			if err := putBatchJSON(b, Tools, t.ID, t); err != nil {
				return err
			}
		}
		if data.Prompts != nil {
			raw, err := json.Marshal(models.MergePrompts(data.Prompts))
			if err != nil {
				return apperr.Wrap(apperr.KindValidation, "提示词序列化失败", err)
			}
			if err := b.SetDoc(DocPrompts, string(raw)); err != nil {
				return err
			}
		}
		ms := strconv.FormatInt(clock, 10)
		if err := b.SetDoc(DocLastUploadTime, ms); err != nil {
			return err
		}
		return b.SetDoc(DocLastChangeTime, ms)
	})
}

func putBatchJSON(b *Batch, c Collection, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "序列化失败", err)
	}
	return b.Put(c, id, raw)
}

// GetMillis 读取毫秒时间戳类的文档，缺失或无法解析时为 0
func (s *Store) GetMillis(ctx context.Context, key string) (int64, error) {
	v, found, err := s.GetDoc(ctx, key)
	if err != nil || !found {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (s *Store) SetMillis(ctx context.Context, key string, ms int64) error {
	return s.SetDoc(ctx, key, strconv.FormatInt(ms, 10))
}

func (s *Store) putJSON(ctx context.Context, c Collection, id string, v any) error {
	if id == "" {
		return apperr.New(apperr.KindValidation, "缺少 id")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "序列化失败", err)
	}
	return s.Put(ctx, c, id, b)
}
