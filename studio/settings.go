package studio

import (
	"context"
	"strings"

	"LongVideoAssistant/localstore"
)

// Settings 界面展示的本地设置，不返回密钥本身
type Settings struct {
	HasCustomKey bool  `json:"hasCustomKey"`
	AuthExpiry   int64 `json:"authExpiry,omitempty"`
}

func (w *Workspace) Settings(ctx context.Context) (Settings, error) {
	key, ok, err := w.Local.GetDoc(ctx, localstore.DocCustomAPIKey)
	if err != nil {
		return Settings{}, err
	}
	expiry, err := w.Local.GetMillis(ctx, localstore.DocAuthExpiry)
	if err != nil {
		return Settings{}, err
	}
	return Settings{HasCustomKey: ok && strings.TrimSpace(key) != "", AuthExpiry: expiry}, nil
}

// SetCustomAPIKey 保存自定义密钥，空字符串表示清除
func (w *Workspace) SetCustomAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		w.log.Info("自定义密钥已清除")
		return w.Local.DeleteDoc(ctx, localstore.DocCustomAPIKey)
	}
	w.log.Info("自定义密钥已保存", "api_key", key)
	return w.Local.SetDoc(ctx, localstore.DocCustomAPIKey, key)
}
