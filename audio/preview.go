// Package audio 音频文件的本地预览与上传
package audio

import (
	"io"
	"os"
	"path"
	"sync"

	"LongVideoAssistant/apperr"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// MaxSize 单个音频文件的大小上限
const MaxSize int64 = 100 << 20

const previewDir = "/previews"

// PreviewMeta 预览句柄对应的文件信息
type PreviewMeta struct {
	Handle      string `json:"handle"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// Previews 预览句柄登记表，文件暂存在 afero 文件系统上
type Previews struct {
	fs    afero.Fs
	limit int64
	mu    sync.Mutex
	items map[string]PreviewMeta
}

// NewPreviews fs 为空时使用内存文件系统
func NewPreviews(fs afero.Fs) *Previews {
	if fs == nil {
		fs = afero.NewMemMapFs()
	}
	return &Previews{fs: fs, limit: MaxSize, items: make(map[string]PreviewMeta)}
}

// Create 暂存文件并返回新句柄，超过 MaxSize 返回 PayloadTooLarge
func (p *Previews) Create(name, contentType string, r io.Reader) (PreviewMeta, error) {
	if err := p.fs.MkdirAll(previewDir, 0o755); err != nil {
		return PreviewMeta{}, apperr.Wrap(apperr.KindLocalStoreUnavailable, "无法创建预览目录", err)
	}
	handle := uuid.NewString()
	filePath := path.Join(previewDir, handle)
	f, err := p.fs.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return PreviewMeta{}, apperr.Wrap(apperr.KindLocalStoreUnavailable, "无法创建预览文件", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, p.limit+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = p.fs.Remove(filePath)
		return PreviewMeta{}, apperr.Wrap(apperr.KindLocalStoreUnavailable, "写入预览文件失败", err)
	}
	if n > p.limit {
		_ = p.fs.Remove(filePath)
		return PreviewMeta{}, errTooLarge()
	}
	if contentType == "" {
		contentType = p.sniff(filePath)
	}
	meta := PreviewMeta{Handle: handle, Name: name, Size: n, ContentType: contentType}
	p.mu.Lock()
	p.items[handle] = meta
	p.mu.Unlock()
	return meta, nil
}

func (p *Previews) sniff(filePath string) string {
	f, err := p.fs.Open(filePath)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

// Open 打开预览文件，调用方负责关闭
func (p *Previews) Open(handle string) (afero.File, PreviewMeta, error) {
	p.mu.Lock()
	meta, ok := p.items[handle]
	p.mu.Unlock()
	if !ok {
		return nil, PreviewMeta{}, apperr.New(apperr.KindNotFound, "预览不存在或已失效")
	}
	f, err := p.fs.Open(path.Join(previewDir, handle))
	if err != nil {
		return nil, PreviewMeta{}, apperr.Wrap(apperr.KindLocalStoreUnavailable, "无法读取预览文件", err)
	}
	return f, meta, nil
}

// Revoke 释放句柄并删除暂存文件，重复调用无副作用
func (p *Previews) Revoke(handle string) {
	if handle == "" {
		return
	}
	p.mu.Lock()
	_, ok := p.items[handle]
	delete(p.items, handle)
	p.mu.Unlock()
	if ok {
		_ = p.fs.Remove(path.Join(previewDir, handle))
	}
}

// Len 当前有效的句柄数
func (p *Previews) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

func errTooLarge() error {
	return apperr.New(apperr.KindPayloadTooLarge, "音频文件不能超过 100MB")
}
