package service

import (
	"bytes"
	"context"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"LongVideoAssistant/apperr"
	"LongVideoAssistant/config"

	"github.com/gabriel-vasile/mimetype"
)

// Object 读取到的文件，Body 由调用方关闭
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	ETag        string
}

// BlobStore 图片与音频文件的存储
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (*Object, error)
	// Delete 不存在时不报错
	Delete(ctx context.Context, key string) error
	// DeletePrefix 删除前缀下的全部文件，返回删除数量
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// CacheControl 文件内容不可变，key 变化即新文件
const CacheControl = "public, max-age=31536000"

var Blobs BlobStore

// InitBlobStore 按配置选择存储后端，在 main 中调用
func InitBlobStore() error {
	store, err := NewBlobStore(config.AppConfig)
	if err != nil {
		return err
	}
	Blobs = store
	return nil
}

func NewBlobStore(cfg *config.Config) (BlobStore, error) {
	switch cfg.Blob.Backend {
	case "local":
		return NewDirStore(cfg.Blob.Dir)
	case "", "minio":
		return NewMinIOStore(cfg.MinIO)
	}
	return nil, apperr.New(apperr.KindValidation, "未知的文件存储后端: "+cfg.Blob.Backend)
}

func errBlobNotFound(key string) error {
	return apperr.New(apperr.KindNotFound, "文件不存在: "+key)
}

func blobUnavailable(msg string, err error) error {
	return apperr.Wrap(apperr.KindBlobUnavailable, msg, err)
}

// extContentTypes 常见扩展名，mime 包的系统表在不同机器上不一致
var extContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
}

// ResolveContentType 请求头优先，其次按扩展名，最后嗅探内容。
// 返回的 reader 包含嗅探时读取的字节
func ResolveContentType(key, declared string, r io.Reader) (string, io.Reader) {
	if ct := strings.TrimSpace(declared); ct != "" && ct != "application/octet-stream" {
		return ct, r
	}
	ext := strings.ToLower(filepath.Ext(key))
	if ct, ok := extContentTypes[ext]; ok {
		return ct, r
	}
	if ct := mime.TypeByExtension(ext); ext != "" && ct != "" {
		return ct, r
	}
	head := make([]byte, 3072)
	n, _ := io.ReadFull(r, head)
	head = head[:n]
	return mimetype.Detect(head).String(), io.MultiReader(bytes.NewReader(head), r)
}
