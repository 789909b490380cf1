package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path"
	"strings"

	"LongVideoAssistant/apperr"

	"github.com/spf13/afero"
)

const (
	objectsDir = "/objects"
	metaDir    = "/meta"
)

type objectMeta struct {
	ContentType string `json:"contentType"`
	ETag        string `json:"etag"`
	Size        int64  `json:"size"`
}

// DirStore 基于目录的文件存储，单机部署与测试使用
type DirStore struct {
	fs afero.Fs
}

func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, blobUnavailable("无法创建文件目录", err)
	}
	return NewDirStoreFs(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// NewDirStoreFs 测试中传入内存文件系统
func NewDirStoreFs(fs afero.Fs) *DirStore {
	return &DirStore{fs: fs}
}

// cleanKey 去掉 .. 与多余的斜杠，防止越出存储目录
func cleanKey(key string) (string, error) {
	k := strings.TrimPrefix(path.Clean("/"+key), "/")
	if k == "" || k == "." {
		return "", apperr.New(apperr.KindValidation, "文件名不能为空")
	}
	return k, nil
}

func (s *DirStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	objPath := path.Join(objectsDir, k)
	if err := s.fs.MkdirAll(path.Dir(objPath), 0o755); err != nil {
		return blobUnavailable("无法创建文件目录", err)
	}
	f, err := s.fs.OpenFile(objPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return blobUnavailable("写入文件失败", err)
	}
	h := md5.New()
	n, err := io.Copy(f, io.TeeReader(r, h))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(objPath)
		return blobUnavailable("写入文件失败", err)
	}
	meta, _ := json.Marshal(objectMeta{
		ContentType: contentType,
		ETag:        `"` + hex.EncodeToString(h.Sum(nil)) + `"`,
		Size:        n,
	})
	metaPath := path.Join(metaDir, k+".json")
	if err := s.fs.MkdirAll(path.Dir(metaPath), 0o755); err != nil {
		return blobUnavailable("无法创建文件目录", err)
	}
	if err := afero.WriteFile(s.fs, metaPath, meta, 0o644); err != nil {
		return blobUnavailable("写入文件信息失败", err)
	}
	return nil
}

func (s *DirStore) Get(_ context.Context, key string) (*Object, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(path.Join(objectsDir, k))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errBlobNotFound(k)
		}
		return nil, blobUnavailable("读取文件失败", err)
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, errBlobNotFound(k)
	}
	obj := &Object{Body: f, Size: info.Size()}
	if b, err := afero.ReadFile(s.fs, path.Join(metaDir, k+".json")); err == nil {
		var m objectMeta
		if json.Unmarshal(b, &m) == nil {
			obj.ContentType = m.ContentType
			obj.ETag = m.ETag
		}
	}
	if obj.ContentType == "" {
		obj.ContentType = "application/octet-stream"
	}
	return obj, nil
}

func (s *DirStore) Delete(_ context.Context, key string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(path.Join(objectsDir, k)); err != nil && !os.IsNotExist(err) {
		return blobUnavailable("删除文件失败", err)
	}
	_ = s.fs.Remove(path.Join(metaDir, k+".json"))
	return nil
}

func (s *DirStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var keys []string
	err := afero.Walk(s.fs, objectsDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		key := strings.TrimPrefix(p, objectsDir+"/")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return 0, blobUnavailable("列出文件失败", err)
	}
	for i, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}
