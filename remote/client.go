// Package remote 同步服务的 HTTP 客户端
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"LongVideoAssistant/apperr"
	"LongVideoAssistant/models"

	"github.com/go-resty/resty/v2"
)

type Client struct {
	rc *resty.Client
}

type ReqCallback func(req *resty.Request)

// ProgressFunc 上传进度回调，total 未知时为 0
type ProgressFunc func(sent, total int64)

func New(baseURL string) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: 2 * time.Minute})
}

// NewWithHTTPClient 测试中可注入 httptest 的客户端
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	rc := resty.NewWithClient(hc).
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")
	return &Client{rc: rc}
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) request(ctx context.Context, path, method string, callback ReqCallback, resp interface{}) (*resty.Response, error) {
	req := c.rc.R().SetContext(ctx)
	if callback != nil {
		callback(req)
	}
	if resp != nil {
		req.SetResult(resp)
	}
	var e errorBody
	req.SetError(&e)
	res, err := req.Execute(method, path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRemoteUnavailable, "无法连接同步服务", err)
	}
	if res.StatusCode() == http.StatusNotFound {
		return res, apperr.New(apperr.KindNotFound, "远端不存在该记录")
	}
	if res.IsError() {
		msg := e.Error
		if msg == "" {
			msg = res.Status()
		}
		return res, apperr.New(apperr.KindRemoteUnavailable, fmt.Sprintf("同步服务返回错误: %s", msg))
	}
	return res, nil
}

// Pull GET /api/sync
func (c *Client) Pull(ctx context.Context) (models.PullResponse, error) {
	var out models.PullResponse
	_, err := c.request(ctx, "/api/sync", http.MethodGet, nil, &out)
	return out, err
}

type pushResult struct {
	Success   bool  `json:"success"`
	Timestamp int64 `json:"timestamp"`
}

// Push POST /api/sync，只发送 bundle 中非空的字段
func (c *Client) Push(ctx context.Context, bundle models.SyncBundle) error {
	var out pushResult
	_, err := c.request(ctx, "/api/sync", http.MethodPost, func(req *resty.Request) {
		req.SetHeader("Content-Type", "application/json").SetBody(bundle)
	}, &out)
	if err != nil {
		return err
	}
	if !out.Success {
		return apperr.New(apperr.KindRemoteUnavailable, "同步服务未确认写入")
	}
	return nil
}

// GetProject 单项目拉取，远端不存在时 found 为 false
func (c *Client) GetProject(ctx context.Context, id string) (p models.Project, found bool, err error) {
	_, err = c.request(ctx, "/api/projects/"+url.PathEscape(id), http.MethodGet, nil, &p)
	if apperr.Is(err, apperr.KindNotFound) {
		return p, false, nil
	}
	if err != nil {
		return p, false, err
	}
	return p, true, nil
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	_, err := c.request(ctx, "/api/projects/"+url.PathEscape(id), http.MethodDelete, nil, nil)
	return err
}

func (c *Client) DeleteInspiration(ctx context.Context, id string) error {
	_, err := c.request(ctx, "/api/inspirations/"+url.PathEscape(id), http.MethodDelete, nil, nil)
	return err
}

// GetTool 返回远端保存的工具数据，未保存过时为 nil
func (c *Client) GetTool(ctx context.Context, id string) (json.RawMessage, error) {
	res, err := c.request(ctx, "/api/tools/"+url.PathEscape(id), http.MethodGet, nil, nil)
	if err != nil {
		return nil, err
	}
	body := strings.TrimSpace(string(res.Body()))
	if body == "" || body == "null" {
		return nil, nil
	}
	return json.RawMessage(body), nil
}

type putBlobResult struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

// PutBlob 上传文件，projectID 非空时存放在 <projectID>/<name>，返回 blob 引用
func (c *Client) PutBlob(ctx context.Context, projectID, name string, body io.Reader, size int64, contentType string, onProgress ProgressFunc) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var out putBlobResult
	reader := &progressReader{r: body, total: size, fn: onProgress}
	_, err := c.request(ctx, models.BlobPathMarker+url.PathEscape(name), http.MethodPut, func(req *resty.Request) {
		req.SetHeader("Content-Type", contentType).SetBody(reader)
		if projectID != "" {
			req.SetQueryParam("project", projectID)
		}
	}, &out)
	if err != nil {
		if apperr.Is(err, apperr.KindRemoteUnavailable) || apperr.Is(err, apperr.KindNotFound) {
			return "", apperr.Wrap(apperr.KindBlobUnavailable, "文件上传失败", err)
		}
		return "", err
	}
	if !out.Success || out.URL == "" {
		return "", apperr.New(apperr.KindBlobUnavailable, "文件上传失败")
	}
	return out.URL, nil
}

// DeleteBlob 按引用删除，引用必须包含 /api/images/
func (c *Client) DeleteBlob(ctx context.Context, ref string) error {
	idx := strings.Index(ref, models.BlobPathMarker)
	if idx < 0 {
		return apperr.New(apperr.KindValidation, "不是有效的文件引用")
	}
	key := ref[idx+len(models.BlobPathMarker):]
	if q := strings.IndexByte(key, '?'); q >= 0 {
		key = key[:q]
	}
	_, err := c.request(ctx, models.BlobPathMarker+key, http.MethodDelete, nil, nil)
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return apperr.Wrap(apperr.KindBlobUnavailable, "文件删除失败", err)
	}
	return nil
}

type progressReader struct {
	r     io.Reader
	total int64
	sent  atomic.Int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.fn != nil {
		p.fn(p.sent.Add(int64(n)), p.total)
	}
	return n, err
}
