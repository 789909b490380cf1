// Package ai 调用 Gemini generateContent 接口：凭据解析、重试与错误归类
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"LongVideoAssistant/apperr"
	"LongVideoAssistant/logger"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"
)

const (
	DefaultTextModel  = "gemini-2.5-flash"
	DefaultImageModel = "gemini-2.5-flash-image"
	// ProImageModel 需要额外指定 imageSize
	ProImageModel = "gemini-3-pro-image-preview"

	// CustomKeyDoc 文档区中用户自定义 Key 的键
	CustomKeyDoc = "lva_custom_api_key"
)

// OutputKind 输出类型
type OutputKind int

const (
	OutputText OutputKind = iota
	OutputJSON
	OutputImage
)

type ImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type Request struct {
	Kind   OutputKind
	Prompt string
	// Schema 仅 OutputJSON 使用，可为空
	Schema any
	// Image 仅 OutputImage 使用
	Image ImageConfig
	// APIKey 单次调用覆盖的凭据
	APIKey string
	Model  string
}

type Result struct {
	// Text 文本或已去掉代码块标记的 JSON
	Text string
	// ImageURL data:<mime>;base64,... 形式的内联图片
	ImageURL string
}

// KeySource 读取用户保存的自定义 Key，localstore.Store 实现该接口
type KeySource interface {
	GetDoc(ctx context.Context, key string) (string, bool, error)
}

type Config struct {
	APIKey     string
	BaseURL    string
	TextModel  string
	ImageModel string
	RetryDelay time.Duration
	MaxRetries int
}

type Client struct {
	rc   *resty.Client
	cfg  Config
	keys KeySource
	log  *logger.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.rc = resty.NewWithClient(hc).SetBaseURL(strings.TrimRight(c.cfg.BaseURL, "/"))
	}
}

func New(cfg Config, keys KeySource, log *logger.Logger, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.TextModel == "" {
		cfg.TextModel = DefaultTextModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = DefaultImageModel
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if log == nil {
		log = logger.Nop()
	}
	c := &Client{
		rc:   resty.New().SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).SetTimeout(5 * time.Minute),
		cfg:  cfg,
		keys: keys,
		log:  log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// resolveKey 单次覆盖 > 用户自定义 Key > 进程配置
func (c *Client) resolveKey(ctx context.Context, override string) (string, error) {
	if k := strings.TrimSpace(override); k != "" {
		return k, nil
	}
	if c.keys != nil {
		if v, ok, err := c.keys.GetDoc(ctx, CustomKeyDoc); err == nil && ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	if k := strings.TrimSpace(c.cfg.APIKey); k != "" {
		return k, nil
	}
	return "", apperr.New(apperr.KindMissingCredential, msgMissingCredential)
}

// Generate 所有生成调用的统一入口。只有 Overloaded 会重试，间隔 2s/4s/8s 递增
func (c *Client) Generate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{}, apperr.New(apperr.KindEmptyPrompt, msgEmptyPrompt)
	}
	key, err := c.resolveKey(ctx, req.APIKey)
	if err != nil {
		return Result{}, err
	}
	model := req.Model
	if model == "" {
		if req.Kind == OutputImage {
			model = c.cfg.ImageModel
		} else {
			model = c.cfg.TextModel
		}
	}
	body := buildBody(req, model)

	var out Result
	attempt := 0
	err = retry.Do(
		func() error {
			attempt++
			res, err := c.once(ctx, key, model, body)
			if err != nil {
				return err
			}
			out, err = extract(req.Kind, res)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxRetries+1)),
		retry.Delay(c.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isOverloaded),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn("AI 服务繁忙，准备重试", "model", model, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		c.log.Error("AI 生成失败", "model", model, "attempts", attempt, "kind", apperr.KindOf(err), "error", err)
		return Result{}, err
	}
	return out, nil
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func buildBody(req Request, model string) map[string]interface{} {
	body := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"role": "user", "parts": []part{{Text: req.Prompt}}},
		},
	}
	gen := map[string]interface{}{}
	switch req.Kind {
	case OutputJSON:
		gen["responseMimeType"] = "application/json"
		if req.Schema != nil {
			gen["responseSchema"] = req.Schema
		}
	case OutputImage:
		img := req.Image
		if img.AspectRatio == "" {
			img.AspectRatio = "16:9"
		}
		if model == ProImageModel && img.ImageSize == "" {
			img.ImageSize = "1K"
		}
		gen["imageConfig"] = img
	}
	if len(gen) > 0 {
		body["generationConfig"] = gen
	}
	return body
}

func (c *Client) once(ctx context.Context, key, model string, body map[string]interface{}) (*generateResponse, error) {
	var out generateResponse
	var e errorResponse
	res, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", key).
		SetBody(body).
		SetResult(&out).
		SetError(&e).
		Post(fmt.Sprintf("/models/%s:generateContent", url.PathEscape(model)))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(0, "无法连接 AI 服务: "+err.Error())
	}
	if res.IsError() {
		msg := e.Error.Message
		if e.Error.Status != "" {
			msg = e.Error.Status + ": " + msg
		}
		if msg == "" {
			msg = strings.TrimSpace(string(res.Body()))
		}
		return nil, classify(res.StatusCode(), msg)
	}
	return &out, nil
}

func extract(kind OutputKind, res *generateResponse) (Result, error) {
	if len(res.Candidates) == 0 {
		if res.PromptFeedback.BlockReason != "" {
			return Result{}, apperr.New(apperr.KindSafetyBlocked, msgSafetyBlocked)
		}
		if kind == OutputImage {
			return Result{}, apperr.New(apperr.KindEmptyResponse, msgEmptyImage)
		}
		return Result{}, apperr.New(apperr.KindEmptyResponse, msgEmptyResponse)
	}
	cand := res.Candidates[0]

	if kind == OutputImage {
		switch {
		case cand.FinishReason == "SAFETY":
			return Result{}, apperr.New(apperr.KindSafetyBlocked, msgImageSafety)
		case cand.FinishReason != "" && cand.FinishReason != "STOP":
			return Result{}, apperr.New(apperr.KindUnexpectedStop, "生成意外停止: "+cand.FinishReason)
		}
		for _, p := range cand.Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				return Result{ImageURL: "data:" + p.InlineData.MimeType + ";base64," + p.InlineData.Data}, nil
			}
		}
		return Result{}, apperr.New(apperr.KindEmptyResponse, msgEmptyImage)
	}

	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		if cand.FinishReason == "SAFETY" {
			return Result{}, apperr.New(apperr.KindSafetyBlocked, msgSafetyBlocked)
		}
		return Result{}, apperr.New(apperr.KindEmptyResponse, msgEmptyResponse)
	}
	if kind == OutputJSON {
		text = stripCodeFence(text)
	}
	return Result{Text: text}, nil
}

// stripCodeFence 去掉首尾的 ``` 或 ```json 标记
func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

// GenerateText 生成自由文本
func (c *Client) GenerateText(ctx context.Context, prompt, apiKey, model string) (string, error) {
	res, err := c.Generate(ctx, Request{Kind: OutputText, Prompt: prompt, APIKey: apiKey, Model: model})
	return res.Text, err
}

// GenerateJSON 生成结构化数据并解析到 out
func (c *Client) GenerateJSON(ctx context.Context, prompt string, schema any, apiKey string, out any) error {
	res, err := c.Generate(ctx, Request{Kind: OutputJSON, Prompt: prompt, Schema: schema, APIKey: apiKey})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(res.Text), out); err != nil {
		return apperr.Wrap(apperr.KindMalformedJSON, msgMalformedJSON, err)
	}
	return nil
}

// GenerateImage 生成图片，返回内联 data URL
func (c *Client) GenerateImage(ctx context.Context, prompt, apiKey, model string) (string, error) {
	res, err := c.Generate(ctx, Request{Kind: OutputImage, Prompt: prompt, APIKey: apiKey, Model: model})
	return res.ImageURL, err
}

// JSON 泛型版本的 GenerateJSON
func JSON[T any](ctx context.Context, c *Client, prompt string, schema any, apiKey string) (T, error) {
	var out T
	err := c.GenerateJSON(ctx, prompt, schema, apiKey, &out)
	return out, err
}
