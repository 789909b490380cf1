package ai

import (
	"fmt"
	"net/http"
	"strings"

	"LongVideoAssistant/apperr"
)

// 面向用户的错误文案
const (
	msgEmptyPrompt       = "提示词不能为空。"
	msgMissingCredential = "缺少 API Key。请在设置中填写自定义 Key，或在服务端配置 LVA_API_KEY。"
	msgRateLimited       = "API 调用频率过高 (429)。请稍休息 1 分钟等待配额恢复后重试。"
	msgBadRequest        = "请求参数无效 (400)。可能是提示词内容包含特殊字符，或模型配置不兼容。"
	msgNotFound          = "模型未找到或无权访问 (404)。请检查您的 API Key 是否支持该模型，或该区域未开放。"
	msgOverloaded        = "AI 服务繁忙 (503)。请稍后再试。"
	msgSafetyBlocked     = "生成内容被 AI 安全策略拦截。请尝试修改提示词或主题。"
	msgImageSafety       = "图片生成被安全策略拦截 (Safety Filter)。请修改提示词。"
	msgEmptyResponse     = "AI 未返回任何内容，请重试。"
	msgEmptyImage        = "API 未返回图片数据 (Response empty)"
	msgMalformedJSON     = "AI 返回的数据格式无法解析，请重试。"
)

// classify 把上游的状态码与错误信息映射到错误类别
func classify(status int, message string) error {
	upper := strings.ToUpper(message)
	switch {
	case status == http.StatusTooManyRequests || strings.Contains(upper, "RESOURCE_EXHAUSTED") || strings.Contains(upper, "QUOTA EXCEEDED"):
		return apperr.New(apperr.KindRateLimited, msgRateLimited)
	case status == http.StatusServiceUnavailable || strings.Contains(upper, "OVERLOADED"):
		return apperr.New(apperr.KindOverloaded, msgOverloaded)
	case status == http.StatusBadRequest || strings.Contains(upper, "INVALID_ARGUMENT"):
		return apperr.New(apperr.KindBadRequest, msgBadRequest)
	case status == http.StatusNotFound || strings.Contains(upper, "NOT_FOUND"):
		return apperr.New(apperr.KindNotFound, msgNotFound)
	case strings.Contains(upper, "SAFETY") || strings.Contains(upper, "BLOCKED"):
		return apperr.New(apperr.KindSafetyBlocked, msgSafetyBlocked)
	}
	if message == "" {
		message = fmt.Sprintf("AI 服务返回错误 (%d)", status)
	}
	return apperr.New(apperr.KindUnknown, message)
}

func isOverloaded(err error) bool {
	return apperr.Is(err, apperr.KindOverloaded)
}
