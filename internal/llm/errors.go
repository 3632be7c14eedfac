package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoJSON 回复中找不到 JSON 对象
	ErrNoJSON = errors.New("no json object found in llm response")
	// ErrInvalidJSON JSON 修复后仍无法解析
	ErrInvalidJSON = errors.New("invalid json in llm response")
	// ErrEmptyResponse 模型返回空内容
	ErrEmptyResponse = errors.New("llm returned empty response")
	// ErrMissingAPIKey 未配置 API Key
	ErrMissingAPIKey = errors.New("api key is required")
)

// APIError 提供方返回的非 2xx 响应
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable 429 和 5xx 值得重试
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
