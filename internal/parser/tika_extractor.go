package parser

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Tika 对应的 Content-Type
var tikaContentTypes = map[string]string{
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".pdf":  "application/pdf",
}

// TikaExtractor 通过 Apache Tika 服务器提取 doc/docx 文本
type TikaExtractor struct {
	// Tika服务器地址，例如 http://localhost:9998
	ServerURL string
	// HTTP客户端，可配置超时等参数
	Client *http.Client
	logger *log.Logger
}

// TikaOption 定义配置选项函数
type TikaOption func(*TikaExtractor)

// WithTikaLogger 配置自定义日志记录器
func WithTikaLogger(logger *log.Logger) TikaOption {
	return func(e *TikaExtractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTimeout 配置HTTP客户端超时时间
func WithTimeout(timeout time.Duration) TikaOption {
	return func(e *TikaExtractor) {
		if timeout > 0 {
			e.Client.Timeout = timeout
		}
	}
}

// WithHTTPClient 替换HTTP客户端
func WithHTTPClient(c *http.Client) TikaOption {
	return func(e *TikaExtractor) {
		if c != nil {
			e.Client = c
		}
	}
}

// NewTikaExtractor 创建 Tika 提取器
func NewTikaExtractor(serverURL string, options ...TikaOption) *TikaExtractor {
	extractor := &TikaExtractor{
		ServerURL: strings.TrimRight(serverURL, "/"),
		Client:    &http.Client{Timeout: 60 * time.Second},
		logger:    log.New(io.Discard, "", 0),
	}
	for _, option := range options {
		option(extractor)
	}
	return extractor
}

// ExtractFromFile 从文件提取文本
func (e *TikaExtractor) ExtractFromFile(ctx context.Context, filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("打开文件 %s 失败: %w", filePath, err)
	}
	defer file.Close()
	return e.ExtractFromReader(ctx, file, filePath)
}

// ExtractFromReader 以 PUT /tika 的纯文本模式提取
func (e *TikaExtractor) ExtractFromReader(ctx context.Context, reader io.Reader, uri string) (string, error) {
	if e.ServerURL == "" {
		return "", fmt.Errorf("tika server url is not configured")
	}
	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.ServerURL+"/tika", reader)
	if err != nil {
		return "", fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	if ct, ok := tikaContentTypes[strings.ToLower(filepath.Ext(uri))]; ok {
		req.Header.Set("Content-Type", ct)
	}
	req.Header.Set("Accept", "text/plain")
	if uri != "" {
		req.Header.Set("X-Tika-Resource-Name", filepath.Base(uri))
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("发送请求到Tika服务器失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tika服务器返回错误状态码: %d", resp.StatusCode)
	}

	textBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取Tika响应失败: %w", err)
	}
	text := strings.TrimSpace(string(textBytes))

	e.logger.Printf("Tika提取完成: %s 提取了 %d 个字符 (用时 %.2f秒)", uri, len(text), time.Since(startTime).Seconds())
	return text, nil
}
