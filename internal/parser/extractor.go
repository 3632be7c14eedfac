package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnsupportedFileType 扩展名不在允许列表中
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrFileTooLarge 文件超过大小上限
	ErrFileTooLarge = errors.New("file too large")
	// ErrFileNotFound 文件不存在
	ErrFileNotFound = errors.New("file not found")
	// ErrEmptyText 提取结果为空
	ErrEmptyText = errors.New("no text extracted")
)

// DefaultAllowedExtensions 默认允许的简历格式
var DefaultAllowedExtensions = []string{".pdf", ".doc", ".docx", ".txt"}

// TextExtractor 从简历文件中提取纯文本
type TextExtractor interface {
	// ExtractFromFile 从本地文件提取文本
	ExtractFromFile(ctx context.Context, path string) (string, error)
	// ExtractFromReader 从 reader 提取文本，uri 用于判断格式和记录日志
	ExtractFromReader(ctx context.Context, r io.Reader, uri string) (string, error)
}

// ValidateFile 检查文件存在、扩展名合法且大小不超过 maxMB（<=0 表示不限制）
func ValidateFile(path string, allowed []string, maxMB int) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrUnsupportedFileType, path)
	}
	if err := CheckExtension(path, allowed); err != nil {
		return err
	}
	if maxMB > 0 {
		sizeMB := float64(info.Size()) / 1024 / 1024
		if sizeMB > float64(maxMB) {
			return fmt.Errorf("%w: maximum size is %dMB, got %.2fMB", ErrFileTooLarge, maxMB, sizeMB)
		}
	}
	return nil
}

// CheckExtension 只校验扩展名，allowed 为空时使用默认列表
func CheckExtension(name string, allowed []string) error {
	if len(allowed) == 0 {
		allowed = DefaultAllowedExtensions
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range allowed {
		if strings.ToLower(a) == ext {
			return nil
		}
	}
	return fmt.Errorf("%w: expected one of %v, got %q", ErrUnsupportedFileType, allowed, ext)
}

// PlainTextExtractor 直接读取 .txt 文件
type PlainTextExtractor struct{}

// ExtractFromFile 读取整个文件
func (PlainTextExtractor) ExtractFromFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("打开文本文件 %s 失败: %w", path, err)
	}
	defer f.Close()
	return PlainTextExtractor{}.ExtractFromReader(ctx, f, path)
}

// ExtractFromReader 读取全部内容，非法 UTF-8 字节会被丢弃
func (PlainTextExtractor) ExtractFromReader(ctx context.Context, r io.Reader, uri string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("读取文本 %s 失败: %w", uri, err)
	}
	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	return strings.TrimPrefix(text, "\uFEFF"), nil
}

// Router 按扩展名把请求分发给具体的提取器
type Router struct {
	byExt  map[string]TextExtractor
	logger *log.Logger
}

// RouterOption Router 配置选项
type RouterOption func(*Router)

// WithExtractor 为扩展名注册提取器（扩展名带点，例如 ".pdf"）
func WithExtractor(ext string, e TextExtractor) RouterOption {
	return func(r *Router) {
		r.byExt[strings.ToLower(ext)] = e
	}
}

// WithRouterLogger 设置日志记录器
func WithRouterLogger(l *log.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter 创建路由，默认只注册 .txt
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		byExt:  map[string]TextExtractor{".txt": PlainTextExtractor{}},
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Supports 是否有对应扩展名的提取器
func (r *Router) Supports(name string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (r *Router) pick(name string) (TextExtractor, error) {
	ext := strings.ToLower(filepath.Ext(name))
	e, ok := r.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: no extractor for %q", ErrUnsupportedFileType, ext)
	}
	return e, nil
}

// ExtractFromFile 实现 TextExtractor
func (r *Router) ExtractFromFile(ctx context.Context, path string) (string, error) {
	e, err := r.pick(path)
	if err != nil {
		return "", err
	}
	text, err := e.ExtractFromFile(ctx, path)
	if err != nil {
		return "", err
	}
	return r.checkText(text, path)
}

// ExtractFromReader 实现 TextExtractor
func (r *Router) ExtractFromReader(ctx context.Context, rd io.Reader, uri string) (string, error) {
	e, err := r.pick(uri)
	if err != nil {
		return "", err
	}
	text, err := e.ExtractFromReader(ctx, rd, uri)
	if err != nil {
		return "", err
	}
	return r.checkText(text, uri)
}

func (r *Router) checkText(text, uri string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyText, uri)
	}
	r.logger.Printf("提取完成: %s (%d 个字符)", uri, len(text))
	return text, nil
}
