package processor

import (
	"time"

	"cvinsight/internal/parser"
	"cvinsight/internal/storage"

	"github.com/rs/zerolog"
)

// Option ResumeProcessor 的可选项
type Option func(*ResumeProcessor)

// WithExtractor 设置文本提取器
func WithExtractor(e parser.TextExtractor) Option {
	return func(rp *ResumeProcessor) {
		rp.extractor = e
	}
}

// WithCache 设置结果缓存，ttl<=0 时使用默认值
func WithCache(c storage.ResultCache, ttl time.Duration) Option {
	return func(rp *ResumeProcessor) {
		rp.cache = c
		rp.cacheTTL = ttl
	}
}

// WithRepository 设置结果持久化
func WithRepository(r storage.ResultRepository) Option {
	return func(rp *ResumeProcessor) {
		rp.repo = r
	}
}

// WithObjectStorage 设置原始文件和结果的归档
func WithObjectStorage(o storage.ObjectStorage) Option {
	return func(rp *ResumeProcessor) {
		rp.objects = o
	}
}

// WithTokenCounter 设置 token 计数
func WithTokenCounter(t storage.TokenCounter) Option {
	return func(rp *ResumeProcessor) {
		rp.tokens = t
	}
}

// WithStorage 从存储管理器中取出已初始化的组件
func WithStorage(s *storage.Storage) Option {
	return func(rp *ResumeProcessor) {
		if s == nil {
			return
		}
		// 只赋值非 nil 指针，避免接口持有 nil 指针
		if s.Redis != nil {
			rp.cache = s.Redis
			rp.tokens = s.Redis
		}
		if s.MySQL != nil {
			rp.repo = s.MySQL
		}
		if s.MinIO != nil {
			rp.objects = s.MinIO
		}
	}
}

// WithFileLimits 允许的扩展名和文件大小上限
func WithFileLimits(allowed []string, maxFileSizeMB int) Option {
	return func(rp *ResumeProcessor) {
		if len(allowed) > 0 {
			rp.allowedExt = allowed
		}
		rp.maxFileSizeMB = maxFileSizeMB
	}
}

// WithModelName 记录使用的模型，参与缓存 key
func WithModelName(model string) Option {
	return func(rp *ResumeProcessor) {
		rp.model = model
	}
}

// WithPluginModels 插件专用模型，和默认模型一起参与缓存 key
func WithPluginModels(models map[string]string) Option {
	return func(rp *ResumeProcessor) {
		rp.pluginModels = models
	}
}

// WithCacheDisabled 关闭结果缓存，与选项顺序无关
func WithCacheDisabled() Option {
	return func(rp *ResumeProcessor) {
		rp.noCache = true
	}
}

// WithLogger 设置日志记录器
func WithLogger(l zerolog.Logger) Option {
	return func(rp *ResumeProcessor) {
		rp.log = l
	}
}
