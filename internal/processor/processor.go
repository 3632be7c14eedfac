// Package processor 把文本提取、插件流水线和存储串成一次完整的简历解析
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cvinsight/internal/logger"
	"cvinsight/internal/metrics"
	"cvinsight/internal/parser"
	"cvinsight/internal/pipeline"
	"cvinsight/internal/plugin"
	"cvinsight/internal/storage"
	"cvinsight/internal/tracing"
	"cvinsight/internal/types"
	"cvinsight/pkg/utils"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("cvinsight/processor")

// ErrNoExtractor 没有配置文本提取器时 ProcessFile 返回
var ErrNoExtractor = errors.New("extractor is not initialized")

// Runner 执行插件流水线，*pipeline.Pipeline 实现它
type Runner interface {
	Run(ctx context.Context, text string, params plugin.Params) (*pipeline.Result, error)
}

// Submission 一次解析请求的元信息
type Submission struct {
	// UUID 为空时自动生成
	UUID     string
	FileName string
	Params   plugin.Params
	// Original 原始文件内容，配置了对象存储时归档
	Original []byte
	// OriginalObjectKey 原始文件已经上传过时的对象键，Original 为空时直接记录它
	OriginalObjectKey string
}

// ResumeProcessor 串联 校验、提取、缓存、流水线、持久化和归档。存储组件都是可选的。
type ResumeProcessor struct {
	runner    Runner
	extractor parser.TextExtractor

	cache    storage.ResultCache
	cacheTTL time.Duration
	noCache  bool
	repo     storage.ResultRepository
	objects  storage.ObjectStorage
	tokens   storage.TokenCounter

	allowedExt    []string
	maxFileSizeMB int
	model         string
	pluginModels  map[string]string
	cacheModel    string
	log           zerolog.Logger
	now           func() time.Time
}

// NewResumeProcessor 创建处理器
func NewResumeProcessor(runner Runner, opts ...Option) (*ResumeProcessor, error) {
	if runner == nil {
		return nil, errors.New("pipeline runner is required")
	}
	rp := &ResumeProcessor{
		runner:     runner,
		allowedExt: parser.DefaultAllowedExtensions,
		log:        logger.Named("processor"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(rp)
	}
	if rp.noCache {
		rp.cache = nil
	}
	rp.cacheModel = modelFingerprint(rp.model, rp.pluginModels)
	return rp, nil
}

// ProcessFile 解析本地文件
func (rp *ResumeProcessor) ProcessFile(ctx context.Context, path string, params plugin.Params) (*types.Resume, error) {
	sub := Submission{UUID: newSubmissionUUID(), FileName: filepath.Base(path), Params: params}

	if err := parser.ValidateFile(path, rp.allowedExt, rp.maxFileSizeMB); err != nil {
		return nil, NewValidateError(sub.UUID, err)
	}
	if rp.extractor == nil {
		return nil, NewExtractError(sub.UUID, ErrNoExtractor)
	}

	text, err := rp.extractor.ExtractFromFile(ctx, path)
	if err != nil {
		return nil, NewExtractError(sub.UUID, err)
	}

	if rp.objects != nil {
		if data, err := os.ReadFile(path); err == nil {
			sub.Original = data
		} else {
			rp.log.Warn().Err(err).Str("path", path).Msg("读取原始文件失败，跳过归档")
		}
	}
	return rp.ProcessText(ctx, text, sub)
}

// ProcessText 解析已经提取好的文本
func (rp *ResumeProcessor) ProcessText(ctx context.Context, text string, sub Submission) (*types.Resume, error) {
	start := time.Now()
	resume, err := rp.processText(ctx, text, sub)
	metrics.ObserveResume(time.Since(start), err)
	return resume, err
}

func (rp *ResumeProcessor) processText(ctx context.Context, text string, sub Submission) (*types.Resume, error) {
	if sub.UUID == "" {
		sub.UUID = newSubmissionUUID()
	}

	ctx, span := tracer.Start(ctx, "ProcessResume")
	defer span.End()
	span.SetAttributes(
		attribute.String("submission_uuid", sub.UUID),
		attribute.String("file_name", sub.FileName),
		attribute.Int("text_length", len(text)),
		attribute.Bool("job_description_provided", strings.TrimSpace(sub.Params.JobDescription) != ""),
	)
	log := rp.log.With().Str("submission_uuid", sub.UUID).Str("file_name", sub.FileName).Logger()

	if strings.TrimSpace(text) == "" {
		err := NewValidateError(sub.UUID, parser.ErrEmptyText)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	textMD5 := utils.CalculateMD5([]byte(text))
	cacheKey := CacheKey(text, sub.Params, rp.cacheModel)

	resume, cached := rp.lookupCache(ctx, cacheKey, log)
	if cached {
		span.AddEvent("cache_hit")
		if sub.FileName != "" {
			resume.FileName = sub.FileName
		}
	} else {
		res, err := rp.runner.Run(ctx, text, sub.Params)
		if err != nil {
			perr := NewPipelineError(sub.UUID, err)
			tracing.RecordError(span, perr, tracing.ErrorTypePlugin)
			log.Error().Err(err).Msg("插件流水线执行失败")
			return nil, perr
		}
		resume = pipeline.Aggregate(res, sub.FileName, sub.Params)
	}

	span.SetAttributes(attribute.Bool("cache_hit", cached))
	tracing.RecordTokenUsage(span, resume.TokenUsage.PromptTokens, resume.TokenUsage.CompletionTokens,
		resume.TokenUsage.TotalTokens, resume.TokenUsage.Estimated)

	data, err := json.Marshal(resume)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return nil, NewPersistError(sub.UUID, err)
	}

	originalKey, resultKey := rp.archive(ctx, sub, data, log)
	rp.persist(ctx, sub, textMD5, resume, originalKey, resultKey, log)

	if !cached {
		// 有插件失败的结果不缓存，下次提交重新跑
		if rp.cache != nil && len(resume.PluginErrors) == 0 {
			if err := rp.cache.CacheResult(ctx, cacheKey, data, rp.cacheTTL); err != nil {
				log.Warn().Err(NewCacheError(sub.UUID, err)).Msg("写入结果缓存失败")
			}
		}
		if rp.tokens != nil {
			if err := rp.tokens.RecordTokenUsage(ctx, resume.TokenUsage, rp.now()); err != nil {
				log.Warn().Err(err).Msg("记录 token 用量失败")
			}
		}
	}

	span.SetStatus(codes.Ok, "")
	log.Info().
		Bool("cached", cached).
		Int("total_tokens", resume.TokenUsage.TotalTokens).
		Int("failed_plugins", len(resume.PluginErrors)).
		Float64("processing_time", resume.ProcessingTime).
		Msg("简历解析完成")
	return resume, nil
}

func (rp *ResumeProcessor) lookupCache(ctx context.Context, key string, log zerolog.Logger) (*types.Resume, bool) {
	if rp.cache == nil {
		return nil, false
	}
	data, ok, err := rp.cache.GetCachedResult(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("读取结果缓存失败，继续解析")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var r types.Resume
	if err := json.Unmarshal(data, &r); err != nil {
		log.Warn().Err(err).Msg("缓存内容无法解析，忽略")
		return nil, false
	}
	return &r, true
}

// archive 上传原始文件和结果 JSON，失败只记录日志
func (rp *ResumeProcessor) archive(ctx context.Context, sub Submission, result []byte, log zerolog.Logger) (originalKey, resultKey string) {
	originalKey = sub.OriginalObjectKey
	if rp.objects == nil {
		return originalKey, ""
	}
	ctx, span := tracer.Start(ctx, "ArchiveResume")
	defer span.End()

	if len(sub.Original) > 0 {
		key, err := rp.objects.UploadOriginal(ctx, sub.UUID, sub.FileName, bytes.NewReader(sub.Original), int64(len(sub.Original)))
		if err != nil {
			err = NewArchiveError(sub.UUID, err)
			tracing.RecordError(span, err, tracing.ErrorTypeStorage)
			log.Warn().Err(err).Msg("归档原始简历失败")
		} else {
			originalKey = key
		}
	}

	key, err := rp.objects.UploadResult(ctx, sub.UUID, result)
	if err != nil {
		err = NewArchiveError(sub.UUID, err)
		tracing.RecordError(span, err, tracing.ErrorTypeStorage)
		log.Warn().Err(err).Msg("归档解析结果失败")
		return originalKey, ""
	}
	return originalKey, key
}

// persist 写入 MySQL，失败只记录日志
func (rp *ResumeProcessor) persist(ctx context.Context, sub Submission, textMD5 string, resume *types.Resume, originalKey, resultKey string, log zerolog.Logger) {
	if rp.repo == nil {
		return
	}
	rec, err := storage.BuildParseResult(sub.UUID, textMD5, rp.model, sub.Params.JobDescription, resume)
	if err != nil {
		log.Warn().Err(NewPersistError(sub.UUID, err)).Msg("构建数据库记录失败")
		return
	}
	rec.OriginalObjectKey = originalKey
	rec.ResultObjectKey = resultKey
	if err := rp.repo.SaveParseResult(ctx, rec); err != nil {
		log.Warn().Err(NewPersistError(sub.UUID, err)).Msg("保存解析结果失败")
	}
}

// modelFingerprint 默认模型加上排序后的插件专用模型
func modelFingerprint(model string, pluginModels map[string]string) string {
	var b strings.Builder
	b.WriteString(model)
	for _, name := range utils.SortedKeys(pluginModels) {
		m := pluginModels[name]
		if m == "" || m == model {
			continue
		}
		b.WriteString("|" + name + "=" + m)
	}
	return b.String()
}

// CacheKey 文本、参数和模型共同决定缓存 key
func CacheKey(text string, params plugin.Params, model string) string {
	var b strings.Builder
	b.WriteString(text)
	for _, part := range []string{params.JobDescription, params.SubmissionDate, model} {
		b.WriteByte(0)
		b.WriteString(part)
	}
	return utils.CalculateMD5([]byte(b.String()))
}

func newSubmissionUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Must(uuid.NewV4()).String()
	}
	return id.String()
}
