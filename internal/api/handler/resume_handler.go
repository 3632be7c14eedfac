package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"cvinsight/internal/config"
	"cvinsight/internal/constants"
	"cvinsight/internal/logger"
	"cvinsight/internal/parser"
	"cvinsight/internal/plugin"
	"cvinsight/internal/processor"
	"cvinsight/internal/storage"
	"cvinsight/internal/storage/models"
	"cvinsight/internal/tracing"
	"cvinsight/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel/trace"
)

// TextProcessor *processor.ResumeProcessor 实现它
type TextProcessor interface {
	ProcessText(ctx context.Context, text string, sub processor.Submission) (*types.Resume, error)
}

// PluginCatalog 列出已注册插件和执行分层
type PluginCatalog interface {
	Metadata() []plugin.Metadata
}

// StatusReader 读取异步任务状态
type StatusReader interface {
	GetSubmissionStatus(ctx context.Context, submissionUUID string) (map[string]string, error)
}

// JobPublisher 投递异步解析任务
type JobPublisher interface {
	PublishParseJob(ctx context.Context, job any) error
}

// ResumeHandler 简历解析相关接口
type ResumeHandler struct {
	cfg       *config.Config
	proc      TextProcessor
	extractor parser.TextExtractor
	plugins   PluginCatalog
	phases    [][]string

	results   storage.ResultRepository
	status    StatusReader
	objects   storage.ObjectStorage
	publisher JobPublisher
	totals    TokenTotals
	counters  TokenCounters
}

// Option ResumeHandler 的可选项
type Option func(*ResumeHandler)

// WithPhases 插件执行分层，用于 /plugins
func WithPhases(phases [][]string) Option {
	return func(h *ResumeHandler) { h.phases = phases }
}

// WithResultRepository 结果查询
func WithResultRepository(r storage.ResultRepository) Option {
	return func(h *ResumeHandler) { h.results = r }
}

// WithStatusReader 异步任务状态查询
func WithStatusReader(s StatusReader) Option {
	return func(h *ResumeHandler) { h.status = s }
}

// WithObjectStorage 异步任务的原始文件上传
func WithObjectStorage(o storage.ObjectStorage) Option {
	return func(h *ResumeHandler) { h.objects = o }
}

// WithPublisher 异步任务投递
func WithPublisher(p JobPublisher) Option {
	return func(h *ResumeHandler) { h.publisher = p }
}

// WithStorage 从存储管理器中取出已初始化的组件
func WithStorage(s *storage.Storage) Option {
	return func(h *ResumeHandler) {
		if s == nil {
			return
		}
		if s.MySQL != nil {
			h.results = s.MySQL
			h.totals = s.MySQL
		}
		if s.Redis != nil {
			h.status = s.Redis
			h.counters = s.Redis
		}
		if s.MinIO != nil {
			h.objects = s.MinIO
		}
		if s.RabbitMQ != nil {
			h.publisher = s.RabbitMQ
		}
	}
}

// NewResumeHandler 创建处理器
func NewResumeHandler(cfg *config.Config, proc TextProcessor, extractor parser.TextExtractor, plugins PluginCatalog, opts ...Option) *ResumeHandler {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	h := &ResumeHandler{
		cfg:       cfg,
		proc:      proc,
		extractor: extractor,
		plugins:   plugins,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ParseResponse 解析接口的返回
type ParseResponse struct {
	SubmissionUUID string        `json:"submission_uuid"`
	Status         string        `json:"status"`
	Result         *types.Resume `json:"result,omitempty"`
}

// ParseResume POST /api/v1/resumes/parse
func (h *ResumeHandler) ParseResume(ctx context.Context, c *app.RequestContext) {
	log := logger.Ctx(ctx)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		fail(ctx, c, consts.StatusBadRequest, "文件未找到")
		return
	}
	if err := parser.CheckExtension(fileHeader.Filename, h.cfg.Files.AllowedExtensions); err != nil {
		fail(ctx, c, consts.StatusUnsupportedMediaType, err.Error())
		return
	}
	if limit := h.maxUploadBytes(); limit > 0 && fileHeader.Size > limit {
		fail(ctx, c, consts.StatusRequestEntityTooLarge, parser.ErrFileTooLarge.Error())
		return
	}

	params := plugin.Params{
		JobDescription: strings.TrimSpace(string(c.FormValue("job_description"))),
		SubmissionDate: strings.TrimSpace(string(c.FormValue("submission_date"))),
	}
	if params.SubmissionDate != "" {
		if _, err := time.Parse("2006-01-02", params.SubmissionDate); err != nil {
			fail(ctx, c, consts.StatusBadRequest, "submission_date 格式应为 YYYY-MM-DD")
			return
		}
	}
	async, _ := strconv.ParseBool(string(c.FormValue("async")))

	file, err := fileHeader.Open()
	if err != nil {
		fail(ctx, c, consts.StatusInternalServerError, "打开文件失败")
		return
	}
	data, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		fail(ctx, c, consts.StatusInternalServerError, "读取文件失败")
		return
	}

	submissionUUID, err := newUUID()
	if err != nil {
		fail(ctx, c, consts.StatusInternalServerError, err.Error())
		return
	}
	sub := processor.Submission{UUID: submissionUUID, FileName: fileHeader.Filename, Params: params, Original: data}

	if async {
		resp, status, err := h.enqueue(ctx, sub)
		if err != nil {
			log.Error().Err(err).Str("submission_uuid", submissionUUID).Msg("提交异步解析任务失败")
			fail(ctx, c, status, err.Error())
			return
		}
		c.JSON(consts.StatusAccepted, resp)
		return
	}

	text, err := h.extract(ctx, data, fileHeader.Filename)
	if err != nil {
		fail(ctx, c, extractStatus(err), err.Error())
		return
	}
	resume, err := h.proc.ProcessText(ctx, text, sub)
	if err != nil {
		log.Error().Err(err).Str("submission_uuid", submissionUUID).Msg("简历解析失败")
		fail(ctx, c, consts.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(consts.StatusOK, ParseResponse{SubmissionUUID: submissionUUID, Status: constants.StatusCompleted, Result: resume})
}

// enqueue 上传原始文件（或直接携带文本）并投递任务
func (h *ResumeHandler) enqueue(ctx context.Context, sub processor.Submission) (*ParseResponse, int, error) {
	if h.publisher == nil {
		return nil, consts.StatusServiceUnavailable, errors.New("异步解析未启用：消息队列未配置")
	}
	job := types.ParseJobMessage{
		SubmissionUUID: sub.UUID,
		FileName:       sub.FileName,
		JobDescription: sub.Params.JobDescription,
		SubmissionDate: sub.Params.SubmissionDate,
	}
	if h.objects != nil {
		key, err := h.objects.UploadOriginal(ctx, sub.UUID, sub.FileName, bytes.NewReader(sub.Original), int64(len(sub.Original)))
		if err != nil {
			return nil, consts.StatusBadGateway, fmt.Errorf("上传简历失败: %w", err)
		}
		job.ObjectKey = key
	} else {
		text, err := h.extract(ctx, sub.Original, sub.FileName)
		if err != nil {
			return nil, extractStatus(err), err
		}
		job.Text = text
	}

	if h.results != nil {
		if err := h.results.UpdateStatus(ctx, sub.UUID, sub.FileName, constants.StatusQueued, ""); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("写入排队状态失败")
		}
	}
	if err := h.publisher.PublishParseJob(ctx, job); err != nil {
		return nil, consts.StatusBadGateway, fmt.Errorf("投递解析任务失败: %w", err)
	}
	return &ParseResponse{SubmissionUUID: sub.UUID, Status: constants.StatusQueued}, 0, nil
}

func (h *ResumeHandler) extract(ctx context.Context, data []byte, fileName string) (string, error) {
	if h.extractor == nil {
		return "", errors.New("文本提取器未初始化")
	}
	return h.extractor.ExtractFromReader(ctx, bytes.NewReader(data), fileName)
}

func (h *ResumeHandler) maxUploadBytes() int64 {
	mb := h.cfg.Server.MaxUploadMB
	if mb <= 0 {
		mb = h.cfg.Files.MaxFileSizeMB
	}
	return int64(mb) << 20
}

func extractStatus(err error) int {
	switch {
	case errors.Is(err, parser.ErrUnsupportedFileType):
		return consts.StatusUnsupportedMediaType
	case errors.Is(err, parser.ErrEmptyText), errors.Is(err, parser.ErrFileTooLarge):
		return consts.StatusUnprocessableEntity
	default:
		return consts.StatusInternalServerError
	}
}

// PluginsResponse /plugins 的返回
type PluginsResponse struct {
	Plugins []plugin.Metadata `json:"plugins"`
	Phases  [][]string        `json:"phases,omitempty"`
}

// ListPlugins GET /api/v1/plugins
func (h *ResumeHandler) ListPlugins(ctx context.Context, c *app.RequestContext) {
	resp := PluginsResponse{Plugins: []plugin.Metadata{}, Phases: h.phases}
	if h.plugins != nil {
		resp.Plugins = h.plugins.Metadata()
	}
	c.JSON(consts.StatusOK, resp)
}

// ResultResponse /results/:uuid 的返回
type ResultResponse struct {
	SubmissionUUID string                    `json:"submission_uuid"`
	Status         string                    `json:"status"`
	Error          string                    `json:"error,omitempty"`
	FileName       string                    `json:"file_name,omitempty"`
	Result         json.RawMessage           `json:"result,omitempty"`
	PluginUsages   []models.PluginTokenUsage `json:"plugin_usages,omitempty"`
	UpdatedAt      *time.Time                `json:"updated_at,omitempty"`
}

// GetResult GET /api/v1/results/:uuid
func (h *ResumeHandler) GetResult(ctx context.Context, c *app.RequestContext) {
	id := c.Param("uuid")
	if _, err := uuid.FromString(id); err != nil {
		fail(ctx, c, consts.StatusBadRequest, "无效的 submission_uuid")
		return
	}
	if h.results == nil && h.status == nil {
		fail(ctx, c, consts.StatusServiceUnavailable, "结果存储未配置")
		return
	}

	if h.results != nil {
		rec, err := h.results.GetParseResult(ctx, id)
		switch {
		case err == nil:
			resp := ResultResponse{
				SubmissionUUID: rec.SubmissionUUID,
				Status:         rec.ProcessingStatus,
				Error:          rec.ErrorMessage,
				FileName:       rec.FileName,
				PluginUsages:   rec.PluginUsages,
				UpdatedAt:      &rec.UpdatedAt,
			}
			if len(rec.ResultJSON) > 0 {
				resp.Result = json.RawMessage(rec.ResultJSON)
			} else if rec.ResultObjectKey != "" && h.objects != nil {
				// 数据库只存了对象键时从 MinIO 取
				data, err := h.objects.GetResult(ctx, rec.ResultObjectKey)
				if err != nil {
					logger.Ctx(ctx).Warn().Err(err).Str("submission_uuid", id).Msg("读取归档结果失败")
				} else {
					resp.Result = json.RawMessage(data)
				}
			}
			c.JSON(consts.StatusOK, resp)
			return
		case !errors.Is(err, storage.ErrResultNotFound):
			logger.Ctx(ctx).Error().Err(err).Str("submission_uuid", id).Msg("查询解析结果失败")
			fail(ctx, c, consts.StatusInternalServerError, "查询解析结果失败")
			return
		}
	}

	if h.status != nil {
		st, err := h.status.GetSubmissionStatus(ctx, id)
		if err == nil {
			c.JSON(consts.StatusOK, ResultResponse{SubmissionUUID: id, Status: st["status"], Error: st["error"]})
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Ctx(ctx).Warn().Err(err).Str("submission_uuid", id).Msg("查询任务状态失败")
		}
	}
	fail(ctx, c, consts.StatusNotFound, "解析结果不存在")
}

// Health GET /api/v1/health
func (h *ResumeHandler) Health(ctx context.Context, c *app.RequestContext) {
	n := 0
	if h.plugins != nil {
		n = len(h.plugins.Metadata())
	}
	c.JSON(consts.StatusOK, utils.H{
		"status":         "ok",
		"version":        constants.ParserVersion,
		"plugins":        n,
		"async_enabled":  h.publisher != nil,
		"results_stored": h.results != nil,
	})
}

// fail 返回错误响应，并把错误记到当前请求的 span 上
func fail(ctx context.Context, c *app.RequestContext, status int, msg string) {
	tracing.RecordHTTPError(trace.SpanFromContext(ctx), errors.New(msg), status)
	c.JSON(status, utils.H{"error": msg})
}

func newUUID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("生成UUIDv7失败: %w", err)
	}
	return id.String(), nil
}
