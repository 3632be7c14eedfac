// Package worker 消费 RabbitMQ 中的解析任务
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cvinsight/internal/config"
	"cvinsight/internal/constants"
	"cvinsight/internal/logger"
	"cvinsight/internal/metrics"
	"cvinsight/internal/parser"
	"cvinsight/internal/plugin"
	"cvinsight/internal/processor"
	"cvinsight/internal/storage"
	"cvinsight/internal/types"

	"github.com/rs/zerolog"
)

// ErrInvalidJob 消息格式错误或缺少必要字段
var ErrInvalidJob = errors.New("invalid parse job")

// TextProcessor *processor.ResumeProcessor 实现它
type TextProcessor interface {
	ProcessText(ctx context.Context, text string, sub processor.Submission) (*types.Resume, error)
}

// OriginalFetcher 从对象存储下载原始文件
type OriginalFetcher interface {
	GetOriginal(ctx context.Context, objectKey string) ([]byte, error)
}

// StatusStore 持久化任务状态
type StatusStore interface {
	UpdateStatus(ctx context.Context, submissionUUID, fileName, status, errMsg string) error
}

// StatusCache 任务状态的快速查询
type StatusCache interface {
	SetSubmissionStatus(ctx context.Context, submissionUUID, status, errMsg string, ttl time.Duration) error
}

// JobPublisher 重试时重新投递任务
type JobPublisher interface {
	PublishParseJob(ctx context.Context, job any) error
}

// Consumer *storage.RabbitMQ 实现它
type Consumer interface {
	StartConsumer(ctx context.Context, queueName string, prefetchCount, workers int, handler storage.DeliveryHandler) (<-chan struct{}, error)
}

// Worker 解析任务消费者
type Worker struct {
	proc        TextProcessor
	extractor   parser.TextExtractor
	objects     OriginalFetcher
	statusStore StatusStore
	statusCache StatusCache
	publisher   JobPublisher

	cfg           config.RabbitMQConfig
	retryInterval time.Duration
	log           zerolog.Logger
}

// Option Worker 的可选项
type Option func(*Worker)

// WithExtractor 用于从原始文件提取文本
func WithExtractor(e parser.TextExtractor) Option {
	return func(w *Worker) { w.extractor = e }
}

// WithOriginalFetcher 设置对象存储
func WithOriginalFetcher(o OriginalFetcher) Option {
	return func(w *Worker) { w.objects = o }
}

// WithStatusStore 设置状态持久化
func WithStatusStore(s StatusStore) Option {
	return func(w *Worker) { w.statusStore = s }
}

// WithStatusCache 设置状态缓存
func WithStatusCache(c StatusCache) Option {
	return func(w *Worker) { w.statusCache = c }
}

// WithPublisher 设置重试投递
func WithPublisher(p JobPublisher) Option {
	return func(w *Worker) { w.publisher = p }
}

// WithStorage 从存储管理器中取出已初始化的组件
func WithStorage(s *storage.Storage) Option {
	return func(w *Worker) {
		if s == nil {
			return
		}
		if s.MinIO != nil {
			w.objects = s.MinIO
		}
		if s.MySQL != nil {
			w.statusStore = s.MySQL
		}
		if s.Redis != nil {
			w.statusCache = s.Redis
		}
		if s.RabbitMQ != nil {
			w.publisher = s.RabbitMQ
		}
	}
}

// New 创建 Worker
func New(proc TextProcessor, cfg config.RabbitMQConfig, opts ...Option) *Worker {
	w := &Worker{
		proc:          proc,
		cfg:           cfg,
		retryInterval: config.GetDuration(cfg.RetryInterval, 5*time.Second),
		log:           logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run 启动消费者并阻塞到 ctx 取消且所有协程退出
func (w *Worker) Run(ctx context.Context, consumer Consumer) error {
	if consumer == nil {
		return errors.New("消息队列未初始化")
	}
	done, err := consumer.StartConsumer(ctx, w.cfg.ParseQueue, w.cfg.PrefetchCount, w.cfg.Workers, w.Handle)
	if err != nil {
		return fmt.Errorf("启动消费者失败: %w", err)
	}
	w.log.Info().Str("queue", w.cfg.ParseQueue).Int("workers", w.cfg.Workers).Msg("解析 worker 已启动")
	<-done
	return nil
}

// Handle 处理一条消息并返回确认方式
func (w *Worker) Handle(ctx context.Context, body []byte) storage.DeliveryAction {
	finish := metrics.JobStarted()

	job, err := decodeJob(body)
	if err != nil {
		w.log.Error().Err(err).Msg("丢弃无法解析的任务消息")
		finish("discard")
		return storage.Discard
	}

	log := w.log.With().Str("submission_uuid", job.SubmissionUUID).Int("attempt", job.Attempt).Logger()
	ctx = log.WithContext(ctx)
	w.setStatus(ctx, job, constants.StatusProcessing, "")

	action := w.process(ctx, job, log)
	switch action {
	case storage.Ack:
		finish("ack")
	case storage.Requeue:
		finish("requeue")
	default:
		finish("discard")
	}
	return action
}

func (w *Worker) process(ctx context.Context, job *types.ParseJobMessage, log zerolog.Logger) storage.DeliveryAction {
	text, err := w.loadText(ctx, job)
	if err != nil {
		if permanent(err) {
			log.Error().Err(err).Msg("简历文本无法提取，任务失败")
			w.setStatus(ctx, job, constants.StatusFailed, err.Error())
			return storage.Discard
		}
		return w.retry(ctx, job, err, log)
	}

	sub := processor.Submission{
		UUID:              job.SubmissionUUID,
		FileName:          job.FileName,
		OriginalObjectKey: job.ObjectKey,
		Params: plugin.Params{
			JobDescription: job.JobDescription,
			SubmissionDate: job.SubmissionDate,
		},
	}
	resume, err := w.proc.ProcessText(ctx, text, sub)
	if err != nil {
		if permanent(err) {
			w.setStatus(ctx, job, constants.StatusFailed, err.Error())
			return storage.Discard
		}
		return w.retry(ctx, job, err, log)
	}

	if w.statusCache != nil {
		if err := w.statusCache.SetSubmissionStatus(ctx, job.SubmissionUUID, constants.StatusCompleted, "", constants.DefaultCacheTTL); err != nil {
			log.Warn().Err(err).Msg("更新任务状态缓存失败")
		}
	}
	log.Info().Int("total_tokens", resume.TokenUsage.TotalTokens).Msg("解析任务完成")
	return storage.Ack
}

func (w *Worker) loadText(ctx context.Context, job *types.ParseJobMessage) (string, error) {
	if job.Text != "" {
		return job.Text, nil
	}
	if w.objects == nil || w.extractor == nil {
		return "", fmt.Errorf("%w: 任务只有 object_key 但未配置对象存储或提取器", ErrInvalidJob)
	}
	data, err := w.objects.GetOriginal(ctx, job.ObjectKey)
	if err != nil {
		return "", fmt.Errorf("下载原始简历失败: %w", err)
	}
	uri := job.FileName
	if uri == "" {
		uri = job.ObjectKey
	}
	return w.extractor.ExtractFromReader(ctx, bytes.NewReader(data), uri)
}

// retry 未超过重试次数时延迟后重新投递，否则标记失败
func (w *Worker) retry(ctx context.Context, job *types.ParseJobMessage, cause error, log zerolog.Logger) storage.DeliveryAction {
	next := job.Attempt + 1
	if w.cfg.MaxRetries > 0 && next > w.cfg.MaxRetries {
		log.Error().Err(cause).Msg("超过最大重试次数，任务失败")
		w.setStatus(ctx, job, constants.StatusFailed, cause.Error())
		return storage.Discard
	}
	if w.publisher == nil {
		log.Warn().Err(cause).Msg("任务处理失败，重新入队")
		return storage.Requeue
	}

	select {
	case <-ctx.Done():
		return storage.Requeue
	case <-time.After(w.retryInterval):
	}

	retryJob := *job
	retryJob.Attempt = next
	if err := w.publisher.PublishParseJob(ctx, retryJob); err != nil {
		log.Error().Err(err).Msg("重新投递任务失败，重新入队")
		return storage.Requeue
	}
	log.Warn().Err(cause).Int("next_attempt", next).Msg("任务处理失败，已重新投递")
	w.setStatus(ctx, job, constants.StatusQueued, cause.Error())
	return storage.Ack
}

func (w *Worker) setStatus(ctx context.Context, job *types.ParseJobMessage, status, errMsg string) {
	log := zerolog.Ctx(ctx)
	if w.statusStore != nil {
		if err := w.statusStore.UpdateStatus(ctx, job.SubmissionUUID, job.FileName, status, errMsg); err != nil {
			log.Warn().Err(err).Str("status", status).Msg("更新任务状态失败")
		}
	}
	if w.statusCache != nil {
		if err := w.statusCache.SetSubmissionStatus(ctx, job.SubmissionUUID, status, errMsg, constants.DefaultCacheTTL); err != nil {
			log.Warn().Err(err).Str("status", status).Msg("更新任务状态缓存失败")
		}
	}
}

func decodeJob(body []byte) (*types.ParseJobMessage, error) {
	var job types.ParseJobMessage
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if job.SubmissionUUID == "" {
		return nil, fmt.Errorf("%w: 缺少 submission_uuid", ErrInvalidJob)
	}
	if job.ObjectKey == "" && job.Text == "" {
		return nil, fmt.Errorf("%w: object_key 和 text 不能同时为空", ErrInvalidJob)
	}
	return &job, nil
}

// permanent 重试也不会成功的错误
func permanent(err error) bool {
	return errors.Is(err, ErrInvalidJob) ||
		errors.Is(err, parser.ErrUnsupportedFileType) ||
		errors.Is(err, parser.ErrEmptyText) ||
		errors.Is(err, parser.ErrFileTooLarge) ||
		errors.Is(err, processor.ErrValidateFailed)
}
