package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cvinsight/internal/config"
	"cvinsight/internal/constants"
	"cvinsight/internal/llm"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound 键不存在
var ErrNotFound = redis.Nil

// token 统计 HASH 的字段
const (
	FieldPrompt     = "prompt"
	FieldCompletion = "completion"
	FieldTotal      = "total"
	FieldCalls      = "calls"
	FieldFailed     = "failed"
	FieldEstimated  = "estimated"
	FieldResumes    = "resumes"
)

// ResultCache 解析结果缓存
type ResultCache interface {
	GetCachedResult(ctx context.Context, cacheKey string) ([]byte, bool, error)
	CacheResult(ctx context.Context, cacheKey string, data []byte, ttl time.Duration) error
}

// TokenCounter 累计 token 用量
type TokenCounter interface {
	RecordTokenUsage(ctx context.Context, summary llm.Summary, at time.Time) error
}

var (
	_ ResultCache  = (*Redis)(nil)
	_ TokenCounter = (*Redis)(nil)
)

// Redis 包装 go-redis 客户端
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
	prefix string
}

// NewRedisAdapter 创建 Redis 连接并挂上 OpenTelemetry 钩子
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,
	})

	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return newRedis(client, cfg), nil
}

func newRedis(client *redis.Client, cfg *config.RedisConfig) *Redis {
	prefix := constants.DefaultKeyPrefix
	if cfg != nil && cfg.KeyPrefix != "" {
		prefix = cfg.KeyPrefix
	}
	return &Redis{Client: client, config: cfg, prefix: prefix}
}

// FormatKey 拼接前缀和 constants 中的键格式
func (r *Redis) FormatKey(keyFormat string, args ...any) string {
	if len(args) == 0 {
		return r.prefix + ":" + keyFormat
	}
	return r.prefix + ":" + fmt.Sprintf(keyFormat, args...)
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// GetCachedResult 读取缓存的解析结果，不存在时 ok 为 false
func (r *Redis) GetCachedResult(ctx context.Context, cacheKey string) ([]byte, bool, error) {
	data, err := r.Client.Get(ctx, r.FormatKey(constants.KeyParseResult, cacheKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// CacheResult 写入解析结果，ttl<=0 时使用默认值
func (r *Redis) CacheResult(ctx context.Context, cacheKey string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = constants.DefaultCacheTTL
	}
	return r.Client.Set(ctx, r.FormatKey(constants.KeyParseResult, cacheKey), data, ttl).Err()
}

// RecordTokenUsage 用 HINCRBY 累加每个插件和当天的 token
func (r *Redis) RecordTokenUsage(ctx context.Context, summary llm.Summary, at time.Time) error {
	pipe := r.Client.TxPipeline()
	for name, u := range summary.ByExtractor {
		key := r.FormatKey(constants.KeyPluginTokens, name)
		pipe.HIncrBy(ctx, key, FieldPrompt, int64(u.PromptTokens))
		pipe.HIncrBy(ctx, key, FieldCompletion, int64(u.CompletionTokens))
		pipe.HIncrBy(ctx, key, FieldTotal, int64(u.TotalTokens))
		pipe.HIncrBy(ctx, key, FieldCalls, 1)
		if u.Source == llm.SourceError {
			pipe.HIncrBy(ctx, key, FieldFailed, 1)
		}
		if u.IsEstimated {
			pipe.HIncrBy(ctx, key, FieldEstimated, 1)
		}
		pipe.ExpireNX(ctx, key, constants.TokenStatsTTL)
	}

	daily := r.FormatKey(constants.KeyDailyTokens, at.Format("2006-01-02"))
	pipe.HIncrBy(ctx, daily, FieldTotal, int64(summary.TotalTokens))
	pipe.HIncrBy(ctx, daily, FieldResumes, 1)
	pipe.ExpireNX(ctx, daily, constants.TokenStatsTTL)

	_, err := pipe.Exec(ctx)
	return err
}

// PluginTokenStats 读取插件的累计计数
func (r *Redis) PluginTokenStats(ctx context.Context, plugin string) (map[string]int64, error) {
	raw, err := r.Client.HGetAll(ctx, r.FormatKey(constants.KeyPluginTokens, plugin)).Result()
	if err != nil {
		return nil, err
	}
	return parseCounters(raw), nil
}

// SetSubmissionStatus 记录异步任务状态
func (r *Redis) SetSubmissionStatus(ctx context.Context, submissionUUID, status, errMsg string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = constants.DefaultCacheTTL
	}
	key := r.FormatKey(constants.KeySubmissionStatus, submissionUUID)
	pipe := r.Client.TxPipeline()
	pipe.HSet(ctx, key, "status", status, "error", errMsg, "updated_at", time.Now().Format(time.RFC3339))
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// GetSubmissionStatus 读取异步任务状态，不存在时返回 ErrNotFound
func (r *Redis) GetSubmissionStatus(ctx context.Context, submissionUUID string) (map[string]string, error) {
	res, err := r.Client.HGetAll(ctx, r.FormatKey(constants.KeySubmissionStatus, submissionUUID)).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	return res, nil
}

func parseCounters(raw map[string]string) map[string]int64 {
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out
}
