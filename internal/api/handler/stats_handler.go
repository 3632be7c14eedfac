package handler

import (
	"context"
	"time"

	"cvinsight/internal/logger"
	"cvinsight/internal/storage"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/gofrs/uuid/v5"
)

// 预签名链接有效期
const presignExpiry = 15 * time.Minute

const defaultStatsWindow = 30 * 24 * time.Hour

var (
	_ TokenTotals   = (*storage.MySQL)(nil)
	_ TokenCounters = (*storage.Redis)(nil)
)

// TokenTotals 数据库中的按插件汇总，*storage.MySQL 实现它
type TokenTotals interface {
	PluginTokenTotals(ctx context.Context, since time.Time) ([]storage.PluginTokenTotal, error)
}

// TokenCounters Redis 中的累计计数，*storage.Redis 实现它
type TokenCounters interface {
	PluginTokenStats(ctx context.Context, plugin string) (map[string]int64, error)
}

// WithTokenTotals /stats/tokens 优先使用数据库汇总
func WithTokenTotals(t TokenTotals) Option {
	return func(h *ResumeHandler) { h.totals = t }
}

// WithTokenCounters 没有数据库时读 Redis 计数
func WithTokenCounters(c TokenCounters) Option {
	return func(h *ResumeHandler) { h.counters = c }
}

// TokenStatsResponse /stats/tokens 的返回
type TokenStatsResponse struct {
	Source  string                      `json:"source"`
	Since   string                      `json:"since,omitempty"`
	Totals  []storage.PluginTokenTotal  `json:"totals,omitempty"`
	Counter map[string]map[string]int64 `json:"counters,omitempty"`
}

// TokenStats GET /api/v1/stats/tokens?since=YYYY-MM-DD
func (h *ResumeHandler) TokenStats(ctx context.Context, c *app.RequestContext) {
	since := time.Now().Add(-defaultStatsWindow)
	if v := c.Query("since"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			fail(ctx, c, consts.StatusBadRequest, "since 格式应为 YYYY-MM-DD")
			return
		}
		since = t
	}

	switch {
	case h.totals != nil:
		rows, err := h.totals.PluginTokenTotals(ctx, since)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("查询 token 汇总失败")
			fail(ctx, c, consts.StatusInternalServerError, "查询 token 汇总失败")
			return
		}
		c.JSON(consts.StatusOK, TokenStatsResponse{Source: "mysql", Since: since.Format("2006-01-02"), Totals: rows})
	case h.counters != nil:
		resp := TokenStatsResponse{Source: "redis", Counter: map[string]map[string]int64{}}
		if h.plugins != nil {
			for _, md := range h.plugins.Metadata() {
				stats, err := h.counters.PluginTokenStats(ctx, md.Name)
				if err != nil {
					logger.Ctx(ctx).Warn().Err(err).Str("plugin", md.Name).Msg("读取插件 token 计数失败")
					continue
				}
				if len(stats) > 0 {
					resp.Counter[md.Name] = stats
				}
			}
		}
		c.JSON(consts.StatusOK, resp)
	default:
		fail(ctx, c, consts.StatusServiceUnavailable, "token 统计未配置")
	}
}

// GetOriginal GET /api/v1/results/:uuid/original 返回原始简历的预签名下载地址
func (h *ResumeHandler) GetOriginal(ctx context.Context, c *app.RequestContext) {
	id := c.Param("uuid")
	if _, err := uuid.FromString(id); err != nil {
		fail(ctx, c, consts.StatusBadRequest, "无效的 submission_uuid")
		return
	}
	if h.results == nil || h.objects == nil {
		fail(ctx, c, consts.StatusServiceUnavailable, "对象存储未配置")
		return
	}

	rec, err := h.results.GetParseResult(ctx, id)
	if err != nil || rec.OriginalObjectKey == "" {
		fail(ctx, c, consts.StatusNotFound, "原始简历不存在")
		return
	}
	url, err := h.objects.GetPresignedURL(ctx, rec.OriginalObjectKey, presignExpiry)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("submission_uuid", id).Msg("生成预签名链接失败")
		fail(ctx, c, consts.StatusBadGateway, "生成下载链接失败")
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"submission_uuid": id,
		"file_name":       rec.FileName,
		"url":             url,
		"expires_in":      int(presignExpiry.Seconds()),
	})
}
