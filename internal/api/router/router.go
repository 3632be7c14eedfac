package router

import (
	"context"
	"crypto/subtle"
	"errors"

	"cvinsight/internal/api/handler"
	"cvinsight/internal/metrics"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

// APIKeyHeader 请求头中的 API key
const APIKeyHeader = "X-API-Key"

var errInvalidKey = errors.New("invalid api key")

// Options 路由可选功能
type Options struct {
	// APIKeys 非空时 /api/v1 下除 health 外的接口需要 X-API-Key
	APIKeys []string
	// EnableMetrics 暴露 /metrics 并采集 HTTP 指标
	EnableMetrics bool
}

// RegisterRoutes 注册 API 路由
func RegisterRoutes(h *server.Hertz, resumeHandler *handler.ResumeHandler, opts Options) {
	if opts.EnableMetrics {
		h.Use(metrics.HertzMiddleware())
		h.GET("/metrics", metrics.Handler())
	}

	api := h.Group("/api/v1")
	api.GET("/health", resumeHandler.Health)

	secured := api.Group("")
	if len(opts.APIKeys) > 0 {
		secured.Use(APIKeyAuth(opts.APIKeys))
	}
	secured.POST("/resumes/parse", resumeHandler.ParseResume)
	secured.GET("/plugins", resumeHandler.ListPlugins)
	secured.GET("/results/:uuid", resumeHandler.GetResult)
	secured.GET("/results/:uuid/original", resumeHandler.GetOriginal)
	secured.GET("/stats/tokens", resumeHandler.TokenStats)
}

// APIKeyAuth 校验 X-API-Key
func APIKeyAuth(keys []string) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:"+APIKeyHeader, ""),
		keyauth.WithValidator(func(_ context.Context, _ *app.RequestContext, key string) (bool, error) {
			for _, k := range keys {
				if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
					return true, nil
				}
			}
			return false, errInvalidKey
		}),
		keyauth.WithErrorHandler(func(_ context.Context, c *app.RequestContext, err error) {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "未授权：API key 缺失或无效"})
		}),
	)
}
