package constants

import "time"

const (
	// AppName 应用名，用于 tracer 和服务名
	AppName = "cvinsight"
	// ParserVersion 写入数据库的解析器版本
	ParserVersion = "1.0.0"

	// DefaultCacheTTL 解析结果缓存时间
	DefaultCacheTTL = 24 * time.Hour
	// TokenStatsTTL token 统计保留时间
	TokenStatsTTL = 90 * 24 * time.Hour
)

// 批处理输出文件
const (
	CSVResultsFile = "resume_analysis_results.csv"
	MetricsFile    = "processing_metrics.json"
)

// 提交记录的处理状态
const (
	StatusQueued     = "QUEUED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)
