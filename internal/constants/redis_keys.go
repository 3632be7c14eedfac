package constants

// Redis Key 格式常量，不含应用前缀，由 storage.Redis.FormatKey 拼接 key_prefix
// 命名规范: {prefix}:{module}:{entity}:{unique_id}
const (
	// DefaultKeyPrefix 未配置 key_prefix 时使用的前缀
	DefaultKeyPrefix = "cvinsight"

	// ParseModulePrefix 解析模块
	ParseModulePrefix = "parse"
	// TokenModulePrefix token 统计模块
	TokenModulePrefix = "tokens"

	// EntityResult 解析结果实体
	EntityResult = "result"
	// EntitySubmission 提交记录实体
	EntitySubmission = "submission"
	// EntityPlugin 插件实体
	EntityPlugin = "plugin"
	// EntityDaily 按天汇总实体
	EntityDaily = "daily"

	// KeyParseResult 解析结果缓存 (STRING, JSON)
	// 格式: {prefix}:parse:result:{cacheKey}
	KeyParseResult = ParseModulePrefix + ":" + EntityResult + ":%s"

	// KeySubmissionStatus 异步提交的状态 (HASH: status, error, updated_at)
	// 格式: {prefix}:parse:submission:{submissionUUID}
	KeySubmissionStatus = ParseModulePrefix + ":" + EntitySubmission + ":%s"

	// KeyPluginTokens 每个插件的累计 token (HASH: prompt, completion, total, calls, failed)
	// 格式: {prefix}:tokens:plugin:{pluginName}
	KeyPluginTokens = TokenModulePrefix + ":" + EntityPlugin + ":%s"

	// KeyDailyTokens 每日 token 汇总 (HASH: total, resumes)
	// 格式: {prefix}:tokens:daily:{yyyy-mm-dd}
	KeyDailyTokens = TokenModulePrefix + ":" + EntityDaily + ":%s"
)
