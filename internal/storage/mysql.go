package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"cvinsight/internal/config"
	"cvinsight/internal/constants"
	"cvinsight/internal/llm"
	"cvinsight/internal/storage/models"
	"cvinsight/internal/types"
	"cvinsight/pkg/utils"

	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// ErrResultNotFound 没有对应的解析记录
var ErrResultNotFound = errors.New("parse result not found")

// ResultRepository 解析结果的持久化接口
type ResultRepository interface {
	SaveParseResult(ctx context.Context, rec *models.ResumeParseResult) error
	UpdateStatus(ctx context.Context, submissionUUID, fileName, status, errMsg string) error
	GetParseResult(ctx context.Context, submissionUUID string) (*models.ResumeParseResult, error)
}

// 确保MySQL实现了ResultRepository接口
var _ ResultRepository = (*MySQL)(nil)

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 连接 MySQL，注册追踪插件并自动迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.ConnectTimeoutSeconds)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		PrepareStmt:                              true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	m := &MySQL{db: db, cfg: cfg}
	if err := m.autoMigrateSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}
	return m, nil
}

// gormLogLevel 1-4 对应 Silent/Error/Warn/Info
func gormLogLevel(level int) gormlogger.LogLevel {
	switch level {
	case 1:
		return gormlogger.Silent
	case 2:
		return gormlogger.Error
	case 3:
		return gormlogger.Warn
	default:
		return gormlogger.Info
	}
}

// autoMigrateSchema 迁移时关闭 SQL 日志
func (m *MySQL) autoMigrateSchema() error {
	silent := gormlogger.New(log.New(os.Stderr, "", log.LstdFlags), gormlogger.Config{
		LogLevel:                  gormlogger.Silent,
		IgnoreRecordNotFoundError: true,
	})
	if err := m.db.Session(&gorm.Session{Logger: silent}).AutoMigrate(
		&models.ResumeParseResult{},
		&models.PluginTokenUsage{},
	); err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// SaveParseResult 在一个事务里写入结果快照，并替换该提交的插件用量明细
func (m *MySQL) SaveParseResult(ctx context.Context, rec *models.ResumeParseResult) error {
	usages := rec.PluginUsages
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("PluginUsages").Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "submission_uuid"}},
			UpdateAll: true,
		}).Create(rec).Error; err != nil {
			return fmt.Errorf("保存解析结果失败: %w", err)
		}
		if err := tx.Where("submission_uuid = ?", rec.SubmissionUUID).Delete(&models.PluginTokenUsage{}).Error; err != nil {
			return fmt.Errorf("清理插件用量失败: %w", err)
		}
		if len(usages) == 0 {
			return nil
		}
		if err := tx.Create(&usages).Error; err != nil {
			return fmt.Errorf("保存插件用量失败: %w", err)
		}
		return nil
	})
}

// UpdateStatus 更新处理状态，记录不存在时创建
func (m *MySQL) UpdateStatus(ctx context.Context, submissionUUID, fileName, status, errMsg string) error {
	rec := models.ResumeParseResult{
		SubmissionUUID:   submissionUUID,
		FileName:         fileName,
		ProcessingStatus: status,
		ErrorMessage:     errMsg,
		ParserVersion:    constants.ParserVersion,
	}
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "submission_uuid"}},
		DoUpdates: clause.AssignmentColumns([]string{"processing_status", "error_message", "updated_at"}),
	}).Create(&rec).Error
}

// GetParseResult 按提交 UUID 查询
func (m *MySQL) GetParseResult(ctx context.Context, submissionUUID string) (*models.ResumeParseResult, error) {
	var rec models.ResumeParseResult
	err := m.db.WithContext(ctx).Preload("PluginUsages").
		Where("submission_uuid = ?", submissionUUID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PluginTokenTotal 插件累计 token
type PluginTokenTotal struct {
	PluginName       string `json:"plugin_name"`
	Calls            int64  `json:"calls"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// PluginTokenTotals 按插件汇总 since 之后的 token 消耗
func (m *MySQL) PluginTokenTotals(ctx context.Context, since time.Time) ([]PluginTokenTotal, error) {
	var rows []PluginTokenTotal
	err := m.db.WithContext(ctx).Model(&models.PluginTokenUsage{}).
		Select("plugin_name, COUNT(*) AS calls, SUM(prompt_tokens) AS prompt_tokens, SUM(completion_tokens) AS completion_tokens, SUM(total_tokens) AS total_tokens").
		Where("created_at >= ?", since).
		Group("plugin_name").
		Order("total_tokens DESC").
		Scan(&rows).Error
	return rows, err
}

// BuildParseResult 把聚合后的简历转换为数据库记录
func BuildParseResult(submissionUUID, textMD5, model, jobDescription string, resume *types.Resume) (*models.ResumeParseResult, error) {
	if resume == nil {
		return nil, fmt.Errorf("resume is nil")
	}
	data, err := json.Marshal(resume)
	if err != nil {
		return nil, fmt.Errorf("序列化解析结果失败: %w", err)
	}

	status := constants.StatusCompleted
	errMsg := ""
	if len(resume.PluginErrors) > 0 {
		errMsg = fmt.Sprintf("%d plugin(s) failed", len(resume.PluginErrors))
	}

	rec := &models.ResumeParseResult{
		SubmissionUUID:   submissionUUID,
		FileName:         resume.FileName,
		TextMD5:          textMD5,
		ProcessingStatus: status,
		ErrorMessage:     errMsg,
		CandidateName:    resume.Name,
		CandidateEmail:   resume.Email,
		YoE:              resume.YoE,
		TotalRelevantYoE: resume.TotalRelevantYoE,
		JobDescription:   jobDescription,
		ResultJSON:       datatypes.JSON(data),
		TotalTokens:      resume.TokenUsage.TotalTokens,
		PromptTokens:     resume.TokenUsage.PromptTokens,
		CompletionTokens: resume.TokenUsage.CompletionTokens,
		LLMCalls:         resume.TokenUsage.Calls,
		FailedPlugins:    resume.TokenUsage.Failed,
		TokensEstimated:  resume.TokenUsage.Estimated,
		ProcessingTime:   resume.ProcessingTime,
		Model:            model,
		ParserVersion:    constants.ParserVersion,
	}
	if resume.DateOfResumeSubmission != "" {
		if t, err := time.Parse("2006-01-02", resume.DateOfResumeSubmission); err == nil {
			d := datatypes.Date(t)
			rec.SubmissionDate = &d
		}
	}

	for _, name := range utils.SortedKeys(resume.TokenUsage.ByExtractor) {
		u := resume.TokenUsage.ByExtractor[name]
		rec.PluginUsages = append(rec.PluginUsages, models.PluginTokenUsage{
			SubmissionUUID:   submissionUUID,
			PluginName:       name,
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
			Source:           string(u.Source),
			IsEstimated:      u.IsEstimated,
			ErrorMessage:     pluginError(resume, name, u),
		})
	}
	return rec, nil
}

func pluginError(resume *types.Resume, name string, u llm.Usage) string {
	if msg, ok := resume.PluginErrors[name]; ok {
		return msg
	}
	if u.Source == llm.SourceError {
		return "llm call failed"
	}
	return ""
}
