package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ResumeParseResult 一次简历解析的结果快照
type ResumeParseResult struct {
	SubmissionUUID   string          `gorm:"type:char(36);primaryKey"`
	FileName         string          `gorm:"type:varchar(255)"`
	TextMD5          string          `gorm:"type:char(32);index:idx_rpr_text_md5"`
	ProcessingStatus string          `gorm:"type:varchar(50);default:'QUEUED';index:idx_rpr_processing_status"`
	ErrorMessage     string          `gorm:"type:text"`
	CandidateName    string          `gorm:"type:varchar(255)"`
	CandidateEmail   string          `gorm:"type:varchar(255);index:idx_rpr_email"`
	YoE              string          `gorm:"type:varchar(50)"`
	TotalRelevantYoE *float64        `gorm:"type:double"`
	JobDescription   string          `gorm:"type:text"`
	SubmissionDate   *datatypes.Date `gorm:"type:date"`
	ResultJSON       datatypes.JSON  `gorm:"type:json"`

	// token 汇总
	TotalTokens      int  `gorm:"default:0"`
	PromptTokens     int  `gorm:"default:0"`
	CompletionTokens int  `gorm:"default:0"`
	LLMCalls         int  `gorm:"default:0"`
	FailedPlugins    int  `gorm:"default:0"`
	TokensEstimated  bool `gorm:"default:false"`

	ProcessingTime    float64   `gorm:"type:double"` // 秒
	Model             string    `gorm:"type:varchar(100)"`
	ParserVersion     string    `gorm:"type:varchar(50)"`
	OriginalObjectKey string    `gorm:"type:varchar(1024)"`
	ResultObjectKey   string    `gorm:"type:varchar(1024)"`
	CreatedAt         time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt         time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`

	PluginUsages []PluginTokenUsage `gorm:"foreignKey:SubmissionUUID;references:SubmissionUUID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (ResumeParseResult) TableName() string {
	return "resume_parse_results"
}

// DecodeResult 把 ResultJSON 解码到 dest，为空时不做任何事
func (r *ResumeParseResult) DecodeResult(dest any) error {
	if len(r.ResultJSON) == 0 {
		return nil
	}
	return json.Unmarshal(r.ResultJSON, dest)
}

// PluginTokenUsage 单个插件在一次解析中的 token 消耗
type PluginTokenUsage struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement"`
	SubmissionUUID   string    `gorm:"type:char(36);not null;index:idx_ptu_submission"`
	PluginName       string    `gorm:"type:varchar(100);not null;index:idx_ptu_plugin"`
	PromptTokens     int       `gorm:"default:0"`
	CompletionTokens int       `gorm:"default:0"`
	TotalTokens      int       `gorm:"default:0"`
	Source           string    `gorm:"type:varchar(50)"`
	IsEstimated      bool      `gorm:"default:false"`
	ErrorMessage     string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (PluginTokenUsage) TableName() string {
	return "plugin_token_usages"
}
