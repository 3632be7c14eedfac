package types

import "cvinsight/internal/llm"

// ParsingStatus 单份简历的处理结果
type ParsingStatus string

const (
	StatusSuccess ParsingStatus = "success"
	StatusFailed  ParsingStatus = "failed"
	StatusPending ParsingStatus = "pending"
)

// Education 教育经历
type Education struct {
	Institution string `json:"institution"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Location    string `json:"location"`
	Degree      string `json:"degree"`
}

// WorkExperience 工作经历。提供投递日期且 end_date 为 present/current 时，
// CalculatedEndDate 为投递日期，IsPresent 为 true。
type WorkExperience struct {
	Company           string `json:"company"`
	StartDate         string `json:"start_date"`
	EndDate           string `json:"end_date"`
	Location          string `json:"location"`
	Role              string `json:"role"`
	CalculatedEndDate string `json:"calculated_end_date,omitempty"`
	IsPresent         bool   `json:"is_present,omitempty"`
}

// Resume 一份简历的聚合结果，每个插件贡献一部分字段
type Resume struct {
	Name            string           `json:"name"`
	ContactNumber   string           `json:"contact_number"`
	Email           string           `json:"email"`
	Skills          []string         `json:"skills"`
	Educations      []Education      `json:"educations"`
	WorkExperiences []WorkExperience `json:"work_experiences"`
	YoE             string           `json:"YoE"`
	FileName        string           `json:"file_name"`

	DateOfResumeSubmission string   `json:"date_of_resume_submission,omitempty"`
	JobDescriptionProvided bool     `json:"job_description_provided"`
	TotalRelevantYoE       *float64 `json:"total_relevant_yoe"`

	// PluginData 自定义插件的输出，key 为插件名
	PluginData map[string]map[string]any `json:"plugin_data"`
	// PluginErrors 失败的插件及错误信息
	PluginErrors map[string]string `json:"plugin_errors,omitempty"`

	TokenUsage     llm.Summary `json:"token_usage"`
	ProcessingTime float64     `json:"processing_time"` // 秒，保留两位小数
}

// ParseJobMessage 异步解析任务，通过 RabbitMQ 投递
type ParseJobMessage struct {
	SubmissionUUID string `json:"submission_uuid"`
	// ObjectKey 原始文件在 MinIO 中的 key，与 Text 二选一
	ObjectKey      string `json:"object_key,omitempty"`
	Text           string `json:"text,omitempty"`
	FileName       string `json:"file_name"`
	JobDescription string `json:"job_description,omitempty"`
	SubmissionDate string `json:"submission_date,omitempty"`
	Attempt        int    `json:"attempt,omitempty"`
}
