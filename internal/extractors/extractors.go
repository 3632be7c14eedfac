// Package extractors 内置的简历抽取插件
package extractors

import (
	"strings"
	"time"

	"cvinsight/internal/plugin"
)

// 插件名
const (
	Profile          = "profile_extractor"
	Skills           = "skills_extractor"
	Education        = "education_extractor"
	Experience       = "experience_extractor"
	YoE              = "yoe_extractor"
	Social           = "social_extractor"
	EducationStats   = "education_stats_extractor"
	WorkStats        = "work_stats_extractor"
	RelevantYoE      = "relevant_yoe_extractor"
	ExtendedAnalysis = "extended_analysis_extractor"
)

const (
	baseAuthor   = "Resume Analysis Team"
	customAuthor = "CVInsight"

	// SubmissionDateLayout 投递日期格式
	SubmissionDateLayout = "2006-01-02"
)

// DefaultDataAnalystJD relevant_yoe_extractor 的默认岗位描述
const DefaultDataAnalystJD = `Looking for a Data Analyst with:
- Experience in Python, SQL, and data visualization tools (Tableau, PowerBI)
- Background in data cleaning, processing, and statistical analysis
- Educational background in Statistics, Computer Science, Mathematics, or related field
- Experience with data visualization and presenting insights to stakeholders
- Familiarity with machine learning concepts is a plus`

// DefaultGeneralJD extended_analysis_extractor 的默认岗位描述
const DefaultGeneralJD = `General professional position requiring:
- Relevant work experience in any field
- Educational background appropriate to the role
- Professional skills and competencies
- Ability to work effectively and contribute value`

// Options 插件共用的默认值。单次调用的 plugin.Params 优先。
type Options struct {
	// JobDescription 配置的默认岗位描述，为空时各插件使用自己的默认值
	JobDescription string
	// Now 当前时间，测试时注入
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// jobDescription 依次取调用参数、配置、插件默认值
func (o Options) jobDescription(in plugin.Input, fallback string) string {
	if jd := strings.TrimSpace(in.Params.JobDescription); jd != "" {
		return jd
	}
	if jd := strings.TrimSpace(o.JobDescription); jd != "" {
		return jd
	}
	return fallback
}

func (o Options) submissionDate(in plugin.Input) string {
	if d := strings.TrimSpace(in.Params.SubmissionDate); d != "" {
		return d
	}
	return o.now().Format(SubmissionDateLayout)
}

// Base 返回基础插件
func Base(src plugin.Source, opts Options) []plugin.Plugin {
	return []plugin.Plugin{
		NewProfileExtractor(src),
		NewSkillsExtractor(src),
		NewEducationExtractor(src, opts),
		NewExperienceExtractor(src, opts),
		NewYoEExtractor(src, opts),
	}
}

// Custom 返回自定义插件
func Custom(src plugin.Source, opts Options) []plugin.Plugin {
	return []plugin.Plugin{
		NewSocialExtractor(src),
		NewEducationStatsExtractor(src),
		NewWorkStatsExtractor(src),
		NewRelevantYoEExtractor(src, opts),
		NewExtendedAnalysisExtractor(src, opts),
	}
}

// All 所有内置插件
func All(src plugin.Source, opts Options) []plugin.Plugin {
	return append(Base(src, opts), Custom(src, opts)...)
}

// NewRegistry 创建注册表并注册启用的内置插件。enabled 为 nil 时全部注册。
func NewRegistry(src plugin.Source, opts Options, enabled func(name string) bool) *plugin.Registry {
	reg := plugin.NewRegistry()
	var list []plugin.Plugin
	for _, p := range All(src, opts) {
		if enabled == nil || enabled(p.Metadata().Name) {
			list = append(list, p)
		}
	}
	reg.RegisterAll(list...)
	return reg
}
