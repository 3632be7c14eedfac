package extractors

import (
	"math"
	"strings"

	"cvinsight/internal/logger"
	"cvinsight/internal/plugin"
)

type socialOutput struct {
	PhoneNumber        *string  `json:"phone_number" description:"Contact phone number, formatted as 1-234-567-8901 for US numbers, or kept as is for international."`
	Email              *string  `json:"email" description:"Contact email address."`
	LinkedinURL        *string  `json:"linkedin_url" description:"URL of the LinkedIn profile."`
	GithubURL          *string  `json:"github_url" description:"URL of the GitHub profile."`
	TwitterURL         *string  `json:"twitter_url" description:"URL of the Twitter (X) profile."`
	FacebookURL        *string  `json:"facebook_url" description:"URL of the Facebook profile."`
	InstagramURL       *string  `json:"instagram_url" description:"URL of the Instagram profile."`
	StackoverflowURL   *string  `json:"stackoverflow_url" description:"URL of the Stack Overflow profile."`
	PersonalWebsiteURL *string  `json:"personal_website_url" description:"URL of a personal website or blog."`
	OtherLinks         []string `json:"other_links" description:"Any other relevant social or professional links."`
}

type educationStatsOutput struct {
	HighestDegree               *string `json:"highest_degree" description:"The highest academic degree obtained or being pursued."`
	HighestDegreeStatus         string  `json:"highest_degree_status" enum:"[\"completed\",\"pursuing\",\"unknown\"]" description:"Indicates whether the highest degree is completed or currently being pursued."`
	HighestDegreeMajor          *string `json:"highest_degree_major" description:"The major or field of study for the highest degree."`
	HighestDegreeSchoolPrestige string  `json:"highest_degree_school_prestige" enum:"[\"low\",\"medium\",\"high\",\"unknown\"]" description:"Prestige level of the school for the highest degree (low, medium, high). Example: low for public/online, medium for mid-level university, high for prestigious university"`
}

type workStatsOutput struct {
	HighestSeniorityLevel       string   `json:"highest_seniority_level" description:"Highest seniority level achieved (e.g., junior, mid, senior, exec)."`
	PrimaryPositionTitle        *string  `json:"primary_position_title" description:"The most common or highest-ranking job title that best describes the candidate's primary role."`
	AverageTenureAtCompanyYears *float64 `json:"average_tenure_at_company_years" description:"Average length of time in years spent at each company (place of work, not individual roles within the same company)."`
}

type relevantYoEOutput struct {
	RelevantEducationYears       *float64 `json:"relevant_education_years" description:"Number of years of RELEVANT education"`
	RelevantJobExperienceYears   *float64 `json:"relevant_job_experience_years" description:"Number of years of RELEVANT job experience"`
	TotalRelevantExperienceYears *float64 `json:"total_relevant_experience_years" description:"Total number of years of relevant experience (job + education)"`
	RelevantEduYoE               *float64 `json:"relevant_edu_yoe" description:"Number of years of RELEVANT education experience"`
	AllEduYoE                    *float64 `json:"all_edu_yoe" description:"Number of years of ALL education experience"`
	RelevantWorkYoE              *float64 `json:"relevant_work_yoe" description:"Number of years of RELEVANT work experience"`
	AllWorkYoE                   *float64 `json:"all_work_yoe" description:"Number of years of ALL work experience"`
	RelevantTotalYoE             *float64 `json:"relevant_total_yoe" description:"Total number of years of RELEVANT experience (work + education)"`
	AllTotalYoE                  *float64 `json:"all_total_yoe" description:"Total number of years of ALL experience (work + education)"`
}

type extendedAnalysisOutput struct {
	WYoE         *float64 `json:"wyoe" description:"Total years of ALL work experience"`
	RelevantWYoE *float64 `json:"relevant_wyoe" description:"Total years of RELEVANT work experience based on job description"`
	EYoE         *float64 `json:"eyoe" description:"Total years of ALL education experience"`
	RelevantEYoE *float64 `json:"relevant_eyoe" description:"Total years of RELEVANT education experience based on job description"`
}

// SeniorityLevels 工作级别，unknown 不出现在 prompt 中
var SeniorityLevels = []string{"junior", "mid-level", "senior", "lead", "manager", "director", "executive", "intern"}

const socialTemplate = `From the resume text provided below, extract the following information:
- Contact phone number. If found, please try to format it as 1-XXX-XXX-XXXX for US numbers.
  If it appears to be an international number, leave it in its original format.
- Email address.
- LinkedIn profile URL.
- GitHub profile URL.
- Twitter (or X) profile URL.
- Facebook profile URL.
- Instagram profile URL.
- Stack Overflow profile URL.
- Personal website or blog URL.
- Any other relevant social or professional links.

If a piece of information is not found, please omit it or leave it as null.

Resume Text:
{text}

{format_instructions}`

const educationStatsTemplate = `Analyze the education section of the following resume text.
Identify the following:
1. The highest academic degree the candidate has obtained or is currently pursuing (e.g., PhD, Master of Science, Bachelor of Arts, Associate Degree).
2. The status of this highest degree: 'completed' or 'pursuing'.
3. The major or field of study for this highest degree (e.g., Computer Science, Mechanical Engineering, Business Administration).
4. The prestige level of the institution for this highest degree. Categorize as 'low' (e.g., community colleges, online-only unaccredited institutions), 'medium' (e.g., most public universities, accredited private universities), or 'high' (e.g., Ivy League, top-tier internationally recognized universities).

Resume Text:
{text}

{format_instructions}`

const workStatsTemplate = `Analyze the work experience section of the following resume text.
Determine the following:
1. Highest seniority level achieved by the candidate. Categorize as one of: {seniority_levels}.
2. The primary position title that best describes the candidate's overall professional role or highest achieved role.
3. The average length of time (in years, e.g., 2.5 for 2 years and 6 months) the candidate spent at each company (place of work). If multiple roles exist at the same company, count it as one continuous period for that company.

Resume Text:
{text}

{format_instructions}`

const relevantYoETemplate = `Analyze the following resume text to determine the candidate's years of experience, both RELEVANT to the job and ALL experience.
Consider both education and job experience in relation to this job description:

JOB DESCRIPTION:
{job_description}

TODAY'S DATE FOR CALCULATING PRESENT POSITIONS: {submission_date}

Based on this job description and today's date:
1. Education Experience:
   - Calculate the total years of ALL education (using the exact guidelines below)
   - Calculate the total years of RELEVANT education (education that directly applies to the job)
   Use the following EXACT guidelines for education years:
     - Diploma/certificate: 1 year (0.5 if pursuing)
     - Associate's degree: 2 years (1 if pursuing)
     - Bachelor's degree: 4 years (2 if pursuing)
     - Master's degree: 6 years (3 if pursuing)
     - PhD/Doctorate: 8 years (7 if pursuing)

2. Work Experience:
   - Calculate the total years of ALL work experience (sum all positions)
   - Calculate the total years of RELEVANT work experience (work that directly applies to the job)
   For determining RELEVANCE in work experience:
     - Fully relevant: 100% of time counts (e.g., exact same role)
     - Highly relevant: ~75% of time counts (e.g., similar role with overlapping skills)
     - Moderately relevant: ~50% of time counts (e.g., different role but uses key required skills)
     - Slightly relevant: ~25% of time counts (e.g., different role with minimal relevant skills)
     - Not relevant: 0% of time counts (no overlap with required skills)

3. Total Experience:
   - Calculate the total years of ALL experience (sum of ALL work + ALL education years)
   - Calculate the total years of RELEVANT experience (sum of RELEVANT work + RELEVANT education years)

For positions listed as "present" or "current", calculate duration up to: {submission_date}

Provide all output in numerical years with one decimal place precision (e.g., 2.5 for 2 years and 6 months).

Resume Text:
{text}

{format_instructions}`

const extendedAnalysisTemplate = `Analyze the following resume text to extract years of experience information.

JOB DESCRIPTION:
{job_description}

TODAY'S DATE FOR CALCULATING PRESENT POSITIONS: {submission_date}

Extract the following 4 values:

**Education Experience:**
- eyoe: Total years of ALL education using these EXACT guidelines:
  * Diploma/certificate: 1 year (0.5 if pursuing)
  * Associate's degree: 2 years (1 if pursuing)
  * Bachelor's degree: 4 years (2 if pursuing)
  * Master's degree: 6 years (3 if pursuing)
  * PhD/Doctorate: 8 years (7 if pursuing)
- relevant_eyoe: Years of RELEVANT education that directly applies to the job description.
  If education field closely matches job requirements, count full years.
  If partially relevant, count proportionally (e.g., 75%, 50%, 25%).
  If not relevant at all, count 0.

**Work Experience:**
- wyoe: Total years of ALL work experience (sum all positions)
- relevant_wyoe: Years of RELEVANT work experience that applies to the job description.
  * Fully relevant (exact same role): 100% of time
  * Highly relevant (similar role, overlapping skills): ~75% of time
  * Moderately relevant (different role, key skills used): ~50% of time
  * Slightly relevant (minimal skill overlap): ~25% of time
  * Not relevant (no skill overlap): 0% of time

For positions listed as "present" or "current", calculate duration up to: {submission_date}

Provide all output as numerical years with one decimal place (e.g., 2.5 for 2 years 6 months).

Resume Text:
{text}

{format_instructions}`

// NewSocialExtractor 社交主页链接和格式化的电话
func NewSocialExtractor(src plugin.Source) *plugin.LLMExtractor {
	return plugin.NewLLMExtractor(src, plugin.LLMExtractorConfig{
		Metadata: plugin.Metadata{
			Name:        Social,
			Description: "Extracts social media links (LinkedIn, GitHub, Twitter, etc.), websites, and formats phone numbers.",
			Category:    plugin.CategoryCustom,
			Author:      customAuthor,
		},
		Template:    socialTemplate,
		OutputModel: socialOutput{},
		Process: func(raw map[string]any, _ plugin.Input) (map[string]any, error) {
			out := map[string]any{}
			for _, k := range []string{
				"phone_number", "email", "linkedin_url", "github_url", "twitter_url",
				"facebook_url", "instagram_url", "stackoverflow_url", "personal_website_url",
			} {
				s := strings.TrimSpace(stringValue(raw[k]))
				if s == "" {
					out[k] = nil
					continue
				}
				out[k] = s
			}
			if p, ok := out["phone_number"].(string); ok {
				out["phone_number"] = FormatPhone(p)
			}
			out["other_links"] = stringList(raw["other_links"])
			return out, nil
		},
	})
}

// NewEducationStatsExtractor 最高学位、状态、专业、学校层次，输入为 education_extractor 的结果
func NewEducationStatsExtractor(src plugin.Source) *plugin.LLMExtractor {
	return plugin.NewLLMExtractor(src, plugin.LLMExtractorConfig{
		Metadata: plugin.Metadata{
			Name:        EducationStats,
			Description: "Extracts statistics about a candidate's education, including highest degree, status, major, and school prestige.",
			Category:    plugin.CategoryCustom,
			Author:      customAuthor,
		},
		Template:     educationStatsTemplate,
		Dependencies: []string{Education},
		TextFrom:     Education,
		OutputModel:  educationStatsOutput{},
		Process: func(raw map[string]any, _ plugin.Input) (map[string]any, error) {
			return map[string]any{
				"highest_degree":                 nullableString(raw["highest_degree"]),
				"highest_degree_status":          normalizeEnum(raw["highest_degree_status"], "completed", "pursuing", "unknown"),
				"highest_degree_major":           nullableString(raw["highest_degree_major"]),
				"highest_degree_school_prestige": normalizeEnum(raw["highest_degree_school_prestige"], "low", "medium", "high", "unknown"),
			}, nil
		},
	})
}

// NewWorkStatsExtractor 最高级别、主要职位、平均在职年限，输入为 experience_extractor 的结果
func NewWorkStatsExtractor(src plugin.Source) *plugin.LLMExtractor {
	return plugin.NewLLMExtractor(src, plugin.LLMExtractorConfig{
		Metadata: plugin.Metadata{
			Name:        WorkStats,
			Description: "Extracts work statistics like highest seniority, primary title, and average tenure per company.",
			Category:    plugin.CategoryCustom,
			Author:      customAuthor,
		},
		Template:     workStatsTemplate,
		Variables:    []string{"text", "seniority_levels"},
		Dependencies: []string{Experience},
		TextFrom:     Experience,
		OutputModel:  workStatsOutput{},
		Prepare: func(_ plugin.Input, text string) map[string]any {
			return map[string]any{"text": text, "seniority_levels": strings.Join(SeniorityLevels, ", ")}
		},
		Process: func(raw map[string]any, _ plugin.Input) (map[string]any, error) {
			level := strings.ToLower(strings.TrimSpace(stringValue(raw["highest_seniority_level"])))
			if level == "mid" {
				level = "mid-level"
			}
			out := map[string]any{
				"highest_seniority_level":         normalizeEnum(level, SeniorityLevels...),
				"primary_position_title":          nullableString(raw["primary_position_title"]),
				"average_tenure_at_company_years": nil,
			}
			if f, ok := floatValue(raw["average_tenure_at_company_years"]); ok {
				out["average_tenure_at_company_years"] = f
			}
			return out, nil
		},
	})
}

// NewRelevantYoEExtractor 与岗位相关的教育、工作年限。
// 依赖 education_stats_extractor，用学位映射校正模型给出的教育年限。
func NewRelevantYoEExtractor(src plugin.Source, opts Options) *plugin.LLMExtractor {
	return plugin.NewLLMExtractor(src, plugin.LLMExtractorConfig{
		Metadata: plugin.Metadata{
			Name:        RelevantYoE,
			Description: "Extracts relevant years of education, job experience, and total relevant experience.",
			Category:    plugin.CategoryCustom,
			Author:      customAuthor,
		},
		Template:     relevantYoETemplate,
		Variables:    []string{"text", "job_description", "submission_date"},
		Dependencies: []string{EducationStats},
		OutputModel:  relevantYoEOutput{},
		Prepare: func(in plugin.Input, text string) map[string]any {
			return map[string]any{
				"text":            text,
				"job_description": opts.jobDescription(in, DefaultDataAnalystJD),
				"submission_date": opts.submissionDate(in),
			}
		},
		Process: func(raw map[string]any, in plugin.Input) (map[string]any, error) {
			return ReconcileRelevantYoE(raw, in.Dep(EducationStats)), nil
		},
	})
}

// NewExtendedAnalysisExtractor wyoe/relevant_wyoe/eyoe/relevant_eyoe 四个字段
func NewExtendedAnalysisExtractor(src plugin.Source, opts Options) *plugin.LLMExtractor {
	return plugin.NewLLMExtractor(src, plugin.LLMExtractorConfig{
		Metadata: plugin.Metadata{
			Name:        ExtendedAnalysis,
			Description: "Simplified extractor for 4 years of experience fields: wyoe, relevant_wyoe, eyoe, relevant_eyoe.",
			Category:    plugin.CategoryCustom,
			Author:      customAuthor,
		},
		Template:    extendedAnalysisTemplate,
		Variables:   []string{"text", "job_description", "submission_date"},
		OutputModel: extendedAnalysisOutput{},
		Prepare: func(in plugin.Input, text string) map[string]any {
			return map[string]any{
				"text":            text,
				"job_description": opts.jobDescription(in, DefaultGeneralJD),
				"submission_date": opts.submissionDate(in),
			}
		},
		Process: func(raw map[string]any, _ plugin.Input) (map[string]any, error) {
			out := map[string]any{}
			for _, k := range []string{"wyoe", "relevant_wyoe", "eyoe", "relevant_eyoe"} {
				f, ok := floatValue(raw[k])
				if !ok {
					f = 0
				}
				out[k] = f
			}
			return out, nil
		},
	})
}

// 新旧字段名，两边保持一致
var relevantYoEAliases = [][2]string{
	{"relevant_education_years", "relevant_edu_yoe"},
	{"relevant_job_experience_years", "relevant_work_yoe"},
	{"total_relevant_experience_years", "relevant_total_yoe"},
}

var relevantYoEFields = []string{
	"relevant_education_years", "relevant_job_experience_years", "total_relevant_experience_years",
	"relevant_edu_yoe", "all_edu_yoe", "relevant_work_yoe", "all_work_yoe", "relevant_total_yoe", "all_total_yoe",
}

// ReconcileRelevantYoE 同步新旧字段，用学位映射校正教育年限（缺失或偏差超过 20%），再重算合计
func ReconcileRelevantYoE(raw map[string]any, educationStats map[string]any) map[string]any {
	vals := make(map[string]*float64, len(relevantYoEFields))
	for _, k := range relevantYoEFields {
		if f, ok := floatValue(raw[k]); ok {
			vals[k] = &f
		}
	}
	set := func(k string, v float64) { vals[k] = &v }

	for _, pair := range relevantYoEAliases {
		oldKey, newKey := pair[0], pair[1]
		switch {
		case vals[oldKey] != nil && vals[newKey] == nil:
			set(newKey, *vals[oldKey])
		case vals[newKey] != nil && vals[oldKey] == nil:
			set(oldKey, *vals[newKey])
		}
	}

	if mapped, level, ok := DegreeYears(educationStats); ok {
		if vals["all_edu_yoe"] == nil {
			set("all_edu_yoe", mapped)
		}
		current := vals["relevant_edu_yoe"]
		if current == nil || math.Abs(*current-mapped) > mapped*0.2 {
			logger.Debug().
				Str("plugin", RelevantYoE).
				Str("degree_level", level).
				Float64("mapped_years", mapped).
				Msg("按学位映射校正相关教育年限")
			set("relevant_education_years", mapped)
			set("relevant_edu_yoe", mapped)
		}
	}

	if edu, work := vals["relevant_edu_yoe"], vals["relevant_work_yoe"]; edu != nil && work != nil {
		total := *edu + *work
		set("relevant_total_yoe", total)
		set("total_relevant_experience_years", total)
	}
	if edu, work := vals["all_edu_yoe"], vals["all_work_yoe"]; edu != nil && work != nil {
		set("all_total_yoe", *edu+*work)
	}

	out := make(map[string]any, len(relevantYoEFields))
	for _, k := range relevantYoEFields {
		if v := vals[k]; v != nil {
			out[k] = *v
		} else {
			out[k] = nil
		}
	}
	return out
}

func nullableString(v any) any {
	s := strings.TrimSpace(stringValue(v))
	if s == "" {
		return nil
	}
	return s
}
