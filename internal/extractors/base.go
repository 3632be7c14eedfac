package extractors

import (
	"strings"

	"cvinsight/internal/plugin"
)

type profileOutput struct {
	Name          *string `json:"name" description:"Name of the candidate."`
	ContactNumber *string `json:"contact_number" description:"10 digit phone number without the country code."`
	Email         *string `json:"email" description:"A valid email address."`
}

type skillsOutput struct {
	Skills []string `json:"skills" description:"A list of skills extracted from the resume text."`
}

type educationEntry struct {
	Institution string `json:"institution"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Location    string `json:"location"`
	Degree      string `json:"degree"`
}

type educationOutput struct {
	Educations []educationEntry `json:"educations"`
}

type workEntry struct {
	Company   string `json:"company"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Location  string `json:"location"`
	Role      string `json:"role"`
}

type experienceOutput struct {
	WorkExperiences []workEntry `json:"work_experiences"`
}

type workDatesOutput struct {
	OldestWorkingDate *string `json:"oldest_working_date" description:"The oldest working date from the resume in dd/mm/yyyy format."`
	NewestWorkingDate *string `json:"newest_working_date" description:"The newest working date from the resume in dd/mm/yyyy format (the end date of last company)"`
}

const profileTemplate = `You are an expert resume parser. Your task is to extract the contact information from the resume text provided below. Specifically, extract the following details:
- Name: Name of the candidate.
- Contact Number: A 10 digit phone number that may include the country code +91 (with or without spaces/dashes). Don't extract the country code.
- Email: A valid email address.

If any of the name, contact number or email is not present in the resume, return null for that field.

Return your output as a JSON object with the below schema.
{format_instructions}

Text:
{text}`

const skillsTemplate = `You are an assistant that extracts a list of skills mentioned in the text below. Only focus on Skills section of the below text.

Return your output as a JSON object with the below schema.
{format_instructions}

Text:
{text}`

const educationTemplate = `You are an expert resume parser. Your task is to extract education details from the resume text provided below. For each education entry, extract the following details:
- College/School (output as "institution")
- Start Date: If mentioned, convert it into the dd/mm/yyyy format. If the day is missing, default it to "01". If the month is missing, default it to "06". If no start date is mentioned, return null. If you encounter Present then use the current date, i.e. {today}.
- End Date: If mentioned, convert it into the dd/mm/yyyy format. If the day is missing, default it to "01". If the month is missing, default it to "06". If no end date is mentioned, return null. If you encounter Present then use the current date, i.e. {today}.
- Location
- Degree

Only focus on Education section of the below text. If you cannot find anything, return null.

Return your output as a JSON object with the below schema.
{format_instructions}

Text:
{text}`

const experienceTemplate = `You are an expert resume parser. Your task is to extract work experience details from the resume text provided below. For each work experience entry, extract the following details:
- Company
- Start Date: in dd/mm/yyyy format. If the resume does not provide the day or month, default the missing parts to "01". If you encounter Present then use the current date, i.e. {today}.
- End Date: in dd/mm/yyyy format. If the resume does not provide the day or month, default the missing parts to "01". If you encounter Present then use the current date, i.e. {today}.
- Location
- Role

Only focus on Work Experience section of the below text. If you cannot find anything, return null.

Return your output as a JSON object with the below schema.
{format_instructions}

Text:
{text}`

const yoeTemplate = `You are a resume analysis assistant. Your task is to extract the oldest working date and the newest working date (the end date of the last company) from the "Work Experience" section of a candidate's resume. Follow these guidelines:
- Dates must be in the format dd/mm/yyyy. If the day is missing, use "01".
- Only consider dates found in the "Work Experience" section.
- If no such section or dates exist, return null for both values.

Return your output as a JSON object with the keys "oldest_working_date" and "newest_working_date".
{format_instructions}

Current date: {month}, {year}

Resume Text:
{text}`

// NewProfileExtractor 姓名、电话、邮箱
func NewProfileExtractor(src plugin.Source) *plugin.LLMExtractor {
	return plugin.NewLLMExtractor(src, plugin.LLMExtractorConfig{
		Metadata: plugin.Metadata{
			Name:        Profile,
			Description: "Extracts the candidate's name, contact number and email.",
			Category:    plugin.CategoryBase,
			Author:      baseAuthor,
		},
		Template:    profileTemplate,
		OutputModel: profileOutput{},
		Process: func(raw map[string]any, _ plugin.Input) (map[string]any, error) {
			out := map[string]any{}
			for _, k := range []string{"name", "contact_number", "email"} {
				v, ok := raw[k]
				if !ok || v == nil {
					out[k] = nil
					continue
				}
				out[k] = strings.TrimSpace(stringValue(v))
			}
			return out, nil
		},
	})
}

// NewSkillsExtractor 技能列表
func NewSkillsExtractor(src plugin.Source) *plugin.LLMExtractor {
	return plugin.NewLLMExtractor(src, plugin.LLMExtractorConfig{
		Metadata: plugin.Metadata{
			Name:        Skills,
			Description: "Extracts the list of skills from the skills section.",
			Category:    plugin.CategoryBase,
			Author:      baseAuthor,
		},
		Template:    skillsTemplate,
		OutputModel: skillsOutput{},
		Process: func(raw map[string]any, _ plugin.Input) (map[string]any, error) {
			return map[string]any{"skills": stringList(raw["skills"])}, nil
		},
	})
}

// NewEducationExtractor 教育经历
func NewEducationExtractor(src plugin.Source, opts Options) *plugin.LLMExtractor {
	return plugin.NewLLMExtractor(src, plugin.LLMExtractorConfig{
		Metadata: plugin.Metadata{
			Name:        Education,
			Description: "Extracts education entries with institution, dates, location and degree.",
			Category:    plugin.CategoryBase,
			Author:      baseAuthor,
		},
		Template:    educationTemplate,
		Variables:   []string{"text", "today"},
		OutputModel: educationOutput{},
		Prepare: func(_ plugin.Input, text string) map[string]any {
			return map[string]any{"text": text, "today": opts.now().Format(SubmissionDateLayout)}
		},
		Process: func(raw map[string]any, _ plugin.Input) (map[string]any, error) {
			return map[string]any{"educations": listOfMaps(raw["educations"])}, nil
		},
	})
}

// NewExperienceExtractor 工作经历，缺失字段填默认值
func NewExperienceExtractor(src plugin.Source, opts Options) *plugin.LLMExtractor {
	return plugin.NewLLMExtractor(src, plugin.LLMExtractorConfig{
		Metadata: plugin.Metadata{
			Name:        Experience,
			Description: "Extracts work experience entries with company, dates, location and role.",
			Category:    plugin.CategoryBase,
			Author:      baseAuthor,
		},
		Template:    experienceTemplate,
		Variables:   []string{"text", "today"},
		OutputModel: experienceOutput{},
		Prepare: func(_ plugin.Input, text string) map[string]any {
			return map[string]any{"text": text, "today": opts.now().Format(SubmissionDateLayout)}
		},
		Process: func(raw map[string]any, _ plugin.Input) (map[string]any, error) {
			entries := listOfMaps(raw["work_experiences"])
			for _, exp := range entries {
				exp["company"] = orDefault(exp["company"], "Unknown Company")
				exp["start_date"] = orDefault(exp["start_date"], "")
				exp["end_date"] = orDefault(exp["end_date"], "")
				exp["location"] = orDefault(exp["location"], "Not specified")
				exp["role"] = orDefault(exp["role"], "Unknown Role")
			}
			return map[string]any{"work_experiences": entries}, nil
		},
	})
}

// NewYoEExtractor 根据最早和最近的工作日期计算工作年限，输入为 experience_extractor 的结果
func NewYoEExtractor(src plugin.Source, opts Options) *plugin.LLMExtractor {
	return plugin.NewLLMExtractor(src, plugin.LLMExtractorConfig{
		Metadata: plugin.Metadata{
			Name:        YoE,
			Description: "Calculates total years of experience from the oldest and newest working dates.",
			Category:    plugin.CategoryBase,
			Author:      baseAuthor,
		},
		Template:     yoeTemplate,
		Variables:    []string{"text", "month", "year"},
		Dependencies: []string{Experience},
		TextFrom:     Experience,
		OutputModel:  workDatesOutput{},
		Prepare: func(_ plugin.Input, text string) map[string]any {
			now := opts.now()
			return map[string]any{"text": text, "month": now.Month().String(), "year": now.Year()}
		},
		Process: func(raw map[string]any, _ plugin.Input) (map[string]any, error) {
			yoe := CalculateExperience(stringValue(raw["oldest_working_date"]), stringValue(raw["newest_working_date"]))
			return map[string]any{"YoE": yoe}, nil
		},
	})
}
