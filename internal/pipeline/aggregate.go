package pipeline

import (
	"encoding/json"
	"math"
	"path/filepath"
	"strings"
	"time"

	"cvinsight/internal/extractors"
	"cvinsight/internal/llm"
	"cvinsight/internal/plugin"
	"cvinsight/internal/types"
)

// 这些插件的结果放在简历的顶层字段，其余插件进入 plugin_data
var topLevelPlugins = map[string]bool{
	extractors.Profile:    true,
	extractors.Skills:     true,
	extractors.Education:  true,
	extractors.Experience: true,
	extractors.YoE:        true,
}

// Aggregate 把插件输出合并为一份简历
func Aggregate(res *Result, fileName string, params plugin.Params) *types.Resume {
	name := ""
	if fileName != "" {
		name = filepath.Base(fileName)
	}
	r := &types.Resume{
		Skills:                 []string{},
		Educations:             []types.Education{},
		WorkExperiences:        []types.WorkExperience{},
		FileName:               name,
		DateOfResumeSubmission: params.SubmissionDate,
		JobDescriptionProvided: strings.TrimSpace(params.JobDescription) != "",
		PluginData:             make(map[string]map[string]any),
	}
	if res == nil {
		r.TokenUsage = llm.Summarize(nil)
		return r
	}

	profile := res.Outputs[extractors.Profile]
	r.Name = str(profile["name"])
	r.ContactNumber = str(profile["contact_number"])
	r.Email = str(profile["email"])

	if skills, ok := res.Outputs[extractors.Skills]["skills"]; ok {
		decodeInto(skills, &r.Skills)
	}
	if edus, ok := res.Outputs[extractors.Education]["educations"]; ok {
		decodeInto(edus, &r.Educations)
	}
	if exps, ok := res.Outputs[extractors.Experience]["work_experiences"]; ok {
		decodeInto(exps, &r.WorkExperiences)
	}
	r.YoE = str(res.Outputs[extractors.YoE]["YoE"])
	if r.Skills == nil {
		r.Skills = []string{}
	}
	if r.Educations == nil {
		r.Educations = []types.Education{}
	}
	if r.WorkExperiences == nil {
		r.WorkExperiences = []types.WorkExperience{}
	}

	for name, out := range res.Outputs {
		if topLevelPlugins[name] {
			continue
		}
		r.PluginData[name] = out
	}

	if ext, ok := res.Outputs[extractors.ExtendedAnalysis]; ok {
		w, wok := ext["relevant_wyoe"].(float64)
		e, eok := ext["relevant_eyoe"].(float64)
		if wok && eok {
			total := w + e
			r.TotalRelevantYoE = &total
		}
	}

	markPresentPositions(r.WorkExperiences, params.SubmissionDate)

	if len(res.Errors) > 0 {
		r.PluginErrors = make(map[string]string, len(res.Errors))
		for k, v := range res.Errors {
			r.PluginErrors[k] = v
		}
	}
	r.TokenUsage = llm.Summarize(res.Usage)
	r.ProcessingTime = RoundSeconds(res.Elapsed)
	return r
}

// markPresentPositions end_date 为 present/current 的经历以投递日期作为结束日
func markPresentPositions(exps []types.WorkExperience, submissionDate string) {
	if submissionDate == "" {
		return
	}
	d, err := time.Parse(extractors.SubmissionDateLayout, submissionDate)
	if err != nil {
		return
	}
	for i := range exps {
		if extractors.IsPresent(exps[i].EndDate) {
			exps[i].CalculatedEndDate = d.Format(extractors.SubmissionDateLayout)
			exps[i].IsPresent = true
		}
	}
}

// RoundSeconds 秒数保留两位小数
func RoundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// decodeInto 插件输出是 map/slice，经过一次 JSON 转成具体类型
func decodeInto(v any, out any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = json.Unmarshal(raw, out)
}
