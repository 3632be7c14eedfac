package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"cvinsight/internal/types"
)

// CSV 列
const (
	ColFileName       = "filename"
	ColParsingStatus  = "parsing_status"
	ColError          = "error"
	ColProcessingTime = "processing_time"
)

// BaseColumns 固定在前面的列
var BaseColumns = []string{
	"name", "contact_number", "email", "skills", "educations", "work_experiences", "YoE",
	"file_name", "date_of_resume_submission", "job_description_provided", "total_relevant_yoe",
	"total_tokens", "token_usage_estimated",
}

// TrailingColumns 固定在最后的列
var TrailingColumns = []string{ColFileName, ColParsingStatus, ColError, ColProcessingTime}

// Flatten 把简历展开为一行 CSV。自定义插件的每个字段成为 <插件名>_<字段> 列。
func Flatten(r *types.Resume) map[string]string {
	row := map[string]string{
		"name":                      r.Name,
		"contact_number":            r.ContactNumber,
		"email":                     r.Email,
		"skills":                    strings.Join(r.Skills, ", "),
		"educations":                jsonString(r.Educations),
		"work_experiences":          jsonString(r.WorkExperiences),
		"YoE":                       r.YoE,
		"file_name":                 r.FileName,
		"date_of_resume_submission": r.DateOfResumeSubmission,
		"job_description_provided":  strconv.FormatBool(r.JobDescriptionProvided),
		"total_relevant_yoe":        cell(r.TotalRelevantYoE),
		"total_tokens":              strconv.Itoa(r.TokenUsage.TotalTokens),
		"token_usage_estimated":     strconv.FormatBool(r.TokenUsage.Estimated),
		ColFileName:                 r.FileName,
		ColParsingStatus:            string(types.StatusSuccess),
		ColProcessingTime:           strconv.FormatFloat(r.ProcessingTime, 'f', 2, 64),
	}
	if len(r.PluginErrors) > 0 {
		names := make([]string, 0, len(r.PluginErrors))
		for n := range r.PluginErrors {
			names = append(names, n)
		}
		sort.Strings(names)
		row[ColError] = "plugin failures: " + strings.Join(names, ", ")
	}

	for pluginName, data := range r.PluginData {
		for k, v := range data {
			row[pluginName+"_"+k] = cell(v)
		}
	}
	return row
}

// FailedRow 处理失败的文件
func FailedRow(fileName string, err error) map[string]string {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return map[string]string{
		ColFileName:      fileName,
		ColParsingStatus: string(types.StatusFailed),
		ColError:         msg,
	}
}

// Columns 所有行的列并集：基础列，插件列按名称排序，最后是状态列
func Columns(rows []map[string]string) []string {
	fixed := make(map[string]bool, len(BaseColumns)+len(TrailingColumns))
	for _, c := range BaseColumns {
		fixed[c] = true
	}
	for _, c := range TrailingColumns {
		fixed[c] = true
	}

	extra := map[string]bool{}
	for _, row := range rows {
		for k := range row {
			if !fixed[k] {
				extra[k] = true
			}
		}
	}
	pluginCols := make([]string, 0, len(extra))
	for k := range extra {
		pluginCols = append(pluginCols, k)
	}
	sort.Strings(pluginCols)

	cols := append([]string{}, BaseColumns...)
	cols = append(cols, pluginCols...)
	return append(cols, TrailingColumns...)
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *float64:
		if x == nil {
			return ""
		}
		return strconv.FormatFloat(*x, 'f', -1, 64)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case []string, []any, map[string]any:
		return jsonString(x)
	default:
		return fmt.Sprint(x)
	}
}

func jsonString(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
