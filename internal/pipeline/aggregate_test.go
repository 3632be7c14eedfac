package pipeline

import (
	"errors"
	"testing"
	"time"

	"cvinsight/internal/extractors"
	"cvinsight/internal/llm"
	"cvinsight/internal/plugin"

	"github.com/stretchr/testify/assert"
)

func TestAggregateWithFailures(t *testing.T) {
	res := &Result{
		Outputs: map[string]map[string]any{
			extractors.Profile:        {"name": nil, "email": "a@b.c"},
			extractors.Skills:         {},
			extractors.Social:         {"github_url": "https://github.com/x"},
			extractors.EducationStats: {},
		},
		Usage: map[string]llm.Usage{
			extractors.Profile:        {TotalTokens: 5, Source: llm.SourceEstimation, IsEstimated: true},
			extractors.EducationStats: llm.ErrorUsage(extractors.EducationStats),
		},
		Errors:  map[string]string{extractors.EducationStats: "timeout"},
		Elapsed: 1234 * time.Millisecond,
	}

	r := Aggregate(res, "cv.docx", plugin.Params{})
	assert.Equal(t, "", r.Name)
	assert.Equal(t, "a@b.c", r.Email)
	assert.NotNil(t, r.Skills)
	assert.Empty(t, r.Skills)
	assert.NotNil(t, r.WorkExperiences)
	assert.Nil(t, r.TotalRelevantYoE)
	assert.False(t, r.JobDescriptionProvided)
	assert.Equal(t, 1.23, r.ProcessingTime)
	assert.Equal(t, "timeout", r.PluginErrors[extractors.EducationStats])
	assert.Empty(t, r.PluginData[extractors.EducationStats])
	assert.True(t, r.TokenUsage.Estimated)
	assert.Equal(t, 1, r.TokenUsage.Failed)

	row := Flatten(r)
	assert.Equal(t, "https://github.com/x", row["social_extractor_github_url"])
	assert.Contains(t, row[ColError], extractors.EducationStats)
}

func TestAggregateIgnoresBadSubmissionDate(t *testing.T) {
	res := &Result{Outputs: map[string]map[string]any{
		extractors.Experience: {"work_experiences": []any{map[string]any{"company": "A", "end_date": "current"}}},
	}}
	r := Aggregate(res, "", plugin.Params{SubmissionDate: "01/02/2025"})
	assert.False(t, r.WorkExperiences[0].IsPresent)

	r = Aggregate(res, "", plugin.Params{SubmissionDate: "2025-02-01"})
	assert.True(t, r.WorkExperiences[0].IsPresent)
}

func TestColumns(t *testing.T) {
	rows := []map[string]string{
		{"name": "a", "social_extractor_email": "x", ColParsingStatus: "success"},
		FailedRow("b.pdf", errors.New("unsupported")),
		{"education_stats_extractor_highest_degree": "BS"},
	}
	cols := Columns(rows)
	assert.Equal(t, BaseColumns, cols[:len(BaseColumns)])
	assert.Equal(t, []string{"education_stats_extractor_highest_degree", "social_extractor_email"},
		cols[len(BaseColumns):len(BaseColumns)+2])
	assert.Equal(t, TrailingColumns, cols[len(cols)-len(TrailingColumns):])

	assert.Equal(t, "failed", rows[1][ColParsingStatus])
	assert.Equal(t, "unsupported", rows[1][ColError])
}

func TestCell(t *testing.T) {
	f := 2.5
	var nilF *float64
	assert.Equal(t, "2.5", cell(&f))
	assert.Equal(t, "", cell(nilF))
	assert.Equal(t, "", cell(nil))
	assert.Equal(t, `["a","b"]`, cell([]any{"a", "b"}))
	assert.Equal(t, "true", cell(true))
}
