package processor

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cvinsight/internal/constants"
	"cvinsight/internal/llm"
	"cvinsight/internal/plugin"
	"cvinsight/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFileProcessor 文件名含 bad 的返回错误
type fakeFileProcessor struct{}

func (fakeFileProcessor) ProcessFile(_ context.Context, path string, params plugin.Params) (*types.Resume, error) {
	name := filepath.Base(path)
	if strings.Contains(name, "bad") {
		return nil, errors.New("extract failed")
	}
	return &types.Resume{
		Name:     strings.TrimSuffix(name, filepath.Ext(name)),
		Skills:   []string{"Go"},
		FileName: name,
		PluginData: map[string]map[string]any{
			"relevant_yoe_extractor": {"total_relevant_yoe": 2.5},
		},
		TokenUsage: llm.Summarize(map[string]llm.Usage{
			"skills_extractor": {TotalTokens: 10, PromptTokens: 7, CompletionTokens: 3},
		}),
		ProcessingTime: 0.5,
	}, nil
}

func setupResumeDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("resume"), 0o644))
	}
	return dir
}

func TestListFilesSortedAndLimited(t *testing.T) {
	dir := setupResumeDir(t, "c.pdf", "a.txt", "b.docx", "notes.md", ".hidden.pdf")

	b := NewBatchRunner(fakeFileProcessor{}, BatchOptions{InputDir: dir, Limit: 2})
	files, err := b.ListFiles()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", filepath.Base(files[0]))
	assert.Equal(t, "b.docx", filepath.Base(files[1]))

	b = NewBatchRunner(fakeFileProcessor{}, BatchOptions{InputDir: dir, Limit: 1, All: true})
	files, err = b.ListFiles()
	require.NoError(t, err)
	assert.Len(t, files, 3, "all 忽略 limit，非简历格式被过滤")

	b = NewBatchRunner(fakeFileProcessor{}, BatchOptions{InputDir: dir})
	assert.Equal(t, DefaultBatchLimit, b.opts.Limit)
	assert.Equal(t, DefaultBatchWorkers, b.opts.MaxWorkers)
}

func TestBatchRunWritesCSVAndMetrics(t *testing.T) {
	in := setupResumeDir(t, "alice.pdf", "bad_scan.pdf", "bob.txt")
	out := filepath.Join(t.TempDir(), "Results")

	b := NewBatchRunner(fakeFileProcessor{}, BatchOptions{InputDir: in, OutputDir: out, MaxWorkers: 2})
	report, err := b.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, "alice.pdf", filepath.Base(report.Outcomes[0].Path), "结果保持文件排序")

	f, err := os.Open(filepath.Join(out, constants.CSVResultsFile))
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4, "表头加三行")

	header := records[0]
	idx := func(col string) int {
		for i, h := range header {
			if h == col {
				return i
			}
		}
		t.Fatalf("缺少列 %s", col)
		return -1
	}
	assert.Equal(t, "name", header[0])
	assert.Equal(t, "processing_time", header[len(header)-1])
	assert.Equal(t, "success", records[1][idx("parsing_status")])
	assert.Equal(t, "failed", records[2][idx("parsing_status")])
	assert.Equal(t, "extract failed", records[2][idx("error")])
	assert.Equal(t, "2.5", records[1][idx("relevant_yoe_extractor_total_relevant_yoe")])

	var metrics BatchMetrics
	data, err := os.ReadFile(filepath.Join(out, constants.MetricsFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &metrics))
	assert.Equal(t, 3, metrics.TotalResumes)
	assert.Equal(t, 2, metrics.SuccessfulParses)
	assert.Equal(t, 1, metrics.FailedParses)
	assert.InDelta(t, 66.67, metrics.SuccessRate, 0.01)
	assert.Equal(t, 20, metrics.TokenUsage.TotalTokens)
	assert.Equal(t, []string{"bad_scan.pdf"}, metrics.FailedFiles)
	assert.NotEmpty(t, metrics.RunID)
}

func TestBatchRunJSONFormat(t *testing.T) {
	in := setupResumeDir(t, "alice.pdf", "alice.docx", "bad.pdf", "processing_metrics.txt")
	out := t.TempDir()

	b := NewBatchRunner(fakeFileProcessor{}, BatchOptions{InputDir: in, OutputDir: out, Format: FormatJSON, All: true})
	report, err := b.Run(context.Background())
	require.NoError(t, err)

	// 同名不同扩展名的简历各自一份结果
	assert.FileExists(t, filepath.Join(out, "alice.pdf.json"))
	assert.FileExists(t, filepath.Join(out, "alice.docx.json"))
	assert.FileExists(t, filepath.Join(out, "processing_metrics.txt.json"))
	assert.NoFileExists(t, filepath.Join(out, "bad.pdf.json"), "失败的文件不写 JSON")
	assert.Len(t, report.OutputFiles, 4)

	var metrics BatchMetrics
	data, err := os.ReadFile(filepath.Join(out, constants.MetricsFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &metrics), "指标文件不能被简历结果覆盖")
	assert.NoFileExists(t, filepath.Join(out, constants.CSVResultsFile))
	assert.Contains(t, report.OutputFiles, filepath.Join(out, constants.MetricsFile))
}

func TestBatchRunRejectsUnknownFormat(t *testing.T) {
	b := NewBatchRunner(fakeFileProcessor{}, BatchOptions{InputDir: t.TempDir(), OutputDir: t.TempDir(), Format: "xml"})
	_, err := b.Run(context.Background())
	assert.Error(t, err)

	b = NewBatchRunner(fakeFileProcessor{}, BatchOptions{InputDir: filepath.Join(t.TempDir(), "nope")})
	_, err = b.Run(context.Background())
	assert.Error(t, err, "输入目录不存在")
}
