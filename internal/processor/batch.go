package processor

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"cvinsight/internal/constants"
	"cvinsight/internal/llm"
	"cvinsight/internal/logger"
	"cvinsight/internal/parser"
	"cvinsight/internal/pipeline"
	"cvinsight/internal/plugin"
	"cvinsight/internal/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// 批处理默认值
const (
	DefaultBatchLimit   = 25
	DefaultBatchWorkers = 4
	FormatCSV           = "csv"
	FormatJSON          = "json"
)

// FileProcessor 处理单个文件，*ResumeProcessor 实现它
type FileProcessor interface {
	ProcessFile(ctx context.Context, path string, params plugin.Params) (*types.Resume, error)
}

// BatchOptions 批处理参数
type BatchOptions struct {
	InputDir  string
	OutputDir string
	// Limit 最多处理的文件数，<=0 时为 25
	Limit int
	// All 为 true 时忽略 Limit
	All        bool
	Format     string
	MaxWorkers int
	Params     plugin.Params
	// AllowedExtensions 为空时使用 parser.DefaultAllowedExtensions
	AllowedExtensions []string
}

// FileOutcome 单个文件的结果，Resume 和 Err 只有一个非空
type FileOutcome struct {
	Path    string
	Resume  *types.Resume
	Err     error
	Elapsed time.Duration
}

// BatchMetrics 写入 processing_metrics.json
type BatchMetrics struct {
	RunID               string         `json:"run_id"`
	StartedAt           time.Time      `json:"started_at"`
	FinishedAt          time.Time      `json:"finished_at"`
	TotalResumes        int            `json:"total_resumes"`
	SuccessfulParses    int            `json:"successful_parses"`
	FailedParses        int            `json:"failed_parses"`
	SuccessRate         float64        `json:"success_rate"`
	ProcessingTime      float64        `json:"processing_time"`
	AvgTimePerResume    float64        `json:"avg_time_per_resume"`
	MaxWorkers          int            `json:"max_workers"`
	TokenUsage          llm.Summary    `json:"token_usage"`
	FailedFiles         []string       `json:"failed_files,omitempty"`
	PluginFailureCounts map[string]int `json:"plugin_failure_counts,omitempty"`
}

// BatchReport Run 的返回值
type BatchReport struct {
	Outcomes    []FileOutcome
	Metrics     BatchMetrics
	OutputFiles []string
}

// BatchRunner 并发处理一个目录下的简历
type BatchRunner struct {
	proc FileProcessor
	opts BatchOptions
	log  zerolog.Logger
}

// NewBatchRunner 创建批处理器
func NewBatchRunner(proc FileProcessor, opts BatchOptions) *BatchRunner {
	if opts.Limit <= 0 {
		opts.Limit = DefaultBatchLimit
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultBatchWorkers
	}
	if opts.Format == "" {
		opts.Format = FormatCSV
	}
	if len(opts.AllowedExtensions) == 0 {
		opts.AllowedExtensions = parser.DefaultAllowedExtensions
	}
	return &BatchRunner{proc: proc, opts: opts, log: logger.Named("batch")}
}

// ListFiles 按文件名排序返回待处理的文件，受 Limit/All 约束
func (b *BatchRunner) ListFiles() ([]string, error) {
	entries, err := os.ReadDir(b.opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("读取输入目录失败: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if parser.CheckExtension(e.Name(), b.opts.AllowedExtensions) != nil {
			continue
		}
		files = append(files, filepath.Join(b.opts.InputDir, e.Name()))
	}
	slices.Sort(files)
	if !b.opts.All && len(files) > b.opts.Limit {
		files = files[:b.opts.Limit]
	}
	return files, nil
}

// Run 处理所有文件并写出结果和指标。单个文件失败不会中断批处理。
func (b *BatchRunner) Run(ctx context.Context) (*BatchReport, error) {
	switch b.opts.Format {
	case FormatCSV, FormatJSON:
	default:
		return nil, fmt.Errorf("不支持的输出格式: %s", b.opts.Format)
	}

	files, err := b.ListFiles()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(b.opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	report := &BatchReport{Outcomes: make([]FileOutcome, len(files))}
	started := time.Now()
	b.log.Info().Int("files", len(files)).Int("workers", b.opts.MaxWorkers).Str("dir", b.opts.InputDir).Msg("开始批量解析")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.MaxWorkers)
	for i, path := range files {
		g.Go(func() error {
			t0 := time.Now()
			resume, err := b.proc.ProcessFile(gctx, path, b.opts.Params)
			out := FileOutcome{Path: path, Resume: resume, Err: err, Elapsed: time.Since(t0)}
			if err != nil {
				b.log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("简历解析失败")
			} else {
				b.log.Debug().Str("file", filepath.Base(path)).Dur("elapsed", out.Elapsed).Msg("简历解析成功")
			}
			report.Outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	report.Metrics = b.buildMetrics(report.Outcomes, started, time.Now())

	if b.opts.Format == FormatCSV {
		path := filepath.Join(b.opts.OutputDir, constants.CSVResultsFile)
		if err := WriteCSV(path, report.Outcomes); err != nil {
			return report, err
		}
		report.OutputFiles = append(report.OutputFiles, path)
	} else {
		paths, err := WriteJSONResults(b.opts.OutputDir, report.Outcomes)
		report.OutputFiles = append(report.OutputFiles, paths...)
		if err != nil {
			return report, err
		}
	}

	metricsPath := filepath.Join(b.opts.OutputDir, constants.MetricsFile)
	if err := writeJSONFile(metricsPath, report.Metrics); err != nil {
		return report, err
	}
	report.OutputFiles = append(report.OutputFiles, metricsPath)

	b.logSummary(report.Metrics)
	return report, ctx.Err()
}

func (b *BatchRunner) buildMetrics(outcomes []FileOutcome, started, finished time.Time) BatchMetrics {
	m := BatchMetrics{
		RunID:        uuid.NewString(),
		StartedAt:    started,
		FinishedAt:   finished,
		TotalResumes: len(outcomes),
		MaxWorkers:   b.opts.MaxWorkers,
		TokenUsage:   llm.Summary{ByExtractor: map[string]llm.Usage{}},
	}
	for _, o := range outcomes {
		if o.Err != nil {
			m.FailedParses++
			m.FailedFiles = append(m.FailedFiles, filepath.Base(o.Path))
			continue
		}
		m.SuccessfulParses++
		m.TokenUsage.Add(o.Resume.TokenUsage)
		for name := range o.Resume.PluginErrors {
			if m.PluginFailureCounts == nil {
				m.PluginFailureCounts = make(map[string]int)
			}
			m.PluginFailureCounts[name]++
		}
	}
	m.ProcessingTime = pipeline.RoundSeconds(finished.Sub(started))
	if m.TotalResumes > 0 {
		m.SuccessRate = float64(m.SuccessfulParses) / float64(m.TotalResumes) * 100
		m.AvgTimePerResume = pipeline.RoundSeconds(finished.Sub(started) / time.Duration(m.TotalResumes))
	}
	return m
}

func (b *BatchRunner) logSummary(m BatchMetrics) {
	b.log.Info().
		Str("run_id", m.RunID).
		Int("total", m.TotalResumes).
		Int("successful", m.SuccessfulParses).
		Int("failed", m.FailedParses).
		Float64("success_rate", m.SuccessRate).
		Float64("processing_time", m.ProcessingTime).
		Float64("avg_time_per_resume", m.AvgTimePerResume).
		Int("total_tokens", m.TokenUsage.TotalTokens).
		Bool("tokens_estimated", m.TokenUsage.Estimated).
		Msg("批量解析完成")
}

// Rows 把结果展开为 CSV 行，失败的文件 parsing_status 为 failed
func Rows(outcomes []FileOutcome) []map[string]string {
	rows := make([]map[string]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			row := pipeline.FailedRow(filepath.Base(o.Path), o.Err)
			row[pipeline.ColProcessingTime] = fmt.Sprintf("%.2f", o.Elapsed.Seconds())
			rows = append(rows, row)
			continue
		}
		rows = append(rows, pipeline.Flatten(o.Resume))
	}
	return rows
}

// WriteCSV 写出 resume_analysis_results.csv
func WriteCSV(path string, outcomes []FileOutcome) error {
	rows := Rows(outcomes)
	cols := pipeline.Columns(rows)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建CSV文件失败: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(cols); err != nil {
		return fmt.Errorf("写入CSV表头失败: %w", err)
	}
	record := make([]string, len(cols))
	for _, row := range rows {
		for i, c := range cols {
			record[i] = row[c]
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("写入CSV行失败: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("写入CSV失败: %w", err)
	}
	return nil
}

// WriteJSONResults 每份成功的简历写一个 <文件名含扩展名>.json，alice.pdf 和 alice.docx 不会互相覆盖
func WriteJSONResults(dir string, outcomes []FileOutcome) ([]string, error) {
	var paths []string
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		path := filepath.Join(dir, filepath.Base(o.Path)+".json")
		if err := writeJSONFile(path, o.Resume); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化 %s 失败: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", path, err)
	}
	return nil
}
