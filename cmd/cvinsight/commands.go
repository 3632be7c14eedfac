package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"cvinsight/internal/config"
	"cvinsight/internal/processor"

	"github.com/spf13/pflag"
)

func newFlagSet(name string) (*pflag.FlagSet, *commonFlags) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	common := &commonFlags{}
	common.register(fs)
	return fs, common
}

// parseFlags 遇到 --help 时打印用法后直接退出
func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		return err
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runParse(args []string) error {
	fs, common := newFlagSet("parse")
	output := fs.StringP("output", "o", "", "结果 JSON 写入的文件，为空时输出到标准输出")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "用法: %s parse [参数] <简历文件>\n\n", serviceName)
		fs.PrintDefaults()
	}
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("需要且只需要一个简历文件")
	}

	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{withLLM: true, withStorage: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	resume, err := a.processor.ProcessFile(ctx, fs.Arg(0), common.params())
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(resume, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}
	if *output == "" {
		_, err = fmt.Fprintln(os.Stdout, string(data))
		return err
	}
	if dir := filepath.Dir(*output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建输出目录失败: %w", err)
		}
	}
	if err := os.WriteFile(*output, data, 0o644); err != nil {
		return fmt.Errorf("写入结果失败: %w", err)
	}
	fmt.Fprintf(os.Stderr, "结果已写入 %s (tokens: %d)\n", *output, resume.TokenUsage.TotalTokens)
	return nil
}

func runBatch(args []string) error {
	fs, common := newFlagSet("batch")
	dir := fs.StringP("dir", "d", "", "简历目录，默认取配置 batch.input_dir")
	output := fs.StringP("output", "o", "", "输出目录，默认取配置 batch.output_dir")
	limit := fs.IntP("limit", "n", 0, "最多处理的文件数")
	all := fs.Bool("all", false, "处理目录下的全部文件，忽略 --limit")
	format := fs.StringP("format", "f", "", "输出格式: csv 或 json")
	workers := fs.IntP("workers", "w", 0, "并发处理的简历数")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}
	if *dir != "" {
		cfg.Batch.InputDir = *dir
	}
	if *output != "" {
		cfg.Batch.OutputDir = *output
	}
	if fs.Changed("limit") {
		cfg.Batch.Limit = *limit
	}
	if *all {
		cfg.Batch.All = true
	}
	if *format != "" {
		cfg.Batch.Format = strings.ToLower(*format)
	}
	if *workers > 0 {
		cfg.Batch.MaxWorkers = *workers
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{withLLM: true, withStorage: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	runner := processor.NewBatchRunner(a.processor, processor.BatchOptions{
		InputDir:          cfg.Batch.InputDir,
		OutputDir:         cfg.Batch.OutputDir,
		Limit:             cfg.Batch.Limit,
		All:               cfg.Batch.All,
		Format:            cfg.Batch.Format,
		MaxWorkers:        cfg.Batch.MaxWorkers,
		Params:            common.params(),
		AllowedExtensions: cfg.Files.AllowedExtensions,
	})
	report, err := runner.Run(ctx)
	if report != nil {
		printBatchSummary(report)
	}
	return err
}

func printBatchSummary(r *processor.BatchReport) {
	m := r.Metrics
	fmt.Printf("处理完成: %d 份简历, 成功 %d, 失败 %d (%.1f%%)\n",
		m.TotalResumes, m.SuccessfulParses, m.FailedParses, m.SuccessRate)
	fmt.Printf("总耗时 %.2fs, 平均 %.2fs/份, 并发 %d\n", m.ProcessingTime, m.AvgTimePerResume, m.MaxWorkers)
	estimated := ""
	if m.TokenUsage.Estimated {
		estimated = " (含估算)"
	}
	fmt.Printf("Token: prompt %d, completion %d, total %d%s\n",
		m.TokenUsage.PromptTokens, m.TokenUsage.CompletionTokens, m.TokenUsage.TotalTokens, estimated)
	for _, f := range m.FailedFiles {
		fmt.Printf("  失败: %s\n", f)
	}
	for _, p := range r.OutputFiles {
		fmt.Printf("  输出: %s\n", p)
	}
}

func runPlugins(args []string) error {
	fs, common := newFlagSet("plugins")
	asJSON := fs.Bool("json", false, "以 JSON 输出")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}
	// 只读元数据，日志降到 warn 避免干扰输出
	if common.logLevel == "" {
		cfg.Logger.Level = "warn"
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"plugins": a.registry.Metadata(),
			"phases":  a.pipeline.Phases(),
		})
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tVERSION\tDESCRIPTION")
	for _, md := range a.registry.Metadata() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", md.Name, md.Category, md.Version, md.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Println()
	for i, phase := range a.pipeline.Phases() {
		fmt.Printf("阶段 %d: %s\n", i+1, strings.Join(phase, ", "))
	}
	return nil
}

func runInitConfig(args []string) error {
	fs := pflag.NewFlagSet("init-config", pflag.ContinueOnError)
	output := fs.StringP("output", "o", "config.yaml", "写入路径")
	force := fs.Bool("force", false, "覆盖已存在的文件")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if _, err := os.Stat(*output); err == nil {
		if !*force {
			return fmt.Errorf("%s 已存在，使用 --force 覆盖", *output)
		}
		if err := os.Remove(*output); err != nil {
			return err
		}
	}
	if err := config.WriteSampleConfig(*output); err != nil {
		return err
	}
	fmt.Printf("示例配置已写入 %s\n", *output)
	return nil
}
