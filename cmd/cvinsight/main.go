// Command cvinsight 简历解析命令行：单文件解析、批处理、HTTP 服务和队列 worker。
package main

import (
	"fmt"
	"os"
	"strings"

	"cvinsight/pkg/utils"
)

var (
	version     = "1.0.0"     //nolint:gochecknoglobals
	serviceName = "cvinsight" //nolint:gochecknoglobals
)

type command struct {
	usage string
	run   func(args []string) error
}

var commands = map[string]command{
	"parse":       {"解析单个简历文件", runParse},
	"batch":       {"批量解析目录下的简历，输出 CSV 或 JSON", runBatch},
	"serve":       {"启动 HTTP 服务", runServe},
	"worker":      {"消费 RabbitMQ 中的异步解析任务", runWorker},
	"plugins":     {"列出插件和执行阶段", runPlugins},
	"init-config": {"生成示例配置文件", runInitConfig},
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	name := os.Args[1]
	switch name {
	case "-h", "--help", "help":
		printUsage()
		return
	case "-v", "--version", "version":
		fmt.Printf("%s %s\n", serviceName, version)
		return
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "错误: 未知命令 '%s'\n\n", name)
		printUsage()
		os.Exit(2)
	}
	exitOnError(cmd.run(os.Args[2:]))
}

func printUsage() {
	var b strings.Builder
	fmt.Fprintf(&b, "用法: %s <命令> [参数]\n\n命令:\n", serviceName)
	for _, n := range utils.SortedKeys(commands) {
		fmt.Fprintf(&b, "  %-12s %s\n", n, commands[n].usage)
	}
	fmt.Fprintf(&b, "\n使用 '%s <命令> --help' 查看命令参数\n", serviceName)
	fmt.Fprint(os.Stderr, b.String())
}
