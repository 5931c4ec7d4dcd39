package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RecoveryAshes/ExoStore/internal/core"
	"github.com/RecoveryAshes/ExoStore/internal/utils"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	logLevel   string
	noColor    bool
	headers    []string
	mergeCSV   bool

	// 运行参数
	inputFile    string
	partialDir   string
	csvFile      string
	sqliteFile   string
	strategy     string
	resolverMode string
	batchSize    int
	resume       bool
	headless     bool
	noMerge      bool
)

// appConfig 由 PersistentPreRunE 加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "exostore",
	Short: "成就目录的商店数据补全工具",
	Long: `ExoStore - 为成就目录补全Microsoft Store链接、价格和状态

对输入文件中的每个条目:
  • 打开成就页面,解析Microsoft Store链接和商品ID
  • 通过商品API (api) 或商店页面按钮 (dom) 获取价格
  • 判断商业状态 (regular/sale/free/pre-order/delisted/...)
  • 每N个条目写出一个批次文件,中断后可用 --resume 继续
  • 最后合并为CSV报告

示例:
  # 完整运行 (抓取 + 合并)
  exostore --input game_data_with_details.json

  # 只合并已有的批次文件
  exostore --merge-csv
  exostore merge

  # 浏览器打开商店页面读取购买按钮
  exostore run --strategy dom --headless=false

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		overrides := core.CLIOverrides{
			EntriesFile: inputFile,
			PartialDir:  partialDir,
			CSVFile:     csvFile,
			SQLiteFile:  sqliteFile,
			Strategy:    strategy,
			Resolver:    resolverMode,
			BatchSize:   batchSize,
			Resume:      resume,
			LogLevel:    logLevel,
		}
		if f := cmd.Flags().Lookup("headless"); f != nil && f.Changed {
			overrides.Headless = &headless
		}
		config.MergeCLIFlags(overrides)

		logConfig := utils.LogConfig{
			Level:      config.Logging.Level,
			LogDir:     config.Logging.LogDir,
			MaxSize:    config.Logging.Rotation.MaxSize,
			MaxBackups: config.Logging.Rotation.MaxBackups,
			MaxAge:     config.Logging.Rotation.MaxAge,
			Compress:   config.Logging.Rotation.Compress,
			NoColor:    noColor || os.Getenv("NO_COLOR") != "",
		}
		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		if config.ConfigFile != "" {
			utils.Debugf("使用配置文件: %s", config.ConfigFile)
		}
		if err := config.Validate(); err != nil {
			return err
		}

		appConfig = config
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if mergeCSV {
			return runMerge(cmd.Context())
		}
		return runEnrich(cmd.Context(), true)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "处理输入文件中的条目",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnrich(cmd.Context(), !noMerge)
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "合并批次文件为CSV报告 (不抓取)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMerge(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ExoStore %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func runEnrich(ctx context.Context, merge bool) error {
	if err := ValidateRunConfig(appConfig); err != nil {
		return err
	}

	headerManager, err := core.NewHeaderManager(appConfig.HTTP.Headers, headers)
	if err != nil {
		return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}
	utils.Debugf("HTTP头部: %v", headerManager.GetSafeHeaders())

	report, err := core.NewRunner(appConfig, headerManager).Run(ctx, merge)
	if err != nil {
		return fmt.Errorf("运行 %s 失败: %w", report.RunID, err)
	}

	utils.Info("✨ 运行完成!")
	return nil
}

func runMerge(ctx context.Context) error {
	if _, err := core.RunMerge(ctx, appConfig); err != nil {
		return err
	}
	return nil
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "控制台日志不使用颜色")
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.PersistentFlags().StringVar(&partialDir, "partial-dir", "", "批次文件目录")
	rootCmd.PersistentFlags().StringVarP(&csvFile, "output", "o", "", "CSV报告路径")
	rootCmd.PersistentFlags().StringVar(&sqliteFile, "sqlite", "", "同时写出SQLite数据库")

	rootCmd.Flags().BoolVar(&mergeCSV, "merge-csv", false, "只合并已有的批次文件")

	// 运行参数 (根命令保持旧版的 抓取+合并 行为)
	for _, cmd := range []*cobra.Command{rootCmd, runCmd} {
		cmd.Flags().StringVarP(&inputFile, "input", "i", "", "条目文件 (JSON数组)")
		cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "价格策略 (api|dom)")
		cmd.Flags().StringVar(&resolverMode, "resolver", "", "商店链接解析方式 (browser|static)")
		cmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "每个批次文件的条目数")
		cmd.Flags().BoolVar(&resume, "resume", false, "从已有的批次文件继续")
		cmd.Flags().BoolVar(&headless, "headless", false, "无头浏览器模式")
	}
	runCmd.Flags().BoolVar(&noMerge, "no-merge", false, "运行结束后不合并批次文件")

	rootCmd.AddCommand(runCmd, mergeCmd, doctorCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	utils.CloseLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
