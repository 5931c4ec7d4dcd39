package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/ExoStore/internal/checkpoint"
	"github.com/RecoveryAshes/ExoStore/internal/crawlers"
	"github.com/RecoveryAshes/ExoStore/internal/metrics"
	"github.com/RecoveryAshes/ExoStore/internal/models"
	"github.com/RecoveryAshes/ExoStore/internal/pricing"
	"github.com/RecoveryAshes/ExoStore/internal/utils"
)

// Runner 运行协调器
// 根据配置组装浏览器会话、链接解析器、价格策略和批次写入器,执行一次完整运行
type Runner struct {
	config  *Config
	headers models.HeaderProvider
	metrics *metrics.Registry
}

// NewRunner 创建运行协调器
func NewRunner(config *Config, headers models.HeaderProvider) *Runner {
	return &Runner{
		config:  config,
		headers: headers,
		metrics: metrics.New(),
	}
}

// Run 执行一次运行,merge 为true时成功后立即合并批次文件
//
// 返回的报告在失败时同样有效(状态为 failed/cancelled),调用方据此输出摘要和退出码。
func (r *Runner) Run(ctx context.Context, merge bool) (*models.RunReport, error) {
	cfg := r.config

	report := &models.RunReport{
		RunID:     models.NewRunID(),
		Status:    models.RunStatusRunning,
		Strategy:  cfg.Pricing.Strategy,
		InputFile: cfg.Input.EntriesFile,
		BatchSize: cfg.Checkpoint.BatchSize,
		StartTime: time.Now(),
		Stats:     models.NewRunStats(),
	}

	utils.WithRunID(report.RunID)
	utils.Infof("🚀 开始运行 %s", report.RunID)
	utils.Infof("输入文件: %s", cfg.Input.EntriesFile)
	utils.Infof("价格策略: %s  链接解析: %s  批次大小: %d", cfg.Pricing.Strategy, cfg.Resolver.Mode, cfg.Checkpoint.BatchSize)

	stats, err := r.enrich(ctx)
	report.Stats = stats

	if err == nil && merge {
		var result checkpoint.MergeResult
		result, err = RunMerge(ctx, cfg)
		if err == nil {
			report.ReportFile = cfg.Output.CSVFile
			report.MergedRows = result.Rows
		}
	}

	r.finish(report, err)
	return report, err
}

// enrich 加载条目、检查批次目录并逐条处理
func (r *Runner) enrich(ctx context.Context) (models.RunStats, error) {
	cfg := r.config
	stats := models.NewRunStats()

	entries, err := utils.ReadEntriesFromFile(cfg.Input.EntriesFile)
	if err != nil {
		return stats, err
	}
	stats.TotalEntries = len(entries)

	scan, err := checkpoint.Scan(cfg.Output.PartialDir)
	if err != nil {
		return stats, fmt.Errorf("扫描批次目录失败: %w", err)
	}

	skip := 0
	if len(scan.Files) > 0 {
		if !cfg.Run.Resume {
			return stats, fmt.Errorf("%w: %s 中有 %d 个批次文件,使用 --resume 继续或先执行 merge",
				checkpoint.ErrExistingBatches, cfg.Output.PartialDir, len(scan.Files))
		}
		skip = scan.Records
		utils.Infof("📂 续跑: 已有 %d 个批次文件 (%d 条记录)", len(scan.Files), scan.Records)
	}

	var session *crawlers.Session
	if cfg.NeedsBrowser() {
		session = crawlers.NewSession(crawlers.SessionConfig{
			ProfileDir:        cfg.Browser.ProfileDir,
			Headless:          cfg.Browser.Headless,
			BrowserBin:        cfg.Browser.Bin,
			SettleDelay:       cfg.Browser.SettleDelay,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
			Stealth:           cfg.Browser.Stealth,
			Headers:           r.headers,
		})
		if err := session.Start(); err != nil {
			return stats, fmt.Errorf("启动浏览器失败: %w", err)
		}
		defer session.Close()
	}

	resolver, err := r.newLinkResolver(session)
	if err != nil {
		return stats, err
	}
	strategy, err := r.newStrategy(session)
	if err != nil {
		return stats, err
	}

	writer, err := checkpoint.NewWriter(cfg.Output.PartialDir, cfg.Checkpoint.BatchSize, scan.NextSequence)
	if err != nil {
		return stats, err
	}

	opts := []EnricherOption{
		WithMetrics(r.metrics),
		WithEntryDelay(cfg.Run.EntryDelay),
		WithProgressBar(),
	}
	if session != nil {
		opts = append(opts,
			WithSession(session),
			WithResourceMonitor(crawlers.NewResourceMonitor(cfg.Browser.SafetyReserveMB)),
		)
	}

	return NewEnricher(resolver, strategy, writer, opts...).Run(ctx, entries, skip)
}

func (r *Runner) newLinkResolver(session *crawlers.Session) (crawlers.LinkResolver, error) {
	cfg := r.config
	switch cfg.Resolver.Mode {
	case ResolverBrowser:
		return crawlers.NewBrowserLinkResolver(session, cfg.Resolver.Selector, cfg.Browser.NetworkIdleTimeout), nil
	case ResolverStatic:
		return crawlers.NewStaticLinkResolver(cfg.Resolver.Selector, cfg.Resolver.Timeout, r.headers), nil
	default:
		return nil, fmt.Errorf("无效的链接解析模式: %s", cfg.Resolver.Mode)
	}
}

func (r *Runner) newStrategy(session *crawlers.Session) (pricing.Strategy, error) {
	cfg := r.config
	switch cfg.Pricing.Strategy {
	case StrategyAPI:
		return pricing.NewAPIStrategy(pricing.APIConfig{
			Endpoint:       cfg.Pricing.Endpoint,
			Market:         cfg.Pricing.Market,
			Locale:         cfg.Pricing.Locale,
			DeviceFamily:   cfg.Pricing.DeviceFamily,
			RequestTimeout: cfg.Pricing.RequestTimeout,
			Retries:        cfg.Pricing.Retries,
			RetryDelay:     cfg.Pricing.RetryDelay,
			Headers:        r.headers,
		})
	case StrategyDOM:
		return pricing.NewDOMStrategy(session, pricing.DOMConfig{
			ButtonSelectors: cfg.Pricing.ButtonSelectors,
			ButtonTimeout:   cfg.Pricing.ButtonTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("无效的价格策略: %s", cfg.Pricing.Strategy)
	}
}

// finish 填写运行结果,输出摘要并保存报告和指标
func (r *Runner) finish(report *models.RunReport, runErr error) {
	report.EndTime = time.Now()
	report.Stats.Duration = report.EndTime.Sub(report.StartTime).Seconds()

	switch {
	case runErr == nil:
		report.Status = models.RunStatusCompleted
	case errors.Is(runErr, context.Canceled):
		report.Status = models.RunStatusCancelled
		report.ErrorMessage = "运行被中断"
	default:
		report.Status = models.RunStatusFailed
		report.ErrorMessage = runErr.Error()
	}

	snapshot := crawlers.NewResourceMonitor(r.config.Browser.SafetyReserveMB).Snapshot()
	report.Resources = &snapshot

	utils.LogSummary(report)

	if r.config.Output.ReportDir != "" {
		if _, err := utils.NewReporter(r.config.Output.ReportDir).SaveRunReport(report); err != nil {
			utils.Warnf("保存运行报告失败: %v", err)
		}
	}

	r.metrics.ObserveRun(report)
	if r.config.Output.MetricsFile != "" {
		if err := r.metrics.WriteTextfile(r.config.Output.MetricsFile); err != nil {
			utils.Warnf("写入指标文件失败: %v", err)
		}
	}
}

// RunMerge 合并批次目录中的所有批次文件,可以独立于抓取单独执行
func RunMerge(ctx context.Context, cfg *Config) (checkpoint.MergeResult, error) {
	utils.Infof("📦 合并批次文件: %s → %s", cfg.Output.PartialDir, cfg.Output.CSVFile)

	result, err := checkpoint.MergeAll(ctx, checkpoint.MergeConfig{
		PartialDir: cfg.Output.PartialDir,
		CSVFile:    cfg.Output.CSVFile,
		SQLiteFile: cfg.Output.SQLiteFile,
	})
	if err != nil {
		return result, fmt.Errorf("合并失败: %w", err)
	}

	utils.Infof("✅ 合并完成: %d 个批次, %d 行 → %s", result.Batches, result.Rows, cfg.Output.CSVFile)
	return result, nil
}
