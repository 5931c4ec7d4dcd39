package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/ExoStore/internal/checkpoint"
	"github.com/RecoveryAshes/ExoStore/internal/classifier"
	"github.com/RecoveryAshes/ExoStore/internal/crawlers"
	"github.com/RecoveryAshes/ExoStore/internal/metrics"
	"github.com/RecoveryAshes/ExoStore/internal/models"
	"github.com/RecoveryAshes/ExoStore/internal/pricing"
	"github.com/RecoveryAshes/ExoStore/internal/utils"
)

// Restarter 可以重新启动的浏览器会话
type Restarter interface {
	// Restart 崩溃后重启,连续次数受限
	Restart() error
	// Recycle 内存不足时重启,不受崩溃次数限制
	Recycle() error
	// Healthy 清零连续崩溃计数
	Healthy()
	Restarts() int
}

// Enricher 逐条处理目录条目: 商店链接 → 商品ID → 价格 → 状态 → 批次文件
// 条目严格按输入顺序串行处理
type Enricher struct {
	resolver crawlers.LinkResolver
	strategy pricing.Strategy
	writer   *checkpoint.Writer

	// 以下可选
	session    Restarter
	monitor    *crawlers.ResourceMonitor
	metrics    *metrics.Registry
	entryDelay time.Duration
	progress   bool

	recycle bool // 内存不足,下一个条目前回收浏览器
	crashed bool // 重试仍然崩溃,下一个条目前重启浏览器
}

// EnricherOption 可选配置
type EnricherOption func(*Enricher)

// WithSession 浏览器崩溃时重启会话并重试当前条目一次
func WithSession(session Restarter) EnricherOption {
	return func(e *Enricher) { e.session = session }
}

// WithResourceMonitor 每次写出批次后检查内存,内存不足时回收浏览器
func WithResourceMonitor(monitor *crawlers.ResourceMonitor) EnricherOption {
	return func(e *Enricher) { e.monitor = monitor }
}

// WithMetrics 记录运行指标
func WithMetrics(registry *metrics.Registry) EnricherOption {
	return func(e *Enricher) { e.metrics = registry }
}

// WithEntryDelay 条目之间的固定等待
func WithEntryDelay(delay time.Duration) EnricherOption {
	return func(e *Enricher) { e.entryDelay = delay }
}

// WithProgressBar 在终端显示进度条
func WithProgressBar() EnricherOption {
	return func(e *Enricher) { e.progress = true }
}

// NewEnricher 创建条目处理器
func NewEnricher(resolver crawlers.LinkResolver, strategy pricing.Strategy, writer *checkpoint.Writer, opts ...EnricherOption) *Enricher {
	e := &Enricher{
		resolver: resolver,
		strategy: strategy,
		writer:   writer,
	}
	for _, opt := range opts {
		opt(e)
	}

	writer.OnFlush(e.onFlush)
	return e
}

// Run 处理 entries[skip:],返回本次运行的统计
//
// 单个条目的失败只会记录为 error/timeout 状态; 返回错误表示运行被中止:
// 批次写入失败、会话无法重启或ctx被取消。无论哪种情况,缓冲区中已完成的记录都会先写出。
func (e *Enricher) Run(ctx context.Context, entries []models.CatalogEntry, skip int) (models.RunStats, error) {
	stats := models.NewRunStats()
	stats.TotalEntries = len(entries)

	if skip < 0 || skip > len(entries) {
		return stats, fmt.Errorf("已持久化的记录数(%d)超过输入条目数(%d),批次目录与输入文件不匹配", skip, len(entries))
	}
	stats.SkippedEntries = skip
	if skip > 0 {
		utils.Infof("⏭️  跳过已持久化的 %d 个条目", skip)
	}

	startTime := time.Now()
	restartsBefore := e.restarts()

	var bar interface{ Add(int) error }
	if e.progress && skip < len(entries) {
		pb := utils.NewProgressBar(len(entries)-skip, "处理条目")
		defer pb.Finish()
		bar = pb
	}

	var runErr error
	for i := skip; i < len(entries); i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		if err := e.restartPending(); err != nil {
			runErr = err
			break
		}

		entry := entries[i]
		entryStart := time.Now()

		rec, err := e.processWithRestart(ctx, entry)
		if err != nil {
			runErr = err
			break
		}
		// 处理期间收到中断信号: 放弃当前条目
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		if err := e.writer.Record(rec); err != nil {
			runErr = fmt.Errorf("保存记录失败,运行中止: %w", err)
			break
		}

		if !e.crashed {
			e.healthy()
		}
		stats.Count(rec.Status)
		if e.metrics != nil {
			e.metrics.ObserveEntry(rec.Status, time.Since(entryStart).Seconds())
		}

		logger := utils.EntryLogger(i+1, entry.Title)
		event := logger.Info()
		if rec.Status == models.StatusError || rec.Status == models.StatusTimeout {
			event = logger.Warn()
		}
		event.Str("status", string(rec.Status)).
			Str("price", rec.Price.String()).
			Str("sale_price", rec.SalePrice.String()).
			Str("note", rec.Note).
			Msgf("[%d/%d] 条目处理完成", i+1, len(entries))

		if bar != nil {
			_ = bar.Add(1)
		}

		if e.entryDelay > 0 && i < len(entries)-1 {
			if err := sleepContext(ctx, e.entryDelay); err != nil {
				runErr = err
				break
			}
		}
	}

	// 中止时也要写出缓冲区,最多丢失正在处理的一个条目
	if err := e.writer.Close(); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("保存最后一个批次失败: %w", err)
		} else {
			utils.Errorf("保存最后一个批次失败: %v", err)
		}
	}

	stats.Batches = e.writer.BatchesWritten()
	stats.BrowserRestart = e.restarts() - restartsBefore
	stats.Duration = time.Since(startTime).Seconds()

	return stats, runErr
}

// processWithRestart 浏览器崩溃时重启并重试一次,仍然崩溃则记录为error
func (e *Enricher) processWithRestart(ctx context.Context, entry models.CatalogEntry) (models.EnrichedRecord, error) {
	rec, err := e.processEntry(ctx, entry)
	if err == nil || !errors.Is(err, models.ErrBrowserCrashed) {
		return rec, err
	}

	if e.session == nil {
		rec.Status = models.StatusError
		rec.Note = err.Error()
		return rec, nil
	}

	utils.Warnf("🔄 浏览器崩溃,重启后重试: %s", entry.Title)
	if err := e.restart(); err != nil {
		return rec, err
	}

	rec, err = e.processEntry(ctx, entry)
	if errors.Is(err, models.ErrBrowserCrashed) {
		rec.Status = models.StatusError
		rec.Note = err.Error()
		// 下一个条目之前再重启一次
		e.crashed = true
		return rec, nil
	}
	return rec, err
}

// processEntry 处理单个条目
// 只有浏览器崩溃和ctx取消会返回错误,其他失败都体现在记录的状态中
func (e *Enricher) processEntry(ctx context.Context, entry models.CatalogEntry) (rec models.EnrichedRecord, err error) {
	rec = models.NewEnrichedRecord(entry)

	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("⚠️  处理条目时发生panic [%s]: %v", entry.Title, r)
			rec.Status = models.StatusError
			rec.Price = models.NoPrice()
			rec.SalePrice = models.NoPrice()
			rec.Note = fmt.Sprintf("panic: %v", r)
			err = nil
		}
	}()

	res, err := e.resolver.Resolve(ctx, entry)
	rec = rec.WithResolution(res)
	if err != nil {
		if abort := abortError(ctx, err); abort != nil {
			return rec, abort
		}
		facts := pricing.FactsFromError(err)
		rec.Status = classifier.Classify(facts).Status
		rec.Note = err.Error()
		return rec, nil
	}

	if !res.Found() {
		rec.Status = models.StatusDelisted
		rec.Note = "未找到商店链接"
		return rec, nil
	}

	facts, err := e.strategy.Resolve(ctx, pricing.Target{ProductID: res.ProductID, StoreLink: res.StoreLink})
	if err != nil {
		if abort := abortError(ctx, err); abort != nil {
			return rec, abort
		}
		facts = pricing.FactsFromError(err)
	}

	result := classifier.Classify(facts)
	rec.Status = result.Status
	rec.Price = result.Price
	rec.SalePrice = result.SalePrice
	rec.Note = facts.Note

	utils.Debugf("%s: %s → %s (%s)", entry.Title, facts, result.Status, result.Rule)
	return rec, nil
}

// abortError 判断错误是否需要中止当前条目之外的处理
func abortError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, models.ErrBrowserCrashed) {
		return err
	}
	return nil
}

func (e *Enricher) onFlush(batch models.Batch) {
	if e.metrics != nil {
		e.metrics.BatchesFlushed.Inc()
	}
	if e.monitor == nil {
		return
	}

	snapshot := e.monitor.Snapshot()
	utils.Debugf("📊 批次 %d: 可用内存 %dMB, CPU %.1f%%",
		batch.Sequence, snapshot.AvailableMemory/1024/1024, snapshot.CPUPercent)

	if recycle, reason := e.monitor.ShouldRecycleBrowser(snapshot); recycle && e.session != nil {
		utils.Warnf("♻️  %s,下一个条目前重启浏览器", reason)
		e.recycle = true
	}
}

// restartPending 执行上一个条目之后安排的重启,崩溃重启优先于回收
func (e *Enricher) restartPending() error {
	switch {
	case e.crashed:
		e.crashed, e.recycle = false, false
		return e.restart()
	case e.recycle:
		e.recycle = false
		if e.session == nil {
			return nil
		}
		if err := e.session.Recycle(); err != nil {
			return fmt.Errorf("浏览器回收失败,运行中止: %w", err)
		}
		if e.metrics != nil {
			e.metrics.BrowserRestarts.Inc()
		}
	}
	return nil
}

func (e *Enricher) restart() error {
	if e.session == nil {
		return nil
	}
	if err := e.session.Restart(); err != nil {
		return fmt.Errorf("浏览器重启失败,运行中止: %w", err)
	}
	if e.metrics != nil {
		e.metrics.BrowserRestarts.Inc()
	}
	return nil
}

func (e *Enricher) healthy() {
	if e.session != nil {
		e.session.Healthy()
	}
}

func (e *Enricher) restarts() int {
	if e.session == nil {
		return 0
	}
	return e.session.Restarts()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
