// Package metrics 运行指标,运行结束时以Prometheus文本格式写出(node_exporter textfile)
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/RecoveryAshes/ExoStore/internal/models"
)

// Registry 一次运行的指标集合,使用独立的注册表,不污染全局默认注册表
type Registry struct {
	reg *prometheus.Registry

	Entries         *prometheus.CounterVec
	EntrySeconds    prometheus.Histogram
	BatchesFlushed  prometheus.Counter
	BrowserRestarts prometheus.Counter
	RunSeconds      prometheus.Gauge
	LastRunSuccess  prometheus.Gauge
}

// New 创建并注册全部指标
func New() *Registry {
	r := prometheus.NewRegistry()
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exostore_entries_total",
		Help: "Processed catalog entries by resulting status.",
	}, []string{"status"})
	entrySeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "exostore_entry_duration_seconds",
		Help:    "Wall time spent enriching one entry.",
		Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80},
	})
	batches := prometheus.NewCounter(prometheus.CounterOpts{Name: "exostore_batches_flushed_total", Help: "Batch files written."})
	restarts := prometheus.NewCounter(prometheus.CounterOpts{Name: "exostore_browser_restarts_total", Help: "Browser restarts after a crash or a memory-pressure recycle."})
	runSeconds := prometheus.NewGauge(prometheus.GaugeOpts{Name: "exostore_run_duration_seconds", Help: "Duration of the last run."})
	success := prometheus.NewGauge(prometheus.GaugeOpts{Name: "exostore_last_run_success", Help: "1 if the last run completed."})

	r.MustRegister(entries, entrySeconds, batches, restarts, runSeconds, success)

	// 所有状态预先初始化为0,缺失的状态也能被查询到
	for _, s := range models.AllStatuses {
		entries.WithLabelValues(string(s))
	}

	return &Registry{
		reg:             r,
		Entries:         entries,
		EntrySeconds:    entrySeconds,
		BatchesFlushed:  batches,
		BrowserRestarts: restarts,
		RunSeconds:      runSeconds,
		LastRunSuccess:  success,
	}
}

// ObserveEntry 记录一个条目的结果和耗时
func (r *Registry) ObserveEntry(status models.StatusCode, seconds float64) {
	r.Entries.WithLabelValues(string(status)).Inc()
	r.EntrySeconds.Observe(seconds)
}

// ObserveRun 记录运行结果
func (r *Registry) ObserveRun(report *models.RunReport) {
	r.RunSeconds.Set(report.Stats.Duration)
	if report.Status == models.RunStatusCompleted {
		r.LastRunSuccess.Set(1)
	} else {
		r.LastRunSuccess.Set(0)
	}
}

// WriteTextfile 写出Prometheus文本格式
func (r *Registry) WriteTextfile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建指标目录失败: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("写入指标文件失败: %w", err)
	}
	return nil
}
