package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/ExoStore/internal/models"
	"github.com/schollz/progressbar/v3"
)

// Reporter 运行报告生成器
type Reporter struct {
	outputDir string
}

// NewReporter 创建报告生成器
func NewReporter(outputDir string) *Reporter {
	return &Reporter{outputDir: outputDir}
}

// ReportPath 返回指定运行的报告路径
func (r *Reporter) ReportPath(runID string) string {
	return filepath.Join(r.outputDir, fmt.Sprintf("run_%s.json", runID))
}

// SaveRunReport 保存运行报告
func (r *Reporter) SaveRunReport(report *models.RunReport) (string, error) {
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	jsonData, err := report.ToJSON()
	if err != nil {
		return "", fmt.Errorf("序列化JSON失败: %w", err)
	}

	path := r.ReportPath(report.RunID)
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return "", fmt.Errorf("写入报告文件失败: %w", err)
	}

	Infof("✅ 运行报告已生成: %s", path)
	return path, nil
}

// LogSummary 将统计信息输出到日志
func LogSummary(report *models.RunReport) {
	Info("================ 运行统计 ================")
	Infof("运行ID: %s  状态: %s  策略: %s", report.RunID, report.Status, report.Strategy)
	Infof("条目总数: %d  跳过: %d  本次处理: %d",
		report.Stats.TotalEntries, report.Stats.SkippedEntries, report.Stats.Processed)
	for _, status := range models.AllStatuses {
		if n := report.Stats.ByStatus[status]; n > 0 {
			Infof("  %-18s %d", status, n)
		}
	}
	Infof("批次文件: %d  浏览器重启: %d  耗时: %.1fs",
		report.Stats.Batches, report.Stats.BrowserRestart, report.Stats.Duration)
	if report.ErrorMessage != "" {
		Errorf("失败原因: %s", report.ErrorMessage)
	}
}

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
