package models

import (
	"encoding/json"
	"time"
)

// RunStatus 运行状态
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"   // 执行中
	RunStatusCompleted RunStatus = "completed" // 已完成
	RunStatusFailed    RunStatus = "failed"    // 失败
	RunStatusCancelled RunStatus = "cancelled" // 已取消
)

// RunStats 运行统计
type RunStats struct {
	TotalEntries   int                `json:"total_entries"`   // 输入条目数
	SkippedEntries int                `json:"skipped_entries"` // 续跑时跳过的已持久化条目数
	Processed      int                `json:"processed"`       // 本次处理的条目数
	ByStatus       map[StatusCode]int `json:"by_status"`       // 各状态计数
	Batches        int                `json:"batches"`         // 本次写入的批次文件数
	BrowserRestart int                `json:"browser_restarts"`
	Duration       float64            `json:"duration"` // 总耗时(秒)
}

// NewRunStats 创建统计,所有状态计数初始化为0
func NewRunStats() RunStats {
	byStatus := make(map[StatusCode]int, len(AllStatuses))
	for _, s := range AllStatuses {
		byStatus[s] = 0
	}
	return RunStats{ByStatus: byStatus}
}

// Count 记录一个状态
func (s *RunStats) Count(status StatusCode) {
	s.Processed++
	s.ByStatus[status]++
}

// ResourceSnapshot 运行结束时的系统资源快照
type ResourceSnapshot struct {
	TotalMemory     uint64  `json:"total_memory"`
	AvailableMemory uint64  `json:"available_memory"`
	MemoryPercent   float64 `json:"memory_percent"`
	CPUPercent      float64 `json:"cpu_percent"`
	HeapAlloc       uint64  `json:"heap_alloc"`
}

// RunReport 运行报告
type RunReport struct {
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	Strategy  string    `json:"strategy"`
	InputFile string    `json:"input_file"`
	BatchSize int       `json:"batch_size"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	Stats     RunStats          `json:"stats"`
	Resources *ResourceSnapshot `json:"resources,omitempty"`

	ReportFile   string `json:"report_file,omitempty"` // 合并后的CSV路径
	MergedRows   int    `json:"merged_rows"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ToJSON 序列化为JSON
func (r *RunReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *RunReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
