package crawlers

import (
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/RecoveryAshes/ExoStore/internal/models"
)

// 内存压力等级
const (
	PressureNormal    = "normal"
	PressureWarning   = "warning"
	PressureCritical  = "critical"
	PressureEmergency = "emergency"
)

// ResourceMonitor 系统资源监控器
// 长时间复用同一个浏览器会持续占用内存,可用内存过低时建议重启浏览器
type ResourceMonitor struct {
	// SafetyReserveMB 低于此可用内存(MB)时建议重启浏览器
	SafetyReserveMB uint64
}

// NewResourceMonitor 创建资源监控器
func NewResourceMonitor(safetyReserveMB uint64) *ResourceMonitor {
	if safetyReserveMB == 0 {
		safetyReserveMB = 300
	}
	return &ResourceMonitor{SafetyReserveMB: safetyReserveMB}
}

// Snapshot 采集当前的系统资源状态
func (rm *ResourceMonitor) Snapshot() models.ResourceSnapshot {
	snapshot := models.ResourceSnapshot{}

	if vmStat, err := mem.VirtualMemory(); err != nil {
		log.Warn().Err(err).Msg("获取系统内存失败")
	} else {
		snapshot.TotalMemory = vmStat.Total
		snapshot.AvailableMemory = vmStat.Available
		snapshot.MemoryPercent = vmStat.UsedPercent
	}

	// 100毫秒采样,所有核心的平均值
	if percentages, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		log.Warn().Err(err).Msg("获取CPU使用率失败")
	} else if len(percentages) > 0 {
		snapshot.CPUPercent = percentages[0]
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	snapshot.HeapAlloc = memStats.HeapAlloc

	return snapshot
}

// PressureLevel 根据可用内存(MB)判断压力等级
func PressureLevel(availableMB uint64) string {
	switch {
	case availableMB < 200:
		return PressureEmergency
	case availableMB < 300:
		return PressureCritical
	case availableMB < 500:
		return PressureWarning
	default:
		return PressureNormal
	}
}

// ShouldRecycleBrowser 可用内存低于安全保留值时返回true和原因
func (rm *ResourceMonitor) ShouldRecycleBrowser(snapshot models.ResourceSnapshot) (bool, string) {
	if snapshot.TotalMemory == 0 {
		return false, ""
	}

	availableMB := snapshot.AvailableMemory / (1024 * 1024)
	if availableMB >= rm.SafetyReserveMB {
		return false, ""
	}

	reason := fmt.Sprintf("可用内存不足(当前%dMB,等级%s)", availableMB, PressureLevel(availableMB))
	log.Warn().Msgf("%s,建议重启浏览器", reason)
	return true, reason
}
