package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/ExoStore/internal/models"
	"github.com/RecoveryAshes/ExoStore/internal/utils"
)

// MergeConfig 合并配置
type MergeConfig struct {
	PartialDir string // 批次目录
	CSVFile    string // 最终报告
	SQLiteFile string // 可选,为空时不写SQLite
}

// MergeResult 合并结果
type MergeResult struct {
	Batches int
	Rows    int
	Records []models.EnrichedRecord
}

// MergeAll 按序号合并所有批次文件,写出报告后删除批次文件
//
// 报告(以及配置了的SQLite)确认写入磁盘之前不会删除任何批次文件;
// 任何批次文件损坏都会终止合并,批次文件保持不变。
// 没有批次文件时只写出表头。
func MergeAll(ctx context.Context, config MergeConfig) (MergeResult, error) {
	result := MergeResult{}

	files, err := listBatchFiles(config.PartialDir)
	if err != nil {
		return result, err
	}

	records := make([]models.EnrichedRecord, 0, len(files)*DefaultBatchSize)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		batch, err := models.LoadBatchFromFile(f.Path, f.Sequence)
		if err != nil {
			return result, fmt.Errorf("合并中止,批次文件未删除: %w", err)
		}
		records = append(records, batch.Records...)
	}
	utils.Infof("读取了 %d 个批次文件,共 %d 条记录", len(files), len(records))

	var buf bytes.Buffer
	if err := WriteReport(&buf, records); err != nil {
		return result, fmt.Errorf("生成CSV失败: %w", err)
	}

	if dir := filepath.Dir(config.CSVFile); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return result, fmt.Errorf("创建报告目录失败: %w", err)
		}
	}
	if err := writeFileAtomic(config.CSVFile, buf.Bytes()); err != nil {
		return result, fmt.Errorf("写入CSV报告失败: %w", err)
	}
	utils.Infof("📄 CSV报告已写入: %s", config.CSVFile)

	if config.SQLiteFile != "" {
		if err := WriteSQLite(ctx, config.SQLiteFile, records); err != nil {
			return result, fmt.Errorf("写入SQLite失败,批次文件未删除: %w", err)
		}
		utils.Infof("🗄️  SQLite已写入: %s", config.SQLiteFile)
	}

	for _, f := range files {
		if err := os.Remove(f.Path); err != nil {
			return result, fmt.Errorf("删除批次文件失败 [%s]: %w", f.Path, err)
		}
	}
	if len(files) > 0 {
		if err := syncDir(config.PartialDir); err != nil {
			utils.Warnf("同步批次目录失败: %v", err)
		}
		utils.Infof("🧹 已删除 %d 个批次文件", len(files))
	}

	result.Batches = len(files)
	result.Rows = len(records)
	result.Records = records
	return result, nil
}
