package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/RecoveryAshes/ExoStore/internal/models"
)

// ErrNoEntries 输入文件中没有任何条目
var ErrNoEntries = errors.New("输入文件中没有条目")

// ReadEntriesFromFile 从文件中读取目录条目列表
// 文件内容为JSON数组,只读取一次,保持原始顺序
func ReadEntriesFromFile(path string) ([]models.CatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("打开条目文件失败: %w", err)
	}

	var entries []models.CatalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("解析条目文件失败 [%s]: %w", path, err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoEntries, path)
	}

	// 链接无效的条目保留,后续会产生error记录
	invalid := 0
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			invalid++
			Warnf("条目 %d 无效: %v", i+1, err)
		}
	}

	if invalid > 0 {
		Warnf("⚠️  共有 %d 个条目链接无效,将记录为error", invalid)
	}
	Infof("从文件加载了 %d 个条目", len(entries))
	return entries, nil
}
