package main

import (
	"fmt"
	"os"

	"github.com/RecoveryAshes/ExoStore/internal/core"
	"github.com/RecoveryAshes/ExoStore/internal/models"
	"github.com/RecoveryAshes/ExoStore/internal/utils"
)

// ValidateRunConfig 运行前检查配置中的路径和地址
func ValidateRunConfig(cfg *core.Config) error {
	if cfg.Input.EntriesFile == "" {
		return fmt.Errorf("未指定条目文件,使用 --input 或配置 input.entries_file")
	}
	if info, err := os.Stat(cfg.Input.EntriesFile); err != nil {
		return fmt.Errorf("条目文件不可用: %w", err)
	} else if info.IsDir() {
		return fmt.Errorf("条目文件是一个目录: %s", cfg.Input.EntriesFile)
	}

	if cfg.Pricing.Strategy == core.StrategyAPI {
		if err := models.ValidateURL(cfg.Pricing.Endpoint); err != nil {
			return fmt.Errorf("无效的商品API地址: %w", err)
		}
	}

	if cfg.NeedsBrowser() {
		if _, err := os.Stat(cfg.Browser.ProfileDir); os.IsNotExist(err) {
			utils.Warnf("⚠️  浏览器配置目录不存在,将创建新的配置 (未登录): %s", cfg.Browser.ProfileDir)
		}
	}

	return nil
}
