package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/spf13/cobra"

	"github.com/RecoveryAshes/ExoStore/internal/checkpoint"
	"github.com/RecoveryAshes/ExoStore/internal/crawlers"
	"github.com/RecoveryAshes/ExoStore/internal/utils"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "检查运行环境 (浏览器、配置目录、输入文件、批次目录)",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("==============================================")
		fmt.Println("  ExoStore 环境检查")
		fmt.Println("==============================================")

		allOK := true
		fmt.Printf("✅ 操作系统: %s/%s, %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())

		if appConfig.NeedsBrowser() {
			if appConfig.Browser.Bin != "" {
				if _, err := os.Stat(appConfig.Browser.Bin); err != nil {
					fmt.Printf("❌ 浏览器不存在: %s\n", appConfig.Browser.Bin)
					allOK = false
				} else {
					fmt.Printf("✅ 浏览器: %s\n", appConfig.Browser.Bin)
				}
			} else if path, ok := launcher.LookPath(); ok {
				fmt.Printf("✅ 浏览器: %s\n", path)
			} else {
				fmt.Println("⚠️  未找到本地浏览器,首次启动时会自动下载Chromium")
			}

			if _, err := os.Stat(appConfig.Browser.ProfileDir); err != nil {
				fmt.Printf("⚠️  浏览器配置目录不存在: %s (需要先登录)\n", appConfig.Browser.ProfileDir)
			} else {
				fmt.Printf("✅ 浏览器配置目录: %s\n", appConfig.Browser.ProfileDir)
			}
		} else {
			fmt.Println("✅ 当前配置不需要浏览器")
		}

		if entries, err := utils.ReadEntriesFromFile(appConfig.Input.EntriesFile); err != nil {
			fmt.Printf("❌ 条目文件: %v\n", err)
			allOK = false
		} else {
			fmt.Printf("✅ 条目文件: %s (%d 个条目)\n", appConfig.Input.EntriesFile, len(entries))
		}

		if scan, err := checkpoint.Scan(appConfig.Output.PartialDir); err != nil {
			fmt.Printf("❌ 批次目录: %v\n", err)
			allOK = false
		} else if len(scan.Files) > 0 {
			fmt.Printf("⚠️  批次目录中有 %d 个未合并的批次 (%d 条记录),使用 --resume 继续或执行 merge\n",
				len(scan.Files), scan.Records)
		} else {
			fmt.Printf("✅ 批次目录为空: %s\n", appConfig.Output.PartialDir)
		}

		snapshot := crawlers.NewResourceMonitor(appConfig.Browser.SafetyReserveMB).Snapshot()
		availableMB := snapshot.AvailableMemory / 1024 / 1024
		fmt.Printf("✅ 可用内存: %dMB (%s)\n", availableMB, crawlers.PressureLevel(availableMB))

		fmt.Println("==============================================")
		if !allOK {
			return fmt.Errorf("环境检查未通过")
		}
		fmt.Println("✅ 环境检查通过")
		return nil
	},
}
