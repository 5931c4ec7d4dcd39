package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RecoveryAshes/ExoStore/internal/checkpoint"
	"github.com/RecoveryAshes/ExoStore/internal/models"
)

// 成就页面: 标题 → 商品ID,空字符串表示页面上没有商店链接
var achievementPages = map[string]string{
	"sale-game":    "9SALE",
	"regular-game": "9REGULAR",
	"gone-game":    "",
}

var productBodies = map[string]string{
	"9SALE":    `{"Payload": {"ProductId": "9SALE", "Price": 19.99, "DisplayPrice": "19,99 €", "StrikethroughPrice": "39,99 €", "Actions": ["Details", "Purchase"]}}`,
	"9REGULAR": `{"Payload": {"ProductId": "9REGULAR", "Price": 59.99, "DisplayPrice": "59,99 €", "Actions": ["Details", "Purchase"]}}`,
}

func newSiteServers(t *testing.T) (site *httptest.Server, api *httptest.Server) {
	t.Helper()

	site = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug := path.Base(strings.TrimSuffix(r.URL.Path, "/achievements"))
		id, ok := achievementPages[slug]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		link := ""
		if id != "" {
			link = fmt.Sprintf(`<a href="https://www.microsoft.com/store/apps/%s">Microsoft Store</a>`, id)
		}
		fmt.Fprintf(w, `<html><body><dl><dt>Store</dt><dd>%s</dd></dl></body></html>`, link)
	}))
	t.Cleanup(site.Close)

	api = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := productBodies[path.Base(r.URL.Path)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(api.Close)

	return site, api
}

func newRunnerConfig(t *testing.T, siteURL, apiURL string, titles ...string) *Config {
	t.Helper()

	cfg, err := LoadConfig(writeConfig(t, "{}"))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	dir := t.TempDir()
	entries := make([]models.CatalogEntry, 0, len(titles))
	for _, title := range titles {
		entries = append(entries, models.CatalogEntry{
			AchievementLink: siteURL + "/game/" + title + "/achievements",
			Title:           title,
			Platforms:       []string{"Xbox One", "PC"},
			TotalAwards:     40,
			TotalPoints:     1000,
		})
	}
	data, _ := json.Marshal(entries)
	cfg.Input.EntriesFile = filepath.Join(dir, "entries.json")
	if err := os.WriteFile(cfg.Input.EntriesFile, data, 0644); err != nil {
		t.Fatalf("写入条目文件失败: %v", err)
	}

	cfg.Output.PartialDir = filepath.Join(dir, "partials")
	cfg.Output.CSVFile = filepath.Join(dir, "out", "report.csv")
	cfg.Output.ReportDir = filepath.Join(dir, "reports")
	cfg.Output.MetricsFile = filepath.Join(dir, "metrics", "exostore.prom")
	cfg.Checkpoint.BatchSize = 2
	cfg.Resolver.Mode = ResolverStatic
	cfg.Pricing.Strategy = StrategyAPI
	cfg.Pricing.Endpoint = apiURL + "/v9.0/products"
	cfg.Pricing.Retries = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("配置无效: %v", err)
	}
	return cfg
}

func TestRunnerEndToEnd(t *testing.T) {
	site, api := newSiteServers(t)
	cfg := newRunnerConfig(t, site.URL, api.URL, "sale-game", "gone-game", "regular-game")

	hm, err := NewHeaderManager(nil, nil)
	if err != nil {
		t.Fatalf("创建HeaderManager失败: %v", err)
	}

	report, err := NewRunner(cfg, hm).Run(context.Background(), true)
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}

	if report.Status != models.RunStatusCompleted {
		t.Errorf("运行状态 = %s", report.Status)
	}
	if report.Stats.Processed != 3 || report.Stats.Batches != 2 || report.MergedRows != 3 {
		t.Errorf("统计错误: %+v merged=%d", report.Stats, report.MergedRows)
	}

	data, err := os.ReadFile(cfg.Output.CSVFile)
	if err != nil {
		t.Fatalf("读取报告失败: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	want := []string{
		"Title,Platforms,Total Achievements,Total Gamerscore,Microsoft Store Link,Status,Price,Sale Price",
		`"sale-game","Xbox One, PC","40","1000","https://www.microsoft.com/store/apps/9SALE","sale","19.99","39.99"`,
		`"gone-game","Xbox One, PC","40","1000","-","delisted","-","-"`,
		`"regular-game","Xbox One, PC","40","1000","https://www.microsoft.com/store/apps/9REGULAR","regular","59.99","-"`,
	}
	if len(lines) != len(want) {
		t.Fatalf("报告行数 = %d, 期望 %d:\n%s", len(lines), len(want), data)
	}
	for i := range want {
		if strings.TrimRight(lines[i], "\r") != want[i] {
			t.Errorf("第%d行:\n实际 %s\n期望 %s", i, lines[i], want[i])
		}
	}

	t.Run("合并后批次文件被删除", func(t *testing.T) {
		scan, err := checkpoint.Scan(cfg.Output.PartialDir)
		if err != nil {
			t.Fatalf("扫描失败: %v", err)
		}
		if len(scan.Files) != 0 {
			t.Errorf("剩余批次文件: %v", scan.Files)
		}
	})

	t.Run("运行报告和指标文件", func(t *testing.T) {
		if _, err := os.Stat(filepath.Join(cfg.Output.ReportDir, "run_"+report.RunID+".json")); err != nil {
			t.Errorf("运行报告不存在: %v", err)
		}
		metrics, err := os.ReadFile(cfg.Output.MetricsFile)
		if err != nil {
			t.Fatalf("读取指标文件失败: %v", err)
		}
		if !strings.Contains(string(metrics), `exostore_entries_total{status="delisted"} 1`) {
			t.Errorf("指标中缺少 delisted 计数:\n%s", metrics)
		}
	})
}

func TestRunnerExistingBatches(t *testing.T) {
	site, api := newSiteServers(t)
	cfg := newRunnerConfig(t, site.URL, api.URL, "sale-game", "gone-game", "regular-game")
	hm, _ := NewHeaderManager(nil, nil)

	// 第一次运行不合并,留下批次文件
	if _, err := NewRunner(cfg, hm).Run(context.Background(), false); err != nil {
		t.Fatalf("第一次运行失败: %v", err)
	}

	t.Run("未指定续跑时拒绝运行", func(t *testing.T) {
		report, err := NewRunner(cfg, hm).Run(context.Background(), false)
		if !errors.Is(err, checkpoint.ErrExistingBatches) {
			t.Fatalf("期望 ErrExistingBatches, 实际 %v", err)
		}
		if report.Status != models.RunStatusFailed {
			t.Errorf("运行状态 = %s, 期望 failed", report.Status)
		}
	})

	t.Run("续跑时跳过全部已持久化条目", func(t *testing.T) {
		cfg.Run.Resume = true
		report, err := NewRunner(cfg, hm).Run(context.Background(), true)
		if err != nil {
			t.Fatalf("续跑失败: %v", err)
		}
		if report.Stats.SkippedEntries != 3 || report.Stats.Processed != 0 {
			t.Errorf("统计错误: %+v", report.Stats)
		}
		if report.MergedRows != 3 {
			t.Errorf("合并行数 = %d, 期望 3", report.MergedRows)
		}
	})
}

func TestRunMergeStandalone(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}"))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	dir := t.TempDir()
	cfg.Output.PartialDir = filepath.Join(dir, "partials")
	cfg.Output.CSVFile = filepath.Join(dir, "report.csv")

	result, err := RunMerge(context.Background(), cfg)
	if err != nil {
		t.Fatalf("合并失败: %v", err)
	}
	if result.Rows != 0 {
		t.Errorf("Rows = %d, 期望 0", result.Rows)
	}

	data, err := os.ReadFile(cfg.Output.CSVFile)
	if err != nil {
		t.Fatalf("读取报告失败: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != strings.Join(checkpoint.ReportHeader, ",") {
		t.Errorf("空合并应只有表头, 实际 %q", got)
	}
}
