package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/RecoveryAshes/ExoStore/internal/checkpoint"
	"github.com/RecoveryAshes/ExoStore/internal/crawlers"
	"github.com/RecoveryAshes/ExoStore/internal/metrics"
	"github.com/RecoveryAshes/ExoStore/internal/models"
	"github.com/RecoveryAshes/ExoStore/internal/pricing"
)

// fakeResolver 按标题返回预设结果
type fakeResolver struct {
	errs    map[string]error
	panics  map[string]bool
	absent  map[string]bool
	crashes map[string]int // 前N次调用返回 ErrBrowserCrashed
	onCall  func(title string)
	calls   []string
}

func (f *fakeResolver) Resolve(ctx context.Context, entry models.CatalogEntry) (models.StoreResolution, error) {
	f.calls = append(f.calls, entry.Title)
	if f.onCall != nil {
		f.onCall(entry.Title)
	}
	if f.crashes[entry.Title] > 0 {
		f.crashes[entry.Title]--
		return models.StoreResolution{}, fmt.Errorf("导航失败: %w", models.ErrBrowserCrashed)
	}
	if f.panics[entry.Title] {
		panic("页面结构异常")
	}
	if err := f.errs[entry.Title]; err != nil {
		return models.StoreResolution{}, err
	}
	if f.absent[entry.Title] {
		return models.StoreResolution{}, nil
	}
	id := "ID" + entry.Title
	return models.StoreResolution{
		StoreLink: "https://www.microsoft.com/store/apps/" + id,
		ProductID: id,
	}, nil
}

// fakeStrategy 按商品ID返回预设价格
type fakeStrategy struct {
	facts map[string]pricing.Facts
	errs  map[string]error
}

func (f *fakeStrategy) Name() string { return "fake" }

func (f *fakeStrategy) Resolve(ctx context.Context, target pricing.Target) (pricing.Facts, error) {
	if err := f.errs[target.ProductID]; err != nil {
		return pricing.FactsFromError(err), err
	}
	if facts, ok := f.facts[target.ProductID]; ok {
		return facts, nil
	}
	return pricing.Facts{
		Found:        true,
		RegularPrice: models.NewPrice(19.99),
		ListPrice:    models.NewPrice(19.99),
		Actions:      []string{"Details", "Purchase"},
	}, nil
}

// fakeRestarter 与 crawlers.Session 相同: 连续崩溃重启最多3次,回收不计入
type fakeRestarter struct {
	restarts int
	recycles int
	crashes  int
	err      error
}

func (f *fakeRestarter) Restart() error {
	if f.err != nil {
		return f.err
	}
	if f.crashes >= 3 {
		return crawlers.ErrMaxRetriesReached
	}
	f.crashes++
	f.restarts++
	return nil
}

func (f *fakeRestarter) Recycle() error {
	if f.err != nil {
		return f.err
	}
	f.recycles++
	f.restarts++
	return nil
}

func (f *fakeRestarter) Healthy() { f.crashes = 0 }

func (f *fakeRestarter) Restarts() int { return f.restarts }

func makeEntries(titles ...string) []models.CatalogEntry {
	entries := make([]models.CatalogEntry, 0, len(titles))
	for _, title := range titles {
		entries = append(entries, models.CatalogEntry{
			AchievementLink: "https://www.trueachievements.com/game/" + title + "/achievements",
			Title:           title,
			Platforms:       []string{"Xbox One", "Xbox Series X|S"},
			TotalAwards:     50,
			TotalPoints:     1000,
		})
	}
	return entries
}

// loadRecords 按批次顺序读出所有记录
func loadRecords(t *testing.T, dir string) ([]models.EnrichedRecord, int) {
	t.Helper()
	scan, err := checkpoint.Scan(dir)
	if err != nil {
		t.Fatalf("扫描批次目录失败: %v", err)
	}
	var records []models.EnrichedRecord
	for _, f := range scan.Files {
		batch, err := models.LoadBatchFromFile(f.Path, f.Sequence)
		if err != nil {
			t.Fatalf("读取批次失败: %v", err)
		}
		records = append(records, batch.Records...)
	}
	return records, len(scan.Files)
}

func newTestEnricher(t *testing.T, resolver *fakeResolver, strategy *fakeStrategy, batchSize int, opts ...EnricherOption) (*Enricher, string) {
	t.Helper()
	dir := t.TempDir()
	writer, err := checkpoint.NewWriter(dir, batchSize, 1)
	if err != nil {
		t.Fatalf("创建写入器失败: %v", err)
	}
	return NewEnricher(resolver, strategy, writer, opts...), dir
}

func TestEnricherOrderAndBatches(t *testing.T) {
	titles := []string{"A", "B", "C", "D", "E", "F", "G"}
	registry := metrics.New()
	e, dir := newTestEnricher(t, &fakeResolver{}, &fakeStrategy{}, 3, WithMetrics(registry))

	stats, err := e.Run(context.Background(), makeEntries(titles...), 0)
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}

	records, files := loadRecords(t, dir)
	if files != 3 {
		t.Errorf("批次文件数 = %d, 期望 3 (7条, 每批3条)", files)
	}
	if stats.Batches != 3 {
		t.Errorf("stats.Batches = %d, 期望 3", stats.Batches)
	}
	if len(records) != len(titles) {
		t.Fatalf("记录数 = %d, 期望 %d", len(records), len(titles))
	}
	for i, rec := range records {
		if rec.Title != titles[i] {
			t.Errorf("第%d条记录 = %s, 期望 %s", i, rec.Title, titles[i])
		}
		if rec.Status != models.StatusRegular || rec.Price.String() != "19.99" {
			t.Errorf("%s: status=%s price=%s", rec.Title, rec.Status, rec.Price)
		}
		if rec.TitleID != "ID"+titles[i] {
			t.Errorf("%s: titleId=%s", rec.Title, rec.TitleID)
		}
	}
	if stats.Processed != 7 || stats.ByStatus[models.StatusRegular] != 7 {
		t.Errorf("统计错误: %+v", stats)
	}
}

func TestEnricherPerEntryOutcomes(t *testing.T) {
	resolver := &fakeResolver{
		absent: map[string]bool{"Gone": true},
		panics: map[string]bool{"Broken": true},
		errs: map[string]error{
			"Slow": fmt.Errorf("等待页面: %w", models.ErrTimeout),
			"Down": errors.New("net::ERR_CONNECTION_RESET"),
		},
	}
	strategy := &fakeStrategy{
		errs: map[string]error{"IDFailing": fmt.Errorf("%w: 503", pricing.ErrUpstreamStatus)},
		facts: map[string]pricing.Facts{
			"IDFree": {Found: true, RegularPrice: models.NewPrice(0), ListPrice: models.NewPrice(0),
				Actions: []string{"Details", "Fulfill", "Redeem"}},
			"IDSale":    {Found: true, RegularPrice: models.NewPrice(10), ListPrice: models.NewPrice(7)},
			"IDMissing": {Found: false},
		},
	}

	titles := []string{"Gone", "Broken", "Slow", "Down", "Failing", "Free", "Sale", "Missing", "Fine"}
	e, dir := newTestEnricher(t, resolver, strategy, 5)

	stats, err := e.Run(context.Background(), makeEntries(titles...), 0)
	if err != nil {
		t.Fatalf("单个条目失败不应中止运行: %v", err)
	}

	want := map[string]struct {
		status    models.StatusCode
		price     string
		salePrice string
		storeLink bool
	}{
		"Gone":    {models.StatusDelisted, "-", "-", false},
		"Broken":  {models.StatusError, "-", "-", false},
		"Slow":    {models.StatusTimeout, "-", "-", false},
		"Down":    {models.StatusError, "-", "-", false},
		"Failing": {models.StatusError, "-", "-", true},
		"Free":    {models.StatusFree, "0.00", "-", true},
		"Sale":    {models.StatusSale, "7.00", "10.00", true},
		"Missing": {models.StatusNotListed, "-", "-", true},
		"Fine":    {models.StatusRegular, "19.99", "-", true},
	}

	records, _ := loadRecords(t, dir)
	if len(records) != len(titles) {
		t.Fatalf("记录数 = %d, 期望 %d", len(records), len(titles))
	}
	for _, rec := range records {
		t.Run(rec.Title, func(t *testing.T) {
			w := want[rec.Title]
			if rec.Status != w.status {
				t.Errorf("status = %s, 期望 %s (note: %s)", rec.Status, w.status, rec.Note)
			}
			if rec.Price.String() != w.price || rec.SalePrice.String() != w.salePrice {
				t.Errorf("price = %s/%s, 期望 %s/%s", rec.Price, rec.SalePrice, w.price, w.salePrice)
			}
			if hasLink := rec.StoreLink != models.AbsentSentinel; hasLink != w.storeLink {
				t.Errorf("storeLink = %q", rec.StoreLink)
			}
		})
	}

	if stats.ByStatus[models.StatusError] != 3 {
		t.Errorf("error 计数 = %d, 期望 3", stats.ByStatus[models.StatusError])
	}
}

func TestEnricherBrowserCrash(t *testing.T) {
	t.Run("重启后重试成功", func(t *testing.T) {
		resolver := &fakeResolver{crashes: map[string]int{"B": 1}}
		session := &fakeRestarter{}
		e, dir := newTestEnricher(t, resolver, &fakeStrategy{}, 5, WithSession(session))

		stats, err := e.Run(context.Background(), makeEntries("A", "B", "C"), 0)
		if err != nil {
			t.Fatalf("运行失败: %v", err)
		}
		if session.restarts != 1 || stats.BrowserRestart != 1 {
			t.Errorf("重启次数 = %d/%d, 期望 1", session.restarts, stats.BrowserRestart)
		}
		records, _ := loadRecords(t, dir)
		if len(records) != 3 || records[1].Status != models.StatusRegular {
			t.Errorf("重试后的记录不正确: %+v", records)
		}
	})

	t.Run("重试仍然崩溃记录为error", func(t *testing.T) {
		resolver := &fakeResolver{crashes: map[string]int{"B": 2}}
		session := &fakeRestarter{}
		e, dir := newTestEnricher(t, resolver, &fakeStrategy{}, 5, WithSession(session))

		if _, err := e.Run(context.Background(), makeEntries("A", "B", "C"), 0); err != nil {
			t.Fatalf("运行失败: %v", err)
		}
		records, _ := loadRecords(t, dir)
		if len(records) != 3 {
			t.Fatalf("记录数 = %d, 期望 3", len(records))
		}
		if records[1].Status != models.StatusError || records[2].Status != models.StatusRegular {
			t.Errorf("状态 = %s/%s", records[1].Status, records[2].Status)
		}
		if session.restarts != 2 {
			t.Errorf("重启次数 = %d, 期望 2 (重试一次, 下一条目前再重启一次)", session.restarts)
		}
	})

	t.Run("间隔的多次崩溃不占用重启次数", func(t *testing.T) {
		resolver := &fakeResolver{crashes: map[string]int{"A": 1, "C": 1, "E": 1, "G": 1}}
		session := &fakeRestarter{}
		e, dir := newTestEnricher(t, resolver, &fakeStrategy{}, 5, WithSession(session))

		stats, err := e.Run(context.Background(), makeEntries("A", "B", "C", "D", "E", "F", "G", "H"), 0)
		if err != nil {
			t.Fatalf("成功处理条目后应重新计数: %v", err)
		}
		if session.restarts != 4 || stats.BrowserRestart != 4 {
			t.Errorf("重启次数 = %d/%d, 期望 4", session.restarts, stats.BrowserRestart)
		}
		records, _ := loadRecords(t, dir)
		if len(records) != 8 || stats.ByStatus[models.StatusRegular] != 8 {
			t.Errorf("期望8条原价记录, 实际 %d 条 %+v", len(records), stats.ByStatus)
		}
	})

	t.Run("连续崩溃超过上限时中止", func(t *testing.T) {
		resolver := &fakeResolver{crashes: map[string]int{"B": 2, "C": 2}}
		session := &fakeRestarter{}
		e, dir := newTestEnricher(t, resolver, &fakeStrategy{}, 5, WithSession(session))

		_, err := e.Run(context.Background(), makeEntries("A", "B", "C", "D"), 0)
		if !errors.Is(err, crawlers.ErrMaxRetriesReached) {
			t.Fatalf("期望 ErrMaxRetriesReached, 实际 %v", err)
		}
		records, _ := loadRecords(t, dir)
		if len(records) != 3 || records[1].Status != models.StatusError || records[2].Status != models.StatusError {
			t.Errorf("期望保存A和两条error记录, 实际 %+v", records)
		}
	})

	t.Run("无法重启时中止运行并保存已完成的记录", func(t *testing.T) {
		resolver := &fakeResolver{crashes: map[string]int{"B": 1}}
		session := &fakeRestarter{err: errors.New("已达到最大重试次数")}
		e, dir := newTestEnricher(t, resolver, &fakeStrategy{}, 5, WithSession(session))

		if _, err := e.Run(context.Background(), makeEntries("A", "B", "C"), 0); err == nil {
			t.Fatal("期望返回错误")
		}
		records, _ := loadRecords(t, dir)
		if len(records) != 1 || records[0].Title != "A" {
			t.Errorf("期望只保存A, 实际 %+v", records)
		}
	})
}

func TestEnricherMemoryRecycle(t *testing.T) {
	// 保留值远大于物理内存,每个批次之后都会回收浏览器
	monitor := crawlers.NewResourceMonitor(1 << 40)
	if monitor.Snapshot().TotalMemory == 0 {
		t.Skip("无法读取系统内存")
	}

	titles := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	session := &fakeRestarter{}
	registry := metrics.New()
	e, dir := newTestEnricher(t, &fakeResolver{crashes: map[string]int{"D": 1}}, &fakeStrategy{}, 1,
		WithSession(session), WithResourceMonitor(monitor), WithMetrics(registry))

	stats, err := e.Run(context.Background(), makeEntries(titles...), 0)
	if err != nil {
		t.Fatalf("内存回收不应中止运行: %v", err)
	}
	if session.recycles != len(titles)-1 {
		t.Errorf("回收次数 = %d, 期望 %d", session.recycles, len(titles)-1)
	}
	if session.crashes != 0 {
		t.Errorf("崩溃计数应在成功后清零, 实际 %d", session.crashes)
	}
	if stats.BrowserRestart != len(titles) {
		t.Errorf("BrowserRestart = %d, 期望 %d (回收%d次 + 崩溃1次)", stats.BrowserRestart, len(titles), len(titles)-1)
	}
	records, _ := loadRecords(t, dir)
	if len(records) != len(titles) {
		t.Errorf("记录数 = %d, 期望 %d", len(records), len(titles))
	}
}

func TestEnricherCancelFlushesBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver := &fakeResolver{}
	resolver.onCall = func(title string) {
		if title == "C" {
			cancel()
		}
	}
	e, dir := newTestEnricher(t, resolver, &fakeStrategy{}, 5)

	stats, err := e.Run(ctx, makeEntries("A", "B", "C", "D"), 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled, 实际 %v", err)
	}

	records, files := loadRecords(t, dir)
	if files != 1 || len(records) != 2 {
		t.Errorf("期望1个批次2条记录, 实际 %d 个批次 %d 条", files, len(records))
	}
	if stats.Processed != 2 {
		t.Errorf("Processed = %d, 期望 2", stats.Processed)
	}
}

func TestEnricherSkip(t *testing.T) {
	t.Run("跳过已持久化的前缀", func(t *testing.T) {
		resolver := &fakeResolver{}
		e, dir := newTestEnricher(t, resolver, &fakeStrategy{}, 5)

		stats, err := e.Run(context.Background(), makeEntries("A", "B", "C", "D"), 3)
		if err != nil {
			t.Fatalf("运行失败: %v", err)
		}
		if len(resolver.calls) != 1 || resolver.calls[0] != "D" {
			t.Errorf("处理的条目 = %v, 期望 [D]", resolver.calls)
		}
		if stats.SkippedEntries != 3 || stats.Processed != 1 {
			t.Errorf("统计错误: %+v", stats)
		}
		records, _ := loadRecords(t, dir)
		if len(records) != 1 {
			t.Errorf("记录数 = %d, 期望 1", len(records))
		}
	})

	t.Run("已持久化记录多于输入", func(t *testing.T) {
		e, _ := newTestEnricher(t, &fakeResolver{}, &fakeStrategy{}, 5)
		if _, err := e.Run(context.Background(), makeEntries("A"), 2); err == nil {
			t.Error("期望返回错误")
		}
	})
}
