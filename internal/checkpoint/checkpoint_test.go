package checkpoint

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RecoveryAshes/ExoStore/internal/models"
)

func record(i int) models.EnrichedRecord {
	rec := models.NewEnrichedRecord(models.CatalogEntry{
		AchievementLink: fmt.Sprintf("https://example.com/game/%d/achievements", i),
		Title:           fmt.Sprintf("Game %d", i),
		Platforms:       []string{"Xbox One", "PC"},
		TotalAwards:     i,
		TotalPoints:     i * 10,
	})
	rec.Status = models.StatusRegular
	rec.Price = models.NewPrice(float64(i))
	return rec
}

func countBatchFiles(t *testing.T, dir string) int {
	t.Helper()
	files, err := listBatchFiles(dir)
	if err != nil {
		t.Fatalf("列出批次文件失败: %v", err)
	}
	return len(files)
}

func TestWriterBatchBoundary(t *testing.T) {
	tests := []struct {
		k, n  int
		files int
	}{
		{0, 5, 0},
		{4, 5, 1},
		{5, 5, 1},
		{6, 5, 2},
		{10, 5, 2},
		{11, 5, 3},
		{7, 1, 7},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("k=%d,n=%d", tt.k, tt.n), func(t *testing.T) {
			dir := t.TempDir()
			w, err := NewWriter(dir, tt.n, 1)
			if err != nil {
				t.Fatalf("创建写入器失败: %v", err)
			}

			for i := 1; i <= tt.k; i++ {
				if err := w.Record(record(i)); err != nil {
					t.Fatalf("写入记录失败: %v", err)
				}
				// 刚好满一批时立即落盘
				if i%tt.n == 0 && countBatchFiles(t, dir) != i/tt.n {
					t.Fatalf("第%d条后批次文件数错误", i)
				}
			}
			if err := w.Close(); err != nil {
				t.Fatalf("关闭写入器失败: %v", err)
			}

			if got := countBatchFiles(t, dir); got != tt.files {
				t.Errorf("批次文件数: 期望 %d, 得到 %d", tt.files, got)
			}
			if w.BatchesWritten() != tt.files {
				t.Errorf("BatchesWritten: 期望 %d, 得到 %d", tt.files, w.BatchesWritten())
			}
		})
	}
}

func TestWriterRejectsAfterClose(t *testing.T) {
	w, err := NewWriter(t.TempDir(), 5, 1)
	if err != nil {
		t.Fatalf("创建写入器失败: %v", err)
	}
	w.Close()
	if err := w.Record(record(1)); err == nil {
		t.Error("关闭后写入应返回错误")
	}
}

func TestWriterFailureIsReported(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1, 1)
	if err != nil {
		t.Fatalf("创建写入器失败: %v", err)
	}

	// 批次目录被替换为文件后写入必然失败
	os.RemoveAll(dir)
	os.WriteFile(dir, []byte("x"), 0644)
	defer os.Remove(dir)

	if err := w.Record(record(1)); err == nil {
		t.Error("写入失败必须返回错误")
	}
}

func TestScanForResume(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewWriter(dir, 2, 1)
	for i := 1; i <= 5; i++ {
		w.Record(record(i))
	}
	w.Close()

	scan, err := Scan(dir)
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if len(scan.Files) != 3 || scan.Records != 5 || scan.NextSequence != 4 {
		t.Errorf("扫描结果错误: files=%d records=%d next=%d", len(scan.Files), scan.Records, scan.NextSequence)
	}

	// 续跑时从下一个序号继续
	w2, _ := NewWriter(dir, 2, scan.NextSequence)
	w2.Record(record(6))
	w2.Close()
	if _, err := os.Stat(filepath.Join(dir, models.BatchFilename(4))); err != nil {
		t.Errorf("续跑批次应为序号4: %v", err)
	}

	empty, err := Scan(filepath.Join(dir, "missing"))
	if err != nil || len(empty.Files) != 0 || empty.NextSequence != 1 {
		t.Errorf("不存在的目录应返回空结果: %+v %v", empty, err)
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("打开CSV失败: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("解析CSV失败: %v", err)
	}
	return rows
}

func TestMergeEmpty(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "report.csv")

	result, err := MergeAll(context.Background(), MergeConfig{PartialDir: filepath.Join(dir, "partials"), CSVFile: csvPath})
	if err != nil {
		t.Fatalf("合并失败: %v", err)
	}
	if result.Rows != 0 {
		t.Errorf("空合并行数应为0: %d", result.Rows)
	}

	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("读取报告失败: %v", err)
	}
	want := strings.Join(ReportHeader, ",") + "\n"
	if string(data) != want {
		t.Errorf("空合并只应有表头:\n期望 %q\n得到 %q", want, string(data))
	}
}

func TestMergeOrderAndCleanup(t *testing.T) {
	dir := t.TempDir()
	partials := filepath.Join(dir, "partials")
	csvPath := filepath.Join(dir, "report.csv")

	w, _ := NewWriter(partials, 3, 1)
	for i := 1; i <= 6; i++ {
		w.Record(record(i))
	}
	w.Close()

	// 旧版文件名 partial_10.json 必须排在 partial_000002.json 之后
	legacy := `[{"achievementLink": "https://example.com/legacy", "title": "Legacy", "platforms": ["PC"],
  "totalAwards": 1, "totalPoints": 5, "storeLink": null, "status": "delisted", "price": "-", "salePrice": "-"}]`
	os.WriteFile(filepath.Join(partials, "partial_10.json"), []byte(legacy), 0644)

	result, err := MergeAll(context.Background(), MergeConfig{PartialDir: partials, CSVFile: csvPath})
	if err != nil {
		t.Fatalf("合并失败: %v", err)
	}
	if result.Batches != 3 || result.Rows != 7 {
		t.Errorf("合并结果错误: %+v", result)
	}

	rows := readCSV(t, csvPath)
	if len(rows) != 8 {
		t.Fatalf("行数错误: %d", len(rows))
	}
	for i := 1; i <= 6; i++ {
		if rows[i][0] != fmt.Sprintf("Game %d", i) {
			t.Errorf("第%d行顺序错误: %v", i, rows[i])
		}
	}
	if rows[7][0] != "Legacy" || rows[7][4] != "-" || rows[7][5] != "delisted" {
		t.Errorf("旧版批次处理错误: %v", rows[7])
	}
	if rows[1][1] != "Xbox One, PC" || rows[1][6] != "1.00" || rows[1][7] != "-" {
		t.Errorf("字段格式错误: %v", rows[1])
	}

	if n := countBatchFiles(t, partials); n != 0 {
		t.Errorf("合并后批次文件应被删除, 剩余 %d", n)
	}
}

func TestMergeCorruptBatchKeepsFiles(t *testing.T) {
	dir := t.TempDir()
	partials := filepath.Join(dir, "partials")

	w, _ := NewWriter(partials, 1, 1)
	w.Record(record(1))
	w.Close()
	os.WriteFile(filepath.Join(partials, models.BatchFilename(2)), []byte(`[{"title": "broken"`), 0644)

	_, err := MergeAll(context.Background(), MergeConfig{PartialDir: partials, CSVFile: filepath.Join(dir, "report.csv")})
	if err == nil {
		t.Fatal("损坏的批次文件应导致合并失败")
	}
	if n := countBatchFiles(t, partials); n != 2 {
		t.Errorf("失败时批次文件应全部保留, 剩余 %d", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "report.csv")); !errors.Is(err, os.ErrNotExist) {
		t.Error("失败时不应生成报告")
	}
}

func TestCSVEscapingRoundTrip(t *testing.T) {
	rec := record(1)
	rec.Title = `Tom Clancy's "Rainbow Six", Siege`
	rec.Platforms = []string{"Xbox Series X|S", "Xbox One"}

	var buf strings.Builder
	if err := WriteReport(&buf, []models.EnrichedRecord{rec}); err != nil {
		t.Fatalf("写CSV失败: %v", err)
	}

	if !strings.Contains(buf.String(), `"Tom Clancy's ""Rainbow Six"", Siege"`) {
		t.Errorf("双引号应被转义: %s", buf.String())
	}

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("解析CSV失败: %v", err)
	}
	if len(rows[1]) != len(ReportHeader) {
		t.Fatalf("列数错误: %d", len(rows[1]))
	}
	if rows[1][0] != rec.Title || rows[1][1] != "Xbox Series X|S, Xbox One" {
		t.Errorf("往返后内容不一致: %v", rows[1])
	}
}

func TestMergeSQLiteSink(t *testing.T) {
	dir := t.TempDir()
	partials := filepath.Join(dir, "partials")
	dbPath := filepath.Join(dir, "report.db")

	w, _ := NewWriter(partials, 2, 1)
	for i := 1; i <= 3; i++ {
		w.Record(record(i))
	}
	w.Close()

	if _, err := MergeAll(context.Background(), MergeConfig{
		PartialDir: partials,
		CSVFile:    filepath.Join(dir, "report.csv"),
		SQLiteFile: dbPath,
	}); err != nil {
		t.Fatalf("合并失败: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("打开SQLite失败: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM store_records`).Scan(&count); err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if count != 3 {
		t.Errorf("记录数: 期望 3, 得到 %d", count)
	}

	var title, titleID, price string
	if err := db.QueryRow(`SELECT title, title_id, price FROM store_records WHERE position = 2`).Scan(&title, &titleID, &price); err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if title != "Game 2" || titleID != "-" || price != "2.00" {
		t.Errorf("字段错误: %s %s %s", title, titleID, price)
	}
}
