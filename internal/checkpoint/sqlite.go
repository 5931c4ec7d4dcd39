package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/RecoveryAshes/ExoStore/internal/models"
)

const sqliteTable = "store_records"

var sqliteColumns = []string{
	"position",
	"title",
	"platforms",
	"total_awards",
	"total_points",
	"achievement_link",
	"store_link",
	"title_id",
	"status",
	"price",
	"sale_price",
	"note",
}

// WriteSQLite 将合并后的记录写入SQLite,表内容整体替换为本次合并结果
// 价格保存为与CSV相同的文本表示,缺失值为 "-"
func WriteSQLite(ctx context.Context, path string, records []models.EnrichedRecord) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("打开SQLite失败: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS "`+sqliteTable+`" (
		"position" INTEGER PRIMARY KEY,
		"title" TEXT NOT NULL,
		"platforms" TEXT,
		"total_awards" INTEGER,
		"total_points" INTEGER,
		"achievement_link" TEXT,
		"store_link" TEXT,
		"title_id" TEXT,
		"status" TEXT NOT NULL,
		"price" TEXT,
		"sale_price" TEXT,
		"note" TEXT
	)`); err != nil {
		return fmt.Errorf("创建SQLite表失败: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM "`+sqliteTable+`"`); err != nil {
		return fmt.Errorf("清空SQLite表失败: %w", err)
	}

	ph := strings.TrimRight(strings.Repeat("?,", len(sqliteColumns)), ",")
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO "`+sqliteTable+`" (`+strings.Join(sqliteColumns, ",")+`) VALUES (`+ph+`)`)
	if err != nil {
		return fmt.Errorf("准备插入语句失败: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			i+1,
			rec.Title,
			rec.PlatformsString(),
			rec.TotalAwards,
			rec.TotalPoints,
			rec.AchievementLink,
			rec.StoreLink,
			rec.TitleID,
			string(rec.Status),
			rec.Price.String(),
			rec.SalePrice.String(),
			rec.Note,
		); err != nil {
			return fmt.Errorf("写入第%d条记录失败: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}
