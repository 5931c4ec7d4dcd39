package checkpoint

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/RecoveryAshes/ExoStore/internal/models"
)

// ReportHeader 最终报告的列
var ReportHeader = []string{
	"Title",
	"Platforms",
	"Total Achievements",
	"Total Gamerscore",
	"Microsoft Store Link",
	"Status",
	"Price",
	"Sale Price",
}

// reportRow 一条记录对应的报告行
func reportRow(rec models.EnrichedRecord) []string {
	return []string{
		rec.Title,
		rec.PlatformsString(),
		strconv.Itoa(rec.TotalAwards),
		strconv.Itoa(rec.TotalPoints),
		rec.StoreLink,
		string(rec.Status),
		rec.Price.String(),
		rec.SalePrice.String(),
	}
}

// WriteReport 写出CSV报告: 每个字段都加双引号,字段内的双引号写成两个
// encoding/csv 只在必要时加引号,无法满足下游工具对固定格式的要求
func WriteReport(w io.Writer, records []models.EnrichedRecord) error {
	bw := bufio.NewWriter(w)

	if err := writeQuotedRow(bw, ReportHeader, false); err != nil {
		return err
	}
	for _, rec := range records {
		if err := writeQuotedRow(bw, reportRow(rec), true); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeQuotedRow(w *bufio.Writer, fields []string, quote bool) error {
	for i, field := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if !quote {
			if _, err := w.WriteString(field); err != nil {
				return err
			}
			continue
		}
		if _, err := w.WriteString(`"` + strings.ReplaceAll(field, `"`, `""`) + `"`); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\n")
	return err
}
