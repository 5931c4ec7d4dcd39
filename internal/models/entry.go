package models

import (
	"fmt"
	"net/url"
	"strings"
)

// CatalogEntry 目录条目 (由上游页面解析工具生成,只读)
type CatalogEntry struct {
	AchievementLink string   `json:"achievementLink"` // 成就页面链接(运行内的自然键)
	Title           string   `json:"title"`           // 游戏标题
	Platforms       []string `json:"platforms"`       // 平台标签(有序)
	TotalAwards     int      `json:"totalAwards"`     // 成就总数
	TotalPoints     int      `json:"totalPoints"`     // 玩家分总数
}

// Validate 验证条目
// 链接无效的条目仍会被处理,只是最终状态为error
func (e *CatalogEntry) Validate() error {
	if err := ValidateURL(e.AchievementLink); err != nil {
		return fmt.Errorf("成就页面链接无效 [%s]: %w", e.Title, err)
	}
	if e.TotalAwards < 0 || e.TotalPoints < 0 {
		return fmt.Errorf("计数不能为负数 [%s]", e.Title)
	}
	return nil
}

// StoreResolution 商店链接解析结果
// 未找到商店链接是正常的终止结果(下架/未上架),不是错误
type StoreResolution struct {
	StoreLink string // 商店链接,空字符串表示不存在
	ProductID string // 商品ID,空字符串表示不存在
}

// Found 是否找到商店链接
func (r StoreResolution) Found() bool {
	return r.StoreLink != ""
}

// ProductIDFromStoreLink 从商店链接中提取商品ID
// 取URL路径的最后一个非空段,例如:
//
//	https://www.microsoft.com/store/apps/9NBLGGH4R315 -> 9NBLGGH4R315
func ProductIDFromStoreLink(storeLink string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(storeLink))
	if err != nil {
		return "", fmt.Errorf("解析商店链接失败: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("商店链接不是绝对URL: %s", storeLink)
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	productID := segments[len(segments)-1]
	if productID == "" {
		return "", fmt.Errorf("商店链接缺少商品ID: %s", storeLink)
	}

	return productID, nil
}
