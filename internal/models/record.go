package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StatusCode 商业状态(封闭枚举)
type StatusCode string

const (
	StatusRegular         StatusCode = "regular"           // 原价销售
	StatusSale            StatusCode = "sale"              // 打折中
	StatusFree            StatusCode = "free"              // 免费
	StatusPreOrder        StatusCode = "pre-order"         // 预购
	StatusDelisted        StatusCode = "delisted"          // 已下架
	StatusNotListed       StatusCode = "not-listed"        // 商店中未上架
	StatusNotAvailableYet StatusCode = "not-available-yet" // 尚未发售
	StatusTimeout         StatusCode = "timeout"           // 等待购买按钮超时
	StatusError           StatusCode = "error"             // 处理失败
)

// AllStatuses 所有合法状态,顺序固定
var AllStatuses = []StatusCode{
	StatusRegular,
	StatusSale,
	StatusFree,
	StatusPreOrder,
	StatusDelisted,
	StatusNotListed,
	StatusNotAvailableYet,
	StatusTimeout,
	StatusError,
}

// Valid 是否为合法状态
func (s StatusCode) Valid() bool {
	for _, status := range AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// UnmarshalJSON 拒绝未知状态,批次文件中出现未知状态视为文件损坏
func (s *StatusCode) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	status := StatusCode(raw)
	if !status.Valid() {
		return fmt.Errorf("未知的状态值: %q", raw)
	}
	*s = status
	return nil
}

// EnrichedRecord 补全后的记录
// 写入批次文件后不可变
type EnrichedRecord struct {
	AchievementLink string     `json:"achievementLink"`
	Title           string     `json:"title"`
	Platforms       []string   `json:"platforms"`
	TotalAwards     int        `json:"totalAwards"`
	TotalPoints     int        `json:"totalPoints"`
	StoreLink       string     `json:"storeLink"` // 缺失时为 "-"
	TitleID         string     `json:"titleId"`   // 缺失时为 "-"
	Status          StatusCode `json:"status"`
	Price           Price      `json:"price"`     // 当前价格(打折时为折后价)
	SalePrice       Price      `json:"salePrice"` // 打折时为原价,否则为 "-"
	Note            string     `json:"note,omitempty"`
}

// NewEnrichedRecord 从目录条目创建记录,默认状态为error,价格缺失
func NewEnrichedRecord(entry CatalogEntry) EnrichedRecord {
	platforms := make([]string, len(entry.Platforms))
	copy(platforms, entry.Platforms)

	return EnrichedRecord{
		AchievementLink: entry.AchievementLink,
		Title:           entry.Title,
		Platforms:       platforms,
		TotalAwards:     entry.TotalAwards,
		TotalPoints:     entry.TotalPoints,
		StoreLink:       AbsentSentinel,
		TitleID:         AbsentSentinel,
		Status:          StatusError,
		Price:           NoPrice(),
		SalePrice:       NoPrice(),
	}
}

// WithResolution 写入商店链接和商品ID
func (r EnrichedRecord) WithResolution(res StoreResolution) EnrichedRecord {
	r.StoreLink = orSentinel(res.StoreLink)
	r.TitleID = orSentinel(res.ProductID)
	return r
}

// Normalize 修正旧版批次文件中的空值(null链接、空状态)
func (r EnrichedRecord) Normalize() EnrichedRecord {
	r.StoreLink = orSentinel(r.StoreLink)
	r.TitleID = orSentinel(r.TitleID)
	if !r.Status.Valid() {
		r.Status = StatusError
	}
	if r.Platforms == nil {
		r.Platforms = []string{}
	}
	return r
}

// PlatformsString 平台列表以 ", " 连接
func (r EnrichedRecord) PlatformsString() string {
	return strings.Join(r.Platforms, ", ")
}

func orSentinel(s string) string {
	if strings.TrimSpace(s) == "" {
		return AbsentSentinel
	}
	return s
}
