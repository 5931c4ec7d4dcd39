// Package classifier 根据归一化的价格信息判断商品的商业状态
package classifier

import (
	"sort"
	"strings"

	"github.com/RecoveryAshes/ExoStore/internal/models"
	"github.com/RecoveryAshes/ExoStore/internal/pricing"
)

// Result 分类结果
//
// 打折时 Price 为折后价(较低), SalePrice 为原价(较高); 其他状态 SalePrice 为 "-"。
type Result struct {
	Status    models.StatusCode
	Price     models.Price
	SalePrice models.Price
	Rule      string // 命中的规则,便于日志排查
}

// 尚未发售商品的固定操作集合(价格全为0时出现)
var pendingReleaseActionSets = [][]string{
	{"Browse", "Curate", "Details", "Fulfill", "Redeem"},
	{"Browse", "Curate", "Details", "Redeem"},
	{"Browse", "Details", "Fulfill", "Redeem"},
}

// 只能兑换、不能购买的商品
var delistedActionSet = []string{"Details", "Redeem"}

// 价格为0时表示可以直接获取的操作
var acquisitionActions = []string{"Purchase", "Fulfill"}

// Classify 按固定优先级判断状态,第一个命中的规则生效
func Classify(f pricing.Facts) Result {
	if f.TimedOut {
		return result(models.StatusTimeout, "timeout")
	}
	if f.Failed {
		return result(models.StatusError, "failed")
	}

	// 1. 预购标记
	if f.IsPreOrder {
		r := result(models.StatusPreOrder, "preorder-flag")
		r.Price = f.PreOrderPrice
		return r
	}

	// 2. 已下架
	if f.Button == pricing.ButtonDisabled || f.Button == pricing.ButtonInstall ||
		pricing.LabelIndicatesDelisted(f.Label) || pricing.LabelIndicatesInstall(f.Label) ||
		actionSetEquals(f.Actions, delistedActionSet) ||
		(allZero(f) && strings.TrimSpace(f.Label) == "" && len(f.Actions) == 0) {
		return result(models.StatusDelisted, "delisted")
	}

	// 3. 预购按钮
	if f.Button == pricing.ButtonPreOrder {
		r := result(models.StatusPreOrder, "preorder-button")
		r.Price = f.PreOrderPrice
		return r
	}

	// 4. 免费
	if f.Button == pricing.ButtonFree || pricing.LabelIndicatesFree(f.Label) ||
		(allZero(f) && hasAcquisition(f.Actions) && !isPendingRelease(f.Actions)) {
		r := result(models.StatusFree, "free")
		r.Price = models.NewPrice(0)
		return r
	}

	// 5. 打折: 原价与当前售价不同
	if f.RegularPrice.IsPositive() && f.ListPrice.IsPositive() && !f.RegularPrice.Equal(f.ListPrice) {
		r := result(models.StatusSale, "sale")
		r.Price, r.SalePrice = f.ListPrice, f.RegularPrice
		if r.SalePrice.Less(r.Price) {
			r.Price, r.SalePrice = r.SalePrice, r.Price
		}
		return r
	}

	// 6. 尚未发售
	if allZero(f) && isPendingRelease(f.Actions) {
		return result(models.StatusNotAvailableYet, "pending-release")
	}

	// 7. 商店中不存在
	if !f.Found {
		return result(models.StatusNotListed, "not-found")
	}

	// 8. 原价销售
	if p := positivePrice(f); p.IsSet() {
		r := result(models.StatusRegular, "regular")
		r.Price = p
		return r
	}

	// 9. 无法判断
	return result(models.StatusError, "unmatched")
}

func result(status models.StatusCode, rule string) Result {
	return Result{
		Status:    status,
		Price:     models.NoPrice(),
		SalePrice: models.NoPrice(),
		Rule:      rule,
	}
}

// allZero 至少有一个价格存在,且所有存在的价格都为0
func allZero(f pricing.Facts) bool {
	present := 0
	for _, p := range []models.Price{f.RegularPrice, f.ListPrice} {
		if !p.IsSet() {
			continue
		}
		if !p.IsZero() {
			return false
		}
		present++
	}
	return present > 0
}

// positivePrice 当前售价优先,其次原价
func positivePrice(f pricing.Facts) models.Price {
	if f.ListPrice.IsPositive() {
		return f.ListPrice
	}
	if f.RegularPrice.IsPositive() {
		return f.RegularPrice
	}
	return models.NoPrice()
}

func hasAcquisition(actions []string) bool {
	for _, a := range actions {
		for _, want := range acquisitionActions {
			if strings.EqualFold(a, want) {
				return true
			}
		}
	}
	return false
}

func isPendingRelease(actions []string) bool {
	for _, set := range pendingReleaseActionSets {
		if actionSetEquals(actions, set) {
			return true
		}
	}
	return false
}

// actionSetEquals 按集合比较(忽略顺序、大小写和重复项)
func actionSetEquals(actions, want []string) bool {
	got := normalizeActions(actions)
	expected := normalizeActions(want)
	if len(got) != len(expected) {
		return false
	}
	for i := range got {
		if got[i] != expected[i] {
			return false
		}
	}
	return true
}

func normalizeActions(actions []string) []string {
	seen := make(map[string]struct{}, len(actions))
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		key := strings.ToLower(strings.TrimSpace(a))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
