package pricing

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/RecoveryAshes/ExoStore/internal/models"
)

// 商店页面使用德语区格式: 逗号为小数点,点为千位分隔符,例如 "1.299,99 €"
var (
	labelPricePattern = regexp.MustCompile(`\d{1,3}(?:\.\d{3})+(?:,\d{1,2})?|\d+(?:,\d{1,2})?`)
	percentPattern    = regexp.MustCompile(`[-−]?\s*\d+(?:,\d+)?\s*%`)
)

var (
	installKeywords  = []string{"installieren", "install"}
	preOrderKeywords = []string{"vorbestellen", "vorbestellung", "pre-order", "preorder", "vorab bestellen"}
	freeKeywords     = []string{"kostenlos", "gratis", "free", "abrufen", "get"}
	saleKeywords     = []string{"ursprünglicher preis", "originalpreis", "original price", "angebot", "sale", "rabatt"}
	buyKeywords      = []string{"kaufen", "buy", "purchase"}

	// "nicht separat erhältlich" 出现在捆绑包内容或订阅专属的商品上,
	// "derzeit nicht verfügbar" 来自已下架商品的 notAvailableMessage 提示。
	// "noch nicht verfügbar" 表示尚未发售,不在此列
	delistedPhrases = []string{
		"nicht separat erhältlich",
		"nicht einzeln erhältlich",
		"derzeit nicht verfügbar",
		"zurzeit nicht verfügbar",
		"momentan nicht verfügbar",
		"nicht mehr verfügbar",
		"not available separately",
		"not sold separately",
		"currently not available",
		"currently unavailable",
		"no longer available",
	}
)

// NormalizeLabel 规范化按钮文字: NFKC(不换行空格等转为普通空格)、小写、合并空白
func NormalizeLabel(label string) string {
	s := norm.NFKC.String(label)
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ParseLocalizedPrice 解析德语区格式的价格,例如 "29,99 €"、"1.299,99"、"EUR 5"
// 与旧工具一致: 只保留数字、点、逗号和负号后再解析
func ParseLocalizedPrice(s string) (models.Price, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			return r
		}
		return -1
	}, norm.NFKC.String(s))
	if cleaned == "" {
		return models.NoPrice(), false
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	case lastDot >= 0 && len(cleaned)-lastDot-1 == 3:
		// "1.299" 中的点是千位分隔符
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return models.NoPrice(), false
	}
	return models.NewPrice(f), true
}

// PricesInLabel 提取文字中的所有价格,按出现顺序返回
func PricesInLabel(label string) []models.Price {
	text := percentPattern.ReplaceAllString(norm.NFKC.String(label), " ")
	matches := labelPricePattern.FindAllString(text, -1)
	prices := make([]models.Price, 0, len(matches))
	for _, m := range matches {
		if p, ok := ParseLocalizedPrice(m); ok {
			prices = append(prices, p)
		}
	}
	return prices
}

// SalePair 从包含两个不同价格的文字中得到 (折后价, 原价)
func SalePair(label string) (discounted, original models.Price, ok bool) {
	prices := PricesInLabel(label)
	if len(prices) < 2 {
		return models.NoPrice(), models.NoPrice(), false
	}

	sort.SliceStable(prices, func(i, j int) bool { return prices[i].Less(prices[j]) })
	low, high := prices[0], prices[len(prices)-1]
	if low.Equal(high) {
		return models.NoPrice(), models.NoPrice(), false
	}
	return low, high, true
}

// SignalFromLabel 根据按钮文字和禁用状态判断按钮信号
func SignalFromLabel(label string, disabled bool) ButtonSignal {
	if disabled {
		return ButtonDisabled
	}

	normalized := NormalizeLabel(label)
	switch {
	case normalized == "":
		return ButtonNone
	case containsAny(normalized, installKeywords):
		return ButtonInstall
	case containsAny(normalized, preOrderKeywords):
		return ButtonPreOrder
	case containsAny(normalized, freeKeywords):
		return ButtonFree
	case containsAny(normalized, saleKeywords):
		return ButtonSale
	case containsAny(normalized, buyKeywords):
		return ButtonPurchase
	}

	if _, _, ok := SalePair(label); ok {
		return ButtonSale
	}
	if len(PricesInLabel(label)) > 0 {
		return ButtonPurchase
	}
	return ButtonNone
}

// LabelIndicatesFree 文字是否表示免费
func LabelIndicatesFree(label string) bool {
	return containsAny(NormalizeLabel(label), freeKeywords)
}

// LabelIndicatesInstall 文字是否为"安装"(已拥有或随订阅提供,不可单独购买)
func LabelIndicatesInstall(label string) bool {
	return containsAny(NormalizeLabel(label), installKeywords)
}

// LabelIndicatesDelisted 文字是否表示不可单独购买
func LabelIndicatesDelisted(label string) bool {
	normalized := NormalizeLabel(label)
	for _, phrase := range delistedPhrases {
		if strings.Contains(normalized, phrase) {
			return true
		}
	}
	return false
}

// containsAny 按单词匹配关键字,避免 "get" 命中 "budget"
func containsAny(normalized string, keywords []string) bool {
	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return r == ' ' || r == ',' || r == ';' || r == ':' || r == '(' || r == ')' || r == '!'
	})
	padded := " " + strings.Join(words, " ") + " "
	for _, kw := range keywords {
		if strings.Contains(padded, " "+kw+" ") {
			return true
		}
	}
	return false
}
