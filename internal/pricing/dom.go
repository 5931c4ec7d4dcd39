package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RecoveryAshes/ExoStore/internal/models"
	"github.com/RecoveryAshes/ExoStore/internal/utils"
)

// DefaultButtonSelectors 商店页面购买区域的控件
var DefaultButtonSelectors = []string{
	"#buttonPanel_AppIdentityBuyButton",
	"#buttonPanel_AppIdentityPreorderButton",
	"button[data-automation-id='purchaseButton']",
	"button[aria-label*='Kaufen']",
	"button[aria-label*='Vorbestellen']",
	"button[aria-label*='Installieren']",
	"button[aria-label*='Kostenlos']",
	"[data-automation-id='notAvailableMessage']",
}

// DOMConfig 页面按钮策略配置
type DOMConfig struct {
	ButtonSelectors []string
	ButtonTimeout   time.Duration
}

// DOMStrategy 直接打开商店页面,从购买按钮推断价格和状态
type DOMStrategy struct {
	nav    models.Navigator
	config DOMConfig
}

// NewDOMStrategy 创建页面按钮策略
func NewDOMStrategy(nav models.Navigator, config DOMConfig) *DOMStrategy {
	if len(config.ButtonSelectors) == 0 {
		config.ButtonSelectors = DefaultButtonSelectors
	}
	if config.ButtonTimeout <= 0 {
		config.ButtonTimeout = 10 * time.Second
	}
	return &DOMStrategy{nav: nav, config: config}
}

// Name 策略名称
func (s *DOMStrategy) Name() string {
	return "dom"
}

// Resolve 打开商店页面并读取购买按钮
// 所有选择器都未在超时内出现时立即返回超时,不再继续判断
func (s *DOMStrategy) Resolve(ctx context.Context, target Target) (Facts, error) {
	if target.StoreLink == "" {
		err := errors.New("缺少商店链接")
		return FactsFromError(err), err
	}

	if err := s.nav.Open(ctx, target.StoreLink); err != nil {
		err = fmt.Errorf("打开商店页面失败: %w", err)
		return FactsFromError(err), err
	}

	matched, err := s.nav.WaitForAny(ctx, s.config.ButtonSelectors, s.config.ButtonTimeout)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			utils.Warnf("⏱️  等待购买按钮超时 (%s): %s", s.config.ButtonTimeout, target.StoreLink)
		}
		return FactsFromError(err), err
	}
	utils.Debugf("购买按钮已出现: %s", matched)

	controls, err := s.nav.Query(ctx, strings.Join(s.config.ButtonSelectors, ", "))
	if err != nil {
		err = fmt.Errorf("读取购买按钮失败: %w", err)
		return FactsFromError(err), err
	}

	return FactsFromControls(controls), nil
}

// FactsFromControls 从购买区域的控件推断价格信息
//
// 主控件的选择: 表示"不可单独购买"的控件优先,其次是文档顺序中第一个有明确信号的控件。
// 主控件文字中若有两个不同价格,较低者为当前售价、较高者为原价。
func FactsFromControls(controls []models.ElementInfo) Facts {
	facts := Facts{Button: ButtonNone, Found: true}
	if len(controls) == 0 {
		facts.Note = "未找到购买控件"
		return facts
	}

	primary := -1
	for i, c := range controls {
		if LabelIndicatesDelisted(c.Label()) {
			primary = i
			break
		}
	}
	if primary < 0 {
		for i, c := range controls {
			if SignalFromLabel(c.Label(), c.Disabled) != ButtonNone {
				primary = i
				break
			}
		}
	}
	if primary < 0 {
		primary = 0
	}

	control := controls[primary]
	facts.Label = strings.TrimSpace(control.Label())
	facts.Button = SignalFromLabel(facts.Label, control.Disabled)

	if discounted, original, ok := SalePair(facts.Label); ok {
		facts.ListPrice = discounted
		facts.RegularPrice = original
	} else if prices := PricesInLabel(facts.Label); len(prices) > 0 {
		facts.ListPrice = prices[0]
		facts.RegularPrice = prices[0]
	}

	if facts.Button == ButtonPreOrder {
		facts.PreOrderPrice = facts.ListPrice
	}

	return facts
}
