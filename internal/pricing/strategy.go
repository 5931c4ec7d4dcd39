// Package pricing 负责查询商品的价格和可购买状态
//
// 两种策略(商品API / 商店页面按钮)产出同一种归一化的 Facts,
// 状态分类只依赖 Facts,切换策略不影响分类逻辑。
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/RecoveryAshes/ExoStore/internal/models"
)

var (
	// ErrTimeout 等待购买按钮或请求超时
	ErrTimeout = models.ErrTimeout

	// ErrUpstreamStatus 商品API返回非2xx状态码
	ErrUpstreamStatus = errors.New("商品API返回异常状态码")
)

// ButtonSignal 购买按钮信号
type ButtonSignal string

const (
	ButtonNone     ButtonSignal = "none"
	ButtonInstall  ButtonSignal = "install"
	ButtonFree     ButtonSignal = "free"
	ButtonPreOrder ButtonSignal = "preorder"
	ButtonSale     ButtonSignal = "sale"
	ButtonPurchase ButtonSignal = "purchase"
	ButtonDisabled ButtonSignal = "disabled"
)

// Target 待查询的商品
type Target struct {
	ProductID string
	StoreLink string
}

// Facts 归一化后的价格信息
type Facts struct {
	RegularPrice   models.Price // 原价 (API: MSRP / StrikethroughPrice)
	ListPrice      models.Price // 当前售价
	WholesalePrice models.Price
	PreOrderPrice  models.Price

	Actions    []string // 可用操作集合,如 Details, Purchase, Fulfill, Redeem
	IsPreOrder bool
	Button     ButtonSignal
	Label      string // 按钮文字或API的DisplayPrice

	Found    bool // 商品ID是否在响应中找到
	Failed   bool // 请求失败或响应无法解析
	TimedOut bool
	Note     string
}

// Strategy 价格查询策略
type Strategy interface {
	// Name 策略名称 ("api" 或 "dom")
	Name() string

	// Resolve 查询商品价格
	// 返回error时 Facts 仍然有效(Failed或TimedOut已设置),调用方可以直接分类
	Resolve(ctx context.Context, target Target) (Facts, error)
}

// FactsFromError 将错误转换为Facts
func FactsFromError(err error) Facts {
	facts := Facts{Button: ButtonNone, Note: err.Error()}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		facts.TimedOut = true
	} else {
		facts.Failed = true
	}
	return facts
}

// HasAction 是否包含某个操作(忽略大小写)
func (f Facts) HasAction(action string) bool {
	for _, a := range f.Actions {
		if strings.EqualFold(a, action) {
			return true
		}
	}
	return false
}

// String 日志输出用
func (f Facts) String() string {
	return fmt.Sprintf("regular=%s list=%s wholesale=%s preorder=%v(%s) button=%s label=%q actions=%v found=%v",
		f.RegularPrice, f.ListPrice, f.WholesalePrice, f.IsPreOrder, f.PreOrderPrice,
		f.Button, f.Label, f.Actions, f.Found)
}
