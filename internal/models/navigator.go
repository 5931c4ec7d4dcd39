package models

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout 等待页面元素或请求超时
	ErrTimeout = errors.New("等待超时")

	// ErrBrowserCrashed 浏览器崩溃或连接断开,需要重启会话
	ErrBrowserCrashed = errors.New("浏览器已崩溃")
)

// ElementInfo 页面元素快照
type ElementInfo struct {
	Text      string
	AriaLabel string
	Href      string
	Disabled  bool
}

// Label 优先使用无障碍标签,其次是可见文字
func (e ElementInfo) Label() string {
	if e.AriaLabel != "" {
		return e.AriaLabel
	}
	return e.Text
}

// Navigator 浏览器导航会话
// 整个运行期间复用同一个会话(Cookie和登录态保持不变)
type Navigator interface {
	// Open 打开页面,至少等待到DOMContentLoaded,然后等待固定的稳定时间
	Open(ctx context.Context, url string) error

	// WaitNetworkIdle 等待网络空闲,超时不视为错误
	WaitNetworkIdle(ctx context.Context, timeout time.Duration) error

	// WaitForAny 等待任意一个选择器出现,超时返回 ErrTimeout
	WaitForAny(ctx context.Context, selectors []string, timeout time.Duration) (string, error)

	// Query 返回当前页面中匹配选择器的所有元素
	Query(ctx context.Context, selector string) ([]ElementInfo, error)
}
