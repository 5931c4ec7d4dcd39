package crawlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/RecoveryAshes/ExoStore/internal/models"
	"github.com/RecoveryAshes/ExoStore/internal/utils"
)

// maxBrowserRetries 浏览器连续崩溃的最大重启次数,成功处理一个条目后重新计数
const maxBrowserRetries = 3

// ErrMaxRetriesReached 浏览器重启次数已用尽
var ErrMaxRetriesReached = errors.New("已达最大重试次数")

// SessionConfig 浏览器会话配置
type SessionConfig struct {
	ProfileDir        string        // 持久化的浏览器配置目录(包含登录态)
	Headless          bool          // 无头模式
	BrowserBin        string        // 浏览器可执行文件,为空时自动查找
	SettleDelay       time.Duration // 页面加载后的固定等待时间
	NavigationTimeout time.Duration // 单次导航超时
	Stealth           bool          // 使用 go-rod/stealth 隐藏自动化特征

	Headers models.HeaderProvider
}

// Session 浏览器导航会话
// 整个运行期间只使用一个浏览器和一个标签页,仅在浏览器崩溃或内存不足时重启
type Session struct {
	config SessionConfig

	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page

	restarts int // 累计重启次数(崩溃和回收)
	crashes  int // 连续崩溃重启次数
	mu       sync.Mutex
}

// NewSession 创建浏览器会话(尚未启动)
func NewSession(config SessionConfig) *Session {
	if config.ProfileDir == "" {
		config.ProfileDir = "user-data"
	}
	if config.SettleDelay < 0 {
		config.SettleDelay = 0
	}
	if config.NavigationTimeout <= 0 {
		config.NavigationTimeout = 60 * time.Second
	}
	return &Session{config: config}
}

// Start 启动浏览器并打开工作标签页
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launch()
}

func (s *Session) launch() error {
	l := launcher.New().
		UserDataDir(s.config.ProfileDir).
		Headless(s.config.Headless).
		Set("disable-blink-features", "AutomationControlled")
	if s.config.BrowserBin != "" {
		l = l.Bin(s.config.BrowserBin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("启动浏览器失败: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("连接浏览器失败: %w", err)
	}

	var page *rod.Page
	if s.config.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		browser.Close()
		l.Kill()
		return fmt.Errorf("创建标签页失败: %w", err)
	}

	if err := s.applyHeaders(page); err != nil {
		utils.Warnf("设置浏览器请求头失败: %v", err)
	}

	s.launcher = l
	s.browser = browser
	s.page = page
	utils.Debugf("浏览器已启动: %s (配置目录: %s)", controlURL, s.config.ProfileDir)
	return nil
}

// applyHeaders 浏览器自身管理Cookie和编码,这两类头部不覆盖
func (s *Session) applyHeaders(page *rod.Page) error {
	if s.config.Headers == nil {
		return nil
	}
	headers, err := s.config.Headers.GetHeaders()
	if err != nil {
		return err
	}

	var dict []string
	for name, values := range headers {
		lower := strings.ToLower(name)
		if lower == "cookie" || lower == "accept-encoding" || len(values) == 0 {
			continue
		}
		dict = append(dict, name, values[0])
	}
	if len(dict) == 0 {
		return nil
	}
	_, err = page.SetExtraHeaders(dict)
	return err
}

// Restart 浏览器崩溃后关闭并在同一配置目录上重新启动
// 连续崩溃超过 maxBrowserRetries 次返回 ErrMaxRetriesReached
func (s *Session) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.crashes >= maxBrowserRetries {
		return fmt.Errorf("浏览器连续崩溃,%w (%d)", ErrMaxRetriesReached, maxBrowserRetries)
	}
	s.crashes++
	s.restarts++
	utils.Warnf("浏览器崩溃,准备重启(重试%d/%d)", s.crashes, maxBrowserRetries)

	s.close()
	time.Sleep(2 * time.Second)
	return s.launch()
}

// Recycle 内存不足时重启浏览器,不占用崩溃重启次数
func (s *Session) Recycle() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.restarts++
	utils.Infof("♻️  回收浏览器(累计重启%d次)", s.restarts)

	s.close()
	return s.launch()
}

// Healthy 成功处理一个条目后调用,清零连续崩溃计数
func (s *Session) Healthy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crashes = 0
}

// Restarts 累计重启次数
func (s *Session) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Close 关闭浏览器
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.close()
}

func (s *Session) close() {
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			utils.Debugf("关闭浏览器失败: %v", err)
		}
		s.browser = nil
		s.page = nil
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher = nil
	}
	utils.Debugf("浏览器已关闭")
}

// Open 打开页面,等待DOMContentLoaded后再等待固定的稳定时间
func (s *Session) Open(ctx context.Context, url string) (err error) {
	defer s.recoverCrash(&err)

	page, err := s.currentPage()
	if err != nil {
		return err
	}

	navCtx, cancel := context.WithTimeout(ctx, s.config.NavigationTimeout)
	defer cancel()
	p := page.Context(navCtx)

	wait := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := p.Navigate(url); err != nil {
		return s.classify(ctx, fmt.Errorf("导航失败 [%s]: %w", url, err))
	}
	wait()

	if navCtx.Err() != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: 页面加载超时 [%s]", models.ErrTimeout, url)
	}

	return sleepContext(ctx, s.config.SettleDelay)
}

// WaitNetworkIdle 等待网络空闲,超时只记录日志
func (s *Session) WaitNetworkIdle(ctx context.Context, timeout time.Duration) (err error) {
	defer s.recoverCrash(&err)

	page, err := s.currentPage()
	if err != nil {
		return err
	}

	idleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	waitIdle := page.Context(idleCtx).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)
	waitIdle()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if idleCtx.Err() != nil {
		utils.Debugf("等待网络空闲超时 (%s),继续处理", timeout)
	}
	return nil
}

// WaitForAny 等待任意一个选择器出现,返回命中的选择器
func (s *Session) WaitForAny(ctx context.Context, selectors []string, timeout time.Duration) (matched string, err error) {
	defer s.recoverCrash(&err)

	if len(selectors) == 0 {
		return "", errors.New("选择器列表为空")
	}

	page, err := s.currentPage()
	if err != nil {
		return "", err
	}

	raceCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	race := page.Context(raceCtx).Race()
	for _, selector := range selectors {
		sel := selector
		race = race.Element(sel).Handle(func(*rod.Element) error {
			matched = sel
			return nil
		})
	}

	if _, err := race.Do(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if raceCtx.Err() != nil {
			return "", fmt.Errorf("%w: %s内未出现任何目标元素", models.ErrTimeout, timeout)
		}
		return "", s.classify(ctx, fmt.Errorf("等待元素失败: %w", err))
	}
	return matched, nil
}

// Query 返回当前页面中匹配选择器的所有元素快照
func (s *Session) Query(ctx context.Context, selector string) (infos []models.ElementInfo, err error) {
	defer s.recoverCrash(&err)

	page, err := s.currentPage()
	if err != nil {
		return nil, err
	}

	elements, err := page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, s.classify(ctx, fmt.Errorf("查询元素失败 [%s]: %w", selector, err))
	}

	infos = make([]models.ElementInfo, 0, len(elements))
	for _, el := range elements {
		info := models.ElementInfo{}
		if text, err := el.Text(); err == nil {
			info.Text = strings.TrimSpace(text)
		}
		info.AriaLabel = attribute(el, "aria-label")
		info.Href = attribute(el, "href")
		if disabled, err := el.Attribute("disabled"); err == nil && disabled != nil {
			info.Disabled = true
		}
		if attribute(el, "aria-disabled") == "true" {
			info.Disabled = true
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func attribute(el *rod.Element, name string) string {
	value, err := el.Attribute(name)
	if err != nil || value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func (s *Session) currentPage() (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil, fmt.Errorf("%w: 浏览器未启动", models.ErrBrowserCrashed)
	}
	return s.page, nil
}

// recoverCrash rod在连接断开时会panic,统一转换为 ErrBrowserCrashed
func (s *Session) recoverCrash(err *error) {
	if r := recover(); r != nil {
		utils.Errorf("浏览器操作panic: %v", r)
		*err = fmt.Errorf("%w: %v", models.ErrBrowserCrashed, r)
	}
}

// classify 区分超时、取消和浏览器崩溃
func (s *Session) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}
	if !s.alive() {
		return fmt.Errorf("%w: %v", models.ErrBrowserCrashed, err)
	}
	return err
}

// alive 通过CDP查询浏览器版本判断连接是否正常
func (s *Session) alive() bool {
	s.mu.Lock()
	browser := s.browser
	s.mu.Unlock()
	if browser == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := proto.BrowserGetVersion{}.Call(browser.Context(ctx))
	return err == nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
