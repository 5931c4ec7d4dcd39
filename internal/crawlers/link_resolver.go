package crawlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/RecoveryAshes/ExoStore/internal/models"
	"github.com/RecoveryAshes/ExoStore/internal/utils"
)

// DefaultStoreLinkSelector 成就页面详情区域中指向商店的链接
const DefaultStoreLinkSelector = "dd > a[href*='microsoft.com/store/apps/']"

// LinkResolver 从成就页面解析商店链接
type LinkResolver interface {
	// Resolve 未找到链接时返回空的 StoreResolution 和nil错误
	Resolve(ctx context.Context, entry models.CatalogEntry) (models.StoreResolution, error)
}

// resolution 由商店链接得到商品ID
// 商品ID无法解析时保留链接并返回错误,由调用方记录为error
func resolution(storeLink string) (models.StoreResolution, error) {
	res := models.StoreResolution{StoreLink: storeLink}
	productID, err := models.ProductIDFromStoreLink(storeLink)
	if err != nil {
		return res, err
	}
	res.ProductID = productID
	return res, nil
}

// BrowserLinkResolver 使用浏览器会话解析(页面由客户端渲染时需要)
type BrowserLinkResolver struct {
	nav             models.Navigator
	selector        string
	networkIdleWait time.Duration
}

// NewBrowserLinkResolver 创建浏览器链接解析器
func NewBrowserLinkResolver(nav models.Navigator, selector string, networkIdleWait time.Duration) *BrowserLinkResolver {
	if selector == "" {
		selector = DefaultStoreLinkSelector
	}
	return &BrowserLinkResolver{nav: nav, selector: selector, networkIdleWait: networkIdleWait}
}

// Resolve 打开成就页面,取第一个匹配的商店链接
func (r *BrowserLinkResolver) Resolve(ctx context.Context, entry models.CatalogEntry) (models.StoreResolution, error) {
	if err := r.nav.Open(ctx, entry.AchievementLink); err != nil {
		return models.StoreResolution{}, fmt.Errorf("打开成就页面失败: %w", err)
	}

	if r.networkIdleWait > 0 {
		if err := r.nav.WaitNetworkIdle(ctx, r.networkIdleWait); err != nil {
			return models.StoreResolution{}, err
		}
	}

	anchors, err := r.nav.Query(ctx, r.selector)
	if err != nil {
		return models.StoreResolution{}, fmt.Errorf("查询商店链接失败: %w", err)
	}

	for _, a := range anchors {
		if a.Href != "" {
			utils.Debugf("找到商店链接: %s", a.Href)
			return resolution(a.Href)
		}
	}

	utils.Infof("未找到商店链接: %s", entry.Title)
	return models.StoreResolution{}, nil
}

// StaticLinkResolver 直接请求服务端渲染的HTML解析,不需要浏览器
type StaticLinkResolver struct {
	selector string
	client   *http.Client
	headers  models.HeaderProvider
}

// NewStaticLinkResolver 创建静态链接解析器
func NewStaticLinkResolver(selector string, timeout time.Duration, headers models.HeaderProvider) *StaticLinkResolver {
	if selector == "" {
		selector = DefaultStoreLinkSelector
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StaticLinkResolver{
		selector: selector,
		client:   &http.Client{Timeout: timeout},
		headers:  headers,
	}
}

// Resolve 请求成就页面并用colly解析第一个匹配的商店链接
func (r *StaticLinkResolver) Resolve(ctx context.Context, entry models.CatalogEntry) (models.StoreResolution, error) {
	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
	)
	c.SetClient(r.client)

	var headers http.Header
	if r.headers != nil {
		h, err := r.headers.GetHeaders()
		if err != nil {
			return models.StoreResolution{}, fmt.Errorf("获取HTTP头部失败: %w", err)
		}
		headers = h
	}

	c.OnRequest(func(req *colly.Request) {
		for name, values := range headers {
			req.Headers.Del(name)
			for _, v := range values {
				req.Headers.Add(name, v)
			}
		}
	})

	var storeLink string
	c.OnHTML(r.selector, func(e *colly.HTMLElement) {
		if storeLink != "" {
			return
		}
		if href := strings.TrimSpace(e.Attr("href")); href != "" {
			storeLink = e.Request.AbsoluteURL(href)
		}
	})

	var visitErr error
	c.OnError(func(resp *colly.Response, err error) {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		visitErr = fmt.Errorf("请求成就页面失败 [%d]: %w", status, err)
	})

	if err := c.Visit(entry.AchievementLink); err != nil && visitErr == nil {
		visitErr = fmt.Errorf("请求成就页面失败: %w", err)
	}
	if visitErr != nil {
		if ctx.Err() != nil {
			return models.StoreResolution{}, ctx.Err()
		}
		return models.StoreResolution{}, visitErr
	}

	if storeLink == "" {
		utils.Infof("未找到商店链接: %s", entry.Title)
		return models.StoreResolution{}, nil
	}
	return resolution(storeLink)
}
