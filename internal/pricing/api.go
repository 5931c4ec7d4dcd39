package pricing

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"
	"golang.org/x/net/publicsuffix"

	"github.com/RecoveryAshes/ExoStore/internal/models"
	"github.com/RecoveryAshes/ExoStore/internal/utils"
)

// 旧工具使用的商品接口默认参数
const (
	DefaultEndpoint     = "https://storeedgefd.dsx.mp.microsoft.com/v9.0/products"
	DefaultMarket       = "DE"
	DefaultLocale       = "de-de"
	DefaultDeviceFamily = "Windows.Desktop"
)

// APIConfig 商品API策略配置
type APIConfig struct {
	Endpoint     string
	Market       string
	Locale       string
	DeviceFamily string

	RequestTimeout time.Duration
	Retries        int           // 传输错误和5xx的重试次数
	RetryDelay     time.Duration // 固定重试间隔

	Headers models.HeaderProvider
}

// APIStrategy 通过商品API查询价格
type APIStrategy struct {
	config APIConfig
	client *http.Client
	now    func() time.Time
}

// NewAPIStrategy 创建商品API策略
func NewAPIStrategy(config APIConfig) (*APIStrategy, error) {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Market == "" {
		config.Market = DefaultMarket
	}
	if config.Locale == "" {
		config.Locale = DefaultLocale
	}
	if config.DeviceFamily == "" {
		config.DeviceFamily = DefaultDeviceFamily
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 15 * time.Second
	}
	if config.Retries < 0 {
		config.Retries = 0
	}

	// 商店接口会下发区域相关的Cookie,同一次运行内复用
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("创建Cookie容器失败: %w", err)
	}

	return &APIStrategy{
		config: config,
		client: &http.Client{
			Jar:     jar,
			Timeout: config.RequestTimeout,
		},
		now: time.Now,
	}, nil
}

// WithClock 替换时钟 (预购发售日期与当前时间比较)
func (s *APIStrategy) WithClock(now func() time.Time) *APIStrategy {
	s.now = now
	return s
}

// Name 策略名称
func (s *APIStrategy) Name() string {
	return "api"
}

// Resolve 查询商品价格
func (s *APIStrategy) Resolve(ctx context.Context, target Target) (Facts, error) {
	if target.ProductID == "" {
		err := errors.New("缺少商品ID")
		return FactsFromError(err), err
	}

	body, err := s.fetchWithRetry(ctx, s.productURL(target.ProductID))
	if err != nil {
		return FactsFromError(err), err
	}

	if !gjson.ValidBytes(body) {
		err := fmt.Errorf("商品API响应不是有效的JSON [%s]", target.ProductID)
		return FactsFromError(err), err
	}

	facts := ExtractFacts(gjson.ParseBytes(body), target.ProductID, s.now())
	if !facts.Found {
		utils.Warnf("响应中未找到商品ID: %s", target.ProductID)
	}
	return facts, nil
}

func (s *APIStrategy) productURL(productID string) string {
	q := url.Values{}
	q.Set("market", s.config.Market)
	q.Set("locale", s.config.Locale)
	q.Set("deviceFamily", s.config.DeviceFamily)
	return fmt.Sprintf("%s/%s?%s", strings.TrimRight(s.config.Endpoint, "/"), url.PathEscape(productID), q.Encode())
}

// fetchWithRetry 传输错误和5xx按固定间隔重试,4xx不重试
func (s *APIStrategy) fetchWithRetry(ctx context.Context, requestURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= s.config.Retries; attempt++ {
		if attempt > 0 {
			utils.Debugf("重试商品API请求 (%d/%d): %s", attempt, s.config.Retries, requestURL)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.config.RetryDelay):
			}
		}

		body, retryable, err := s.fetch(ctx, requestURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (s *APIStrategy) fetch(ctx context.Context, requestURL string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if s.config.Headers != nil {
		headers, err := s.config.Headers.GetHeaders()
		if err != nil {
			return nil, false, fmt.Errorf("获取HTTP头部失败: %w", err)
		}
		for name, values := range headers {
			if strings.EqualFold(name, "Accept-Encoding") {
				continue
			}
			for _, v := range values {
				req.Header.Add(name, v)
			}
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, true, fmt.Errorf("%w: 商品API请求超时: %v", ErrTimeout, err)
		}
		return nil, true, fmt.Errorf("商品API请求失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode >= 500, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}

	decoded, err := decompressBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, false, err
	}
	return decoded, false, nil
}

// decompressBody 根据Content-Encoding头部解压响应体
// 设置了Accept-Encoding后 net/http 不再自动解压,gzip/deflate/br 都在这里处理
func decompressBody(contentEncoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()
		return io.ReadAll(reader)

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()
		return io.ReadAll(reader)

	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))

	case "", "identity":
		return body, nil

	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}

// ExtractFacts 从API响应中提取商品的价格信息
//
// 支持两种响应结构:
//   - displaycatalog: Price对象中的 MSRP / ListPrice / WholesalePrice,以及 Actions、PreOrderReleaseDate。
//     所有字段都取自第一个带价格的可用性,不与其他可用性的字段混用
//   - storeedge: Price(当前价) / DisplayPrice(显示文字) / StrikethroughPrice(划线原价)。
//     当前价为0且没有显示文字时不采用划线价,按下架处理
func ExtractFacts(doc gjson.Result, productID string, now time.Time) Facts {
	facts := Facts{Button: ButtonNone}

	product, ok := FindProduct(doc, productID)
	if !ok {
		facts.Note = "响应中未找到商品ID"
		return facts
	}
	facts.Found = true

	scope := product
	if availability, ok := visit(product, 0, isPricedAvailability); ok {
		scope = availability
	}

	if label := findScalar(scope, "DisplayPrice"); label.Exists() {
		facts.Label = strings.TrimSpace(label.String())
	}

	if priceNode, ok := visit(scope, 0, hasCatalogPrice); ok {
		facts.RegularPrice = priceOf(lookupKey(priceNode, "MSRP"))
		facts.ListPrice = priceOf(lookupKey(priceNode, "ListPrice"))
		facts.WholesalePrice = priceOf(lookupKey(priceNode, "WholesalePrice"))
	} else {
		current := priceOf(findScalar(scope, "Price"))
		strikethrough := priceOf(findScalar(scope, "StrikethroughPrice"))
		facts.ListPrice = current
		facts.RegularPrice = current
		if strikethrough.IsPositive() && !(current.IsZero() && facts.Label == "") {
			facts.RegularPrice = strikethrough
		}
	}

	facts.Actions = findStrings(scope, "Actions")

	if release := findScalar(scope, "PreOrderReleaseDate"); release.Type == gjson.String {
		if t, err := time.Parse(time.RFC3339, release.Str); err == nil && t.After(now) {
			facts.IsPreOrder = true
		}
	}
	if flag := findScalar(scope, "IsPreOrder"); flag.Type == gjson.True {
		facts.IsPreOrder = true
	}
	if facts.IsPreOrder {
		facts.PreOrderPrice = facts.ListPrice
		if !facts.PreOrderPrice.IsSet() {
			facts.PreOrderPrice = facts.RegularPrice
		}
	}

	return facts
}

// priceOf 数字直接使用,字符串按德语区格式解析,其他情况视为缺失
func priceOf(v gjson.Result) models.Price {
	switch v.Type {
	case gjson.Number:
		return models.NewPrice(v.Num)
	case gjson.String:
		if p, ok := ParseLocalizedPrice(v.Str); ok {
			return p
		}
	}
	return models.NoPrice()
}
