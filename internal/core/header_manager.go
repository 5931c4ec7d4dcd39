package core

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/RecoveryAshes/ExoStore/internal/models"
	"github.com/RecoveryAshes/ExoStore/internal/utils"
)

const (
	// DefaultUserAgent 默认User-Agent
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36"
)

// HeaderManager 管理商品API、静态页面和浏览器共用的请求头部
// 实现 models.HeaderProvider 接口
type HeaderManager struct {
	defaults http.Header
	config   http.Header
	cli      http.Header
	redactor *utils.HeaderRedactor
}

// NewHeaderManager 创建头部管理器
// 参数:
//   - configHeaders: 配置文件 http.headers 段
//   - cliHeaders: 命令行 -H 传入的 "Name: Value" 列表
func NewHeaderManager(configHeaders map[string]string, cliHeaders []string) (*HeaderManager, error) {
	hm := &HeaderManager{
		defaults: getDefaultHeaders(),
		redactor: utils.NewHeaderRedactor(),
	}

	// 配置文件中的头部按名称排序后复用命令行的解析和校验
	names := make([]string, 0, len(configHeaders))
	for name := range configHeaders {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, name+": "+configHeaders[name])
	}
	config, err := models.CliHeaders(lines).Parse()
	if err != nil {
		return nil, fmt.Errorf("配置文件 http.headers 无效: %w", err)
	}
	hm.config = config

	cli, err := models.CliHeaders(cliHeaders).Parse()
	if err != nil {
		return nil, err
	}
	hm.cli = cli

	if len(hm.config) > 0 {
		utils.Debugf("加载了%d个配置文件头部: %s", len(hm.config), hm.redactor.RedactToString(hm.config))
	}

	return hm, nil
}

// getDefaultHeaders 返回系统默认头部
// 不设置 Accept-Encoding,由各个客户端自行协商压缩
func getDefaultHeaders() http.Header {
	return http.Header{
		"User-Agent":      []string{DefaultUserAgent},
		"Accept":          []string{"*/*"},
		"Accept-Language": []string{"de-DE,de;q=0.9,en;q=0.8"},
	}
}

// GetMergedHeaders 按优先级合并头部 (default < config < cli)
func (hm *HeaderManager) GetMergedHeaders() http.Header {
	result := make(http.Header)
	for _, layer := range []http.Header{hm.defaults, hm.config, hm.cli} {
		for name, values := range layer {
			result[name] = append([]string(nil), values...)
		}
	}
	return result
}

// GetSafeHeaders 返回脱敏后的头部 (用于日志)
func (hm *HeaderManager) GetSafeHeaders() map[string]string {
	return hm.redactor.Redact(hm.GetMergedHeaders())
}

// GetHeaders 实现 HeaderProvider 接口
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	merged := hm.GetMergedHeaders()
	for name := range merged {
		if strings.TrimSpace(name) == "" {
			return nil, &models.ValidationError{Field: "name", HeaderName: name, Reason: "头部名称不能为空"}
		}
	}
	return merged, nil
}
