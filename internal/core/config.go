package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/RecoveryAshes/ExoStore/internal/models"
)

// 策略和解析模式
const (
	StrategyAPI = "api"
	StrategyDOM = "dom"

	ResolverBrowser = "browser"
	ResolverStatic  = "static"
)

// Config 应用程序配置
type Config struct {
	Input      InputConfig      `mapstructure:"input"`
	Output     OutputConfig     `mapstructure:"output"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Run        RunConfig        `mapstructure:"run"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	HTTP       HTTPConfig       `mapstructure:"http"`

	// ConfigFile 实际使用的配置文件,未找到时为空
	ConfigFile string `mapstructure:"-"`
}

// InputConfig 输入配置
type InputConfig struct {
	EntriesFile string `mapstructure:"entries_file"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	PartialDir  string `mapstructure:"partial_dir"`
	CSVFile     string `mapstructure:"csv_file"`
	SQLiteFile  string `mapstructure:"sqlite_file"`
	ReportDir   string `mapstructure:"report_dir"`
	MetricsFile string `mapstructure:"metrics_file"`
}

// CheckpointConfig 批次配置
type CheckpointConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	ProfileDir         string        `mapstructure:"profile_dir"`
	Headless           bool          `mapstructure:"headless"`
	Bin                string        `mapstructure:"bin"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
	NetworkIdleTimeout time.Duration `mapstructure:"network_idle_timeout"`
	Stealth            bool          `mapstructure:"stealth"`
	SafetyReserveMB    uint64        `mapstructure:"safety_reserve_mb"`
}

// ResolverConfig 商店链接解析配置
type ResolverConfig struct {
	Mode     string        `mapstructure:"mode"`
	Selector string        `mapstructure:"selector"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PricingConfig 价格查询配置
type PricingConfig struct {
	Strategy        string        `mapstructure:"strategy"`
	Endpoint        string        `mapstructure:"endpoint"`
	Market          string        `mapstructure:"market"`
	Locale          string        `mapstructure:"locale"`
	DeviceFamily    string        `mapstructure:"device_family"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	Retries         int           `mapstructure:"retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	ButtonTimeout   time.Duration `mapstructure:"button_timeout"`
	ButtonSelectors []string      `mapstructure:"button_selectors"`
}

// RunConfig 运行控制
type RunConfig struct {
	EntryDelay time.Duration `mapstructure:"entry_delay"`
	Resume     bool          `mapstructure:"resume"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// HTTPConfig HTTP请求配置
type HTTPConfig struct {
	Headers map[string]string `mapstructure:"headers"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, &models.ConfigError{FilePath: configPath, Cause: err}
		}
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		v.AddConfigPath("./configs")
		v.AddConfigPath(".")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".exostore"))
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 搜索路径中没有配置文件时使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, &models.ConfigError{FilePath: configPath, Cause: fmt.Errorf("读取配置文件失败: %w", err)}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, &models.ConfigError{FilePath: v.ConfigFileUsed(), Cause: fmt.Errorf("解析配置文件失败: %w", err)}
	}
	config.ConfigFile = v.ConfigFileUsed()

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("input.entries_file", "game_data_with_details.json")

	v.SetDefault("output.partial_dir", "partials")
	v.SetDefault("output.csv_file", "game_data_with_store_links.csv")
	v.SetDefault("output.sqlite_file", "")
	v.SetDefault("output.report_dir", "reports")
	v.SetDefault("output.metrics_file", "")

	v.SetDefault("checkpoint.batch_size", 5)

	v.SetDefault("browser.profile_dir", "user-data")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.settle_delay", "2s")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.network_idle_timeout", "15s")
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.safety_reserve_mb", 300)

	v.SetDefault("resolver.mode", ResolverBrowser)
	v.SetDefault("resolver.selector", "dd > a[href*='microsoft.com/store/apps/']")
	v.SetDefault("resolver.timeout", "30s")

	v.SetDefault("pricing.strategy", StrategyAPI)
	v.SetDefault("pricing.endpoint", "https://storeedgefd.dsx.mp.microsoft.com/v9.0/products")
	v.SetDefault("pricing.market", "DE")
	v.SetDefault("pricing.locale", "de-de")
	v.SetDefault("pricing.device_family", "Windows.Desktop")
	v.SetDefault("pricing.request_timeout", "15s")
	v.SetDefault("pricing.retries", 1)
	v.SetDefault("pricing.retry_delay", "2s")
	v.SetDefault("pricing.button_timeout", "10s")

	v.SetDefault("run.entry_delay", "0s")
	v.SetDefault("run.resume", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	var problems []string

	if c.Checkpoint.BatchSize < 1 {
		problems = append(problems, fmt.Sprintf("checkpoint.batch_size 必须大于0 (当前 %d)", c.Checkpoint.BatchSize))
	}
	switch c.Pricing.Strategy {
	case StrategyAPI, StrategyDOM:
	default:
		problems = append(problems, fmt.Sprintf("pricing.strategy 只能是 api 或 dom (当前 %q)", c.Pricing.Strategy))
	}
	switch c.Resolver.Mode {
	case ResolverBrowser, ResolverStatic:
	default:
		problems = append(problems, fmt.Sprintf("resolver.mode 只能是 browser 或 static (当前 %q)", c.Resolver.Mode))
	}
	if c.Pricing.Retries < 0 {
		problems = append(problems, "pricing.retries 不能为负数")
	}
	if c.Run.EntryDelay < 0 || c.Browser.SettleDelay < 0 || c.Pricing.RetryDelay < 0 {
		problems = append(problems, "延迟时间不能为负数")
	}
	if c.Output.PartialDir == "" || c.Output.CSVFile == "" {
		problems = append(problems, "output.partial_dir 和 output.csv_file 不能为空")
	}

	if len(problems) > 0 {
		return &models.ConfigError{FilePath: c.ConfigFile, Cause: fmt.Errorf("%s", strings.Join(problems, "; "))}
	}
	return nil
}

// NeedsBrowser 当前配置是否需要启动浏览器
func (c *Config) NeedsBrowser() bool {
	return c.Resolver.Mode == ResolverBrowser || c.Pricing.Strategy == StrategyDOM
}

// CLIOverrides 命令行参数,零值表示未指定
type CLIOverrides struct {
	EntriesFile string
	PartialDir  string
	CSVFile     string
	SQLiteFile  string
	Strategy    string
	Resolver    string
	BatchSize   int
	EntryDelay  time.Duration
	Headless    *bool
	Resume      bool
	LogLevel    string
}

// MergeCLIFlags 合并命令行参数到配置,命令行优先于配置文件
func (c *Config) MergeCLIFlags(o CLIOverrides) {
	if o.EntriesFile != "" {
		c.Input.EntriesFile = o.EntriesFile
	}
	if o.PartialDir != "" {
		c.Output.PartialDir = o.PartialDir
	}
	if o.CSVFile != "" {
		c.Output.CSVFile = o.CSVFile
	}
	if o.SQLiteFile != "" {
		c.Output.SQLiteFile = o.SQLiteFile
	}
	if o.Strategy != "" {
		c.Pricing.Strategy = strings.ToLower(o.Strategy)
	}
	if o.Resolver != "" {
		c.Resolver.Mode = strings.ToLower(o.Resolver)
	}
	if o.BatchSize > 0 {
		c.Checkpoint.BatchSize = o.BatchSize
	}
	if o.EntryDelay > 0 {
		c.Run.EntryDelay = o.EntryDelay
	}
	if o.Headless != nil {
		c.Browser.Headless = *o.Headless
	}
	if o.Resume {
		c.Run.Resume = true
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
}
