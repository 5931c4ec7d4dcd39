package utils

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// testLogConfig 日志写到临时目录,控制台输出丢弃
func testLogConfig(t *testing.T) LogConfig {
	t.Helper()
	config := DefaultLogConfig()
	config.LogDir = t.TempDir()
	config.Compress = false
	config.Console = io.Discard
	t.Cleanup(CloseLogger)
	return config
}

func readLog(t *testing.T, dir, name string) string {
	t.Helper()
	time.Sleep(100 * time.Millisecond)
	content, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("读取日志失败: %v", err)
	}
	return string(content)
}

func TestInitLogger(t *testing.T) {
	config := testLogConfig(t)
	config.Level = "debug"

	if err := InitLogger(config); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Info("测试信息日志")
	Warnf("测试警告日志 %d", 1)
	Debugf("测试调试日志")

	content := readLog(t, config.LogDir, "exostore.log")
	for _, want := range []string{"测试信息日志", "测试警告日志 1", "测试调试日志"} {
		if !strings.Contains(content, want) {
			t.Errorf("主日志缺少 %q", want)
		}
	}
}

func TestInitLoggerLevel(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantDebug bool
	}{
		{"info级别不输出调试日志", "info", false},
		{"大写级别", "DEBUG", true},
		{"无效级别回退到info", "verbose", false},
		{"空级别回退到info", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testLogConfig(t)
			config.Level = tt.level
			if err := InitLogger(config); err != nil {
				t.Fatalf("初始化日志器失败: %v", err)
			}

			Debugf("调试细节")
			Infof("进度信息")

			content := readLog(t, config.LogDir, "exostore.log")
			if got := strings.Contains(content, "调试细节"); got != tt.wantDebug {
				t.Errorf("调试日志输出 = %v, 期望 %v", got, tt.wantDebug)
			}
			if !strings.Contains(content, "进度信息") {
				t.Error("info日志应始终输出")
			}
		})
	}
}

func TestErrorLogOnlyReceivesErrors(t *testing.T) {
	config := testLogConfig(t)

	if err := InitLogger(config); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Info("普通进度信息")
	Errorf("条目处理失败: %s", "boom")

	content := readLog(t, config.LogDir, "exostore_error.log")
	if strings.Contains(content, "普通进度信息") {
		t.Error("错误日志不应包含info级别日志")
	}
	if !strings.Contains(content, "boom") {
		t.Error("错误日志应包含error级别日志")
	}

	if !strings.Contains(readLog(t, config.LogDir, "exostore.log"), "普通进度信息") {
		t.Error("主日志应包含info级别日志")
	}
}

func TestConsoleOutput(t *testing.T) {
	var console bytes.Buffer
	config := testLogConfig(t)
	config.Console = &console
	config.NoColor = true

	if err := InitLogger(config); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}
	Warnf("⏱️  等待超时")

	out := console.String()
	if !strings.Contains(out, "等待超时") {
		t.Errorf("控制台应输出日志: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("NoColor 时不应输出颜色控制符: %q", out)
	}
}

func TestEntryLoggerAndRunID(t *testing.T) {
	config := testLogConfig(t)

	if err := InitLogger(config); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}
	WithRunID("3f2a9c1e-run")

	logger := EntryLogger(3, "Halo Infinite")
	logger.Info().Str("status", "sale").Msg("条目完成")

	content := readLog(t, config.LogDir, "exostore.log")
	for _, want := range []string{`"run_id":"3f2a9c1e-run"`, `"entry":3`, `"title":"Halo Infinite"`, `"status":"sale"`} {
		if !strings.Contains(content, want) {
			t.Errorf("日志缺少字段 %s: %s", want, content)
		}
	}
}

func TestCloseLogger(t *testing.T) {
	config := testLogConfig(t)

	if err := InitLogger(config); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}
	CloseLogger()
	CloseLogger()

	if len(logFiles) != 0 {
		t.Errorf("关闭后不应保留日志文件: %d", len(logFiles))
	}
}

func TestDefaultLogConfig(t *testing.T) {
	config := DefaultLogConfig()

	if config.Level != "info" {
		t.Errorf("默认日志级别错误: 期望 'info', 得到 '%s'", config.Level)
	}
	if config.LogDir != "logs" {
		t.Errorf("默认日志目录错误: 期望 'logs', 得到 '%s'", config.LogDir)
	}
	if config.MaxSize != 10 || config.MaxBackups != 3 || config.MaxAge != 28 {
		t.Errorf("默认轮转参数错误: %+v", config)
	}
	if !config.Compress {
		t.Error("默认应该启用压缩")
	}
	if config.Console != nil || config.NoColor {
		t.Errorf("默认应输出到标准输出并带颜色: %+v", config)
	}
}
