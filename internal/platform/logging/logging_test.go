package logging

import (
	"log/slog"
	"testing"
)

func TestFormatLog(t *testing.T) {
	tests := []struct {
		name    string
		tag     string
		message string
		want    string
	}{
		{"normal", "引导", "服务已启动", "[引导] 服务已启动"},
		{"empty tag", "", "plain message", "plain message"},
		{"already tagged", "引导", "[LLM] 已有标签", "[LLM] 已有标签"},
		{"whitespace trimmed", " 引导 ", " 服务已启动 ", "[引导] 服务已启动"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatLog(tt.tag, tt.message); got != tt.want {
				t.Errorf("FormatLog(%q, %q) = %q, want %q", tt.tag, tt.message, got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewConsoleOnly(t *testing.T) {
	logger, err := New(Config{Level: "INFO"})
	if err != nil {
		t.Fatalf("New() 出错: %v", err)
	}
	defer logger.Close()

	if logger.jsonLogger != nil {
		t.Error("Dir 为空时不应打开日志文件")
	}

	// nil 接收者所有方法都应安全
	var nilLogger *Logger
	nilLogger.Info("ignored")
	nilLogger.ErrorTag("LLM", "ignored %d", 1)
}

func TestNewWithFileOutput(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{Level: "DEBUG", Dir: dir, Filename: "test.log"})
	if err != nil {
		t.Fatalf("New() 出错: %v", err)
	}

	logger.InfoTag("引导", "写一条测试日志")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() 出错: %v", err)
	}
}
