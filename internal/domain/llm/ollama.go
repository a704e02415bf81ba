package llm

import (
	"context"
	"strings"

	"voicegate-server-go/internal/platform/logging"
)

// OllamaHandler 本地 Ollama 会话。Ollama 暴露 OpenAI 兼容接口，
// 这里只负责把地址和密钥规整成兼容形态，其余全部复用 OpenAIHandler
type OllamaHandler struct {
	*OpenAIHandler
}

// NewOllamaHandler 创建 Ollama 会话
func NewOllamaHandler(ctx context.Context, cfg OllamaConfig, logger *logging.Logger) *OllamaHandler {
	if logger == nil {
		logger = logging.DefaultLogger
	}

	baseURL := normalizeOllamaBaseURL(cfg.BaseURL)
	apiKey := cfg.APIKey
	if apiKey == "" {
		// Ollama 不校验密钥，但 OpenAI 客户端要求非空
		apiKey = "ollama"
	}

	inner := NewOpenAIHandler(ctx, OpenAIConfig{
		APIKey:         apiKey,
		BaseURL:        baseURL,
		SystemPrompt:   cfg.SystemPrompt,
		RequestTimeout: cfg.RequestTimeout,
	}, logger)
	inner.name = string(KindOllama)

	logger.InfoTag("Ollama", "创建会话, baseURL=%s", baseURL)
	return &OllamaHandler{OpenAIHandler: inner}
}

// normalizeOllamaBaseURL 补齐默认地址和 /v1 后缀
func normalizeOllamaBaseURL(raw string) string {
	url := strings.TrimSpace(raw)
	if url == "" {
		return defaultOllamaBaseURL
	}
	url = strings.TrimSuffix(url, "/")
	if !strings.HasSuffix(url, "/v1") {
		url += "/v1"
	}
	return url
}
