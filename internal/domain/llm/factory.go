package llm

import (
	"context"

	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

// NewProvider 根据凭证创建对应厂商的会话。
// systemPrompt 非空时覆盖凭证里的提示词。
// ctx 是会话生命周期，取消等同于 Hangup。
func NewProvider(ctx context.Context, cred Credential, systemPrompt string, logger *logging.Logger) (Provider, error) {
	cfg, err := ResolveCredential(cred, systemPrompt)
	if err != nil {
		return nil, err
	}
	return NewProviderFromConfig(ctx, cfg, logger)
}

// NewProviderFromConfig 根据类型化配置创建会话
func NewProviderFromConfig(ctx context.Context, cfg ProviderConfig, logger *logging.Logger) (Provider, error) {
	if logger == nil {
		logger = logging.DefaultLogger
	}

	switch c := cfg.(type) {
	case OpenAIConfig:
		logger.InfoTag("工厂", "创建 OpenAI 兼容会话")
		return NewOpenAIHandler(ctx, c, logger), nil
	case CozeConfig:
		logger.InfoTag("工厂", "创建 Coze 会话, botId=%s", c.BotID)
		return NewCozeHandler(ctx, c, logger), nil
	case OllamaConfig:
		logger.InfoTag("工厂", "创建 Ollama 会话")
		return NewOllamaHandler(ctx, c, logger), nil
	default:
		return nil, errors.New(errors.KindConfig, "llm.NewProviderFromConfig", "未知的厂商配置类型")
	}
}
