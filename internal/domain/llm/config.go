package llm

import (
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"voicegate-server-go/internal/platform/errors"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultCozeBaseURL   = "https://api.coze.cn"
	defaultCozeUserID    = "default_user"
	defaultOllamaBaseURL = "http://localhost:11434/v1"
)

// ProviderConfig 各厂商配置的封闭集合，Kind 决定工厂走哪条构造路径
type ProviderConfig interface {
	Kind() ProviderKind
}

// OpenAIConfig OpenAI 兼容厂商的配置
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	SystemPrompt   string
	RequestTimeout time.Duration
}

func (OpenAIConfig) Kind() ProviderKind { return KindOpenAI }

// CozeConfig Coze 智能体的配置
type CozeConfig struct {
	APIKey         string
	BotID          string        `json:"botId"`
	UserID         string        `json:"userId"`
	BaseURL        string        `json:"baseUrl"`
	SystemPrompt   string        `json:"-"`
	RequestTimeout time.Duration `json:"-"`
}

func (CozeConfig) Kind() ProviderKind { return KindCoze }

// OllamaConfig 本地 Ollama 的配置
type OllamaConfig struct {
	APIKey         string
	BaseURL        string
	SystemPrompt   string
	RequestTimeout time.Duration
}

func (OllamaConfig) Kind() ProviderKind { return KindOllama }

// WithRequestTimeout 返回带整轮超时的配置副本，d 为零时原样返回
func WithRequestTimeout(cfg ProviderConfig, d time.Duration) ProviderConfig {
	if d <= 0 {
		return cfg
	}
	switch c := cfg.(type) {
	case OpenAIConfig:
		c.RequestTimeout = d
		return c
	case CozeConfig:
		c.RequestTimeout = d
		return c
	case OllamaConfig:
		c.RequestTimeout = d
		return c
	default:
		return cfg
	}
}

// ResolveCredential 把外部凭证解析成带类型的厂商配置。
// 所有对凭证字段的解释（Coze 的 JSON 或裸 botId、默认地址补齐）
// 都集中在这里，后面的构造函数只认类型化配置。
func ResolveCredential(cred Credential, systemPrompt string) (ProviderConfig, error) {
	if systemPrompt == "" {
		systemPrompt = cred.SystemPrompt
	}

	switch ParseProviderKind(cred.Provider) {
	case KindCoze:
		return resolveCoze(cred, systemPrompt)
	case KindOllama:
		return OllamaConfig{
			APIKey:       cred.APIKey,
			BaseURL:      cred.BaseURL,
			SystemPrompt: systemPrompt,
		}, nil
	default:
		baseURL := cred.BaseURL
		if baseURL == "" {
			baseURL = defaultOpenAIBaseURL
		}
		return OpenAIConfig{
			APIKey:       cred.APIKey,
			BaseURL:      baseURL,
			SystemPrompt: systemPrompt,
		}, nil
	}
}

// resolveCoze 兼容两种 BaseURL 写法：完整 JSON 配置或裸 botId。
// 以“{”开头但解析失败的内容按裸 botId 处理，不中断启动。
func resolveCoze(cred Credential, systemPrompt string) (ProviderConfig, error) {
	cfg := CozeConfig{
		APIKey:       cred.APIKey,
		SystemPrompt: systemPrompt,
	}

	raw := strings.TrimSpace(cred.BaseURL)
	if strings.HasPrefix(raw, "{") {
		if err := sonic.UnmarshalString(raw, &cfg); err != nil {
			cfg.BotID = raw
		}
	} else {
		cfg.BotID = raw
	}

	if cfg.BotID == "" {
		return nil, errors.New(errors.KindConfig, "llm.resolveCoze", "Coze 凭证缺少 botId")
	}
	if cfg.UserID == "" {
		cfg.UserID = defaultCozeUserID
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCozeBaseURL
	}
	return cfg, nil
}
