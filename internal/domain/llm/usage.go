package llm

import (
	"time"

	"github.com/google/uuid"

	"voicegate-server-go/internal/domain/eventbus"
	"voicegate-server-go/internal/platform/logging"
)

// ToolCallInfo 一次工具调用的留痕，写入用量事件
type ToolCallInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result"`
	Error     string `json:"error,omitempty"`
}

// UsageInfo 一轮完整问答的用量快照。每轮成功（含软超时的部分成功）
// 恰好发布一次到 llm:usage 主题，硬失败不发布。
type UsageInfo struct {
	ExchangeID string `json:"exchangeId"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`

	// 本轮请求携带的采样参数
	MaxTokens           *int           `json:"maxTokens,omitempty"`
	MaxCompletionTokens *int           `json:"maxCompletionTokens,omitempty"`
	Temperature         *float32       `json:"temperature,omitempty"`
	TopP                *float32       `json:"topP,omitempty"`
	FrequencyPenalty    *float32       `json:"frequencyPenalty,omitempty"`
	PresencePenalty     *float32       `json:"presencePenalty,omitempty"`
	Stop                []string       `json:"stop,omitempty"`
	N                   *int           `json:"n,omitempty"`
	LogitBias           map[string]int `json:"logitBias,omitempty"`
	User                string         `json:"user,omitempty"`
	Seed                *int           `json:"seed,omitempty"`

	// 上游响应的元数据，取最后一次响应的值
	ResponseID string `json:"responseId,omitempty"`
	Object     string `json:"object,omitempty"`
	Created    int64  `json:"created,omitempty"`

	PromptTokens     int         `json:"promptTokens"`
	CompletionTokens int         `json:"completionTokens"`
	TotalTokens      int         `json:"totalTokens"`
	Source           UsageSource `json:"source"`

	Stream        bool           `json:"stream"`
	HasToolCalls  bool           `json:"hasToolCalls"`
	ToolCallCount int            `json:"toolCallCount"`
	ToolCalls     []ToolCallInfo `json:"toolCalls,omitempty"`
	FinishReason  string         `json:"finishReason,omitempty"`

	// 提交后的会话长度，含系统消息和工具往返
	MessageCount int `json:"messageCount"`

	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt time.Time     `json:"completedAt"`
	Duration    time.Duration `json:"duration"`

	// 链路标识，来自 QueryOptions，网关不解释
	UserID       *uint  `json:"userId,omitempty"`
	AssistantID  *int64 `json:"assistantId,omitempty"`
	CredentialID *uint  `json:"credentialId,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	ChatType     string `json:"chatType,omitempty"`
}

// newUsageInfo 构造一条用量记录并分配交换 ID
func newUsageInfo(provider, model string, opts QueryOptions, startedAt time.Time) *UsageInfo {
	return &UsageInfo{
		ExchangeID:          uuid.NewString(),
		Provider:            provider,
		Model:               model,
		MaxTokens:           opts.MaxTokens,
		MaxCompletionTokens: opts.MaxCompletionTokens,
		Temperature:         opts.Temperature,
		TopP:                opts.TopP,
		FrequencyPenalty:    opts.FrequencyPenalty,
		PresencePenalty:     opts.PresencePenalty,
		Stop:                opts.Stop,
		N:                   opts.N,
		LogitBias:           opts.LogitBias,
		User:                opts.User,
		Seed:                opts.Seed,
		Stream:              opts.Stream,
		StartedAt:           startedAt,
		UserID:              opts.UserID,
		AssistantID:         opts.AssistantID,
		CredentialID:        opts.CredentialID,
		SessionID:           opts.SessionID,
		ChatType:            opts.ChatType,
	}
}

func (u *UsageInfo) setUsage(usage Usage) {
	u.PromptTokens = usage.PromptTokens
	u.CompletionTokens = usage.CompletionTokens
	u.TotalTokens = usage.TotalTokens
	u.Source = usage.Source
}

// emitUsage 异步发布用量事件，附带本轮的提问和回答原文
func emitUsage(logger *logging.Logger, info *UsageInfo, query, response string) {
	if info == nil {
		return
	}
	info.CompletedAt = time.Now()
	info.Duration = info.CompletedAt.Sub(info.StartedAt)
	info.HasToolCalls = len(info.ToolCalls) > 0
	info.ToolCallCount = len(info.ToolCalls)

	logger.InfoTag("用量", "%s %s tokens=%d(提示 %d + 补全 %d) 来源=%s 耗时=%v",
		info.Provider, info.Model,
		info.TotalTokens, info.PromptTokens, info.CompletionTokens,
		info.Source, info.Duration.Round(time.Millisecond))

	eventbus.PublishAsync(eventbus.EventLLMUsage, info, query, response)
}

// estimateTokens 在上游不回报用量时做粗略估算：
// 中日韩字符按 2 token，拉丁字母按 4 字母 1 token
func estimateTokens(text string) int {
	cjk := 0
	latin := 0
	for _, r := range text {
		switch {
		case r >= 0x4e00 && r <= 0x9fff:
			cjk++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			latin++
		}
	}
	return cjk*2 + latin/4
}
