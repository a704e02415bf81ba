package llm

import (
	"github.com/sashabaranov/go-openai"
)

// Message 统一的消息格式，与具体厂商协议解耦
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall 统一的工具调用格式
type ToolCall struct {
	ID       string
	Type     string
	Function FunctionCall
}

// FunctionCall 函数调用信息
type FunctionCall struct {
	Name      string
	Arguments string // JSON 编码的参数
}

// UsageSource 标记用量数据的来源，厂商上报和本地估算不能混为一谈
type UsageSource string

const (
	UsageSourceProvider  UsageSource = "provider"
	UsageSourceEstimated UsageSource = "estimated"
)

// Usage 使用统计信息（统一格式）
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Source           UsageSource
}

// QueryOptions 查询参数，采样参数之外还携带不做解释、
// 只透传到用量事件的链路标识（UserID/SessionID 等）
type QueryOptions struct {
	Model               string
	MaxTokens           *int
	MaxCompletionTokens *int
	Temperature         *float32
	TopP                *float32
	FrequencyPenalty    *float32
	PresencePenalty     *float32
	Stop                []string
	N                   *int
	LogitBias           map[string]int
	User                string
	Stream              bool
	ResponseFormat      *openai.ChatCompletionResponseFormat
	Seed                *int

	// 链路标识，网关不解释，原样写入用量事件
	UserID       *uint
	AssistantID  *int64
	CredentialID *uint
	SessionID    string
	ChatType     string
}

// Credential 外部凭证存储提供的一条上游凭证。
// BaseURL 对 Coze 来说可能是裸的 botId，也可能是 JSON 配置，
// 解析只发生在 ResolveCredential 这一个边界上。
type Credential struct {
	Provider     string
	APIKey       string
	BaseURL      string
	SystemPrompt string
}

func Float32Ptr(v float32) *float32 {
	return &v
}

func IntPtr(v int) *int {
	return &v
}
