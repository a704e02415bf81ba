package llm

import "strings"

// StreamCallback 流式查询的回调。segment 为按标点切分的完整片段，
// isComplete 为 true 时表示本轮问答结束，此时 segment 为空串。
type StreamCallback func(segment string, isComplete bool)

// Provider 统一的对话网关契约，所有上游实现都满足同一套语义：
// 有状态的多轮历史、可选的函数工具、流式输出和用量上报。
type Provider interface {
	// Query 使用默认参数发起一次非流式问答
	Query(text string, model string) (string, error)
	// QueryWithOptions 携带完整采样参数发起非流式问答，
	// 内部自动完成工具调用的解析循环
	QueryWithOptions(text string, options QueryOptions) (string, error)
	// QueryStream 流式问答，片段通过 callback 逐段吐出，
	// 返回值为拼接后的完整回复
	QueryStream(text string, options QueryOptions, callback StreamCallback) (string, error)

	// RegisterFunctionTool 注册一个函数工具，同名覆盖
	RegisterFunctionTool(name string, description string, parameters map[string]interface{}, callback FunctionToolCallback)
	// RegisterFunctionToolDefinition 注册一个完整的工具定义
	RegisterFunctionToolDefinition(def *FunctionToolDefinition)
	// GetFunctionTools 返回当前注册的全部工具定义
	GetFunctionTools() []*FunctionToolDefinition
	// ListFunctionTools 返回已注册工具的名称列表
	ListFunctionTools() []string

	// GetLastUsage 返回最近一轮问答的用量，第二个返回值表示是否有效
	GetLastUsage() (Usage, bool)
	// ResetMessages 清空历史，仅保留系统提示词
	ResetMessages()
	// SetSystemPrompt 设置或替换系统提示词，不影响其余历史
	SetSystemPrompt(prompt string)
	// GetMessages 返回历史消息的副本
	GetMessages() []Message

	// Interrupt 打断当前的流式回答，对空闲会话无害
	Interrupt()
	// Hangup 结束会话，幂等，挂断后所有查询返回 ErrHangup
	Hangup()
}

// ProviderKind 上游厂商类型的封闭枚举
type ProviderKind string

const (
	KindOpenAI ProviderKind = "openai"
	KindCoze   ProviderKind = "coze"
	KindOllama ProviderKind = "ollama"
)

// ParseProviderKind 把外部存储里的自由字符串归一成封闭枚举。
// 未知类型一律按 OpenAI 兼容协议处理
func ParseProviderKind(s string) ProviderKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "coze":
		return KindCoze
	case "ollama":
		return KindOllama
	default:
		return KindOpenAI
	}
}
