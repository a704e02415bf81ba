package eventbus

// 事件类型定义
const (
	// LLM相关事件
	EventLLMUsage     = "llm:usage"
	EventLLMError     = "llm:error"
	EventLLMResponse  = "llm:response"
	EventLLMCompleted = "llm:completed"

	// 对话相关事件
	EventChatStarted   = "chat:started"
	EventChatCompleted = "chat:completed"

	// 系统事件
	EventSystemError = "system:error"
	EventSystemInfo  = "system:info"
)

// 事件数据结构

type LLMEventData struct {
	SessionID string      `json:"session_id"`
	Content   string      `json:"content"`
	IsFinal   bool        `json:"is_final"`
	ToolCalls interface{} `json:"tool_calls,omitempty"`
}

type ChatEventData struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message"`
}

type SystemEventData struct {
	Level   string      `json:"level"` // error, warn, info
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
