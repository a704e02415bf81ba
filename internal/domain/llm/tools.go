package llm

import (
	"sync"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"

	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

// FunctionToolCallback 工具的本地执行回调，参数为解码后的 JSON 对象
type FunctionToolCallback func(args map[string]interface{}) (string, error)

// FunctionToolDefinition 一个函数工具的完整定义
type FunctionToolDefinition struct {
	Name        string
	Description string
	// Parameters 为 JSON Schema 形态的参数描述，原样透传给上游
	Parameters map[string]interface{}
	Callback   FunctionToolCallback
}

// FunctionToolManager 函数工具注册表。注册同名工具时后注册者覆盖，
// 读写都可能发生在流式读取过程中，用读写锁保护。
type FunctionToolManager struct {
	mu     sync.RWMutex
	tools  map[string]*FunctionToolDefinition
	order  []string
	logger *logging.Logger
}

func NewFunctionToolManager(logger *logging.Logger) *FunctionToolManager {
	return &FunctionToolManager{
		tools:  make(map[string]*FunctionToolDefinition),
		logger: logger,
	}
}

// Register 注册一个工具，同名覆盖
func (m *FunctionToolManager) Register(name, description string, parameters map[string]interface{}, callback FunctionToolCallback) {
	m.RegisterDefinition(&FunctionToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		Callback:    callback,
	})
}

// RegisterDefinition 注册一个完整的工具定义，同名覆盖
func (m *FunctionToolManager) RegisterDefinition(def *FunctionToolDefinition) {
	if def == nil || def.Name == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tools[def.Name]; exists {
		m.logger.WarnTag("工具", "覆盖已注册的工具: %s", def.Name)
	} else {
		m.order = append(m.order, def.Name)
	}
	m.tools[def.Name] = def
}

// Get 按名称查找工具
func (m *FunctionToolManager) Get(name string) (*FunctionToolDefinition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	def, ok := m.tools[name]
	return def, ok
}

// List 返回已注册工具的名称，按注册顺序
func (m *FunctionToolManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// Definitions 返回全部工具定义，按注册顺序
func (m *FunctionToolManager) Definitions() []*FunctionToolDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	defs := make([]*FunctionToolDefinition, 0, len(m.order))
	for _, name := range m.order {
		defs = append(defs, m.tools[name])
	}
	return defs
}

// OpenAITools 把注册表转换成 OpenAI 协议的工具列表，随请求发送
func (m *FunctionToolManager) OpenAITools() []openai.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.order) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(m.order))
	for _, name := range m.order {
		def := m.tools[name]
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return tools
}

// HandleToolCall 执行一次工具调用，arguments 为上游给出的 JSON 字符串
func (m *FunctionToolManager) HandleToolCall(name, arguments string) (string, error) {
	def, ok := m.Get(name)
	if !ok {
		return "", errors.New(errors.KindTool, "llm.HandleToolCall", "工具未注册: "+name)
	}
	if def.Callback == nil {
		return "", errors.New(errors.KindTool, "llm.HandleToolCall", "工具没有回调: "+name)
	}

	args := make(map[string]interface{})
	if arguments != "" {
		if err := sonic.UnmarshalString(arguments, &args); err != nil {
			return "", errors.Wrap(errors.KindTool, "llm.HandleToolCall", "工具参数解析失败: "+name, err)
		}
	}

	m.logger.InfoTag("工具", "执行工具 %s, 参数: %s", name, arguments)
	result, err := def.Callback(args)
	if err != nil {
		return "", errors.Wrap(errors.KindTool, "llm.HandleToolCall", "工具执行失败: "+name, err)
	}
	return result, nil
}
