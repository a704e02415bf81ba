package llm

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

const (
	// DefaultModel 凭证和参数都没给模型时的兜底
	DefaultModel = "gpt-4o"

	// maxToolIterations 工具解析循环的迭代上限，防止上游反复要求调用工具
	maxToolIterations = 10

	placeholderSystemContent = "You are a helpful assistant."
)

// OpenAIHandler 面向一切 OpenAI 兼容上游的会话处理器。
// 一个实例对应一个会话：持有完整历史、注册的工具和最近一轮用量。
//
// 两把锁各管一摊：opMu 串行化整轮问答（网络往返期间不持有 mu），
// mu 只保护历史和用量的短临界区，Reset/SetSystemPrompt 这类
// 轻操作不会被进行中的网络请求卡住。
type OpenAIHandler struct {
	client  *openai.Client
	baseURL string
	name    string

	ctx    context.Context
	cancel context.CancelFunc

	opMu sync.Mutex
	mu   sync.Mutex

	systemPrompt string
	messages     []openai.ChatCompletionMessage

	tools       *FunctionToolManager
	interruptCh chan struct{}

	lastUsage   Usage
	hasUsage    bool
	logger      *logging.Logger
}

// NewOpenAIHandler 创建 OpenAI 兼容会话。ctx 为会话生命周期，
// 取消即等同于挂断。
func NewOpenAIHandler(ctx context.Context, cfg OpenAIConfig, logger *logging.Logger) *OpenAIHandler {
	if logger == nil {
		logger = logging.DefaultLogger
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.RequestTimeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	hctx, cancel := context.WithCancel(ctx)
	h := &OpenAIHandler{
		client:      openai.NewClientWithConfig(clientCfg),
		baseURL:     clientCfg.BaseURL,
		name:        string(KindOpenAI),
		ctx:         hctx,
		cancel:      cancel,
		tools:       NewFunctionToolManager(logger),
		interruptCh: make(chan struct{}, 1),
		logger:      logger,
	}
	h.SetSystemPrompt(cfg.SystemPrompt)

	logger.InfoTag("LLM", "创建会话, baseURL=%s", h.baseURL)
	return h
}

// Query 使用默认参数发起一次非流式问答
func (h *OpenAIHandler) Query(text string, model string) (string, error) {
	return h.QueryWithOptions(text, QueryOptions{Model: model})
}

// QueryWithOptions 非流式问答，自动完成工具解析循环。
// 成功后把整轮对话（含工具往返）提交进历史。
func (h *OpenAIHandler) QueryWithOptions(text string, options QueryOptions) (string, error) {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	if err := h.ctx.Err(); err != nil {
		return "", ErrHangup
	}

	model := options.Model
	if model == "" {
		model = DefaultModel
	}

	// 短临界区：自愈历史、追加用户消息、拍快照
	h.mu.Lock()
	h.healIncompleteToolCalls()
	h.messages = append(h.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	convo := make([]openai.ChatCompletionMessage, len(h.messages))
	copy(convo, h.messages)
	h.mu.Unlock()

	tools := h.tools.OpenAITools()
	info := newUsageInfo(h.name, model, options, time.Now())

	var usage Usage
	finalContent := ""
	finishReason := ""

	for i := 0; i < maxToolIterations; i++ {
		req := h.buildRequest(model, convo, options, false, tools)

		resp, err := h.client.CreateChatCompletion(h.ctx, req)
		if err != nil {
			if h.ctx.Err() != nil {
				return "", ErrHangup
			}
			return "", errors.Wrap(errors.KindUpstream, "llm.QueryWithOptions", "上游请求失败", err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New(errors.KindUpstream, "llm.QueryWithOptions", "上游没有返回任何候选")
		}

		info.ResponseID = resp.ID
		info.Object = resp.Object
		info.Created = resp.Created
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		usage.TotalTokens += resp.Usage.TotalTokens

		choice := resp.Choices[0]
		finishReason = string(choice.FinishReason)

		if len(choice.Message.ToolCalls) > 0 {
			convo = append(convo, choice.Message)
			convo = h.dispatchToolCalls(convo, choice.Message.ToolCalls, info)
			continue
		}

		finalContent = choice.Message.Content
		convo = append(convo, choice.Message)
		break
	}

	if finalContent == "" && finishReason == "tool_calls" {
		return "", ErrMaxToolIterations
	}
	if err := validateResponse(text, finalContent); err != nil {
		return "", err
	}

	if usage.TotalTokens > 0 {
		usage.Source = UsageSourceProvider
	} else {
		usage = Usage{
			PromptTokens:     estimateTokens(text),
			CompletionTokens: estimateTokens(finalContent),
			Source:           UsageSourceEstimated,
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	// 提交历史和用量
	h.mu.Lock()
	h.messages = convo
	h.lastUsage = usage
	h.hasUsage = true
	h.mu.Unlock()

	info.setUsage(usage)
	info.FinishReason = finishReason
	info.MessageCount = len(convo)
	emitUsage(h.logger, info, text, finalContent)

	return finalContent, nil
}

// QueryStream 流式问答。片段按标点切分后通过 callback 吐出，
// 出现工具调用时先在本地执行，再用非流式请求取最终回答。
func (h *OpenAIHandler) QueryStream(text string, options QueryOptions, callback StreamCallback) (string, error) {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	if err := h.ctx.Err(); err != nil {
		return "", ErrHangup
	}

	model := options.Model
	if model == "" {
		model = DefaultModel
	}

	h.mu.Lock()
	h.healIncompleteToolCalls()
	h.messages = append(h.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	convo := make([]openai.ChatCompletionMessage, len(h.messages))
	copy(convo, h.messages)
	h.mu.Unlock()

	tools := h.tools.OpenAITools()
	info := newUsageInfo(h.name, model, options, time.Now())
	info.Stream = true

	req := h.buildRequest(model, convo, options, true, tools)
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := h.client.CreateChatCompletionStream(h.ctx, req)
	if err != nil {
		if h.ctx.Err() != nil {
			return "", ErrHangup
		}
		return "", errors.Wrap(errors.KindUpstream, "llm.QueryStream", "建立流式连接失败", err)
	}
	defer stream.Close()

	seg := newSegmenter()
	var full strings.Builder
	var usage Usage
	finishReason := ""

	// 按 index 重组工具调用增量：名字只来一次，参数分片拼接
	toolCallAcc := make(map[int]*openai.ToolCall)
	var toolOrder []int

	for {
		select {
		case <-h.interruptCh:
			h.logger.InfoTag("LLM", "流式回答被打断, 已产出 %d 字符", full.Len())
			return full.String(), ErrInterrupted
		case <-h.ctx.Done():
			return full.String(), ErrHangup
		default:
		}

		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if h.ctx.Err() != nil {
				return full.String(), ErrHangup
			}
			return full.String(), errors.Wrap(errors.KindUpstream, "llm.QueryStream", "读取流式响应失败", err)
		}

		if resp.ID != "" {
			info.ResponseID = resp.ID
			info.Object = resp.Object
			info.Created = resp.Created
		}
		if resp.Usage != nil {
			usage.PromptTokens += resp.Usage.PromptTokens
			usage.CompletionTokens += resp.Usage.CompletionTokens
			usage.TotalTokens += resp.Usage.TotalTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if resp.Choices[0].FinishReason != "" {
			finishReason = string(resp.Choices[0].FinishReason)
		}

		if delta.Content != "" {
			full.WriteString(delta.Content)
			for _, s := range seg.Feed(delta.Content) {
				callback(s, false)
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := toolCallAcc[idx]
			if !ok {
				acc = &openai.ToolCall{Type: openai.ToolTypeFunction}
				toolCallAcc[idx] = acc
				toolOrder = append(toolOrder, idx)
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Function.Name = tc.Function.Name
			}
			acc.Function.Arguments += tc.Function.Arguments
		}
	}

	if rest := seg.Flush(); rest != "" {
		callback(rest, false)
	}

	response := full.String()

	if len(toolOrder) > 0 {
		toolCalls := make([]openai.ToolCall, 0, len(toolOrder))
		for _, idx := range toolOrder {
			toolCalls = append(toolCalls, *toolCallAcc[idx])
		}

		convo = append(convo, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   response,
			ToolCalls: toolCalls,
		})
		convo = h.dispatchToolCalls(convo, toolCalls, info)

		// 工具结果就位后，用一次非流式请求拿最终回答
		followUp := h.buildRequest(model, convo, options, false, tools)
		resp, err := h.client.CreateChatCompletion(h.ctx, followUp)
		if err != nil {
			if h.ctx.Err() != nil {
				return response, ErrHangup
			}
			return response, errors.Wrap(errors.KindUpstream, "llm.QueryStream", "工具调用后的追问失败", err)
		}
		if len(resp.Choices) == 0 {
			return response, errors.New(errors.KindUpstream, "llm.QueryStream", "上游没有返回任何候选")
		}

		final := resp.Choices[0].Message.Content
		if err := validateResponse(text, final); err != nil {
			return response, err
		}
		convo = append(convo, resp.Choices[0].Message)
		finishReason = string(resp.Choices[0].FinishReason)
		info.ResponseID = resp.ID
		info.Object = resp.Object
		info.Created = resp.Created
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		usage.TotalTokens += resp.Usage.TotalTokens

		for _, s := range seg.Feed(final) {
			callback(s, false)
		}
		if rest := seg.Flush(); rest != "" {
			callback(rest, false)
		}
		if response != "" {
			response += "\n"
		}
		response += final
	} else {
		if err := validateResponse(text, response); err != nil {
			return response, err
		}
		convo = append(convo, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: response,
		})
	}

	callback("", true)

	if usage.TotalTokens > 0 {
		usage.Source = UsageSourceProvider
	} else {
		usage = Usage{
			PromptTokens:     estimateTokens(text),
			CompletionTokens: estimateTokens(response),
			Source:           UsageSourceEstimated,
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	h.mu.Lock()
	h.messages = convo
	h.lastUsage = usage
	h.hasUsage = true
	h.mu.Unlock()

	info.setUsage(usage)
	info.FinishReason = finishReason
	info.MessageCount = len(convo)
	emitUsage(h.logger, info, text, response)

	return response, nil
}

// dispatchToolCalls 逐个执行工具并把结果追加成 tool 消息。
// 单个工具失败不终止整轮，错误文本作为结果回给上游。
func (h *OpenAIHandler) dispatchToolCalls(convo []openai.ChatCompletionMessage, calls []openai.ToolCall, info *UsageInfo) []openai.ChatCompletionMessage {
	for _, call := range calls {
		record := ToolCallInfo{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}

		result, err := h.tools.HandleToolCall(call.Function.Name, call.Function.Arguments)
		if err != nil {
			h.logger.ErrorTag("工具", "工具 %s 执行失败: %v", call.Function.Name, err)
			record.Error = err.Error()
			result = "工具调用失败: " + err.Error()
		}
		record.Result = result
		info.ToolCalls = append(info.ToolCalls, record)

		convo = append(convo, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    result,
			ToolCallID: call.ID,
		})
	}
	return convo
}

// buildRequest 组装上游请求，空内容的系统消息在这里兜底
func (h *OpenAIHandler) buildRequest(model string, msgs []openai.ChatCompletionMessage, opts QueryOptions, stream bool, tools []openai.Tool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: sanitizeMessages(msgs),
		Stream:   stream,
		Tools:    tools,
	}

	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	if opts.MaxCompletionTokens != nil {
		req.MaxCompletionTokens = *opts.MaxCompletionTokens
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.TopP != nil {
		req.TopP = *opts.TopP
	}
	if opts.FrequencyPenalty != nil {
		req.FrequencyPenalty = *opts.FrequencyPenalty
	}
	if opts.PresencePenalty != nil {
		req.PresencePenalty = *opts.PresencePenalty
	}
	if len(opts.Stop) > 0 {
		req.Stop = opts.Stop
	}
	if opts.N != nil {
		req.N = *opts.N
	}
	if len(opts.LogitBias) > 0 {
		req.LogitBias = opts.LogitBias
	}
	if opts.User != "" {
		req.User = opts.User
	}
	if opts.ResponseFormat != nil {
		req.ResponseFormat = opts.ResponseFormat
	}
	if opts.Seed != nil {
		req.Seed = opts.Seed
	}
	return req
}

// sanitizeMessages 发送前规整历史：系统消息内容为空时填入占位提示，
// 完全空白的消息直接丢弃
func sanitizeMessages(msgs []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == openai.ChatMessageRoleSystem && m.Content == "" {
			m.Content = placeholderSystemContent
		}
		if m.Content == "" && len(m.ToolCalls) == 0 && m.ToolCallID == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// validateResponse 拒绝空回复和原样回显
func validateResponse(query, response string) error {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return ErrEmptyResponse
	}
	if trimmed == strings.TrimSpace(query) {
		return ErrEchoResponse
	}
	return nil
}

// healIncompleteToolCalls 清理悬空的工具调用轮次。
// 要求持有 mu。assistant 的每个工具调用都必须有对应的 tool 回复，
// 凑不齐的整组移除，孤儿 tool 消息一并移除。
func (h *OpenAIHandler) healIncompleteToolCalls() {
	answered := make(map[string]bool)
	for _, m := range h.messages {
		if m.Role == openai.ChatMessageRoleTool && m.ToolCallID != "" {
			answered[m.ToolCallID] = true
		}
	}

	valid := make(map[string]bool)
	keep := h.messages[:0]
	removed := 0
	for _, m := range h.messages {
		switch {
		case m.Role == openai.ChatMessageRoleAssistant && len(m.ToolCalls) > 0:
			complete := true
			for _, tc := range m.ToolCalls {
				if !answered[tc.ID] {
					complete = false
					break
				}
			}
			if !complete {
				removed++
				continue
			}
			for _, tc := range m.ToolCalls {
				valid[tc.ID] = true
			}
			keep = append(keep, m)
		case m.Role == openai.ChatMessageRoleTool:
			if !valid[m.ToolCallID] {
				removed++
				continue
			}
			keep = append(keep, m)
		default:
			keep = append(keep, m)
		}
	}
	if removed > 0 {
		h.logger.WarnTag("LLM", "移除 %d 条悬空的工具调用消息", removed)
	}
	h.messages = keep
}

// RegisterFunctionTool 注册一个函数工具，同名覆盖
func (h *OpenAIHandler) RegisterFunctionTool(name, description string, parameters map[string]interface{}, callback FunctionToolCallback) {
	h.tools.Register(name, description, parameters, callback)
}

// RegisterFunctionToolDefinition 注册一个完整的工具定义
func (h *OpenAIHandler) RegisterFunctionToolDefinition(def *FunctionToolDefinition) {
	h.tools.RegisterDefinition(def)
}

// GetFunctionTools 返回当前注册的全部工具定义
func (h *OpenAIHandler) GetFunctionTools() []*FunctionToolDefinition {
	return h.tools.Definitions()
}

// ListFunctionTools 返回已注册工具的名称列表
func (h *OpenAIHandler) ListFunctionTools() []string {
	return h.tools.List()
}

// GetLastUsage 返回最近一轮问答的用量
func (h *OpenAIHandler) GetLastUsage() (Usage, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsage, h.hasUsage
}

// ResetMessages 清空历史并重新种入系统提示词
func (h *OpenAIHandler) ResetMessages() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages[:0], openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: h.systemPrompt,
	})
}

// SetSystemPrompt 设置或替换系统提示词，其余历史保持不变。
// 空提示词落到占位内容，历史里始终保有一条系统消息。
func (h *OpenAIHandler) SetSystemPrompt(prompt string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prompt == "" {
		prompt = placeholderSystemContent
	}
	h.systemPrompt = prompt
	for i := range h.messages {
		if h.messages[i].Role == openai.ChatMessageRoleSystem {
			h.messages[i].Content = prompt
			return
		}
	}
	h.messages = append([]openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: prompt,
	}}, h.messages...)
}

// GetMessages 返回历史消息的副本，修改返回值不影响内部状态
func (h *OpenAIHandler) GetMessages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Message, 0, len(h.messages))
	for _, m := range h.messages {
		msg := Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:   tc.ID,
				Type: string(tc.Type),
				Function: FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

// Interrupt 打断当前的流式回答，空闲时调用无副作用
func (h *OpenAIHandler) Interrupt() {
	select {
	case h.interruptCh <- struct{}{}:
	default:
	}
}

// Hangup 结束会话，可重复调用
func (h *OpenAIHandler) Hangup() {
	h.cancel()
}
