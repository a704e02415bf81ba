package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/coze-dev/coze-go"

	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

const (
	// cozeMaxHistory 发给 Coze 的历史条数上限，智能体在云端自带记忆，
	// 本地只保留近期上下文
	cozeMaxHistory = 20

	// defaultCozeRequestTimeout 整轮请求的软超时
	defaultCozeRequestTimeout = 60 * time.Second

	// defaultCozeStreamReadTimeout 相邻两个事件之间的静默上限
	defaultCozeStreamReadTimeout = 10 * time.Second
)

// CozeHandler 面向 Coze 智能体的会话处理器。
// 对话走 Coze 的事件流接口，非流式查询同样开流、收齐后一次返回。
// 两个超时都是软超时：已经拿到部分内容就按成功返回。
type CozeHandler struct {
	client coze.CozeAPI
	cfg    CozeConfig

	ctx    context.Context
	cancel context.CancelFunc

	opMu sync.Mutex
	mu   sync.Mutex

	systemPrompt string
	history      []Message

	requestTimeout    time.Duration
	streamReadTimeout time.Duration

	interruptCh chan struct{}

	lastUsage Usage
	hasUsage  bool
	logger    *logging.Logger
}

// NewCozeHandler 创建 Coze 会话
func NewCozeHandler(ctx context.Context, cfg CozeConfig, logger *logging.Logger) *CozeHandler {
	if logger == nil {
		logger = logging.DefaultLogger
	}

	auth := coze.NewTokenAuth(cfg.APIKey)
	client := coze.NewCozeAPI(auth, coze.WithBaseURL(cfg.BaseURL))

	hctx, cancel := context.WithCancel(ctx)
	h := &CozeHandler{
		client:            client,
		cfg:               cfg,
		ctx:               hctx,
		cancel:            cancel,
		systemPrompt:      cfg.SystemPrompt,
		requestTimeout:    defaultCozeRequestTimeout,
		streamReadTimeout: defaultCozeStreamReadTimeout,
		interruptCh:       make(chan struct{}, 1),
		logger:            logger,
	}
	if cfg.RequestTimeout > 0 {
		h.requestTimeout = cfg.RequestTimeout
	}

	logger.InfoTag("Coze", "创建会话, botId=%s, baseURL=%s", cfg.BotID, cfg.BaseURL)
	return h
}

// Query 非流式问答，模型参数被忽略，Coze 的模型由智能体配置决定
func (h *CozeHandler) Query(text string, model string) (string, error) {
	return h.QueryWithOptions(text, QueryOptions{Model: model})
}

// QueryWithOptions 非流式问答，内部仍然走事件流、收齐后返回
func (h *CozeHandler) QueryWithOptions(text string, options QueryOptions) (string, error) {
	return h.exchange(text, options, nil)
}

// QueryStream 流式问答
func (h *CozeHandler) QueryStream(text string, options QueryOptions, callback StreamCallback) (string, error) {
	options.Stream = true
	return h.exchange(text, options, callback)
}

type cozeStreamEvent struct {
	event *coze.ChatEvent
	err   error
}

// exchange 一轮完整问答。callback 为 nil 时表现为非流式
func (h *CozeHandler) exchange(text string, options QueryOptions, callback StreamCallback) (string, error) {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	if err := h.ctx.Err(); err != nil {
		return "", ErrHangup
	}

	h.mu.Lock()
	h.history = append(h.history, Message{Role: "user", Content: text})
	h.truncateHistory()
	outbound := h.toCozeMessages()
	h.mu.Unlock()

	info := newUsageInfo(string(KindCoze), h.cfg.BotID, options, time.Now())

	reqCtx, cancel := context.WithTimeout(h.ctx, h.requestTimeout)
	defer cancel()

	streamFlag := callback != nil
	stream, err := h.client.Chat.Stream(reqCtx, &coze.CreateChatsReq{
		BotID:    h.cfg.BotID,
		UserID:   h.cfg.UserID,
		Messages: outbound,
		Stream:   &streamFlag,
	})
	if err != nil {
		if h.ctx.Err() != nil {
			return "", ErrHangup
		}
		return "", errors.Wrap(errors.KindUpstream, "llm.coze.exchange", "建立 Coze 事件流失败", err)
	}
	defer stream.Close()

	// 单独的读协程配合软超时，Recv 本身不可中断
	events := make(chan cozeStreamEvent)
	go func() {
		for {
			ev, err := stream.Recv()
			select {
			case events <- cozeStreamEvent{event: ev, err: err}:
			case <-reqCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	seg := newSegmenter()
	var full strings.Builder
	var usage Usage
	completed := ""
	interrupted := false
	timedOut := false

readLoop:
	for {
		var interruptCh chan struct{}
		if callback != nil {
			interruptCh = h.interruptCh
		}

		select {
		case <-interruptCh:
			interrupted = true
			break readLoop
		case <-h.ctx.Done():
			return full.String(), ErrHangup
		case <-reqCtx.Done():
			timedOut = true
			break readLoop
		case <-time.After(h.streamReadTimeout):
			h.logger.WarnTag("Coze", "事件流静默超过 %v", h.streamReadTimeout)
			timedOut = true
			break readLoop
		case ev := <-events:
			if ev.err != nil {
				if full.Len() > 0 || completed != "" {
					// 已有内容，收尾错误按流结束处理
					break readLoop
				}
				return "", errors.Wrap(errors.KindUpstream, "llm.coze.exchange", "读取 Coze 事件流失败", ev.err)
			}

			event := ev.event
			switch event.Event {
			case coze.ChatEventConversationMessageDelta:
				if event.Message != nil && event.Message.Content != "" {
					full.WriteString(event.Message.Content)
					if callback != nil {
						for _, s := range seg.Feed(event.Message.Content) {
							callback(s, false)
						}
					}
				}
			case coze.ChatEventConversationMessageCompleted:
				// 回答消息的完成事件带全文，增量没收齐时补余量。
				// follow_up、verbose 等其他类型的完成消息不属于回答
				if event.Message != nil && event.Message.Type == coze.MessageTypeAnswer && event.Message.Content != "" {
					completed = event.Message.Content
					if !strings.Contains(full.String(), completed) {
						full.WriteString(completed)
						if callback != nil {
							for _, s := range seg.Feed(completed) {
								callback(s, false)
							}
						}
					}
				}
			case coze.ChatEventConversationChatCompleted:
				// 用量挂在对话级的完成事件上
				if event.Chat != nil {
					info.ResponseID = event.Chat.ID
					info.Created = int64(event.Chat.CreatedAt)
					if event.Chat.Usage != nil {
						usage = Usage{
							PromptTokens:     event.Chat.Usage.InputCount,
							CompletionTokens: event.Chat.Usage.OutputCount,
							TotalTokens:      event.Chat.Usage.TokenCount,
							Source:           UsageSourceProvider,
						}
					}
				}
				break readLoop
			}
			if event.IsDone() {
				break readLoop
			}
		}
	}

	response := full.String()

	if interrupted {
		h.logger.InfoTag("Coze", "流式回答被打断, 已产出 %d 字符", len(response))
		return response, ErrInterrupted
	}
	if response == "" {
		if timedOut {
			return "", errors.Wrap(errors.KindTimeout, "llm.coze.exchange", "Coze 超时且无任何内容", ErrStreamStalled)
		}
		return "", ErrEmptyResponse
	}
	if timedOut {
		h.logger.WarnTag("Coze", "软超时, 返回已收到的 %d 字符", len(response))
	}

	if callback != nil {
		if rest := seg.Flush(); rest != "" {
			callback(rest, false)
		}
		callback("", true)
	}

	if usage.Source != UsageSourceProvider {
		usage = Usage{
			PromptTokens:     estimateTokens(text),
			CompletionTokens: estimateTokens(response),
			Source:           UsageSourceEstimated,
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	h.mu.Lock()
	h.history = append(h.history, Message{Role: "assistant", Content: response})
	h.truncateHistory()
	h.lastUsage = usage
	h.hasUsage = true
	info.MessageCount = len(h.history)
	h.mu.Unlock()

	info.setUsage(usage)
	emitUsage(h.logger, info, text, response)

	return response, nil
}

// truncateHistory 只保留最近的对话轮次。要求持有 mu
func (h *CozeHandler) truncateHistory() {
	if len(h.history) > cozeMaxHistory {
		h.history = h.history[len(h.history)-cozeMaxHistory:]
	}
}

// toCozeMessages 把本地历史转成 Coze 协议的消息列表。要求持有 mu
func (h *CozeHandler) toCozeMessages() []*coze.Message {
	out := make([]*coze.Message, 0, len(h.history))
	for _, m := range h.history {
		switch m.Role {
		case "user", "assistant":
			out = append(out, &coze.Message{
				Role:    coze.MessageRole(m.Role),
				Content: m.Content,
			})
		}
	}
	return out
}

// RegisterFunctionTool Coze 的工具在智能体平台上配置，本地注册仅提示
func (h *CozeHandler) RegisterFunctionTool(name, description string, parameters map[string]interface{}, callback FunctionToolCallback) {
	h.logger.WarnTag("Coze", "忽略本地工具注册 %s, Coze 的工具在平台侧配置", name)
}

// RegisterFunctionToolDefinition 同 RegisterFunctionTool，仅提示
func (h *CozeHandler) RegisterFunctionToolDefinition(def *FunctionToolDefinition) {
	if def != nil {
		h.RegisterFunctionTool(def.Name, def.Description, def.Parameters, def.Callback)
	}
}

// GetFunctionTools Coze 不暴露本地工具，恒为空
func (h *CozeHandler) GetFunctionTools() []*FunctionToolDefinition {
	return []*FunctionToolDefinition{}
}

// ListFunctionTools 恒为空
func (h *CozeHandler) ListFunctionTools() []string {
	return []string{}
}

// GetLastUsage 返回最近一轮问答的用量
func (h *CozeHandler) GetLastUsage() (Usage, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsage, h.hasUsage
}

// ResetMessages 清空本地历史
func (h *CozeHandler) ResetMessages() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = h.history[:0]
}

// SetSystemPrompt 记录系统提示词。Coze 的人设在平台侧配置，
// 这里只保留记录以保持契约一致
func (h *CozeHandler) SetSystemPrompt(prompt string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.systemPrompt = prompt
}

// GetMessages 返回本地历史的副本
func (h *CozeHandler) GetMessages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Message, len(h.history))
	copy(out, h.history)
	return out
}

// Interrupt 打断当前的流式回答
func (h *CozeHandler) Interrupt() {
	select {
	case h.interruptCh <- struct{}{}:
	default:
	}
}

// Hangup 结束会话，可重复调用
func (h *CozeHandler) Hangup() {
	h.cancel()
}
