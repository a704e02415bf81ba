package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	platformerrors "voicegate-server-go/internal/platform/errors"
)

func newTestCozeHandler(t *testing.T) *CozeHandler {
	h := NewCozeHandler(context.Background(), CozeConfig{
		APIKey:  "pat_test",
		BotID:   "bot_test",
		UserID:  "u_test",
		BaseURL: defaultCozeBaseURL,
	}, nil)
	t.Cleanup(h.Hangup)
	return h
}

// writeCozeEvent 按 Coze 事件流的 SSE 格式写一个事件
func writeCozeEvent(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event:%s\ndata:%s\n\n", event, data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// newStreamCozeHandler 起一个假的 Coze 上游并缩短静默超时，
// 让卡流测试秒级内完成
func newStreamCozeHandler(t *testing.T, fn http.HandlerFunc) *CozeHandler {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fn(w, r)
	}))
	t.Cleanup(srv.Close)

	h := NewCozeHandler(context.Background(), CozeConfig{
		APIKey:  "pat_test",
		BotID:   "bot_test",
		UserID:  "u_test",
		BaseURL: srv.URL,
	}, nil)
	h.streamReadTimeout = 100 * time.Millisecond
	t.Cleanup(h.Hangup)
	return h
}

func TestCozeHandlerQueryStreamFullExchange(t *testing.T) {
	h := newStreamCozeHandler(t, func(w http.ResponseWriter, r *http.Request) {
		writeCozeEvent(w, "conversation.message.delta",
			`{"role":"assistant","type":"answer","content":"你好，","content_type":"text"}`)
		writeCozeEvent(w, "conversation.message.delta",
			`{"role":"assistant","type":"answer","content":"很高兴认识你。","content_type":"text"}`)
		writeCozeEvent(w, "conversation.message.completed",
			`{"role":"assistant","type":"answer","content":"你好，很高兴认识你。","content_type":"text"}`)
		// 追问建议不属于回答正文
		writeCozeEvent(w, "conversation.message.completed",
			`{"role":"assistant","type":"follow_up","content":"还想聊点什么？","content_type":"text"}`)
		writeCozeEvent(w, "conversation.chat.completed",
			`{"id":"chat_1","conversation_id":"conv_1","bot_id":"bot_test","usage":{"token_count":30,"output_count":10,"input_count":20}}`)
	})

	var segments []string
	completed := false
	got, err := h.QueryStream("打个招呼", QueryOptions{}, func(segment string, isComplete bool) {
		if isComplete {
			completed = true
			return
		}
		segments = append(segments, segment)
	})
	if err != nil {
		t.Fatalf("QueryStream() 出错: %v", err)
	}
	if got != "你好，很高兴认识你。" {
		t.Errorf("完整回复 = %q", got)
	}
	if strings.Join(segments, "") != got {
		t.Errorf("片段拼接 %q 应等于完整回复 %q", strings.Join(segments, ""), got)
	}
	if !completed {
		t.Error("缺少完成信号")
	}

	usage, ok := h.GetLastUsage()
	if !ok {
		t.Fatal("GetLastUsage() 应有效")
	}
	if usage.Source != UsageSourceProvider || usage.TotalTokens != 30 ||
		usage.PromptTokens != 20 || usage.CompletionTokens != 10 {
		t.Errorf("用量应取自对话完成事件, 实际 %+v", usage)
	}

	msgs := h.GetMessages()
	if len(msgs) != 2 || msgs[1].Role != "assistant" || msgs[1].Content != got {
		t.Errorf("历史 = %+v", msgs)
	}
}

func TestCozeHandlerQueryStreamStallAfterPartial(t *testing.T) {
	h := newStreamCozeHandler(t, func(w http.ResponseWriter, r *http.Request) {
		writeCozeEvent(w, "conversation.message.delta",
			`{"role":"assistant","type":"answer","content":"讲到一半，","content_type":"text"}`)
		// 之后一直不再发事件，模拟上游卡住
		<-r.Context().Done()
	})

	var segments []string
	completed := false
	got, err := h.QueryStream("讲个故事", QueryOptions{}, func(segment string, isComplete bool) {
		if isComplete {
			completed = true
			return
		}
		segments = append(segments, segment)
	})
	if err != nil {
		t.Fatalf("已有部分内容时卡流应按成功返回, err = %v", err)
	}
	if got != "讲到一半，" {
		t.Errorf("部分回复 = %q", got)
	}
	if !completed {
		t.Error("缺少完成信号")
	}
	if strings.Join(segments, "") != got {
		t.Errorf("片段拼接 = %q", strings.Join(segments, ""))
	}

	usage, ok := h.GetLastUsage()
	if !ok || usage.Source != UsageSourceEstimated {
		t.Errorf("卡流收不到用量事件, 应回落到估算: %+v", usage)
	}

	msgs := h.GetMessages()
	if len(msgs) != 2 || msgs[1].Content != got {
		t.Errorf("部分内容也应提交历史: %+v", msgs)
	}
}

func TestCozeHandlerQueryStreamStallWithoutContent(t *testing.T) {
	h := newStreamCozeHandler(t, func(w http.ResponseWriter, r *http.Request) {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})

	_, err := h.QueryStream("在吗", QueryOptions{}, func(string, bool) {})
	if !errors.Is(err, ErrStreamStalled) {
		t.Fatalf("零内容卡流 err = %v, want ErrStreamStalled", err)
	}
	if !platformerrors.IsKind(err, platformerrors.KindTimeout) {
		t.Errorf("错误类别 = %v, want timeout", err)
	}

	if _, ok := h.GetLastUsage(); ok {
		t.Error("失败的轮次不应留下用量")
	}
	// 失败轮次的用户消息留在历史里，由下一轮一起带上
	if msgs := h.GetMessages(); len(msgs) != 1 || msgs[0].Role != "user" {
		t.Errorf("历史 = %+v", msgs)
	}
}

func TestCozeHandlerRequestTimeoutOverride(t *testing.T) {
	h := NewCozeHandler(context.Background(), CozeConfig{
		APIKey:         "pat_test",
		BotID:          "bot_test",
		UserID:         "u_test",
		BaseURL:        defaultCozeBaseURL,
		RequestTimeout: 5 * time.Second,
	}, nil)
	t.Cleanup(h.Hangup)

	if h.requestTimeout != 5*time.Second {
		t.Errorf("requestTimeout = %v, want 5s", h.requestTimeout)
	}
	if h.streamReadTimeout != defaultCozeStreamReadTimeout {
		t.Errorf("streamReadTimeout = %v, 不应受整轮超时影响", h.streamReadTimeout)
	}

	def := newTestCozeHandler(t)
	if def.requestTimeout != defaultCozeRequestTimeout {
		t.Errorf("默认 requestTimeout = %v", def.requestTimeout)
	}
}

func TestCozeHandlerTruncateHistory(t *testing.T) {
	h := newTestCozeHandler(t)

	h.mu.Lock()
	for i := 0; i < cozeMaxHistory+5; i++ {
		h.history = append(h.history, Message{Role: "user", Content: fmt.Sprintf("消息%d", i)})
	}
	h.truncateHistory()
	got := len(h.history)
	first := h.history[0].Content
	h.mu.Unlock()

	if got != cozeMaxHistory {
		t.Errorf("截断后长度 = %d, want %d", got, cozeMaxHistory)
	}
	if first != "消息5" {
		t.Errorf("应保留最近的轮次, 首条 = %q", first)
	}
}

func TestCozeHandlerToCozeMessages(t *testing.T) {
	h := newTestCozeHandler(t)

	h.mu.Lock()
	h.history = []Message{
		{Role: "system", Content: "不该发出去"},
		{Role: "user", Content: "你好"},
		{Role: "assistant", Content: "你好呀"},
	}
	out := h.toCozeMessages()
	h.mu.Unlock()

	if len(out) != 2 {
		t.Fatalf("消息数 = %d, system 角色不应发给 Coze", len(out))
	}
	if string(out[0].Role) != "user" || out[0].Content != "你好" {
		t.Errorf("首条 = %+v", out[0])
	}
}

func TestCozeHandlerInertTools(t *testing.T) {
	h := newTestCozeHandler(t)

	h.RegisterFunctionTool("get_weather", "查询天气", nil, func(args map[string]interface{}) (string, error) {
		return "", nil
	})
	h.RegisterFunctionToolDefinition(&FunctionToolDefinition{Name: "get_time"})

	if got := h.GetFunctionTools(); len(got) != 0 {
		t.Errorf("GetFunctionTools() = %v, Coze 应恒为空", got)
	}
	if got := h.ListFunctionTools(); len(got) != 0 {
		t.Errorf("ListFunctionTools() = %v, Coze 应恒为空", got)
	}
}

func TestCozeHandlerHangup(t *testing.T) {
	h := newTestCozeHandler(t)

	h.Hangup()
	h.Hangup() // 幂等

	if _, err := h.Query("在吗", ""); !errors.Is(err, ErrHangup) {
		t.Errorf("挂断后 Query() err = %v, want ErrHangup", err)
	}
	if _, err := h.QueryStream("在吗", QueryOptions{}, func(string, bool) {}); !errors.Is(err, ErrHangup) {
		t.Errorf("挂断后 QueryStream() err = %v, want ErrHangup", err)
	}
}

func TestCozeHandlerResetAndCopy(t *testing.T) {
	h := newTestCozeHandler(t)

	h.mu.Lock()
	h.history = []Message{{Role: "user", Content: "一条"}}
	h.mu.Unlock()

	msgs := h.GetMessages()
	msgs[0].Content = "篡改"
	if h.GetMessages()[0].Content != "一条" {
		t.Error("GetMessages() 返回值应是副本")
	}

	h.ResetMessages()
	if got := h.GetMessages(); len(got) != 0 {
		t.Errorf("重置后历史 = %v", got)
	}
}

func TestCozeHandlerSetSystemPrompt(t *testing.T) {
	h := newTestCozeHandler(t)

	h.SetSystemPrompt("新人设")

	h.mu.Lock()
	got := h.systemPrompt
	h.mu.Unlock()
	if got != "新人设" {
		t.Errorf("systemPrompt = %q", got)
	}
}
