package bootstrap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"voicegate-server-go/internal/domain/eventbus"
	"voicegate-server-go/internal/domain/llm"
)

// runChat 控制台对话循环。流式片段逐段打印，
// 也是业务接入网关时的最小参照。
func runChat(ctx context.Context, cancel context.CancelFunc, state *appState) error {
	logger := state.logger
	provider := state.provider
	model := state.config.Gateway.DefaultModel

	fmt.Println("输入内容开始对话, /help 查看命令")

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Print("你: ")
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line = <-lines:
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "/") {
			if quit := handleCommand(text, state); quit {
				cancel()
				return nil
			}
			continue
		}

		eventbus.PublishAsync(eventbus.EventChatStarted, text)

		fmt.Print("助手: ")
		response, err := provider.QueryStream(text, llm.QueryOptions{Model: model}, func(segment string, isComplete bool) {
			if isComplete {
				fmt.Println()
				return
			}
			fmt.Print(segment)
		})
		if err != nil {
			fmt.Println()
			switch {
			case errors.Is(err, llm.ErrInterrupted):
				logger.WarnTag("LLM", "回答被打断, 已产出: %s", response)
			case errors.Is(err, llm.ErrHangup):
				return nil
			default:
				logger.ErrorTag("LLM", "查询失败: %v", err)
			}
			continue
		}

		eventbus.PublishAsync(eventbus.EventChatCompleted, text, response)
	}
}

// handleCommand 处理斜杠命令，返回 true 表示退出
func handleCommand(cmd string, state *appState) bool {
	switch cmd {
	case "/exit", "/quit":
		return true
	case "/reset":
		state.provider.ResetMessages()
		fmt.Println("历史已清空")
	case "/tools":
		names := state.provider.ListFunctionTools()
		if len(names) == 0 {
			fmt.Println("没有注册任何工具")
		} else {
			fmt.Println("已注册工具:", strings.Join(names, ", "))
		}
	case "/usage":
		usage, ok := state.provider.GetLastUsage()
		if !ok {
			fmt.Println("还没有用量数据")
		} else {
			fmt.Printf("上一轮: %d tokens (提示 %d + 补全 %d, 来源 %s)\n",
				usage.TotalTokens, usage.PromptTokens, usage.CompletionTokens, usage.Source)
		}
	case "/history":
		for _, m := range state.provider.GetMessages() {
			fmt.Printf("  [%s] %s\n", m.Role, m.Content)
		}
	case "/help":
		fmt.Println("命令: /reset 清空历史, /tools 工具列表, /usage 上轮用量, /history 查看历史, /exit 退出")
	default:
		fmt.Println("未知命令:", cmd)
	}
	return false
}
