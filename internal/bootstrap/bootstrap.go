package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"voicegate-server-go/internal/domain/eventbus"
	"voicegate-server-go/internal/domain/llm"
	platformconfig "voicegate-server-go/internal/platform/config"
	platformerrors "voicegate-server-go/internal/platform/errors"
	platformlogging "voicegate-server-go/internal/platform/logging"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config     *platformconfig.Config
	configPath string
	logger     *platformlogging.Logger
	asyncBus   *eventbus.AsyncEventBus
	provider   llm.Provider
}

// Run 启动整个服务生命周期，负责加载配置、初始化依赖和优雅关停。
func Run(ctx context.Context) error {
	state := &appState{}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}

	config := state.config
	logger := state.logger
	if config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}
	if state.provider == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"llm provider not initialised",
		)
	}

	logBootstrapGraph(steps, logger)

	defer func() {
		state.provider.Hangup()
		if state.asyncBus != nil {
			state.asyncBus.WaitAsync()
			state.asyncBus.Stop()
		}
		logger.Close()
	}()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	group.Go(func() error {
		return runChat(groupCtx, cancel, state)
	})

	if err := waitForShutdown(signalCtx, cancel, logger, group); err != nil {
		return err
	}

	logger.InfoTag("引导", "服务已退出")
	return nil
}

func waitForShutdown(signalCtx context.Context, cancel context.CancelFunc, logger *platformlogging.Logger, group *errgroup.Group) error {
	done := make(chan error, 1)
	go func() {
		done <- group.Wait()
	}()

	select {
	case <-signalCtx.Done():
		logger.InfoTag("引导", "收到退出信号, 开始优雅关停")
		cancel()
		select {
		case err := <-done:
			return filterShutdownErr(err)
		case <-time.After(5 * time.Second):
			logger.WarnTag("引导", "关停超时, 强制退出")
			return nil
		}
	case err := <-done:
		cancel()
		return filterShutdownErr(err)
	}
}

func filterShutdownErr(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("引导", "初始化依赖关系概览")

	stepNames := map[string]string{
		"config:load-file":      "加载配置文件",
		"logging:init-provider": "初始化日志",
		"eventbus:start-async":  "启动事件总线",
		"usage:subscribe":       "订阅用量事件",
		"gateway:init-provider": "创建对话会话",
	}

	for _, step := range steps {
		if name, ok := stepNames[step.ID]; ok {
			logger.InfoTag("引导", "%s (%s)", name, step.ID)
		}
	}
	logger.InfoTag("引导", "启动服务")
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load-file",
			Title:   "Load configuration file",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load-file"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "eventbus:start-async",
			Title:     "Start async event bus",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   startEventBusStep,
		},
		{
			ID:        "usage:subscribe",
			Title:     "Subscribe usage events",
			DependsOn: []string{"eventbus:start-async"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   subscribeUsageStep,
		},
		{
			ID:        "gateway:init-provider",
			Title:     "Create conversation provider",
			DependsOn: []string{"config:load-file", "logging:init-provider"},
			Kind:      platformerrors.KindConfig,
			Execute:   initProviderStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	loader := platformconfig.NewLoader()
	result, err := loader.Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load-file", "failed to load config", err)
	}

	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging", err)
	}

	state.logger = logger
	configPath := state.configPath
	if configPath == "" {
		configPath = "defaults"
	}
	logger.InfoTag("引导", "日志模块就绪 [%s] %s", state.config.Log.Level, configPath)
	return nil
}

func startEventBusStep(_ context.Context, state *appState) error {
	workers := state.config.EventBus.Workers
	if workers <= 0 {
		workers = 10
	}

	state.asyncBus = eventbus.InitAsync(workers)

	state.logger.InfoTag("事件", "异步事件总线已启动, workers=%d", workers)
	return nil
}

func subscribeUsageStep(_ context.Context, state *appState) error {
	logger := state.logger
	err := state.asyncBus.Subscribe(eventbus.EventLLMUsage, func(info *llm.UsageInfo, query, response string) {
		if info == nil {
			return
		}
		logger.InfoTag("事件", "用量 exchange=%s provider=%s model=%s tokens=%d source=%s",
			info.ExchangeID, info.Provider, info.Model, info.TotalTokens, info.Source)
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "usage:subscribe", "failed to subscribe usage events", err)
	}
	return nil
}

func initProviderStep(ctx context.Context, state *appState) error {
	cfg := state.config

	name := cfg.Gateway.Selected
	if name == "" {
		return platformerrors.New(platformerrors.KindConfig, "gateway:init-provider", "未选择任何凭证 (gateway.selected)")
	}
	cred, ok := cfg.Credentials[name]
	if !ok {
		return platformerrors.New(platformerrors.KindConfig, "gateway:init-provider", "凭证不存在: "+name)
	}

	providerCfg, err := llm.ResolveCredential(llm.Credential{
		Provider:     cred.Provider,
		APIKey:       cred.APIKey,
		BaseURL:      cred.BaseURL,
		SystemPrompt: cred.SystemPrompt,
	}, cfg.Gateway.SystemPrompt)
	if err != nil {
		return err
	}
	providerCfg = llm.WithRequestTimeout(providerCfg, time.Duration(cfg.Gateway.RequestTimeout)*time.Second)

	provider, err := llm.NewProviderFromConfig(ctx, providerCfg, state.logger)
	if err != nil {
		return err
	}

	state.provider = provider
	state.logger.InfoTag("引导", "会话就绪, 凭证=%s 类型=%s", name, cred.Provider)
	return nil
}
