package config

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		EventBus: EventBusConfig{
			Workers: 10,
		},
		Gateway: GatewayConfig{
			DefaultModel: "gpt-4o",
			SystemPrompt: "You are a helpful assistant.",
		},
		Credentials: map[string]CredentialConfig{},
	}
}
