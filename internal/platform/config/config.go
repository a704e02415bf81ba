package config

type Config struct {
	Log         LogConfig                   `yaml:"log"`
	EventBus    EventBusConfig              `yaml:"eventbus"`
	Gateway     GatewayConfig               `yaml:"gateway"`
	Credentials map[string]CredentialConfig `yaml:"credentials"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	File  string `yaml:"file"`
}

type EventBusConfig struct {
	Workers int `yaml:"workers"`
}

// GatewayConfig 对话网关运行参数
type GatewayConfig struct {
	Selected       string `yaml:"selected_credential"` // 启动时使用的凭证名称
	DefaultModel   string `yaml:"default_model"`
	SystemPrompt   string `yaml:"system_prompt"`
	RequestTimeout int    `yaml:"request_timeout,omitempty"` // 整轮问答的超时秒数，0 表示用各厂商默认值
}

// CredentialConfig 单条上游凭证配置，对应外部凭证存储中的一条记录
type CredentialConfig struct {
	Provider     string `yaml:"provider"` // openai / coze / ollama / 其他兼容厂商
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url,omitempty"` // Coze 时可以是 botId 或 JSON 配置
	Model        string `yaml:"model,omitempty"`
	SystemPrompt string `yaml:"system_prompt,omitempty"`
}
