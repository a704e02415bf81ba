package llm

import (
	"testing"
	"time"

	platformerrors "voicegate-server-go/internal/platform/errors"
)

func TestParseProviderKind(t *testing.T) {
	tests := []struct {
		in   string
		want ProviderKind
	}{
		{"openai", KindOpenAI},
		{"OpenAI", KindOpenAI},
		{"coze", KindCoze},
		{" Coze ", KindCoze},
		{"ollama", KindOllama},
		{"", KindOpenAI},
		{"azure", KindOpenAI},
		{"deepseek", KindOpenAI},
	}
	for _, tt := range tests {
		if got := ParseProviderKind(tt.in); got != tt.want {
			t.Errorf("ParseProviderKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestResolveCredentialOpenAI(t *testing.T) {
	cfg, err := ResolveCredential(Credential{
		Provider: "openai",
		APIKey:   "sk-test",
	}, "你是语音助手")
	if err != nil {
		t.Fatalf("ResolveCredential() 出错: %v", err)
	}

	oc, ok := cfg.(OpenAIConfig)
	if !ok {
		t.Fatalf("配置类型 = %T", cfg)
	}
	if oc.BaseURL != defaultOpenAIBaseURL {
		t.Errorf("BaseURL = %q, 应补默认地址", oc.BaseURL)
	}
	if oc.SystemPrompt != "你是语音助手" {
		t.Errorf("SystemPrompt = %q", oc.SystemPrompt)
	}
}

func TestResolveCredentialSystemPromptFallback(t *testing.T) {
	cfg, err := ResolveCredential(Credential{
		Provider:     "openai",
		APIKey:       "sk-test",
		SystemPrompt: "凭证里的提示词",
	}, "")
	if err != nil {
		t.Fatalf("ResolveCredential() 出错: %v", err)
	}
	if cfg.(OpenAIConfig).SystemPrompt != "凭证里的提示词" {
		t.Errorf("空参数时应回落到凭证的提示词")
	}
}

func TestResolveCredentialCoze(t *testing.T) {
	tests := []struct {
		name       string
		baseURL    string
		wantBotID  string
		wantUserID string
		wantBase   string
		wantErr    bool
	}{
		{
			name:       "完整JSON配置",
			baseURL:    `{"botId":"bot_123","userId":"u_9","baseUrl":"https://api.coze.com"}`,
			wantBotID:  "bot_123",
			wantUserID: "u_9",
			wantBase:   "https://api.coze.com",
		},
		{
			name:       "JSON缺省字段补默认值",
			baseURL:    `{"botId":"bot_123"}`,
			wantBotID:  "bot_123",
			wantUserID: defaultCozeUserID,
			wantBase:   defaultCozeBaseURL,
		},
		{
			name:       "裸botId",
			baseURL:    "bot_456",
			wantBotID:  "bot_456",
			wantUserID: defaultCozeUserID,
			wantBase:   defaultCozeBaseURL,
		},
		{
			// 解析不动的内容按裸 botId 处理
			name:       "JSON损坏按裸botId处理",
			baseURL:    `{"botId":`,
			wantBotID:  `{"botId":`,
			wantUserID: defaultCozeUserID,
			wantBase:   defaultCozeBaseURL,
		},
		{
			name:    "缺少botId",
			baseURL: `{"userId":"u_9"}`,
			wantErr: true,
		},
		{
			name:    "空字符串",
			baseURL: "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ResolveCredential(Credential{
				Provider: "coze",
				APIKey:   "pat_test",
				BaseURL:  tt.baseURL,
			}, "")
			if tt.wantErr {
				if err == nil {
					t.Fatal("期望出错")
				}
				if !platformerrors.IsKind(err, platformerrors.KindConfig) {
					t.Errorf("错误类别不是 KindConfig: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveCredential() 出错: %v", err)
			}

			cc, ok := cfg.(CozeConfig)
			if !ok {
				t.Fatalf("配置类型 = %T", cfg)
			}
			if cc.BotID != tt.wantBotID {
				t.Errorf("BotID = %q, want %q", cc.BotID, tt.wantBotID)
			}
			if cc.UserID != tt.wantUserID {
				t.Errorf("UserID = %q, want %q", cc.UserID, tt.wantUserID)
			}
			if cc.BaseURL != tt.wantBase {
				t.Errorf("BaseURL = %q, want %q", cc.BaseURL, tt.wantBase)
			}
		})
	}
}

func TestWithRequestTimeout(t *testing.T) {
	tests := []struct {
		name string
		cfg  ProviderConfig
	}{
		{"openai", OpenAIConfig{APIKey: "sk-test"}},
		{"coze", CozeConfig{APIKey: "pat_test", BotID: "bot_1"}},
		{"ollama", OllamaConfig{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WithRequestTimeout(tt.cfg, 30*time.Second)
			var d time.Duration
			switch c := got.(type) {
			case OpenAIConfig:
				d = c.RequestTimeout
			case CozeConfig:
				d = c.RequestTimeout
			case OllamaConfig:
				d = c.RequestTimeout
			}
			if d != 30*time.Second {
				t.Errorf("RequestTimeout = %v, want 30s", d)
			}
			if got.Kind() != tt.cfg.Kind() {
				t.Errorf("Kind 变了: %v -> %v", tt.cfg.Kind(), got.Kind())
			}
		})
	}

	if got := WithRequestTimeout(OpenAIConfig{}, 0); got.(OpenAIConfig).RequestTimeout != 0 {
		t.Error("零值超时应原样返回")
	}
}

func TestResolveCredentialOllama(t *testing.T) {
	cfg, err := ResolveCredential(Credential{Provider: "ollama"}, "")
	if err != nil {
		t.Fatalf("ResolveCredential() 出错: %v", err)
	}
	if _, ok := cfg.(OllamaConfig); !ok {
		t.Fatalf("配置类型 = %T", cfg)
	}
}

func TestNormalizeOllamaBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", defaultOllamaBaseURL},
		{"http://localhost:11434", "http://localhost:11434/v1"},
		{"http://localhost:11434/", "http://localhost:11434/v1"},
		{"http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"http://gpu-box:8080", "http://gpu-box:8080/v1"},
	}
	for _, tt := range tests {
		if got := normalizeOllamaBaseURL(tt.in); got != tt.want {
			t.Errorf("normalizeOllamaBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
