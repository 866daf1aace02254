package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Assistant providers.
const (
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
	BackendRedis  = "redis"
)

const (
	defaultOpenAIBaseURL = "https://api.groq.com/openai/v1"
	defaultOpenAIModel   = "llama-3.3-70b-versatile"
	defaultTemperature   = 0.7
	defaultMaxTokens     = 1024
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Store  StoreConfig
	Auth   AuthConfig
	Chat   ChatConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	st, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		AI:     ai,
		Store:  st,
		Auth:   auth,
		Chat:   ChatConfig{Endpoint: getEnvOrDefault("CHAT_ENDPOINT", server.LocalURL()+"/api/chat")},
		Log:    logCfg,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// LocalURL is the base URL the server can use to reach itself.
func (c ServerConfig) LocalURL() string {
	if strings.HasPrefix(c.Addr, ":") {
		return "http://127.0.0.1" + c.Addr
	}
	return "http://" + c.Addr
}

// ParseAddr accepts "8080", ":8080" or "127.0.0.1:8080".
func ParseAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "5000"
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":5000" 或 "127.0.0.1:5000"。
		return port, nil
	}

	return ":" + port, nil
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	addr, err := ParseAddr(os.Getenv("PORT"))
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{Addr: addr}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string

	// Ark (Volcengine) credentials.
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string

	// OpenAI-compatible endpoint, Groq by default.
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示当前 provider 是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderOpenAI:
		return c.OpenAIKey != "" && c.OpenAIModel != ""
	case ProviderArk:
		return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
	default:
		return false
	}
}

// NewChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.Provider != ProviderArk || !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY and Model, or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// TemperatureOrDefault returns the sampling temperature the assistant should use.
func (c AIConfig) TemperatureOrDefault() float64 {
	if c.Temperature != nil {
		return *c.Temperature
	}
	return defaultTemperature
}

// MaxTokensOrDefault returns the completion budget the assistant should use.
func (c AIConfig) MaxTokensOrDefault() int {
	if c.MaxTokens != nil && *c.MaxTokens > 0 {
		return *c.MaxTokens
	}
	return defaultMaxTokens
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE", "ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS", "ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	openAIKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if openAIKey == "" {
		openAIKey = strings.TrimSpace(os.Getenv("GROQ_API_KEY"))
	}

	provider := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))
	switch provider {
	case "":
		// 未显式指定时，有 OpenAI/Groq 密钥就走 OpenAI 兼容接口。
		provider = ProviderArk
		if openAIKey != "" {
			provider = ProviderOpenAI
		}
	case ProviderArk, ProviderOpenAI:
	default:
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	return AIConfig{
		Provider:      provider,
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:         strings.TrimSpace(os.Getenv("Model")),
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		OpenAIKey:     openAIKey,
		OpenAIBaseURL: getEnvOrDefault("OPENAI_BASE_URL", defaultOpenAIBaseURL),
		OpenAIModel:   getEnvOrDefault("OPENAI_MODEL", defaultOpenAIModel),
		Temperature:   temperature,
		TopP:          topP,
		MaxTokens:     maxTokens,
	}, nil
}

// StoreConfig 描述每个标签页会话存储的后端。
type StoreConfig struct {
	Backend       string
	Path          string
	RedisAddr     string
	RedisPassword string
	QuotaBytes    int64
	TabTTL        time.Duration
}

func loadStoreConfig() (StoreConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("STORE_BACKEND", BackendMemory))
	switch backend {
	case BackendMemory, BackendPebble, BackendRedis:
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_BACKEND value %q", backend)
	}

	quota, err := parseOptionalIntEnv("STORE_QUOTA_BYTES")
	if err != nil {
		return StoreConfig{}, err
	}
	quotaBytes := int64(5 << 20)
	if quota != nil && *quota > 0 {
		quotaBytes = int64(*quota)
	}

	ttl, err := parseDurationEnv("TAB_TTL", 2*time.Hour)
	if err != nil {
		return StoreConfig{}, err
	}

	return StoreConfig{
		Backend:       backend,
		Path:          getEnvOrDefault("STORE_PATH", "data/sessions"),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		QuotaBytes:    quotaBytes,
		TabTTL:        ttl,
	}, nil
}

// AuthConfig 描述登录流程的延时与上传限制。
type AuthConfig struct {
	Delay         time.Duration
	RedirectDelay time.Duration
	MaxImageMB    int
}

func loadAuthConfig() (AuthConfig, error) {
	delay, err := parseDurationEnv("AUTH_DELAY", 2*time.Second)
	if err != nil {
		return AuthConfig{}, err
	}

	redirect, err := parseDurationEnv("AUTH_REDIRECT_DELAY", 500*time.Millisecond)
	if err != nil {
		return AuthConfig{}, err
	}

	maxMB := 5
	if override, err := parseOptionalIntEnv("AUTH_MAX_IMAGE_MB"); err != nil {
		return AuthConfig{}, err
	} else if override != nil && *override > 0 {
		maxMB = *override
	}

	return AuthConfig{Delay: delay, RedirectDelay: redirect, MaxImageMB: maxMB}, nil
}

// ChatConfig 描述聊天页调用的助手接口。
type ChatConfig struct {
	Endpoint string
}

// LogConfig 描述日志输出。
type LogConfig struct {
	File       string
	Production bool
	Debug      bool
}

func loadLogConfig() (LogConfig, error) {
	production, err := parseBoolEnv("LOG_PRODUCTION", false)
	if err != nil {
		return LogConfig{}, err
	}

	debug, err := parseBoolEnv("LOG_DEBUG", false)
	if err != nil {
		return LogConfig{}, err
	}

	return LogConfig{
		File:       strings.TrimSpace(os.Getenv("LOG_FILE")),
		Production: production,
		Debug:      debug,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// lookupFirst 返回第一个非空的环境变量。
func lookupFirst(keys ...string) (string, string, bool) {
	for _, key := range keys {
		if raw, ok := os.LookupEnv(key); ok {
			if value := strings.TrimSpace(raw); value != "" {
				return key, value, true
			}
		}
	}
	return "", "", false
}

func parseOptionalFloatEnv(keys ...string) (*float64, error) {
	key, value, ok := lookupFirst(keys...)
	if !ok {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(keys ...string) (*int, error) {
	key, value, ok := lookupFirst(keys...)
	if !ok {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDurationEnv 支持 "2s"、"500ms" 这类写法，纯数字按毫秒处理。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if ms, err := strconv.Atoi(raw); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid %s value %q: negative duration", key, raw)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: negative duration", key, raw)
	}
	return val, nil
}
