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

	"github.com/zhouzirui/hertscortex/backend/internal/llm/openaicompat"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Ingest IngestConfig
	Store  StoreConfig
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

	ingest, err := loadIngestConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		AI:     ai,
		Ingest: ingest,
		Store: StoreConfig{
			Driver: strings.ToLower(getEnvOrDefault("STORE_DRIVER", "memory")),
			DSN:    strings.TrimSpace(os.Getenv("STORE_DSN")),
		},
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	// AllowedOrigins feeds the CORS middleware; "*" allows any origin.
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// Provider names accepted by AI_PROVIDER.
const (
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string

	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	Temperature       *float64
	TopP              *float64
	MaxTokens         *int
	StreamResponse    bool
	StreamMaxDuration time.Duration
	HistoryLimit      int
	MaxAttempts       int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	if c.Provider == ProviderOpenAI {
		return c.OpenAIAPIKey != "" && c.OpenAIModel != ""
	}
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		if c.Provider == ProviderOpenAI {
			return nil, fmt.Errorf("OpenAI 兼容接口配置缺失，需要 OPENAI_API_KEY 与 OPENAI_MODEL")
		}
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	switch c.Provider {
	case ProviderOpenAI:
		return openaicompat.New(openaicompat.Config{
			APIKey:      c.OpenAIAPIKey,
			Model:       c.OpenAIModel,
			BaseURL:     c.OpenAIBaseURL,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
	case ProviderArk:
		var topP *float32
		if c.TopP != nil {
			val := float32(*c.TopP)
			topP = &val
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
	default:
		return nil, fmt.Errorf("unknown AI_PROVIDER %q", c.Provider)
	}
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderArk))
	if provider != ProviderArk && provider != ProviderOpenAI {
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	if temperature == nil {
		if temperature, err = parseOptionalFloatEnv("ARK_TEMPERATURE"); err != nil {
			return AIConfig{}, err
		}
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("AI_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	maxDuration, err := parseDurationEnv("AI_STREAM_MAX_DURATION", 30*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	// 0 表示保留全部历史。
	historyLimit, err := parseNonNegativeIntEnv("AI_HISTORY_LIMIT", 0)
	if err != nil {
		return AIConfig{}, err
	}

	attempts, err := parsePositiveIntEnv("AI_MAX_ATTEMPTS", 2)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Provider:          provider,
		APIKey:            strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:         strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:         strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:             strings.TrimSpace(os.Getenv("Model")),
		BaseURL:           getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:            getEnvOrDefault("ARK_REGION", "cn-beijing"),
		OpenAIAPIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:       getEnvOrDefault("OPENAI_MODEL", "llama-3.3-70b-versatile"),
		OpenAIBaseURL:     getEnvOrDefault("OPENAI_BASE_URL", openaicompat.DefaultBaseURL),
		Temperature:       temperature,
		TopP:              topP,
		MaxTokens:         maxTokens,
		StreamResponse:    stream,
		StreamMaxDuration: maxDuration,
		HistoryLimit:      historyLimit,
		MaxAttempts:       attempts,
	}, nil
}

// IngestConfig 描述学习资料摄取流程的阈值。
type IngestConfig struct {
	MinContentChars    int
	MaxFileBytes       int
	ExtractConcurrency int
	GatePreviewChars   int
	TitlePreviewChars  int
	GateTimeout        time.Duration
	TitleTimeout       time.Duration
	DefaultOwner       string
}

func loadIngestConfig() (IngestConfig, error) {
	var (
		cfg IngestConfig
		err error
	)

	if cfg.MinContentChars, err = parsePositiveIntEnv("INGEST_MIN_CONTENT_CHARS", 50); err != nil {
		return IngestConfig{}, err
	}
	if cfg.MaxFileBytes, err = parsePositiveIntEnv("INGEST_MAX_FILE_BYTES", 20<<20); err != nil {
		return IngestConfig{}, err
	}
	if cfg.ExtractConcurrency, err = parsePositiveIntEnv("INGEST_EXTRACT_CONCURRENCY", 4); err != nil {
		return IngestConfig{}, err
	}
	if cfg.GatePreviewChars, err = parsePositiveIntEnv("GATE_PREVIEW_CHARS", 2000); err != nil {
		return IngestConfig{}, err
	}
	if cfg.TitlePreviewChars, err = parsePositiveIntEnv("TITLE_PREVIEW_CHARS", 4000); err != nil {
		return IngestConfig{}, err
	}
	if cfg.GateTimeout, err = parseDurationEnv("GATE_TIMEOUT", 30*time.Second); err != nil {
		return IngestConfig{}, err
	}
	if cfg.TitleTimeout, err = parseDurationEnv("TITLE_TIMEOUT", 30*time.Second); err != nil {
		return IngestConfig{}, err
	}
	cfg.DefaultOwner = getEnvOrDefault("INGEST_DEFAULT_OWNER", "guest_user")
	return cfg, nil
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Driver string
	DSN    string
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level  string
	Format string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parsePositiveIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val < 1 {
		return 0, fmt.Errorf("invalid %s value %d: must be at least 1", key, *val)
	}
	return *val, nil
}

func parseNonNegativeIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val < 0 {
		return 0, fmt.Errorf("invalid %s value %d: must not be negative", key, *val)
	}
	return *val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
