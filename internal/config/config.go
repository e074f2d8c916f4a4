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

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Speech  SpeechConfig
	Storage StorageConfig
	Redis   RedisConfig
	Session SessionConfig
	Log     LogConfig
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

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	redis, err := loadRedisConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		Speech:  speech,
		Storage: storage,
		Redis:   redis,
		Session: session,
		Log:     loadLogConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider       string
	Models         []string
	StreamResponse bool
	MockChunkDelay time.Duration

	// Ark
	APIKey      string
	AccessKey   string
	SecretKey   string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	// OpenAI-compatible
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// DefaultModel is served by the mock provider when AI_MODELS is unset.
const DefaultModel = "mock-model"

// ArkEnabled 表示是否提供了 Ark 必需的密钥。
func (c AIConfig) ArkEnabled() bool {
	return len(c.Models) > 0 && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个 Ark 模型实例，默认模型为 Models 的第一项。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + AI_MODELS 或 AK/SK 组合")
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
		Model:       c.Models[0],
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("AI_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	chunkDelay, err := parseDurationEnv("MOCK_CHUNK_DELAY", 0)
	if err != nil {
		return AIConfig{}, err
	}

	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", "mock"))
	switch provider {
	case "mock", "ark", "openai":
	default:
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	models := parseListEnv("AI_MODELS")
	if len(models) == 0 && provider == "mock" {
		models = []string{DefaultModel}
	}
	if len(models) == 0 {
		return AIConfig{}, fmt.Errorf("AI_MODELS is required for provider %s", provider)
	}

	return AIConfig{
		Provider:       provider,
		Models:         models,
		StreamResponse: stream,
		MockChunkDelay: chunkDelay,
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		OpenAIAPIKey:   strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:  strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
	}, nil
}

// SpeechConfig 描述语音识别相关配置。
type SpeechConfig struct {
	Provider       string
	DeepgramAPIKey string
	DeepgramModel  string
	DeepgramURL    string
	Language       string

	// 火山引擎流式识别
	VolcAppID       string
	VolcAccessToken string
	VolcResourceID  string
	VolcURL         string
}

func loadSpeechConfig() (SpeechConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("SPEECH_PROVIDER", "mock"))
	switch provider {
	case "mock", "deepgram", "volcengine":
	default:
		return SpeechConfig{}, fmt.Errorf("invalid SPEECH_PROVIDER value %q", provider)
	}

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	if accessToken == "" {
		accessToken = strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	}

	cfg := SpeechConfig{
		Provider:        provider,
		DeepgramAPIKey:  strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
		DeepgramModel:   getEnvOrDefault("DEEPGRAM_MODEL", "nova-3"),
		DeepgramURL:     getEnvOrDefault("DEEPGRAM_URL", ""),
		Language:        getEnvOrDefault("SPEECH_LANGUAGE", "en"),
		VolcAppID:       strings.TrimSpace(os.Getenv("SPEECH_APP_ID")),
		VolcAccessToken: accessToken,
		VolcResourceID:  getEnvOrDefault("SPEECH_RESOURCE_ID", ""),
		VolcURL:         getEnvOrDefault("SPEECH_BASE_URL", ""),
	}

	switch provider {
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			return SpeechConfig{}, fmt.Errorf("DEEPGRAM_API_KEY is required for SPEECH_PROVIDER=deepgram")
		}
	case "volcengine":
		if cfg.VolcAppID == "" || cfg.VolcAccessToken == "" {
			return SpeechConfig{}, fmt.Errorf("SPEECH_APP_ID and SPEECH_ACCESS_TOKEN are required for SPEECH_PROVIDER=volcengine")
		}
	}
	return cfg, nil
}

// StorageConfig 描述消息存储后端。
type StorageConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

func loadStorageConfig() (StorageConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("DB_DRIVER", "memory"))
	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))

	switch driver {
	case "memory":
	case "sqlite":
		if dsn == "" {
			dsn = "file:llm-web-chat.db?_pragma=foreign_keys(1)"
		}
	case "postgres":
		if dsn == "" {
			return StorageConfig{}, fmt.Errorf("DB_DSN is required for DB_DRIVER=postgres")
		}
	default:
		return StorageConfig{}, fmt.Errorf("invalid DB_DRIVER value %q", driver)
	}

	migrate, err := parseBoolEnv("AUTO_MIGRATE", true)
	if err != nil {
		return StorageConfig{}, err
	}

	return StorageConfig{Driver: driver, DSN: dsn, AutoMigrate: migrate}, nil
}

// RedisConfig 描述回合锁与限流使用的 Redis。Addr 为空时使用进程内实现。
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	LockTTL     time.Duration
	RatePerHour int
}

// Enabled reports whether a Redis server was configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

func loadRedisConfig() (RedisConfig, error) {
	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return RedisConfig{}, err
	} else if override != nil {
		db = *override
	}

	lockTTL, err := parseDurationEnv("TURN_LOCK_TTL", 5*time.Minute)
	if err != nil {
		return RedisConfig{}, err
	}

	rate := 0
	if override, err := parseOptionalIntEnv("TURN_RATE_PER_HOUR"); err != nil {
		return RedisConfig{}, err
	} else if override != nil && *override > 0 {
		rate = *override
	}

	return RedisConfig{
		Addr:        strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Password:    os.Getenv("REDIS_PASSWORD"),
		DB:          db,
		LockTTL:     lockTTL,
		RatePerHour: rate,
	}, nil
}

// SessionConfig 描述 WebSocket 会话参数。
type SessionConfig struct {
	CancelOnClose bool
	PingInterval  time.Duration
	ReadTimeout   time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	cancelOnClose, err := parseBoolEnv("SESSION_CANCEL_ON_CLOSE", false)
	if err != nil {
		return SessionConfig{}, err
	}

	ping, err := parseDurationEnv("SESSION_PING_INTERVAL", 54*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}

	read, err := parseDurationEnv("SESSION_READ_TIMEOUT", 60*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}
	if ping >= read {
		return SessionConfig{}, fmt.Errorf("SESSION_PING_INTERVAL (%s) must be shorter than SESSION_READ_TIMEOUT (%s)", ping, read)
	}

	return SessionConfig{CancelOnClose: cancelOnClose, PingInterval: ping, ReadTimeout: read}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "console")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseListEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}

	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
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
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
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
