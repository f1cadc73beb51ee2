package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Valkey     ValkeyConfig
	Storage    StorageConfig
	MinIO      MinIOConfig
	S3         S3Config
	Bedrock    BedrockConfig
	OpenAI     OpenAIConfig
	Ollama     OllamaConfig
	Processing ProcessingConfig
	Auth       AuthConfig
	MCP        MCPConfig
	LogLevel   slog.Level
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type ValkeyConfig struct {
	Addr     string
	Password string
	DB       int
	// ProgressTTL bounds how long run snapshots and progress streams live.
	ProgressTTL time.Duration
}

// StorageConfig selects where workbooks named by object key are kept.
type StorageConfig struct {
	Backend string // STORAGE_BACKEND: "minio" or "s3"
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type S3Config struct {
	Region   string // S3_REGION
	Bucket   string // S3_BUCKET
	Prefix   string // S3_PREFIX (optional default prefix)
	Endpoint string // S3_ENDPOINT (for MinIO/LocalStack compatibility)
}

type BedrockConfig struct {
	Region    string
	ModelID   string
	RateLimit int
}

// OpenAIConfig configures the hosted chat-completions backend.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	RateLimit  int
	Timeout    time.Duration
	MaxRetries int
}

// OllamaConfig configures the local streaming backend.
type OllamaConfig struct {
	BaseURL   string
	Model     string
	RateLimit int
	Timeout   time.Duration
}

// ProcessingConfig holds batch defaults applied when a request leaves a
// parameter unset.
type ProcessingConfig struct {
	Backend      string
	BatchSize    int
	Temperature  float64
	MaxTokens    int
	CellDelay    time.Duration
	BatchDelay   time.Duration
	MaxRuns      int
	AutoSave     bool
	SystemPrompt string
	PreviewCells int
}

type AuthConfig struct {
	Enabled      bool
	IssuerURL    string
	PublicIssuer string // AUTH_PUBLIC_ISSUER: token iss when it differs from the discovery URL
	Audience     string
}

type MCPConfig struct {
	Addr        string
	ResourceURL string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  time.Duration(getEnvInt("SERVER_READ_TIMEOUT_SECS", 30)) * time.Second,
			WriteTimeout: time.Duration(getEnvInt("SERVER_WRITE_TIMEOUT_SECS", 60)) * time.Second,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "cellforge"),
			Password: getEnv("DB_PASSWORD", "cellforge"),
			Name:     getEnv("DB_NAME", "cellforge"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Valkey: ValkeyConfig{
			Addr:        getEnv("VALKEY_ADDR", "localhost:6379"),
			Password:    getEnv("VALKEY_PASSWORD", ""),
			DB:          getEnvInt("VALKEY_DB", 0),
			ProgressTTL: getEnvDuration("VALKEY_PROGRESS_TTL", 24*time.Hour),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", "minio")),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "cellforge"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "cellforge123"),
			Bucket:    getEnv("MINIO_BUCKET", "workbooks"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		S3: S3Config{
			Region:   getEnv("S3_REGION", ""),
			Bucket:   getEnv("S3_BUCKET", ""),
			Prefix:   getEnv("S3_PREFIX", ""),
			Endpoint: getEnv("S3_ENDPOINT", ""),
		},
		Bedrock: BedrockConfig{
			Region:    getEnv("BEDROCK_REGION", ""),
			ModelID:   getEnv("BEDROCK_MODEL_ID", "anthropic.claude-3-haiku-20240307-v1:0"),
			RateLimit: getEnvInt("BEDROCK_RATE_LIMIT", 20),
		},
		OpenAI: OpenAIConfig{
			APIKey:     getEnv("OPENAI_API_KEY", ""),
			BaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:      getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
			RateLimit:  getEnvInt("OPENAI_RATE_LIMIT", 20),
			Timeout:    getEnvDuration("OPENAI_TIMEOUT", 60*time.Second),
			MaxRetries: getEnvInt("OPENAI_MAX_RETRIES", 0),
		},
		Ollama: OllamaConfig{
			BaseURL:   getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			Model:     getEnv("OLLAMA_MODEL", "llama2"),
			RateLimit: getEnvInt("OLLAMA_RATE_LIMIT", 30),
			Timeout:   getEnvDuration("OLLAMA_TIMEOUT", 120*time.Second),
		},
		Processing: ProcessingConfig{
			Backend:      strings.ToLower(getEnv("CELLFORGE_BACKEND", "openai")),
			BatchSize:    getEnvInt("CELLFORGE_BATCH_SIZE", 10),
			Temperature:  getEnvFloat("CELLFORGE_TEMPERATURE", 0.3),
			MaxTokens:    getEnvInt("CELLFORGE_MAX_TOKENS", 150),
			CellDelay:    getEnvDuration("CELLFORGE_CELL_DELAY", 200*time.Millisecond),
			BatchDelay:   getEnvDuration("CELLFORGE_BATCH_DELAY", 500*time.Millisecond),
			MaxRuns:      getEnvInt("CELLFORGE_MAX_RUNS", 4),
			AutoSave:     getEnvBool("CELLFORGE_AUTO_SAVE", true),
			SystemPrompt: getEnv("CELLFORGE_SYSTEM_PROMPT", DefaultSystemPrompt),
			PreviewCells: getEnvInt("CELLFORGE_PREVIEW_CELLS", 5),
		},
		Auth: AuthConfig{
			Enabled:      getEnvBool("AUTH_ENABLED", false),
			IssuerURL:    getEnv("AUTH_ISSUER_URL", ""),
			PublicIssuer: getEnv("AUTH_PUBLIC_ISSUER", ""),
			Audience:     getEnv("AUTH_AUDIENCE", "cellforge"),
		},
		MCP: MCPConfig{
			Addr:        getEnv("MCP_ADDR", ":8090"),
			ResourceURL: getEnv("MCP_RESOURCE_URL", ""),
		},
		LogLevel: parseLevel(getEnv("LOG_LEVEL", "info")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the processing engine cannot honor.
func (c *Config) Validate() error {
	p := c.Processing
	switch p.Backend {
	case "openai", "ollama", "bedrock":
	default:
		return fmt.Errorf("CELLFORGE_BACKEND: unknown backend %q", p.Backend)
	}
	if p.Backend == "bedrock" && c.Bedrock.Region == "" {
		return fmt.Errorf("BEDROCK_REGION is required for the bedrock backend")
	}
	if p.Temperature < 0 || p.Temperature > 1 {
		return fmt.Errorf("CELLFORGE_TEMPERATURE must be within [0,1], got %v", p.Temperature)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("CELLFORGE_BATCH_SIZE must be positive, got %d", p.BatchSize)
	}
	if p.MaxTokens <= 0 {
		return fmt.Errorf("CELLFORGE_MAX_TOKENS must be positive, got %d", p.MaxTokens)
	}
	if p.CellDelay < 0 || p.BatchDelay < 0 {
		return fmt.Errorf("processing delays must not be negative")
	}
	switch c.Storage.Backend {
	case "minio", "s3":
	default:
		return fmt.Errorf("STORAGE_BACKEND: unknown backend %q", c.Storage.Backend)
	}
	if c.Auth.Enabled && c.Auth.IssuerURL == "" {
		return fmt.Errorf("AUTH_ISSUER_URL is required when AUTH_ENABLED=true")
	}
	return nil
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("750ms") or bare seconds ("2").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return fallback
}
