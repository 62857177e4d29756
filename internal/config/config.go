package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	HTTPPort    string `env:"HTTP_PORT" env-default:"8080"`
	DatabaseURL string `env:"DATABASE_URL" env-default:"classroom.db"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"INFO"`
	LogMode     string `env:"LOG_MODE" env-default:"development"`
	LogFile     string `env:"LOG_FILE"`

	JWT   JWT
	LLM   LLM
	Redis Redis

	AnswerCacheTTL time.Duration `env:"ANSWER_CACHE_TTL" env-default:"24h"`
}

type JWT struct {
	Secret string        `env:"JWT_SECRET" env-required:"true"`
	TTL    time.Duration `env:"JWT_TTL" env-default:"24h"`
}

type LLM struct {
	Provider          string        `env:"LLM_PROVIDER" env-default:"gemini"`
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT" env-default:"60s"`

	GeminiAPIKey         string `env:"GEMINI_API_KEY"`
	GeminiChatModel      string `env:"GEMINI_CHAT_MODEL" env-default:"gemini-1.5-flash-latest"`
	GeminiEmbeddingModel string `env:"GEMINI_EMBEDDING_MODEL" env-default:"text-embedding-004"`

	OpenAIAPIKey         string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL        string `env:"OPENAI_BASE_URL"`
	OpenAIChatModel      string `env:"OPENAI_CHAT_MODEL" env-default:"gpt-4o-mini"`
	OpenAIEmbeddingModel string `env:"OPENAI_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
}

type Redis struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	switch c.LLM.Provider {
	case ProviderGemini:
		if c.LLM.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required for provider %q", c.LLM.Provider)
		}
	case ProviderOpenAI:
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable is required for provider %q", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q (expected %q or %q)", c.LLM.Provider, ProviderGemini, ProviderOpenAI)
	}
	if c.LLM.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be positive, got %s", c.LLM.GenerationTimeout)
	}
	return nil
}

func (c *Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "DEBUG")
}
