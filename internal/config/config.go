package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/mawule-gabriel/synthesis/pkg/logger"
)

const DefaultPath = "configs/config.yaml"

type Config struct {
	Log struct {
		Debug bool `yaml:"debug" env:"LOG_DEBUG" env-default:"false"`
	} `yaml:"log"`

	Telegram struct {
		Token string `yaml:"token" env:"TELEGRAM_BOT_TOKEN" validate:"required"`
	} `yaml:"telegram"`

	RabbitMQ struct {
		URL   string `yaml:"url" env:"RABBITMQ_URL" validate:"required,url"`
		Queue string `yaml:"queue" env:"RABBITMQ_QUEUE" env-default:"transcription_tasks" validate:"required"`
	} `yaml:"rabbitmq"`

	AWS struct {
		Region    string `yaml:"region" env:"AWS_REGION" env-default:"us-east-1" validate:"required"`
		AccessKey string `yaml:"access_key" env:"AWS_ACCESS_KEY_ID"`
		SecretKey string `yaml:"secret_key" env:"AWS_SECRET_ACCESS_KEY" validate:"required_with=AccessKey"`
	} `yaml:"aws"`

	S3 struct {
		Endpoint string `yaml:"endpoint" env:"S3_ENDPOINT" validate:"omitempty,url"`
		Bucket   string `yaml:"bucket" env:"S3_BUCKET" validate:"required"`
	} `yaml:"s3"`

	Transcribe struct {
		Timeout      time.Duration `yaml:"timeout" env:"TRANSCRIBE_TIMEOUT" env-default:"30s" validate:"gt=0"`
		PollInterval time.Duration `yaml:"poll_interval" env:"TRANSCRIBE_POLL_INTERVAL" env-default:"1s" validate:"gt=0"`
		LanguageCode string        `yaml:"language_code" env:"TRANSCRIBE_LANGUAGE_CODE" env-default:"en-US" validate:"required"`
	} `yaml:"transcribe"`

	Bedrock struct {
		ModelID         string  `yaml:"model_id" env:"BEDROCK_MODEL_ID" env-default:"anthropic.claude-3-sonnet-20240229-v1:0" validate:"required"`
		MaxTokens       int     `yaml:"max_tokens" env:"BEDROCK_MAX_TOKENS" env-default:"4096" validate:"gt=0"`
		Temperature     float64 `yaml:"temperature" env:"BEDROCK_TEMPERATURE" env-default:"0.2" validate:"gte=0,lte=1"`
		KnowledgeBaseID string  `yaml:"knowledge_base_id" env:"BEDROCK_KNOWLEDGE_BASE_ID"`
		MaxCitations    int     `yaml:"max_citations" env:"BEDROCK_MAX_CITATIONS" env-default:"5" validate:"gt=0"`
		RequestsPerMin  int     `yaml:"requests_per_minute" env:"BEDROCK_REQUESTS_PER_MINUTE" env-default:"30" validate:"gt=0"`
	} `yaml:"bedrock"`

	Postgres struct {
		DSN        string `yaml:"dsn" env:"POSTGRES_DSN" validate:"required"`
		Migrations string `yaml:"migrations" env:"POSTGRES_MIGRATIONS" env-default:"migrations"`
	} `yaml:"postgres"`

	Redis struct {
		Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379" validate:"required,hostname_port"`
		Password string        `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
		DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0" validate:"gte=0"`
		TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"24h" validate:"gt=0"`
	} `yaml:"redis"`

	Worker struct {
		Concurrency int `yaml:"concurrency" env:"WORKER_CONCURRENCY" env-default:"4" validate:"gte=1,lte=64"`
	} `yaml:"worker"`

	Metrics struct {
		Addr string `yaml:"addr" env:"METRICS_ADDR" env-default:":9090"`
	} `yaml:"metrics"`
}

// LoadConfig reads the YAML file at path, applies environment overrides and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	// Load .env file
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	logger.Info("Config loaded successfully")
	return &cfg, nil
}

func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
