package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// This function will Load the ENVIORNMENT VARIABLES from .env if GO_ENV variable is not set
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		err := godotenv.Load()
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	return nil
}

type EnviornmentVariable struct {
	GO_ENV string
	PORT   int

	// Postgres
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string

	// Store selection
	CHAT_STORE  string
	QUOTA_STORE string
	SQLITE_PATH string
	MONGO_URI   string
	MONGO_DB    string

	// Redis Configuration
	REDIS_URL string

	// Quota
	DAILY_MESSAGE_LIMIT int

	// OpenRouter (chat, titles, questions)
	OPENROUTER_API_KEY  string
	OPENROUTER_BASE_URL string
	OPENROUTER_REFERRER string
	OPENROUTER_APP_NAME string
	OPENROUTER_MODEL    string
	ANTHROPIC_API_KEY   string
	MODELS_FILE         string
	TITLE_MODEL         string
	QUESTIONS_MODEL     string

	// Code execution
	EXECUTION_BACKEND  string
	EXECUTION_BASE_URL string
	EXECUTION_API_KEY  string
	EXECUTION_MODEL    string
	EXECUTION_TIMEOUT  time.Duration
	OPENAI_API_KEY     string
	TOGETHER_API_KEY   string
	MAX_AUTO_RETRIES   int

	// DigitalOcean Spaces (dataset objects)
	DO_SPACES_KEY      string
	DO_SPACES_SECRET   string
	DO_SPACES_BUCKET   string
	DO_SPACES_REGION   string
	DO_SPACES_ENDPOINT string

	ALLOWED_ORIGINS       string
	RATE_LIMIT_PER_MINUTE int
	CRON_ENABLED          bool
	OTEL_ENABLED          bool
}

func Get() (*EnviornmentVariable, error) {

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		port = 8080
	}

	limit, err := intEnv("DAILY_MESSAGE_LIMIT", 50)
	if err != nil {
		return nil, err
	}

	retries, err := intEnv("MAX_AUTO_RETRIES", 2)
	if err != nil {
		return nil, err
	}

	perMinute, err := intEnv("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		return nil, err
	}

	timeout := 60 * time.Second
	if raw := os.Getenv("EXECUTION_TIMEOUT"); raw != "" {
		timeout, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid EXECUTION_TIMEOUT %q: %w", raw, err)
		}
	}

	envVariables := &EnviornmentVariable{
		GO_ENV: os.Getenv("GO_ENV"),
		PORT:   port,

		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      withDefault("DB_HOST", "localhost"),
		DB_PORT:      withDefault("DB_PORT", "5432"),
		DB_SSL_MODE:  withDefault("DB_SSL_MODE", "disable"),

		CHAT_STORE:  withDefault("CHAT_STORE", "postgres"),
		QUOTA_STORE: withDefault("QUOTA_STORE", "redis"),
		SQLITE_PATH: withDefault("SQLITE_PATH", "askable.db"),
		MONGO_URI:   os.Getenv("MONGO_URI"),
		MONGO_DB:    withDefault("MONGO_DB", "askable"),

		REDIS_URL: os.Getenv("REDIS_URL"),

		DAILY_MESSAGE_LIMIT: limit,

		OPENROUTER_API_KEY:  os.Getenv("OPENROUTER_API_KEY"),
		OPENROUTER_BASE_URL: withDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OPENROUTER_REFERRER: withDefault("OPENROUTER_REFERRER", "http://localhost:3000"),
		OPENROUTER_APP_NAME: withDefault("OPENROUTER_APP_NAME", "Askable"),
		OPENROUTER_MODEL:    os.Getenv("OPENROUTER_MODEL"),
		ANTHROPIC_API_KEY:   os.Getenv("ANTHROPIC_API_KEY"),
		MODELS_FILE:         os.Getenv("MODELS_FILE"),
		TITLE_MODEL:         withDefault("TITLE_MODEL", "meta-llama/Llama-3.3-70B-Instruct-Turbo"),
		QUESTIONS_MODEL:     os.Getenv("QUESTIONS_MODEL"),

		EXECUTION_BACKEND:  withDefault("EXECUTION_BACKEND", "openai"),
		EXECUTION_BASE_URL: os.Getenv("EXECUTION_BASE_URL"),
		EXECUTION_API_KEY:  os.Getenv("EXECUTION_API_KEY"),
		EXECUTION_MODEL:    withDefault("EXECUTION_MODEL", "o4-mini"),
		EXECUTION_TIMEOUT:  timeout,
		OPENAI_API_KEY:     os.Getenv("OPENAI_API_KEY"),
		TOGETHER_API_KEY:   os.Getenv("TOGETHER_API_KEY"),
		MAX_AUTO_RETRIES:   retries,

		DO_SPACES_KEY:      os.Getenv("DO_SPACES_KEY"),
		DO_SPACES_SECRET:   os.Getenv("DO_SPACES_SECRET"),
		DO_SPACES_BUCKET:   os.Getenv("DO_SPACES_BUCKET"),
		DO_SPACES_REGION:   os.Getenv("DO_SPACES_REGION"),
		DO_SPACES_ENDPOINT: os.Getenv("DO_SPACES_ENDPOINT"),

		ALLOWED_ORIGINS:       withDefault("ALLOWED_ORIGINS", "*"),
		RATE_LIMIT_PER_MINUTE: perMinute,
		CRON_ENABLED:          os.Getenv("CRON_ENABLED") != "false",
		OTEL_ENABLED:          os.Getenv("OTEL_ENABLED") == "true",
	}

	return envVariables, nil
}

// IsProduction reports whether error details must be hidden from callers.
func (e *EnviornmentVariable) IsProduction() bool {
	return e.GO_ENV == "production"
}

// Require returns value, or a descriptive error naming the missing variable.
// Call it where the value is first needed, not at startup.
func Require(name, value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("missing required env var: %s", name)
	}
	return value, nil
}

func withDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func intEnv(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return n, nil
}
