package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App        AppConfig
	Device     DeviceConfig
	Processing ProcessingConfig
	PatientDir PatientDirConfig
	Auth       AuthConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
}

type DeviceConfig struct {
	Transport       string // "simulated" or "serial"
	SerialPaths     []string
	ChunkSize       int
	ChunkDeadlineMS int

	// Simulated recording shape
	SimSampleCount int
	SimSampleRate  float64
	SimSeed        int64
}

type ProcessingConfig struct {
	BaseURL        string
	TimeoutSeconds int
	MaxAttempts    int
	RetryWaitMS    int
	RetryMaxWaitMS int
}

type PatientDirConfig struct {
	BaseURL        string
	TimeoutSeconds int
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
		},
		Device: DeviceConfig{
			Transport:       getEnv("DEVICE_TRANSPORT", "simulated"),
			SerialPaths:     splitList(getEnv("DEVICE_SERIAL_PATHS", "/dev/ttyACM0,/dev/ttyUSB0")),
			ChunkSize:       getEnvAsInt("DEVICE_CHUNK_SIZE", 64*1024),
			ChunkDeadlineMS: getEnvAsInt("DEVICE_CHUNK_DEADLINE_MS", 5000),
			SimSampleCount:  getEnvAsInt("SIM_SAMPLE_COUNT", 1000),
			SimSampleRate:   float64(getEnvAsInt("SIM_SAMPLE_RATE", 100)),
			SimSeed:         int64(getEnvAsInt("SIM_SEED", 42)),
		},
		Processing: ProcessingConfig{
			BaseURL:        getEnv("STEPCOUNT_URL", "http://localhost:8000"),
			TimeoutSeconds: getEnvAsInt("STEPCOUNT_TIMEOUT_SECONDS", 300),
			MaxAttempts:    getEnvAsInt("STEPCOUNT_MAX_ATTEMPTS", 3),
			RetryWaitMS:    getEnvAsInt("STEPCOUNT_RETRY_WAIT_MS", 2000),
			RetryMaxWaitMS: getEnvAsInt("STEPCOUNT_RETRY_MAX_WAIT_MS", 8000),
		},
		PatientDir: PatientDirConfig{
			BaseURL:        getEnv("PATIENT_DIR_URL", "http://localhost:8000"),
			TimeoutSeconds: getEnvAsInt("PATIENT_DIR_TIMEOUT_SECONDS", 10),
		},
		Auth: AuthConfig{
			Enabled:   getEnvAsBool("AUTH_ENABLED", false),
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
	}
}

func (c ProcessingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
