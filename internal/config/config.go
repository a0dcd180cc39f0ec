package config

import (
	"flag"
	"os"
	"time"
)

// Config содержит конфигурацию приложения.
type Config struct {
	RunAddress        string
	DatabaseURI       string
	AMQPAddress       string
	TelegramToken     string
	UploadDir         string
	JWTSecret         string
	TokenExpiration   time.Duration
	DispatchTimeout   time.Duration
	ReconcileInterval time.Duration
	LoadWindow        time.Duration
}

// Load загружает конфигурацию из флагов командной строки и переменных окружения.
// Приоритет: переменные окружения > флаги > значения по умолчанию.
func Load() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "адрес и порт запуска сервиса")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "строка подключения к PostgreSQL")
	flag.StringVar(&cfg.AMQPAddress, "q", "", "адрес RabbitMQ (пусто - очередь в памяти)")
	flag.StringVar(&cfg.UploadDir, "u", "uploads", "каталог для чеков об оплате")
	flag.Parse()

	if envRunAddr := os.Getenv("RUN_ADDRESS"); envRunAddr != "" {
		cfg.RunAddress = envRunAddr
	}
	if envDBURI := os.Getenv("DATABASE_URI"); envDBURI != "" {
		cfg.DatabaseURI = envDBURI
	}
	if envAMQP := os.Getenv("AMQP_ADDRESS"); envAMQP != "" {
		cfg.AMQPAddress = envAMQP
	}
	if envUploads := os.Getenv("UPLOAD_DIR"); envUploads != "" {
		cfg.UploadDir = envUploads
	}

	// Токен бота передаётся только через окружение.
	cfg.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	// JWT секрет
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "default-secret-change-in-production"
	}

	// Время жизни токена
	cfg.TokenExpiration = 24 * time.Hour

	cfg.DispatchTimeout = durationEnv("DISPATCH_TIMEOUT", 5*time.Second)
	cfg.ReconcileInterval = durationEnv("RECONCILE_INTERVAL", 30*time.Second)
	cfg.LoadWindow = durationEnv("LOAD_WINDOW", time.Hour)

	return cfg
}

// durationEnv читает длительность из переменной окружения,
// при ошибке разбора возвращает значение по умолчанию.
func durationEnv(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
