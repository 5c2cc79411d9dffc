package config

import "os"

// Config holds all service configuration loaded from environment variables.
type Config struct {
	Port           string
	PostgresDSN    string
	JWTSecret      string
	OCRServiceURL  string
	MongoURI       string
	MongoDB        string
	RedisAddr      string
	RedisPassword  string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

func Load() *Config {
	return &Config{
		Port:           getenv("PORT", "8001"),
		PostgresDSN:    getenv("POSTGRES_DSN", ""),
		JWTSecret:      getenv("JWT_SECRET", ""),
		OCRServiceURL:  getenv("OCR_SERVICE_URL", "http://127.0.0.1:8000"),
		MongoURI:       getenv("MONGO_URI", ""),
		MongoDB:        getenv("MONGO_DB", "amount_extractor"),
		RedisAddr:      getenv("REDIS_ADDR", ""),
		RedisPassword:  getenv("REDIS_PASSWORD", ""),
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "uploads"),
		MinioUseSSL:    getenv("MINIO_USE_SSL", "false") == "true",
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
