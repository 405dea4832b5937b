package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	Environment     string
	DatabasePath    string
	JWTSecret       string
	CORSOrigins     string
	MaxUploadSize   int64
	FileStoragePath string
	S3Bucket        string
	AWSRegion       string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	VAPIDPublicKey  string
	VAPIDPrivateKey string
}

func Load() *Config {
	// .env is optional; environment variables win either way.
	if err := godotenv.Load(); err == nil {
		log.Printf("config: loaded .env")
	}

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		DatabasePath:    getEnv("DATABASE_PATH", "./data/peyk.db"),
		JWTSecret:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		CORSOrigins:     getEnv("CORS_ORIGINS", "*"),
		MaxUploadSize:   parseInt64(getEnv("MAX_UPLOAD_SIZE", "104857600")), // 100MB default
		FileStoragePath: getEnv("FILE_STORAGE_PATH", "./data/uploads"),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		AWSRegion:       getEnv("AWS_REGION", ""),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         parseInt(getEnv("REDIS_DB", "0")),
		VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseInt64(s string) int64 {
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 104857600 // 100MB default
	}
	return val
}

func parseInt(s string) int {
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return val
}
