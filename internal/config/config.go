package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all server configuration.
type Config struct {
	Addr     string
	MongoURI string
	MongoDB  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// AllowedOrigins restricts websocket/CORS origins. Empty means allow all.
	AllowedOrigins []string
}

// Load reads configuration from environment variables. A .env file is
// loaded first if present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:          getEnv("ADDR", "localhost:9090"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:       getEnv("MONGO_DB", "chate2ee"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}

	if raw := os.Getenv("REDIS_DB"); raw != "" {
		if db, err := strconv.Atoi(raw); err == nil {
			cfg.RedisDB = db
		}
	}

	if raw := os.Getenv("CLIENT_ORIGIN"); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
