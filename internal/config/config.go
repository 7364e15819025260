package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                     string
	AllowedOrigin            string
	DatabaseURL              string
	BranchDatabaseURL        string
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	DefaultBranchCode        string
	AdminUsername            string
	AdminPassword            string
	AuthSecret               string
	AccessTokenTTLMinutes    int
	ReconcileIntervalMinutes int
}

func Load() Config {
	// A missing .env is not an error: production deployments configure
	// through real environment variables.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	reconcileInterval, err := strconv.Atoi(getEnv("RECONCILE_INTERVAL_MINUTES", "5"))
	if err != nil || reconcileInterval < 1 {
		reconcileInterval = 5
	}

	cfg := Config{
		Port:                     getEnv("PORT", "8080"),
		AllowedOrigin:            getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		BranchDatabaseURL:        os.Getenv("BRANCH_DATABASE_URL"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  redisDB,
		DefaultBranchCode:        getEnv("DEFAULT_BRANCH_CODE", "MAIN"),
		AdminUsername:            getEnv("HO_ADMIN_USERNAME", "admin"),
		AdminPassword:            strings.TrimSpace(os.Getenv("HO_ADMIN_PASSWORD")),
		AuthSecret:               strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:    tokenTTL,
		ReconcileIntervalMinutes: reconcileInterval,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
