package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int
	RedisAddr             string
	RoomCacheTTLMinutes   int
	WSEventsPerSecond     int
	WSEventBurst          int
	HTTPRequestsPerSecond int
	HTTPRequestBurst      int
	CookieSecure          bool
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 解析正整数，非法或非正值回落到默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

// Load 读取 .env（若存在）与环境变量，缺省值面向本地开发。
func Load() Config {
	_ = godotenv.Load()

	env := getenv("APP_ENV", "dev")
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=livechat port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		Env:                   env,
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 24*60),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RoomCacheTTLMinutes:   getenvInt("ROOM_CACHE_TTL_MINUTES", 60),
		WSEventsPerSecond:     getenvInt("WS_EVENTS_PER_SECOND", 20),
		WSEventBurst:          getenvInt("WS_EVENT_BURST", 40),
		HTTPRequestsPerSecond: getenvInt("HTTP_REQUESTS_PER_SECOND", 20),
		HTTPRequestBurst:      getenvInt("HTTP_REQUEST_BURST", 40),
		CookieSecure:          getenvBool("COOKIE_SECURE", env != "dev"),
	}
}

// Validate 拒绝明显不可用的配置；非 dev 环境禁止使用默认 JWT 密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is empty")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is empty")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is empty")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("config: default JWT_SECRET outside dev")
	}
	return nil
}
