package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	AutoMigrate           bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ReportCacheTTLSeconds int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string
	DefaultPhoneRegion    string

	StoreName    string
	StoreAddress string
	StorePhone   string

	PrinterType    string
	PrinterAddr    string
	PrinterDevice  string
	ScaleDevice    string
	ScaleTimeoutMS int

	PineLabsHost       string
	PineLabsPort       string
	PineLabsMerchantID string
	PineLabsTerminalID string

	SeedAdminPassword string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		AutoMigrate:           getBool("AUTO_MIGRATE", true),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		ReportCacheTTLSeconds: getPositiveInt("REPORT_CACHE_TTL_SECONDS", 30),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		DefaultPhoneRegion:    strings.ToUpper(getEnv("DEFAULT_PHONE_REGION", "IN")),

		StoreName:    getEnv("STORE_NAME", "Supermarket"),
		StoreAddress: os.Getenv("STORE_ADDRESS"),
		StorePhone:   os.Getenv("STORE_PHONE"),

		PrinterType:    strings.ToLower(getEnv("PRINTER_TYPE", "none")),
		PrinterAddr:    os.Getenv("PRINTER_ADDR"),
		PrinterDevice:  os.Getenv("PRINTER_DEVICE"),
		ScaleDevice:    os.Getenv("SCALE_DEVICE"),
		ScaleTimeoutMS: getPositiveInt("SCALE_TIMEOUT_MS", 2000),

		PineLabsHost:       os.Getenv("PINE_LABS_HOST"),
		PineLabsPort:       getEnv("PINE_LABS_PORT", "8080"),
		PineLabsMerchantID: os.Getenv("PINE_LABS_MERCHANT_ID"),
		PineLabsTerminalID: os.Getenv("PINE_LABS_TERMINAL_ID"),

		SeedAdminPassword: os.Getenv("SEED_ADMIN_PASSWORD"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) ReportCacheTTL() time.Duration {
	return time.Duration(c.ReportCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) ScaleTimeout() time.Duration {
	return time.Duration(c.ScaleTimeoutMS) * time.Millisecond
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return val
}
