package config

import (
	"log"
	"os"
	"time"

	"EpiFind/pkg/logger"
	"EpiFind/pkg/notification"
	"EpiFind/pkg/util"
)

// StoreConfig selects and tunes the observation store backend.
type StoreConfig struct {
	Backend       string `env:"STORE_BACKEND"` // "memory" 或 "redis"
	RedisAddr     string `env:"STORE_REDIS_ADDR"`
	RedisPassword string `env:"STORE_REDIS_PASSWORD"`
	RedisDB       int    `env:"STORE_REDIS_DB"`
	KeyPrefix     string `env:"STORE_KEY_PREFIX"`
}

// SOSConfig tunes the coordination engine.
type SOSConfig struct {
	HoldDuration        time.Duration `env:"SOS_HOLD_DURATION"`   // press-and-hold confirm delay
	HapticInterval      time.Duration `env:"SOS_HAPTIC_INTERVAL"` // vibration on/off step
	DefaultRadiusMeters float64       `env:"SOS_DEFAULT_RADIUS_METERS"`
	MinRadiusMeters     float64       `env:"SOS_MIN_RADIUS_METERS"`
	MaxRadiusMeters     float64       `env:"SOS_MAX_RADIUS_METERS"`
	SnapshotTTL         time.Duration `env:"SOS_SNAPSHOT_TTL"` // directory snapshot cache
	CleanupRetries      int           `env:"SOS_CLEANUP_RETRIES"`
	CleanupBackoff      time.Duration `env:"SOS_CLEANUP_BACKOFF"`
	ExpiryWarnDays      int           `env:"SOS_EXPIRY_WARN_DAYS"`
}

type Config struct {
	Addr        string `env:"ADDR"`
	Mode        string `env:"MODE"`
	APIPrefix   string `env:"API_PREFIX"`
	AuditDBPath string `env:"AUDIT_DB_PATH"`
	Log         logger.LogConfig
	Store       StoreConfig
	SOS         SOSConfig
	Push        notification.PushConfig
}

var GlobalConfig *Config

func Load() error {
	// 1. 根据环境加载 .env 文件
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := util.LoadEnv(env); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	// 2. 加载全局配置
	GlobalConfig = &Config{
		Addr:        util.GetEnv("ADDR", ":8080"),
		Mode:        util.GetEnv("MODE", "debug"),
		APIPrefix:   util.GetEnv("API_PREFIX", "/api"),
		AuditDBPath: util.GetEnv("AUDIT_DB_PATH", "epifind_audit.db"),
		Log: logger.LogConfig{
			Level:      util.GetEnv("LOG_LEVEL"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},
		Store: StoreConfig{
			Backend:       util.GetEnv("STORE_BACKEND", "memory"),
			RedisAddr:     util.GetEnv("STORE_REDIS_ADDR", "localhost:6379"),
			RedisPassword: util.GetEnv("STORE_REDIS_PASSWORD"),
			RedisDB:       int(util.GetIntEnv("STORE_REDIS_DB")),
			KeyPrefix:     util.GetEnv("STORE_KEY_PREFIX", "epifind"),
		},
		SOS: SOSConfig{
			HoldDuration:        util.GetDurationEnv("SOS_HOLD_DURATION", 3*time.Second),
			HapticInterval:      util.GetDurationEnv("SOS_HAPTIC_INTERVAL", 500*time.Millisecond),
			DefaultRadiusMeters: util.GetFloatEnv("SOS_DEFAULT_RADIUS_METERS", 2000),
			MinRadiusMeters:     util.GetFloatEnv("SOS_MIN_RADIUS_METERS", 1000),
			MaxRadiusMeters:     util.GetFloatEnv("SOS_MAX_RADIUS_METERS", 10000),
			SnapshotTTL:         util.GetDurationEnv("SOS_SNAPSHOT_TTL", 2*time.Second),
			CleanupRetries:      int(util.GetIntEnv("SOS_CLEANUP_RETRIES", 3)),
			CleanupBackoff:      util.GetDurationEnv("SOS_CLEANUP_BACKOFF", 200*time.Millisecond),
			ExpiryWarnDays:      int(util.GetIntEnv("SOS_EXPIRY_WARN_DAYS", 30)),
		},
		Push: notification.PushConfig{
			AppKey:       util.GetEnv("PUSH_APP_KEY"),
			MasterSecret: util.GetEnv("PUSH_MASTER_SECRET"),
		},
	}
	return nil
}
