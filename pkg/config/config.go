package config

import (
	"os"
	"strconv"
)

// DBConfig holds PostgreSQL settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// MQConfig holds message broker settings.
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig holds token verification settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// PushConfig holds FCM delivery settings.
type PushConfig struct {
	CredentialsPath string `yaml:"credentials_path"`
	ProjectID       string `yaml:"project_id"`
}

// DeviceConfig describes the device this agent runs on when the push
// token is provisioned statically instead of resolved from the OS.
type DeviceConfig struct {
	Physical          bool   `yaml:"physical"`
	PermissionGranted bool   `yaml:"permission_granted"`
	PushToken         string `yaml:"push_token"`
	Platform          string `yaml:"platform"`
}

// SyncConfig holds the synchronizer tunables. Zero values fall back to
// the defaults applied by the consuming packages.
type SyncConfig struct {
	CacheFreshnessSeconds int `yaml:"cache_freshness_seconds"`
	StaleAfterSeconds     int `yaml:"stale_after_seconds"`
	DedupTTLSeconds       int `yaml:"dedup_ttl_seconds"`
}

// OverrideDBFromEnv overrides DB settings from environment variables.
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideMQFromEnv overrides broker settings from environment variables.
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv overrides Redis settings from environment variables.
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideJWTFromEnv overrides JWT settings from environment variables.
func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

// OverrideServerFromEnv overrides server settings from environment variables.
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverridePushFromEnv overrides push settings from environment variables.
func OverridePushFromEnv(cfg *PushConfig) {
	if path := os.Getenv("FCM_CREDENTIALS_PATH"); path != "" {
		cfg.CredentialsPath = path
	}
	if id := os.Getenv("FCM_PROJECT_ID"); id != "" {
		cfg.ProjectID = id
	}
}
