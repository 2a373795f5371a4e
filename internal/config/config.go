package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	HTTPPort    string `json:"http_port"`
	HTTPSPort   string `json:"https_port"`
	Domain      string `json:"domain"`
	HTTPOnly    bool   `json:"http_only"`
	FrontendURI string `json:"frontend_uri"`
	LogLevel    string `json:"log_level"`

	JWTSecret string        `json:"-"`
	TokenTTL  time.Duration `json:"-"`

	Database DatabaseConfig `json:"database"`

	RootMemberID   string `json:"root_member_id"`
	MemberIDPrefix string `json:"member_id_prefix"`
	AdminUsername  string `json:"admin_username"`
	AdminPassword  string `json:"-"`

	TreeMaxDepth  int `json:"tree_max_depth"`
	TeamMaxLevel  int `json:"team_max_level"`
	TreeLevels    int `json:"tree_levels"`
	MaxTreeLevels int `json:"max_tree_levels"`
}

type DatabaseConfig struct {
	Driver          string        `json:"driver"`
	URL             string        `json:"-"`
	Host            string        `json:"host"`
	Port            string        `json:"port"`
	Username        string        `json:"username"`
	Password        string        `json:"-"`
	Name            string        `json:"name"`
	SSLMode         string        `json:"sslmode"`
	SQLitePath      string        `json:"sqlite_path"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"-"`
	MaxRetries      int           `json:"max_retries"`
	RunMigration    bool          `json:"run_migration"`
}

// DSN builds the Postgres connection string. DATABASE_URL wins when set,
// which is how hosted Postgres providers hand out credentials.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Name, d.SSLMode)
}

// LoadConfigFromJSON loads configuration from config.json next to the executable
func LoadConfigFromJSON() (*Config, error) {
	data, err := os.ReadFile(getConfigFilePath())
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config.json: %w", err)
	}
	return &cfg, nil
}

func getConfigFilePath() string {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return path
	}
	execPath, err := os.Executable()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(filepath.Dir(execPath), "config.json")
}

// Load builds the configuration from .env, config.json and the environment,
// in increasing order of priority. Flags passed by the caller override all.
func Load(httpOnly *bool) *Config {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{}
	if saved, err := LoadConfigFromJSON(); err == nil {
		cfg = saved
		slog.Info("configuration loaded from config.json")
	}

	cfg.HTTPPort = getEnv("HTTP_PORT", orDefault(cfg.HTTPPort, "8080"))
	cfg.HTTPSPort = getEnv("HTTPS_PORT", orDefault(cfg.HTTPSPort, "8443"))
	cfg.Domain = getEnv("DOMAIN", orDefault(cfg.Domain, "localhost"))
	cfg.HTTPOnly = getEnvBool("HTTP_ONLY", cfg.HTTPOnly)
	cfg.FrontendURI = getEnv("FRONTEND_URI", cfg.FrontendURI)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", orDefault(cfg.LogLevel, "info")))
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 24*time.Hour)

	db := &cfg.Database
	db.Driver = strings.ToLower(getEnv("DB_DRIVER", orDefault(db.Driver, DriverPostgres)))
	db.URL = getEnv("DATABASE_URL", "")
	db.Host = getEnv("DB_HOST", orDefault(db.Host, "localhost"))
	db.Port = getEnv("DB_PORT", orDefault(db.Port, "5432"))
	db.Username = getEnv("DB_USERNAME", orDefault(db.Username, "postgres"))
	db.Password = getEnv("DB_PASSWORD", "postgres")
	db.Name = getEnv("DB_NAME", orDefault(db.Name, "mlm"))
	db.SSLMode = getEnv("DB_SSLMODE", orDefault(db.SSLMode, "require"))
	db.SQLitePath = getEnv("SQLITE_PATH", orDefault(db.SQLitePath, "mlm.db"))
	db.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", orDefaultInt(db.MaxOpenConns, 25))
	db.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", orDefaultInt(db.MaxIdleConns, 5))
	db.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour)
	db.MaxRetries = getEnvInt("DB_MAX_RETRIES", orDefaultInt(db.MaxRetries, 5))
	db.RunMigration = getEnvBool("RUN_MIGRATION", db.RunMigration || db.Driver == DriverSQLite)

	cfg.RootMemberID = getEnv("ROOT_MEMBER_ID", orDefault(cfg.RootMemberID, "MLM0000001"))
	cfg.MemberIDPrefix = getEnv("MEMBER_ID_PREFIX", orDefault(cfg.MemberIDPrefix, "MLM"))
	cfg.AdminUsername = getEnv("ADMIN_USERNAME", orDefault(cfg.AdminUsername, "admin"))
	cfg.AdminPassword = getEnv("ADMIN_PASSWORD", "")

	cfg.TreeMaxDepth = getEnvInt("TREE_MAX_DEPTH", orDefaultInt(cfg.TreeMaxDepth, 64))
	cfg.TeamMaxLevel = getEnvInt("TEAM_MAX_LEVEL", orDefaultInt(cfg.TeamMaxLevel, 6))
	cfg.TreeLevels = getEnvInt("TREE_LEVELS", orDefaultInt(cfg.TreeLevels, 3))
	cfg.MaxTreeLevels = getEnvInt("MAX_TREE_LEVELS", orDefaultInt(cfg.MaxTreeLevels, 6))

	if httpOnly != nil && *httpOnly {
		cfg.HTTPOnly = true
	}

	cfg.JWTSecret = loadOrGenerateJWTSecret()

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func orDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func orDefaultInt(value, defaultValue int) int {
	if value == 0 {
		return defaultValue
	}
	return value
}

func generateRandomSecret() string {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	return base64.URLEncoding.EncodeToString(bytes)
}

func loadOrGenerateJWTSecret() string {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		return secret
	}

	secretFile := filepath.Join(getKeysDirectory(), "jwt-secret.key")
	if secretData, err := os.ReadFile(secretFile); err == nil {
		if secret := strings.TrimSpace(string(secretData)); secret != "" {
			slog.Info("JWT secret loaded", "path", secretFile)
			return secret
		}
	}

	secret := generateRandomSecret()

	if err := os.MkdirAll(filepath.Dir(secretFile), 0700); err != nil {
		slog.Warn("failed to create keys directory", "error", err)
		return secret
	}
	if err := os.WriteFile(secretFile, []byte(secret), 0600); err != nil {
		// Tokens will not survive a restart unless JWT_SECRET is set.
		slog.Warn("failed to save JWT secret", "path", secretFile, "error", err)
		return secret
	}
	slog.Info("JWT secret generated", "path", secretFile)
	return secret
}

func getKeysDirectory() string {
	if dir := os.Getenv("KEYS_DIR"); dir != "" {
		return dir
	}
	execPath, err := os.Executable()
	if err != nil {
		return "keys"
	}
	return filepath.Join(filepath.Dir(execPath), "keys")
}
