package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is prepended to every environment override key
	EnvPrefix = "AUTOBACKUP_"

	// ConfigPathEnv names the YAML file to load, if any
	ConfigPathEnv = "AUTOBACKUP_CONFIG"

	// DefaultPort is the port the camera hard-codes for the description and control URLs
	DefaultPort = 52235

	// DefaultFriendlyName matches what the vendor software shows on the camera
	DefaultFriendlyName = "[PC]AutoBackup"

	uuidPrefix = "4a682b0b-0361-dbae-6155"
)

// Config holds the configuration for the whole process
type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Device   DeviceConfig   `yaml:"device" envPrefix:"DEVICE_"`
	Backup   BackupConfig   `yaml:"backup" envPrefix:"BACKUP_"`
	Storage  StorageConfig  `yaml:"storage" envPrefix:"STORAGE_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	Redis    RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DeviceConfig describes the emulated media server as seen by the camera.
// Interface is optional: when set, the HTTP listener binds to it and SSDP
// replies are only sent when the route to the requester leaves through it.
type DeviceConfig struct {
	Interface    string `yaml:"interface" env:"INTERFACE"`
	UUID         string `yaml:"uuid" env:"UUID"`
	FriendlyName string `yaml:"friendly_name" env:"FRIENDLY_NAME"`
}

// BackupConfig controls where uploads land and how long announced uploads are kept
type BackupConfig struct {
	Dir              string        `yaml:"dir" env:"DIR"`
	CreateDateSubdir bool          `yaml:"create_date_subdir" env:"CREATE_DATE_SUBDIR"`
	PendingTTL       time.Duration `yaml:"pending_ttl" env:"PENDING_TTL"`
	RetireTTL        time.Duration `yaml:"retire_ttl" env:"RETIRE_TTL"`
	ReapInterval     time.Duration `yaml:"reap_interval" env:"REAP_INTERVAL"`
}

// StorageConfig holds blob storage configuration
type StorageConfig struct {
	Type         string `yaml:"type" env:"TYPE"` // local, s3
	Bucket       string `yaml:"bucket" env:"BUCKET"`
	Region       string `yaml:"region" env:"REGION"`
	Endpoint     string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey    string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey    string `yaml:"secret_key" env:"SECRET_KEY"`
	Prefix       string `yaml:"prefix" env:"PREFIX"`
	UsePathStyle bool   `yaml:"use_path_style" env:"USE_PATH_STYLE"`
}

// DatabaseConfig holds the backup catalog connection settings.
// An empty Driver disables the catalog.
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"` // sqlite, postgres
	DSN    string `yaml:"dsn" env:"DSN"`
}

// RedisConfig holds Redis connection settings for the client tracker.
// An empty Addr keeps client sessions in memory.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // json, console
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	backupDir := "PCAutoBackup"
	if home, err := os.UserHomeDir(); err == nil {
		backupDir = filepath.Join(home, "PCAutoBackup")
	}

	return &Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			ReadTimeout:     10 * time.Minute,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Device: DeviceConfig{
			FriendlyName: DefaultFriendlyName,
		},
		Backup: BackupConfig{
			Dir:              backupDir,
			CreateDateSubdir: true,
			PendingTTL:       24 * time.Hour,
			RetireTTL:        7 * 24 * time.Hour,
			ReapInterval:     time.Hour,
		},
		Storage: StorageConfig{
			Type:         "local",
			Region:       "us-east-1",
			UsePathStyle: true,
		},
		Redis: RedisConfig{
			TTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultConfigFile is the file Load uses when AUTOBACKUP_CONFIG is unset,
// relative to the user's home directory
const DefaultConfigFile = ".pc_autobackup.yaml"

// DefaultConfigPath returns where Load keeps the configuration when no path
// is given
func DefaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, DefaultConfigFile)
	}
	return DefaultConfigFile
}

// Load builds the configuration from defaults, the YAML file named by
// AUTOBACKUP_CONFIG (or DefaultConfigPath) and finally the process
// environment. The file is created on first run so the device uuid stays
// the same across restarts.
func Load() (*Config, error) {
	path := os.Getenv(ConfigPathEnv)
	if path == "" {
		path = DefaultConfigPath()
	}
	return LoadOrCreate(path)
}

// LoadOrCreate loads the YAML file at path, writing the defaults there first
// when it does not exist yet. A device uuid missing from the file is
// generated and written back, so the camera keeps recognising this server.
func LoadOrCreate(path string) (*Config, error) {
	fileCfg := Default()
	data, err := os.ReadFile(path)
	missing := errors.Is(err, os.ErrNotExist)
	switch {
	case missing:
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if missing || fileCfg.Device.UUID == "" {
		if fileCfg.Device.UUID == "" {
			fileCfg.Device.UUID = GenerateUUID()
		}
		if err := Save(path, fileCfg); err != nil {
			return nil, err
		}
	}
	return LoadWithEnvironment(path, nil)
}

// LoadWithEnvironment is Load with an explicit file path and environment.
// A nil environment means the process environment.
func LoadWithEnvironment(path string, environ map[string]string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.Device.UUID == "" {
		cfg.Device.UUID = GenerateUUID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the fields the server cannot run without
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backup.Dir) == "" && c.Storage.Type == "local" {
		return errors.New("backup dir must be set")
	}
	if c.Device.Interface != "" {
		ip := net.ParseIP(c.Device.Interface)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("device interface %q is not an IPv4 address", c.Device.Interface)
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Storage.Type {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("storage bucket must be set for s3 storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	return nil
}

// ListenAddr returns the address the HTTP server binds to
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Device.Interface, fmt.Sprintf("%d", c.Server.Port))
}

// GenerateUUID returns a device uuid in the form the vendor software uses:
// a fixed prefix followed by the last group of a random v4 uuid.
func GenerateUUID() string {
	parts := strings.Split(uuid.New().String(), "-")
	return uuidPrefix + "-" + parts[len(parts)-1]
}
