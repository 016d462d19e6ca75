package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/fatvfs/pkg/utils"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Device     DeviceConfig     `yaml:"device"`
	Cache      CacheConfig      `yaml:"cache"`
	Filesystem FilesystemConfig `yaml:"filesystem"`
	Mount      MountConfig      `yaml:"mount"`
	Storage    StorageConfig    `yaml:"storage"`
	Retry      RetryConfig      `yaml:"retry"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DeviceConfig selects the backing block device.
// Path is a local image file, a file:// URI or an s3://bucket/key URI.
type DeviceConfig struct {
	Path      string `yaml:"path"`
	BlockSize int    `yaml:"block_size"`
	ReadOnly  bool   `yaml:"read_only"`
}

// CacheConfig represents block buffer cache configuration
type CacheConfig struct {
	MaxMemory      string `yaml:"max_memory"`
	MaxBuffers     int    `yaml:"max_buffers"`
	EvictionPolicy string `yaml:"eviction_policy"`
}

// FilesystemConfig represents filesystem driver settings
type FilesystemConfig struct {
	Driver    string `yaml:"driver"`
	FATType   int    `yaml:"fat_type"`
	ImageSize string `yaml:"image_size"`
}

// MountConfig represents FUSE mount settings
type MountConfig struct {
	MountPoint string `yaml:"mount_point"`
	Backend    string `yaml:"backend"`
	AllowOther bool   `yaml:"allow_other"`
	Debug      bool   `yaml:"debug"`
}

// StorageConfig represents remote image storage settings
type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

// S3Config represents S3 image store settings
type S3Config struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
	UseCargoship bool   `yaml:"use_cargoship"`
	StorageClass string `yaml:"storage_class"`
	Concurrency  int    `yaml:"concurrency"`

	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// RetryConfig represents device and storage retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Prometheus   bool              `yaml:"prometheus"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFile:     "",
			LogFormat:   "text",
			MetricsPort: 8080,
		},
		Device: DeviceConfig{
			BlockSize: 512,
		},
		Cache: CacheConfig{
			MaxMemory:      "1MB",
			MaxBuffers:     2048,
			EvictionPolicy: "lru",
		},
		Filesystem: FilesystemConfig{
			Driver:    "vfat",
			FATType:   12,
			ImageSize: "8MB",
		},
		Mount: MountConfig{
			Backend: "go-fuse",
		},
		Storage: StorageConfig{
			S3: S3Config{
				Region:       "us-east-1",
				UsePathStyle: false,
				UseCargoship: true,
				StorageClass: "STANDARD",
				Concurrency:  4,
			},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    time.Second,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:    false,
				Prometheus: true,
				CustomLabels: map[string]string{
					"service": "fatvfs",
				},
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from FATVFS_* environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("FATVFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("FATVFS_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("FATVFS_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("FATVFS_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}

	// Device settings
	if val := os.Getenv("FATVFS_DEVICE"); val != "" {
		c.Device.Path = val
	}
	if val := os.Getenv("FATVFS_READ_ONLY"); val != "" {
		c.Device.ReadOnly = strings.ToLower(val) == "true"
	}

	// Cache settings
	if val := os.Getenv("FATVFS_CACHE_MEMORY"); val != "" {
		c.Cache.MaxMemory = val
	}
	if val := os.Getenv("FATVFS_CACHE_BUFFERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.MaxBuffers = n
		}
	}
	if val := os.Getenv("FATVFS_EVICTION_POLICY"); val != "" {
		c.Cache.EvictionPolicy = val
	}

	// Filesystem settings
	if val := os.Getenv("FATVFS_FAT_TYPE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Filesystem.FATType = n
		}
	}

	// Mount settings
	if val := os.Getenv("FATVFS_MOUNT_POINT"); val != "" {
		c.Mount.MountPoint = val
	}
	if val := os.Getenv("FATVFS_FUSE_BACKEND"); val != "" {
		c.Mount.Backend = val
	}

	// Storage settings
	if val := os.Getenv("FATVFS_S3_REGION"); val != "" {
		c.Storage.S3.Region = val
	}
	if val := os.Getenv("FATVFS_S3_ENDPOINT"); val != "" {
		c.Storage.S3.Endpoint = val
	}
	if val := os.Getenv("FATVFS_S3_PATH_STYLE"); val != "" {
		c.Storage.S3.UsePathStyle = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("FATVFS_S3_ACCESS_KEY_ID"); val != "" {
		c.Storage.S3.AccessKeyID = val
	}
	if val := os.Getenv("FATVFS_S3_SECRET_ACCESS_KEY"); val != "" {
		c.Storage.S3.SecretAccessKey = val
	}

	// Monitoring
	if val := os.Getenv("FATVFS_METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CacheMemoryBytes returns Cache.MaxMemory in bytes.
func (c *Configuration) CacheMemoryBytes() (int64, error) {
	return utils.ParseBytes(c.Cache.MaxMemory)
}

// ImageSizeBytes returns Filesystem.ImageSize in bytes.
func (c *Configuration) ImageSizeBytes() (int64, error) {
	return utils.ParseBytes(c.Filesystem.ImageSize)
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Global.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Device.BlockSize <= 0 || c.Device.BlockSize%512 != 0 {
		return fmt.Errorf("block_size must be a positive multiple of 512")
	}

	memory, err := c.CacheMemoryBytes()
	if err != nil {
		return fmt.Errorf("invalid cache max_memory: %w", err)
	}
	if memory < int64(c.Device.BlockSize) {
		return fmt.Errorf("cache max_memory must hold at least one block")
	}
	if c.Cache.MaxBuffers <= 0 {
		return fmt.Errorf("cache max_buffers must be greater than 0")
	}

	switch c.Cache.EvictionPolicy {
	case "lru", "fifo":
	default:
		return fmt.Errorf("invalid eviction_policy: %s (must be lru or fifo)", c.Cache.EvictionPolicy)
	}

	switch c.Filesystem.FATType {
	case 12, 16:
	default:
		return fmt.Errorf("invalid fat_type: %d (must be 12 or 16)", c.Filesystem.FATType)
	}

	switch c.Mount.Backend {
	case "go-fuse", "cgofuse":
	default:
		return fmt.Errorf("invalid mount backend: %s", c.Mount.Backend)
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be greater than 0")
	}

	return nil
}
