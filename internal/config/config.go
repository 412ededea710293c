// Package config loads service settings from defaults, an optional YAML file
// and DFD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/example/deepfake-detector/internal/model"
)

// EnvPrefix is prepended to every environment override, e.g. DFD_STORAGE_BACKEND.
const EnvPrefix = "DFD"

const (
	BackendRelational = "relational"
	BackendDocument   = "document"

	RuntimeONNX   = "onnx"
	RuntimeTFLite = "tflite"
)

// Config is the root settings tree.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Relational RelationalConfig `mapstructure:"relational"`
	Document   DocumentConfig   `mapstructure:"document"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Uploads    UploadsConfig    `mapstructure:"uploads"`
	Model      ModelConfig      `mapstructure:"model"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// RelationalConfig selects the gorm dialect. Driver is postgres, sqlite or mysql.
type RelationalConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type DocumentConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// RedisConfig configures the detail cache. An empty Addr disables caching.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadsConfig struct {
	Dir               string   `mapstructure:"dir"`
	MaxBytes          int64    `mapstructure:"max_bytes"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

// ModelConfig describes the exported classifier artifact and its input contract.
type ModelConfig struct {
	Runtime       string        `mapstructure:"runtime"`
	Path          string        `mapstructure:"path"`
	SharedLibrary string        `mapstructure:"shared_library"`
	InputName     string        `mapstructure:"input_name"`
	OutputName    string        `mapstructure:"output_name"`
	InputSize     int           `mapstructure:"input_size"`
	ChannelOrder  string        `mapstructure:"channel_order"`
	Layout        string        `mapstructure:"layout"`
	Mean          []float64     `mapstructure:"mean"`
	Std           []float64     `mapstructure:"std"`
	Labels        []string      `mapstructure:"labels"`
	MaxPixels     int64         `mapstructure:"max_pixels"`
	Workers       int           `mapstructure:"workers"`
	Threads       int           `mapstructure:"threads"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	JWTAudience string        `mapstructure:"jwt_audience"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	BcryptCost  int           `mapstructure:"bcrypt_cost"`
}

// NewViper returns a viper instance with defaults and environment binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("storage.backend", BackendRelational)

	v.SetDefault("relational.driver", "sqlite")
	v.SetDefault("relational.dsn", "data/detections.db")
	v.SetDefault("relational.max_idle_conns", 5)
	v.SetDefault("relational.max_open_conns", 10)
	v.SetDefault("relational.conn_max_lifetime", time.Hour)

	v.SetDefault("document.uri", "mongodb://localhost:27017")
	v.SetDefault("document.database", "deepfake_detector")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 5*time.Minute)

	v.SetDefault("uploads.dir", "uploads")
	v.SetDefault("uploads.max_bytes", 16*1024*1024)
	v.SetDefault("uploads.allowed_extensions", []string{"jpg", "jpeg", "png", "bmp", "gif"})

	v.SetDefault("model.runtime", RuntimeONNX)
	v.SetDefault("model.path", "models/vit_deepfake_detector.onnx")
	v.SetDefault("model.shared_library", "")
	v.SetDefault("model.input_name", "pixel_values")
	v.SetDefault("model.output_name", "logits")
	v.SetDefault("model.input_size", 224)
	v.SetDefault("model.channel_order", "RGB")
	v.SetDefault("model.layout", "NCHW")
	v.SetDefault("model.mean", []float64{0.5, 0.5, 0.5})
	v.SetDefault("model.std", []float64{0.5, 0.5, 0.5})
	v.SetDefault("model.labels", []string{"REAL", "DEEPFAKE"})
	v.SetDefault("model.max_pixels", 40_000_000)
	v.SetDefault("model.workers", 0)
	v.SetDefault("model.threads", 1)
	v.SetDefault("model.timeout", 30*time.Second)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_audience", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)
}

// Load reads path (when non-empty) into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Relational.Driver = strings.ToLower(strings.TrimSpace(c.Relational.Driver))
	c.Model.Runtime = strings.ToLower(strings.TrimSpace(c.Model.Runtime))
	c.Model.ChannelOrder = strings.ToUpper(c.Model.ChannelOrder)
	c.Model.Layout = strings.ToUpper(c.Model.Layout)
	for i, ext := range c.Uploads.AllowedExtensions {
		c.Uploads.AllowedExtensions[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	}
	if c.Model.Workers <= 0 {
		c.Model.Workers = runtime.NumCPU()
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendRelational:
		switch c.Relational.Driver {
		case "postgres", "sqlite", "mysql":
		default:
			errs = append(errs, fmt.Errorf("relational.driver %q is not supported", c.Relational.Driver))
		}
		if c.Relational.DSN == "" {
			errs = append(errs, errors.New("relational.dsn is required"))
		}
	case BackendDocument:
		if c.Document.URI == "" || c.Document.Database == "" {
			errs = append(errs, errors.New("document.uri and document.database are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend))
	}

	if c.Uploads.MaxBytes <= 0 {
		errs = append(errs, errors.New("uploads.max_bytes must be positive"))
	}
	if len(c.Uploads.AllowedExtensions) == 0 {
		errs = append(errs, errors.New("uploads.allowed_extensions must not be empty"))
	}

	switch c.Model.Runtime {
	case RuntimeONNX, RuntimeTFLite:
	default:
		errs = append(errs, fmt.Errorf("model.runtime %q is not supported", c.Model.Runtime))
	}
	if c.Model.InputSize <= 0 {
		errs = append(errs, errors.New("model.input_size must be positive"))
	}
	if !validLabels(c.Model.Labels) {
		errs = append(errs, fmt.Errorf("model.labels must be REAL and DEEPFAKE in model output order, got %v", c.Model.Labels))
	}
	if c.Model.MaxPixels <= 0 {
		errs = append(errs, errors.New("model.max_pixels must be positive"))
	}
	if len(c.Model.Mean) != 3 || len(c.Model.Std) != 3 {
		errs = append(errs, errors.New("model.mean and model.std need three channel values"))
	}
	for _, s := range c.Model.Std {
		if s == 0 {
			errs = append(errs, errors.New("model.std values must be non-zero"))
			break
		}
	}
	if c.Model.ChannelOrder != "RGB" && c.Model.ChannelOrder != "BGR" {
		errs = append(errs, fmt.Errorf("model.channel_order %q is not supported", c.Model.ChannelOrder))
	}
	if c.Model.Layout != "NCHW" && c.Model.Layout != "NHWC" {
		errs = append(errs, fmt.Errorf("model.layout %q is not supported", c.Model.Layout))
	}
	if c.Model.Timeout <= 0 {
		errs = append(errs, errors.New("model.timeout must be positive"))
	}

	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}

	return errors.Join(errs...)
}

// RequireSecret fails when no signing secret was configured. Only the
// HTTP server needs one, so the CLI tools skip this check.
func (c *Config) RequireSecret() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required (set %s_AUTH_JWT_SECRET)", EnvPrefix)
	}
	return nil
}

// validLabels reports whether labels is a permutation of the two stored verdicts.
func validLabels(labels []string) bool {
	if len(labels) != 2 || labels[0] == labels[1] {
		return false
	}
	for _, l := range labels {
		if !model.Prediction(l).Valid() {
			return false
		}
	}
	return true
}
