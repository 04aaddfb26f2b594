package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"covhook/scan-runner/internal/model"
)

type ServerConfig struct {
	Addr          string        `yaml:"addr" toml:"addr"`
	WebhookSecret string        `yaml:"webhook_secret" toml:"webhook_secret"`
	SyncTimeout   time.Duration `yaml:"sync_timeout" toml:"sync_timeout"`
}

type ScanConfig struct {
	// Timeout bounds a single build attempt.
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
	// CloneTimeout bounds workspace acquisition. Defaults to Timeout.
	CloneTimeout time.Duration `yaml:"clone_timeout" toml:"clone_timeout"`
	Workers      int           `yaml:"workers" toml:"workers"`
	QueueSize    int           `yaml:"queue_size" toml:"queue_size"`
	// Mode is "async" (respond with a task id) or "sync" (block until done).
	Mode           string `yaml:"mode" toml:"mode"`
	WorkDir        string `yaml:"work_dir" toml:"work_dir"`
	ReportsDir     string `yaml:"reports_dir" toml:"reports_dir"`
	ReportsBaseURL string `yaml:"reports_base_url" toml:"reports_base_url"`
}

type DockerConfig struct {
	Host          string `yaml:"host" toml:"host"`
	DefaultImage  string `yaml:"default_image" toml:"default_image"`
	MavenCacheDir string `yaml:"maven_cache_dir" toml:"maven_cache_dir"`
	MemoryMB      int64  `yaml:"memory_mb" toml:"memory_mb"`
	CPUs          int64  `yaml:"cpus" toml:"cpus"`
}

type LocalConfig struct {
	MavenBinary string `yaml:"maven_binary" toml:"maven_binary"`
}

type JacocoConfig struct {
	Version string `yaml:"version" toml:"version"`
}

// StateConfig selects where incremental coverage snapshots are kept.
type StateConfig struct {
	Backend       string `yaml:"backend" toml:"backend"`
	Dir           string `yaml:"dir" toml:"dir"`
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix" toml:"key_prefix"`
	// DistributedDedup claims (service, commit) pairs in redis so that
	// replicas sharing one redis do not build the same commit twice.
	DistributedDedup bool `yaml:"distributed_dedup" toml:"distributed_dedup"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type Config struct {
	Server   ServerConfig          `yaml:"server" toml:"server"`
	Scan     ScanConfig            `yaml:"scan" toml:"scan"`
	Docker   DockerConfig          `yaml:"docker" toml:"docker"`
	Local    LocalConfig           `yaml:"local" toml:"local"`
	Jacoco   JacocoConfig          `yaml:"jacoco" toml:"jacoco"`
	State    StateConfig           `yaml:"state" toml:"state"`
	Log      LogConfig             `yaml:"log" toml:"log"`
	Services []model.ServiceConfig `yaml:"services" toml:"services"`
}

const (
	DefaultAddr          = ":8080"
	DefaultScanTimeout   = 10 * time.Minute
	DefaultWorkers       = 2
	DefaultQueueSize     = 32
	DefaultImage         = "maven:3.9-eclipse-temurin-17"
	DefaultJacocoVersion = "0.8.11"
	ModeAsync            = "async"
	ModeSync             = "sync"
)

var (
	DefaultGoals   = []string{"clean", "test"}
	DefaultFormats = []string{"xml", "html"}
)

// DefaultPath returns the config file named by COVHOOK_CONFIG, or
// config.yaml in the working directory.
func DefaultPath() string {
	if v := os.Getenv("COVHOOK_CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}

// LoadFrom reads the configuration at path. Files ending in .toml are
// decoded as TOML, everything else as YAML. Environment variables take
// precedence over file values:
//   - COVHOOK_ADDR           overrides server.addr
//   - COVHOOK_WEBHOOK_SECRET overrides server.webhook_secret
//   - COVHOOK_SCAN_TIMEOUT   overrides scan.timeout
//   - COVHOOK_REDIS_ADDR     overrides state.redis_addr
//   - COVHOOK_REDIS_PASSWORD overrides state.redis_password
func LoadFrom(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(raw), &cfg); err != nil {
			return Config{}, fmt.Errorf("decoding %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decoding %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("COVHOOK_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("COVHOOK_WEBHOOK_SECRET"); v != "" {
		cfg.Server.WebhookSecret = v
	}
	if v := os.Getenv("COVHOOK_SCAN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("COVHOOK_SCAN_TIMEOUT: %w", err)
		}
		cfg.Scan.Timeout = d
	}
	if v := os.Getenv("COVHOOK_REDIS_ADDR"); v != "" {
		cfg.State.RedisAddr = v
	}
	if v := os.Getenv("COVHOOK_REDIS_PASSWORD"); v != "" {
		cfg.State.RedisPassword = v
	}
	return nil
}

// ApplyDefaults fills every unset field, including per-service fields that
// inherit from the global sections.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Scan.Timeout <= 0 {
		c.Scan.Timeout = DefaultScanTimeout
	}
	if c.Scan.CloneTimeout <= 0 {
		c.Scan.CloneTimeout = c.Scan.Timeout
	}
	if c.Server.SyncTimeout <= 0 {
		// a synchronous caller waits for the build plus a possible fallback
		c.Server.SyncTimeout = 2*c.Scan.Timeout + time.Minute
	}
	if c.Scan.Workers <= 0 {
		c.Scan.Workers = DefaultWorkers
	}
	if c.Scan.QueueSize <= 0 {
		c.Scan.QueueSize = DefaultQueueSize
	}
	if c.Scan.Mode == "" {
		c.Scan.Mode = ModeAsync
	}
	if c.Scan.WorkDir == "" {
		c.Scan.WorkDir = os.TempDir()
	}
	if c.Scan.ReportsDir == "" {
		c.Scan.ReportsDir = "reports"
	}
	if c.Docker.DefaultImage == "" {
		c.Docker.DefaultImage = DefaultImage
	}
	if c.Local.MavenBinary == "" {
		c.Local.MavenBinary = "mvn"
	}
	if c.Jacoco.Version == "" {
		c.Jacoco.Version = DefaultJacocoVersion
	}
	if c.State.Backend == "" {
		c.State.Backend = "memory"
	}
	if c.State.Dir == "" {
		c.State.Dir = filepath.Join(c.Scan.ReportsDir, ".state")
	}
	if c.State.KeyPrefix == "" {
		c.State.KeyPrefix = "covhook"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	for i := range c.Services {
		svc := &c.Services[i]
		if svc.ScanMethod == "" {
			svc.ScanMethod = model.EnvironmentDocker
		}
		if svc.DockerImage == "" {
			svc.DockerImage = c.Docker.DefaultImage
		}
		if len(svc.MavenGoals) == 0 {
			svc.MavenGoals = append([]string(nil), DefaultGoals...)
		}
		if len(svc.ReportFormats) == 0 {
			svc.ReportFormats = append([]string(nil), DefaultFormats...)
		}
		if svc.Timeout <= 0 {
			svc.Timeout = c.Scan.Timeout
		}
	}
}

var knownFormats = map[string]bool{"xml": true, "html": true, "csv": true}

// Validate reports every problem found in the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Scan.Mode != ModeAsync && c.Scan.Mode != ModeSync {
		errs = append(errs, fmt.Errorf("scan.mode must be %q or %q, got %q", ModeAsync, ModeSync, c.Scan.Mode))
	}
	switch c.State.Backend {
	case "memory", "file":
	case "redis":
		if c.State.RedisAddr == "" {
			errs = append(errs, errors.New("state.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown state.backend %q", c.State.Backend))
	}
	if c.State.DistributedDedup && c.State.RedisAddr == "" {
		errs = append(errs, errors.New("state.distributed_dedup requires state.redis_addr"))
	}

	urls := map[string]bool{}
	names := map[string]bool{}
	for i, svc := range c.Services {
		where := fmt.Sprintf("services[%d]", i)
		if svc.ServiceName == "" {
			errs = append(errs, fmt.Errorf("%s: service_name is required", where))
		} else if names[svc.ServiceName] {
			errs = append(errs, fmt.Errorf("%s: duplicate service_name %q", where, svc.ServiceName))
		}
		names[svc.ServiceName] = true
		if svc.RepoURL == "" {
			errs = append(errs, fmt.Errorf("%s: repo_url is required", where))
		} else if urls[svc.RepoURL] {
			errs = append(errs, fmt.Errorf("%s: duplicate repo_url %q", where, svc.RepoURL))
		}
		urls[svc.RepoURL] = true
		if svc.ScanMethod != model.EnvironmentDocker && svc.ScanMethod != model.EnvironmentLocal {
			errs = append(errs, fmt.Errorf("%s: scan_method must be docker or local, got %q", where, svc.ScanMethod))
		}
		if svc.CoverageThreshold < 0 || svc.CoverageThreshold > 100 {
			errs = append(errs, fmt.Errorf("%s: coverage_threshold %v out of range [0,100]", where, svc.CoverageThreshold))
		}
		hasXML := false
		for _, f := range svc.ReportFormats {
			if !knownFormats[f] {
				errs = append(errs, fmt.Errorf("%s: unknown report format %q", where, f))
			}
			if f == "xml" {
				hasXML = true
			}
		}
		if !hasXML {
			errs = append(errs, fmt.Errorf("%s: report_formats must include xml", where))
		}
	}
	return errors.Join(errs...)
}
