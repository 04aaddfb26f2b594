package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"covhook/scan-runner/internal/config"
	"covhook/scan-runner/internal/docker"
	"covhook/scan-runner/internal/incremental"
	"covhook/scan-runner/internal/notify"
	"covhook/scan-runner/internal/pipeline"
	"covhook/scan-runner/internal/scanners"
	"covhook/scan-runner/internal/workspace"
)

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config %s:\n%w", path, err)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		log.WithError(err).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// app holds the wired pipeline and everything that must be closed with it.
type app struct {
	cfg          config.Config
	log          *logrus.Logger
	store        *config.Store
	orchestrator *pipeline.Orchestrator
	redis        *redis.Client
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
}

func newApp(cfg config.Config, log *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, store: config.NewStore(cfg.Services)}

	if cfg.State.Backend == "redis" || cfg.State.DistributedDedup {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.State.RedisAddr,
			Password: cfg.State.RedisPassword,
			DB:       cfg.State.RedisDB,
		})
	}

	var snapshots incremental.Store
	switch cfg.State.Backend {
	case "file":
		fs, err := incremental.NewFileStore(cfg.State.Dir)
		if err != nil {
			return nil, err
		}
		snapshots = fs
	case "redis":
		snapshots = incremental.NewRedisStore(a.redis, cfg.State.KeyPrefix)
	default:
		snapshots = incremental.NewMemoryStore()
	}

	runners := []scanners.Runner{
		newDockerRunner(cfg, log),
		scanners.NewLocalRunner(cfg.Local.MavenBinary, log),
	}

	a.orchestrator = pipeline.New(
		a.store,
		workspace.NewGitCloner(cfg.Scan.WorkDir, log),
		scanners.NewRegistry(log, runners...),
		incremental.NewTracker(snapshots, log),
		notify.NewDispatcher(0),
		notify.Format,
		pipeline.Options{
			JacocoVersion:  cfg.Jacoco.Version,
			ReportsDir:     cfg.Scan.ReportsDir,
			ReportsBaseURL: cfg.Scan.ReportsBaseURL,
			Timeout:        cfg.Scan.Timeout,
			AcquireTimeout: cfg.Scan.CloneTimeout,
		},
		log,
	)
	return a, nil
}

// newDockerRunner never fails: an unreachable daemon turns into infra
// failures at build time, which the executor answers with a fallback.
func newDockerRunner(cfg config.Config, log logrus.FieldLogger) *docker.Runner {
	limits := docker.Limits{MemoryMB: cfg.Docker.MemoryMB, CPUs: cfg.Docker.CPUs}
	cli, err := docker.New(cfg.Docker.Host)
	if err != nil {
		log.WithError(err).Warn("docker client unavailable, container builds will fall back to local")
		return docker.NewRunner(nil, err, limits, cfg.Docker.MavenCacheDir, log)
	}
	return docker.NewRunner(cli, nil, limits, cfg.Docker.MavenCacheDir, log)
}
