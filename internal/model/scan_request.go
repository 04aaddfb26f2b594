package model

import "time"

type ScanRequest struct {
	RepoURL     string `json:"repo_url"`
	CommitID    string `json:"commit_id"`
	Branch      string `json:"branch"`
	ServiceName string `json:"service_name"`
	RequestID   string `json:"request_id"`
}

// Key identifies the (service, commit) pair at most one scan may run for.
func (r ScanRequest) Key() string {
	return r.ServiceName + "@" + r.CommitID
}

func (r ScanRequest) ShortCommit() string {
	if len(r.CommitID) > 8 {
		return r.CommitID[:8]
	}
	return r.CommitID
}

type Environment string

const (
	EnvironmentDocker Environment = "docker"
	EnvironmentLocal  Environment = "local"
)

func (e Environment) Other() Environment {
	if e == EnvironmentDocker {
		return EnvironmentLocal
	}
	return EnvironmentDocker
}

type ServiceConfig struct {
	ServiceName         string        `json:"service_name" yaml:"service_name" toml:"service_name"`
	RepoURL             string        `json:"repo_url" yaml:"repo_url" toml:"repo_url"`
	ScanMethod          Environment   `json:"scan_method" yaml:"scan_method" toml:"scan_method"`
	DockerImage         string        `json:"docker_image" yaml:"docker_image" toml:"docker_image"`
	NotificationWebhook string        `json:"notification_webhook" yaml:"notification_webhook" toml:"notification_webhook"`
	CoverageThreshold   float64       `json:"coverage_threshold" yaml:"coverage_threshold" toml:"coverage_threshold"`
	MavenGoals          []string      `json:"maven_goals" yaml:"maven_goals" toml:"maven_goals"`
	ReportFormats       []string      `json:"report_formats" yaml:"report_formats" toml:"report_formats"`
	UseDocker           *bool         `json:"use_docker,omitempty" yaml:"use_docker" toml:"use_docker"`
	UseIncremental      bool          `json:"use_incremental_update" yaml:"use_incremental_update" toml:"use_incremental_update"`
	LocalWorkspacePath  string        `json:"local_workspace_path" yaml:"local_workspace_path" toml:"local_workspace_path"`
	Timeout             time.Duration `json:"-" yaml:"-" toml:"-"`
}

// PrimaryEnvironment is docker when use_docker is set. An unset flag
// falls back to the configured scan method.
func (c ServiceConfig) PrimaryEnvironment() Environment {
	if c.UseDocker != nil {
		if *c.UseDocker {
			return EnvironmentDocker
		}
		return EnvironmentLocal
	}
	if c.ScanMethod == EnvironmentLocal {
		return EnvironmentLocal
	}
	return EnvironmentDocker
}
