package docker

import (
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
)

const (
	WorkspaceMount = "/workspace"
	ReportsMount   = "/reports"
	MavenHomeMount = "/root/.m2"
)

// Limits bounds the resources a build container may use.
type Limits struct {
	MemoryMB int64
	CPUs     int64
}

func (l Limits) withDefaults() Limits {
	if l.MemoryMB <= 0 {
		l.MemoryMB = 2048
	}
	if l.CPUs <= 0 {
		l.CPUs = 2
	}
	return l
}

// BuildHostConfig returns the host config for a build container with the
// workspace and report directory bind-mounted read-write.
func BuildHostConfig(limits Limits, workspace, reportDir, mavenCache string) container.HostConfig {
	limits = limits.withDefaults()
	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: workspace, Target: WorkspaceMount},
		{Type: mount.TypeBind, Source: reportDir, Target: ReportsMount},
	}
	if mavenCache != "" {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: mavenCache, Target: MavenHomeMount})
	}
	return container.HostConfig{
		Mounts: mounts,
		Resources: container.Resources{
			Memory:    limits.MemoryMB * 1024 * 1024,
			NanoCPUs:  limits.CPUs * 1_000_000_000,
			PidsLimit: func() *int64 { v := int64(1024); return &v }(),
		},
		SecurityOpt: []string{"no-new-privileges"},
		NetworkMode: "bridge",
	}
}
