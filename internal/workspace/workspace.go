package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/sirupsen/logrus"

	"covhook/scan-runner/internal/model"
)

// Workspace is an exclusive, freshly created checkout for one scan.
type Workspace struct {
	Root      string
	RepoDir   string
	ReportDir string
}

// Release removes the whole workspace tree.
func (w *Workspace) Release() error {
	if w == nil || w.Root == "" {
		return nil
	}
	return os.RemoveAll(w.Root)
}

// Provider acquires a workspace with the requested commit checked out.
type Provider interface {
	Acquire(ctx context.Context, req model.ScanRequest, cfg model.ServiceConfig) (*Workspace, error)
}

// GitCloner clones the repository into a new temporary directory.
type GitCloner struct {
	baseDir string
	log     logrus.FieldLogger
}

func NewGitCloner(baseDir string, log logrus.FieldLogger) *GitCloner {
	return &GitCloner{baseDir: baseDir, log: log}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (g *GitCloner) Acquire(ctx context.Context, req model.ScanRequest, cfg model.ServiceConfig) (*Workspace, error) {
	base := g.baseDir
	if cfg.LocalWorkspacePath != "" {
		base = cfg.LocalWorkspacePath
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace base %s: %w", base, err)
	}
	root, err := os.MkdirTemp(base, "covhook-"+unsafeChars.ReplaceAllString(cfg.ServiceName, "_")+"-")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	ws := &Workspace{
		Root:      root,
		RepoDir:   filepath.Join(root, "src"),
		ReportDir: filepath.Join(root, "reports"),
	}
	if err := os.MkdirAll(ws.ReportDir, 0755); err != nil {
		ws.Release()
		return nil, err
	}

	g.log.WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"stage":      model.StageAcquiring,
		"workspace":  root,
	}).Debug("cloning repository")

	if err := g.checkout(ctx, req, ws); err != nil {
		ws.Release()
		return nil, err
	}
	return ws, nil
}

func (g *GitCloner) checkout(ctx context.Context, req model.ScanRequest, ws *Workspace) error {
	args := []string{"clone", "--quiet", "--no-checkout"}
	if req.Branch != "" {
		args = append(args, "--branch", req.Branch)
	}
	args = append(args, req.RepoURL, ws.RepoDir)
	if _, err := git(ctx, ws.Root, args...); err != nil {
		return err
	}

	ref := req.CommitID
	if ref == "" {
		ref = "HEAD"
	}
	_, err := git(ctx, ws.RepoDir, "checkout", "--quiet", "--detach", ref)
	return err
}
