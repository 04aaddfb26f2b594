package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"covhook/scan-runner/internal/model"
	"covhook/scan-runner/internal/security"
)

var errScanFailed = errors.New("scan failed")

func addScanCommandTo(parent *cobra.Command, configPath *string) {
	var req model.ScanRequest
	cmd := &cobra.Command{
		Use:     "scan",
		Short:   "Run one scan in-process and print the result as JSON.",
		Example: "  runner scan --repo http://172.16.1.30/kian/jacocotest.git --commit 5a1b2c3 --branch main",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), *configPath, req)
		},
	}
	cmd.Flags().StringVar(&req.RepoURL, "repo", "", "repository URL (HTTP or SSH)")
	cmd.Flags().StringVar(&req.CommitID, "commit", "", "commit to scan")
	cmd.Flags().StringVar(&req.Branch, "branch", "", "branch the commit belongs to")
	cmd.MarkFlagRequired("repo")
	cmd.MarkFlagRequired("commit")
	parent.AddCommand(cmd)
}

func runScan(ctx context.Context, configPath string, req model.ScanRequest) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	req.RequestID = uuid.NewString()
	if err := security.ValidateRequest(req); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	result := a.orchestrator.Run(ctx, req, req.RequestID)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if result.Status == model.StatusError {
		return errScanFailed
	}
	return nil
}
