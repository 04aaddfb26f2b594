package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestCheckConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
services:
  - service_name: jacocotest
    repo_url: http://172.16.1.30/kian/jacocotest.git
    scan_method: local
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	root := &cobra.Command{Use: "runner"}
	addCheckConfigCommandTo(root, &path)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"check-config"})
	if err := root.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "jacocotest") || !strings.Contains(out.String(), "config OK: 1 services") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestCheckConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
scan:
  mode: sometimes
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	root := &cobra.Command{Use: "runner", SilenceErrors: true, SilenceUsage: true}
	addCheckConfigCommandTo(root, &path)
	root.SetArgs([]string{"check-config"})
	if err := root.Execute(); err == nil {
		t.Error("expected validation error")
	}
}
