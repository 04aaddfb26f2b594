package pipeline

import (
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"covhook/scan-runner/internal/model"
)

// persistReports copies the report directory to
// <ReportsDir>/<service>/<commit>. Failures only cost the links.
func (o *Orchestrator) persistReports(s *scan, srcDir string) *model.ReportArtifacts {
	if o.opts.ReportsDir == "" {
		return nil
	}
	service := safeSegment(s.cfg.ServiceName)
	commit := safeSegment(s.req.CommitID)
	dst := filepath.Join(o.opts.ReportsDir, service, commit)
	if err := os.RemoveAll(dst); err != nil {
		s.log.WithError(err).Warn("could not clear previous report artifacts")
	}
	if err := copyTree(srcDir, dst); err != nil {
		s.log.WithError(err).Warn("could not persist report artifacts")
		return nil
	}

	art := &model.ReportArtifacts{Dir: dst, XML: filepath.Join(dst, "jacoco.xml")}
	if fileExists(filepath.Join(dst, "index.html")) {
		art.HTML = filepath.Join(dst, "index.html")
		if o.opts.ReportsBaseURL != "" {
			art.HTML = strings.TrimSuffix(o.opts.ReportsBaseURL, "/") + "/" + path.Join(service, commit, "index.html")
		}
	}
	if fileExists(filepath.Join(dst, "jacoco.csv")) {
		art.CSV = filepath.Join(dst, "jacoco.csv")
	}
	return art
}

func safeSegment(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
