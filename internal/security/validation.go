package security

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"covhook/scan-runner/internal/model"
)

var (
	commitRegex    = regexp.MustCompile(`^[a-fA-F0-9]{7,64}$`)
	branchRegex    = regexp.MustCompile(`^[A-Za-z0-9._/-]{0,255}$`)
	requestIDRegex = regexp.MustCompile(`^[A-Za-z0-9._:-]{0,128}$`)
	scpLikeRegex   = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[A-Za-z0-9._/~-]+$`)
)

// ValidateRequest rejects events whose fields would end up on a command
// line or in a file path in an unexpected shape.
func ValidateRequest(req model.ScanRequest) error {
	if err := validateRepoURL(req.RepoURL); err != nil {
		return err
	}
	if !commitRegex.MatchString(req.CommitID) {
		return errors.New("invalid commit_id")
	}
	if !branchRegex.MatchString(req.Branch) || strings.Contains(req.Branch, "..") || strings.HasPrefix(req.Branch, "-") {
		return errors.New("invalid branch")
	}
	if !requestIDRegex.MatchString(req.RequestID) {
		return errors.New("invalid request_id")
	}
	if strings.ContainsAny(req.ServiceName, "/\\") || strings.Contains(req.ServiceName, "..") {
		return errors.New("invalid service_name")
	}
	return nil
}

func validateRepoURL(raw string) error {
	if raw == "" {
		return errors.New("empty repo_url")
	}
	if strings.HasPrefix(raw, "-") {
		return errors.New("invalid repo_url")
	}
	if scpLikeRegex.MatchString(raw) {
		return nil
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("invalid repo_url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git":
	default:
		return fmt.Errorf("invalid repo_url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("invalid repo_url: missing host")
	}
	return nil
}

// CheckToken compares a presented webhook token against the configured
// secret in constant time. An empty secret disables the check.
func CheckToken(secret, presented string) bool {
	if secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(presented)) == 1
}
