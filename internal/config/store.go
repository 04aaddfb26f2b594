package config

import (
	"fmt"
	"strings"

	"covhook/scan-runner/internal/model"
)

// Store is the read-only repository -> service table. It is built once at
// startup and shared by every scan.
type Store struct {
	byURL  map[string]model.ServiceConfig
	byName map[string]model.ServiceConfig
}

func NewStore(services []model.ServiceConfig) *Store {
	s := &Store{
		byURL:  make(map[string]model.ServiceConfig, len(services)),
		byName: make(map[string]model.ServiceConfig, len(services)),
	}
	for _, svc := range services {
		s.byURL[svc.RepoURL] = svc
		s.byName[svc.ServiceName] = svc
	}
	return s
}

func (s *Store) Len() int {
	return len(s.byURL)
}

func (s *Store) ByName(name string) (model.ServiceConfig, bool) {
	svc, ok := s.byName[name]
	return svc, ok
}

// Resolve finds the service for repoURL. The exact URL is tried first, then
// its HTTP/SSH duals (git@host:path <-> http://host/path).
func (s *Store) Resolve(repoURL string) (model.ServiceConfig, error) {
	if svc, ok := s.byURL[repoURL]; ok {
		return svc, nil
	}
	for _, candidate := range AlternateURLs(repoURL) {
		if svc, ok := s.byURL[candidate]; ok {
			return svc, nil
		}
	}
	return model.ServiceConfig{}, fmt.Errorf("%w: %s", model.ErrConfigNotFound, repoURL)
}

// AlternateURLs returns the equivalent remote URLs of rawURL in the other
// transport, most specific first. Unsupported formats yield nil.
func AlternateURLs(rawURL string) []string {
	rawURL = strings.TrimSuffix(strings.TrimSpace(rawURL), "/")
	host, path, ok := splitRemote(rawURL)
	if !ok {
		return nil
	}

	var bases []string
	if strings.HasPrefix(rawURL, "git@") {
		bases = []string{
			"http://" + host + "/" + path,
			"https://" + host + "/" + path,
		}
	} else {
		bases = []string{"git@" + host + ":" + path}
		if strings.HasPrefix(rawURL, "https://") {
			bases = append(bases, "http://"+host+"/"+path)
		} else {
			bases = append(bases, "https://"+host+"/"+path)
		}
	}

	out := make([]string, 0, len(bases)*2)
	out = append(out, bases...)
	for _, b := range bases {
		if strings.HasSuffix(b, ".git") {
			out = append(out, strings.TrimSuffix(b, ".git"))
		} else {
			out = append(out, b+".git")
		}
	}
	return out
}

// splitRemote extracts host and repository path from an SSH
// (git@host:group/repo.git) or HTTP(S) (http://host/group/repo.git) remote.
func splitRemote(rawURL string) (host, path string, ok bool) {
	switch {
	case strings.HasPrefix(rawURL, "git@"):
		parts := strings.SplitN(strings.TrimPrefix(rawURL, "git@"), ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", "", false
		}
		return parts[0], strings.TrimPrefix(parts[1], "/"), true
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		withoutScheme := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
		parts := strings.SplitN(withoutScheme, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", "", false
		}
		return parts[0], parts[1], true
	}
	return "", "", false
}
