package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"covhook/scan-runner/internal/model"
	"covhook/scan-runner/internal/security"
)

const (
	GitlabTokenHeader = "X-Gitlab-Token"
	zeroSHA           = "0000000000000000000000000000000000000000"
)

type gitlabPush struct {
	ObjectKind  string `json:"object_kind"`
	Ref         string `json:"ref"`
	After       string `json:"after"`
	CheckoutSHA string `json:"checkout_sha"`
	Project     struct {
		GitHTTPURL string `json:"git_http_url"`
		GitSSHURL  string `json:"git_ssh_url"`
	} `json:"project"`
	Repository struct {
		GitHTTPURL string `json:"git_http_url"`
	} `json:"repository"`
}

// GitlabHookHandler normalizes a GitLab push hook into a scan request.
// Non-push events and branch deletions are acknowledged and ignored.
func (s *Server) GitlabHookHandler(w http.ResponseWriter, r *http.Request) {
	if !security.CheckToken(s.opts.WebhookSecret, r.Header.Get(GitlabTokenHeader)) {
		renderError(w, r, http.StatusUnauthorized, "invalid webhook token")
		return
	}

	var payload gitlabPush
	if err := render.DecodeJSON(r.Body, &payload); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	if payload.ObjectKind != "push" {
		render.JSON(w, r, map[string]string{"status": string(model.StatusIgnored), "reason": "unsupported event " + payload.ObjectKind})
		return
	}
	commit := payload.CheckoutSHA
	if commit == "" {
		commit = payload.After
	}
	if commit == "" || commit == zeroSHA {
		render.JSON(w, r, map[string]string{"status": string(model.StatusIgnored), "reason": "branch deleted"})
		return
	}

	repoURL := payload.Project.GitHTTPURL
	if repoURL == "" {
		repoURL = payload.Repository.GitHTTPURL
	}
	if repoURL == "" {
		repoURL = payload.Project.GitSSHURL
	}

	s.schedule(w, r, model.ScanRequest{
		RepoURL:  repoURL,
		CommitID: commit,
		Branch:   strings.TrimPrefix(payload.Ref, "refs/heads/"),
	}, s.opts.Sync && r.URL.Query().Get("sync") != "false")
}
