package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"covhook/scan-runner/internal/model"
	"covhook/scan-runner/internal/security"
	"covhook/scan-runner/internal/worker"
)

// RunScanHandler accepts a normalized push event.
func (s *Server) RunScanHandler(w http.ResponseWriter, r *http.Request) {
	var req model.ScanRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	syncMode := s.opts.Sync
	if v := r.URL.Query().Get("sync"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			renderError(w, r, http.StatusBadRequest, "invalid sync parameter")
			return
		}
		syncMode = b
	}
	s.schedule(w, r, req, syncMode)
}

// schedule validates req, resolves its service and hands it to the worker
// pool. Unknown repositories are answered as ignored without scheduling.
func (s *Server) schedule(w http.ResponseWriter, r *http.Request, req model.ScanRequest, sync bool) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if err := security.ValidateRequest(req); err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	log := s.log.WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"commit":     req.CommitID,
		"stage":      model.StageResolving,
	})
	cfg, err := s.resolver.Resolve(req.RepoURL)
	if errors.Is(err, model.ErrConfigNotFound) {
		log.WithField("repo_url", req.RepoURL).Info("no service configured for repository, ignoring")
		render.JSON(w, r, model.ScanResult{
			RequestID: req.RequestID,
			CommitID:  req.CommitID,
			Branch:    req.Branch,
			Status:    model.StatusIgnored,
			Stage:     model.StageResolving,
			Reason:    model.ReasonConfigNotFound,
		})
		return
	}
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	req.ServiceName = cfg.ServiceName

	ticket, err := s.scheduler.Submit(r.Context(), req)
	switch {
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrStopped):
		renderError(w, r, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, worker.ErrDuplicate):
		renderError(w, r, http.StatusConflict, err.Error())
		return
	case err != nil:
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	log.WithFields(logrus.Fields{
		"task_id":   ticket.TaskID,
		"service":   req.ServiceName,
		"coalesced": ticket.Coalesced,
	}).Info("scan scheduled")

	if !sync {
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, ticket)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.SyncTimeout)
	defer cancel()
	result, err := s.scheduler.Wait(ctx, ticket.TaskID)
	if err != nil {
		// Still running: hand out the task so the caller can poll.
		current, getErr := s.scheduler.Get(ticket.TaskID)
		if getErr != nil {
			renderError(w, r, http.StatusInternalServerError, getErr.Error())
			return
		}
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, current)
		return
	}
	render.JSON(w, r, result)
}

func (s *Server) TaskHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.scheduler.Get(chi.URLParam(r, "id"))
	if errors.Is(err, worker.ErrTaskNotFound) {
		renderError(w, r, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	render.JSON(w, r, result)
}
