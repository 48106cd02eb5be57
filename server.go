package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/utilitywarehouse/repo-sync/giturl"
	"github.com/utilitywarehouse/repo-sync/repopool"
	"github.com/utilitywarehouse/repo-sync/scheduler"
)

const maxRequestBody = 1 << 20

var errInvalidRequest = errors.New("invalid request")

type syncRepoRequest struct {
	RepoURL     string `json:"repo_url"`
	AccessToken string `json:"access_token,omitempty"`
	Branch      string `json:"branch,omitempty"`
}

type syncRepoResponse struct {
	Message string `json:"message"`
	RepoID  string `json:"repo_id"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type repoRefResponse struct {
	RepoID     string `json:"repo_id"`
	CurrentRef string `json:"current_ref"`
}

type repoInfo struct {
	RepoID     string            `json:"repo_id"`
	RepoURL    string            `json:"repo_url"`
	Branch     string            `json:"branch"`
	LastResult *scheduler.Result `json:"last_result,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	// RepoID is set when repository got registered but its sync failed
	RepoID string `json:"repo_id,omitempty"`
}

// server is the request layer over the repository pool
type server struct {
	repoPool  *repopool.RepoPool
	scheduler *scheduler.Scheduler
	log       *slog.Logger
}

// handler returns the http handler serving all the endpoints
func (s *server) handler(webhook http.Handler, registry prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync-repo/", s.syncRepo)
	mux.HandleFunc("POST /update-repo/{repo_id}", s.updateRepo)
	mux.HandleFunc("GET /repo-ref/{repo_id}", s.repoRef)
	mux.HandleFunc("GET /repos", s.listRepos)
	mux.HandleFunc("DELETE /repos/{repo_id}", s.removeRepo)
	if webhook != nil {
		mux.Handle("POST /github-webhook", webhook)
	}
	if registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// syncRepo registers the repository and makes sure its mirror exists
func (s *server) syncRepo(w http.ResponseWriter, r *http.Request) {
	var req syncRepoRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: unable to decode request body: %s", errInvalidRequest, err))
		return
	}

	req.RepoURL = strings.TrimSpace(req.RepoURL)
	if req.RepoURL == "" {
		s.writeError(w, fmt.Errorf("%w: repo_url is required", errInvalidRequest))
		return
	}
	if err := giturl.ValidateHTTPRemote(req.RepoURL); err != nil {
		s.writeError(w, fmt.Errorf("%w: %s", errInvalidRequest, err))
		return
	}

	id, err := s.repoPool.Register(r.Context(), repopool.RegisterRequest{
		Remote:      req.RepoURL,
		Branch:      req.Branch,
		AccessToken: req.AccessToken,
	})
	if err != nil {
		s.log.Error("unable to register repository", "remote", giturl.Redact(req.RepoURL), "branch", req.Branch, "id", id, "err", err)
		writeJSON(w, errorStatus(err), errorResponse{Detail: giturl.Redact(err.Error()), RepoID: id})
		return
	}

	writeJSON(w, http.StatusOK, syncRepoResponse{
		Message: "Repository synced successfully",
		RepoID:  id,
	})
}

// updateRepo pulls the latest changes of the tracked branch
func (s *server) updateRepo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("repo_id")

	if err := s.repoPool.Update(r.Context(), id); err != nil {
		s.log.Error("unable to update repository", "id", id, "err", err)
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Repository updated successfully"})
}

// repoRef returns the commit currently checked out in the mirror
func (s *server) repoRef(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("repo_id")

	ref, err := s.repoPool.LocalRef(r.Context(), id)
	if err != nil {
		s.log.Error("unable to get current ref", "id", id, "err", err)
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, repoRefResponse{RepoID: id, CurrentRef: ref})
}

// removeRepo stops tracking the repository and deletes its mirror
func (s *server) removeRepo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("repo_id")

	if err := s.repoPool.Remove(id); err != nil {
		s.log.Error("unable to remove repository", "id", id, "err", err)
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Repository removed successfully"})
}

// listRepos returns all registered repositories with the result of the last sync tick
func (s *server) listRepos(w http.ResponseWriter, _ *http.Request) {
	results := make(map[string]scheduler.Result)
	if s.scheduler != nil {
		for _, res := range s.scheduler.LastResults() {
			results[res.RepoID] = res
		}
	}

	repos := []repoInfo{}
	for _, repo := range s.repoPool.Snapshot() {
		info := repoInfo{
			RepoID:  repo.ID(),
			RepoURL: giturl.Redact(repo.Remote()),
			Branch:  repo.Branch(),
		}
		if res, ok := results[repo.ID()]; ok {
			info.LastResult = &res
		}
		repos = append(repos, info)
	}

	writeJSON(w, http.StatusOK, repos)
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), errorResponse{Detail: giturl.Redact(err.Error())})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, errInvalidRequest), errors.Is(err, repopool.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, repopool.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, repopool.ErrStateConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("unable to write response", "err", err)
	}
}

// listenAndServe serves given handler until ctx is cancelled
func listenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error from httpServer.Shutdown", "err", err)
		}
	}()

	logger.Info("starting http server", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
