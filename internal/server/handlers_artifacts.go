package server

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ashita-ai/kiroku/internal/model"
)

// HandleListRunArtifacts handles GET /api/2.0/mlflow/artifacts/list.
// Lists artifacts stored under a run's artifact root, wherever that
// root points.
func (h *Handlers) HandleListRunArtifacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	runID := q.Get("run_id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidParameterValue,
			"run_id must not be empty")
		return
	}
	rootURI, err := h.tracking.ArtifactURI(r.Context(), runID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	repo, err := h.resolver.For(r.Context(), rootURI)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	files, err := repo.List(r.Context(), q.Get("path"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := model.ListArtifactsResponse{RootURI: rootURI}
	for _, f := range files {
		resp.Files = append(resp.Files, model.FileInfoDTO{Path: f.Path, IsDir: f.IsDir, Size: f.Size})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleDownloadArtifact handles GET /api/2.0/mlflow-artifacts/artifacts/{path...}.
func (h *Handlers) HandleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	repo, err := h.resolver.For(r.Context(), h.artifactRoot)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rc, size, err := repo.Open(r.Context(), r.PathValue("path"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	_, _ = io.Copy(w, rc)
}

// HandleUploadArtifact handles PUT /api/2.0/mlflow-artifacts/artifacts/{path...}.
func (h *Handlers) HandleUploadArtifact(w http.ResponseWriter, r *http.Request) {
	repo, err := h.resolver.For(r.Context(), h.artifactRoot)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	p := r.PathValue("path")
	if strings.TrimSpace(p) == "" {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidParameterValue,
			"artifact path must not be empty")
		return
	}
	if err := repo.Upload(r.Context(), p, r.Body, r.ContentLength); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleDeleteArtifact handles DELETE /api/2.0/mlflow-artifacts/artifacts/{path...}.
func (h *Handlers) HandleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	repo, err := h.resolver.For(r.Context(), h.artifactRoot)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := repo.Delete(r.Context(), r.PathValue("path")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type presignedURLResponse struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

// HandleCreatePresignedURL handles GET /api/2.0/mlflow-artifacts/presigned-url.
// Issues a short-lived tokenized URL granting one method on one artifact
// path, so workers can move bytes without holding server credentials.
func (h *Handlers) HandleCreatePresignedURL(w http.ResponseWriter, r *http.Request) {
	if h.presigner == nil {
		writeError(w, http.StatusNotFound, model.ErrCodeResourceDoesNotExist,
			"presigned URLs are not enabled on this server")
		return
	}
	q := r.URL.Query()
	p := strings.TrimSpace(q.Get("path"))
	if p == "" {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidParameterValue,
			"path must not be empty")
		return
	}
	method := strings.ToUpper(q.Get("method"))
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete:
	default:
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidParameterValue,
			"method must be GET, PUT or DELETE")
		return
	}
	signedPath := "/api/2.0/mlflow-artifacts/artifacts/" + strings.TrimLeft(p, "/")
	token, expiresAt, err := h.presigner.Sign(signedPath, method)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presignedURLResponse{
		URL:       signedPath + "?token=" + url.QueryEscape(token),
		ExpiresAt: expiresAt.UnixMilli(),
	})
}

// HandleListArtifacts handles GET /api/2.0/mlflow-artifacts/artifacts,
// the listing form of the proxied artifact API.
func (h *Handlers) HandleListArtifacts(w http.ResponseWriter, r *http.Request) {
	repo, err := h.resolver.For(r.Context(), h.artifactRoot)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	files, err := repo.List(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := model.ListArtifactsResponse{RootURI: h.artifactRoot}
	for _, f := range files {
		resp.Files = append(resp.Files, model.FileInfoDTO{Path: f.Path, IsDir: f.IsDir, Size: f.Size})
	}
	writeJSON(w, http.StatusOK, resp)
}
