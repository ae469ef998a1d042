package server

import (
	"net/http"
	"strconv"

	"github.com/ashita-ai/kiroku/internal/model"
)

// parseVersion parses the wire form of a model version number.
func parseVersion(raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		return 0, model.Errorf(model.ErrCodeInvalidParameterValue,
			"invalid model version %q", raw)
	}
	return v, nil
}

// HandleCreateRegisteredModel handles POST /api/2.0/mlflow/registered-models/create.
func (h *Handlers) HandleCreateRegisteredModel(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRegisteredModelRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	m, err := h.registry.CreateModel(r.Context(), req.Name, req.Description, req.Tags)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.CreateRegisteredModelResponse{RegisteredModel: m.ToDTO()})
}

// HandleGetRegisteredModel handles GET /api/2.0/mlflow/registered-models/get.
func (h *Handlers) HandleGetRegisteredModel(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.GetModel(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.GetRegisteredModelResponse{RegisteredModel: m.ToDTO()})
}

// HandleRenameRegisteredModel handles POST /api/2.0/mlflow/registered-models/rename.
func (h *Handlers) HandleRenameRegisteredModel(w http.ResponseWriter, r *http.Request) {
	var req model.RenameRegisteredModelRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	m, err := h.registry.RenameModel(r.Context(), req.Name, req.NewName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.GetRegisteredModelResponse{RegisteredModel: m.ToDTO()})
}

// HandleUpdateRegisteredModel handles PATCH /api/2.0/mlflow/registered-models/update.
func (h *Handlers) HandleUpdateRegisteredModel(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateRegisteredModelRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	m, err := h.registry.UpdateModel(r.Context(), req.Name, req.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.GetRegisteredModelResponse{RegisteredModel: m.ToDTO()})
}

// HandleDeleteRegisteredModel handles DELETE /api/2.0/mlflow/registered-models/delete.
func (h *Handlers) HandleDeleteRegisteredModel(w http.ResponseWriter, r *http.Request) {
	var req model.DeleteRegisteredModelRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.registry.DeleteModel(r.Context(), req.Name); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleSearchRegisteredModels handles POST /api/2.0/mlflow/registered-models/search.
func (h *Handlers) HandleSearchRegisteredModels(w http.ResponseWriter, r *http.Request) {
	var req model.SearchRegisteredModelsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	models, next, err := h.registry.SearchModels(r.Context(),
		req.Filter, req.OrderBy, req.MaxResults, req.PageToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := model.SearchRegisteredModelsResponse{NextPageToken: next}
	for _, m := range models {
		resp.RegisteredModels = append(resp.RegisteredModels, m.ToDTO())
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGetLatestVersions handles POST /api/2.0/mlflow/registered-models/get-latest-versions.
func (h *Handlers) HandleGetLatestVersions(w http.ResponseWriter, r *http.Request) {
	var req model.GetLatestVersionsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	versions, err := h.registry.LatestVersions(r.Context(), req.Name, req.Stages)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := model.GetLatestVersionsResponse{}
	for _, v := range versions {
		resp.ModelVersions = append(resp.ModelVersions, v.ToDTO())
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSetRegisteredModelTag handles POST /api/2.0/mlflow/registered-models/set-tag.
func (h *Handlers) HandleSetRegisteredModelTag(w http.ResponseWriter, r *http.Request) {
	var req model.SetRegisteredModelTagRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	err := h.registry.SetModelTag(r.Context(), req.Name, model.ModelTag{Key: req.Key, Value: req.Value})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleDeleteRegisteredModelTag handles DELETE /api/2.0/mlflow/registered-models/delete-tag.
func (h *Handlers) HandleDeleteRegisteredModelTag(w http.ResponseWriter, r *http.Request) {
	var req model.DeleteRegisteredModelTagRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.registry.DeleteModelTag(r.Context(), req.Name, req.Key); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleCreateModelVersion handles POST /api/2.0/mlflow/model-versions/create.
func (h *Handlers) HandleCreateModelVersion(w http.ResponseWriter, r *http.Request) {
	var req model.CreateModelVersionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	v, err := h.registry.CreateVersion(r.Context(),
		req.Name, req.Source, req.RunID, req.Description, req.Tags)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.CreateModelVersionResponse{ModelVersion: v.ToDTO()})
}

// HandleGetModelVersion handles GET /api/2.0/mlflow/model-versions/get.
func (h *Handlers) HandleGetModelVersion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	version, err := parseVersion(q.Get("version"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	v, err := h.registry.GetVersion(r.Context(), q.Get("name"), version)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.GetModelVersionResponse{ModelVersion: v.ToDTO()})
}

// HandleUpdateModelVersion handles PATCH /api/2.0/mlflow/model-versions/update.
func (h *Handlers) HandleUpdateModelVersion(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateModelVersionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	version, err := parseVersion(req.Version)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	v, err := h.registry.UpdateVersion(r.Context(), req.Name, version, req.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.GetModelVersionResponse{ModelVersion: v.ToDTO()})
}

// HandleDeleteModelVersion handles DELETE /api/2.0/mlflow/model-versions/delete.
func (h *Handlers) HandleDeleteModelVersion(w http.ResponseWriter, r *http.Request) {
	var req model.DeleteModelVersionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	version, err := parseVersion(req.Version)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.registry.DeleteVersion(r.Context(), req.Name, version); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleTransitionModelVersionStage handles
// POST /api/2.0/mlflow/model-versions/transition-stage.
func (h *Handlers) HandleTransitionModelVersionStage(w http.ResponseWriter, r *http.Request) {
	var req model.TransitionModelVersionStageRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	version, err := parseVersion(req.Version)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	v, err := h.registry.TransitionStage(r.Context(),
		req.Name, version, req.Stage, req.ArchiveExistingVersions)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.TransitionModelVersionStageResponse{ModelVersion: v.ToDTO()})
}

// HandleSearchModelVersions handles GET /api/2.0/mlflow/model-versions/search.
func (h *Handlers) HandleSearchModelVersions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var maxResults int64
	if raw := q.Get("max_results"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, model.ErrCodeInvalidParameterValue,
				"invalid max_results")
			return
		}
		maxResults = v
	}
	versions, next, err := h.registry.SearchVersions(r.Context(),
		q.Get("filter"), q["order_by"], maxResults, q.Get("page_token"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := model.SearchModelVersionsResponse{NextPageToken: next}
	for _, v := range versions {
		resp.ModelVersions = append(resp.ModelVersions, v.ToDTO())
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSetModelVersionTag handles POST /api/2.0/mlflow/model-versions/set-tag.
func (h *Handlers) HandleSetModelVersionTag(w http.ResponseWriter, r *http.Request) {
	var req model.SetModelVersionTagRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	version, err := parseVersion(req.Version)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	err = h.registry.SetVersionTag(r.Context(), req.Name, version,
		model.ModelTag{Key: req.Key, Value: req.Value})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleDeleteModelVersionTag handles DELETE /api/2.0/mlflow/model-versions/delete-tag.
func (h *Handlers) HandleDeleteModelVersionTag(w http.ResponseWriter, r *http.Request) {
	var req model.DeleteModelVersionTagRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	version, err := parseVersion(req.Version)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.registry.DeleteVersionTag(r.Context(), req.Name, version, req.Key); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleGetDownloadURI handles GET /api/2.0/mlflow/model-versions/get-download-uri.
func (h *Handlers) HandleGetDownloadURI(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	version, err := parseVersion(q.Get("version"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	uri, err := h.registry.DownloadURI(r.Context(), q.Get("name"), version)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.GetDownloadURIResponse{ArtifactURI: uri})
}
