package server

import (
	"net/http"

	"github.com/ashita-ai/kiroku/internal/model"
)

// HandleCreateExperiment handles POST /api/2.0/mlflow/experiments/create.
func (h *Handlers) HandleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req model.CreateExperimentRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	exp, err := h.tracking.CreateExperiment(r.Context(), req.Name, req.ArtifactLocation, req.Tags)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.CreateExperimentResponse{ExperimentID: exp.ExperimentID})
}

// HandleGetExperiment handles GET /api/2.0/mlflow/experiments/get.
func (h *Handlers) HandleGetExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := h.tracking.GetExperiment(r.Context(), r.URL.Query().Get("experiment_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.GetExperimentResponse{Experiment: exp.ToDTO()})
}

// HandleGetExperimentByName handles GET /api/2.0/mlflow/experiments/get-by-name.
func (h *Handlers) HandleGetExperimentByName(w http.ResponseWriter, r *http.Request) {
	exp, err := h.tracking.GetExperimentByName(r.Context(), r.URL.Query().Get("experiment_name"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.GetExperimentResponse{Experiment: exp.ToDTO()})
}

// HandleUpdateExperiment handles POST /api/2.0/mlflow/experiments/update.
func (h *Handlers) HandleUpdateExperiment(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateExperimentRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.tracking.UpdateExperiment(r.Context(), req.ExperimentID, req.NewName); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleDeleteExperiment handles POST /api/2.0/mlflow/experiments/delete.
func (h *Handlers) HandleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	var req model.DeleteExperimentRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.tracking.DeleteExperiment(r.Context(), req.ExperimentID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleRestoreExperiment handles POST /api/2.0/mlflow/experiments/restore.
func (h *Handlers) HandleRestoreExperiment(w http.ResponseWriter, r *http.Request) {
	var req model.RestoreExperimentRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.tracking.RestoreExperiment(r.Context(), req.ExperimentID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleSetExperimentTag handles POST /api/2.0/mlflow/experiments/set-experiment-tag.
func (h *Handlers) HandleSetExperimentTag(w http.ResponseWriter, r *http.Request) {
	var req model.SetExperimentTagRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	err := h.tracking.SetExperimentTag(r.Context(), req.ExperimentID,
		model.ExperimentTag{Key: req.Key, Value: req.Value})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleSearchExperiments handles POST /api/2.0/mlflow/experiments/search.
func (h *Handlers) HandleSearchExperiments(w http.ResponseWriter, r *http.Request) {
	var req model.SearchExperimentsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	exps, next, err := h.tracking.SearchExperiments(r.Context(),
		req.Filter, req.ViewType, req.OrderBy, req.MaxResults, req.PageToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := model.SearchExperimentsResponse{NextPageToken: next}
	for _, e := range exps {
		resp.Experiments = append(resp.Experiments, e.ToDTO())
	}
	writeJSON(w, http.StatusOK, resp)
}
