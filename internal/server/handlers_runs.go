package server

import (
	"net/http"
	"strconv"

	"github.com/ashita-ai/kiroku/internal/model"
)

// HandleCreateRun handles POST /api/2.0/mlflow/runs/create.
func (h *Handlers) HandleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	run, err := h.tracking.CreateRun(r.Context(),
		req.ExperimentID, req.UserID, req.RunName, req.StartTime, req.Tags)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.CreateRunResponse{Run: run.ToDTO()})
}

// HandleGetRun handles GET /api/2.0/mlflow/runs/get.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.tracking.GetRun(r.Context(), r.URL.Query().Get("run_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.GetRunResponse{Run: run.ToDTO()})
}

// HandleUpdateRun handles POST /api/2.0/mlflow/runs/update.
func (h *Handlers) HandleUpdateRun(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	info, err := h.tracking.UpdateRun(r.Context(), req.RunID, req.Status, req.EndTime, req.RunName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.UpdateRunResponse{
		RunInfo: model.Run{Info: info}.ToDTO().Info,
	})
}

// HandleDeleteRun handles POST /api/2.0/mlflow/runs/delete.
func (h *Handlers) HandleDeleteRun(w http.ResponseWriter, r *http.Request) {
	var req model.DeleteRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.tracking.DeleteRun(r.Context(), req.RunID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleRestoreRun handles POST /api/2.0/mlflow/runs/restore.
func (h *Handlers) HandleRestoreRun(w http.ResponseWriter, r *http.Request) {
	var req model.RestoreRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.tracking.RestoreRun(r.Context(), req.RunID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleLogMetric handles POST /api/2.0/mlflow/runs/log-metric.
func (h *Handlers) HandleLogMetric(w http.ResponseWriter, r *http.Request) {
	var req model.LogMetricRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	err := h.tracking.LogMetric(r.Context(), req.RunID, model.Metric{
		Key:       req.Key,
		Value:     float64(req.Value),
		Timestamp: req.Timestamp,
		Step:      req.Step,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleLogParam handles POST /api/2.0/mlflow/runs/log-parameter.
func (h *Handlers) HandleLogParam(w http.ResponseWriter, r *http.Request) {
	var req model.LogParamRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	err := h.tracking.LogParam(r.Context(), req.RunID, model.Param{Key: req.Key, Value: req.Value})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleSetTag handles POST /api/2.0/mlflow/runs/set-tag.
func (h *Handlers) HandleSetTag(w http.ResponseWriter, r *http.Request) {
	var req model.SetTagRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	err := h.tracking.SetTag(r.Context(), req.RunID, model.RunTag{Key: req.Key, Value: req.Value})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleDeleteTag handles POST /api/2.0/mlflow/runs/delete-tag.
func (h *Handlers) HandleDeleteTag(w http.ResponseWriter, r *http.Request) {
	var req model.DeleteTagRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.tracking.DeleteTag(r.Context(), req.RunID, req.Key); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleLogBatch handles POST /api/2.0/mlflow/runs/log-batch.
func (h *Handlers) HandleLogBatch(w http.ResponseWriter, r *http.Request) {
	var req model.LogBatchRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	metrics := make([]model.Metric, 0, len(req.Metrics))
	for _, m := range req.Metrics {
		metrics = append(metrics, m.ToMetric())
	}
	if err := h.tracking.LogBatch(r.Context(), req.RunID, metrics, req.Params, req.Tags); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleLogInputs handles POST /api/2.0/mlflow/runs/log-inputs.
func (h *Handlers) HandleLogInputs(w http.ResponseWriter, r *http.Request) {
	var req model.LogInputsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.tracking.LogInputs(r.Context(), req.RunID, req.Datasets); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleSearchRuns handles POST /api/2.0/mlflow/runs/search.
func (h *Handlers) HandleSearchRuns(w http.ResponseWriter, r *http.Request) {
	var req model.SearchRunsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeServiceError(w, err)
		return
	}
	runs, next, err := h.tracking.SearchRuns(r.Context(),
		req.ExperimentIDs, req.Filter, req.RunViewType, req.OrderBy, req.MaxResults, req.PageToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := model.SearchRunsResponse{NextPageToken: next}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, run.ToDTO())
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGetMetricHistory handles GET /api/2.0/mlflow/metrics/get-history.
func (h *Handlers) HandleGetMetricHistory(w http.ResponseWriter, r *http.Request) {
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
	metrics, next, err := h.tracking.GetMetricHistory(r.Context(),
		q.Get("run_id"), q.Get("metric_key"), maxResults, q.Get("page_token"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := model.GetMetricHistoryResponse{NextPageToken: next}
	for _, m := range metrics {
		resp.Metrics = append(resp.Metrics, m.ToDTO())
	}
	writeJSON(w, http.StatusOK, resp)
}
