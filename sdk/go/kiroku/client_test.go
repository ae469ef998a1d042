package kiroku

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// mockServer creates an httptest server that mimics the Kiroku API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}
	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL: serverURL,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for empty BaseURL")
	}
}

func TestStartRunLifecycle(t *testing.T) {
	const runID = "0123456789abcdef0123456789abcdef"

	var loggedMetric Metric
	var updateReq UpdateRunRequest

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/2.0/mlflow/runs/create": func(w http.ResponseWriter, r *http.Request) {
			var req CreateRunRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.ExperimentID != "7" {
				t.Errorf("experiment_id = %q, want 7", req.ExperimentID)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"run": Run{Info: RunInfo{
					RunID:        runID,
					RunName:      req.RunName,
					ExperimentID: req.ExperimentID,
					Status:       RunStatusRunning,
				}},
			})
		},
		"POST /api/2.0/mlflow/runs/log-metric": func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				RunID string `json:"run_id"`
				Metric
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.RunID != runID {
				t.Errorf("run_id = %q, want %q", req.RunID, runID)
			}
			loggedMetric = req.Metric
			writeJSON(w, http.StatusOK, map[string]any{})
		},
		"POST /api/2.0/mlflow/runs/update": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&updateReq)
			writeJSON(w, http.StatusOK, map[string]any{
				"run_info": RunInfo{RunID: runID, Status: updateReq.Status, EndTime: updateReq.EndTime},
			})
		},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	run, err := c.StartRun(ctx, "7", "tuning")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if run.ID() != runID {
		t.Errorf("run ID = %q, want %q", run.ID(), runID)
	}
	if run.ExperimentID() != "7" {
		t.Errorf("experiment ID = %q, want 7", run.ExperimentID())
	}

	if err := run.LogMetric(ctx, "loss", 0.42, 3); err != nil {
		t.Fatalf("LogMetric failed: %v", err)
	}
	if loggedMetric.Key != "loss" || float64(loggedMetric.Value) != 0.42 || loggedMetric.Step != 3 {
		t.Errorf("unexpected metric: %+v", loggedMetric)
	}
	if loggedMetric.Timestamp == 0 {
		t.Error("metric timestamp not set")
	}

	if err := run.End(ctx); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if updateReq.Status != RunStatusFinished {
		t.Errorf("final status = %q, want FINISHED", updateReq.Status)
	}
	if updateReq.EndTime == 0 {
		t.Error("end time not set")
	}
}

func TestFloatWireEncoding(t *testing.T) {
	b, err := json.Marshal(Metric{Key: "loss", Value: Float(math.NaN()), Timestamp: 1})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(b), `"value":"NaN"`) {
		t.Errorf("NaN not encoded as string: %s", b)
	}

	var m Metric
	if err := json.Unmarshal([]byte(`{"key":"loss","value":"-Infinity","timestamp":1}`), &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !math.IsInf(float64(m.Value), -1) {
		t.Errorf("value = %v, want -Inf", float64(m.Value))
	}
}

func TestErrorParsing(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/2.0/mlflow/runs/get": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, errorResponse{
				ErrorCode: "RESOURCE_DOES_NOT_EXIST",
				Message:   "run not found",
			})
		},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.GetRun(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound = false for %v", err)
	}
	if IsAlreadyExists(err) || IsInvalidParameter(err) {
		t.Errorf("wrong classification for %v", err)
	}

	if !strings.Contains(err.Error(), "RESOURCE_DOES_NOT_EXIST") {
		t.Errorf("error string missing code: %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatal("error is not *Error")
	}
	if apiErr.StatusCode != 404 || apiErr.Message != "run not found" {
		t.Errorf("unexpected error fields: %+v", apiErr)
	}
}

func TestSearchRunsIterPagination(t *testing.T) {
	pages := map[string]SearchRunsResponse{
		"": {
			Runs:          []Run{{Info: RunInfo{RunID: "run-1"}}, {Info: RunInfo{RunID: "run-2"}}},
			NextPageToken: "t2",
		},
		"t2": {
			Runs: []Run{{Info: RunInfo{RunID: "run-3"}}},
		},
	}

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/2.0/mlflow/runs/search": func(w http.ResponseWriter, r *http.Request) {
			var req SearchRunsRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			writeJSON(w, http.StatusOK, pages[req.PageToken])
		},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	it := c.SearchRunsIter(SearchRunsRequest{ExperimentIDs: []string{"0"}})

	var ids []string
	for it.Next(context.Background()) {
		ids = append(ids, it.Run().Info.RunID)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	want := []string{"run-1", "run-2", "run-3"}
	if len(ids) != len(want) {
		t.Fatalf("got %d runs, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestArtifactUploadDownload(t *testing.T) {
	stored := map[string][]byte{}

	srv := mockServer(t, map[string]http.HandlerFunc{
		"PUT /api/2.0/mlflow-artifacts/artifacts/{path...}": func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			stored[r.PathValue("path")] = body
			writeJSON(w, http.StatusOK, map[string]any{})
		},
		"GET /api/2.0/mlflow-artifacts/artifacts/{path...}": func(w http.ResponseWriter, r *http.Request) {
			body, ok := stored[r.PathValue("path")]
			if !ok {
				writeJSON(w, http.StatusNotFound, errorResponse{
					ErrorCode: "RESOURCE_DOES_NOT_EXIST", Message: "artifact not found",
				})
				return
			}
			_, _ = w.Write(body)
		},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	if err := c.UploadArtifact(ctx, "0/run-1/artifacts/model.txt", []byte("weights")); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	rc, err := c.DownloadArtifact(ctx, "0/run-1/artifacts/model.txt")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "weights" {
		t.Errorf("content = %q, want weights", got)
	}

	if _, err := c.DownloadArtifact(ctx, "0/run-1/artifacts/missing.txt"); !IsNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestGetMetricHistoryQueryParams(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/2.0/mlflow/metrics/get-history": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("run_id") != "r1" || q.Get("metric_key") != "loss" {
				t.Errorf("unexpected query: %v", q)
			}
			if q.Get("max_results") != "100" || q.Get("page_token") != "tok" {
				t.Errorf("pagination params missing: %v", q)
			}
			writeJSON(w, http.StatusOK, MetricHistory{
				Metrics: []Metric{{Key: "loss", Value: 0.5, Timestamp: 1, Step: 1}},
			})
		},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	hist, err := c.GetMetricHistory(context.Background(), "r1", "loss", 100, "tok")
	if err != nil {
		t.Fatalf("GetMetricHistory failed: %v", err)
	}
	if len(hist.Metrics) != 1 || hist.Metrics[0].Key != "loss" {
		t.Errorf("unexpected history: %+v", hist)
	}
}

func TestBearerTokenHeader(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/2.0/mlflow/experiments/get": func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer secret" {
				t.Errorf("Authorization = %q", got)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"experiment": Experiment{ExperimentID: "0", Name: "Default"},
			})
		},
	})
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Token: "secret"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	exp, err := c.GetExperiment(context.Background(), "0")
	if err != nil {
		t.Fatalf("GetExperiment failed: %v", err)
	}
	if exp.Name != "Default" {
		t.Errorf("name = %q, want Default", exp.Name)
	}
}

func TestTransitionModelVersionStage(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/2.0/mlflow/model-versions/transition-stage": func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Name                    string `json:"name"`
				Version                 string `json:"version"`
				Stage                   string `json:"stage"`
				ArchiveExistingVersions bool   `json:"archive_existing_versions"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Name != "churn" || req.Version != "2" || req.Stage != StageProduction {
				t.Errorf("unexpected request: %+v", req)
			}
			if !req.ArchiveExistingVersions {
				t.Error("archive_existing_versions not set")
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"model_version": ModelVersion{Name: req.Name, Version: req.Version, CurrentStage: req.Stage},
			})
		},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	mv, err := c.TransitionModelVersionStage(context.Background(), "churn", "2", StageProduction, true)
	if err != nil {
		t.Fatalf("TransitionModelVersionStage failed: %v", err)
	}
	if mv.CurrentStage != StageProduction {
		t.Errorf("stage = %q, want Production", mv.CurrentStage)
	}
}
