package kiroku

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const apiPrefix = "/api/2.0/mlflow"

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Kiroku server (e.g. "http://localhost:5000").
	BaseURL string

	// Token is an optional static bearer token. Empty means no auth header.
	Token string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Kiroku tracking and model-registry API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("kiroku: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  httpClient,
	}, nil
}

// ---------------------------------------------------------------------------
// Experiments
// ---------------------------------------------------------------------------

// CreateExperiment creates a named experiment and returns its ID.
func (c *Client) CreateExperiment(ctx context.Context, req CreateExperimentRequest) (string, error) {
	var resp struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/experiments/create", req, &resp); err != nil {
		return "", err
	}
	return resp.ExperimentID, nil
}

// GetExperiment retrieves an experiment by ID.
func (c *Client) GetExperiment(ctx context.Context, experimentID string) (*Experiment, error) {
	var resp struct {
		Experiment Experiment `json:"experiment"`
	}
	path := apiPrefix + "/experiments/get?experiment_id=" + url.QueryEscape(experimentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Experiment, nil
}

// GetExperimentByName retrieves an active experiment by name.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	var resp struct {
		Experiment Experiment `json:"experiment"`
	}
	path := apiPrefix + "/experiments/get-by-name?experiment_name=" + url.QueryEscape(name)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Experiment, nil
}

// RenameExperiment changes an experiment's name.
func (c *Client) RenameExperiment(ctx context.Context, experimentID, newName string) error {
	body := map[string]string{"experiment_id": experimentID, "new_name": newName}
	return c.do(ctx, http.MethodPost, apiPrefix+"/experiments/update", body, nil)
}

// DeleteExperiment soft-deletes an experiment and its runs.
func (c *Client) DeleteExperiment(ctx context.Context, experimentID string) error {
	body := map[string]string{"experiment_id": experimentID}
	return c.do(ctx, http.MethodPost, apiPrefix+"/experiments/delete", body, nil)
}

// RestoreExperiment restores a soft-deleted experiment.
func (c *Client) RestoreExperiment(ctx context.Context, experimentID string) error {
	body := map[string]string{"experiment_id": experimentID}
	return c.do(ctx, http.MethodPost, apiPrefix+"/experiments/restore", body, nil)
}

// SetExperimentTag sets or overwrites a tag on an experiment.
func (c *Client) SetExperimentTag(ctx context.Context, experimentID, key, value string) error {
	body := map[string]string{"experiment_id": experimentID, "key": key, "value": value}
	return c.do(ctx, http.MethodPost, apiPrefix+"/experiments/set-experiment-tag", body, nil)
}

// SearchExperiments returns one page of experiments matching the request.
func (c *Client) SearchExperiments(ctx context.Context, req SearchExperimentsRequest) (*SearchExperimentsResponse, error) {
	var resp SearchExperimentsResponse
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/experiments/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// CreateRun starts a new run.
func (c *Client) CreateRun(ctx context.Context, req CreateRunRequest) (*Run, error) {
	var resp struct {
		Run Run `json:"run"`
	}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/runs/create", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Run, nil
}

// GetRun retrieves a run with its latest metric value per key.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	var resp struct {
		Run Run `json:"run"`
	}
	path := apiPrefix + "/runs/get?run_id=" + url.QueryEscape(runID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Run, nil
}

// UpdateRun mutates a run's status, end time, or display name.
func (c *Client) UpdateRun(ctx context.Context, req UpdateRunRequest) (*RunInfo, error) {
	var resp struct {
		RunInfo RunInfo `json:"run_info"`
	}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/runs/update", req, &resp); err != nil {
		return nil, err
	}
	return &resp.RunInfo, nil
}

// DeleteRun soft-deletes a run.
func (c *Client) DeleteRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, apiPrefix+"/runs/delete", map[string]string{"run_id": runID}, nil)
}

// RestoreRun restores a soft-deleted run.
func (c *Client) RestoreRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, apiPrefix+"/runs/restore", map[string]string{"run_id": runID}, nil)
}

// LogMetric appends one metric point to a run's history.
func (c *Client) LogMetric(ctx context.Context, runID string, m Metric) error {
	body := struct {
		RunID string `json:"run_id"`
		Metric
	}{RunID: runID, Metric: m}
	return c.do(ctx, http.MethodPost, apiPrefix+"/runs/log-metric", body, nil)
}

// LogParam records an immutable parameter. Re-logging the same value is a
// no-op; a different value is rejected by the server.
func (c *Client) LogParam(ctx context.Context, runID, key, value string) error {
	body := map[string]string{"run_id": runID, "key": key, "value": value}
	return c.do(ctx, http.MethodPost, apiPrefix+"/runs/log-parameter", body, nil)
}

// SetTag sets or overwrites a tag on a run.
func (c *Client) SetTag(ctx context.Context, runID, key, value string) error {
	body := map[string]string{"run_id": runID, "key": key, "value": value}
	return c.do(ctx, http.MethodPost, apiPrefix+"/runs/set-tag", body, nil)
}

// DeleteTag removes a tag from a run.
func (c *Client) DeleteTag(ctx context.Context, runID, key string) error {
	body := map[string]string{"run_id": runID, "key": key}
	return c.do(ctx, http.MethodPost, apiPrefix+"/runs/delete-tag", body, nil)
}

// LogBatch logs metrics, params, and tags in one atomic call.
func (c *Client) LogBatch(ctx context.Context, req LogBatchRequest) error {
	return c.do(ctx, http.MethodPost, apiPrefix+"/runs/log-batch", req, nil)
}

// LogInputs records dataset inputs consumed by a run.
func (c *Client) LogInputs(ctx context.Context, runID string, datasets []DatasetInput) error {
	body := struct {
		RunID    string         `json:"run_id"`
		Datasets []DatasetInput `json:"datasets,omitempty"`
	}{RunID: runID, Datasets: datasets}
	return c.do(ctx, http.MethodPost, apiPrefix+"/runs/log-inputs", body, nil)
}

// SearchRuns returns one page of runs matching the request.
func (c *Client) SearchRuns(ctx context.Context, req SearchRunsRequest) (*SearchRunsResponse, error) {
	var resp SearchRunsResponse
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/runs/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetMetricHistory retrieves one page of a metric's full series.
// maxResults <= 0 leaves the page size to the server.
func (c *Client) GetMetricHistory(ctx context.Context, runID, metricKey string, maxResults int64, pageToken string) (*MetricHistory, error) {
	params := url.Values{}
	params.Set("run_id", runID)
	params.Set("metric_key", metricKey)
	if maxResults > 0 {
		params.Set("max_results", strconv.FormatInt(maxResults, 10))
	}
	if pageToken != "" {
		params.Set("page_token", pageToken)
	}

	var resp MetricHistory
	path := apiPrefix + "/metrics/get-history?" + params.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Model registry
// ---------------------------------------------------------------------------

// CreateRegisteredModel registers a new model name.
func (c *Client) CreateRegisteredModel(ctx context.Context, name, description string, tags []ModelTag) (*RegisteredModel, error) {
	body := struct {
		Name        string     `json:"name"`
		Tags        []ModelTag `json:"tags,omitempty"`
		Description string     `json:"description,omitempty"`
	}{Name: name, Tags: tags, Description: description}

	var resp struct {
		RegisteredModel RegisteredModel `json:"registered_model"`
	}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/registered-models/create", body, &resp); err != nil {
		return nil, err
	}
	return &resp.RegisteredModel, nil
}

// GetRegisteredModel retrieves a registered model with its latest versions.
func (c *Client) GetRegisteredModel(ctx context.Context, name string) (*RegisteredModel, error) {
	var resp struct {
		RegisteredModel RegisteredModel `json:"registered_model"`
	}
	path := apiPrefix + "/registered-models/get?name=" + url.QueryEscape(name)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.RegisteredModel, nil
}

// DeleteRegisteredModel removes a model and all its versions.
func (c *Client) DeleteRegisteredModel(ctx context.Context, name string) error {
	body := map[string]string{"name": name}
	return c.do(ctx, http.MethodDelete, apiPrefix+"/registered-models/delete", body, nil)
}

// CreateModelVersion registers a new version under a model name.
func (c *Client) CreateModelVersion(ctx context.Context, req CreateModelVersionRequest) (*ModelVersion, error) {
	var resp struct {
		ModelVersion ModelVersion `json:"model_version"`
	}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/model-versions/create", req, &resp); err != nil {
		return nil, err
	}
	return &resp.ModelVersion, nil
}

// GetModelVersion retrieves one model version.
func (c *Client) GetModelVersion(ctx context.Context, name, version string) (*ModelVersion, error) {
	params := url.Values{}
	params.Set("name", name)
	params.Set("version", version)

	var resp struct {
		ModelVersion ModelVersion `json:"model_version"`
	}
	path := apiPrefix + "/model-versions/get?" + params.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.ModelVersion, nil
}

// TransitionModelVersionStage moves a version to a new stage. When
// archiveExisting is true, versions already in the target stage are archived.
func (c *Client) TransitionModelVersionStage(ctx context.Context, name, version, stage string, archiveExisting bool) (*ModelVersion, error) {
	body := struct {
		Name                    string `json:"name"`
		Version                 string `json:"version"`
		Stage                   string `json:"stage"`
		ArchiveExistingVersions bool   `json:"archive_existing_versions,omitempty"`
	}{Name: name, Version: version, Stage: stage, ArchiveExistingVersions: archiveExisting}

	var resp struct {
		ModelVersion ModelVersion `json:"model_version"`
	}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/model-versions/transition-stage", body, &resp); err != nil {
		return nil, err
	}
	return &resp.ModelVersion, nil
}

// GetLatestVersions returns the highest version per stage, optionally
// restricted to the given stages.
func (c *Client) GetLatestVersions(ctx context.Context, name string, stages []string) ([]ModelVersion, error) {
	body := struct {
		Name   string   `json:"name"`
		Stages []string `json:"stages,omitempty"`
	}{Name: name, Stages: stages}

	var resp struct {
		ModelVersions []ModelVersion `json:"model_versions,omitempty"`
	}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/registered-models/get-latest-versions", body, &resp); err != nil {
		return nil, err
	}
	return resp.ModelVersions, nil
}

// SearchModelVersions returns one page of versions matching the request.
func (c *Client) SearchModelVersions(ctx context.Context, req SearchModelVersionsRequest) (*SearchModelVersionsResponse, error) {
	params := url.Values{}
	if req.Filter != "" {
		params.Set("filter", req.Filter)
	}
	if req.MaxResults > 0 {
		params.Set("max_results", strconv.FormatInt(req.MaxResults, 10))
	}
	for _, ob := range req.OrderBy {
		params.Add("order_by", ob)
	}
	if req.PageToken != "" {
		params.Set("page_token", req.PageToken)
	}

	path := apiPrefix + "/model-versions/search"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp SearchModelVersionsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDownloadURI resolves the artifact URI a model version was registered from.
func (c *Client) GetDownloadURI(ctx context.Context, name, version string) (string, error) {
	params := url.Values{}
	params.Set("name", name)
	params.Set("version", version)

	var resp struct {
		ArtifactURI string `json:"artifact_uri"`
	}
	path := apiPrefix + "/model-versions/get-download-uri?" + params.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.ArtifactURI, nil
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// HealthResponse reports the server's status and version.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Health checks the server's health status. This endpoint does not require
// authentication.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("kiroku: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("kiroku: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kiroku: %s %s: %w", method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kiroku: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("kiroku: decode response: %w", err)
	}
	return nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var wire errorResponse
	if err := json.Unmarshal(body, &wire); err == nil && wire.Message != "" {
		apiErr.Code = wire.ErrorCode
		apiErr.Message = wire.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
