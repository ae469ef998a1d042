package kiroku

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const artifactPrefix = "/api/2.0/mlflow-artifacts/artifacts"

// ListRunArtifacts lists artifact entries under a run's artifact root.
// path narrows the listing to a subdirectory; empty lists the root.
func (c *Client) ListRunArtifacts(ctx context.Context, runID, path string) (*ListArtifactsResponse, error) {
	params := url.Values{}
	params.Set("run_id", runID)
	if path != "" {
		params.Set("path", path)
	}

	var resp ListArtifactsResponse
	p := apiPrefix + "/artifacts/list?" + params.Encode()
	if err := c.do(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadRunArtifact stores content under a run's artifact root via the
// server's artifact proxy. The run must use server-managed artifact storage.
func (c *Client) UploadRunArtifact(ctx context.Context, runID, path string, content []byte) error {
	rel, err := c.runArtifactPath(ctx, runID, path)
	if err != nil {
		return err
	}
	return c.UploadArtifact(ctx, rel, content)
}

// DownloadRunArtifact retrieves an artifact stored under a run's artifact
// root. The caller must close the returned reader.
func (c *Client) DownloadRunArtifact(ctx context.Context, runID, path string) (io.ReadCloser, error) {
	rel, err := c.runArtifactPath(ctx, runID, path)
	if err != nil {
		return nil, err
	}
	return c.DownloadArtifact(ctx, rel)
}

// runArtifactPath maps a run-relative artifact path onto the proxy's
// root-relative namespace (<experiment_id>/<run_id>/artifacts/<path>).
func (c *Client) runArtifactPath(ctx context.Context, runID, path string) (string, error) {
	run, err := c.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	rel := run.Info.ExperimentID + "/" + run.Info.RunID + "/artifacts"
	if path != "" {
		rel += "/" + strings.TrimPrefix(path, "/")
	}
	return rel, nil
}

// UploadArtifact stores content at a path relative to the server's artifact
// root.
func (c *Client) UploadArtifact(ctx context.Context, path string, content []byte) error {
	target := c.baseURL + artifactPrefix + "/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("kiroku: create request: %w", err)
	}
	req.ContentLength = int64(len(content))
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kiroku: upload artifact: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return parseErrorResponse(resp.StatusCode, body)
	}
	return nil
}

// DownloadArtifact streams an artifact at a path relative to the server's
// artifact root. The caller must close the returned reader.
func (c *Client) DownloadArtifact(ctx context.Context, path string) (io.ReadCloser, error) {
	target := c.baseURL + artifactPrefix + "/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("kiroku: create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kiroku: download artifact: %w", err)
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
		return nil, parseErrorResponse(resp.StatusCode, body)
	}
	return resp.Body, nil
}

// DeleteArtifact removes an artifact at a path relative to the server's
// artifact root.
func (c *Client) DeleteArtifact(ctx context.Context, path string) error {
	target := c.baseURL + artifactPrefix + "/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return fmt.Errorf("kiroku: create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kiroku: delete artifact: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return parseErrorResponse(resp.StatusCode, body)
	}
	return nil
}

// ListArtifacts lists entries at a path relative to the server's artifact
// root, without reference to any run.
func (c *Client) ListArtifacts(ctx context.Context, path string) (*ListArtifactsResponse, error) {
	p := artifactPrefix
	if path != "" {
		p += "?path=" + url.QueryEscape(path)
	}
	var resp ListArtifactsResponse
	if err := c.do(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PresignedURL holds a tokenized artifact URL issued by the server.
type PresignedURL struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

// GetPresignedURL asks the server for a short-lived tokenized URL granting
// method (GET, PUT or DELETE) on an artifact path. The returned URL is
// relative to the server base URL and carries its own credentials, so it
// can be handed to a worker that has no API token. Requires the server to
// have presigning enabled.
func (c *Client) GetPresignedURL(ctx context.Context, path, method string) (*PresignedURL, error) {
	p := "/api/2.0/mlflow-artifacts/presigned-url?path=" + url.QueryEscape(path)
	if method != "" {
		p += "&method=" + url.QueryEscape(method)
	}
	var resp PresignedURL
	if err := c.do(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
