package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
)

// httpRepo proxies artifact operations to another tracking server's
// artifact endpoints. The base URI points at the server root; paths map to
// /api/2.0/mlflow-artifacts/artifacts/<path>.
type httpRepo struct {
	uri    string
	base   string
	client *http.Client
}

func newHTTPRepo(uri string) (*httpRepo, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return nil, model.Errorf(model.ErrCodeInvalidParameterValue,
			"invalid artifact server URI %q", uri)
	}
	return &httpRepo{
		uri:    uri,
		base:   strings.TrimRight(uri, "/"),
		client: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (h *httpRepo) URI() string { return h.uri }

func (h *httpRepo) endpoint(p string) (string, error) {
	rel, err := cleanRelPath(p)
	if err != nil {
		return "", err
	}
	return h.base + "/api/2.0/mlflow-artifacts/artifacts/" + rel, nil
}

func decodeHTTPError(resp *http.Response) error {
	defer resp.Body.Close()
	var body model.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err == nil && body.ErrorCode != "" {
		return model.Errorf(model.ErrorCode(body.ErrorCode), "%s", body.Message)
	}
	if resp.StatusCode == http.StatusNotFound {
		return model.Errorf(model.ErrCodeResourceDoesNotExist, "artifact not found")
	}
	return model.Errorf(model.ErrCodeInternalError,
		"artifact server returned status %d", resp.StatusCode)
}

func (h *httpRepo) Upload(ctx context.Context, p string, r io.Reader, size int64) error {
	target, err := h.endpoint(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, r)
	if err != nil {
		return fmt.Errorf("artifact: build upload request: %w", err)
	}
	if size >= 0 {
		req.ContentLength = size
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("artifact: upload %s: %w", p, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return decodeHTTPError(resp)
	}
	resp.Body.Close()
	return nil
}

func (h *httpRepo) Open(ctx context.Context, p string) (io.ReadCloser, int64, error) {
	target, err := h.endpoint(p)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("artifact: build download request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("artifact: download %s: %w", p, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, decodeHTTPError(resp)
	}
	return resp.Body, resp.ContentLength, nil
}

func (h *httpRepo) List(ctx context.Context, p string) ([]FileInfo, error) {
	rel, err := cleanRelPath(p)
	if err != nil {
		return nil, err
	}
	target := h.base + "/api/2.0/mlflow-artifacts/artifacts"
	if rel != "" {
		target += "?path=" + url.QueryEscape(rel)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("artifact: build list request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("artifact: list %s: %w", p, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeHTTPError(resp)
	}
	defer resp.Body.Close()

	var body model.ListArtifactsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("artifact: decode listing: %w", err)
	}
	out := make([]FileInfo, 0, len(body.Files))
	for _, f := range body.Files {
		out = append(out, FileInfo{Path: f.Path, IsDir: f.IsDir, Size: f.Size})
	}
	return out, nil
}

func (h *httpRepo) Delete(ctx context.Context, p string) error {
	target, err := h.endpoint(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return fmt.Errorf("artifact: build delete request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("artifact: delete %s: %w", p, err)
	}
	if resp.StatusCode != http.StatusOK {
		return decodeHTTPError(resp)
	}
	resp.Body.Close()
	return nil
}
