// Package artifact stores and retrieves run and model artifacts. A URI's
// scheme selects the backing repository: local filesystem, S3-compatible
// object storage, another tracking server over HTTP, or the indirect runs:/
// and models:/ forms that resolve through the metadata store first.
package artifact

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/ashita-ai/kiroku/internal/model"
)

// FileInfo describes one artifact listing entry. Path is relative to the
// repository root and slash-separated.
type FileInfo struct {
	Path  string
	IsDir bool
	Size  int64
}

// Repository reads and writes the artifact tree rooted at one URI.
type Repository interface {
	// URI returns the root this repository serves.
	URI() string
	// Upload writes one artifact at the slash-separated relative path.
	// size may be -1 when unknown.
	Upload(ctx context.Context, path string, r io.Reader, size int64) error
	// Open returns the artifact's content and size.
	Open(ctx context.Context, path string) (io.ReadCloser, int64, error)
	// List returns the direct children of path.
	List(ctx context.Context, path string) ([]FileInfo, error)
	// Delete removes the artifact or subtree at path.
	Delete(ctx context.Context, path string) error
}

// RunResolver maps a run ID to its artifact root URI.
type RunResolver interface {
	ArtifactURI(ctx context.Context, runID string) (string, error)
}

// VersionResolver maps a model version to its source URI. Stage-addressed
// models:/ URIs resolve through StageVersion first.
type VersionResolver interface {
	VersionSource(ctx context.Context, name string, version int64) (string, error)
	StageVersion(ctx context.Context, name, stage string) (int64, error)
}

// Resolver builds repositories from URIs. Repositories for object storage
// are cached; see s3.go.
type Resolver struct {
	runs     RunResolver
	versions VersionResolver
	s3cache  *s3ClientCache
}

// NewResolver wires a resolver. runs and versions may be nil when the
// deployment never uses runs:/ or models:/ URIs.
func NewResolver(runs RunResolver, versions VersionResolver) *Resolver {
	return &Resolver{runs: runs, versions: versions, s3cache: newS3ClientCache()}
}

// For returns a repository serving uri.
func (rv *Resolver) For(ctx context.Context, uri string) (Repository, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, model.Errorf(model.ErrCodeInvalidParameterValue,
			"invalid artifact URI %q", uri)
	}
	switch u.Scheme {
	case "", "file":
		return newLocalRepo(uri)
	case "s3", "gs":
		return newS3Repo(rv.s3cache, u)
	case "http", "https":
		return newHTTPRepo(uri)
	case "runs":
		return newRunsRepo(ctx, rv, u)
	case "models":
		return newModelsRepo(ctx, rv, u)
	default:
		return nil, model.Errorf(model.ErrCodeInvalidParameterValue,
			"unsupported artifact URI scheme %q", u.Scheme)
	}
}

// joinPath joins slash-separated segments, dropping empties.
func joinPath(parts ...string) string {
	var out []string
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// cleanRelPath rejects traversal outside the repository root.
func cleanRelPath(p string) (string, error) {
	p = strings.Trim(p, "/")
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", model.Errorf(model.ErrCodeInvalidParameterValue,
				"artifact path %q escapes the repository root", p)
		}
	}
	return p, nil
}
