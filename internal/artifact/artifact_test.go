package artifact

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
)

func TestLocalRepoRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	repo, err := newLocalRepo(root)
	require.NoError(t, err)

	content := "weights go here"
	require.NoError(t, repo.Upload(ctx, "model/weights.bin", strings.NewReader(content), int64(len(content))))

	rc, size, err := repo.Open(ctx, "model/weights.bin")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(len(content)), size)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, string(b))

	infos, err := repo.List(ctx, "model")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "model/weights.bin", infos[0].Path)
	assert.False(t, infos[0].IsDir)
	assert.Equal(t, int64(len(content)), infos[0].Size)

	infos, err = repo.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "model", infos[0].Path)
	assert.True(t, infos[0].IsDir)
}

func TestLocalRepoRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	repo, err := newLocalRepo(t.TempDir())
	require.NoError(t, err)

	err = repo.Upload(ctx, "../escape.txt", strings.NewReader("x"), 1)
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))

	_, _, err = repo.Open(ctx, "a/../../b")
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))
}

func TestLocalRepoOpenMissing(t *testing.T) {
	repo, err := newLocalRepo(t.TempDir())
	require.NoError(t, err)
	_, _, err = repo.Open(context.Background(), "nope.txt")
	assert.Equal(t, model.ErrCodeResourceDoesNotExist, model.CodeOf(err))
}

func TestDownloadTree(t *testing.T) {
	ctx := context.Background()
	repo, err := newLocalRepo(t.TempDir())
	require.NoError(t, err)

	files := map[string]string{
		"MLmodel":            "meta",
		"data/model.pkl":     "pickle",
		"data/sub/extra.txt": "extra",
	}
	for p, c := range files {
		require.NoError(t, repo.Upload(ctx, p, strings.NewReader(c), int64(len(c))))
	}

	dst := t.TempDir()
	require.NoError(t, DownloadTree(ctx, repo, "", dst))
	for p, c := range files {
		b, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(p)))
		require.NoError(t, err)
		assert.Equal(t, c, string(b))
	}
}

func TestPresignerRoundTrip(t *testing.T) {
	p := NewPresigner([]byte("secret"), time.Minute)

	token, expiresAt, err := p.Sign("run1/artifacts/model.pkl", "GET")
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))
	require.NoError(t, p.Verify(token, "run1/artifacts/model.pkl", "GET"))

	// Wrong path or method is rejected.
	err = p.Verify(token, "run1/artifacts/other.pkl", "GET")
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))
	err = p.Verify(token, "run1/artifacts/model.pkl", "PUT")
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))

	// A different key never verifies.
	other := NewPresigner([]byte("different"), time.Minute)
	err = other.Verify(token, "run1/artifacts/model.pkl", "GET")
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))
}

func TestContentTypeInference(t *testing.T) {
	ctype, enc := contentType("model.tar.gz")
	assert.Equal(t, "application/x-tar", ctype)
	assert.Equal(t, "gzip", enc)

	ctype, enc = contentType("notes.txt")
	assert.True(t, strings.HasPrefix(ctype, "text/plain"))
	assert.Empty(t, enc)

	ctype, _ = contentType("weights.bin")
	assert.Equal(t, "application/octet-stream", ctype)
}

func TestResolverSchemes(t *testing.T) {
	rv := NewResolver(nil, nil)
	ctx := context.Background()

	repo, err := rv.For(ctx, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &localRepo{}, repo)

	_, err = rv.For(ctx, "ftp://host/bucket")
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))

	// runs:/ without a store wired is an explicit error.
	_, err = rv.For(ctx, "runs:/abc123/model")
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))
}

// fakeVersions resolves everything to a fixed local source directory;
// stage references resolve to latestVersion.
type fakeVersions struct {
	source        string
	latestVersion int64
}

func (f *fakeVersions) VersionSource(ctx context.Context, name string, version int64) (string, error) {
	return f.source, nil
}

func (f *fakeVersions) StageVersion(ctx context.Context, name, stage string) (int64, error) {
	if _, err := model.CanonicalStage(stage); err != nil {
		return 0, err
	}
	return f.latestVersion, nil
}

func TestModelsRepoResolvesStage(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "MLmodel"), []byte("meta"), 0o644))

	rv := NewResolver(nil, &fakeVersions{source: src, latestVersion: 3})

	repo, err := rv.For(ctx, "models:/churn/Production")
	require.NoError(t, err)
	rc, _, err := repo.Open(ctx, "MLmodel")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "meta", string(b))

	// A reference that is neither a version nor a stage fails on first use.
	repo, err = rv.For(ctx, "models:/churn/not-a-stage")
	require.NoError(t, err)
	_, _, err = repo.Open(ctx, "MLmodel")
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))
}

func TestModelsDownloadWritesModelMeta(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "MLmodel"), []byte("meta"), 0o644))

	rv := NewResolver(nil, &fakeVersions{source: src, latestVersion: 7})
	repo, err := rv.For(ctx, "models:/churn/Staging")
	require.NoError(t, err)

	dst := t.TempDir()
	require.NoError(t, DownloadTree(ctx, repo, "", dst))
	raw, err := os.ReadFile(filepath.Join(dst, "registered_model_meta"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "model_name: churn")
	assert.Contains(t, string(raw), `model_version: "7"`)
}

func TestParseS3UploadExtra(t *testing.T) {
	extra, err := parseS3UploadExtra(`{"ServerSideEncryption":"aws:kms","SSEKMSKeyId":"key-1","Tagging":"team=ml&env=prod","CacheControl":"no-store"}`)
	require.NoError(t, err)
	require.NotNil(t, extra.sse)
	assert.Equal(t, map[string]string{"team": "ml", "env": "prod"}, extra.tags)
	assert.Equal(t, map[string]string{"CacheControl": "no-store"}, extra.metadata)

	extra, err = parseS3UploadExtra(`{"ServerSideEncryption":"AES256"}`)
	require.NoError(t, err)
	assert.NotNil(t, extra.sse)

	_, err = parseS3UploadExtra(`{"ServerSideEncryption":"rot13"}`)
	assert.Error(t, err)

	_, err = parseS3UploadExtra(`not json`)
	assert.Error(t, err)
}

// fakeS3 records removals and serves a fixed listing per prefix.
type fakeS3 struct {
	objects []string
	removed []string
}

func (f *fakeS3) RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error {
	f.removed = append(f.removed, key)
	return nil
}

func (f *fakeS3) ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo)
	go func() {
		defer close(ch)
		for _, key := range f.objects {
			if strings.HasPrefix(key, opts.Prefix) {
				ch <- minio.ObjectInfo{Key: key}
			}
		}
	}()
	return ch
}

func TestS3DeleteTreeRemovesSubtree(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: []string{
		"runs/1/artifacts/model/MLmodel",
		"runs/1/artifacts/model/data/weights.bin",
		"runs/1/artifacts/other.txt",
	}}

	require.NoError(t, s3DeleteTree(ctx, fake, "bucket", "runs/1/artifacts/model"))
	assert.Equal(t, []string{
		"runs/1/artifacts/model",
		"runs/1/artifacts/model/MLmodel",
		"runs/1/artifacts/model/data/weights.bin",
	}, fake.removed)
}
