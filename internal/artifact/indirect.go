package artifact

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/ashita-ai/kiroku/internal/model"
)

// resolvedRepo wraps a URI that resolves through the metadata store:
// runs:/<run_id>/<path> and models:/<name>/<version>. The concrete
// repository is looked up once and cached; calls delegate with the
// embedded path prefix applied.
type resolvedRepo struct {
	uri    string
	prefix string

	mu       sync.Mutex
	delegate Repository
	resolve  func(ctx context.Context) (Repository, error)
}

func (r *resolvedRepo) URI() string { return r.uri }

func (r *resolvedRepo) repo(ctx context.Context) (Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.delegate == nil {
		d, err := r.resolve(ctx)
		if err != nil {
			return nil, err
		}
		r.delegate = d
	}
	return r.delegate, nil
}

func (r *resolvedRepo) Upload(ctx context.Context, p string, rd io.Reader, size int64) error {
	repo, err := r.repo(ctx)
	if err != nil {
		return err
	}
	return repo.Upload(ctx, joinPath(r.prefix, p), rd, size)
}

func (r *resolvedRepo) Open(ctx context.Context, p string) (io.ReadCloser, int64, error) {
	repo, err := r.repo(ctx)
	if err != nil {
		return nil, 0, err
	}
	return repo.Open(ctx, joinPath(r.prefix, p))
}

func (r *resolvedRepo) List(ctx context.Context, p string) ([]FileInfo, error) {
	repo, err := r.repo(ctx)
	if err != nil {
		return nil, err
	}
	infos, err := repo.List(ctx, joinPath(r.prefix, p))
	if err != nil {
		return nil, err
	}
	// Listings come back relative to the delegate root; strip the prefix
	// so callers see paths relative to this repository.
	if r.prefix != "" {
		for i := range infos {
			infos[i].Path = strings.TrimPrefix(
				strings.TrimPrefix(infos[i].Path, r.prefix), "/")
		}
	}
	return infos, nil
}

func (r *resolvedRepo) Delete(ctx context.Context, p string) error {
	repo, err := r.repo(ctx)
	if err != nil {
		return err
	}
	return repo.Delete(ctx, joinPath(r.prefix, p))
}

func newRunsRepo(ctx context.Context, rv *Resolver, u *url.URL) (Repository, error) {
	if rv.runs == nil {
		return nil, model.Errorf(model.ErrCodeInvalidParameterValue,
			"runs:/ URIs require a metadata store")
	}
	// runs:/<run_id>/<relative path>; the run ID lands in Host or as the
	// first path segment depending on how the URI was written.
	runID := u.Host
	rest := strings.Trim(u.Path, "/")
	if runID == "" {
		parts := strings.SplitN(rest, "/", 2)
		runID = parts[0]
		rest = ""
		if len(parts) == 2 {
			rest = parts[1]
		}
	}
	if runID == "" {
		return nil, model.Errorf(model.ErrCodeInvalidParameterValue,
			"runs URI %q has no run ID", u.String())
	}
	return &resolvedRepo{
		uri:    u.String(),
		prefix: rest,
		resolve: func(ctx context.Context) (Repository, error) {
			root, err := rv.runs.ArtifactURI(ctx, runID)
			if err != nil {
				return nil, err
			}
			return rv.For(ctx, root)
		},
	}, nil
}

// modelsRepo is a resolvedRepo addressed by registered model. The version
// behind a stage reference is pinned at first resolution so downloads can
// record exactly which version they fetched.
type modelsRepo struct {
	resolvedRepo
	name    string
	version int64
}

// ModelNameVersion reports the registered model identity behind this
// repository, resolving a stage reference if it has not been yet.
func (m *modelsRepo) ModelNameVersion(ctx context.Context) (string, int64, error) {
	if _, err := m.repo(ctx); err != nil {
		return "", 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name, m.version, nil
}

func newModelsRepo(ctx context.Context, rv *Resolver, u *url.URL) (Repository, error) {
	if rv.versions == nil {
		return nil, model.Errorf(model.ErrCodeInvalidParameterValue,
			"models:/ URIs require the model registry")
	}
	// models:/<name>/<version-or-stage>
	raw := u.Host + u.Path
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) != 2 {
		return nil, model.Errorf(model.ErrCodeInvalidParameterValue,
			"models URI %q must be models:/<name>/<version-or-stage>", u.String())
	}
	name, ref := parts[0], parts[1]
	version, err := strconv.ParseInt(ref, 10, 64)
	numeric := err == nil
	m := &modelsRepo{name: name}
	m.uri = u.String()
	m.resolve = func(ctx context.Context) (Repository, error) {
		v := version
		if !numeric {
			resolved, err := rv.versions.StageVersion(ctx, name, ref)
			if err != nil {
				return nil, err
			}
			v = resolved
		}
		source, err := rv.versions.VersionSource(ctx, name, v)
		if err != nil {
			return nil, err
		}
		m.version = v
		return rv.For(ctx, source)
	}
	return m, nil
}
