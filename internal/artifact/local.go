package artifact

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashita-ai/kiroku/internal/model"
)

// localRepo serves a directory on the local filesystem.
type localRepo struct {
	uri  string
	root string
}

func newLocalRepo(uri string) (*localRepo, error) {
	root := uri
	if strings.HasPrefix(uri, "file://") {
		u, err := url.Parse(uri)
		if err != nil {
			return nil, model.Errorf(model.ErrCodeInvalidParameterValue,
				"invalid file URI %q", uri)
		}
		root = u.Path
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("artifact: resolve local root: %w", err)
	}
	return &localRepo{uri: uri, root: abs}, nil
}

func (l *localRepo) URI() string { return l.uri }

func (l *localRepo) resolve(p string) (string, error) {
	rel, err := cleanRelPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(rel)), nil
}

func (l *localRepo) Upload(ctx context.Context, path string, r io.Reader, size int64) error {
	dst, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("artifact: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("artifact: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("artifact: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("artifact: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("artifact: publish: %w", err)
	}
	return nil
}

func (l *localRepo) Open(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	src, err := l.resolve(path)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, model.Errorf(model.ErrCodeResourceDoesNotExist,
				"artifact %q not found", path)
		}
		return nil, 0, fmt.Errorf("artifact: open: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("artifact: stat: %w", err)
	}
	return f, st.Size(), nil
}

func (l *localRepo) List(ctx context.Context, path string) ([]FileInfo, error) {
	dir, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: list: %w", err)
	}
	rel, _ := cleanRelPath(path)
	var out []FileInfo
	for _, e := range entries {
		fi := FileInfo{Path: joinPath(rel, e.Name()), IsDir: e.IsDir()}
		if !e.IsDir() {
			if info, err := e.Info(); err == nil {
				fi.Size = info.Size()
			}
		}
		out = append(out, fi)
	}
	return out, nil
}

func (l *localRepo) Delete(ctx context.Context, path string) error {
	target, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("artifact: delete: %w", err)
	}
	return nil
}
