package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// downloadChunkSize is the per-worker range size for parallel downloads.
const downloadChunkSize = 32 << 20

// RangeReader is implemented by repositories that can serve byte ranges,
// which enables parallel chunked downloads.
type RangeReader interface {
	ReadRange(ctx context.Context, path string, off, length int64) (io.ReadCloser, error)
}

// downloadWorkers bounds parallelism by CPU count, capped so a large
// machine does not open dozens of connections per file.
func downloadWorkers() int {
	n := runtime.NumCPU()
	if n > 16 {
		n = 16
	}
	return n
}

// DownloadFile fetches one artifact into dst. Large objects from
// range-capable repositories download in parallel chunks to a temp file
// that is renamed into place, so a failed download never leaves a partial
// dst behind.
func DownloadFile(ctx context.Context, repo Repository, path, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("artifact: create download dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return fmt.Errorf("artifact: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	rr, ranged := repo.(RangeReader)
	var size int64
	if ranged {
		// Open once to learn the size, then decide.
		rc, n, err := repo.Open(ctx, path)
		if err != nil {
			tmp.Close()
			return err
		}
		size = n
		if size <= downloadChunkSize {
			_, err = io.Copy(tmp, rc)
			rc.Close()
			if err != nil {
				tmp.Close()
				return fmt.Errorf("artifact: download %s: %w", path, err)
			}
			return publish(tmp, dst)
		}
		rc.Close()
	} else {
		rc, _, err := repo.Open(ctx, path)
		if err != nil {
			tmp.Close()
			return err
		}
		_, err = io.Copy(tmp, rc)
		rc.Close()
		if err != nil {
			tmp.Close()
			return fmt.Errorf("artifact: download %s: %w", path, err)
		}
		return publish(tmp, dst)
	}

	if err := tmp.Truncate(size); err != nil {
		tmp.Close()
		return fmt.Errorf("artifact: preallocate: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(downloadWorkers())
	for off := int64(0); off < size; off += downloadChunkSize {
		length := min(downloadChunkSize, size-off)
		g.Go(func() error {
			return withBackoff(gctx, func() error {
				rc, err := rr.ReadRange(gctx, path, off, length)
				if err != nil {
					return err
				}
				defer rc.Close()
				buf := make([]byte, 256<<10)
				written := int64(0)
				for written < length {
					n, err := rc.Read(buf)
					if n > 0 {
						if _, werr := tmp.WriteAt(buf[:n], off+written); werr != nil {
							return werr
						}
						written += int64(n)
					}
					if err == io.EOF {
						break
					}
					if err != nil {
						return err
					}
				}
				if written != length {
					return fmt.Errorf("artifact: short range read at %d: %d of %d bytes", off, written, length)
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		tmp.Close()
		return fmt.Errorf("artifact: download %s: %w", path, err)
	}
	return publish(tmp, dst)
}

func publish(tmp *os.File, dst string) error {
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("artifact: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("artifact: publish download: %w", err)
	}
	return nil
}

// registeredModelMetaFile sits beside artifacts downloaded through a
// models:/ URI and records which registered model version they came from.
const registeredModelMetaFile = "registered_model_meta"

// ModelIdentity is implemented by repositories addressed by registered
// model, so downloads can record the (name, version) they resolved to.
type ModelIdentity interface {
	ModelNameVersion(ctx context.Context) (string, int64, error)
}

func writeModelMeta(ctx context.Context, repo Repository, dstRoot string) error {
	mi, ok := repo.(ModelIdentity)
	if !ok {
		return nil
	}
	name, version, err := mi.ModelNameVersion(ctx)
	if err != nil {
		return err
	}
	raw, err := yaml.Marshal(map[string]string{
		"model_name":    name,
		"model_version": strconv.FormatInt(version, 10),
	})
	if err != nil {
		return fmt.Errorf("artifact: encode model meta: %w", err)
	}
	if err := os.MkdirAll(dstRoot, 0o755); err != nil {
		return fmt.Errorf("artifact: create download dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dstRoot, registeredModelMetaFile), raw, 0o644); err != nil {
		return fmt.Errorf("artifact: write model meta: %w", err)
	}
	return nil
}

// DownloadTree mirrors a whole artifact subtree under dstRoot, walking
// directories breadth-first and downloading files with DownloadFile.
// Model-addressed repositories get a metadata sibling in dstRoot naming
// the registered model version the tree came from.
func DownloadTree(ctx context.Context, repo Repository, root, dstRoot string) error {
	queue := []string{root}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]
		infos, err := repo.List(ctx, dir)
		if err != nil {
			return err
		}
		for _, fi := range infos {
			if fi.IsDir {
				queue = append(queue, fi.Path)
				continue
			}
			rel := strings.TrimPrefix(strings.TrimPrefix(fi.Path, strings.Trim(root, "/")), "/")
			dst := filepath.Join(dstRoot, filepath.FromSlash(rel))
			if err := DownloadFile(ctx, repo, fi.Path, dst); err != nil {
				return err
			}
		}
	}
	return writeModelMeta(ctx, repo, dstRoot)
}
