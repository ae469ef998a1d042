// Package filestore implements the metadata store on a plain directory
// tree: one directory per experiment, one per run, one file per param/tag,
// and an append-only log per metric. Concurrent writers coordinate with
// advisory file locks scoped to the run (or model) directory, and every
// metadata write is published by an atomic rename.
//
// Layout:
//
//	<root>/
//	  <experiment_id>/
//	    meta.yaml
//	    tags/<key>
//	    <run_id>/
//	      meta.yaml
//	      params/<key>
//	      metrics/<key>      # "<value> <timestamp> <step>\n" per point
//	      tags/<key>
//	      inputs.yaml
//	      artifacts/
//	  models/
//	    <name>/
//	      meta.yaml
//	      tags/<key>
//	      version-<n>/
//	        meta.yaml
//	        tags/<key>
//	  .trash/                # soft-deleted experiments
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

const (
	metaFile   = "meta.yaml"
	paramsDir  = "params"
	metricsDir = "metrics"
	tagsDir    = "tags"
	inputsFile = "inputs.yaml"
	modelsDir  = "models"
	trashDir   = ".trash"
	lockFile   = ".lock"
)

// Store is the file-tree metadata backend.
type Store struct {
	root string
}

// New opens (creating if needed) a file store rooted at root.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("filestore: resolve root: %w", err)
	}
	for _, dir := range []string{abs, filepath.Join(abs, modelsDir), filepath.Join(abs, trashDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("filestore: create %s: %w", dir, err)
		}
	}
	return &Store{root: abs}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Ping verifies the root is still a readable directory.
func (s *Store) Ping(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("filestore: stat root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("filestore: root %s is not a directory", s.root)
	}
	return nil
}

// Close is a no-op; the store holds no long-lived handles.
func (s *Store) Close(context.Context) error {
	return nil
}

func (s *Store) experimentPath(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store) trashedExperimentPath(id string) string {
	return filepath.Join(s.root, trashDir, id)
}

func (s *Store) modelPath(name string) string {
	return filepath.Join(s.root, modelsDir, name)
}

// withLock runs fn while holding the exclusive advisory lock for dir.
func withLock(dir string, fn func() error) error {
	fl := flock.New(filepath.Join(dir, lockFile))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("filestore: lock %s: %w", dir, err)
	}
	defer fl.Unlock() //nolint:errcheck
	return fn()
}

// withRLock runs fn while holding the shared advisory lock for dir, so
// readers never observe a half-applied batch.
func withRLock(dir string, fn func() error) error {
	fl := flock.New(filepath.Join(dir, lockFile))
	if err := fl.RLock(); err != nil {
		return fmt.Errorf("filestore: rlock %s: %w", dir, err)
	}
	defer fl.Unlock() //nolint:errcheck
	return fn()
}

// writeFileAtomic publishes content at path via a temp file and rename.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("filestore: create temp in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("filestore: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filestore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filestore: publish %s: %w", path, err)
	}
	return nil
}

// writeYAMLAtomic marshals v and publishes it at path.
func writeYAMLAtomic(path string, v any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("filestore: marshal %s: %w", path, err)
	}
	return writeFileAtomic(path, b)
}

// readYAML loads path into v. Unknown keys are ignored for forward
// compatibility.
func readYAML(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("filestore: parse %s: %w", path, err)
	}
	return nil
}

// writeKV stores one key under dir. Slashes in keys become subdirectories,
// which keeps hierarchical keys like "layers/conv1/lr" addressable.
func writeKV(dir, key, value string) error {
	path := filepath.Join(dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("filestore: create %s: %w", filepath.Dir(path), err)
	}
	return writeFileAtomic(path, []byte(value))
}

// readKVDir loads a tags/ or params/ directory into key/value pairs,
// descending into subdirectories for slash-bearing keys.
func readKVDir(dir string) (map[string]string, error) {
	out := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipAll
			}
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", dir, err)
	}
	return out, nil
}
