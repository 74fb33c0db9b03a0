// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FSStore stores blobs under a root directory. It backs single-node
// deployments where the registry serves its own artifacts, and tests.
type FSStore struct {
	root       string
	publicBase string
}

var _ Store = (*FSStore)(nil)

// NewFSStore creates a filesystem blob store rooted at root. Stored
// blobs report URLs under publicBase.
func NewFSStore(root, publicBase string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root, publicBase: publicBase}, nil
}

func (s *FSStore) localPath(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob path %q", path)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FSStore) Put(ctx context.Context, path string, r io.Reader) (string, error) {
	dst, err := s.localPath(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	// Write to a temporary file and rename into place so a partial
	// write never replaces an existing blob.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write blob %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close blob %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("finalize blob %s: %w", path, err)
	}
	return joinURL(s.publicBase, path), nil
}

func (s *FSStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	src, err := s.localPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return f, nil
}

func (s *FSStore) Delete(ctx context.Context, path string) error {
	dst, err := s.localPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
