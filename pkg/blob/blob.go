// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blob is the contract with the remote artifact store: durable
// storage for package binaries and icons, addressed by path and served
// back by URL.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound indicates no blob exists at the requested path.
var ErrNotFound = errors.New("blob not found")

// Store is durable blob storage. Put returns the public URL the stored
// blob is served from.
type Store interface {
	// Put stores the blob read from r at path, replacing any
	// existing blob there, and returns its public URL.
	Put(ctx context.Context, path string, r io.Reader) (url string, err error)
	// Get retrieves the blob at path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	// Delete removes the blob at path. Deleting a missing blob is
	// not an error.
	Delete(ctx context.Context, path string) error
}

// PackagePath returns the store path for a package binary.
func PackagePath(id, version, arch, ext string) string {
	return fmt.Sprintf("packages/%s/%s_%s_%s%s", id, id, version, arch, ext)
}

// IconPath returns the store path for a package icon.
func IconPath(id, ext string) string {
	if ext == "" {
		ext = ".png"
	}
	return "icons/" + id + ext
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}
