// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package checksum computes content digests of package files.
package checksum

import (
	_ "crypto/sha512" // registers SHA-512 with go-digest
	"fmt"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
)

// File returns the bare hex SHA-512 digest of the full contents of the
// file at path. The same bytes always produce the same digest.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Reader(f)
}

// Reader returns the bare hex SHA-512 digest of everything read from r.
func Reader(r io.Reader) (string, error) {
	d, err := digest.SHA512.FromReader(r)
	if err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	return d.Encoded(), nil
}
