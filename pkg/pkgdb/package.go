// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pkgdb is the durable registry store for package records. It
// is backed by SQLite; the PRIMARY KEY on the package id is the
// canonical uniqueness constraint for creates.
package pkgdb

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrNotFound indicates no record exists for the requested id.
	ErrNotFound = errors.New("package not found")
	// ErrDuplicate indicates a create collided with an existing id.
	ErrDuplicate = errors.New("package id already exists")
	// ErrConflict indicates an update lost a race: the record changed
	// after the caller loaded it. Reload, re-merge and retry.
	ErrConflict = errors.New("package changed since read")
)

// Package is a registry record. The ID equals the manifest-declared
// package name and never changes once created.
type Package struct {
	ID string `json:"id"`

	// Descriptive fields supplied by the maintainer; merged, not
	// validated.
	Name        string   `json:"name"`
	Tagline     string   `json:"tagline,omitempty"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	License     string   `json:"license,omitempty"`
	Source      string   `json:"source,omitempty"`
	SupportURL  string   `json:"support_url,omitempty"`

	Version       string   `json:"version"`
	Revision      int      `json:"revision"`
	Architecture  string   `json:"architecture"`
	Architectures []string `json:"architectures"`
	Framework     string   `json:"framework,omitempty"`
	Types         []string `json:"types"`

	Author         string `json:"author,omitempty"`
	Maintainer     string `json:"maintainer"`
	MaintainerName string `json:"maintainer_name,omitempty"`

	Published bool `json:"published"`

	// Downloads maps a version-derived key to a counter. Counters
	// are created lazily per version and only ever incremented.
	Downloads map[string]int64 `json:"downloads"`

	DownloadSHA512 string `json:"download_sha512"`
	PackageURL     string `json:"package_url"`
	Icon           string `json:"icon,omitempty"`
	Filesize       int64  `json:"filesize"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VersionKey derives the downloads-counter key for a version string.
// Versions that parse as (possibly partial) semver map to
// "v<major>_<minor>_<patch>"; anything else is sanitized verbatim.
func VersionKey(version string) string {
	if v, err := semver.NewVersion(version); err == nil {
		return fmt.Sprintf("v%d_%d_%d", v.Major(), v.Minor(), v.Patch())
	}
	return "v" + strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			return r
		default:
			return '_'
		}
	}, version)
}

// TotalDownloads sums the per-version counters.
func (p *Package) TotalDownloads() int64 {
	var total int64
	for _, n := range p.Downloads {
		total += n
	}
	return total
}
