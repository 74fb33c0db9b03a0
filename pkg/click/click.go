// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package click reads manifest metadata out of click and snap package
// containers. A click package is a debian-style ar archive whose
// control member carries a JSON manifest; a snap package is a squashfs
// image whose metadata lives in meta/snap.yaml.
//
// The parser extracts whatever fields are present and does not enforce
// that any of them are set; callers decide which fields are required.
package click

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// ErrUnreadable indicates the container could not be opened or parsed.
var ErrUnreadable = errors.New("package cannot be read")

// Manifest is the metadata declared by a package.
type Manifest struct {
	Name          string
	Version       string
	Architectures []string
	Title         string
	Description   string
	Framework     string
	Icon          string
	Hooks         map[string]Hook
}

// Hook describes a single entry point declared by a click manifest.
type Hook struct {
	Desktop string `json:"desktop"`
	Scope   string `json:"scope"`
}

// Architecture returns the primary architecture tag, or "" when the
// manifest declares none.
func (m *Manifest) Architecture() string {
	if len(m.Architectures) == 0 {
		return ""
	}
	return m.Architectures[0]
}

// Types derives the package kinds from the declared hooks.
func (m *Manifest) Types() []string {
	var types []string
	for _, h := range m.Hooks {
		if h.Desktop != "" {
			types = append(types, "app")
		}
		if h.Scope != "" {
			types = append(types, "scope")
		}
	}
	if len(types) == 0 {
		types = []string{"app"}
	}
	// Hook map order is random; dedup and sort for a stable result.
	seen := make(map[string]bool, len(types))
	out := types[:0]
	for _, t := range types {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// ParseFile extracts the manifest from the package at path, dispatching
// on the file extension.
func ParseFile(ctx context.Context, path string) (*Manifest, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".click":
		return parseClick(path)
	case ".snap":
		return parseSnap(ctx, path)
	default:
		return nil, fmt.Errorf("%w: unrecognized extension %q", ErrUnreadable, filepath.Ext(path))
	}
}

// rawManifest mirrors the click manifest JSON. The architecture field
// is a string or a list of strings depending on the packaging tool.
type rawManifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Architecture archList        `json:"architecture"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Framework    string          `json:"framework"`
	Icon         string          `json:"icon"`
	Hooks        map[string]Hook `json:"hooks"`
}

type archList []string

func (a *archList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one != "" {
			*a = archList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*a = archList(many)
	return nil
}

func parseClick(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	control, name, err := findArMember(f, "control.tar")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	manifest, err := manifestFromControl(control, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	var raw rawManifest
	if err := json.Unmarshal(manifest, &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding manifest: %v", ErrUnreadable, err)
	}
	return &Manifest{
		Name:          raw.Name,
		Version:       raw.Version,
		Architectures: raw.Architecture,
		Title:         raw.Title,
		Description:   raw.Description,
		Framework:     raw.Framework,
		Icon:          raw.Icon,
		Hooks:         raw.Hooks,
	}, nil
}

const arMagic = "!<arch>\n"

// findArMember scans a debian-style ar archive for the first member
// whose name starts with prefix and returns its contents and full name.
func findArMember(r io.Reader, prefix string) ([]byte, string, error) {
	magic := make([]byte, len(arMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != arMagic {
		return nil, "", errors.New("not an ar archive")
	}

	for {
		header := make([]byte, 60)
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF {
				return nil, "", fmt.Errorf("no %s member found", prefix)
			}
			return nil, "", errors.New("truncated ar header")
		}
		// Name is the first 16 bytes, space padded; some tools add a
		// trailing slash. Size is decimal in bytes 48-58.
		name := strings.TrimRight(strings.TrimSpace(string(header[0:16])), "/")
		size, err := strconv.ParseInt(strings.TrimSpace(string(header[48:58])), 10, 64)
		if err != nil {
			return nil, "", errors.New("malformed ar header")
		}

		if strings.HasPrefix(name, prefix) {
			data := make([]byte, size)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, "", fmt.Errorf("reading %s: truncated archive", name)
			}
			return data, name, nil
		}

		// Member data is padded to a 2-byte boundary.
		skip := size + size%2
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			return nil, "", fmt.Errorf("no %s member found", prefix)
		}
	}
}

// manifestFromControl decompresses a control.tar member and returns the
// manifest file from inside it.
func manifestFromControl(data []byte, name string) ([]byte, error) {
	tr, err := tarReader(data, name)
	if err != nil {
		return nil, err
	}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, errors.New("control archive has no manifest")
		}
		if err != nil {
			return nil, fmt.Errorf("reading control archive: %v", err)
		}
		if path.Clean(strings.TrimPrefix(hdr.Name, "./")) == "manifest" {
			return io.ReadAll(tr)
		}
	}
}

func tarReader(data []byte, name string) (*tar.Reader, error) {
	br := bytes.NewReader(data)
	var r io.Reader
	switch {
	case strings.HasSuffix(name, ".tar.gz"):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %v", err)
		}
		r = gz
	case strings.HasSuffix(name, ".tar.zst"):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd: %v", err)
		}
		r = zr.IOReadCloser()
	case strings.HasSuffix(name, ".tar.xz"):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("xz: %v", err)
		}
		r = xr
	case strings.HasSuffix(name, ".tar"):
		r = br
	default:
		return nil, fmt.Errorf("unsupported control compression %q", name)
	}
	return tar.NewReader(r), nil
}

// ExtractIcon pulls the icon named by the manifest out of the package
// container. It returns (nil, "", nil) when the package carries no
// usable icon; a missing icon is not an error.
func ExtractIcon(ctx context.Context, pkgPath, iconPath string) (data []byte, ext string, err error) {
	switch strings.ToLower(filepath.Ext(pkgPath)) {
	case ".click":
		return extractClickIcon(pkgPath, iconPath)
	case ".snap":
		return extractSnapIcon(ctx, pkgPath, iconPath)
	default:
		return nil, "", nil
	}
}

func extractClickIcon(pkgPath, iconPath string) ([]byte, string, error) {
	if iconPath == "" {
		return nil, "", nil
	}
	f, err := os.Open(pkgPath)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", pkgPath, err)
	}
	defer f.Close()

	payload, name, err := findArMember(f, "data.tar")
	if err != nil {
		return nil, "", nil
	}
	tr, err := tarReader(payload, name)
	if err != nil {
		return nil, "", nil
	}

	want := path.Clean(strings.TrimPrefix(iconPath, "./"))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, "", nil
		}
		if err != nil {
			return nil, "", nil
		}
		if path.Clean(strings.TrimPrefix(hdr.Name, "./")) != want {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, "", fmt.Errorf("reading icon %s: %w", want, err)
		}
		return data, path.Ext(want), nil
	}
}
