// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package clicktest builds small click package files for tests.
package clicktest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Manifest is a click manifest in its JSON wire form.
type Manifest struct {
	Name         string          `json:"name,omitempty"`
	Version      string          `json:"version,omitempty"`
	Architecture any             `json:"architecture,omitempty"`
	Title        string          `json:"title,omitempty"`
	Description  string          `json:"description,omitempty"`
	Framework    string          `json:"framework,omitempty"`
	Icon         string          `json:"icon,omitempty"`
	Hooks        map[string]Hook `json:"hooks,omitempty"`
}

// Hook mirrors a click manifest hook entry.
type Hook struct {
	Desktop string `json:"desktop,omitempty"`
	Scope   string `json:"scope,omitempty"`
}

// Build writes a click package containing manifestJSON as its control
// manifest and files as the data payload, and returns its path.
func Build(t *testing.T, dir, name string, manifestJSON []byte, files map[string][]byte) string {
	t.Helper()

	control := tarGz(t, map[string][]byte{"manifest": manifestJSON})
	data := tarGz(t, files)

	var buf bytes.Buffer
	buf.WriteString("!<arch>\n")
	arMember(&buf, "debian-binary", []byte("2.0\n"))
	arMember(&buf, "control.tar.gz", control)
	arMember(&buf, "data.tar.gz", data)

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("writing click fixture: %v", err)
	}
	return path
}

func tarGz(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{
			Name:    "./" + name,
			Mode:    0644,
			Size:    int64(len(content)),
			ModTime: time.Unix(0, 0),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write(content); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func arMember(buf *bytes.Buffer, name string, data []byte) {
	fmt.Fprintf(buf, "%-16s%-12s%-6s%-6s%-8s%-10d`\n", name, "0", "0", "0", "100644", len(data))
	buf.Write(data)
	if len(data)%2 == 1 {
		buf.WriteByte('\n')
	}
}
