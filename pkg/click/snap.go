// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package click

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"

	"gopkg.in/yaml.v3"
)

// unsquashfsTool is the binary used to read files out of snap squashfs
// images. Overridden in tests.
var unsquashfsTool = "unsquashfs"

// squashfs images start with "hsqs" (little-endian superblock magic).
var squashfsMagic = []byte{'h', 's', 'q', 's'}

const snapManifestPath = "meta/snap.yaml"

// snapYAML mirrors the subset of meta/snap.yaml the registry cares
// about.
type snapYAML struct {
	Name          string   `yaml:"name"`
	Version       string   `yaml:"version"`
	Summary       string   `yaml:"summary"`
	Description   string   `yaml:"description"`
	Architectures []string `yaml:"architectures"`
	Icon          string   `yaml:"icon"`
}

func parseSnap(ctx context.Context, path string) (*Manifest, error) {
	if err := checkSquashfs(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	out, err := catSnapFile(ctx, path, snapManifestPath)
	if err != nil {
		return nil, fmt.Errorf("%w: extracting %s: %v", ErrUnreadable, snapManifestPath, err)
	}

	var raw snapYAML
	if err := yaml.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrUnreadable, snapManifestPath, err)
	}

	icon := raw.Icon
	if icon == "" {
		// Snaps conventionally ship their store icon here.
		icon = "meta/gui/icon.png"
	}
	return &Manifest{
		Name:          raw.Name,
		Version:       raw.Version,
		Architectures: raw.Architectures,
		Title:         raw.Summary,
		Description:   raw.Description,
		Icon:          icon,
	}, nil
}

func checkSquashfs(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	magic := make([]byte, 4)
	if _, err := f.Read(magic); err != nil || !bytes.Equal(magic, squashfsMagic) {
		return fmt.Errorf("not a squashfs image")
	}
	return nil
}

// catSnapFile streams a single file out of a squashfs image via
// unsquashfs. The tool prints the file contents on stdout.
func catSnapFile(ctx context.Context, image, member string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, unsquashfsTool, "-cat", image, member)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %v (%s)", unsquashfsTool, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

func extractSnapIcon(ctx context.Context, pkgPath, iconPath string) ([]byte, string, error) {
	if iconPath == "" {
		return nil, "", nil
	}
	data, err := catSnapFile(ctx, pkgPath, iconPath)
	if err != nil || len(data) == 0 {
		// No icon in the image; the form-supplied URL, if any, wins.
		return nil, "", nil
	}
	return data, path.Ext(iconPath), nil
}
