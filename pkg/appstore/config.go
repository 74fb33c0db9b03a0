// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package appstore

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the server configuration, normally loaded from a TOML
// file with flag overrides applied in main.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `toml:"listen"`

	// WorkerID identifies this process in the health endpoint. Read
	// once at start; never mutated.
	WorkerID string `toml:"worker_id"`

	// DataDir holds temporary uploads and the icon cache.
	DataDir string `toml:"data_dir"`

	// DatabasePath is the registry SQLite file. Defaults to
	// <DataDir>/registry.db.
	DatabasePath string `toml:"database_path"`

	// PrincipalsFile is the TOML file of API principals.
	PrincipalsFile string `toml:"principals_file"`

	// ReviewTool is the click-review binary. Defaults to
	// "click-review" on $PATH.
	ReviewTool string `toml:"review_tool"`

	// MaxUploadMB bounds the multipart form size held in memory plus
	// temp files. Defaults to 512.
	MaxUploadMB int64 `toml:"max_upload_mb"`

	Blob BlobConfig `toml:"blob"`
}

// BlobConfig selects and configures the artifact store. With an
// Endpoint set the server uses the remote HTTP blob service; otherwise
// it stores blobs under Root on local disk.
type BlobConfig struct {
	Endpoint   string `toml:"endpoint"`
	PublicBase string `toml:"public_base"`
	Token      string `toml:"token"`
	Root       string `toml:"root"`
}

// LoadConfig reads a TOML config file and applies defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = c.DataDir + "/registry.db"
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = 512
	}
	if c.WorkerID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "appstore"
		}
		c.WorkerID = host
	}
}
