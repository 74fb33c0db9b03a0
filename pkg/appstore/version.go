// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package appstore

import (
	"runtime/debug"
	"strings"
)

// buildVersion is injected at build time via -ldflags.
var buildVersion string

// Version describes the running build: the injected release version
// when set, otherwise whatever the build info carries.
func Version() string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return v
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	settings := map[string]string{}
	for _, s := range bi.Settings {
		settings[s.Key] = s.Value
	}
	commit := settings["vcs.revision"]
	if commit == "" {
		if mv := bi.Main.Version; mv != "" && mv != "(devel)" {
			return mv
		}
		return "dev"
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	var b strings.Builder
	b.WriteString(commit)
	if settings["vcs.modified"] == "true" {
		b.WriteString("-dirty")
	}
	if t := settings["vcs.time"]; t != "" {
		b.WriteString(" (")
		b.WriteString(t)
		b.WriteString(")")
	}
	return b.String()
}
