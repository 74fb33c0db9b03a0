// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pkgdb

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPackage(id string) *Package {
	return &Package{
		ID:             id,
		Name:           "Calculator",
		Version:        "1.0.3",
		Architecture:   "armhf",
		Architectures:  []string{"armhf"},
		Framework:      "ubuntu-sdk-15.04",
		Types:          []string{"app"},
		Maintainer:     "alice",
		Published:      true,
		DownloadSHA512: "abc123",
		PackageURL:     "https://blobs.example.com/packages/x.click",
		Revision:       1,
	}
}

var timeFields = cmpopts.IgnoreFields(Package{}, "CreatedAt", "UpdatedAt")

func TestCreateAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	p := testPackage("com.example.calc")
	if err := s.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, "com.example.calc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := testPackage("com.example.calc")
	want.Keywords = []string{}
	want.Downloads = map[string]int64{}
	if diff := cmp.Diff(want, got, timeFields); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)
	if _, err := s.Get(context.Background(), "com.example.nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, testPackage("com.example.calc")); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	second := testPackage("com.example.calc")
	second.Maintainer = "mallory"
	if err := s.Create(ctx, second); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second Create = %v, want ErrDuplicate", err)
	}

	// The original record is untouched.
	got, err := s.Get(ctx, "com.example.calc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Maintainer != "alice" {
		t.Errorf("maintainer = %q after duplicate create, want alice", got.Maintainer)
	}
}

func TestCreateDuplicateConcurrent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Create(ctx, testPackage("com.example.race"))
		}()
	}
	wg.Wait()

	var wins, dups int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrDuplicate):
			dups++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || dups != writers-1 {
		t.Errorf("wins = %d, dups = %d; want exactly one winner", wins, dups)
	}
}

func TestUpdate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	p := testPackage("com.example.calc")
	if err := s.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	p.Version = "1.1.0"
	p.Revision = 2
	p.Tagline = "now with percentages"
	if err := s.Update(ctx, p); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Get(ctx, "com.example.calc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version != "1.1.0" || got.Revision != 2 || got.Tagline != "now with percentages" {
		t.Errorf("update not persisted: %+v", got)
	}
}

func TestUpdateStaleSnapshot(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	p := testPackage("com.example.calc")
	if err := s.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Two writers load the same snapshot; the second persist must not
	// silently discard the first writer's merge.
	first, err := s.Get(ctx, "com.example.calc")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Get(ctx, "com.example.calc")
	if err != nil {
		t.Fatal(err)
	}

	first.Tagline = "from the first writer"
	if err := s.Update(ctx, first); err != nil {
		t.Fatalf("first Update: %v", err)
	}

	second.Description = "from the second writer"
	if err := s.Update(ctx, second); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale Update = %v, want ErrConflict", err)
	}

	// After a reload the second writer's merge goes through and both
	// edits survive.
	reloaded, err := s.Get(ctx, "com.example.calc")
	if err != nil {
		t.Fatal(err)
	}
	reloaded.Description = "from the second writer"
	if err := s.Update(ctx, reloaded); err != nil {
		t.Fatalf("retried Update: %v", err)
	}
	got, err := s.Get(ctx, "com.example.calc")
	if err != nil {
		t.Fatal(err)
	}
	if got.Tagline != "from the first writer" || got.Description != "from the second writer" {
		t.Errorf("merges lost: tagline=%q description=%q", got.Tagline, got.Description)
	}
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, testPackage("com.example.calc")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.IncrementDownload(ctx, "com.example.calc", VersionKey("1.0.3")); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, "com.example.calc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "com.example.calc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "com.example.calc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestUpdateMissing(t *testing.T) {
	s := newStore(t)
	if err := s.Update(context.Background(), testPackage("com.example.ghost")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update = %v, want ErrNotFound", err)
	}
}

func TestIncrementDownload(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, testPackage("com.example.calc")); err != nil {
		t.Fatal(err)
	}

	key := VersionKey("1.0.3")
	for want := int64(1); want <= 3; want++ {
		got, err := s.IncrementDownload(ctx, "com.example.calc", key)
		if err != nil {
			t.Fatalf("IncrementDownload: %v", err)
		}
		if got != want {
			t.Errorf("count = %d, want %d", got, want)
		}
	}

	// A new version gets its own counter, created lazily.
	if _, err := s.IncrementDownload(ctx, "com.example.calc", VersionKey("1.1.0")); err != nil {
		t.Fatal(err)
	}

	p, err := s.Get(ctx, "com.example.calc")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]int64{"v1_0_3": 3, "v1_1_0": 1}
	if diff := cmp.Diff(want, p.Downloads); diff != "" {
		t.Errorf("downloads mismatch (-want +got):\n%s", diff)
	}
	if p.TotalDownloads() != 4 {
		t.Errorf("TotalDownloads = %d, want 4", p.TotalDownloads())
	}
}

func TestList(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	apps := []*Package{
		testPackage("com.example.calc"),
		testPackage("com.example.browser"),
		testPackage("com.example.scope"),
		testPackage("com.example.hidden"),
	}
	apps[1].Name = "Browser"
	apps[1].Architecture = "all"
	apps[1].Architectures = []string{"all"}
	apps[1].Framework = "ubuntu-sdk-16.04"
	apps[2].Name = "News Scope"
	apps[2].Types = []string{"scope"}
	apps[2].Maintainer = "bob"
	apps[3].Published = false
	for _, p := range apps {
		if err := s.Create(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	ids := func(list []*Package) []string {
		var out []string
		for _, p := range list {
			out = append(out, p.ID)
		}
		return out
	}

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{
			name: "published sorted by name",
			q:    Query{PublishedOnly: true},
			want: []string{"com.example.browser", "com.example.calc", "com.example.scope"},
		},
		{
			name: "all including unpublished",
			q:    Query{},
			want: []string{"com.example.browser", "com.example.calc", "com.example.hidden", "com.example.scope"},
		},
		{
			name: "type filter",
			q:    Query{PublishedOnly: true, Types: []string{"scope"}},
			want: []string{"com.example.scope"},
		},
		{
			name: "framework filter",
			q:    Query{PublishedOnly: true, Frameworks: []string{"ubuntu-sdk-16.04"}},
			want: []string{"com.example.browser"},
		},
		{
			name: "architecture filter matches wildcard",
			q:    Query{PublishedOnly: true, Architecture: "arm64"},
			want: []string{"com.example.browser"},
		},
		{
			name: "architecture filter exact",
			q:    Query{PublishedOnly: true, Architecture: "armhf"},
			want: []string{"com.example.browser", "com.example.calc", "com.example.scope"},
		},
		{
			name: "maintainer filter",
			q:    Query{Maintainer: "bob"},
			want: []string{"com.example.scope"},
		},
		{
			name: "pagination",
			q:    Query{PublishedOnly: true, Limit: 2, Skip: 1},
			want: []string{"com.example.calc", "com.example.scope"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.q)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestVersionKey(t *testing.T) {
	tests := []struct {
		version string
		want    string
	}{
		{"1.0.3", "v1_0_3"},
		{"1.0", "v1_0_0"},
		{"2", "v2_0_0"},
		{"not a version", "vnot_a_version"},
	}
	for _, tt := range tests {
		if got := VersionKey(tt.version); got != tt.want {
			t.Errorf("VersionKey(%q) = %q, want %q", tt.version, got, tt.want)
		}
	}
}
