// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestFSStoreRoundTrip(t *testing.T) {
	s, err := NewFSStore(t.TempDir(), "https://blobs.example.com")
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()

	path := PackagePath("com.example.calc", "1.0", "armhf", ".click")
	url, err := s.Put(ctx, path, strings.NewReader("package bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	want := "https://blobs.example.com/packages/com.example.calc/com.example.calc_1.0_armhf.click"
	if url != want {
		t.Errorf("Put url = %q, want %q", url, want)
	}

	rc, err := s.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "package bytes" {
		t.Errorf("Get = %q, want %q", data, "package bytes")
	}

	if err := s.Delete(ctx, path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, path); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	// Deleting again is fine.
	if err := s.Delete(ctx, path); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestFSStoreRejectsEscapingPaths(t *testing.T) {
	s, err := NewFSStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{"../escape", "/abs/path", "a/../../b"} {
		if _, err := s.Put(context.Background(), path, strings.NewReader("x")); err == nil {
			t.Errorf("Put(%q) succeeded, want error", path)
		}
	}
}

func TestHTTPStore(t *testing.T) {
	var mu sync.Mutex
	blobs := map[string][]byte{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			blobs[r.URL.Path] = data
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			data, ok := blobs[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Write(data)
		case http.MethodDelete:
			delete(blobs, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	s := &HTTPStore{
		Endpoint:   srv.URL,
		PublicBase: "https://cdn.example.com",
		Token:      "sekrit",
	}
	ctx := context.Background()

	url, err := s.Put(ctx, "icons/com.example.calc.png", strings.NewReader("png bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "https://cdn.example.com/icons/com.example.calc.png" {
		t.Errorf("Put url = %q", url)
	}

	rc, err := s.Get(ctx, "icons/com.example.calc.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "png bytes" {
		t.Errorf("Get = %q", data)
	}

	if _, err := s.Get(ctx, "icons/missing.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}

	if err := s.Delete(ctx, "icons/com.example.calc.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "icons/com.example.calc.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}
