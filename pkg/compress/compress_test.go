// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compress

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestSelectEncoding(t *testing.T) {
	tests := []struct {
		accept string
		want   string
	}{
		{"", ""},
		{"gzip", "gzip"},
		{"deflate", "deflate"},
		{"gzip, deflate", "gzip"},
		{"gzip, zstd", "zstd"},
		{"zstd;q=0.5, gzip;q=1.0", "zstd"},
		{"br", ""},
		{"GZIP", "gzip"},
	}
	for _, tt := range tests {
		if got := SelectEncoding(tt.accept); got != tt.want {
			t.Errorf("SelectEncoding(%q) = %q, want %q", tt.accept, got, tt.want)
		}
	}
}

func TestHandler(t *testing.T) {
	const body = `{"success":true,"data":{"count":0,"packages":[]}}`
	h := Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}))

	t.Run("zstd", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Encoding", "zstd")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if got := rec.Header().Get("Content-Encoding"); got != "zstd" {
			t.Fatalf("Content-Encoding = %q, want zstd", got)
		}
		dec, err := zstd.NewReader(rec.Body)
		if err != nil {
			t.Fatal(err)
		}
		defer dec.Close()
		plain, err := io.ReadAll(dec)
		if err != nil {
			t.Fatal(err)
		}
		if string(plain) != body {
			t.Errorf("decompressed body = %q", plain)
		}
	})

	t.Run("identity passthrough", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if got := rec.Header().Get("Content-Encoding"); got != "" {
			t.Fatalf("Content-Encoding = %q, want none", got)
		}
		if rec.Body.String() != body {
			t.Errorf("body = %q", rec.Body.String())
		}
	})
}
