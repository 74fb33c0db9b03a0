// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compress provides negotiated HTTP response compression for
// the registry's JSON endpoints.
package compress

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// encodings in preference order.
var encodings = []string{"zstd", "gzip", "deflate"}

// SelectEncoding picks the preferred supported encoding from an
// Accept-Encoding header value, or "" when none match.
func SelectEncoding(acceptEncoding string) string {
	if acceptEncoding == "" {
		return ""
	}
	offered := map[string]bool{}
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		offered[strings.ToLower(name)] = true
	}
	for _, enc := range encodings {
		if offered[enc] {
			return enc
		}
	}
	return ""
}

// responseWriter compresses the response body, deferring header
// rewrites until first write so handlers keep full control of status
// codes.
type responseWriter struct {
	http.ResponseWriter
	encoding    string
	w           io.WriteCloser
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(status int) {
	if !rw.wroteHeader {
		rw.Header().Set("Content-Encoding", rw.encoding)
		rw.Header().Add("Vary", "Accept-Encoding")
		rw.Header().Del("Content-Length")
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.w.Write(p)
}

func newWriter(w io.Writer, encoding string) (io.WriteCloser, error) {
	switch encoding {
	case "zstd":
		return zstd.NewWriter(w)
	case "gzip":
		return gzip.NewWriter(w), nil
	default:
		return flate.NewWriter(w, flate.DefaultCompression)
	}
}

// Handler wraps next with content-negotiated response compression.
// Responses to clients that accept none of the supported encodings
// pass through untouched.
func Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoding := SelectEncoding(r.Header.Get("Accept-Encoding"))
		if encoding == "" {
			next.ServeHTTP(w, r)
			return
		}
		cw, err := newWriter(w, encoding)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		defer cw.Close()
		next.ServeHTTP(&responseWriter{ResponseWriter: w, encoding: encoding, w: cw}, r)
	})
}
