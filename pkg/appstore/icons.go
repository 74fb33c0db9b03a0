// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package appstore

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bhdouglass/openappstore-web/pkg/blob"
)

// handleIcon serves package icons out of a local disk cache, filling
// the cache from the artifact store on miss. Concurrent misses for the
// same icon collapse into one fetch.
func (s *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("id")
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusBadRequest, "invalid icon name")
		return
	}

	cached := filepath.Join(s.iconCacheDir, name)
	if _, err := os.Stat(cached); err == nil {
		http.ServeFile(w, r, cached)
		return
	}

	_, err, _ := s.iconFetch.Do(name, func() (any, error) {
		return nil, s.fillIconCache(r, name, cached)
	})
	if errors.Is(err, blob.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no icon named "+name)
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("icon", name).Error("icon fetch failed")
		writeError(w, http.StatusInternalServerError, "internal server error, please retry")
		return
	}
	http.ServeFile(w, r, cached)
}

func (s *Server) fillIconCache(r *http.Request, name, cached string) error {
	rc, err := s.blobs.Get(r.Context(), "icons/"+name)
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(s.iconCacheDir, ".fetch-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), cached)
}
