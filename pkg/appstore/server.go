// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package appstore hosts the package registry: the submission pipeline
// that turns uploaded click/snap files into registry records, and the
// HTTP surface around it.
package appstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/bhdouglass/openappstore-web/pkg/blob"
	"github.com/bhdouglass/openappstore-web/pkg/compress"
	"github.com/bhdouglass/openappstore-web/pkg/pkgdb"
	"github.com/bhdouglass/openappstore-web/pkg/review"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Server wires the submission pipeline to its collaborators and serves
// the registry HTTP API.
type Server struct {
	cfg      Config
	db       *pkgdb.Store
	blobs    blob.Store
	reviewer review.Reviewer
	auth     *Authenticator
	log      *logrus.Logger
	mux      *http.ServeMux

	uploadDir    string
	reviewDir    string
	iconCacheDir string
	iconFetch    singleflight.Group

	eventListeners eventListeners
}

// NewServer creates a Server and its working directories under
// cfg.DataDir.
func NewServer(cfg Config, db *pkgdb.Store, blobs blob.Store, reviewer review.Reviewer, auth *Authenticator, log *logrus.Logger) (*Server, error) {
	if log == nil {
		log = logrus.New()
	}
	cfg.applyDefaults()
	s := &Server{
		cfg:          cfg,
		db:           db,
		blobs:        blobs,
		reviewer:     reviewer,
		auth:         auth,
		log:          log,
		mux:          http.NewServeMux(),
		uploadDir:    filepath.Join(cfg.DataDir, "uploads"),
		reviewDir:    filepath.Join(cfg.DataDir, "pending-review"),
		iconCacheDir: filepath.Join(cfg.DataDir, "icon-cache"),
	}
	for _, dir := range []string{s.uploadDir, s.reviewDir, s.iconCacheDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.mux.Handle("POST /apps", s.requireAuth(http.HandlerFunc(s.handleCreate)))
	s.mux.Handle("PUT /apps/{id}", s.requireAuth(http.HandlerFunc(s.handleUpdate)))
	s.mux.Handle("GET /manage/apps", s.requireAuth(compress.Handler(http.HandlerFunc(s.handleManage))))
	s.mux.Handle("GET /events", s.requireAuth(http.HandlerFunc(s.handleEvents)))

	s.mux.Handle("GET /apps", compress.Handler(http.HandlerFunc(s.handleList)))
	s.mux.Handle("GET /apps/{id}", compress.Handler(http.HandlerFunc(s.handleGet)))
	s.mux.HandleFunc("GET /apps/{id}/download", s.handleDownload)
	s.mux.HandleFunc("GET /icons/{id}", s.handleIcon)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// requireAuth resolves the API key to a principal and stashes it in the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := s.auth.Authenticate(r)
		if p == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

// envelope is the uniform response shape for every JSON endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

// writeSubmissionError reports a pipeline failure. Expected rejections
// carry their message to the submitter; infrastructure failures are
// logged in full and reported generically.
func (s *Server) writeSubmissionError(w http.ResponseWriter, r *http.Request, err error) {
	kind := KindOf(err)
	status := kind.httpStatus()

	entry := s.log.WithFields(logrus.Fields{
		"kind":   kind.String(),
		"method": r.Method,
		"path":   r.URL.Path,
	})
	if status == http.StatusInternalServerError {
		entry.WithError(err).Error("submission failed")
		writeError(w, status, "internal server error, please retry")
		return
	}

	entry.WithError(err).Info("submission rejected")
	message := "submission rejected"
	var subErr *Error
	if errors.As(err, &subErr) {
		message = subErr.Message
	}
	writeError(w, status, message)
}
