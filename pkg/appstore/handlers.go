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
	"strconv"
	"strings"

	"github.com/bhdouglass/openappstore-web/pkg/pkgdb"
	"github.com/google/uuid"
)

// listResponse is the payload for the public and management listings.
type listResponse struct {
	Count    int              `json:"count"`
	Packages []*pkgdb.Package `json:"packages"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	sub, err := s.readSubmission(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sub.FilePath == "" {
		writeError(w, http.StatusBadRequest, "a package file is required")
		return
	}
	pkg, err := s.CreateSubmission(r.Context(), *sub)
	if err != nil {
		s.writeSubmissionError(w, r, err)
		return
	}
	writeSuccess(w, pkg)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	sub, err := s.readSubmission(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pkg, err := s.UpdateSubmission(r.Context(), r.PathValue("id"), *sub)
	if err != nil {
		s.writeSubmissionError(w, r, err)
		return
	}
	writeSuccess(w, pkg)
}

// readSubmission parses a multipart submission, spooling the file part
// (when present) into the upload dir under a fresh name.
func (s *Server) readSubmission(w http.ResponseWriter, r *http.Request) (*Submission, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return nil, errors.New("could not parse multipart form")
	}

	sub := &Submission{
		Fields:    map[string]string{},
		Principal: principalFrom(r.Context()),
	}
	for key, vals := range r.MultipartForm.Value {
		if len(vals) > 0 {
			sub.Fields[key] = vals[0]
		}
	}

	file, hdr, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return sub, nil
	}
	if err != nil {
		return nil, errors.New("could not read file part")
	}
	defer file.Close()

	dst := filepath.Join(s.uploadDir, uuid.NewString()+".upload")
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, errors.New("could not spool upload")
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(dst)
		return nil, errors.New("could not spool upload")
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return nil, errors.New("could not spool upload")
	}
	sub.FilePath = dst
	sub.Filename = hdr.Filename
	return sub, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := pkgdb.Query{PublishedOnly: true}
	vals := r.URL.Query()
	if v := vals.Get("type"); v != "" {
		q.Types = strings.Split(v, ",")
	}
	if v := vals.Get("framework"); v != "" {
		q.Frameworks = strings.Split(v, ",")
	}
	q.Architecture = vals.Get("architecture")
	if v := vals.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Limit = n
		}
	}
	if v := vals.Get("skip"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Skip = n
		}
	}

	pkgs, err := s.db.List(r.Context(), q)
	if err != nil {
		s.log.WithError(err).Error("listing packages failed")
		writeError(w, http.StatusInternalServerError, "internal server error, please retry")
		return
	}
	writeSuccess(w, listResponse{Count: len(pkgs), Packages: pkgs})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	pkg, err := s.fetchPublished(w, r)
	if pkg == nil || err != nil {
		return
	}
	writeSuccess(w, pkg)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	pkg, err := s.fetchPublished(w, r)
	if pkg == nil || err != nil {
		return
	}
	if _, err := s.db.IncrementDownload(r.Context(), pkg.ID, pkgdb.VersionKey(pkg.Version)); err != nil {
		// Stats are best effort; the download must still work.
		s.log.WithError(err).WithField("id", pkg.ID).Warn("recording download failed")
	}
	http.Redirect(w, r, pkg.PackageURL, http.StatusFound)
}

// fetchPublished loads a package by path id, writing the error
// response itself when the package is missing or unpublished.
func (s *Server) fetchPublished(w http.ResponseWriter, r *http.Request) (*pkgdb.Package, error) {
	id := r.PathValue("id")
	pkg, err := s.db.Get(r.Context(), id)
	if errors.Is(err, pkgdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no package with id "+strconv.Quote(id))
		return nil, err
	}
	if err != nil {
		s.log.WithError(err).Error("package lookup failed")
		writeError(w, http.StatusInternalServerError, "internal server error, please retry")
		return nil, err
	}
	if !pkg.Published {
		// Unpublished packages are indistinguishable from absent ones.
		writeError(w, http.StatusNotFound, "no package with id "+strconv.Quote(id))
		return nil, nil
	}
	return pkg, nil
}

func (s *Server) handleManage(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	q := pkgdb.Query{}
	if !p.Admin() {
		q.Maintainer = p.ID
	}
	pkgs, err := s.db.List(r.Context(), q)
	if err != nil {
		s.log.WithError(err).Error("listing packages failed")
		writeError(w, http.StatusInternalServerError, "internal server error, please retry")
		return
	}
	writeSuccess(w, listResponse{Count: len(pkgs), Packages: pkgs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]string{"id": s.cfg.WorkerID})
}
