// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package appstore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bhdouglass/openappstore-web/pkg/blob"
	"github.com/bhdouglass/openappstore-web/pkg/checksum"
	"github.com/bhdouglass/openappstore-web/pkg/click"
	"github.com/bhdouglass/openappstore-web/pkg/pkgdb"
	"github.com/bhdouglass/openappstore-web/pkg/review"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// acceptedExts are the two package container formats the registry
// ingests. The extension also tells the review tool which checks to
// run.
var acceptedExts = []string{".click", ".snap"}

// Submission is one upload request: a temp file already spooled to
// disk plus the submitted form fields.
type Submission struct {
	// FilePath is the spooled upload; empty means a metadata-only
	// edit (updates only).
	FilePath string
	// Filename is the client-supplied file name; its extension
	// decides whether the upload is accepted at all.
	Filename string
	// Fields are the non-file form fields.
	Fields map[string]string
	// Principal is the authenticated submitter.
	Principal *Principal
}

// upload is the outcome of the shared validate/review/parse/checksum
// stages.
type upload struct {
	path     string // normalized temp file, recognized extension
	ext      string
	manifest *click.Manifest
	sha512   string
	size     int64
}

var validPackageID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// CreateSubmission runs the full create pipeline and returns the
// stored record. On any rejection no record remains; the temp upload
// survives only a PendingReview rejection. The record INSERT runs
// before the artifact write and acts as the id reservation: of two
// racing creates only the winner ever touches the canonical artifact
// path, so the loser cannot overwrite the winner's blob.
func (s *Server) CreateSubmission(ctx context.Context, sub Submission) (*pkgdb.Package, error) {
	up, err := s.processUpload(ctx, sub)
	if err != nil {
		return nil, err
	}
	defer s.discardUpload(up.path)

	m := up.manifest
	// Advisory read for a fast, friendly rejection. The INSERT below
	// is what actually guarantees uniqueness.
	if _, getErr := s.db.Get(ctx, m.Name); getErr == nil {
		return nil, errf(KindDuplicatePackage, "a package with id %q already exists", m.Name)
	} else if !errors.Is(getErr, pkgdb.ErrNotFound) {
		return nil, wrapErr(KindStorageFailure, getErr, "registry lookup failed")
	}

	pkg := &pkgdb.Package{
		ID:         m.Name,
		Maintainer: sub.Principal.ID,
		Revision:   1,
	}
	mergeManifest(pkg, m, up)
	s.mergeForm(pkg, sub.Fields, sub.Principal, true)

	if err := s.db.Create(ctx, pkg); err != nil {
		if errors.Is(err, pkgdb.ErrDuplicate) {
			return nil, wrapErr(KindDuplicatePackage, err, "a package with id %q already exists", m.Name)
		}
		return nil, wrapErr(KindStorageFailure, err, "persisting package record failed")
	}

	if err := s.uploadArtifacts(ctx, up, pkg); err != nil {
		// Back out the reservation so the failed create leaves
		// nothing behind.
		if delErr := s.db.Delete(ctx, pkg.ID); delErr != nil && !errors.Is(delErr, pkgdb.ErrNotFound) {
			s.log.WithError(delErr).WithField("id", pkg.ID).Error("could not back out reserved record")
		}
		return nil, err
	}

	pkg, err = s.persistMerge(ctx, pkg.ID, func(p *pkgdb.Package) error {
		p.PackageURL = pkg.PackageURL
		p.Icon = pkg.Icon
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"id":      pkg.ID,
		"version": pkg.Version,
		"by":      sub.Principal.ID,
	}).Info("package created")
	s.publishEvent(Event{Type: EventTypePackageCreated, PackageID: pkg.ID, Principal: sub.Principal.ID})
	return pkg, nil
}

// UpdateSubmission mutates an existing record: a metadata-only edit
// when no file is attached, otherwise the full pipeline with the
// added constraint that the manifest may not change the package id.
func (s *Server) UpdateSubmission(ctx context.Context, id string, sub Submission) (*pkgdb.Package, error) {
	// Reject unknown ids and unauthorized actors before doing any
	// upload work. The same checks run again inside the merge, which
	// is the authoritative pass.
	existing, getErr := s.db.Get(ctx, id)
	if getErr != nil {
		s.discardUpload(sub.FilePath)
		if errors.Is(getErr, pkgdb.ErrNotFound) {
			return nil, errf(KindNotFound, "no package with id %q", id)
		}
		return nil, wrapErr(KindStorageFailure, getErr, "registry lookup failed")
	}
	if err := authorize(sub.Principal, existing); err != nil {
		s.discardUpload(sub.FilePath)
		return nil, err
	}

	if sub.FilePath == "" {
		pkg, err := s.persistMerge(ctx, id, func(p *pkgdb.Package) error {
			if err := authorize(sub.Principal, p); err != nil {
				return err
			}
			s.mergeForm(p, sub.Fields, sub.Principal, false)
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.publishEvent(Event{Type: EventTypePackageUpdated, PackageID: id, Principal: sub.Principal.ID})
		return pkg, nil
	}

	up, err := s.processUpload(ctx, sub)
	if err != nil {
		return nil, err
	}
	defer s.discardUpload(up.path)

	if up.manifest.Name != id {
		return nil, errf(KindPackageMismatch,
			"uploaded package declares id %q, cannot replace %q", up.manifest.Name, id)
	}

	// Write the artifact first; the record below points at it. The id
	// is already owned, so the canonical path is ours to replace.
	art := &pkgdb.Package{ID: id}
	mergeManifest(art, up.manifest, up)
	if err := s.uploadArtifacts(ctx, up, art); err != nil {
		return nil, err
	}

	pkg, err := s.persistMerge(ctx, id, func(p *pkgdb.Package) error {
		if err := authorize(sub.Principal, p); err != nil {
			return err
		}
		mergeManifest(p, up.manifest, up)
		p.Revision++
		s.mergeForm(p, sub.Fields, sub.Principal, false)
		p.PackageURL = art.PackageURL
		if art.Icon != "" {
			p.Icon = art.Icon
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"id":       id,
		"version":  pkg.Version,
		"revision": pkg.Revision,
		"by":       sub.Principal.ID,
	}).Info("package updated")
	s.publishEvent(Event{Type: EventTypePackageUpdated, PackageID: id, Principal: sub.Principal.ID})
	return pkg, nil
}

func authorize(p *Principal, pkg *pkgdb.Package) error {
	if !p.Admin() && p.ID != pkg.Maintainer {
		return errf(KindPermissionDenied, "only the package maintainer may update %q", pkg.ID)
	}
	return nil
}

// persistMerge runs a load→merge→conditional-write cycle. A concurrent
// writer makes the conditional write fail, in which case the merge is
// re-applied to a fresh snapshot and retried, so no writer's merge is
// silently discarded.
func (s *Server) persistMerge(ctx context.Context, id string, apply func(*pkgdb.Package) error) (*pkgdb.Package, error) {
	for attempt := 0; ; attempt++ {
		p, err := s.db.Get(ctx, id)
		if err != nil {
			if errors.Is(err, pkgdb.ErrNotFound) {
				return nil, errf(KindNotFound, "no package with id %q", id)
			}
			return nil, wrapErr(KindStorageFailure, err, "registry lookup failed")
		}
		if err := apply(p); err != nil {
			return nil, err
		}
		err = s.db.Update(ctx, p)
		if err == nil {
			return p, nil
		}
		if errors.Is(err, pkgdb.ErrConflict) && attempt < 5 {
			continue
		}
		return nil, wrapErr(KindStorageFailure, err, "persisting package record failed")
	}
}

// processUpload runs the stages shared by create and update: extension
// validation, rename, the review gate, and the concurrent
// parse/checksum pair. On failure the temp file is already cleaned up,
// except for a review hold, which moves it to the review dir for the
// human reviewer.
func (s *Server) processUpload(ctx context.Context, sub Submission) (*upload, error) {
	ext := strings.ToLower(filepath.Ext(sub.Filename))
	accepted := false
	for _, e := range acceptedExts {
		if ext == e {
			accepted = true
			break
		}
	}
	if !accepted {
		s.discardUpload(sub.FilePath)
		return nil, errf(KindInvalidFileKind,
			"unsupported package file %q, accepted extensions are %s",
			sub.Filename, strings.Join(acceptedExts, ", "))
	}

	// The review tool dispatches on the extension, so the spooled
	// file must carry it.
	path := strings.TrimSuffix(sub.FilePath, filepath.Ext(sub.FilePath)) + ext
	if path != sub.FilePath {
		if err := os.Rename(sub.FilePath, path); err != nil {
			s.discardUpload(sub.FilePath)
			return nil, wrapErr(KindUnknown, err, "preparing upload failed")
		}
	}

	if !sub.Principal.Trusted() {
		verdict, err := s.reviewer.Review(ctx, path)
		if err != nil {
			s.discardUpload(path)
			if errors.Is(err, review.ErrToolFailure) {
				return nil, wrapErr(KindUnreadablePackage, err, "package could not be inspected")
			}
			return nil, wrapErr(KindUnknown, err, "review failed")
		}
		if verdict.NeedsManualReview {
			held := filepath.Join(s.reviewDir, filepath.Base(path))
			if mvErr := os.Rename(path, held); mvErr != nil {
				s.log.WithError(mvErr).WithField("file", path).Warn("could not move upload to review dir")
				held = path
			}
			s.log.WithFields(logrus.Fields{
				"file":   held,
				"by":     sub.Principal.ID,
				"issues": verdict.Issues,
			}).Info("submission held for manual review")
			// No parsed id yet; subscribers see who, not what.
			s.publishEvent(Event{Type: EventTypeReviewPending, Principal: sub.Principal.ID})
			return nil, errf(KindPendingReview,
				"this package requires manual review before it can be accepted")
		}
	}

	up := &upload{path: path, ext: ext}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := click.ParseFile(gctx, path)
		if err != nil {
			return err
		}
		up.manifest = m
		return nil
	})
	g.Go(func() error {
		sum, err := checksum.File(path)
		if err != nil {
			return err
		}
		up.sha512 = sum
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		up.size = fi.Size()
		return nil
	})
	if err := g.Wait(); err != nil {
		s.discardUpload(path)
		if errors.Is(err, click.ErrUnreadable) {
			return nil, wrapErr(KindUnreadablePackage, err, "package could not be read")
		}
		return nil, wrapErr(KindUnknown, err, "analyzing upload failed")
	}

	m := up.manifest
	if m.Name == "" || m.Version == "" || m.Architecture() == "" {
		s.discardUpload(path)
		return nil, errf(KindMalformedManifest,
			"manifest must declare name, version and architecture")
	}
	if !validPackageID.MatchString(m.Name) {
		s.discardUpload(path)
		return nil, errf(KindMalformedManifest, "manifest declares invalid package id %q", m.Name)
	}
	return up, nil
}

// discardUpload removes a temp upload. Best effort: a failed cleanup
// is logged, never escalated.
func (s *Server) discardUpload(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.WithError(err).WithField("file", path).Warn("could not remove temp upload")
	}
}

// mergeManifest applies the parsed manifest and analysis results to a
// record. The id is never touched here.
func mergeManifest(p *pkgdb.Package, m *click.Manifest, up *upload) {
	p.Version = m.Version
	p.Architecture = m.Architecture()
	p.Architectures = m.Architectures
	p.Framework = m.Framework
	p.Types = m.Types()
	if p.Name == "" {
		p.Name = m.Title
	}
	if p.Description == "" {
		p.Description = m.Description
	}
	p.DownloadSHA512 = up.sha512
	p.Filesize = up.size
}

// mergeForm folds requester-supplied fields into the record. Immutable
// fields (id, maintainer) move only for administrators; create seeds
// the maintainer from the submitter instead.
func (s *Server) mergeForm(p *pkgdb.Package, fields map[string]string, actor *Principal, create bool) {
	set := func(dst *string, key string) {
		if v, ok := fields[key]; ok {
			*dst = v
		}
	}
	set(&p.Name, "name")
	set(&p.Tagline, "tagline")
	set(&p.Description, "description")
	set(&p.Category, "category")
	set(&p.License, "license")
	set(&p.Source, "source")
	set(&p.SupportURL, "support_url")
	set(&p.Author, "author")
	set(&p.MaintainerName, "maintainer_name")

	if v, ok := fields["keywords"]; ok {
		var keywords []string
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keywords = append(keywords, k)
			}
		}
		p.Keywords = keywords
	}
	if v, ok := fields["published"]; ok {
		p.Published = v == "true" || v == "1"
	}
	if v, ok := fields["maintainer"]; ok && actor.Admin() {
		p.Maintainer = v
	}
	if create && p.Maintainer == "" {
		p.Maintainer = actor.ID
	}
	if v, ok := fields["icon"]; ok && p.Icon == "" {
		p.Icon = v
	}
}

// uploadArtifacts pushes the binary (and icon, when the package ships
// one) to the remote artifact store and records the resulting URLs on
// p. Callers persist the URLs; an upload failure surfaces as a storage
// failure with nothing visible in the catalog.
func (s *Server) uploadArtifacts(ctx context.Context, up *upload, p *pkgdb.Package) error {
	f, err := os.Open(up.path)
	if err != nil {
		return wrapErr(KindStorageFailure, err, "reading upload failed")
	}
	defer f.Close()

	pkgPath := blob.PackagePath(p.ID, p.Version, p.Architecture, up.ext)
	url, err := s.blobs.Put(ctx, pkgPath, f)
	if err != nil {
		return wrapErr(KindStorageFailure, err, "storing package artifact failed")
	}
	p.PackageURL = url

	iconData, iconExt, err := click.ExtractIcon(ctx, up.path, up.manifest.Icon)
	if err != nil {
		return wrapErr(KindStorageFailure, err, "extracting icon failed")
	}
	if iconData == nil {
		return nil
	}
	iconURL, err := s.blobs.Put(ctx, blob.IconPath(p.ID, iconExt), bytes.NewReader(iconData))
	if err != nil {
		return wrapErr(KindStorageFailure, err, "storing icon artifact failed")
	}
	p.Icon = iconURL
	return nil
}
