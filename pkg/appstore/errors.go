// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package appstore

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of submission failure classes. The HTTP
// boundary matches on it exhaustively to pick a status code and decide
// whether the message is safe to echo to the client.
type Kind int

const (
	// KindUnknown covers unexpected collaborator failures; reported
	// generically, logged in full.
	KindUnknown Kind = iota
	// KindInvalidFileKind: the upload is not one of the accepted
	// container extensions.
	KindInvalidFileKind
	// KindPendingReview: policy requires a human reviewer; the
	// uploaded file is retained, no record is written.
	KindPendingReview
	// KindMalformedManifest: required manifest fields are missing.
	KindMalformedManifest
	// KindDuplicatePackage: create-time id collision.
	KindDuplicatePackage
	// KindPackageMismatch: an update tried to change the package id.
	KindPackageMismatch
	// KindPermissionDenied: the actor lacks rights to the record.
	KindPermissionDenied
	// KindNotFound: no record with the requested id.
	KindNotFound
	// KindUnreadablePackage: the container or the review tool could
	// not inspect the file.
	KindUnreadablePackage
	// KindStorageFailure: the artifact store or registry store write
	// failed.
	KindStorageFailure
)

func (k Kind) String() string {
	switch k {
	case KindInvalidFileKind:
		return "invalid_file_kind"
	case KindPendingReview:
		return "pending_review"
	case KindMalformedManifest:
		return "malformed_manifest"
	case KindDuplicatePackage:
		return "duplicate_package"
	case KindPackageMismatch:
		return "package_mismatch"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindUnreadablePackage:
		return "unreadable_package"
	case KindStorageFailure:
		return "storage_failure"
	default:
		return "unknown"
	}
}

// httpStatus maps an error kind to the response status. Unknown and
// storage failures are generic 500s so internal detail never leaks.
func (k Kind) httpStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnknown, KindStorageFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// Error is a classified submission failure. Message is written for the
// submitter; Err carries the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// errf builds a classified error with a submitter-facing message.
func errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// wrapErr attaches an underlying cause to a classified error.
func wrapErr(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the failure class from err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
