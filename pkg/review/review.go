// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package review decides whether an uploaded package needs a human
// reviewer before it can be published. It shells out to the
// click-review tool, which dispatches on the package file extension.
package review

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
)

// ErrToolFailure indicates the review tool could not inspect the file
// at all (missing tool, corrupt container, unparseable output). It is
// distinct from a "needs manual review" verdict.
var ErrToolFailure = errors.New("review tool failure")

// Verdict is the outcome of an automated review pass.
type Verdict struct {
	// NeedsManualReview is set when the tool flagged anything; the
	// submission must wait for a human.
	NeedsManualReview bool
	// Issues lists the flagged check names, for logging.
	Issues []string
}

// Reviewer classifies a package file as auto-approvable or not.
type Reviewer interface {
	Review(ctx context.Context, path string) (Verdict, error)
}

// ClickReviewer runs the external click-review tool.
type ClickReviewer struct {
	// Tool is the review binary to invoke. Defaults to "click-review".
	Tool string
}

func (r *ClickReviewer) tool() string {
	if r.Tool != "" {
		return r.Tool
	}
	return "click-review"
}

// Review runs the tool against path. The tool exits non-zero when it
// flags issues, so a non-zero exit with parseable JSON on stdout is a
// verdict, not a failure.
func (r *ClickReviewer) Review(ctx context.Context, path string) (Verdict, error) {
	cmd := exec.CommandContext(ctx, r.tool(), "--json", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return Verdict{}, fmt.Errorf("%w: running %s: %v", ErrToolFailure, r.tool(), runErr)
		}
	}

	verdict, err := parseReport(stdout.Bytes())
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v (stderr: %s)", ErrToolFailure, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return verdict, nil
}

// report is the tool's JSON output: a map of test suite name to the
// checks it flagged, bucketed by severity.
type report map[string]struct {
	Error map[string]json.RawMessage `json:"error"`
	Warn  map[string]json.RawMessage `json:"warn"`
}

func parseReport(data []byte) (Verdict, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Verdict{}, errors.New("empty report")
	}
	var rep report
	if err := json.Unmarshal(data, &rep); err != nil {
		return Verdict{}, fmt.Errorf("decoding report: %v", err)
	}

	var issues []string
	for suite, checks := range rep {
		for name := range checks.Error {
			issues = append(issues, suite+"/"+name)
		}
		for name := range checks.Warn {
			issues = append(issues, suite+"/"+name)
		}
	}
	sort.Strings(issues)
	return Verdict{
		NeedsManualReview: len(issues) > 0,
		Issues:            issues,
	}, nil
}
