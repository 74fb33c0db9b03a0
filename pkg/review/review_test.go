// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package review

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseReport(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Verdict
		wantErr bool
	}{
		{
			name: "clean report",
			data: `{"security": {"error": {}, "warn": {}}}`,
			want: Verdict{},
		},
		{
			name: "errors flagged",
			data: `{"security": {"error": {"policy_version": {"text": "unknown"}}, "warn": {}}}`,
			want: Verdict{NeedsManualReview: true, Issues: []string{"security/policy_version"}},
		},
		{
			name: "warnings also flag",
			data: `{"lint": {"error": {}, "warn": {"icon_size": {"text": "too big"}}}}`,
			want: Verdict{NeedsManualReview: true, Issues: []string{"lint/icon_size"}},
		},
		{
			name:    "empty output",
			data:    "",
			wantErr: true,
		},
		{
			name:    "garbage output",
			data:    "Traceback (most recent call last):",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseReport([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatal("parseReport succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseReport: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("verdict mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// stubTool writes an executable that emits out and exits with code.
func stubTool(t *testing.T, out string, code int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub tool requires a POSIX shell")
	}
	tool := filepath.Join(t.TempDir(), "click-review")
	script := "#!/bin/sh\ncat <<'EOF'\n" + out + "\nEOF\nexit " + map[int]string{0: "0", 2: "2", 3: "3"}[code] + "\n"
	if err := os.WriteFile(tool, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return tool
}

func TestReviewPass(t *testing.T) {
	r := &ClickReviewer{Tool: stubTool(t, `{"security": {"error": {}, "warn": {}}}`, 0)}
	v, err := r.Review(context.Background(), "whatever.click")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if v.NeedsManualReview {
		t.Error("clean package flagged for manual review")
	}
}

func TestReviewFlaggedNonZeroExit(t *testing.T) {
	// The tool exits 2 when checks fail; that is a verdict, not a
	// tool failure.
	r := &ClickReviewer{Tool: stubTool(t, `{"security": {"error": {"x": {}}, "warn": {}}}`, 2)}
	v, err := r.Review(context.Background(), "whatever.click")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !v.NeedsManualReview {
		t.Error("flagged package not marked for manual review")
	}
}

func TestReviewToolMissing(t *testing.T) {
	r := &ClickReviewer{Tool: filepath.Join(t.TempDir(), "no-such-tool")}
	_, err := r.Review(context.Background(), "whatever.click")
	if !errors.Is(err, ErrToolFailure) {
		t.Errorf("Review error = %v, want ErrToolFailure", err)
	}
}

func TestReviewUnparseableOutput(t *testing.T) {
	r := &ClickReviewer{Tool: stubTool(t, "Traceback (most recent call last):", 3)}
	_, err := r.Review(context.Background(), "whatever.click")
	if !errors.Is(err, ErrToolFailure) {
		t.Errorf("Review error = %v, want ErrToolFailure", err)
	}
}
