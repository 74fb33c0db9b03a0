// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package appstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bhdouglass/openappstore-web/pkg/click/clicktest"
	"github.com/gorilla/websocket"
)

func listenerCount(s *Server) int {
	s.eventListeners.mu.Lock()
	defer s.eventListeners.mu.Unlock()
	return len(s.eventListeners.s)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventsWebSocket(t *testing.T) {
	s := newTestServer(t, &fakeReviewer{})
	srv := httptest.NewServer(s)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	hdr := http.Header{"X-Api-Key": []string{"k-alice"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	// The subscription is live without the client sending anything.
	waitUntil(t, "subscription", func() bool { return listenerCount(s) == 1 })

	_, alice, _ := testPrincipals()
	if _, err := s.CreateSubmission(context.Background(), spool(t, s, buildClick(t, t.TempDir(), clicktest.Manifest{
		Name: "com.example.app", Version: "1.0.0", Architecture: "all",
	}, nil), alice)); err != nil {
		t.Fatalf("create: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if ev.Type != EventTypePackageCreated || ev.PackageID != "com.example.app" {
		t.Errorf("event = %+v", ev)
	}

	// When the client goes away the server drops the subscriber
	// instead of leaving it to linger until the next write fails.
	conn.Close()
	waitUntil(t, "listener removal", func() bool { return listenerCount(s) == 0 })
}
