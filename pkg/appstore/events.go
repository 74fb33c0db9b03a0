// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package appstore

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/util/set"
)

// EventType classifies submission lifecycle events.
type EventType string

const (
	EventTypePackageCreated EventType = "PackageCreated"
	EventTypePackageUpdated EventType = "PackageUpdated"
	EventTypeReviewPending  EventType = "ReviewPending"
)

// Event is delivered to /events subscribers when a submission changes
// the registry (or is parked for manual review).
type Event struct {
	// Time is milliseconds since the epoch.
	Time      int64     `json:"time"`
	PackageID string    `json:"packageId"`
	Type      EventType `json:"type"`
	Principal string    `json:"principal,omitempty"`
}

type eventListener struct {
	ch     chan<- Event
	filter func(Event) bool
}

func (s *Server) publishEvent(event Event) {
	event.Time = time.Now().UnixMilli()
	els := &s.eventListeners
	els.mu.Lock()
	defer els.mu.Unlock()
	for _, el := range els.s {
		if el.filter != nil && !el.filter(event) {
			continue
		}
		select {
		case el.ch <- event:
		default:
			// Slow subscriber; drop rather than stall submissions.
		}
	}
}

func (s *Server) addEventListener(ch chan<- Event, filter func(Event) bool) set.Handle {
	els := &s.eventListeners
	els.mu.Lock()
	defer els.mu.Unlock()
	return els.s.Add(&eventListener{ch: ch, filter: filter})
}

func (s *Server) removeEventListener(h set.Handle) {
	els := &s.eventListeners
	els.mu.Lock()
	defer els.mu.Unlock()
	delete(els.s, h)
}

type eventListeners struct {
	mu sync.Mutex
	s  set.HandleSet[*eventListener]
}

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleEvents streams submission events over a websocket. An optional
// client message {"packageId": "..."} narrows the stream to one
// package; events flow immediately, the filter applies once received.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var filterID atomic.Pointer[string]
	ch := make(chan Event, 16)
	h := s.addEventListener(ch, func(ev Event) bool {
		id := filterID.Load()
		return id == nil || *id == "" || ev.PackageID == *id
	})
	defer s.removeEventListener(h)

	// Read pump: picks up filter messages and, more importantly,
	// notices the client going away so an idle subscriber does not
	// linger until the next event's write fails.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var sub struct {
				PackageID string `json:"packageId"`
			}
			if json.Unmarshal(msg, &sub) == nil && sub.PackageID != "" {
				filterID.Store(&sub.PackageID)
			}
		}
	}()

	for {
		select {
		case event := <-ch:
			if err := conn.WriteJSON(event); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					s.log.WithError(err).Debug("event write failed")
				}
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
