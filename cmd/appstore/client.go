// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bhdouglass/openappstore-web/pkg/pkgdb"
	"github.com/gorilla/websocket"
)

// client talks to a registry server with an API key.
type client struct {
	host   string
	apiKey string
	hc     http.Client
}

// envelope mirrors the server's uniform response shape.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (c *client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if !env.Success {
		if env.Message != "" {
			return fmt.Errorf("%s", env.Message)
		}
		return fmt.Errorf("request failed with %s", resp.Status)
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// submit POSTs or PUTs a multipart submission.
func (c *client) submit(method, path, file string, fields map[string]string) (*pkgdb.Package, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		fw, err := w.CreateFormFile("file", filepath.Base(file))
		if err != nil {
			f.Close()
			return nil, err
		}
		if _, err := io.Copy(fw, f); err != nil {
			f.Close()
			return nil, err
		}
		f.Close()
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(method, c.host+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var pkg pkgdb.Package
	if err := c.do(req, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (c *client) push(file string, fields map[string]string) (*pkgdb.Package, error) {
	return c.submit(http.MethodPost, "/apps", file, fields)
}

func (c *client) edit(id string, fields map[string]string) (*pkgdb.Package, error) {
	return c.submit(http.MethodPut, "/apps/"+url.PathEscape(id), "", fields)
}

func (c *client) list() ([]*pkgdb.Package, error) {
	req, err := http.NewRequest(http.MethodGet, c.host+"/manage/apps", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Packages []*pkgdb.Package `json:"packages"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Packages, nil
}

func (c *client) get(id string) (*pkgdb.Package, error) {
	req, err := http.NewRequest(http.MethodGet, c.host+"/apps/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var pkg pkgdb.Package
	if err := c.do(req, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// watch subscribes to the event stream, invoking fn per event until
// ctx is done.
func (c *client) watch(ctx context.Context, pkgID string, fn func(t int64, typ, id, principal string)) error {
	wsURL, err := url.Parse(c.host)
	if err != nil {
		return err
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/events"

	hdr := http.Header{}
	if c.apiKey != "" {
		hdr.Set("X-Api-Key", c.apiKey)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), hdr)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connecting to %s: %s", wsURL, resp.Status)
		}
		return err
	}
	defer conn.Close()

	if pkgID != "" {
		if err := conn.WriteJSON(map[string]string{"packageId": pkgID}); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var ev struct {
			Time      int64  `json:"time"`
			Type      string `json:"type"`
			PackageID string `json:"packageId"`
			Principal string `json:"principal"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(ev.Time, ev.Type, ev.PackageID, ev.Principal)
	}
}
