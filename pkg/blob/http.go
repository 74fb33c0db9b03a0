// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPStore talks to a remote blob service: PUT stores, GET fetches,
// DELETE removes, all addressed by path under the service endpoint.
type HTTPStore struct {
	// Endpoint is the base URL of the blob service API.
	Endpoint string
	// PublicBase is the base URL blobs are served from. Defaults to
	// Endpoint.
	PublicBase string
	// Token, if set, is sent as a bearer token.
	Token string
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

var _ Store = (*HTTPStore)(nil)

func (s *HTTPStore) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

func (s *HTTPStore) publicBase() string {
	if s.PublicBase != "" {
		return s.PublicBase
	}
	return s.Endpoint
}

func (s *HTTPStore) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, joinURL(s.Endpoint, path), body)
	if err != nil {
		return nil, err
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	return s.client().Do(req)
}

func (s *HTTPStore) Put(ctx context.Context, path string, r io.Reader) (string, error) {
	resp, err := s.do(ctx, http.MethodPut, path, r)
	if err != nil {
		return "", fmt.Errorf("put blob %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("put blob %s: unexpected status %s", path, resp.Status)
	}
	return joinURL(s.publicBase(), path), nil
}

func (s *HTTPStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := s.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("get blob %s: unexpected status %s", path, resp.Status)
	}
	return resp.Body, nil
}

func (s *HTTPStore) Delete(ctx context.Context, path string) error {
	resp, err := s.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("delete blob %s: unexpected status %s", path, resp.Status)
	}
}
