// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package appstore

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/BurntSushi/toml"
)

// Role determines what a principal may do and whether their uploads
// bypass automated review.
type Role string

const (
	// RoleAdmin may edit any record and skips review.
	RoleAdmin Role = "admin"
	// RoleTrusted skips review on their own uploads.
	RoleTrusted Role = "trusted"
	// RoleCommunity uploads go through the review gate.
	RoleCommunity Role = "community"
)

// Principal is an authenticated API caller.
type Principal struct {
	ID     string `toml:"id"`
	Name   string `toml:"name"`
	Role   Role   `toml:"role"`
	APIKey string `toml:"api_key"`
}

// Admin reports whether the principal has administrator rights.
func (p *Principal) Admin() bool { return p.Role == RoleAdmin }

// Trusted reports whether the principal's uploads skip review.
func (p *Principal) Trusted() bool { return p.Role == RoleAdmin || p.Role == RoleTrusted }

// Authenticator resolves API keys to principals.
type Authenticator struct {
	byKey map[string]*Principal
}

// LoadPrincipals reads a TOML principals file:
//
//	[[principal]]
//	id = "alice"
//	name = "Alice"
//	role = "trusted"
//	api_key = "..."
func LoadPrincipals(path string) (*Authenticator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading principals file: %w", err)
	}
	var file struct {
		Principal []*Principal `toml:"principal"`
	}
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing principals file %s: %w", path, err)
	}
	return NewAuthenticator(file.Principal...)
}

// NewAuthenticator builds an authenticator over a fixed principal set.
func NewAuthenticator(principals ...*Principal) (*Authenticator, error) {
	byKey := make(map[string]*Principal, len(principals))
	for _, p := range principals {
		if p.ID == "" || p.APIKey == "" {
			return nil, fmt.Errorf("principal %q: id and api_key are required", p.ID)
		}
		switch p.Role {
		case RoleAdmin, RoleTrusted, RoleCommunity:
		case "":
			p.Role = RoleCommunity
		default:
			return nil, fmt.Errorf("principal %q: unknown role %q", p.ID, p.Role)
		}
		if _, ok := byKey[p.APIKey]; ok {
			return nil, fmt.Errorf("principal %q: duplicate api key", p.ID)
		}
		byKey[p.APIKey] = p
	}
	return &Authenticator{byKey: byKey}, nil
}

// Authenticate resolves the key from a request, or nil.
func (a *Authenticator) Authenticate(r *http.Request) *Principal {
	key := r.Header.Get("X-Api-Key")
	if key == "" {
		key = r.URL.Query().Get("apikey")
	}
	if key == "" {
		return nil
	}
	return a.byKey[key]
}

type principalContextKey struct{}

func withPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// principalFrom returns the authenticated principal stored by the auth
// middleware. Handlers behind requireAuth can rely on it being set.
func principalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
