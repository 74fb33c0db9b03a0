// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pkgdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS packages (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	tagline         TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	keywords        TEXT NOT NULL DEFAULT '[]',
	license         TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL DEFAULT '',
	support_url     TEXT NOT NULL DEFAULT '',
	version         TEXT NOT NULL DEFAULT '',
	revision        INTEGER NOT NULL DEFAULT 0,
	architecture    TEXT NOT NULL DEFAULT '',
	architectures   TEXT NOT NULL DEFAULT '[]',
	framework       TEXT NOT NULL DEFAULT '',
	types           TEXT NOT NULL DEFAULT '[]',
	author          TEXT NOT NULL DEFAULT '',
	maintainer      TEXT NOT NULL DEFAULT '',
	maintainer_name TEXT NOT NULL DEFAULT '',
	published       INTEGER NOT NULL DEFAULT 0,
	download_sha512 TEXT NOT NULL DEFAULT '',
	package_url     TEXT NOT NULL DEFAULT '',
	icon            TEXT NOT NULL DEFAULT '',
	filesize        INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_packages_maintainer ON packages (maintainer);
CREATE INDEX IF NOT EXISTS idx_packages_published ON packages (published);

CREATE TABLE IF NOT EXISTS downloads (
	package_id  TEXT NOT NULL,
	version_key TEXT NOT NULL,
	count       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (package_id, version_key)
);
`

// Store is a SQLite-backed package registry. It is safe for concurrent
// use; SQLite serializes writers, so two concurrent creates for the
// same id resolve to one winner and one ErrDuplicate.
type Store struct {
	pool *sqlitex.Pool
}

// Open opens (and if needed creates) the registry database at path.
func Open(path string) (*Store, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: 4,
		PrepareConn: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening registry db %s: %w", path, err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

const insertQuery = `
INSERT INTO packages (
	id, name, tagline, description, category, keywords, license, source,
	support_url, version, revision, architecture, architectures,
	framework, types, author, maintainer, maintainer_name, published,
	download_sha512, package_url, icon, filesize, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

// Create inserts a new record. The insert is conditional on the id
// PRIMARY KEY; a collision returns ErrDuplicate with no mutation.
func (s *Store) Create(ctx context.Context, p *Package) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	err = sqlitex.Execute(conn, insertQuery, &sqlitex.ExecOptions{
		Args: bindPackage(p),
	})
	if err != nil {
		code := sqlite.ErrCode(err)
		if code == sqlite.ResultConstraintPrimaryKey || code == sqlite.ResultConstraintUnique {
			return fmt.Errorf("%w: %s", ErrDuplicate, p.ID)
		}
		return fmt.Errorf("inserting package %s: %w", p.ID, err)
	}
	return nil
}

const updateQuery = `
UPDATE packages SET
	name = ?, tagline = ?, description = ?, category = ?, keywords = ?,
	license = ?, source = ?, support_url = ?, version = ?, revision = ?,
	architecture = ?, architectures = ?, framework = ?, types = ?,
	author = ?, maintainer = ?, maintainer_name = ?, published = ?,
	download_sha512 = ?, package_url = ?, icon = ?, filesize = ?,
	updated_at = ?
WHERE id = ? AND updated_at = ?;`

// Update persists every mutable field of p. The id is the key and is
// never rewritten. The write is conditional on the record still
// carrying the updated_at the caller loaded: a concurrent writer's
// merge is never silently discarded, the loser gets ErrConflict and
// must reload and re-merge. Returns ErrNotFound when no such record
// exists.
func (s *Store) Update(ctx context.Context, p *Package) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	loaded := p.UpdatedAt
	now := time.Now().UTC()

	args := []any{
		p.Name, p.Tagline, p.Description, p.Category, jsonList(p.Keywords),
		p.License, p.Source, p.SupportURL, p.Version, p.Revision,
		p.Architecture, jsonList(p.Architectures), p.Framework,
		jsonList(p.Types), p.Author, p.Maintainer, p.MaintainerName,
		boolInt(p.Published), p.DownloadSHA512, p.PackageURL, p.Icon,
		p.Filesize, now.UnixNano(), p.ID, loaded.UnixNano(),
	}
	if err := sqlitex.Execute(conn, updateQuery, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("updating package %s: %w", p.ID, err)
	}
	if conn.Changes() == 0 {
		exists, err := rowExists(conn, p.ID)
		if err != nil {
			return fmt.Errorf("updating package %s: %w", p.ID, err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, p.ID)
		}
		return fmt.Errorf("%w: %s", ErrConflict, p.ID)
	}
	p.UpdatedAt = now
	return nil
}

func rowExists(conn *sqlite.Conn, id string) (bool, error) {
	var exists bool
	err := sqlitex.Execute(conn, "SELECT 1 FROM packages WHERE id = ?;", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			exists = true
			return nil
		},
	})
	return exists, err
}

// Delete removes a record and its download counters. Used to back out
// a reservation when the artifact write behind it fails.
func (s *Store) Delete(ctx context.Context, id string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return err
	}
	defer endFn(&err)

	if err = sqlitex.Execute(conn, "DELETE FROM packages WHERE id = ?;",
		&sqlitex.ExecOptions{Args: []any{id}}); err != nil {
		return fmt.Errorf("deleting package %s: %w", id, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err = sqlitex.Execute(conn, "DELETE FROM downloads WHERE package_id = ?;",
		&sqlitex.ExecOptions{Args: []any{id}}); err != nil {
		return fmt.Errorf("deleting downloads for %s: %w", id, err)
	}
	return nil
}

const selectColumns = `
	id, name, tagline, description, category, keywords, license, source,
	support_url, version, revision, architecture, architectures,
	framework, types, author, maintainer, maintainer_name, published,
	download_sha512, package_url, icon, filesize, created_at, updated_at`

// Get returns the record with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Package, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var p *Package
	err = sqlitex.Execute(conn, "SELECT"+selectColumns+" FROM packages WHERE id = ?;", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var scanErr error
			p, scanErr = scanPackage(stmt)
			return scanErr
		},
	})
	if err != nil {
		return nil, fmt.Errorf("loading package %s: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.loadDownloads(conn, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Query filters a List call. Zero values mean "no filter".
type Query struct {
	// Types matches records declaring any of these types.
	Types []string
	// Frameworks matches records built against any of these
	// frameworks.
	Frameworks []string
	// Architecture matches records targeting this architecture,
	// including the "all" wildcard.
	Architecture string
	// Maintainer restricts to one maintainer's packages.
	Maintainer string
	// PublishedOnly hides unpublished records.
	PublishedOnly bool

	Limit int
	Skip  int
}

const (
	defaultListLimit = 30
	maxListLimit     = 100
)

// List returns records matching q, sorted by display name.
func (s *Store) List(ctx context.Context, q Query) ([]*Package, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var where []string
	var args []any
	if q.PublishedOnly {
		where = append(where, "published = 1")
	}
	if q.Maintainer != "" {
		where = append(where, "maintainer = ?")
		args = append(args, q.Maintainer)
	}
	if len(q.Types) > 0 {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(packages.types) WHERE json_each.value IN "+placeholders(len(q.Types))+")")
		for _, t := range q.Types {
			args = append(args, t)
		}
	}
	if len(q.Frameworks) > 0 {
		where = append(where, "framework IN "+placeholders(len(q.Frameworks)))
		for _, f := range q.Frameworks {
			args = append(args, f)
		}
	}
	if q.Architecture != "" {
		where = append(where, "(architecture = ? OR architecture = 'all' OR EXISTS (SELECT 1 FROM json_each(packages.architectures) WHERE json_each.value = ?))")
		args = append(args, q.Architecture, q.Architecture)
	}

	query := "SELECT" + selectColumns + " FROM packages"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name COLLATE NOCASE ASC, id ASC LIMIT ? OFFSET ?;"

	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	skip := q.Skip
	if skip < 0 {
		skip = 0
	}
	args = append(args, limit, skip)

	var out []*Package
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			p, scanErr := scanPackage(stmt)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, p)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("listing packages: %w", err)
	}
	for _, p := range out {
		if err := s.loadDownloads(conn, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// IncrementDownload bumps the counter for the given version key,
// creating it at 1 on first use, and returns the new value.
func (s *Store) IncrementDownload(ctx context.Context, id, versionKey string) (count int64, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, err
	}
	defer endFn(&err)

	err = sqlitex.Execute(conn, `
		INSERT INTO downloads (package_id, version_key, count) VALUES (?, ?, 1)
		ON CONFLICT (package_id, version_key) DO UPDATE SET count = count + 1;`,
		&sqlitex.ExecOptions{Args: []any{id, versionKey}})
	if err != nil {
		return 0, fmt.Errorf("incrementing downloads for %s %s: %w", id, versionKey, err)
	}

	err = sqlitex.Execute(conn,
		"SELECT count FROM downloads WHERE package_id = ? AND version_key = ?;",
		&sqlitex.ExecOptions{
			Args: []any{id, versionKey},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("reading downloads for %s %s: %w", id, versionKey, err)
	}
	return count, nil
}

func (s *Store) loadDownloads(conn *sqlite.Conn, p *Package) error {
	p.Downloads = map[string]int64{}
	err := sqlitex.Execute(conn,
		"SELECT version_key, count FROM downloads WHERE package_id = ?;",
		&sqlitex.ExecOptions{
			Args: []any{p.ID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				p.Downloads[stmt.ColumnText(0)] = stmt.ColumnInt64(1)
				return nil
			},
		})
	if err != nil {
		return fmt.Errorf("loading downloads for %s: %w", p.ID, err)
	}
	return nil
}

func placeholders(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

func bindPackage(p *Package) []any {
	return []any{
		p.ID, p.Name, p.Tagline, p.Description, p.Category,
		jsonList(p.Keywords), p.License, p.Source, p.SupportURL,
		p.Version, p.Revision, p.Architecture, jsonList(p.Architectures),
		p.Framework, jsonList(p.Types), p.Author, p.Maintainer,
		p.MaintainerName, boolInt(p.Published), p.DownloadSHA512,
		p.PackageURL, p.Icon, p.Filesize,
		p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano(),
	}
}

func scanPackage(stmt *sqlite.Stmt) (*Package, error) {
	p := &Package{
		ID:             stmt.ColumnText(0),
		Name:           stmt.ColumnText(1),
		Tagline:        stmt.ColumnText(2),
		Description:    stmt.ColumnText(3),
		Category:       stmt.ColumnText(4),
		License:        stmt.ColumnText(6),
		Source:         stmt.ColumnText(7),
		SupportURL:     stmt.ColumnText(8),
		Version:        stmt.ColumnText(9),
		Revision:       stmt.ColumnInt(10),
		Architecture:   stmt.ColumnText(11),
		Framework:      stmt.ColumnText(13),
		Author:         stmt.ColumnText(15),
		Maintainer:     stmt.ColumnText(16),
		MaintainerName: stmt.ColumnText(17),
		Published:      stmt.ColumnInt(18) != 0,
		DownloadSHA512: stmt.ColumnText(19),
		PackageURL:     stmt.ColumnText(20),
		Icon:           stmt.ColumnText(21),
		Filesize:       stmt.ColumnInt64(22),
		CreatedAt:      time.Unix(0, stmt.ColumnInt64(23)).UTC(),
		UpdatedAt:      time.Unix(0, stmt.ColumnInt64(24)).UTC(),
	}
	for _, col := range []struct {
		idx  int
		dst  *[]string
		name string
	}{
		{5, &p.Keywords, "keywords"},
		{12, &p.Architectures, "architectures"},
		{14, &p.Types, "types"},
	} {
		if err := json.Unmarshal([]byte(stmt.ColumnText(col.idx)), col.dst); err != nil {
			return nil, fmt.Errorf("decoding %s for %s: %w", col.name, p.ID, err)
		}
	}
	return p, nil
}

func jsonList(list []string) string {
	if list == nil {
		list = []string{}
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
