// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command appstore is the maintainer client for the package registry:
// push uploads, edit metadata, list your records, and watch the
// submission event stream.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var prefsFile = filepath.Join(os.Getenv("HOME"), ".appstore", "prefs.json")

type prefs struct {
	Host   string `json:"host"`
	APIKey string `json:"apiKey"`
}

var loadedPrefs prefs

func init() {
	if j, err := os.ReadFile(prefsFile); err == nil {
		if err := json.Unmarshal(j, &loadedPrefs); err != nil {
			fmt.Fprintf(os.Stderr, "ignoring malformed prefs file %s: %v\n", prefsFile, err)
		}
	}
	if host := os.Getenv("OPENAPPSTORE_HOST"); host != "" {
		loadedPrefs.Host = host
	}
	if key := os.Getenv("OPENAPPSTORE_API_KEY"); key != "" {
		loadedPrefs.APIKey = key
	}
	if loadedPrefs.Host == "" {
		loadedPrefs.Host = "http://localhost:8080"
	}
}

func (p *prefs) save() error {
	if err := os.MkdirAll(filepath.Dir(prefsFile), 0755); err != nil {
		return err
	}
	j, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(prefsFile, j, 0600)
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: appstore <command> [args]

Commands:
  login                    store the registry host and API key
  push <file> [k=v ...]    upload a package, optionally setting fields
  edit <id> [k=v ...]      update metadata on an existing package
  list                     list packages you maintain
  show <id>                print one package record
  watch [id]               stream submission events
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]

	c := &client{host: loadedPrefs.Host, apiKey: loadedPrefs.APIKey}
	var err error
	switch cmd {
	case "login":
		err = runLogin()
	case "push":
		err = runPush(c, args)
	case "edit":
		err = runEdit(c, args)
	case "list":
		err = runList(c)
	case "show":
		err = runShow(c, args)
	case "watch":
		err = runWatch(c, args)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
		os.Exit(1)
	}
}

func runLogin() error {
	fmt.Printf("Registry host [%s]: ", loadedPrefs.Host)
	var host string
	fmt.Scanln(&host)
	if host != "" {
		loadedPrefs.Host = host
	}

	fmt.Print("API key: ")
	key, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading API key: %w", err)
	}
	if len(key) > 0 {
		loadedPrefs.APIKey = string(key)
	}
	if err := loadedPrefs.save(); err != nil {
		return err
	}
	fmt.Println(color.GreenString("saved."))
	return nil
}

// parseFields turns trailing k=v args into form fields.
func parseFields(args []string) (map[string]string, error) {
	fields := map[string]string{}
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", a)
		}
		fields[k] = v
	}
	return fields, nil
}

func runPush(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("push: package file required")
	}
	fields, err := parseFields(args[1:])
	if err != nil {
		return err
	}
	pkg, err := c.push(args[0], fields)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s %s (revision %d)\n",
		color.GreenString("pushed"), pkg.ID, pkg.Version, pkg.Revision)
	return nil
}

func runEdit(c *client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("edit: package id and at least one key=value required")
	}
	fields, err := parseFields(args[1:])
	if err != nil {
		return err
	}
	pkg, err := c.edit(args[0], fields)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", color.GreenString("updated"), pkg.ID)
	return nil
}

func runList(c *client) error {
	pkgs, err := c.list()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tREV\tPUBLISHED\tDOWNLOADS")
	for _, p := range pkgs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%v\t%d\n",
			p.ID, p.Version, p.Revision, p.Published, p.TotalDownloads())
	}
	return tw.Flush()
}

func runShow(c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("show: package id required")
	}
	pkg, err := c.get(args[0])
	if err != nil {
		return err
	}
	j, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(j))
	return nil
}

func runWatch(c *client, args []string) error {
	var pkgID string
	if len(args) > 0 {
		pkgID = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return c.watch(ctx, pkgID, func(t int64, typ, id, principal string) {
		when := time.UnixMilli(t).Format(time.RFC3339)
		fmt.Printf("%s %s %s by %s\n",
			color.CyanString(when), typ, valueOr(id, "-"), valueOr(principal, "-"))
	})
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
