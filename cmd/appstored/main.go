// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command appstored serves the package registry: the submission API,
// the public catalog, and the icon cache.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bhdouglass/openappstore-web/pkg/appstore"
	"github.com/bhdouglass/openappstore-web/pkg/blob"
	"github.com/bhdouglass/openappstore-web/pkg/pkgdb"
	"github.com/bhdouglass/openappstore-web/pkg/review"
	"github.com/sirupsen/logrus"
	"tailscale.com/util/must"
)

var (
	configPath  = flag.String("config", "appstored.toml", "path to config file")
	listenAddr  = flag.String("listen", "", "listen address (overrides config)")
	showVersion = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(appstore.Version())
		return
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := appstore.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading config")
	}
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	must.Do(os.MkdirAll(cfg.DataDir, 0700))

	db, err := pkgdb.Open(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("opening registry database")
	}
	defer db.Close()

	var blobs blob.Store
	if cfg.Blob.Endpoint != "" {
		blobs = &blob.HTTPStore{
			Endpoint:   cfg.Blob.Endpoint,
			PublicBase: cfg.Blob.PublicBase,
			Token:      cfg.Blob.Token,
		}
	} else {
		root := cfg.Blob.Root
		if root == "" {
			root = filepath.Join(cfg.DataDir, "blobs")
		}
		blobs = must.Get(blob.NewFSStore(root, cfg.Blob.PublicBase))
		log.WithField("root", root).Warn("no blob endpoint configured, storing artifacts locally")
	}

	auth, err := appstore.LoadPrincipals(cfg.PrincipalsFile)
	if err != nil {
		log.WithError(err).Fatal("loading principals")
	}

	srv, err := appstore.NewServer(cfg, db, blobs, &review.ClickReviewer{Tool: cfg.ReviewTool}, auth, log)
	if err != nil {
		log.WithError(err).Fatal("initializing server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hs := &http.Server{
		Addr:        cfg.Listen,
		Handler:     srv,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hs.Shutdown(shutdownCtx)
	}()

	log.WithFields(logrus.Fields{
		"listen":  cfg.Listen,
		"worker":  cfg.WorkerID,
		"version": appstore.Version(),
	}).Info("appstored listening")
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server")
	}
}
