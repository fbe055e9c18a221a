// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Command hearth runs a minimal, single-process, in-memory Matrix
// Client-Server homeserver: no federation, no persistence, a fixed set of
// statically-configured users.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matrix-org/hearth/auth"
	"github.com/matrix-org/hearth/internal/config"
	"github.com/matrix-org/hearth/internal/logging"
	"github.com/matrix-org/hearth/internal/metrics"
	"github.com/matrix-org/hearth/notifier"
	"github.com/matrix-org/hearth/router"
	"github.com/matrix-org/hearth/storage"
	"github.com/matrix-org/hearth/syncengine"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "hearth.yaml", "path to the YAML config file")
	flag.Parse()

	log := logging.Setup()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("hearth: failed to load config")
	}

	n := notifier.New()
	store := storage.New(cfg.Global.ServerName, n, log.WithField("component", "store"))
	store.SetMetrics(storage.Metrics{
		EventsAppended:  metrics.EventsAppended,
		AccountDataSets: metrics.AccountDataSets,
		ReceiptsSet:     metrics.ReceiptsSet,
	})

	if err := seedUsers(store, cfg); err != nil {
		log.WithError(err).Fatal("hearth: failed to seed configured users")
	}

	engine := syncengine.New(store, n)

	deps := &router.Deps{
		Config:   cfg,
		Store:    store,
		Notifier: n,
		Engine:   engine,
		Log:      log,
	}

	addr := fmt.Sprintf(":%d", cfg.Global.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.New(deps),
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":        addr,
			"server_name": cfg.Global.ServerName,
		}).Info("hearth: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("hearth: listener failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("hearth: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("hearth: graceful shutdown failed")
	}
}

// seedUsers hashes each configured user's plaintext password once at
// startup and installs the resulting account into the store.
func seedUsers(store *storage.Store, cfg *config.Hearth) error {
	for _, u := range cfg.Users {
		hash, err := auth.HashPassword(u.Password)
		if err != nil {
			return fmt.Errorf("hearth: hash password for %q: %w", u.Localpart, err)
		}
		store.LoadUser(&storage.User{
			Localpart:    u.Localpart,
			UserID:       cfg.UserID(u.Localpart),
			PasswordHash: hash,
			DisplayName:  u.DisplayName,
		})
	}
	return nil
}
