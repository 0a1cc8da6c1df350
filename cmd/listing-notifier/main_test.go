package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/bakkerme/listing-notifier/internal/config"
	"github.com/bakkerme/listing-notifier/internal/dedupe"
	"github.com/bakkerme/listing-notifier/internal/notify"
)

func TestOpenStoreSelectsBackend(t *testing.T) {
	for _, backend := range []string{"file", "sqlite", "badger"} {
		dir := t.TempDir()
		store, err := openStore(discardLogger(), config.EnvConfig{DataDir: dir, Store: config.StoreEnvConfig{Backend: backend}})
		if err != nil {
			t.Fatalf("%s: open store: %v", backend, err)
		}
		if err := store.Save(context.Background(), "bikes", dedupe.NewSet("a")); err != nil {
			t.Fatalf("%s: save: %v", backend, err)
		}
		set, err := store.Load(context.Background(), "bikes")
		if err != nil || !set.Has("a") {
			t.Fatalf("%s: expected saved id, got %v (%v)", backend, set.IDs(), err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("%s: close: %v", backend, err)
		}
	}
	if _, err := openStore(discardLogger(), config.EnvConfig{DataDir: t.TempDir(), Store: config.StoreEnvConfig{Backend: "redis"}}); err == nil {
		t.Fatalf("expected unknown backend to fail")
	}
}

func TestOpenStoreRecoversCorruptSQLiteFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "seen.db"), bytes.Repeat([]byte("garbage!"), 128), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	store, err := openStore(discardLogger(), config.EnvConfig{DataDir: dir, Store: config.StoreEnvConfig{Backend: "sqlite"}})
	if err != nil {
		t.Fatalf("expected corrupt database to be recovered, got %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	set, err := store.Load(context.Background(), "bikes")
	if err != nil || set.Len() != 0 {
		t.Fatalf("expected empty set, got %v (%v)", set.IDs(), err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStoreFileLayout(t *testing.T) {
	dir := t.TempDir()
	store, err := openStore(discardLogger(), config.EnvConfig{DataDir: dir, Store: config.StoreEnvConfig{Backend: "file"}})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Save(context.Background(), "bikes", dedupe.NewSet("a")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "bikes.json")); err != nil {
		t.Fatalf("expected per-query document: %v", err)
	}
}

func TestBuildNotifier(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	n, err := buildNotifier(context.Background(), logger, config.EnvConfig{DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if _, ok := n.(notify.LogNotifier); !ok {
		t.Fatalf("expected log notifier for dry run, got %T", n)
	}

	if _, err := buildNotifier(context.Background(), logger, config.EnvConfig{}); err == nil {
		t.Fatalf("expected missing SMTP host to fail")
	}

	n, err = buildNotifier(context.Background(), logger, config.EnvConfig{SMTP: config.SMTPEnvConfig{
		Host: "localhost",
		Port: 1025,
		From: "notifier@example.com",
	}})
	if err != nil {
		t.Fatalf("smtp notifier: %v", err)
	}
	if _, ok := n.(*notify.EmailNotifier); !ok {
		t.Fatalf("expected email notifier, got %T", n)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := parseLevel(raw); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", raw, got, want)
		}
	}
}
